/*
Copyright © 2022 the lis2zarr authors.
This file is part of lis2zarr.

lis2zarr is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

lis2zarr is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with lis2zarr.  If not, see <http://www.gnu.org/licenses/>.
*/

package zarr

import (
	"context"
	"encoding/json"
	"math"
	"sync"
	"testing"

	"github.com/ctessum/sparse"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocloud.dev/blob"
	"gocloud.dev/blob/memblob"
)

func newTestStore(t *testing.T, level int) (*Store, *blob.Bucket) {
	t.Helper()
	b := memblob.OpenBucket(nil)
	s, err := NewStore(b, "out/test.zarr", level)
	require.NoError(t, err)
	t.Cleanup(func() {
		s.Close()
		b.Close()
	})
	return s, b
}

func seq(shape ...int) *sparse.DenseArray {
	d := sparse.ZerosDense(shape...)
	for i := range d.Elements {
		d.Elements[i] = float64(i)
	}
	return d
}

func TestChunkKey(t *testing.T) {
	assert.Equal(t, "0", ChunkKey(nil))
	assert.Equal(t, "4", ChunkKey([]int{4}))
	assert.Equal(t, "1.0.12", ChunkKey([]int{1, 0, 12}))
}

func TestCreateArray(t *testing.T) {
	ctx := context.Background()
	s, b := newTestStore(t, 3)
	fill := -9999.0
	_, err := s.CreateArray(ctx, "SoilMoist", ArraySpec{
		Dims:      []string{"time", "lat", "lon"},
		Shape:     []int{5, 4, 6},
		Chunks:    []int{3, 2, 6},
		DType:     "<f4",
		FillValue: &fill,
		Attrs:     map[string]interface{}{"units": "m^3 m-3", "valid_range": []float32{0, 1}},
	})
	require.NoError(t, err)

	raw, err := b.ReadAll(ctx, "out/test.zarr/SoilMoist/.zarray")
	require.NoError(t, err)
	var meta map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &meta))
	assert.Equal(t, 2.0, meta["zarr_format"])
	assert.Equal(t, []interface{}{5.0, 4.0, 6.0}, meta["shape"])
	assert.Equal(t, []interface{}{3.0, 2.0, 6.0}, meta["chunks"])
	assert.Equal(t, "<f4", meta["dtype"])
	assert.Equal(t, -9999.0, meta["fill_value"])
	assert.Equal(t, "C", meta["order"])
	assert.Nil(t, meta["filters"])
	assert.Equal(t, map[string]interface{}{"id": "zstd", "level": 3.0}, meta["compressor"])

	attrs, err := s.ReadAttrs(ctx, "SoilMoist")
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"time", "lat", "lon"}, attrs[DimensionsAttr])
	assert.Equal(t, "m^3 m-3", attrs["units"])
	assert.Equal(t, []interface{}{0.0, 1.0}, attrs["valid_range"])

	a, err := s.OpenArray(ctx, "SoilMoist")
	require.NoError(t, err)
	assert.Equal(t, -9999.0, a.Meta.Fill())
}

func TestCreateArrayInvalid(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, 0)
	_, err := s.CreateArray(ctx, "x", ArraySpec{Dims: []string{"a"}, Shape: []int{2}, Chunks: []int{0}, DType: "<f4"})
	assert.Error(t, err)
	_, err = s.CreateArray(ctx, "x", ArraySpec{Dims: []string{"a"}, Shape: []int{2}, Chunks: []int{1}, DType: "<c8"})
	assert.Error(t, err)
	_, err = s.CreateArray(ctx, "x", ArraySpec{Dims: []string{"a", "b"}, Shape: []int{2}, Chunks: []int{1}, DType: "<f4"})
	assert.Error(t, err)
}

func TestRegionRoundTrip(t *testing.T) {
	ctx := context.Background()
	for _, dtype := range []string{"<f4", "<f8", "<i2", "<i4", "|u1", "<u8"} {
		for _, level := range []int{0, 3} {
			t.Run(dtype, func(t *testing.T) {
				s, _ := newTestStore(t, level)
				a, err := s.CreateArray(ctx, "v", ArraySpec{
					Dims:   []string{"time", "lat", "lon"},
					Shape:  []int{5, 4, 6},
					Chunks: []int{3, 3, 4},
					DType:  dtype,
				})
				require.NoError(t, err)
				want := seq(5, 4, 6)
				for i := range want.Elements {
					want.Elements[i] = float64(i % 200)
				}
				require.NoError(t, a.WriteRegion(ctx, []int{0, 0, 0}, want))
				got, err := a.ReadRegion(ctx, []int{0, 0, 0}, []int{5, 4, 6})
				require.NoError(t, err)
				assert.Equal(t, want.Elements, got.Elements)
			})
		}
	}
}

func TestWriteRegionAcrossChunks(t *testing.T) {
	ctx := context.Background()
	s, b := newTestStore(t, 3)
	a, err := s.CreateArray(ctx, "v", ArraySpec{
		Dims:   []string{"time", "lat", "lon"},
		Shape:  []int{5, 4, 3},
		Chunks: []int{3, 2, 3},
		DType:  "<f8",
	})
	require.NoError(t, err)

	// Groups of two records, so the second group straddles the first
	// chunk boundary along time.
	full := seq(5, 4, 3)
	for off := 0; off < 5; off += 2 {
		n := 2
		if off+n > 5 {
			n = 5 - off
		}
		part := sparse.ZerosDense(n, 4, 3)
		copy(part.Elements, full.Elements[off*12:(off+n)*12])
		require.NoError(t, a.WriteRegion(ctx, []int{off, 0, 0}, part))
	}

	got, err := a.ReadRegion(ctx, []int{0, 0, 0}, []int{5, 4, 3})
	require.NoError(t, err)
	assert.Equal(t, full.Elements, got.Elements)

	sub, err := a.ReadRegion(ctx, []int{2, 1, 1}, []int{2, 2, 2})
	require.NoError(t, err)
	assert.Equal(t, []float64{
		full.Get(2, 1, 1), full.Get(2, 1, 2), full.Get(2, 2, 1), full.Get(2, 2, 2),
		full.Get(3, 1, 1), full.Get(3, 1, 2), full.Get(3, 2, 1), full.Get(3, 2, 2),
	}, sub.Elements)

	for _, k := range []string{"0.0.0", "0.1.0", "1.0.0", "1.1.0"} {
		ok, err := b.Exists(ctx, "out/test.zarr/v/"+k)
		require.NoError(t, err)
		assert.True(t, ok, k)
	}
}

func TestWriteRegionConcurrent(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, 1)
	a, err := s.CreateArray(ctx, "v", ArraySpec{
		Dims:   []string{"time", "x"},
		Shape:  []int{12, 2},
		Chunks: []int{5, 2},
		DType:  "<f4",
	})
	require.NoError(t, err)

	full := seq(12, 2)
	var wg sync.WaitGroup
	errs := make([]error, 12)
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			part := sparse.ZerosDense(1, 2)
			copy(part.Elements, full.Elements[i*2:i*2+2])
			errs[i] = a.WriteRegion(ctx, []int{i, 0}, part)
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}
	got, err := a.ReadRegion(ctx, []int{0, 0}, []int{12, 2})
	require.NoError(t, err)
	assert.Equal(t, full.Elements, got.Elements)
}

func TestMissingChunksUseFill(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, 3)
	a, err := s.CreateArray(ctx, "v", ArraySpec{
		Dims:   []string{"x"},
		Shape:  []int{4},
		Chunks: []int{2},
		DType:  "<f4",
	})
	require.NoError(t, err)
	part := sparse.ZerosDense(1)
	part.Elements[0] = 7
	require.NoError(t, a.WriteRegion(ctx, []int{1}, part))

	got, err := a.ReadRegion(ctx, []int{0}, []int{4})
	require.NoError(t, err)
	assert.True(t, math.IsNaN(got.Elements[0]))
	assert.Equal(t, 7.0, got.Elements[1])
	assert.True(t, math.IsNaN(got.Elements[2]))
	assert.True(t, math.IsNaN(got.Elements[3]))
}

func TestWriteRegionOutOfBounds(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, 3)
	a, err := s.CreateArray(ctx, "v", ArraySpec{Dims: []string{"x"}, Shape: []int{4}, Chunks: []int{2}, DType: "<f4"})
	require.NoError(t, err)
	assert.Error(t, a.WriteRegion(ctx, []int{3}, seq(2)))
	assert.Error(t, a.WriteRegion(ctx, []int{0, 0}, seq(1, 1)))
}

func TestConsolidate(t *testing.T) {
	ctx := context.Background()
	s, b := newTestStore(t, 3)
	require.NoError(t, s.WriteGroup(ctx, map[string]interface{}{"title": "LIS", "missing": math.NaN()}))
	for _, name := range []string{"lat", "lon", "SoilMoist"} {
		a, err := s.CreateArray(ctx, name, ArraySpec{Dims: []string{"x"}, Shape: []int{3}, Chunks: []int{3}, DType: "<f4"})
		require.NoError(t, err)
		require.NoError(t, a.WriteRegion(ctx, []int{0}, seq(3)))
	}
	// Objects outside the store must not be consolidated.
	require.NoError(t, b.WriteAll(ctx, "out/other.zarr/.zgroup", []byte(`{"zarr_format":2}`), nil))

	require.NoError(t, s.Consolidate(ctx))
	c, err := s.ReadConsolidated(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, c.Format)

	var keys []string
	for k := range c.Metadata {
		keys = append(keys, k)
	}
	assert.ElementsMatch(t, []string{
		".zgroup", ".zattrs",
		"lat/.zarray", "lat/.zattrs",
		"lon/.zarray", "lon/.zattrs",
		"SoilMoist/.zarray", "SoilMoist/.zattrs",
	}, keys)
	assert.Equal(t, "NaN", c.Metadata[".zattrs"].(map[string]interface{})["missing"])

	require.NoError(t, s.RemoveConsolidated(ctx))
	_, err = s.ReadConsolidated(ctx)
	assert.Error(t, err)
	require.NoError(t, s.RemoveConsolidated(ctx), "removing twice")
}

func TestConsolidateWithoutGroup(t *testing.T) {
	s, _ := newTestStore(t, 3)
	assert.Error(t, s.Consolidate(context.Background()))
}

func TestFillValueJSON(t *testing.T) {
	v := 1.5
	nan := math.NaN()
	assert.Equal(t, "NaN", fillValueJSON("<f4", nil))
	assert.Nil(t, fillValueJSON("<i4", nil))
	assert.Equal(t, 1.5, fillValueJSON("<f8", &v))
	assert.Equal(t, int64(1), fillValueJSON("<i2", &v))
	assert.Equal(t, "NaN", fillValueJSON("<f4", &nan))

	m := ArrayMeta{DType: "<i4"}
	assert.Equal(t, 0.0, m.Fill())
	m = ArrayMeta{DType: "<f4", FillValue: "-Infinity"}
	assert.True(t, math.IsInf(m.Fill(), -1))
}
