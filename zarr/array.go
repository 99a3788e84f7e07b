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
	"fmt"
	"strconv"
	"strings"

	"github.com/ctessum/sparse"
	"github.com/spatialmodel/lis2zarr/cloud"
)

// Array is a chunked array in a Store.
type Array struct {
	store *Store
	name  string
	Meta  ArrayMeta
	fill  float64
}

func newArray(s *Store, name string, meta ArrayMeta) *Array {
	return &Array{store: s, name: name, Meta: meta, fill: meta.Fill()}
}

// Name returns the array's path relative to the store root.
func (a *Array) Name() string { return a.name }

// ChunkKey returns the key of the chunk with the given grid indices,
// e.g. "3.0.1".
func ChunkKey(idx []int) string {
	if len(idx) == 0 {
		return "0"
	}
	s := make([]string, len(idx))
	for i, v := range idx {
		s[i] = strconv.Itoa(v)
	}
	return strings.Join(s, ".")
}

func (a *Array) chunkKey(idx []int) string {
	return a.store.key(a.name, ChunkKey(idx))
}

// chunkLen returns the number of elements in one chunk.
func (a *Array) chunkLen() int {
	n := 1
	for _, c := range a.Meta.Chunks {
		n *= c
	}
	return n
}

func (a *Array) checkRegion(offset, shape []int) error {
	if len(offset) != len(a.Meta.Shape) || len(shape) != len(a.Meta.Shape) {
		return fmt.Errorf("zarr: array %s has %d dimensions; region has offset %v and shape %v",
			a.name, len(a.Meta.Shape), offset, shape)
	}
	for i := range offset {
		if offset[i] < 0 || shape[i] < 0 || offset[i]+shape[i] > a.Meta.Shape[i] {
			return fmt.Errorf("zarr: region at %v with shape %v is outside array %s with shape %v",
				offset, shape, a.name, a.Meta.Shape)
		}
	}
	return nil
}

// chunkSpan returns the first and last chunk index along each dimension
// touched by the region. ok is false for an empty region.
func (a *Array) chunkSpan(offset, shape []int) (lo, hi []int, ok bool) {
	lo = make([]int, len(offset))
	hi = make([]int, len(offset))
	for i := range offset {
		if shape[i] == 0 {
			return nil, nil, false
		}
		lo[i] = offset[i] / a.Meta.Chunks[i]
		hi[i] = (offset[i] + shape[i] - 1) / a.Meta.Chunks[i]
	}
	return lo, hi, true
}

// eachChunk calls f with the index of every chunk in [lo, hi], last
// dimension fastest.
func eachChunk(lo, hi []int, f func(idx []int) error) error {
	idx := append([]int(nil), lo...)
	for {
		if err := f(idx); err != nil {
			return err
		}
		d := len(idx) - 1
		for ; d >= 0; d-- {
			if idx[d] < hi[d] {
				idx[d]++
				break
			}
			idx[d] = lo[d]
		}
		if d < 0 {
			return nil
		}
	}
}

// intersect returns, for chunk idx and the region at offset with the
// given shape, the start of the overlap within the chunk, within the
// region, and its extent.
func (a *Array) intersect(idx, offset, shape []int) (inChunk, inRegion, count []int) {
	n := len(idx)
	inChunk, inRegion, count = make([]int, n), make([]int, n), make([]int, n)
	for i := range idx {
		c0 := idx[i] * a.Meta.Chunks[i]
		start := max(c0, offset[i])
		end := min(c0+a.Meta.Chunks[i], offset[i]+shape[i])
		inChunk[i] = start - c0
		inRegion[i] = start - offset[i]
		count[i] = end - start
	}
	return
}

// covers returns whether an overlap of extent count starting at inChunk
// spans every element of chunk idx that lies inside the array.
func (a *Array) covers(idx, inChunk, count []int) bool {
	for i := range idx {
		c0 := idx[i] * a.Meta.Chunks[i]
		valid := min(a.Meta.Chunks[i], a.Meta.Shape[i]-c0)
		if inChunk[i] != 0 || count[i] != valid {
			return false
		}
	}
	return true
}

// readChunk returns the values of chunk idx. Missing chunks are filled
// with the fill value.
func (a *Array) readChunk(ctx context.Context, idx []int) ([]float64, error) {
	key := a.chunkKey(idx)
	b, err := cloud.ReadBlob(ctx, a.store.bucket, key)
	if cloud.IsNotFound(err) {
		return a.emptyChunk(), nil
	}
	if err != nil {
		return nil, err
	}
	vals, err := a.store.codec.decode(b, a.chunkLen(), a.Meta.DType, a.Meta.Compressor)
	if err != nil {
		return nil, fmt.Errorf("zarr: %s: %w", key, err)
	}
	return vals, nil
}

func (a *Array) emptyChunk() []float64 {
	o := make([]float64, a.chunkLen())
	if a.fill != 0 {
		for i := range o {
			o[i] = a.fill
		}
	}
	return o
}

func (a *Array) writeChunk(ctx context.Context, idx []int, vals []float64) error {
	b, err := a.store.codec.encode(vals, a.Meta.DType, a.Meta.Compressor)
	if err != nil {
		return err
	}
	return cloud.WriteBlob(ctx, a.store.bucket, a.chunkKey(idx), b)
}

// WriteRegion writes data into the array starting at offset. Chunks that
// are only partly covered by the region are read, updated and rewritten
// while holding a lock on the chunk, so concurrent writes to disjoint
// regions that share a chunk are safe.
func (a *Array) WriteRegion(ctx context.Context, offset []int, data *sparse.DenseArray) error {
	if err := a.checkRegion(offset, data.Shape); err != nil {
		return err
	}
	lo, hi, ok := a.chunkSpan(offset, data.Shape)
	if !ok {
		return nil
	}
	return eachChunk(lo, hi, func(idx []int) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		inChunk, inRegion, count := a.intersect(idx, offset, data.Shape)
		unlock := a.store.lock(a.chunkKey(idx))
		defer unlock()

		var vals []float64
		if a.covers(idx, inChunk, count) {
			vals = a.emptyChunk()
		} else {
			var err error
			if vals, err = a.readChunk(ctx, idx); err != nil {
				return err
			}
		}
		copyBlock(vals, a.Meta.Chunks, inChunk, data.Elements, data.Shape, inRegion, count)
		return a.writeChunk(ctx, idx, vals)
	})
}

// ReadRegion reads the region of the given shape starting at offset.
func (a *Array) ReadRegion(ctx context.Context, offset, shape []int) (*sparse.DenseArray, error) {
	if err := a.checkRegion(offset, shape); err != nil {
		return nil, err
	}
	o := sparse.ZerosDense(shape...)
	lo, hi, ok := a.chunkSpan(offset, shape)
	if !ok {
		return o, nil
	}
	err := eachChunk(lo, hi, func(idx []int) error {
		inChunk, inRegion, count := a.intersect(idx, offset, shape)
		vals, err := a.readChunk(ctx, idx)
		if err != nil {
			return err
		}
		copyBlock(o.Elements, shape, inRegion, vals, a.Meta.Chunks, inChunk, count)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return o, nil
}

// copyBlock copies the block of extent count at srcStart in the
// row-major array src with shape srcShape to dstStart in dst.
func copyBlock(dst []float64, dstShape, dstStart []int, src []float64, srcShape, srcStart, count []int) {
	n := len(count)
	if n == 0 {
		dst[0] = src[0]
		return
	}
	dstStride, srcStride := strides(dstShape), strides(srcShape)
	run := count[n-1]
	pos := make([]int, n-1)
	for {
		di, si := dstStart[n-1], srcStart[n-1]
		for i, p := range pos {
			di += (dstStart[i] + p) * dstStride[i]
			si += (srcStart[i] + p) * srcStride[i]
		}
		copy(dst[di:di+run], src[si:si+run])

		d := n - 2
		for ; d >= 0; d-- {
			pos[d]++
			if pos[d] < count[d] {
				break
			}
			pos[d] = 0
		}
		if d < 0 {
			return
		}
	}
}

func strides(shape []int) []int {
	s := make([]int, len(shape))
	n := 1
	for i := len(shape) - 1; i >= 0; i-- {
		s[i] = n
		n *= shape[i]
	}
	return s
}
