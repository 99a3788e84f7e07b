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

package lis2zarr

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testFill = -9999.0

// lisFrame returns a frame laid out like a LIS history file: nt records
// of an ns by ew grid whose lat and lon variables are masked over
// "water" (every cell where (i+j)%5 == 0).
func lisFrame(source string, t0, nt, ns, ew int) *RasterFrame {
	f := NewRasterFrame(source)
	f.Dims["time"] = nt
	f.Dims[RowDim] = ns
	f.Dims[ColumnDim] = ew
	f.Attrs[AttrDX] = float32(0.25)
	f.Attrs[AttrDY] = float32(0.25)
	f.Attrs[AttrCornerLat] = float32(-59.875)
	f.Attrs[AttrCornerLon] = float32(-179.875)
	f.Attrs["title"] = "LIS land surface model output"

	fill := testFill
	lat := NewVariable("<f4", []string{RowDim, ColumnDim}, ns, ew)
	lat.Attrs["units"] = "degree_north"
	lat.FillValue = &fill
	lon := NewVariable("<f4", []string{RowDim, ColumnDim}, ns, ew)
	lon.Attrs["units"] = "degree_east"
	lon.FillValue = &fill
	for j := 0; j < ns; j++ {
		for i := 0; i < ew; i++ {
			if (i+j)%5 == 0 {
				lat.Data.Set(testFill, j, i)
				lon.Data.Set(testFill, j, i)
				continue
			}
			lat.Data.Set(-59.875+0.25*float64(j), j, i)
			lon.Data.Set(-179.875+0.25*float64(i), j, i)
		}
	}
	f.Vars[LatName] = lat
	f.Vars[LonName] = lon

	sm := NewVariable("<f4", []string{"time", RowDim, ColumnDim}, nt, ns, ew)
	sm.Attrs["units"] = "m^3 m-3"
	sm.FillValue = &fill
	for k := 0; k < nt; k++ {
		for j := 0; j < ns; j++ {
			for i := 0; i < ew; i++ {
				sm.Data.Set(float64(t0+k)+0.01*float64(j*ew+i), k, j, i)
			}
		}
	}
	f.Vars["SoilMoist_tavg"] = sm

	tm := NewVariable("<f8", []string{"time"}, nt)
	tm.Attrs["units"] = "minutes since 2000-01-01 00:00:00"
	for k := 0; k < nt; k++ {
		tm.Data.Elements[k] = float64(t0+k) * 1440
	}
	f.Vars["time"] = tm
	f.Coords = []string{"time"}
	return f
}

func TestRasterFrameCopy(t *testing.T) {
	f := lisFrame("a.nc", 0, 1, 3, 4)
	c := f.Copy()
	c.Vars[LatName].Data.Set(1, 0, 0)
	c.Attrs["title"] = "changed"
	c.Vars["time"].Attrs["units"] = "days"
	assert.Equal(t, testFill, f.Vars[LatName].Data.Get(0, 0))
	assert.Equal(t, "LIS land surface model output", f.Attrs["title"])
	assert.Equal(t, "minutes since 2000-01-01 00:00:00", f.Vars["time"].Attrs["units"])
}

func TestRenameDim(t *testing.T) {
	f := lisFrame("a.nc", 0, 1, 3, 4)
	f.RenameDim(RowDim, "lat")
	assert.Equal(t, 3, f.Dims["lat"])
	_, ok := f.Dims[RowDim]
	assert.False(t, ok)
	assert.Equal(t, []string{"time", "lat", ColumnDim}, f.Vars["SoilMoist_tavg"].Dims)
}

func TestExpandDim(t *testing.T) {
	f := lisFrame("a.nc", 0, 1, 3, 4)
	delete(f.Dims, "time")
	delete(f.Vars, "time")
	f.Coords = nil
	sm := NewVariable("<f4", []string{RowDim, ColumnDim}, 3, 4)
	for i := range sm.Data.Elements {
		sm.Data.Elements[i] = float64(i)
	}
	f.Vars["SoilMoist_tavg"] = sm

	f.ExpandDim("time", func(name string, v *Variable) bool {
		return name != LatName && name != LonName && Spans(v)
	})
	assert.Equal(t, 1, f.Dims["time"])
	got := f.Vars["SoilMoist_tavg"]
	assert.Equal(t, []string{"time", RowDim, ColumnDim}, got.Dims)
	assert.Equal(t, []int{1, 3, 4}, got.Shape())
	assert.Equal(t, 7.0, got.Data.Get(0, 1, 3))
	assert.Equal(t, []string{RowDim, ColumnDim}, f.Vars[LatName].Dims)
}

func TestVariableRange(t *testing.T) {
	f := lisFrame("a.nc", 0, 1, 3, 4)
	min, max, ok := f.Vars[LatName].Range()
	require.True(t, ok)
	assert.Equal(t, -59.875, min)
	assert.Equal(t, -59.375, max)

	v := NewVariable("<f4", []string{"x"}, 2)
	v.Data.Elements[0] = math.NaN()
	v.Data.Elements[1] = math.NaN()
	_, _, ok = v.Range()
	assert.False(t, ok)
}
