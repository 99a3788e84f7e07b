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
	"sort"

	"github.com/ctessum/sparse"
	"gonum.org/v1/gonum/floats"
)

// Names of the logical grid index dimensions in LIS output.
const (
	RowDim    = "north_south"
	ColumnDim = "east_west"
)

// Variable is a named N-dimensional array read from or written to
// a dataset.
type Variable struct {
	// Dims are the names of the array dimensions, slowest varying first.
	Dims []string

	// Data holds the values in row-major order. Data.Shape matches Dims.
	Data *sparse.DenseArray

	// DType is the Zarr data type of the source array, e.g. "<f4".
	DType string

	// Attrs are the descriptive attributes (units, long_name, ...).
	Attrs map[string]interface{}

	// FillValue is the missing-data sentinel, if the source declared one.
	FillValue *float64
}

// NewVariable returns a variable with the given dimensions and shape
// filled with zeros.
func NewVariable(dtype string, dims []string, shape ...int) *Variable {
	return &Variable{
		Dims:  append([]string(nil), dims...),
		Data:  sparse.ZerosDense(shape...),
		DType: dtype,
		Attrs: make(map[string]interface{}),
	}
}

// Shape returns the variable's dimension lengths.
func (v *Variable) Shape() []int { return v.Data.Shape }

// DimIndex returns the position of dim in v.Dims, or -1.
func (v *Variable) DimIndex(dim string) int {
	for i, d := range v.Dims {
		if d == dim {
			return i
		}
	}
	return -1
}

// HasDims returns whether v spans all of the given dimensions.
func (v *Variable) HasDims(dims ...string) bool {
	for _, d := range dims {
		if v.DimIndex(d) < 0 {
			return false
		}
	}
	return true
}

// Copy returns a deep copy of v.
func (v *Variable) Copy() *Variable {
	o := &Variable{
		Dims:  append([]string(nil), v.Dims...),
		Data:  v.Data.Copy(),
		DType: v.DType,
		Attrs: copyAttrs(v.Attrs),
	}
	if v.FillValue != nil {
		fv := *v.FillValue
		o.FillValue = &fv
	}
	return o
}

// Range returns the smallest and largest values of v, ignoring NaNs and
// the fill value. ok is false if v holds no such values.
func (v *Variable) Range() (min, max float64, ok bool) {
	valid := make([]float64, 0, len(v.Data.Elements))
	for _, x := range v.Data.Elements {
		if math.IsNaN(x) || (v.FillValue != nil && x == *v.FillValue) {
			continue
		}
		valid = append(valid, x)
	}
	if len(valid) == 0 {
		return 0, 0, false
	}
	return floats.Min(valid), floats.Max(valid), true
}

// RasterFrame is the array content of one input file: its variables,
// dimension lengths and global attributes.
type RasterFrame struct {
	Vars map[string]*Variable

	// Coords lists the variables that are coordinates rather than data.
	Coords []string

	// Dims maps dimension names to lengths.
	Dims map[string]int

	// Attrs holds the global attributes, including the grid description.
	Attrs map[string]interface{}

	// Source is the location the frame was read from.
	Source string
}

// NewRasterFrame returns an empty frame read from source.
func NewRasterFrame(source string) *RasterFrame {
	return &RasterFrame{
		Vars:   make(map[string]*Variable),
		Dims:   make(map[string]int),
		Attrs:  make(map[string]interface{}),
		Source: source,
	}
}

// Copy returns a deep copy of f.
func (f *RasterFrame) Copy() *RasterFrame {
	o := NewRasterFrame(f.Source)
	for name, v := range f.Vars {
		o.Vars[name] = v.Copy()
	}
	o.Coords = append([]string(nil), f.Coords...)
	for d, n := range f.Dims {
		o.Dims[d] = n
	}
	o.Attrs = copyAttrs(f.Attrs)
	return o
}

// VarNames returns the variable names in sorted order.
func (f *RasterFrame) VarNames() []string {
	names := make([]string, 0, len(f.Vars))
	for n := range f.Vars {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// IsCoord returns whether the named variable is a coordinate.
func (f *RasterFrame) IsCoord(name string) bool {
	for _, c := range f.Coords {
		if c == name {
			return true
		}
	}
	return false
}

// RenameVar renames a variable in place. It is a no-op if from does
// not exist.
func (f *RasterFrame) RenameVar(from, to string) {
	v, ok := f.Vars[from]
	if !ok {
		return
	}
	delete(f.Vars, from)
	f.Vars[to] = v
	for i, c := range f.Coords {
		if c == from {
			f.Coords[i] = to
		}
	}
}

// RenameDim renames a dimension on the frame and on every variable.
func (f *RasterFrame) RenameDim(from, to string) {
	if n, ok := f.Dims[from]; ok {
		delete(f.Dims, from)
		f.Dims[to] = n
	}
	for _, v := range f.Vars {
		for i, d := range v.Dims {
			if d == from {
				v.Dims[i] = to
			}
		}
	}
}

// ExpandDim adds a new leading dimension of length 1 to every variable
// for which include returns true. It is used for inputs that hold a
// single record but do not declare the concat dimension.
func (f *RasterFrame) ExpandDim(dim string, include func(name string, v *Variable) bool) {
	if _, ok := f.Dims[dim]; ok {
		return
	}
	f.Dims[dim] = 1
	for name, v := range f.Vars {
		if !include(name, v) {
			continue
		}
		shape := append([]int{1}, v.Data.Shape...)
		data := sparse.ZerosDense(shape...)
		copy(data.Elements, v.Data.Elements)
		v.Data = data
		v.Dims = append([]string{dim}, v.Dims...)
	}
}

// Spans returns whether variable v covers the horizontal grid, using
// whichever of the index or coordinate dimension names the frame has.
func Spans(v *Variable) bool {
	return v.HasDims(RowDim, ColumnDim) || v.HasDims("lat", "lon")
}

func copyAttrs(a map[string]interface{}) map[string]interface{} {
	o := make(map[string]interface{}, len(a))
	for k, v := range a {
		o[k] = v
	}
	return o
}
