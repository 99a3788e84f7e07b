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
	"fmt"
	"math"
	"os"
	"reflect"
	"sort"

	"github.com/batchatco/go-native-netcdf/netcdf"
	"github.com/batchatco/go-native-netcdf/netcdf/api"
	"github.com/ctessum/cdf"
	"github.com/ctessum/sparse"
	"github.com/spf13/cast"
)

// dimensioner is implemented by the CDF reader, which, unlike the
// generic group interface, knows the lengths of unused dimensions.
type dimensioner interface {
	ListDimensions() []string
	GetDimension(name string) (uint64, bool)
}

// ReadNetCDF reads the NetCDF (classic or HDF5-based) file at path into a
// RasterFrame. source is recorded as the frame's origin and used in error
// messages; it is typically the remote location the file was staged from.
func ReadNetCDF(path, source string) (*RasterFrame, error) {
	g, err := netcdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("lis2zarr: opening %s: %w", source, err)
	}
	defer g.Close()
	return DecodeNetCDF(g, source)
}

// DecodeNetCDF converts an open NetCDF group into a RasterFrame. Numeric
// variables are read in full; character variables are skipped.
func DecodeNetCDF(g api.Group, source string) (*RasterFrame, error) {
	f := NewRasterFrame(source)
	f.Attrs = decodeAttrs(g.Attributes())

	if d, ok := g.(dimensioner); ok {
		for _, name := range d.ListDimensions() {
			n, _ := d.GetDimension(name)
			f.Dims[name] = int(n)
		}
	}

	for _, name := range g.ListVariables() {
		v, err := g.GetVariable(name)
		if err != nil {
			return nil, fmt.Errorf("lis2zarr: %s: reading variable %s: %w", source, name, err)
		}
		vals, shape, dtype, ok := flatten(v.Values)
		if !ok {
			continue
		}
		if len(shape) != len(v.Dimensions) {
			return nil, fmt.Errorf("lis2zarr: %s: variable %s has %d dimensions but %d-d values",
				source, name, len(v.Dimensions), len(shape))
		}
		for i, d := range v.Dimensions {
			if n, ok := f.Dims[d]; ok && n != shape[i] && n != 0 {
				return nil, &DimensionMismatchError{Dim: d, Source: source, Want: n, Got: shape[i]}
			}
			f.Dims[d] = shape[i]
		}
		data := sparse.ZerosDense(shape...)
		copy(data.Elements, vals)
		attrs := decodeAttrs(v.Attributes)
		fv := fillValue(attrs)
		f.Vars[name] = &Variable{
			Dims:      append([]string(nil), v.Dimensions...),
			Data:      data,
			DType:     dtype,
			Attrs:     attrs,
			FillValue: fv,
		}
		if len(v.Dimensions) == 1 && v.Dimensions[0] == name {
			f.Coords = append(f.Coords, name)
		}
	}
	return f, nil
}

// fillValue returns the missing-data sentinel declared in attrs,
// preferring _FillValue over missing_value, and removes the attributes
// it absorbed. A missing_value that differs from _FillValue is kept.
func fillValue(attrs map[string]interface{}) *float64 {
	var o *float64
	if v, ok := attrs["_FillValue"]; ok {
		delete(attrs, "_FillValue")
		if x, err := cast.ToFloat64E(v); err == nil {
			o = &x
		}
	}
	v, ok := attrs["missing_value"]
	if !ok {
		return o
	}
	x, err := cast.ToFloat64E(v)
	switch {
	case err != nil:
	case o == nil:
		o = &x
		delete(attrs, "missing_value")
	case x == *o || (math.IsNaN(x) && math.IsNaN(*o)):
		delete(attrs, "missing_value")
	}
	return o
}

func decodeAttrs(m api.AttributeMap) map[string]interface{} {
	o := make(map[string]interface{})
	if m == nil {
		return o
	}
	for _, k := range m.Keys() {
		if v, ok := m.Get(k); ok {
			o[k] = v
		}
	}
	return o
}

// flatten converts the nested slices returned by the NetCDF reader into a
// row-major []float64, the array shape, and the Zarr dtype of the
// elements. ok is false for non-numeric values.
func flatten(values interface{}) (o []float64, shape []int, dtype string, ok bool) {
	rv := reflect.ValueOf(values)
	if !rv.IsValid() {
		return nil, nil, "", false
	}
	t := rv.Type()
	for t.Kind() == reflect.Slice {
		t = t.Elem()
	}
	dtype, ok = zarrDType(t.Kind())
	if !ok {
		return nil, nil, "", false
	}
	for s := rv; s.Kind() == reflect.Slice; {
		shape = append(shape, s.Len())
		if s.Len() == 0 {
			break
		}
		s = s.Index(0)
	}
	n := 1
	for _, l := range shape {
		n *= l
	}
	o = make([]float64, 0, n)
	var walk func(v reflect.Value, depth int) bool
	walk = func(v reflect.Value, depth int) bool {
		if v.Kind() != reflect.Slice {
			o = append(o, toFloat(v))
			return true
		}
		if v.Len() != shape[depth] {
			return false
		}
		for i := 0; i < v.Len(); i++ {
			if !walk(v.Index(i), depth+1) {
				return false
			}
		}
		return true
	}
	if !walk(rv, 0) {
		return nil, nil, "", false
	}
	return o, shape, dtype, true
}

func toFloat(v reflect.Value) float64 {
	switch v.Kind() {
	case reflect.Float32, reflect.Float64:
		return v.Float()
	case reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64, reflect.Int:
		return float64(v.Int())
	default:
		return float64(v.Uint())
	}
}

func zarrDType(k reflect.Kind) (string, bool) {
	switch k {
	case reflect.Float32:
		return "<f4", true
	case reflect.Float64:
		return "<f8", true
	case reflect.Int8:
		return "|i1", true
	case reflect.Int16:
		return "<i2", true
	case reflect.Int32:
		return "<i4", true
	case reflect.Int64:
		return "<i8", true
	case reflect.Uint8:
		return "|u1", true
	case reflect.Uint16:
		return "<u2", true
	case reflect.Uint32:
		return "<u4", true
	case reflect.Uint64:
		return "<u8", true
	}
	return "", false
}

// WriteNetCDF writes f to w as a NetCDF classic file. Variables are
// stored as float, double, int or short according to their DType,
// and FillValue is written as the _FillValue attribute. Scalar variables
// and attributes of types NetCDF classic cannot hold are omitted.
func WriteNetCDF(w *os.File, f *RasterFrame) error {
	dims := make([]string, 0, len(f.Dims))
	for d := range f.Dims {
		dims = append(dims, d)
	}
	sort.Strings(dims)
	lengths := make([]int, len(dims))
	for i, d := range dims {
		lengths[i] = f.Dims[d]
		if lengths[i] <= 0 {
			return &DimensionMismatchError{Dim: d, Source: f.Source, Want: -1, Got: lengths[i]}
		}
	}
	h := cdf.NewHeader(dims, lengths)
	for _, k := range sortedKeys(f.Attrs) {
		if a, ok := cdfAttr(f.Attrs[k]); ok {
			h.AddAttribute("", k, a)
		}
	}

	var names []string
	for _, name := range f.VarNames() {
		v := f.Vars[name]
		if len(v.Dims) == 0 {
			continue
		}
		names = append(names, name)
		h.AddVariable(name, v.Dims, cdfValues(v.DType, nil))
		for _, k := range sortedKeys(v.Attrs) {
			if a, ok := cdfAttr(v.Attrs[k]); ok {
				h.AddAttribute(name, k, a)
			}
		}
		if v.FillValue != nil {
			h.AddAttribute(name, "_FillValue", cdfValues(v.DType, []float64{*v.FillValue}))
		}
	}
	h.Define()
	if errs := h.Check(); len(errs) > 0 {
		return fmt.Errorf("lis2zarr: %s: invalid NetCDF header: %v", f.Source, errs[0])
	}

	cf, err := cdf.Create(w, h)
	if err != nil {
		return fmt.Errorf("lis2zarr: %s: creating NetCDF file: %w", f.Source, err)
	}
	for _, name := range names {
		v := f.Vars[name]
		end := cf.Header.Lengths(name)
		start := make([]int, len(end))
		if _, err := cf.Writer(name, start, end).Write(cdfValues(v.DType, v.Data.Elements)); err != nil {
			return fmt.Errorf("lis2zarr: %s: writing variable %s: %w", f.Source, name, err)
		}
	}
	return cdf.UpdateNumRecs(w)
}

// cdfValues converts vals to the slice type NetCDF classic uses for
// dtype. A nil vals gives a one-element slice that only carries the type.
func cdfValues(dtype string, vals []float64) interface{} {
	if vals == nil {
		vals = []float64{0}
	}
	switch dtype {
	case "<f8":
		return append([]float64(nil), vals...)
	case "|i1", "|u1", "<i2":
		o := make([]int16, len(vals))
		for i, x := range vals {
			o[i] = int16(x)
		}
		return o
	case "<u2", "<i4", "<u4", "<i8", "<u8":
		o := make([]int32, len(vals))
		for i, x := range vals {
			o[i] = int32(x)
		}
		return o
	default:
		o := make([]float32, len(vals))
		for i, x := range vals {
			o[i] = float32(x)
		}
		return o
	}
}

func cdfAttr(v interface{}) (interface{}, bool) {
	switch x := v.(type) {
	case string, []uint8, []int16, []int32, []float32, []float64:
		return x, true
	case float32:
		return []float32{x}, true
	case float64:
		return []float64{x}, true
	case int16:
		return []int16{x}, true
	case int8:
		return []int16{int16(x)}, true
	case int32:
		return []int32{x}, true
	case int:
		return []int32{int32(x)}, true
	case int64:
		return []int32{int32(x)}, true
	case uint8:
		return []uint8{x}, true
	}
	return nil, false
}

func sortedKeys(m map[string]interface{}) []string {
	o := make([]string, 0, len(m))
	for k := range m {
		o = append(o, k)
	}
	sort.Strings(o)
	return o
}
