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

// Package zarr writes chunked, compressed N-dimensional arrays to a blob
// bucket in Zarr version 2 format, with consolidated metadata that
// xarray and zarr-python can open directly.
package zarr

import (
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
)

// Names of the metadata objects defined by Zarr v2.
const (
	GroupKey        = ".zgroup"
	ArrayKey        = ".zarray"
	AttrsKey        = ".zattrs"
	ConsolidatedKey = ".zmetadata"
)

// DimensionsAttr is the attribute xarray uses to name array dimensions.
const DimensionsAttr = "_ARRAY_DIMENSIONS"

// Compressor describes a numcodecs compressor.
type Compressor struct {
	ID    string `json:"id"`
	Level int    `json:"level"`
}

// ArrayMeta is the content of a .zarray object.
type ArrayMeta struct {
	ZarrFormat int           `json:"zarr_format"`
	Shape      []int         `json:"shape"`
	Chunks     []int         `json:"chunks"`
	DType      string        `json:"dtype"`
	Compressor *Compressor   `json:"compressor"`
	FillValue  interface{}   `json:"fill_value"`
	Order      string        `json:"order"`
	Filters    []interface{} `json:"filters"`
}

// GroupMeta is the content of a .zgroup object.
type GroupMeta struct {
	ZarrFormat int `json:"zarr_format"`
}

// Consolidated is the content of a .zmetadata object: every metadata
// object in the store keyed by its path relative to the store root.
type Consolidated struct {
	Metadata map[string]interface{} `json:"metadata"`
	Format   int                    `json:"zarr_consolidated_format"`
}

func (m *ArrayMeta) validate() error {
	if m.ZarrFormat != 2 {
		return fmt.Errorf("zarr: unsupported format %d", m.ZarrFormat)
	}
	if len(m.Shape) != len(m.Chunks) {
		return fmt.Errorf("zarr: shape %v and chunks %v differ in rank", m.Shape, m.Chunks)
	}
	for i := range m.Shape {
		if m.Shape[i] < 0 || m.Chunks[i] < 1 {
			return fmt.Errorf("zarr: invalid shape %v or chunks %v", m.Shape, m.Chunks)
		}
	}
	if _, err := itemSize(m.DType); err != nil {
		return err
	}
	if m.Order != "C" {
		return fmt.Errorf("zarr: unsupported order %q", m.Order)
	}
	if len(m.Filters) != 0 {
		return fmt.Errorf("zarr: filters are not supported")
	}
	if m.Compressor != nil && m.Compressor.ID != "zstd" {
		return fmt.Errorf("zarr: unsupported compressor %q", m.Compressor.ID)
	}
	return nil
}

// Fill returns the fill value as a number. Arrays without a fill value
// are filled with NaN if they hold floating point values and 0 otherwise.
func (m *ArrayMeta) Fill() float64 {
	switch v := m.FillValue.(type) {
	case float64:
		return v
	case string:
		switch v {
		case "Infinity":
			return math.Inf(1)
		case "-Infinity":
			return math.Inf(-1)
		}
		return math.NaN()
	}
	if isFloat(m.DType) {
		return math.NaN()
	}
	return 0
}

// fillValueJSON encodes fv the way Zarr v2 stores fill values: non-finite
// floats as strings, and JSON null when no fill value is given for an
// integer array.
func fillValueJSON(dtype string, fv *float64) interface{} {
	if fv == nil {
		if isFloat(dtype) {
			return "NaN"
		}
		return nil
	}
	if !isFloat(dtype) {
		return int64(*fv)
	}
	return jsonNumber(*fv)
}

func jsonNumber(v float64) interface{} {
	switch {
	case math.IsNaN(v):
		return "NaN"
	case math.IsInf(v, 1):
		return "Infinity"
	case math.IsInf(v, -1):
		return "-Infinity"
	}
	return v
}

// JSONAttrs returns a copy of attrs in which every value can be encoded
// as JSON: slices become lists and non-finite floats become strings.
func JSONAttrs(attrs map[string]interface{}) map[string]interface{} {
	o := make(map[string]interface{}, len(attrs))
	for k, v := range attrs {
		o[k] = jsonValue(reflect.ValueOf(v))
	}
	return o
}

func jsonValue(v reflect.Value) interface{} {
	if !v.IsValid() {
		return nil
	}
	switch v.Kind() {
	case reflect.Float32, reflect.Float64:
		return jsonNumber(v.Float())
	case reflect.Slice, reflect.Array:
		o := make([]interface{}, v.Len())
		for i := range o {
			o[i] = jsonValue(v.Index(i))
		}
		return o
	case reflect.Interface, reflect.Ptr:
		if v.IsNil() {
			return nil
		}
		return jsonValue(v.Elem())
	}
	return v.Interface()
}

// itemSize returns the number of bytes per element of a dtype.
func itemSize(dtype string) (int, error) {
	if len(dtype) != 3 || !strings.ContainsAny(dtype[:1], "<|") || !strings.ContainsAny(dtype[1:2], "fiu") {
		return 0, fmt.Errorf("zarr: unsupported dtype %q", dtype)
	}
	n, err := strconv.Atoi(dtype[2:])
	if err != nil {
		return 0, fmt.Errorf("zarr: unsupported dtype %q", dtype)
	}
	switch {
	case dtype[1] == 'f' && (n == 4 || n == 8):
	case dtype[1] != 'f' && (n == 1 || n == 2 || n == 4 || n == 8):
	default:
		return 0, fmt.Errorf("zarr: unsupported dtype %q", dtype)
	}
	if n > 1 && dtype[0] != '<' {
		return 0, fmt.Errorf("zarr: unsupported dtype %q", dtype)
	}
	return n, nil
}

func isFloat(dtype string) bool { return len(dtype) == 3 && dtype[1] == 'f' }
