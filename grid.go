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

	"github.com/spf13/cast"
)

// Names of the global attributes that describe a LIS lat/lon grid.
const (
	AttrDX        = "DX"
	AttrDY        = "DY"
	AttrCornerLat = "SOUTH_WEST_CORNER_LAT"
	AttrCornerLon = "SOUTH_WEST_CORNER_LON"
)

// Names of the variables written by ReconstructGrid.
const (
	LatName     = "lat"
	LonName     = "lon"
	OrigLatName = "orig_lat"
	OrigLonName = "orig_lon"
)

// axisDecimals is the number of decimal places the grid description is
// rounded to before axes are generated.
const axisDecimals = 3

// GridDescription holds the scalar attributes of a uniform
// latitude-longitude grid.
type GridDescription struct {
	// DX and DY are the longitude and latitude resolutions in degrees.
	DX, DY float64

	// SouthWestCornerLat and SouthWestCornerLon locate the
	// lower-left grid cell.
	SouthWestCornerLat, SouthWestCornerLon float64
}

// GridDescriptionFromAttrs reads a grid description from a set of global
// attributes. source is only used in error messages.
func GridDescriptionFromAttrs(attrs map[string]interface{}, source string) (GridDescription, error) {
	var gd GridDescription
	fields := []struct {
		name string
		dst  *float64
	}{
		{AttrDX, &gd.DX},
		{AttrDY, &gd.DY},
		{AttrCornerLat, &gd.SouthWestCornerLat},
		{AttrCornerLon, &gd.SouthWestCornerLon},
	}
	for _, f := range fields {
		v, ok := attrs[f.name]
		if !ok || v == nil {
			return gd, &MissingAttributeError{Attribute: f.name, Source: source}
		}
		if _, isBool := v.(bool); isBool {
			return gd, &MissingAttributeError{Attribute: f.name, Source: source, Reason: "not numeric"}
		}
		x, err := cast.ToFloat64E(v)
		if err != nil {
			return gd, &MissingAttributeError{Attribute: f.name, Source: source, Reason: "not numeric"}
		}
		*f.dst = x
	}
	return gd, gd.validate(source)
}

func (gd GridDescription) validate(source string) error {
	if !(gd.DX > 0) || math.IsInf(gd.DX, 0) {
		return &MissingAttributeError{Attribute: AttrDX, Source: source, Reason: "must be positive"}
	}
	if !(gd.DY > 0) || math.IsInf(gd.DY, 0) {
		return &MissingAttributeError{Attribute: AttrDY, Source: source, Reason: "must be positive"}
	}
	if math.IsNaN(gd.SouthWestCornerLat) || math.IsInf(gd.SouthWestCornerLat, 0) {
		return &MissingAttributeError{Attribute: AttrCornerLat, Source: source, Reason: "must be finite"}
	}
	if math.IsNaN(gd.SouthWestCornerLon) || math.IsInf(gd.SouthWestCornerLon, 0) {
		return &MissingAttributeError{Attribute: AttrCornerLon, Source: source, Reason: "must be finite"}
	}
	return nil
}

// LatAxis returns the latitude axis for a grid with n rows.
func (gd GridDescription) LatAxis(n int) CoordinateAxis {
	return NewCoordinateAxis(LatName, gd.SouthWestCornerLat, gd.DY, n)
}

// LonAxis returns the longitude axis for a grid with n columns.
func (gd GridDescription) LonAxis(n int) CoordinateAxis {
	return NewCoordinateAxis(LonName, gd.SouthWestCornerLon, gd.DX, n)
}

// CoordinateAxis is a uniformly spaced sequence of coordinate values
// anchored at Start.
type CoordinateAxis struct {
	Name  string
	Start float64
	Step  float64
	Len   int
}

// NewCoordinateAxis returns an axis of length n beginning at start and
// advancing by step. start and step are rounded to three decimal places.
func NewCoordinateAxis(name string, start, step float64, n int) CoordinateAxis {
	return CoordinateAxis{
		Name:  name,
		Start: roundTo(start, axisDecimals),
		Step:  roundTo(step, axisDecimals),
		Len:   n,
	}
}

// Values returns Start + Step*i for i in [0, Len).
func (a CoordinateAxis) Values() []float64 {
	o := make([]float64, a.Len)
	for i := range o {
		o[i] = a.Start + a.Step*float64(i)
	}
	return o
}

// End returns the excluded upper bound Start + Step*Len.
func (a CoordinateAxis) End() float64 { return a.Start + a.Step*float64(a.Len) }

// Variable returns the axis as a one-dimensional float32 coordinate
// variable indexed by its own name.
func (a CoordinateAxis) Variable() *Variable {
	v := NewVariable("<f4", []string{a.Name}, a.Len)
	copy(v.Data.Elements, a.Values())
	return v
}

func roundTo(v float64, decimals int) float64 {
	p := math.Pow(10, float64(decimals))
	return math.Round(v*p) / p
}

// ReconstructGrid replaces the masked lat and lon variables of a LIS frame
// with uniform coordinate axes derived from the frame's grid description
// attributes. See ReconstructGridWith.
func ReconstructGrid(f *RasterFrame) (*RasterFrame, error) {
	gd, err := GridDescriptionFromAttrs(f.Attrs, f.Source)
	if err != nil {
		return nil, err
	}
	return ReconstructGridWith(f, gd)
}

// ReconstructGridWith returns a copy of f in which:
//
//   - the original lat and lon variables are kept as orig_lat and orig_lon,
//   - the north_south and east_west dimensions are renamed lat and lon,
//   - new lat and lon coordinate axes are computed from gd, with the
//     attributes of the original variables.
//
// f is not modified.
func ReconstructGridWith(f *RasterFrame, gd GridDescription) (*RasterFrame, error) {
	if err := gd.validate(f.Source); err != nil {
		return nil, err
	}
	nsLen, ok := f.Dims[RowDim]
	if !ok || nsLen <= 0 {
		return nil, &DimensionMismatchError{Dim: RowDim, Source: f.Source, Want: -1, Got: nsLen}
	}
	ewLen, ok := f.Dims[ColumnDim]
	if !ok || ewLen <= 0 {
		return nil, &DimensionMismatchError{Dim: ColumnDim, Source: f.Source, Want: -1, Got: ewLen}
	}

	o := f.Copy()
	o.RenameVar(LatName, OrigLatName)
	o.RenameVar(LonName, OrigLonName)
	o.RenameDim(RowDim, LatName)
	o.RenameDim(ColumnDim, LonName)

	lat := gd.LatAxis(nsLen).Variable()
	lon := gd.LonAxis(ewLen).Variable()
	if orig, ok := o.Vars[OrigLatName]; ok {
		lat.Attrs = copyAttrs(orig.Attrs)
	}
	if orig, ok := o.Vars[OrigLonName]; ok {
		lon.Attrs = copyAttrs(orig.Attrs)
	}
	o.Vars[LatName] = lat
	o.Vars[LonName] = lon

	for _, name := range []string{LatName, LonName, OrigLatName, OrigLonName} {
		if _, ok := o.Vars[name]; ok && !o.IsCoord(name) {
			o.Coords = append(o.Coords, name)
		}
	}
	return o, nil
}
