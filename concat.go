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

	"github.com/ctessum/sparse"
)

// Concat joins frames along dim in the given order. Variables that do not
// span dim are taken from the first frame. All other dimensions must have
// the same length in every frame. Time coordinates of later frames are
// re-encoded in the units of the first.
func Concat(frames []*RasterFrame, dim string) (*RasterFrame, error) {
	if len(frames) == 0 {
		return nil, fmt.Errorf("lis2zarr: no frames to concatenate")
	}
	first := frames[0]
	total := 0
	for _, f := range frames {
		n, ok := f.Dims[dim]
		if !ok || n <= 0 {
			return nil, &DimensionMismatchError{Dim: dim, Source: f.Source, Want: -1, Got: n}
		}
		total += n
		for d, want := range first.Dims {
			if d == dim {
				continue
			}
			if got := f.Dims[d]; got != want {
				return nil, &DimensionMismatchError{Dim: d, Source: f.Source, Want: want, Got: got}
			}
		}
	}

	o := NewRasterFrame(first.Source)
	o.Coords = append([]string(nil), first.Coords...)
	o.Attrs = copyAttrs(first.Attrs)
	for d, n := range first.Dims {
		o.Dims[d] = n
	}
	o.Dims[dim] = total

	var ref TimeUnits
	hasRef := false
	if tv, ok := first.Vars[dim]; ok {
		var err error
		if ref, hasRef, err = tv.TimeUnits(); err != nil {
			return nil, &MissingAttributeError{Attribute: dim + ":units", Source: first.Source, Reason: err.Error()}
		}
	}

	for name, v := range first.Vars {
		ax := v.DimIndex(dim)
		if ax < 0 {
			o.Vars[name] = v.Copy()
			continue
		}
		parts := make([]*Variable, len(frames))
		for i, f := range frames {
			pv, ok := f.Vars[name]
			if !ok {
				return nil, fmt.Errorf("lis2zarr: %s: variable %s missing", f.Source, name)
			}
			if pv.DimIndex(dim) != ax || len(pv.Dims) != len(v.Dims) {
				return nil, fmt.Errorf("lis2zarr: %s: variable %s has dimensions %v, want %v",
					f.Source, name, pv.Dims, v.Dims)
			}
			if name == dim && hasRef && i > 0 {
				pv = pv.Copy()
				if err := rebaseTime(pv, name, f.Source, ref); err != nil {
					return nil, err
				}
			}
			parts[i] = pv
		}
		ov := v.Copy()
		ov.Data = concatAxis(parts, ax)
		o.Vars[name] = ov
	}
	return o, nil
}

// concatAxis stacks the data of vars along axis ax. The shapes of the
// inputs must agree on every other axis.
func concatAxis(vars []*Variable, ax int) *sparse.DenseArray {
	shape := append([]int(nil), vars[0].Data.Shape...)
	shape[ax] = 0
	for _, v := range vars {
		shape[ax] += v.Data.Shape[ax]
	}
	outer := 1
	for _, n := range shape[:ax] {
		outer *= n
	}
	inner := 1
	for _, n := range shape[ax+1:] {
		inner *= n
	}
	o := sparse.ZerosDense(shape...)
	rowLen := shape[ax] * inner
	pos := 0
	for _, v := range vars {
		block := v.Data.Shape[ax] * inner
		for i := 0; i < outer; i++ {
			copy(o.Elements[i*rowLen+pos:i*rowLen+pos+block], v.Data.Elements[i*block:(i+1)*block])
		}
		pos += block
	}
	return o
}
