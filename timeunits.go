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
	"strings"
	"time"

	"github.com/spf13/cast"
)

// TimeUnits is a CF time encoding of the form "<unit> since <reference>",
// as carried by the units attribute of LIS time variables.
type TimeUnits struct {
	// Step is the length of one unit.
	Step time.Duration

	// Ref is the instant encoded as zero.
	Ref time.Time

	text string
}

var timeSteps = map[string]time.Duration{
	"seconds": time.Second, "second": time.Second, "secs": time.Second, "sec": time.Second, "s": time.Second,
	"minutes": time.Minute, "minute": time.Minute, "mins": time.Minute, "min": time.Minute,
	"hours": time.Hour, "hour": time.Hour, "hrs": time.Hour, "hr": time.Hour, "h": time.Hour,
	"days": 24 * time.Hour, "day": 24 * time.Hour, "d": 24 * time.Hour,
}

// Reference date layouts not understood by cast.
var refLayouts = []string{
	"2006-01-02 15:04",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05 UTC",
	"2006-1-2 15:4:5",
	"2006-1-2",
}

// IsTimeUnits returns whether s looks like a CF time encoding.
func IsTimeUnits(s string) bool {
	return strings.Contains(strings.ToLower(s), " since ")
}

// ParseTimeUnits parses a units attribute such as
// "minutes since 2003-01-01 00:00:00". Reference dates without a zone
// are taken to be UTC.
func ParseTimeUnits(s string) (TimeUnits, error) {
	parts := strings.SplitN(strings.TrimSpace(s), " ", 3)
	if len(parts) != 3 || !strings.EqualFold(parts[1], "since") {
		return TimeUnits{}, fmt.Errorf("lis2zarr: time units %q are not of the form '<unit> since <reference>'", s)
	}
	step, ok := timeSteps[strings.ToLower(parts[0])]
	if !ok {
		return TimeUnits{}, fmt.Errorf("lis2zarr: time units %q: unknown unit %q", s, parts[0])
	}
	ref, err := parseRef(strings.TrimSpace(parts[2]))
	if err != nil {
		return TimeUnits{}, fmt.Errorf("lis2zarr: time units %q: %v", s, err)
	}
	return TimeUnits{Step: step, Ref: ref, text: strings.TrimSpace(s)}, nil
}

func parseRef(s string) (time.Time, error) {
	if t, err := cast.ToTimeInDefaultLocationE(s, time.UTC); err == nil {
		return t.UTC(), nil
	}
	for _, layout := range refLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unable to parse reference date %q", s)
}

// String returns the units attribute u was parsed from.
func (u TimeUnits) String() string { return u.text }

// Equal returns whether u and o encode instants identically.
func (u TimeUnits) Equal(o TimeUnits) bool {
	return u.Step == o.Step && u.Ref.Equal(o.Ref)
}

// Convert returns the value in units to that encodes the same instant
// as v does in u.
func (u TimeUnits) Convert(v float64, to TimeUnits) float64 {
	offset := u.Ref.Sub(to.Ref)
	return (v*float64(u.Step) + float64(offset)) / float64(to.Step)
}

// TimeUnits returns the time encoding of v. ok is false if v has no
// units attribute of the form "<unit> since <reference>".
func (v *Variable) TimeUnits() (u TimeUnits, ok bool, err error) {
	s, _ := v.Attrs["units"].(string)
	if !IsTimeUnits(s) {
		return TimeUnits{}, false, nil
	}
	u, err = ParseTimeUnits(s)
	if err != nil {
		return TimeUnits{}, false, err
	}
	return u, true, nil
}

// rebase re-encodes the values of v, stored in units from, in units to.
// Missing values are left alone.
func (v *Variable) rebase(from, to TimeUnits) {
	for i, x := range v.Data.Elements {
		if math.IsNaN(x) || (v.FillValue != nil && x == *v.FillValue) {
			continue
		}
		v.Data.Elements[i] = from.Convert(x, to)
	}
	v.Attrs["units"] = to.String()
}

// RebaseTime re-encodes the time variable name of f in units to, so that
// frames whose time axes count from different reference dates can be
// concatenated. A frame without the variable is left unchanged.
func (f *RasterFrame) RebaseTime(name string, to TimeUnits) error {
	v, ok := f.Vars[name]
	if !ok {
		return nil
	}
	return rebaseTime(v, name, f.Source, to)
}

func rebaseTime(v *Variable, name, source string, to TimeUnits) error {
	from, ok, err := v.TimeUnits()
	switch {
	case err != nil:
		return &MissingAttributeError{Attribute: name + ":units", Source: source, Reason: err.Error()}
	case !ok:
		return &MissingAttributeError{Attribute: name + ":units", Source: source,
			Reason: fmt.Sprintf("want '<unit> since <reference>' to match %q", to)}
	case from.Equal(to):
		v.Attrs["units"] = to.String()
		return nil
	}
	v.rebase(from, to)
	return nil
}
