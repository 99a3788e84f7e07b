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
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimeUnits(t *testing.T) {
	tests := []struct {
		s    string
		step time.Duration
		ref  time.Time
	}{
		{"minutes since 2003-01-01 00:00:00", time.Minute, time.Date(2003, 1, 1, 0, 0, 0, 0, time.UTC)},
		{"hours since 2003-01-02T06:00:00Z", time.Hour, time.Date(2003, 1, 2, 6, 0, 0, 0, time.UTC)},
		{"days since 1970-01-01", 24 * time.Hour, time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC)},
		{"Seconds since 2003-01-01 03:30", time.Second, time.Date(2003, 1, 1, 3, 30, 0, 0, time.UTC)},
		{"min since 2003-1-5 0:0:0", time.Minute, time.Date(2003, 1, 5, 0, 0, 0, 0, time.UTC)},
	}
	for _, test := range tests {
		t.Run(test.s, func(t *testing.T) {
			u, err := ParseTimeUnits(test.s)
			require.NoError(t, err)
			assert.Equal(t, test.step, u.Step)
			assert.True(t, test.ref.Equal(u.Ref), "reference %v, want %v", u.Ref, test.ref)
			assert.Equal(t, test.s, u.String())
		})
	}

	for _, s := range []string{"", "minutes", "fortnights since 2003-01-01", "minutes since yesterday", "minutes after 2003-01-01"} {
		_, err := ParseTimeUnits(s)
		assert.Error(t, err, s)
	}
}

func TestTimeUnitsConvert(t *testing.T) {
	day1, err := ParseTimeUnits("minutes since 2003-01-01 00:00:00")
	require.NoError(t, err)
	day2, err := ParseTimeUnits("minutes since 2003-01-02 00:00:00")
	require.NoError(t, err)
	hours, err := ParseTimeUnits("hours since 2003-01-01 00:00:00")
	require.NoError(t, err)

	assert.Equal(t, 1440.0, day2.Convert(0, day1))
	assert.Equal(t, 1500.0, day2.Convert(60, day1))
	assert.Equal(t, -1440.0, day1.Convert(0, day2))
	assert.Equal(t, 25.0, day2.Convert(60, hours))
	assert.False(t, day1.Equal(day2))
	assert.True(t, day1.Equal(day1))
}

func TestRebaseTime(t *testing.T) {
	to, err := ParseTimeUnits("minutes since 2000-01-01 00:00:00")
	require.NoError(t, err)

	f := lisFrame("b.nc", 0, 2, 3, 4)
	f.Vars["time"].Data.Elements = []float64{0, 180}
	f.Vars["time"].Attrs["units"] = "hours since 2000-01-03 00:00:00"
	require.NoError(t, f.RebaseTime("time", to))
	assert.Equal(t, []float64{2880, 2880 + 180*60}, f.Vars["time"].Data.Elements)
	assert.Equal(t, "minutes since 2000-01-01 00:00:00", f.Vars["time"].Attrs["units"])

	require.NoError(t, f.RebaseTime("nope", to))

	f.Vars["time"].Attrs["units"] = "minutes since the start"
	var e *MissingAttributeError
	require.True(t, errors.As(f.RebaseTime("time", to), &e))
	assert.Equal(t, "time:units", e.Attribute)
	assert.Equal(t, "b.nc", e.Source)

	f.Vars["time"].Attrs["units"] = "minutes"
	require.True(t, errors.As(f.RebaseTime("time", to), &e))
}

// LIS writes every history file with time 0 counted from the file's own
// start date.
func TestConcatRebasesTime(t *testing.T) {
	var frames []*RasterFrame
	for _, ref := range []string{"2003-01-01", "2003-01-02"} {
		f := lisFrame(ref+".nc", 0, 1, 3, 4)
		f.Vars["time"].Data.Elements = []float64{0}
		f.Vars["time"].Attrs["units"] = "minutes since " + ref + " 00:00:00"

		g, err := ReadNetCDF(writeTestNetCDF(t, f), ref+".nc")
		require.NoError(t, err)
		g, err = ReconstructGrid(g)
		require.NoError(t, err)
		frames = append(frames, g)
	}

	o, err := Concat(frames, "time")
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 1440}, o.Vars["time"].Data.Elements)
	assert.Equal(t, "minutes since 2003-01-01 00:00:00", o.Vars["time"].Attrs["units"])
	assert.Equal(t, []float64{0}, frames[1].Vars["time"].Data.Elements, "inputs are not modified")

	frames[1].Vars["time"].Attrs["units"] = "minutes since tomorrow"
	_, err = Concat(frames, "time")
	var e *MissingAttributeError
	require.True(t, errors.As(err, &e), "error %v", err)
	assert.Equal(t, "2003-01-02.nc", e.Source)
}
