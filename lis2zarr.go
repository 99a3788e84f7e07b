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

// Package lis2zarr holds the data model for converting NASA Land Information
// System (LIS) NetCDF output into chunked Zarr stores.
//
// LIS writes latitude and longitude as two-dimensional data variables that
// hold a nodata value over masked cells, and indexes the grid with the
// logical dimensions north_south and east_west. Array tools cannot use a
// coordinate that contains missing values, so ReconstructGrid derives
// uniform lat and lon axes from the DX, DY, SOUTH_WEST_CORNER_LAT and
// SOUTH_WEST_CORNER_LON global attributes instead. NewPlan groups the
// time-ordered inputs into the chunks that are written to the target store.
package lis2zarr

// Version gives the version number.
const Version = "1.0.0"
