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

import "fmt"

// ConfigurationError is returned when a configuration value is missing
// or invalid. It is always raised before any storage is touched.
type ConfigurationError struct {
	Key    string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("lis2zarr: configuration %q: %s", e.Key, e.Reason)
}

// EnumerationError is returned when an input pattern matches no files.
type EnumerationError struct {
	Pattern string
}

func (e *EnumerationError) Error() string {
	return fmt.Sprintf("lis2zarr: no input files match %q", e.Pattern)
}

// MissingAttributeError is returned when a grid description or time units
// attribute is absent or cannot be interpreted.
type MissingAttributeError struct {
	Attribute string
	Source    string
	Reason    string
}

func (e *MissingAttributeError) Error() string {
	reason := e.Reason
	if reason == "" {
		reason = "missing"
	}
	if e.Source == "" {
		return fmt.Sprintf("lis2zarr: attribute %s: %s", e.Attribute, reason)
	}
	return fmt.Sprintf("lis2zarr: %s: attribute %s: %s", e.Source, e.Attribute, reason)
}

// DimensionMismatchError is returned when a dimension is missing, empty,
// or has a different length than expected.
type DimensionMismatchError struct {
	Dim    string
	Source string
	Want   int
	Got    int
}

func (e *DimensionMismatchError) Error() string {
	src := ""
	if e.Source != "" {
		src = e.Source + ": "
	}
	if e.Want < 0 {
		return fmt.Sprintf("lis2zarr: %sdimension %s has invalid length %d", src, e.Dim, e.Got)
	}
	return fmt.Sprintf("lis2zarr: %sdimension %s has length %d, want %d", src, e.Dim, e.Got, e.Want)
}

// StorageError wraps a failure from a storage collaborator. The cause
// is available through errors.Unwrap.
type StorageError struct {
	Op  string
	Key string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("lis2zarr: %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }
