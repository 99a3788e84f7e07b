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

// Package hash creates stable keys for cached objects.
package hash

import (
	"encoding/gob"
	"fmt"
	"hash/fnv"

	"github.com/davecgh/go-spew/spew"
)

var printer = spew.ConfigState{
	Indent:                  " ",
	SortKeys:                true,
	DisableMethods:          true,
	SpewKeys:                true,
	DisablePointerAddresses: true,
	DisableCapacities:       true,
}

// Key returns a hexadecimal key identifying the given values. The same
// values always give the same key.
func Key(values ...interface{}) string {
	h := fnv.New128a()
	e := gob.NewEncoder(h)
	for _, v := range values {
		if err := e.Encode(v); err != nil {
			// Types gob can't handle (e.g., nil or NaN-containing maps)
			// are printed instead.
			printer.Fprintf(h, "%#v", v)
		}
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}
