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

package cloud

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spatialmodel/lis2zarr"
	"gocloud.dev/blob"
)

// URL returns the fully qualified location of key in the named bucket,
// e.g. "s3://bucket/key".
func URL(protocol, bucket, key string) string {
	return protocol + "://" + strings.TrimSuffix(bucket, "/") + "/" + strings.TrimPrefix(key, "/")
}

// Glob returns the keys in bucket that match pattern, sorted
// lexicographically. The pattern syntax is that of doublestar: '*' and
// '?' match within a path segment, '**' matches across segments, and
// '[...]' and '{a,b}' are supported. It is an *lis2zarr.EnumerationError
// for no keys to match.
func Glob(ctx context.Context, bucket *blob.Bucket, pattern string) ([]string, error) {
	pattern = strings.TrimPrefix(pattern, "/")
	if !doublestar.ValidatePattern(pattern) {
		return nil, &lis2zarr.ConfigurationError{Key: "input_path", Reason: fmt.Sprintf("invalid glob pattern %q", pattern)}
	}
	keys, err := ListKeys(ctx, bucket, literalPrefix(pattern))
	if err != nil {
		return nil, err
	}
	var o []string
	for _, k := range keys {
		if ok, _ := doublestar.Match(pattern, k); ok {
			o = append(o, k)
		}
	}
	if len(o) == 0 {
		return nil, &lis2zarr.EnumerationError{Pattern: pattern}
	}
	sort.Strings(o)
	return o, nil
}

// literalPrefix returns the part of pattern before the first path segment
// that contains a wildcard, so listing can be restricted to it.
func literalPrefix(pattern string) string {
	i := strings.IndexAny(pattern, `*?[{\`)
	if i < 0 {
		return pattern
	}
	j := strings.LastIndex(pattern[:i], "/")
	if j < 0 {
		return ""
	}
	return pattern[:j+1]
}
