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

package zarr

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/spatialmodel/lis2zarr/cloud"
	"gocloud.dev/blob"
)

// Store is a Zarr v2 hierarchy rooted at a key prefix in a bucket.
type Store struct {
	bucket *blob.Bucket
	prefix string
	comp   *Compressor
	codec  *codec

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewStore returns a store rooted at prefix in bucket. New arrays are
// compressed with zstd at the given level, or left uncompressed if
// level is 0. Close must be called when the store is no longer needed.
func NewStore(bucket *blob.Bucket, prefix string, level int) (*Store, error) {
	if level < 0 || level > 22 {
		return nil, fmt.Errorf("zarr: invalid compression level %d", level)
	}
	c, err := newCodec(level)
	if err != nil {
		return nil, err
	}
	s := &Store{
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		codec:  c,
		locks:  make(map[string]*sync.Mutex),
	}
	if level > 0 {
		s.comp = &Compressor{ID: "zstd", Level: level}
	}
	return s, nil
}

// Close releases the store's codec.
func (s *Store) Close() error {
	s.codec.close()
	return nil
}

// Prefix returns the key prefix of the store root.
func (s *Store) Prefix() string { return s.prefix }

func (s *Store) key(parts ...string) string {
	return path.Join(append([]string{s.prefix}, parts...)...)
}

// lock locks the object with the given key for a read-modify-write
// cycle and returns the function that unlocks it.
func (s *Store) lock(key string) func() {
	s.mu.Lock()
	l, ok := s.locks[key]
	if !ok {
		l = new(sync.Mutex)
		s.locks[key] = l
	}
	s.mu.Unlock()
	l.Lock()
	return l.Unlock
}

func (s *Store) writeJSON(ctx context.Context, key string, v interface{}) error {
	b, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return fmt.Errorf("zarr: encoding %s: %v", key, err)
	}
	return cloud.WriteBlob(ctx, s.bucket, key, b)
}

func (s *Store) readJSON(ctx context.Context, key string, v interface{}) error {
	b, err := cloud.ReadBlob(ctx, s.bucket, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("zarr: decoding %s: %v", key, err)
	}
	return nil
}

// WriteGroup writes the root group metadata with the given attributes.
func (s *Store) WriteGroup(ctx context.Context, attrs map[string]interface{}) error {
	if err := s.writeJSON(ctx, s.key(GroupKey), GroupMeta{ZarrFormat: 2}); err != nil {
		return err
	}
	return s.writeJSON(ctx, s.key(AttrsKey), JSONAttrs(attrs))
}

// ArraySpec describes an array to be created.
type ArraySpec struct {
	// Dims name the array dimensions, as recorded in _ARRAY_DIMENSIONS.
	Dims []string

	Shape  []int
	Chunks []int

	// DType is a little-endian numpy type string such as "<f4".
	DType string

	// FillValue is the value of missing elements. If nil, floating point
	// arrays use NaN.
	FillValue *float64

	Attrs map[string]interface{}
}

// CreateArray writes the metadata of the named array, replacing any
// existing metadata. Chunks that already exist are left in place.
func (s *Store) CreateArray(ctx context.Context, name string, spec ArraySpec) (*Array, error) {
	if len(spec.Dims) != len(spec.Shape) {
		return nil, fmt.Errorf("zarr: array %s: dimensions %v do not match shape %v", name, spec.Dims, spec.Shape)
	}
	meta := ArrayMeta{
		ZarrFormat: 2,
		Shape:      append([]int(nil), spec.Shape...),
		Chunks:     append([]int(nil), spec.Chunks...),
		DType:      spec.DType,
		Compressor: s.comp,
		FillValue:  fillValueJSON(spec.DType, spec.FillValue),
		Order:      "C",
	}
	if err := meta.validate(); err != nil {
		return nil, fmt.Errorf("zarr: array %s: %w", name, err)
	}
	if err := s.writeJSON(ctx, s.key(name, ArrayKey), meta); err != nil {
		return nil, err
	}
	attrs := JSONAttrs(spec.Attrs)
	dims := make([]interface{}, len(spec.Dims))
	for i, d := range spec.Dims {
		dims[i] = d
	}
	attrs[DimensionsAttr] = dims
	if err := s.writeJSON(ctx, s.key(name, AttrsKey), attrs); err != nil {
		return nil, err
	}
	return newArray(s, name, meta), nil
}

// OpenArray reads the metadata of an existing array.
func (s *Store) OpenArray(ctx context.Context, name string) (*Array, error) {
	var meta ArrayMeta
	if err := s.readJSON(ctx, s.key(name, ArrayKey), &meta); err != nil {
		return nil, err
	}
	if err := meta.validate(); err != nil {
		return nil, fmt.Errorf("zarr: array %s: %w", name, err)
	}
	return newArray(s, name, meta), nil
}

// ReadAttrs returns the attributes of the named array, or of the root
// group if name is empty.
func (s *Store) ReadAttrs(ctx context.Context, name string) (map[string]interface{}, error) {
	attrs := make(map[string]interface{})
	err := s.readJSON(ctx, s.key(name, AttrsKey), &attrs)
	return attrs, err
}

// isMetadataKey returns whether the base name of key is a Zarr
// metadata object that belongs in consolidated metadata.
func isMetadataKey(key string) bool {
	switch path.Base(key) {
	case GroupKey, ArrayKey, AttrsKey:
		return true
	}
	return false
}

// Consolidate gathers every metadata object in the store into
// .zmetadata.
func (s *Store) Consolidate(ctx context.Context) error {
	listPrefix := ""
	if s.prefix != "" {
		listPrefix = s.prefix + "/"
	}
	keys, err := cloud.ListKeys(ctx, s.bucket, listPrefix)
	if err != nil {
		return err
	}
	sort.Strings(keys)
	c := Consolidated{Format: 1, Metadata: make(map[string]interface{})}
	for _, k := range keys {
		if !isMetadataKey(k) {
			continue
		}
		var v interface{}
		if err := s.readJSON(ctx, k, &v); err != nil {
			return err
		}
		c.Metadata[strings.TrimPrefix(k, listPrefix)] = v
	}
	if _, ok := c.Metadata[GroupKey]; !ok {
		return fmt.Errorf("zarr: consolidating %s: no root group", s.prefix)
	}
	return s.writeJSON(ctx, s.key(ConsolidatedKey), c)
}

// RemoveConsolidated deletes .zmetadata, if it exists.
func (s *Store) RemoveConsolidated(ctx context.Context) error {
	return cloud.DeleteBlob(ctx, s.bucket, s.key(ConsolidatedKey))
}

// ReadConsolidated reads .zmetadata.
func (s *Store) ReadConsolidated(ctx context.Context) (*Consolidated, error) {
	c := new(Consolidated)
	if err := s.readJSON(ctx, s.key(ConsolidatedKey), c); err != nil {
		return nil, err
	}
	return c, nil
}
