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
	"os"
	"path"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/lis2zarr/internal/hash"
	"gocloud.dev/blob"
)

// cacheDirName is the directory under the scratch directory where staged
// inputs are kept between runs.
const cacheDirName = "lis2zarr-cache"

// Stager copies blobs into a local scratch directory so they can be
// opened by readers that need random access.
type Stager struct {
	bucket *blob.Bucket
	dir    string
	keep   bool
	log    logrus.FieldLogger
}

// NewStager creates a stager that downloads from bucket into a directory
// under tempDir. If keep is true, staged files are cached in a fixed
// directory and reused by later runs as long as the blob is unchanged;
// otherwise a fresh directory is used and removed by Close.
// If tempDir is empty, the system temporary directory is used.
func NewStager(bucket *blob.Bucket, tempDir string, keep bool, log logrus.FieldLogger) (*Stager, error) {
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	if err := os.MkdirAll(tempDir, os.ModePerm); err != nil {
		return nil, fmt.Errorf("cloud: creating scratch directory: %v", err)
	}
	s := &Stager{bucket: bucket, keep: keep, log: log}
	if keep {
		s.dir = filepath.Join(tempDir, cacheDirName)
		if err := os.MkdirAll(s.dir, os.ModePerm); err != nil {
			return nil, fmt.Errorf("cloud: creating cache directory: %v", err)
		}
	} else {
		var err error
		s.dir, err = os.MkdirTemp(tempDir, "lis2zarr")
		if err != nil {
			return nil, fmt.Errorf("cloud: creating staging directory: %v", err)
		}
	}
	return s, nil
}

// Dir returns the staging directory.
func (s *Stager) Dir() string { return s.dir }

// Stage downloads the blob with the given key and returns the path of the
// local copy. release must be called once the copy is no longer needed.
func (s *Stager) Stage(ctx context.Context, key string) (localPath string, release func(), err error) {
	attrs, err := blobAttributes(ctx, s.bucket, key)
	if err != nil {
		return "", nil, err
	}
	name := hash.Key(key, attrs.Size, attrs.ModTime.UnixNano()) + path.Ext(key)
	localPath = filepath.Join(s.dir, name)
	release = func() {
		if !s.keep {
			os.Remove(localPath)
		}
	}

	if s.keep {
		if fi, err := os.Stat(localPath); err == nil && fi.Size() == attrs.Size {
			s.log.WithField("key", key).Debug("using cached input")
			return localPath, release, nil
		}
	}

	f, err := os.CreateTemp(s.dir, name+".*.part")
	if err != nil {
		return "", nil, fmt.Errorf("cloud: creating staging file for %s: %v", key, err)
	}
	partial := f.Name()
	defer os.Remove(partial)
	if err := CopyBlob(ctx, s.bucket, key, f); err != nil {
		f.Close()
		return "", nil, err
	}
	if err := f.Close(); err != nil {
		return "", nil, fmt.Errorf("cloud: closing staging file for %s: %v", key, err)
	}
	if err := os.Rename(partial, localPath); err != nil {
		return "", nil, fmt.Errorf("cloud: staging %s: %v", key, err)
	}
	s.log.WithFields(logrus.Fields{"key": key, "bytes": attrs.Size}).Debug("staged input")
	return localPath, release, nil
}

// Close removes the staging directory unless inputs are being cached.
func (s *Stager) Close() error {
	if s.keep {
		return nil
	}
	return os.RemoveAll(s.dir)
}
