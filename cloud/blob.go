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
	"errors"
	"io"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/lis2zarr"
	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"
)

// MaxRetryTime is the longest a single blob operation is retried for.
var MaxRetryTime = 2 * time.Minute

// IsNotFound returns whether err was caused by a missing blob.
func IsNotFound(err error) bool {
	return gcerrors.Code(err) == gcerrors.NotFound
}

// retry runs op with exponential backoff until it succeeds, returns a
// permanent error, or ctx is done. Missing blobs and cancellations are
// not retried.
func retry(ctx context.Context, desc string, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = MaxRetryTime
	return backoff.RetryNotify(
		func() error {
			err := op()
			if err == nil {
				return nil
			}
			if IsNotFound(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return backoff.Permanent(err)
			}
			switch gcerrors.Code(err) {
			case gcerrors.InvalidArgument, gcerrors.PermissionDenied, gcerrors.FailedPrecondition, gcerrors.Unimplemented:
				return backoff.Permanent(err)
			}
			return err
		},
		backoff.WithContext(b, ctx),
		func(err error, d time.Duration) {
			logrus.WithFields(logrus.Fields{
				"op":    desc,
				"retry": d,
			}).WithError(err).Warn("blob operation failed")
		},
	)
}

// ReadBlob reads the blob with the given key from bucket.
func ReadBlob(ctx context.Context, bucket *blob.Bucket, key string) ([]byte, error) {
	var b []byte
	err := retry(ctx, "read "+key, func() error {
		var err error
		b, err = bucket.ReadAll(ctx, key)
		return err
	})
	if err != nil {
		return nil, &lis2zarr.StorageError{Op: "reading blob", Key: key, Err: err}
	}
	return b, nil
}

// WriteBlob writes data to the blob with the given key in bucket,
// replacing any existing content.
func WriteBlob(ctx context.Context, bucket *blob.Bucket, key string, data []byte) error {
	err := retry(ctx, "write "+key, func() error {
		return bucket.WriteAll(ctx, key, data, nil)
	})
	if err != nil {
		return &lis2zarr.StorageError{Op: "writing blob", Key: key, Err: err}
	}
	return nil
}

// CopyBlob downloads the blob with the given key into w, replacing
// the content of w.
func CopyBlob(ctx context.Context, bucket *blob.Bucket, key string, w *os.File) error {
	err := retry(ctx, "copy "+key, func() error {
		if err := w.Truncate(0); err != nil {
			return backoff.Permanent(err)
		}
		if _, err := w.Seek(0, io.SeekStart); err != nil {
			return backoff.Permanent(err)
		}
		r, err := bucket.NewReader(ctx, key, nil)
		if err != nil {
			return err
		}
		defer r.Close()
		_, err = io.Copy(w, r)
		return err
	})
	if err != nil {
		return &lis2zarr.StorageError{Op: "downloading blob", Key: key, Err: err}
	}
	return nil
}

// DeleteBlob deletes the blob with the given key. Deleting a missing
// blob is not an error.
func DeleteBlob(ctx context.Context, bucket *blob.Bucket, key string) error {
	err := retry(ctx, "delete "+key, func() error {
		return bucket.Delete(ctx, key)
	})
	if err != nil && !IsNotFound(err) {
		return &lis2zarr.StorageError{Op: "deleting blob", Key: key, Err: err}
	}
	return nil
}

// ListKeys returns the keys of all blobs whose key begins with prefix,
// in the order the provider lists them.
func ListKeys(ctx context.Context, bucket *blob.Bucket, prefix string) ([]string, error) {
	var keys []string
	iter := bucket.List(&blob.ListOptions{Prefix: prefix})
	for {
		obj, err := iter.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, &lis2zarr.StorageError{Op: "listing blobs", Key: prefix, Err: err}
		}
		if obj.IsDir {
			continue
		}
		keys = append(keys, obj.Key)
	}
	return keys, nil
}

// blobAttributes returns the size and modification time of a blob.
func blobAttributes(ctx context.Context, bucket *blob.Bucket, key string) (*blob.Attributes, error) {
	var a *blob.Attributes
	err := retry(ctx, "stat "+key, func() error {
		var err error
		a, err = bucket.Attributes(ctx, key)
		return err
	})
	if err != nil {
		return nil, &lis2zarr.StorageError{Op: "reading attributes of blob", Key: key, Err: err}
	}
	return a, nil
}
