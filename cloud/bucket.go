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

// Package cloud provides access to the object stores that hold LIS inputs
// and Zarr outputs.
package cloud

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"gocloud.dev/blob"
	"gocloud.dev/blob/fileblob"
	"gocloud.dev/blob/gcsblob"
	"gocloud.dev/blob/memblob"
	"gocloud.dev/blob/s3blob"
	"gocloud.dev/gcp"
)

// Protocols lists the accepted storage providers.
var Protocols = []string{"s3", "gs", "file", "mem"}

var (
	memMu      sync.Mutex
	memBuckets = make(map[string]*blob.Bucket)
)

// OpenBucket returns the blob storage bucket with the given name from
// the given storage provider.
// The accepted providers are "s3" for AWS S3, "gs" for Google Cloud Storage,
// "file" for a directory on the local filesystem, and "mem" for an
// in-memory bucket. In-memory buckets with the same name are shared within
// a process, which is mostly useful for testing.
func OpenBucket(ctx context.Context, protocol, name string) (*blob.Bucket, error) {
	switch protocol {
	case "file":
		if err := os.MkdirAll(name, os.ModePerm); err != nil {
			return nil, fmt.Errorf("cloud: creating bucket directory: %v", err)
		}
		return fileblob.OpenBucket(name, nil)
	case "gs":
		return gsBucket(ctx, name)
	case "s3":
		return s3Bucket(ctx, name)
	case "mem":
		return MemBucket(name), nil
	default:
		return nil, fmt.Errorf("cloud: invalid provider %q; valid providers are %s",
			protocol, strings.Join(Protocols, ", "))
	}
}

// MemBucket returns the shared in-memory bucket with the given name,
// creating it if necessary. The returned bucket must not be closed.
func MemBucket(name string) *blob.Bucket {
	memMu.Lock()
	defer memMu.Unlock()
	b, ok := memBuckets[name]
	if !ok {
		b = memblob.OpenBucket(nil)
		memBuckets[name] = b
	}
	return b
}

func gsBucket(ctx context.Context, name string) (*blob.Bucket, error) {
	// See here for information on credentials:
	// https://cloud.google.com/docs/authentication/getting-started
	creds, err := gcp.DefaultCredentials(ctx)
	if err != nil {
		return nil, err
	}
	c, err := gcp.NewHTTPClient(gcp.DefaultTransport(), gcp.CredentialsTokenSource(creds))
	if err != nil {
		return nil, err
	}
	return gcsblob.OpenBucket(ctx, c, name, nil)
}

// s3Bucket opens an s3 storage bucket. Credentials are taken from the
// standard AWS sources (environment variables, shared configuration files,
// or an instance role). The region defaults to us-east-1 if AWS_REGION is
// not set.
func s3Bucket(ctx context.Context, name string) (*blob.Bucket, error) {
	region := os.Getenv("AWS_REGION")
	if region == "" {
		region = "us-east-1"
	}
	s, err := session.NewSessionWithOptions(session.Options{
		Config:            aws.Config{Region: aws.String(region)},
		SharedConfigState: session.SharedConfigEnable,
	})
	if err != nil {
		return nil, fmt.Errorf("cloud: creating AWS session: %v", err)
	}
	return s3blob.OpenBucket(ctx, s, name, nil)
}
