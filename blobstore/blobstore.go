// Copyright 2022 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package blobstore abstracts the storage where the report shards, output domains
// and aggregation results live. Buckets map to GCS buckets in production and to
// local directories in tests and one-shot runs.
package blobstore

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
)

// DataLocation identifies a set of blobs under a prefix in a bucket.
type DataLocation struct {
	Bucket string
	Prefix string
}

// Client lists, reads and writes blobs.
type Client interface {
	// ListBlobs returns the names of all the blobs under the prefix, sorted.
	ListBlobs(ctx context.Context, bucket, prefix string) ([]string, error)
	// NewReader opens a blob for reading.
	NewReader(ctx context.Context, bucket, object string) (io.ReadCloser, error)
	// WriteBlob writes a whole blob.
	WriteBlob(ctx context.Context, bucket, object string, data []byte) error
}

// GCSClient reads and writes blobs in Google Cloud Storage.
type GCSClient struct {
	client *storage.Client
}

// NewGCSClient creates a blob client backed by GCS.
func NewGCSClient(ctx context.Context) (*GCSClient, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, err
	}
	return &GCSClient{client: client}, nil
}

// ListBlobs lists the objects under the prefix in the bucket.
func (c *GCSClient) ListBlobs(ctx context.Context, bucket, prefix string) ([]string, error) {
	var names []string
	it := c.client.Bucket(bucket).Objects(ctx, &storage.Query{Prefix: prefix})
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		names = append(names, attrs.Name)
	}
	sort.Strings(names)
	return names, nil
}

// NewReader opens a GCS object for reading.
func (c *GCSClient) NewReader(ctx context.Context, bucket, object string) (io.ReadCloser, error) {
	return c.client.Bucket(bucket).Object(object).NewReader(ctx)
}

// WriteBlob writes a GCS object.
func (c *GCSClient) WriteBlob(ctx context.Context, bucket, object string, data []byte) error {
	writer := c.client.Bucket(bucket).Object(object).NewWriter(ctx)
	if _, err := writer.Write(data); err != nil {
		writer.Close()
		return err
	}
	return writer.Close()
}

// Close closes the underlying GCS client.
func (c *GCSClient) Close() error {
	return c.client.Close()
}

// LocalClient reads and writes blobs on the local filesystem, treating the bucket
// name as a directory path.
type LocalClient struct{}

// NewLocalClient creates a blob client backed by the local filesystem.
func NewLocalClient() *LocalClient {
	return &LocalClient{}
}

// ListBlobs lists the files under the prefix in the directory.
func (c *LocalClient) ListBlobs(ctx context.Context, bucket, prefix string) ([]string, error) {
	var names []string
	err := filepath.WalkDir(bucket, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(bucket, path)
		if err != nil {
			return err
		}
		if strings.HasPrefix(rel, prefix) {
			names = append(names, rel)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

// NewReader opens a local file for reading.
func (c *LocalClient) NewReader(ctx context.Context, bucket, object string) (io.ReadCloser, error) {
	return os.Open(filepath.Join(bucket, object))
}

// WriteBlob writes a local file, creating the parent directories if needed.
func (c *LocalClient) WriteBlob(ctx context.Context, bucket, object string, data []byte) error {
	full := filepath.Join(bucket, object)
	if err := os.MkdirAll(filepath.Dir(full), os.ModePerm); err != nil {
		return err
	}
	return os.WriteFile(full, data, 0644)
}

// IsGCSBucket reports whether the location refers to a GCS bucket. Local
// directories are used otherwise, which keeps one-shot runs and tests hermetic.
func IsGCSBucket(bucket string) bool {
	return strings.HasPrefix(bucket, "gs://") || !strings.ContainsAny(bucket, "/\\")
}

// TrimBucketScheme removes the gs:// scheme from a bucket name if present.
func TrimBucketScheme(bucket string) string {
	return strings.TrimPrefix(bucket, "gs://")
}
