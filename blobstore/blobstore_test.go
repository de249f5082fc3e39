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

package blobstore

import (
	"context"
	"io"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestLocalClientListWithPrefix(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	client := NewLocalClient()

	for _, name := range []string{"reports_2.avro", "reports_1.avro", "domain_1.avro"} {
		if err := client.WriteBlob(ctx, dir, name, []byte(name)); err != nil {
			t.Fatal(err)
		}
	}

	got, err := client.ListBlobs(ctx, dir, "reports")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"reports_1.avro", "reports_2.avro"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("blob names mismatch (-want +got):\n%s", diff)
	}
}

func TestLocalClientReadBack(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	client := NewLocalClient()

	want := []byte("some data")
	if err := client.WriteBlob(ctx, dir, "nested/result.avro", want); err != nil {
		t.Fatal(err)
	}

	reader, err := client.NewReader(ctx, dir, "nested/result.avro")
	if err != nil {
		t.Fatal(err)
	}
	defer reader.Close()
	got, err := io.ReadAll(reader)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("blob content mismatch (-want +got):\n%s", diff)
	}
}

func TestLocalClientListMissingBucket(t *testing.T) {
	client := NewLocalClient()
	if _, err := client.ListBlobs(context.Background(), "/nonexistent-bucket-path", ""); err == nil {
		t.Error("expect an error for a missing bucket")
	}
}

func TestIsGCSBucket(t *testing.T) {
	for _, tc := range []struct {
		bucket string
		want   bool
	}{
		{"gs://my-bucket", true},
		{"my-bucket", true},
		{"/tmp/reports", false},
		{"relative/dir", false},
	} {
		if got := IsGCSBucket(tc.bucket); got != tc.want {
			t.Errorf("IsGCSBucket(%q) = %v, want %v", tc.bucket, got, tc.want)
		}
	}
}
