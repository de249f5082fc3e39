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

package cryptoio

import (
	"bytes"
	"context"
	"path"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestSaveReadPublicKeyVersions(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	want := map[string][]PublicKeyInfo{
		"v1": {
			{ID: "key-1", Key: "YWJj", NotBefore: "2022-01-01T00:00:00Z", NotAfter: "2022-06-01T00:00:00Z"},
			{ID: "key-2", Key: "ZGVm"},
		},
	}

	keyFile := path.Join(dir, "public_keys.json")
	if err := SavePublicKeyVersions(ctx, want, keyFile); err != nil {
		t.Fatal(err)
	}
	got, err := ReadPublicKeyVersions(ctx, keyFile)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("public keys mismatch (-want +got):\n%s", diff)
	}
}

func TestSaveReadPublicKeyVersionsEnvVar(t *testing.T) {
	ctx := context.Background()
	want := map[string][]PublicKeyInfo{"v1": {{ID: "key-1", Key: "YWJj"}}}

	if err := SavePublicKeyVersions(ctx, want, ""); err != nil {
		t.Fatal(err)
	}
	got, err := ReadPublicKeyVersions(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("public keys mismatch (-want +got):\n%s", diff)
	}
}

func TestGenerateAndReadPrivateKeyCollection(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	privKeys, pubInfo, err := GenerateHybridKeyPairs(ctx, 3, "", "")
	if err != nil {
		t.Fatal(err)
	}
	if got, want := len(privKeys), 3; got != want {
		t.Fatalf("got %d private keys, want %d", got, want)
	}
	if got, want := len(pubInfo), 3; got != want {
		t.Fatalf("got %d public keys, want %d", got, want)
	}

	privInfo := make(map[string]*ReadStandardPrivateKeyParams)
	for keyID, key := range privKeys {
		keyFile := path.Join(dir, keyID)
		secretName, err := SaveStandardPrivateKey(ctx, &SaveStandardPrivateKeyParams{FilePath: keyFile}, key)
		if err != nil {
			t.Fatal(err)
		}
		if secretName != "" {
			t.Errorf("expect no secret name without SecretManager, got %q", secretName)
		}
		privInfo[keyID] = &ReadStandardPrivateKeyParams{FilePath: keyFile}
	}
	paramsFile := path.Join(dir, "private_keys.json")
	if err := SavePrivateKeyParamsCollection(ctx, privInfo, paramsFile); err != nil {
		t.Fatal(err)
	}

	got, err := ReadPrivateKeyCollection(ctx, paramsFile)
	if err != nil {
		t.Fatal(err)
	}
	for keyID, want := range privKeys {
		if !bytes.Equal(got[keyID].Key, want.Key) {
			t.Errorf("private key %q does not round-trip", keyID)
		}
	}
}
