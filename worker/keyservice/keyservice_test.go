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

package keyservice

import (
	"bytes"
	"context"
	"errors"
	"path"
	"testing"

	"github.com/google/privacy-sandbox-aggregation-worker/encryption/cryptoio"
	"github.com/google/privacy-sandbox-aggregation-worker/encryption/standardencrypt"
)

func TestCollectionKeyService(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	privKeys, _, err := cryptoio.GenerateHybridKeyPairs(ctx, 2, "", "")
	if err != nil {
		t.Fatal(err)
	}
	privInfo := make(map[string]*cryptoio.ReadStandardPrivateKeyParams)
	for keyID, key := range privKeys {
		keyFile := path.Join(dir, keyID)
		if _, err := cryptoio.SaveStandardPrivateKey(ctx, &cryptoio.SaveStandardPrivateKeyParams{FilePath: keyFile}, key); err != nil {
			t.Fatal(err)
		}
		privInfo[keyID] = &cryptoio.ReadStandardPrivateKeyParams{FilePath: keyFile}
	}
	paramsFile := path.Join(dir, "private_keys.json")
	if err := cryptoio.SavePrivateKeyParamsCollection(ctx, privInfo, paramsFile); err != nil {
		t.Fatal(err)
	}

	service := NewCollectionKeyService(paramsFile)
	for keyID, want := range privKeys {
		got, err := service.GetDecryptionKey(ctx, keyID)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(got.Key, want.Key) {
			t.Errorf("key %q does not round-trip through the collection", keyID)
		}
	}

	_, err = service.GetDecryptionKey(ctx, "unknown-key")
	var keyErr *Error
	if !errors.As(err, &keyErr) || keyErr.Reason != ReasonKeyNotFound {
		t.Errorf("expect KEY_NOT_FOUND for an unknown key, got %v", err)
	}
}

func TestFakeKeyServiceRoundTrip(t *testing.T) {
	ctx := context.Background()
	fake := NewFakeKeyService()

	message := []byte("payload")
	sharedInfo := "shared-info"
	ciphertext, err := fake.GenerateCiphertext("key-1", message, sharedInfo)
	if err != nil {
		t.Fatal(err)
	}

	key, err := fake.GetDecryptionKey(ctx, "key-1")
	if err != nil {
		t.Fatal(err)
	}
	got, err := standardencrypt.Decrypt(&standardencrypt.StandardCiphertext{Data: ciphertext}, []byte(sharedInfo), key)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, message) {
		t.Errorf("got decrypted message %q, want %q", got, message)
	}
}

func TestFakeKeyServiceFailureInjection(t *testing.T) {
	fake := NewFakeKeyService()
	if _, err := fake.GenerateCiphertext("key-1", []byte("payload"), ""); err != nil {
		t.Fatal(err)
	}
	fake.SetShouldFail(true, ReasonPermissionDenied)

	_, err := fake.GetDecryptionKey(context.Background(), "key-1")
	var keyErr *Error
	if !errors.As(err, &keyErr) || keyErr.Reason != ReasonPermissionDenied {
		t.Errorf("expect PERMISSION_DENIED, got %v", err)
	}
}
