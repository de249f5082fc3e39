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
	"context"
	"fmt"
	"sync"

	"github.com/google/privacy-sandbox-aggregation-worker/encryption/standardencrypt"
)

// FakeKeyService mints hybrid key pairs on demand for tests. It can be set to fail
// every lookup with a chosen reason.
type FakeKeyService struct {
	mu          sync.Mutex
	privateKeys map[string]*standardencrypt.StandardPrivateKey
	publicKeys  map[string]*standardencrypt.StandardPublicKey

	shouldFail bool
	failReason ErrorReason
}

// NewFakeKeyService creates an empty fake key service.
func NewFakeKeyService() *FakeKeyService {
	return &FakeKeyService{
		privateKeys: make(map[string]*standardencrypt.StandardPrivateKey),
		publicKeys:  make(map[string]*standardencrypt.StandardPublicKey),
	}
}

// SetShouldFail makes every following lookup fail with the given reason.
func (s *FakeKeyService) SetShouldFail(fail bool, reason ErrorReason) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shouldFail = fail
	s.failReason = reason
}

// GetDecryptionKey returns the private key minted for the key ID.
func (s *FakeKeyService) GetDecryptionKey(ctx context.Context, keyID string) (*standardencrypt.StandardPrivateKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shouldFail {
		return nil, &Error{Reason: s.failReason, Err: fmt.Errorf("fake failure for keyID %q", keyID)}
	}
	key, ok := s.privateKeys[keyID]
	if !ok {
		return nil, &Error{Reason: ReasonKeyNotFound, Err: fmt.Errorf("no private key found for keyID = %q", keyID)}
	}
	return key, nil
}

// GenerateCiphertext encrypts a payload under a key pair minted for the key ID, with
// the shared info bound as associated data.
func (s *FakeKeyService) GenerateCiphertext(keyID string, payload []byte, sharedInfo string) ([]byte, error) {
	s.mu.Lock()
	publicKey, ok := s.publicKeys[keyID]
	if !ok {
		priv, pub, err := standardencrypt.GenerateStandardKeyPair()
		if err != nil {
			s.mu.Unlock()
			return nil, err
		}
		s.privateKeys[keyID] = priv
		s.publicKeys[keyID] = pub
		publicKey = pub
	}
	s.mu.Unlock()

	encrypted, err := standardencrypt.Encrypt(payload, []byte(sharedInfo), publicKey)
	if err != nil {
		return nil, err
	}
	return encrypted.Data, nil
}
