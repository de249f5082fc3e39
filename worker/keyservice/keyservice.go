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

// Package keyservice fetches the private keys used to decrypt aggregatable reports.
package keyservice

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/google/privacy-sandbox-aggregation-worker/encryption/cryptoio"
	"github.com/google/privacy-sandbox-aggregation-worker/encryption/standardencrypt"
	"github.com/google/privacy-sandbox-aggregation-worker/shared/utils"
	"github.com/hashicorp/go-retryablehttp"
)

// ErrorReason classifies a key-service failure.
type ErrorReason string

// The reasons a key fetch can fail.
const (
	ReasonPermissionDenied      ErrorReason = "PERMISSION_DENIED"
	ReasonKeyServiceUnavailable ErrorReason = "KEY_SERVICE_UNAVAILABLE"
	ReasonKeyNotFound           ErrorReason = "KEY_NOT_FOUND"
	ReasonUnknownError          ErrorReason = "UNKNOWN_ERROR"
)

// Error is a typed key-service failure.
type Error struct {
	Reason ErrorReason
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("key service: %s: %v", e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// DecryptionKeyService returns the private key for a report's key ID.
type DecryptionKeyService interface {
	GetDecryptionKey(ctx context.Context, keyID string) (*standardencrypt.StandardPrivateKey, error)
}

// CollectionKeyService serves keys from a private-key collection read once through
// cryptoio. It is used for one-shot runs where the worker owns its key files.
type CollectionKeyService struct {
	mu       sync.Mutex
	keys     map[string]*standardencrypt.StandardPrivateKey
	paramURI string
}

// NewCollectionKeyService creates a key service reading the collection at the URI
// lazily on the first lookup.
func NewCollectionKeyService(paramURI string) *CollectionKeyService {
	return &CollectionKeyService{paramURI: paramURI}
}

// GetDecryptionKey returns the key with the given ID from the collection.
func (s *CollectionKeyService) GetDecryptionKey(ctx context.Context, keyID string) (*standardencrypt.StandardPrivateKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.keys == nil {
		keys, err := cryptoio.ReadPrivateKeyCollection(ctx, s.paramURI)
		if err != nil {
			return nil, &Error{Reason: ReasonKeyServiceUnavailable, Err: err}
		}
		s.keys = keys
	}
	key, ok := s.keys[keyID]
	if !ok {
		return nil, &Error{Reason: ReasonKeyNotFound, Err: fmt.Errorf("no private key found for keyID = %q", keyID)}
	}
	return key, nil
}

// HTTPKeyService fetches private keys from a key-management endpoint over HTTPS.
type HTTPKeyService struct {
	endpoint               string
	audience               string
	impersonatedSvcAccount string
	client                 *http.Client

	mu    sync.Mutex
	cache map[string]*standardencrypt.StandardPrivateKey
}

// NewHTTPKeyService creates a key service for the given endpoint. Requests carry an
// identity token for the audience, retried with exponential backoff.
func NewHTTPKeyService(endpoint, audience, impersonatedSvcAccount string) *HTTPKeyService {
	return &HTTPKeyService{
		endpoint:               endpoint,
		audience:               audience,
		impersonatedSvcAccount: impersonatedSvcAccount,
		client:                 retryablehttp.NewClient().StandardClient(),
		cache:                  make(map[string]*standardencrypt.StandardPrivateKey),
	}
}

type encryptionKeyResponse struct {
	KeyID string `json:"key_id"`
	Key   []byte `json:"key"`
}

// GetDecryptionKey fetches the key with the given ID, caching fetched keys for the
// lifetime of the service.
func (s *HTTPKeyService) GetDecryptionKey(ctx context.Context, keyID string) (*standardencrypt.StandardPrivateKey, error) {
	s.mu.Lock()
	if key, ok := s.cache[keyID]; ok {
		s.mu.Unlock()
		return key, nil
	}
	s.mu.Unlock()

	token, err := utils.GetAuthorizationToken(ctx, s.audience, s.impersonatedSvcAccount)
	if err != nil {
		return nil, &Error{Reason: ReasonUnknownError, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, "GET", fmt.Sprintf("%s/%s", s.endpoint, keyID), nil)
	if err != nil {
		return nil, &Error{Reason: ReasonUnknownError, Err: err}
	}
	req.Header.Add("Authorization", fmt.Sprintf("Bearer %s", token))

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, &Error{Reason: ReasonKeyServiceUnavailable, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusUnauthorized:
		return nil, &Error{Reason: ReasonPermissionDenied, Err: fmt.Errorf("key service returned %s", resp.Status)}
	case resp.StatusCode == http.StatusNotFound:
		return nil, &Error{Reason: ReasonKeyNotFound, Err: fmt.Errorf("key service returned %s", resp.Status)}
	case resp.StatusCode >= 500:
		return nil, &Error{Reason: ReasonKeyServiceUnavailable, Err: fmt.Errorf("key service returned %s", resp.Status)}
	case resp.StatusCode != http.StatusOK:
		return nil, &Error{Reason: ReasonUnknownError, Err: fmt.Errorf("key service returned %s", resp.Status)}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Reason: ReasonUnknownError, Err: err}
	}
	keyResp := &encryptionKeyResponse{}
	if err := json.Unmarshal(body, keyResp); err != nil {
		return nil, &Error{Reason: ReasonUnknownError, Err: err}
	}

	key := &standardencrypt.StandardPrivateKey{Key: keyResp.Key}
	s.mu.Lock()
	s.cache[keyID] = key
	s.mu.Unlock()
	return key, nil
}
