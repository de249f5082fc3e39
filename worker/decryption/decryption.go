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

// Package decryption turns encrypted reports into decoded reports: it parses the
// shared_info envelope, fetches the decryption key, decrypts the payload with the
// envelope bound as associated data and deserializes the CBOR payload.
package decryption

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/privacy-sandbox-aggregation-worker/encryption/standardencrypt"
	"github.com/google/privacy-sandbox-aggregation-worker/shared/reporttypes"
	"github.com/google/privacy-sandbox-aggregation-worker/shared/utils"
	"github.com/google/privacy-sandbox-aggregation-worker/worker/keyservice"
)

// ErrorKind classifies a failed decryption.
type ErrorKind string

// The kinds of decryption failures. DecryptionError and ServiceError are recorded
// per report; PermissionError and InternalError fail the whole job.
const (
	DecryptionError ErrorKind = "DECRYPTION_ERROR"
	ServiceError    ErrorKind = "SERVICE_ERROR"
	PermissionError ErrorKind = "PERMISSION_ERROR"
	InternalError   ErrorKind = "INTERNAL_ERROR"
)

// Error is a typed decryption failure.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the error kind of a decryption failure, or DecryptionError when the
// error carries no kind.
func KindOf(err error) ErrorKind {
	var decErr *Error
	if errors.As(err, &decErr) {
		return decErr.Kind
	}
	return DecryptionError
}

// RecordDecrypter decrypts and deserializes encrypted reports.
type RecordDecrypter struct {
	KeyService keyservice.DecryptionKeyService
}

// NewRecordDecrypter creates a decrypter using the given key service.
func NewRecordDecrypter(keyService keyservice.DecryptionKeyService) *RecordDecrypter {
	return &RecordDecrypter{KeyService: keyService}
}

// DecryptAndDeserialize converts an encrypted report into a report.
func (d *RecordDecrypter) DecryptAndDeserialize(ctx context.Context, encrypted *reporttypes.EncryptedReport) (*reporttypes.Report, error) {
	sharedInfo, err := reporttypes.DeserializeSharedInfo(encrypted.SharedInfo)
	if err != nil {
		return nil, &Error{Kind: DecryptionError, Err: fmt.Errorf("parsing shared_info: %v", err)}
	}

	privateKey, err := d.KeyService.GetDecryptionKey(ctx, encrypted.KeyID)
	if err != nil {
		return nil, &Error{Kind: kindOfKeyServiceError(err), Err: err}
	}

	b, err := standardencrypt.Decrypt(&standardencrypt.StandardCiphertext{Data: encrypted.Payload}, []byte(encrypted.SharedInfo), privateKey)
	if err != nil {
		return nil, &Error{Kind: DecryptionError, Err: fmt.Errorf("decrypting payload of report %s: %v", sharedInfo.ReportID, err)}
	}

	payload := &reporttypes.Payload{}
	if err := utils.UnmarshalCBOR(b, payload); err != nil {
		return nil, &Error{Kind: DecryptionError, Err: fmt.Errorf("deserializing payload of report %s: %v", sharedInfo.ReportID, err)}
	}

	return &reporttypes.Report{SharedInfo: *sharedInfo, Payload: *payload}, nil
}

func kindOfKeyServiceError(err error) ErrorKind {
	var keyErr *keyservice.Error
	if !errors.As(err, &keyErr) {
		return ServiceError
	}
	switch keyErr.Reason {
	case keyservice.ReasonPermissionDenied:
		return PermissionError
	case keyservice.ReasonKeyServiceUnavailable:
		return InternalError
	default:
		return ServiceError
	}
}
