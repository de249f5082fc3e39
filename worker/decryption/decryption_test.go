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

package decryption

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/privacy-sandbox-aggregation-worker/shared/reporttypes"
	"github.com/google/privacy-sandbox-aggregation-worker/shared/utils"
	"github.com/google/privacy-sandbox-aggregation-worker/worker/keyservice"
	"github.com/google/uuid"
	"lukechampine.com/uint128"
)

func encryptTestReport(t *testing.T, keys *keyservice.FakeKeyService, sharedInfoForEncryption string) (*reporttypes.EncryptedReport, *reporttypes.Report) {
	t.Helper()
	sharedInfo := reporttypes.SharedInfo{
		API:                 "attribution-reporting",
		Version:             reporttypes.LatestVersion,
		ReportID:            uuid.NewString(),
		ReportingOrigin:     "https://adtech.example",
		Destination:         "https://advertiser.example",
		ScheduledReportTime: time.Unix(1609459200, 0).UTC(),
	}
	payload := reporttypes.Payload{
		Operation: "histogram",
		Data: []reporttypes.Contribution{
			{Bucket: utils.Uint128ToBigEndianBytes(uint128.From64(1)), Value: 2},
		},
	}

	sharedInfoStr, err := reporttypes.SerializeSharedInfo(&sharedInfo)
	if err != nil {
		t.Fatal(err)
	}
	bPayload, err := utils.MarshalCBOR(payload)
	if err != nil {
		t.Fatal(err)
	}

	keyID := uuid.NewString()
	aad := sharedInfoStr
	if sharedInfoForEncryption != "" {
		aad = sharedInfoForEncryption
	}
	ciphertext, err := keys.GenerateCiphertext(keyID, bPayload, aad)
	if err != nil {
		t.Fatal(err)
	}
	encrypted := &reporttypes.EncryptedReport{Payload: ciphertext, KeyID: keyID, SharedInfo: sharedInfoStr}
	return encrypted, &reporttypes.Report{SharedInfo: sharedInfo, Payload: payload}
}

func TestDecryptAndDeserialize(t *testing.T) {
	keys := keyservice.NewFakeKeyService()
	encrypted, want := encryptTestReport(t, keys, "")

	got, err := NewRecordDecrypter(keys).DecryptAndDeserialize(context.Background(), encrypted)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("report mismatch (-want +got):\n%s", diff)
	}
}

func TestDecryptWrongSharedInfo(t *testing.T) {
	keys := keyservice.NewFakeKeyService()
	// Encrypt with a different shared info than what is provided with the report so
	// that decryption fails.
	encrypted, _ := encryptTestReport(t, keys, "foobarbaz")

	_, err := NewRecordDecrypter(keys).DecryptAndDeserialize(context.Background(), encrypted)
	if err == nil {
		t.Fatal("expect a decryption error for mismatched associated data")
	}
	if got, want := KindOf(err), DecryptionError; got != want {
		t.Errorf("got error kind %s, want %s", got, want)
	}
}

func TestDecryptKeyServiceFailures(t *testing.T) {
	for _, tc := range []struct {
		reason keyservice.ErrorReason
		want   ErrorKind
	}{
		{keyservice.ReasonPermissionDenied, PermissionError},
		{keyservice.ReasonKeyServiceUnavailable, InternalError},
		{keyservice.ReasonKeyNotFound, ServiceError},
		{keyservice.ReasonUnknownError, ServiceError},
	} {
		keys := keyservice.NewFakeKeyService()
		encrypted, _ := encryptTestReport(t, keys, "")
		keys.SetShouldFail(true, tc.reason)

		_, err := NewRecordDecrypter(keys).DecryptAndDeserialize(context.Background(), encrypted)
		if err == nil {
			t.Fatalf("expect an error for reason %s", tc.reason)
		}
		if got := KindOf(err); got != tc.want {
			t.Errorf("reason %s: got error kind %s, want %s", tc.reason, got, tc.want)
		}
	}
}

func TestDecryptMalformedSharedInfo(t *testing.T) {
	keys := keyservice.NewFakeKeyService()
	encrypted, _ := encryptTestReport(t, keys, "")
	encrypted.SharedInfo = "{not json"

	_, err := NewRecordDecrypter(keys).DecryptAndDeserialize(context.Background(), encrypted)
	if err == nil {
		t.Fatal("expect an error for malformed shared info")
	}
	if got, want := KindOf(err), DecryptionError; got != want {
		t.Errorf("got error kind %s, want %s", got, want)
	}
}
