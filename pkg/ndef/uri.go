// Copyright 2026 The Zaparoo Project Contributors.
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ndef

import (
	"errors"
	"strings"
)

// URIRecordType is the well-known type of URI records.
const URIRecordType = "U"

// URI record errors.
var (
	ErrURIPayloadTooShort   = errors.New("ndef: URI payload too short")
	ErrURIInvalidPrefixCode = errors.New("ndef: invalid URI prefix code")
)

// URI prefix codes as defined by the NFC Forum URI RTD. Index 0 means no prefix.
var uriPrefixes = []string{
	"",
	"http://www.",
	"https://www.",
	"http://",
	"https://",
	"tel:",
	"mailto:",
	"ftp://anonymous:anonymous@",
	"ftp://ftp.",
	"ftps://",
	"sftp://",
	"smb://",
	"nfs://",
	"ftp://",
	"dav://",
	"news:",
	"telnet://",
	"imap:",
	"rtsp://",
	"urn:",
	"pop:",
	"sip:",
	"sips:",
	"tftp:",
	"btspp://",
	"btl2cap://",
	"btgoep://",
	"tcpobex://",
	"irdaobex://",
	"file://",
	"urn:epc:id:",
	"urn:epc:tag:",
	"urn:epc:pat:",
	"urn:epc:raw:",
	"urn:epc:",
	"urn:nfc:",
}

// NewURIRecord creates a URI record using the longest matching prefix code.
func NewURIRecord(uri string) *Record {
	best := 0
	for i := 1; i < len(uriPrefixes); i++ {
		if strings.HasPrefix(uri, uriPrefixes[i]) && len(uriPrefixes[i]) > len(uriPrefixes[best]) {
			best = i
		}
	}

	suffix := uri[len(uriPrefixes[best]):]
	payload := make([]byte, 1+len(suffix))
	payload[0] = byte(best)
	copy(payload[1:], suffix)

	return &Record{TNF: TNFWellKnown, Type: URIRecordType, Payload: payload}
}

// ParseURIRecord expands a URI record payload into the full URI.
func ParseURIRecord(payload []byte) (string, error) {
	if len(payload) < 1 {
		return "", ErrURIPayloadTooShort
	}
	code := int(payload[0])
	if code >= len(uriPrefixes) {
		return "", ErrURIInvalidPrefixCode
	}
	return uriPrefixes[code] + string(payload[1:]), nil
}

// URIPrefixCode returns the prefix code of a URI record, or false when r is
// not a URI record or has no payload.
func (r *Record) URIPrefixCode() (byte, bool) {
	if !r.IsWellKnown(URIRecordType) || len(r.Payload) == 0 {
		return 0, false
	}
	return r.Payload[0], true
}

// URI returns the expanded URI of a URI record.
func (r *Record) URI() (string, bool) {
	if !r.IsWellKnown(URIRecordType) {
		return "", false
	}
	uri, err := ParseURIRecord(r.Payload)
	if err != nil {
		return "", false
	}
	return uri, true
}
