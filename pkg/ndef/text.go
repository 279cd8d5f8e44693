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

import "errors"

// TextRecordType is the well-known type of text records.
const TextRecordType = "T"

const (
	textUTF16Flag     = 0x80
	textLangCodeMask  = 0x3F
	maxLanguageLength = 63
)

// Text record errors.
var (
	ErrTextPayloadTooShort  = errors.New("ndef: text payload too short")
	ErrTextPayloadTruncated = errors.New("ndef: text payload truncated")
)

// NewTextRecord creates a UTF-8 text record. An empty language defaults to "en".
func NewTextRecord(text, language string) *Record {
	if language == "" {
		language = "en"
	}
	if len(language) > maxLanguageLength {
		language = language[:maxLanguageLength]
	}

	payload := make([]byte, 1+len(language)+len(text))
	payload[0] = byte(len(language))
	copy(payload[1:], language)
	copy(payload[1+len(language):], text)

	return &Record{TNF: TNFWellKnown, Type: TextRecordType, Payload: payload}
}

// ParseTextRecord returns the text and language code of a text record payload.
// UTF-16 payloads are returned undecoded.
func ParseTextRecord(payload []byte) (text, language string, err error) {
	if len(payload) < 1 {
		return "", "", ErrTextPayloadTooShort
	}
	langLen := int(payload[0] & textLangCodeMask)
	if len(payload) < 1+langLen {
		return "", "", ErrTextPayloadTruncated
	}
	return string(payload[1+langLen:]), string(payload[1 : 1+langLen]), nil
}

// Text returns the text of a text record.
func (r *Record) Text() (string, bool) {
	if !r.IsWellKnown(TextRecordType) || (len(r.Payload) > 0 && r.Payload[0]&textUTF16Flag != 0) {
		return "", false
	}
	text, _, err := ParseTextRecord(r.Payload)
	if err != nil {
		return "", false
	}
	return text, true
}
