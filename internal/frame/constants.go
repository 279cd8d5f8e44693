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

// Package frame encodes and decodes TCMP packets on the wire.
//
// A packet is HDLC-delimited:
//
//	0x7E | LEN_HI LEN_LO | LCS | FAMILY_HI FAMILY_LO | CODE | PAYLOAD... | CRC_LO CRC_HI | 0x7E
//
// LEN counts family, code, payload and CRC. LCS makes LEN_HI + LEN_LO + LCS
// sum to zero. The CRC is CRC-16/ISO14443A over LEN through PAYLOAD. Any 0x7E
// or 0x7D between the delimiters is sent as 0x7D followed by the byte XOR 0x20.
package frame

// Framing bytes
const (
	Delimiter = 0x7E
	Escape    = 0x7D
	EscapeXOR = 0x20
)

// Size limits
const (
	HeaderLength  = 3 // length (2) + length checksum (1)
	CRCLength     = 2
	MinBodyLength = 2 + 1 + CRCLength // family + code + crc
	MaxBodyLength = 0xFFFF
	MaxPayload    = MaxBodyLength - MinBodyLength
	MinPacket     = HeaderLength + MinBodyLength
)
