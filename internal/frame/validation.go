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

package frame

import (
	"encoding/binary"
	"fmt"

	"github.com/ZaparooProject/go-tappy"
)

// Encode builds the delimited, escaped wire form of msg
func Encode(msg tappy.Message) ([]byte, error) {
	if len(msg.Payload) > MaxPayload {
		return nil, fmt.Errorf("%w: payload of %d bytes", tappy.ErrFrameTooLarge, len(msg.Payload))
	}

	bodyLen := MinBodyLength + len(msg.Payload)
	packet := make([]byte, 0, HeaderLength+bodyLen)
	packet = binary.BigEndian.AppendUint16(packet, uint16(bodyLen))
	packet = append(packet, LengthChecksum(packet[0], packet[1]))
	packet = append(packet, msg.Family[0], msg.Family[1], msg.Code)
	packet = append(packet, msg.Payload...)
	packet = binary.LittleEndian.AppendUint16(packet, CRC(packet))

	out := make([]byte, 0, len(packet)+8)
	out = append(out, Delimiter)
	for _, b := range packet {
		if b == Delimiter || b == Escape {
			out = append(out, Escape, b^EscapeXOR)
			continue
		}
		out = append(out, b)
	}
	return append(out, Delimiter), nil
}

// Decode validates an unescaped packet (the bytes between two delimiters)
// and returns the message it carries
func Decode(packet []byte) (tappy.Message, error) {
	if len(packet) < MinPacket {
		return tappy.Message{}, fmt.Errorf("%w: %d bytes is shorter than the minimum packet",
			tappy.ErrInvalidFrame, len(packet))
	}

	hi, lo, lcs := packet[0], packet[1], packet[2]
	if hi+lo+lcs != 0 {
		return tappy.Message{}, fmt.Errorf("%w: length checksum", tappy.ErrChecksumMismatch)
	}

	bodyLen := int(binary.BigEndian.Uint16(packet[:2]))
	if bodyLen < MinBodyLength || HeaderLength+bodyLen != len(packet) {
		return tappy.Message{}, fmt.Errorf("%w: length field %d does not match %d byte packet",
			tappy.ErrInvalidFrame, bodyLen, len(packet))
	}

	crcAt := len(packet) - CRCLength
	want := binary.LittleEndian.Uint16(packet[crcAt:])
	if got := CRC(packet[:crcAt]); got != want {
		return tappy.Message{}, fmt.Errorf("%w: crc %04X, expected %04X", tappy.ErrChecksumMismatch, got, want)
	}

	msg := tappy.Message{
		Family: tappy.Family{packet[3], packet[4]},
		Code:   packet[5],
	}
	if crcAt > 6 {
		msg.Payload = append([]byte(nil), packet[6:crcAt]...)
	}
	return msg, nil
}
