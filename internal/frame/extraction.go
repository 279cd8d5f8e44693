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
	"fmt"

	"github.com/ZaparooProject/go-tappy"
)

// Extractor pulls packets out of a byte stream. Bytes outside a
// delimited packet are discarded. It is not safe for concurrent use.
type Extractor struct {
	buf      []byte
	inFrame  bool
	escaping bool
}

// Feed consumes data and returns every message completed by it, along with
// an error for each packet that failed validation
func (e *Extractor) Feed(data []byte) (msgs []tappy.Message, errs []error) {
	for _, b := range data {
		if b == Delimiter {
			if e.inFrame && len(e.buf) > 0 {
				msg, err := Decode(e.buf)
				if err != nil {
					errs = append(errs, err)
				} else {
					msgs = append(msgs, msg)
				}
			}
			e.buf = e.buf[:0]
			e.inFrame = true
			e.escaping = false
			continue
		}
		if !e.inFrame {
			continue
		}

		if e.escaping {
			b ^= EscapeXOR
			e.escaping = false
		} else if b == Escape {
			e.escaping = true
			continue
		}

		if len(e.buf) >= HeaderLength+MaxBodyLength {
			errs = append(errs, fmt.Errorf("%w: no closing delimiter", tappy.ErrFrameTooLarge))
			e.Reset()
			continue
		}
		e.buf = append(e.buf, b)
	}
	return msgs, errs
}

// Reset drops any partially received packet
func (e *Extractor) Reset() {
	e.buf = e.buf[:0]
	e.inFrame = false
	e.escaping = false
}
