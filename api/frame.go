// Copyright 2024 The tmesg authors. All Rights Reserved.
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

package api

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// FrameStatus tells the host how to proceed after receiving a Frame.
type FrameStatus uint32

const (
	// FramePending means the request is still being served, poll again.
	FramePending FrameStatus = 1
	// FrameMore means Payload holds a chunk and more chunks follow.
	FrameMore FrameStatus = 2
	// FrameDone means Payload holds the last chunk.
	FrameDone FrameStatus = 3
	// FrameError means the request failed, see Error.
	FrameError FrameStatus = 4
)

func (s FrameStatus) String() string {
	switch s {
	case FramePending:
		return "PENDING"
	case FrameMore:
		return "MORE"
	case FrameDone:
		return "DONE"
	case FrameError:
		return "ERROR"
	}

	return fmt.Sprintf("FrameStatus(%d)", uint32(s))
}

// Frame is the reply to every tmesg U2F HID vendor command.
type Frame struct {
	Status  FrameStatus
	Payload []byte
	Error   string
}

const (
	frameStatus  protowire.Number = 1
	framePayload protowire.Number = 2
	frameError   protowire.Number = 3
)

// Bytes serializes an API message.
func (f *Frame) Bytes() (buf []byte) {
	buf = protowire.AppendTag(buf, frameStatus, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(f.Status))

	if len(f.Payload) > 0 {
		buf = protowire.AppendTag(buf, framePayload, protowire.BytesType)
		buf = protowire.AppendBytes(buf, f.Payload)
	}

	if len(f.Error) > 0 {
		buf = protowire.AppendTag(buf, frameError, protowire.BytesType)
		buf = protowire.AppendString(buf, f.Error)
	}

	return
}

// Unmarshal parses a serialized Frame.
func (f *Frame) Unmarshal(buf []byte) error {
	*f = Frame{}

	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return protowire.ParseError(n)
		}
		buf = buf[n:]

		switch {
		case num == frameStatus && typ == protowire.VarintType:
			var v uint64
			v, n = protowire.ConsumeVarint(buf)
			f.Status = FrameStatus(v)
		case num == framePayload && typ == protowire.BytesType:
			var v []byte
			v, n = protowire.ConsumeBytes(buf)
			f.Payload = append([]byte(nil), v...)
		case num == frameError && typ == protowire.BytesType:
			f.Error, n = protowire.ConsumeString(buf)
		default:
			n = protowire.ConsumeFieldValue(num, typ, buf)
		}

		if n < 0 {
			return protowire.ParseError(n)
		}
		buf = buf[n:]
	}

	if f.Status == 0 {
		return errors.New("missing frame status")
	}

	return nil
}

// Err returns the Frame error, if any.
func (f *Frame) Err() error {
	if f.Status != FrameError {
		return nil
	}

	if f.Error == "" {
		return errors.New("unspecified device error")
	}

	return errors.New(f.Error)
}
