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

package tee

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"google.golang.org/protobuf/encoding/protowire"
)

// Kind is the type of a session request.
type Kind uint32

const (
	KindOpenSession   Kind = 1
	KindInvokeCommand Kind = 2
	KindCloseSession  Kind = 3
)

func (k Kind) String() string {
	switch k {
	case KindOpenSession:
		return "OpenSession"
	case KindInvokeCommand:
		return "InvokeCommand"
	case KindCloseSession:
		return "CloseSession"
	}

	return fmt.Sprintf("Kind(%d)", uint32(k))
}

// Request is a session request sent by a client to a Trusted Application.
type Request struct {
	Kind Kind

	// UUID and Login are only meaningful for KindOpenSession.
	UUID  uuid.UUID
	Login LoginMethod

	// Session is the session identifier returned on open.
	Session uint32

	// Command is only meaningful for KindInvokeCommand.
	Command uint32

	Types  ParamTypes
	Params Params
}

// Response is the Trusted Application answer to a Request.
type Response struct {
	Result  Result
	Origin  Origin
	Session uint32
	Params  Params
}

// protobuf field numbers
const (
	reqKind    protowire.Number = 1
	reqUUID    protowire.Number = 2
	reqLogin   protowire.Number = 3
	reqSession protowire.Number = 4
	reqCommand protowire.Number = 5
	reqTypes   protowire.Number = 6
	reqParam   protowire.Number = 7

	rspResult  protowire.Number = 1
	rspOrigin  protowire.Number = 2
	rspSession protowire.Number = 3
	rspParam   protowire.Number = 4

	paramIndex protowire.Number = 1
	paramA     protowire.Number = 2
	paramB     protowire.Number = 3
	paramSize  protowire.Number = 4
	paramData  protowire.Number = 5
)

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}

	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return b
	}

	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendParams(b []byte, num protowire.Number, params *Params) []byte {
	for i, p := range params {
		if p.Value == (Value{}) && p.Memref.Size == 0 && len(p.Memref.Buffer) == 0 {
			continue
		}

		var m []byte

		m = appendVarint(m, paramIndex, uint64(i))
		m = appendVarint(m, paramA, uint64(p.Value.A))
		m = appendVarint(m, paramB, uint64(p.Value.B))
		m = appendVarint(m, paramSize, uint64(p.Memref.Size))
		m = appendBytes(m, paramData, p.Memref.Buffer)

		b = protowire.AppendTag(b, num, protowire.BytesType)
		b = protowire.AppendBytes(b, m)
	}

	return b
}

// Bytes serializes the request.
func (r *Request) Bytes() (buf []byte) {
	buf = appendVarint(buf, reqKind, uint64(r.Kind))

	if r.UUID != uuid.Nil {
		buf = appendBytes(buf, reqUUID, r.UUID[:])
	}

	buf = appendVarint(buf, reqLogin, uint64(r.Login))
	buf = appendVarint(buf, reqSession, uint64(r.Session))
	buf = appendVarint(buf, reqCommand, uint64(r.Command))
	buf = appendVarint(buf, reqTypes, uint64(r.Types))

	return appendParams(buf, reqParam, &r.Params)
}

// Bytes serializes the response.
func (r *Response) Bytes() (buf []byte) {
	buf = appendVarint(buf, rspResult, uint64(r.Result))
	buf = appendVarint(buf, rspOrigin, uint64(r.Origin))
	buf = appendVarint(buf, rspSession, uint64(r.Session))

	return appendParams(buf, rspParam, &r.Params)
}

// walk invokes fn for each field in buf.
func walk(buf []byte, fn func(num protowire.Number, typ protowire.Type, buf []byte) (int, error)) error {
	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return protowire.ParseError(n)
		}
		buf = buf[n:]

		n, err := fn(num, typ, buf)
		if err != nil {
			return err
		}

		if n == 0 {
			// unknown field
			n = protowire.ConsumeFieldValue(num, typ, buf)
		}

		if n < 0 {
			return protowire.ParseError(n)
		}

		buf = buf[n:]
	}

	return nil
}

func consumeUint32(typ protowire.Type, buf []byte, v *uint32) (int, error) {
	if typ != protowire.VarintType {
		return 0, errors.New("unexpected wire type")
	}

	x, n := protowire.ConsumeVarint(buf)
	if n < 0 {
		return n, nil
	}

	if x > 0xffffffff {
		return 0, fmt.Errorf("value %d overflows uint32", x)
	}

	*v = uint32(x)

	return n, nil
}

func consumeParam(typ protowire.Type, buf []byte, params *Params) (int, error) {
	if typ != protowire.BytesType {
		return 0, errors.New("unexpected wire type")
	}

	m, n := protowire.ConsumeBytes(buf)
	if n < 0 {
		return n, nil
	}

	var index uint32
	var p Param

	err := walk(m, func(num protowire.Number, typ protowire.Type, buf []byte) (int, error) {
		switch num {
		case paramIndex:
			return consumeUint32(typ, buf, &index)
		case paramA:
			return consumeUint32(typ, buf, &p.Value.A)
		case paramB:
			return consumeUint32(typ, buf, &p.Value.B)
		case paramSize:
			return consumeUint32(typ, buf, &p.Memref.Size)
		case paramData:
			data, n := protowire.ConsumeBytes(buf)
			if n < 0 {
				return n, nil
			}
			p.Memref.Buffer = append([]byte(nil), data...)
			return n, nil
		}

		return 0, nil
	})

	if err != nil {
		return 0, err
	}

	if index >= uint32(len(params)) {
		return 0, fmt.Errorf("invalid parameter index %d", index)
	}

	params[index] = p

	return n, nil
}

// Unmarshal parses a serialized request.
func (r *Request) Unmarshal(buf []byte) error {
	*r = Request{}

	return walk(buf, func(num protowire.Number, typ protowire.Type, buf []byte) (int, error) {
		switch num {
		case reqKind:
			return consumeUint32(typ, buf, (*uint32)(&r.Kind))
		case reqUUID:
			if typ != protowire.BytesType {
				return 0, errors.New("unexpected wire type")
			}

			b, n := protowire.ConsumeBytes(buf)
			if n < 0 {
				return n, nil
			}

			id, err := uuid.FromBytes(b)
			if err != nil {
				return 0, err
			}

			r.UUID = id

			return n, nil
		case reqLogin:
			return consumeUint32(typ, buf, (*uint32)(&r.Login))
		case reqSession:
			return consumeUint32(typ, buf, &r.Session)
		case reqCommand:
			return consumeUint32(typ, buf, &r.Command)
		case reqTypes:
			return consumeUint32(typ, buf, (*uint32)(&r.Types))
		case reqParam:
			return consumeParam(typ, buf, &r.Params)
		}

		return 0, nil
	})
}

// Unmarshal parses a serialized response.
func (r *Response) Unmarshal(buf []byte) error {
	*r = Response{}

	return walk(buf, func(num protowire.Number, typ protowire.Type, buf []byte) (int, error) {
		switch num {
		case rspResult:
			return consumeUint32(typ, buf, (*uint32)(&r.Result))
		case rspOrigin:
			return consumeUint32(typ, buf, (*uint32)(&r.Origin))
		case rspSession:
			return consumeUint32(typ, buf, &r.Session)
		case rspParam:
			return consumeParam(typ, buf, &r.Params)
		}

		return 0, nil
	})
}

// Err returns the response outcome as an error, nil on Success.
func (r *Response) Err(op string) error {
	return NewError(op, r.Result, r.Origin)
}
