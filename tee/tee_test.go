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
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
)

func TestTypes(t *testing.T) {
	for _, test := range []struct {
		name  string
		types ParamTypes
		want  uint32
		str   string
	}{
		{
			name:  "none",
			types: Types(ParamNone, ParamNone, ParamNone, ParamNone),
			want:  0,
			str:   "(NONE, NONE, NONE, NONE)",
		}, {
			name:  "value output",
			types: Types(ParamValueOutput, ParamNone, ParamNone, ParamNone),
			want:  0x2,
			str:   "(VALUE_OUTPUT, NONE, NONE, NONE)",
		}, {
			name:  "mixed",
			types: Types(ParamMemrefInput, ParamValueInout, ParamMemrefOutput, ParamNone),
			want:  0x0635,
			str:   "(MEMREF_INPUT, VALUE_INOUT, MEMREF_OUTPUT, NONE)",
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			if got := uint32(test.types); got != test.want {
				t.Errorf("got %#x, want %#x", got, test.want)
			}
			if got := test.types.String(); got != test.str {
				t.Errorf("got %q, want %q", got, test.str)
			}
		})
	}
}

func TestTypesGet(t *testing.T) {
	types := Types(ParamValueInput, ParamMemrefInout, ParamNone, ParamMemrefOutput)
	want := []ParamType{ParamValueInput, ParamMemrefInout, ParamNone, ParamMemrefOutput}

	for i, w := range want {
		if got := types.Get(i); got != w {
			t.Errorf("Get(%d) = %v, want %v", i, got, w)
		}
	}
}

func TestOutboundInbound(t *testing.T) {
	types := Types(ParamMemrefOutput, ParamValueInput, ParamMemrefInput, ParamValueOutput)

	p := Params{
		{Memref: Memref{Buffer: []byte("stale output"), Size: 64}},
		{Value: Value{A: 1, B: 2}},
		{Memref: Memref{Buffer: []byte("input data and more"), Size: 10}},
		{Value: Value{A: 3, B: 4}},
	}

	wantOut := Params{
		{Memref: Memref{Size: 64}},
		{Value: Value{A: 1, B: 2}},
		{Memref: Memref{Buffer: []byte("input data"), Size: 10}},
		{},
	}

	if diff := cmp.Diff(wantOut, p.Outbound(types)); diff != "" {
		t.Errorf("Outbound diff (-want +got):\n%s", diff)
	}

	p[0].Memref = Memref{Buffer: []byte("boot log\x00\x00"), Size: 8}

	wantIn := Params{
		{Memref: Memref{Buffer: []byte("boot log"), Size: 8}},
		{},
		{},
		{Value: Value{A: 3, B: 4}},
	}

	if diff := cmp.Diff(wantIn, p.Inbound(types)); diff != "" {
		t.Errorf("Inbound diff (-want +got):\n%s", diff)
	}
}

func TestPrepare(t *testing.T) {
	for _, test := range []struct {
		name    string
		types   ParamTypes
		params  Params
		want    Result
		wantLen int
	}{
		{
			name:    "output allocated",
			types:   Types(ParamMemrefOutput, ParamNone, ParamNone, ParamNone),
			params:  Params{{Memref: Memref{Size: 16}}},
			want:    Success,
			wantLen: 16,
		}, {
			name:    "input preserved",
			types:   Types(ParamMemrefInput, ParamNone, ParamNone, ParamNone),
			params:  Params{{Memref: Memref{Buffer: []byte("abcd"), Size: 4}}},
			want:    Success,
			wantLen: 4,
		}, {
			name:   "too large",
			types:  Types(ParamMemrefOutput, ParamNone, ParamNone, ParamNone),
			params: Params{{Memref: Memref{Size: MaxMemrefSize + 1}}},
			want:   ErrorOutOfMemory,
		}, {
			name:   "data exceeds size",
			types:  Types(ParamMemrefInput, ParamNone, ParamNone, ParamNone),
			params: Params{{Memref: Memref{Buffer: []byte("abcd"), Size: 2}}},
			want:   ErrorBadParameters,
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			p := test.params
			if got := p.Prepare(test.types); got != test.want {
				t.Fatalf("Prepare() = %v, want %v", got, test.want)
			}
			if test.want != Success {
				return
			}
			if got := len(p[0].Memref.Buffer); got != test.wantLen {
				t.Errorf("buffer length %d, want %d", got, test.wantLen)
			}
			if in := test.params[0].Memref.Buffer; len(in) > 0 && string(p[0].Memref.Buffer[:len(in)]) != string(in) {
				t.Errorf("input data not preserved")
			}
		})
	}
}

func TestErrorIs(t *testing.T) {
	err := NewError("InvokeCommand", ErrorShortBuffer, OriginTrustedApp)

	if !errors.Is(err, ErrShortBuffer) {
		t.Errorf("errors.Is(%v, ErrShortBuffer) = false", err)
	}

	if errors.Is(err, ErrBadParameters) {
		t.Errorf("errors.Is(%v, ErrBadParameters) = true", err)
	}

	wrapped := fmt.Errorf("get message: %w", err)

	var teeErr *Error
	if !errors.As(wrapped, &teeErr) || teeErr.Origin != OriginTrustedApp {
		t.Errorf("errors.As(%v) = %+v", wrapped, teeErr)
	}

	if NewError("x", Success, OriginTEE) != nil {
		t.Errorf("NewError(Success) != nil")
	}
}

func TestRequestWire(t *testing.T) {
	want := &Request{
		Kind:    KindInvokeCommand,
		UUID:    uuid.MustParse("5fb9bc0a-3f2e-4a73-9a4b-8f2b9a1c6d01"),
		Login:   LoginUser,
		Session: 7,
		Command: 1,
		Types:   Types(ParamValueOutput, ParamMemrefInput, ParamNone, ParamMemrefOutput),
		Params: Params{
			{},
			{Memref: Memref{Buffer: []byte("hello"), Size: 5}},
			{},
			{Memref: Memref{Size: 4096}},
		},
	}

	got := &Request{}
	if err := got.Unmarshal(want.Bytes()); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("diff (-want +got):\n%s", diff)
	}
}

func TestResponseWire(t *testing.T) {
	want := &Response{
		Result:  ErrorShortBuffer,
		Origin:  OriginTrustedApp,
		Session: 3,
		Params: Params{
			{Value: Value{A: 0xffffffff}},
			{Memref: Memref{Buffer: []byte("log"), Size: 3}},
		},
	}

	got := &Response{}
	if err := got.Unmarshal(want.Bytes()); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("diff (-want +got):\n%s", diff)
	}

	if err := got.Err("InvokeCommand"); !errors.Is(err, ErrShortBuffer) {
		t.Errorf("Err() = %v", err)
	}
}

func TestUnmarshalInvalid(t *testing.T) {
	for _, test := range []struct {
		name string
		buf  []byte
	}{
		{
			name: "truncated tag",
			buf:  []byte{0x80},
		}, {
			name: "param index out of range",
			buf:  []byte{0x3a, 0x02, 0x08, 0x04},
		}, {
			name: "bad uuid length",
			buf:  []byte{0x12, 0x02, 0x01, 0x02},
		}, {
			name: "varint uuid",
			buf:  []byte{0x10, 0x10},
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			if err := (&Request{}).Unmarshal(test.buf); err == nil {
				t.Errorf("Unmarshal(%x) succeeded", test.buf)
			}
		})
	}
}
