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

// Package tee defines the parameter, result and session vocabulary shared by
// the normal world client, the Trusted Applet and the Trusted OS.
//
// Encodings follow the GlobalPlatform TEE Internal Core API so that values
// read the same on every side of the world boundary.
package tee

import (
	"fmt"
	"strings"
)

// MaxMemrefSize is the largest memory reference accepted by a callee.
const MaxMemrefSize = 4 << 20

// ParamType is the type of a single operation parameter.
type ParamType uint32

// Parameter types (TEE Internal Core API, Table 4-9).
const (
	ParamNone         ParamType = 0x0
	ParamValueInput   ParamType = 0x1
	ParamValueOutput  ParamType = 0x2
	ParamValueInout   ParamType = 0x3
	ParamMemrefInput  ParamType = 0x5
	ParamMemrefOutput ParamType = 0x6
	ParamMemrefInout  ParamType = 0x7
)

var paramTypeNames = map[ParamType]string{
	ParamNone:         "NONE",
	ParamValueInput:   "VALUE_INPUT",
	ParamValueOutput:  "VALUE_OUTPUT",
	ParamValueInout:   "VALUE_INOUT",
	ParamMemrefInput:  "MEMREF_INPUT",
	ParamMemrefOutput: "MEMREF_OUTPUT",
	ParamMemrefInout:  "MEMREF_INOUT",
}

func (t ParamType) String() string {
	if s, ok := paramTypeNames[t]; ok {
		return s
	}

	return fmt.Sprintf("%#x", uint32(t))
}

// IsValue reports whether t carries a value parameter.
func (t ParamType) IsValue() bool {
	return t >= ParamValueInput && t <= ParamValueInout
}

// IsMemref reports whether t carries a memory reference.
func (t ParamType) IsMemref() bool {
	return t >= ParamMemrefInput && t <= ParamMemrefInout
}

// IsInput reports whether the parameter travels from caller to callee.
func (t ParamType) IsInput() bool {
	switch t {
	case ParamValueInput, ParamValueInout, ParamMemrefInput, ParamMemrefInout:
		return true
	}

	return false
}

// IsOutput reports whether the parameter travels from callee to caller.
func (t ParamType) IsOutput() bool {
	switch t {
	case ParamValueOutput, ParamValueInout, ParamMemrefOutput, ParamMemrefInout:
		return true
	}

	return false
}

// ParamTypes packs the types of the four operation parameters, one per
// nibble, as TEE_PARAM_TYPES does.
type ParamTypes uint32

// Types is the Go version of the TEE_PARAM_TYPES macro.
func Types(p0, p1, p2, p3 ParamType) ParamTypes {
	return ParamTypes(p0&0xf | (p1&0xf)<<4 | (p2&0xf)<<8 | (p3&0xf)<<12)
}

// Get returns the type of parameter i.
func (t ParamTypes) Get(i int) ParamType {
	return ParamType((uint32(t) >> (4 * uint(i))) & 0xf)
}

func (t ParamTypes) String() string {
	s := make([]string, len(Params{}))

	for i := range s {
		s[i] = t.Get(i).String()
	}

	return "(" + strings.Join(s, ", ") + ")"
}

// Value is a pair of 32-bit integers passed by value.
type Value struct {
	A uint32
	B uint32
}

// Memref is a memory reference. Size is the size of the referenced data, on
// output it is updated by the callee to the size it produced or, when
// answering with ErrorShortBuffer, to the size it requires.
type Memref struct {
	Buffer []byte
	Size   uint32
}

// Param holds a single parameter, only the field matching its type is
// meaningful.
type Param struct {
	Value  Value
	Memref Memref
}

// Params holds the four parameters of an operation.
type Params [4]Param

// Outbound returns the subset of p which must travel from the caller to the
// callee: input values, input memory contents and the sizes of output
// memory references.
func (p Params) Outbound(types ParamTypes) (out Params) {
	for i := range p {
		t := types.Get(i)

		switch {
		case t.IsValue() && t.IsInput():
			out[i].Value = p[i].Value
		case t.IsMemref():
			out[i].Memref.Size = p[i].Memref.Size

			if t.IsInput() {
				out[i].Memref.Buffer = clip(p[i].Memref.Buffer, p[i].Memref.Size)
			}
		}
	}

	return
}

// Inbound returns the subset of p which must travel back from the callee to
// the caller: output values, output memory contents and updated sizes.
func (p Params) Inbound(types ParamTypes) (out Params) {
	for i := range p {
		t := types.Get(i)

		if !t.IsOutput() {
			continue
		}

		switch {
		case t.IsValue():
			out[i].Value = p[i].Value
		case t.IsMemref():
			out[i].Memref.Size = p[i].Memref.Size
			out[i].Memref.Buffer = clip(p[i].Memref.Buffer, p[i].Memref.Size)
		}
	}

	return
}

// Prepare allocates callee side buffers so that every memory reference in p
// is backed by exactly Size bytes, preserving any received input data.
func (p *Params) Prepare(types ParamTypes) Result {
	for i := range p {
		if !types.Get(i).IsMemref() {
			continue
		}

		m := &p[i].Memref

		if m.Size > MaxMemrefSize {
			return ErrorOutOfMemory
		}

		if uint32(len(m.Buffer)) > m.Size {
			return ErrorBadParameters
		}

		buf := make([]byte, m.Size)
		copy(buf, m.Buffer)
		m.Buffer = buf
	}

	return Success
}

func clip(buf []byte, size uint32) []byte {
	if uint32(len(buf)) > size {
		return buf[:size]
	}

	return buf
}
