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

package client

import (
	"github.com/transparency-dev/tmesg/tee"
)

// ParamType is the client side type of a single operation parameter.
type ParamType uint32

// Parameter types (TEE Client API, Table 4-4).
const (
	ParamNone                ParamType = 0x0
	ParamValueInput          ParamType = 0x1
	ParamValueOutput         ParamType = 0x2
	ParamValueInout          ParamType = 0x3
	ParamMemrefTempInput     ParamType = 0x5
	ParamMemrefTempOutput    ParamType = 0x6
	ParamMemrefTempInout     ParamType = 0x7
	ParamMemrefWhole         ParamType = 0xc
	ParamMemrefPartialInput  ParamType = 0xd
	ParamMemrefPartialOutput ParamType = 0xe
	ParamMemrefPartialInout  ParamType = 0xf
)

// ParamTypes packs the client types of the four operation parameters, as
// TEEC_PARAM_TYPES does.
type ParamTypes uint32

// Types is the Go version of the TEEC_PARAM_TYPES macro.
func Types(p0, p1, p2, p3 ParamType) ParamTypes {
	return ParamTypes(p0&0xf | (p1&0xf)<<4 | (p2&0xf)<<8 | (p3&0xf)<<12)
}

// Get returns the type of parameter i.
func (t ParamTypes) Get(i int) ParamType {
	return ParamType((uint32(t) >> (4 * uint(i))) & 0xf)
}

// MemFlags describe the direction of a shared memory block.
type MemFlags uint32

const (
	MemInput  MemFlags = 1 << 0
	MemOutput MemFlags = 1 << 1
)

// SharedMemory is a block of memory registered with a Context.
type SharedMemory struct {
	Buffer []byte
	Size   uint32
	Flags  MemFlags

	ctx *Context
}

// TempMemoryReference is a temporary memory reference.
type TempMemoryReference struct {
	Buffer []byte
	Size   uint32
}

// RegisteredMemoryReference references a region of a SharedMemory block.
type RegisteredMemoryReference struct {
	Parent *SharedMemory
	Size   uint32
	Offset uint32
}

// Parameter holds a single operation parameter, only the field matching its
// type is meaningful.
type Parameter struct {
	Value  tee.Value
	Tmpref TempMemoryReference
	Memref RegisteredMemoryReference
}

// Operation carries the payload of an open session or invoke command
// request.
type Operation struct {
	Types  ParamTypes
	Params [4]Parameter
}

func badParameters(op string) error {
	return tee.NewError(op, tee.ErrorBadParameters, tee.OriginAPI)
}

// wholeType returns the Internal API type matching the direction of a
// whole shared memory reference.
func wholeType(flags MemFlags) tee.ParamType {
	switch {
	case flags&MemInput != 0 && flags&MemOutput != 0:
		return tee.ParamMemrefInout
	case flags&MemOutput != 0:
		return tee.ParamMemrefOutput
	default:
		return tee.ParamMemrefInput
	}
}

// marshal converts op to the types and parameters sent to the Trusted
// Applet.
func (op *Operation) marshal(name string, c *Context) (types tee.ParamTypes, params tee.Params, err error) {
	if op == nil {
		return
	}

	var t [4]tee.ParamType

	for i := range op.Params {
		p := &op.Params[i]
		ct := op.Types.Get(i)

		switch ct {
		case ParamNone:
		case ParamValueInput, ParamValueOutput, ParamValueInout:
			t[i] = tee.ParamType(ct)
			params[i].Value = p.Value
		case ParamMemrefTempInput, ParamMemrefTempOutput, ParamMemrefTempInout:
			if uint32(len(p.Tmpref.Buffer)) < p.Tmpref.Size {
				return 0, params, badParameters(name)
			}

			t[i] = tee.ParamType(ct)
			params[i].Memref = tee.Memref{Buffer: p.Tmpref.Buffer, Size: p.Tmpref.Size}
		case ParamMemrefWhole:
			shm := p.Memref.Parent

			if shm == nil || shm.ctx != c {
				return 0, params, badParameters(name)
			}

			t[i] = wholeType(shm.Flags)
			params[i].Memref = tee.Memref{Buffer: shm.Buffer, Size: shm.Size}
		case ParamMemrefPartialInput, ParamMemrefPartialOutput, ParamMemrefPartialInout:
			shm := p.Memref.Parent

			if shm == nil || shm.ctx != c {
				return 0, params, badParameters(name)
			}

			t[i] = tee.ParamType(ct - 8)

			if t[i].IsInput() && shm.Flags&MemInput == 0 || t[i].IsOutput() && shm.Flags&MemOutput == 0 {
				return 0, params, badParameters(name)
			}

			end := uint64(p.Memref.Offset) + uint64(p.Memref.Size)

			if end > uint64(shm.Size) || end > uint64(len(shm.Buffer)) {
				return 0, params, badParameters(name)
			}

			params[i].Memref = tee.Memref{
				Buffer: shm.Buffer[p.Memref.Offset:end],
				Size:   p.Memref.Size,
			}
		default:
			return 0, params, badParameters(name)
		}
	}

	types = tee.Types(t[0], t[1], t[2], t[3])

	return types, params.Outbound(types), nil
}

// unmarshal updates op with the output parameters returned by the Trusted
// Applet.
func (op *Operation) unmarshal(types tee.ParamTypes, params tee.Params) {
	if op == nil {
		return
	}

	for i := range op.Params {
		t := types.Get(i)

		if !t.IsOutput() {
			continue
		}

		p := &op.Params[i]
		out := params[i]

		switch ct := op.Types.Get(i); ct {
		case ParamValueOutput, ParamValueInout:
			p.Value = out.Value
		case ParamMemrefTempOutput, ParamMemrefTempInout:
			copy(p.Tmpref.Buffer, out.Memref.Buffer)
			p.Tmpref.Size = out.Memref.Size
		case ParamMemrefWhole:
			copy(p.Memref.Parent.Buffer, out.Memref.Buffer)
			p.Memref.Size = out.Memref.Size
		case ParamMemrefPartialOutput, ParamMemrefPartialInout:
			copy(p.Memref.Parent.Buffer[p.Memref.Offset:], out.Memref.Buffer)
			p.Memref.Size = out.Memref.Size
		}
	}
}
