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
	"fmt"
)

// Result is a TEE_Result/TEEC_Result return code.
type Result uint32

const (
	Success             Result = 0x00000000
	ErrorGeneric        Result = 0xffff0000
	ErrorAccessDenied   Result = 0xffff0001
	ErrorCancel         Result = 0xffff0002
	ErrorAccessConflict Result = 0xffff0003
	ErrorExcessData     Result = 0xffff0004
	ErrorBadFormat      Result = 0xffff0005
	ErrorBadParameters  Result = 0xffff0006
	ErrorBadState       Result = 0xffff0007
	ErrorItemNotFound   Result = 0xffff0008
	ErrorNotImplemented Result = 0xffff0009
	ErrorNotSupported   Result = 0xffff000a
	ErrorNoData         Result = 0xffff000b
	ErrorOutOfMemory    Result = 0xffff000c
	ErrorBusy           Result = 0xffff000d
	ErrorCommunication  Result = 0xffff000e
	ErrorSecurity       Result = 0xffff000f
	ErrorShortBuffer    Result = 0xffff0010
	ErrorTargetDead     Result = 0xffff3024
)

var resultNames = map[Result]string{
	Success:             "SUCCESS",
	ErrorGeneric:        "ERROR_GENERIC",
	ErrorAccessDenied:   "ERROR_ACCESS_DENIED",
	ErrorCancel:         "ERROR_CANCEL",
	ErrorAccessConflict: "ERROR_ACCESS_CONFLICT",
	ErrorExcessData:     "ERROR_EXCESS_DATA",
	ErrorBadFormat:      "ERROR_BAD_FORMAT",
	ErrorBadParameters:  "ERROR_BAD_PARAMETERS",
	ErrorBadState:       "ERROR_BAD_STATE",
	ErrorItemNotFound:   "ERROR_ITEM_NOT_FOUND",
	ErrorNotImplemented: "ERROR_NOT_IMPLEMENTED",
	ErrorNotSupported:   "ERROR_NOT_SUPPORTED",
	ErrorNoData:         "ERROR_NO_DATA",
	ErrorOutOfMemory:    "ERROR_OUT_OF_MEMORY",
	ErrorBusy:           "ERROR_BUSY",
	ErrorCommunication:  "ERROR_COMMUNICATION",
	ErrorSecurity:       "ERROR_SECURITY",
	ErrorShortBuffer:    "ERROR_SHORT_BUFFER",
	ErrorTargetDead:     "ERROR_TARGET_DEAD",
}

func (r Result) String() string {
	if s, ok := resultNames[r]; ok {
		return s
	}

	return fmt.Sprintf("%#x", uint32(r))
}

// Origin identifies the layer which produced a Result.
type Origin uint32

const (
	OriginAPI        Origin = 0x1
	OriginComms      Origin = 0x2
	OriginTEE        Origin = 0x3
	OriginTrustedApp Origin = 0x4
)

func (o Origin) String() string {
	switch o {
	case OriginAPI:
		return "API"
	case OriginComms:
		return "COMMS"
	case OriginTEE:
		return "TEE"
	case OriginTrustedApp:
		return "TRUSTED_APP"
	}

	return fmt.Sprintf("%#x", uint32(o))
}

// LoginMethod is the connection method used to open a session.
type LoginMethod uint32

const (
	LoginPublic      LoginMethod = 0x0
	LoginUser        LoginMethod = 0x1
	LoginGroup       LoginMethod = 0x2
	LoginApplication LoginMethod = 0x4
)

// Error reports a failed TEE operation.
type Error struct {
	// Op is the failed operation (e.g. "InvokeCommand").
	Op     string
	Result Result
	Origin Origin
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("tee: %v (%#x) origin %v", e.Result, uint32(e.Result), e.Origin)
	}

	return fmt.Sprintf("tee: %s failed with code %#x (%v) origin %v", e.Op, uint32(e.Result), e.Result, e.Origin)
}

// Is matches any *Error carrying the same Result, so that
// errors.Is(err, tee.ErrShortBuffer) works regardless of Op and Origin.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Result == e.Result
}

// Sentinel errors for use with errors.Is.
var (
	ErrBadParameters = &Error{Result: ErrorBadParameters}
	ErrBadState      = &Error{Result: ErrorBadState}
	ErrBusy          = &Error{Result: ErrorBusy}
	ErrCommunication = &Error{Result: ErrorCommunication}
	ErrItemNotFound  = &Error{Result: ErrorItemNotFound}
	ErrShortBuffer   = &Error{Result: ErrorShortBuffer}
	ErrTargetDead    = &Error{Result: ErrorTargetDead}
)

// NewError returns nil on Success, an *Error otherwise.
func NewError(op string, res Result, origin Origin) error {
	if res == Success {
		return nil
	}

	return &Error{
		Op:     op,
		Result: res,
		Origin: origin,
	}
}
