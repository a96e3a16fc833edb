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

// Package rpc defines the arguments of the Trusted Applet to Trusted OS RPC
// calls.
package rpc

import (
	"github.com/google/uuid"

	"github.com/transparency-dev/tmesg/tee"
)

// LEDStatus represents an RPC LED state request.
type LEDStatus struct {
	Name string
	On   bool
}

// Request carries a serialized tee.Request from the control interface to
// the Trusted Applet.
type Request struct {
	// Valid is false when no request is pending.
	Valid   bool
	ID      uint64
	Payload []byte
}

// Response carries a serialized tee.Response from the Trusted Applet back to
// the control interface.
type Response struct {
	ID      uint64
	Payload []byte
}

// PTAOpen represents a request to open a session to a Trusted OS service.
type PTAOpen struct {
	UUID   uuid.UUID
	Types  tee.ParamTypes
	Params tee.Params
}

// PTAInvoke represents a command invocation on a Trusted OS service session.
type PTAInvoke struct {
	Session uint32
	Command uint32
	Types   tee.ParamTypes
	Params  tee.Params
}

// PTAResult is the outcome of PTAOpen and PTAInvoke requests.
type PTAResult struct {
	Result  tee.Result
	Origin  tee.Origin
	Session uint32
	Params  tee.Params
}
