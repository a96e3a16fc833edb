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

// Package api holds the identifiers and messages shared between the host
// client, the Trusted OS and the Trusted Applet.
package api

import (
	"github.com/gsora/fidati/u2fhid"
)

const (
	// http://pid.codes/1209/2702/
	VendorID  = 0x1209
	ProductID = 0x2702

	HIDUsagePage = 0xff00

	// Maximum Message size according to U2F HID standard (see formula in
	// [FIDO U2F // HID Protocol Specification, 2.4]).
	MaxMessageSize = 7609

	// MaxChunkSize is the largest payload carried by a single Frame, we use
	// 64 as a safe guess for protobuf wire overhead.
	MaxChunkSize = MaxMessageSize - 64
)

// U2FHID vendor specific commands
const (
	// Status
	U2FHID_ARMORY_INF = iota + u2fhid.VendorCommandFirst
	// Submit a TEE session request to the Trusted Applet
	U2FHID_TMESG_CALL
	// Retrieve the Trusted Applet response
	U2FHID_TMESG_POLL
)

// ErrorResponse converts an error in an API Frame.
func ErrorResponse(err error) []byte {
	return (&Frame{
		Status: FrameError,
		Error:  err.Error(),
	}).Bytes()
}

// PendingResponse for when the request has been accepted and the result is
// not yet available.
func PendingResponse() []byte {
	return (&Frame{Status: FramePending}).Bytes()
}
