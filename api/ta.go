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
	"fmt"
	"strings"

	"github.com/coreos/go-semver/semver"
	"github.com/google/uuid"
)

var (
	// TMesgUUID identifies the boot log relay Trusted Applet.
	TMesgUUID = uuid.MustParse("5fb9bc0a-3f2e-4a73-9a4b-8f2b9a1c6d01")

	// BootLogPTAUUID identifies the Trusted OS boot log service.
	BootLogPTAUUID = uuid.MustParse("60276949-7ff3-4920-9bce-840c9dcf3098")
)

// Trusted Applet commands
const (
	TA_BOOT_LOG_GET_MSG  = 0
	TA_BOOT_LOG_GET_SIZE = 1
	TA_BOOT_LOG_CLEAR    = 2
)

// Boot log service commands
const (
	PTA_BOOT_LOG_GET_MSG  = 0
	PTA_BOOT_LOG_GET_SIZE = 1
	PTA_BOOT_LOG_CLEAR    = 2
)

// ProtocolVersion is the version of the applet <-> OS RPC interface.
const ProtocolVersion = "1.0.0"

// CheckVersion verifies that an applet speaking version v can be served by
// this build, only the major version must match.
func CheckVersion(v string) error {
	got, err := semver.NewVersion(strings.TrimPrefix(v, "v"))
	if err != nil {
		return fmt.Errorf("invalid version %q: %v", v, err)
	}

	want := semver.New(ProtocolVersion)

	if got.Major != want.Major {
		return fmt.Errorf("incompatible protocol version %s (want %d.x.x)", got, want.Major)
	}

	return nil
}
