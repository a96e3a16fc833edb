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

//go:build tamago && arm

package main

import (
	"fmt"
	"runtime"

	"github.com/usbarmory/tamago/soc/nxp/imx6ul"

	"github.com/transparency-dev/tmesg/api"
)

func getStatus() *api.Status {
	s := &api.Status{
		Serial:   fmt.Sprintf("%X", imx6ul.UniqueID()),
		HAB:      imx6ul.SNVS.Available(),
		Revision: Revision,
		Build:    Build,
		Version:  Version,
		Runtime:  fmt.Sprintf("%s %s/%s", runtime.Version(), runtime.GOOS, runtime.GOARCH),

		AppletRunning:   ta.Running(),
		BootLogSize:     uint32(bootLog.Len()),
		BootLogCapacity: uint32(bootLog.Cap()),
		BootLogDropped:  bootLog.Dropped(),
	}

	if rpc != nil {
		s.AppletVersion = rpc.AppletVersion()
	}

	return s
}
