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

	"github.com/usbarmory/tamago/arm"

	"github.com/usbarmory/GoTEE/monitor"
	"github.com/usbarmory/GoTEE/syscall"
)

// The exception handler is responsible for the following tasks:
//   - override GoTEE default handling for SYS_WRITE so that applet output
//     reaches the boot log through the console
//   - yield to Trusted OS goroutines (e.g. USB) after every system call, as
//     the applet only returns to System mode on exceptions
func handler(ctx *monitor.ExecCtx) (err error) {
	switch ctx.ExceptionVector {
	case arm.SUPERVISOR:
		switch ctx.A0() {
		case syscall.SYS_WRITE:
			return console.WriteByte(byte(ctx.A1()))
		default:
			err = monitor.SecureHandler(ctx)
		}

		runtime.Gosched()
	default:
		err = fmt.Errorf("unhandled exception %x", ctx.ExceptionVector)
	}

	return
}
