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

// The Trusted Applet relays boot log requests from the Normal World client
// to the Trusted OS boot log service.
package main

import (
	"context"
	"flag"
	"runtime"
	"time"

	"k8s.io/klog/v2"

	"github.com/usbarmory/GoTEE/applet"
	"github.com/usbarmory/GoTEE/syscall"

	"github.com/transparency-dev/tmesg/api"
	"github.com/transparency-dev/tmesg/api/rpc"
	"github.com/transparency-dev/tmesg/internal/ta"
)

const pollInterval = time.Millisecond

var (
	Build    string
	Revision string
	Version  string
)

func init() {
	runtime.Exit = func(_ int32) { applet.Exit() }
}

func main() {
	klog.InitFlags(nil)
	flag.Set("logtostderr", "true")
	flag.Parse()

	defer applet.Exit()

	klog.Infof("%s/%s (%s) • TEE user applet • %s %s %s",
		runtime.GOOS, runtime.GOARCH, runtime.Version(),
		Version, Revision, Build)

	// Verify if we are allowed to run on this unit by sending the RPC
	// protocol version we speak.
	if err := syscall.Call("RPC.Version", api.ProtocolVersion, nil); err != nil {
		klog.Exitf("TA version check error for version %q: %v", api.ProtocolVersion, err)
	}

	syscall.Call("RPC.LED", rpc.LEDStatus{Name: "blue", On: true}, nil)
	defer syscall.Call("RPC.LED", rpc.LEDStatus{Name: "blue", On: false}, nil)

	caller := ta.CallerFunc(syscall.Call)

	server := &ta.Server{
		Opener: &ta.RPCOpener{Caller: caller},
	}

	klog.Infof("TA serving boot log requests")

	// each poll is a system call, yielding to the Trusted OS
	if err := ta.Serve(context.Background(), caller, server, pollInterval); err != nil {
		klog.Errorf("TA serve error, %v", err)
	}
}
