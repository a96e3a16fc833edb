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
	_ "embed"
	"fmt"
	"log"
	"os"
	"runtime"

	"k8s.io/klog/v2"

	usbarmory "github.com/usbarmory/tamago/board/usbarmory/mk2"
	"github.com/usbarmory/tamago/soc/nxp/imx6ul"
	"github.com/usbarmory/tamago/soc/nxp/usb"

	"github.com/usbarmory/armory-boot/config"

	"github.com/transparency-dev/tmesg/internal/bootlog"
	"github.com/transparency-dev/tmesg/internal/secmon"
)

var (
	Build     string
	Revision  string
	Version   string
	PublicKey string
)

var USB = usbarmory.USB1

var (
	//go:embed assets/trusted_applet.elf
	taELF []byte

	//go:embed assets/trusted_applet.sig
	taSig []byte
)

var (
	// bootLog accumulates all console output from power-on, it is only
	// reachable by the Trusted Applet through the boot log service.
	bootLog = bootlog.New(bootlog.DefaultCapacity)

	console = &bootlog.Console{
		Out: os.Stdout,
		Log: bootLog,
	}
)

func init() {
	log.SetFlags(log.Ltime)
	log.SetOutput(console)

	bootlog.SetKlogOutput(console)

	if len(PublicKey) == 0 {
		klog.Fatal("SM applet authentication key is missing")
	}

	if imx6ul.Native {
		imx6ul.SetARMFreq(imx6ul.Freq792)
		imx6ul.DCP.Init()
	}

	klog.Infof("%s/%s (%s) • TEE security monitor (Secure World system/monitor) • %s %s",
		runtime.GOOS, runtime.GOARCH, runtime.Version(),
		Revision, Build)
}

var (
	ta  = &applet{}
	rpc *secmon.RPC
)

func main() {
	usbarmory.LED("blue", false)
	usbarmory.LED("white", false)

	exchange := &secmon.Exchange{}

	rpc = &secmon.RPC{
		PTA:        &secmon.PTA{Service: &bootlog.Service{Log: bootLog}},
		Exchange:   exchange,
		StatusFunc: getStatus,
		LEDFunc:    usbarmory.LED,
		Stop:       ta.Stop,
	}

	ctl := &secmon.Control{
		Exchange:   exchange,
		StatusFunc: getStatus,
		Running:    ta.Running,
	}

	ta.OnStop = func() {
		ctl.Reset()
		rpc.PTA.Reset()
	}

	if len(taELF) != 0 && len(taSig) != 0 {
		klog.Infof("SM applet verification")

		if err := config.Verify(taELF, taSig, PublicKey); err != nil {
			klog.Errorf("SM applet verification error, %v", err)
		} else {
			klog.Infof("SM applet verified")
			usbarmory.LED("white", true)

			if err = ta.Start(taELF, rpc); err != nil {
				klog.Errorf("SM applet execution error, %v", err)
			}
		}
	}

	device := &usb.Device{}
	sn := fmt.Sprintf("%X", imx6ul.UniqueID())

	if err := configureDevice(device, sn); err != nil {
		klog.Fatal(err)
	}

	if err := configureHID(device, ctl); err != nil {
		klog.Fatal(err)
	}

	if err := configureUART(device); err != nil {
		klog.Fatal(err)
	}

	USB.Init()
	USB.DeviceMode()
	USB.Reset()

	// never returns
	USB.Start(device)
}
