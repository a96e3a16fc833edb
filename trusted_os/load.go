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
	"errors"
	"fmt"
	"sync"

	"k8s.io/klog/v2"

	"github.com/usbarmory/tamago/arm"
	"github.com/usbarmory/tamago/soc/nxp/imx6ul"

	"github.com/usbarmory/armory-boot/exec"

	"github.com/usbarmory/GoTEE/monitor"

	"github.com/transparency-dev/tmesg/internal/secmon"
)

var errStopped = errors.New("applet stopped by monitor")

// applet tracks the execution of the Trusted Applet.
type applet struct {
	sync.Mutex

	// OnStop is invoked once the applet is no longer running.
	OnStop func()

	ctx     *monitor.ExecCtx
	running bool
	stop    bool
}

// Running reports whether the applet is executing.
func (a *applet) Running() bool {
	a.Lock()
	defer a.Unlock()

	return a.running
}

// Stop requests the applet to be terminated on its next exception.
func (a *applet) Stop() {
	a.Lock()
	defer a.Unlock()

	a.stop = true
}

func (a *applet) stopped() bool {
	a.Lock()
	defer a.Unlock()

	return a.stop
}

// Start loads a TamaGo unikernel as Trusted Applet and executes it in the
// background, serving its system calls with the rpc receiver.
func (a *applet) Start(elf []byte, rpc *secmon.RPC) (err error) {
	image := &exec.ELFImage{
		Region: appletRegion,
		ELF:    elf,
	}

	imx6ul.ARM.ConfigureMMU(uint32(image.Region.Start()), uint32(image.Region.End()), 0, arm.MemoryRegion)

	if err = image.Load(); err != nil {
		return
	}

	ctx, err := monitor.Load(image.Entry(), image.Region, true)
	if err != nil {
		return fmt.Errorf("SM could not load applet: %v", err)
	}

	klog.Infof("SM applet loaded addr:%#x entry:%#x size:%d", ctx.Memory.Start(), ctx.R15, len(elf))

	// register RPC receiver
	ctx.Server.Register(rpc)

	// set stack pointer to end of available memory
	ctx.R13 = uint32(ctx.Memory.End())

	// override default handler
	ctx.Handler = func(ctx *monitor.ExecCtx) error {
		if a.stopped() {
			return errStopped
		}

		return handler(ctx)
	}

	a.Lock()
	a.ctx = ctx
	a.running = true
	a.stop = false
	a.Unlock()

	go a.run()

	return
}

func (a *applet) run() {
	ctx := a.ctx
	mode := arm.ModeName(int(ctx.SPSR) & 0x1f)
	ns := ctx.NonSecure()

	klog.Infof("SM applet started mode:%s sp:%#.8x pc:%#.8x ns:%v", mode, ctx.R13, ctx.R15, ns)

	err := ctx.Run()

	klog.Infof("SM applet stopped mode:%s sp:%#.8x lr:%#.8x pc:%#.8x ns:%v err:%v", mode, ctx.R13, ctx.R14, ctx.R15, ns, err)

	a.Lock()
	a.running = false
	a.Unlock()

	if a.OnStop != nil {
		a.OnStop()
	}
}
