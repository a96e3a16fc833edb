// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

//go:build tamago && arm

package main

import (
	_ "unsafe"

	"github.com/usbarmory/tamago/dma"
)

// The Trusted OS runtime, its USB DMA pool and the Trusted Applet region are
// laid out back to back from the start of DDR.
const (
	secureStart = 0x80000000
	secureSize  = 224 << 20

	dmaStart = secureStart + secureSize
	dmaSize  = 32 << 20

	// must match trusted_applet/mem.go
	appletStart = dmaStart + dmaSize
	appletSize  = 256 << 20
)

//go:linkname ramStart runtime.ramStart
var ramStart uint32 = secureStart

//go:linkname ramSize runtime.ramSize
var ramSize uint32 = secureSize

var appletRegion *dma.Region

func init() {
	dma.Init(dmaStart, dmaSize)

	appletRegion, _ = dma.NewRegion(appletStart, appletSize, false)
	appletRegion.Reserve(appletSize, 0)
}
