// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

//go:build tamago && arm && !debug

package main

import (
	_ "unsafe"

	"github.com/usbarmory/tamago/soc/nxp/imx6ul"
	"github.com/usbarmory/tamago/soc/nxp/usb"
)

// In release builds the serial console is silenced: the runtime printk
// function, which carries all stdout/stderr output, is overridden with a NOP
// and UART2 is disabled at the first opportunity (init()).
//
// Console output is still retained in the boot log, which is only readable
// through the Trusted Applet.

func init() {
	imx6ul.UART2.Disable()
}

//go:linkname printk runtime.printk
func printk(c byte) {
	// ensure that any serial output is supressed before UART2 disabling
}

func configureUART(_ *usb.Device) error {
	return nil
}
