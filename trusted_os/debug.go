// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

//go:build tamago && arm && debug

package main

import (
	"fmt"
	_ "unsafe"

	usbarmory "github.com/usbarmory/tamago/board/usbarmory/mk2"
	"github.com/usbarmory/tamago/soc/nxp/usb"

	"github.com/usbarmory/imx-usbserial"
)

// acm carries the console, boot log lines included, to the host over USB
// CDC ACM alongside the U2F HID control interface.
var acm usbserial.UART

//go:linkname printk runtime.printk
func printk(c byte) {
	usbarmory.UART2.Tx(c)
	acm.WriteByte(c)
}

func configureUART(device *usb.Device) error {
	acm.Device = device

	if err := acm.Init(); err != nil {
		return fmt.Errorf("could not configure CDC ACM console, %v", err)
	}

	return nil
}
