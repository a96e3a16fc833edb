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

package bootlog

import (
	"bytes"
	"io"
	"sync"
)

const (
	outputLimit = 1024
	flushChr    = 0x0a // \n
)

// Console buffers single byte writes, as received through SYS_WRITE, and
// flushes complete lines to Out and to the boot log. Buffering avoids
// interleaving applet output with Trusted OS output.
type Console struct {
	sync.Mutex

	// Out is the console output, it can be nil.
	Out io.Writer
	// Log is the boot log, it can be nil.
	Log *Log

	buf bytes.Buffer
}

// WriteByte buffers c, flushing on newline or when the buffer exceeds its
// limit.
func (c *Console) WriteByte(b byte) (err error) {
	c.Lock()
	defer c.Unlock()

	c.buf.WriteByte(b)

	if b == flushChr || c.buf.Len() > outputLimit {
		err = c.flush()
	}

	return
}

// Write implements io.Writer for loggers, which emit complete lines. p is
// written out whole and any partial line buffered by WriteByte is left
// pending.
func (c *Console) Write(p []byte) (int, error) {
	c.Lock()
	defer c.Unlock()

	return len(p), c.output(p)
}

// Flush writes out any buffered output.
func (c *Console) Flush() error {
	c.Lock()
	defer c.Unlock()

	return c.flush()
}

func (c *Console) flush() error {
	defer c.buf.Reset()
	return c.output(c.buf.Bytes())
}

func (c *Console) output(p []byte) (err error) {
	if c.Log != nil {
		c.Log.Write(p)
	}

	if c.Out != nil {
		_, err = c.Out.Write(p)
	}

	return
}
