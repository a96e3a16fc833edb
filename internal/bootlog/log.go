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

// Package bootlog implements the Trusted OS boot log: a fixed size buffer in
// secure memory which accumulates console output from power-on, and the
// service through which the Trusted Applet reads or clears it.
package bootlog

import (
	"errors"
	"sync"
)

// DefaultCapacity is the default size of the boot log buffer.
const DefaultCapacity = 1024 * 1024

// ErrShortBuffer is returned by Copy when the destination cannot hold the
// whole log.
var ErrShortBuffer = errors.New("short buffer")

// Log is a bounded, append-only byte log. Once full, further writes are
// dropped and accounted for, so that the earliest boot messages are never
// lost.
type Log struct {
	sync.Mutex

	buf     []byte
	dropped uint64
}

// New returns a Log which can hold up to capacity bytes.
func New(capacity int) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	return &Log{
		buf: make([]byte, 0, capacity),
	}
}

// Write appends p to the log. It never fails, so that it can sit under a
// logger without ever breaking it.
func (l *Log) Write(p []byte) (int, error) {
	l.Lock()
	defer l.Unlock()

	n := len(p)

	if free := cap(l.buf) - len(l.buf); n > free {
		l.dropped += uint64(n - free)
		p = p[:free]
	}

	l.buf = append(l.buf, p...)

	return n, nil
}

// WriteByte appends a single byte to the log.
func (l *Log) WriteByte(c byte) error {
	_, err := l.Write([]byte{c})
	return err
}

// Len returns the number of bytes held by the log.
func (l *Log) Len() int {
	l.Lock()
	defer l.Unlock()

	return len(l.buf)
}

// Cap returns the log capacity.
func (l *Log) Cap() int {
	return cap(l.buf)
}

// Dropped returns the number of bytes discarded since the last Clear.
func (l *Log) Dropped() uint64 {
	l.Lock()
	defer l.Unlock()

	return l.dropped
}

// Bytes returns a copy of the log contents.
func (l *Log) Bytes() []byte {
	l.Lock()
	defer l.Unlock()

	return append([]byte(nil), l.buf...)
}

// Copy copies the whole log into dst and returns the number of bytes copied,
// or ErrShortBuffer along with the required size when dst is too small.
func (l *Log) Copy(dst []byte) (int, error) {
	l.Lock()
	defer l.Unlock()

	if len(dst) < len(l.buf) {
		return len(l.buf), ErrShortBuffer
	}

	return copy(dst, l.buf), nil
}

// Clear wipes the log contents and resets the dropped bytes counter.
func (l *Log) Clear() {
	l.Lock()
	defer l.Unlock()

	clear(l.buf[:cap(l.buf)])
	l.buf = l.buf[:0]
	l.dropped = 0
}
