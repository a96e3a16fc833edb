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

package secmon

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/transparency-dev/tmesg/api/rpc"
)

// DefaultTimeout is the time the Trusted Applet is given to answer a request.
const DefaultTimeout = 10 * time.Second

var (
	// ErrBusy is returned when a request is submitted while another one is
	// outstanding.
	ErrBusy = errors.New("request in progress")
	// ErrIdle is returned when polling without an outstanding request.
	ErrIdle = errors.New("no request in progress")
	// ErrTimeout is returned when the Trusted Applet did not answer in time.
	ErrTimeout = errors.New("trusted applet did not answer")
)

type slotState int

const (
	slotIdle slotState = iota
	slotQueued
	slotTaken
	slotDone
)

// Exchange hands a single request at a time from the control interface to
// the Trusted Applet, and its response back.
type Exchange struct {
	sync.Mutex

	// Timeout is the time allowed between Submit and Complete, DefaultTimeout
	// is used when zero.
	Timeout time.Duration

	now func() time.Time

	state     slotState
	id        uint64
	req       []byte
	rsp       []byte
	submitted time.Time
}

func (e *Exchange) clock() time.Time {
	if e.now != nil {
		return e.now()
	}

	return time.Now()
}

func (e *Exchange) expired() bool {
	timeout := e.Timeout

	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return e.clock().Sub(e.submitted) > timeout
}

func (e *Exchange) reset() {
	e.state = slotIdle
	e.req = nil
	e.rsp = nil
}

// Submit queues a request for the Trusted Applet.
func (e *Exchange) Submit(req []byte) (uint64, error) {
	e.Lock()
	defer e.Unlock()

	switch e.state {
	case slotQueued, slotTaken:
		if !e.expired() {
			return 0, ErrBusy
		}
	}

	e.id++
	e.state = slotQueued
	e.req = req
	e.rsp = nil
	e.submitted = e.clock()

	return e.id, nil
}

// Take returns the queued request, if any, for the Trusted Applet to serve.
func (e *Exchange) Take() (req rpc.Request) {
	e.Lock()
	defer e.Unlock()

	if e.state != slotQueued {
		return
	}

	e.state = slotTaken

	return rpc.Request{
		Valid:   true,
		ID:      e.id,
		Payload: e.req,
	}
}

// Complete posts the Trusted Applet response to request id.
func (e *Exchange) Complete(id uint64, rsp []byte) error {
	e.Lock()
	defer e.Unlock()

	if e.state != slotTaken || id != e.id {
		return fmt.Errorf("unexpected response to request %d", id)
	}

	e.state = slotDone
	e.req = nil
	e.rsp = rsp

	return nil
}

// Result returns the response to the outstanding request, done is false
// while the Trusted Applet is still serving it. The slot is released once a
// response, or ErrTimeout, is returned.
func (e *Exchange) Result() (rsp []byte, done bool, err error) {
	e.Lock()
	defer e.Unlock()

	switch e.state {
	case slotIdle:
		return nil, false, ErrIdle
	case slotDone:
		rsp = e.rsp
		e.reset()
		return rsp, true, nil
	}

	if e.expired() {
		e.reset()
		return nil, false, ErrTimeout
	}

	return nil, false, nil
}

// Abort drops any outstanding request, it is used when the Trusted Applet
// stops.
func (e *Exchange) Abort() {
	e.Lock()
	defer e.Unlock()

	e.reset()
}
