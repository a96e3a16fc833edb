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
	"bytes"
	"errors"
	"sync"

	"github.com/klauspost/compress/gzip"
	"k8s.io/klog/v2"

	"github.com/transparency-dev/tmesg/api"
	"github.com/transparency-dev/tmesg/tee"
)

// Control serves the U2F HID vendor commands of the USB control interface.
type Control struct {
	sync.Mutex

	Exchange *Exchange

	// StatusFunc returns the Trusted OS status.
	StatusFunc func() *api.Status
	// Running reports whether the Trusted Applet is running, when nil the
	// applet is assumed to be running.
	Running func() bool

	chunks [][]byte
}

// HandleMessage serves standard U2F messages, which are not supported.
func (ctl *Control) HandleMessage(_ []byte) (_ []byte) {
	return
}

// Status returns the serialized Trusted OS status.
func (ctl *Control) Status(_ []byte) (res []byte) {
	if ctl.StatusFunc == nil {
		return (&api.Status{}).Bytes()
	}

	return ctl.StatusFunc().Bytes()
}

// Call submits a serialized tee.Request to the Trusted Applet.
func (ctl *Control) Call(req []byte) (res []byte) {
	ctl.Lock()
	defer ctl.Unlock()

	ctl.chunks = nil

	if len(req) == 0 {
		return api.ErrorResponse(errors.New("empty request"))
	}

	if ctl.Running != nil && !ctl.Running() {
		klog.Errorf("SM request received w/o applet running")
		return ctl.result(tee.ErrorTargetDead, tee.OriginTEE)
	}

	id, err := ctl.Exchange.Submit(req)

	switch {
	case errors.Is(err, ErrBusy):
		return ctl.result(tee.ErrorBusy, tee.OriginComms)
	case err != nil:
		return api.ErrorResponse(err)
	}

	klog.V(1).Infof("SM request %d submitted (%d bytes)", id, len(req))

	return api.PendingResponse()
}

// Poll returns the Trusted Applet response to the last Call, or its next
// chunk.
func (ctl *Control) Poll(_ []byte) (res []byte) {
	ctl.Lock()
	defer ctl.Unlock()

	if len(ctl.chunks) > 0 {
		return ctl.next()
	}

	rsp, done, err := ctl.Exchange.Result()

	switch {
	case errors.Is(err, ErrTimeout):
		klog.Errorf("SM request timed out")
		return ctl.result(tee.ErrorTargetDead, tee.OriginTEE)
	case err != nil:
		return api.ErrorResponse(err)
	case !done:
		return api.PendingResponse()
	}

	if err := ctl.compress(rsp); err != nil {
		return api.ErrorResponse(err)
	}

	return ctl.next()
}

// Reset drops any outstanding request and undelivered response.
func (ctl *Control) Reset() {
	ctl.Lock()
	defer ctl.Unlock()

	ctl.chunks = nil
	ctl.Exchange.Abort()
}

func (ctl *Control) result(res tee.Result, origin tee.Origin) []byte {
	rsp := &tee.Response{
		Result: res,
		Origin: origin,
	}

	if err := ctl.compress(rsp.Bytes()); err != nil {
		return api.ErrorResponse(err)
	}

	return ctl.next()
}

func (ctl *Control) compress(buf []byte) error {
	var b bytes.Buffer

	gz := gzip.NewWriter(&b)

	if _, err := gz.Write(buf); err != nil {
		return err
	}

	if err := gz.Close(); err != nil {
		return err
	}

	data := b.Bytes()
	ctl.chunks = nil

	for len(data) > api.MaxChunkSize {
		ctl.chunks = append(ctl.chunks, data[:api.MaxChunkSize])
		data = data[api.MaxChunkSize:]
	}

	ctl.chunks = append(ctl.chunks, data)

	return nil
}

func (ctl *Control) next() []byte {
	f := &api.Frame{
		Status:  api.FrameMore,
		Payload: ctl.chunks[0],
	}

	if ctl.chunks = ctl.chunks[1:]; len(ctl.chunks) == 0 {
		f.Status = api.FrameDone
		ctl.chunks = nil
	}

	return f.Bytes()
}
