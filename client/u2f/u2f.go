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

// Package u2f carries TEE client requests to the device over U2F HID vendor
// commands.
package u2f

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	flynn_hid "github.com/flynn/hid"
	"github.com/flynn/u2f/u2fhid"
	"github.com/klauspost/compress/gzip"

	"github.com/transparency-dev/tmesg/api"
	"github.com/transparency-dev/tmesg/tee"
)

// DefaultPollInterval is the default pause between polls, it keeps the HID
// endpoint from being overloaded.
const DefaultPollInterval = 20 * time.Millisecond

// Commander sends a U2F HID command and returns its reply.
type Commander interface {
	Command(cmd byte, data []byte) ([]byte, error)
}

// Transport implements client.Transport over a U2F HID device.
type Transport struct {
	Device Commander

	// PollInterval is the pause between polls, DefaultPollInterval is used
	// when zero.
	PollInterval time.Duration

	// Progress, if set, is called with the number of response bytes
	// received so far.
	Progress func(n int)
}

func (t *Transport) interval() time.Duration {
	if t.PollInterval > 0 {
		return t.PollInterval
	}

	return DefaultPollInterval
}

func (t *Transport) command(cmd byte, data []byte) (*api.Frame, error) {
	buf, err := t.Device.Command(cmd, data)
	if err != nil {
		return nil, err
	}

	f := &api.Frame{}

	if err = f.Unmarshal(buf); err != nil {
		return nil, fmt.Errorf("invalid reply: %v", err)
	}

	return f, f.Err()
}

// Status returns the device status.
func (t *Transport) Status() (*api.Status, error) {
	buf, err := t.Device.Command(api.U2FHID_ARMORY_INF, nil)
	if err != nil {
		return nil, err
	}

	s := &api.Status{}

	return s, s.Unmarshal(buf)
}

// Call submits req to the Trusted Applet and waits for its response.
func (t *Transport) Call(ctx context.Context, req *tee.Request) (*tee.Response, error) {
	f, err := t.command(api.U2FHID_TMESG_CALL, req.Bytes())
	if err != nil {
		return nil, err
	}

	r, w := io.Pipe()
	defer r.Close()

	errC := make(chan error, 1)

	// Fetch the compressed response chunks and pipe them into the
	// decompressor.
	go func() {
		err := t.receive(ctx, f, w)
		w.CloseWithError(err)
		errC <- err
	}()

	gz, err := gzip.NewReader(r)
	if err != nil {
		return nil, err
	}
	defer gz.Close()

	buf, err := io.ReadAll(gz)
	if err != nil {
		return nil, err
	}

	if err = <-errC; err != nil {
		return nil, err
	}

	rsp := &tee.Response{}

	if err = rsp.Unmarshal(buf); err != nil {
		return nil, fmt.Errorf("invalid response: %v", err)
	}

	return rsp, nil
}

func (t *Transport) receive(ctx context.Context, f *api.Frame, w io.Writer) (err error) {
	n := 0

	for {
		switch f.Status {
		case api.FramePending:
		case api.FrameMore, api.FrameDone:
			if _, err = w.Write(f.Payload); err != nil {
				return
			}

			n += len(f.Payload)

			if t.Progress != nil {
				t.Progress(n)
			}

			if f.Status == api.FrameDone {
				return
			}
		default:
			return fmt.Errorf("unexpected frame status %v", f.Status)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(t.interval()):
		}

		if f, err = t.command(api.U2FHID_TMESG_POLL, nil); err != nil {
			return
		}
	}
}

// Detect opens the first device matching the tmesg USB identifiers.
func Detect() (*u2fhid.Device, error) {
	devices, err := flynn_hid.Devices()
	if err != nil {
		return nil, err
	}

	for _, d := range devices {
		if d.UsagePage == api.HIDUsagePage &&
			d.VendorID == api.VendorID &&
			d.ProductID == api.ProductID {
			return u2fhid.Open(d)
		}
	}

	return nil, errors.New("no device found")
}
