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
	"strings"
	"sync"

	"k8s.io/klog/v2"

	"github.com/transparency-dev/tmesg/api"
	"github.com/transparency-dev/tmesg/api/rpc"
	"github.com/transparency-dev/tmesg/tee"
)

// RPC represents the receiver for user/system mode RPC over system calls.
type RPC struct {
	PTA      *PTA
	Exchange *Exchange

	// StatusFunc returns the Trusted OS status.
	StatusFunc func() *api.Status
	// LEDFunc sets a board LED.
	LEDFunc func(name string, on bool) error
	// Stop stops the Trusted Applet.
	Stop func()

	mu            sync.Mutex
	appletVersion string
}

// AppletVersion returns the version reported by the running Trusted Applet.
func (r *RPC) AppletVersion() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.appletVersion
}

// Version receives the Trusted Applet protocol version for verification.
func (r *RPC) Version(version string, _ *bool) error {
	klog.Infof("SM applet version verification (%s)", version)

	if err := api.CheckVersion(version); err != nil {
		klog.Errorf("SM stopping applet, %v", err)

		if r.Stop != nil {
			r.Stop()
		}

		return err
	}

	r.mu.Lock()
	r.appletVersion = version
	r.mu.Unlock()

	return nil
}

// Status returns Trusted OS status information.
func (r *RPC) Status(_ any, status *api.Status) error {
	if status == nil || r.StatusFunc == nil {
		return errors.New("invalid argument")
	}

	*status = *r.StatusFunc()

	return nil
}

// LED receives a LED state request.
func (r *RPC) LED(led rpc.LEDStatus, _ *bool) error {
	if strings.EqualFold(led.Name, "white") {
		return errors.New("LED is secure only")
	}

	if r.LEDFunc == nil {
		return nil
	}

	return r.LEDFunc(led.Name, led.On)
}

// NextRequest returns the next client request for the Trusted Applet, if
// any.
func (r *RPC) NextRequest(_ any, req *rpc.Request) error {
	if req == nil {
		return errors.New("invalid argument")
	}

	*req = r.Exchange.Take()

	return nil
}

// SendResponse receives the Trusted Applet response to a client request.
func (r *RPC) SendResponse(rsp rpc.Response, _ *bool) error {
	return r.Exchange.Complete(rsp.ID, rsp.Payload)
}

// OpenPTASession opens a Trusted Applet session to a Trusted OS service.
func (r *RPC) OpenPTASession(req rpc.PTAOpen, res *rpc.PTAResult) error {
	if res == nil {
		return errors.New("invalid argument")
	}

	*res = rpc.PTAResult{}
	res.Session, res.Result, res.Origin = r.PTA.Open(req.UUID)

	return nil
}

// InvokePTA invokes a command on a Trusted OS service session.
func (r *RPC) InvokePTA(req rpc.PTAInvoke, res *rpc.PTAResult) error {
	if res == nil {
		return errors.New("invalid argument")
	}

	*res = rpc.PTAResult{Session: req.Session}
	params := req.Params

	if res.Result = params.Prepare(req.Types); res.Result != tee.Success {
		res.Origin = tee.OriginTEE
		return nil
	}

	res.Result, res.Origin = r.PTA.Invoke(req.Session, req.Command, req.Types, &params)
	res.Params = params.Inbound(req.Types)

	if res.Result != tee.Success {
		for i := range res.Params {
			res.Params[i].Memref.Buffer = nil
		}
	}

	return nil
}

// ClosePTASession closes a Trusted OS service session.
func (r *RPC) ClosePTASession(session uint32, _ *bool) error {
	if res := r.PTA.Close(session); res != tee.Success {
		return tee.NewError("ClosePTASession", res, tee.OriginTEE)
	}

	return nil
}
