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

// Package ta implements the boot log Trusted Applet: a relay which opens a
// session to the Trusted OS boot log service on behalf of each client session
// and forwards the three boot log commands to it.
package ta

import (
	"github.com/google/uuid"
	"k8s.io/klog/v2"

	"github.com/transparency-dev/tmesg/api"
	"github.com/transparency-dev/tmesg/tee"
)

var (
	noneTypes    = tee.Types(tee.ParamNone, tee.ParamNone, tee.ParamNone, tee.ParamNone)
	getMsgTypes  = tee.Types(tee.ParamMemrefOutput, tee.ParamNone, tee.ParamNone, tee.ParamNone)
	getSizeTypes = tee.Types(tee.ParamValueOutput, tee.ParamNone, tee.ParamNone, tee.ParamNone)
)

// PTASession is an open session to a Trusted OS service.
type PTASession interface {
	Invoke(cmd uint32, types tee.ParamTypes, params *tee.Params) (tee.Result, tee.Origin)
	Close()
}

// Opener opens sessions to Trusted OS services.
type Opener interface {
	OpenTASession(id uuid.UUID, types tee.ParamTypes, params *tee.Params) (PTASession, tee.Result, tee.Origin)
}

// Session is a client session to the Trusted Applet.
type Session struct {
	pta PTASession
}

// OpenSession opens a client session, which in turn opens a session to the
// boot log service.
func OpenSession(o Opener, types tee.ParamTypes, params *tee.Params) (*Session, tee.Result) {
	if types != noneTypes {
		klog.Errorf("TA OpenSession: expected %v, got %v", noneTypes, types)
		return nil, tee.ErrorBadParameters
	}

	pta, res, origin := o.OpenTASession(api.BootLogPTAUUID, types, params)
	if res != tee.Success {
		klog.Errorf("TA OpenTASession returned %#x origin %v", uint32(res), origin)
		return nil, res
	}

	klog.V(1).Info("TA boot log session opened")

	return &Session{pta: pta}, tee.Success
}

// Close closes the client session and its boot log service session.
func (s *Session) Close() {
	s.pta.Close()
	klog.V(1).Info("TA boot log session closed")
}

// Invoke serves a client command.
func (s *Session) Invoke(cmd uint32, types tee.ParamTypes, params *tee.Params) tee.Result {
	switch cmd {
	case api.TA_BOOT_LOG_GET_MSG:
		return s.forward("GET_MSG", getMsgTypes, api.PTA_BOOT_LOG_GET_MSG, types, params)
	case api.TA_BOOT_LOG_GET_SIZE:
		return s.forward("GET_SIZE", getSizeTypes, api.PTA_BOOT_LOG_GET_SIZE, types, params)
	case api.TA_BOOT_LOG_CLEAR:
		return s.forward("CLEAR", noneTypes, api.PTA_BOOT_LOG_CLEAR, types, params)
	default:
		klog.Errorf("TA unknown command %#x", cmd)
		return tee.ErrorBadParameters
	}
}

func (s *Session) forward(name string, want tee.ParamTypes, cmd uint32, types tee.ParamTypes, params *tee.Params) tee.Result {
	if types != want {
		klog.Errorf("TA %s: expected %v, got %v", name, want, types)
		return tee.ErrorBadParameters
	}

	res, origin := s.pta.Invoke(cmd, types, params)

	switch {
	case res == tee.Success:
	case res == tee.ErrorShortBuffer:
		klog.V(1).Infof("TA %s: short buffer, %d bytes required", name, params[0].Memref.Size)
	default:
		klog.Errorf("TA %s: InvokeTACommand returned %#x origin %v", name, uint32(res), origin)
	}

	return res
}
