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

// Package secmon implements the Trusted OS side of the boot log protocol:
// the boot log service sessions, the request exchange with the Trusted
// Applet, its RPC receiver and the USB control interface handlers.
package secmon

import (
	"sync"

	"github.com/google/uuid"
	"k8s.io/klog/v2"

	"github.com/transparency-dev/tmesg/api"
	"github.com/transparency-dev/tmesg/internal/bootlog"
	"github.com/transparency-dev/tmesg/tee"
)

// PTA tracks Trusted Applet sessions to the boot log service.
type PTA struct {
	sync.Mutex

	Service *bootlog.Service

	sessions map[uint32]bool
	last     uint32
}

// Open opens a session to the service identified by id.
func (p *PTA) Open(id uuid.UUID) (uint32, tee.Result, tee.Origin) {
	if id != api.BootLogPTAUUID {
		klog.Errorf("SM open session for unknown service %v", id)
		return 0, tee.ErrorItemNotFound, tee.OriginTEE
	}

	p.Lock()
	defer p.Unlock()

	if p.sessions == nil {
		p.sessions = make(map[uint32]bool)
	}

	for {
		p.last++

		if p.last != 0 && !p.sessions[p.last] {
			break
		}
	}

	p.sessions[p.last] = true

	klog.V(1).Infof("SM boot log session %d opened", p.last)

	return p.last, tee.Success, tee.OriginTrustedApp
}

// Invoke serves a boot log command on an open session.
func (p *PTA) Invoke(session uint32, cmd uint32, types tee.ParamTypes, params *tee.Params) (tee.Result, tee.Origin) {
	p.Lock()
	ok := p.sessions[session]
	p.Unlock()

	if !ok {
		klog.Errorf("SM invoke on unknown session %d", session)
		return tee.ErrorBadState, tee.OriginTEE
	}

	return p.Service.Invoke(cmd, types, params), tee.OriginTrustedApp
}

// Close closes an open session.
func (p *PTA) Close(session uint32) tee.Result {
	p.Lock()
	defer p.Unlock()

	if !p.sessions[session] {
		return tee.ErrorBadState
	}

	delete(p.sessions, session)

	klog.V(1).Infof("SM boot log session %d closed", session)

	return tee.Success
}

// Sessions returns the number of open sessions.
func (p *PTA) Sessions() int {
	p.Lock()
	defer p.Unlock()

	return len(p.sessions)
}

// Reset drops all sessions, it is used when the Trusted Applet stops.
func (p *PTA) Reset() {
	p.Lock()
	defer p.Unlock()

	p.sessions = nil
}
