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

package ta

import (
	"sync"

	"k8s.io/klog/v2"

	"github.com/transparency-dev/tmesg/api"
	"github.com/transparency-dev/tmesg/tee"
)

// MaxSessions is the maximum number of concurrently open client sessions.
const MaxSessions = 32

// Server dispatches client session requests to Trusted Applet sessions.
type Server struct {
	sync.Mutex

	// Opener is used by each client session to reach the boot log service.
	Opener Opener

	sessions map[uint32]*Session
	last     uint32
}

// Sessions returns the number of open client sessions.
func (s *Server) Sessions() int {
	s.Lock()
	defer s.Unlock()

	return len(s.sessions)
}

// HandleMessage serves a serialized tee.Request and returns the serialized
// tee.Response.
func (s *Server) HandleMessage(buf []byte) []byte {
	req := &tee.Request{}

	if err := req.Unmarshal(buf); err != nil {
		klog.Errorf("TA invalid request, %v", err)

		return (&tee.Response{
			Result: tee.ErrorBadFormat,
			Origin: tee.OriginTEE,
		}).Bytes()
	}

	return s.Handle(req).Bytes()
}

// Handle serves a client session request.
func (s *Server) Handle(req *tee.Request) *tee.Response {
	switch req.Kind {
	case tee.KindOpenSession:
		return s.open(req)
	case tee.KindInvokeCommand:
		return s.invoke(req)
	case tee.KindCloseSession:
		return s.close(req)
	}

	return &tee.Response{
		Result: tee.ErrorNotSupported,
		Origin: tee.OriginTEE,
	}
}

func (s *Server) open(req *tee.Request) *tee.Response {
	if req.UUID != api.TMesgUUID {
		klog.Errorf("TA open session for unknown UUID %v", req.UUID)
		return &tee.Response{Result: tee.ErrorItemNotFound, Origin: tee.OriginTEE}
	}

	s.Lock()
	defer s.Unlock()

	if len(s.sessions) >= MaxSessions {
		return &tee.Response{Result: tee.ErrorBusy, Origin: tee.OriginTEE}
	}

	params := req.Params

	if res := params.Prepare(req.Types); res != tee.Success {
		return &tee.Response{Result: res, Origin: tee.OriginTEE}
	}

	sess, res := OpenSession(s.Opener, req.Types, &params)
	if res != tee.Success {
		return &tee.Response{Result: res, Origin: tee.OriginTrustedApp}
	}

	if s.sessions == nil {
		s.sessions = make(map[uint32]*Session)
	}

	// skip 0 and any identifier still in use after wrap around
	for {
		s.last++

		if _, ok := s.sessions[s.last]; s.last != 0 && !ok {
			break
		}
	}

	s.sessions[s.last] = sess

	return &tee.Response{
		Result:  tee.Success,
		Origin:  tee.OriginTrustedApp,
		Session: s.last,
		Params:  params.Inbound(req.Types),
	}
}

func (s *Server) session(id uint32) *Session {
	s.Lock()
	defer s.Unlock()

	return s.sessions[id]
}

func (s *Server) invoke(req *tee.Request) *tee.Response {
	sess := s.session(req.Session)
	if sess == nil {
		klog.Errorf("TA invoke on unknown session %d", req.Session)
		return &tee.Response{Result: tee.ErrorItemNotFound, Origin: tee.OriginTEE}
	}

	params := req.Params

	if res := params.Prepare(req.Types); res != tee.Success {
		return &tee.Response{Result: res, Origin: tee.OriginTEE}
	}

	res := sess.Invoke(req.Command, req.Types, &params)

	rsp := &tee.Response{
		Result:  res,
		Origin:  tee.OriginTrustedApp,
		Session: req.Session,
		Params:  params.Inbound(req.Types),
	}

	if res != tee.Success {
		// only sizes are meaningful on failure
		for i := range rsp.Params {
			rsp.Params[i].Memref.Buffer = nil
		}
	}

	return rsp
}

func (s *Server) close(req *tee.Request) *tee.Response {
	s.Lock()
	sess, ok := s.sessions[req.Session]
	delete(s.sessions, req.Session)
	s.Unlock()

	if !ok {
		return &tee.Response{Result: tee.ErrorItemNotFound, Origin: tee.OriginTEE}
	}

	sess.Close()

	return &tee.Response{
		Result:  tee.Success,
		Origin:  tee.OriginTrustedApp,
		Session: req.Session,
	}
}

// CloseAll closes every open client session.
func (s *Server) CloseAll() {
	s.Lock()
	sessions := s.sessions
	s.sessions = nil
	s.Unlock()

	for id, sess := range sessions {
		klog.V(1).Infof("TA closing session %d", id)
		sess.Close()
	}
}
