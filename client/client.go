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

// Package client implements a TEE Client API for Trusted Applets reachable
// through a Transport.
//
// Errors returned by this package wrap a *tee.Error carrying the result code
// and its origin, so that callers can test them with errors.Is against the
// tee sentinel errors.
package client

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"k8s.io/klog/v2"

	"github.com/transparency-dev/tmesg/tee"
)

// Transport delivers session requests to the Trusted Applet.
type Transport interface {
	Call(ctx context.Context, req *tee.Request) (*tee.Response, error)
}

// Context is a logical connection to the TEE.
type Context struct {
	sync.Mutex

	transport Transport
	sessions  map[*Session]bool
	shm       map[*SharedMemory]bool
	finalized bool
}

// Session is an open session to a Trusted Applet.
type Session struct {
	ctx    *Context
	id     uint32
	closed bool
}

// InitializeContext initializes a new TEE context over t.
func InitializeContext(t Transport) (*Context, error) {
	if t == nil {
		return nil, badParameters("InitializeContext")
	}

	return &Context{
		transport: t,
		sessions:  make(map[*Session]bool),
		shm:       make(map[*SharedMemory]bool),
	}, nil
}

// FinalizeContext finalizes the context, all sessions must be closed
// beforehand.
func (c *Context) FinalizeContext() error {
	c.Lock()
	defer c.Unlock()

	if c.finalized {
		return tee.NewError("FinalizeContext", tee.ErrorBadState, tee.OriginAPI)
	}

	if len(c.sessions) > 0 {
		return tee.NewError("FinalizeContext", tee.ErrorBadState, tee.OriginAPI)
	}

	for shm := range c.shm {
		shm.ctx = nil
		shm.Buffer = nil
	}

	c.shm = nil
	c.finalized = true

	return nil
}

// AllocateSharedMemory allocates shm.Size bytes of memory shared with the
// Trusted Applet.
func (c *Context) AllocateSharedMemory(shm *SharedMemory) error {
	if shm == nil || shm.Flags&(MemInput|MemOutput) == 0 || shm.Flags&^(MemInput|MemOutput) != 0 {
		return badParameters("AllocateSharedMemory")
	}

	if shm.Size > tee.MaxMemrefSize {
		return tee.NewError("AllocateSharedMemory", tee.ErrorOutOfMemory, tee.OriginAPI)
	}

	c.Lock()
	defer c.Unlock()

	if c.finalized {
		return tee.NewError("AllocateSharedMemory", tee.ErrorBadState, tee.OriginAPI)
	}

	shm.Buffer = make([]byte, shm.Size)
	shm.ctx = c
	c.shm[shm] = true

	return nil
}

// ReleaseSharedMemory releases a block allocated with AllocateSharedMemory.
func (c *Context) ReleaseSharedMemory(shm *SharedMemory) {
	if shm == nil {
		return
	}

	c.Lock()
	defer c.Unlock()

	if shm.ctx != c {
		return
	}

	// wipe any boot log copy left in the block
	clear(shm.Buffer)

	delete(c.shm, shm)
	shm.ctx = nil
	shm.Buffer = nil
}

func (c *Context) call(ctx context.Context, name string, req *tee.Request) (*tee.Response, error) {
	rsp, err := c.transport.Call(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", tee.NewError(name, tee.ErrorCommunication, tee.OriginComms), err)
	}

	return rsp, nil
}

// OpenSession opens a session to the Trusted Applet identified by id.
func (c *Context) OpenSession(ctx context.Context, id uuid.UUID, login tee.LoginMethod, op *Operation) (*Session, error) {
	c.Lock()
	finalized := c.finalized
	c.Unlock()

	if finalized {
		return nil, tee.NewError("OpenSession", tee.ErrorBadState, tee.OriginAPI)
	}

	types, params, err := op.marshal("OpenSession", c)
	if err != nil {
		return nil, err
	}

	req := &tee.Request{
		Kind:   tee.KindOpenSession,
		UUID:   id,
		Login:  login,
		Types:  types,
		Params: params,
	}

	rsp, err := c.call(ctx, "OpenSession", req)
	if err != nil {
		return nil, err
	}

	op.unmarshal(types, rsp.Params)

	if err = rsp.Err("OpenSession"); err != nil {
		return nil, err
	}

	s := &Session{ctx: c, id: rsp.Session}

	c.Lock()
	c.sessions[s] = true
	c.Unlock()

	klog.V(1).Infof("opened session %d to %v", s.id, id)

	return s, nil
}

// InvokeCommand invokes cmd within the session. Output parameters in op are
// updated on success and, with sizes only, on tee.ErrorShortBuffer.
func (s *Session) InvokeCommand(ctx context.Context, cmd uint32, op *Operation) error {
	if s.closed {
		return tee.NewError("InvokeCommand", tee.ErrorBadState, tee.OriginAPI)
	}

	types, params, err := op.marshal("InvokeCommand", s.ctx)
	if err != nil {
		return err
	}

	req := &tee.Request{
		Kind:    tee.KindInvokeCommand,
		Session: s.id,
		Command: cmd,
		Types:   types,
		Params:  params,
	}

	rsp, err := s.ctx.call(ctx, "InvokeCommand", req)
	if err != nil {
		return err
	}

	if rsp.Result == tee.Success || rsp.Result == tee.ErrorShortBuffer {
		op.unmarshal(types, rsp.Params)
	}

	return rsp.Err("InvokeCommand")
}

// Close closes the session, the session is released even when the Trusted
// Applet cannot be reached.
func (s *Session) Close(ctx context.Context) error {
	if s.closed {
		return nil
	}

	s.closed = true

	s.ctx.Lock()
	delete(s.ctx.sessions, s)
	s.ctx.Unlock()

	req := &tee.Request{
		Kind:    tee.KindCloseSession,
		Session: s.id,
	}

	rsp, err := s.ctx.call(ctx, "CloseSession", req)
	if err != nil {
		return err
	}

	return rsp.Err("CloseSession")
}
