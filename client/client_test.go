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

package client

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"

	"github.com/transparency-dev/tmesg/api"
	"github.com/transparency-dev/tmesg/api/rpc"
	"github.com/transparency-dev/tmesg/internal/bootlog"
	"github.com/transparency-dev/tmesg/internal/secmon"
	"github.com/transparency-dev/tmesg/internal/ta"
	"github.com/transparency-dev/tmesg/tee"
)

// loopback serves requests with an in-process Trusted Applet and Trusted OS.
type loopback struct {
	server *ta.Server
	log    *bootlog.Log
	pta    *secmon.PTA

	// before is called ahead of each request.
	before func(req *tee.Request)
	calls  []tee.Kind
}

func newLoopback(msg string) *loopback {
	l := bootlog.New(0)
	l.Write([]byte(msg))

	pta := &secmon.PTA{Service: &bootlog.Service{Log: l}}
	r := &secmon.RPC{PTA: pta}

	caller := ta.CallerFunc(func(method string, args any, reply any) error {
		switch method {
		case "RPC.OpenPTASession":
			return r.OpenPTASession(args.(rpc.PTAOpen), reply.(*rpc.PTAResult))
		case "RPC.InvokePTA":
			return r.InvokePTA(args.(rpc.PTAInvoke), reply.(*rpc.PTAResult))
		case "RPC.ClosePTASession":
			return r.ClosePTASession(args.(uint32), nil)
		}

		return fmt.Errorf("unexpected call %s", method)
	})

	return &loopback{
		server: &ta.Server{Opener: &ta.RPCOpener{Caller: caller}},
		log:    l,
		pta:    pta,
	}
}

func (lb *loopback) Call(_ context.Context, req *tee.Request) (*tee.Response, error) {
	lb.calls = append(lb.calls, req.Kind)

	if lb.before != nil {
		lb.before(req)
	}

	rsp := &tee.Response{}

	if err := rsp.Unmarshal(lb.server.HandleMessage(req.Bytes())); err != nil {
		return nil, err
	}

	return rsp, nil
}

func (lb *loopback) checkClosed(t *testing.T) {
	t.Helper()

	if n := lb.server.Sessions(); n != 0 {
		t.Errorf("%d applet sessions left open", n)
	}

	if n := lb.pta.Sessions(); n != 0 {
		t.Errorf("%d boot log sessions left open", n)
	}
}

func TestBootLogSize(t *testing.T) {
	msg := "SM TEE security monitor\n"
	lb := newLoopback(msg)
	b := &BootLog{Transport: lb}

	size, err := b.Size(context.Background())
	if err != nil {
		t.Fatalf("Size() = %v", err)
	}

	if size != uint32(len(msg)) {
		t.Errorf("Size() = %d, want %d", size, len(msg))
	}

	want := []tee.Kind{tee.KindOpenSession, tee.KindInvokeCommand, tee.KindCloseSession}
	if diff := cmp.Diff(want, lb.calls); diff != "" {
		t.Errorf("calls (-want +got):\n%s", diff)
	}

	lb.checkClosed(t)
}

func TestBootLogMessage(t *testing.T) {
	for _, msg := range []string{
		"",
		"SM TEE security monitor\nSM applet verified\n",
		strings.Repeat("SM boot log line\n", 4096),
	} {
		t.Run(fmt.Sprintf("%d bytes", len(msg)), func(t *testing.T) {
			lb := newLoopback(msg)
			b := &BootLog{Transport: lb}

			got, err := b.Message(context.Background())
			if err != nil {
				t.Fatalf("Message() = %v", err)
			}

			if string(got) != msg {
				t.Errorf("Message() returned %d bytes, want %d", len(got), len(msg))
			}

			lb.checkClosed(t)
		})
	}
}

func TestBootLogMessageGrowing(t *testing.T) {
	msg := "SM applet started\n"
	extra := strings.Repeat("TA line\n", 16)

	lb := newLoopback(msg)
	grown := false

	lb.before = func(req *tee.Request) {
		if req.Kind == tee.KindInvokeCommand && req.Command == api.TA_BOOT_LOG_GET_MSG && !grown {
			lb.log.Write([]byte(extra))
			grown = true
		}
	}

	got, err := (&BootLog{Transport: lb}).Message(context.Background())
	if err != nil {
		t.Fatalf("Message() = %v", err)
	}

	if string(got) != msg+extra {
		t.Errorf("Message() = %q, want %q", got, msg+extra)
	}

	lb.checkClosed(t)
}

func TestBootLogMessageAlwaysGrowing(t *testing.T) {
	lb := newLoopback("SM\n")

	lb.before = func(req *tee.Request) {
		if req.Kind == tee.KindInvokeCommand && req.Command == api.TA_BOOT_LOG_GET_MSG {
			lb.log.Write([]byte(strings.Repeat("x", 64)))
		}
	}

	if _, err := (&BootLog{Transport: lb}).Message(context.Background()); !errors.Is(err, tee.ErrShortBuffer) {
		t.Errorf("Message() = %v, want short buffer", err)
	}

	lb.checkClosed(t)
}

func TestBootLogClear(t *testing.T) {
	lb := newLoopback("SM secret\n")
	b := &BootLog{Transport: lb}

	if err := b.Clear(context.Background()); err != nil {
		t.Fatalf("Clear() = %v", err)
	}

	if lb.log.Len() != 0 {
		t.Errorf("log not cleared, %d bytes left", lb.log.Len())
	}

	size, err := b.Size(context.Background())
	if err != nil || size != 0 {
		t.Errorf("Size() after Clear = %d, %v", size, err)
	}

	lb.checkClosed(t)
}

type failingTransport struct{}

func (failingTransport) Call(context.Context, *tee.Request) (*tee.Response, error) {
	return nil, errors.New("no device")
}

func TestBootLogTransportError(t *testing.T) {
	_, err := (&BootLog{Transport: failingTransport{}}).Size(context.Background())

	if !errors.Is(err, tee.ErrCommunication) {
		t.Errorf("Size() = %v, want communication error", err)
	}

	var e *tee.Error
	if !errors.As(err, &e) || e.Origin != tee.OriginComms {
		t.Errorf("Size() = %v, want origin %v", err, tee.OriginComms)
	}
}

func TestContext(t *testing.T) {
	if _, err := InitializeContext(nil); !errors.Is(err, tee.ErrBadParameters) {
		t.Errorf("InitializeContext(nil) = %v", err)
	}

	lb := newLoopback("SM\n")

	c, err := InitializeContext(lb)
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()

	if _, err := c.OpenSession(ctx, uuid.New(), tee.LoginPublic, nil); !errors.Is(err, tee.ErrItemNotFound) {
		t.Errorf("OpenSession(random) = %v", err)
	}

	s, err := c.OpenSession(ctx, api.TMesgUUID, tee.LoginPublic, nil)
	if err != nil {
		t.Fatalf("OpenSession() = %v", err)
	}

	if err := c.FinalizeContext(); !errors.Is(err, tee.ErrBadState) {
		t.Errorf("FinalizeContext() with open session = %v", err)
	}

	badOp := &Operation{Types: Types(ParamValueInput, ParamNone, ParamNone, ParamNone)}
	if err := s.InvokeCommand(ctx, api.TA_BOOT_LOG_GET_SIZE, badOp); !errors.Is(err, tee.ErrBadParameters) {
		t.Errorf("GET_SIZE with input value = %v", err)
	}

	if err := s.Close(ctx); err != nil {
		t.Errorf("Close() = %v", err)
	}

	if err := s.InvokeCommand(ctx, api.TA_BOOT_LOG_CLEAR, nil); !errors.Is(err, tee.ErrBadState) {
		t.Errorf("InvokeCommand() on closed session = %v", err)
	}

	if err := c.FinalizeContext(); err != nil {
		t.Errorf("FinalizeContext() = %v", err)
	}

	if _, err := c.OpenSession(ctx, api.TMesgUUID, tee.LoginPublic, nil); !errors.Is(err, tee.ErrBadState) {
		t.Errorf("OpenSession() on finalized context = %v", err)
	}
}

func TestSharedMemory(t *testing.T) {
	c, _ := InitializeContext(newLoopback(""))

	for _, shm := range []*SharedMemory{
		nil,
		{Size: 16},
		{Size: 16, Flags: 4},
	} {
		if err := c.AllocateSharedMemory(shm); !errors.Is(err, tee.ErrBadParameters) {
			t.Errorf("AllocateSharedMemory(%+v) = %v", shm, err)
		}
	}

	if err := c.AllocateSharedMemory(&SharedMemory{Size: tee.MaxMemrefSize + 1, Flags: MemOutput}); err == nil {
		t.Errorf("oversized AllocateSharedMemory succeeded")
	}

	shm := &SharedMemory{Size: 16, Flags: MemInput | MemOutput}
	if err := c.AllocateSharedMemory(shm); err != nil {
		t.Fatal(err)
	}

	buf := shm.Buffer
	copy(buf, "secret")

	c.ReleaseSharedMemory(shm)

	if shm.Buffer != nil || string(buf[:6]) == "secret" {
		t.Errorf("released memory not wiped")
	}
}

func TestOperationMarshal(t *testing.T) {
	c, _ := InitializeContext(newLoopback(""))

	in := &SharedMemory{Size: 8, Flags: MemInput}
	out := &SharedMemory{Size: 8, Flags: MemOutput}
	inout := &SharedMemory{Size: 8, Flags: MemInput | MemOutput}

	for _, shm := range []*SharedMemory{in, out, inout} {
		if err := c.AllocateSharedMemory(shm); err != nil {
			t.Fatal(err)
		}
	}

	copy(in.Buffer, "abcdefgh")

	for _, test := range []struct {
		name      string
		types     ParamTypes
		params    [4]Parameter
		want      tee.ParamTypes
		wantErr   bool
		wantInput string
	}{
		{
			name:  "whole output",
			types: Types(ParamMemrefWhole, ParamNone, ParamNone, ParamNone),
			params: [4]Parameter{
				{Memref: RegisteredMemoryReference{Parent: out}},
			},
			want: tee.Types(tee.ParamMemrefOutput, tee.ParamNone, tee.ParamNone, tee.ParamNone),
		}, {
			name:  "whole inout",
			types: Types(ParamMemrefWhole, ParamNone, ParamNone, ParamNone),
			params: [4]Parameter{
				{Memref: RegisteredMemoryReference{Parent: inout}},
			},
			want: tee.Types(tee.ParamMemrefInout, tee.ParamNone, tee.ParamNone, tee.ParamNone),
		}, {
			name:  "partial input",
			types: Types(ParamNone, ParamMemrefPartialInput, ParamNone, ParamNone),
			params: [4]Parameter{
				{},
				{Memref: RegisteredMemoryReference{Parent: in, Offset: 2, Size: 3}},
			},
			want:      tee.Types(tee.ParamNone, tee.ParamMemrefInput, tee.ParamNone, tee.ParamNone),
			wantInput: "cde",
		}, {
			name:  "partial out of bounds",
			types: Types(ParamMemrefPartialInput, ParamNone, ParamNone, ParamNone),
			params: [4]Parameter{
				{Memref: RegisteredMemoryReference{Parent: in, Offset: 6, Size: 3}},
			},
			wantErr: true,
		}, {
			name:  "partial output on input memory",
			types: Types(ParamMemrefPartialOutput, ParamNone, ParamNone, ParamNone),
			params: [4]Parameter{
				{Memref: RegisteredMemoryReference{Parent: in, Size: 1}},
			},
			wantErr: true,
		}, {
			name:    "whole without parent",
			types:   Types(ParamMemrefWhole, ParamNone, ParamNone, ParamNone),
			wantErr: true,
		}, {
			name:  "temporary buffer too small",
			types: Types(ParamMemrefTempOutput, ParamNone, ParamNone, ParamNone),
			params: [4]Parameter{
				{Tmpref: TempMemoryReference{Buffer: make([]byte, 2), Size: 4}},
			},
			wantErr: true,
		}, {
			name:    "reserved type",
			types:   Types(ParamType(0x4), ParamNone, ParamNone, ParamNone),
			wantErr: true,
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			op := &Operation{Types: test.types, Params: test.params}

			types, params, err := op.marshal("test", c)
			if gotErr := err != nil; gotErr != test.wantErr {
				t.Fatalf("marshal() = %v, wantErr %v", err, test.wantErr)
			}

			if test.wantErr {
				if !errors.Is(err, tee.ErrBadParameters) {
					t.Errorf("marshal() = %v, want bad parameters", err)
				}
				return
			}

			if types != test.want {
				t.Errorf("types = %v, want %v", types, test.want)
			}

			if test.wantInput != "" {
				if got := string(params[1].Memref.Buffer); got != test.wantInput {
					t.Errorf("input = %q, want %q", got, test.wantInput)
				}
			}

			for i := range params {
				if types.Get(i) == tee.ParamMemrefOutput && params[i].Memref.Buffer != nil {
					t.Errorf("output memref %d carries data", i)
				}
			}
		})
	}
}
