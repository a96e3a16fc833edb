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
	"context"
	"crypto/rand"
	"errors"
	"io"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"

	"github.com/transparency-dev/tmesg/api"
	"github.com/transparency-dev/tmesg/internal/bootlog"
	"github.com/transparency-dev/tmesg/internal/ta"
	"github.com/transparency-dev/tmesg/tee"
)

var (
	none      = tee.Types(tee.ParamNone, tee.ParamNone, tee.ParamNone, tee.ParamNone)
	valueOut  = tee.Types(tee.ParamValueOutput, tee.ParamNone, tee.ParamNone, tee.ParamNone)
	memrefOut = tee.Types(tee.ParamMemrefOutput, tee.ParamNone, tee.ParamNone, tee.ParamNone)
)

func TestPTA(t *testing.T) {
	p := &PTA{Service: &bootlog.Service{Log: bootlog.New(0)}}
	p.Service.Log.Write([]byte("SM boot\n"))

	if _, res, origin := p.Open(uuid.New()); res != tee.ErrorItemNotFound || origin != tee.OriginTEE {
		t.Errorf("Open(random) = %v, %v", res, origin)
	}

	id, res, _ := p.Open(api.BootLogPTAUUID)
	if res != tee.Success || id == 0 {
		t.Fatalf("Open() = %d, %v", id, res)
	}

	var params tee.Params
	if res, origin := p.Invoke(id, api.PTA_BOOT_LOG_GET_SIZE, valueOut, &params); res != tee.Success || origin != tee.OriginTrustedApp {
		t.Fatalf("Invoke(GET_SIZE) = %v, %v", res, origin)
	}

	if got, want := params[0].Value.A, uint32(len("SM boot\n")); got != want {
		t.Errorf("size = %d, want %d", got, want)
	}

	if res, origin := p.Invoke(id+1, api.PTA_BOOT_LOG_GET_SIZE, valueOut, &params); res != tee.ErrorBadState || origin != tee.OriginTEE {
		t.Errorf("Invoke(unknown session) = %v, %v", res, origin)
	}

	if res := p.Close(id); res != tee.Success {
		t.Errorf("Close() = %v", res)
	}

	if res := p.Close(id); res != tee.ErrorBadState {
		t.Errorf("second Close() = %v", res)
	}

	if p.Sessions() != 0 {
		t.Errorf("Sessions() = %d after Close", p.Sessions())
	}
}

func TestExchange(t *testing.T) {
	now := time.Unix(0, 0)
	e := &Exchange{Timeout: time.Second, now: func() time.Time { return now }}

	if _, _, err := e.Result(); !errors.Is(err, ErrIdle) {
		t.Fatalf("Result() on idle exchange: %v", err)
	}

	if req := e.Take(); req.Valid {
		t.Fatalf("Take() on idle exchange returned %+v", req)
	}

	id, err := e.Submit([]byte("req"))
	if err != nil {
		t.Fatalf("Submit() = %v", err)
	}

	if _, err := e.Submit([]byte("other")); !errors.Is(err, ErrBusy) {
		t.Errorf("second Submit() = %v, want ErrBusy", err)
	}

	if _, done, err := e.Result(); done || err != nil {
		t.Errorf("Result() before Take = %v, %v", done, err)
	}

	req := e.Take()
	if !req.Valid || req.ID != id || string(req.Payload) != "req" {
		t.Fatalf("Take() = %+v", req)
	}

	if again := e.Take(); again.Valid {
		t.Errorf("request taken twice")
	}

	if err := e.Complete(id+1, []byte("rsp")); err == nil {
		t.Errorf("Complete() with wrong id succeeded")
	}

	if err := e.Complete(id, []byte("rsp")); err != nil {
		t.Fatalf("Complete() = %v", err)
	}

	rsp, done, err := e.Result()
	if err != nil || !done || string(rsp) != "rsp" {
		t.Fatalf("Result() = %q, %v, %v", rsp, done, err)
	}

	if _, _, err := e.Result(); !errors.Is(err, ErrIdle) {
		t.Errorf("Result() after delivery: %v", err)
	}
}

func TestExchangeTimeout(t *testing.T) {
	now := time.Unix(0, 0)
	e := &Exchange{Timeout: time.Second, now: func() time.Time { return now }}

	id, _ := e.Submit([]byte("req"))
	e.Take()

	now = now.Add(2 * time.Second)

	if _, _, err := e.Result(); !errors.Is(err, ErrTimeout) {
		t.Fatalf("Result() = %v, want ErrTimeout", err)
	}

	if err := e.Complete(id, []byte("late")); err == nil {
		t.Errorf("late Complete() succeeded")
	}

	if _, err := e.Submit([]byte("next")); err != nil {
		t.Errorf("Submit() after timeout = %v", err)
	}
}

func decodeFrames(t *testing.T, poll func() []byte) []byte {
	t.Helper()

	var compressed []byte

	for i := 0; ; i++ {
		if i > 1000 {
			t.Fatal("no response")
		}

		f := &api.Frame{}
		if err := f.Unmarshal(poll()); err != nil {
			t.Fatalf("invalid frame: %v", err)
		}

		switch f.Status {
		case api.FramePending:
			time.Sleep(time.Millisecond)
			continue
		case api.FrameError:
			t.Fatalf("frame error: %v", f.Err())
		}

		compressed = append(compressed, f.Payload...)

		if f.Status == api.FrameDone {
			break
		}
	}

	gz, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		t.Fatalf("gzip: %v", err)
	}

	buf, err := io.ReadAll(gz)
	if err != nil {
		t.Fatalf("gzip: %v", err)
	}

	return buf
}

func TestControlChunks(t *testing.T) {
	ctl := &Control{Exchange: &Exchange{}}

	f := &api.Frame{}
	if err := f.Unmarshal(ctl.Call([]byte("req"))); err != nil || f.Status != api.FramePending {
		t.Fatalf("Call() = %+v, %v", f, err)
	}

	big := make([]byte, 3*api.MaxChunkSize)
	rand.Read(big)

	req := ctl.Exchange.Take()
	if err := ctl.Exchange.Complete(req.ID, big); err != nil {
		t.Fatal(err)
	}

	frames := 0
	got := decodeFrames(t, func() []byte {
		frames++
		return ctl.Poll(nil)
	})

	if !bytes.Equal(got, big) {
		t.Errorf("reassembled response differs")
	}

	if frames < 4 {
		t.Errorf("got %d frames, want at least 4", frames)
	}

	if err := f.Unmarshal(ctl.Poll(nil)); err != nil || f.Status != api.FrameError {
		t.Errorf("Poll() without request = %+v, %v", f, err)
	}
}

func TestControlNotRunning(t *testing.T) {
	ctl := &Control{
		Exchange: &Exchange{},
		Running:  func() bool { return false },
	}

	rsp := &tee.Response{}
	if err := rsp.Unmarshal(decodeFrames(t, func() []byte { return ctl.Call([]byte("req")) })); err != nil {
		t.Fatal(err)
	}

	if rsp.Result != tee.ErrorTargetDead {
		t.Errorf("Result = %v, want %v", rsp.Result, tee.ErrorTargetDead)
	}
}

func TestControlStatus(t *testing.T) {
	want := &api.Status{Serial: "ABCD", BootLogSize: 42, BootLogCapacity: 1 << 20}
	ctl := &Control{StatusFunc: func() *api.Status { return want }}

	got := &api.Status{}
	if err := got.Unmarshal(ctl.Status(nil)); err != nil {
		t.Fatal(err)
	}

	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Status() diff (-want +got):\n%s", diff)
	}
}

// secureWorld wires a Trusted OS RPC receiver to a Trusted Applet server
// through net/rpc, as GoTEE does across the world boundary.
func secureWorld(t *testing.T, msg string) (*Control, *PTA, *bootlog.Log) {
	t.Helper()

	l := bootlog.New(0)
	l.Write([]byte(msg))

	pta := &PTA{Service: &bootlog.Service{Log: l}}
	ex := &Exchange{}
	ctl := &Control{Exchange: ex}

	srv := rpc.NewServer()
	if err := srv.Register(&RPC{PTA: pta, Exchange: ex}); err != nil {
		t.Fatal(err)
	}

	sm, applet := net.Pipe()
	go srv.ServeCodec(jsonrpc.NewServerCodec(sm))

	c := jsonrpc.NewClient(applet)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		defer close(done)
		ta.Serve(ctx, c, &ta.Server{Opener: &ta.RPCOpener{Caller: c}}, time.Millisecond)
	}()

	t.Cleanup(func() {
		cancel()
		<-done
		c.Close()
	})

	return ctl, pta, l
}

func call(t *testing.T, ctl *Control, req *tee.Request) *tee.Response {
	t.Helper()

	f := &api.Frame{}
	if err := f.Unmarshal(ctl.Call(req.Bytes())); err != nil || f.Status != api.FramePending {
		t.Fatalf("Call(%v) = %+v, %v", req.Kind, f, err)
	}

	rsp := &tee.Response{}
	if err := rsp.Unmarshal(decodeFrames(t, func() []byte { return ctl.Poll(nil) })); err != nil {
		t.Fatalf("invalid response: %v", err)
	}

	return rsp
}

func TestSecureWorld(t *testing.T) {
	msg := "SM TEE security monitor\nSM applet verified\n"
	ctl, pta, l := secureWorld(t, msg)

	rsp := call(t, ctl, &tee.Request{Kind: tee.KindOpenSession, UUID: api.TMesgUUID, Types: none})
	if rsp.Result != tee.Success {
		t.Fatalf("open session: %v origin %v", rsp.Result, rsp.Origin)
	}

	session := rsp.Session

	rsp = call(t, ctl, &tee.Request{Kind: tee.KindInvokeCommand, Session: session, Command: api.TA_BOOT_LOG_GET_SIZE, Types: valueOut})
	if rsp.Result != tee.Success || rsp.Params[0].Value.A != uint32(len(msg)) {
		t.Fatalf("GET_SIZE = %v, %d", rsp.Result, rsp.Params[0].Value.A)
	}

	req := &tee.Request{Kind: tee.KindInvokeCommand, Session: session, Command: api.TA_BOOT_LOG_GET_MSG, Types: memrefOut}

	req.Params[0].Memref.Size = 4
	rsp = call(t, ctl, req)
	if rsp.Result != tee.ErrorShortBuffer || rsp.Params[0].Memref.Size != uint32(len(msg)) {
		t.Errorf("GET_MSG short = %v, %d", rsp.Result, rsp.Params[0].Memref.Size)
	}

	req.Params[0].Memref.Size = uint32(len(msg)) + 8
	rsp = call(t, ctl, req)
	if rsp.Result != tee.Success {
		t.Fatalf("GET_MSG = %v origin %v", rsp.Result, rsp.Origin)
	}

	if got := string(rsp.Params[0].Memref.Buffer); got != msg {
		t.Errorf("GET_MSG = %q, want %q", got, msg)
	}

	rsp = call(t, ctl, &tee.Request{Kind: tee.KindInvokeCommand, Session: session, Command: api.TA_BOOT_LOG_CLEAR, Types: none})
	if rsp.Result != tee.Success || l.Len() != 0 {
		t.Errorf("CLEAR = %v, log length %d", rsp.Result, l.Len())
	}

	rsp = call(t, ctl, &tee.Request{Kind: tee.KindCloseSession, Session: session})
	if rsp.Result != tee.Success {
		t.Errorf("close session = %v", rsp.Result)
	}

	if pta.Sessions() != 0 {
		t.Errorf("%d boot log sessions left open", pta.Sessions())
	}

	rsp = call(t, ctl, &tee.Request{Kind: tee.KindOpenSession, UUID: uuid.New(), Types: none})
	if rsp.Result != tee.ErrorItemNotFound || rsp.Origin != tee.OriginTEE {
		t.Errorf("open unknown TA = %v origin %v", rsp.Result, rsp.Origin)
	}
}
