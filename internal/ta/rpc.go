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
	"github.com/google/uuid"
	"k8s.io/klog/v2"

	"github.com/transparency-dev/tmesg/api/rpc"
	"github.com/transparency-dev/tmesg/tee"
)

// Caller performs a Trusted OS RPC call. Within the applet this is
// github.com/usbarmory/GoTEE/syscall.Call, any net/rpc client also
// satisfies it.
type Caller interface {
	Call(serviceMethod string, args any, reply any) error
}

// CallerFunc adapts a function to the Caller interface.
type CallerFunc func(serviceMethod string, args any, reply any) error

// Call calls f(serviceMethod, args, reply).
func (f CallerFunc) Call(serviceMethod string, args any, reply any) error {
	return f(serviceMethod, args, reply)
}

// RPCOpener opens Trusted OS service sessions over RPC.
type RPCOpener struct {
	Caller Caller
}

// OpenTASession opens a session to the Trusted OS service identified by id.
func (o *RPCOpener) OpenTASession(id uuid.UUID, types tee.ParamTypes, params *tee.Params) (PTASession, tee.Result, tee.Origin) {
	res := &rpc.PTAResult{}

	req := rpc.PTAOpen{
		UUID:   id,
		Types:  types,
		Params: params.Outbound(types),
	}

	if err := o.Caller.Call("RPC.OpenPTASession", req, res); err != nil {
		klog.Errorf("TA RPC.OpenPTASession error, %v", err)
		return nil, tee.ErrorCommunication, tee.OriginComms
	}

	if res.Result != tee.Success {
		return nil, res.Result, res.Origin
	}

	merge(params, res.Params, types)

	return &rpcSession{caller: o.Caller, id: res.Session}, tee.Success, tee.OriginTEE
}

type rpcSession struct {
	caller Caller
	id     uint32
}

func (s *rpcSession) Invoke(cmd uint32, types tee.ParamTypes, params *tee.Params) (tee.Result, tee.Origin) {
	res := &rpc.PTAResult{}

	req := rpc.PTAInvoke{
		Session: s.id,
		Command: cmd,
		Types:   types,
		Params:  params.Outbound(types),
	}

	if err := s.caller.Call("RPC.InvokePTA", req, res); err != nil {
		klog.Errorf("TA RPC.InvokePTA error, %v", err)
		return tee.ErrorCommunication, tee.OriginComms
	}

	merge(params, res.Params, types)

	return res.Result, res.Origin
}

func (s *rpcSession) Close() {
	if err := s.caller.Call("RPC.ClosePTASession", s.id, nil); err != nil {
		klog.Errorf("TA RPC.ClosePTASession error, %v", err)
	}
}

// merge copies the output parameters received from the callee into params,
// reusing the caller buffers.
func merge(params *tee.Params, out tee.Params, types tee.ParamTypes) {
	for i := range params {
		t := types.Get(i)

		if !t.IsOutput() {
			continue
		}

		switch {
		case t.IsValue():
			params[i].Value = out[i].Value
		case t.IsMemref():
			copy(params[i].Memref.Buffer, out[i].Memref.Buffer)
			params[i].Memref.Size = out[i].Memref.Size
		}
	}
}
