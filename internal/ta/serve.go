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
	"context"
	"time"

	"k8s.io/klog/v2"

	"github.com/transparency-dev/tmesg/api/rpc"
)

// DefaultIdle is the default interval between request queue polls.
const DefaultIdle = 10 * time.Millisecond

// Serve polls the Trusted OS for client requests, serves them with s and
// posts back the responses, until ctx is done.
func Serve(ctx context.Context, c Caller, s *Server, idle time.Duration) error {
	if idle <= 0 {
		idle = DefaultIdle
	}

	defer s.CloseAll()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		served, err := serveOne(c, s)
		if err != nil {
			klog.Errorf("TA request error, %v", err)
		}

		if served {
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(idle):
		}
	}
}

func serveOne(c Caller, s *Server) (bool, error) {
	req := &rpc.Request{}

	if err := c.Call("RPC.NextRequest", nil, req); err != nil {
		return false, err
	}

	if !req.Valid {
		return false, nil
	}

	klog.V(2).Infof("TA request %d (%d bytes)", req.ID, len(req.Payload))

	rsp := rpc.Response{
		ID:      req.ID,
		Payload: s.HandleMessage(req.Payload),
	}

	return true, c.Call("RPC.SendResponse", rsp, nil)
}
