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

package bootlog

import (
	"k8s.io/klog/v2"

	"github.com/transparency-dev/tmesg/api"
	"github.com/transparency-dev/tmesg/tee"
)

var (
	getSizeTypes = tee.Types(tee.ParamValueOutput, tee.ParamNone, tee.ParamNone, tee.ParamNone)
	getMsgTypes  = tee.Types(tee.ParamMemrefOutput, tee.ParamNone, tee.ParamNone, tee.ParamNone)
	clearTypes   = tee.Types(tee.ParamNone, tee.ParamNone, tee.ParamNone, tee.ParamNone)
)

// Service is the boot log pseudo Trusted Application, it runs with Trusted
// OS privileges and is the only path to the boot log from User mode.
type Service struct {
	Log *Log
}

// Invoke serves a boot log service command.
func (s *Service) Invoke(cmd uint32, types tee.ParamTypes, params *tee.Params) tee.Result {
	switch cmd {
	case api.PTA_BOOT_LOG_GET_SIZE:
		return s.getSize(types, params)
	case api.PTA_BOOT_LOG_GET_MSG:
		return s.getMessage(types, params)
	case api.PTA_BOOT_LOG_CLEAR:
		return s.clear(types)
	}

	klog.Errorf("SM boot log: unsupported command %#x", cmd)

	return tee.ErrorNotImplemented
}

func (s *Service) getSize(types tee.ParamTypes, params *tee.Params) tee.Result {
	if types != getSizeTypes {
		klog.Errorf("SM boot log: expected %v, got %v", getSizeTypes, types)
		return tee.ErrorBadParameters
	}

	params[0].Value.A = uint32(s.Log.Len())

	return tee.Success
}

func (s *Service) getMessage(types tee.ParamTypes, params *tee.Params) tee.Result {
	if types != getMsgTypes {
		klog.Errorf("SM boot log: expected %v, got %v", getMsgTypes, types)
		return tee.ErrorBadParameters
	}

	m := &params[0].Memref

	if uint32(len(m.Buffer)) < m.Size {
		return tee.ErrorBadParameters
	}

	n, err := s.Log.Copy(m.Buffer[:m.Size])
	m.Size = uint32(n)

	if err != nil {
		klog.V(1).Infof("SM boot log: short buffer, %d bytes required", n)
		return tee.ErrorShortBuffer
	}

	return tee.Success
}

func (s *Service) clear(types tee.ParamTypes) tee.Result {
	if types != clearTypes {
		klog.Errorf("SM boot log: expected %v, got %v", clearTypes, types)
		return tee.ErrorBadParameters
	}

	klog.Infof("SM clearing boot log (%d bytes)", s.Log.Len())
	s.Log.Clear()

	return tee.Success
}
