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

	"github.com/hashicorp/go-multierror"
	"k8s.io/klog/v2"

	"github.com/transparency-dev/tmesg/api"
	"github.com/transparency-dev/tmesg/tee"
)

const (
	// shmSlack is added to the reported log size so that a few bytes logged
	// between the size and message requests still fit.
	shmSlack = 8

	// maxAttempts bounds message requests answered with a short buffer.
	maxAttempts = 3
)

// BootLog retrieves the secure boot log through the boot log Trusted Applet.
type BootLog struct {
	Transport Transport
}

// session runs fn within a fresh context and session, both are torn down
// before returning.
func (b *BootLog) session(ctx context.Context, fn func(c *Context, s *Session) error) (err error) {
	c, err := InitializeContext(b.Transport)
	if err != nil {
		return err
	}

	defer func() {
		if ferr := c.FinalizeContext(); ferr != nil {
			err = multierror.Append(err, ferr)
		}
	}()

	s, err := c.OpenSession(ctx, api.TMesgUUID, tee.LoginPublic, nil)
	if err != nil {
		return err
	}

	defer func() {
		if cerr := s.Close(ctx); cerr != nil {
			err = multierror.Append(err, cerr)
		}
	}()

	return fn(c, s)
}

func getSize(ctx context.Context, s *Session) (uint32, error) {
	op := &Operation{
		Types: Types(ParamValueOutput, ParamNone, ParamNone, ParamNone),
	}

	if err := s.InvokeCommand(ctx, api.TA_BOOT_LOG_GET_SIZE, op); err != nil {
		return 0, err
	}

	return op.Params[0].Value.A, nil
}

// Size returns the current boot log size in bytes.
func (b *BootLog) Size(ctx context.Context) (size uint32, err error) {
	err = b.session(ctx, func(_ *Context, s *Session) (err error) {
		size, err = getSize(ctx, s)
		return
	})

	return
}

// Message returns the boot log.
func (b *BootLog) Message(ctx context.Context) (msg []byte, err error) {
	err = b.session(ctx, func(c *Context, s *Session) error {
		size, err := getSize(ctx, s)
		if err != nil {
			return err
		}

		for attempt := 1; ; attempt++ {
			msg, size, err = getMessage(ctx, c, s, size)

			if !errors.Is(err, tee.ErrShortBuffer) || attempt == maxAttempts {
				return err
			}

			klog.V(1).Infof("boot log grew to %d bytes, retrying", size)
		}
	})

	return
}

// getMessage requests the boot log into a shared memory block sized after
// the expected size, on a short buffer it returns the size now required.
func getMessage(ctx context.Context, c *Context, s *Session, size uint32) ([]byte, uint32, error) {
	shm := &SharedMemory{
		Size:  size + shmSlack,
		Flags: MemOutput,
	}

	if err := c.AllocateSharedMemory(shm); err != nil {
		return nil, 0, err
	}
	defer c.ReleaseSharedMemory(shm)

	op := &Operation{
		Types: Types(ParamMemrefWhole, ParamNone, ParamNone, ParamNone),
	}
	op.Params[0].Memref.Parent = shm

	err := s.InvokeCommand(ctx, api.TA_BOOT_LOG_GET_MSG, op)
	n := op.Params[0].Memref.Size

	if err != nil {
		return nil, n, err
	}

	msg := make([]byte, n)
	copy(msg, shm.Buffer)

	return msg, n, nil
}

// Clear erases the boot log.
func (b *BootLog) Clear(ctx context.Context) error {
	return b.session(ctx, func(_ *Context, s *Session) error {
		return s.InvokeCommand(ctx, api.TA_BOOT_LOG_CLEAR, nil)
	})
}
