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

package api

import (
	"bytes"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Status represents the Trusted OS status.
type Status struct {
	Serial        string
	HAB           bool
	Revision      string
	Build         string
	Version       string
	Runtime       string
	AppletVersion string
	AppletRunning bool

	BootLogSize     uint32
	BootLogCapacity uint32
	BootLogDropped  uint64
}

const (
	statusSerial protowire.Number = iota + 1
	statusHAB
	statusRevision
	statusBuild
	statusVersion
	statusRuntime
	statusAppletVersion
	statusAppletRunning
	statusBootLogSize
	statusBootLogCapacity
	statusBootLogDropped
)

func boolToUint(b bool) uint64 {
	if b {
		return 1
	}

	return 0
}

// Bytes serializes an API message.
func (p *Status) Bytes() (buf []byte) {
	for _, f := range []struct {
		num protowire.Number
		s   string
	}{
		{statusSerial, p.Serial},
		{statusRevision, p.Revision},
		{statusBuild, p.Build},
		{statusVersion, p.Version},
		{statusRuntime, p.Runtime},
		{statusAppletVersion, p.AppletVersion},
	} {
		if len(f.s) == 0 {
			continue
		}

		buf = protowire.AppendTag(buf, f.num, protowire.BytesType)
		buf = protowire.AppendString(buf, f.s)
	}

	for _, f := range []struct {
		num protowire.Number
		v   uint64
	}{
		{statusHAB, boolToUint(p.HAB)},
		{statusAppletRunning, boolToUint(p.AppletRunning)},
		{statusBootLogSize, uint64(p.BootLogSize)},
		{statusBootLogCapacity, uint64(p.BootLogCapacity)},
		{statusBootLogDropped, p.BootLogDropped},
	} {
		if f.v == 0 {
			continue
		}

		buf = protowire.AppendTag(buf, f.num, protowire.VarintType)
		buf = protowire.AppendVarint(buf, f.v)
	}

	return
}

// Unmarshal parses a serialized Status.
func (p *Status) Unmarshal(buf []byte) error {
	*p = Status{}

	fields := map[protowire.Number]*string{
		statusSerial:        &p.Serial,
		statusRevision:      &p.Revision,
		statusBuild:         &p.Build,
		statusVersion:       &p.Version,
		statusRuntime:       &p.Runtime,
		statusAppletVersion: &p.AppletVersion,
	}

	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return protowire.ParseError(n)
		}
		buf = buf[n:]

		if s, ok := fields[num]; ok && typ == protowire.BytesType {
			*s, n = protowire.ConsumeString(buf)
		} else if typ == protowire.VarintType {
			var v uint64
			v, n = protowire.ConsumeVarint(buf)

			switch num {
			case statusHAB:
				p.HAB = v != 0
			case statusAppletRunning:
				p.AppletRunning = v != 0
			case statusBootLogSize:
				p.BootLogSize = uint32(v)
			case statusBootLogCapacity:
				p.BootLogCapacity = uint32(v)
			case statusBootLogDropped:
				p.BootLogDropped = v
			}
		} else {
			n = protowire.ConsumeFieldValue(num, typ, buf)
		}

		if n < 0 {
			return protowire.ParseError(n)
		}
		buf = buf[n:]
	}

	return nil
}

// Print returns the Trusted OS status in textual format.
func (p *Status) Print() string {
	var status bytes.Buffer

	status.WriteString("----------------------------------------------------------- Trusted OS ----\n")
	status.WriteString(fmt.Sprintf("Serial number ..........: %s\n", p.Serial))
	status.WriteString(fmt.Sprintf("Secure Boot ............: %v\n", p.HAB))
	status.WriteString(fmt.Sprintf("Revision ...............: %s\n", p.Revision))
	status.WriteString(fmt.Sprintf("Build ..................: %s\n", p.Build))
	status.WriteString(fmt.Sprintf("Version ................: %s\n", p.Version))
	status.WriteString(fmt.Sprintf("Runtime ................: %s\n", p.Runtime))
	status.WriteString(fmt.Sprintf("Applet .................: %s (running: %v)\n", p.AppletVersion, p.AppletRunning))
	status.WriteString(fmt.Sprintf("Boot log ...............: %d/%d bytes (%d dropped)", p.BootLogSize, p.BootLogCapacity, p.BootLogDropped))

	return status.String()
}
