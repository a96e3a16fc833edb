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
	"flag"
	"io"

	"k8s.io/klog/v2"
)

// SetKlogOutput directs klog at w only. Each entry is written once, at its
// own severity, instead of once per severity level at or below it.
func SetKlogOutput(w io.Writer) {
	fs := flag.NewFlagSet("klog", flag.ContinueOnError)
	klog.InitFlags(fs)

	fs.Set("logtostderr", "false")
	fs.Set("alsologtostderr", "false")
	fs.Set("one_output", "true")
	fs.Set("stderrthreshold", "FATAL")

	klog.SetOutput(w)
}
