// Copyright 2025 The bootloom Authors.
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

//go:build amd64
// +build amd64

package cmd

import (
	"github.com/bootloom/bootloom/pkg/cpuid"
)

// hostFunction returns a CPUID model snapshotting the host CPU, so a
// simulated boot can answer "would this machine make it into long mode".
func hostFunction() cpuid.Function {
	return cpuid.HostFeatureSet().ToStatic()
}
