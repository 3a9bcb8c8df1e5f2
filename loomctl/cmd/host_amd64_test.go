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
	"testing"

	"github.com/bootloom/bootloom/pkg/cpuid"
)

func TestHostFunction(t *testing.T) {
	fn := hostFunction()
	if fn == nil {
		t.Fatal("hostFunction got nil, wanted a model of this amd64 host")
	}

	got := cpuid.FeatureSet{Function: fn}
	host := cpuid.HostFeatureSet()
	if got.HasLongMode() != host.HasLongMode() {
		t.Errorf("model reports long mode %v, host has %v", got.HasLongMode(), host.HasLongMode())
	}
	if got.HasGBPages() != host.HasGBPages() {
		t.Errorf("model reports 1GiB pages %v, host has %v", got.HasGBPages(), host.HasGBPages())
	}

	// The model is a snapshot, so repeated queries cannot disagree.
	in := cpuid.In{Eax: 0}
	if a, b := fn.Query(in), fn.Query(in); a != b {
		t.Errorf("snapshot query not stable: %+v then %+v", a, b)
	}
}
