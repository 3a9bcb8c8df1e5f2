// Copyright 2024 The bootloom Authors.
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

// Package cmd holds implementations of the loomctl commands.
package cmd

import (
	"fmt"
	"os"

	"github.com/bootloom/bootloom/pkg/layout"
	"github.com/bootloom/bootloom/pkg/log"
	"github.com/bootloom/bootloom/pkg/longmode/pagetables"
	"github.com/bootloom/bootloom/pkg/memutil"
)

// Fatalf logs to stderr and exits with a failure status code.
func Fatalf(format string, args ...any) {
	log.Warningf(format, args...)
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	// Return an error that is unlikely to be used by the application.
	os.Exit(128)
}

// buildTables assembles the boot tables in an anonymous workspace placed as
// the layout demands. The arena doubles as the walker's memory, so callers
// can translate and enumerate without a simulated machine.
func buildTables(l *layout.Layout, gbPages bool) (*pagetables.Arena, *pagetables.BootMap) {
	base, size := l.TableRegion()
	backing, err := memutil.MapAnonymous(int(size))
	if err != nil {
		Fatalf("mapping table workspace: %v", err)
	}
	arena := pagetables.NewArena(backing, base)
	m := pagetables.BuildBootMap(arena, l, gbPages)
	log.Debugf("Built %d tables at %#x, CR3 %#x", arena.Allocated(), uint64(base), m.CR3())
	return arena, m
}
