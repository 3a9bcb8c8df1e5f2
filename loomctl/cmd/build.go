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

package cmd

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"

	"github.com/bootloom/bootloom/pkg/layout"
)

// Build implements subcommands.Command for the "build" command.
type Build struct {
	out     string
	gbPages bool
}

// Name implements subcommands.Command.Name.
func (*Build) Name() string {
	return "build"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Build) Synopsis() string {
	return "write a boot page-table image"
}

// Usage implements subcommands.Command.Usage.
func (*Build) Usage() string {
	return `build [flags] - write a boot page-table image.

The image is a flat dump of the table workspace, ready to be loaded at the
layout's table base. Entry zero of the image is the root table, so the table
base is also the CR3 value.

`
}

// SetFlags implements subcommands.Command.SetFlags.
func (b *Build) SetFlags(f *flag.FlagSet) {
	f.StringVar(&b.out, "out", "tables.bin", "file to write the image to")
	f.BoolVar(&b.gbPages, "gb-pages", true, "cover the direct map with 1GiB pages")
}

// Execute implements subcommands.Command.Execute.
func (b *Build) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	l := args[0].(*layout.Layout)
	arena, m := buildTables(l, b.gbPages)

	image := arena.Bytes()
	if err := os.WriteFile(b.out, image, 0644); err != nil {
		Fatalf("writing image: %v", err)
	}
	fmt.Printf("wrote %d tables (%d bytes) to %s\n", arena.Allocated(), len(image), b.out)
	fmt.Printf("  cr3         %#x\n", m.CR3())
	for _, table := range []struct {
		name string
		pa   uint64
	}{
		{"root", uint64(m.Root)},
		{"low pdp", uint64(m.LowPDP)},
		{"direct pdp", uint64(m.DirectPDP)},
		{"high pdp", uint64(m.HighPDP)},
		{"first pd", uint64(m.FirstPD)},
	} {
		fmt.Printf("  %-11s %#x\n", table.name, table.pa)
	}
	return subcommands.ExitSuccess
}
