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
	"gopkg.in/yaml.v2"

	"github.com/bootloom/bootloom/pkg/bootarch"
	"github.com/bootloom/bootloom/pkg/layout"
	"github.com/bootloom/bootloom/pkg/longmode/pagetables"
)

// Dump implements subcommands.Command for the "dump" command.
type Dump struct {
	gbPages bool
	format  string
	all     bool
}

// Name implements subcommands.Command.Name.
func (*Dump) Name() string {
	return "dump"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Dump) Synopsis() string {
	return "print the translations of a boot page-table image"
}

// Usage implements subcommands.Command.Usage.
func (*Dump) Usage() string {
	return `dump [flags] - print the translations of a boot page-table image.

The tables are built in memory from the effective layout and every coalesced
translation run is printed in ascending virtual order. The recursive slot
also exposes each table as a 4KiB window; those runs are noise for most
readers and are skipped unless -all is given.

`
}

// SetFlags implements subcommands.Command.SetFlags.
func (d *Dump) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&d.gbPages, "gb-pages", true, "cover the direct map with 1GiB pages")
	f.StringVar(&d.format, "format", "text", "output format: text or yaml")
	f.BoolVar(&d.all, "all", false, "include the recursive map's table windows")
}

// Execute implements subcommands.Command.Execute.
func (d *Dump) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	l := args[0].(*layout.Layout)
	arena, m := buildTables(l, d.gbPages)

	mappings, err := pagetables.Mappings(arena, m.Root)
	if err != nil {
		Fatalf("walking tables: %v", err)
	}
	if !d.all {
		kept := mappings[:0]
		for _, mp := range mappings {
			if mp.Virt.Index(bootarch.PML4) == l.SelfSlot {
				continue
			}
			kept = append(kept, mp)
		}
		mappings = kept
	}

	switch d.format {
	case "text":
		for _, mp := range mappings {
			fmt.Println(mp)
		}
	case "yaml":
		type record struct {
			Virt  string `yaml:"virt"`
			Phys  string `yaml:"phys"`
			Size  string `yaml:"size"`
			Level string `yaml:"level"`
			Flags string `yaml:"flags"`
		}
		records := make([]record, 0, len(mappings))
		for _, mp := range mappings {
			records = append(records, record{
				Virt:  fmt.Sprintf("%#x", uint64(mp.Virt)),
				Phys:  fmt.Sprintf("%#x", uint64(mp.Phys)),
				Size:  fmt.Sprintf("%#x", mp.Size),
				Level: mp.Level.String(),
				Flags: mp.Flags.String(),
			})
		}
		out, err := yaml.Marshal(records)
		if err != nil {
			Fatalf("encoding mappings: %v", err)
		}
		os.Stdout.Write(out)
	default:
		Fatalf("invalid format %q, must be 'text' or 'yaml'", d.format)
	}
	return subcommands.ExitSuccess
}
