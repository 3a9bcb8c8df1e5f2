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
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/google/subcommands"
	"golang.org/x/term"

	"github.com/bootloom/bootloom/pkg/boot"
	"github.com/bootloom/bootloom/pkg/cpuid"
	"github.com/bootloom/bootloom/pkg/layout"
	"github.com/bootloom/bootloom/pkg/log"
	"github.com/bootloom/bootloom/pkg/machine"
	"github.com/bootloom/bootloom/pkg/multiboot"
	"github.com/bootloom/bootloom/pkg/vga"
)

// Simulate implements subcommands.Command for the "simulate" command.
type Simulate struct {
	ramMiB     uint64
	magic      uint64
	infoPtr    uint64
	cmdline    string
	loader     string
	host       bool
	noGBPages  bool
	noLongMode bool
	noCPUID    bool
}

// Name implements subcommands.Command.Name.
func (*Simulate) Name() string {
	return "simulate"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Simulate) Synopsis() string {
	return "run the boot sequence against a simulated machine"
}

// Usage implements subcommands.Command.Usage.
func (*Simulate) Usage() string {
	return `simulate [flags] - run the boot sequence against a simulated machine.

The machine starts the way a multiboot2 loader leaves it: protected mode, an
information block in low memory, the magic in EAX and the block pointer in
EBX. Each state transition is printed as it happens. A successful run ends
with the machine state at the kernel entry point; a failed run prints the
diagnostic left on the text surface and exits nonzero.

The -no-* flags degrade the machine to exercise the validation paths. The
-host flag instead models the CPU on the host's own CPUID, answering whether
this machine's feature set would boot.

`
}

// SetFlags implements subcommands.Command.SetFlags.
func (s *Simulate) SetFlags(f *flag.FlagSet) {
	f.Uint64Var(&s.ramMiB, "ram", 16, "simulated RAM size in MiB")
	f.Uint64Var(&s.magic, "magic", uint64(multiboot.Magic), "value the loader left in EAX")
	f.Uint64Var(&s.infoPtr, "info", 0x9000, "physical address of the information block")
	f.StringVar(&s.cmdline, "cmdline", "root=/dev/ram0", "kernel command line in the information block")
	f.StringVar(&s.loader, "loader", "loomctl simulate", "boot loader name in the information block")
	f.BoolVar(&s.host, "host", false, "model the CPU on the host's CPUID (amd64 hosts only)")
	f.BoolVar(&s.noGBPages, "no-gb-pages", false, "simulate a CPU without 1GiB pages")
	f.BoolVar(&s.noLongMode, "no-long-mode", false, "simulate a CPU without long mode")
	f.BoolVar(&s.noCPUID, "no-cpuid", false, "simulate a CPU without the CPUID instruction")
}

// Execute implements subcommands.Command.Execute.
func (s *Simulate) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	l := args[0].(*layout.Layout)

	var model cpuid.Function
	if s.host {
		if s.noLongMode || s.noGBPages || s.noCPUID {
			Fatalf("-host models the real CPU; the -no-* flags cannot degrade it")
		}
		if model = hostFunction(); model == nil {
			Fatalf("-host requires an amd64 host")
		}
	} else {
		features := make(cpuid.Static)
		if !s.noLongMode {
			features = features.Add(cpuid.X86FeatureLM)
			if !s.noGBPages {
				features = features.Add(cpuid.X86FeatureGBPages)
			}
		}
		model = features
	}
	sim, err := machine.NewSim(s.ramMiB<<20, model)
	if err != nil {
		Fatalf("creating machine: %v", err)
	}
	defer sim.Close()
	sim.NoCPUID = s.noCPUID

	ramBytes := s.ramMiB << 20
	info := multiboot.NewWriter().
		BootLoaderName(s.loader).
		CommandLine(s.cmdline).
		MemoryMap([]multiboot.MemoryRegion{
			{Base: 0, Length: 0x9fc00, Type: multiboot.MemoryAvailable},
			{Base: 0x100000, Length: ramBytes - 0x100000, Type: multiboot.MemoryAvailable},
		}).
		Bytes()
	w, err := sim.View(s.infoPtr, uint64(len(info)))
	if err != nil {
		Fatalf("placing information block at %#x: %v", s.infoPtr, err)
	}
	copy(w, info)
	sim.SetReg(machine.RAX, s.magic)
	sim.SetReg(machine.RBX, s.infoPtr)

	fs := cpuid.FeatureSet{Function: model}
	fmt.Printf("machine: %dMiB RAM, long mode %s, 1GiB pages %s, cpuid %s\n",
		s.ramMiB, onOff(fs.HasLongMode()), onOff(fs.HasGBPages()), onOff(!s.noCPUID))

	seq := &boot.Sequence{
		CPU:      sim,
		Mem:      sim,
		Layout:   l,
		Observer: func(st boot.State) { fmt.Printf("  state: %s\n", st) },
	}
	_, err = seq.Run()
	if log.IsLogging(log.Debug) {
		for _, op := range sim.Ops() {
			log.Debugf("op: %s", op)
		}
	}
	if err != nil {
		var verr *boot.Error
		if !errors.As(err, &verr) {
			Fatalf("%v", err)
		}
		fmt.Printf("boot failed: %v\n", verr)
		snapshotVGA(sim, l)
		return subcommands.ExitFailure
	}

	fmt.Println("boot complete:")
	fmt.Printf("  rip    %#x\n", sim.RIP())
	fmt.Printf("  cr0    %#x  cr3 %#x  cr4 %#x  efer %#x\n",
		sim.CR0(), sim.CR3(), sim.CR4(), sim.MSR(machine.MSREFER))
	gdtBase, gdtLimit := sim.GDT()
	fmt.Printf("  gdtr   %#x limit %#x\n", gdtBase, gdtLimit)
	fmt.Printf("  cs     %#x  data %#x\n", sim.Segment(machine.CS), sim.Segment(machine.DS))
	fmt.Printf("  rdi    %#x (handoff block, also rsp)\n", sim.Reg(machine.RDI))
	fmt.Printf("  %v, %v\n", seq.Args(), seq.Capabilities())
	return subcommands.ExitSuccess
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}

// ansiColors maps the text-mode palette to SGR foreground codes; background
// codes are the same plus ten.
var ansiColors = [16]int{
	vga.Black:        30,
	vga.Blue:         34,
	vga.Green:        32,
	vga.Cyan:         36,
	vga.Red:          31,
	vga.Magenta:      35,
	vga.Brown:        33,
	vga.LightGray:    37,
	vga.DarkGray:     90,
	vga.LightBlue:    94,
	vga.LightGreen:   92,
	vga.LightCyan:    96,
	vga.LightRed:     91,
	vga.LightMagenta: 95,
	vga.Yellow:       93,
	vga.White:        97,
}

// ansiRow renders the first width cells of a row, grouping runs of cells
// that share an attribute byte into one SGR sequence.
func ansiRow(buf *vga.Buffer, y, width int) string {
	var sb strings.Builder
	var last vga.Entry
	open := false
	for x := 0; x < width; x++ {
		e := buf.At(x, y)
		ch := e.Char()
		if ch == 0 {
			ch = ' '
		}
		if !open || e>>8 != last>>8 {
			if open {
				sb.WriteString("\x1b[0m")
			}
			fmt.Fprintf(&sb, "\x1b[%d;%dm", ansiColors[e.Foreground()], ansiColors[e.Background()]+10)
			open = true
			last = e
		}
		sb.WriteByte(ch)
	}
	if open {
		sb.WriteString("\x1b[0m")
	}
	return sb.String()
}

// snapshotVGA prints the non-blank rows of the text surface, colored when
// stdout is a terminal.
func snapshotVGA(sim *machine.Sim, l *layout.Layout) {
	window, err := sim.View(uint64(l.VGABase), vga.BufferBytes)
	if err != nil {
		return
	}
	buf, err := vga.NewBuffer(window)
	if err != nil {
		return
	}
	colored := term.IsTerminal(int(os.Stdout.Fd()))
	for y := 0; y < vga.Height; y++ {
		row := buf.Row(y)
		if row == "" {
			continue
		}
		if colored {
			row = ansiRow(buf, y, len(row))
		}
		fmt.Printf("  vga[%02d] %s\n", y, row)
	}
}
