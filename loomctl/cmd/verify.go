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

	"github.com/google/subcommands"
	"golang.org/x/sync/errgroup"

	"github.com/bootloom/bootloom/pkg/boot"
	"github.com/bootloom/bootloom/pkg/bootarch"
	"github.com/bootloom/bootloom/pkg/cpuid"
	"github.com/bootloom/bootloom/pkg/layout"
	"github.com/bootloom/bootloom/pkg/longmode/pagetables"
	"github.com/bootloom/bootloom/pkg/machine"
	"github.com/bootloom/bootloom/pkg/multiboot"
	"github.com/bootloom/bootloom/pkg/vga"
)

// Verify implements subcommands.Command for the "verify" command.
type Verify struct {
	jobs int
}

// Name implements subcommands.Command.Name.
func (*Verify) Name() string {
	return "verify"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Verify) Synopsis() string {
	return "check the boot properties across simulated machines"
}

// Usage implements subcommands.Command.Usage.
func (*Verify) Usage() string {
	return `verify [flags] - check the boot properties across simulated machines.

Each scenario boots its own simulated machine, capable or degraded, and
asserts what the sequence must have done to it: capable machines end at the
kernel entry point with every alias resolving, degraded machines end parked
with the right diagnostic on the text surface and the workspace untouched.

`
}

// SetFlags implements subcommands.Command.SetFlags.
func (v *Verify) SetFlags(f *flag.FlagSet) {
	f.IntVar(&v.jobs, "jobs", 0, "maximum concurrent scenarios; 0 runs all at once")
}

// Execute implements subcommands.Command.Execute.
func (v *Verify) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	l := args[0].(*layout.Layout)

	checks := scenarios()
	results := make([]error, len(checks))
	var g errgroup.Group
	if v.jobs > 0 {
		g.SetLimit(v.jobs)
	}
	for i, c := range checks {
		i, c := i, c // per-iteration copies; this module predates go1.22 loopvar semantics under the go1.21 toolchain
		g.Go(func() error {
			results[i] = c.run(l)
			return results[i]
		})
	}
	err := g.Wait()

	for i, c := range checks {
		if results[i] != nil {
			fmt.Printf("FAIL %-24s %v\n", c.name, results[i])
		} else {
			fmt.Printf("PASS %s\n", c.name)
		}
	}
	if err != nil {
		return subcommands.ExitFailure
	}
	fmt.Printf("all %d scenarios passed\n", len(checks))
	return subcommands.ExitSuccess
}

type scenario struct {
	name string
	run  func(l *layout.Layout) error
}

func scenarios() []scenario {
	return []scenario{
		{"boots-with-gb-pages", verifyBoots(true)},
		{"boots-without-gb-pages", verifyBoots(false)},
		{"aliases-resolve", verifyAliases},
		{"rejects-wrong-magic", verifyRejects(boot.UnsupportedBoot)},
		{"rejects-missing-cpuid", verifyRejects(boot.NoCPUID)},
		{"rejects-missing-long-mode", verifyRejects(boot.NoLongMode)},
	}
}

const verifyInfoPtr = 0x9000

// bootMachine builds a machine in the state a loader leaves it, runs the
// sequence and returns both for inspection. The caller closes the machine.
func bootMachine(l *layout.Layout, features cpuid.Static, noCPUID bool, magic uint64) (*machine.Sim, *boot.Sequence, error) {
	const ramBytes = 16 << 20
	sim, err := machine.NewSim(ramBytes, features)
	if err != nil {
		return nil, nil, err
	}
	sim.NoCPUID = noCPUID

	info := multiboot.NewWriter().
		BootLoaderName("loomctl verify").
		MemoryMap([]multiboot.MemoryRegion{
			{Base: 0, Length: 0x9fc00, Type: multiboot.MemoryAvailable},
			{Base: 0x100000, Length: ramBytes - 0x100000, Type: multiboot.MemoryAvailable},
		}).
		Bytes()
	w, err := sim.View(verifyInfoPtr, uint64(len(info)))
	if err != nil {
		sim.Close()
		return nil, nil, err
	}
	copy(w, info)
	sim.SetReg(machine.RAX, magic)
	sim.SetReg(machine.RBX, verifyInfoPtr)

	seq := &boot.Sequence{CPU: sim, Mem: sim, Layout: l}
	_, err = seq.Run()
	return sim, seq, err
}

func verifyBoots(gbPages bool) func(l *layout.Layout) error {
	return func(l *layout.Layout) error {
		features := make(cpuid.Static).Add(cpuid.X86FeatureLM)
		if gbPages {
			features = features.Add(cpuid.X86FeatureGBPages)
		}
		sim, seq, err := bootMachine(l, features, false, uint64(multiboot.Magic))
		if sim != nil {
			defer sim.Close()
		}
		if err != nil {
			return err
		}
		if fault := sim.Fault(); fault != "" {
			return fmt.Errorf("machine faulted: %s", fault)
		}
		if !sim.Jumped() || sim.RIP() != uint64(l.KernelEntry) {
			return fmt.Errorf("entered at %#x, wanted %#x", sim.RIP(), uint64(l.KernelEntry))
		}
		if efer := sim.MSR(machine.MSREFER); efer&machine.EFERLMA == 0 {
			return fmt.Errorf("EFER %#x, long mode never activated", efer)
		}
		if got := seq.Capabilities().GBPages; got != gbPages {
			return fmt.Errorf("probe found gb-pages=%v, machine has %v", got, gbPages)
		}

		// The second gigabyte of the direct map exists exactly when the
		// machine can map 1GiB leaves.
		va := l.DirectBase + bootarch.VirtAddr(bootarch.SuperPageSize)
		_, _, present, err := pagetables.Translate(sim, seq.BootMap().Root, va)
		if err != nil {
			return err
		}
		if present != gbPages {
			return fmt.Errorf("direct map beyond 1GiB: present=%v, wanted %v", present, gbPages)
		}
		return nil
	}
}

func verifyAliases(l *layout.Layout) error {
	sim, seq, err := bootMachine(l, make(cpuid.Static).Add(cpuid.X86FeatureLM).Add(cpuid.X86FeatureGBPages), false, uint64(multiboot.Magic))
	if sim != nil {
		defer sim.Close()
	}
	if err != nil {
		return err
	}
	root := seq.BootMap().Root

	const pa = bootarch.PhysAddr(0x200000 + 0x777)
	w, err := sim.View(uint64(pa), 4)
	if err != nil {
		return err
	}
	copy(w, "weft")

	for _, va := range []bootarch.VirtAddr{bootarch.VirtAddr(pa), l.HighVirt(pa), l.DirectVirt(pa)} {
		got, _, present, err := pagetables.Translate(sim, root, va)
		if err != nil {
			return err
		}
		if !present {
			return fmt.Errorf("%#x not mapped", uint64(va))
		}
		if got != pa {
			return fmt.Errorf("%#x resolves to %#x, wanted %#x", uint64(va), uint64(got), uint64(pa))
		}
		b, err := sim.View(uint64(got), 4)
		if err != nil {
			return err
		}
		if string(b) != "weft" {
			return fmt.Errorf("read %q through %#x", b, uint64(va))
		}
	}
	return nil
}

func verifyRejects(reason boot.Reason) func(l *layout.Layout) error {
	return func(l *layout.Layout) error {
		features := make(cpuid.Static).Add(cpuid.X86FeatureLM).Add(cpuid.X86FeatureGBPages)
		noCPUID := false
		magic := uint64(multiboot.Magic)
		switch reason {
		case boot.UnsupportedBoot:
			magic = 0
		case boot.NoCPUID:
			noCPUID = true
		case boot.NoLongMode:
			features = make(cpuid.Static)
		}

		sim, seq, err := bootMachine(l, features, noCPUID, magic)
		if sim != nil {
			defer sim.Close()
		}
		if !errors.Is(err, &boot.Error{Reason: reason}) {
			return fmt.Errorf("sequence returned %v, wanted reason %v", err, reason)
		}
		if seq.State() != boot.Failed {
			return fmt.Errorf("sequence ended at %v, wanted %v", seq.State(), boot.Failed)
		}
		if !sim.Halted() {
			return errors.New("CPU not parked")
		}
		if sim.Jumped() {
			return errors.New("control handed off despite the failure")
		}

		window, err := sim.View(uint64(l.VGABase), vga.BufferBytes)
		if err != nil {
			return err
		}
		buf, err := vga.NewBuffer(window)
		if err != nil {
			return err
		}
		if got, want := buf.Row(0), boot.Diagnostic(reason); got != want {
			return fmt.Errorf("diagnostic %q, wanted %q", got, want)
		}

		base, size := l.TableRegion()
		workspace, err := sim.View(uint64(base), size)
		if err != nil {
			return err
		}
		for i, b := range workspace {
			if b != 0 {
				return fmt.Errorf("table workspace dirtied at +%#x", i)
			}
		}
		return nil
	}
}
