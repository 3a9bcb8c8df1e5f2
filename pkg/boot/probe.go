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

package boot

import (
	"github.com/bootloom/bootloom/pkg/machine"
	"github.com/bootloom/bootloom/pkg/multiboot"
)

// CheckMagic validates the loader's register signature. A multiboot2 loader
// leaves multiboot.Magic in EAX before jumping to the kernel; anything else
// means the environment the loader promised (the info block, the machine
// state) cannot be trusted.
func CheckMagic(magic uint32) error {
	if magic != multiboot.Magic {
		return failf(UnsupportedBoot)
	}
	return nil
}

// CheckCPUID verifies that the CPU implements the CPUID instruction. The
// instruction exists iff the ID flag (bit 21 of RFLAGS) can be toggled; on
// older CPUs the bit reads back unchanged. The original flags are restored
// before returning.
func CheckCPUID(cpu machine.CPU) error {
	orig := cpu.Flags()
	cpu.SetFlags(orig ^ machine.FlagID)
	flipped := cpu.Flags()
	cpu.SetFlags(orig)
	if (flipped^orig)&machine.FlagID == 0 {
		return failf(NoCPUID)
	}
	return nil
}

// Probe runs the boot environment checks in order: the loader signature,
// then CPUID presence, then long mode support. It returns the capabilities
// discovered along the way; on failure the returned error is an *Error
// carrying the first reason found.
func Probe(cpu machine.CPU, magic uint32) (Capabilities, error) {
	if err := CheckMagic(magic); err != nil {
		return Capabilities{}, err
	}
	if err := CheckCPUID(cpu); err != nil {
		return Capabilities{}, err
	}
	fs := machine.Features(cpu)
	if !fs.HasLongMode() {
		return Capabilities{}, failf(NoLongMode)
	}
	return Capabilities{
		GBPages: fs.HasGBPages(),
	}, nil
}
