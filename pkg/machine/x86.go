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

package machine

// RFLAGS bits.
const (
	// FlagReserved is bit 1, architecturally always set.
	FlagReserved uint64 = 1 << 1

	// FlagID is the identification flag. Software that can toggle it has
	// the CPUID instruction.
	FlagID uint64 = 1 << 21
)

// CR0 bits.
const (
	// CR0PE enables protected mode.
	CR0PE uint64 = 1 << 0

	// CR0MP controls WAIT/FWAIT behavior with TS.
	CR0MP uint64 = 1 << 1

	// CR0EM forces software emulation of x87 instructions.
	CR0EM uint64 = 1 << 2

	// CR0TS marks the task as switched for lazy FPU saves.
	CR0TS uint64 = 1 << 3

	// CR0ET is hardwired on modern parts.
	CR0ET uint64 = 1 << 4

	// CR0NE enables native x87 error reporting.
	CR0NE uint64 = 1 << 5

	// CR0WP makes supervisor writes honor read-only pages.
	CR0WP uint64 = 1 << 16

	// CR0AM enables alignment checking with EFLAGS.AC.
	CR0AM uint64 = 1 << 18

	// CR0NW disables write-through caching.
	CR0NW uint64 = 1 << 29

	// CR0CD disables the cache.
	CR0CD uint64 = 1 << 30

	// CR0PG enables paging. With EFER.LME set this activates long mode.
	CR0PG uint64 = 1 << 31
)

// CR4 bits.
const (
	// CR4PSE enables 4MiB pages in 32-bit paging.
	CR4PSE uint64 = 1 << 4

	// CR4PAE enables physical address extension, a prerequisite of the
	// 4-level page table format.
	CR4PAE uint64 = 1 << 5

	// CR4PGE enables global pages.
	CR4PGE uint64 = 1 << 7

	// CR4OSFXSR enables FXSAVE/FXRSTOR and SSE.
	CR4OSFXSR uint64 = 1 << 9

	// CR4OSXMMEXCPT enables unmasked SSE exceptions.
	CR4OSXMMEXCPT uint64 = 1 << 10

	// CR4FSGSBASE enables the {RD,WR}{FS,GS}BASE instructions.
	CR4FSGSBASE uint64 = 1 << 16

	// CR4PCIDE enables process context identifiers.
	CR4PCIDE uint64 = 1 << 17

	// CR4OSXSAVE enables XSAVE and processor extended states.
	CR4OSXSAVE uint64 = 1 << 18

	// CR4SMEP blocks supervisor execution of user pages.
	CR4SMEP uint64 = 1 << 20
)

// EFER bits.
const (
	// EFERSCE enables SYSCALL/SYSRET.
	EFERSCE uint64 = 1 << 0

	// EFERLME enables long mode; it takes effect when paging is enabled.
	EFERLME uint64 = 1 << 8

	// EFERLMA indicates long mode is active. Set by hardware, not
	// software.
	EFERLMA uint64 = 1 << 10

	// EFERNX enables the no-execute page bit.
	EFERNX uint64 = 1 << 11
)

// Model specific register numbers.
const (
	// MSREFER is the extended feature enable register.
	MSREFER uint32 = 0xc0000080

	// MSRFSBase holds the FS segment base in long mode.
	MSRFSBase uint32 = 0xc0000100

	// MSRGSBase holds the GS segment base in long mode.
	MSRGSBase uint32 = 0xc0000101
)
