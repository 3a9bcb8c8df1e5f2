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

// Package cpuid provides CPU identification for the boot feature probe.
//
// Queries go through the Function interface, which is implemented both by
// the native CPUID instruction and by Static, a plain map. Everything above
// this package (the probe, the simulator, the tooling) is written against
// Function, so the same checks run on real hardware and in hosted tests.
package cpuid

// cpuidFunction is a useful type wrapper. The format is eax | (ecx << 32).
type cpuidFunction uint64

func (f cpuidFunction) eax() uint32 {
	return uint32(f)
}

func (f cpuidFunction) ecx() uint32 {
	return uint32(f >> 32)
}

// The standard functions the boot path and tooling may execute. Note that
// these may not all be included in the set of functions we are allowed to
// execute, which are filtered in the Native.Query function.
const (
	vendorID    cpuidFunction = 0x0 // Returns vendor ID and largest standard function.
	featureInfo cpuidFunction = 0x1 // Returns basic feature bits and processor signature.
)

// The "extended" functions.
const (
	extendedStart         cpuidFunction = 0x80000000
	extendedFunctionInfo  cpuidFunction = extendedStart + 0 // Returns highest available extended function in eax.
	extendedFeatures                    = extendedStart + 1 // Returns some extended feature bits in edx and ecx.
	processorBrandString2               = extendedStart + 2 // Processor Name String Identifier.
	processorBrandString3               = extendedStart + 3 // Processor Name String Identifier.
	processorBrandString4               = extendedStart + 4 // Processor Name String Identifier.
	addressSizes                        = extendedStart + 8 // Physical and virtual address sizes.
)

var allowedBasicFunctions = [...]bool{
	vendorID:    true,
	featureInfo: true,
}

var allowedExtendedFunctions = [...]bool{
	extendedFunctionInfo - extendedStart:  true,
	extendedFeatures - extendedStart:      true,
	processorBrandString2 - extendedStart: true,
	processorBrandString3 - extendedStart: true,
	processorBrandString4 - extendedStart: true,
	addressSizes - extendedStart:          true,
}

// Function executes a CPUID function.
//
// This is typically the native function or a Static definition.
type Function interface {
	Query(In) Out
}

// In is input to the Query function.
type In struct {
	Eax uint32
	Ecx uint32
}

// normalize drops irrelevant Ecx values.
func (i *In) normalize() {
	switch cpuidFunction(i.Eax) {
	case vendorID, featureInfo, extendedFunctionInfo, extendedFeatures, addressSizes:
		i.Ecx = 0 // Ignore.
	case processorBrandString2, processorBrandString3, processorBrandString4:
		i.Ecx = 0 // Ignore.
	}
}

// Out is output from the Query function.
type Out struct {
	Eax uint32
	Ebx uint32
	Ecx uint32
	Edx uint32
}

// FeatureSet defines features in terms of CPUID leaves and bits.
//
// Common references:
//
// Intel:
//   - Intel SDM Volume 2, Chapter 3.2 "CPUID"
//
// AMD:
//   - AMD64 APM Volume 3, Appendix E "Obtaining Processor Information ..."
type FeatureSet struct {
	// Function is the underlying CPUID Function.
	//
	// This is exported to allow direct calls of the underlying CPUID
	// function, where required.
	Function
}

// query is an internal wrapper.
//
//go:nosplit
func (fs FeatureSet) query(fn cpuidFunction) (uint32, uint32, uint32, uint32) {
	out := fs.Query(In{Eax: fn.eax(), Ecx: fn.ecx()})
	return out.Eax, out.Ebx, out.Ecx, out.Edx
}

// Helper to convert 3 regs into 12-byte vendor ID.
//
//go:nosplit
func vendorIDFromRegs(bx, cx, dx uint32) (r [12]byte) {
	for i := uint(0); i < 4; i++ {
		r[i] = byte(bx >> (i * 8))
	}
	for i := uint(0); i < 4; i++ {
		r[4+i] = byte(dx >> (i * 8))
	}
	for i := uint(0); i < 4; i++ {
		r[8+i] = byte(cx >> (i * 8))
	}
	return r
}

// VendorID is the 12-char string returned in ebx:edx:ecx for eax=0.
//
//go:nosplit
func (fs FeatureSet) VendorID() [12]byte {
	_, bx, cx, dx := fs.query(vendorID)
	return vendorIDFromRegs(bx, cx, dx)
}

var (
	authenticAMD = [12]byte{'A', 'u', 't', 'h', 'e', 'n', 't', 'i', 'c', 'A', 'M', 'D'}
	genuineIntel = [12]byte{'G', 'e', 'n', 'u', 'i', 'n', 'e', 'I', 'n', 't', 'e', 'l'}
)

// AMD returns true if fs describes an AMD CPU.
//
//go:nosplit
func (fs FeatureSet) AMD() bool {
	return fs.VendorID() == authenticAMD
}

// Intel returns true if fs describes an Intel CPU.
//
//go:nosplit
func (fs FeatureSet) Intel() bool {
	return fs.VendorID() == genuineIntel
}

// BrandString returns the processor name from the extended brand string
// leaves, or the empty string if the leaves are unavailable.
func (fs FeatureSet) BrandString() string {
	if fs.MaxExtendedFunction() < uint32(processorBrandString4) {
		return ""
	}
	var b []byte
	for _, fn := range []cpuidFunction{processorBrandString2, processorBrandString3, processorBrandString4} {
		ax, bx, cx, dx := fs.query(fn)
		for _, r := range []uint32{ax, bx, cx, dx} {
			for i := uint(0); i < 4; i++ {
				if c := byte(r >> (i * 8)); c != 0 {
					b = append(b, c)
				}
			}
		}
	}
	return string(b)
}

// MaxExtendedFunction returns the highest available extended function, or
// zero if the CPU has none. CPUs without extended functions echo unrelated
// data for leaf 0x80000000, which reads below extendedStart.
//
//go:nosplit
func (fs FeatureSet) MaxExtendedFunction() uint32 {
	ax, _, _, _ := fs.query(extendedFunctionInfo)
	if ax < uint32(extendedStart) {
		return 0
	}
	return ax
}

// PhysicalAddressBits returns the number of bits available for physical
// addresses, or zero if the addressSizes leaf is unavailable.
//
//go:nosplit
func (fs FeatureSet) PhysicalAddressBits() uint32 {
	if fs.MaxExtendedFunction() < uint32(addressSizes) {
		return 0
	}
	ax, _, _, _ := fs.query(addressSizes)
	return ax & 0xff
}

// VirtualAddressBits returns the number of bits available for virtual
// addresses, or zero if the addressSizes leaf is unavailable.
//
//go:nosplit
func (fs FeatureSet) VirtualAddressBits() uint32 {
	if fs.MaxExtendedFunction() < uint32(addressSizes) {
		return 0
	}
	ax, _, _, _ := fs.query(addressSizes)
	return (ax >> 8) & 0xff
}

// HasFeature tests whether or not a feature is in the given feature set.
//
//go:nosplit
func (fs FeatureSet) HasFeature(feature Feature) bool {
	return feature.check(fs)
}

// HasLongMode returns true if the CPU can enter 64-bit long mode. This
// requires both the extended leaf carrying the bit and the bit itself.
//
//go:nosplit
func (fs FeatureSet) HasLongMode() bool {
	return fs.HasFeature(X86FeatureLM)
}

// HasGBPages returns true if the CPU supports 1GiB leaf entries at the
// third paging level.
//
//go:nosplit
func (fs FeatureSet) HasGBPages() bool {
	return fs.HasFeature(X86FeatureGBPages)
}
