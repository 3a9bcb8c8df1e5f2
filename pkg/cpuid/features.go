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

package cpuid

// Feature is a unique identifier for a particular cpu feature.
type Feature int

// The features the boot path and its tooling test for. The catalog is
// deliberately small; it covers mode switching and paging strategy only.
const (
	// X86FeatureFPU is featureInfo edx bit 0.
	X86FeatureFPU Feature = iota

	// X86FeaturePSE is featureInfo edx bit 3.
	X86FeaturePSE

	// X86FeatureMSR is featureInfo edx bit 5 (RDMSR/WRMSR).
	X86FeatureMSR

	// X86FeaturePAE is featureInfo edx bit 6.
	X86FeaturePAE

	// X86FeatureAPIC is featureInfo edx bit 9.
	X86FeatureAPIC

	// X86FeatureSYSCALL is extendedFeatures edx bit 11.
	X86FeatureSYSCALL

	// X86FeatureNX is extendedFeatures edx bit 20 (execute disable).
	X86FeatureNX

	// X86FeatureGBPages is extendedFeatures edx bit 26 (1GiB pages).
	X86FeatureGBPages

	// X86FeatureRDTSCP is extendedFeatures edx bit 27.
	X86FeatureRDTSCP

	// X86FeatureLM is extendedFeatures edx bit 29 (long mode).
	X86FeatureLM
)

// cpuidReg names a CPUID output register.
type cpuidReg int

const (
	eaxReg cpuidReg = iota
	ebxReg
	ecxReg
	edxReg
)

func (r cpuidReg) extract(out Out) uint32 {
	switch r {
	case eaxReg:
		return out.Eax
	case ebxReg:
		return out.Ebx
	case ecxReg:
		return out.Ecx
	default:
		return out.Edx
	}
}

func (r cpuidReg) insert(out *Out, v uint32) {
	switch r {
	case eaxReg:
		out.Eax = v
	case ebxReg:
		out.Ebx = v
	case ecxReg:
		out.Ecx = v
	default:
		out.Edx = v
	}
}

// featureBit locates a feature in CPUID output.
type featureBit struct {
	function cpuidFunction
	register cpuidReg
	bit      uint
}

var x86Features = map[Feature]featureBit{
	X86FeatureFPU:     {featureInfo, edxReg, 0},
	X86FeaturePSE:     {featureInfo, edxReg, 3},
	X86FeatureMSR:     {featureInfo, edxReg, 5},
	X86FeaturePAE:     {featureInfo, edxReg, 6},
	X86FeatureAPIC:    {featureInfo, edxReg, 9},
	X86FeatureSYSCALL: {extendedFeatures, edxReg, 11},
	X86FeatureNX:      {extendedFeatures, edxReg, 20},
	X86FeatureGBPages: {extendedFeatures, edxReg, 26},
	X86FeatureRDTSCP:  {extendedFeatures, edxReg, 27},
	X86FeatureLM:      {extendedFeatures, edxReg, 29},
}

// featureNames uses the Linux flag spellings where they exist.
var featureNames = map[Feature]string{
	X86FeatureFPU:     "fpu",
	X86FeaturePSE:     "pse",
	X86FeatureMSR:     "msr",
	X86FeaturePAE:     "pae",
	X86FeatureAPIC:    "apic",
	X86FeatureSYSCALL: "syscall",
	X86FeatureNX:      "nx",
	X86FeatureGBPages: "pdpe1gb",
	X86FeatureRDTSCP:  "rdtscp",
	X86FeatureLM:      "lm",
}

// String implements fmt.Stringer.String.
func (f Feature) String() string {
	if name, ok := featureNames[f]; ok {
		return name
	}
	return "unknown"
}

// check returns true iff the feature bit is set in the query output. A
// feature in an extended leaf is absent when the leaf itself is.
//
//go:nosplit
func (f Feature) check(fs FeatureSet) bool {
	b, ok := x86Features[f]
	if !ok {
		return false
	}
	if b.function >= extendedStart && fs.MaxExtendedFunction() < uint32(b.function) {
		return false
	}
	out := fs.Query(In{Eax: b.function.eax(), Ecx: b.function.ecx()})
	return b.register.extract(out)&(1<<b.bit) != 0
}

// set installs or clears the feature bit in a static set, raising the
// maximum extended function when an extended leaf becomes populated.
func (f Feature) set(s Static, on bool) {
	b, ok := x86Features[f]
	if !ok {
		return
	}
	in := In{Eax: b.function.eax(), Ecx: b.function.ecx()}
	in.normalize()
	out := s[in]
	v := b.register.extract(out)
	if on {
		v |= 1 << b.bit
	} else {
		v &^= 1 << b.bit
	}
	b.register.insert(&out, v)
	s[in] = out
	if on && b.function >= extendedStart {
		maxIn := In{Eax: extendedFunctionInfo.eax()}
		maxOut := s[maxIn]
		if maxOut.Eax < uint32(b.function) {
			maxOut.Eax = uint32(b.function)
			s[maxIn] = maxOut
		}
	}
}
