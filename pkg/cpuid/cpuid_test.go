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

import (
	"testing"
)

// packString packs s into consecutive 32-bit registers, four bytes each.
func packString(s string) []uint32 {
	for len(s)%4 != 0 {
		s += "\x00"
	}
	regs := make([]uint32, 0, len(s)/4)
	for i := 0; i < len(s); i += 4 {
		regs = append(regs, uint32(s[i])|uint32(s[i+1])<<8|uint32(s[i+2])<<16|uint32(s[i+3])<<24)
	}
	return regs
}

func staticWithVendor() Static {
	return make(Static).Set(In{Eax: uint32(vendorID)}, Out{
		Eax: uint32(featureInfo),
		Ebx: 0x756e6547, // "Genu"
		Edx: 0x49656e69, // "ineI"
		Ecx: 0x6c65746e, // "ntel"
	})
}

func TestVendorID(t *testing.T) {
	fs := staticWithVendor().ToFeatureSet()
	vid := fs.VendorID()
	if got := string(vid[:]); got != "GenuineIntel" {
		t.Errorf("VendorID got %q, wanted %q", got, "GenuineIntel")
	}
	if !fs.Intel() {
		t.Errorf("Intel() got false, wanted true")
	}
	if fs.AMD() {
		t.Errorf("AMD() got true, wanted false")
	}
}

func TestBrandString(t *testing.T) {
	s := staticWithVendor()
	const brand = "bootloom virtual 64-bit cpu"
	regs := packString(brand)
	for len(regs) < 12 {
		regs = append(regs, 0)
	}
	s.Set(In{Eax: uint32(extendedFunctionInfo)}, Out{Eax: uint32(addressSizes)})
	for leaf := 0; leaf < 3; leaf++ {
		s.Set(In{Eax: uint32(processorBrandString2) + uint32(leaf)}, Out{
			Eax: regs[leaf*4+0],
			Ebx: regs[leaf*4+1],
			Ecx: regs[leaf*4+2],
			Edx: regs[leaf*4+3],
		})
	}
	fs := s.ToFeatureSet()
	if got := fs.BrandString(); got != brand {
		t.Errorf("BrandString got %q, wanted %q", got, brand)
	}
}

func TestBrandStringUnavailable(t *testing.T) {
	fs := staticWithVendor().ToFeatureSet()
	if got := fs.BrandString(); got != "" {
		t.Errorf("BrandString without extended leaves got %q, wanted empty", got)
	}
}

func TestMaxExtendedFunction(t *testing.T) {
	s := staticWithVendor()
	fs := s.ToFeatureSet()
	if got := fs.MaxExtendedFunction(); got != 0 {
		t.Errorf("MaxExtendedFunction with no extended leaves got %#x, wanted 0", got)
	}
	// CPUs without extended functions echo basic-leaf data here; anything
	// below extendedStart must read as zero.
	s.Set(In{Eax: uint32(extendedFunctionInfo)}, Out{Eax: 0xd})
	fs = s.ToFeatureSet()
	if got := fs.MaxExtendedFunction(); got != 0 {
		t.Errorf("MaxExtendedFunction with echoed basic leaf got %#x, wanted 0", got)
	}
	s.Set(In{Eax: uint32(extendedFunctionInfo)}, Out{Eax: uint32(addressSizes)})
	fs = s.ToFeatureSet()
	if got := fs.MaxExtendedFunction(); got != uint32(addressSizes) {
		t.Errorf("MaxExtendedFunction got %#x, wanted %#x", got, uint32(addressSizes))
	}
}

func TestFeatureGating(t *testing.T) {
	// The LM bit is present in the extended-features leaf, but the CPU
	// claims no extended functions at all. The feature must not register.
	s := staticWithVendor()
	s.Set(In{Eax: uint32(extendedFeatures)}, Out{Edx: 1 << 29})
	fs := s.ToFeatureSet()
	if fs.HasLongMode() {
		t.Errorf("HasLongMode got true with no extended leaves, wanted false")
	}
	// Raising the maximum extended function exposes it.
	s.Set(In{Eax: uint32(extendedFunctionInfo)}, Out{Eax: uint32(extendedFeatures)})
	fs = s.ToFeatureSet()
	if !fs.HasLongMode() {
		t.Errorf("HasLongMode got false, wanted true")
	}
}

func TestAddRemove(t *testing.T) {
	s := staticWithVendor()
	s.Add(X86FeatureLM).Add(X86FeatureGBPages).Add(X86FeaturePAE)
	fs := s.ToFeatureSet()
	for _, f := range []Feature{X86FeatureLM, X86FeatureGBPages, X86FeaturePAE} {
		if !fs.HasFeature(f) {
			t.Errorf("HasFeature(%v) got false after Add, wanted true", f)
		}
	}
	// Add must have raised the maximum extended function to cover LM.
	if got := fs.MaxExtendedFunction(); got < uint32(extendedFeatures) {
		t.Errorf("MaxExtendedFunction got %#x, wanted at least %#x", got, uint32(extendedFeatures))
	}
	if fs.HasFeature(X86FeatureNX) {
		t.Errorf("HasFeature(nx) got true, wanted false")
	}

	s.Remove(X86FeatureGBPages)
	fs = s.ToFeatureSet()
	if fs.HasGBPages() {
		t.Errorf("HasGBPages got true after Remove, wanted false")
	}
	if !fs.HasLongMode() {
		t.Errorf("HasLongMode got false after unrelated Remove, wanted true")
	}
}

func TestAddressBits(t *testing.T) {
	s := staticWithVendor()
	fs := s.ToFeatureSet()
	if got := fs.PhysicalAddressBits(); got != 0 {
		t.Errorf("PhysicalAddressBits without leaf got %d, wanted 0", got)
	}
	s.Set(In{Eax: uint32(extendedFunctionInfo)}, Out{Eax: uint32(addressSizes)})
	s.Set(In{Eax: uint32(addressSizes)}, Out{Eax: 48<<8 | 46})
	fs = s.ToFeatureSet()
	if got := fs.PhysicalAddressBits(); got != 46 {
		t.Errorf("PhysicalAddressBits got %d, wanted 46", got)
	}
	if got := fs.VirtualAddressBits(); got != 48 {
		t.Errorf("VirtualAddressBits got %d, wanted 48", got)
	}
}

func TestToStaticPreservesFeatures(t *testing.T) {
	s := staticWithVendor()
	s.Add(X86FeatureLM).Add(X86FeaturePAE).Add(X86FeaturePSE).Add(X86FeatureNX)
	fs := s.ToFeatureSet()
	round := fs.ToStatic().ToFeatureSet()
	for feature := range x86Features {
		if got, want := round.HasFeature(feature), fs.HasFeature(feature); got != want {
			t.Errorf("HasFeature(%v) after round trip got %v, wanted %v", feature, got, want)
		}
	}
	vid := round.VendorID()
	if got := string(vid[:]); got != "GenuineIntel" {
		t.Errorf("VendorID after round trip got %q, wanted %q", got, "GenuineIntel")
	}
}

func TestQueryNormalizesEcx(t *testing.T) {
	s := staticWithVendor()
	s.Add(X86FeatureLM)
	fs := s.ToFeatureSet()
	// Garbage in Ecx must not miss the stored leaf.
	out := fs.Query(In{Eax: uint32(extendedFeatures), Ecx: 7})
	if out.Edx&(1<<29) == 0 {
		t.Errorf("Query with stray Ecx missed the leaf: got %+v", out)
	}
}
