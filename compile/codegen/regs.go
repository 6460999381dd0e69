// Copyright (c) 2024 The Falcon Contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

// Physical register tables for ISA386 and ISAAMD64, grounded on the
// teacher's compile/codegen/arch_x86.go register list, trimmed to the
// integer subset (floating point emission is a Non-goal) and restructured
// into the allocator's alias/interference model (spec.md §3, §4.9).
package codegen

import "falcon/compile/types"

func alias(name string, kind PhysKind) *Register {
	return &Register{Name: name, KindMask: kind}
}

// amd64Regs builds the sixteen general-purpose registers of x86-64, each
// with its 64/32/16/8-bit aliases wired as a mutual interference set and
// its 64-bit form as the designated save register.
func amd64Regs() []*Register {
	names := [][4]string{
		{"rax", "eax", "ax", "al"}, {"rbx", "ebx", "bx", "bl"},
		{"rcx", "ecx", "cx", "cl"}, {"rdx", "edx", "dx", "dl"},
		{"rsi", "esi", "si", "sil"}, {"rdi", "edi", "di", "dil"},
		{"r8", "r8d", "r8w", "r8b"}, {"r9", "r9d", "r9w", "r9b"},
		{"r10", "r10d", "r10w", "r10b"}, {"r11", "r11d", "r11w", "r11b"},
		{"r12", "r12d", "r12w", "r12b"}, {"r13", "r13d", "r13w", "r13b"},
		{"r14", "r14d", "r14w", "r14b"}, {"r15", "r15d", "r15w", "r15b"},
		{"rbp", "ebp", "bp", "bpl"}, {"rsp", "esp", "sp", "spl"},
	}
	var all []*Register
	for _, n := range names {
		r64 := alias(n[0], KindInt64)
		r32 := alias(n[1], KindInt32)
		r16 := alias(n[2], KindInt16)
		r8 := alias(n[3], KindInt8)
		group := []*Register{r64, r32, r16, r8}
		for _, g := range group {
			g.SaveAs = r64
			for _, other := range group {
				if other != g {
					g.Aliases = append(g.Aliases, other)
				}
			}
		}
		all = append(all, group...)
	}
	for _, r := range all {
		if r.SaveAs.Name == "rbp" || r.SaveAs.Name == "rsp" {
			r.IsSpecialPurpose = true
		}
	}
	for _, name := range []string{"rbx", "rbp", "r12", "r13", "r14", "r15"} {
		for _, r := range all {
			if r.SaveAs.Name == name {
				r.IsCalleeSave = true
			}
		}
	}
	return all
}

// x86Regs builds the eight legacy 32-bit registers of x86-32. There is no
// 64-bit integer kind on this target (spec.md §1 Non-goals).
func x86Regs() []*Register {
	names := [][3]string{
		{"eax", "ax", "al"}, {"ebx", "bx", "bl"}, {"ecx", "cx", "cl"}, {"edx", "dx", "dl"},
		{"esi", "si", ""}, {"edi", "di", ""}, {"ebp", "bp", ""}, {"esp", "sp", ""},
	}
	var all []*Register
	for _, n := range names {
		r32 := alias(n[0], KindInt32)
		r16 := alias(n[1], KindInt16)
		group := []*Register{r32, r16}
		if n[2] != "" {
			r8 := alias(n[2], KindInt8)
			group = append(group, r8)
		}
		for _, g := range group {
			g.SaveAs = r32
			for _, other := range group {
				if other != g {
					g.Aliases = append(g.Aliases, other)
				}
			}
		}
		all = append(all, group...)
	}
	for _, r := range all {
		if r.SaveAs.Name == "ebp" || r.SaveAs.Name == "esp" {
			r.IsSpecialPurpose = true
		}
	}
	for _, name := range []string{"ebx", "ebp", "esi", "edi"} {
		for _, r := range all {
			if r.SaveAs.Name == name {
				r.IsCalleeSave = true
			}
		}
	}
	return all
}

// PhysicalRegisters returns the interned physical register table for isa.
// Per spec.md §9's CompilerContext design note this would live in the
// context's type-keyed cache; here it is memoized per ISA since the table
// is immutable and read-only after construction.
func PhysicalRegisters(isa types.TargetISA) []*Register {
	switch isa {
	case types.ISAAMD64:
		return amd64RegsCached
	case types.ISA386:
		return x86RegsCached
	}
	panic("unknown ISA")
}

var amd64RegsCached = amd64Regs()
var x86RegsCached = x86Regs()

// StackPointer and FramePointer return the special-purpose registers the
// writer needs explicitly (prologue/epilogue, address computation).
func StackPointer(isa types.TargetISA) *Register { return findSave(isa, spName(isa)) }
func FramePointer(isa types.TargetISA) *Register { return findSave(isa, bpName(isa)) }

func spName(isa types.TargetISA) string {
	if isa == types.ISAAMD64 {
		return "rsp"
	}
	return "esp"
}

func bpName(isa types.TargetISA) string {
	if isa == types.ISAAMD64 {
		return "rbp"
	}
	return "ebp"
}

func findSave(isa types.TargetISA, name string) *Register {
	for _, r := range PhysicalRegisters(isa) {
		if r.Name == name {
			return r
		}
	}
	panic("register not found: " + name)
}

// K reports the number of non-special-purpose physical registers whose
// kind mask overlaps r's (spec.md §4.9's colorability bound).
func K(isa types.TargetISA, r *Register) int {
	count := 0
	for _, p := range PhysicalRegisters(isa) {
		if !p.IsSpecialPurpose && p.KindMask&r.KindMask != 0 {
			count++
		}
	}
	return count
}

// CallerSaved returns every physical register of kind that is not
// callee-save and not special purpose -- the candidates the allocator may
// freely hand out, and the set live across a call must avoid.
func CallerSaved(isa types.TargetISA, kind PhysKind) []*Register {
	var out []*Register
	for _, r := range PhysicalRegisters(isa) {
		if r.KindMask&kind != 0 && !r.IsCalleeSave && !r.IsSpecialPurpose {
			out = append(out, r)
		}
	}
	return out
}

// ArgReg returns the idx'th integer-argument physical register under the
// System V AMD64 ABI for amd64, or the corresponding x86-32 cdecl register
// is absent (arguments are stack-passed); spec.md §1 restricts the scope to
// a parameterless `main`-style entry, so this exists only to widen the
// RTL->Asm mapping toward a real ABI without being exercised by the single
// supported entry point.
func ArgReg(isa types.TargetISA, idx int, kind PhysKind) *Register {
	if isa != types.ISAAMD64 {
		return nil
	}
	order := []string{"rdi", "rsi", "rdx", "rcx", "r8", "r9"}
	if idx >= len(order) {
		return nil
	}
	for _, r := range PhysicalRegisters(isa) {
		if r.SaveAs.Name == order[idx] && r.KindMask == kind {
			return r
		}
	}
	return nil
}
