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
package codegen

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"falcon/compile/rtl"
	"falcon/compile/types"
	"falcon/compile/values"
	"falcon/internal/testutil"
)

func newCodegenFunc(name string) (*Func, *types.Table) {
	tbl := types.NewTable()
	return NewFunc(name, tbl, types.ISAAMD64), tbl
}

// TestLowerPointerArithmeticScalesByElementSize is S5: Add(ptr, int) must
// scale the integer operand by the pointee's element size before adding it
// to the pointer, spec.md §4.7's pointer-arithmetic special case.
func TestLowerPointerArithmeticScalesByElementSize(t *testing.T) {
	tbl := types.NewTable()
	i32 := tbl.Integer(true, types.W32)
	ptrT := tbl.Pointer(i32)

	fn := rtl.NewFunc("ptradd", tbl, types.ISA386)
	b := fn.NewBlock(rtl.BlockEnd)
	fn.Start = b

	addr := fn.NewReg(ptrT)
	idx := fn.NewReg(i32)
	sum := fn.NewReg(ptrT)
	b.AddInstr(&rtl.Instr{Op: rtl.OpAdd, Dst: sum, Args: []*rtl.Reg{addr, idx}})

	afn := Lower(fn, types.ISA386)
	instrs := afn.Start.Instrs
	var gotOps []Op
	for _, instr := range instrs {
		gotOps = append(gotOps, instr.Op)
	}
	testutil.DiffOrFail(t, gotOps, []Op{OpLoadConstant, OpMul, OpAdd})
	if instrs[0].Const.Bits != 4 {
		t.Fatalf("expected the element size (4 bytes for i32 on x86-32) loaded first, got %v", instrs[0])
	}
}

// TestLowerPlainIntegerAddDoesNotScale confirms the non-pointer Add path
// stays a simple move+add, so the pointer special case in
// TestLowerPointerArithmeticScalesByElementSize is actually conditional on
// operand type rather than always firing.
func TestLowerPlainIntegerAddDoesNotScale(t *testing.T) {
	tbl := types.NewTable()
	i32 := tbl.Integer(true, types.W32)
	fn := rtl.NewFunc("add", tbl, types.ISAAMD64)
	b := fn.NewBlock(rtl.BlockEnd)
	fn.Start = b
	a := fn.NewReg(i32)
	c := fn.NewReg(i32)
	sum := fn.NewReg(i32)
	b.AddInstr(&rtl.Instr{Op: rtl.OpAdd, Dst: sum, Args: []*rtl.Reg{a, c}})

	afn := Lower(fn, types.ISAAMD64)
	instrs := afn.Start.Instrs
	if len(instrs) != 2 || instrs[0].Op != OpMove || instrs[1].Op != OpAdd {
		t.Fatalf("expected a plain move+add, got %v", instrs)
	}
}

// buildPressureChain adds a chain of n sequential adds over regs, returning
// the final sum register, anchored by a Store so it is never dead.
func buildPressureChain(fn *Func, b *Block, i32 *types.Type, regs []*Register) *Register {
	prev := regs[0]
	for i := 1; i < len(regs); i++ {
		sum := fn.NewVirtualReg(i32)
		b.AddInstr(&Instr{Op: OpAdd, Dst: sum, Args: []*Register{prev, regs[i]}})
		prev = sum
	}
	addr := fn.NewVirtualReg(fn.Types.Pointer(i32))
	b.AddInstr(&Instr{Op: OpLoadConstant, Dst: addr, Const: values.VarPtr(new(int), 0)})
	b.AddInstr(&Instr{Op: OpStore, Addr: addr, Args: []*Register{prev}})
	return prev
}

// TestAllocateRematerializesConstantsUnderPressure is S4's constant-spill
// half: 20 simultaneously-live 32-bit constants exceed amd64's 14-register
// K for KindInt32, so the allocator must spill some -- and since every one
// of them is a LoadConstant-defined value, it must rematerialize rather
// than reach for a frame slot (spec.md §4.9's "isConstant" special case).
func TestAllocateRematerializesConstantsUnderPressure(t *testing.T) {
	fn, tbl := newCodegenFunc("spillconst")
	i32 := tbl.Integer(true, types.W32)
	b := fn.NewBlock()
	fn.Start = b

	regs := make([]*Register, 20)
	for i := 0; i < 20; i++ {
		r := fn.NewVirtualReg(i32)
		regs[i] = r
		b.AddInstr(&Instr{Op: OpLoadConstant, Dst: r, Const: values.Int(true, types.W32, int64(i))})
	}
	buildPressureChain(fn, b, i32, regs)

	Allocate(fn)

	require.EqualValues(t, 0, fn.FrameSize, "pure-constant spills must rematerialize, not grow the frame")
	for _, instr := range b.Instrs {
		require.NotContains(t, []Op{OpLoadLocal, OpStoreLocal}, instr.Op,
			"expected no frame spill code for constant-only pressure, found %v", instr)
	}
}

// TestAllocateSpillsNonConstantsToFrame is S4's frame-spill half: the same
// pressure shape but over Move-defined (non-constant) registers must fall
// back to a frame slot with LoadLocal/StoreLocal splices.
func TestAllocateSpillsNonConstantsToFrame(t *testing.T) {
	fn, tbl := newCodegenFunc("spillframe")
	i32 := tbl.Integer(true, types.W32)
	b := fn.NewBlock()
	fn.Start = b

	moved := make([]*Register, 20)
	for i := 0; i < 20; i++ {
		c := fn.NewVirtualReg(i32)
		b.AddInstr(&Instr{Op: OpLoadConstant, Dst: c, Const: values.Int(true, types.W32, int64(i))})
		m := fn.NewVirtualReg(i32)
		b.AddInstr(&Instr{Op: OpMove, Dst: m, Args: []*Register{c}})
		moved[i] = m
	}
	buildPressureChain(fn, b, i32, moved)

	Allocate(fn)

	require.NotZero(t, fn.FrameSize, "expected non-constant pressure to grow the frame")
	var sawSpillCode bool
	for _, instr := range b.Instrs {
		if instr.Op == OpLoadLocal || instr.Op == OpStoreLocal {
			sawSpillCode = true
		}
	}
	require.True(t, sawSpillCode, "expected at least one LoadLocal/StoreLocal spill splice")
}

func TestDCERemovesDeadInstructionButKeepsSideEffects(t *testing.T) {
	fn, tbl := newCodegenFunc("dce")
	i32 := tbl.Integer(true, types.W32)
	b := fn.NewBlock()
	fn.Start = b

	dead := fn.NewVirtualReg(i32)
	b.AddInstr(&Instr{Op: OpLoadConstant, Dst: dead, Const: values.Int(true, types.W32, 42)})

	kept := fn.NewVirtualReg(i32)
	b.AddInstr(&Instr{Op: OpLoadConstant, Dst: kept, Const: values.Int(true, types.W32, 1)})
	addr := fn.NewVirtualReg(tbl.Pointer(i32))
	b.AddInstr(&Instr{Op: OpLoadConstant, Dst: addr, Const: values.VarPtr(new(int), 0)})
	b.AddInstr(&Instr{Op: OpStore, Addr: addr, Args: []*Register{kept}})

	if !DCE(fn) {
		t.Fatalf("expected DCE to report a change")
	}
	for _, instr := range b.Instrs {
		if instr.Dst == dead {
			t.Fatalf("expected the unused LoadConstant to be swept, found %v", instr)
		}
	}
	var sawStore bool
	for _, instr := range b.Instrs {
		if instr.Op == OpStore {
			sawStore = true
		}
	}
	if !sawStore {
		t.Fatalf("a Store has a side effect and must never be removed")
	}
}

// TestWriterSuppressesFallthroughJump is S6: an unconditional jump to the
// block immediately following in program order must not emit a redundant
// jmp, and that block must not get its own alignment directive.
func TestWriterSuppressesFallthroughJump(t *testing.T) {
	fn, tbl := newCodegenFunc("fallthrough")
	i32 := tbl.Integer(true, types.W32)
	b0 := fn.NewBlock()
	b1 := fn.NewBlock()
	fn.Start = b0

	b0.WireTo(b1)
	b0.AddInstr(&Instr{Op: OpJump, True: b1})
	b1.AddInstr(&Instr{Op: OpLoadConstant, Dst: fn.NewVirtualReg(i32), Const: values.Int(true, types.W32, 1)})

	out := Write(fn, DialectIntel)

	require.NotContains(t, out, "jmp", "expected no jmp for a fallthrough edge")
	require.Equal(t, 2, strings.Count(out, ".align 16, 0x90"),
		"expected exactly 2 alignment directives (prologue + b0's own), b1 should join without one:\n%s", out)
	require.Equal(t, 2, strings.Count(out, ".Ltmp"), "expected both blocks to still get a label:\n%s", out)
}

func TestWriterEmitsCFIPrologueAndEpilogue(t *testing.T) {
	fn, _ := newCodegenFunc("leaf")
	b := fn.NewBlock()
	fn.Start = b

	out := Write(fn, DialectIntel)
	for _, want := range []string{"leaf:", ".cfi_startproc", ".cfi_endproc", "ret"} {
		require.Contains(t, out, want)
	}
}

// TestWriterCFIOffsetMatchesPushedFramePointerWidth checks the pushed frame
// pointer's CFI unwind offsets scale with the ISA's pointer width: 4 bytes
// (ebp) on x86-32, not the amd64 8-byte (rbp) figure.
func TestWriterCFIOffsetMatchesPushedFramePointerWidth(t *testing.T) {
	tbl := types.NewTable()
	fn := NewFunc("leaf32", tbl, types.ISA386)
	b := fn.NewBlock()
	fn.Start = b

	out := Write(fn, DialectIntel)
	require.Contains(t, out, ".cfi_def_cfa_offset 8")
	require.Contains(t, out, ".cfi_offset %ebp, -8")
	require.NotContains(t, out, ".cfi_def_cfa_offset 16")
}
