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
package rtl

import (
	"testing"

	"falcon/compile/ssa"
	"falcon/compile/types"
	"falcon/compile/values"
)

// buildDiamond builds an SSA function shaped like:
//
//	entry: if cond -> left, right
//	left:  x = 1; jump merge
//	right: x = 2; jump merge
//	merge: phi(x) ; end
//
// which is the minimal shape exercising critical-edge splitting (entry has
// two succs, merge has two preds and a phi) and phi resolution.
func buildDiamond(t *testing.T) *ssa.Func {
	t.Helper()
	tbl := types.NewTable()
	fn := ssa.NewFunc("diamond", tbl, types.ISAAMD64)
	i32 := tbl.Integer(true, types.W32)

	entry := fn.NewBlock(ssa.BlockPlain)
	left := fn.NewBlock(ssa.BlockPlain)
	right := fn.NewBlock(ssa.BlockPlain)
	merge := fn.NewBlock(ssa.BlockEnd)
	fn.Start = entry

	cond := fn.NewConst(tbl.Bool(), values.Bool(true))
	entry.AddValue(cond)
	entry.WireIf(cond, left, right)

	one := fn.NewConst(i32, values.Int(true, types.W32, 1))
	left.AddValue(one)
	left.WireTo(merge)

	two := fn.NewConst(i32, values.Int(true, types.W32, 2))
	right.AddValue(two)
	right.WireTo(merge)

	phi := fn.NewValue(ssa.OpPhi, i32)
	phi.Args = []*ssa.Value{one, two}
	merge.AddPhi(phi)
	merge.Preds = []*ssa.Block{left, right}

	return fn
}

func TestLowerSplitsCriticalEdgesAndResolvesPhis(t *testing.T) {
	fn := buildDiamond(t)
	rfn := Lower(fn)

	if rfn.Start == nil {
		t.Fatalf("expected a start block")
	}
	// None of the diamond's edges is critical (entry's successors carry no
	// phi, and left/right each have a single successor), so no block is
	// inserted; phi resolution appends a Move to the end of left and of
	// right, one per incoming edge of merge -- RTL has no phi instruction
	// at all.
	var sawMove bool
	for _, b := range rfn.Blocks {
		for _, instr := range b.Instrs {
			if instr.Op == OpMove {
				sawMove = true
			}
		}
	}
	if !sawMove {
		t.Fatalf("expected resolvePhis to have inserted at least one Move, found none in %v", rfn)
	}
}

func TestLowerUnifiesPhiConnectedRegisters(t *testing.T) {
	fn := buildDiamond(t)
	rfn := Lower(fn)

	// Every block's Move destined for the merge point should, after
	// unification, share the same virtual register as every other
	// edge's Move (spec.md §4.6 step 4).
	var dsts []*Reg
	for _, b := range rfn.Blocks {
		for _, instr := range b.Instrs {
			if instr.Op == OpMove {
				dsts = append(dsts, instr.Dst)
			}
		}
	}
	if len(dsts) < 2 {
		t.Fatalf("expected at least two Move instructions to compare, got %d", len(dsts))
	}
	for _, d := range dsts[1:] {
		if d != dsts[0] {
			t.Fatalf("expected all phi-connected Moves to share one register, got %v and %v", dsts[0], d)
		}
	}
}

// TestRTLSCCPCollapsesConstantBranch mirrors the SSA-level branch-collapse
// test at the RTL layer: a LoadConstant-true feeding a BlockIf's Ctrl
// register must fold to an unconditional jump.
func TestRTLSCCPCollapsesConstantBranch(t *testing.T) {
	tbl := types.NewTable()
	fn := NewFunc("cond", tbl, types.ISAAMD64)
	start := fn.NewBlock(BlockPlain)
	thenB := fn.NewBlock(BlockEnd)
	elseB := fn.NewBlock(BlockEnd)
	fn.Start = start

	cond := fn.NewReg(tbl.Bool())
	start.AddInstr(&Instr{Op: OpLoadConstant, Dst: cond, Const: values.Bool(true)})
	start.WireIf(cond, thenB, elseB)

	if !SCCP(fn) {
		t.Fatalf("expected RTL SCCP to report a change")
	}
	if start.Kind != BlockPlain {
		t.Fatalf("expected start to collapse to BlockPlain, got %v", start.Kind)
	}
	if len(start.Succs) != 1 || start.Succs[0] != thenB {
		t.Fatalf("expected the sole successor to be the true branch, got %v", start.Succs)
	}
}

// TestRTLSCCPPropagatesThroughAdd checks that an Add of two LoadConstants
// folds to a LoadConstant (spec.md §4.4's RTL-level evaluateForConstants).
func TestRTLSCCPPropagatesThroughAdd(t *testing.T) {
	tbl := types.NewTable()
	fn := NewFunc("add", tbl, types.ISAAMD64)
	i32 := tbl.Integer(true, types.W32)
	start := fn.NewBlock(BlockEnd)
	fn.Start = start

	a := fn.NewReg(i32)
	b := fn.NewReg(i32)
	sum := fn.NewReg(i32)
	start.AddInstr(&Instr{Op: OpLoadConstant, Dst: a, Const: values.Int(true, types.W32, 3)})
	start.AddInstr(&Instr{Op: OpLoadConstant, Dst: b, Const: values.Int(true, types.W32, 4)})
	start.AddInstr(&Instr{Op: OpAdd, Dst: sum, Args: []*Reg{a, b}})
	// Keep sum's defining instruction alive through dead-code sweeping so
	// the assertion below inspects the folded instruction.
	fn.Params = append(fn.Params, sum)

	if !SCCP(fn) {
		t.Fatalf("expected a change from folding the Add")
	}
	var sumInstr *Instr
	for _, instr := range start.Instrs {
		if instr.Dst == sum {
			sumInstr = instr
		}
	}
	if sumInstr == nil || sumInstr.Op != OpLoadConstant || sumInstr.Const.Bits != 7 {
		t.Fatalf("expected sum to fold to LoadConstant 7, got %v", sumInstr)
	}
}

// TestRTLSCCPJoinsRegisterByReachableEdgeNotReachableBlock guards against a
// regression where the entry-state join only checked whether a predecessor
// block was reachable, not whether its specific edge into the join point
// was. entry is a BlockIf whose true edge goes to t (live) and whose false
// edge goes directly to merge (dead) -- so entry is reachable but its edge
// into merge is not. merge's x must take its value from t's edge only; if
// the dead entry->merge edge leaked in, x would join 999 against 5 and
// become varying instead of folding to 5.
func TestRTLSCCPJoinsRegisterByReachableEdgeNotReachableBlock(t *testing.T) {
	tbl := types.NewTable()
	fn := NewFunc("deadedge", tbl, types.ISAAMD64)
	i32 := tbl.Integer(true, types.W32)

	entry := fn.NewBlock(BlockIf)
	tBlock := fn.NewBlock(BlockPlain)
	merge := fn.NewBlock(BlockIf)
	thenB := fn.NewBlock(BlockEnd)
	elseB := fn.NewBlock(BlockEnd)
	fn.Start = entry

	cond := fn.NewReg(tbl.Bool())
	entry.AddInstr(&Instr{Op: OpLoadConstant, Dst: cond, Const: values.Bool(true)})
	x := fn.NewReg(i32)
	entry.AddInstr(&Instr{Op: OpLoadConstant, Dst: x, Const: values.Int(true, types.W32, 999)})
	entry.WireIf(cond, tBlock, merge) // true->tBlock (live), false->merge (dead)

	tBlock.AddInstr(&Instr{Op: OpLoadConstant, Dst: x, Const: values.Int(true, types.W32, 5)})
	tBlock.WireTo(merge)

	five := fn.NewReg(i32)
	merge.AddInstr(&Instr{Op: OpLoadConstant, Dst: five, Const: values.Int(true, types.W32, 5)})
	ctrl := fn.NewReg(tbl.Bool())
	merge.AddInstr(&Instr{Op: OpCompare, Dst: ctrl, Args: []*Reg{x, five}, Cmp: ssa.CmpEQ})
	merge.WireIf(ctrl, thenB, elseB)

	SCCP(fn)

	if merge.Kind != BlockPlain {
		t.Fatalf("expected x to resolve to the constant 5 via the live edge only, "+
			"collapsing merge's branch to BlockPlain, got %v", merge.Kind)
	}
	if len(merge.Succs) != 1 || merge.Succs[0] != thenB {
		t.Fatalf("expected the sole successor to be thenB (x==5 is true), got %v", merge.Succs)
	}
}

// TestRTLSCCPDoesNotFoldLoad ensures memory operations stay varying, the
// RTL-level half of the S3 volatile-barrier invariant.
func TestRTLSCCPDoesNotFoldLoad(t *testing.T) {
	tbl := types.NewTable()
	fn := NewFunc("mem", tbl, types.ISAAMD64)
	i32 := tbl.Integer(true, types.W32)
	start := fn.NewBlock(BlockEnd)
	fn.Start = start

	addr := fn.NewReg(tbl.Pointer(i32))
	five := fn.NewReg(i32)
	loaded := fn.NewReg(i32)
	start.AddInstr(&Instr{Op: OpLoadConstant, Dst: addr, Const: values.VarPtr(new(int), 0)})
	start.AddInstr(&Instr{Op: OpLoadConstant, Dst: five, Const: values.Int(true, types.W32, 5)})
	start.AddInstr(&Instr{Op: OpStore, Addr: addr, Args: []*Reg{five}})
	start.AddInstr(&Instr{Op: OpLoad, Dst: loaded, Addr: addr})
	// Keep loaded's defining instruction alive through dead-code sweeping so
	// the assertion below actually inspects it rather than finding it gone.
	fn.Params = append(fn.Params, loaded)

	SCCP(fn)

	for _, instr := range start.Instrs {
		if instr.Dst == loaded && instr.Op != OpLoad {
			t.Fatalf("a load must never fold to a constant, got %v", instr.Op)
		}
	}
}
