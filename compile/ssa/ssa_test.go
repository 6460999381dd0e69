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
package ssa

import (
	"testing"

	"falcon/compile/types"
	"falcon/compile/values"
)

func newTestFunc(name string) (*Func, *types.Table) {
	tbl := types.NewTable()
	fn := NewFunc(name, tbl, types.ISAAMD64)
	return fn, tbl
}

// TestSCCPFoldsConditionalOnConstantBool builds `if (true) { } else { }` and
// checks the branch collapses to a plain jump with the unreachable successor
// pruned (spec.md §8's "conditional jump whose condition SCCPs to a concrete
// boolean" boundary behavior).
func TestSCCPFoldsConditionalOnConstantBool(t *testing.T) {
	fn, tbl := newTestFunc("cond")
	start := fn.NewBlock(BlockPlain)
	thenB := fn.NewBlock(BlockEnd)
	elseB := fn.NewBlock(BlockEnd)
	fn.Start = start

	cond := fn.NewConst(tbl.Bool(), values.Bool(true))
	start.AddValue(cond)
	start.WireIf(cond, thenB, elseB)

	if !SCCP(fn) {
		t.Fatalf("expected SCCP to report a change")
	}

	if start.Kind != BlockPlain {
		t.Fatalf("expected start to collapse to BlockPlain, got %v", start.Kind)
	}
	if len(start.Succs) != 1 || start.Succs[0] != thenB {
		t.Fatalf("expected the sole successor to be the true branch, got %v", start.Succs)
	}
	if elseB.PredIndex(start) >= 0 {
		t.Fatalf("expected the false branch's reverse pred edge to be gone")
	}
}

// TestSCCPJoinsPhiByReachableEdgeNotReachableBlock guards against a regression
// where joinPhi only checked whether a predecessor block was reachable,
// ignoring whether the specific incoming edge was. It builds a BlockIf whose
// true edge goes to T and whose false edge goes directly to the merge block
// M -- so entry is reachable but its edge into M is dead. M's phi must take
// its value only from the T edge; if the dead entry->M edge leaked in, the
// phi would join 999 against 5 and become varying instead of folding to 5.
func TestSCCPJoinsPhiByReachableEdgeNotReachableBlock(t *testing.T) {
	fn, tbl := newTestFunc("deadedge")
	i32 := tbl.Integer(true, types.W32)

	entry := fn.NewBlock(BlockIf)
	tBlock := fn.NewBlock(BlockPlain)
	merge := fn.NewBlock(BlockIf)
	thenB := fn.NewBlock(BlockEnd)
	elseB := fn.NewBlock(BlockEnd)
	fn.Start = entry

	cond := fn.NewConst(tbl.Bool(), values.Bool(true))
	entry.AddValue(cond)
	entry.WireIf(cond, tBlock, merge) // true->tBlock (live), false->merge (dead)

	five := fn.NewConst(i32, values.Int(true, types.W32, 5))
	tBlock.AddValue(five)
	tBlock.WireTo(merge)

	bad := fn.NewConst(i32, values.Int(true, types.W32, 999))
	entry.AddValue(bad)

	// merge.Preds is [entry, tBlock] (WireIf wires entry's false edge first,
	// then WireTo appends tBlock), so phi.Args must follow that order.
	phi := fn.NewValue(OpPhi, i32, bad, five)
	merge.AddPhi(phi)

	cmp := fn.NewValue(OpCompare, tbl.Bool(), phi, five)
	cmp.Cmp = CmpEQ
	merge.AddValue(cmp)
	merge.WireIf(cmp, thenB, elseB)

	SCCP(fn)

	if merge.Kind != BlockPlain {
		t.Fatalf("expected merge's phi to resolve to the constant 5 via the live edge only, "+
			"collapsing its branch to BlockPlain, got %v", merge.Kind)
	}
	if len(merge.Succs) != 1 || merge.Succs[0] != thenB {
		t.Fatalf("expected the sole successor to be thenB (phi==5 is true), got %v", merge.Succs)
	}
}

// TestSCCPDoesNotCollapseLoadStore is the S3 volatile-barrier invariant:
// a store-then-load pair on a volatile local is never constant-folded by
// SCCP, since OpLoad/OpStore always evaluate to "varying".
func TestSCCPDoesNotCollapseLoadStore(t *testing.T) {
	fn, tbl := newTestFunc("mem")
	i32 := tbl.Integer(true, types.W32)
	start := fn.NewBlock(BlockEnd)
	fn.Start = start

	v := &Variable{Name: "v", Kind: VarLocal, Type: tbl.Volatile(i32), Offset: NoStart}
	alloca := fn.NewValue(OpAlloca, tbl.Pointer(v.Type))
	alloca.Var = v
	start.AddValue(alloca)

	five := fn.NewConst(i32, values.Int(true, types.W32, 5))
	start.AddValue(five)
	store := fn.NewValue(OpStore, tbl.Void(), alloca, five)
	start.AddValue(store)
	load := fn.NewValue(OpLoad, i32, alloca)
	start.AddValue(load)

	SCCP(fn)

	if load.Op != OpLoad || store.Op != OpStore {
		t.Fatalf("volatile load/store must survive SCCP unchanged, got load=%v store=%v", load.Op, store.Op)
	}
}

// TestMem2RegPromotesNonVolatileLocal is spec.md §8's S2 scenario: a plain
// local assigned then read back in a loop promotes cleanly with no residual
// alloca/load/store.
func TestMem2RegPromotesNonVolatileLocal(t *testing.T) {
	fn, tbl := newTestFunc("loop")
	i32 := tbl.Integer(true, types.W32)

	entry := fn.NewBlock(BlockPlain)
	header := fn.NewBlock(BlockIf)
	body := fn.NewBlock(BlockPlain)
	exit := fn.NewBlock(BlockEnd)
	fn.Start = entry

	v := &Variable{Name: "i", Kind: VarLocal, Type: i32, Offset: NoStart}
	alloca := fn.NewValue(OpAlloca, tbl.Pointer(i32))
	alloca.Var = v
	entry.AddValue(alloca)
	zero := fn.NewConst(i32, values.Int(true, types.W32, 0))
	entry.AddValue(zero)
	entry.AddValue(fn.NewValue(OpStore, tbl.Void(), alloca, zero))
	entry.WireTo(header)

	loadHdr := fn.NewValue(OpLoad, i32, alloca)
	header.AddValue(loadHdr)
	ten := fn.NewConst(i32, values.Int(true, types.W32, 10))
	header.AddValue(ten)
	cmp := fn.NewValue(OpCompare, tbl.Bool(), loadHdr, ten)
	cmp.Cmp = CmpLT
	header.AddValue(cmp)
	header.WireIf(cmp, body, exit)

	loadBody := fn.NewValue(OpLoad, i32, alloca)
	body.AddValue(loadBody)
	one := fn.NewConst(i32, values.Int(true, types.W32, 1))
	body.AddValue(one)
	sum := fn.NewValue(OpAdd, i32, loadBody, one)
	body.AddValue(sum)
	body.AddValue(fn.NewValue(OpStore, tbl.Void(), alloca, sum))
	body.WireTo(header)

	if !isPromotable(alloca) {
		t.Fatalf("a local only ever loaded/stored through itself must be promotable")
	}

	changed := false
	for RunMem2Reg(fn) {
		changed = true
	}
	if !changed {
		t.Fatalf("expected Mem2Reg to promote the loop induction variable")
	}

	for _, b := range fn.Blocks {
		for _, val := range b.Values {
			if val.Op == OpAlloca || val.Op == OpLoad || val.Op == OpStore {
				t.Fatalf("expected no residual memory ops after promotion, found %v in %v", val.Op, b)
			}
		}
	}
	if len(header.Values) == 0 || header.Values[0].Op != OpPhi {
		t.Fatalf("expected header to gain a phi for the promoted variable")
	}
}

// TestMem2RegDoesNotPromoteEscapingLocal: a local whose address is stored
// into memory (escapes) must not be promoted (spec.md §8).
func TestMem2RegDoesNotPromoteEscapingLocal(t *testing.T) {
	fn, tbl := newTestFunc("escape")
	i32 := tbl.Integer(true, types.W32)
	start := fn.NewBlock(BlockEnd)
	fn.Start = start

	v := &Variable{Name: "i", Kind: VarLocal, Type: i32, Offset: NoStart}
	alloca := fn.NewValue(OpAlloca, tbl.Pointer(i32))
	alloca.Var = v
	start.AddValue(alloca)

	sink := &Variable{Name: "sink", Kind: VarLocal, Type: tbl.Pointer(i32), Offset: NoStart}
	sinkAlloca := fn.NewValue(OpAlloca, tbl.Pointer(sink.Type))
	sinkAlloca.Var = sink
	start.AddValue(sinkAlloca)

	// sinkAlloca := alloca  (store the address itself, not a loaded value)
	start.AddValue(fn.NewValue(OpStore, tbl.Void(), sinkAlloca, alloca))

	if isPromotable(alloca) {
		t.Fatalf("a local whose address escapes into another store must not be promotable")
	}
}

// TestMem2RegDoesNotPromoteVolatileLocal is the Mem2Reg half of the S3
// volatile-barrier invariant: a volatile local is excluded from promotion
// entirely, so its accesses always reach RTL/Asm as real loads/stores.
func TestMem2RegDoesNotPromoteVolatileLocal(t *testing.T) {
	fn, tbl := newTestFunc("volatile")
	i32 := tbl.Integer(true, types.W32)
	start := fn.NewBlock(BlockEnd)
	fn.Start = start

	v := &Variable{Name: "v", Kind: VarLocal, Type: tbl.Volatile(i32), Offset: NoStart}
	alloca := fn.NewValue(OpAlloca, tbl.Pointer(v.Type))
	alloca.Var = v
	start.AddValue(alloca)
	five := fn.NewConst(i32, values.Int(true, types.W32, 5))
	start.AddValue(five)
	start.AddValue(fn.NewValue(OpStore, tbl.Void(), alloca, five))
	start.AddValue(fn.NewValue(OpLoad, i32, alloca))

	if isPromotable(alloca) {
		t.Fatalf("a volatile local must never be promoted")
	}
}

func TestSimplifyTrivialPhisIsAClosure(t *testing.T) {
	fn, tbl := newTestFunc("phi")
	i32 := tbl.Integer(true, types.W32)
	a := fn.NewBlock(BlockPlain)
	b := fn.NewBlock(BlockPlain)
	merge := fn.NewBlock(BlockEnd)
	fn.Start = a

	five := fn.NewConst(i32, values.Int(true, types.W32, 5))
	a.AddValue(five)
	a.WireTo(merge)
	b.WireTo(merge)
	// merge has only one real predecessor path value (both branches feed the
	// same constant), so the phi is trivial.
	phi := fn.NewValue(OpPhi, i32)
	phi.Args = []*Value{five, five}
	merge.AddPhi(phi)
	merge.Preds = []*Block{a, b}

	if !SimplifyTrivialPhis(fn) {
		t.Fatalf("expected the trivial phi to be eliminated")
	}
	if SimplifyTrivialPhis(fn) {
		t.Fatalf("SimplifyTrivialPhis must be a closure operator: a second run should report no change")
	}
}
