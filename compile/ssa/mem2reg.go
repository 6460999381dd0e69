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

// Mem2Reg (C5): promotes non-escaping alloca'd locals into SSA values plus
// inserted φs, per spec.md §4.3.
package ssa

import "falcon/compile/types"

// isVolatileQualified reports whether t is Volatile(T) or its canonical
// Const(Volatile(T)) form.
func isVolatileQualified(t *types.Type) bool {
	return t.IsVolatile() || (t.IsConst() && t.Elem().IsVolatile())
}

// isPromotable reports whether every use of alloca flows only into a
// load/store address operand (spec.md §4.3's escape check). A volatile
// local is never promoted: every access must keep reaching RTL and Asm as
// its own load/store (spec.md §8's volatile-barrier scenario).
func isPromotable(alloca *Value) bool {
	if isVolatileQualified(types.Dereference(alloca.Type)) {
		return false
	}
	for _, use := range alloca.Uses {
		switch use.Op {
		case OpLoad:
			if use.Args[0] != alloca {
				return false
			}
		case OpStore:
			if use.Args[0] != alloca {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// RunMem2Reg runs Mem2Reg to fixed point: each round promotes every
// currently-promotable alloca; since promoting one alloca cannot newly
// disqualify another (it only deletes load/store/alloca nodes), a single
// sweep suffices, but the driver calls it repeatedly as part of the shared
// optimization loop to stay idempotent once no promotable locals remain
// (spec.md §8: "Mem2Reg is idempotent once no promotable locals remain").
func RunMem2Reg(fn *Func) bool {
	changed := false
	for _, b := range append([]*Block(nil), fn.Blocks...) {
		for _, v := range append([]*Value(nil), b.Values...) {
			if v.Op != OpAlloca {
				continue
			}
			if promoteOne(fn, v) {
				changed = true
			}
		}
	}
	return changed
}

func promoteOne(fn *Func, alloca *Value) bool {
	if !isPromotable(alloca) {
		return false
	}

	// Step 1: candidate live-in blocks are those whose first reference to
	// the alloca (in program order) is a load.
	candidate := make(map[*Block]bool)
	definesBeforeUse := make(map[*Block]bool) // block whose first ref is a store
	for _, b := range fn.Blocks {
		for _, v := range b.Values {
			if v.Op == OpLoad && v.Args[0] == alloca {
				candidate[b] = true
				break
			}
			if v.Op == OpStore && v.Args[0] == alloca {
				definesBeforeUse[b] = true
				break
			}
		}
	}

	// Step 2: grow live-in/live-out to a fixed point.
	liveIn := make(map[*Block]bool)
	liveOut := make(map[*Block]bool)
	for b := range candidate {
		liveIn[b] = true
	}
	changed := true
	for changed {
		changed = false
		for _, b := range fn.Blocks {
			out := false
			for _, s := range b.Succs {
				if liveIn[s] {
					out = true
				}
			}
			if out && !liveOut[b] {
				liveOut[b] = true
				changed = true
			}
			if liveOut[b] && !definesBeforeUse[b] && !liveIn[b] {
				liveIn[b] = true
				changed = true
			}
		}
	}

	// Step 3: if startBlock is live-in, would read uninitialized memory.
	if liveIn[fn.Start] {
		return false
	}

	// Step 4: insert a phi at the start of every live-in block.
	phis := make(map[*Block]*Value)
	for _, b := range fn.Blocks {
		if !liveIn[b] {
			continue
		}
		elemType := alloca.Type.Elem()
		phi := &Value{ID: fn.allocValueID(), Op: OpPhi, Type: elemType}
		phi.SpillLoc = alloca.Var
		phi.Args = make([]*Value, len(b.Preds)) // filled in step 6/7 below
		b.AddPhi(phi)
		phis[b] = phi
	}

	// Steps 5-6: walk the blocks depth-first from the start block along
	// successor edges, each block visited once, tracking the current
	// definition.
	current := make(map[*Block]*Value) // current def at block exit
	var walk func(b *Block, cur *Value)
	visited := make(map[*Block]bool)
	walk = func(b *Block, cur *Value) {
		if visited[b] {
			return
		}
		visited[b] = true
		if phi, ok := phis[b]; ok {
			cur = phi
		}
		for _, v := range append([]*Value(nil), b.Values...) {
			if v == phis[b] {
				continue
			}
			if v.Op == OpLoad && v.Args[0] == alloca {
				if cur != nil {
					v.ReplaceUses(cur)
				}
				b.RemoveValue(v)
			} else if v.Op == OpStore && v.Args[0] == alloca {
				cur = v.Args[1]
				b.RemoveValue(v)
			}
		}
		current[b] = cur
		for _, s := range b.Succs {
			walk(s, cur)
		}
	}
	walk(fn.Start, nil)

	// Step 7: fill each phi's inputs from each predecessor's exiting
	// current node.
	for b, phi := range phis {
		for i, pred := range b.Preds {
			def := current[pred]
			if def == nil {
				def = phi // self-loop default: only reachable if never actually read
			}
			phi.SetArg(i, def)
		}
	}

	// Step 8: delete the original alloca (loads/stores were already
	// removed during the walk above).
	alloca.Block.RemoveValue(alloca)
	return true
}
