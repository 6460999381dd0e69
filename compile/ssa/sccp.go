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

// Sparse Conditional Constant Propagation + dead-code elimination (C6,
// SSA-level half), grounded on the lattice description of spec.md §4.4 and
// on the teacher's compile/ssa/optimize.go dce()/simplifyCFG() (which only
// implemented the constant-bool-branch special case of this).
package ssa

import (
	"falcon/compile/values"
	"falcon/internal/diag"
)

type latticeKind int

const (
	latUnknown latticeKind = iota // top
	latConst
	latVarying // bottom
)

type lattice struct {
	kind latticeKind
	val  values.Value
}

// SCCP runs sparse conditional constant propagation to a fixed point, then
// rewrites: concrete side-effect-free nodes become Const nodes, determinate
// conditional jumps become unconditional (pruning the abandoned edge's phi
// inputs), unreachable blocks are removed, and dead nodes are swept.
// Returns whether anything changed (spec.md §4.4; idempotence per §8).
func SCCP(fn *Func) bool {
	lat := make(map[*Value]lattice)
	reachable := make(map[*Block]bool)
	reachableEdge := make(map[[2]*Block]bool)

	reachable[fn.Start] = true
	changed := true
	for changed {
		changed = false
		for _, b := range fn.Blocks {
			if !reachable[b] {
				continue
			}
			for _, v := range b.Values {
				old := lat[v]
				nv := evaluateForConstants(fn, v, lat, reachableEdge)
				if nv != old {
					lat[v] = nv
					changed = true
				}
			}
			for _, s := range reachableSuccessors(fn, b, lat) {
				edge := [2]*Block{b, s}
				if !reachableEdge[edge] {
					reachableEdge[edge] = true
					changed = true
				}
				if !reachable[s] {
					reachable[s] = true
					changed = true
				}
			}
		}
	}
	// Final pass: demote residual Unknown to Varying.
	for _, b := range fn.Blocks {
		for _, v := range b.Values {
			if lat[v].kind == latUnknown {
				lat[v] = lattice{kind: latVarying}
			}
		}
	}

	anyChange := false

	// Rewrite concrete side-effect-free nodes as Const.
	for _, b := range fn.Blocks {
		for _, v := range append([]*Value(nil), b.Values...) {
			if v.Op == OpConst || isPinned(v) || v.Op == OpPhi {
				continue
			}
			lv := lat[v]
			if lv.kind == latConst {
				nv := fn.NewConst(v.Type, lv.val)
				b.AddValue(nv)
				v.ReplaceUses(nv)
				b.RemoveValue(v)
				anyChange = true
			}
		}
	}

	// Determinate conditional jumps collapse to unconditional ones.
	for _, b := range append([]*Block(nil), fn.Blocks...) {
		if b.Kind != BlockIf || !reachable[b] {
			continue
		}
		t, f := b.Succs[0], b.Succs[1]
		tReach := reachableEdge[[2]*Block{b, t}]
		fReach := reachableEdge[[2]*Block{b, f}]
		if tReach && fReach {
			continue
		}
		var keep, drop *Block
		if tReach {
			keep, drop = t, f
		} else if fReach {
			keep, drop = f, t
		} else {
			continue
		}
		pruneDeadPhiInputs(drop, b)
		b.RemoveSucc(drop)
		drop.RemovePred(b)
		b.RemoveCtrl(keep)
		anyChange = true
	}

	// Remove unreachable blocks.
	for _, b := range append([]*Block(nil), fn.Blocks...) {
		if reachable[b] {
			continue
		}
		diag.Assert(b != fn.Start, "start block always reachable")
		for _, succ := range b.Succs {
			pruneDeadPhiInputs(succ, b)
			succ.RemovePred(b)
		}
		fn.RemoveBlock(b)
		anyChange = true
	}

	if sweepDeadValues(fn) {
		anyChange = true
	}
	return anyChange
}

func pruneDeadPhiInputs(succ *Block, deadPred *Block) {
	idx := succ.PredIndex(deadPred)
	if idx < 0 {
		return
	}
	for _, v := range succ.Values {
		if v.Op != OpPhi {
			continue
		}
		old := v.Args[idx]
		removeUseOnce(old, v)
		v.Args = append(v.Args[:idx], v.Args[idx+1:]...)
	}
}

// sweepDeadValues removes transitively-unused nodes: a value is removed once
// nothing uses it, no block branches on it and it is not pinned (params,
// loads, stores, allocas), repeating until nothing more goes.
func sweepDeadValues(fn *Func) bool {
	changed := false
	for again := true; again; {
		again = false
		for _, b := range fn.Blocks {
			for i := len(b.Values) - 1; i >= 0; i-- {
				v := b.Values[i]
				if len(v.Uses) == 0 && len(v.UseBlock) == 0 && !isPinned(v) {
					b.RemoveValue(v)
					changed = true
					again = true
				}
			}
		}
	}
	return changed
}

func isPinned(v *Value) bool {
	switch v.Op {
	case OpParam, OpStore, OpLoad, OpAlloca:
		return true
	}
	return false
}

func reachableSuccessors(fn *Func, b *Block, lat map[*Value]lattice) []*Block {
	switch b.Kind {
	case BlockPlain:
		return b.Succs
	case BlockIf:
		lv := lat[b.Ctrl]
		switch lv.kind {
		case latConst:
			if lv.val.Kind == values.KBool && lv.val.Bool {
				return []*Block{b.Succs[0]}
			}
			return []*Block{b.Succs[1]}
		case latVarying:
			return b.Succs
		default:
			return nil
		}
	}
	return nil
}

// evaluateForConstants computes a node's new lattice value from its
// operator semantics, per spec.md §4.4 ("a node's new value is computed by
// its operator semantics (cf. §3 on Values)").
func evaluateForConstants(fn *Func, v *Value, lat map[*Value]lattice, reachableEdge map[[2]*Block]bool) lattice {
	switch v.Op {
	case OpConst:
		return lattice{kind: latConst, val: v.Const}
	case OpParam, OpLoad, OpAlloca, OpStore:
		return lattice{kind: latVarying}
	case OpPhi:
		return joinPhi(v, lat, reachableEdge)
	case OpMove, OpTypeCast:
		arg := lat[v.Args[0]]
		if arg.kind != latConst {
			return lattice{kind: arg.kind}
		}
		if v.Op == OpMove {
			return arg
		}
		nv, ok := values.TypeCast(v.Type, arg.val)
		if !ok {
			return lattice{kind: latVarying}
		}
		return lattice{kind: latConst, val: nv}
	case OpAdd, OpSub:
		a, b := lat[v.Args[0]], lat[v.Args[1]]
		if a.kind == latUnknown || b.kind == latUnknown {
			return lattice{kind: latUnknown}
		}
		if a.kind == latVarying || b.kind == latVarying {
			return lattice{kind: latVarying}
		}
		var nv values.Value
		var ok bool
		if v.Op == OpAdd {
			nv, ok = values.Add(v.Type, a.val, b.val)
		} else {
			nv, ok = values.Subtract(v.Type, a.val, b.val)
		}
		if !ok {
			return lattice{kind: latVarying}
		}
		return lattice{kind: latConst, val: nv}
	case OpCompare:
		a, b := lat[v.Args[0]], lat[v.Args[1]]
		if a.kind == latUnknown || b.kind == latUnknown {
			return lattice{kind: latUnknown}
		}
		if a.kind == latVarying || b.kind == latVarying {
			return lattice{kind: latVarying}
		}
		ord := values.Compare(fn.ISA, a.val, b.val)
		if ord == values.OrderUnknown {
			return lattice{kind: latVarying}
		}
		return lattice{kind: latConst, val: values.Bool(orderMatches(v.Cmp, ord))}
	}
	return lattice{kind: latVarying}
}

func orderMatches(op CompareOp, ord values.Ordering) bool {
	switch op {
	case CmpEQ:
		return ord == values.Equal
	case CmpNE:
		return ord != values.Equal
	case CmpLT:
		return ord == values.Less
	case CmpLE:
		return ord == values.Less || ord == values.Equal
	case CmpGT:
		return ord == values.Greater
	case CmpGE:
		return ord == values.Greater || ord == values.Equal
	}
	return false
}

// joinPhi merges the lattice values flowing in from reachable predecessors
// only (spec.md §4.4: the joint value/reachability lattice). A predecessor
// block being reachable is not enough on its own: the specific incoming edge
// (pred, v.Block) must itself be reachable, since a reachable BlockIf with
// only one live successor still has a dead edge into this phi.
func joinPhi(v *Value, lat map[*Value]lattice, reachableEdge map[[2]*Block]bool) lattice {
	result := lattice{kind: latUnknown}
	b := v.Block
	for i, arg := range v.Args {
		if i >= len(b.Preds) || !reachableEdge[[2]*Block{b.Preds[i], b}] {
			continue
		}
		av := lat[arg]
		result = join(result, av)
	}
	return result
}

func join(a, b lattice) lattice {
	if a.kind == latUnknown {
		return b
	}
	if b.kind == latUnknown {
		return a
	}
	if a.kind == latVarying || b.kind == latVarying {
		return lattice{kind: latVarying}
	}
	if a.val == b.val {
		return a
	}
	return lattice{kind: latVarying}
}
