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

// RTL-level sparse conditional constant propagation (C6's RTL half), per
// spec.md §4.4: "RTL-level SCCP is analogous but operates per-block on a
// map register -> value, propagating the map from predecessors by join."
// Unlike the SSA pass there are no phis to reason about -- RTL already
// resolved those into predecessor copies during lowering -- so the only
// merge point is block entry, where the exit state of every predecessor
// whose edge into the block is reachable is joined.
package rtl

import (
	"falcon/compile/ssa"
	"falcon/compile/values"
)

type latticeKind int

const (
	latUnknown latticeKind = iota
	latConst
	latVarying
)

type lattice struct {
	kind latticeKind
	val  values.Value
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

// SCCP runs the RTL-level pass to a fixed point, then rewrites concrete
// instructions to LoadConstant, collapses determinate conditional jumps to
// unconditional ones, drops unreachable blocks, and sweeps dead
// instructions. Returns whether anything changed.
func SCCP(fn *Func) bool {
	entry := make(map[*Block]map[*Reg]lattice)
	exit := make(map[*Block]map[*Reg]lattice)
	reachable := make(map[*Block]bool)
	reachableEdge := make(map[[2]*Block]bool)
	for _, b := range fn.Blocks {
		entry[b] = make(map[*Reg]lattice)
		exit[b] = make(map[*Reg]lattice)
	}
	reachable[fn.Start] = true

	changed := true
	for changed {
		changed = false
		for _, b := range fn.Blocks {
			if !reachable[b] {
				continue
			}
			in := map[*Reg]lattice{}
			for r, lv := range entry[b] {
				in[r] = lv
			}
			for _, p := range b.Preds {
				if !reachableEdge[[2]*Block{p, b}] {
					continue
				}
				for r, lv := range exit[p] {
					in[r] = join(in[r], lv)
				}
			}
			if !sameMap(in, entry[b]) {
				entry[b] = in
				changed = true
			}

			state := map[*Reg]lattice{}
			for r, lv := range in {
				state[r] = lv
			}
			for _, instr := range b.Instrs {
				if instr.Dst != nil {
					state[instr.Dst] = evaluateForConstants(fn, instr, state)
				}
			}
			if !sameMap(state, exit[b]) {
				exit[b] = state
				changed = true
			}

			for _, s := range reachableSuccessors(b, state) {
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

	anyChange := false

	for _, b := range fn.Blocks {
		if !reachable[b] {
			continue
		}
		state := map[*Reg]lattice{}
		for r, lv := range entry[b] {
			state[r] = lv
		}
		for _, instr := range b.Instrs {
			if instr.Dst != nil {
				lv := evaluateForConstants(fn, instr, state)
				state[instr.Dst] = lv
				if lv.kind == latConst && instr.Op != OpLoadConstant {
					instr.Op = OpLoadConstant
					instr.Const = lv.val
					instr.Args = nil
					instr.Addr = nil
					anyChange = true
				}
			}
		}
	}

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
		b.RemoveSucc(drop)
		drop.RemovePred(b)
		b.Kind = BlockPlain
		b.Ctrl = nil
		b.Succs = []*Block{keep}
		anyChange = true
	}

	for _, b := range append([]*Block(nil), fn.Blocks...) {
		if reachable[b] {
			continue
		}
		for _, succ := range b.Succs {
			succ.RemovePred(b)
		}
		fn.RemoveBlock(b)
		anyChange = true
	}

	if sweepDeadInstrs(fn) {
		anyChange = true
	}
	return anyChange
}

func sameMap(a, b map[*Reg]lattice) bool {
	if len(a) != len(b) {
		return false
	}
	for r, lv := range a {
		if b[r] != lv {
			return false
		}
	}
	return true
}

func reachableSuccessors(b *Block, state map[*Reg]lattice) []*Block {
	switch b.Kind {
	case BlockPlain:
		return b.Succs
	case BlockIf:
		lv := state[b.Ctrl]
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

func evaluateForConstants(fn *Func, instr *Instr, state map[*Reg]lattice) lattice {
	lookup := func(r *Reg) lattice {
		if lv, ok := state[r]; ok {
			return lv
		}
		return lattice{kind: latUnknown}
	}
	switch instr.Op {
	case OpLoadConstant:
		return lattice{kind: latConst, val: instr.Const}
	case OpLoad, OpStore:
		return lattice{kind: latVarying}
	case OpMove:
		return lookup(instr.Args[0])
	case OpTypeCast:
		a := lookup(instr.Args[0])
		if a.kind != latConst {
			return lattice{kind: a.kind}
		}
		nv, ok := values.TypeCast(instr.Dst.Type, a.val)
		if !ok {
			return lattice{kind: latVarying}
		}
		return lattice{kind: latConst, val: nv}
	case OpAdd, OpSub:
		a, b := lookup(instr.Args[0]), lookup(instr.Args[1])
		if a.kind == latUnknown || b.kind == latUnknown {
			return lattice{kind: latUnknown}
		}
		if a.kind == latVarying || b.kind == latVarying {
			return lattice{kind: latVarying}
		}
		var nv values.Value
		var ok bool
		if instr.Op == OpAdd {
			nv, ok = values.Add(instr.Dst.Type, a.val, b.val)
		} else {
			nv, ok = values.Subtract(instr.Dst.Type, a.val, b.val)
		}
		if !ok {
			return lattice{kind: latVarying}
		}
		return lattice{kind: latConst, val: nv}
	case OpCompare:
		a, b := lookup(instr.Args[0]), lookup(instr.Args[1])
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
		return lattice{kind: latConst, val: values.Bool(orderMatches(instr.Cmp, ord))}
	}
	return lattice{kind: latVarying}
}

func orderMatches(op ssa.CompareOp, ord values.Ordering) bool {
	switch op {
	case ssa.CmpEQ:
		return ord == values.Equal
	case ssa.CmpNE:
		return ord != values.Equal
	case ssa.CmpLT:
		return ord == values.Less
	case ssa.CmpLE:
		return ord == values.Less || ord == values.Equal
	case ssa.CmpGT:
		return ord == values.Greater
	case ssa.CmpGE:
		return ord == values.Greater || ord == values.Equal
	}
	return false
}

// sweepDeadInstrs removes instructions whose result register is never read
// and which have no side effect (anything but Store is pure at this level).
// Instructions whose result register carries a spill location are kept.
func sweepDeadInstrs(fn *Func) bool {
	used := make(map[*Reg]bool)
	for _, b := range fn.Blocks {
		for _, instr := range b.Instrs {
			for _, a := range instr.Args {
				used[a] = true
			}
			if instr.Addr != nil {
				used[instr.Addr] = true
			}
		}
		if b.Kind == BlockIf && b.Ctrl != nil {
			used[b.Ctrl] = true
		}
	}
	for _, r := range fn.Params {
		used[r] = true
	}

	changed := false
	for _, b := range fn.Blocks {
		kept := b.Instrs[:0]
		for _, instr := range b.Instrs {
			if instr.Op == OpStore || instr.Dst == nil || used[instr.Dst] || instr.Dst.SpillLoc != nil {
				kept = append(kept, instr)
				continue
			}
			changed = true
		}
		b.Instrs = kept
	}
	return changed
}
