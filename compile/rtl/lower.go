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

// SSA -> RTL lowering (C8), per spec.md §4.6: critical-edge splitting, φ
// resolution via predecessor copies, a second CF-simplification pass, and
// union-find register unification over φ-connected SSA nodes.
package rtl

import (
	"falcon/compile/ssa"
	"falcon/compile/values"
)

// Lower runs the full C8 pipeline and emits the resulting RTL function.
// Preconditions (spec.md §4.6): CFG/dominators fresh, SCCP already run,
// trivial φs already removed -- callers typically run ssa.SCCP then this.
func Lower(fn *ssa.Func) *Func {
	splitCriticalEdges(fn)
	resolvePhis(fn)
	ssa.SimplifyTrivialPhis(fn)
	ssa.SimplifyCFG(fn)

	roots, spills := unifyPhiClasses(fn)
	return emit(fn, roots, spills)
}

func hasPhi(b *ssa.Block) bool {
	return len(b.Values) > 0 && b.Values[0].Op == ssa.OpPhi
}

// splitCriticalEdges inserts a new block on every critical edge s->t into a
// block with phis: s has >1 successor and t has >1 predecessor.
func splitCriticalEdges(fn *ssa.Func) {
	for _, s := range append([]*ssa.Block(nil), fn.Blocks...) {
		if len(s.Succs) <= 1 {
			continue
		}
		for _, t := range append([]*ssa.Block(nil), s.Succs...) {
			if !hasPhi(t) || len(t.Preds) <= 1 {
				continue
			}
			nb := fn.NewBlock(ssa.BlockPlain)
			for j, ss := range s.Succs {
				if ss == t {
					s.Succs[j] = nb
				}
			}
			nb.Preds = append(nb.Preds, s)
			for j, p := range t.Preds {
				if p == s {
					t.Preds[j] = nb
				}
			}
			nb.Succs = []*ssa.Block{t}
		}
	}
}

// resolvePhis inserts, at the end of every predecessor, a Move copying the
// φ's input for that edge, and rewrites the φ's input record to reference
// that copy (spec.md §4.6 step 2). The φ's spill location propagates to
// the inserted copies.
func resolvePhis(fn *ssa.Func) {
	for _, t := range fn.Blocks {
		if !hasPhi(t) {
			continue
		}
		for _, phi := range t.Values {
			if phi.Op != ssa.OpPhi {
				continue
			}
			for i, pred := range t.Preds {
				src := phi.Args[i]
				mv := fn.NewValue(ssa.OpMove, phi.Type, src)
				mv.SpillLoc = phi.SpillLoc
				pred.AddValue(mv)
				phi.SetArg(i, mv)
			}
		}
	}
}

// dsu is a small union-find over *ssa.Value used to unify φ-connected
// nodes into one shared virtual register (spec.md §4.6 step 4).
type dsu struct {
	parent map[*ssa.Value]*ssa.Value
}

func newDSU() *dsu { return &dsu{parent: make(map[*ssa.Value]*ssa.Value)} }

func (d *dsu) find(v *ssa.Value) *ssa.Value {
	p, ok := d.parent[v]
	if !ok {
		d.parent[v] = v
		return v
	}
	if p == v {
		return v
	}
	root := d.find(p)
	d.parent[v] = root
	return root
}

func (d *dsu) union(a, b *ssa.Value) {
	ra, rb := d.find(a), d.find(b)
	if ra != rb {
		d.parent[ra] = rb
	}
}

// unifyPhiClasses unions every φ with each of its inputs, then reports,
// for every SSA value, its equivalence-class root, plus each root's
// inherited spill location (spec.md §4.6 step 4: "the class's shared
// register inherits the spill location of the representative").
func unifyPhiClasses(fn *ssa.Func) (roots map[*ssa.Value]*ssa.Value, spills map[*ssa.Value]*ssa.Variable) {
	d := newDSU()
	for _, b := range fn.Blocks {
		for _, v := range b.Values {
			if v.Op != ssa.OpPhi {
				continue
			}
			d.find(v)
			for _, arg := range v.Args {
				d.union(v, arg)
			}
		}
	}

	roots = make(map[*ssa.Value]*ssa.Value)
	spills = make(map[*ssa.Value]*ssa.Variable)
	for _, b := range fn.Blocks {
		for _, v := range b.Values {
			root := d.find(v)
			roots[v] = root
			if v.SpillLoc != nil && spills[root] == nil {
				spills[root] = v.SpillLoc
			}
		}
	}
	return roots, spills
}

// emit performs spec.md §4.6 step 5: every surviving SSA instruction
// becomes its RTL counterpart, reading/writing the virtual register of the
// equivalence class it belongs to.
func emit(fn *ssa.Func, roots map[*ssa.Value]*ssa.Value, spills map[*ssa.Value]*ssa.Variable) *Func {
	out := NewFunc(fn.Name, fn.Types, fn.ISA)
	out.ReturnType = fn.ReturnType

	regByRoot := make(map[*ssa.Value]*Reg)
	regFor := func(v *ssa.Value) *Reg {
		root := roots[v]
		if r, ok := regByRoot[root]; ok {
			return r
		}
		r := out.NewReg(v.Type)
		r.SpillLoc = spills[root]
		regByRoot[root] = r
		return r
	}

	blockMap := make(map[*ssa.Block]*Block)
	for _, b := range fn.Blocks {
		blockMap[b] = out.NewBlock(BlockPlain)
	}
	out.Start = blockMap[fn.Start]
	if fn.End != nil {
		out.End = blockMap[fn.End]
	}

	for _, b := range fn.Blocks {
		nb := blockMap[b]
		for _, v := range b.Values {
			switch v.Op {
			case ssa.OpPhi:
				continue
			case ssa.OpParam:
				out.Params = append(out.Params, regFor(v))
			case ssa.OpConst:
				nb.AddInstr(&Instr{Op: OpLoadConstant, Dst: regFor(v), Const: v.Const})
			case ssa.OpAlloca:
				nb.AddInstr(&Instr{Op: OpLoadConstant, Dst: regFor(v), Const: values.VarPtr(v.Var, 0)})
			case ssa.OpMove:
				nb.AddInstr(&Instr{Op: OpMove, Dst: regFor(v), Args: []*Reg{regFor(v.Args[0])}})
			case ssa.OpTypeCast:
				nb.AddInstr(&Instr{Op: OpTypeCast, Dst: regFor(v), Args: []*Reg{regFor(v.Args[0])}, SrcTy: v.Args[0].Type})
			case ssa.OpAdd:
				nb.AddInstr(&Instr{Op: OpAdd, Dst: regFor(v), Args: []*Reg{regFor(v.Args[0]), regFor(v.Args[1])}})
			case ssa.OpSub:
				nb.AddInstr(&Instr{Op: OpSub, Dst: regFor(v), Args: []*Reg{regFor(v.Args[0]), regFor(v.Args[1])}})
			case ssa.OpCompare:
				nb.AddInstr(&Instr{Op: OpCompare, Dst: regFor(v), Cmp: v.Cmp, Args: []*Reg{regFor(v.Args[0]), regFor(v.Args[1])}})
			case ssa.OpLoad:
				nb.AddInstr(&Instr{Op: OpLoad, Dst: regFor(v), Addr: regFor(v.Args[0])})
			case ssa.OpStore:
				nb.AddInstr(&Instr{Op: OpStore, Addr: regFor(v.Args[0]), Args: []*Reg{regFor(v.Args[1])}})
			}
		}
		switch b.Kind {
		case ssa.BlockPlain:
			nb.WireTo(blockMap[b.Succs[0]])
		case ssa.BlockIf:
			nb.WireIf(regFor(b.Ctrl), blockMap[b.Succs[0]], blockMap[b.Succs[1]])
		case ssa.BlockEnd:
			nb.Kind = BlockEnd
		}
	}
	return out
}
