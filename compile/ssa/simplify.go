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

// φ-removal and control-flow simplification (C7), adapted from the
// teacher's compile/ssa/optimize.go simplifyPhi/simplifyCFG.
package ssa

// SimplifyTrivialPhis collapses every φ whose non-self-referential inputs
// are all identical into that single value (spec.md §4.5). A closure
// operator: iterate to fixed point.
func SimplifyTrivialPhis(fn *Func) bool {
	changed := false
	for again := true; again; {
		again = false
		for _, block := range fn.Blocks {
			for i := len(block.Values) - 1; i >= 0; i-- {
				val := block.Values[i]
				if val.Op != OpPhi {
					continue
				}
				var same *Value
				ok := true
				for _, arg := range val.Args {
					if arg == val || arg == same {
						continue
					}
					if same == nil {
						same = arg
						continue
					}
					ok = false
					break
				}
				if ok && same != nil {
					val.ReplaceUses(same)
					block.RemoveValue(val)
					changed = true
					again = true
				}
			}
		}
	}
	return changed
}

// SimplifyCFG implements spec.md §4.5's CF simplification: repeatedly find
// a block A with exactly one successor B and either merge B into A (B has
// one pred) or replace A with B everywhere (A is just its terminator).
func SimplifyCFG(fn *Func) bool {
	changed := false
	for _, a := range append([]*Block(nil), fn.Blocks...) {
		if a.Kind != BlockPlain || len(a.Succs) != 1 {
			continue
		}
		b := a.Succs[0]
		if b == a {
			continue
		}
		if len(b.Preds) == 1 {
			mergeBlocks(a, b)
			changed = true
			continue
		}
		if len(a.Values) == 0 {
			replaceBlock(fn, a, b)
			changed = true
		}
	}
	return changed
}

// mergeBlocks appends B's instructions into A and adopts B's terminator.
func mergeBlocks(a, b *Block) {
	a.RemoveSucc(b)
	b.RemovePred(a)
	for _, v := range b.Values {
		v.Block = a
	}
	a.Values = append(a.Values, b.Values...)
	b.Values = nil

	a.Kind = b.Kind
	a.Ctrl = b.Ctrl
	if a.Ctrl != nil {
		removeUseBlockOnce(a.Ctrl, b)
		addUseBlock(a.Ctrl, a)
	}
	a.Succs = b.Succs
	for _, s := range a.Succs {
		for i, p := range s.Preds {
			if p == b {
				s.Preds[i] = a
			}
		}
	}
	b.Func.RemoveBlock(b)
}

// replaceBlock rewires every predecessor of A to target B directly,
// dropping A (A has no instructions besides its unconditional jump). A's
// single successor edge carries no phi of its own (A has zero values), so
// every one of A's original predecessors gets a copy of whatever value
// that edge fed into B's phis.
func replaceBlock(fn *Func, a, b *Block) {
	aIdx := b.PredIndex(a)
	aPhiArgs := make([]*Value, 0, len(b.Values))
	for _, v := range b.Values {
		if v.Op != OpPhi {
			continue
		}
		aPhiArgs = append(aPhiArgs, v.Args[aIdx])
	}

	preds := append([]*Block(nil), a.Preds...)
	for _, pred := range preds {
		for i, s := range pred.Succs {
			if s == a {
				pred.Succs[i] = b
			}
		}
		b.Preds = append(b.Preds, pred)
	}

	pi := 0
	for _, v := range b.Values {
		if v.Op != OpPhi {
			continue
		}
		arg := aPhiArgs[pi]
		pi++
		for range preds {
			v.Args = append(v.Args, arg)
			addUse(arg, v)
		}
		// Drop the old slot that belonged to A itself, now that each of
		// A's own predecessors has its own trailing slot.
		old := v.Args[aIdx]
		removeUseOnce(old, v)
		v.Args = append(v.Args[:aIdx], v.Args[aIdx+1:]...)
	}
	// b.Preds: drop A's own slot the same way, keeping it aligned with
	// the phi-arg removal above.
	b.Preds = append(b.Preds[:aIdx], b.Preds[aIdx+1:]...)

	a.Succs = nil
	a.Preds = nil
	fn.RemoveBlock(a)
}
