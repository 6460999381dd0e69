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

import "falcon/internal/bits"

// Liveness holds, per block, the four sets of spec.md §4.2: usedAtStart,
// assignedRegisters, liveInAtStart, liveOutAtEnd -- here the "registers"
// are SSA values themselves.
type Liveness struct {
	UsedAtStart map[*Block]*bits.Set[*Value]
	Assigned    map[*Block]*bits.Set[*Value]
	LiveIn      map[*Block]*bits.Set[*Value]
	LiveOut     map[*Block]*bits.Set[*Value]
}

// ComputeLiveness implements spec.md §4.2 over the SSA graph: a φ's inputs
// are treated as uses in the corresponding predecessor, not in the φ's own
// block, matching the copy-semantics φs have.
func ComputeLiveness(fn *Func) *Liveness {
	lv := &Liveness{
		UsedAtStart: make(map[*Block]*bits.Set[*Value]),
		Assigned:    make(map[*Block]*bits.Set[*Value]),
		LiveIn:      make(map[*Block]*bits.Set[*Value]),
		LiveOut:     make(map[*Block]*bits.Set[*Value]),
	}
	for _, b := range fn.Blocks {
		used := bits.NewSet[*Value]()
		assigned := bits.NewSet[*Value]()
		for i := len(b.Values) - 1; i >= 0; i-- {
			v := b.Values[i]
			assigned.Add(v)
			used.Remove(v)
			if v.Op == OpPhi {
				continue // phi operands are uses in the predecessor, handled below
			}
			for _, a := range v.Args {
				used.Add(a)
			}
		}
		if b.Ctrl != nil && b.Ctrl.Block != b {
			used.Add(b.Ctrl)
		}
		lv.UsedAtStart[b] = used
		lv.Assigned[b] = assigned
		lv.LiveIn[b] = used.Copy()
		lv.LiveOut[b] = bits.NewSet[*Value]()
	}
	// Phi inputs are uses that occur "at the end" of the corresponding
	// predecessor, per the copy semantics phis carry.
	phiPredUses := make(map[*Block]*bits.Set[*Value])
	for _, b := range fn.Blocks {
		phiPredUses[b] = bits.NewSet[*Value]()
	}
	for _, b := range fn.Blocks {
		for _, v := range b.Values {
			if v.Op != OpPhi {
				continue
			}
			for i, pred := range b.Preds {
				phiPredUses[pred].Add(v.Args[i])
			}
		}
	}

	changed := true
	for changed {
		changed = false
		for _, b := range fn.Blocks {
			out := lv.LiveOut[b]
			for _, s := range b.Succs {
				for _, v := range lv.LiveIn[s].Items() {
					if out.Add(v) {
						changed = true
					}
				}
			}
			for _, v := range phiPredUses[b].Items() {
				if out.Add(v) {
					changed = true
				}
			}
			in := lv.LiveIn[b]
			for _, v := range out.Items() {
				if !lv.Assigned[b].Contains(v) {
					if in.Add(v) {
						changed = true
					}
				}
			}
		}
	}
	return lv
}
