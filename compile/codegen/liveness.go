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

// Asm-level liveness (§4.2's "Asm liveness" variant), grounded on the same
// used/assigned/live-in/live-out fixed point as compile/ssa/liveness.go,
// generalized to the Asm register model.
package codegen

// ComputeLiveness fills each block's UsedAtStart/AssignedRegs/LiveInAtStart/
// LiveOutAtEnd sets to a fixed point (spec.md §4.2).
func ComputeLiveness(fn *Func) {
	for _, b := range fn.Blocks {
		b.UsedAtStart = map[*Register]bool{}
		b.AssignedRegs = map[*Register]bool{}
		for i := len(b.Instrs) - 1; i >= 0; i-- {
			instr := b.Instrs[i]
			for _, o := range instr.Outputs() {
				delete(b.UsedAtStart, o)
				b.AssignedRegs[o] = true
			}
			for _, in := range instr.Inputs() {
				b.UsedAtStart[in] = true
			}
		}
		b.LiveInAtStart = map[*Register]bool{}
		for r := range b.UsedAtStart {
			b.LiveInAtStart[r] = true
		}
		b.LiveOutAtEnd = map[*Register]bool{}
	}

	changed := true
	for changed {
		changed = false
		for _, b := range fn.Blocks {
			for _, s := range b.Succs {
				for r := range s.LiveInAtStart {
					if !b.LiveOutAtEnd[r] {
						b.LiveOutAtEnd[r] = true
						changed = true
					}
				}
			}
			for r := range b.LiveOutAtEnd {
				if !b.AssignedRegs[r] && !b.LiveInAtStart[r] {
					b.LiveInAtStart[r] = true
					changed = true
				}
			}
		}
	}
}
