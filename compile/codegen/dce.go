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

// Asm-level dead-code elimination (C12), per spec.md §4.10: a backward
// per-block fixed point over used-register sets, with no constant
// propagation (that already ran at the RTL level, compile/rtl/sccp.go).
package codegen

// DCE removes Asm instructions whose outputs are unused and which carry no
// side effect. Returns whether anything changed.
func DCE(fn *Func) bool {
	ComputeLiveness(fn)
	changed := false
	for _, b := range fn.Blocks {
		used := map[*Register]bool{}
		for r := range b.LiveOutAtEnd {
			used[r] = true
		}
		kept := make([]*Instr, 0, len(b.Instrs))
		for i := len(b.Instrs) - 1; i >= 0; i-- {
			instr := b.Instrs[i]
			live := instr.HasSideEffect()
			for _, o := range instr.Outputs() {
				if used[o] {
					live = true
				}
			}
			if !live {
				changed = true
				continue
			}
			for _, in := range instr.Inputs() {
				used[in] = true
			}
			kept = append(kept, instr)
		}
		for l, r := 0, len(kept)-1; l < r; l, r = l+1, r-1 {
			kept[l], kept[r] = kept[r], kept[l]
		}
		b.Instrs = kept
	}
	return changed
}
