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

// Spill-code insertion (spec.md §4.9's "Spill-code insertion"): every
// spilled live range either rematerializes (constant defs) or gets a fresh
// frame slot, with a LoadLocal/StoreLocal spliced around each reference
// that falls inside the block holding it.
package codegen

import "falcon/compile/ssa"

// insertSpillCode splits every spilled live range's uses/defs onto fresh,
// narrowly-scoped virtual registers backed by rematerialization or a frame
// slot, so the next allocator iteration sees smaller, easier-to-color live
// ranges.
func insertSpillCode(fn *Func, spilled []*liveRange) {
	for _, lr := range spilled {
		if lr.isConstant {
			rematerialize(fn, lr)
		} else {
			spillToFrame(fn, lr)
		}
	}
}

func rematerialize(fn *Func, lr *liveRange) {
	byBlock := map[*Block][]point{}
	for _, p := range lr.loadPoints {
		byBlock[p.block] = append(byBlock[p.block], p)
	}
	for b, pts := range byBlock {
		b.Instrs = spliceAt(b.Instrs, pts, func(instr *Instr) []*Instr {
			fresh := fn.NewVirtualReg(lr.reg.Type)
			replaceOperand(instr, lr.reg, fresh)
			return []*Instr{{Op: OpLoadConstant, Dst: fresh, Const: lr.constant.Const}, instr}
		})
	}
}

func spillToFrame(fn *Func, lr *liveRange) {
	v := &ssa.Variable{Name: spillName(lr.reg), Kind: ssa.VarLocal, Type: lr.reg.Type, Offset: ssa.NoStart}
	fn.FrameSize = ssa.AllocateFrame(fn.FrameSize, fn.ISA, v)

	loadsByBlock := map[*Block][]point{}
	for _, p := range lr.loadPoints {
		loadsByBlock[p.block] = append(loadsByBlock[p.block], p)
	}
	storesByBlock := map[*Block][]point{}
	for _, p := range lr.storePoints {
		storesByBlock[p.block] = append(storesByBlock[p.block], p)
	}

	blocks := map[*Block]bool{}
	for b := range loadsByBlock {
		blocks[b] = true
	}
	for b := range storesByBlock {
		blocks[b] = true
	}

	for b := range blocks {
		loads := indexSet(loadsByBlock[b])
		stores := indexSet(storesByBlock[b])
		var out []*Instr
		for idx, instr := range b.Instrs {
			if loads[idx] {
				fresh := fn.NewVirtualReg(lr.reg.Type)
				replaceOperand(instr, lr.reg, fresh)
				out = append(out, &Instr{Op: OpLoadLocal, Dst: fresh, Local: v})
			}
			out = append(out, instr)
			if stores[idx] {
				fresh := fn.NewVirtualReg(lr.reg.Type)
				if instr.Dst == lr.reg {
					instr.Dst = fresh
				}
				out = append(out, &Instr{Op: OpStoreLocal, Local: v, Args: []*Register{fresh}})
			}
		}
		b.Instrs = out
	}
}

func indexSet(pts []point) map[int]bool {
	s := map[int]bool{}
	for _, p := range pts {
		s[p.index] = true
	}
	return s
}

// spliceAt rewrites the instructions at the given points using f, which
// receives the original instruction (already mutated in place by the
// caller if needed) and returns the replacement sequence.
func spliceAt(instrs []*Instr, pts []point, f func(*Instr) []*Instr) []*Instr {
	at := indexSet(pts)
	var out []*Instr
	for idx, instr := range instrs {
		if at[idx] {
			out = append(out, f(instr)...)
			continue
		}
		out = append(out, instr)
	}
	return out
}

func replaceOperand(instr *Instr, from, to *Register) {
	if instr.Addr == from {
		instr.Addr = to
	}
	if instr.Ctrl == from {
		instr.Ctrl = to
	}
	for i, a := range instr.Args {
		if a == from {
			instr.Args[i] = to
		}
	}
}

func spillName(r *Register) string {
	return "%spill" + r.String()
}
