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

// Chaitin/Briggs graph-coloring register allocator (C11), the centerpiece
// of spec.md §4.9. The teacher's own compile/codegen/lsra*.go attempted a
// linear-scan allocator instead and never reached a working state (its
// interval builder and move resolver are stubs that panic on anything but
// the most trivial input) -- this is a from-scratch design grounded
// directly on the spec's description, kept in the teacher's idiom
// (diag.Fatal for the unrecoverable "cannot allocate" case, insertion-
// ordered iteration for deterministic output per spec.md §5).
package codegen

import (
	"falcon/compile/types"
	"falcon/internal/diag"
)

// point identifies one instruction slot within a block.
type point struct {
	block *Block
	index int
}

// liveRange is the per-register bookkeeping of spec.md §4.9's
// LiveRangeData.
type liveRange struct {
	reg       *Register // originalRegister, always virtual
	allocated *Register

	intersecting map[*liveRange]bool
	combinable   map[*liveRange]bool

	isConstant bool
	constant   *Instr // the LoadConstant defining it, if isConstant

	loadPoints  []point
	storePoints []point

	spilled bool
}

func newLiveRange(r *Register) *liveRange {
	return &liveRange{reg: r, intersecting: map[*liveRange]bool{}, combinable: map[*liveRange]bool{}}
}

// Allocate runs the allocator to a fixed point: build live ranges, simplify,
// color, and on failure insert spill code and retry (spec.md §4.9).
func Allocate(fn *Func) {
	budget := 1
	for _, b := range fn.Blocks {
		budget += len(b.Instrs)
	}

	for try := 0; ; try++ {
		ComputeLiveness(fn)
		ranges := buildLiveRanges(fn)
		if len(ranges) == 0 {
			break
		}
		order, spilledBySimplify := simplify(fn.ISA, ranges)
		spilled := color(fn.ISA, order)
		spilled = append(spilled, spilledBySimplify...)
		if len(spilled) == 0 {
			applyColoring(fn, ranges)
			break
		}
		if try >= budget {
			diag.Fatal(fn, "register allocator exceeded retry budget for %s", fn.Name)
		}
		insertSpillCode(fn, spilled)
	}
	removeRedundantMoves(fn)
}

// buildLiveRanges walks every block backward from its live-out set,
// recording intervals, interference and move-coalescing hints (spec.md
// §4.9 "Live-range computation").
func buildLiveRanges(fn *Func) map[*Register]*liveRange {
	ranges := map[*Register]*liveRange{}
	rangeFor := func(r *Register) *liveRange {
		if r == nil || !r.Virtual {
			return nil
		}
		lr, ok := ranges[r]
		if !ok {
			lr = newLiveRange(r)
			ranges[r] = lr
		}
		return lr
	}

	for _, b := range fn.Blocks {
		live := map[*Register]bool{}
		for r := range b.LiveOutAtEnd {
			live[r] = true
			rangeFor(r)
		}
		for i := len(b.Instrs) - 1; i >= 0; i-- {
			instr := b.Instrs[i]
			for _, o := range instr.Outputs() {
				delete(live, o)
				lr := rangeFor(o)
				if lr != nil {
					lr.storePoints = append(lr.storePoints, point{b, i})
					if instr.Op == OpLoadConstant && lr.constant == nil {
						lr.isConstant = true
						lr.constant = instr
					} else {
						lr.isConstant = false
					}
				}
			}
			for _, in := range instr.Inputs() {
				lr := rangeFor(in)
				if lr != nil {
					lr.loadPoints = append(lr.loadPoints, point{b, i})
				}
				live[in] = true
			}
			for a := range live {
				for c := range live {
					if a == c {
						continue
					}
					la, lc := rangeFor(a), rangeFor(c)
					if la != nil && lc != nil {
						la.intersecting[lc] = true
						lc.intersecting[la] = true
					}
				}
			}
			if instr.Op == OpMove && instr.Dst != nil && len(instr.Args) == 1 {
				ld, ls := rangeFor(instr.Dst), rangeFor(instr.Args[0])
				if ld != nil && ls != nil && !ld.intersecting[ls] {
					ld.combinable[ls] = true
					ls.combinable[ld] = true
				}
			}
		}
	}
	return ranges
}

// simplify implements the Chaitin simplification order: repeatedly remove
// (push) the live range with fewest remaining interfering neighbors,
// preferring one strictly below K (spec.md §4.9 "Colorability
// simplification").
func simplify(isa types.TargetISA, ranges map[*Register]*liveRange) (order []*liveRange, trivialSpills []*liveRange) {
	remaining := map[*liveRange]bool{}
	for _, lr := range ranges {
		remaining[lr] = true
	}
	remainingDegree := func(lr *liveRange) int {
		n := 0
		for other := range lr.intersecting {
			if remaining[other] {
				n++
			}
		}
		return n
	}

	for len(remaining) > 0 {
		var best *liveRange
		bestDeg := -1
		bestBelowK := false
		for _, lr := range orderedRanges(ranges) {
			if !remaining[lr] {
				continue
			}
			deg := remainingDegree(lr)
			belowK := deg < K(isa, lr.reg)
			if best == nil || (belowK && !bestBelowK) || (belowK == bestBelowK && deg < bestDeg) {
				best, bestDeg, bestBelowK = lr, deg, belowK
			}
		}
		order = append(order, best)
		delete(remaining, best)
	}
	return order, nil
}

// orderedRanges returns ranges in a deterministic order (insertion order by
// register ID), since Go map iteration order is not stable (spec.md §5).
func orderedRanges(ranges map[*Register]*liveRange) []*liveRange {
	out := make([]*liveRange, 0, len(ranges))
	for _, lr := range ranges {
		out = append(out, lr)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].reg.ID < out[j-1].reg.ID; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

// color pops the simplification stack and assigns each live range a
// physical register, preferring combinable hints and avoiding their
// interferences (spec.md §4.9 "Coloring"). Returns the ranges that could
// not be colored.
func color(isa types.TargetISA, order []*liveRange) []*liveRange {
	var spilled []*liveRange
	for i := len(order) - 1; i >= 0; i-- {
		lr := order[i]
		intersectingRegs := map[*Register]bool{}
		for other := range lr.intersecting {
			addWithAliases(intersectingRegs, other.allocated)
			if !other.reg.Virtual {
				addWithAliases(intersectingRegs, other.reg)
			}
		}
		preferred := map[*Register]bool{}
		avoided := map[*Register]bool{}
		for combo := range lr.combinable {
			if combo.allocated != nil {
				preferred[combo.allocated] = true
			}
			for other := range combo.intersecting {
				if other.allocated != nil {
					avoided[other.allocated] = true
				}
			}
		}

		chosen := pickRegister(isa, lr.reg.KindMask, intersectingRegs, preferred, avoided)
		if chosen == nil {
			lr.spilled = true
			spilled = append(spilled, lr)
			continue
		}
		lr.allocated = chosen
	}
	return spilled
}

func addWithAliases(set map[*Register]bool, r *Register) {
	if r == nil {
		return
	}
	set[r] = true
	for _, a := range r.Aliases {
		set[a] = true
	}
}

func pickRegister(isa types.TargetISA, kind PhysKind, intersecting, preferred, avoided map[*Register]bool) *Register {
	var fallback *Register
	for _, p := range PhysicalRegisters(isa) {
		if p.KindMask&kind == 0 || intersecting[p] {
			continue
		}
		if p.IsSpecialPurpose && !preferred[p] {
			continue
		}
		if preferred[p] {
			return p
		}
		if fallback == nil || (avoided[fallback] && !avoided[p]) {
			fallback = p
		}
	}
	return fallback
}

// applyColoring rewrites every instruction's register references from
// originalRegister to allocatedRegister, the final step of a successful
// coloring pass.
func applyColoring(fn *Func, ranges map[*Register]*liveRange) {
	replacement := map[*Register]*Register{}
	for _, lr := range ranges {
		if lr.allocated != nil {
			replacement[lr.reg] = lr.allocated
		}
	}
	for _, b := range fn.Blocks {
		for _, instr := range b.Instrs {
			replaceReg(&instr.Dst, replacement)
			replaceReg(&instr.Addr, replacement)
			replaceReg(&instr.Ctrl, replacement)
			for i := range instr.Args {
				replaceReg(&instr.Args[i], replacement)
			}
		}
	}
	for i := range fn.Params {
		replaceReg(&fn.Params[i], replacement)
	}
}

func replaceReg(slot **Register, replacement map[*Register]*Register) {
	if *slot == nil {
		return
	}
	if r, ok := replacement[*slot]; ok {
		*slot = r
	}
}

// removeRedundantMoves drops any Move whose source and destination are now
// the same physical register, the allocator's coalescing cleanup.
func removeRedundantMoves(fn *Func) {
	for _, b := range fn.Blocks {
		kept := b.Instrs[:0]
		for _, instr := range b.Instrs {
			if instr.Op == OpMove && instr.Dst != nil && len(instr.Args) == 1 && instr.Dst == instr.Args[0] {
				continue
			}
			kept = append(kept, instr)
		}
		b.Instrs = kept
	}
}
