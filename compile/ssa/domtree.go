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

// ------------------------------------------------------------------------------
// Dominator tree (C2), adapted from the teacher's compile/ssa/domtree.go.
//
// a dom b if all paths from entry to block b include a
// a sdom b if a dom b and a != b
// a idom b if a sdom b and there is no block c such that a sdom c sdom b
//
// Iterative fixed-point dataflow, O(n^2).

import (
	"fmt"

	"falcon/internal/diag"
)

type DomTree struct {
	Func *Func
	Dom  map[*Block][]*Block
}

func (dt *DomTree) IsDominate(a, b *Block) bool {
	for _, dom := range dt.Dom[b] {
		if dom == a {
			return true
		}
	}
	return false
}

func (dt *DomTree) IsSDominate(a, b *Block) bool {
	return dt.IsDominate(a, b) && a != b
}

func (dt *DomTree) IsIDominate(a, b *Block) bool {
	if !dt.IsSDominate(a, b) {
		return false
	}
	for _, c := range dt.Dom[b] {
		if c != a && c != b && !dt.IsDominate(c, a) {
			return false
		}
	}
	return true
}

func intersectBlocks(a, b []*Block) []*Block {
	if len(a) > len(b) {
		a, b = b, a
	}
	res := make([]*Block, 0, len(a))
	for _, x := range a {
		for _, y := range b {
			if x == y {
				res = append(res, x)
				break
			}
		}
	}
	return res
}

func unionBlocks(a, b []*Block) []*Block {
	m := make(map[*Block]bool)
	for _, x := range a {
		m[x] = true
	}
	for _, x := range b {
		m[x] = true
	}
	res := make([]*Block, 0, len(m))
	for x := range m {
		res = append(res, x)
	}
	return res
}

func (dt *DomTree) String() string {
	s := "== Dom Tree:\n"
	for block, doms := range dt.Dom {
		s += fmt.Sprintf("b%d:", block.ID)
		for _, dom := range doms {
			s += fmt.Sprintf(" b%d", dom.ID)
		}
		s += "\n"
	}
	return s
}

// RebuildCFG refills every block's Preds from the Succs of the blocks that
// branch to it; Succs are left as they are. SSA blocks already keep
// Succs/Preds live through WireTo/WireIf; compile/rtl has its own
// RebuildCFG for RTL functions.
func RebuildCFG(fn *Func) {
	for _, b := range fn.Blocks {
		b.Preds = nil
	}
	for _, b := range fn.Blocks {
		for _, s := range b.Succs {
			s.Preds = append(s.Preds, b)
		}
	}
}

// BuildDomTree computes the dominator tree and stamps each Block's Dom/IDom
// fields (spec.md §4.1).
func BuildDomTree(fn *Func) *DomTree {
	dom := make(map[*Block][]*Block, len(fn.Blocks))
	dom[fn.Start] = []*Block{fn.Start}
	for _, block := range fn.Blocks {
		if block == fn.Start {
			continue
		}
		dom[block] = fn.Blocks
	}

	changed := true
	for changed {
		changed = false
		for _, block := range fn.Blocks {
			if block == fn.Start {
				continue
			}
			var newdom []*Block
			if len(block.Preds) > 0 {
				newdom = dom[block.Preds[0]]
				for _, pred := range block.Preds[1:] {
					newdom = intersectBlocks(newdom, dom[pred])
				}
			}
			newdom = unionBlocks(newdom, []*Block{block})
			if len(newdom) != len(dom[block]) {
				changed = true
				dom[block] = newdom
			}
		}
	}

	dt := &DomTree{Func: fn, Dom: dom}
	for _, block := range fn.Blocks {
		block.Dom = dom[block]
		block.IDom = nil
		for _, cand := range dom[block] {
			if dt.IsIDominate(cand, block) {
				block.IDom = cand
				break
			}
		}
	}
	return dt
}

// VerifyDom checks spec.md §8's dominator-correctness property: every
// def dominates its uses, and every φ input dominates the corresponding
// predecessor.
func VerifyDom(fn *Func) {
	domTree := BuildDomTree(fn)
	for _, block := range fn.Blocks {
		for _, val := range block.Values {
			for _, use := range val.Uses {
				if use.Op == OpPhi {
					for ipred, pred := range use.Block.Preds {
						phiArg := use.Args[ipred]
						if !domTree.IsDominate(phiArg.Block, pred) {
							diag.Fatal(fn, "b%d does not dominate b%d (phi v%d input)", phiArg.Block.ID, pred.ID, use.ID)
						}
					}
					continue
				}
				if !domTree.IsDominate(val.Block, use.Block) {
					diag.Fatal(fn, "def v%d(b%d) does not dominate its use v%d(b%d)", val.ID, val.Block.ID, use.ID, use.Block.ID)
				}
			}
		}
	}
}
