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

// Package rtl implements the RTL IR (C9) and SSA → RTL lowering (C8),
// grounded on the teacher's compile/codegen/lir.go shapes and
// compile/codegen/lower_x86.go's resolvePhi/lowerArithmetic/lowerBlock,
// generalized from that file's SSA->LIR-for-x86 shortcut into a real
// target-independent three-address virtual-register IR.
package rtl

import (
	"fmt"
	"strings"

	"falcon/compile/ssa"
	"falcon/compile/types"
	"falcon/compile/values"
)

// Op enumerates the RTL instruction shapes of spec.md §2/§9: constant-load,
// move, load/store, compare, jump, add, typecast.
type Op int

const (
	OpLoadConstant Op = iota
	OpMove
	OpLoad
	OpStore
	OpCompare
	OpAdd
	OpSub
	OpTypeCast
)

func (op Op) String() string {
	return [...]string{"LoadConstant", "Move", "Load", "Store", "Compare", "Add", "Sub", "TypeCast"}[op]
}

// Reg is a virtual register: a (name, spillLocation) handle, per spec.md
// §3's RTL shape.
type Reg struct {
	ID       int
	Type     *types.Type
	SpillLoc *ssa.Variable
}

func (r *Reg) String() string { return fmt.Sprintf("r%d", r.ID) }

// Instr is one RTL instruction. Dst is nil for Store (no result) and for
// the implicit terminator carried by the owning Block.
type Instr struct {
	Op   Op
	Dst  *Reg
	Args []*Reg // operand registers, meaning depends on Op
	Addr *Reg   // Load/Store's address operand (kept separate from Args for clarity)

	Const values.Value // OpLoadConstant
	Cmp   ssa.CompareOp // OpCompare
	SrcTy *types.Type    // OpTypeCast source type (Dst.Type is the destination type)
}

func (i *Instr) String() string {
	var b strings.Builder
	if i.Dst != nil {
		fmt.Fprintf(&b, "%v = %v", i.Dst, i.Op)
	} else {
		fmt.Fprintf(&b, "%v", i.Op)
	}
	if i.Op == OpLoadConstant {
		fmt.Fprintf(&b, " %v", i.Const)
	}
	if i.Op == OpCompare {
		fmt.Fprintf(&b, " %v", i.Cmp)
	}
	if i.Addr != nil {
		fmt.Fprintf(&b, " [%v]", i.Addr)
	}
	for _, a := range i.Args {
		fmt.Fprintf(&b, " %v", a)
	}
	return b.String()
}

// BlockKind mirrors ssa.BlockKind (spec.md §4.1: "RTL the function is
// simpler: only successors/predecessors are rebuilt from terminators").
type BlockKind int

const (
	BlockPlain BlockKind = iota
	BlockIf
	BlockEnd
)

type Block struct {
	ID     int
	Kind   BlockKind
	Func   *Func
	Instrs []*Instr
	Preds  []*Block
	Succs  []*Block
	Ctrl   *Reg
}

func (b *Block) String() string {
	var s strings.Builder
	fmt.Fprintf(&s, "b%d:", b.ID)
	for _, instr := range b.Instrs {
		fmt.Fprintf(&s, "\n  %v", instr)
	}
	switch b.Kind {
	case BlockPlain:
		fmt.Fprintf(&s, "\n  jump b%d", b.Succs[0].ID)
	case BlockIf:
		fmt.Fprintf(&s, "\n  if %v jump b%d else b%d", b.Ctrl, b.Succs[0].ID, b.Succs[1].ID)
	}
	return s.String()
}

func (b *Block) AddInstr(i *Instr) { b.Instrs = append(b.Instrs, i) }

func (b *Block) WireTo(succ *Block) {
	b.Kind = BlockPlain
	b.Succs = []*Block{succ}
	succ.Preds = append(succ.Preds, b)
}

func (b *Block) WireIf(ctrl *Reg, t, f *Block) {
	b.Kind = BlockIf
	b.Ctrl = ctrl
	b.Succs = []*Block{t, f}
	t.Preds = append(t.Preds, b)
	f.Preds = append(f.Preds, b)
}

func (b *Block) RemoveSucc(s *Block) {
	for i, x := range b.Succs {
		if x == s {
			b.Succs = append(b.Succs[:i], b.Succs[i+1:]...)
			return
		}
	}
}

func (b *Block) RemovePred(p *Block) {
	for i, x := range b.Preds {
		if x == p {
			b.Preds = append(b.Preds[:i], b.Preds[i+1:]...)
			return
		}
	}
}

type Func struct {
	Name       string
	Params     []*Reg
	ReturnType *types.Type
	Blocks     []*Block
	Start      *Block
	End        *Block

	nextRegID   int
	nextBlockID int
	ISA         types.TargetISA
	Types       *types.Table

	// FrameSize/Vars mirror the SSA function's frame: spill slots
	// allocated during register allocation (C11) extend this.
	FrameSize int
	Vars      []*ssa.Variable
}

func NewFunc(name string, tbl *types.Table, isa types.TargetISA) *Func {
	return &Func{Name: name, Types: tbl, ISA: isa}
}

func (fn *Func) NewBlock(kind BlockKind) *Block {
	b := &Block{ID: fn.nextBlockID, Kind: kind, Func: fn}
	fn.nextBlockID++
	fn.Blocks = append(fn.Blocks, b)
	return b
}

func (fn *Func) RemoveBlock(b *Block) {
	for i, x := range fn.Blocks {
		if x == b {
			fn.Blocks = append(fn.Blocks[:i], fn.Blocks[i+1:]...)
			return
		}
	}
}

func (fn *Func) NewReg(t *types.Type) *Reg {
	r := &Reg{ID: fn.nextRegID, Type: t}
	fn.nextRegID++
	return r
}

func (fn *Func) String() string {
	var s strings.Builder
	fmt.Fprintf(&s, "func %s {\n", fn.Name)
	for _, b := range fn.Blocks {
		fmt.Fprintf(&s, "%v\n", b)
	}
	s.WriteString("}")
	return s.String()
}

// RebuildCFG refills every block's Preds from the Succs of the blocks that
// branch to it, per spec.md §4.1's simpler RTL rule; Succs are left as
// they are.
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
