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

// Package codegen implements the target-specific tail of the pipeline:
// RTL -> Asm lowering (C10), the Chaitin/Briggs register allocator (C11),
// Asm-level dead-code elimination (C12) and the assembly writer (C13).
//
// The Asm IR itself is grounded on the teacher's compile/codegen/lir.go
// three-operand LIR, generalized from its AST-typed single-target shape
// into the spec's virtual/physical register model shared by x86-32 and
// x86-64.
package codegen

import (
	"fmt"
	"strings"

	"falcon/compile/ssa"
	"falcon/compile/types"
	"falcon/compile/values"
)

// Op enumerates Asm instruction shapes (spec.md §4.7).
type Op int

const (
	OpLoadConstant Op = iota
	OpMove
	OpLoad
	OpLoadLocal
	OpStore
	OpStoreLocal
	OpCompare
	OpAdd
	OpSub
	OpMul
	OpTypeCast
	OpJump
	OpCompareAgainstConstAndJump
)

func (op Op) String() string {
	return [...]string{
		"LoadConstant", "Move", "Load", "LoadLocal", "Store", "StoreLocal",
		"Compare", "Add", "Sub", "Mul", "TypeCast", "Jump", "CompareAgainstConstAndJump",
	}[op]
}

// Cond is a condition code, chosen from the signedness-appropriate half of
// the x86 flag-test matrix (spec.md §4.7).
type Cond int

const (
	CondE Cond = iota
	CondNE
	CondA
	CondAE
	CondB
	CondBE
	CondG
	CondGE
	CondL
	CondLE
)

func (c Cond) String() string {
	return [...]string{"e", "ne", "a", "ae", "b", "be", "g", "ge", "l", "le"}[c]
}

// Negate returns the condition that holds exactly when c does not.
func (c Cond) Negate() Cond {
	switch c {
	case CondE:
		return CondNE
	case CondNE:
		return CondE
	case CondA:
		return CondBE
	case CondAE:
		return CondB
	case CondB:
		return CondAE
	case CondBE:
		return CondA
	case CondG:
		return CondLE
	case CondGE:
		return CondL
	case CondL:
		return CondGE
	case CondLE:
		return CondG
	}
	panic("unreachable")
}

// FromCompare picks the condition code for an RTL compare, honoring the
// signedness of its operand type (bool and pointer are unsigned).
func FromCompare(cmp ssa.CompareOp, signed bool) Cond {
	switch cmp {
	case ssa.CmpEQ:
		return CondE
	case ssa.CmpNE:
		return CondNE
	case ssa.CmpLT:
		if signed {
			return CondL
		}
		return CondB
	case ssa.CmpLE:
		if signed {
			return CondLE
		}
		return CondBE
	case ssa.CmpGT:
		if signed {
			return CondG
		}
		return CondA
	case ssa.CmpGE:
		if signed {
			return CondGE
		}
		return CondAE
	}
	panic("unreachable")
}

// Register is an Asm-level register, physical or virtual (spec.md §3).
// Physical registers are interned values from the ISA's table (see
// regs.go); virtual registers are allocated per function and carry a
// PhysicalRegisterKindMask computed from their SSA/RTL type.
type Register struct {
	Virtual bool

	// Physical register fields.
	Name             string
	KindMask         PhysKind
	Aliases          []*Register // sub/super-register interference set
	SaveAs           *Register   // widest alias, used for callee-save spill/restore
	IsSpecialPurpose bool
	IsCalleeSave     bool

	// Virtual register fields.
	ID       int
	Type     *types.Type
	SpillLoc *ssa.Variable
}

func (r *Register) String() string {
	if r.Virtual {
		return fmt.Sprintf("v%d", r.ID)
	}
	return r.Name
}

// PhysKind is a bitmask of the physical register kinds (spec.md §3). Float
// kinds are reserved but never produced: floating point emission is out of
// scope (spec.md §1 Non-goals).
type PhysKind uint8

const (
	KindInt8 PhysKind = 1 << iota
	KindInt16
	KindInt32
	KindInt64
	KindFloat32
	KindFloat64
)

// KindForWidth returns the integer PhysKind matching a byte width.
func KindForWidth(width int) PhysKind {
	switch width {
	case 1:
		return KindInt8
	case 2:
		return KindInt16
	case 4:
		return KindInt32
	case 8:
		return KindInt64
	}
	panic(fmt.Sprintf("no integer kind of width %d", width))
}

// Instr is one Asm instruction.
type Instr struct {
	Op  Op
	Dst *Register

	Addr  *Register // Load/Store's base register
	Local *ssa.Variable // LoadLocal/StoreLocal's frame variable
	Disp  int64         // LoadLocal/StoreLocal's offset from that variable's base
	Args  []*Register
	Const values.Value // LoadConstant

	Cmp   Cond
	SrcTy *types.Type // TypeCast source type

	// Jump / CompareAgainstConstAndJump.
	Ctrl    *Register
	Against int64
	True    *Block
	False   *Block
}

func (i *Instr) String() string {
	var b strings.Builder
	if i.Dst != nil {
		fmt.Fprintf(&b, "%v = %v", i.Dst, i.Op)
	} else {
		fmt.Fprintf(&b, "%v", i.Op)
	}
	switch i.Op {
	case OpLoadConstant:
		fmt.Fprintf(&b, " %v", i.Const)
	case OpCompare:
		fmt.Fprintf(&b, " %v", i.Cmp)
	case OpJump:
		fmt.Fprintf(&b, " b%d", i.True.ID)
	case OpCompareAgainstConstAndJump:
		fmt.Fprintf(&b, " %v against %d %v b%d else b%d", i.Ctrl, i.Against, i.Cmp, i.True.ID, i.False.ID)
	}
	if i.Addr != nil {
		fmt.Fprintf(&b, " [%v+%d]", i.Addr, i.Disp)
	}
	if i.Local != nil {
		fmt.Fprintf(&b, " {%s+%d}", i.Local.Name, i.Disp)
	}
	for _, a := range i.Args {
		fmt.Fprintf(&b, " %v", a)
	}
	return b.String()
}

// Outputs/Inputs expose an instruction's def/use registers uniformly, used
// by liveness (§4.2), the allocator (§4.9) and Asm DCE (§4.10).
func (i *Instr) Outputs() []*Register {
	if i.Dst != nil {
		return []*Register{i.Dst}
	}
	return nil
}

func (i *Instr) Inputs() []*Register {
	ins := append([]*Register(nil), i.Args...)
	if i.Addr != nil {
		ins = append(ins, i.Addr)
	}
	if i.Ctrl != nil {
		ins = append(ins, i.Ctrl)
	}
	return ins
}

// HasSideEffect reports whether removing this instruction (were its output
// unused) would change program behavior (spec.md §4.10).
func (i *Instr) HasSideEffect() bool {
	switch i.Op {
	case OpStore, OpStoreLocal, OpJump, OpCompareAgainstConstAndJump:
		return true
	}
	return false
}

type Block struct {
	ID     int
	Func   *Func
	Instrs []*Instr
	Preds  []*Block
	Succs  []*Block

	// Liveness (§4.2) / allocator bookkeeping (§4.9), recomputed per run.
	UsedAtStart      map[*Register]bool
	AssignedRegs     map[*Register]bool
	LiveInAtStart    map[*Register]bool
	LiveOutAtEnd     map[*Register]bool

	// Assembly writer bookkeeping (§4.11).
	CanJoinPrevious bool
}

func (b *Block) String() string {
	var s strings.Builder
	fmt.Fprintf(&s, "b%d:", b.ID)
	for _, i := range b.Instrs {
		fmt.Fprintf(&s, "\n  %v", i)
	}
	return s.String()
}

func (b *Block) AddInstr(i *Instr) { b.Instrs = append(b.Instrs, i) }

func (b *Block) WireTo(succ *Block) {
	b.Succs = []*Block{succ}
	succ.Preds = append(succ.Preds, b)
}

func (b *Block) WireCond(t, f *Block) {
	b.Succs = []*Block{t, f}
	t.Preds = append(t.Preds, b)
	f.Preds = append(f.Preds, b)
}

type Func struct {
	Name       string
	Params     []*Register
	ReturnType *types.Type
	Blocks     []*Block
	Start      *Block

	ISA       types.TargetISA
	Types     *types.Table
	FrameSize int

	nextRegID   int
	nextBlockID int
}

func NewFunc(name string, tbl *types.Table, isa types.TargetISA) *Func {
	return &Func{Name: name, Types: tbl, ISA: isa}
}

func (fn *Func) NewBlock() *Block {
	b := &Block{ID: fn.nextBlockID, Func: fn}
	fn.nextBlockID++
	fn.Blocks = append(fn.Blocks, b)
	return b
}

func (fn *Func) NewVirtualReg(t *types.Type) *Register {
	width := types.SizeOf(fn.ISA, t).Size
	r := &Register{Virtual: true, ID: fn.nextRegID, Type: t, KindMask: KindForWidth(int(width))}
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
