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

// Package ssa implements the SSA IR (C3), its CFG/dominator utilities
// (C2), liveness (C4), Mem2Reg (C5), SCCP+DCE (C6) and φ-removal/CF
// simplification (C7), grounded on the teacher's compile/ssa package
// (hir.go, domtree.go, optimize.go) but reworked so SSA arrives pre-built
// from an external front end rather than being constructed from an AST.
package ssa

import (
	"fmt"
	"strings"

	"falcon/compile/types"
	"falcon/compile/values"
	"falcon/internal/diag"
)

// Op tags the variant of a Value node (spec.md §3's SSA node set: phi,
// constant, move, load, store, compare, alloca, typecast, add, jumps).
type Op int

const (
	OpInvalid Op = iota
	OpPhi
	OpConst
	OpMove
	OpLoad
	OpStore
	OpAlloca
	OpTypeCast
	OpAdd
	OpSub
	OpCompare
	OpParam
	// Block terminators are not Value nodes: a block's control transfer is
	// carried by Block.Kind/Block.Ctrl directly (spec.md §3's "terminator"
	// is a property of the block shape, not a separate instruction this
	// IR needs to schedule or dataflow-evaluate).
)

func (op Op) String() string {
	switch op {
	case OpPhi:
		return "Phi"
	case OpConst:
		return "Const"
	case OpMove:
		return "Move"
	case OpLoad:
		return "Load"
	case OpStore:
		return "Store"
	case OpAlloca:
		return "Alloca"
	case OpTypeCast:
		return "TypeCast"
	case OpAdd:
		return "Add"
	case OpSub:
		return "Sub"
	case OpCompare:
		return "Compare"
	case OpParam:
		return "Param"
	}
	return "Invalid"
}

// CompareOp is the comparison predicate carried by an OpCompare node.
type CompareOp int

const (
	CmpEQ CompareOp = iota
	CmpNE
	CmpLT
	CmpLE
	CmpGT
	CmpGE
)

func (c CompareOp) String() string {
	return [...]string{"==", "!=", "<", "<=", ">", ">="}[c]
}

// VarKind is a Variable's storage kind (spec.md §3).
type VarKind int

const (
	VarLocal VarKind = iota
	VarParameter
	VarGlobal
)

// NoStart marks a Variable not yet assigned a frame offset.
const NoStart = -1

// Variable is an addressable storage location: an Alloca's target, a
// parameter, or a global. Offsets are filled by frame allocation.
type Variable struct {
	Name   string
	Kind   VarKind
	Type   *types.Type
	Offset int // NoStart until allocated
}

// AllocateFrame assigns v an offset within a monotonically growing frame,
// aligning first (spec.md §3: "Allocation aligns the running frame size to
// the variable's alignment then bumps it by the variable's size").
func AllocateFrame(frameSize int, isa types.TargetISA, v *Variable) int {
	props := types.SizeOf(isa, v.Type)
	aligned := alignUp(frameSize, props.Alignment)
	v.Offset = aligned
	return aligned + props.Size
}

func alignUp(n, align int) int {
	if align <= 1 {
		return n
	}
	return (n + align - 1) / align * align
}

// Value is an SSA node: a typed value with an optional spill location,
// inputs, and the bookkeeping needed for replacement and DCE.
type Value struct {
	ID    int
	Op    Op
	Type  *types.Type
	Block *Block
	Args  []*Value

	// OpConst
	Const values.Value
	// OpCompare
	Cmp CompareOp
	// OpAlloca / OpParam: the addressed/bound variable.
	Var *Variable
	// Non-alloca node's own spill location, if one was assigned (e.g. by
	// Mem2Reg, which stamps inserted φs with spillLocation = v).
	SpillLoc *Variable

	// Uses lists every Value whose Args references this Value.
	Uses []*Value
	// UseBlock lists every Block whose Ctrl references this Value (i.e.
	// the value is a BlockIf's condition), mirroring the teacher's
	// AddUseBlock/RemoveUseBlock bookkeeping.
	UseBlock []*Block
}

func (v *Value) String() string {
	var b strings.Builder
	if v.Type != nil && !v.Type.IsVoid() {
		fmt.Fprintf(&b, "v%d = %v", v.ID, v.Op)
	} else {
		fmt.Fprintf(&b, "v%d %v", v.ID, v.Op)
	}
	if v.Op == OpConst {
		fmt.Fprintf(&b, " %v", v.Const)
	}
	if v.Op == OpCompare {
		fmt.Fprintf(&b, " %v", v.Cmp)
	}
	if v.Var != nil {
		fmt.Fprintf(&b, " {%s}", v.Var.Name)
	}
	for _, a := range v.Args {
		fmt.Fprintf(&b, " v%d", a.ID)
	}
	return b.String()
}

// AddUse registers v as a user of arg.
func addUse(arg, v *Value) {
	arg.Uses = append(arg.Uses, v)
}

func removeUseOnce(arg, v *Value) {
	for i, u := range arg.Uses {
		if u == v {
			arg.Uses = append(arg.Uses[:i], arg.Uses[i+1:]...)
			return
		}
	}
}

// AddArg appends arg to v's input list, recording the use edge.
func (v *Value) AddArg(arg *Value) {
	v.Args = append(v.Args, arg)
	addUse(arg, v)
}

// SetArg overwrites v.Args[i], updating use edges. old may be nil (an
// as-yet-unfilled phi operand slot).
func (v *Value) SetArg(i int, arg *Value) {
	old := v.Args[i]
	if old == arg {
		return
	}
	if old != nil {
		removeUseOnce(old, v)
	}
	v.Args[i] = arg
	addUse(arg, v)
}

// ReplaceUses rewires every user of v to reference newVal instead, as the
// teacher's hir.go does; used by trivial-φ removal and SCCP's constant
// rewriting.
func (v *Value) ReplaceUses(newVal *Value) {
	for _, use := range append([]*Value(nil), v.Uses...) {
		for i, a := range use.Args {
			if a == v {
				use.SetArg(i, newVal)
			}
		}
	}
	for _, blk := range append([]*Block(nil), v.UseBlock...) {
		blk.Ctrl = newVal
		addUseBlock(newVal, blk)
	}
	v.Uses = nil
	v.UseBlock = nil
}

func addUseBlock(v *Value, b *Block) {
	v.UseBlock = append(v.UseBlock, b)
}

func removeUseBlockOnce(v *Value, b *Block) {
	for i, x := range v.UseBlock {
		if x == b {
			v.UseBlock = append(v.UseBlock[:i], v.UseBlock[i+1:]...)
			return
		}
	}
}

// BlockKind distinguishes how a block terminates.
type BlockKind int

const (
	BlockPlain BlockKind = iota // single successor, unconditional jump
	BlockIf                     // two successors, Ctrl selects [true,false]
	BlockEnd                    // the unique end block: no terminator required
)

// Block is an SSA basic block.
type Block struct {
	ID     int
	Kind   BlockKind
	Func   *Func
	Values []*Value // φs first, then non-φ instructions
	Preds  []*Block
	Succs  []*Block
	// Ctrl is the condition value for BlockIf; nil otherwise.
	Ctrl *Value

	Dom  []*Block // dominator set, filled by BuildDomTree
	IDom *Block
}

func (b *Block) String() string {
	var s strings.Builder
	fmt.Fprintf(&s, "b%d:", b.ID)
	for _, v := range b.Values {
		fmt.Fprintf(&s, "\n  %v", v)
	}
	switch b.Kind {
	case BlockPlain:
		fmt.Fprintf(&s, "\n  jump b%d", b.Succs[0].ID)
	case BlockIf:
		fmt.Fprintf(&s, "\n  if v%d jump b%d else b%d", b.Ctrl.ID, b.Succs[0].ID, b.Succs[1].ID)
	}
	return s.String()
}

// WireTo appends succ as b's sole successor (BlockPlain), maintaining the
// reverse Pred edge.
func (b *Block) WireTo(succ *Block) {
	b.Kind = BlockPlain
	b.Succs = []*Block{succ}
	succ.Preds = append(succ.Preds, b)
}

// WireIf wires b as a two-way branch.
func (b *Block) WireIf(ctrl *Value, t, f *Block) {
	b.Kind = BlockIf
	b.Ctrl = ctrl
	addUseBlock(ctrl, b)
	b.Succs = []*Block{t, f}
	t.Preds = append(t.Preds, b)
	f.Preds = append(f.Preds, b)
}

// RemoveCtrl demotes b to BlockPlain with the given sole successor,
// dropping its Ctrl use-block edge (used when simplifyCFG folds a
// constant-boolean branch, spec.md §4.5).
func (b *Block) RemoveCtrl(keep *Block) {
	if b.Ctrl != nil {
		removeUseBlockOnce(b.Ctrl, b)
		b.Ctrl = nil
	}
	b.Kind = BlockPlain
	b.Succs = []*Block{keep}
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

// PredIndex returns the index of pred within b.Preds, or -1.
func (b *Block) PredIndex(pred *Block) int {
	for i, p := range b.Preds {
		if p == pred {
			return i
		}
	}
	return -1
}

// AddValue appends a non-φ value to the end of the block.
func (b *Block) AddValue(v *Value) {
	v.Block = b
	b.Values = append(b.Values, v)
}

// AddPhi inserts a φ at the start of the block's instruction list (spec.md
// §3: "every φ, if present, precedes non-φs").
func (b *Block) AddPhi(v *Value) {
	v.Block = b
	b.Values = append([]*Value{v}, b.Values...)
}

// RemoveValue deletes v from the block, clearing its use edges on its own
// args (but not touching its Uses -- callers must have already redirected
// or verified there are none).
func (b *Block) RemoveValue(v *Value) {
	for i, a := range v.Args {
		removeUseOnce(a, v)
		_ = i
	}
	for i, x := range b.Values {
		if x == v {
			b.Values = append(b.Values[:i], b.Values[i+1:]...)
			return
		}
	}
}

// Func is an SSA function: owns blocks, parameters, optional return value.
type Func struct {
	Name       string
	Params     []*Variable
	ReturnType *types.Type
	Blocks     []*Block
	Start      *Block
	End        *Block

	nextValueID int
	nextBlockID int
	ISA         types.TargetISA
	Types       *types.Table
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

// RemoveBlock drops b from the function's block list. Callers must have
// already unwired its Pred/Succ edges.
func (fn *Func) RemoveBlock(b *Block) {
	for i, x := range fn.Blocks {
		if x == b {
			fn.Blocks = append(fn.Blocks[:i], fn.Blocks[i+1:]...)
			return
		}
	}
}

// allocValueID hands out a fresh ID without constructing a Value, for
// callers (e.g. Mem2Reg) that build a Value struct literal directly.
func (fn *Func) allocValueID() int {
	id := fn.nextValueID
	fn.nextValueID++
	return id
}

// NewValue allocates a fresh Value bound to no block yet.
func (fn *Func) NewValue(op Op, t *types.Type, args ...*Value) *Value {
	v := &Value{ID: fn.nextValueID, Op: op, Type: t}
	fn.nextValueID++
	for _, a := range args {
		v.AddArg(a)
	}
	return v
}

func (fn *Func) NewConst(t *types.Type, c values.Value) *Value {
	v := fn.NewValue(OpConst, t)
	v.Const = c
	return v
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

// VerifySSA checks the universal invariants of spec.md §8: CFG
// consistency, SSA single-definition, and (via domtree.VerifyDom) dominance
// of every def over its uses/φ-predecessors.
func VerifySSA(fn *Func) {
	seen := make(map[*Value]bool)
	for _, b := range fn.Blocks {
		for _, s := range b.Succs {
			diag.Assert(s.PredIndex(b) >= 0, "b%d -> b%d missing reverse pred edge", b.ID, s.ID)
		}
		for _, v := range b.Values {
			diag.Assert(!seen[v], "v%d defined more than once", v.ID)
			seen[v] = true
			if v.Op == OpPhi {
				diag.Assert(len(v.Args) == len(b.Preds), "phi v%d has %d args for %d preds", v.ID, len(v.Args), len(b.Preds))
			}
		}
	}
	VerifyDom(fn)
}
