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

// RTL -> Asm lowering (C10), adapted from the teacher's
// compile/codegen/lower_x86.go lowerBlock/lowerArithmetic, generalized
// from its single hard-coded x86-64 target to the ISA-parameterized
// virtual register model of regs.go/ir.go.
package codegen

import (
	"falcon/compile/rtl"
	"falcon/compile/ssa"
	"falcon/compile/types"
	"falcon/compile/values"
)

// addrLoc records the single variable location an RTL register uniformly
// addresses, if any (spec.md §4.8).
type addrLoc struct {
	variable *ssa.Variable
	offset   int64
}

// addressOfLocations implements the §4.8 micro-pass: for each RTL register,
// union the VarPtr constant of every def; a register that receives the same
// location from every LoadConstant def (and nothing else) is recorded.
func addressOfLocations(fn *rtl.Func) map[*rtl.Reg]addrLoc {
	locs := make(map[*rtl.Reg]addrLoc)
	none := make(map[*rtl.Reg]bool)
	for _, b := range fn.Blocks {
		for _, instr := range b.Instrs {
			if instr.Dst == nil {
				continue
			}
			if none[instr.Dst] {
				continue
			}
			if instr.Op != rtl.OpLoadConstant || instr.Const.Kind != values.KVarPtr {
				none[instr.Dst] = true
				delete(locs, instr.Dst)
				continue
			}
			v, _ := instr.Const.Variable.(*ssa.Variable)
			loc := addrLoc{variable: v, offset: instr.Const.Offset}
			if existing, ok := locs[instr.Dst]; ok && existing != loc {
				none[instr.Dst] = true
				delete(locs, instr.Dst)
				continue
			}
			locs[instr.Dst] = loc
		}
	}
	return locs
}

// Lower translates an RTL function into the Asm IR for isa (spec.md §4.7).
func Lower(fn *rtl.Func, isa types.TargetISA) *Func {
	locs := addressOfLocations(fn)

	out := NewFunc(fn.Name, fn.Types, isa)
	out.ReturnType = fn.ReturnType

	regOf := make(map[*rtl.Reg]*Register)
	reg := func(r *rtl.Reg) *Register {
		if ar, ok := regOf[r]; ok {
			return ar
		}
		ar := out.NewVirtualReg(r.Type)
		ar.SpillLoc = r.SpillLoc
		regOf[r] = ar
		return ar
	}
	for _, p := range fn.Params {
		out.Params = append(out.Params, reg(p))
	}

	blockOf := make(map[*rtl.Block]*Block)
	for _, b := range fn.Blocks {
		blockOf[b] = out.NewBlock()
	}
	out.Start = blockOf[fn.Start]

	for _, b := range fn.Blocks {
		nb := blockOf[b]
		for _, instr := range b.Instrs {
			lowerInstr(out, nb, instr, reg, locs)
		}
		switch b.Kind {
		case rtl.BlockPlain:
			nb.WireTo(blockOf[b.Succs[0]])
			nb.AddInstr(&Instr{Op: OpJump, True: blockOf[b.Succs[0]]})
		case rtl.BlockIf:
			t, f := blockOf[b.Succs[0]], blockOf[b.Succs[1]]
			nb.WireCond(t, f)
			nb.AddInstr(&Instr{
				Op: OpCompareAgainstConstAndJump, Ctrl: reg(b.Ctrl), Against: 0,
				Cmp: CondNE, True: t, False: f,
			})
		case rtl.BlockEnd:
			// no terminator
		}
	}
	return out
}

func lowerInstr(fn *Func, b *Block, instr *rtl.Instr, reg func(*rtl.Reg) *Register, locs map[*rtl.Reg]addrLoc) {
	switch instr.Op {
	case rtl.OpLoadConstant:
		b.AddInstr(&Instr{Op: OpLoadConstant, Dst: reg(instr.Dst), Const: instr.Const})
	case rtl.OpMove:
		b.AddInstr(&Instr{Op: OpMove, Dst: reg(instr.Dst), Args: []*Register{reg(instr.Args[0])}})
	case rtl.OpTypeCast:
		b.AddInstr(&Instr{Op: OpTypeCast, Dst: reg(instr.Dst), Args: []*Register{reg(instr.Args[0])}, SrcTy: instr.SrcTy})
	case rtl.OpAdd:
		lowerAdd(fn, b, instr, reg)
	case rtl.OpSub:
		d, l, r := reg(instr.Dst), reg(instr.Args[0]), reg(instr.Args[1])
		b.AddInstr(&Instr{Op: OpMove, Dst: d, Args: []*Register{l}})
		b.AddInstr(&Instr{Op: OpSub, Dst: d, Args: []*Register{d, r}})
	case rtl.OpCompare:
		signed := isSigned(instr.Args[0].Type)
		b.AddInstr(&Instr{
			Op: OpCompare, Dst: reg(instr.Dst), Cmp: FromCompare(instr.Cmp, signed),
			Args: []*Register{reg(instr.Args[0]), reg(instr.Args[1])},
		})
	case rtl.OpLoad:
		addrReg := instr.Addr
		if loc, ok := locs[addrReg]; ok {
			b.AddInstr(&Instr{Op: OpLoadLocal, Dst: reg(instr.Dst), Local: loc.variable, Disp: loc.offset})
			return
		}
		b.AddInstr(&Instr{Op: OpLoad, Dst: reg(instr.Dst), Addr: reg(addrReg)})
	case rtl.OpStore:
		addrReg := instr.Addr
		val := reg(instr.Args[0])
		if loc, ok := locs[addrReg]; ok {
			b.AddInstr(&Instr{Op: OpStoreLocal, Local: loc.variable, Disp: loc.offset, Args: []*Register{val}})
			return
		}
		b.AddInstr(&Instr{Op: OpStore, Addr: reg(addrReg), Args: []*Register{val}})
	}
}

func isSigned(t *types.Type) bool {
	return t.Kind() == types.KInteger && t.Signed()
}

// lowerAdd implements spec.md §4.7's pointer-arithmetic special case:
// `Add(d,l,r)` where one operand is a pointer scales the integer operand by
// the pointee's element size before adding it to the pointer operand.
func lowerAdd(fn *Func, b *Block, instr *rtl.Instr, reg func(*rtl.Reg) *Register) {
	d := reg(instr.Dst)
	lt, rt := instr.Args[0].Type, instr.Args[1].Type
	var ptrArg, intArg *rtl.Reg
	var elemSize int64
	switch {
	case lt.Kind() == types.KPointer:
		ptrArg, intArg = instr.Args[0], instr.Args[1]
		elemSize = int64(types.SizeOf(fn.ISA, types.Dereference(lt)).Size)
	case rt.Kind() == types.KPointer:
		ptrArg, intArg = instr.Args[1], instr.Args[0]
		elemSize = int64(types.SizeOf(fn.ISA, types.Dereference(rt)).Size)
	default:
		l, r := reg(instr.Args[0]), reg(instr.Args[1])
		b.AddInstr(&Instr{Op: OpMove, Dst: d, Args: []*Register{l}})
		b.AddInstr(&Instr{Op: OpAdd, Dst: d, Args: []*Register{d, r}})
		return
	}
	b.AddInstr(&Instr{Op: OpLoadConstant, Dst: d, Const: values.Int(false, types.W64, elemSize)})
	b.AddInstr(&Instr{Op: OpMul, Dst: d, Args: []*Register{d, reg(intArg)}})
	b.AddInstr(&Instr{Op: OpAdd, Dst: d, Args: []*Register{d, reg(ptrArg)}})
}
