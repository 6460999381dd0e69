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

// Assembly writer (C13), adapted from the teacher's Assembler buffer/emit
// idiom in compile/codegen/asm_x86.go, retargeted from AT&T syntax to the
// GAS Intel-syntax dialect spec.md §6 requires and from a stack-slot
// "virtual register" scheme to a real physical-register allocation.
package codegen

import (
	"fmt"
	"strings"

	"falcon/compile/types"
	"falcon/internal/diag"
)

// Dialect selects the textual assembly flavor. Only Intel is implemented;
// the others are reserved (spec.md §6).
type Dialect int

const (
	DialectIntel Dialect = iota
	DialectGASATT
	DialectFASM
)

// Write emits isa-targeted GAS assembly for fn in Intel syntax. Any other
// dialect is reported as not implemented (spec.md §7.2).
func Write(fn *Func, dialect Dialect) string {
	if dialect != DialectIntel {
		diag.Unimplemented("assembly dialect %d", dialect)
	}

	order := blockOrder(fn)
	markFallthroughJoins(order)

	w := &writer{fn: fn}
	w.emitPrologue()
	for i, b := range order {
		w.emitBlock(b, i, order)
	}
	return w.buf.String()
}

// blockOrder lists the start block first, then the rest in their function
// declaration order (spec.md §4.11).
func blockOrder(fn *Func) []*Block {
	order := []*Block{fn.Start}
	for _, b := range fn.Blocks {
		if b != fn.Start {
			order = append(order, b)
		}
	}
	return order
}

// markFallthroughJoins is pass 1: for every control transfer whose natural
// fallthrough target equals the next block in the order, flag that next
// block as joinable so pass 2 suppresses its label alignment and (for
// unconditional jumps) the jump itself.
func markFallthroughJoins(order []*Block) {
	for i, b := range order {
		if i+1 >= len(order) {
			continue
		}
		next := order[i+1]
		term := terminator(b)
		if term == nil {
			continue
		}
		switch term.Op {
		case OpJump:
			if term.True == next {
				next.CanJoinPrevious = true
			}
		case OpCompareAgainstConstAndJump:
			if term.True == next || term.False == next {
				next.CanJoinPrevious = true
			}
		}
	}
}

func terminator(b *Block) *Instr {
	if len(b.Instrs) == 0 {
		return nil
	}
	last := b.Instrs[len(b.Instrs)-1]
	if last.Op == OpJump || last.Op == OpCompareAgainstConstAndJump {
		return last
	}
	return nil
}

type writer struct {
	fn  *Func
	buf strings.Builder
}

func (w *writer) emitf(format string, args ...interface{}) {
	fmt.Fprintf(&w.buf, format, args...)
}

func (w *writer) comment(s string) { w.emitf("  # %s\n", s) }

func alignedFrameSize(size int) int {
	return (size + 15) &^ 15
}

func (w *writer) emitPrologue() {
	fn := w.fn
	bp, sp := FramePointer(fn.ISA), StackPointer(fn.ISA)
	w.emitf("  .text\n  .globl %s\n  .align 16, 0x90\n  .type %s, @function\n%s:\n", fn.Name, fn.Name, fn.Name)
	w.emitf("  .cfi_startproc\n")
	w.comment("prologue")
	w.emitf("  push %%%s\n", bp.Name)
	w.emitf("  .cfi_def_cfa_offset %d\n", pointerSize(fn.ISA)*2)
	w.emitf("  .cfi_offset %%%s, -%d\n", bp.Name, pointerSize(fn.ISA)*2)
	w.emitf("  mov %%%s, %%%s\n", bp.Name, sp.Name)
	w.emitf("  .cfi_def_cfa_register %%%s\n", bp.Name)

	frame := alignedFrameSize(fn.FrameSize)
	if frame > 0 {
		w.emitf("  sub %%%s, %d\n", sp.Name, frame)
	}

	for _, r := range calleeSaved(fn) {
		off := calleeSaveOffset(fn, r)
		w.emitf("  mov [%%%s - %d], %%%s\n", bp.Name, off, r.Name)
		w.emitf("  .cfi_rel_offset %%%s, -%d\n", r.Name, off)
	}
}

func pointerSize(isa types.TargetISA) int { return int(types.PointerWidth(isa)) / 8 }

func (w *writer) emitBlock(b *Block, idx int, order []*Block) {
	if !b.CanJoinPrevious {
		w.emitf("  .align 16, 0x90\n")
	}
	w.emitf(".Ltmp%d:\n", b.ID+1)

	term := terminator(b)
	body := b.Instrs
	if term != nil {
		body = b.Instrs[:len(b.Instrs)-1]
	}
	for _, instr := range body {
		w.emitInstr(instr)
	}

	var next *Block
	if idx+1 < len(order) {
		next = order[idx+1]
	}
	if term != nil {
		w.emitTerminator(term, next)
	} else {
		w.emitEpilogue()
	}
}

func (w *writer) emitTerminator(term *Instr, next *Block) {
	switch term.Op {
	case OpJump:
		if term.True == next {
			return
		}
		w.emitf("  jmp .Ltmp%d\n", term.True.ID+1)
	case OpCompareAgainstConstAndJump:
		w.emitf("  cmp %%%s, %d\n", term.Ctrl.String(), term.Against)
		switch {
		case term.True == next:
			w.emitf("  j%s .Ltmp%d\n", term.Cmp.Negate(), term.False.ID+1)
		case term.False == next:
			w.emitf("  j%s .Ltmp%d\n", term.Cmp, term.True.ID+1)
		default:
			w.emitf("  j%s .Ltmp%d\n", term.Cmp, term.True.ID+1)
			w.emitf("  jmp .Ltmp%d\n", term.False.ID+1)
		}
	}
}

func (w *writer) emitEpilogue() {
	fn := w.fn
	bp, sp := FramePointer(fn.ISA), StackPointer(fn.ISA)
	w.comment("epilogue")
	w.emitf("  .cfi_remember_state\n")
	for _, r := range calleeSaved(fn) {
		off := calleeSaveOffset(fn, r)
		w.emitf("  mov %%%s, [%%%s - %d]\n", r.Name, bp.Name, off)
		w.emitf("  .cfi_restore %%%s\n", r.Name)
	}
	w.emitf("  mov %%%s, %%%s\n", sp.Name, bp.Name)
	w.emitf("  pop %%%s\n", bp.Name)
	w.emitf("  .cfi_restore_state\n")
	w.emitf("  ret\n")
	w.emitf("  .cfi_endproc\n")
}

func (w *writer) emitInstr(instr *Instr) {
	switch instr.Op {
	case OpLoadConstant:
		w.emitf("  mov %%%s, %v\n", instr.Dst, instr.Const)
	case OpMove:
		if instr.Dst.String() == instr.Args[0].String() {
			return
		}
		w.emitf("  mov %%%s, %%%s\n", instr.Dst, instr.Args[0])
	case OpLoad:
		w.emitf("  mov %%%s, [%%%s]\n", instr.Dst, instr.Addr)
	case OpLoadLocal:
		w.emitf("  mov %%%s, [%%%s - %d]\n", instr.Dst, FramePointer(w.fn.ISA).Name, localOffset(w.fn, instr))
	case OpStore:
		w.emitf("  mov [%%%s], %%%s\n", instr.Addr, instr.Args[0])
	case OpStoreLocal:
		w.emitf("  mov [%%%s - %d], %%%s\n", FramePointer(w.fn.ISA).Name, localOffset(w.fn, instr), instr.Args[0])
	case OpCompare:
		w.emitf("  cmp %%%s, %%%s\n", instr.Args[0], instr.Args[1])
		w.emitf("  set%s %%%s\n", instr.Cmp, instr.Dst)
	case OpAdd:
		w.emitf("  add %%%s, %%%s\n", instr.Dst, lastArg(instr))
	case OpSub:
		w.emitf("  sub %%%s, %%%s\n", instr.Dst, lastArg(instr))
	case OpMul:
		w.emitf("  imul %%%s, %%%s\n", instr.Dst, lastArg(instr))
	case OpTypeCast:
		w.emitf("  movzx %%%s, %%%s\n", instr.Dst, instr.Args[0])
	}
}

func lastArg(instr *Instr) *Register { return instr.Args[len(instr.Args)-1] }

func localOffset(fn *Func, instr *Instr) int64 {
	return int64(instr.Local.Offset) + instr.Disp
}

// calleeSaved scans every instruction's output, widens it to its save
// register alias, and retains the callee-save, non-special-purpose ones
// (spec.md §4.11's "Callee-save set").
func calleeSaved(fn *Func) []*Register {
	seen := map[*Register]bool{}
	var out []*Register
	for _, b := range fn.Blocks {
		for _, instr := range b.Instrs {
			for _, o := range instr.Outputs() {
				save := o
				if o.SaveAs != nil {
					save = o.SaveAs
				}
				if save.IsCalleeSave && !save.IsSpecialPurpose && !seen[save] {
					seen[save] = true
					out = append(out, save)
				}
			}
		}
	}
	return out
}

func calleeSaveOffset(fn *Func, r *Register) int {
	for i, s := range calleeSaved(fn) {
		if s == r {
			return alignedFrameSize(fn.FrameSize) + (i+1)*8
		}
	}
	return 0
}
