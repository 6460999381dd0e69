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

// Package compile wires the pipeline stages (C3 through C13) behind a single
// entry point, grounded on the teacher's compile/compiler.go driver but
// replacing its AST-to-object-file walk (parseY/compileY/CompileTheWorld)
// with the spec's narrower pre-built-SSA-in, assembly-out transform.
package compile

import (
	"falcon/compile/codegen"
	"falcon/compile/rtl"
	"falcon/compile/ssa"
	"falcon/compile/types"
	"falcon/internal/diag"

	"github.com/rs/zerolog"
)

// CompilerContext is spec.md §9's answer to the teacher's global mutable
// state: one value per compilation, owning the interned type table and the
// logger every pass traces through. It carries no counters of its own --
// those are scoped to the ssa.Func/rtl.Func/codegen.Func being built, per
// §5's "resource acquisition is via monotonic counters scoped to the
// function".
type CompilerContext struct {
	ISA   types.TargetISA
	Types *types.Table
	Log   zerolog.Logger
}

// NewContext builds a fresh context for one compilation.
func NewContext(isa types.TargetISA, log zerolog.Logger) *CompilerContext {
	return &CompilerContext{ISA: isa, Types: types.NewTable(), Log: log}
}

// Compile runs fn through the full pipeline and returns its Intel-syntax
// assembly. fn must already satisfy spec.md §3's SSA invariants; the
// boundary that produces it (a parser, a test, a caller embedding this
// package) lies outside the core (spec.md §1).
//
// Errors surface as the three categories of spec.md §7, via diag.Recover.
func (c *CompilerContext) Compile(fn *ssa.Func) (asm string, err error) {
	defer diag.Recover(&err)

	c.Log.Debug().Str("func", fn.Name).Msg("verifying input SSA")
	ssa.VerifySSA(fn)

	c.optimizeSSA(fn)

	c.Log.Debug().Str("func", fn.Name).Msg("lowering SSA to RTL")
	rfn := rtl.Lower(fn)
	for rtl.SCCP(rfn) {
		c.Log.Debug().Str("func", fn.Name).Msg("RTL SCCP converged another round")
	}

	c.Log.Debug().Str("func", fn.Name).Msg("lowering RTL to Asm")
	afn := codegen.Lower(rfn, c.ISA)

	c.Log.Debug().Str("func", fn.Name).Msg("allocating registers")
	codegen.Allocate(afn)

	for codegen.DCE(afn) {
		c.Log.Debug().Str("func", fn.Name).Msg("Asm DCE converged another round")
	}

	c.Log.Debug().Str("func", fn.Name).Msg("writing assembly")
	return codegen.Write(afn, codegen.DialectIntel), nil
}

// optimizeSSA runs C5-C7 to a joint fixed point: Mem2Reg can expose new
// SCCP opportunities, SCCP's unreachable-block removal can expose new
// trivial φs, and so on, until nothing changes (spec.md §8's idempotence
// laws apply to each pass individually; this loop is what makes the whole
// suite idempotent too).
func (c *CompilerContext) optimizeSSA(fn *ssa.Func) {
	ssa.BuildDomTree(fn)
	for {
		changed := false
		if ssa.RunMem2Reg(fn) {
			changed = true
		}
		if ssa.SCCP(fn) {
			changed = true
		}
		if ssa.SimplifyTrivialPhis(fn) {
			changed = true
		}
		if ssa.SimplifyCFG(fn) {
			changed = true
		}
		if !changed {
			break
		}
		ssa.BuildDomTree(fn)
	}
}
