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

// The core's input boundary is a pre-built *ssa.Func (spec.md §1, §6: "the
// front end hands the core an SSAFunction"); that front end is explicitly
// out of scope. This file is the minimal stand-in a standalone CLI needs to
// have anything to feed the pipeline: a JSON encoding of an SSAFunction,
// decoded directly into falcon/compile/ssa's structures. It is glue, not a
// pipeline component, and carries none of the spec's component numbering.
package main

import (
	"encoding/json"
	"fmt"

	"falcon/compile/ssa"
	"falcon/compile/types"
	"falcon/compile/values"
)

type jsonType struct {
	Kind   string    `json:"kind"`
	Signed bool      `json:"signed,omitempty"`
	Width  int       `json:"width,omitempty"`
	Elem   *jsonType `json:"elem,omitempty"`
}

func buildType(tbl *types.Table, t *jsonType) (*types.Type, error) {
	if t == nil {
		return tbl.Void(), nil
	}
	switch t.Kind {
	case "void":
		return tbl.Void(), nil
	case "bool":
		return tbl.Bool(), nil
	case "integer":
		w := types.Width(t.Width)
		if t.Width == 0 {
			w = types.WNative
		}
		return tbl.Integer(t.Signed, w), nil
	case "pointer":
		elem, err := buildType(tbl, t.Elem)
		if err != nil {
			return nil, err
		}
		return tbl.Pointer(elem), nil
	case "const":
		elem, err := buildType(tbl, t.Elem)
		if err != nil {
			return nil, err
		}
		return tbl.Const(elem), nil
	case "volatile":
		elem, err := buildType(tbl, t.Elem)
		if err != nil {
			return nil, err
		}
		return tbl.Volatile(elem), nil
	}
	return nil, fmt.Errorf("unknown type kind %q", t.Kind)
}

type jsonConst struct {
	Kind   string `json:"kind"`
	Bool   bool   `json:"bool,omitempty"`
	Signed bool   `json:"signed,omitempty"`
	Width  int    `json:"width,omitempty"`
	Bits   int64  `json:"bits,omitempty"`
	Var    string `json:"var,omitempty"`
	Offset int64  `json:"offset,omitempty"`
}

func buildConst(c *jsonConst, vars map[string]*ssa.Variable) (values.Value, error) {
	switch c.Kind {
	case "bool":
		return values.Bool(c.Bool), nil
	case "int":
		w := types.Width(c.Width)
		if c.Width == 0 {
			w = types.WNative
		}
		return values.Int(c.Signed, w, c.Bits), nil
	case "nullptr":
		return values.NullPtr(), nil
	case "varptr":
		v, ok := vars[c.Var]
		if !ok {
			return values.Value{}, fmt.Errorf("varptr references unknown variable %q", c.Var)
		}
		return values.VarPtr(v, c.Offset), nil
	}
	return values.Value{}, fmt.Errorf("unknown const kind %q", c.Kind)
}

type jsonVar struct {
	Name string    `json:"name"`
	Type *jsonType `json:"type"`
}

type jsonValue struct {
	ID    int        `json:"id"`
	Op    string     `json:"op"`
	Type  *jsonType  `json:"type,omitempty"`
	Args  []int      `json:"args,omitempty"`
	Const *jsonConst `json:"const,omitempty"`
	Cmp   string     `json:"cmp,omitempty"`
	Var   *jsonVar   `json:"var,omitempty"`
	Param string     `json:"param,omitempty"`
}

type jsonBlock struct {
	ID     int         `json:"id"`
	Kind   string      `json:"kind"`
	Values []jsonValue `json:"values"`
	Ctrl   *int        `json:"ctrl,omitempty"`
	Succs  []int       `json:"succs,omitempty"`
}

type jsonFunc struct {
	Name   string      `json:"name"`
	Params []jsonVar   `json:"params"`
	Return *jsonType   `json:"return,omitempty"`
	Start  int         `json:"start"`
	Blocks []jsonBlock `json:"blocks"`
}

var cmpOps = map[string]ssa.CompareOp{
	"==": ssa.CmpEQ, "!=": ssa.CmpNE,
	"<": ssa.CmpLT, "<=": ssa.CmpLE,
	">": ssa.CmpGT, ">=": ssa.CmpGE,
}

// decodeFunc parses a JSON-encoded SSAFunction and builds the equivalent
// falcon/compile/ssa.Func, wiring blocks, values and φ operands by the IDs
// the document assigns.
func decodeFunc(data []byte, tbl *types.Table, isa types.TargetISA) (*ssa.Func, error) {
	var doc jsonFunc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}

	retTy, err := buildType(tbl, doc.Return)
	if err != nil {
		return nil, err
	}
	fn := ssa.NewFunc(doc.Name, tbl, isa)
	fn.ReturnType = retTy

	vars := map[string]*ssa.Variable{}
	for _, p := range doc.Params {
		pt, err := buildType(tbl, p.Type)
		if err != nil {
			return nil, err
		}
		v := &ssa.Variable{Name: p.Name, Kind: ssa.VarParameter, Type: pt, Offset: ssa.NoStart}
		fn.Params = append(fn.Params, v)
		vars[p.Name] = v
	}

	blocksByID := map[int]*ssa.Block{}
	for _, jb := range doc.Blocks {
		b := fn.NewBlock(ssa.BlockPlain)
		blocksByID[jb.ID] = b
	}
	fn.Start = blocksByID[doc.Start]

	valuesByID := map[int]*ssa.Value{}
	type pendingArgs struct {
		val  *ssa.Value
		args []int
	}
	var pending []pendingArgs

	for _, jb := range doc.Blocks {
		b := blocksByID[jb.ID]
		for _, jv := range jb.Values {
			var t *types.Type
			if jv.Type != nil {
				t, err = buildType(tbl, jv.Type)
				if err != nil {
					return nil, err
				}
			} else {
				t = tbl.Void()
			}

			var v *ssa.Value
			switch jv.Op {
			case "Param":
				pv, ok := vars[jv.Param]
				if !ok {
					return nil, fmt.Errorf("param value references unknown parameter %q", jv.Param)
				}
				v = fn.NewValue(ssa.OpParam, pv.Type)
				v.Var = pv
			case "Alloca":
				if jv.Var == nil {
					return nil, fmt.Errorf("alloca value %d missing var", jv.ID)
				}
				vt, err := buildType(tbl, jv.Var.Type)
				if err != nil {
					return nil, err
				}
				nv := &ssa.Variable{Name: jv.Var.Name, Kind: ssa.VarLocal, Type: vt, Offset: ssa.NoStart}
				vars[jv.Var.Name] = nv
				v = fn.NewValue(ssa.OpAlloca, tbl.Pointer(vt))
				v.Var = nv
			case "Const":
				if jv.Const == nil {
					return nil, fmt.Errorf("const value %d missing const", jv.ID)
				}
				cv, err := buildConst(jv.Const, vars)
				if err != nil {
					return nil, err
				}
				v = fn.NewConst(t, cv)
			case "Phi":
				v = fn.NewValue(ssa.OpPhi, t)
				v.Args = make([]*ssa.Value, len(jv.Args))
				b.AddPhi(v)
				valuesByID[jv.ID] = v
				pending = append(pending, pendingArgs{v, jv.Args})
				continue
			case "Move":
				v = fn.NewValue(ssa.OpMove, t)
			case "Load":
				v = fn.NewValue(ssa.OpLoad, t)
			case "Store":
				v = fn.NewValue(ssa.OpStore, t)
			case "TypeCast":
				v = fn.NewValue(ssa.OpTypeCast, t)
			case "Add":
				v = fn.NewValue(ssa.OpAdd, t)
			case "Sub":
				v = fn.NewValue(ssa.OpSub, t)
			case "Compare":
				op, ok := cmpOps[jv.Cmp]
				if !ok {
					return nil, fmt.Errorf("unknown compare operator %q", jv.Cmp)
				}
				v = fn.NewValue(ssa.OpCompare, t)
				v.Cmp = op
			default:
				return nil, fmt.Errorf("unknown op %q", jv.Op)
			}
			valuesByID[jv.ID] = v
			b.AddValue(v)
			if len(jv.Args) > 0 {
				pending = append(pending, pendingArgs{v, jv.Args})
			}
		}
	}

	for _, p := range pending {
		for i, argID := range p.args {
			arg, ok := valuesByID[argID]
			if !ok {
				return nil, fmt.Errorf("value references unknown operand %d", argID)
			}
			if p.val.Op == ssa.OpPhi {
				p.val.SetArg(i, arg)
			} else {
				p.val.AddArg(arg)
			}
		}
	}

	for _, jb := range doc.Blocks {
		b := blocksByID[jb.ID]
		switch jb.Kind {
		case "plain":
			b.WireTo(blocksByID[jb.Succs[0]])
		case "if":
			if jb.Ctrl == nil {
				return nil, fmt.Errorf("block %d is a conditional without ctrl", jb.ID)
			}
			ctrl, ok := valuesByID[*jb.Ctrl]
			if !ok {
				return nil, fmt.Errorf("block %d ctrl references unknown value %d", jb.ID, *jb.Ctrl)
			}
			b.WireIf(ctrl, blocksByID[jb.Succs[0]], blocksByID[jb.Succs[1]])
		case "end":
			b.Kind = ssa.BlockEnd
			fn.End = b
		default:
			return nil, fmt.Errorf("unknown block kind %q", jb.Kind)
		}
	}

	return fn, nil
}
