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
package values

import (
	"testing"

	"falcon/compile/types"
)

func TestIntTruncatesToWidth(t *testing.T) {
	v := Int(true, types.W8, 200)
	if v.Bits != -56 {
		t.Fatalf("200 truncated to signed i8 should be -56, got %d", v.Bits)
	}
}

func TestCompareSignedVsUnsignedMismatch(t *testing.T) {
	neg := Int(true, types.W32, -1)
	pos := Int(false, types.W32, 1)
	if got := Compare(types.ISAAMD64, neg, pos); got != Less {
		t.Fatalf("signed -1 vs unsigned 1 should read as Less (the unsigned side wins), got %v", got)
	}
}

func TestCompareVarPtrSameVariable(t *testing.T) {
	var stableIdentity int
	a := VarPtr(&stableIdentity, 4)
	b := VarPtr(&stableIdentity, 8)
	if got := Compare(types.ISAAMD64, a, b); got != Less {
		t.Fatalf("same-variable varptrs should compare by offset, got %v", got)
	}
}

func TestCompareVarPtrDifferentVariablesUnknown(t *testing.T) {
	var x, y int
	a := VarPtr(&x, 0)
	b := VarPtr(&y, 0)
	if got := Compare(types.ISAAMD64, a, b); got != OrderUnknown {
		t.Fatalf("distinct-variable varptrs must compare Unknown, got %v", got)
	}
}

func TestNullPtrOrdersBelowVarPtr(t *testing.T) {
	var x int
	if got := Compare(types.ISAAMD64, NullPtr(), VarPtr(&x, 0)); got != Less {
		t.Fatalf("nullptr < varptr always, got %v", got)
	}
}

func TestTypeCastIntToBool(t *testing.T) {
	tbl := types.NewTable()
	v, ok := TypeCast(tbl.Bool(), Int(true, types.W32, 0))
	if !ok || v.Bool != false {
		t.Fatalf("0 should cast to false, got %+v ok=%v", v, ok)
	}
	v, ok = TypeCast(tbl.Bool(), Int(true, types.W32, 7))
	if !ok || v.Bool != true {
		t.Fatalf("nonzero should cast to true, got %+v ok=%v", v, ok)
	}
}

func TestTypeCastRejectsPointerFromInt(t *testing.T) {
	tbl := types.NewTable()
	ptr := tbl.Pointer(tbl.Bool())
	if _, ok := TypeCast(ptr, Int(true, types.W32, 1)); ok {
		t.Fatalf("casting an integer constant to a pointer type should not be representable")
	}
}

func TestAddPointerPlusInt(t *testing.T) {
	tbl := types.NewTable()
	var x int
	base := VarPtr(&x, 4)
	v, ok := Add(tbl.Pointer(tbl.Bool()), base, Int(true, types.W32, 3))
	if !ok || v.Kind != KVarPtr || v.Offset != 7 {
		t.Fatalf("pointer+int should bump the offset, got %+v ok=%v", v, ok)
	}
}

func TestSubtractRejectsTwoPointers(t *testing.T) {
	tbl := types.NewTable()
	var x, y int
	if _, ok := Subtract(tbl.Integer(true, types.W32), VarPtr(&x, 0), VarPtr(&y, 0)); ok {
		t.Fatalf("pointer-pointer is not a supported subtract shape")
	}
}
