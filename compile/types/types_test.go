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
package types

import "testing"

func TestInterningIsStructural(t *testing.T) {
	tbl := NewTable()
	a := tbl.Integer(true, W32)
	b := tbl.Integer(true, W32)
	if a != b {
		t.Fatalf("expected interned pointers to be identical, got %p and %p", a, b)
	}
	c := tbl.Integer(false, W32)
	if a == c {
		t.Fatalf("i32 and u32 must not intern to the same type")
	}
}

func TestConstVolatileCanonicalization(t *testing.T) {
	tbl := NewTable()
	i32 := tbl.Integer(true, W32)

	a := tbl.Const(tbl.Volatile(i32))
	b := tbl.Volatile(tbl.Const(i32))
	if a != b {
		t.Fatalf("Const(Volatile(T)) and Volatile(Const(T)) must canonicalize to the same type")
	}

	// Double-wrapping collapses.
	if tbl.Const(tbl.Const(i32)) != tbl.Const(i32) {
		t.Fatalf("Const(Const(T)) must collapse to Const(T)")
	}
	if tbl.Volatile(tbl.Volatile(i32)) != tbl.Volatile(i32) {
		t.Fatalf("Volatile(Volatile(T)) must collapse to Volatile(T)")
	}
}

func TestSizeOfClampsNativeWidthByISA(t *testing.T) {
	tbl := NewTable()
	native := tbl.Integer(true, WNative)

	p32 := SizeOf(ISA386, native)
	if p32.Size != 4 || p32.Alignment != 4 {
		t.Fatalf("native int on x86-32 should be 4 bytes, got %+v", p32)
	}
	p64 := SizeOf(ISAAMD64, native)
	if p64.Size != 8 || p64.Alignment != 8 {
		t.Fatalf("native int on x86-64 should be 8 bytes, got %+v", p64)
	}
}

func TestSizeOfPointer(t *testing.T) {
	tbl := NewTable()
	ptr := tbl.Pointer(tbl.Bool())

	if got := SizeOf(ISA386, ptr); got.Size != 4 {
		t.Fatalf("x86-32 pointer should be 4 bytes, got %d", got.Size)
	}
	if got := SizeOf(ISAAMD64, ptr); got.Size != 8 {
		t.Fatalf("x86-64 pointer should be 8 bytes, got %d", got.Size)
	}
}

func TestDereference(t *testing.T) {
	tbl := NewTable()
	elem := tbl.Integer(true, W16)
	ptr := tbl.Pointer(elem)
	if Dereference(ptr) != elem {
		t.Fatalf("Dereference(Pointer(T)) must return T")
	}
}
