package mm

import (
	"errors"
	"testing"
)

func TestVirtAddr_FloorCeil(t *testing.T) {
	tests := []struct {
		va    VirtAddr
		floor VirtPageNum
		ceil  VirtPageNum
	}{
		{0, 0, 0},
		{1, 0, 1},
		{PageSize - 1, 0, 1},
		{PageSize, 1, 1},
		{PageSize + 1, 1, 2},
		{0x10000000, 0x10000, 0x10000},
	}
	for _, tt := range tests {
		if got := tt.va.Floor(); got != tt.floor {
			t.Errorf("VirtAddr(%#x).Floor() = %#x, want %#x", uint64(tt.va), got, tt.floor)
		}
		if got := tt.va.Ceil(); got != tt.ceil {
			t.Errorf("VirtAddr(%#x).Ceil() = %#x, want %#x", uint64(tt.va), got, tt.ceil)
		}
	}
}

func TestVPNRange(t *testing.T) {
	r := NewVPNRange(0x1000, 0x3001)
	if r.Start != 1 || r.End != 4 {
		t.Fatalf("range = %v, want [0x1, 0x4)", r)
	}
	if r.Len() != 3 {
		t.Errorf("Len() = %d, want 3", r.Len())
	}
	if !r.Contains(3) || r.Contains(4) {
		t.Error("Contains boundaries wrong")
	}
	if got := NewVPNRange(0x2000, 0x2000).Len(); got != 0 {
		t.Errorf("empty range Len() = %d, want 0", got)
	}
}

func TestPermissionFromBits(t *testing.T) {
	p, ok := PermissionFromBits(0b11 << 1)
	if !ok {
		t.Fatal("PermissionFromBits(RW) failed")
	}
	if !p.Has(PermR | PermW) || p.Has(PermX) {
		t.Errorf("perm = %s, want RW--", p)
	}
	if _, ok := PermissionFromBits(1); ok {
		t.Error("PermissionFromBits(1) succeeded, want failure for the V bit")
	}
	if got := (PermR | PermX | PermU).String(); got != "R-XU" {
		t.Errorf("String() = %q, want R-XU", got)
	}
}

func TestFrameAllocator_AllocRecycles(t *testing.T) {
	a := NewFrameAllocator(0x80000, 2)

	f1, err := a.Alloc()
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	f2, _ := a.Alloc()
	if f1 == f2 {
		t.Fatalf("Alloc returned %#x twice", f1)
	}
	if _, err := a.Alloc(); !errors.Is(err, ErrOutOfFrames) {
		t.Fatalf("Alloc on empty pool: err = %v, want ErrOutOfFrames", err)
	}

	a.Dealloc(f1)
	if a.Free() != 1 || a.InUse() != 1 {
		t.Errorf("Free=%d InUse=%d, want 1/1", a.Free(), a.InUse())
	}
	f3, _ := a.Alloc()
	if f3 != f1 {
		t.Errorf("Alloc after Dealloc = %#x, want recycled %#x", f3, f1)
	}
}

func TestFrameAllocator_DoubleFreePanics(t *testing.T) {
	a := NewFrameAllocator(0, 1)
	f, _ := a.Alloc()
	a.Dealloc(f)

	defer func() {
		if recover() == nil {
			t.Error("double Dealloc did not panic")
		}
	}()
	a.Dealloc(f)
}

func TestMemorySet_InsertTranslate(t *testing.T) {
	frames := NewFrameAllocator(0, 16)
	ms, err := NewMemorySet(frames)
	if err != nil {
		t.Fatalf("NewMemorySet: %v", err)
	}
	if ms.Token()>>60 != 8 {
		t.Errorf("Token mode = %d, want 8 (Sv39)", ms.Token()>>60)
	}

	if err := ms.InsertFramedArea(0x10000, 0x12000, PermR|PermU); err != nil {
		t.Fatalf("InsertFramedArea: %v", err)
	}
	for _, vpn := range []VirtPageNum{0x10, 0x11} {
		pte, ok := ms.Translate(vpn)
		if !ok {
			t.Fatalf("Translate(%#x) missing", vpn)
		}
		if pte.Permission() != PermR|PermU {
			t.Errorf("Translate(%#x) perm = %s, want R--U", vpn, pte.Permission())
		}
	}
	if _, ok := ms.Translate(0x12); ok {
		t.Error("Translate(0x12) mapped, want unmapped")
	}
	if frames.InUse() != 3 {
		t.Errorf("frames in use = %d, want 3 (root + 2)", frames.InUse())
	}
}

func TestMemorySet_InsertOverlapFails(t *testing.T) {
	ms, _ := NewMemorySet(NewFrameAllocator(0, 16))
	ms.InsertFramedArea(0x2000, 0x3000, PermR)

	err := ms.InsertFramedArea(0x1000, 0x3000, PermR)
	if !errors.Is(err, ErrAlreadyMapped) {
		t.Fatalf("err = %v, want ErrAlreadyMapped", err)
	}
	// 0x1 was mapped before 0x2 was found; callers own the cleanup.
	if _, ok := ms.Translate(1); !ok {
		t.Error("page 0x1 not left mapped after partial insert")
	}
}

func TestMemorySet_InsertOutOfFramesLeavesPartial(t *testing.T) {
	frames := NewFrameAllocator(0, 3)
	ms, _ := NewMemorySet(frames)

	err := ms.InsertFramedArea(0, 4*PageSize, PermW)
	if !errors.Is(err, ErrOutOfFrames) {
		t.Fatalf("err = %v, want ErrOutOfFrames", err)
	}
	if ms.MappedPages() != 2 {
		t.Errorf("MappedPages = %d, want 2", ms.MappedPages())
	}

	if n := ms.RemoveRange(NewVPNRange(0, 4*PageSize)); n != 2 {
		t.Errorf("RemoveRange removed %d, want 2", n)
	}
	if frames.Free() != 2 {
		t.Errorf("frames free = %d, want 2", frames.Free())
	}
}

func TestMemorySet_InsertBeyondUserSpace(t *testing.T) {
	ms, _ := NewMemorySet(NewFrameAllocator(0, 8))
	top := (MaxVPN - 1).Addr()

	err := ms.InsertFramedArea(top, top+2*PageSize, PermR)
	if !errors.Is(err, ErrAddressRange) {
		t.Fatalf("err = %v, want ErrAddressRange", err)
	}
	if ms.MappedPages() != 1 {
		t.Errorf("MappedPages = %d, want 1", ms.MappedPages())
	}
}

func TestMemorySet_Recycle(t *testing.T) {
	frames := NewFrameAllocator(0, 8)
	ms, _ := NewMemorySet(frames)
	ms.InsertFramedArea(0, 3*PageSize, PermR)

	ms.Recycle()
	if frames.InUse() != 0 {
		t.Errorf("frames in use after Recycle = %d, want 0", frames.InUse())
	}
	if got := len(ms.Pages()); got != 0 {
		t.Errorf("Pages() after Recycle = %d, want 0", got)
	}
}
