package mm

import (
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrAlreadyMapped is returned when a page in the requested range is
	// already present in the page table.
	ErrAlreadyMapped = errors.New("mm: page already mapped")
	// ErrAddressRange is returned for pages outside the Sv39 user space.
	ErrAddressRange = errors.New("mm: address outside user space")
)

// PTEValid marks a present page table entry.
const PTEValid uint8 = 1 << 0

// PageTableEntry is a leaf mapping of one virtual page.
type PageTableEntry struct {
	PPN   PhysPageNum
	Flags uint8
}

// Valid reports whether the entry maps a frame.
func (e PageTableEntry) Valid() bool {
	return e.Flags&PTEValid != 0
}

// Permission returns the access rights of the mapping.
func (e PageTableEntry) Permission() MapPermission {
	return MapPermission(e.Flags) & permAll
}

// MemorySet is the address space of one task: a root page-table frame and
// the leaf entries of its framed areas.
type MemorySet struct {
	frames *FrameAllocator
	root   PhysPageNum
	table  map[VirtPageNum]PageTableEntry
}

// NewMemorySet allocates the root page-table frame of a new address space.
func NewMemorySet(frames *FrameAllocator) (*MemorySet, error) {
	root, err := frames.Alloc()
	if err != nil {
		return nil, fmt.Errorf("allocate page table root: %w", err)
	}
	return &MemorySet{
		frames: frames,
		root:   root,
		table:  make(map[VirtPageNum]PageTableEntry),
	}, nil
}

// Token returns the satp value selecting this address space (Sv39 mode).
func (ms *MemorySet) Token() uint64 {
	return 8<<60 | uint64(ms.root)
}

// Translate looks up the mapping of vpn.
func (ms *MemorySet) Translate(vpn VirtPageNum) (PageTableEntry, bool) {
	pte, ok := ms.table[vpn]
	if !ok || !pte.Valid() {
		return PageTableEntry{}, false
	}
	return pte, true
}

// InsertFramedArea maps every page of [start, end) to a newly allocated
// frame with the given permissions. Pages are mapped in ascending order; on
// error the pages mapped before the failing one stay mapped and the caller
// decides whether to remove them.
func (ms *MemorySet) InsertFramedArea(start, end VirtAddr, perm MapPermission) error {
	r := NewVPNRange(start, end)
	for vpn := r.Start; vpn < r.End; vpn++ {
		if vpn >= MaxVPN {
			return fmt.Errorf("map %#x: %w", uint64(vpn), ErrAddressRange)
		}
		if _, ok := ms.Translate(vpn); ok {
			return fmt.Errorf("map %#x: %w", uint64(vpn), ErrAlreadyMapped)
		}
		ppn, err := ms.frames.Alloc()
		if err != nil {
			return fmt.Errorf("map %#x: %w", uint64(vpn), err)
		}
		ms.table[vpn] = PageTableEntry{PPN: ppn, Flags: uint8(perm) | PTEValid}
	}
	return nil
}

// RemoveRange unmaps every mapped page in r and frees its frame. It
// returns the number of pages removed.
func (ms *MemorySet) RemoveRange(r VPNRange) int {
	removed := 0
	for vpn := r.Start; vpn < r.End; vpn++ {
		pte, ok := ms.table[vpn]
		if !ok {
			continue
		}
		delete(ms.table, vpn)
		ms.frames.Dealloc(pte.PPN)
		removed++
	}
	return removed
}

// MappedPages returns the number of mapped user pages.
func (ms *MemorySet) MappedPages() int {
	return len(ms.table)
}

// Pages returns the mapped page numbers in ascending order.
func (ms *MemorySet) Pages() []VirtPageNum {
	pages := make([]VirtPageNum, 0, len(ms.table))
	for vpn := range ms.table {
		pages = append(pages, vpn)
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i] < pages[j] })
	return pages
}

// Recycle frees every frame owned by the address space, including the
// page-table root. The set must not be used afterwards.
func (ms *MemorySet) Recycle() {
	for vpn, pte := range ms.table {
		delete(ms.table, vpn)
		ms.frames.Dealloc(pte.PPN)
	}
	ms.frames.Dealloc(ms.root)
	ms.table = nil
}
