// Package mm is the address-space subsystem the scheduling core consumes:
// Sv39-style virtual addresses and page numbers, permission flags, a
// bounded physical frame allocator and per-task memory sets.
package mm

import "fmt"

const (
	// PageSizeBits is log2 of the page size.
	PageSizeBits = 12
	// PageSize is the size of one page in bytes.
	PageSize = 1 << PageSizeBits

	// VPNWidth is the number of virtual page number bits in Sv39.
	VPNWidth = 39 - PageSizeBits
	// MaxVPN is one past the highest mappable virtual page number.
	MaxVPN = VirtPageNum(1) << VPNWidth
)

// VirtAddr is a user virtual address.
type VirtAddr uint64

// VirtPageNum is a virtual page number.
type VirtPageNum uint64

// PhysPageNum is a physical page (frame) number.
type PhysPageNum uint64

// Floor returns the page containing va.
func (va VirtAddr) Floor() VirtPageNum {
	return VirtPageNum(va / PageSize)
}

// Ceil returns the first page at or above va.
func (va VirtAddr) Ceil() VirtPageNum {
	if va == 0 {
		return 0
	}
	return VirtPageNum((va-1)/PageSize + 1)
}

// PageOffset returns the offset of va within its page.
func (va VirtAddr) PageOffset() uint64 {
	return uint64(va) & (PageSize - 1)
}

// Aligned reports whether va is on a page boundary.
func (va VirtAddr) Aligned() bool {
	return va.PageOffset() == 0
}

func (va VirtAddr) String() string {
	return fmt.Sprintf("%#x", uint64(va))
}

// Addr returns the first address of the page.
func (vpn VirtPageNum) Addr() VirtAddr {
	return VirtAddr(vpn) << PageSizeBits
}

// VPNRange is the half-open page range [Start, End).
type VPNRange struct {
	Start VirtPageNum
	End   VirtPageNum
}

// NewVPNRange returns the pages covering [start, end).
func NewVPNRange(start, end VirtAddr) VPNRange {
	return VPNRange{Start: start.Floor(), End: end.Ceil()}
}

// Len returns the number of pages in the range.
func (r VPNRange) Len() int {
	if r.End <= r.Start {
		return 0
	}
	return int(r.End - r.Start)
}

// Contains reports whether vpn falls inside the range.
func (r VPNRange) Contains(vpn VirtPageNum) bool {
	return vpn >= r.Start && vpn < r.End
}

func (r VPNRange) String() string {
	return fmt.Sprintf("[%#x, %#x)", uint64(r.Start), uint64(r.End))
}
