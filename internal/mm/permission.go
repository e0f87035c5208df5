package mm

import "strings"

// MapPermission is the set of access rights of a mapped area. The bit
// layout matches the R/W/X/U bits of an Sv39 page table entry.
type MapPermission uint8

const (
	PermR MapPermission = 1 << 1
	PermW MapPermission = 1 << 2
	PermX MapPermission = 1 << 3
	PermU MapPermission = 1 << 4

	permAll = PermR | PermW | PermX | PermU
)

// PermissionFromBits converts raw bits into a MapPermission. It fails if
// any bit outside R/W/X/U is set.
func PermissionFromBits(bits uint8) (MapPermission, bool) {
	p := MapPermission(bits)
	if p&^permAll != 0 {
		return 0, false
	}
	return p, true
}

// Has reports whether every bit of q is set in p.
func (p MapPermission) Has(q MapPermission) bool {
	return p&q == q
}

func (p MapPermission) String() string {
	var b strings.Builder
	for _, f := range []struct {
		bit  MapPermission
		char byte
	}{{PermR, 'R'}, {PermW, 'W'}, {PermX, 'X'}, {PermU, 'U'}} {
		if p.Has(f.bit) {
			b.WriteByte(f.char)
		} else {
			b.WriteByte('-')
		}
	}
	return b.String()
}
