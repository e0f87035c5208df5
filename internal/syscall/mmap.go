package syscall

import (
	"github.com/me/strider/internal/mm"
)

// Mmap maps [start, start+length) into the current task's address space
// with the R/W/X bits in port (bit 0 read, 1 write, 2 execute). It returns
// 0 on success and -1 if the arguments are invalid, any page of the range
// is already mapped, or frames run out. On failure the address space is
// left as it was.
func (h *Handler) Mmap(start, length, port uint64) int64 {
	log := h.logger.With("start", mm.VirtAddr(start), "len", length, "port", port)
	if !mm.VirtAddr(start).Aligned() {
		log.Warn("mmap rejected", "reason", "start not page aligned")
		return -1
	}
	if port&^7 != 0 || port&7 == 0 {
		log.Warn("mmap rejected", "reason", "invalid port")
		return -1
	}
	end := start + length
	if end < start {
		log.Warn("mmap rejected", "reason", "range overflows")
		return -1
	}
	r := mm.NewVPNRange(mm.VirtAddr(start), mm.VirtAddr(end))
	if r.End > mm.MaxVPN {
		log.Warn("mmap rejected", "reason", "range outside user space")
		return -1
	}
	perm := mm.MapPermission(port<<1) | mm.PermU

	t := h.current("mmap")
	g := t.Exclusive()
	defer g.Release()
	ms := g.Get().MemorySet

	for vpn := r.Start; vpn < r.End; vpn++ {
		if _, ok := ms.Translate(vpn); ok {
			log.Warn("mmap rejected", "pid", t.Pid(), "reason", "page already mapped", "vpn", uint64(vpn))
			return -1
		}
	}

	if err := ms.InsertFramedArea(mm.VirtAddr(start), mm.VirtAddr(end), perm); err != nil {
		removed := ms.RemoveRange(r)
		log.Warn("mmap failed", "pid", t.Pid(), "error", err, "rolled_back", removed)
		return -1
	}
	for vpn := r.Start; vpn < r.End; vpn++ {
		if _, ok := ms.Translate(vpn); !ok {
			removed := ms.RemoveRange(r)
			log.Warn("mmap failed", "pid", t.Pid(), "reason", "page missing after insert",
				"vpn", uint64(vpn), "rolled_back", removed)
			return -1
		}
	}

	log.Debug("mmap", "pid", t.Pid(), "pages", r.Len(), "perm", perm)
	return 0
}

// Munmap is not supported and always returns -1.
func (h *Handler) Munmap(start, length uint64) int64 {
	h.logger.Warn("munmap rejected", "reason", "not supported",
		"start", mm.VirtAddr(start), "len", length)
	return -1
}
