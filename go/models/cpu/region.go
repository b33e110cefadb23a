package cpu

import (
	"fmt"
	"strings"
)

// Region is a contiguous backing-memory window mapped into the bus.
type Region struct {
	Addr uint32
	Size uint32
	Data []byte

	Desc string
}

func (r *Region) String() string {
	desc := fmt.Sprintf("0x%x-0x%x", r.Addr, r.End())
	if r.Desc != "" {
		desc += fmt.Sprintf(" [%s]", r.Desc)
	}
	return desc
}

// End is the first address past the region. It may be 1<<32.
func (r *Region) End() uint64 {
	return uint64(r.Addr) + uint64(r.Size)
}

func (r *Region) Contains(addr uint32) bool {
	return addr >= r.Addr && uint64(addr) < r.End()
}

// start = max(s1, s2), end = min(e1, e2), ok = end > start
func (r *Region) Intersect(addr uint32, size uint32) (uint32, uint32, bool) {
	start := uint64(r.Addr)
	end := r.End()
	e2 := uint64(addr) + uint64(size)
	if end > e2 {
		end = e2
	}
	if start < uint64(addr) {
		start = uint64(addr)
	}
	if end <= start {
		return 0, 0, false
	}
	return uint32(start), uint32(end - start), true
}

func (r *Region) Overlaps(addr, size uint32) bool {
	_, _, ok := r.Intersect(addr, size)
	return ok
}

type Regions []*Region

func (rs Regions) String() string {
	s := make([]string, len(rs))
	for i, v := range rs {
		s[i] = v.String()
	}
	return strings.Join(s, "\n")
}

// Find returns the first region in registration order containing addr, if any.
func (rs Regions) Find(addr uint32) *Region {
	for _, r := range rs {
		if r.Contains(addr) {
			return r
		}
	}
	return nil
}

// FindRange returns every region overlapping addr:addr+size, in registration order.
func (rs Regions) FindRange(addr, size uint32) Regions {
	var ret Regions
	for _, r := range rs {
		if r.Overlaps(addr, size) {
			ret = append(ret, r)
		}
	}
	return ret
}
