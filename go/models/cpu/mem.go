package cpu

import (
	"github.com/pkg/errors"
)

// ReadFunc serves bus reads no region covers. size is 1, 2 or 4.
type ReadFunc func(addr uint32, size int) uint32

// WriteFunc serves bus writes no region covers. size is 1, 2 or 4.
type WriteFunc func(addr uint32, size int, val uint32)

// Mem is the address space dispatcher. Every sized access is resolved byte by byte against
// the region table (registration order, first match wins) and falls back to the fallback pair
// for bytes no region covers.
//
// The region table and fallback must not be changed while an engine step is in flight.
type Mem struct {
	regions Regions

	read  ReadFunc
	write WriteFunc

	// Mem.hooks is set when passing *Mem to NewHooks()
	hooks *Hooks
}

func NewMem() *Mem {
	return &Mem{}
}

// AddRegion maps data[:size] at addr. The dispatcher owns data from here on.
func (m *Mem) AddRegion(addr, size uint32, data []byte, desc ...string) (*Region, error) {
	if size == 0 {
		return nil, errors.Errorf("empty region at %#x", addr)
	}
	if uint64(addr)+uint64(size) > 1<<32 {
		return nil, errors.Errorf("region %#x+%#x overflows the address space", addr, size)
	}
	if uint64(len(data)) < uint64(size) {
		return nil, errors.Errorf("region %#x+%#x backed by only %#x bytes", addr, size, len(data))
	}
	r := &Region{Addr: addr, Size: size, Data: data[:size]}
	if len(desc) > 0 {
		r.Desc = desc[0]
	}
	m.regions = append(m.regions, r)
	return r, nil
}

// ClearRegions drops all routing. Backing buffers stay with whoever allocated them.
func (m *Mem) ClearRegions() {
	m.regions = nil
}

func (m *Mem) Regions() Regions {
	return m.regions
}

// SetFallback replaces the fallback pair. Passing nil for both removes it.
func (m *Mem) SetFallback(read ReadFunc, write WriteFunc) error {
	if (read == nil) != (write == nil) {
		return errors.New("fallback read and write handlers must be installed together")
	}
	m.read, m.write = read, write
	return nil
}

// resolves each byte of addr:addr+size to its first-match region, reporting whether any matched
func (m *Mem) route(addr uint32, size int, routes *[4]*Region) (hit, single bool) {
	single = true
	for i := 0; i < size; i++ {
		r := m.regions.Find(addr + uint32(i))
		routes[i] = r
		if r != nil {
			hit = true
		}
		if r != routes[0] {
			single = false
		}
	}
	return hit, single
}

func (m *Mem) load(addr uint32, size int, buf []byte) {
	var routes [4]*Region
	hit, single := m.route(addr, size, &routes)
	switch {
	case single && hit:
		r := routes[0]
		copy(buf[:size], r.Data[addr-r.Addr:])
	case !hit:
		var val uint32
		if m.read != nil {
			val = m.read(addr, size)
		}
		PackUint(size, buf, val)
	default:
		for i := 0; i < size; i++ {
			a := addr + uint32(i)
			if r := routes[i]; r != nil {
				buf[i] = r.Data[a-r.Addr]
			} else if m.read != nil {
				buf[i] = byte(m.read(a, 1))
			} else {
				buf[i] = 0
			}
		}
	}
}

func (m *Mem) store(addr uint32, size int, buf []byte, val uint32) {
	var routes [4]*Region
	hit, single := m.route(addr, size, &routes)
	switch {
	case single && hit:
		r := routes[0]
		copy(r.Data[addr-r.Addr:], buf[:size])
	case !hit:
		if m.write != nil {
			m.write(addr, size, val)
		}
	default:
		for i := 0; i < size; i++ {
			a := addr + uint32(i)
			if r := routes[i]; r != nil {
				r.Data[a-r.Addr] = buf[i]
			} else if m.write != nil {
				m.write(a, 1, uint32(buf[i]))
			}
		}
	}
}

func (m *Mem) access(access int, addr uint32, size int) (uint32, error) {
	if err := checkSize(size); err != nil {
		return 0, err
	}
	var buf [4]byte
	m.load(addr, size, buf[:])
	val, _ := UnpackUint(size, buf[:])
	if m.hooks != nil {
		m.hooks.OnMem(access, addr, size, val)
	}
	return val, nil
}

func (m *Mem) Read(addr uint32, size int) (uint32, error) {
	return m.access(MEM_READ, addr, size)
}

// Fetch is a read on behalf of instruction decode.
func (m *Mem) Fetch(addr uint32, size int) (uint32, error) {
	return m.access(MEM_FETCH, addr, size)
}

// Write stores val big-endian. Bytes outside every region and without a fallback are dropped.
// The write is reported to memory hooks whatever served it.
func (m *Mem) Write(addr uint32, size int, val uint32) error {
	if err := checkSize(size); err != nil {
		return err
	}
	val = truncate(size, val)
	var buf [4]byte
	PackUint(size, buf[:], val)
	m.store(addr, size, buf[:], val)
	if m.hooks != nil {
		m.hooks.OnMem(MEM_WRITE, addr, size, val)
	}
	return nil
}

// MemRead copies n bytes out of the bus without reporting to hooks.
func (m *Mem) MemRead(addr uint32, n uint32) []byte {
	p := make([]byte, n)
	for i := range p {
		m.load(addr+uint32(i), 1, p[i:])
	}
	return p
}

// MemWrite stores p byte by byte; each byte is a reported write.
func (m *Mem) MemWrite(addr uint32, p []byte) error {
	for i, b := range p {
		if err := m.Write(addr+uint32(i), 1, uint32(b)); err != nil {
			return err
		}
	}
	return nil
}
