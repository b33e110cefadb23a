package models

import (
	"fmt"

	"github.com/pkg/errors"
)

type Symbol struct {
	Name  string
	Start uint32
	// Size is 0 for a symbol naming a single address
	Size uint32
}

func (s Symbol) Contains(addr uint32) bool {
	if s.Size == 0 {
		return addr == s.Start
	}
	return addr >= s.Start && addr-s.Start < s.Size
}

// Symbols binds addresses to display names for functions and memory.
// Exact memory names win over ranges; ranges match in registration order.
type Symbols struct {
	funcs  map[uint32]string
	mem    map[uint32]string
	ranges []Symbol
}

func NewSymbols() *Symbols {
	s := &Symbols{}
	s.Clear()
	return s
}

func (s *Symbols) Clear() {
	s.funcs = make(map[uint32]string)
	s.mem = make(map[uint32]string)
	s.ranges = nil
}

// AddFunction names a call destination. Registering an address twice replaces the name.
func (s *Symbols) AddFunction(addr uint32, name string) {
	s.funcs[addr] = name
}

func (s *Symbols) AddMemory(addr uint32, name string) {
	s.mem[addr] = name
}

func (s *Symbols) AddMemoryRange(addr, size uint32, name string) error {
	if size == 0 {
		return errors.Errorf("empty memory range %q at %#x", name, addr)
	}
	if uint64(addr)+uint64(size) > 1<<32 {
		return errors.Errorf("memory range %q %#x+%#x overflows the address space", name, addr, size)
	}
	s.ranges = append(s.ranges, Symbol{Name: name, Start: addr, Size: size})
	return nil
}

func (s *Symbols) Function(addr uint32) (string, bool) {
	name, ok := s.funcs[addr]
	return name, ok
}

// Memory resolves addr to a name, suffixed with the offset for addresses inside a range.
func (s *Symbols) Memory(addr uint32) (string, bool) {
	if name, ok := s.mem[addr]; ok {
		return name, true
	}
	for _, r := range s.ranges {
		if r.Contains(addr) {
			if off := addr - r.Start; off > 0 {
				return fmt.Sprintf("%s+%#x", r.Name, off), true
			}
			return r.Name, true
		}
	}
	return "", false
}

func HexAddr(addr uint32) string {
	return fmt.Sprintf("0x%06x", addr)
}

// FunctionName never fails, falling back to the hex address.
func (s *Symbols) FunctionName(addr uint32) string {
	if name, ok := s.Function(addr); ok {
		return name
	}
	return HexAddr(addr)
}

func (s *Symbols) MemoryName(addr uint32) string {
	if name, ok := s.Memory(addr); ok {
		return name
	}
	return HexAddr(addr)
}

func (s *Symbols) Len() int {
	return len(s.funcs) + len(s.mem) + len(s.ranges)
}
