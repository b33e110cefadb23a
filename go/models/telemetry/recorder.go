package telemetry

import (
	"github.com/pkg/errors"

	"github.com/lunixbochs/tracecorn/go/models/cpu"
)

func regs(c cpu.Cpu) (pc, ppc uint32) {
	arch := c.Arch()
	pc, _ = c.RegRead(arch.PC)
	ppc, _ = c.RegRead(arch.PPC)
	return pc, ppc
}

// Recorder collects the writes an engine's dispatcher reports to memory hooks.
type Recorder struct {
	stream
	c    cpu.Cpu
	hook cpu.Hook
}

func NewRecorder(c cpu.Cpu) (*Recorder, error) {
	r := &Recorder{stream: stream{source: SourceTrace}, c: c}
	hh, err := c.HookAdd(cpu.HOOK_MEM_WRITE, func(c cpu.Cpu, access int, addr uint32, size int, val uint32) {
		pc, ppc := regs(c)
		r.record(Event{Addr: addr, Size: uint8(size), Value: val, PC: pc, PPC: ppc})
	}, 1, 0)
	if err != nil {
		return nil, errors.Wrap(err, "telemetry: HookAdd failed")
	}
	r.hook = hh
	return r, nil
}

func (r *Recorder) Close() error {
	if r.hook == nil {
		return nil
	}
	err := r.c.HookDel(r.hook)
	r.hook = nil
	return err
}

// Shim sits between an engine and its bus and records the writes the engine issues.
// Writes made by the host directly on the dispatcher never pass through it.
type Shim struct {
	cpu.Bus
	stream
	c cpu.Cpu
}

func NewShim(bus cpu.Bus) *Shim {
	return &Shim{Bus: bus, stream: stream{source: SourceShim}}
}

// Wrap matches the engine builders' bus hook; it returns the shim for later Bind.
func (s *Shim) Wrap(bus cpu.Bus) cpu.Bus {
	s.Bus = bus
	return s
}

// Bind names the engine whose registers tag each event.
func (s *Shim) Bind(c cpu.Cpu) {
	s.c = c
}

func (s *Shim) Write(addr uint32, size int, val uint32) error {
	if err := s.Bus.Write(addr, size, val); err != nil {
		return err
	}
	if size < 4 {
		val &= 1<<(8*uint(size)) - 1
	}
	var pc, ppc uint32
	if s.c != nil {
		pc, ppc = regs(s.c)
	}
	s.record(Event{Addr: addr, Size: uint8(size), Value: val, PC: pc, PPC: ppc})
	return nil
}
