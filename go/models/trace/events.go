package trace

import (
	"github.com/lunixbochs/tracecorn/go/models/cpu"
)

// Events are timestamped in engine cycles at the start of the instruction that produced them.

type FlowEvent struct {
	Kind     int // cpu.FLOW_*
	Src, Dst uint32
	// Ret is the pushed return address for calls
	Ret  uint32
	Time uint64
}

type MemoryEvent struct {
	Access int // cpu.MEM_*
	Addr   uint32
	Size   int
	Value  uint32
	PC     uint32
	Time   uint64
}

type InstructionEvent struct {
	PC     uint32
	Size   uint32
	Cycles int
	Time   uint64
	// Name is the disassembly if the engine provides one
	Name string
	Regs []cpu.RegVal
}

// Stats aggregates everything the trace has seen since Start.
type Stats struct {
	Calls     uint64
	Returns   uint64
	Unmatched uint64
	Jumps     uint64

	MemReads    uint64
	MemWrites   uint64
	MemFiltered uint64

	Instructions uint64
	Cycles       uint64

	// Open counts flow slices not yet closed, summary included
	Open int
}
