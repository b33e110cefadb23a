package cpu

type Hook interface{}

// This interface abstracts the minimum functionality the session controller requires from an
// instruction engine. Instruction semantics live entirely behind Step.
type Cpu interface {
	// register IO
	RegRead(reg int) (uint32, error)
	RegWrite(reg int, val uint32) error

	// execution
	Reset() error
	// Step executes exactly one instruction and returns the cycles it consumed.
	Step() (int, error)
	// Halted reports whether the engine stopped itself (e.g. STOP).
	Halted() bool

	Arch() *Arch

	// hooks
	HookAdd(htype int, cb interface{}, begin, end uint32, extra ...int) (Hook, error)
	HookDel(hook Hook) error

	// save/restore entire register state
	ContextSave(reuse interface{}) (interface{}, error)
	ContextRestore(ctx interface{}) error

	// cleanup
	Close() error
}

// Disassembler is implemented by engines that can name instructions for the tracer.
type Disassembler interface {
	// Dis returns the mnemonic and encoded length of the instruction at addr.
	Dis(addr uint32) (string, int, error)
}

// Bus is the sized memory access contract an engine is driven through.
// Values are assembled big-endian. size is 1, 2 or 4.
type Bus interface {
	Read(addr uint32, size int) (uint32, error)
	Write(addr uint32, size int, val uint32) error
	Fetch(addr uint32, size int) (uint32, error)
}

// Builder creates an engine wired to a dispatcher.
type Builder interface {
	New(mem *Mem) (Cpu, error)
}
