package tracecorn

import (
	"github.com/lunixbochs/tracecorn/go/models/cpu"
)

// Task pairs an engine with the dispatcher it drives and pushes on its stack.
type Task struct {
	cpu.Cpu
	mem *cpu.Mem
}

func NewTask(c cpu.Cpu, mem *cpu.Mem) *Task {
	return &Task{Cpu: c, mem: mem}
}

func (t *Task) Mem() *cpu.Mem {
	return t.mem
}

func (t *Task) PC() uint32 {
	pc, _ := t.RegRead(t.Arch().PC)
	return pc
}

func (t *Task) SP() uint32 {
	sp, _ := t.RegRead(t.Arch().SP)
	return sp
}

// Push stores n as one long write, the way the engine pushes a return address.
func (t *Task) Push(n uint32) (uint32, error) {
	sp := t.SP() - 4
	if err := t.RegWrite(t.Arch().SP, sp); err != nil {
		return 0, err
	}
	return sp, t.mem.Write(sp&t.Arch().AddrMask, 4, n)
}
