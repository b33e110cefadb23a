package m68k

import (
	"github.com/pkg/errors"

	"github.com/lunixbochs/tracecorn/go/models/cpu"
)

var ErrIllegal = errors.New("illegal instruction")
var ErrStopped = errors.New("engine is stopped")

var Arch = &cpu.Arch{
	Name:     "m68k",
	AddrMask: ADDR_MASK,
	PC:       PC,
	PPC:      PPC,
	SP:       A7,
	SR:       SR,
	Regs:     regNames,
	Snapshot: []int{
		D0, D1, D2, D3, D4, D5, D6, D7,
		A0, A1, A2, A3, A4, A5, A6, A7,
		SR,
	},
}

type Builder struct {
	// Wrap optionally interposes on the bus the engine drives.
	Wrap func(cpu.Bus) cpu.Bus
}

func (b *Builder) New(mem *cpu.Mem) (cpu.Cpu, error) {
	if mem == nil {
		return nil, errors.New("m68k: nil dispatcher")
	}
	c := &M68kCpu{
		Regs: cpu.NewRegs([]int{
			D0, D1, D2, D3, D4, D5, D6, D7,
			A0, A1, A2, A3, A4, A5, A6, A7,
			PC, PPC, SR, USP,
		}),
		mem: mem,
		bus: mem,
	}
	c.Narrow(SR, 16)
	if b.Wrap != nil {
		c.bus = b.Wrap(mem)
	}
	c.Hooks = cpu.NewHooks(c, mem)
	return c, nil
}

// M68kCpu executes a 68000 subset: control flow, data moves and quick arithmetic.
type M68kCpu struct {
	*cpu.Hooks
	*cpu.Regs

	mem *cpu.Mem
	bus cpu.Bus

	halted bool
}

func (c *M68kCpu) Arch() *cpu.Arch {
	return Arch
}

func widthMask(width int) uint32 {
	if width >= 4 {
		return 0xffffffff
	}
	return 1<<(8*uint(width)) - 1
}

func (c *M68kCpu) get(a *arg, width int) (uint32, error) {
	switch a.mode {
	case A_DREG, A_AREG:
		return c.Get(a.reg) & widthMask(width), nil
	case A_IMM:
		return a.val, nil
	case A_ABSL:
		return c.bus.Read(a.val&ADDR_MASK, width)
	}
	return 0, errors.Errorf("m68k: cannot read operand %s", a)
}

func (c *M68kCpu) set(a *arg, width int, val uint32) error {
	switch a.mode {
	case A_DREG:
		// sized moves only touch the low bytes of a data register
		mask := widthMask(width)
		c.Set(a.reg, c.Get(a.reg)&^mask|val&mask)
		return nil
	case A_AREG:
		c.Set(a.reg, val)
		return nil
	case A_ABSL:
		return c.bus.Write(a.val&ADDR_MASK, width, val)
	}
	return errors.Errorf("m68k: cannot write operand %s", a)
}

// target resolves a control flow operand
func (c *M68kCpu) target(a *arg) uint32 {
	if a.mode == A_IND {
		return c.Get(a.reg) & ADDR_MASK
	}
	return a.val & ADDR_MASK
}

func (c *M68kCpu) flags(set, clear uint32) {
	c.Set(SR, c.Get(SR)&^clear|set)
}

// logical result flags: N and Z from the value, V and C cleared
func (c *M68kCpu) setNZ(val uint32, width int) {
	var f uint32
	mask := widthMask(width)
	if val&mask == 0 {
		f |= FLAG_Z
	}
	if val&(mask^mask>>1) != 0 {
		f |= FLAG_N
	}
	c.flags(f, FLAG_N|FLAG_Z|FLAG_V|FLAG_C)
}

func (c *M68kCpu) arith(d, q uint32, sub bool) uint32 {
	var res, f uint32
	if sub {
		res = d - q
		if q > d {
			f |= FLAG_C | FLAG_X
		}
		if (d^q)&(d^res)&0x80000000 != 0 {
			f |= FLAG_V
		}
	} else {
		res = d + q
		if res < d {
			f |= FLAG_C | FLAG_X
		}
		if ^(d^q)&(d^res)&0x80000000 != 0 {
			f |= FLAG_V
		}
	}
	if res == 0 {
		f |= FLAG_Z
	}
	if res&0x80000000 != 0 {
		f |= FLAG_N
	}
	c.flags(f, FLAG_CCR)
	return res
}

func (c *M68kCpu) push(val uint32) error {
	sp := c.Get(A7) - 4
	c.Set(A7, sp)
	return c.bus.Write(sp&ADDR_MASK, 4, val)
}

func (c *M68kCpu) pop() (uint32, error) {
	sp := c.Get(A7)
	val, err := c.bus.Read(sp&ADDR_MASK, 4)
	c.Set(A7, sp+4)
	return val, err
}

// Step executes one instruction. PPC holds the address of the instruction on return.
// While it executes, PC already points past its encoding; a failed step restores it.
func (c *M68kCpu) Step() (int, error) {
	if c.halted {
		return 0, ErrStopped
	}
	pc := c.Get(PC) & ADDR_MASK
	c.Set(PPC, pc)
	ins, err := decode(c.bus.Fetch, pc)
	if err != nil {
		return 0, err
	}
	c.OnCode(pc, ins.size)
	c.Set(PC, (pc+ins.size)&ADDR_MASK)

	next, cycles, err := c.exec(ins, pc)
	if err != nil {
		c.Set(PC, pc)
		return 0, err
	}
	c.Set(PC, next&ADDR_MASK)
	return cycles, nil
}

// exec runs a decoded instruction and returns the next PC
func (c *M68kCpu) exec(ins *ins, pc uint32) (uint32, int, error) {
	next := pc + ins.size
	cycles := ins.cycles
	var a, b *arg
	switch len(ins.args) {
	case 2:
		a, b = ins.args[0], ins.args[1]
	case 1:
		a = ins.args[0]
	}

	switch ins.op {
	case OP_NOP:
	case OP_STOP:
		c.Set(SR, a.val)
		c.halted = true
	case OP_ILLEGAL:
		return 0, 0, errors.Wrapf(ErrIllegal, "at %#x", pc)

	case OP_JSR, OP_BSR:
		dst := c.target(a)
		ret := next & ADDR_MASK
		if err := c.push(ret); err != nil {
			return 0, 0, err
		}
		c.OnFlow(cpu.FLOW_CALL, pc, dst, ret)
		next = dst
	case OP_RTS:
		ret, err := c.pop()
		if err != nil {
			return 0, 0, err
		}
		next = ret & ADDR_MASK
		c.OnFlow(cpu.FLOW_RETURN, pc, next, 0)
	case OP_JMP, OP_BRA:
		next = c.target(a)
		c.OnFlow(cpu.FLOW_JUMP, pc, next, 0)
	case OP_BCC:
		z := c.Get(SR)&FLAG_Z != 0
		if ins.cond == COND_EQ && z || ins.cond == COND_NE && !z {
			next = c.target(a)
			c.OnFlow(cpu.FLOW_JUMP, pc, next, 0)
		} else {
			cycles = ins.notTaken
		}

	case OP_MOVEQ, OP_MOVE:
		val, err := c.get(a, ins.width)
		if err != nil {
			return 0, 0, err
		}
		if err := c.set(b, ins.width, val); err != nil {
			return 0, 0, err
		}
		c.setNZ(val, ins.width)
	case OP_MOVEA, OP_LEA:
		// address register loads leave the condition codes alone
		c.Set(b.reg, a.val)
	case OP_ADDQ, OP_SUBQ:
		c.Set(b.reg, c.arith(c.Get(b.reg), a.val, ins.op == OP_SUBQ))

	default:
		return 0, 0, errors.Errorf("m68k: invalid op %d", ins.op)
	}
	return next, cycles, nil
}

func (c *M68kCpu) Halted() bool {
	return c.halted
}

// Reset loads the initial stack pointer and program counter from the vector table at 0.
func (c *M68kCpu) Reset() error {
	c.halted = false
	c.Set(SR, 0x2700)
	sp, err := c.bus.Read(0, 4)
	if err != nil {
		return err
	}
	pc, err := c.bus.Read(4, 4)
	if err != nil {
		return err
	}
	c.Set(A7, sp)
	c.Set(PC, pc&ADDR_MASK)
	c.Set(PPC, pc&ADDR_MASK)
	return nil
}

// reads instruction words without reporting them to hooks
func (c *M68kCpu) peek(addr uint32, size int) (uint32, error) {
	return cpu.UnpackUint(size, c.mem.MemRead(addr, uint32(size)))
}

func (c *M68kCpu) Dis(addr uint32) (string, int, error) {
	ins, err := decode(c.peek, addr&ADDR_MASK)
	if err != nil {
		return "", 0, err
	}
	return ins.String(), int(ins.size), nil
}

func (c *M68kCpu) Close() error {
	c.halted = true
	return nil
}
