package m68k

import (
	"fmt"
	"github.com/pkg/errors"
	"strings"
)

type arg struct {
	mode int
	reg  int
	val  uint32
}

func (a *arg) String() string {
	switch a.mode {
	case A_DREG, A_AREG:
		return regNames[a.reg]
	case A_IND:
		return "(" + regNames[a.reg] + ")"
	case A_ABSL:
		return fmt.Sprintf("$%06x.l", a.val)
	case A_IMM:
		return fmt.Sprintf("#$%x", a.val)
	case A_REL:
		return fmt.Sprintf("$%06x", a.val)
	}
	return "?"
}

type ins struct {
	addr uint32
	op   int
	cond int
	// operand width in bytes, 0 if unsized
	width int
	args  []*arg
	// encoded length in bytes
	size uint32

	cycles int
	// cycles spent when a conditional branch falls through
	notTaken int
}

func (i *ins) Mnemonic() string {
	name := opNames[i.op]
	if i.op == OP_BCC {
		name = condNames[i.cond]
	}
	switch i.width {
	case 1:
		if i.args[0].mode == A_REL {
			return name + ".s"
		}
		return name + ".b"
	case 2:
		return name + ".w"
	case 4:
		return name + ".l"
	}
	return name
}

func (i *ins) OpStr() string {
	var args []string
	for _, a := range i.args {
		args = append(args, a.String())
	}
	return strings.Join(args, ",")
}

func (i *ins) String() string {
	if len(i.args) == 0 {
		return i.Mnemonic()
	}
	return i.Mnemonic() + " " + i.OpStr()
}

type fetchFunc func(addr uint32, size int) (uint32, error)

type decoder struct {
	fetch fetchFunc
	addr  uint32
	err   error
}

func (d *decoder) word() uint32 {
	if d.err != nil {
		return 0
	}
	var val uint32
	val, d.err = d.fetch(d.addr&ADDR_MASK, 2)
	d.addr += 2
	return val
}

func (d *decoder) long() uint32 {
	hi := d.word()
	lo := d.word()
	return hi<<16 | lo
}

// effective address cycle costs for the modes the decoder supports, {byte/word, long}
var eaCycles = map[int][2]int{
	A_DREG: {0, 0},
	A_AREG: {0, 0},
	A_IMM:  {4, 8},
	A_ABSL: {12, 16},
}

func eaTime(a *arg, width int) int {
	t := eaCycles[a.mode]
	if width == 4 {
		return t[1]
	}
	return t[0]
}

func unsupported(addr, w uint32) error {
	return errors.Errorf("unsupported opcode %#04x at %#x", w, addr)
}

func decode(fetch fetchFunc, addr uint32) (*ins, error) {
	d := &decoder{fetch: fetch, addr: addr}
	w := d.word()
	if d.err != nil {
		return nil, errors.Wrapf(d.err, "fetch failed at %#x", addr)
	}
	i := &ins{addr: addr}
	switch {
	case w == 0x4e71:
		i.op, i.cycles = OP_NOP, 4
	case w == 0x4e72:
		i.op, i.cycles = OP_STOP, 4
		i.args = []*arg{{mode: A_IMM, val: d.word()}}
	case w == 0x4e75:
		i.op, i.cycles = OP_RTS, 16
	case w == 0x4afc:
		i.op, i.cycles = OP_ILLEGAL, 34
	case w == 0x4eb9:
		i.op, i.cycles = OP_JSR, 20
		i.args = []*arg{{mode: A_ABSL, val: d.long()}}
	case w&0xfff8 == 0x4e90:
		i.op, i.cycles = OP_JSR, 16
		i.args = []*arg{{mode: A_IND, reg: A0 + int(w&7)}}
	case w == 0x4ef9:
		i.op, i.cycles = OP_JMP, 12
		i.args = []*arg{{mode: A_ABSL, val: d.long()}}
	case w&0xfff8 == 0x4ed0:
		i.op, i.cycles = OP_JMP, 8
		i.args = []*arg{{mode: A_IND, reg: A0 + int(w&7)}}
	case w&0xf000 == 0x6000:
		if err := d.branch(i, w); err != nil {
			return nil, err
		}
	case w&0xf100 == 0x7000:
		i.op, i.cycles, i.width = OP_MOVEQ, 4, 4
		imm := uint32(int32(int8(w & 0xff)))
		i.args = []*arg{{mode: A_IMM, val: imm}, {mode: A_DREG, reg: D0 + int(w>>9&7)}}
	case w&0xf1ff == 0x41f9:
		i.op, i.cycles, i.width = OP_LEA, 12, 0
		i.args = []*arg{{mode: A_ABSL, val: d.long()}, {mode: A_AREG, reg: A0 + int(w>>9&7)}}
	case w&0xf1f8 == 0x5080, w&0xf1f8 == 0x5180:
		i.op, i.cycles, i.width = OP_ADDQ, 8, 4
		if w&0x0100 != 0 {
			i.op = OP_SUBQ
		}
		q := w >> 9 & 7
		if q == 0 {
			q = 8
		}
		i.args = []*arg{{mode: A_IMM, val: q}, {mode: A_DREG, reg: D0 + int(w&7)}}
	case w&0xc000 == 0 && w&0x3000 != 0:
		if err := d.move(i, w); err != nil {
			return nil, err
		}
	default:
		return nil, unsupported(addr, w)
	}
	if d.err != nil {
		return nil, errors.Wrapf(d.err, "fetch failed at %#x", addr)
	}
	i.size = d.addr - addr
	return i, nil
}

func (d *decoder) branch(i *ins, w uint32) error {
	cond := int(w >> 8 & 0xf)
	disp := int32(int8(w & 0xff))
	i.width = 1
	switch w & 0xff {
	case 0:
		disp = int32(int16(d.word()))
		i.width = 2
	case 0xff:
		// 32-bit displacements arrived with the 68020
		return unsupported(i.addr, w)
	}
	target := (i.addr + 2 + uint32(disp)) & ADDR_MASK
	i.args = []*arg{{mode: A_REL, val: target}}
	switch cond {
	case COND_T:
		i.op, i.cycles = OP_BRA, 10
	case 1:
		i.op, i.cycles = OP_BSR, 18
	case COND_NE, COND_EQ:
		i.op, i.cond, i.cycles = OP_BCC, cond, 10
		i.notTaken = 8
		if i.width == 2 {
			i.notTaken = 12
		}
	default:
		return unsupported(i.addr, w)
	}
	return nil
}

func (d *decoder) move(i *ins, w uint32) error {
	switch w >> 12 & 3 {
	case 1:
		i.width = 1
	case 3:
		i.width = 2
	case 2:
		i.width = 4
	}
	dreg, dmode := int(w>>9&7), w>>6&7
	smode, sreg := w>>3&7, int(w&7)

	src := &arg{}
	switch {
	case smode == 0:
		src.mode, src.reg = A_DREG, D0+sreg
	case smode == 7 && sreg == 4:
		src.mode = A_IMM
		if i.width == 4 {
			src.val = d.long()
		} else {
			src.val = d.word() & (1<<(8*uint(i.width)) - 1)
		}
	case smode == 7 && sreg == 1:
		src.mode, src.val = A_ABSL, d.long()
	default:
		return unsupported(i.addr, w)
	}

	dst := &arg{}
	i.op = OP_MOVE
	switch {
	case dmode == 0:
		dst.mode, dst.reg = A_DREG, D0+dreg
	case dmode == 1 && i.width == 4:
		dst.mode, dst.reg = A_AREG, A0+dreg
		i.op = OP_MOVEA
	case dmode == 7 && dreg == 1:
		dst.mode, dst.val = A_ABSL, d.long()
	default:
		return unsupported(i.addr, w)
	}
	i.args = []*arg{src, dst}
	i.cycles = 4 + eaTime(src, i.width) + eaTime(dst, i.width)
	return nil
}
