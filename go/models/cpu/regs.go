package cpu

import (
	"github.com/pkg/errors"
)

// implements register and context methods conforming to cpu.Cpu
type Regs struct {
	vals map[int]uint32
	// optional per-register width mask, e.g. 16 bits for a status register
	masks map[int]uint32
}

func NewRegs(enums []int) *Regs {
	r := &Regs{
		vals:  make(map[int]uint32),
		masks: make(map[int]uint32),
	}
	for _, e := range enums {
		r.vals[e] = 0
	}
	return r
}

// Narrow restricts a register to the given bit width.
func (r *Regs) Narrow(enum int, bits uint) {
	r.masks[enum] = ^uint32(0) >> (32 - bits)
}

func (r *Regs) RegRead(enum int) (uint32, error) {
	if val, ok := r.vals[enum]; !ok {
		return 0, errors.Errorf("invalid register %d", enum)
	} else {
		return val, nil
	}
}

func (r *Regs) RegWrite(enum int, val uint32) error {
	if _, ok := r.vals[enum]; !ok {
		return errors.Errorf("invalid register %d", enum)
	}
	if mask, ok := r.masks[enum]; ok {
		val &= mask
	}
	r.vals[enum] = val
	return nil
}

// Get and Set skip validation, for engine-internal use on known enums
func (r *Regs) Get(enum int) uint32 { return r.vals[enum] }

func (r *Regs) Set(enum int, val uint32) {
	if mask, ok := r.masks[enum]; ok {
		val &= mask
	}
	r.vals[enum] = val
}

func (r *Regs) ContextSave(reuse interface{}) (interface{}, error) {
	var m map[int]uint32
	if reuse != nil {
		var ok bool
		if m, ok = reuse.(map[int]uint32); !ok {
			return nil, errors.New("incorrect context type")
		}
	} else {
		m = make(map[int]uint32, len(r.vals))
	}
	for k, v := range r.vals {
		m[k] = v
	}
	return m, nil
}

func (r *Regs) ContextRestore(ctx interface{}) error {
	if m, ok := ctx.(map[int]uint32); !ok {
		return errors.New("incorrect context type")
	} else {
		for k, v := range m {
			if _, ok := r.vals[k]; ok {
				r.Set(k, v)
			}
		}
		return nil
	}
}
