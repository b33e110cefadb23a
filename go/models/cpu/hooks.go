package cpu

import (
	"github.com/pkg/errors"
)

// callback signatures:
// code: func(Cpu, addr uint32, size uint32)
// mem:  func(Cpu, access int, addr uint32, size int, val uint32)
// flow: func(Cpu, kind int, src, dst, ret uint32)

type hookInfo struct {
	htype int
	start uint32
	end   uint32
}

func (h *hookInfo) Type() int {
	return h.htype
}

// start > end means "every address"
func (h *hookInfo) Contains(addr uint32) bool {
	return h.start > h.end || addr >= h.start && addr <= h.end
}

type hinfo interface {
	Type() int
}

type codeHook struct {
	hookInfo
	cb func(Cpu, uint32, uint32)
}

type memHook struct {
	hookInfo
	cb func(Cpu, int, uint32, int, uint32)
}

type flowHook struct {
	hookInfo
	cb func(Cpu, int, uint32, uint32, uint32)
}

type Hooks struct {
	cpu Cpu

	code []*codeHook
	mem  []*memHook
	flow []*flowHook
}

// creates &Hooks{}, optionally attaching to a *Mem instance
func NewHooks(cpu Cpu, mem *Mem) *Hooks {
	h := &Hooks{cpu: cpu}
	if mem != nil {
		// the dispatcher reports resolved accesses automatically
		mem.hooks = h
	}
	return h
}

func (h *Hooks) HookAdd(htype int, cb interface{}, start uint32, end uint32, extra ...int) (Hook, error) {
	info := hookInfo{htype, start, end}
	var hook Hook
	switch htype {
	case HOOK_CODE:
		fn, ok := cb.(func(Cpu, uint32, uint32))
		if !ok {
			return nil, errors.Errorf("code hook has wrong callback type %T", cb)
		}
		hh := &codeHook{info, fn}
		h.code, hook = append(h.code, hh), hh

	case HOOK_FLOW:
		fn, ok := cb.(func(Cpu, int, uint32, uint32, uint32))
		if !ok {
			return nil, errors.Errorf("flow hook has wrong callback type %T", cb)
		}
		hh := &flowHook{info, fn}
		h.flow, hook = append(h.flow, hh), hh

	default:
		if htype&HOOK_MEM_ALL == 0 || htype&^HOOK_MEM_ALL != 0 {
			return nil, errors.Errorf("unknown hook type %d", htype)
		}
		fn, ok := cb.(func(Cpu, int, uint32, int, uint32))
		if !ok {
			return nil, errors.Errorf("memory hook has wrong callback type %T", cb)
		}
		hh := &memHook{info, fn}
		h.mem, hook = append(h.mem, hh), hh
	}
	return hook, nil
}

func (h *Hooks) HookDel(hh Hook) error {
	info, ok := hh.(hinfo)
	if !ok {
		return errors.Errorf("not a hook: %T", hh)
	}
	switch info.Type() {
	case HOOK_CODE:
		var tmp []*codeHook
		for _, v := range h.code {
			if v != hh {
				tmp = append(tmp, v)
			}
		}
		h.code = tmp
	case HOOK_FLOW:
		var tmp []*flowHook
		for _, v := range h.flow {
			if v != hh {
				tmp = append(tmp, v)
			}
		}
		h.flow = tmp
	default:
		var tmp []*memHook
		for _, v := range h.mem {
			if v != hh {
				tmp = append(tmp, v)
			}
		}
		h.mem = tmp
	}
	return nil
}

func (h *Hooks) OnCode(addr uint32, size uint32) {
	for _, v := range h.code {
		if v.Contains(addr) {
			v.cb(h.cpu, addr, size)
		}
	}
}

func (h *Hooks) OnMem(access int, addr uint32, size int, val uint32) {
	htype := accessHook(access)
	for _, v := range h.mem {
		if v.htype&htype != 0 && v.Contains(addr) {
			v.cb(h.cpu, access, addr, size, val)
		}
	}
}

// flow hook ranges match against the destination address
func (h *Hooks) OnFlow(kind int, src, dst, ret uint32) {
	for _, v := range h.flow {
		if v.Contains(dst) {
			v.cb(h.cpu, kind, src, dst, ret)
		}
	}
}
