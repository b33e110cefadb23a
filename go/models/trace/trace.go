package trace

import (
	"fmt"
	"os"

	"github.com/pkg/errors"

	"github.com/lunixbochs/tracecorn/go/models"
	"github.com/lunixbochs/tracecorn/go/models/cpu"
)

var ErrTraceActive = errors.New("trace already active")

const sequenceID = 1

const (
	trackRoot uint64 = iota + 1
	trackFlow
	trackMemory
	trackInstructions
)

var trackNames = map[uint64]string{
	trackFlow:         "flow",
	trackMemory:       "memory",
	trackInstructions: "instructions",
}

type Option func(*Trace)

// WithName labels the root track and every summary slice.
func WithName(name string) Option {
	return func(t *Trace) { t.name = name }
}

// WithSymbols shares a symbol table instead of starting with an empty one.
func WithSymbols(s *models.Symbols) Option {
	return func(t *Trace) { t.symbols = s }
}

// Trace records flow, memory and instruction events as perfetto slices.
// It is not safe for concurrent use; all events arrive on the stepping goroutine.
type Trace struct {
	name string

	flow, memory, instructions bool
	regs, memReads             bool
	ranges                     []models.AddrRange

	symbols *models.Symbols
	stack   sliceStack

	active bool
	buf    []byte
	err    error
	last   uint64
	stats  Stats

	c       cpu.Cpu
	clock   func() uint64
	hooks   []cpu.Hook
	insAddr uint32
	insSize uint32
}

func New(opts ...Option) *Trace {
	t := &Trace{
		name:   "session",
		flow:   true,
		memory: true,
	}
	for _, o := range opts {
		o(t)
	}
	if t.symbols == nil {
		t.symbols = models.NewSymbols()
	}
	return t
}

// Configure applies feature flags, memory ranges and symbols from a config.
func (t *Trace) Configure(cfg *models.Config) error {
	t.SetFeatureFlags(cfg.TraceFlow, cfg.TraceMem, cfg.TraceExec)
	t.SetRegisters(cfg.TraceReg)
	t.SetMemoryReads(cfg.TraceMemReads)
	if cfg.TraceName != "" {
		t.name = cfg.TraceName
	}
	t.ClearMemoryRanges()
	for _, r := range cfg.TraceMemRanges {
		if err := t.AddMemoryRange(r.Start, r.End); err != nil {
			return err
		}
	}
	return cfg.LoadSymbols(t.symbols)
}

// Start begins a new recording. Starting an active trace is an error, not a reset.
func (t *Trace) Start() error {
	if t.active {
		return ErrTraceActive
	}
	t.active = true
	t.buf = nil
	t.err = nil
	t.last = 0
	t.stats = Stats{}
	t.stack.Reset()
	return nil
}

// Stop ends recording. The recorded events stay available to Export.
func (t *Trace) Stop() {
	t.active = false
}

func (t *Trace) Active() bool {
	return t.active
}

func (t *Trace) SetFeatureFlags(flow, memory, instructions bool) {
	t.flow, t.memory, t.instructions = flow, memory, instructions
}

// SetRegisters attaches a register snapshot to each instruction slice.
func (t *Trace) SetRegisters(enable bool) {
	t.regs = enable
}

func (t *Trace) SetMemoryReads(enable bool) {
	t.memReads = enable
}

// AddMemoryRange allows memory events in [start, end). With no ranges every address passes.
func (t *Trace) AddMemoryRange(start, end uint32) error {
	if end <= start {
		return errors.Errorf("empty memory range %#x-%#x", start, end)
	}
	t.ranges = append(t.ranges, models.AddrRange{Start: start, End: end})
	return nil
}

func (t *Trace) ClearMemoryRanges() {
	t.ranges = nil
}

func (t *Trace) allowed(addr uint32) bool {
	if len(t.ranges) == 0 {
		return true
	}
	for _, r := range t.ranges {
		if addr >= r.Start && addr < r.End {
			return true
		}
	}
	return false
}

func (t *Trace) RegisterFunctionName(addr uint32, name string) {
	t.symbols.AddFunction(addr, name)
}

func (t *Trace) RegisterMemoryName(addr uint32, name string) {
	t.symbols.AddMemory(addr, name)
}

func (t *Trace) RegisterMemoryRange(addr, size uint32, name string) error {
	return t.symbols.AddMemoryRange(addr, size, name)
}

func (t *Trace) ClearNames() {
	t.symbols.Clear()
}

func (t *Trace) Symbols() *models.Symbols {
	return t.symbols
}

func (t *Trace) Stats() Stats {
	s := t.stats
	s.Open = t.stack.Len()
	return s
}

func (t *Trace) hook(htype int, cb interface{}) error {
	hh, err := t.c.HookAdd(htype, cb, 1, 0)
	if err != nil {
		return errors.Wrap(err, "HookAdd failed")
	}
	t.hooks = append(t.hooks, hh)
	return nil
}

// Attach subscribes to the engine's flow and memory hooks. clock supplies event timestamps.
func (t *Trace) Attach(c cpu.Cpu, clock func() uint64) error {
	if t.c != nil {
		if t.c == c {
			return nil
		}
		return errors.New("trace is attached to another engine")
	}
	t.c, t.clock = c, clock
	err := t.hook(cpu.HOOK_FLOW, func(_ cpu.Cpu, kind int, src, dst, ret uint32) {
		t.OnFlow(FlowEvent{Kind: kind, Src: src, Dst: dst, Ret: ret, Time: t.now()})
	})
	if err == nil {
		err = t.hook(cpu.HOOK_CODE, func(_ cpu.Cpu, addr uint32, size uint32) {
			t.insAddr, t.insSize = addr, size
		})
	}
	if err == nil {
		err = t.hook(cpu.HOOK_MEM_READ|cpu.HOOK_MEM_WRITE, func(c cpu.Cpu, access int, addr uint32, size int, val uint32) {
			pc, _ := c.RegRead(c.Arch().PPC)
			t.OnMemory(MemoryEvent{Access: access, Addr: addr, Size: size, Value: val, PC: pc, Time: t.now()})
		})
	}
	if err != nil {
		t.Detach()
	}
	return err
}

func (t *Trace) Detach() {
	if t.c == nil {
		return
	}
	for _, hh := range t.hooks {
		t.c.HookDel(hh)
	}
	t.hooks = nil
	t.c, t.clock = nil, nil
}

func (t *Trace) now() uint64 {
	if t.clock == nil {
		return t.last
	}
	return t.clock()
}

func (t *Trace) emit(ts uint64, e *TrackEvent) {
	if t.err != nil {
		return
	}
	t.buf, t.err = appendPacket(t.buf, &Packet{Timestamp: ts, Sequence: sequenceID, Event: e})
	if ts > t.last {
		t.last = ts
	}
}

func (t *Trace) begin(sl slice, args []Annotation) {
	t.stack.Push(sl)
	t.emit(sl.begin, &TrackEvent{Type: TYPE_SLICE_BEGIN, Track: trackFlow, Name: sl.name, Annotations: args})
}

func (t *Trace) end(ts uint64) {
	t.emit(ts, &TrackEvent{Type: TYPE_SLICE_END, Track: trackFlow})
}

func (t *Trace) OnFlow(e FlowEvent) {
	if !t.active || !t.flow {
		return
	}
	switch e.Kind {
	case cpu.FLOW_CALL:
		t.stats.Calls++
		name := t.symbols.FunctionName(e.Dst)
		if t.stack.Empty() {
			t.begin(slice{kind: sliceSummary, name: fmt.Sprintf("%s (%s)", name, t.name), begin: e.Time}, nil)
		}
		t.begin(slice{kind: sliceCall, name: name, begin: e.Time}, []Annotation{
			{"src", Pointer(e.Src)},
			{"dst", Pointer(e.Dst)},
			{"ret", Pointer(e.Ret)},
		})
	case cpu.FLOW_RETURN:
		t.stats.Returns++
		if _, ok := t.stack.PopCall(); !ok {
			t.stats.Unmatched++
			return
		}
		t.end(e.Time)
		if t.stack.OnlySummary() {
			t.stack.Pop()
			t.end(e.Time)
		}
	case cpu.FLOW_JUMP:
		t.stats.Jumps++
		t.emit(e.Time, &TrackEvent{
			Type:  TYPE_INSTANT,
			Track: trackFlow,
			Name:  "jmp " + t.symbols.FunctionName(e.Dst),
			Annotations: []Annotation{
				{"src", Pointer(e.Src)},
				{"dst", Pointer(e.Dst)},
			},
		})
	}
}

func (t *Trace) OnMemory(e MemoryEvent) {
	if !t.active || !t.memory {
		return
	}
	switch e.Access {
	case cpu.MEM_WRITE:
	case cpu.MEM_READ:
		if !t.memReads {
			return
		}
	default:
		return
	}
	if !t.allowed(e.Addr) {
		t.stats.MemFiltered++
		return
	}
	if e.Access == cpu.MEM_WRITE {
		t.stats.MemWrites++
	} else {
		t.stats.MemReads++
	}
	t.emit(e.Time, &TrackEvent{
		Type:       TYPE_INSTANT,
		Track:      trackMemory,
		Name:       t.symbols.MemoryName(e.Addr),
		Categories: []string{cpu.AccessName(e.Access)},
		Annotations: []Annotation{
			{"pc", Pointer(e.PC)},
			{"addr", Pointer(e.Addr)},
			{"size", uint64(e.Size)},
			{"value", uint64(e.Value)},
		},
	})
}

func (t *Trace) OnInstruction(e InstructionEvent) {
	if !t.active || !t.instructions {
		return
	}
	t.stats.Instructions++
	t.stats.Cycles += uint64(e.Cycles)
	name := e.Name
	if name == "" {
		name = models.HexAddr(e.PC)
	}
	args := []Annotation{
		{"pc", Pointer(e.PC)},
		{"size", uint64(e.Size)},
		{"cycles", int64(e.Cycles)},
	}
	for _, r := range e.Regs {
		args = append(args, Annotation{r.Name, Pointer(r.Val)})
	}
	t.emit(e.Time, &TrackEvent{Type: TYPE_SLICE_BEGIN, Track: trackInstructions, Name: name, Annotations: args})
	t.emit(e.Time+uint64(e.Cycles), &TrackEvent{Type: TYPE_SLICE_END, Track: trackInstructions})
}

// Retire records the instruction that just executed at pc, starting at cycle start.
// Naming and register snapshots come from the attached engine.
func (t *Trace) Retire(pc uint32, cycles int, start uint64) {
	if !t.active || !t.instructions {
		return
	}
	e := InstructionEvent{PC: pc, Cycles: cycles, Time: start}
	if t.insAddr == pc {
		e.Size = t.insSize
	}
	if t.c != nil {
		if dis, ok := t.c.(cpu.Disassembler); ok {
			if name, size, err := dis.Dis(pc); err == nil {
				e.Name = name
				if e.Size == 0 {
					e.Size = uint32(size)
				}
			}
		}
		if t.regs {
			e.Regs, _ = t.c.Arch().SnapshotRegs(t.c)
		}
	}
	t.OnInstruction(e)
}

func (t *Trace) descriptors(b []byte) ([]byte, error) {
	root := &Packet{Sequence: sequenceID, Flags: SEQ_INCREMENTAL_STATE_CLEARED,
		Track: &TrackDescriptor{UUID: trackRoot, Name: t.name}}
	b, err := appendPacket(b, root)
	for _, uuid := range []uint64{trackFlow, trackMemory, trackInstructions} {
		if err != nil {
			break
		}
		b, err = appendPacket(b, &Packet{Sequence: sequenceID,
			Track: &TrackDescriptor{UUID: uuid, Parent: trackRoot, Name: trackNames[uuid]}})
	}
	return b, err
}

// Export serializes the trace. Slices still open are closed in the output at the last
// recorded timestamp, innermost first; the trace itself is left as is.
func (t *Trace) Export() ([]byte, error) {
	if t.err != nil {
		return nil, errors.Wrap(t.err, "trace encoding failed")
	}
	out, err := t.descriptors(make([]byte, 0, len(t.buf)+128))
	if err != nil {
		return nil, err
	}
	out = append(out, t.buf...)
	for i := t.stack.Len() - 1; i >= 0; i-- {
		out, err = appendPacket(out, &Packet{Timestamp: t.last, Sequence: sequenceID,
			Event: &TrackEvent{Type: TYPE_SLICE_END, Track: trackFlow}})
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (t *Trace) Save(path string) error {
	data, err := t.Export()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return errors.Wrapf(err, "failed to write trace '%s'", path)
	}
	return nil
}
