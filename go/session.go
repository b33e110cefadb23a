package tracecorn

import (
	"io"
	"log/slog"

	"github.com/pkg/errors"

	"github.com/lunixbochs/tracecorn/go/logging"
	"github.com/lunixbochs/tracecorn/go/models"
	"github.com/lunixbochs/tracecorn/go/models/cpu"
	"github.com/lunixbochs/tracecorn/go/models/trace"
)

// HookFunc runs at an instruction boundary before the instruction at pc executes.
// Returning true stops the current Execute or call session.
type HookFunc func(s *Session, pc uint32) bool

// StepResult describes one executed instruction.
type StepResult struct {
	// PPC is the address of the instruction that ran, PC the next one
	PPC, PC uint32
	Cycles  int
}

type Option func(*Session)

// WithLogger overrides the logger built from the config's log level.
func WithLogger(log *slog.Logger) Option {
	return func(s *Session) { s.log = log }
}

// WithConfig applies trace settings to the trace given with WithTrace. If TraceOut is
// set and no trace is given, the session records one and saves it on Close.
func WithConfig(cfg *models.Config) Option {
	return func(s *Session) {
		s.cfg = cfg
		s.cfgSet = true
	}
}

func WithTrace(t *trace.Trace) Option {
	return func(s *Session) { s.trace = t }
}

// Session drives one emulated machine. It is single-threaded: none of its methods
// may run concurrently, and regions must not change while a step is in flight.
type Session struct {
	*Task
	log    *slog.Logger
	cfg    *models.Config
	cfgSet bool

	trace *trace.Trace

	hook      HookFunc
	hookAddrs map[uint32]struct{}

	cycles uint64
}

func New(builder cpu.Builder, opts ...Option) (*Session, error) {
	mem := cpu.NewMem()
	c, err := builder.New(mem)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create engine")
	}
	s := &Session{
		Task: NewTask(c, mem),
		cfg:  models.DefaultConfig(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.log == nil {
		level, err := logging.ParseLevel(s.cfg.LogLevel)
		if err != nil {
			return nil, err
		}
		s.log = logging.New(level)
	}
	t := s.trace
	s.trace = nil
	// a trace the host built keeps its own settings unless a config was given
	configure := t != nil && s.cfgSet
	if t == nil && s.cfg.TraceOut != "" {
		t = trace.New()
		if err := t.Start(); err != nil {
			return nil, err
		}
		configure = true
	}
	if t != nil {
		if configure {
			if err := t.Configure(s.cfg); err != nil {
				return nil, err
			}
		}
		if err := s.SetTrace(t); err != nil {
			return nil, err
		}
	}
	s.log.Debug("session created", "arch", c.Arch().Name, "trace", t != nil)
	return s, nil
}

func (s *Session) Config() *models.Config {
	return s.cfg
}

func (s *Session) Cycles() uint64 {
	return s.cycles
}

// SetHook installs fn, replacing any previous hook. With addrs, fn only runs at those boundaries.
func (s *Session) SetHook(fn HookFunc, addrs ...uint32) {
	s.hook = fn
	s.hookAddrs = nil
	if len(addrs) > 0 {
		s.hookAddrs = make(map[uint32]struct{}, len(addrs))
		for _, a := range addrs {
			s.hookAddrs[a] = struct{}{}
		}
	}
}

func (s *Session) ClearHook() {
	s.SetHook(nil)
}

func (s *Session) fire(pc uint32) bool {
	if s.hook == nil {
		return false
	}
	if s.hookAddrs != nil {
		if _, ok := s.hookAddrs[pc]; !ok {
			return false
		}
	}
	return s.hook(s, pc)
}

// SetTrace binds t to the engine's hooks, detaching any previous trace. nil unbinds.
// On error the previous trace stays bound.
func (s *Session) SetTrace(t *trace.Trace) error {
	if t != nil && t != s.trace {
		if err := t.Attach(s.Cpu, s.Cycles); err != nil {
			return err
		}
	}
	if s.trace != nil && s.trace != t {
		s.trace.Detach()
	}
	s.trace = t
	return nil
}

func (s *Session) Trace() *trace.Trace {
	return s.trace
}

// DumpTrace renders the bound trace as text, colored when the config asks for it.
func (s *Session) DumpTrace(w io.Writer) error {
	if s.trace == nil {
		return errors.New("no trace bound")
	}
	data, err := s.trace.Export()
	if err != nil {
		return err
	}
	return trace.Dump(w, data, s.cfg.Color)
}

// StepOne executes exactly one instruction. Afterwards the PPC register holds the
// address the instruction was fetched from, whatever the engine left there.
func (s *Session) StepOne() (StepResult, error) {
	arch := s.Arch()
	pc := s.PC()
	start := s.cycles
	cycles, err := s.Cpu.Step()
	if err != nil {
		return StepResult{PPC: pc, PC: pc}, errors.Wrapf(err, "step failed at %#x", pc)
	}
	if err := s.RegWrite(arch.PPC, pc); err != nil {
		return StepResult{}, err
	}
	s.cycles += uint64(cycles)
	if s.trace != nil {
		s.trace.Retire(pc, cycles, start)
	}
	return StepResult{PPC: pc, PC: s.PC(), Cycles: cycles}, nil
}

// Execute steps while fewer than budget cycles have been used. The last instruction may
// overshoot the budget. The hook runs at every boundary, the first one included.
func (s *Session) Execute(budget uint64) (uint64, error) {
	var used uint64
	for used < budget {
		if s.fire(s.PC()) || s.Halted() {
			break
		}
		res, err := s.StepOne()
		used += uint64(res.Cycles)
		if err != nil {
			return used, err
		}
	}
	return used, nil
}

// Reset resets the engine only. Regions, hooks, the trace and the cycle count survive.
func (s *Session) Reset() error {
	return errors.Wrap(s.Cpu.Reset(), "engine reset failed")
}

// Close unbinds hooks and the trace and closes the engine. A trace configured with
// TraceOut is saved first; a failed save is logged, not returned.
func (s *Session) Close() error {
	s.ClearHook()
	if t := s.trace; t != nil {
		s.SetTrace(nil)
		if s.cfg.TraceOut != "" {
			t.Stop()
			if err := t.Save(s.cfg.TraceOut); err != nil {
				s.log.Warn("trace save failed", "path", s.cfg.TraceOut, "error", err)
			} else {
				s.log.Debug("trace saved", "path", s.cfg.TraceOut)
			}
		}
	}
	s.log.Debug("session closed", "cycles", s.cycles)
	return s.Cpu.Close()
}
