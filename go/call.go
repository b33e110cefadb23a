package tracecorn

import (
	"github.com/lunixbochs/tracecorn/go/models"
	"github.com/lunixbochs/tracecorn/go/models/cpu"
	"github.com/lunixbochs/tracecorn/go/models/trace"
)

// Sentinel is the return address call sessions park on.
func (s *Session) Sentinel() uint32 {
	return s.Arch().Sentinel()
}

// Parked reports whether the last call session returned to the sentinel.
func (s *Session) Parked() bool {
	return s.PC() == s.Sentinel()
}

// Call runs a call session with the configured cycle budget.
func (s *Session) Call(entry uint32) (uint64, error) {
	return s.CallUntilStop(entry, s.cfg.CallBudget)
}

// CallUntilStop calls entry with the sentinel as its return address and steps until the
// callee returns to the sentinel, the hook asks to stop, the engine halts, or budget runs
// out. Running out of budget is not an error; check Parked.
func (s *Session) CallUntilStop(entry uint32, budget uint64) (uint64, error) {
	arch := s.Arch()
	sentinel := s.Sentinel()
	entry &= arch.AddrMask
	src := s.PC()
	if _, err := s.Push(sentinel); err != nil {
		return 0, err
	}
	if err := s.RegWrite(arch.PC, entry); err != nil {
		return 0, err
	}
	if s.trace != nil {
		s.trace.OnFlow(trace.FlowEvent{Kind: cpu.FLOW_CALL, Src: src, Dst: entry, Ret: sentinel, Time: s.cycles})
	}
	s.log.Debug("call session start", "entry", models.HexAddr(entry), "budget", budget)

	var used uint64
	for used < budget {
		pc := s.PC()
		if pc == sentinel || s.fire(pc) || s.Halted() {
			break
		}
		res, err := s.StepOne()
		used += uint64(res.Cycles)
		if err != nil {
			return used, err
		}
	}
	s.log.Debug("call session end", "pc", models.HexAddr(s.PC()), "cycles", used, "parked", s.Parked())
	return used, nil
}
