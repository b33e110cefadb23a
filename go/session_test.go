package tracecorn

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lunixbochs/tracecorn/go/cpu/m68k"
	"github.com/lunixbochs/tracecorn/go/logging"
	"github.com/lunixbochs/tracecorn/go/models"
	"github.com/lunixbochs/tracecorn/go/models/cpu"
	"github.com/lunixbochs/tracecorn/go/models/metrics"
	"github.com/lunixbochs/tracecorn/go/models/trace"
)

func words(w ...uint16) []byte {
	p := make([]byte, 0, len(w)*2)
	for _, v := range w {
		p = append(p, byte(v>>8), byte(v))
	}
	return p
}

// maps 64k of ram at 0 with code loaded, the stack at 0x8000 and PC at 0x400
func machine(t *testing.T, code map[uint32][]byte, opts ...Option) (*Session, []byte) {
	s, err := New(&m68k.Builder{}, opts...)
	require.NoError(t, err)
	ram := make([]byte, 0x10000)
	_, err = s.Mem().AddRegion(0, uint32(len(ram)), ram, "ram")
	require.NoError(t, err)
	for addr, p := range code {
		copy(ram[addr:], p)
	}
	require.NoError(t, s.RegWrite(m68k.A7, 0x8000))
	require.NoError(t, s.RegWrite(m68k.PC, 0x400))
	return s, ram
}

func reg(t *testing.T, s *Session, enum int) uint32 {
	val, err := s.RegRead(enum)
	require.NoError(t, err)
	return val
}

var (
	nops = words(0x4e71, 0x4e71, 0x4e71, 0x4e71, 0x4e71, 0x4e71, 0x4e71, 0x4e71)
	// move.w #$beef,$2000.l ; rts
	storeSub = words(0x33fc, 0xbeef, 0x0000, 0x2000, 0x4e75)
	// bra.s *
	spin = words(0x60fe)
)

func TestStepNormalization(t *testing.T) {
	s, _ := machine(t, map[uint32][]byte{0x400: words(0x203c, 0x1234, 0x5678)})
	res, err := s.StepOne()
	require.NoError(t, err)
	assert.Equal(t, StepResult{PPC: 0x400, PC: 0x406, Cycles: 12}, res)
	assert.Equal(t, uint32(0x400), reg(t, s, m68k.PPC))
	assert.Equal(t, uint32(0x406), reg(t, s, m68k.PC))
	assert.Equal(t, uint32(0x12345678), reg(t, s, m68k.D0))
	assert.Equal(t, uint64(12), s.Cycles())
}

func TestStepNormalizationAcrossCall(t *testing.T) {
	s, _ := machine(t, map[uint32][]byte{0x400: words(0x4eb9, 0x0000, 0x0500), 0x500: storeSub})
	res, err := s.StepOne()
	require.NoError(t, err)
	assert.Equal(t, StepResult{PPC: 0x400, PC: 0x500, Cycles: 20}, res)
}

// liar is an engine that reports a bogus PPC after every step
type liar struct {
	*cpu.Hooks
	*cpu.Regs
}

var liarArch = &cpu.Arch{Name: "liar", AddrMask: 0xffff, PC: 0, PPC: 1, SP: 2,
	Regs: map[int]string{0: "pc", 1: "ppc", 2: "sp"}}

type liarBuilder struct{}

func (liarBuilder) New(mem *cpu.Mem) (cpu.Cpu, error) {
	c := &liar{Regs: cpu.NewRegs([]int{0, 1, 2})}
	c.Hooks = cpu.NewHooks(c, mem)
	return c, nil
}

func (c *liar) Step() (int, error) {
	pc := c.Get(0)
	c.Set(0, pc+0x100)
	c.Set(1, pc+0x40)
	return 7, nil
}

func (c *liar) Reset() error    { return nil }
func (c *liar) Halted() bool    { return false }
func (c *liar) Arch() *cpu.Arch { return liarArch }
func (c *liar) Close() error    { return nil }

func TestControllerOwnsPPC(t *testing.T) {
	s, err := New(liarBuilder{})
	require.NoError(t, err)
	require.NoError(t, s.RegWrite(0, 0x10))
	res, err := s.StepOne()
	require.NoError(t, err)
	assert.Equal(t, StepResult{PPC: 0x10, PC: 0x110, Cycles: 7}, res)
	assert.Equal(t, uint32(0x10), reg(t, s, 1))
}

func TestExecuteBudget(t *testing.T) {
	s, _ := machine(t, map[uint32][]byte{0x400: nops})
	used, err := s.Execute(0)
	require.NoError(t, err)
	assert.Zero(t, used)
	assert.Equal(t, uint32(0x400), s.PC())

	// 4 cycle nops: the third one starts under budget and overshoots it
	used, err = s.Execute(10)
	require.NoError(t, err)
	assert.Equal(t, uint64(12), used)
	assert.Equal(t, uint32(0x406), s.PC())
}

func TestExecuteHookEveryBoundary(t *testing.T) {
	s, _ := machine(t, map[uint32][]byte{0x400: nops})
	var seen []uint32
	s.SetHook(func(_ *Session, pc uint32) bool {
		seen = append(seen, pc)
		return false
	})
	_, err := s.Execute(12)
	require.NoError(t, err)
	assert.Equal(t, []uint32{0x400, 0x402, 0x404}, seen)

	s.ClearHook()
	_, err = s.Execute(4)
	require.NoError(t, err)
	assert.Len(t, seen, 3)
}

func TestExecuteHookAddrs(t *testing.T) {
	s, _ := machine(t, map[uint32][]byte{0x400: nops})
	fired := 0
	s.SetHook(func(_ *Session, pc uint32) bool {
		fired++
		return pc == 0x406
	}, 0x402, 0x406)
	used, err := s.Execute(1000)
	require.NoError(t, err)
	assert.Equal(t, 2, fired)
	assert.Equal(t, uint64(12), used)
	assert.Equal(t, uint32(0x406), s.PC(), "stop leaves the boundary unexecuted")
}

func TestExecuteHalt(t *testing.T) {
	s, _ := machine(t, map[uint32][]byte{0x400: words(0x4e71, 0x4e72, 0x2700, 0x4e71)})
	used, err := s.Execute(1000)
	require.NoError(t, err)
	assert.Equal(t, uint64(8), used)
	assert.True(t, s.Halted())
	assert.Equal(t, uint32(0x406), s.PC())
}

func TestExecuteEngineError(t *testing.T) {
	s, _ := machine(t, map[uint32][]byte{0x400: words(0x4e71, 0x4afc)})
	used, err := s.Execute(1000)
	require.Error(t, err)
	assert.Equal(t, m68k.ErrIllegal, errors.Cause(err))
	assert.Equal(t, uint64(4), used)
	assert.Equal(t, uint32(0x402), s.PC())
}

func TestCallUntilStop(t *testing.T) {
	s, ram := machine(t, map[uint32][]byte{0x500: storeSub})
	used, err := s.CallUntilStop(0x500, 10000)
	require.NoError(t, err)
	assert.Greater(t, used, uint64(0))
	assert.Equal(t, uint64(36), used)
	assert.Equal(t, uint32(0xfffffe), s.PC())
	assert.True(t, s.Parked())
	assert.Equal(t, []byte{0xbe, 0xef}, ram[0x2000:0x2002])
	assert.Equal(t, uint32(0x8000), reg(t, s, m68k.A7))
	assert.Equal(t, []byte{0x00, 0xff, 0xff, 0xfe}, ram[0x7ffc:0x8000])
}

func TestCallNested(t *testing.T) {
	tr := trace.New()
	require.NoError(t, tr.Start())
	tr.RegisterFunctionName(0x500, "outer")
	s, _ := machine(t, map[uint32][]byte{
		// jsr $600.l ; rts
		0x500: words(0x4eb9, 0x0000, 0x0600, 0x4e75),
		0x600: storeSub,
	}, WithTrace(tr))
	_, err := s.CallUntilStop(0x500, 10000)
	require.NoError(t, err)
	assert.True(t, s.Parked())

	stats := tr.Stats()
	assert.Equal(t, uint64(2), stats.Calls)
	assert.Equal(t, uint64(2), stats.Returns)
	assert.Equal(t, 0, stats.Open)

	data, err := tr.Export()
	require.NoError(t, err)
	packets, err := trace.Decode(data)
	require.NoError(t, err)
	var flow []trace.Packet
	for _, p := range packets {
		if p.Event != nil && p.Event.Track == 2 {
			flow = append(flow, p)
		}
	}
	require.Len(t, flow, 6)
	assert.Equal(t, "outer (session)", flow[0].Event.Name)
	last := flow[len(flow)-1]
	assert.Equal(t, trace.TYPE_SLICE_END, last.Event.Type)
	for _, p := range flow {
		assert.LessOrEqual(t, p.Timestamp, last.Timestamp)
	}
}

func TestCallBudgetExhausted(t *testing.T) {
	s, _ := machine(t, map[uint32][]byte{0x700: spin})
	used, err := s.CallUntilStop(0x700, 100)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), used)
	assert.False(t, s.Parked())
	assert.Equal(t, uint32(0x700), s.PC())
}

func TestCallHookStop(t *testing.T) {
	s, _ := machine(t, map[uint32][]byte{0x500: storeSub})
	s.SetHook(func(_ *Session, pc uint32) bool { return true }, 0x508)
	used, err := s.CallUntilStop(0x500, 10000)
	require.NoError(t, err)
	assert.Equal(t, uint64(20), used)
	assert.Equal(t, uint32(0x508), s.PC())
	assert.False(t, s.Parked())
}

func TestCallConfiguredBudget(t *testing.T) {
	cfg := models.DefaultConfig()
	cfg.CallBudget = 30
	s, _ := machine(t, map[uint32][]byte{0x700: spin}, WithConfig(cfg))
	used, err := s.Call(0x700)
	require.NoError(t, err)
	assert.Equal(t, uint64(30), used)
}

func TestNoDeduplicationEndToEnd(t *testing.T) {
	tr := trace.New()
	require.NoError(t, tr.Start())
	tr.RegisterFunctionName(0x500, "f")
	// 0x400: jsr $500.l ; subq.l #1,d1 ; bne.s $400 ; stop #$2700
	s, _ := machine(t, map[uint32][]byte{
		0x400: words(0x4eb9, 0x0000, 0x0500, 0x5381, 0x66f6, 0x4e72, 0x2700),
		0x500: words(0x4e75),
	}, WithTrace(tr))
	require.NoError(t, s.RegWrite(m68k.D1, 2))
	_, err := s.Execute(10000)
	require.NoError(t, err)
	require.True(t, s.Halted())

	data, err := tr.Export()
	require.NoError(t, err)
	packets, err := trace.Decode(data)
	require.NoError(t, err)
	calls, ends := 0, 0
	for _, p := range packets {
		if p.Event == nil {
			continue
		}
		if p.Event.Type == trace.TYPE_SLICE_BEGIN && p.Event.Name == "f" {
			calls++
		}
		if p.Event.Type == trace.TYPE_SLICE_END && p.Event.Track == 2 {
			ends++
		}
	}
	assert.Equal(t, 2, calls)
	assert.Equal(t, 4, ends)
	assert.Equal(t, uint64(1), tr.Stats().Jumps)
}

func TestSelectiveMemoryEndToEnd(t *testing.T) {
	tr := trace.New()
	require.NoError(t, tr.Start())
	require.NoError(t, tr.AddMemoryRange(0x2000, 0x3000))
	// move.w d0,$2000.l ; move.w d0,$8000.l ; stop
	s, _ := machine(t, map[uint32][]byte{
		0x400: words(0x33c0, 0x0000, 0x2000, 0x33c0, 0x0000, 0x8000, 0x4e72, 0x2700),
	}, WithTrace(tr))
	_, err := s.Execute(1000)
	require.NoError(t, err)
	stats := tr.Stats()
	assert.Equal(t, uint64(1), stats.MemWrites)
	assert.Equal(t, uint64(1), stats.MemFiltered)
}

func TestInstructionTrace(t *testing.T) {
	tr := trace.New()
	tr.SetFeatureFlags(false, false, true)
	require.NoError(t, tr.Start())
	s, _ := machine(t, map[uint32][]byte{0x400: nops}, WithTrace(tr))
	_, err := s.Execute(8)
	require.NoError(t, err)

	data, err := tr.Export()
	require.NoError(t, err)
	packets, err := trace.Decode(data)
	require.NoError(t, err)
	var ts []uint64
	for _, p := range packets {
		if p.Event != nil {
			assert.Equal(t, uint64(4), p.Event.Track)
			ts = append(ts, p.Timestamp)
			if p.Event.Type == trace.TYPE_SLICE_BEGIN {
				assert.Equal(t, "nop", p.Event.Name)
			}
		}
	}
	assert.Equal(t, []uint64{0, 4, 4, 8}, ts)
}

func TestResetKeepsRegionsAndCycles(t *testing.T) {
	s, ram := machine(t, map[uint32][]byte{0x400: nops})
	copy(ram, words(0x0000, 0x9000, 0x0000, 0x0402))
	_, err := s.Execute(4)
	require.NoError(t, err)
	require.NoError(t, s.Reset())
	assert.Equal(t, uint32(0x402), s.PC())
	assert.Equal(t, uint32(0x9000), reg(t, s, m68k.A7))
	assert.Equal(t, uint64(4), s.Cycles())
	assert.Len(t, s.Mem().Regions(), 1)
	assert.Equal(t, nops, ram[0x400:0x410])
}

func TestSnapshot(t *testing.T) {
	s, ram := machine(t, map[uint32][]byte{0x500: storeSub})
	require.NoError(t, s.RegWrite(m68k.D3, 0x33))
	snap, err := s.Save()
	require.NoError(t, err)

	_, err = s.CallUntilStop(0x500, 1000)
	require.NoError(t, err)
	require.NoError(t, s.RegWrite(m68k.D3, 0))
	require.Equal(t, byte(0xbe), ram[0x2000])

	require.NoError(t, s.Restore(snap))
	assert.Equal(t, uint32(0x400), s.PC())
	assert.Equal(t, uint32(0x33), reg(t, s, m68k.D3))
	assert.Equal(t, uint32(0x8000), reg(t, s, m68k.A7))
	assert.Equal(t, byte(0), ram[0x2000])
	assert.Zero(t, s.Cycles())

	bad := append([]byte(nil), snap...)
	bad[len(bad)-1] ^= 0xff
	assert.Error(t, s.Restore(bad))
	assert.Error(t, s.Restore(snap[:8]))

	other, err := New(&m68k.Builder{})
	require.NoError(t, err)
	assert.Error(t, other.Restore(snap), "region layout differs")

	other, err = New(&m68k.Builder{})
	require.NoError(t, err)
	_, err = other.Mem().AddRegion(0, 0x8000, make([]byte, 0x8000), "low")
	require.NoError(t, err)
	err = other.Restore(snap)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "overlapping: [0x0-0x8000 [low]]")
}

func TestConfigTraceOut(t *testing.T) {
	cfg := models.DefaultConfig()
	cfg.TraceOut = filepath.Join(t.TempDir(), "call.pftrace")
	s, _ := machine(t, map[uint32][]byte{0x500: storeSub}, WithConfig(cfg))
	require.NotNil(t, s.Trace())
	assert.True(t, s.Trace().Active())
	_, err := s.CallUntilStop(0x500, 1000)
	require.NoError(t, err)
	require.NoError(t, s.Close())
	assert.Nil(t, s.Trace())

	data, err := os.ReadFile(cfg.TraceOut)
	require.NoError(t, err)
	packets, err := trace.Decode(data)
	require.NoError(t, err)
	assert.Greater(t, len(packets), 4)
}

func TestTraceSaveFailureIsLogged(t *testing.T) {
	var buf bytes.Buffer
	cfg := models.DefaultConfig()
	cfg.TraceOut = filepath.Join(t.TempDir(), "missing", "call.pftrace")
	s, _ := machine(t, nil, WithConfig(cfg), WithLogger(logging.NewWriter(&buf, slog.LevelDebug)))
	require.NoError(t, s.Close())
	assert.Contains(t, buf.String(), "trace save failed")
	assert.Contains(t, buf.String(), "err=")
}

func TestSetTraceRebind(t *testing.T) {
	s, _ := machine(t, map[uint32][]byte{0x500: storeSub})
	a, b := trace.New(), trace.New()
	require.NoError(t, a.Start())
	require.NoError(t, b.Start())
	require.NoError(t, s.SetTrace(a))
	require.NoError(t, s.SetTrace(b))
	_, err := s.CallUntilStop(0x500, 1000)
	require.NoError(t, err)
	assert.Zero(t, a.Stats().MemWrites)
	assert.Equal(t, uint64(2), b.Stats().MemWrites)
	require.NoError(t, s.SetTrace(nil))
	assert.Nil(t, s.Trace())
}

func TestMetrics(t *testing.T) {
	tr := trace.New()
	require.NoError(t, tr.Start())
	s, _ := machine(t, map[uint32][]byte{0x500: storeSub}, WithTrace(tr))
	_, err := s.CallUntilStop(0x500, 1000)
	require.NoError(t, err)
	c := metrics.NewCollector(s, nil)
	assert.Equal(t, 10, testutil.CollectAndCount(c))
	assert.Equal(t, 10, testutil.CollectAndCount(metrics.NewCollector(s, nil)))
}

func TestFallbackThroughSession(t *testing.T) {
	s, _ := machine(t, map[uint32][]byte{
		// move.w $a00000.l,d2 ; stop
		0x400: words(0x3439, 0x00a0, 0x0000, 0x4e72, 0x2700),
	})
	require.NoError(t, s.Mem().SetFallback(func(addr uint32, size int) uint32 {
		return 0x4242
	}, func(addr uint32, size int, val uint32) {}))
	_, err := s.Execute(100)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x4242), reg(t, s, m68k.D2))
}

func TestWithTraceKeepsSettings(t *testing.T) {
	tr := trace.New()
	tr.SetFeatureFlags(false, true, true)
	require.NoError(t, tr.AddMemoryRange(0x2000, 0x3000))
	require.NoError(t, tr.Start())
	// move.w d0,$2000.l ; move.w d0,$8000.l ; stop
	s, _ := machine(t, map[uint32][]byte{
		0x400: words(0x33c0, 0x0000, 0x2000, 0x33c0, 0x0000, 0x8000, 0x4e72, 0x2700),
	}, WithTrace(tr))
	_, err := s.Execute(1000)
	require.NoError(t, err)
	stats := tr.Stats()
	assert.Equal(t, uint64(1), stats.MemWrites)
	assert.Equal(t, uint64(1), stats.MemFiltered)
	assert.Equal(t, uint64(3), stats.Instructions)
	assert.Zero(t, stats.Jumps+stats.Calls)
}

func TestWithConfigConfiguresTrace(t *testing.T) {
	tr := trace.New()
	tr.SetFeatureFlags(true, true, true)
	require.NoError(t, tr.Start())
	cfg := models.DefaultConfig()
	cfg.TraceMemRanges = []models.AddrRange{{Start: 0x8000, End: 0x9000}}
	s, _ := machine(t, map[uint32][]byte{
		0x400: words(0x33c0, 0x0000, 0x2000, 0x33c0, 0x0000, 0x8000, 0x4e72, 0x2700),
	}, WithTrace(tr), WithConfig(cfg))
	_, err := s.Execute(1000)
	require.NoError(t, err)
	stats := tr.Stats()
	assert.Equal(t, uint64(1), stats.MemWrites)
	assert.Zero(t, stats.Instructions, "config leaves instruction tracing off")
}

func TestSetTraceKeepsPreviousOnError(t *testing.T) {
	s, _ := machine(t, map[uint32][]byte{0x500: storeSub})
	a, b := trace.New(), trace.New()
	require.NoError(t, a.Start())
	require.NoError(t, s.SetTrace(a))

	other, _ := machine(t, nil)
	require.NoError(t, other.SetTrace(b))
	assert.Error(t, s.SetTrace(b))
	assert.Same(t, a, s.Trace())

	_, err := s.CallUntilStop(0x500, 1000)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), a.Stats().MemWrites)
	require.NoError(t, s.SetTrace(a), "rebinding the bound trace is a no-op")
	assert.Same(t, a, s.Trace())
}

func TestLogLevelFromConfig(t *testing.T) {
	cfg := models.DefaultConfig()
	cfg.LogLevel = "loud"
	_, err := New(&m68k.Builder{}, WithConfig(cfg))
	assert.Error(t, err)

	cfg.LogLevel = "warn"
	s, err := New(&m68k.Builder{}, WithConfig(cfg))
	require.NoError(t, err)
	assert.False(t, s.log.Enabled(context.Background(), slog.LevelInfo))
	assert.True(t, s.log.Enabled(context.Background(), slog.LevelWarn))
}

func TestDumpTrace(t *testing.T) {
	s, _ := machine(t, map[uint32][]byte{0x500: storeSub})
	var buf bytes.Buffer
	assert.Error(t, s.DumpTrace(&buf))

	tr := trace.New()
	require.NoError(t, tr.Start())
	require.NoError(t, s.SetTrace(tr))
	_, err := s.CallUntilStop(0x500, 1000)
	require.NoError(t, err)
	require.NoError(t, s.DumpTrace(&buf))
	assert.Contains(t, buf.String(), "B 0x000500 (session)")
	assert.NotContains(t, buf.String(), "\x1b[")

	s.Config().Color = true
	buf.Reset()
	require.NoError(t, s.DumpTrace(&buf))
	assert.Contains(t, buf.String(), "\x1b[")
}
