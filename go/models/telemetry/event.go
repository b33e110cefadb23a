package telemetry

import (
	"fmt"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

// producer tags
const (
	SourceTrace = "trace"
	SourceShim  = "shim"
)

// Event is one resolved memory write, tagged with the registers of the instruction that made it.
type Event struct {
	Addr   uint32
	Size   uint8
	Value  uint32
	PC     uint32
	PPC    uint32
	Source string
}

func (e Event) String() string {
	return fmt.Sprintf("[%s] pc=%#x ppc=%#x W%d %#x = %#x", e.Source, e.PC, e.PPC, e.Size, e.Addr, e.Value)
}

// Diff compares two streams without regard to which producer recorded them.
// An empty result means the streams are identical.
func Diff(a, b []Event) string {
	return cmp.Diff(a, b, cmpopts.IgnoreFields(Event{}, "Source"), cmpopts.EquateEmpty())
}

type stream struct {
	source string
	events []Event
	out    *Writer
	err    error
}

func (s *stream) record(e Event) {
	e.Source = s.source
	s.events = append(s.events, e)
	if s.out != nil && s.err == nil {
		s.err = s.out.Write(e)
	}
}

func (s *stream) Events() []Event {
	return s.events
}

// Tee streams every subsequent event to w as well.
func (s *stream) Tee(w *Writer) {
	s.out = w
}

// Err returns the first error writing to the tee.
func (s *stream) Err() error {
	return s.err
}

func (s *stream) Reset() {
	s.events = nil
}
