package telemetry

import (
	"io"
	"strings"

	"github.com/golang/snappy"
	"github.com/lunixbochs/struc"
	"github.com/pkg/errors"

	"github.com/lunixbochs/tracecorn/go/models"
)

var MAGIC = "TCMW"

const VERSION = 1

type Header struct {
	// MAGIC ("TCMW")
	Magic   string `struc:"[4]byte"`
	Version uint32
	// producer tag, right-null-padded
	Source string `struc:"[16]byte"`
}

type record struct {
	Addr  uint32
	Size  uint8
	Value uint32
	PC    uint32
	PPC   uint32
}

// Writer streams events to a struc header followed by a snappy-compressed body.
type Writer struct {
	w  io.WriteCloser
	zw *snappy.Writer
	s  *models.StrucStream
}

func NewWriter(w io.WriteCloser, source string) (*Writer, error) {
	if len(source) > 16 {
		return nil, errors.Errorf("telemetry: source tag %q too long", source)
	}
	header := &Header{Magic: MAGIC, Version: VERSION, Source: source}
	if err := struc.PackWithOptions(w, header, models.StrucOptions); err != nil {
		return nil, errors.Wrap(err, "failed to pack header")
	}
	zw := snappy.NewBufferedWriter(w)
	return &Writer{w: w, zw: zw, s: &models.StrucStream{Stream: &rw{w: zw}, Options: models.StrucOptions}}, nil
}

func (w *Writer) Write(e Event) error {
	rec := &record{Addr: e.Addr, Size: e.Size, Value: e.Value, PC: e.PC, PPC: e.PPC}
	return errors.Wrap(w.s.Pack(rec), "telemetry: write")
}

func (w *Writer) Close() error {
	if err := w.zw.Close(); err != nil {
		w.w.Close()
		return err
	}
	return w.w.Close()
}

type Reader struct {
	r      io.ReadCloser
	zr     *snappy.Reader
	s      *models.StrucStream
	Header Header
}

func NewReader(r io.ReadCloser) (*Reader, error) {
	t := &Reader{r: r}
	if err := struc.UnpackWithOptions(r, &t.Header, models.StrucOptions); err != nil {
		return nil, errors.Wrap(err, "failed to unpack header")
	}
	if t.Header.Magic != MAGIC {
		return nil, errors.New("invalid telemetry file magic")
	}
	if t.Header.Version != VERSION {
		return nil, errors.Errorf("unsupported telemetry version %d", t.Header.Version)
	}
	t.Header.Source = strings.TrimRight(t.Header.Source, "\x00")
	t.zr = snappy.NewReader(r)
	t.s = &models.StrucStream{Stream: &rw{r: t.zr}, Options: models.StrucOptions}
	return t, nil
}

// Next returns io.EOF after the last event.
func (t *Reader) Next() (Event, error) {
	var rec record
	if err := t.s.Unpack(&rec); err != nil {
		if err == io.EOF {
			return Event{}, err
		}
		return Event{}, errors.Wrap(err, "telemetry: read")
	}
	return Event{Addr: rec.Addr, Size: rec.Size, Value: rec.Value, PC: rec.PC, PPC: rec.PPC, Source: t.Header.Source}, nil
}

func (t *Reader) ReadAll() ([]Event, error) {
	var events []Event
	for {
		e, err := t.Next()
		if err == io.EOF {
			return events, nil
		} else if err != nil {
			return events, err
		}
		events = append(events, e)
	}
}

func (t *Reader) Close() error {
	t.zr.Reset(nil)
	return t.r.Close()
}

// rw adapts one half of a stream to the io.ReadWriter StrucStream wants
type rw struct {
	r io.Reader
	w io.Writer
}

func (s *rw) Read(p []byte) (int, error) {
	if s.r == nil {
		return 0, errors.New("stream is write-only")
	}
	return s.r.Read(p)
}

func (s *rw) Write(p []byte) (int, error) {
	if s.w == nil {
		return 0, errors.New("stream is read-only")
	}
	return s.w.Write(p)
}
