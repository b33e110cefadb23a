package trace

import (
	"fmt"
	"io"
	"strings"

	"github.com/mgutz/ansi"
)

var (
	colorBegin   = ansi.ColorCode("green")
	colorEnd     = ansi.ColorCode("red")
	colorInstant = ansi.ColorCode("yellow")
	colorArgs    = ansi.ColorCode("black+h")
)

func paint(s, code string, color bool) string {
	if !color || s == "" {
		return s
	}
	return code + s + ansi.Reset
}

func (a Annotation) String() string {
	switch v := a.Value.(type) {
	case Pointer:
		return fmt.Sprintf("%s=%#x", a.Name, uint64(v))
	case string:
		return fmt.Sprintf("%s=%q", a.Name, v)
	default:
		return fmt.Sprintf("%s=%v", a.Name, v)
	}
}

func formatArgs(args []Annotation) string {
	s := make([]string, len(args))
	for i, a := range args {
		s[i] = a.String()
	}
	return strings.Join(s, " ")
}

// Dump renders an exported trace as text, one event per line, indented by slice depth.
func Dump(w io.Writer, data []byte, color bool) error {
	packets, err := Decode(data)
	if err != nil {
		return err
	}
	tracks := make(map[uint64]string)
	depth := make(map[uint64]int)
	for _, p := range packets {
		if p.Track != nil {
			tracks[p.Track.UUID] = p.Track.Name
			if _, err := fmt.Fprintf(w, "# track %d %q parent=%d\n", p.Track.UUID, p.Track.Name, p.Track.Parent); err != nil {
				return err
			}
			continue
		}
		e := p.Event
		if e == nil {
			continue
		}
		var mark, code string
		switch e.Type {
		case TYPE_SLICE_BEGIN:
			mark, code = "B", colorBegin
		case TYPE_SLICE_END:
			mark, code = "E", colorEnd
			if depth[e.Track] > 0 {
				depth[e.Track]--
			}
		case TYPE_INSTANT:
			mark, code = "I", colorInstant
		default:
			mark = "?"
		}
		line := fmt.Sprintf("%10d %-12s %s%s %s", p.Timestamp, tracks[e.Track],
			strings.Repeat("  ", depth[e.Track]), paint(mark, code, color), e.Name)
		if len(e.Categories) > 0 {
			line += " [" + strings.Join(e.Categories, ",") + "]"
		}
		if len(e.Annotations) > 0 {
			line += " " + paint(formatArgs(e.Annotations), colorArgs, color)
		}
		if _, err := fmt.Fprintln(w, strings.TrimRight(line, " ")); err != nil {
			return err
		}
		if e.Type == TYPE_SLICE_BEGIN {
			depth[e.Track]++
		}
	}
	return nil
}
