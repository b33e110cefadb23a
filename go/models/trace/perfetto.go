package trace

import (
	"math"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers from perfetto's trace_packet.proto and track_event.proto.
// Only the subset written by the encoder is understood by Decode.
const (
	fieldTracePacket = 1

	fieldPacketTimestamp       = 8
	fieldPacketSequenceID      = 10
	fieldPacketTrackEvent      = 11
	fieldPacketSequenceFlags   = 13
	fieldPacketTrackDescriptor = 60

	fieldTrackUUID   = 1
	fieldTrackName   = 2
	fieldTrackParent = 5

	fieldEventAnnotation = 4
	fieldEventType       = 9
	fieldEventTrackUUID  = 11
	fieldEventCategory   = 22
	fieldEventName       = 23

	fieldAnnoBool    = 2
	fieldAnnoUint    = 3
	fieldAnnoInt     = 4
	fieldAnnoDouble  = 5
	fieldAnnoString  = 6
	fieldAnnoPointer = 7
	fieldAnnoName    = 10
)

// TrackEvent.Type
const (
	TYPE_SLICE_BEGIN = 1
	TYPE_SLICE_END   = 2
	TYPE_INSTANT     = 3
)

// TracePacket.SequenceFlags
const SEQ_INCREMENTAL_STATE_CLEARED = 1

// Pointer marks an annotation value rendered as an address.
type Pointer uint64

// Annotation is a typed key/value attached to an event.
// Value is one of bool, uint64, int64, float64, string or Pointer.
type Annotation struct {
	Name  string
	Value interface{}
}

type TrackDescriptor struct {
	UUID   uint64
	Parent uint64
	Name   string
}

type TrackEvent struct {
	Type        int
	Track       uint64
	Name        string
	Categories  []string
	Annotations []Annotation
}

type Packet struct {
	Timestamp uint64
	Sequence  uint32
	Flags     uint32

	Track *TrackDescriptor
	Event *TrackEvent
}

type msg []byte

func (m msg) varint(num protowire.Number, v uint64) msg {
	m = protowire.AppendTag(m, num, protowire.VarintType)
	return protowire.AppendVarint(m, v)
}

func (m msg) bytes(num protowire.Number, b []byte) msg {
	m = protowire.AppendTag(m, num, protowire.BytesType)
	return protowire.AppendBytes(m, b)
}

func (m msg) str(num protowire.Number, s string) msg {
	m = protowire.AppendTag(m, num, protowire.BytesType)
	return protowire.AppendString(m, s)
}

func (m msg) double(num protowire.Number, f float64) msg {
	m = protowire.AppendTag(m, num, protowire.Fixed64Type)
	return protowire.AppendFixed64(m, math.Float64bits(f))
}

func encodeAnnotation(a Annotation) (msg, error) {
	m := msg(nil).str(fieldAnnoName, a.Name)
	switch v := a.Value.(type) {
	case bool:
		var b uint64
		if v {
			b = 1
		}
		m = m.varint(fieldAnnoBool, b)
	case uint64:
		m = m.varint(fieldAnnoUint, v)
	case int64:
		m = m.varint(fieldAnnoInt, uint64(v))
	case float64:
		m = m.double(fieldAnnoDouble, v)
	case string:
		m = m.str(fieldAnnoString, v)
	case Pointer:
		m = m.varint(fieldAnnoPointer, uint64(v))
	default:
		return nil, errors.Errorf("annotation %q has unsupported type %T", a.Name, a.Value)
	}
	return m, nil
}

func encodeEvent(e *TrackEvent) (msg, error) {
	var m msg
	for _, a := range e.Annotations {
		am, err := encodeAnnotation(a)
		if err != nil {
			return nil, err
		}
		m = m.bytes(fieldEventAnnotation, am)
	}
	m = m.varint(fieldEventType, uint64(e.Type))
	m = m.varint(fieldEventTrackUUID, e.Track)
	for _, c := range e.Categories {
		m = m.str(fieldEventCategory, c)
	}
	if e.Name != "" {
		m = m.str(fieldEventName, e.Name)
	}
	return m, nil
}

func encodeTrack(t *TrackDescriptor) msg {
	m := msg(nil).varint(fieldTrackUUID, t.UUID)
	if t.Name != "" {
		m = m.str(fieldTrackName, t.Name)
	}
	if t.Parent != 0 {
		m = m.varint(fieldTrackParent, t.Parent)
	}
	return m
}

// appendPacket encodes p as one repeated Trace.packet field.
func appendPacket(b []byte, p *Packet) ([]byte, error) {
	var m msg
	if p.Timestamp != 0 || p.Event != nil {
		m = m.varint(fieldPacketTimestamp, p.Timestamp)
	}
	m = m.varint(fieldPacketSequenceID, uint64(p.Sequence))
	if p.Event != nil {
		em, err := encodeEvent(p.Event)
		if err != nil {
			return b, err
		}
		m = m.bytes(fieldPacketTrackEvent, em)
	}
	if p.Flags != 0 {
		m = m.varint(fieldPacketSequenceFlags, uint64(p.Flags))
	}
	if p.Track != nil {
		m = m.bytes(fieldPacketTrackDescriptor, encodeTrack(p.Track))
	}
	return msg(b).bytes(fieldTracePacket, m), nil
}

// fields walks the top level of a message. val holds varint and fixed values, raw holds bytes fields.
func fields(b []byte, fn func(num protowire.Number, typ protowire.Type, val uint64, raw []byte) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return errors.Wrap(protowire.ParseError(n), "bad tag")
		}
		b = b[n:]
		var val uint64
		var raw []byte
		switch typ {
		case protowire.VarintType:
			val, n = protowire.ConsumeVarint(b)
		case protowire.Fixed64Type:
			val, n = protowire.ConsumeFixed64(b)
		case protowire.Fixed32Type:
			var v32 uint32
			v32, n = protowire.ConsumeFixed32(b)
			val = uint64(v32)
		case protowire.BytesType:
			raw, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return errors.Wrapf(protowire.ParseError(n), "bad field %d", num)
		}
		b = b[n:]
		if err := fn(num, typ, val, raw); err != nil {
			return err
		}
	}
	return nil
}

func decodeAnnotation(b []byte) (Annotation, error) {
	var a Annotation
	err := fields(b, func(num protowire.Number, typ protowire.Type, val uint64, raw []byte) error {
		switch num {
		case fieldAnnoName:
			a.Name = string(raw)
		case fieldAnnoBool:
			a.Value = val != 0
		case fieldAnnoUint:
			a.Value = val
		case fieldAnnoInt:
			a.Value = int64(val)
		case fieldAnnoDouble:
			a.Value = math.Float64frombits(val)
		case fieldAnnoString:
			a.Value = string(raw)
		case fieldAnnoPointer:
			a.Value = Pointer(val)
		}
		return nil
	})
	return a, err
}

func decodeEvent(b []byte) (*TrackEvent, error) {
	e := &TrackEvent{}
	err := fields(b, func(num protowire.Number, typ protowire.Type, val uint64, raw []byte) error {
		switch num {
		case fieldEventAnnotation:
			a, err := decodeAnnotation(raw)
			if err != nil {
				return err
			}
			e.Annotations = append(e.Annotations, a)
		case fieldEventType:
			e.Type = int(val)
		case fieldEventTrackUUID:
			e.Track = val
		case fieldEventCategory:
			e.Categories = append(e.Categories, string(raw))
		case fieldEventName:
			e.Name = string(raw)
		}
		return nil
	})
	return e, err
}

func decodeTrack(b []byte) (*TrackDescriptor, error) {
	t := &TrackDescriptor{}
	err := fields(b, func(num protowire.Number, typ protowire.Type, val uint64, raw []byte) error {
		switch num {
		case fieldTrackUUID:
			t.UUID = val
		case fieldTrackName:
			t.Name = string(raw)
		case fieldTrackParent:
			t.Parent = val
		}
		return nil
	})
	return t, err
}

func decodePacket(b []byte) (Packet, error) {
	var p Packet
	err := fields(b, func(num protowire.Number, typ protowire.Type, val uint64, raw []byte) error {
		var err error
		switch num {
		case fieldPacketTimestamp:
			p.Timestamp = val
		case fieldPacketSequenceID:
			p.Sequence = uint32(val)
		case fieldPacketSequenceFlags:
			p.Flags = uint32(val)
		case fieldPacketTrackEvent:
			p.Event, err = decodeEvent(raw)
		case fieldPacketTrackDescriptor:
			p.Track, err = decodeTrack(raw)
		}
		return err
	})
	return p, err
}

// Decode parses an exported trace back into packets.
func Decode(data []byte) ([]Packet, error) {
	var packets []Packet
	err := fields(data, func(num protowire.Number, typ protowire.Type, val uint64, raw []byte) error {
		if num != fieldTracePacket || typ != protowire.BytesType {
			return errors.Errorf("unexpected trace field %d", num)
		}
		p, err := decodePacket(raw)
		if err != nil {
			return errors.Wrapf(err, "packet %d", len(packets))
		}
		packets = append(packets, p)
		return nil
	})
	return packets, err
}
