package models

import (
	"encoding/binary"
	"io"

	"github.com/lunixbochs/struc"
)

// all on-disk formats are big-endian, matching the emulated bus
var StrucOptions = &struc.Options{Order: binary.BigEndian}

type StrucStream struct {
	Stream  io.ReadWriter
	Options *struc.Options
}

func NewStrucStream(rw io.ReadWriter) *StrucStream {
	return &StrucStream{Stream: rw, Options: StrucOptions}
}

func (s *StrucStream) Pack(vals ...interface{}) error {
	for _, v := range vals {
		if err := struc.PackWithOptions(s.Stream, v, s.Options); err != nil {
			return err
		}
	}
	return nil
}

func (s *StrucStream) Unpack(vals ...interface{}) error {
	for _, v := range vals {
		if err := struc.UnpackWithOptions(s.Stream, v, s.Options); err != nil {
			return err
		}
	}
	return nil
}
