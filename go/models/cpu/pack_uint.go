package cpu

import (
	"encoding/binary"
	"github.com/pkg/errors"
)

// all bus values are big-endian
var order = binary.BigEndian

func checkSize(size int) error {
	switch size {
	case 1, 2, 4:
		return nil
	}
	return errors.Errorf("unsupported access size: %d", size)
}

// truncate drops the bits of n that don't fit in size bytes
func truncate(size int, n uint32) uint32 {
	if size >= 4 {
		return n
	}
	return n & (1<<(8*uint(size)) - 1)
}

func PackUint(size int, buf []byte, n uint32) ([]byte, error) {
	if buf == nil {
		buf = make([]byte, size)
	} else if len(buf) < size {
		return nil, errors.Errorf("buffer too small (%d < %d)", len(buf), size)
	}
	switch size {
	case 4:
		order.PutUint32(buf[:size], n)
	case 2:
		order.PutUint16(buf[:size], uint16(n))
	case 1:
		buf[0] = byte(n)
	default:
		return nil, errors.Errorf("unsupported uint size: %d", size)
	}
	return buf[:size], nil
}

func UnpackUint(size int, buf []byte) (uint32, error) {
	if len(buf) < size {
		return 0, errors.Errorf("buffer too small (%d < %d)", len(buf), size)
	}
	switch size {
	case 4:
		return order.Uint32(buf), nil
	case 2:
		return uint32(order.Uint16(buf)), nil
	case 1:
		return uint32(buf[0]), nil
	default:
		return 0, errors.Errorf("unsupported uint size: %d", size)
	}
}
