package tracecorn

import (
	"bytes"
	"hash/crc32"
	"strings"

	"github.com/golang/snappy"
	"github.com/pkg/errors"

	"github.com/lunixbochs/tracecorn/go/models"
)

// snapshot format, all fields big-endian:
//
// header
// [4]byte magic ("TCSS"), uint32 version, uint32 crc32 of the compressed body, uint32 body length
//
// body, snappy block-compressed
// uint64 session cycles
// uint32 register count, then per register: uint32 enum, uint32 value
// uint32 region count, then per region: uint32 addr, uint32 size, <size bytes>

var SNAPSHOT_MAGIC = "TCSS"

const SNAPSHOT_VERSION = 1

type snapHeader struct {
	Magic   string `struc:"[4]byte"`
	Version uint32
	CRC     uint32
	Length  uint32
}

type snapCount struct {
	N uint32
}

type snapCycles struct {
	Cycles uint64
}

type snapReg struct {
	Enum uint32
	Val  uint32
}

type snapRegion struct {
	Addr uint32
	Size uint32 `struc:"sizeof=Data"`
	Data []byte
}

// Save captures registers, region contents and the cycle count. Fallback-served memory
// belongs to the host and is not included.
func (s *Session) Save() ([]byte, error) {
	var body bytes.Buffer
	ss := models.NewStrucStream(&body)

	if err := ss.Pack(&snapCycles{s.cycles}); err != nil {
		return nil, err
	}
	regs, err := s.Arch().RegDump(s.Cpu)
	if err != nil {
		return nil, err
	}
	if err := ss.Pack(&snapCount{uint32(len(regs))}); err != nil {
		return nil, err
	}
	for _, r := range regs {
		if err := ss.Pack(&snapReg{uint32(r.Enum), r.Val}); err != nil {
			return nil, err
		}
	}
	regions := s.Mem().Regions()
	if err := ss.Pack(&snapCount{uint32(len(regions))}); err != nil {
		return nil, err
	}
	for _, r := range regions {
		if err := ss.Pack(&snapRegion{Addr: r.Addr, Size: r.Size, Data: r.Data}); err != nil {
			return nil, errors.Wrapf(err, "failed to pack region %s", r)
		}
	}

	data := snappy.Encode(nil, body.Bytes())
	var final bytes.Buffer
	header := &snapHeader{SNAPSHOT_MAGIC, SNAPSHOT_VERSION, crc32.ChecksumIEEE(data), uint32(len(data))}
	if err := models.NewStrucStream(&final).Pack(header); err != nil {
		return nil, err
	}
	final.Write(data)
	return final.Bytes(), nil
}

// Restore loads a snapshot taken by Save. The region layout must match the one saved.
func (s *Session) Restore(p []byte) error {
	r := bytes.NewBuffer(p)
	var header snapHeader
	if err := models.NewStrucStream(r).Unpack(&header); err != nil {
		return errors.Wrap(err, "failed to unpack snapshot header")
	}
	if header.Magic != SNAPSHOT_MAGIC {
		return errors.New("invalid snapshot magic")
	}
	if header.Version != SNAPSHOT_VERSION {
		return errors.Errorf("unsupported snapshot version %d", header.Version)
	}
	data := r.Bytes()
	if uint32(len(data)) != header.Length || crc32.ChecksumIEEE(data) != header.CRC {
		return errors.New("snapshot is corrupt")
	}
	raw, err := snappy.Decode(nil, data)
	if err != nil {
		return errors.Wrap(err, "failed to decompress snapshot")
	}
	ss := models.NewStrucStream(bytes.NewBuffer(raw))

	var cycles snapCycles
	var count snapCount
	if err := ss.Unpack(&cycles, &count); err != nil {
		return err
	}
	regs := make([]snapReg, count.N)
	for i := range regs {
		if err := ss.Unpack(&regs[i]); err != nil {
			return err
		}
	}
	if err := ss.Unpack(&count); err != nil {
		return err
	}
	current := s.Mem().Regions()
	if int(count.N) != len(current) {
		return errors.Errorf("snapshot has %d regions, session has %d", count.N, len(current))
	}
	regions := make([]snapRegion, count.N)
	for i := range regions {
		if err := ss.Unpack(&regions[i]); err != nil {
			return err
		}
		if r := regions[i]; r.Addr != current[i].Addr || r.Size != current[i].Size {
			return errors.Errorf("snapshot region %#x+%#x does not match the session layout, overlapping: [%s]",
				r.Addr, r.Size, strings.Replace(current.FindRange(r.Addr, r.Size).String(), "\n", ", ", -1))
		}
	}

	// everything validated, apply
	for _, reg := range regs {
		if err := s.RegWrite(int(reg.Enum), reg.Val); err != nil {
			return err
		}
	}
	for i, region := range regions {
		copy(current[i].Data, region.Data)
	}
	s.cycles = cycles.Cycles
	return nil
}
