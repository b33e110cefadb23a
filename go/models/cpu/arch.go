package cpu

import (
	"sort"

	"github.com/lunixbochs/fvbommel-util/sortorder"
)

type Reg struct {
	Enum int
	Name string
}

type RegVal struct {
	Reg
	Val uint32
}

type regList []Reg

func (r regList) Len() int           { return len(r) }
func (r regList) Swap(i, j int)      { r[i], r[j] = r[j], r[i] }
func (r regList) Less(i, j int) bool { return sortorder.NaturalLess(r[i].Name, r[j].Name) }

// Arch describes the register file and address space of an engine.
type Arch struct {
	Name string
	// AddrMask covers every address the engine can put on the bus
	AddrMask uint32

	PC  int
	PPC int
	SP  int
	SR  int

	Regs map[int]string
	// Snapshot lists the registers attached to instruction trace events
	Snapshot []int

	// sorted for RegDump
	regList regList
}

// Sentinel is the highest instruction-aligned address on the bus.
func (a *Arch) Sentinel() uint32 {
	return a.AddrMask &^ 1
}

// RegList returns every register in natural name order (D2 before D10).
func (a *Arch) RegList() []Reg {
	if a.regList == nil {
		rl := make(regList, 0, len(a.Regs))
		for e, n := range a.Regs {
			rl = append(rl, Reg{e, n})
		}
		sort.Sort(rl)
		a.regList = rl
	}
	return a.regList
}

func (a *Arch) RegDump(c Cpu) ([]RegVal, error) {
	list := a.RegList()
	ret := make([]RegVal, len(list))
	for i, r := range list {
		val, err := c.RegRead(r.Enum)
		if err != nil {
			return nil, err
		}
		ret[i] = RegVal{r, val}
	}
	return ret, nil
}

// SnapshotRegs reads the Snapshot registers in declaration order.
func (a *Arch) SnapshotRegs(c Cpu) ([]RegVal, error) {
	ret := make([]RegVal, len(a.Snapshot))
	for i, enum := range a.Snapshot {
		val, err := c.RegRead(enum)
		if err != nil {
			return nil, err
		}
		ret[i] = RegVal{Reg{enum, a.Regs[enum]}, val}
	}
	return ret, nil
}
