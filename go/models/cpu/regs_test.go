package cpu

import (
	"testing"
)

func makeRegs() ([]int, *Regs) {
	enums := make([]int, 100)
	for i := range enums {
		enums[i] = 100 - i
	}
	return enums, NewRegs(enums)
}

func BenchmarkRegsRead(b *testing.B) {
	enums, regs := makeRegs()
	for i := 0; i < b.N; i++ {
		regs.RegRead(enums[i%len(enums)])
	}
}

func BenchmarkRegsWrite(b *testing.B) {
	enums, regs := makeRegs()
	for i := 0; i < b.N; i++ {
		regs.RegWrite(enums[i%len(enums)], uint32(i))
	}
}

func TestRegs(t *testing.T) {
	enums, regs := makeRegs()

	// save context to check zeroes later
	ctx, err := regs.ContextSave(nil)
	if err != nil {
		t.Fatal(err, "initial ContextSave() failed")
	}

	// set all regs to pos * 2
	for i, e := range enums {
		if err := regs.RegWrite(e, uint32(i*2)); err != nil {
			t.Fatal(err, "initial RegWrite() failed")
		}
	}

	// check first set
	for i, e := range enums {
		if val, err := regs.RegRead(e); err != nil {
			t.Fatal(err, "initial RegRead() failed")
		} else if val != uint32(i*2) {
			t.Fatalf("RegRead() returned %d, expecting %d", val, i*2)
		}
	}

	// restore context and check
	if err := regs.ContextRestore(ctx); err != nil {
		t.Fatal(err, "ContextRestore() failed")
	}
	for _, e := range enums {
		if val, err := regs.RegRead(e); err != nil {
			t.Fatal(err, "RegRead() failed")
		} else if val != 0 {
			t.Fatalf("RegRead() returned %d, expecting 0", val)
		}
	}

	// test reusing context
	if err := regs.RegWrite(enums[0], 1); err != nil {
		t.Fatal(err, "RegWrite() failed")
	}
	if _, err := regs.ContextSave(ctx); err != nil {
		t.Fatal(err, "ContextSave() failed")
	}
	if err := regs.RegWrite(enums[0], 0); err != nil {
		t.Fatal(err, "RegWrite() failed")
	}
	if err := regs.ContextRestore(ctx); err != nil {
		t.Fatal(err, "ContextRestore() failed")
	}
	if val, err := regs.RegRead(enums[0]); err != nil {
		t.Fatal(err, "RegRead() failed")
	} else if val != 1 {
		t.Fatalf("RegRead() returned %d, expecting 1", val)
	}
}

func TestRegsInvalid(t *testing.T) {
	_, regs := makeRegs()
	if _, err := regs.RegRead(1000); err == nil {
		t.Error("RegRead() succeeded on unknown register")
	}
	if err := regs.RegWrite(1000, 1); err == nil {
		t.Error("RegWrite() succeeded on unknown register")
	}
	if err := regs.ContextRestore(map[int]uint64{}); err == nil {
		t.Error("ContextRestore() accepted the wrong context type")
	}
}

func TestRegsNarrow(t *testing.T) {
	enums, regs := makeRegs()
	regs.Narrow(enums[0], 16)
	if err := regs.RegWrite(enums[0], 0x12345678); err != nil {
		t.Fatal("RegWrite() failed")
	}
	if val, err := regs.RegRead(enums[0]); err != nil {
		t.Fatal("RegRead() failed")
	} else if val != 0x5678 {
		t.Fatalf("RegRead() returned %#x, expecting 0x5678", val)
	}
	regs.Set(enums[0], 0xffffffff)
	if regs.Get(enums[0]) != 0xffff {
		t.Fatalf("Set() ignored the register width: %#x", regs.Get(enums[0]))
	}
}
