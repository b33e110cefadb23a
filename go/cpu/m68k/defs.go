package m68k

const (
	D0 = iota
	D1
	D2
	D3
	D4
	D5
	D6
	D7
	A0
	A1
	A2
	A3
	A4
	A5
	A6
	A7
	PC
	PPC
	SR
	USP
)

// condition code bits in SR
const (
	FLAG_C = 1 << 0
	FLAG_V = 1 << 1
	FLAG_Z = 1 << 2
	FLAG_N = 1 << 3
	FLAG_X = 1 << 4

	FLAG_CCR = FLAG_C | FLAG_V | FLAG_Z | FLAG_N | FLAG_X
)

// the 68000 drives 24 address lines
const ADDR_MASK = 0x00ffffff

const (
	OP_NOP = iota + 1
	OP_STOP
	OP_RTS
	OP_ILLEGAL
	OP_JSR
	OP_JMP
	OP_BSR
	OP_BRA
	OP_BCC
	OP_MOVEQ
	OP_MOVE
	OP_MOVEA
	OP_LEA
	OP_ADDQ
	OP_SUBQ
)

// operand addressing modes supported by the decoder
const (
	A_NONE = iota
	A_DREG // Dn
	A_AREG // An
	A_IND  // (An)
	A_ABSL // (xxx).L
	A_IMM  // #imm
	A_REL  // pc-relative branch target
)

// branch conditions
const (
	COND_T  = 0x0
	COND_NE = 0x6
	COND_EQ = 0x7
)

var regNames = map[int]string{
	D0: "d0", D1: "d1", D2: "d2", D3: "d3", D4: "d4", D5: "d5", D6: "d6", D7: "d7",
	A0: "a0", A1: "a1", A2: "a2", A3: "a3", A4: "a4", A5: "a5", A6: "a6", A7: "a7",
	PC: "pc", PPC: "ppc", SR: "sr", USP: "usp",
}

var opNames = map[int]string{
	OP_NOP:     "nop",
	OP_STOP:    "stop",
	OP_RTS:     "rts",
	OP_ILLEGAL: "illegal",
	OP_JSR:     "jsr",
	OP_JMP:     "jmp",
	OP_BSR:     "bsr",
	OP_BRA:     "bra",
	OP_MOVEQ:   "moveq",
	OP_MOVE:    "move",
	OP_MOVEA:   "movea",
	OP_LEA:     "lea",
	OP_ADDQ:    "addq",
	OP_SUBQ:    "subq",
}

var condNames = map[int]string{
	COND_NE: "bne",
	COND_EQ: "beq",
}
