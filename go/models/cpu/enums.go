package cpu

// hook types, loosely numbered after Unicorn's for familiarity
const (
	// hook each executed instruction (fired by the engine before execution)
	HOOK_CODE = 4

	// hook control flow transfers (call, return, jump)
	HOOK_FLOW = 16

	// hook each resolved memory access
	HOOK_MEM_READ  = 1024
	HOOK_MEM_WRITE = 2048
	HOOK_MEM_FETCH = 4096

	HOOK_MEM_ALL = HOOK_MEM_READ | HOOK_MEM_WRITE | HOOK_MEM_FETCH
)

// these constants are used in a memory hook to specify the type of access
const (
	MEM_WRITE = 16
	MEM_READ  = 17
	MEM_FETCH = 18
)

// these constants are used in a flow hook to specify the kind of transfer
const (
	FLOW_CALL   = 1
	FLOW_RETURN = 2
	FLOW_JUMP   = 3
)

func AccessName(access int) string {
	switch access {
	case MEM_WRITE:
		return "write"
	case MEM_READ:
		return "read"
	case MEM_FETCH:
		return "fetch"
	}
	return "unknown"
}

func FlowName(kind int) string {
	switch kind {
	case FLOW_CALL:
		return "call"
	case FLOW_RETURN:
		return "return"
	case FLOW_JUMP:
		return "jump"
	}
	return "unknown"
}

// maps an access type to the hook type that observes it
func accessHook(access int) int {
	switch access {
	case MEM_WRITE:
		return HOOK_MEM_WRITE
	case MEM_READ:
		return HOOK_MEM_READ
	case MEM_FETCH:
		return HOOK_MEM_FETCH
	}
	return 0
}
