package trace

type sliceKind int

const (
	sliceCall sliceKind = iota
	sliceSummary
)

type slice struct {
	kind  sliceKind
	name  string
	begin uint64
}

func (s slice) Summary() bool {
	return s.kind == sliceSummary
}

// sliceStack holds the open slices of one track, innermost last.
type sliceStack struct {
	Stack []slice
}

func (s *sliceStack) Len() int {
	return len(s.Stack)
}

func (s *sliceStack) Empty() bool {
	return s.Len() == 0
}

func (s *sliceStack) Push(sl slice) {
	s.Stack = append(s.Stack, sl)
}

func (s *sliceStack) Peek() slice {
	if s.Empty() {
		return slice{}
	}
	return s.Stack[s.Len()-1]
}

func (s *sliceStack) Pop() slice {
	if s.Empty() {
		return slice{}
	}
	ret := s.Peek()
	s.Stack = s.Stack[:s.Len()-1]
	return ret
}

// PopCall removes the most recent call slice. ok is false if there is none.
func (s *sliceStack) PopCall() (ret slice, ok bool) {
	for i := s.Len() - 1; i >= 0; i-- {
		if s.Stack[i].kind == sliceCall {
			ret = s.Stack[i]
			s.Stack = append(s.Stack[:i], s.Stack[i+1:]...)
			return ret, true
		}
	}
	return slice{}, false
}

// OnlySummary reports whether the summary slice is all that is left open.
func (s *sliceStack) OnlySummary() bool {
	return s.Len() == 1 && s.Stack[0].Summary()
}

func (s *sliceStack) Reset() {
	s.Stack = nil
}
