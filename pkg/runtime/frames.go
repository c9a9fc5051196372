package runtime

import "fmt"

// CallFrame records one active invocation. Its Scope is created on push and
// dropped on pop; nothing retains it afterwards.
type CallFrame struct {
	Function   string
	InstanceID string
	Scope      *Environment
}

// CallStack is owned by a single call chain and is not safe for concurrent use.
type CallStack struct {
	frames   []*CallFrame
	maxDepth int
}

func NewCallStack(maxDepth int) *CallStack {
	return &CallStack{maxDepth: maxDepth}
}

// Push opens a frame whose scope is a child of parent.
func (s *CallStack) Push(function, instanceID string, parent *Environment) (*CallFrame, error) {
	if s.maxDepth > 0 && len(s.frames) >= s.maxDepth {
		return nil, NewError(ResourceLimitExceeded, "maximum call depth %d exceeded calling %s", s.maxDepth, function)
	}
	frame := &CallFrame{Function: function, InstanceID: instanceID, Scope: NewEnvironment(parent)}
	s.frames = append(s.frames, frame)
	return frame, nil
}

// Pop removes the top frame. Callers pair it with Push via defer.
func (s *CallStack) Pop() *CallFrame {
	if len(s.frames) == 0 {
		return nil
	}
	top := s.frames[len(s.frames)-1]
	s.frames[len(s.frames)-1] = nil
	s.frames = s.frames[:len(s.frames)-1]
	top.Scope = nil
	return top
}

func (s *CallStack) Depth() int { return len(s.frames) }

func (s *CallStack) Top() *CallFrame {
	if len(s.frames) == 0 {
		return nil
	}
	return s.frames[len(s.frames)-1]
}

// Trace lists frames innermost first.
func (s *CallStack) Trace() []string {
	out := make([]string, 0, len(s.frames))
	for i := len(s.frames) - 1; i >= 0; i-- {
		f := s.frames[i]
		if f.InstanceID != "" {
			out = append(out, fmt.Sprintf("%s@%s", f.Function, f.InstanceID))
			continue
		}
		out = append(out, f.Function)
	}
	return out
}
