package tracker

// sequencer orders lifecycle mutations by issue order. Every dispatched
// transition takes a number; a completion is applied only when its number is
// above the last one applied for the same machine.
type sequencer struct {
	last    uint64
	applied map[string]uint64
}

func newSequencer() *sequencer {
	return &sequencer{applied: make(map[string]uint64)}
}

func (s *sequencer) issue() uint64 {
	s.last++
	return s.last
}

func (s *sequencer) accept(machineID string, seq uint64) bool {
	if seq <= s.applied[machineID] {
		return false
	}
	s.applied[machineID] = seq
	return true
}

// mark is the highest number issued so far.
func (s *sequencer) mark() uint64 { return s.last }

// since reports whether a transition issued after mark has been applied to
// machineID.
func (s *sequencer) since(machineID string, mark uint64) bool {
	return s.applied[machineID] > mark
}
