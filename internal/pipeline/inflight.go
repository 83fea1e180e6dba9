package pipeline

import "sync"

// inflightSet tracks content UIDs with an active run.
type inflightSet struct {
	mu   sync.Mutex
	uids map[string]struct{}
}

func newInflightSet() *inflightSet {
	return &inflightSet{uids: make(map[string]struct{})}
}

// acquire marks uid as running. It returns false when a run is already active.
func (s *inflightSet) acquire(uid string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.uids[uid]; busy {
		return false
	}
	s.uids[uid] = struct{}{}
	return true
}

func (s *inflightSet) release(uid string) {
	s.mu.Lock()
	delete(s.uids, uid)
	s.mu.Unlock()
}
