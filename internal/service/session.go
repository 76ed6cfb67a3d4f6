package service

import "sync"

// SessionLog keeps per-upload progress lines in memory so the client can
// poll them while an ingestion runs. Unlike a bare global map it is bounded:
// once maxSessions uploads are tracked, the oldest session is evicted.
type SessionLog struct {
	mu          sync.Mutex
	maxSessions int
	order       []string
	lines       map[string][]string
}

func NewSessionLog(maxSessions int) *SessionLog {
	if maxSessions <= 0 {
		maxSessions = 32
	}
	return &SessionLog{
		maxSessions: maxSessions,
		lines:       make(map[string][]string),
	}
}

func (s *SessionLog) Append(uploadID, line string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.lines[uploadID]; !ok {
		s.order = append(s.order, uploadID)
		if len(s.order) > s.maxSessions {
			oldest := s.order[0]
			s.order = s.order[1:]
			delete(s.lines, oldest)
		}
	}
	s.lines[uploadID] = append(s.lines[uploadID], line)
}

func (s *SessionLog) Lines(uploadID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	src := s.lines[uploadID]
	out := make([]string, len(src))
	copy(out, src)
	return out
}

// Remove drops a finished session's lines.
func (s *SessionLog) Remove(uploadID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.lines, uploadID)
	for i, id := range s.order {
		if id == uploadID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}
