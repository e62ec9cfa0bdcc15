package scheduler

// Snapshot returns a diagnostics view: configuration, task copies and the
// recent run history. Nothing in it aliases scheduler-owned state.
func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	running := s.running
	poll := s.cfg.PollInterval
	s.mu.Unlock()

	return Snapshot{
		Running:      running,
		Timezone:     s.clk.Timezone(),
		PollInterval: poll,
		Tasks:        s.Tasks(),
		History:      s.History(),
	}
}

// History returns a copy of the bounded run-history ring, oldest first.
func (s *Service) History() []HistoryItem {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	out := make([]HistoryItem, len(s.history))
	copy(out, s.history)
	return out
}

func (s *Service) appendHistory(item HistoryItem) {
	s.hmu.Lock()
	s.history = append(s.history, item)
	if n := s.cfg.HistorySize; len(s.history) > n {
		s.history = s.history[len(s.history)-n:]
	}
	s.hmu.Unlock()
}
