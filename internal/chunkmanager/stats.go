package chunkmanager

// Progress — снимок счётчиков стримера после очередного завершения
type Progress struct {
	Loaded  int `json:"loaded"`
	Pending int `json:"pending"`
	Queued  int `json:"queued"`
}

// Stats — расширенный снимок для внешних потребителей
type Stats struct {
	Progress
	MaxConcurrent int    `json:"maxConcurrent"`
	Mode          string `json:"mode"`
}

// progressLocked собирает снимок под мьютексом
func (s *ChunkStreamer) progressLocked() Progress {
	return Progress{
		Loaded:  len(s.loaded),
		Pending: len(s.pending),
		Queued:  len(s.queue),
	}
}

// Progress возвращает текущий снимок счётчиков
func (s *ChunkStreamer) Progress() Progress {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.progressLocked()
}

// Stats возвращает снимок счётчиков с конфигурацией стримера
func (s *ChunkStreamer) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Progress:      s.progressLocked(),
		MaxConcurrent: s.cfg.MaxConcurrent,
		Mode:          s.Mode(),
	}
}
