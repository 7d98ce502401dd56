package gameloop

import (
	"context"
	"time"

	"github.com/annelo/go-planet-server/internal/chunkmanager"
	"github.com/annelo/go-planet-server/internal/protocol"
)

// ProgressSystem периодически рассылает рендерерам снимок состояния
// стриминга. Между рассылками снимок сравнивается с предыдущим,
// неизменившийся прогресс не шлётся.
type ProgressSystem struct {
	deps  Dependencies
	ticks int64
	last  chunkmanager.Progress
	sent  bool
}

const progressBroadcastEvery = 10 // тиков между рассылками

func NewProgressSystem() *ProgressSystem { return &ProgressSystem{} }

func (p *ProgressSystem) Name() string { return "progress" }

func (p *ProgressSystem) Init(deps Dependencies) error {
	p.deps = deps
	return nil
}

func (p *ProgressSystem) Tick(ctx context.Context, dt time.Duration) {
	p.ticks++
	if p.ticks%progressBroadcastEvery != 0 {
		return
	}

	snapshot := p.deps.Streamer.Progress()
	if p.sent && snapshot == p.last {
		return
	}
	p.last = snapshot
	p.sent = true

	if p.deps.Broadcast != nil {
		p.deps.Broadcast(&protocol.ProgressMsg{
			Type:    protocol.TypeProgress,
			Loaded:  snapshot.Loaded,
			Pending: snapshot.Pending,
			Queued:  snapshot.Queued,
		})
	}
}
