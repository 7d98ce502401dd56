package gameloop

import (
	"context"
	"log"
	"time"

	"github.com/annelo/go-planet-server/internal/storage"
)

// AutosaveSystem периодически сбрасывает грязные чанки на диск и
// сохраняет состояния наблюдателей.
type AutosaveSystem struct {
	deps      Dependencies
	interval  time.Duration
	remaining time.Duration
}

// NewAutosaveSystem создаёт систему автосохранения с заданным интервалом
func NewAutosaveSystem(interval time.Duration) *AutosaveSystem {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &AutosaveSystem{interval: interval}
}

func (a *AutosaveSystem) Name() string { return "autosave" }

func (a *AutosaveSystem) Init(deps Dependencies) error {
	a.deps = deps
	a.remaining = a.interval
	return nil
}

func (a *AutosaveSystem) Tick(ctx context.Context, dt time.Duration) {
	a.remaining -= dt
	if a.remaining > 0 {
		return
	}
	a.remaining = a.interval

	if a.deps.Storage == nil {
		return
	}

	if err := a.deps.Storage.Flush(ctx); err != nil {
		log.Printf("[AutosaveSystem] ошибка сброса хранилища: %v", err)
	}

	now := time.Now().Unix()
	for _, snap := range a.deps.Viewers.Snapshots() {
		state := &storage.ViewerState{
			ID:       snap.ID,
			Name:     snap.Name,
			Position: snap.Position,
			Zone:     int(snap.Zone),
			LastSeen: now,
		}
		if err := a.deps.Storage.SaveViewerState(ctx, state); err != nil {
			log.Printf("[AutosaveSystem] ошибка сохранения наблюдателя %s: %v", snap.ID, err)
		}
	}
}
