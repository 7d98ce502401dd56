package gameloop

import (
	"context"
	"log"
	"time"

	"github.com/annelo/go-planet-server/internal/chunkmanager"
	"github.com/annelo/go-planet-server/internal/viewer"
)

// Константы настройки системы стриминга
const (
	// Минимальный интервал между пересчётами видимости
	visibilityRecomputeInterval = 250 * time.Millisecond

	// Штраф приоритета за каждого лишнего наблюдателя: чанк, видимый
	// нескольким наблюдателям, важнее чанка на краю одного экрана
	sharedChunkBonus = 1
)

// StreamingSystem каждый тик прогоняет наблюдателей через цепочку
// высота -> видимый набор -> диф стримера. Видимые наборы всех
// наблюдателей объединяются, приоритет чанка — лучший из вкладов.
type StreamingSystem struct {
	deps Dependencies

	// Последний применённый видимый набор, для логирования изменений
	lastVisibleCount int
	sinceRecompute   time.Duration
}

// NewStreamingSystem создаёт систему стриминга чанков
func NewStreamingSystem() *StreamingSystem {
	return &StreamingSystem{}
}

func (ss *StreamingSystem) Name() string { return "streaming" }

func (ss *StreamingSystem) Init(deps Dependencies) error {
	ss.deps = deps
	return nil
}

func (ss *StreamingSystem) Tick(ctx context.Context, dt time.Duration) {
	// Пересчёт видимости дорогой, ограничиваем частоту
	ss.sinceRecompute += dt
	if ss.sinceRecompute < visibilityRecomputeInterval {
		return
	}
	ss.sinceRecompute = 0

	visible := ss.collectVisible()
	ss.deps.Streamer.UpdateVisible(visible)

	if len(visible) != ss.lastVisibleCount {
		log.Printf("[StreamingSystem] видимый набор: %d чанков, наблюдателей: %d",
			len(visible), ss.deps.Viewers.Count())
		ss.lastVisibleCount = len(visible)
	}
}

// collectVisible объединяет видимые наборы всех наблюдателей
func (ss *StreamingSystem) collectVisible() map[string]int {
	union := make(map[string]int)

	for _, snap := range ss.deps.Viewers.Snapshots() {
		for key, prio := range ss.visibleFor(snap) {
			if old, ok := union[key]; ok {
				// Чанк виден нескольким наблюдателям: берём лучший
				// приоритет и дополнительно поднимаем его
				if prio < old {
					old = prio
				}
				if old > 0 {
					old -= sharedChunkBonus
				}
				union[key] = old
			} else {
				union[key] = prio
			}
		}
	}
	return union
}

// visibleFor строит видимый набор одного наблюдателя с учётом его зоны
func (ss *StreamingSystem) visibleFor(snap viewer.Snapshot) map[string]int {
	// На орбите загрузка чанков не нужна вовсе
	if snap.LoadRadiusChunks <= 0 {
		return nil
	}

	if mapper := ss.deps.Streamer.Mapper(); mapper != nil {
		radius := float64(snap.LoadRadiusChunks) * ss.deps.ChunkSize
		return mapper.ChunkDistances(snap.Position, radius)
	}
	return chunkmanager.FlatChunkDistances(snap.Position, snap.MaxVisibleDistance, ss.deps.ChunkSize)
}
