package gameloop

import (
	"context"
	"time"

	"github.com/annelo/go-planet-server/internal/chunkmanager"
	"github.com/annelo/go-planet-server/internal/storage"
	"github.com/annelo/go-planet-server/internal/viewer"
)

// System описывает логику, выполняемую каждый тик цикла.
type System interface {
	// Init вызывается один раз перед запуском цикла.
	Init(deps Dependencies) error
	// Tick вызывается каждый игровой тик.
	Tick(ctx context.Context, dt time.Duration)
	// Name возвращает читаемое имя системы.
	Name() string
}

// Dependencies передаются системам при инициализации.
type Dependencies struct {
	Viewers  *viewer.ViewerManager
	Streamer *chunkmanager.ChunkStreamer
	// Storage может быть nil, если мир не персистентный
	Storage storage.WorldStorage
	// ChunkSize в метрах, общий для всех систем
	ChunkSize float64
	// Broadcast отправляет событие всем подключённым рендерерам.
	Broadcast func(msg interface{})
}
