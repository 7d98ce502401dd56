package storage

import (
	"context"
	"fmt"

	"github.com/annelo/go-planet-server/internal/chunkaddress"
	"github.com/annelo/go-planet-server/internal/spheremath"
	"github.com/annelo/go-planet-server/internal/worldinterfaces"
)

// WorldStorage представляет интерфейс для хранения данных игрового мира
type WorldStorage interface {
	// SaveChunk сохраняет чанк в хранилище
	SaveChunk(ctx context.Context, chunk worldinterfaces.ChunkData) error

	// LoadChunk загружает чанк из хранилища
	// Возвращает ошибку типа ErrChunkNotFound, если чанк не найден
	LoadChunk(ctx context.Context, addr chunkaddress.Address) (worldinterfaces.ChunkData, error)

	// HasChunk сообщает, сохранялся ли чанк ранее
	HasChunk(ctx context.Context, addr chunkaddress.Address) bool

	// DeleteChunk удаляет чанк из хранилища
	DeleteChunk(ctx context.Context, addr chunkaddress.Address) error

	// ListChunks возвращает адреса всех сохранённых чанков
	ListChunks(ctx context.Context) ([]chunkaddress.Address, error)

	// SaveWorld сохраняет общую информацию о мире
	SaveWorld(ctx context.Context, info *WorldInfo) error

	// LoadWorld загружает общую информацию о мире
	LoadWorld(ctx context.Context) (*WorldInfo, error)

	// SaveViewerState сохраняет состояние наблюдателя
	SaveViewerState(ctx context.Context, state *ViewerState) error

	// LoadViewerState загружает состояние наблюдателя, если существует
	LoadViewerState(ctx context.Context, id string) (*ViewerState, error)

	// Flush сохраняет все несохранённые данные на диск
	Flush(ctx context.Context) error

	// Close закрывает хранилище и освобождает ресурсы
	Close() error
}

// WorldInfo содержит общую информацию о игровом мире
type WorldInfo struct {
	Name       string            // Название мира
	Seed       int64             // Сид для генерации
	Version    string            // Версия формата сохранения
	Topology   string            // flat или spherical
	Radius     float64           // Радиус планеты (для spherical)
	CreatedAt  int64             // Время создания (Unix timestamp)
	LastSaveAt int64             // Время последнего сохранения (Unix timestamp)
	Properties map[string]string // Дополнительные свойства
}

// ErrChunkNotFound возвращается, когда чанк не найден в хранилище
type ErrChunkNotFound struct {
	Key string
}

func (e ErrChunkNotFound) Error() string {
	return fmt.Sprintf("чанк %s не найден в хранилище", e.Key)
}

// ViewerState описывает сохраняемое состояние наблюдателя
type ViewerState struct {
	ID       string          // Уникальный идентификатор наблюдателя
	Name     string          // Имя наблюдателя
	Position spheremath.Vec3 // Позиция в мире
	Zone     int             // Последняя высотная зона
	LastSeen int64           // Последнее время выхода (Unix)
}
