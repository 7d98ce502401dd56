// Package worldinterfaces содержит общие интерфейсы для избегания циклических зависимостей
package worldinterfaces

import (
	"context"

	"github.com/annelo/go-planet-server/internal/chunkaddress"
)

// ChunkData — минимальный интерфейс готового чанка, которым оперируют
// стример, хранилище и транспорт. Конкретный тип живёт в worldgen.
type ChunkData interface {
	// Address возвращает адрес чанка
	Address() chunkaddress.Address
	// Tile возвращает тип тайла по локальным координатам внутри чанка
	Tile(x, y int) int32
	// Height возвращает высоту поверхности тайла в метрах
	Height(x, y int) float32
	// TilesPerChunk возвращает число тайлов вдоль стороны чанка
	TilesPerChunk() int
}

// MutableChunkData расширяет ChunkData записью тайлов. Используется
// генераторами объектов поверхности до того, как чанк опубликован.
type MutableChunkData interface {
	ChunkData
	SetTile(x, y int, tile int32)
	SetHeight(x, y int, h float32)
}

// ChunkProducer производит чанк по адресу. Вызывается планировщиком
// стримера из рабочих горутин, поэтому реализация обязана быть
// потокобезопасной и уважать отмену контекста.
type ChunkProducer interface {
	Produce(ctx context.Context, addr chunkaddress.Address) (ChunkData, error)
}

// FeatureGenerator добавляет в чанк объекты поверхности (деревья, камни,
// кратеры). Регистрируется плагинами и вызывается генератором мира после
// базового рельефа.
type FeatureGenerator interface {
	// Name возвращает уникальное имя генератора
	Name() string
	// Apply модифицирует чанк на месте
	Apply(chunk MutableChunkData) error
}

// ChunkStore — интерфейс хранилища чанков, позволяющий генератору мира
// отдавать ранее сохранённые чанки без повторной генерации.
type ChunkStore interface {
	LoadChunk(addr chunkaddress.Address) (ChunkData, error)
	SaveChunk(chunk ChunkData) error
	HasChunk(addr chunkaddress.Address) bool
}
