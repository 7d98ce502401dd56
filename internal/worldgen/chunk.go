// Package worldgen генерирует чанки поверхности по шуму: базовый рельеф,
// классификация тайлов, декорирование объектами и прозрачное чтение из
// хранилища, если чанк сохранялся ранее.
package worldgen

import (
	"github.com/annelo/go-planet-server/internal/chunkaddress"
)

// TerrainChunk — прямоугольник тайлов поверхности с картой высот.
// Тайлы хранятся построчно: индекс y*Side + x.
type TerrainChunk struct {
	Addr    chunkaddress.Address
	Side    int
	Tiles   []int32
	Heights []float32
}

// NewTerrainChunk создает пустой чанк с заданной стороной в тайлах
func NewTerrainChunk(addr chunkaddress.Address, side int) *TerrainChunk {
	return &TerrainChunk{
		Addr:    addr,
		Side:    side,
		Tiles:   make([]int32, side*side),
		Heights: make([]float32, side*side),
	}
}

// Address возвращает адрес чанка
func (c *TerrainChunk) Address() chunkaddress.Address { return c.Addr }

// TilesPerChunk возвращает число тайлов вдоль стороны
func (c *TerrainChunk) TilesPerChunk() int { return c.Side }

// Tile возвращает тип тайла; индексы вне чанка зажимаются в его границы
func (c *TerrainChunk) Tile(x, y int) int32 {
	return c.Tiles[c.index(x, y)]
}

// Height возвращает высоту поверхности тайла в метрах
func (c *TerrainChunk) Height(x, y int) float32 {
	return c.Heights[c.index(x, y)]
}

// SetTile записывает тип тайла
func (c *TerrainChunk) SetTile(x, y int, tile int32) {
	c.Tiles[c.index(x, y)] = tile
}

// SetHeight записывает высоту тайла
func (c *TerrainChunk) SetHeight(x, y int, h float32) {
	c.Heights[c.index(x, y)] = h
}

func (c *TerrainChunk) index(x, y int) int {
	x = clampIdx(x, c.Side)
	y = clampIdx(y, c.Side)
	return y*c.Side + x
}

func clampIdx(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}
