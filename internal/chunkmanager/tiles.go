package chunkmanager

import (
	"math"

	"github.com/annelo/go-planet-server/internal/chunkaddress"
	"github.com/annelo/go-planet-server/internal/spheremath"
)

// TileUnknown возвращается, когда чанк под позицией ещё не резидентен
const TileUnknown int32 = -1

// TileAt возвращает тип тайла под мировой позицией. Чтение в два шага:
// адрес чанка по позиции, затем локальный тайл внутри чанка. Для ещё не
// загруженного чанка возвращается TileUnknown; вызывающий вправе
// повторить запрос позже.
func (s *ChunkStreamer) TileAt(pos spheremath.Vec3) int32 {
	var (
		addr   chunkaddress.Address
		tx, ty int
	)
	if s.cfg.UseSphericalProjection {
		addr, _ = s.cfg.Mapper.WorldPositionToChunkAddress(pos)
	} else {
		addr = chunkaddress.Flat(
			int(math.Floor(pos.X/s.cfg.ChunkSize)),
			int(math.Floor(pos.Z/s.cfg.ChunkSize)),
		)
	}

	s.mu.Lock()
	chunk, ok := s.loaded[addr.Key()]
	s.mu.Unlock()
	if !ok {
		return TileUnknown
	}

	tpc := chunk.TilesPerChunk()
	if s.cfg.UseSphericalProjection {
		tx, ty = s.cfg.Mapper.TileIndexAt(pos, addr, tpc)
	} else {
		tx = localTile(pos.X, addr.CX, s.cfg.ChunkSize, tpc)
		ty = localTile(pos.Z, addr.CY, s.cfg.ChunkSize, tpc)
	}
	return chunk.Tile(tx, ty)
}

// localTile переводит мировую координату в индекс тайла внутри чанка,
// зажатый в [0, tilesPerChunk-1].
func localTile(world float64, chunkIdx int, chunkSize float64, tilesPerChunk int) int {
	local := world - float64(chunkIdx)*chunkSize
	idx := int(math.Floor(local / chunkSize * float64(tilesPerChunk)))
	if idx < 0 {
		return 0
	}
	if idx >= tilesPerChunk {
		return tilesPerChunk - 1
	}
	return idx
}
