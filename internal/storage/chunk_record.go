package storage

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"time"

	"github.com/annelo/go-planet-server/internal/chunkaddress"
	"github.com/annelo/go-planet-server/internal/worldgen"
	"github.com/annelo/go-planet-server/internal/worldinterfaces"
	"github.com/klauspost/compress/zstd"
)

// ChunkRecord — сохраняемое представление чанка: канонический ключ адреса,
// тайлы и карта высот. Сериализуется gob-ом и сжимается zstd.
type ChunkRecord struct {
	Key     string
	Side    int
	Tiles   []int32
	Heights []float32
	SavedAt int64

	// Время последнего доступа для вытеснения из кеша; не сериализуется
	accessTime time.Time
}

// NewChunkRecord строит запись из чанка
func NewChunkRecord(chunk worldinterfaces.ChunkData) *ChunkRecord {
	side := chunk.TilesPerChunk()
	rec := &ChunkRecord{
		Key:        chunk.Address().Key(),
		Side:       side,
		Tiles:      make([]int32, side*side),
		Heights:    make([]float32, side*side),
		SavedAt:    time.Now().Unix(),
		accessTime: time.Now(),
	}
	for y := 0; y < side; y++ {
		for x := 0; x < side; x++ {
			rec.Tiles[y*side+x] = chunk.Tile(x, y)
			rec.Heights[y*side+x] = chunk.Height(x, y)
		}
	}
	return rec
}

// ToChunk восстанавливает чанк из записи
func (r *ChunkRecord) ToChunk() (*worldgen.TerrainChunk, error) {
	addr, err := chunkaddress.ParseKey(r.Key)
	if err != nil {
		return nil, fmt.Errorf("запись чанка с неразборным ключом: %w", err)
	}
	if len(r.Tiles) != r.Side*r.Side || len(r.Heights) != r.Side*r.Side {
		return nil, fmt.Errorf("запись чанка %s повреждена: размеры не сходятся", r.Key)
	}
	chunk := worldgen.NewTerrainChunk(addr, r.Side)
	copy(chunk.Tiles, r.Tiles)
	copy(chunk.Heights, r.Heights)
	return chunk, nil
}

// Touch обновляет время последнего доступа
func (r *ChunkRecord) Touch() {
	r.accessTime = time.Now()
}

// Кодек записей: один энкодер и декодер zstd на процесс, оба потокобезопасны
// в режимах EncodeAll/DecodeAll.
var (
	recordEncoder, _ = zstd.NewWriter(nil)
	recordDecoder, _ = zstd.NewReader(nil)
)

// EncodeRecord сериализует запись в сжатый бинарный вид
func EncodeRecord(rec *ChunkRecord) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(rec); err != nil {
		return nil, fmt.Errorf("сериализация записи %s: %w", rec.Key, err)
	}
	return recordEncoder.EncodeAll(buf.Bytes(), nil), nil
}

// DecodeRecord восстанавливает запись из сжатого бинарного вида
func DecodeRecord(data []byte) (*ChunkRecord, error) {
	raw, err := recordDecoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("распаковка записи: %w", err)
	}
	var rec ChunkRecord
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&rec); err != nil {
		return nil, fmt.Errorf("десериализация записи: %w", err)
	}
	rec.accessTime = time.Now()
	return &rec, nil
}
