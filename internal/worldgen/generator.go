package worldgen

import (
	"context"
	"log"
	"sync"

	"github.com/annelo/go-planet-server/internal/chunkaddress"
	"github.com/annelo/go-planet-server/internal/noisegeneration"
	"github.com/annelo/go-planet-server/internal/spheremath"
	"github.com/annelo/go-planet-server/internal/worldinterfaces"
)

// Значения конфигурации по умолчанию
const (
	DefaultTilesPerChunk = 16
	DefaultChunksPerFace = 16
	DefaultChunkSize     = 64.0
	// Амплитуда рельефа в метрах; уровень воды соответствует высоте 0.4
	DefaultHeightScale = 2000.0

	waterLevel = 0.4
)

// Config задаёт параметры генератора. Нулевые значения заменяются
// значениями по умолчанию.
type Config struct {
	Seed          int64
	TilesPerChunk int
	ChunksPerFace int
	ChunkSize     float64
	HeightScale   float64
	// Store, если задано, позволяет отдавать ранее сохранённые чанки и
	// асинхронно сохранять новые
	Store worldinterfaces.ChunkStore
}

func (c *Config) applyDefaults() {
	if c.TilesPerChunk <= 0 {
		c.TilesPerChunk = DefaultTilesPerChunk
	}
	if c.ChunksPerFace <= 0 {
		c.ChunksPerFace = DefaultChunksPerFace
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = DefaultChunkSize
	}
	if c.HeightScale <= 0 {
		c.HeightScale = DefaultHeightScale
	}
}

// Generator реализует worldinterfaces.ChunkProducer для обеих топологий.
// Потокобезопасен: вызывается из рабочих горутин планировщика.
type Generator struct {
	cfg   Config
	noise *noisegeneration.TerrainNoise

	mu            sync.RWMutex
	features      []worldinterfaces.FeatureGenerator
	beforeProduce []func(chunkaddress.Address)
	afterProduce  []func(worldinterfaces.ChunkData)

	saveWG sync.WaitGroup
}

// NewGenerator создает генератор мира с заданным зерном
func NewGenerator(cfg Config) *Generator {
	cfg.applyDefaults()
	return &Generator{
		cfg:   cfg,
		noise: noisegeneration.NewTerrainNoise(cfg.Seed),
	}
}

// AddFeatureGenerator регистрирует генератор объектов поверхности.
// Генераторы применяются в порядке регистрации; повторная регистрация
// под тем же именем заменяет прежний (перезагрузка плагинов).
func (g *Generator) AddFeatureGenerator(fg worldinterfaces.FeatureGenerator) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i, existing := range g.features {
		if existing.Name() == fg.Name() {
			g.features[i] = fg
			return
		}
	}
	g.features = append(g.features, fg)
}

// OnBeforeProduce регистрирует колбэк, вызываемый перед генерацией чанка.
// Чтение из хранилища колбэки не вызывает: чанк уже произведён ранее.
func (g *Generator) OnBeforeProduce(fn func(addr chunkaddress.Address)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.beforeProduce = append(g.beforeProduce, fn)
}

// OnAfterProduce регистрирует колбэк, вызываемый после генерации и
// декорирования чанка.
func (g *Generator) OnAfterProduce(fn func(chunk worldinterfaces.ChunkData)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.afterProduce = append(g.afterProduce, fn)
}

// Produce генерирует чанк по адресу. Сначала пробует хранилище; при
// промахе генерирует рельеф, декорирует и асинхронно сохраняет.
func (g *Generator) Produce(ctx context.Context, addr chunkaddress.Address) (worldinterfaces.ChunkData, error) {
	if g.cfg.Store != nil && g.cfg.Store.HasChunk(addr) {
		chunk, err := g.cfg.Store.LoadChunk(addr)
		if err == nil {
			return chunk, nil
		}
		log.Printf("worldgen: чанк %s не прочитан из хранилища, генерируем заново: %v", addr.Key(), err)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	g.mu.RLock()
	beforeFns := make([]func(chunkaddress.Address), len(g.beforeProduce))
	copy(beforeFns, g.beforeProduce)
	g.mu.RUnlock()
	for _, fn := range beforeFns {
		fn(addr)
	}

	chunk := NewTerrainChunk(addr, g.cfg.TilesPerChunk)
	if addr.Planetary {
		g.fillPlanetary(chunk)
	} else {
		g.fillFlat(chunk)
	}

	if err := g.ProduceFeatures(chunk); err != nil {
		// Отказ декорирования не делает чанк невалидным
		log.Printf("worldgen: декорирование чанка %s не удалось: %v", addr.Key(), err)
	}

	g.mu.RLock()
	afterFns := make([]func(worldinterfaces.ChunkData), len(g.afterProduce))
	copy(afterFns, g.afterProduce)
	g.mu.RUnlock()
	for _, fn := range afterFns {
		fn(chunk)
	}

	if g.cfg.Store != nil {
		g.saveWG.Add(1)
		go func() {
			defer g.saveWG.Done()
			if err := g.cfg.Store.SaveChunk(chunk); err != nil {
				log.Printf("worldgen: чанк %s не сохранён: %v", addr.Key(), err)
			}
		}()
	}
	return chunk, nil
}

// ProduceFeatures применяет зарегистрированные генераторы объектов.
// Возвращает первую ошибку, но не прерывает оставшиеся генераторы.
func (g *Generator) ProduceFeatures(chunk worldinterfaces.MutableChunkData) error {
	g.mu.RLock()
	features := append([]worldinterfaces.FeatureGenerator(nil), g.features...)
	g.mu.RUnlock()

	var firstErr error
	for _, fg := range features {
		if err := fg.Apply(chunk); err != nil {
			log.Printf("worldgen: генератор объектов %q: %v", fg.Name(), err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// fillPlanetary заполняет чанк рельефом куб-сферы. Шум сэмплируется по
// направлению на единичной сфере, поэтому рельеф непрерывен через швы.
func (g *Generator) fillPlanetary(chunk *TerrainChunk) {
	addr := chunk.Addr
	n := addr.GridSize(g.cfg.ChunksPerFace)
	side := float64(chunk.Side)

	for y := 0; y < chunk.Side; y++ {
		for x := 0; x < chunk.Side; x++ {
			// Центр тайла в параметрах грани [-1,1]
			u := -1 + 2*(float64(addr.CX)+(float64(x)+0.5)/side)/float64(n)
			v := -1 + 2*(float64(addr.CY)+(float64(y)+0.5)/side)/float64(n)
			dir := spheremath.FaceUVToWorld(addr.Face, u, v, 1, 0)

			h, m, temp := g.noise.SampleSphere(dir.X, dir.Y, dir.Z)
			chunk.SetTile(x, y, int32(noisegeneration.ClassifyTile(h, m, temp)))
			chunk.SetHeight(x, y, float32((h-waterLevel)*g.cfg.HeightScale))
		}
	}
}

// fillFlat заполняет чанк плоского мира; координаты сэмплирования в чанках
func (g *Generator) fillFlat(chunk *TerrainChunk) {
	addr := chunk.Addr
	side := float64(chunk.Side)

	for y := 0; y < chunk.Side; y++ {
		for x := 0; x < chunk.Side; x++ {
			wx := float64(addr.CX) + (float64(x)+0.5)/side
			wy := float64(addr.CY) + (float64(y)+0.5)/side

			h, m, temp := g.noise.SampleFlat(wx, wy)
			chunk.SetTile(x, y, int32(noisegeneration.ClassifyTile(h, m, temp)))
			chunk.SetHeight(x, y, float32((h-waterLevel)*g.cfg.HeightScale))
		}
	}
}

// CacheStats возвращает статистику кешей шума
func (g *Generator) CacheStats() map[string]interface{} {
	return g.noise.GetCacheStats()
}

// WaitSaves дожидается завершения асинхронных сохранений (останов сервера)
func (g *Generator) WaitSaves() {
	g.saveWG.Wait()
}
