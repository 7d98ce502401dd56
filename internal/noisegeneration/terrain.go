package noisegeneration

import (
	"math"
	"sync"
)

// TerrainCache — компактный кеш троек рельефа (высота, влажность,
// температура) по квантованной 3D точке.
type TerrainCache struct {
	cache     map[uint64][3]CompactNoise
	keys      []uint64
	capacity  int
	mu        sync.RWMutex
	hitCount  int
	missCount int
}

// NewTerrainCache создает новый кеш троек рельефа
func NewTerrainCache(capacity int) *TerrainCache {
	return &TerrainCache{
		cache:    make(map[uint64][3]CompactNoise),
		keys:     make([]uint64, 0, capacity),
		capacity: capacity,
	}
}

// Квант позиции для ключа кеша: тысячные доли координаты
const terrainKeyScale = 1000

// getTerrainCacheKey упаковывает квантованные координаты в один ключ
func getTerrainCacheKey(x, y, z float64) uint64 {
	ix := uint64(uint32(int32(math.Floor(x * terrainKeyScale))))
	iy := uint64(uint32(int32(math.Floor(y * terrainKeyScale))))
	iz := uint64(uint32(int32(math.Floor(z * terrainKeyScale))))
	// 21 бит на ось достаточно для квантованного единичного направления
	return (ix&0x1FFFFF)<<42 | (iy&0x1FFFFF)<<21 | (iz & 0x1FFFFF)
}

// Get получает тройку рельефа из кеша
func (tc *TerrainCache) Get(x, y, z float64) (height, moisture, temperature float64, exists bool) {
	key := getTerrainCacheKey(x, y, z)

	tc.mu.RLock()
	values, found := tc.cache[key]
	tc.mu.RUnlock()

	if found {
		tc.mu.Lock()
		tc.hitCount++
		tc.moveKeyToEnd(key)
		tc.mu.Unlock()
		return CompactToFloat(values[0]), CompactToFloat(values[1]), CompactToFloat(values[2]), true
	}

	tc.mu.Lock()
	tc.missCount++
	tc.mu.Unlock()
	return 0, 0, 0, false
}

// Put сохраняет тройку рельефа в кеш
func (tc *TerrainCache) Put(x, y, z float64, height, moisture, temperature float64) {
	key := getTerrainCacheKey(x, y, z)
	values := [3]CompactNoise{
		FloatToCompact(height),
		FloatToCompact(moisture),
		FloatToCompact(temperature),
	}

	tc.mu.Lock()
	defer tc.mu.Unlock()

	if _, exists := tc.cache[key]; exists {
		tc.cache[key] = values
		tc.moveKeyToEnd(key)
		return
	}

	if len(tc.cache) >= tc.capacity {
		delete(tc.cache, tc.keys[0])
		tc.keys = tc.keys[1:]
	}

	tc.cache[key] = values
	tc.keys = append(tc.keys, key)
}

func (tc *TerrainCache) moveKeyToEnd(key uint64) {
	index := -1
	for i, k := range tc.keys {
		if k == key {
			index = i
			break
		}
	}
	if index >= 0 {
		tc.keys = append(tc.keys[:index], tc.keys[index+1:]...)
		tc.keys = append(tc.keys, key)
	}
}

// GetStats возвращает статистику использования кеша
func (tc *TerrainCache) GetStats() (int, int, float64) {
	tc.mu.RLock()
	defer tc.mu.RUnlock()

	total := tc.hitCount + tc.missCount
	hitRate := 0.0
	if total > 0 {
		hitRate = float64(tc.hitCount) / float64(total)
	}
	return tc.hitCount, tc.missCount, hitRate
}

// ClearCache очищает кеш троек рельефа
func (tc *TerrainCache) ClearCache() {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	tc.cache = make(map[uint64][3]CompactNoise)
	tc.keys = make([]uint64, 0, tc.capacity)
}

// TerrainNoise объединяет карты высоты, влажности и температуры
type TerrainNoise struct {
	heightMap      *NoiseMap
	moistureMap    *NoiseMap
	temperatureMap *NoiseMap
	terrainCache   *TerrainCache
}

// NewTerrainNoise создает генератор рельефа. Масштабы карт подобраны так,
// чтобы влажность менялась плавнее высоты, а температура — между ними.
func NewTerrainNoise(seed int64) *TerrainNoise {
	return &TerrainNoise{
		heightMap:      NewNoiseMap(seed, 2.0),
		moistureMap:    NewNoiseMap(seed+1, 1.0),
		temperatureMap: NewNoiseMap(seed+2, 1.5),
		terrainCache:   NewTerrainCache(10000),
	}
}

// SampleSphere возвращает тройку рельефа для точки единичной сферы.
// Направление не зависит от разбиения на грани, поэтому рельеф непрерывен
// через швы куба.
func (tn *TerrainNoise) SampleSphere(dx, dy, dz float64) (height, moisture, temperature float64) {
	if h, m, temp, ok := tn.terrainCache.Get(dx, dy, dz); ok {
		return h, m, temp
	}

	height = tn.heightMap.GetOctaveNormalized3D(dx, dy, dz, 4)
	moisture = tn.moistureMap.GetOctaveNormalized3D(dx, dy, dz, 2)
	temperature = tn.temperatureMap.GetOctaveNormalized3D(dx, dy, dz, 3)

	tn.terrainCache.Put(dx, dy, dz, height, moisture, temperature)
	return height, moisture, temperature
}

// SampleFlat возвращает тройку рельефа для точки плоского мира
func (tn *TerrainNoise) SampleFlat(x, y float64) (height, moisture, temperature float64) {
	if h, m, temp, ok := tn.terrainCache.Get(x, y, 0); ok {
		return h, m, temp
	}

	height = tn.heightMap.GetOctaveNormalized2D(x, y, 4)
	moisture = tn.moistureMap.GetOctaveNormalized2D(x, y, 2)
	temperature = tn.temperatureMap.GetOctaveNormalized2D(x, y, 3)

	tn.terrainCache.Put(x, y, 0, height, moisture, temperature)
	return height, moisture, temperature
}

// GetCacheStats возвращает статистику всех кешей генератора
func (tn *TerrainNoise) GetCacheStats() map[string]interface{} {
	heightHits, heightMisses, heightRate := tn.heightMap.cache.GetStats()
	moistureHits, moistureMisses, moistureRate := tn.moistureMap.cache.GetStats()
	tempHits, tempMisses, tempRate := tn.temperatureMap.cache.GetStats()
	terrainHits, terrainMisses, terrainRate := tn.terrainCache.GetStats()

	return map[string]interface{}{
		"height": map[string]interface{}{
			"hits":     heightHits,
			"misses":   heightMisses,
			"hit_rate": heightRate,
		},
		"moisture": map[string]interface{}{
			"hits":     moistureHits,
			"misses":   moistureMisses,
			"hit_rate": moistureRate,
		},
		"temperature": map[string]interface{}{
			"hits":     tempHits,
			"misses":   tempMisses,
			"hit_rate": tempRate,
		},
		"terrain": map[string]interface{}{
			"hits":     terrainHits,
			"misses":   terrainMisses,
			"hit_rate": terrainRate,
			"size":     len(tn.terrainCache.cache),
		},
	}
}

// ClearAllCaches очищает все кеши генератора рельефа
func (tn *TerrainNoise) ClearAllCaches() {
	tn.heightMap.cache.ClearCache()
	tn.moistureMap.cache.ClearCache()
	tn.temperatureMap.cache.ClearCache()
	tn.terrainCache.ClearCache()
}

// TileType представляет тип тайла поверхности
type TileType int32

const (
	TileOcean TileType = iota
	TileBeach
	TileDesert
	TilePlains
	TileForest
	TileTaiga
	TileMountain
	TileSnow
)

// IsWater определяет, является ли точка водой на основе высоты
func IsWater(height float64) bool {
	return height < 0.4 // Порог для воды
}

// ClassifyTile определяет тип тайла по высоте, влажности и температуре
func ClassifyTile(height, moisture, temperature float64) TileType {
	if height < 0.3 {
		return TileOcean
	}
	if height < 0.4 {
		return TileBeach
	}
	if height > 0.75 {
		if temperature < 0.3 {
			return TileSnow
		}
		return TileMountain
	}
	if temperature < 0.3 {
		return TileTaiga
	}
	if temperature > 0.7 && moisture < 0.3 {
		return TileDesert
	}
	if moisture > 0.6 {
		return TileForest
	}
	return TilePlains
}
