// Package noisegeneration отвечает за шум Перлина с октавами и кеширование
// его значений. Для планетарной топологии шум сэмплируется в 3D по точке на
// единичной сфере, что исключает швы на границах граней куба.
package noisegeneration

import (
	"fmt"
	"math"
	"sync"

	"github.com/aquilax/go-perlin"
)

// CompactNoise представляет компактное целочисленное представление шума
type CompactNoise int8

// Константы для преобразования между float64 и CompactNoise
const (
	// Количество уровней шума для int8 (-128 до 127)
	NoiseResolution = 255
	// Минимальное значение шума
	MinNoiseValue = -1.0
	// Максимальное значение шума
	MaxNoiseValue = 1.0
)

// FloatToCompact преобразует float64 в CompactNoise
func FloatToCompact(value float64) CompactNoise {
	normalized := (value - MinNoiseValue) / (MaxNoiseValue - MinNoiseValue)
	scaled := normalized * NoiseResolution
	compact := int8(math.Min(127, math.Max(-127, math.Round(scaled)-128)))
	return CompactNoise(compact)
}

// CompactToFloat преобразует CompactNoise обратно в float64
func CompactToFloat(value CompactNoise) float64 {
	scaled := float64(int8(value)) + 127.0
	normalized := scaled / NoiseResolution
	return normalized*(MaxNoiseValue-MinNoiseValue) + MinNoiseValue
}

// NoiseCache представляет собой LRU-кеш для значений шума
type NoiseCache struct {
	cache     map[string]CompactNoise
	keys      []string // Ключи в порядке использования (для LRU)
	capacity  int
	mu        sync.RWMutex
	hitCount  int
	missCount int
}

// NewNoiseCache создает новый кеш значений шума
func NewNoiseCache(capacity int) *NoiseCache {
	return &NoiseCache{
		cache:    make(map[string]CompactNoise),
		keys:     make([]string, 0, capacity),
		capacity: capacity,
	}
}

// getCacheKey формирует ключ для кеша из координат и числа октав
func getCacheKey(x, y, z float64, octaves int) string {
	return fmt.Sprintf("%.4f:%.4f:%.4f:%d", x, y, z, octaves)
}

// Get получает значение из кеша, возвращает значение и флаг успеха
func (nc *NoiseCache) Get(x, y, z float64, octaves int) (float64, bool) {
	key := getCacheKey(x, y, z, octaves)

	nc.mu.RLock()
	compactValue, exists := nc.cache[key]
	nc.mu.RUnlock()

	if exists {
		nc.mu.Lock()
		nc.hitCount++
		nc.moveKeyToEnd(key)
		nc.mu.Unlock()
		return CompactToFloat(compactValue), true
	}

	nc.mu.Lock()
	nc.missCount++
	nc.mu.Unlock()
	return 0, false
}

// Put добавляет значение в кеш
func (nc *NoiseCache) Put(x, y, z float64, octaves int, value float64) {
	key := getCacheKey(x, y, z, octaves)
	compactValue := FloatToCompact(value)

	nc.mu.Lock()
	defer nc.mu.Unlock()

	if _, exists := nc.cache[key]; exists {
		nc.cache[key] = compactValue
		nc.moveKeyToEnd(key)
		return
	}

	// Вытесняем наименее используемый элемент
	if len(nc.cache) >= nc.capacity {
		delete(nc.cache, nc.keys[0])
		nc.keys = nc.keys[1:]
	}

	nc.cache[key] = compactValue
	nc.keys = append(nc.keys, key)
}

// moveKeyToEnd перемещает ключ в конец списка (самый недавно использованный)
func (nc *NoiseCache) moveKeyToEnd(key string) {
	index := -1
	for i, k := range nc.keys {
		if k == key {
			index = i
			break
		}
	}
	if index >= 0 {
		nc.keys = append(nc.keys[:index], nc.keys[index+1:]...)
		nc.keys = append(nc.keys, key)
	}
}

// GetStats возвращает статистику использования кеша
func (nc *NoiseCache) GetStats() (int, int, float64) {
	nc.mu.RLock()
	defer nc.mu.RUnlock()

	total := nc.hitCount + nc.missCount
	hitRate := 0.0
	if total > 0 {
		hitRate = float64(nc.hitCount) / float64(total)
	}
	return nc.hitCount, nc.missCount, hitRate
}

// ClearCache очищает кеш значений шума
func (nc *NoiseCache) ClearCache() {
	nc.mu.Lock()
	defer nc.mu.Unlock()

	nc.cache = make(map[string]CompactNoise)
	nc.keys = make([]string, 0, nc.capacity)
}

// NoiseMap представляет карту шума для генерации ландшафта
type NoiseMap struct {
	perlin      *perlin.Perlin
	scale       float64 // Масштаб (чем меньше, тем более плавный ландшафт)
	octaves     int
	persistence float64 // Множитель амплитуды между октавами (обычно < 1.0)
	lacunarity  float64 // Множитель частоты между октавами (обычно > 1.0)
	min         float64
	max         float64
	cache       *NoiseCache
}

// NewNoiseMap создает новую карту шума с заданными параметрами
func NewNoiseMap(seed int64, scale float64) *NoiseMap {
	// alpha - персистентность, beta - лакунарность, n - количество октав
	alpha := 2.0
	beta := 2.0
	n := int32(3)

	return &NoiseMap{
		perlin:      perlin.NewPerlin(alpha, beta, n, seed),
		scale:       scale,
		octaves:     int(n),
		persistence: 0.5,
		lacunarity:  2.0,
		min:         -1.0,
		max:         1.0,
		cache:       NewNoiseCache(10000),
	}
}

// Get2D возвращает значение шума в заданной 2D точке
func (nm *NoiseMap) Get2D(x, y float64) float64 {
	if value, exists := nm.cache.Get(x, y, 0, 1); exists {
		return value
	}

	value := nm.perlin.Noise2D(x*nm.scale, y*nm.scale)
	nm.cache.Put(x, y, 0, 1, value)
	return value
}

// Get3D возвращает значение шума в 3D точке. Используется для сэмплирования
// на сфере: точка единичного направления не зависит от грани куба.
func (nm *NoiseMap) Get3D(x, y, z float64) float64 {
	if value, exists := nm.cache.Get(x, y, z, 1); exists {
		return value
	}

	value := nm.perlin.Noise3D(x*nm.scale, y*nm.scale, z*nm.scale)
	nm.cache.Put(x, y, z, 1, value)
	return value
}

// GetOctave2D возвращает значение шума с заданным количеством октав
func (nm *NoiseMap) GetOctave2D(x, y float64, octaves int) float64 {
	if value, exists := nm.cache.Get(x, y, 0, octaves); exists {
		return value
	}

	scaledX := x * nm.scale
	scaledY := y * nm.scale

	amplitude := 1.0
	frequency := 1.0
	total := 0.0
	maxValue := 0.0

	for i := 0; i < octaves; i++ {
		total += nm.perlin.Noise2D(scaledX*frequency, scaledY*frequency) * amplitude
		maxValue += amplitude

		amplitude *= nm.persistence
		frequency *= nm.lacunarity
	}

	value := total / maxValue
	nm.cache.Put(x, y, 0, octaves, value)
	return value
}

// GetOctave3D возвращает 3D значение шума с октавами
func (nm *NoiseMap) GetOctave3D(x, y, z float64, octaves int) float64 {
	if value, exists := nm.cache.Get(x, y, z, octaves); exists {
		return value
	}

	scaledX := x * nm.scale
	scaledY := y * nm.scale
	scaledZ := z * nm.scale

	amplitude := 1.0
	frequency := 1.0
	total := 0.0
	maxValue := 0.0

	for i := 0; i < octaves; i++ {
		total += nm.perlin.Noise3D(scaledX*frequency, scaledY*frequency, scaledZ*frequency) * amplitude
		maxValue += amplitude

		amplitude *= nm.persistence
		frequency *= nm.lacunarity
	}

	value := total / maxValue
	nm.cache.Put(x, y, z, octaves, value)
	return value
}

// GetNormalized2D возвращает нормализованное значение шума от 0 до 1
func (nm *NoiseMap) GetNormalized2D(x, y float64) float64 {
	return (nm.Get2D(x, y) - nm.min) / (nm.max - nm.min)
}

// GetOctaveNormalized2D возвращает нормализованное значение шума для заданного числа октав
func (nm *NoiseMap) GetOctaveNormalized2D(x, y float64, octaves int) float64 {
	return (nm.GetOctave2D(x, y, octaves) - nm.min) / (nm.max - nm.min)
}

// GetOctaveNormalized3D возвращает нормализованное 3D значение шума
func (nm *NoiseMap) GetOctaveNormalized3D(x, y, z float64, octaves int) float64 {
	return (nm.GetOctave3D(x, y, z, octaves) - nm.min) / (nm.max - nm.min)
}

// SetScale устанавливает новый масштаб для карты шума
func (nm *NoiseMap) SetScale(scale float64) {
	nm.scale = scale
}

// SetOctaves устанавливает количество октав
func (nm *NoiseMap) SetOctaves(octaves int) {
	nm.octaves = octaves
}
