package altitude

import (
	"math"

	"github.com/annelo/go-planet-server/internal/spheremath"
)

// Пороги зон по умолчанию (метры над поверхностью)
const (
	DefaultSurfaceMax = 500.0
	DefaultLowMax     = 2000.0
	DefaultMediumMax  = 5000.0
	DefaultHighMax    = 15000.0

	// Ширина переходной полосы вокруг границы high -> orbital
	DefaultTransitionBand = 3000.0

	// Множитель ограничения видимости горизонтом
	horizonCap = 1.2
)

// Дальность видимости по зонам (метры). Для орбитальной зоны ноль:
// поверхность рисуется сферой целиком и чанки не запрашиваются.
var defaultVisibleDistance = [5]float64{
	ZoneSurface: 4000,
	ZoneLow:     10000,
	ZoneMedium:  25000,
	ZoneHigh:    60000,
	ZoneOrbital: 0,
}

// Config задаёт геометрию планеты и пороги зон. Нулевые пороги заменяются
// значениями по умолчанию.
type Config struct {
	Origin     spheremath.Vec3
	Radius     float64
	ChunkSize  float64
	SurfaceMax float64
	LowMax     float64
	MediumMax  float64
	HighMax    float64
	// TransitionBand — ширина полосы смешивания вокруг границы HighMax
	TransitionBand float64
}

func (c *Config) applyDefaults() {
	if c.SurfaceMax == 0 {
		c.SurfaceMax = DefaultSurfaceMax
	}
	if c.LowMax == 0 {
		c.LowMax = DefaultLowMax
	}
	if c.MediumMax == 0 {
		c.MediumMax = DefaultMediumMax
	}
	if c.HighMax == 0 {
		c.HighMax = DefaultHighMax
	}
	if c.TransitionBand == 0 {
		c.TransitionBand = DefaultTransitionBand
	}
}

// Manager держит текущее высотное состояние одного наблюдателя.
// Не потокобезопасен: каждому наблюдателю свой экземпляр.
type Manager struct {
	cfg Config

	zone         Zone
	prevZone     Zone
	altitude     float64
	horizonDist  float64
	terrainBlend float64
	orbitalBlend float64
	detailLevel  int
}

// NewManager создаёт менеджер в начальном состоянии у поверхности
func NewManager(cfg Config) *Manager {
	cfg.applyDefaults()
	return &Manager{
		cfg:          cfg,
		zone:         ZoneSurface,
		prevZone:     ZoneSurface,
		terrainBlend: 1,
	}
}

// Update пересчитывает зону и производные величины по мировой позиции
// камеры. dt зарезервирован под сглаживание переходов.
func (m *Manager) Update(pos spheremath.Vec3, dt float64) {
	_ = dt

	var h float64
	if m.cfg.Radius > 0 {
		h = pos.Sub(m.cfg.Origin).Length() - m.cfg.Radius
	} else {
		// Плоский мир: высота отсчитывается от плоскости y = origin.Y
		h = pos.Y - m.cfg.Origin.Y
	}
	if h < 0 {
		h = 0
	}
	m.altitude = h
	if m.cfg.Radius > 0 {
		m.horizonDist = spheremath.HorizonDistance(h, m.cfg.Radius)
	} else {
		// Горизонта нет, дальность ограничивается только зоной
		m.horizonDist = 0
	}

	m.prevZone = m.zone
	switch {
	case h < m.cfg.SurfaceMax:
		m.zone = ZoneSurface
	case h < m.cfg.LowMax:
		m.zone = ZoneLow
	case h < m.cfg.MediumMax:
		m.zone = ZoneMedium
	case h < m.cfg.HighMax:
		m.zone = ZoneHigh
	default:
		m.zone = ZoneOrbital
	}

	// Смешивание поверхность/орбита вокруг границы high -> orbital
	lo := m.cfg.HighMax - m.cfg.TransitionBand/2
	hi := m.cfg.HighMax + m.cfg.TransitionBand/2
	m.terrainBlend = 1 - spheremath.Smoothstep(lo, hi, h)
	m.orbitalBlend = 1 - m.terrainBlend

	m.detailLevel = m.zone.DetailLevel()
}

// Zone возвращает текущую зону
func (m *Manager) Zone() Zone { return m.zone }

// PreviousZone возвращает зону предыдущего обновления
func (m *Manager) PreviousZone() Zone { return m.prevZone }

// ZoneChanged сообщает, сменилась ли зона на последнем обновлении
func (m *Manager) ZoneChanged() bool { return m.zone != m.prevZone }

// Altitude возвращает высоту над поверхностью (метры, не меньше нуля)
func (m *Manager) Altitude() float64 { return m.altitude }

// HorizonDistance возвращает дальность горизонта для текущей высоты
func (m *Manager) HorizonDistance() float64 { return m.horizonDist }

// TerrainBlend возвращает фактор видимости детальной поверхности [0,1]
func (m *Manager) TerrainBlend() float64 { return m.terrainBlend }

// OrbitalBlend возвращает фактор видимости орбитальной сферы [0,1]
func (m *Manager) OrbitalBlend() float64 { return m.orbitalBlend }

// DetailLevel возвращает уровень детализации текущей зоны (0..4)
func (m *Manager) DetailLevel() int { return m.detailLevel }

// ShouldRenderTerrain сообщает, видна ли детальная поверхность
func (m *Manager) ShouldRenderTerrain() bool { return m.terrainBlend > 0 }

// ShouldRenderOrbitalSphere сообщает, видна ли орбитальная сфера
func (m *Manager) ShouldRenderOrbitalSphere() bool { return m.orbitalBlend > 0 }

// ShouldRenderFeatures сообщает, рисуются ли объекты поверхности
func (m *Manager) ShouldRenderFeatures() bool { return m.zone <= ZoneLow }

// ShouldRenderSplats сообщает, рисуется ли ближний декоративный слой
func (m *Manager) ShouldRenderSplats() bool { return m.zone == ZoneSurface }

// ShouldUseShadows сообщает, включены ли тени
func (m *Manager) ShouldUseShadows() bool { return m.zone <= ZoneMedium }

// MaxVisibleDistance возвращает дальность видимости текущей зоны,
// ограниченную сверху горизонтом. Ноль в орбитальной зоне означает,
// что чанки запрашивать не нужно.
func (m *Manager) MaxVisibleDistance() float64 {
	d := defaultVisibleDistance[m.zone]
	if d == 0 {
		return 0
	}
	if lim := horizonCap * m.horizonDist; lim > 0 && lim < d {
		d = lim
	}
	return d
}

// RecommendedChunkLoadRadius возвращает радиус загрузки в чанках с запасом
// в один чанк. Ноль при нулевой дальности видимости.
func (m *Manager) RecommendedChunkLoadRadius() int {
	d := m.MaxVisibleDistance()
	if d == 0 {
		return 0
	}
	return int(math.Ceil(d/m.cfg.ChunkSize)) + 1
}
