package altitude_test

import (
	"testing"

	"github.com/annelo/go-planet-server/internal/altitude"
	"github.com/annelo/go-planet-server/internal/spheremath"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	planetRadius = 100000.0
	chunkSize    = 64.0
)

func newManager() *altitude.Manager {
	return altitude.NewManager(altitude.Config{
		Radius:    planetRadius,
		ChunkSize: chunkSize,
	})
}

func atAltitude(h float64) spheremath.Vec3 {
	return spheremath.Vec3{Y: planetRadius + h}
}

func TestZoneBoundaries(t *testing.T) {
	cases := []struct {
		alt  float64
		zone altitude.Zone
	}{
		{0, altitude.ZoneSurface},
		{499, altitude.ZoneSurface},
		{500, altitude.ZoneLow},
		{1999, altitude.ZoneLow},
		{2000, altitude.ZoneMedium},
		{4999, altitude.ZoneMedium},
		{5000, altitude.ZoneHigh},
		{14999, altitude.ZoneHigh},
		{15000, altitude.ZoneOrbital},
		{300000, altitude.ZoneOrbital},
	}
	m := newManager()
	for _, c := range cases {
		m.Update(atAltitude(c.alt), 0.016)
		assert.Equal(t, c.zone, m.Zone(), "высота %.0f", c.alt)
		assert.Equal(t, int(c.zone), m.DetailLevel())
	}
}

func TestAltitudeFlooredAtZero(t *testing.T) {
	m := newManager()
	m.Update(spheremath.Vec3{Y: planetRadius / 2}, 0.016)
	assert.Equal(t, 0.0, m.Altitude())
	assert.Equal(t, altitude.ZoneSurface, m.Zone())
	assert.Equal(t, 0.0, m.HorizonDistance())
}

// Подъём с поверхности на орбиту: зоны проходятся строго по порядку,
// terrainBlend монотонно не возрастает, orbitalBlend не убывает.
func TestClimbToOrbit(t *testing.T) {
	climb := []float64{100, 400, 900, 1800, 3000, 4500, 6000, 12000, 16000, 20000}
	m := newManager()

	var zones []altitude.Zone
	prevTerrain, prevOrbital := 1.0, 0.0
	for _, h := range climb {
		m.Update(atAltitude(h), 0.016)
		if len(zones) == 0 || zones[len(zones)-1] != m.Zone() {
			zones = append(zones, m.Zone())
		}
		assert.LessOrEqual(t, m.TerrainBlend(), prevTerrain, "высота %.0f", h)
		assert.GreaterOrEqual(t, m.OrbitalBlend(), prevOrbital, "высота %.0f", h)
		assert.InDelta(t, 1.0, m.TerrainBlend()+m.OrbitalBlend(), 1e-9)
		prevTerrain, prevOrbital = m.TerrainBlend(), m.OrbitalBlend()
	}

	require.Equal(t, []altitude.Zone{
		altitude.ZoneSurface,
		altitude.ZoneLow,
		altitude.ZoneMedium,
		altitude.ZoneHigh,
		altitude.ZoneOrbital,
	}, zones)
	assert.Equal(t, 0.0, m.TerrainBlend())
	assert.Equal(t, 1.0, m.OrbitalBlend())
}

func TestBlendInsideTransitionBand(t *testing.T) {
	m := newManager()

	// Ниже полосы 13500..16500 смешивание ещё не началось
	m.Update(atAltitude(13000), 0.016)
	assert.Equal(t, 1.0, m.TerrainBlend())

	// Середина полосы
	m.Update(atAltitude(15000), 0.016)
	assert.InDelta(t, 0.5, m.TerrainBlend(), 1e-9)
	assert.InDelta(t, 0.5, m.OrbitalBlend(), 1e-9)
	assert.True(t, m.ShouldRenderTerrain())
	assert.True(t, m.ShouldRenderOrbitalSphere())

	// Выше полосы поверхность полностью погашена
	m.Update(atAltitude(17000), 0.016)
	assert.Equal(t, 0.0, m.TerrainBlend())
	assert.False(t, m.ShouldRenderTerrain())
}

func TestZoneChanged(t *testing.T) {
	m := newManager()
	m.Update(atAltitude(100), 0.016)
	assert.False(t, m.ZoneChanged())

	m.Update(atAltitude(700), 0.016)
	assert.True(t, m.ZoneChanged())
	assert.Equal(t, altitude.ZoneSurface, m.PreviousZone())
	assert.Equal(t, altitude.ZoneLow, m.Zone())

	m.Update(atAltitude(800), 0.016)
	assert.False(t, m.ZoneChanged())
}

func TestOrbitalStopsChunkRequests(t *testing.T) {
	m := newManager()
	m.Update(atAltitude(50000), 0.016)
	assert.Equal(t, altitude.ZoneOrbital, m.Zone())
	assert.Equal(t, 0.0, m.MaxVisibleDistance())
	assert.Equal(t, 0, m.RecommendedChunkLoadRadius())

	// Возврат к поверхности не должен заклинить стриминг
	m.Update(atAltitude(100), 0.016)
	assert.Equal(t, altitude.ZoneSurface, m.Zone())
	assert.Greater(t, m.MaxVisibleDistance(), 0.0)
	assert.Greater(t, m.RecommendedChunkLoadRadius(), 0)
}

func TestVisibleDistanceCappedByHorizon(t *testing.T) {
	// На малой высоте горизонт близко и ограничивает табличную дальность
	m := newManager()
	m.Update(atAltitude(10), 0.016)
	horizon := spheremath.HorizonDistance(10, planetRadius)
	assert.InDelta(t, 1.2*horizon, m.MaxVisibleDistance(), 1e-6)
	assert.Less(t, m.MaxVisibleDistance(), 4000.0)
}

func TestRenderPredicatesByZone(t *testing.T) {
	m := newManager()

	m.Update(atAltitude(100), 0.016)
	assert.True(t, m.ShouldRenderFeatures())
	assert.True(t, m.ShouldRenderSplats())
	assert.True(t, m.ShouldUseShadows())

	m.Update(atAltitude(1000), 0.016)
	assert.True(t, m.ShouldRenderFeatures())
	assert.False(t, m.ShouldRenderSplats())

	m.Update(atAltitude(3000), 0.016)
	assert.False(t, m.ShouldRenderFeatures())
	assert.True(t, m.ShouldUseShadows())

	m.Update(atAltitude(10000), 0.016)
	assert.False(t, m.ShouldUseShadows())
}

func TestFlatWorldAltitude(t *testing.T) {
	// Плоский мир: высота отсчитывается от плоскости, горизонт не режет
	m := altitude.NewManager(altitude.Config{ChunkSize: 64})

	m.Update(spheremath.Vec3{X: 50000, Y: 100, Z: -20000}, 0.016)
	assert.Equal(t, altitude.ZoneSurface, m.Zone())
	assert.InDelta(t, 100.0, m.Altitude(), 1e-9)
	assert.InDelta(t, 4000.0, m.MaxVisibleDistance(), 1e-9)

	m.Update(spheremath.Vec3{Y: 20000}, 0.016)
	assert.Equal(t, altitude.ZoneOrbital, m.Zone())
	assert.Equal(t, 0, m.RecommendedChunkLoadRadius())
}
