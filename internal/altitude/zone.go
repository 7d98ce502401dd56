// Package altitude классифицирует высоту наблюдателя над поверхностью
// планеты в одну из пяти зон и выдаёт производные величины: факторы
// смешивания, уровень детализации, дальность горизонта и рекомендуемый
// радиус загрузки чанков.
package altitude

// Zone — высотная зона наблюдателя
type Zone int

const (
	ZoneSurface Zone = iota
	ZoneLow
	ZoneMedium
	ZoneHigh
	ZoneOrbital
)

func (z Zone) String() string {
	switch z {
	case ZoneSurface:
		return "surface"
	case ZoneLow:
		return "low"
	case ZoneMedium:
		return "medium"
	case ZoneHigh:
		return "high"
	case ZoneOrbital:
		return "orbital"
	default:
		return "unknown"
	}
}

// DetailLevel возвращает уровень детализации зоны: 0 — полная детализация
// у поверхности, 4 — минимальная на орбите.
func (z Zone) DetailLevel() int {
	return int(z)
}
