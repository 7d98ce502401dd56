// Package spheremap отображает мировые позиции на адреса чанков куб-сферы
// и вычисляет множество чанков в радиусе от камеры. Обход в ширину через
// соседей естественно переходит швы между гранями куба.
package spheremap

import (
	"log"
	"math"

	"github.com/annelo/go-planet-server/internal/chunkaddress"
	"github.com/annelo/go-planet-server/internal/spheremath"
)

// Mapper знает геометрию планеты и сетку чанков на гранях
type Mapper struct {
	origin        spheremath.Vec3
	radius        float64
	chunkSize     float64
	chunksPerFace int
}

// NewMapper создаёт отображатель для планеты с центром origin и радиусом
// radius. chunkSize — длина ребра чанка в метрах на экваторе грани.
func NewMapper(origin spheremath.Vec3, radius, chunkSize float64, chunksPerFace int) *Mapper {
	return &Mapper{
		origin:        origin,
		radius:        radius,
		chunkSize:     chunkSize,
		chunksPerFace: chunksPerFace,
	}
}

// ChunksPerFace возвращает число чанков вдоль стороны грани
func (m *Mapper) ChunksPerFace() int { return m.chunksPerFace }

// ChunkSize возвращает длину ребра чанка в метрах
func (m *Mapper) ChunkSize() float64 { return m.chunkSize }

// Radius возвращает радиус планеты
func (m *Mapper) Radius() float64 { return m.radius }

// Origin возвращает центр планеты
func (m *Mapper) Origin() spheremath.Vec3 { return m.origin }

// WorldPositionToChunkAddress возвращает адрес чанка под мировой позицией
// и высоту позиции над поверхностью.
func (m *Mapper) WorldPositionToChunkAddress(pos spheremath.Vec3) (chunkaddress.Address, float64) {
	face, u, v, h := spheremath.WorldToFaceUV(pos.Sub(m.origin), m.radius)
	cx := spheremath.UVToChunk(u, m.chunksPerFace)
	cy := spheremath.UVToChunk(v, m.chunksPerFace)
	return chunkaddress.Planetary(face, cx, cy, 0), h
}

// ChunksInRadius возвращает чанки в радиусе radiusMeters от камеры: обход в
// ширину от чанка под камерой до манхэттенской глубины ceil(r / chunkSize).
// Камера внутри планеты (ближе половины радиуса к центру) — некорректное
// состояние: пишем предупреждение и возвращаем пустое множество.
func (m *Mapper) ChunksInRadius(cameraPos spheremath.Vec3, radiusMeters float64) []chunkaddress.Address {
	nodes := m.bfs(cameraPos, radiusMeters)
	if nodes == nil {
		return nil
	}
	out := make([]chunkaddress.Address, len(nodes))
	for i, n := range nodes {
		out[i] = n.addr
	}
	return out
}

// ChunkDistances возвращает чанки в радиусе вместе с их манхэттенской
// глубиной от чанка под камерой. Глубина служит приоритетом загрузки:
// ноль под наблюдателем, больше — дальше.
func (m *Mapper) ChunkDistances(cameraPos spheremath.Vec3, radiusMeters float64) map[string]int {
	nodes := m.bfs(cameraPos, radiusMeters)
	if nodes == nil {
		return nil
	}
	out := make(map[string]int, len(nodes))
	for _, n := range nodes {
		out[n.addr.Key()] = n.dist
	}
	return out
}

type bfsNode struct {
	addr chunkaddress.Address
	dist int
}

func (m *Mapper) bfs(cameraPos spheremath.Vec3, radiusMeters float64) []bfsNode {
	if cameraPos.Sub(m.origin).Length() < m.radius*0.5 {
		log.Printf("spheremap: камера внутри планеты, видимое множество пусто")
		return nil
	}
	if radiusMeters <= 0 {
		return nil
	}

	start, _ := m.WorldPositionToChunkAddress(cameraPos)
	depth := int(math.Ceil(radiusMeters / m.chunkSize))

	visited := map[string]struct{}{start.Key(): {}}
	out := []bfsNode{{start, 0}}
	for head := 0; head < len(out); head++ {
		cur := out[head]
		if cur.dist == depth {
			continue
		}
		for _, nb := range cur.addr.Neighbors(m.chunksPerFace) {
			key := nb.Key()
			if _, ok := visited[key]; ok {
				continue
			}
			visited[key] = struct{}{}
			out = append(out, bfsNode{nb, cur.dist + 1})
		}
	}
	return out
}

// FaceAndLocalCoords возвращает грань и параметры (u, v) в [0,1) для мировой
// позиции.
func (m *Mapper) FaceAndLocalCoords(pos spheremath.Vec3) (face int, u, v float64) {
	face, fu, fv, _ := spheremath.WorldToFaceUV(pos.Sub(m.origin), m.radius)
	return face, toUnit(fu), toUnit(fv)
}

// ChunkSpan описывает параметрический прямоугольник чанка на грани,
// координаты в [0,1].
type ChunkSpan struct {
	Face                   int
	CenterU, CenterV       float64
	UMin, UMax, VMin, VMax float64
}

// SpanOf возвращает центр и границы чанка в параметрах его грани
func (m *Mapper) SpanOf(addr chunkaddress.Address) ChunkSpan {
	n := addr.GridSize(m.chunksPerFace)
	step := 1.0 / float64(n)
	uMin := float64(addr.CX) * step
	vMin := float64(addr.CY) * step
	return ChunkSpan{
		Face:    addr.Face,
		CenterU: uMin + step/2,
		CenterV: vMin + step/2,
		UMin:    uMin,
		UMax:    uMin + step,
		VMin:    vMin,
		VMax:    vMin + step,
	}
}

// ChunkCenterWorld возвращает мировую позицию центра чанка на поверхности
func (m *Mapper) ChunkCenterWorld(addr chunkaddress.Address) spheremath.Vec3 {
	n := addr.GridSize(m.chunksPerFace)
	u := spheremath.ChunkToUV(addr.CX, n)
	v := spheremath.ChunkToUV(addr.CY, n)
	return spheremath.FaceUVToWorld(addr.Face, u, v, m.radius, 0).Add(m.origin)
}

// TileIndexAt возвращает локальные индексы тайла внутри чанка для мировой
// позиции. Индексы зажимаются в [0, tilesPerChunk-1].
func (m *Mapper) TileIndexAt(pos spheremath.Vec3, addr chunkaddress.Address, tilesPerChunk int) (int, int) {
	span := m.SpanOf(addr)
	_, u, v := m.FaceAndLocalCoords(pos)
	tx := int(math.Floor((u - span.UMin) / (span.UMax - span.UMin) * float64(tilesPerChunk)))
	ty := int(math.Floor((v - span.VMin) / (span.VMax - span.VMin) * float64(tilesPerChunk)))
	return clampInt(tx, 0, tilesPerChunk-1), clampInt(ty, 0, tilesPerChunk-1)
}

// toUnit переводит координату из [-1,1] в [0,1)
func toUnit(x float64) float64 {
	u := (x + 1) / 2
	if u >= 1 {
		u = math.Nextafter(1, 0)
	}
	if u < 0 {
		u = 0
	}
	return u
}

func clampInt(x, lo, hi int) int {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
