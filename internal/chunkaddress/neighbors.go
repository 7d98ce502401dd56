package chunkaddress

import (
	"fmt"

	"github.com/annelo/go-planet-server/internal/spheremath"
)

// Direction — направление шага к соседу в параметрах грани
type Direction int

const (
	DirLeft Direction = iota
	DirRight
	DirDown
	DirUp
)

// Opposite возвращает противоположное направление
func Opposite(d Direction) Direction {
	switch d {
	case DirLeft:
		return DirRight
	case DirRight:
		return DirLeft
	case DirDown:
		return DirUp
	default:
		return DirDown
	}
}

func (d Direction) String() string {
	switch d {
	case DirLeft:
		return "left"
	case DirRight:
		return "right"
	case DirDown:
		return "down"
	default:
		return "up"
	}
}

var dirOffsets = [4][2]int{
	DirLeft:  {-1, 0},
	DirRight: {1, 0},
	DirDown:  {0, -1},
	DirUp:    {0, 1},
}

// Neighbors возвращает четырёх соседей адреса в порядке left, right, down, up.
// Для планетарного адреса шаг за границу грани сворачивается на смежную грань
// куба; LOD при этом сохраняется.
func (a Address) Neighbors(chunksPerFace int) [4]Address {
	var out [4]Address
	for d := DirLeft; d <= DirUp; d++ {
		out[d] = a.Neighbor(d, chunksPerFace)
	}
	return out
}

// Neighbor возвращает соседа в одном направлении. Свёртка рёбер реализована
// как чистая функция над базисом граней (spheremath): переход через ребро
// куба однозначно определяет новую грань и перестановку координат, и,
// применённый дважды (шаг туда и обратно через то же ребро), возвращает
// исходный адрес. Специальной таблицы на 24 ребра не требуется — повороты
// полярных граней следуют из базиса.
func (a Address) Neighbor(dir Direction, chunksPerFace int) Address {
	off := dirOffsets[dir]
	cx, cy := a.CX+off[0], a.CY+off[1]

	if !a.Planetary {
		return Flat(cx, cy)
	}

	n := a.GridSize(chunksPerFace)
	if cx >= 0 && cx < n && cy >= 0 && cy < n {
		return Planetary(a.Face, cx, cy, a.LOD)
	}
	return foldAcrossEdge(a.Face, cx, cy, n, a.LOD)
}

// foldAcrossEdge сворачивает вышедшую за грань клетку (cx, cy) на смежную
// грань. Работает в целочисленной модели поверхности куба: клетка описывается
// индексами вдоль мировых осей; при пересечении ребра ось переполнения
// становится нормалью новой грани, индекс вдоль старой нормали прижимается к
// общему ребру, индекс вдоль сохранённой оси не меняется.
func foldAcrossEdge(face, cx, cy, n, lod int) Address {
	if (cx < 0 || cx >= n) && (cy < 0 || cy >= n) {
		// Диагональный выход за угол грани не является валидным шагом
		panic(fmt.Sprintf("chunkaddress: диагональная свёртка face=%d cx=%d cy=%d", face, cx, cy))
	}

	normal := spheremath.FaceNormal(face)
	right := spheremath.FaceRight(face)
	up := spheremath.FaceUp(face)

	// Направление переполнения и сохранённая тангенциальная ось
	var overflow, kept spheremath.Vec3
	var keptIdx int
	switch {
	case cx < 0:
		overflow = right.Scale(-1)
		kept, keptIdx = up, cy
	case cx >= n:
		overflow = right
		kept, keptIdx = up, cy
	case cy < 0:
		overflow = up.Scale(-1)
		kept, keptIdx = right, cx
	default:
		overflow = up
		kept, keptIdx = right, cx
	}

	newFace, err := spheremath.FaceForNormal(overflow)
	if err != nil {
		panic(err)
	}

	// Индексы клетки вдоль мировых осей: сохранённая ось несёт прежний
	// индекс, ось старой нормали прижимается к ребру (n-1 для положительной
	// нормали, 0 для отрицательной).
	axisIdx := map[int]int{}
	setAxisIndex(axisIdx, kept, keptIdx, n)
	normalEdge := n - 1
	if normal.X+normal.Y+normal.Z < 0 {
		normalEdge = 0
	}
	axisIdx[axisOf(normal)] = normalEdge

	ncx := axisIndexFor(axisIdx, spheremath.FaceRight(newFace), n)
	ncy := axisIndexFor(axisIdx, spheremath.FaceUp(newFace), n)

	out := Planetary(newFace, ncx, ncy, lod)
	if !out.Valid(chunksPerFaceFromGrid(n, lod)) {
		// Ошибка в свёртке — сигнализируем громко (OutOfRange)
		panic(fmt.Sprintf("chunkaddress: свёртка дала адрес вне сетки: %s (n=%d)", out.Key(), n))
	}
	return out
}

// axisOf возвращает номер мировой оси (0=X, 1=Y, 2=Z) для вектора оси ±e
func axisOf(v spheremath.Vec3) int {
	switch {
	case v.X != 0:
		return 0
	case v.Y != 0:
		return 1
	default:
		return 2
	}
}

// setAxisIndex записывает индекс клетки вдоль мировой оси для тангенциального
// вектора v: положительное направление хранит индекс как есть, отрицательное —
// зеркально (n-1-idx).
func setAxisIndex(axisIdx map[int]int, v spheremath.Vec3, idx, n int) {
	if v.X+v.Y+v.Z > 0 {
		axisIdx[axisOf(v)] = idx
	} else {
		axisIdx[axisOf(v)] = n - 1 - idx
	}
}

// axisIndexFor восстанавливает индекс координаты грани из индексов вдоль
// мировых осей для базисного вектора v новой грани.
func axisIndexFor(axisIdx map[int]int, v spheremath.Vec3, n int) int {
	idx := axisIdx[axisOf(v)]
	if v.X+v.Y+v.Z > 0 {
		return idx
	}
	return n - 1 - idx
}

func chunksPerFaceFromGrid(n, lod int) int {
	return n >> lod
}
