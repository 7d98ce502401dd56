// Package spheremath содержит математику куба-сферы: взаимные преобразования
// между точкой на сфере и адресом (грань, u, v), а также геометрические
// помощники (горизонт, кривизна).
package spheremath

import (
	"fmt"
	"math"
)

// FaceCount — число граней куба-сферы
const FaceCount = 6

// Грани перечислены как +X, -X, +Y, -Y, +Z, -Z
const (
	FacePosX = 0
	FaceNegX = 1
	FacePosY = 2
	FaceNegY = 3
	FacePosZ = 4
	FaceNegZ = 5
)

// Базис каждой грани: нормаль, направление +u (right) и +v (up).
// Точка куба восстанавливается как p = normal + u*right + v*up, u,v ∈ [-1,1].
// Компоненты всегда 0 или ±1, поэтому таблицу можно использовать и для
// целочисленной свёртки рёбер (см. chunkaddress).
var (
	faceNormals = [FaceCount]Vec3{
		{1, 0, 0}, {-1, 0, 0},
		{0, 1, 0}, {0, -1, 0},
		{0, 0, 1}, {0, 0, -1},
	}
	faceRights = [FaceCount]Vec3{
		{0, 0, -1}, {0, 0, 1},
		{1, 0, 0}, {1, 0, 0},
		{1, 0, 0}, {-1, 0, 0},
	}
	faceUps = [FaceCount]Vec3{
		{0, 1, 0}, {0, 1, 0},
		{0, 0, -1}, {0, 0, 1},
		{0, 1, 0}, {0, 1, 0},
	}
)

// FaceNormal возвращает нормаль грани
func FaceNormal(face int) Vec3 { return faceNormals[face] }

// FaceRight возвращает направление +u грани
func FaceRight(face int) Vec3 { return faceRights[face] }

// FaceUp возвращает направление +v грани
func FaceUp(face int) Vec3 { return faceUps[face] }

// FaceForNormal возвращает индекс грани с данной нормалью (компоненты ±1/0)
func FaceForNormal(n Vec3) (int, error) {
	for f := 0; f < FaceCount; f++ {
		if faceNormals[f] == n {
			return f, nil
		}
	}
	return -1, fmt.Errorf("spheremath: нет грани с нормалью (%v, %v, %v)", n.X, n.Y, n.Z)
}

// CubeToSphere проецирует точку единичного куба на единичную сферу.
// Используется равноплощадная формула, непрерывная на рёбрах куба:
//
//	sx = x * sqrt(1 - y²/2 - z²/2 + y²z²/3), и симметрично для y, z.
func CubeToSphere(p Vec3) Vec3 {
	x2, y2, z2 := p.X*p.X, p.Y*p.Y, p.Z*p.Z
	return Vec3{
		X: p.X * math.Sqrt(1-y2/2-z2/2+y2*z2/3),
		Y: p.Y * math.Sqrt(1-x2/2-z2/2+x2*z2/3),
		Z: p.Z * math.Sqrt(1-x2/2-y2/2+x2*y2/3),
	}
}

// SphereToCube выполняет обратное преобразование: по единичному направлению
// возвращает грань и координаты (u, v) ∈ [-1,1]² на ней. Решение замкнутое:
// для доминирующей оси компоненты тангенциальных осей восстанавливаются из
// квадратного уравнения, вытекающего из формулы CubeToSphere.
func SphereToCube(dir Vec3) (face int, u, v float64) {
	ax, ay, az := math.Abs(dir.X), math.Abs(dir.Y), math.Abs(dir.Z)

	switch {
	case ax >= ay && ax >= az:
		if dir.X >= 0 {
			face = FacePosX
		} else {
			face = FaceNegX
		}
		// Тангенциальные компоненты куба вдоль осей Y и Z
		ty, tz := invertFaceComponents(dir.Y, dir.Z)
		u = Vec3{0, ty, tz}.Dot(faceRights[face])
		v = Vec3{0, ty, tz}.Dot(faceUps[face])
	case ay >= ax && ay >= az:
		if dir.Y >= 0 {
			face = FacePosY
		} else {
			face = FaceNegY
		}
		tx, tz := invertFaceComponents(dir.X, dir.Z)
		u = Vec3{tx, 0, tz}.Dot(faceRights[face])
		v = Vec3{tx, 0, tz}.Dot(faceUps[face])
	default:
		if dir.Z >= 0 {
			face = FacePosZ
		} else {
			face = FaceNegZ
		}
		tx, ty := invertFaceComponents(dir.X, dir.Y)
		u = Vec3{tx, ty, 0}.Dot(faceRights[face])
		v = Vec3{tx, ty, 0}.Dot(faceUps[face])
	}

	u = clamp(u, -1, 1)
	v = clamp(v, -1, 1)
	return face, u, v
}

// invertFaceComponents восстанавливает тангенциальные координаты куба (a, b)
// по компонентам сферы (sa, sb) на грани с доминирующей третьей осью.
// Из sa² = a²(1/2 - b²/6), sb² = b²(1/2 - a²/6) следует квадратное уравнение
// на B = b²: B² + B(A - B0 - 3) + 3*B0 = 0, где A = 2sa², B0 = 2sb².
func invertFaceComponents(sa, sb float64) (a, b float64) {
	bigA := 2 * sa * sa
	bigB := 2 * sb * sb

	if bigB < 1e-15 {
		b = 0
	} else {
		c := 3 + bigB - bigA
		disc := c*c - 12*bigB
		if disc < 0 {
			disc = 0
		}
		b2 := (c - math.Sqrt(disc)) / 2
		if b2 < 0 {
			b2 = 0
		}
		b = math.Sqrt(b2)
	}

	denom := 1 - b*b/3
	if denom < 1e-15 {
		a = 0
	} else {
		a2 := bigA / denom
		if a2 < 0 {
			a2 = 0
		}
		a = math.Sqrt(a2)
	}

	if sa < 0 {
		a = -a
	}
	if sb < 0 {
		b = -b
	}
	return a, b
}

// FaceUVToWorld восстанавливает мировую позицию по адресу (грань, u, v)
// на сфере радиуса radius с высотой height над поверхностью.
func FaceUVToWorld(face int, u, v, radius, height float64) Vec3 {
	cube := faceNormals[face].
		Add(faceRights[face].Scale(u)).
		Add(faceUps[face].Scale(v))
	return CubeToSphere(cube).Scale(radius + height)
}

// WorldToFaceUV возвращает (грань, u, v) для мировой позиции относительно
// центра сферы, а также высоту над поверхностью радиуса radius.
func WorldToFaceUV(pos Vec3, radius float64) (face int, u, v, height float64) {
	dist := pos.Length()
	face, u, v = SphereToCube(pos.Normalized())
	return face, u, v, dist - radius
}

// UVToChunk дискретизирует координату u ∈ [-1,1] в индекс чанка [0, n),
// с ограничением результата в допустимый диапазон.
func UVToChunk(u float64, n int) int {
	i := int(math.Floor((u + 1) / 2 * float64(n)))
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}

// ChunkToUV возвращает координату центра чанка i в параметрах грани [-1,1]
func ChunkToUV(i, n int) float64 {
	return (float64(i)+0.5)/float64(n)*2 - 1
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
