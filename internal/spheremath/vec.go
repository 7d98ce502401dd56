package spheremath

import "math"

// Vec3 представляет точку или направление в мировых координатах (метры)
type Vec3 struct {
	X, Y, Z float64
}

// Add возвращает сумму двух векторов
func (v Vec3) Add(o Vec3) Vec3 {
	return Vec3{v.X + o.X, v.Y + o.Y, v.Z + o.Z}
}

// Sub возвращает разность двух векторов
func (v Vec3) Sub(o Vec3) Vec3 {
	return Vec3{v.X - o.X, v.Y - o.Y, v.Z - o.Z}
}

// Scale возвращает вектор, умноженный на скаляр
func (v Vec3) Scale(s float64) Vec3 {
	return Vec3{v.X * s, v.Y * s, v.Z * s}
}

// Dot возвращает скалярное произведение
func (v Vec3) Dot(o Vec3) float64 {
	return v.X*o.X + v.Y*o.Y + v.Z*o.Z
}

// Length возвращает длину вектора
func (v Vec3) Length() float64 {
	return math.Sqrt(v.Dot(v))
}

// Normalized возвращает вектор единичной длины того же направления.
// Для нулевого вектора возвращается нулевой вектор.
func (v Vec3) Normalized() Vec3 {
	l := v.Length()
	if l == 0 {
		return Vec3{}
	}
	return v.Scale(1 / l)
}

// DistanceTo возвращает расстояние между двумя точками
func (v Vec3) DistanceTo(o Vec3) float64 {
	return v.Sub(o).Length()
}
