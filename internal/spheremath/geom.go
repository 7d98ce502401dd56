package spheremath

import "math"

// HorizonDistance возвращает расстояние до горизонта для наблюдателя на
// высоте h над сферой радиуса r: sqrt(h * (2r + h)). Отрицательная высота
// трактуется как нулевая.
func HorizonDistance(h, r float64) float64 {
	if h <= 0 {
		return 0
	}
	return math.Sqrt(h * (2*r + h))
}

// CurvatureDrop возвращает вертикальное проседание поверхности сферы радиуса
// r на расстоянии d вдоль касательной плоскости: r - sqrt(r² - d²).
// При d >= r возвращается r (дальше поверхность не видна).
func CurvatureDrop(d, r float64) float64 {
	if d >= r {
		return r
	}
	return r - math.Sqrt(r*r-d*d)
}

// Smoothstep возвращает кубическую интерполяцию 0..1 между edge0 и edge1
func Smoothstep(edge0, edge1, x float64) float64 {
	if edge0 == edge1 {
		if x < edge0 {
			return 0
		}
		return 1
	}
	t := clamp((x-edge0)/(edge1-edge0), 0, 1)
	return t * t * (3 - 2*t)
}
