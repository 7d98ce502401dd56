// Package chunkaddress определяет канонический адрес чанка в двух топологиях:
// плоской (бесконечная плоскость, пара целых координат) и планетарной
// (куб-сфера: грань, координаты на грани, уровень детализации).
package chunkaddress

import (
	"fmt"
	"strconv"
	"strings"
)

// Address — тегированный адрес чанка. Для плоской топологии Planetary=false
// и используются только CX, CY. Канонические строковые формы:
//
//	плоская:     "<cx>,<cy>"
//	планетарная: "<face>:<cx>,<cy>:<lod>"
type Address struct {
	Planetary bool
	Face      int // 0..5: +X, -X, +Y, -Y, +Z, -Z
	CX, CY    int
	LOD       int // уровень детализации квадродерева; 0 — базовая сетка
}

// Flat возвращает плоский адрес
func Flat(cx, cy int) Address {
	return Address{CX: cx, CY: cy}
}

// Planetary возвращает планетарный адрес
func Planetary(face, cx, cy, lod int) Address {
	return Address{Planetary: true, Face: face, CX: cx, CY: cy, LOD: lod}
}

// Key возвращает каноническую строковую форму адреса.
// Key и ParseKey образуют биекцию на валидных адресах.
func (a Address) Key() string {
	if !a.Planetary {
		return strconv.Itoa(a.CX) + "," + strconv.Itoa(a.CY)
	}
	return fmt.Sprintf("%d:%d,%d:%d", a.Face, a.CX, a.CY, a.LOD)
}

// IsPlanetaryKey сообщает, относится ли ключ к планетарной топологии.
// Планетарные ключи содержат двоеточие.
func IsPlanetaryKey(key string) bool {
	return strings.ContainsRune(key, ':')
}

// ParseKey разбирает каноническую строковую форму. Формат определяется
// по наличию двоеточия.
func ParseKey(key string) (Address, error) {
	if !IsPlanetaryKey(key) {
		cx, cy, err := parsePair(key)
		if err != nil {
			return Address{}, fmt.Errorf("неверный ключ чанка %q: %w", key, err)
		}
		return Flat(cx, cy), nil
	}

	parts := strings.Split(key, ":")
	if len(parts) != 3 {
		return Address{}, fmt.Errorf("неверный ключ чанка %q: ожидается face:cx,cy:lod", key)
	}
	face, err := strconv.Atoi(parts[0])
	if err != nil || face < 0 || face >= 6 {
		return Address{}, fmt.Errorf("неверный ключ чанка %q: грань вне диапазона 0..5", key)
	}
	cx, cy, err := parsePair(parts[1])
	if err != nil {
		return Address{}, fmt.Errorf("неверный ключ чанка %q: %w", key, err)
	}
	lod, err := strconv.Atoi(parts[2])
	if err != nil || lod < 0 {
		return Address{}, fmt.Errorf("неверный ключ чанка %q: lod должен быть неотрицательным", key)
	}
	return Planetary(face, cx, cy, lod), nil
}

func parsePair(s string) (int, int, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("ожидается пара cx,cy")
	}
	cx, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("cx не число")
	}
	cy, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("cy не число")
	}
	return cx, cy, nil
}

// Equals сравнивает все поля адреса
func (a Address) Equals(b Address) bool {
	return a == b
}

// GridSize возвращает число чанков вдоль стороны грани на уровне LOD адреса:
// chunksPerFace * 2^lod.
func (a Address) GridSize(chunksPerFace int) int {
	return chunksPerFace << a.LOD
}

// Valid проверяет, что координаты планетарного адреса лежат в сетке его
// уровня детализации. Плоские адреса валидны всегда.
func (a Address) Valid(chunksPerFace int) bool {
	if !a.Planetary {
		return true
	}
	n := a.GridSize(chunksPerFace)
	return a.Face >= 0 && a.Face < 6 &&
		a.CX >= 0 && a.CX < n &&
		a.CY >= 0 && a.CY < n &&
		a.LOD >= 0
}

// Parent возвращает родителя в квадродереве: координаты делятся пополам,
// LOD уменьшается. Для плоского адреса и для LOD == 0 родитель не определён.
func (a Address) Parent() (Address, bool) {
	if !a.Planetary || a.LOD == 0 {
		return Address{}, false
	}
	return Planetary(a.Face, a.CX/2, a.CY/2, a.LOD-1), true
}

// Children возвращает четырёх потомков в квадродереве: координаты удваиваются,
// LOD увеличивается. Для плоского адреса потомки не определены.
func (a Address) Children() ([4]Address, bool) {
	if !a.Planetary {
		return [4]Address{}, false
	}
	cx, cy, lod := a.CX*2, a.CY*2, a.LOD+1
	return [4]Address{
		Planetary(a.Face, cx, cy, lod),
		Planetary(a.Face, cx+1, cy, lod),
		Planetary(a.Face, cx, cy+1, lod),
		Planetary(a.Face, cx+1, cy+1, lod),
	}, true
}
