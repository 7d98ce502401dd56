package chunkaddress_test

import (
	"testing"

	"github.com/annelo/go-planet-server/internal/chunkaddress"
	"github.com/annelo/go-planet-server/internal/spheremath"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const chunksPerFace = 16

func TestKeyRoundTrip(t *testing.T) {
	addrs := []chunkaddress.Address{
		chunkaddress.Flat(0, 0),
		chunkaddress.Flat(-12, 7),
		chunkaddress.Flat(1<<20, -1<<20),
		chunkaddress.Planetary(spheremath.FacePosX, 0, 0, 0),
		chunkaddress.Planetary(spheremath.FaceNegZ, 15, 3, 0),
		chunkaddress.Planetary(spheremath.FacePosY, 31, 17, 1),
		chunkaddress.Planetary(spheremath.FaceNegY, 100, 99, 3),
	}
	for _, a := range addrs {
		got, err := chunkaddress.ParseKey(a.Key())
		require.NoError(t, err, "ключ %q", a.Key())
		assert.True(t, a.Equals(got), "ParseKey(Key) != исходный адрес: %q", a.Key())
	}

	keys := []string{"0,0", "-5,12", "4:15,8:0", "2:0,31:1"}
	for _, k := range keys {
		a, err := chunkaddress.ParseKey(k)
		require.NoError(t, err)
		assert.Equal(t, k, a.Key())
	}
}

func TestParseKey_Errors(t *testing.T) {
	bad := []string{
		"",
		"12",
		"1,2,3",
		"a,b",
		"7:0,0:0",   // грань вне 0..5
		"-1:0,0:0",  // грань вне 0..5
		"1:0,0:-2",  // отрицательный lod
		"1:0,0",     // нет lod
		"1:0,0:0:9", // лишняя часть
		"1:x,0:0",
	}
	for _, k := range bad {
		_, err := chunkaddress.ParseKey(k)
		assert.Error(t, err, "ключ %q должен быть отвергнут", k)
	}
}

func TestIsPlanetaryKey(t *testing.T) {
	assert.False(t, chunkaddress.IsPlanetaryKey("3,-4"))
	assert.True(t, chunkaddress.IsPlanetaryKey("4:15,8:0"))
}

func TestNeighbors_Flat(t *testing.T) {
	a := chunkaddress.Flat(3, -2)
	got := a.Neighbors(chunksPerFace)
	assert.Equal(t, chunkaddress.Flat(2, -2), got[chunkaddress.DirLeft])
	assert.Equal(t, chunkaddress.Flat(4, -2), got[chunkaddress.DirRight])
	assert.Equal(t, chunkaddress.Flat(3, -3), got[chunkaddress.DirDown])
	assert.Equal(t, chunkaddress.Flat(3, -1), got[chunkaddress.DirUp])
}

func TestNeighbor_InsideFace(t *testing.T) {
	a := chunkaddress.Planetary(spheremath.FacePosZ, 7, 7, 0)
	got := a.Neighbor(chunkaddress.DirRight, chunksPerFace)
	assert.Equal(t, chunkaddress.Planetary(spheremath.FacePosZ, 8, 7, 0), got)
}

// Шаг вправо с восточного края грани +Z выводит на западный край грани +X,
// строка сохраняется: обе грани лежат на экваториальном кольце.
func TestNeighbor_EquatorialSeam(t *testing.T) {
	a := chunkaddress.Planetary(spheremath.FacePosZ, 15, 8, 0)
	b := a.Neighbor(chunkaddress.DirRight, chunksPerFace)
	require.Equal(t, chunkaddress.Planetary(spheremath.FacePosX, 0, 8, 0), b)

	// На экваториальном кольце обратный шаг буквально противоположен
	back := b.Neighbor(chunkaddress.DirLeft, chunksPerFace)
	assert.Equal(t, a, back)
}

// Переход на полярную грань: восточный край верхнего ряда +X ведёт на +Y.
// Направление обратного шага на полярной грани повёрнуто, но исходный адрес
// обязан быть среди четырёх соседей результата.
func TestNeighbor_PolarSeam(t *testing.T) {
	a := chunkaddress.Planetary(spheremath.FacePosX, 3, 15, 0)
	b := a.Neighbor(chunkaddress.DirUp, chunksPerFace)
	require.Equal(t, chunkaddress.Planetary(spheremath.FacePosY, 15, 3, 0), b)
	assert.True(t, containsAddr(b.Neighbors(chunksPerFace), a))
}

// Свёртка через любое ребро инволютивна: сосед валиден, лежит на другой
// грани, и исходный адрес входит в его четвёрку соседей.
func TestNeighbor_FoldInvolution(t *testing.T) {
	for face := 0; face < spheremath.FaceCount; face++ {
		for i := 0; i < chunksPerFace; i++ {
			edgeCells := []chunkaddress.Address{
				chunkaddress.Planetary(face, 0, i, 0),
				chunkaddress.Planetary(face, chunksPerFace-1, i, 0),
				chunkaddress.Planetary(face, i, 0, 0),
				chunkaddress.Planetary(face, i, chunksPerFace-1, 0),
			}
			for _, a := range edgeCells {
				for d := chunkaddress.DirLeft; d <= chunkaddress.DirUp; d++ {
					b := a.Neighbor(d, chunksPerFace)
					require.True(t, b.Valid(chunksPerFace),
						"сосед %s по %s от %s вне сетки", b.Key(), d, a.Key())
					if b.Face == a.Face {
						continue
					}
					assert.True(t, containsAddr(b.Neighbors(chunksPerFace), a),
						"свёртка не инволютивна: %s -> %s (%s)", a.Key(), b.Key(), d)
				}
			}
		}
	}
}

// LOD сохраняется при свёртке, сетка масштабируется как chunksPerFace*2^lod.
func TestNeighbor_FoldKeepsLOD(t *testing.T) {
	a := chunkaddress.Planetary(spheremath.FacePosZ, 31, 10, 1)
	b := a.Neighbor(chunkaddress.DirRight, chunksPerFace)
	assert.Equal(t, chunkaddress.Planetary(spheremath.FacePosX, 0, 10, 1), b)
}

func TestParentChildren(t *testing.T) {
	a := chunkaddress.Planetary(spheremath.FaceNegY, 5, 9, 2)

	parent, ok := a.Parent()
	require.True(t, ok)
	assert.Equal(t, chunkaddress.Planetary(spheremath.FaceNegY, 2, 4, 1), parent)

	children, ok := parent.Children()
	require.True(t, ok)
	assert.True(t, containsAddr(children, chunkaddress.Planetary(spheremath.FaceNegY, 5, 9, 2)))
	for _, c := range children {
		p, ok := c.Parent()
		require.True(t, ok)
		assert.Equal(t, parent, p)
	}

	_, ok = chunkaddress.Planetary(spheremath.FacePosX, 0, 0, 0).Parent()
	assert.False(t, ok, "у LOD 0 нет родителя")
	_, ok = chunkaddress.Flat(1, 1).Parent()
	assert.False(t, ok)
	_, ok = chunkaddress.Flat(1, 1).Children()
	assert.False(t, ok)
}

func containsAddr(set [4]chunkaddress.Address, a chunkaddress.Address) bool {
	for _, x := range set {
		if x.Equals(a) {
			return true
		}
	}
	return false
}
