package spheremath_test

import (
	"math"
	"testing"

	"github.com/annelo/go-planet-server/internal/spheremath"
)

func TestCubeToSphere_UnitLength(t *testing.T) {
	// Точки на поверхности куба должны проецироваться на единичную сферу
	for face := 0; face < spheremath.FaceCount; face++ {
		for ui := -4; ui <= 4; ui++ {
			for vi := -4; vi <= 4; vi++ {
				u := float64(ui) / 4
				v := float64(vi) / 4
				p := spheremath.FaceUVToWorld(face, u, v, 1, 0)
				if d := math.Abs(p.Length() - 1); d > 1e-12 {
					t.Fatalf("face=%d u=%v v=%v: |s|-1 = %g", face, u, v, d)
				}
			}
		}
	}
}

func TestSphereToCube_RoundTrip(t *testing.T) {
	const radius = 10000.0
	for face := 0; face < spheremath.FaceCount; face++ {
		for ui := -9; ui <= 9; ui += 2 {
			for vi := -9; vi <= 9; vi += 2 {
				u := float64(ui) / 10
				v := float64(vi) / 10
				pos := spheremath.FaceUVToWorld(face, u, v, radius, 0)

				gotFace, gotU, gotV, height := spheremath.WorldToFaceUV(pos, radius)
				back := spheremath.FaceUVToWorld(gotFace, gotU, gotV, radius, 0)

				if d := back.DistanceTo(pos); d > 1e-5*radius {
					t.Fatalf("face=%d u=%v v=%v: round-trip error %g m", face, u, v, d)
				}
				if math.Abs(height) > 1e-6*radius {
					t.Fatalf("face=%d u=%v v=%v: height %g, expected ~0", face, u, v, height)
				}
				// Вдали от рёбер грань должна совпасть точно
				if math.Abs(u) < 0.7 && math.Abs(v) < 0.7 && gotFace != face {
					t.Fatalf("face=%d u=%v v=%v: got face %d", face, u, v, gotFace)
				}
			}
		}
	}
}

func TestSphereToCube_FaceSelection(t *testing.T) {
	cases := []struct {
		dir  spheremath.Vec3
		face int
	}{
		{spheremath.Vec3{X: 1}, spheremath.FacePosX},
		{spheremath.Vec3{X: -1}, spheremath.FaceNegX},
		{spheremath.Vec3{Y: 1}, spheremath.FacePosY},
		{spheremath.Vec3{Y: -1}, spheremath.FaceNegY},
		{spheremath.Vec3{Z: 1}, spheremath.FacePosZ},
		{spheremath.Vec3{Z: -1}, spheremath.FaceNegZ},
	}
	for _, c := range cases {
		face, u, v := spheremath.SphereToCube(c.dir)
		if face != c.face {
			t.Fatalf("dir=%+v: face=%d, ожидалось %d", c.dir, face, c.face)
		}
		if math.Abs(u) > 1e-12 || math.Abs(v) > 1e-12 {
			t.Fatalf("dir=%+v: центр грани должен давать u=v=0, got (%g, %g)", c.dir, u, v)
		}
	}
}

func TestUVToChunk_Bands(t *testing.T) {
	const n = 16
	if got := spheremath.UVToChunk(-1, n); got != 0 {
		t.Fatalf("u=-1: chunk=%d", got)
	}
	if got := spheremath.UVToChunk(1, n); got != n-1 {
		t.Fatalf("u=1: chunk=%d (ожидается клампинг в диапазон)", got)
	}
	if got := spheremath.UVToChunk(0, n); got != n/2 {
		t.Fatalf("u=0: chunk=%d", got)
	}
	// Центр чанка должен дискретизироваться обратно в тот же индекс
	for i := 0; i < n; i++ {
		u := spheremath.ChunkToUV(i, n)
		if got := spheremath.UVToChunk(u, n); got != i {
			t.Fatalf("chunk=%d: ChunkToUV/UVToChunk вернул %d", i, got)
		}
	}
}

func TestHorizonDistance(t *testing.T) {
	// sqrt(h*(2R+h)): 100 м над сферой 10 км
	got := spheremath.HorizonDistance(100, 10000)
	want := math.Sqrt(100 * (2*10000 + 100))
	if math.Abs(got-want) > 1e-9 {
		t.Fatalf("horizon=%g, want %g", got, want)
	}
	if spheremath.HorizonDistance(-5, 10000) != 0 {
		t.Fatalf("отрицательная высота должна давать нулевой горизонт")
	}
}

func TestSmoothstep_Monotonic(t *testing.T) {
	prev := -1.0
	for i := 0; i <= 20; i++ {
		x := float64(i) / 20
		s := spheremath.Smoothstep(0, 1, x)
		if s < prev {
			t.Fatalf("smoothstep не монотонен: s(%v)=%v < %v", x, s, prev)
		}
		prev = s
	}
	if spheremath.Smoothstep(0, 1, -1) != 0 || spheremath.Smoothstep(0, 1, 2) != 1 {
		t.Fatalf("smoothstep должен клампиться в [0,1]")
	}
}
