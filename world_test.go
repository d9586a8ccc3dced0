package boulder

import (
	"testing"

	vkngmath "github.com/vkngwrapper/math"
)

func TestWorldSpawnDespawn(t *testing.T) {
	w := NewWorld()

	a := w.Spawn(&Entity{Name: "a"})
	b := w.Spawn(&Entity{Name: "b"})
	c := w.Spawn(&Entity{Name: "c"})

	if w.Len() != 3 {
		t.Fatalf("Len = %d, want 3", w.Len())
	}

	if _, ok := w.Entity(b); !ok {
		t.Fatal("spawned entity not found")
	}

	w.Despawn(b)
	if w.Len() != 2 {
		t.Fatalf("Len = %d after despawn, want 2", w.Len())
	}
	if _, ok := w.Entity(b); ok {
		t.Fatal("despawned entity still found")
	}

	// Remaining entities keep spawn order.
	if w.order[0] != a || w.order[1] != c {
		t.Fatalf("order = %v, want [%v %v]", w.order, a, c)
	}

	// Despawning again is a no-op.
	w.Despawn(b)
	if w.Len() != 2 {
		t.Fatalf("Len = %d after double despawn, want 2", w.Len())
	}
}

func TestWorldUpdateAppliesAngularVelocity(t *testing.T) {
	w := NewWorld()
	id := w.Spawn(&Entity{
		AngularVelocity: vkngmath.Vec3[float32]{X: 1, Y: 2, Z: 4},
	})

	w.Update(0.5)

	e, _ := w.Entity(id)
	got := e.Transform.Rotation
	want := vkngmath.Vec3[float32]{X: 0.5, Y: 1, Z: 2}
	if got != want {
		t.Fatalf("rotation = %+v, want %+v", got, want)
	}
}

func TestTransformBlockEncodeSize(t *testing.T) {
	block := TransformBlock{}
	data, err := block.encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(data) != TransformBlockSize {
		t.Fatalf("encoded %d bytes, want %d", len(data), TransformBlockSize)
	}
	// Three column-major 4x4 float32 matrices.
	if TransformBlockSize != 3*16*4 {
		t.Fatalf("TransformBlockSize = %d, want %d", TransformBlockSize, 3*16*4)
	}
}

func TestTransformMatrixDefaultsToUnitScale(t *testing.T) {
	zero := Transform{}
	var identity vkngmath.Mat4x4[float32]
	identity.SetIdentity()

	if got := zero.Matrix(); got != identity {
		t.Fatalf("zero transform matrix = %+v, want identity", got)
	}
}
