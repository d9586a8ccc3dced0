package boulder

import (
	"bytes"
	"encoding/binary"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/vkngwrapper/core/v3/common"
	vkngmath "github.com/vkngwrapper/math"
)

// Transform places an entity in the world. Rotation is Euler angles in
// radians, applied X then Y then Z.
type Transform struct {
	Position vkngmath.Vec3[float32]
	Rotation vkngmath.Vec3[float32]
	Scale    float32
}

// Matrix builds the model matrix: scale, rotate, then translate.
func (t *Transform) Matrix() vkngmath.Mat4x4[float32] {
	scale := t.Scale
	if scale == 0 {
		scale = 1
	}

	var model vkngmath.Mat4x4[float32]
	model.SetScale(scale, scale, scale)

	var step, composed vkngmath.Mat4x4[float32]
	step.SetRotationX(float64(t.Rotation.X))
	composed.SetMultMatrix4x4(&step, &model)
	model = composed
	step.SetRotationY(float64(t.Rotation.Y))
	composed.SetMultMatrix4x4(&step, &model)
	model = composed
	step.SetRotationZ(float64(t.Rotation.Z))
	composed.SetMultMatrix4x4(&step, &model)
	model = composed

	step.SetTranslation(t.Position.X, t.Position.Y, t.Position.Z)
	composed.SetMultMatrix4x4(&step, &model)
	return composed
}

// Camera is the view the world renders from.
type Camera struct {
	Eye    vkngmath.Vec3[float32]
	Target vkngmath.Vec3[float32]
	Up     vkngmath.Vec3[float32]

	// FOVY is the vertical field of view in radians.
	FOVY float64
	Near float32
	Far  float32
}

// DefaultCamera looks at the origin from a short distance out.
func DefaultCamera() Camera {
	return Camera{
		Eye:    vkngmath.Vec3[float32]{X: 0, Y: 2, Z: 5},
		Target: vkngmath.Vec3[float32]{X: 0, Y: 0, Z: 0},
		Up:     vkngmath.Vec3[float32]{X: 0, Y: 1, Z: 0},
		FOVY:   0.785398, // 45 degrees
		Near:   0.1,
		Far:    100,
	}
}

// TransformBlock is the push constant layout every mesh pipeline receives:
// model, view and projection, composed in the vertex shader.
type TransformBlock struct {
	Model vkngmath.Mat4x4[float32]
	View  vkngmath.Mat4x4[float32]
	Proj  vkngmath.Mat4x4[float32]
}

// TransformBlockSize is what PipelineConfig.PushConstantSize should be for
// pipelines driven by World.Draw.
var TransformBlockSize = int(unsafe.Sizeof(TransformBlock{}))

func (b *TransformBlock) encode() ([]byte, error) {
	buf := &bytes.Buffer{}
	if err := binary.Write(buf, common.ByteOrder, b); err != nil {
		return nil, errors.Wrap(err, "encode transform block")
	}
	return buf.Bytes(), nil
}

// Entity is one drawable thing in the world.
type Entity struct {
	ID        uuid.UUID
	Name      string
	Transform Transform
	// AngularVelocity spins the entity, radians per second per axis.
	AngularVelocity vkngmath.Vec3[float32]

	Mesh     *Mesh
	Pipeline PipelineID
	Hidden   bool
}

// World owns the entities and produces draw calls for them. It knows nothing
// about the swapchain; the renderer hands it a Frame to fill.
type World struct {
	Camera Camera

	entities map[uuid.UUID]*Entity
	// order keeps iteration deterministic: spawn order.
	order []uuid.UUID
}

func NewWorld() *World {
	return &World{
		Camera:   DefaultCamera(),
		entities: make(map[uuid.UUID]*Entity),
	}
}

// Spawn adds an entity and returns its generated ID.
func (w *World) Spawn(e *Entity) uuid.UUID {
	e.ID = uuid.New()
	w.entities[e.ID] = e
	w.order = append(w.order, e.ID)
	return e.ID
}

// Despawn removes an entity. Unknown IDs are ignored.
func (w *World) Despawn(id uuid.UUID) {
	if _, ok := w.entities[id]; !ok {
		return
	}
	delete(w.entities, id)
	for i, other := range w.order {
		if other == id {
			w.order = append(w.order[:i], w.order[i+1:]...)
			break
		}
	}
}

// Entity looks up an entity by ID.
func (w *World) Entity(id uuid.UUID) (*Entity, bool) {
	e, ok := w.entities[id]
	return e, ok
}

// Len returns the number of entities.
func (w *World) Len() int {
	return len(w.order)
}

// Update advances entity animation by dt seconds.
func (w *World) Update(dt float64) {
	step := float32(dt)
	for _, id := range w.order {
		e := w.entities[id]
		e.Transform.Rotation.X += e.AngularVelocity.X * step
		e.Transform.Rotation.Y += e.AngularVelocity.Y * step
		e.Transform.Rotation.Z += e.AngularVelocity.Z * step
	}
}

// Draw records every visible entity into the frame, in spawn order.
func (w *World) Draw(f *Frame) error {
	aspect := float32(f.Extent.Width) / float32(f.Extent.Height)

	var view, proj vkngmath.Mat4x4[float32]
	view.SetLookAt(&w.Camera.Eye, &w.Camera.Target, &w.Camera.Up)
	proj.SetPerspective(w.Camera.FOVY, aspect, w.Camera.Near, w.Camera.Far)

	for _, id := range w.order {
		e := w.entities[id]
		if e.Hidden || e.Mesh == nil {
			continue
		}

		if err := f.BindPipeline(e.Pipeline); err != nil {
			return errors.Wrapf(err, "entity %s", e.Name)
		}

		block := TransformBlock{
			Model: e.Transform.Matrix(),
			View:  view,
			Proj:  proj,
		}
		data, err := block.encode()
		if err != nil {
			return errors.Wrapf(err, "entity %s", e.Name)
		}
		if err := f.PushConstants(data); err != nil {
			return errors.Wrapf(err, "entity %s", e.Name)
		}

		f.DrawMesh(e.Mesh)
	}
	return nil
}
