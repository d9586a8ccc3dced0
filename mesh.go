package boulder

import (
	"bytes"
	"encoding/binary"
	"os"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/g3n/engine/loader/obj"
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
	vkngmath "github.com/vkngwrapper/math"
)

// Vertex is the interleaved layout every mesh pipeline consumes.
type Vertex struct {
	Position vkngmath.Vec3[float32]
	Normal   vkngmath.Vec3[float32]
	TexCoord vkngmath.Vec2[float32]
}

func meshVertexBindings() []core1_0.VertexInputBindingDescription {
	v := Vertex{}
	return []core1_0.VertexInputBindingDescription{
		{
			Binding:   0,
			Stride:    int(unsafe.Sizeof(v)),
			InputRate: core1_0.VertexInputRateVertex,
		},
	}
}

func meshVertexAttributes() []core1_0.VertexInputAttributeDescription {
	v := Vertex{}
	return []core1_0.VertexInputAttributeDescription{
		{
			Binding:  0,
			Location: 0,
			Format:   core1_0.FormatR32G32B32SignedFloat,
			Offset:   int(unsafe.Offsetof(v.Position)),
		},
		{
			Binding:  0,
			Location: 1,
			Format:   core1_0.FormatR32G32B32SignedFloat,
			Offset:   int(unsafe.Offsetof(v.Normal)),
		},
		{
			Binding:  0,
			Location: 2,
			Format:   core1_0.FormatR32G32SignedFloat,
			Offset:   int(unsafe.Offsetof(v.TexCoord)),
		},
	}
}

// Mesh is vertex and index data uploaded to device-local memory. Meshes are
// independent of the swapchain and survive rebuilds.
type Mesh struct {
	vertexBuffer       core1_0.Buffer
	vertexBufferMemory core1_0.DeviceMemory
	indexBuffer        core1_0.Buffer
	indexBufferMemory  core1_0.DeviceMemory
	indexCount         int
}

// IndexCount returns the number of indices the mesh draws with.
func (m *Mesh) IndexCount() int {
	return m.indexCount
}

// MeshData is mesh geometry still on the CPU.
type MeshData struct {
	Vertices []Vertex
	Indices  []uint32
}

// LoadOBJ reads a Wavefront OBJ file, deduplicating vertices and
// triangulating faces. The material file is optional.
func LoadOBJ(objPath, mtlPath string) (*MeshData, error) {
	decoder, err := obj.Decode(objPath, mtlPath)
	if err != nil {
		return nil, errors.Wrapf(err, "decode obj %s", objPath)
	}

	data := &MeshData{}
	uniqueVertices := make(map[[2]int]uint32)

	addVertex := func(face obj.Face, faceIndex int) {
		vertInd := face.Vertices[faceIndex]
		normInd := -1
		if faceIndex < len(face.Normals) {
			normInd = face.Normals[faceIndex]
		}

		key := [2]int{vertInd, normInd}
		index, vertexExists := uniqueVertices[key]
		if !vertexExists {
			vert := Vertex{Position: vkngmath.Vec3[float32]{
				X: decoder.Vertices[vertInd*3],
				Y: decoder.Vertices[vertInd*3+1],
				Z: decoder.Vertices[vertInd*3+2],
			}}

			if normInd >= 0 && normInd*3+2 < len(decoder.Normals) {
				vert.Normal = vkngmath.Vec3[float32]{
					X: decoder.Normals[normInd*3],
					Y: decoder.Normals[normInd*3+1],
					Z: decoder.Normals[normInd*3+2],
				}
			}

			if faceIndex < len(face.Uvs) {
				uvInd := face.Uvs[faceIndex]
				if uvInd >= 0 && uvInd*2+1 < len(decoder.Uvs) {
					vert.TexCoord = vkngmath.Vec2[float32]{
						X: decoder.Uvs[uvInd*2],
						Y: 1.0 - decoder.Uvs[uvInd*2+1],
					}
				}
			}

			index = uint32(len(data.Vertices))
			data.Vertices = append(data.Vertices, vert)
			uniqueVertices[key] = index
		}

		data.Indices = append(data.Indices, index)
	}

	for _, decodedObj := range decoder.Objects {
		for _, face := range decodedObj.Faces {
			// Faces may be polygons; fan-triangulate them.
			for i := 2; i < len(face.Vertices); i++ {
				addVertex(face, 0)
				addVertex(face, i-1)
				addVertex(face, i)
			}
		}
	}

	if len(data.Indices) == 0 {
		return nil, errors.Newf("obj %s contains no faces", objPath)
	}
	return data, nil
}

// LoadOBJFile is LoadOBJ for meshes without a material file.
func LoadOBJFile(objPath string) (*MeshData, error) {
	if _, err := os.Stat(objPath); err != nil {
		return nil, errors.Wrapf(err, "stat obj %s", objPath)
	}
	return LoadOBJ(objPath, "")
}

// UploadMesh pushes mesh data into device-local buffers through a staging
// copy.
func (r *Renderer) UploadMesh(data *MeshData) (*Mesh, error) {
	if len(data.Vertices) == 0 || len(data.Indices) == 0 {
		return nil, errors.New("mesh has no geometry")
	}

	mesh := &Mesh{indexCount: len(data.Indices)}

	var err error
	mesh.vertexBuffer, mesh.vertexBufferMemory, err = r.uploadToDeviceLocal(data.Vertices, core1_0.BufferUsageVertexBuffer)
	if err != nil {
		r.DestroyMesh(mesh)
		return nil, errors.Wrap(err, "upload vertex buffer")
	}

	mesh.indexBuffer, mesh.indexBufferMemory, err = r.uploadToDeviceLocal(data.Indices, core1_0.BufferUsageIndexBuffer)
	if err != nil {
		r.DestroyMesh(mesh)
		return nil, errors.Wrap(err, "upload index buffer")
	}

	return mesh, nil
}

// DestroyMesh releases a mesh's device buffers. The caller must make sure no
// in-flight frame still draws it.
func (r *Renderer) DestroyMesh(mesh *Mesh) {
	if mesh == nil {
		return
	}
	if mesh.indexBuffer.Initialized() {
		r.device.DestroyBuffer(mesh.indexBuffer, nil)
	}
	if mesh.indexBufferMemory.Initialized() {
		r.device.FreeMemory(mesh.indexBufferMemory, nil)
	}
	if mesh.vertexBuffer.Initialized() {
		r.device.DestroyBuffer(mesh.vertexBuffer, nil)
	}
	if mesh.vertexBufferMemory.Initialized() {
		r.device.FreeMemory(mesh.vertexBufferMemory, nil)
	}
}

func (r *Renderer) uploadToDeviceLocal(data any, usage core1_0.BufferUsageFlags) (core1_0.Buffer, core1_0.DeviceMemory, error) {
	bufferSize := binary.Size(data)

	stagingBuffer, stagingMemory, err := r.createBuffer(bufferSize, core1_0.BufferUsageTransferSrc, core1_0.MemoryPropertyHostVisible|core1_0.MemoryPropertyHostCoherent)
	if stagingBuffer.Initialized() {
		defer r.device.DestroyBuffer(stagingBuffer, nil)
	}
	if stagingMemory.Initialized() {
		defer r.device.FreeMemory(stagingMemory, nil)
	}
	if err != nil {
		return core1_0.Buffer{}, core1_0.DeviceMemory{}, err
	}

	err = writeData(r.device, stagingMemory, 0, data)
	if err != nil {
		return core1_0.Buffer{}, core1_0.DeviceMemory{}, err
	}

	buffer, memory, err := r.createBuffer(bufferSize, core1_0.BufferUsageTransferDst|usage, core1_0.MemoryPropertyDeviceLocal)
	if err != nil {
		return buffer, memory, err
	}

	err = r.copyBuffer(stagingBuffer, buffer, bufferSize)
	return buffer, memory, err
}

func (r *Renderer) createBuffer(size int, usage core1_0.BufferUsageFlags, properties core1_0.MemoryPropertyFlags) (core1_0.Buffer, core1_0.DeviceMemory, error) {
	buffer, _, err := r.device.CreateBuffer(nil, core1_0.BufferCreateInfo{
		Size:        size,
		Usage:       usage,
		SharingMode: core1_0.SharingModeExclusive,
	})
	if err != nil {
		return core1_0.Buffer{}, core1_0.DeviceMemory{}, errors.Wrap(err, "create buffer")
	}

	memRequirements := r.device.GetBufferMemoryRequirements(buffer)
	memoryTypeIndex, err := r.findMemoryType(memRequirements.MemoryTypeBits, properties)
	if err != nil {
		return buffer, core1_0.DeviceMemory{}, err
	}

	memory, _, err := r.device.AllocateMemory(nil, core1_0.MemoryAllocateInfo{
		AllocationSize:  memRequirements.Size,
		MemoryTypeIndex: memoryTypeIndex,
	})
	if err != nil {
		return buffer, core1_0.DeviceMemory{}, errors.Wrap(err, "allocate buffer memory")
	}

	_, err = r.device.BindBufferMemory(buffer, memory, 0)
	if err != nil {
		return buffer, memory, errors.Wrap(err, "bind buffer memory")
	}
	return buffer, memory, nil
}

func writeData(device core1_0.CoreDeviceDriver, memory core1_0.DeviceMemory, offset int, data any) error {
	bufferSize := binary.Size(data)

	memoryPtr, _, err := device.MapMemory(memory, offset, bufferSize, 0)
	if err != nil {
		return errors.Wrap(err, "map memory")
	}
	defer device.UnmapMemory(memory)

	dataBuffer := unsafe.Slice((*byte)(memoryPtr), bufferSize)

	buf := &bytes.Buffer{}
	err = binary.Write(buf, common.ByteOrder, data)
	if err != nil {
		return errors.Wrap(err, "serialize buffer data")
	}

	copy(dataBuffer, buf.Bytes())
	return nil
}

func (r *Renderer) beginSingleTimeCommands() (core1_0.CommandBuffer, error) {
	buffers, _, err := r.device.AllocateCommandBuffers(core1_0.CommandBufferAllocateInfo{
		CommandPool:        r.commandPool,
		Level:              core1_0.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	})
	if err != nil {
		return core1_0.CommandBuffer{}, errors.Wrap(err, "allocate transfer command buffer")
	}

	buffer := buffers[0]
	_, err = r.device.BeginCommandBuffer(buffer, core1_0.CommandBufferBeginInfo{
		Flags: core1_0.CommandBufferUsageOneTimeSubmit,
	})
	return buffer, errors.Wrap(err, "begin transfer command buffer")
}

func (r *Renderer) endSingleTimeCommands(buffer core1_0.CommandBuffer) error {
	_, err := r.device.EndCommandBuffer(buffer)
	if err != nil {
		return errors.Wrap(err, "end transfer command buffer")
	}

	_, err = r.device.QueueSubmit(r.graphicsQueue, nil,
		core1_0.SubmitInfo{
			CommandBuffers: []core1_0.CommandBuffer{buffer},
		},
	)
	if err != nil {
		return errors.Wrap(err, "submit transfer")
	}

	_, err = r.device.QueueWaitIdle(r.graphicsQueue)
	if err != nil {
		return errors.Wrap(err, "wait for transfer")
	}

	r.device.FreeCommandBuffers(buffer)
	return nil
}

func (r *Renderer) copyBuffer(srcBuffer, dstBuffer core1_0.Buffer, size int) error {
	buffer, err := r.beginSingleTimeCommands()
	if err != nil {
		return err
	}

	err = r.device.CmdCopyBuffer(buffer, srcBuffer, dstBuffer,
		core1_0.BufferCopy{
			SrcOffset: 0,
			DstOffset: 0,
			Size:      size,
		},
	)
	if err != nil {
		return errors.Wrap(err, "record buffer copy")
	}

	return r.endSingleTimeCommands(buffer)
}

// DrawMesh binds the mesh's buffers and records an indexed draw.
func (f *Frame) DrawMesh(mesh *Mesh) {
	f.r.device.CmdBindVertexBuffers(f.cmd, 0, []core1_0.Buffer{mesh.vertexBuffer}, []int{0})
	f.r.device.CmdBindIndexBuffer(f.cmd, mesh.indexBuffer, 0, core1_0.IndexTypeUInt32)
	f.r.device.CmdDrawIndexed(f.cmd, mesh.indexCount, 1, 0, 0, 0)
}
