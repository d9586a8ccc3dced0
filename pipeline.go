package boulder

import (
	"os"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/khr_dynamic_rendering"
)

// PipelineConfig describes a graphics pipeline over the swapchain's color
// and depth attachments. Shader paths point at compiled SPIR-V on disk; the
// registry re-reads them on hot reload.
type PipelineConfig struct {
	VertexShaderPath   string
	FragmentShaderPath string

	// PushConstantSize is the byte size of the push constant block visible
	// to both shader stages. Zero means no push constants.
	PushConstantSize int

	DepthTest  bool
	DepthWrite bool
	// CullNone disables back-face culling.
	CullNone bool
	// AlphaBlend enables standard source-over blending on the color
	// attachment.
	AlphaBlend bool
}

// PipelineID names a pipeline in the registry. IDs are never reused.
type PipelineID uint64

type pipelineEntry struct {
	config   PipelineConfig
	layout   core1_0.PipelineLayout
	pipeline core1_0.Pipeline
}

// pipelineRegistry tracks every live pipeline so hot reload and teardown can
// find them. Pipelines reference only immutable formats, so swapchain
// rebuilds leave them untouched.
type pipelineRegistry struct {
	nextID  PipelineID
	entries map[PipelineID]*pipelineEntry
}

func newPipelineRegistry() *pipelineRegistry {
	return &pipelineRegistry{
		nextID:  1,
		entries: make(map[PipelineID]*pipelineEntry),
	}
}

func (reg *pipelineRegistry) destroyAll(device core1_0.CoreDeviceDriver) {
	for _, entry := range reg.entries {
		destroyPipelineEntry(device, entry)
	}
	reg.entries = make(map[PipelineID]*pipelineEntry)
}

func destroyPipelineEntry(device core1_0.CoreDeviceDriver, entry *pipelineEntry) {
	if entry.pipeline.Initialized() {
		device.DestroyPipeline(entry.pipeline, nil)
	}
	if entry.layout.Initialized() {
		device.DestroyPipelineLayout(entry.layout, nil)
	}
}

// bytesToBytecode packs SPIR-V bytes into the little-endian words the driver
// expects.
func bytesToBytecode(b []byte) []uint32 {
	byteCode := make([]uint32, len(b)/4)
	for i := 0; i < len(byteCode); i++ {
		byteIndex := i * 4
		byteCode[i] = 0
		byteCode[i] |= uint32(b[byteIndex])
		byteCode[i] |= uint32(b[byteIndex+1]) << 8
		byteCode[i] |= uint32(b[byteIndex+2]) << 16
		byteCode[i] |= uint32(b[byteIndex+3]) << 24
	}
	return byteCode
}

func (r *Renderer) createShaderModule(path string) (core1_0.ShaderModule, error) {
	shaderBytes, err := os.ReadFile(path)
	if err != nil {
		return core1_0.ShaderModule{}, errors.Wrapf(err, "read shader %s", path)
	}
	if len(shaderBytes)%4 != 0 {
		return core1_0.ShaderModule{}, errors.Newf("shader %s is not valid SPIR-V: %d bytes", path, len(shaderBytes))
	}

	module, _, err := r.device.CreateShaderModule(nil, core1_0.ShaderModuleCreateInfo{
		Code: bytesToBytecode(shaderBytes),
	})
	if err != nil {
		return module, errors.Wrapf(err, "create shader module %s", path)
	}
	return module, nil
}

// CreatePipeline builds a graphics pipeline from the config and registers
// it. Viewport and scissor are dynamic, so the pipeline survives swapchain
// rebuilds.
func (r *Renderer) CreatePipeline(config PipelineConfig) (PipelineID, error) {
	entry, err := r.buildPipelineEntry(config)
	if err != nil {
		return 0, err
	}

	id := r.pipelines.nextID
	r.pipelines.nextID++
	r.pipelines.entries[id] = entry
	return id, nil
}

// DestroyPipeline removes a pipeline from the registry and releases it. The
// caller must make sure no in-flight frame references it, typically by
// waiting for the device to go idle.
func (r *Renderer) DestroyPipeline(id PipelineID) {
	entry, ok := r.pipelines.entries[id]
	if !ok {
		return
	}
	destroyPipelineEntry(r.device, entry)
	delete(r.pipelines.entries, id)
}

// reloadPipeline rebuilds a pipeline from its shader paths in place. The old
// pipeline is destroyed after the device goes idle; on failure the old one
// stays active.
func (r *Renderer) reloadPipeline(id PipelineID) error {
	entry, ok := r.pipelines.entries[id]
	if !ok {
		return errors.Newf("pipeline %d is not registered", id)
	}

	rebuilt, err := r.buildPipelineEntry(entry.config)
	if err != nil {
		return err
	}

	if err := r.WaitIdle(); err != nil {
		destroyPipelineEntry(r.device, rebuilt)
		return err
	}
	destroyPipelineEntry(r.device, entry)
	*entry = *rebuilt
	return nil
}

func (r *Renderer) buildPipelineEntry(config PipelineConfig) (*pipelineEntry, error) {
	vertShader, err := r.createShaderModule(config.VertexShaderPath)
	if err != nil {
		return nil, err
	}
	defer r.device.DestroyShaderModule(vertShader, nil)

	fragShader, err := r.createShaderModule(config.FragmentShaderPath)
	if err != nil {
		return nil, err
	}
	defer r.device.DestroyShaderModule(fragShader, nil)

	layoutInfo := core1_0.PipelineLayoutCreateInfo{}
	if config.PushConstantSize > 0 {
		layoutInfo.PushConstantRanges = []core1_0.PushConstantRange{
			{
				StageFlags: core1_0.StageVertex | core1_0.StageFragment,
				Offset:     0,
				Size:       config.PushConstantSize,
			},
		}
	}

	layout, _, err := r.device.CreatePipelineLayout(nil, layoutInfo)
	if err != nil {
		return nil, errors.Wrap(err, "create pipeline layout")
	}

	cullMode := core1_0.CullModeBack
	if config.CullNone {
		cullMode = core1_0.CullModeNone
	}

	blendAttachment := core1_0.PipelineColorBlendAttachmentState{
		BlendEnabled:   false,
		ColorWriteMask: core1_0.ColorComponentRed | core1_0.ColorComponentGreen | core1_0.ColorComponentBlue | core1_0.ColorComponentAlpha,
	}
	if config.AlphaBlend {
		blendAttachment.BlendEnabled = true
		blendAttachment.SrcColorBlendFactor = core1_0.BlendFactorSrcAlpha
		blendAttachment.DstColorBlendFactor = core1_0.BlendFactorOneMinusSrcAlpha
		blendAttachment.ColorBlendOp = core1_0.BlendOpAdd
		blendAttachment.SrcAlphaBlendFactor = core1_0.BlendFactorOne
		blendAttachment.DstAlphaBlendFactor = core1_0.BlendFactorZero
		blendAttachment.AlphaBlendOp = core1_0.BlendOpAdd
	}

	pipelines, _, err := r.device.CreateGraphicsPipelines(nil, nil,
		core1_0.GraphicsPipelineCreateInfo{
			Stages: []core1_0.PipelineShaderStageCreateInfo{
				{
					Stage:  core1_0.StageVertex,
					Module: vertShader,
					Name:   "main",
				},
				{
					Stage:  core1_0.StageFragment,
					Module: fragShader,
					Name:   "main",
				},
			},
			VertexInputState: &core1_0.PipelineVertexInputStateCreateInfo{
				VertexBindingDescriptions:   meshVertexBindings(),
				VertexAttributeDescriptions: meshVertexAttributes(),
			},
			InputAssemblyState: &core1_0.PipelineInputAssemblyStateCreateInfo{
				Topology:               core1_0.PrimitiveTopologyTriangleList,
				PrimitiveRestartEnable: false,
			},
			ViewportState: &core1_0.PipelineViewportStateCreateInfo{
				Viewports: []core1_0.Viewport{{}},
				Scissors:  []core1_0.Rect2D{{}},
			},
			DynamicState: &core1_0.PipelineDynamicStateCreateInfo{
				DynamicStates: []core1_0.DynamicState{
					core1_0.DynamicStateViewport,
					core1_0.DynamicStateScissor,
				},
			},
			RasterizationState: &core1_0.PipelineRasterizationStateCreateInfo{
				DepthClampEnable:        false,
				RasterizerDiscardEnable: false,

				PolygonMode: core1_0.PolygonModeFill,
				CullMode:    cullMode,
				FrontFace:   core1_0.FrontFaceCounterClockwise,

				DepthBiasEnable: false,

				LineWidth: 1.0,
			},
			MultisampleState: &core1_0.PipelineMultisampleStateCreateInfo{
				SampleShadingEnable:  false,
				RasterizationSamples: core1_0.Samples1,
				MinSampleShading:     1.0,
			},
			DepthStencilState: &core1_0.PipelineDepthStencilStateCreateInfo{
				DepthTestEnable:  config.DepthTest,
				DepthWriteEnable: config.DepthWrite,
				DepthCompareOp:   core1_0.CompareOpLess,
			},
			ColorBlendState: &core1_0.PipelineColorBlendStateCreateInfo{
				LogicOpEnabled: false,
				LogicOp:        core1_0.LogicOpCopy,

				BlendConstants: [4]float32{0, 0, 0, 0},
				Attachments: []core1_0.PipelineColorBlendAttachmentState{
					blendAttachment,
				},
			},
			Layout:            layout,
			BasePipelineIndex: -1,
			Next: khr_dynamic_rendering.PipelineRenderingCreateInfo{
				ColorAttachmentFormats: []core1_0.Format{r.generation.format},
				DepthAttachmentFormat:  r.depth.format,
			},
		},
	)
	if err != nil {
		r.device.DestroyPipelineLayout(layout, nil)
		return nil, errors.Wrap(err, "create graphics pipeline")
	}

	return &pipelineEntry{
		config:   config,
		layout:   layout,
		pipeline: pipelines[0],
	}, nil
}

// Frame recording helpers. All of them record into the frame's command
// buffer and are only valid between BeginFrame and EndFrame.

// BindPipeline binds a registered pipeline for subsequent draws.
func (f *Frame) BindPipeline(id PipelineID) error {
	entry, ok := f.r.pipelines.entries[id]
	if !ok {
		return errors.Newf("pipeline %d is not registered", id)
	}
	f.r.device.CmdBindPipeline(f.cmd, core1_0.PipelineBindPointGraphics, entry.pipeline)
	f.boundLayout = entry.layout
	return nil
}

// PushConstants uploads the push constant block for the bound pipeline.
func (f *Frame) PushConstants(data []byte) error {
	if !f.boundLayout.Initialized() {
		return errors.New("PushConstants called with no pipeline bound")
	}
	f.r.device.CmdPushConstants(f.cmd, f.boundLayout, core1_0.StageVertex|core1_0.StageFragment, 0, data)
	return nil
}

// SetViewport overrides the full-image viewport set at frame start.
func (f *Frame) SetViewport(x, y, width, height float32) {
	f.r.device.CmdSetViewport(f.cmd, core1_0.Viewport{
		X: x, Y: y,
		Width: width, Height: height,
		MinDepth: 0, MaxDepth: 1,
	})
}

// SetScissor overrides the full-image scissor set at frame start.
func (f *Frame) SetScissor(x, y, width, height int) {
	f.r.device.CmdSetScissor(f.cmd, core1_0.Rect2D{
		Offset: core1_0.Offset2D{X: x, Y: y},
		Extent: core1_0.Extent2D{Width: width, Height: height},
	})
}

// Draw records a non-indexed draw.
func (f *Frame) Draw(vertexCount, instanceCount int) {
	f.r.device.CmdDraw(f.cmd, vertexCount, instanceCount, 0, 0)
}
