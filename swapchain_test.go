package boulder

import (
	"testing"

	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/khr_surface"
)

func TestChooseSurfaceFormat(t *testing.T) {
	preferred := khr_surface.SurfaceFormat{
		Format:     core1_0.FormatB8G8R8A8SRGB,
		ColorSpace: khr_surface.ColorSpaceSRGBNonlinear,
	}
	other := khr_surface.SurfaceFormat{
		Format:     core1_0.FormatR8G8B8A8UnsignedNormalized,
		ColorSpace: khr_surface.ColorSpaceSRGBNonlinear,
	}

	tests := []struct {
		name      string
		available []khr_surface.SurfaceFormat
		want      khr_surface.SurfaceFormat
	}{
		{"preferred format wins", []khr_surface.SurfaceFormat{other, preferred}, preferred},
		{"falls back to first", []khr_surface.SurfaceFormat{other}, other},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := chooseSurfaceFormat(tt.available)
			if got != tt.want {
				t.Fatalf("chooseSurfaceFormat = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestChoosePresentMode(t *testing.T) {
	tests := []struct {
		name      string
		available []khr_surface.PresentMode
		want      khr_surface.PresentMode
	}{
		{
			"immediate preferred",
			[]khr_surface.PresentMode{khr_surface.PresentModeFIFO, khr_surface.PresentModeImmediate, khr_surface.PresentModeMailbox},
			khr_surface.PresentModeImmediate,
		},
		{
			"fifo fallback",
			[]khr_surface.PresentMode{khr_surface.PresentModeMailbox, khr_surface.PresentModeFIFO},
			khr_surface.PresentModeFIFO,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := choosePresentMode(tt.available)
			if got != tt.want {
				t.Fatalf("choosePresentMode = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestChooseExtent(t *testing.T) {
	tests := []struct {
		name         string
		capabilities khr_surface.SurfaceCapabilities
		drawable     [2]int
		want         core1_0.Extent2D
	}{
		{
			name: "platform-defined extent is authoritative",
			capabilities: khr_surface.SurfaceCapabilities{
				CurrentExtent: core1_0.Extent2D{Width: 640, Height: 480},
			},
			drawable: [2]int{1920, 1080},
			want:     core1_0.Extent2D{Width: 640, Height: 480},
		},
		{
			name: "undefined extent uses drawable size",
			capabilities: khr_surface.SurfaceCapabilities{
				CurrentExtent:  core1_0.Extent2D{Width: -1, Height: -1},
				MinImageExtent: core1_0.Extent2D{Width: 1, Height: 1},
				MaxImageExtent: core1_0.Extent2D{Width: 4096, Height: 4096},
			},
			drawable: [2]int{1280, 720},
			want:     core1_0.Extent2D{Width: 1280, Height: 720},
		},
		{
			name: "drawable clamped to surface limits",
			capabilities: khr_surface.SurfaceCapabilities{
				CurrentExtent:  core1_0.Extent2D{Width: -1, Height: -1},
				MinImageExtent: core1_0.Extent2D{Width: 200, Height: 200},
				MaxImageExtent: core1_0.Extent2D{Width: 1000, Height: 1000},
			},
			drawable: [2]int{5000, 100},
			want:     core1_0.Extent2D{Width: 1000, Height: 200},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := chooseExtent(&tt.capabilities, tt.drawable[0], tt.drawable[1])
			if got != tt.want {
				t.Fatalf("chooseExtent = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestChooseImageCount(t *testing.T) {
	tests := []struct {
		name     string
		min, max int
		want     int
	}{
		{"one above minimum", 2, 8, 3},
		{"capped by maximum", 3, 3, 3},
		{"unbounded maximum", 2, 0, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			capabilities := khr_surface.SurfaceCapabilities{
				MinImageCount: tt.min,
				MaxImageCount: tt.max,
			}
			got := chooseImageCount(&capabilities)
			if got != tt.want {
				t.Fatalf("chooseImageCount(min=%d, max=%d) = %d, want %d", tt.min, tt.max, got, tt.want)
			}
		})
	}
}
