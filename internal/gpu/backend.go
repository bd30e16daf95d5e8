//go:build !nogpu

package gpu

import (
	"slices"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	// Import Vulkan backend so it registers via init().
	_ "github.com/gogpu/wgpu/hal/vulkan"
)

// backendPriority lists HAL backends from most to least preferred.
// "software" is the CPU rasterizer registered under gputypes.BackendEmpty.
var backendPriority = []string{"vulkan", "metal", "dx12", "gles", "software"}

var backendVariants = map[string]gputypes.Backend{
	"vulkan":   gputypes.BackendVulkan,
	"metal":    gputypes.BackendMetal,
	"dx12":     gputypes.BackendDX12,
	"gles":     gputypes.BackendGL,
	"software": gputypes.BackendEmpty,
}

// backendRegistry snapshots the HAL registry into a named, prioritized
// registry. Built on demand because backends imported by the main package
// may register after this package initializes.
func backendRegistry() *gpucontext.Registry[hal.Backend] {
	r := gpucontext.NewRegistry[hal.Backend](gpucontext.WithPriority(backendPriority...))
	for name, variant := range backendVariants {
		b, ok := hal.GetBackend(variant)
		if !ok {
			continue
		}
		r.Register(name, func() hal.Backend { return b })
	}
	return r
}

// AvailableBackends returns the sorted names of registered HAL backends.
func AvailableBackends() []string {
	names := backendRegistry().Available()
	slices.Sort(names)
	return names
}

// resolveBackend picks a backend by name, or the highest-priority one when
// name is empty.
func resolveBackend(name string) (hal.Backend, string, error) {
	r := backendRegistry()
	if name == "" {
		name = r.BestName()
	}
	if name == "" || !r.Has(name) {
		return nil, name, ErrNoBackend
	}
	return r.Get(name), name, nil
}

// adapterType classifies a HAL adapter for logging.
func adapterType(t gputypes.DeviceType) gpucontext.AdapterType {
	switch t {
	case gputypes.DeviceTypeDiscreteGPU:
		return gpucontext.AdapterTypeDiscrete
	case gputypes.DeviceTypeIntegratedGPU:
		return gpucontext.AdapterTypeIntegrated
	case gputypes.DeviceTypeCPU:
		return gpucontext.AdapterTypeSoftware
	default:
		return gpucontext.AdapterTypeUnknown
	}
}
