//go:build !nogpu

package gpu

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gogpu/naga"
)

// spirvMagic is the first word of every SPIR-V module.
const spirvMagic = 0x07230203

// Shader file extensions understood by LoadShader.
const (
	ExtSPIRV = ".spv"
	ExtWGSL  = ".wgsl"
)

// IsShaderFile reports whether path has a shader extension LoadShader accepts.
func IsShaderFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ExtSPIRV, ExtWGSL:
		return true
	}
	return false
}

// CompileWGSL compiles WGSL source to SPIR-V words.
func CompileWGSL(src string) ([]uint32, error) {
	spirvBytes, err := naga.Compile(src)
	if err != nil {
		return nil, fmt.Errorf("compile wgsl: %w", err)
	}
	return ParseSPIRV(spirvBytes)
}

// ParseSPIRV converts a little-endian SPIR-V binary into 32-bit words and
// checks the module header.
func ParseSPIRV(b []byte) ([]uint32, error) {
	if len(b) < 20 || len(b)%4 != 0 {
		return nil, fmt.Errorf("%w: %d bytes", ErrInvalidShader, len(b))
	}
	words := make([]uint32, len(b)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(b[i*4:])
	}
	if words[0] != spirvMagic {
		return nil, fmt.Errorf("%w: bad magic %#08x", ErrInvalidShader, words[0])
	}
	return words, nil
}

// LoadShader reads a compiled .spv module or compiles a .wgsl source file.
func LoadShader(path string) ([]uint32, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read shader: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ExtSPIRV:
		return ParseSPIRV(data)
	case ExtWGSL:
		return CompileWGSL(string(data))
	default:
		return nil, fmt.Errorf("%w: unknown extension %q", ErrInvalidShader, filepath.Ext(path))
	}
}

// ShaderName returns the base name of a shader file without its extension.
func ShaderName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
