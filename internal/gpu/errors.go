//go:build !nogpu

package gpu

import "errors"

// Device and resource errors. Everything wrapped in ErrDevice indicates a
// misconfigured GPU or driver and should end the run.
var (
	// ErrDevice wraps any failing HAL call.
	ErrDevice = errors.New("gpu: device operation failed")

	// ErrNoBackend is returned when no HAL backend is registered.
	ErrNoBackend = errors.New("gpu: no HAL backend available")

	// ErrNoAdapter is returned when the backend enumerates no adapters.
	ErrNoAdapter = errors.New("gpu: no adapters found")

	// ErrNoMemoryType is returned when a memory property combination cannot be satisfied.
	ErrNoMemoryType = errors.New("gpu: no memory type matches requested properties")

	// ErrClosed is returned when using a Context or Pipeline after Close.
	ErrClosed = errors.New("gpu: closed")

	// ErrInvalidShader is returned for malformed SPIR-V binaries.
	ErrInvalidShader = errors.New("gpu: invalid shader binary")
)

// Input validation errors. These abort one operation, not the run.
var (
	// ErrUnaligned is returned when a buffer size is not a multiple of the
	// device's storage-buffer alignment.
	ErrUnaligned = errors.New("gpu: buffer size not aligned")

	// ErrSizeMismatch is returned when a host buffer does not hold width*height*4 bytes.
	ErrSizeMismatch = errors.New("gpu: buffer size does not match image dimensions")

	// ErrNoDimensions is returned by ProcessImage before SetDimensions.
	ErrNoDimensions = errors.New("gpu: pipeline dimensions not set")
)
