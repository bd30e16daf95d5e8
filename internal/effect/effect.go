package effect

// Effect transforms one RGBA frame. mask is an RGBA coverage buffer of the
// same size, or nil to apply the effect without one.
type Effect interface {
	ProcessImage(input, output, mask []byte) error
}
