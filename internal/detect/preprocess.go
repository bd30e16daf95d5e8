package detect

import (
	"image"

	"golang.org/x/image/draw"
)

// Preprocess resizes img to size x size with bilinear filtering and returns
// it as a planar CHW float32 tensor with channels in RGB order, scaled to [0,1].
func Preprocess(img image.Image, size int) []float32 {
	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)

	plane := size * size
	out := make([]float32, 3*plane)
	for i := 0; i < plane; i++ {
		px := dst.Pix[i*4 : i*4+3 : i*4+3]
		out[i] = float32(px[0]) / 255
		out[plane+i] = float32(px[1]) / 255
		out[2*plane+i] = float32(px[2]) / 255
	}
	return out
}
