// Package ppm reads and writes binary PPM (P6) images with 8-bit samples.
//
// Frames travel through the pipeline as RGBA; decoding sets alpha to 255
// and encoding drops it.
package ppm

import (
	"bufio"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
	"os"
	"strconv"
)

// ErrFormat is returned for input that is not an 8-bit binary PPM.
var ErrFormat = errors.New("ppm: invalid format")

const magic = "P6"

// MaxDimension bounds the width and height accepted by the decoder.
const MaxDimension = 1 << 14

func init() {
	image.RegisterFormat("ppm", magic, func(r io.Reader) (image.Image, error) {
		return Decode(r)
	}, DecodeConfig)
}

type header struct {
	width, height int
}

func readHeader(br *bufio.Reader) (header, error) {
	tok, err := token(br)
	if err != nil {
		return header{}, err
	}
	if tok != magic {
		return header{}, fmt.Errorf("%w: magic %q", ErrFormat, tok)
	}
	var vals [3]int
	for i, name := range []string{"width", "height", "maxval"} {
		tok, err := token(br)
		if err != nil {
			return header{}, err
		}
		v, err := strconv.Atoi(tok)
		if err != nil || v <= 0 {
			return header{}, fmt.Errorf("%w: %s %q", ErrFormat, name, tok)
		}
		vals[i] = v
	}
	if vals[0] > MaxDimension || vals[1] > MaxDimension {
		return header{}, fmt.Errorf("%w: %dx%d exceeds %d per side", ErrFormat, vals[0], vals[1], MaxDimension)
	}
	if vals[2] != 255 {
		return header{}, fmt.Errorf("%w: maxval %d, only 255 is supported", ErrFormat, vals[2])
	}
	// Exactly one whitespace byte separates the header from the raster.
	if _, err := br.ReadByte(); err != nil {
		return header{}, fmt.Errorf("%w: truncated header", ErrFormat)
	}
	return header{width: vals[0], height: vals[1]}, nil
}

// token reads the next whitespace-delimited header field, skipping
// comments that run from '#' to the end of the line.
func token(br *bufio.Reader) (string, error) {
	var buf []byte
	for {
		c, err := br.ReadByte()
		if err != nil {
			if len(buf) > 0 && err == io.EOF {
				return string(buf), nil
			}
			return "", fmt.Errorf("%w: truncated header", ErrFormat)
		}
		switch {
		case c == '#' && len(buf) == 0:
			if _, err := br.ReadString('\n'); err != nil {
				return "", fmt.Errorf("%w: truncated header", ErrFormat)
			}
		case isSpace(c):
			if len(buf) > 0 {
				if err := br.UnreadByte(); err != nil {
					return "", err
				}
				return string(buf), nil
			}
		default:
			buf = append(buf, c)
		}
	}
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\v' || c == '\f'
}

// DecodeConfig returns the dimensions of a PPM image without reading the raster.
func DecodeConfig(r io.Reader) (image.Config, error) {
	h, err := readHeader(bufio.NewReader(r))
	if err != nil {
		return image.Config{}, err
	}
	return image.Config{ColorModel: color.RGBAModel, Width: h.width, Height: h.height}, nil
}

// Decode reads a P6 image into an opaque RGBA image. The raster is read a
// row at a time, so a header promising more data than the stream holds
// fails with ErrFormat after reading what is there.
func Decode(r io.Reader) (*image.RGBA, error) {
	br := bufio.NewReader(r)
	h, err := readHeader(br)
	if err != nil {
		return nil, err
	}
	stride := h.width * 4
	row := make([]byte, h.width*3)
	var pix []byte
	for y := 0; y < h.height; y++ {
		if _, err := io.ReadFull(br, row); err != nil {
			return nil, fmt.Errorf("%w: raster row %d of %d: %w", ErrFormat, y, h.height, err)
		}
		if pix == nil {
			pix = make([]byte, 0, stride*h.height)
		}
		for i := 0; i < len(row); i += 3 {
			pix = append(pix, row[i], row[i+1], row[i+2], 255)
		}
	}
	return &image.RGBA{Pix: pix, Stride: stride, Rect: image.Rect(0, 0, h.width, h.height)}, nil
}

// Encode writes img as P6, dropping alpha.
func Encode(w io.Writer, img *image.RGBA) error {
	b := img.Bounds()
	bw := bufio.NewWriter(w)
	if _, err := fmt.Fprintf(bw, "%s\n%d %d\n255\n", magic, b.Dx(), b.Dy()); err != nil {
		return err
	}
	row := make([]byte, b.Dx()*3)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		src := img.Pix[img.PixOffset(b.Min.X, y):]
		for x := 0; x < b.Dx(); x++ {
			copy(row[x*3:x*3+3], src[x*4:x*4+3])
		}
		if _, err := bw.Write(row); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// ReadFile decodes the PPM file at path.
func ReadFile(path string) (*image.RGBA, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return img, nil
}

// WriteFile encodes img to path, replacing any existing file.
func WriteFile(path string, img *image.RGBA) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := Encode(f, img); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
