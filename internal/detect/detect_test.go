package detect

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/draw"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/gogpu/segfx/internal/vocab"
)

func testVocab(t *testing.T) *vocab.Vocabulary {
	t.Helper()
	v, err := vocab.New([]string{"cat", "dog"})
	if err != nil {
		t.Fatalf("vocab.New failed: %v", err)
	}
	return v
}

// proposals lays out per-proposal feature rows as [1, F, N], or as
// [1, N, F] when rowMajor is set.
func proposals(rowMajor bool, rows ...[]float32) Tensor {
	n, f := len(rows), len(rows[0])
	data := make([]float32, n*f)
	for i, r := range rows {
		for j, v := range r {
			if rowMajor {
				data[i*f+j] = v
			} else {
				data[j*n+i] = v
			}
		}
	}
	if rowMajor {
		return Tensor{Shape: []int64{1, int64(n), int64(f)}, Data: data}
	}
	return Tensor{Shape: []int64{1, int64(f), int64(n)}, Data: data}
}

func uniformImage(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: c}, image.Point{}, draw.Src)
	return img
}

func TestIoU(t *testing.T) {
	tests := []struct {
		name string
		a, b Box
		want float32
	}{
		{"identical", Box{0, 0, 10, 10}, Box{0, 0, 10, 10}, 1},
		{"disjoint", Box{0, 0, 10, 10}, Box{20, 20, 30, 30}, 0},
		{"half", Box{0, 0, 10, 10}, Box{0, 0, 10, 5}, 0.5},
		{"touching", Box{0, 0, 10, 10}, Box{10, 0, 20, 10}, 0},
		{"empty", Box{5, 5, 5, 5}, Box{5, 5, 5, 5}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IoU(tt.a, tt.b); got != tt.want {
				t.Errorf("IoU = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNMS(t *testing.T) {
	big := Box{0, 0, 10, 10}
	half := Box{0, 0, 10, 5}

	tests := []struct {
		name      string
		dets      []Detection
		threshold float32
		want      []float32 // kept scores
	}{
		{
			name:      "same class above threshold",
			dets:      []Detection{{Box: half, Score: 0.6}, {Box: big, Score: 0.9}},
			threshold: 0.4,
			want:      []float32{0.9},
		},
		{
			name:      "same class at threshold",
			dets:      []Detection{{Box: big, Score: 0.9}, {Box: half, Score: 0.6}},
			threshold: 0.5,
			want:      []float32{0.9, 0.6},
		},
		{
			name: "different classes never suppress",
			dets: []Detection{
				{Box: big, ClassID: 0, Score: 0.7},
				{Box: big, ClassID: 1, Score: 0.8},
			},
			threshold: 0.1,
			want:      []float32{0.8, 0.7},
		},
		{
			name: "suppressed boxes do not suppress",
			dets: []Detection{
				{Box: Box{0, 0, 10, 10}, Score: 0.9},
				{Box: Box{4, 0, 14, 10}, Score: 0.8},
				{Box: Box{8, 0, 18, 10}, Score: 0.7},
			},
			threshold: 0.3,
			want:      []float32{0.9, 0.7},
		},
		{
			name:      "empty",
			threshold: 0.5,
			want:      []float32{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kept := NMS(tt.dets, tt.threshold)
			got := make([]float32, len(kept))
			for i, d := range kept {
				got[i] = d.Score
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("kept scores mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestNMSDoesNotModifyInput(t *testing.T) {
	dets := []Detection{{Score: 0.1}, {Score: 0.9}}
	NMS(dets, 0.5)
	if dets[0].Score != 0.1 || dets[1].Score != 0.9 {
		t.Errorf("input reordered: %+v", dets)
	}
}

func TestDecode(t *testing.T) {
	rows := [][]float32{
		// xc, yc, w, h, cat, dog
		{320, 320, 64, 64, 0.9, 0.1},
		{100, 100, 20, 20, 0.3, 0.2},
		{10, 10, 40, 40, 0.1, 0.8},
	}
	want := []Detection{
		{Box: Box{288, 216, 352, 264}, ClassID: 0, Label: "cat", Score: 0.9},
		{Box: Box{0, 0, 30, 22.5}, ClassID: 1, Label: "dog", Score: 0.8},
	}
	v := testVocab(t)
	for _, rowMajor := range []bool{false, true} {
		got, err := decode(proposals(rowMajor, rows...), decodeParams{
			classes:   2,
			inputSize: 640,
			outW:      640,
			outH:      480,
			conf:      0.5,
			label:     v.Label,
		})
		if err != nil {
			t.Fatalf("rowMajor=%v: decode failed: %v", rowMajor, err)
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("rowMajor=%v: detections mismatch (-want +got):\n%s", rowMajor, diff)
		}
	}
}

func TestDecodeCoefficients(t *testing.T) {
	v := testVocab(t)
	got, err := decode(proposals(false, []float32{50, 50, 10, 10, 0.9, 0, 0.25, -1.5}), decodeParams{
		classes:   2,
		coeffs:    2,
		inputSize: 100,
		outW:      100,
		outH:      100,
		conf:      0.5,
		label:     v.Label,
	})
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("detections = %d, want 1", len(got))
	}
	if diff := cmp.Diff([]float32{0.25, -1.5}, got[0].Coeffs); diff != "" {
		t.Errorf("coefficients mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeBadShape(t *testing.T) {
	v := testVocab(t)
	tests := []struct {
		name string
		t    Tensor
	}{
		{"wrong width", Tensor{Shape: []int64{1, 7, 3}, Data: make([]float32, 21)}},
		{"batch", Tensor{Shape: []int64{2, 6, 3}, Data: make([]float32, 36)}},
		{"rank", Tensor{Shape: []int64{6}, Data: make([]float32, 6)}},
		{"short data", Tensor{Shape: []int64{1, 6, 3}, Data: make([]float32, 10)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := decode(tt.t, decodeParams{classes: 2, inputSize: 640, outW: 640, outH: 640, label: v.Label})
			if !errors.Is(err, ErrOutputShape) {
				t.Errorf("err = %v, want ErrOutputShape", err)
			}
		})
	}
}

func TestClampBox(t *testing.T) {
	tests := []struct {
		in, want Box
	}{
		{Box{-5, -5, 50, 50}, Box{0, 0, 50, 50}},
		{Box{90, 90, 200, 200}, Box{90, 90, 100, 100}},
		{Box{150, 150, 160, 160}, Box{99, 99, 100, 100}},
		{Box{10, 10, 10, 10}, Box{10, 10, 11, 11}},
	}
	for _, tt := range tests {
		if got := clampBox(tt.in, 100, 100); got != tt.want {
			t.Errorf("clampBox(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestPreprocess(t *testing.T) {
	img := uniformImage(10, 6, color.RGBA{R: 255, G: 0, B: 51, A: 255})
	got := Preprocess(img, 4)
	if len(got) != 3*16 {
		t.Fatalf("len = %d, want 48", len(got))
	}
	for i := 0; i < 16; i++ {
		if got[i] != 1 || got[16+i] != 0 || got[32+i] != 0.2 {
			t.Fatalf("pixel %d = (%v, %v, %v), want (1, 0, 0.2)", i, got[i], got[16+i], got[32+i])
		}
	}
}

func TestThresholds(t *testing.T) {
	probs := make([]float64, 11)
	for i := range probs {
		probs[i] = float64(i) / 10
	}
	tests := []struct {
		name string
		th   Threshold
		in   []float64
		want float64
	}{
		{"fixed", FixedThreshold(0.5), probs, 0.5},
		{"median", PercentileThreshold{P: 0.5, Min: 0.3, Max: 0.7}, probs, 0.5},
		{"clamped high", PercentileThreshold{P: 0.9, Min: 0.3, Max: 0.7}, probs, 0.7},
		{"clamped low", PercentileThreshold{P: 0.05, Min: 0.3, Max: 0.7}, probs, 0.3},
		{"empty", PercentileThreshold{P: 0.5, Min: 0.3, Max: 0.7}, nil, 0.3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.th.Cutoff(tt.in); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Cutoff = %v, want %v", got, tt.want)
			}
		})
	}
	if probs[0] != 0 || probs[10] != 1 {
		t.Error("Cutoff modified its input")
	}
}

// segBackend returns one cat proposal and a single prototype channel.
func segBackend(row []float32, proto []float32, pw, ph int) FuncBackend {
	return FuncBackend{
		Size: 640,
		Fn: func(context.Context, []float32) (Output, error) {
			return Output{
				Proposals:  proposals(false, row),
				Prototypes: Tensor{Shape: []int64{1, 1, int64(ph), int64(pw)}, Data: proto},
			}, nil
		},
	}
}

func fill(n int, v float32) []float32 {
	s := make([]float32, n)
	for i := range s {
		s[i] = v
	}
	return s
}

func TestYOLOSegMaskSynthesis(t *testing.T) {
	v := testVocab(t)
	img := uniformImage(640, 640, color.Black)

	t.Run("covered box", func(t *testing.T) {
		d, err := NewYOLOSeg(segBackend([]float32{160, 160, 320, 320, 0.9, 0, 1}, fill(16, 10), 4, 4), v)
		if err != nil {
			t.Fatalf("NewYOLOSeg failed: %v", err)
		}
		dets, err := d.Detect(context.Background(), img, 640, 640)
		if err != nil {
			t.Fatalf("Detect failed: %v", err)
		}
		if len(dets) != 1 || dets[0].Label != "cat" {
			t.Fatalf("detections = %+v, want one cat", dets)
		}
		m := dets[0].Mask
		if m.Count() != 320*320 {
			t.Errorf("covered pixels = %d, want %d", m.Count(), 320*320)
		}
		if b := m.Bounds(); b != image.Rect(0, 0, 320, 320) {
			t.Errorf("mask bounds = %v, want (0,0)-(320,320)", b)
		}
	})

	t.Run("negative logits", func(t *testing.T) {
		d, err := NewYOLOSeg(segBackend([]float32{160, 160, 320, 320, 0.9, 0, 1}, fill(16, -10), 4, 4), v)
		if err != nil {
			t.Fatalf("NewYOLOSeg failed: %v", err)
		}
		dets, err := d.Detect(context.Background(), img, 640, 640)
		if err != nil {
			t.Fatalf("Detect failed: %v", err)
		}
		if n := dets[0].Mask.Count(); n != 0 {
			t.Errorf("covered pixels = %d, want 0", n)
		}
	})

	t.Run("left half", func(t *testing.T) {
		proto := make([]float32, 16)
		for y := 0; y < 4; y++ {
			for x := 0; x < 4; x++ {
				proto[y*4+x] = -10
				if x < 2 {
					proto[y*4+x] = 10
				}
			}
		}
		d, err := NewYOLOSeg(segBackend([]float32{320, 320, 640, 640, 0.9, 0, 1}, proto, 4, 4), v)
		if err != nil {
			t.Fatalf("NewYOLOSeg failed: %v", err)
		}
		dets, err := d.Detect(context.Background(), img, 640, 640)
		if err != nil {
			t.Fatalf("Detect failed: %v", err)
		}
		m := dets[0].Mask
		if m.At(100, 300) != 255 {
			t.Error("left pixel not covered")
		}
		if m.At(540, 300) != 0 {
			t.Error("right pixel covered")
		}
	})
}

func TestYOLOSegClassFilter(t *testing.T) {
	v := testVocab(t)
	backend := FuncBackend{Fn: func(context.Context, []float32) (Output, error) {
		return Output{Proposals: proposals(true,
			[]float32{100, 100, 50, 50, 0.9, 0},
			[]float32{400, 400, 50, 50, 0, 0.9},
		)}, nil
	}}
	d, err := NewYOLOSeg(backend, v, WithClassFilter(func(l string) bool { return l == "dog" }))
	if err != nil {
		t.Fatalf("NewYOLOSeg failed: %v", err)
	}
	dets, err := d.Detect(context.Background(), uniformImage(64, 64, color.White), 640, 640)
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if len(dets) != 1 || dets[0].Label != "dog" {
		t.Fatalf("detections = %+v, want one dog", dets)
	}
	// Without prototypes the mask is the filled box.
	if b := dets[0].Mask.Bounds(); b != image.Rect(375, 375, 425, 425) {
		t.Errorf("mask bounds = %v, want (375,375)-(425,425)", b)
	}

	groups := GroupByLabel(dets)
	if len(groups) != 1 || len(groups["dog"]) != 1 {
		t.Errorf("GroupByLabel = %v, want one dog mask", groups)
	}
}

func TestYOLOSegInferenceError(t *testing.T) {
	boom := errors.New("boom")
	d, err := NewYOLOSeg(FuncBackend{Fn: func(context.Context, []float32) (Output, error) {
		return Output{}, boom
	}}, testVocab(t))
	if err != nil {
		t.Fatalf("NewYOLOSeg failed: %v", err)
	}
	_, err = d.Detect(context.Background(), uniformImage(8, 8, color.White), 8, 8)
	if !errors.Is(err, ErrInference) || !errors.Is(err, boom) {
		t.Errorf("err = %v, want ErrInference wrapping boom", err)
	}
}

func TestNewYOLOSegValidation(t *testing.T) {
	v := testVocab(t)
	backend := FuncBackend{}
	if _, err := NewYOLOSeg(nil, v); err == nil {
		t.Error("nil backend accepted")
	}
	if _, err := NewYOLOSeg(backend, nil); err == nil {
		t.Error("nil vocabulary accepted")
	}
	bad := WithMaskThreshold(PercentileThreshold{P: 1.5, Min: 0.3, Max: 0.7})
	if _, err := NewYOLOSeg(backend, v, bad); err == nil {
		t.Error("percentile above 1 accepted")
	}
	if backend.InputSize() != DefaultInputSize {
		t.Errorf("InputSize = %d, want %d", backend.InputSize(), DefaultInputSize)
	}
}
