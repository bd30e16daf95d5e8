//go:build !nogpu

package gpu

import (
	"bytes"
	"errors"
	"testing"

	"github.com/gogpu/gputypes"
)

func TestAlignUp(t *testing.T) {
	tests := []struct{ n, align, want uint64 }{
		{0, 256, 0},
		{1, 256, 256},
		{256, 256, 256},
		{257, 256, 512},
		{100, 4, 100},
		{7, 0, 7},
	}
	for _, tt := range tests {
		if got := AlignUp(tt.n, tt.align); got != tt.want {
			t.Errorf("AlignUp(%d, %d) = %d, want %d", tt.n, tt.align, got, tt.want)
		}
	}
}

func TestHostUsage(t *testing.T) {
	tests := []struct {
		props   MemoryProperty
		want    gputypes.BufferUsage
		wantErr error
	}{
		{MemoryDeviceLocal, 0, nil},
		{MemoryHostVisible | MemoryHostCoherent, gputypes.BufferUsageMapWrite, nil},
		{MemoryHostVisible | MemoryHostCached, gputypes.BufferUsageMapRead, nil},
		{MemoryHostCoherent, 0, ErrNoMemoryType},
		{MemoryDeviceLocal | MemoryHostCached, 0, ErrNoMemoryType},
	}
	for _, tt := range tests {
		t.Run(tt.props.String(), func(t *testing.T) {
			got, err := hostUsage(tt.props)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("usage = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMemoryPropertyString(t *testing.T) {
	if s := (MemoryHostVisible | MemoryHostCoherent).String(); s != "HostVisible|HostCoherent" {
		t.Errorf("String() = %q", s)
	}
	if s := MemoryProperty(0).String(); s != "None" {
		t.Errorf("String() = %q", s)
	}
}

func TestBufferManagerRoundTrip(t *testing.T) {
	ctx, b := newTestContext(t)
	bm := ctx.Buffers()

	a, err := bm.CreateBuffer("scratch", 256, gputypes.BufferUsageStorage, MemoryHostVisible|MemoryHostCoherent)
	if err != nil {
		t.Fatalf("CreateBuffer failed: %v", err)
	}
	if a.Usage&gputypes.BufferUsageMapWrite == 0 {
		t.Error("host-visible buffer missing MapWrite usage")
	}

	data := []byte("per-object effects")
	if err := bm.CopyToBuffer(a, data); err != nil {
		t.Fatalf("CopyToBuffer failed: %v", err)
	}
	got := make([]byte, len(data))
	if err := bm.CopyFromBuffer(a, got); err != nil {
		t.Fatalf("CopyFromBuffer failed: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("round trip = %q, want %q", got, data)
	}

	if s := bm.Stats(); s.LiveBuffers != 1 || s.LiveBytes != 256 {
		t.Errorf("stats = %v, want 1 live buffer of 256 bytes", s)
	}
	bm.Destroy(a)
	bm.Destroy(a)
	if s := bm.Stats(); s.LiveBuffers != 0 || s.LiveBytes != 0 || s.TotalAllocations != 1 {
		t.Errorf("stats after destroy = %v", s)
	}
	if b.Device.LiveBuffers() != 0 {
		t.Error("device still holds the buffer")
	}
	if err := bm.CopyToBuffer(a, data); !errors.Is(err, ErrDevice) {
		t.Errorf("copy into destroyed buffer: err = %v, want ErrDevice", err)
	}
}

func TestBufferManagerRejects(t *testing.T) {
	ctx, _ := newTestContext(t)
	bm := ctx.Buffers()

	if _, err := bm.CreateBuffer("odd", 100, gputypes.BufferUsageStorage, MemoryDeviceLocal); !errors.Is(err, ErrUnaligned) {
		t.Errorf("unaligned size: err = %v, want ErrUnaligned", err)
	}
	if _, err := bm.CreateBuffer("zero", 0, gputypes.BufferUsageStorage, MemoryDeviceLocal); !errors.Is(err, ErrUnaligned) {
		t.Errorf("zero size: err = %v, want ErrUnaligned", err)
	}
	if _, err := bm.CreateBuffer("bad", 256, gputypes.BufferUsageStorage, MemoryHostCoherent); !errors.Is(err, ErrNoMemoryType) {
		t.Errorf("coherent without visible: err = %v, want ErrNoMemoryType", err)
	}

	a, err := bm.CreateBuffer("small", 256, gputypes.BufferUsageStorage, MemoryHostVisible)
	if err != nil {
		t.Fatalf("CreateBuffer failed: %v", err)
	}
	defer bm.Destroy(a)
	if err := bm.CopyToBuffer(a, make([]byte, 512)); !errors.Is(err, ErrSizeMismatch) {
		t.Errorf("oversized copy: err = %v, want ErrSizeMismatch", err)
	}
}
