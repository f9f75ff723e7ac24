package media

import (
	"bytes"
	"testing"
)

func TestPixelFormatRoundTrip(t *testing.T) {
	t.Parallel()

	for _, f := range []PixelFormat{PixelFormatNV12, PixelFormatI420, PixelFormatRGB24, PixelFormatBGRA, PixelFormatRGBA} {
		if got := ParsePixelFormat(f.String()); got != f {
			t.Errorf("ParsePixelFormat(%q): got %v, want %v", f.String(), got, f)
		}
	}
	if ParsePixelFormat("p010") != PixelFormatInvalid {
		t.Error("unknown format name parsed")
	}
	if ParsePixelFormat("yuv420p") != PixelFormatI420 {
		t.Error("yuv420p alias not recognized")
	}
}

func TestNewFramePlaneSizes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		format PixelFormat
		sizes  []int
	}{
		{PixelFormatNV12, []int{64 * 48, 64 * 24}},
		{PixelFormatI420, []int{64 * 48, 32 * 24, 32 * 24}},
		{PixelFormatRGB24, []int{64 * 3 * 48}},
		{PixelFormatBGRA, []int{64 * 4 * 48}},
	}
	for _, tt := range tests {
		f := NewFrame(tt.format, 64, 48)
		if !f.IsValid() {
			t.Errorf("%v: frame invalid", tt.format)
			continue
		}
		if len(f.Planes) != len(tt.sizes) {
			t.Errorf("%v: planes %d, want %d", tt.format, len(f.Planes), len(tt.sizes))
			continue
		}
		for p, want := range tt.sizes {
			if len(f.Planes[p].Data) != want {
				t.Errorf("%v plane %d: %d bytes, want %d", tt.format, p, len(f.Planes[p].Data), want)
			}
		}
	}
}

func TestFrameIsValid(t *testing.T) {
	t.Parallel()

	var zero Frame
	if zero.IsValid() {
		t.Error("zero frame valid")
	}

	f := NewFrame(PixelFormatNV12, 16, 16)
	if !f.IsValid() {
		t.Error("allocated frame invalid")
	}
	f.Planes = f.Planes[:1]
	if f.IsValid() {
		t.Error("frame with missing plane valid")
	}
}

func TestStrideToPadding(t *testing.T) {
	t.Parallel()

	if pad, ok := StrideToPadding(PixelFormatNV12, 60, 96, 0); !ok || pad != 36 {
		t.Errorf("nv12 luma: got %d,%v, want 36,true", pad, ok)
	}
	if pad, ok := StrideToPadding(PixelFormatI420, 60, 32, 1); !ok || pad != 2 {
		t.Errorf("i420 chroma: got %d,%v, want 2,true", pad, ok)
	}
	if _, ok := StrideToPadding(PixelFormatNV12, 100, 96, 0); ok {
		t.Error("stride below width accepted")
	}
}

func TestFrameFromPlanarWrap(t *testing.T) {
	t.Parallel()

	const w, h, stride = 16, 8, 16
	size, err := PlanarSize(PixelFormatNV12, stride, w, h)
	if err != nil {
		t.Fatalf("PlanarSize: %v", err)
	}
	buf := make([]byte, size)
	for i := range buf {
		buf[i] = byte(i)
	}

	f := FrameFromPlanar(PixelFormatNV12, buf, stride, w, h, UseKeepLayout)
	if !f.IsValid() {
		t.Fatal("frame invalid")
	}

	// The wrapping frame aliases the source buffer.
	f.Planes[0].Data[0] = 0xEE
	if buf[0] != 0xEE {
		t.Error("wrapped frame does not alias the buffer")
	}
	if &f.Planes[1].Data[0] != &buf[stride*h] {
		t.Error("UV plane does not start after the luma plane")
	}
}

func TestFrameFromPlanarCopyStripsPadding(t *testing.T) {
	t.Parallel()

	const w, h, stride = 12, 4, 16
	size, err := PlanarSize(PixelFormatI420, stride, w, h)
	if err != nil {
		t.Fatalf("PlanarSize: %v", err)
	}
	buf := make([]byte, size)
	// Luma rows hold the row index; padding holds 0xFF.
	for r := 0; r < h; r++ {
		for c := 0; c < stride; c++ {
			if c < w {
				buf[r*stride+c] = byte(r)
			} else {
				buf[r*stride+c] = 0xFF
			}
		}
	}

	f := FrameFromPlanar(PixelFormatI420, buf, stride, w, h, CopyRemovePadding)
	if !f.IsValid() {
		t.Fatal("frame invalid")
	}
	if f.Planes[0].Stride != w {
		t.Fatalf("luma stride: got %d, want %d", f.Planes[0].Stride, w)
	}
	for r := 0; r < h; r++ {
		row := f.Planes[0].Data[r*w : (r+1)*w]
		if !bytes.Equal(row, bytes.Repeat([]byte{byte(r)}, w)) {
			t.Fatalf("luma row %d: %x", r, row)
		}
	}

	// Copies do not alias the source.
	f.Planes[0].Data[0] = 0xEE
	if buf[0] == 0xEE {
		t.Error("copied frame aliases the buffer")
	}
}

func TestFrameFromPlanarRejectsBadInput(t *testing.T) {
	t.Parallel()

	buf := make([]byte, 16*8*3/2)
	if f := FrameFromPlanar(PixelFormatRGB24, buf, 16, 16, 8, UseKeepLayout); f.IsValid() {
		t.Error("packed format accepted")
	}
	if f := FrameFromPlanar(PixelFormatNV12, buf, 8, 16, 8, UseKeepLayout); f.IsValid() {
		t.Error("stride below width accepted")
	}
	if f := FrameFromPlanar(PixelFormatNV12, buf[:10], 16, 16, 8, UseKeepLayout); f.IsValid() {
		t.Error("undersized buffer accepted")
	}
	if f := FrameFromPlanar(PixelFormatNV12, buf, 16, 0, 8, UseKeepLayout); f.IsValid() {
		t.Error("zero width accepted")
	}
}

func TestPlanarSize(t *testing.T) {
	t.Parallel()

	if size, err := PlanarSize(PixelFormatNV12, 64, 64, 48); err != nil || size != 64*48*3/2 {
		t.Errorf("nv12: got %d,%v", size, err)
	}
	if size, err := PlanarSize(PixelFormatI420, 64, 60, 48); err != nil || size != 64*48+2*32*24 {
		t.Errorf("i420: got %d,%v", size, err)
	}
	if _, err := PlanarSize(PixelFormatRGB24, 64, 64, 48); err == nil {
		t.Error("packed format accepted")
	}
}
