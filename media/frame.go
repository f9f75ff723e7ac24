package media

import "fmt"

// PixelFormat identifies the memory layout of a raw video picture.
type PixelFormat int

const (
	// PixelFormatInvalid is the zero value.
	PixelFormatInvalid PixelFormat = iota
	// PixelFormatNV12 is planar 4:2:0: full-resolution Y plane followed by an
	// interleaved half-resolution UV plane. Limited range.
	PixelFormatNV12
	// PixelFormatI420 is planar 4:2:0 with separate half-resolution U and V planes.
	PixelFormatI420
	// PixelFormatRGB24 is packed 8-bit RGB, 3 bytes per pixel.
	PixelFormatRGB24
	// PixelFormatBGRA is packed 8-bit BGRA, 4 bytes per pixel.
	PixelFormatBGRA
	// PixelFormatRGBA is packed 8-bit RGBA, 4 bytes per pixel.
	PixelFormatRGBA
)

// String returns the lower-case format name used on the transform boundary.
func (f PixelFormat) String() string {
	switch f {
	case PixelFormatNV12:
		return "nv12"
	case PixelFormatI420:
		return "i420"
	case PixelFormatRGB24:
		return "rgb24"
	case PixelFormatBGRA:
		return "bgra"
	case PixelFormatRGBA:
		return "rgba"
	default:
		return "invalid"
	}
}

// ParsePixelFormat translates a format name back to a PixelFormat.
func ParsePixelFormat(name string) PixelFormat {
	switch name {
	case "nv12":
		return PixelFormatNV12
	case "i420", "yuv420p":
		return PixelFormatI420
	case "rgb24":
		return PixelFormatRGB24
	case "bgra":
		return PixelFormatBGRA
	case "rgba":
		return PixelFormatRGBA
	default:
		return PixelFormatInvalid
	}
}

// PlaneCount returns the number of planes for the format.
func (f PixelFormat) PlaneCount() int {
	switch f {
	case PixelFormatNV12:
		return 2
	case PixelFormatI420:
		return 3
	case PixelFormatRGB24, PixelFormatBGRA, PixelFormatRGBA:
		return 1
	default:
		return 0
	}
}

// IsPlanar420 reports whether the format belongs to the planar 4:2:0 family
// the transform sessions negotiate.
func (f PixelFormat) IsPlanar420() bool {
	return f == PixelFormatNV12 || f == PixelFormatI420
}

// planeLayout returns the tight row width in bytes and the number of rows
// for one plane of a picture with the given dimensions.
func (f PixelFormat) planeLayout(width, height, plane int) (rowBytes, rows int) {
	switch f {
	case PixelFormatNV12:
		if plane == 0 {
			return width, height
		}
		return width, height / 2
	case PixelFormatI420:
		if plane == 0 {
			return width, height
		}
		return width / 2, height / 2
	case PixelFormatRGB24:
		return width * 3, height
	case PixelFormatBGRA, PixelFormatRGBA:
		return width * 4, height
	default:
		return 0, 0
	}
}

// StrideToPadding converts a plane's row stride in bytes to the number of
// padding bytes at the end of each row. Returns false if the stride is
// smaller than the plane's tight row width.
func StrideToPadding(format PixelFormat, width, strideBytes, plane int) (int, bool) {
	rowBytes, _ := format.planeLayout(width, 2, plane)
	if rowBytes == 0 || strideBytes < rowBytes {
		return 0, false
	}
	return strideBytes - rowBytes, true
}

// Plane is one image plane: pixel rows of Stride bytes each.
type Plane struct {
	Data   []byte
	Stride int
}

// Frame is a raw video picture with per-plane layout. The zero value is the
// canonical invalid frame.
type Frame struct {
	Format PixelFormat
	Width  int
	Height int
	Planes []Plane
}

// IsValid reports whether the frame holds picture data.
func (f *Frame) IsValid() bool {
	return f.Format != PixelFormatInvalid && f.Width > 0 && f.Height > 0 && len(f.Planes) == f.Format.PlaneCount()
}

// NewFrame allocates a frame with tight (unpadded) planes.
func NewFrame(format PixelFormat, width, height int) Frame {
	planes := make([]Plane, 0, format.PlaneCount())
	for p := 0; p < format.PlaneCount(); p++ {
		rowBytes, rows := format.planeLayout(width, height, p)
		planes = append(planes, Plane{Data: make([]byte, rowBytes*rows), Stride: rowBytes})
	}
	return Frame{Format: format, Width: width, Height: height, Planes: planes}
}

// CopyMode selects how a constructor treats source memory.
type CopyMode int

const (
	// CopyRemovePadding copies the source rows into freshly allocated tight
	// planes, stripping any row padding.
	CopyRemovePadding CopyMode = iota
	// UseKeepLayout wraps the source memory in place, keeping its stride.
	// The frame then aliases the source buffer.
	UseKeepLayout
)

// FrameFromPlanar interprets a contiguous planar 4:2:0 buffer with the given
// luma stride and either wraps it in place or copies it while stripping row
// padding. For NV12 the UV plane shares the luma stride; for I420 the chroma
// planes use half of it. Returns an invalid frame if the buffer is too small
// or the format is not planar 4:2:0.
func FrameFromPlanar(format PixelFormat, buf []byte, stride, width, height int, mode CopyMode) Frame {
	if !format.IsPlanar420() || stride < width || width <= 0 || height <= 0 {
		return Frame{}
	}

	strides := planarStrides(format, stride)
	need := 0
	for p := 0; p < format.PlaneCount(); p++ {
		_, rows := format.planeLayout(width, height, p)
		need += strides[p] * rows
	}
	if len(buf) < need {
		return Frame{}
	}

	planes := make([]Plane, 0, format.PlaneCount())
	offset := 0
	for p := 0; p < format.PlaneCount(); p++ {
		rowBytes, rows := format.planeLayout(width, height, p)
		src := buf[offset : offset+strides[p]*rows]
		offset += strides[p] * rows

		if mode == UseKeepLayout {
			planes = append(planes, Plane{Data: src, Stride: strides[p]})
			continue
		}

		dst := make([]byte, rowBytes*rows)
		for r := 0; r < rows; r++ {
			copy(dst[r*rowBytes:(r+1)*rowBytes], src[r*strides[p]:r*strides[p]+rowBytes])
		}
		planes = append(planes, Plane{Data: dst, Stride: rowBytes})
	}

	return Frame{Format: format, Width: width, Height: height, Planes: planes}
}

// planarStrides returns the per-plane strides for a contiguous planar 4:2:0
// buffer with the given luma stride.
func planarStrides(format PixelFormat, lumaStride int) []int {
	if format == PixelFormatNV12 {
		return []int{lumaStride, lumaStride}
	}
	return []int{lumaStride, lumaStride / 2, lumaStride / 2}
}

// PlanarSize returns the byte size of a contiguous planar 4:2:0 buffer with
// the given luma stride.
func PlanarSize(format PixelFormat, stride, width, height int) (int, error) {
	if !format.IsPlanar420() {
		return 0, fmt.Errorf("media: %s is not a planar 4:2:0 format", format)
	}
	strides := planarStrides(format, stride)
	size := 0
	for p := 0; p < format.PlaneCount(); p++ {
		_, rows := format.planeLayout(width, height, p)
		size += strides[p] * rows
	}
	return size, nil
}
