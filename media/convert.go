package media

import "fmt"

// ConvertToPlanar420 converts an arbitrary source frame into a contiguous
// planar 4:2:0 buffer with the given luma stride, performing pixel-format
// conversion when the source is packed RGB. BT.601 limited range is used for
// RGB sources, matching what hardware encoders expect for video content.
// The destination buffer must hold PlanarSize(dstFormat, dstStride, w, h)
// bytes; rows beyond the image width are left untouched.
func ConvertToPlanar420(src *Frame, dstFormat PixelFormat, dst []byte, dstStride int) error {
	if !src.IsValid() {
		return fmt.Errorf("media: invalid source frame")
	}
	if !dstFormat.IsPlanar420() {
		return fmt.Errorf("media: %s is not a planar 4:2:0 target", dstFormat)
	}
	if dstStride < src.Width {
		return fmt.Errorf("media: stride %d smaller than width %d", dstStride, src.Width)
	}
	need, err := PlanarSize(dstFormat, dstStride, src.Width, src.Height)
	if err != nil {
		return err
	}
	if len(dst) < need {
		return fmt.Errorf("media: destination buffer %d bytes, need %d", len(dst), need)
	}

	view := FrameFromPlanar(dstFormat, dst, dstStride, src.Width, src.Height, UseKeepLayout)
	if !view.IsValid() {
		return fmt.Errorf("media: cannot map destination buffer")
	}

	switch src.Format {
	case PixelFormatNV12, PixelFormatI420:
		return convertPlanarToPlanar(src, &view)
	case PixelFormatRGB24, PixelFormatBGRA, PixelFormatRGBA:
		return convertPackedToPlanar(src, &view)
	default:
		return fmt.Errorf("media: unsupported source format %s", src.Format)
	}
}

func convertPlanarToPlanar(src, dst *Frame) error {
	w, h := src.Width, src.Height
	cw, ch := w/2, h/2

	// Luma plane is identical in both layouts.
	copyRows(dst.Planes[0], src.Planes[0], w, h)

	switch {
	case src.Format == dst.Format:
		for p := 1; p < src.Format.PlaneCount(); p++ {
			rowBytes, rows := src.Format.planeLayout(w, h, p)
			copyRows(dst.Planes[p], src.Planes[p], rowBytes, rows)
		}

	case src.Format == PixelFormatI420: // i420 -> nv12: interleave chroma
		u, v, uv := src.Planes[1], src.Planes[2], dst.Planes[1]
		for r := 0; r < ch; r++ {
			urow := u.Data[r*u.Stride:]
			vrow := v.Data[r*v.Stride:]
			uvrow := uv.Data[r*uv.Stride:]
			for c := 0; c < cw; c++ {
				uvrow[2*c] = urow[c]
				uvrow[2*c+1] = vrow[c]
			}
		}

	default: // nv12 -> i420: deinterleave chroma
		uv, u, v := src.Planes[1], dst.Planes[1], dst.Planes[2]
		for r := 0; r < ch; r++ {
			uvrow := uv.Data[r*uv.Stride:]
			urow := u.Data[r*u.Stride:]
			vrow := v.Data[r*v.Stride:]
			for c := 0; c < cw; c++ {
				urow[c] = uvrow[2*c]
				vrow[c] = uvrow[2*c+1]
			}
		}
	}

	return nil
}

func copyRows(dst, src Plane, rowBytes, rows int) {
	for r := 0; r < rows; r++ {
		copy(dst.Data[r*dst.Stride:r*dst.Stride+rowBytes], src.Data[r*src.Stride:r*src.Stride+rowBytes])
	}
}

// convertPackedToPlanar converts packed RGB to planar 4:2:0, averaging each
// 2x2 block for the chroma samples.
func convertPackedToPlanar(src, dst *Frame) error {
	w, h := src.Width, src.Height
	if w%2 != 0 || h%2 != 0 {
		return fmt.Errorf("media: RGB to 4:2:0 conversion requires even dimensions, got %dx%d", w, h)
	}

	y := dst.Planes[0]
	for row := 0; row < h; row++ {
		yrow := y.Data[row*y.Stride:]
		for col := 0; col < w; col++ {
			r, g, b := rgbAt(src, col, row)
			yrow[col] = clampByte(((66*r + 129*g + 25*b + 128) >> 8) + 16)
		}
	}

	for row := 0; row < h; row += 2 {
		for col := 0; col < w; col += 2 {
			var sr, sg, sb int
			for dy := 0; dy < 2; dy++ {
				for dx := 0; dx < 2; dx++ {
					r, g, b := rgbAt(src, col+dx, row+dy)
					sr += r
					sg += g
					sb += b
				}
			}
			r, g, b := sr/4, sg/4, sb/4
			u := clampByte(((-38*r - 74*g + 112*b + 128) >> 8) + 128)
			v := clampByte(((112*r - 94*g - 18*b + 128) >> 8) + 128)

			if dst.Format == PixelFormatNV12 {
				uv := dst.Planes[1]
				uv.Data[(row/2)*uv.Stride+col] = u
				uv.Data[(row/2)*uv.Stride+col+1] = v
			} else {
				up, vp := dst.Planes[1], dst.Planes[2]
				up.Data[(row/2)*up.Stride+col/2] = u
				vp.Data[(row/2)*vp.Stride+col/2] = v
			}
		}
	}

	return nil
}

func rgbAt(f *Frame, x, y int) (r, g, b int) {
	p := f.Planes[0]
	switch f.Format {
	case PixelFormatRGB24:
		i := y*p.Stride + x*3
		return int(p.Data[i]), int(p.Data[i+1]), int(p.Data[i+2])
	case PixelFormatBGRA:
		i := y*p.Stride + x*4
		return int(p.Data[i+2]), int(p.Data[i+1]), int(p.Data[i])
	default: // RGBA
		i := y*p.Stride + x*4
		return int(p.Data[i]), int(p.Data[i+1]), int(p.Data[i+2])
	}
}

func clampByte(v int) byte {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return byte(v)
}
