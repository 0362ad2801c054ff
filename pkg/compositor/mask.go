package compositor

import (
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	"image/png"
	"os"

	"clipforge/pkg/timecode"
	"clipforge/pkg/timeline"
)

// RenderMask rasterises m to a w×h alpha image at the given timeline
// instant. Pixels inside the shape (or inside the polygon, per the
// teacher's ffmpeg.vertexInsidePoly ray-casting scan) are opaque; pixels
// outside are transparent, then Feather and Inverted are applied.
func RenderMask(m *timeline.Mask, w, h int, at timecode.Position) (*image.Alpha, error) {
	if m == nil {
		return nil, fmt.Errorf("compositor: nil mask")
	}

	switch m.Shape {
	case timeline.MaskRect:
		return finishMask(rasterizeRect(w, h, m), m), nil
	case timeline.MaskEllipse:
		return finishMask(rasterizeEllipse(w, h, m), m), nil
	case timeline.MaskPolygon:
		return finishMask(rasterizePolygon(w, h, m.Points), m), nil
	case timeline.MaskAlpha:
		img, err := loadAlphaSource(m.ImagePath, w, h)
		if err != nil {
			return nil, err
		}
		return finishMask(img, m), nil
	case timeline.MaskAnimated:
		resolved := resolveAnimated(m, at)
		return RenderMask(resolved, w, h, at)
	default:
		return nil, fmt.Errorf("compositor: unrecognised mask shape %q", m.Shape)
	}
}

// resolveAnimated samples m's parametric keyframes at at and bakes them
// into a copy of the base shape, per §4.6: "Animated masks sample their
// parametric keyframes at the current frame and delegate to the base
// variant."
func resolveAnimated(m *timeline.Mask, at timecode.Position) *timeline.Mask {
	base := *m.Base
	sample := func(parameter string, dst *float64) {
		if v, ok := m.Keyframes.Sample(parameter, at); ok && !v.IsCategorical {
			*dst = v.Number
		}
	}
	sample("mask.x", &base.X)
	sample("mask.y", &base.Y)
	sample("mask.w", &base.W)
	sample("mask.h", &base.H)
	sample("mask.cx", &base.CX)
	sample("mask.cy", &base.CY)
	sample("mask.rx", &base.RX)
	sample("mask.ry", &base.RY)
	sample("mask.feather", &base.Feather)
	return &base
}

func rasterizeRect(w, h int, m *timeline.Mask) *image.Alpha {
	img := image.NewAlpha(image.Rect(0, 0, w, h))
	x0, y0, x1, y1 := m.X, m.Y, m.X+m.W, m.Y+m.H
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			fx, fy := float64(x), float64(y)
			if fx >= x0 && fx < x1 && fy >= y0 && fy < y1 {
				img.SetAlpha(x, y, color.Alpha{A: 255})
			}
		}
	}
	return img
}

func rasterizeEllipse(w, h int, m *timeline.Mask) *image.Alpha {
	img := image.NewAlpha(image.Rect(0, 0, w, h))
	if m.RX == 0 || m.RY == 0 {
		return img
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			dx := (float64(x) - m.CX) / m.RX
			dy := (float64(y) - m.CY) / m.RY
			if dx*dx+dy*dy <= 1 {
				img.SetAlpha(x, y, color.Alpha{A: 255})
			}
		}
	}
	return img
}

// rasterizePolygon rasterises a polygon via the even-odd ray-casting scan,
// generalizing the teacher's ffmpeg.vertexInsidePoly from an int grid and
// fixed masked/unmasked convention to float vertices with the opposite
// (inside-is-opaque) convention this mask type needs.
func rasterizePolygon(w, h int, points []timeline.Point) *image.Alpha {
	img := image.NewAlpha(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if pointInPolygon(float64(x), float64(y), points) {
				img.SetAlpha(x, y, color.Alpha{A: 255})
			}
		}
	}
	return img
}

func pointInPolygon(x, y float64, poly []timeline.Point) bool {
	inside := false
	j := len(poly) - 1
	for i := 0; i < len(poly); i++ {
		xi, yi := poly[i].X, poly[i].Y
		xj, yj := poly[j].X, poly[j].Y
		if (yi > y) != (yj > y) && x < (xj-xi)*(y-yi)/(yj-yi)+xi {
			inside = !inside
		}
		j = i
	}
	return inside
}

// loadAlphaSource decodes an image file and extracts its alpha channel,
// falling back to luminance when the source carries no alpha (e.g. an
// opaque JPEG mask), per §4.6.
func loadAlphaSource(path string, w, h int) (*image.Alpha, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("compositor: open alpha mask %s: %w", path, err)
	}
	defer f.Close()

	src, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("compositor: decode alpha mask %s: %w", path, err)
	}

	bounds := src.Bounds()
	hasAlpha := false
	out := image.NewAlpha(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		sy := bounds.Min.Y + y*bounds.Dy()/max1(h)
		for x := 0; x < w; x++ {
			sx := bounds.Min.X + x*bounds.Dx()/max1(w)
			_, _, _, a := src.At(sx, sy).RGBA()
			if a != 0xffff {
				hasAlpha = true
			}
			out.SetAlpha(x, y, color.Alpha{A: uint8(a >> 8)})
		}
	}
	if hasAlpha {
		return out, nil
	}
	for y := 0; y < h; y++ {
		sy := bounds.Min.Y + y*bounds.Dy()/max1(h)
		for x := 0; x < w; x++ {
			sx := bounds.Min.X + x*bounds.Dx()/max1(w)
			r, g, b, _ := src.At(sx, sy).RGBA()
			lum := (0.299*float64(r) + 0.587*float64(g) + 0.114*float64(b)) / 65535
			out.SetAlpha(x, y, color.Alpha{A: uint8(min1(lum) * 255)})
		}
	}
	return out, nil
}

func max1(v int) int {
	if v < 1 {
		return 1
	}
	return v
}

// finishMask applies feather (a box-blur approximation of a gaussian blur,
// since none of the reference dependencies carry an image filter kernel)
// and the inverted flag, shared by every shape variant.
func finishMask(img *image.Alpha, m *timeline.Mask) *image.Alpha {
	if m.Feather > 0 {
		img = featherAlpha(img, m.Feather)
	}
	if m.Inverted {
		for i, v := range img.Pix {
			img.Pix[i] = 255 - v
		}
	}
	return img
}

// featherAlpha approximates a gaussian blur of the given radius with three
// passes of a box blur, the standard cheap substitute when no true
// gaussian kernel is available (Central Limit Theorem convergence).
func featherAlpha(img *image.Alpha, radius float64) *image.Alpha {
	r := int(radius)
	if r < 1 {
		return img
	}
	out := img
	for pass := 0; pass < 3; pass++ {
		out = boxBlurAlpha(out, r)
	}
	return out
}

func boxBlurAlpha(img *image.Alpha, r int) *image.Alpha {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	horiz := image.NewAlpha(bounds)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var sum, count int
			for k := -r; k <= r; k++ {
				sx := x + k
				if sx < 0 || sx >= w {
					continue
				}
				sum += int(img.AlphaAt(sx, y).A)
				count++
			}
			horiz.SetAlpha(x, y, color.Alpha{A: uint8(sum / max1(count))})
		}
	}
	out := image.NewAlpha(bounds)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var sum, count int
			for k := -r; k <= r; k++ {
				sy := y + k
				if sy < 0 || sy >= h {
					continue
				}
				sum += int(horiz.AlphaAt(x, sy).A)
				count++
			}
			out.SetAlpha(x, y, color.Alpha{A: uint8(sum / max1(count))})
		}
	}
	return out
}

// SaveMaskPNG writes img to path, used to materialise a static shape mask
// into an intermediate file the media engine's alphamerge filter can read.
func SaveMaskPNG(path string, img *image.Alpha) error {
	os.Remove(path)
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("compositor: create mask file %s: %w", path, err)
	}
	defer f.Close()
	return png.Encode(f, img)
}
