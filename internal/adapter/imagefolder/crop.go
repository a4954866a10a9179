package imagefolder

import (
	"image"
	"math"

	"github.com/Strob0t/AIDTrainer/internal/domain/run"
	"github.com/Strob0t/AIDTrainer/internal/port/dataset"
)

// crop samples a size x size image at zoom starting at pos. Order 0 uses the
// nearest pixel, higher orders interpolate bilinearly.
func crop(src dataset.Image, pos image.Point, size, channels int, zoom float64, order int, mode run.PaddingMode) dataset.Image {
	out := dataset.Image{Width: size, Height: size, Channels: channels, Pix: make([]float32, size*size*channels)}
	var rgb [3]float32
	for oy := range size {
		for ox := range size {
			sx := float64(pos.X) + (float64(ox)+0.5)/zoom - 0.5
			sy := float64(pos.Y) + (float64(oy)+0.5)/zoom - 0.5
			if order == 0 {
				rgb = pixel(src, int(math.Round(sx)), int(math.Round(sy)), mode)
			} else {
				rgb = bilinear(src, sx, sy, mode)
			}
			i := (oy*size + ox) * channels
			if channels == 1 {
				out.Pix[i] = 0.299*rgb[0] + 0.587*rgb[1] + 0.114*rgb[2]
				continue
			}
			copy(out.Pix[i:i+3], rgb[:])
		}
	}
	return out
}

func bilinear(src dataset.Image, x, y float64, mode run.PaddingMode) [3]float32 {
	x0, y0 := math.Floor(x), math.Floor(y)
	fx, fy := float32(x-x0), float32(y-y0)
	ix, iy := int(x0), int(y0)

	a := pixel(src, ix, iy, mode)
	b := pixel(src, ix+1, iy, mode)
	c := pixel(src, ix, iy+1, mode)
	d := pixel(src, ix+1, iy+1, mode)

	var out [3]float32
	for k := range out {
		top := a[k]*(1-fx) + b[k]*fx
		bottom := c[k]*(1-fx) + d[k]*fx
		out[k] = top*(1-fy) + bottom*fy
	}
	return out
}

// pixel returns the RGB value at (x, y), resolving coordinates outside the
// image with the padding mode.
func pixel(src dataset.Image, x, y int, mode run.PaddingMode) [3]float32 {
	px, okx := pad(x, src.Width, mode)
	py, oky := pad(y, src.Height, mode)
	if !okx || !oky {
		return [3]float32{}
	}
	i := (py*src.Width + px) * 3
	return [3]float32{src.Pix[i], src.Pix[i+1], src.Pix[i+2]}
}

// pad maps i into [0, n). It returns false when the position is outside and
// the mode fills with a constant.
func pad(i, n int, mode run.PaddingMode) (int, bool) {
	if n <= 0 {
		return 0, false
	}
	if i >= 0 && i < n {
		return i, true
	}
	switch mode {
	case run.PadEdge, run.PadDelete:
		return min(max(i, 0), n-1), true
	case run.PadWrap:
		return ((i % n) + n) % n, true
	case run.PadSymmetric:
		period := 2 * n
		m := ((i % period) + period) % period
		if m >= n {
			m = period - 1 - m
		}
		return m, true
	case run.PadReflect:
		if n == 1 {
			return 0, true
		}
		period := 2 * (n - 1)
		m := ((i % period) + period) % period
		if m >= n {
			m = period - m
		}
		return m, true
	default:
		return 0, false
	}
}

type stats struct {
	mean, std float32
}

func statsOf(pix []float32) stats {
	if len(pix) == 0 {
		return stats{}
	}
	var sum, sq float64
	for _, v := range pix {
		sum += float64(v)
		sq += float64(v) * float64(v)
	}
	n := float64(len(pix))
	mean := sum / n
	variance := max(sq/n-mean*mean, 0)
	return stats{mean: float32(mean), std: float32(math.Sqrt(variance))}
}

// normalize rescales img in place. Values are already in [0, 1] after
// decoding, which is the div255 normalization.
func normalize(img *dataset.Image, mode run.Normalization, ds stats) {
	var s stats
	switch mode {
	case run.NormImageStd:
		s = statsOf(img.Pix)
	case run.NormDatasetStd:
		s = ds
	default:
		return
	}
	for i, v := range img.Pix {
		v -= s.mean
		if s.std > 0 {
			v /= s.std
		}
		img.Pix[i] = v
	}
}
