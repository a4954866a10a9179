// Package imagefolder is the reference dataset provider. Each source is a PNG
// or JPEG file and every sample is a square crop taken from it.
package imagefolder

import (
	"context"
	"fmt"
	"hash/fnv"
	"image"
	_ "image/jpeg" // Register JPEG decoding
	_ "image/png"  // Register PNG decoding
	"math"
	"math/rand/v2"
	"os"

	"github.com/Strob0t/AIDTrainer/internal/domain"
	"github.com/Strob0t/AIDTrainer/internal/domain/run"
	"github.com/Strob0t/AIDTrainer/internal/port/cache"
	"github.com/Strob0t/AIDTrainer/internal/port/dataset"
)

// Provider implements dataset.Provider. Without a cache every request decodes
// its source (direct mode); with a cache decoded sources are kept in memory
// (preloaded mode). Both modes return identical batches for the same request.
type Provider struct {
	cache cache.Images
}

var _ dataset.Provider = (*Provider)(nil)

// Option configures a Provider.
type Option func(*Provider)

// WithCache enables preloaded mode.
func WithCache(c cache.Images) Option {
	return func(p *Provider) { p.cache = c }
}

// New creates a Provider.
func New(opts ...Option) *Provider {
	p := &Provider{}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Preload decodes sources into the cache ahead of the first epoch.
func (p *Provider) Preload(ctx context.Context, sources ...string) error {
	if p.cache == nil {
		return nil
	}
	for _, src := range sources {
		if _, err := p.source(ctx, src); err != nil {
			return err
		}
	}
	p.cache.Wait()
	return nil
}

// NextBatch implements dataset.Provider.
func (p *Provider) NextBatch(ctx context.Context, req dataset.Request, label int) (*dataset.Batch, error) {
	if req.CropSize <= 0 || req.Count <= 0 {
		return nil, fmt.Errorf("%w: crop size and count must be positive for %s", domain.ErrConfiguration, req.Source)
	}
	src, err := p.source(ctx, req.Source)
	if err != nil {
		return nil, err
	}

	zoom := req.ZoomFactor
	if zoom <= 0 {
		zoom = 1
	}
	positions := candidates(src, req.CropSize, zoom, req.PaddingMode == run.PadDelete)
	if len(positions) == 0 {
		return nil, fmt.Errorf("%w: %s has no crop of size %d inside the image", domain.ErrResourceExhausted, req.Source, req.CropSize)
	}

	rng := rand.New(rand.NewPCG(req.Seed, sourceHash(req.Source)))
	channels := 1
	if req.ColorMode == run.ColorRGB {
		channels = 3
	}

	var ds stats
	if req.Normalization == run.NormDatasetStd {
		ds = statsOf(src.Pix)
	}

	batch := &dataset.Batch{
		Images:  make([]dataset.Image, 0, req.Count),
		Labels:  make([]int, 0, req.Count),
		Indices: make([]int, 0, req.Count),
	}
	for i := range req.Count {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		idx := i % len(positions)
		if req.Shuffle {
			idx = rng.IntN(len(positions))
		}
		img := crop(src, positions[idx], req.CropSize, channels, zoom, req.ZoomOrder, req.PaddingMode)
		normalize(&img, req.Normalization, ds)
		batch.Images = append(batch.Images, img)
		batch.Labels = append(batch.Labels, label)
		batch.Indices = append(batch.Indices, idx)
		if req.ExtraInput {
			batch.Extra = append(batch.Extra, []float32{float32(zoom)})
		}
	}
	return batch, nil
}

// source returns the decoded source image in RGB channel-last layout.
func (p *Provider) source(ctx context.Context, path string) (dataset.Image, error) {
	if p.cache != nil {
		if img, ok := p.cache.Get(ctx, path); ok {
			return img, nil
		}
	}
	img, err := decode(path)
	if err != nil {
		return dataset.Image{}, err
	}
	if p.cache != nil {
		p.cache.Set(ctx, path, img)
	}
	return img, nil
}

func decode(path string) (dataset.Image, error) {
	f, err := os.Open(path) //nolint:gosec // G304: dataset paths are chosen by the operator
	if err != nil {
		return dataset.Image{}, fmt.Errorf("open source %s: %w", path, domain.ErrNotFound)
	}
	defer func() { _ = f.Close() }()

	m, _, err := image.Decode(f)
	if err != nil {
		return dataset.Image{}, fmt.Errorf("%w: decode %s: %v", domain.ErrConfiguration, path, err)
	}
	b := m.Bounds()
	out := dataset.Image{Width: b.Dx(), Height: b.Dy(), Channels: 3, Pix: make([]float32, b.Dx()*b.Dy()*3)}
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := m.At(x, y).RGBA()
			i := ((y-b.Min.Y)*out.Width + (x - b.Min.X)) * 3
			out.Pix[i] = float32(r) / 0xffff
			out.Pix[i+1] = float32(g) / 0xffff
			out.Pix[i+2] = float32(bl) / 0xffff
		}
	}
	return out, nil
}

// candidates returns the top-left corners of the crops taken from src on a
// grid with a stride of one crop. With inside set only crops that lie fully
// inside the image are kept.
func candidates(src dataset.Image, size int, zoom float64, inside bool) []image.Point {
	span := int(math.Ceil(float64(size) / zoom))
	var out []image.Point
	if !inside {
		for y := 0; y < max(src.Height, 1); y += span {
			for x := 0; x < max(src.Width, 1); x += span {
				out = append(out, image.Pt(x, y))
			}
		}
		return out
	}
	for y := 0; y+span <= src.Height; y += span {
		for x := 0; x+span <= src.Width; x += span {
			out = append(out, image.Pt(x, y))
		}
	}
	return out
}

func sourceHash(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}
