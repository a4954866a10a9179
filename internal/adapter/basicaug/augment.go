// Package basicaug is the reference augmenter. It applies flips and
// brightness changes and leaves the geometric and blur parameters to richer
// implementations of the augment port.
package basicaug

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync"

	"github.com/Strob0t/AIDTrainer/internal/domain/run"
	"github.com/Strob0t/AIDTrainer/internal/port/augment"
	"github.com/Strob0t/AIDTrainer/internal/port/dataset"
)

// Augmenter implements augment.Augmenter.
type Augmenter struct {
	mu   sync.Mutex
	rng  *rand.Rand
	once sync.Once
}

var _ augment.Augmenter = (*Augmenter)(nil)

// New creates an Augmenter seeded with seed.
func New(seed uint64) *Augmenter {
	return &Augmenter{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// Augment implements augment.Augmenter.
func (a *Augmenter) Augment(ctx context.Context, images []dataset.Image, params run.Augmentation, _ run.PaddingMode) error {
	if unsupported(params) {
		a.once.Do(func() {
			slog.Warn("augmentation parameters beyond flips and brightness are ignored")
		})
	}
	for i := range images {
		if err := ctx.Err(); err != nil {
			return err
		}
		a.apply(&images[i], params)
	}
	return nil
}

func (a *Augmenter) apply(img *dataset.Image, p run.Augmentation) {
	a.mu.Lock()
	flipH := p.HorizontalFlip && a.rng.IntN(2) == 1
	flipV := p.VerticalFlip && a.rng.IntN(2) == 1
	add := a.uniform(p.BrightnessAdd)
	mult := float32(1)
	if !p.BrightnessMult.Zero() {
		mult = a.uniform(p.BrightnessMult)
	}
	a.mu.Unlock()

	if flipH {
		flipHorizontal(img)
	}
	if flipV {
		flipVertical(img)
	}
	if add != 0 || mult != 1 {
		for i, v := range img.Pix {
			img.Pix[i] = v*mult + add
		}
	}
}

// uniform must be called with a.mu held.
func (a *Augmenter) uniform(r run.Range) float32 {
	if r.Zero() {
		return 0
	}
	return float32(r.Min + a.rng.Float64()*(r.Max-r.Min))
}

func flipHorizontal(img *dataset.Image) {
	c := img.Channels
	for y := range img.Height {
		row := img.Pix[y*img.Width*c : (y+1)*img.Width*c]
		for l, r := 0, img.Width-1; l < r; l, r = l+1, r-1 {
			for k := range c {
				row[l*c+k], row[r*c+k] = row[r*c+k], row[l*c+k]
			}
		}
	}
}

func flipVertical(img *dataset.Image) {
	stride := img.Width * img.Channels
	tmp := make([]float32, stride)
	for t, b := 0, img.Height-1; t < b; t, b = t+1, b-1 {
		top := img.Pix[t*stride : (t+1)*stride]
		bottom := img.Pix[b*stride : (b+1)*stride]
		copy(tmp, top)
		copy(top, bottom)
		copy(bottom, tmp)
	}
}

func unsupported(p run.Augmentation) bool {
	p.HorizontalFlip = false
	p.VerticalFlip = false
	p.BrightnessAdd = run.Range{}
	p.BrightnessMult = run.Range{}
	return p.Enabled()
}
