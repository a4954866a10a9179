// Package dataset defines the port for the external dataset provider.
package dataset

import (
	"context"

	"github.com/Strob0t/AIDTrainer/internal/domain/run"
)

// Request selects count samples from one source file.
type Request struct {
	CropSize      int
	Source        string
	Count         int
	Shuffle       bool
	ZoomFactor    float64
	ZoomOrder     int
	ColorMode     run.ColorMode
	PaddingMode   run.PaddingMode
	Normalization run.Normalization
	ExtraInput    bool
	Seed          uint64
}

// Image is one crop in channel-last layout with values in [0, 1].
type Image struct {
	Width    int
	Height   int
	Channels int
	Pix      []float32
}

// Batch is a set of labelled crops. Extra holds per-sample extra input when requested.
type Batch struct {
	Images  []Image
	Labels  []int
	Indices []int
	Extra   [][]float32
}

// Len returns the number of samples in the batch.
func (b *Batch) Len() int {
	if b == nil {
		return 0
	}
	return len(b.Images)
}

// Append adds the samples of other to b.
func (b *Batch) Append(other *Batch) {
	if other == nil {
		return
	}
	b.Images = append(b.Images, other.Images...)
	b.Labels = append(b.Labels, other.Labels...)
	b.Indices = append(b.Indices, other.Indices...)
	b.Extra = append(b.Extra, other.Extra...)
}

// Provider yields batches of crops. Direct and preloaded providers return
// batches of identical count and shape for the same request.
// A source whose usable samples were all filtered out returns an error
// wrapping domain.ErrResourceExhausted.
type Provider interface {
	NextBatch(ctx context.Context, req Request, label int) (*Batch, error)
}
