// Package augment defines the port for the external image augmenter.
package augment

import (
	"context"

	"github.com/Strob0t/AIDTrainer/internal/domain/run"
	"github.com/Strob0t/AIDTrainer/internal/port/dataset"
)

// Augmenter transforms images in place.
type Augmenter interface {
	Augment(ctx context.Context, images []dataset.Image, params run.Augmentation, padding run.PaddingMode) error
}
