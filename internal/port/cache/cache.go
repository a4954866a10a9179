// Package cache defines the port for the in-process image cache that backs the
// preloaded dataset mode.
package cache

import (
	"context"

	"github.com/Strob0t/AIDTrainer/internal/port/dataset"
)

// Images caches decoded source images by key.
type Images interface {
	Get(ctx context.Context, key string) (dataset.Image, bool)
	// Set stores img. It may be dropped by the admission policy; the return
	// value reports whether it was accepted for admission.
	Set(ctx context.Context, key string, img dataset.Image) bool
	// Wait blocks until pending Sets are visible to Get.
	Wait()
}
