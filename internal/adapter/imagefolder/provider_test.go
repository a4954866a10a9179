package imagefolder

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"testing"

	"github.com/Strob0t/AIDTrainer/internal/domain"
	"github.com/Strob0t/AIDTrainer/internal/domain/run"
	"github.com/Strob0t/AIDTrainer/internal/port/dataset"
)

type mapCache struct {
	mu   sync.Mutex
	imgs map[string]dataset.Image
	hits int
}

func (c *mapCache) Get(_ context.Context, key string) (dataset.Image, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	img, ok := c.imgs[key]
	if ok {
		c.hits++
	}
	return img, ok
}

func (c *mapCache) Set(_ context.Context, key string, img dataset.Image) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.imgs == nil {
		c.imgs = make(map[string]dataset.Image)
	}
	c.imgs[key] = img
	return true
}

func (c *mapCache) Wait() {}

func writePNG(t *testing.T, w, h int) string {
	t.Helper()
	m := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			m.Set(x, y, color.RGBA{R: uint8(x * 255 / max(w-1, 1)), G: uint8(y * 255 / max(h-1, 1)), B: 128, A: 255})
		}
	}
	path := filepath.Join(t.TempDir(), "src.png")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = f.Close() }()
	if err := png.Encode(f, m); err != nil {
		t.Fatal(err)
	}
	return path
}

func request(src string) dataset.Request {
	return dataset.Request{
		CropSize:      8,
		Source:        src,
		Count:         12,
		Shuffle:       true,
		ZoomFactor:    1,
		ColorMode:     run.ColorRGB,
		PaddingMode:   run.PadDelete,
		Normalization: run.NormDiv255,
		Seed:          42,
	}
}

func TestNextBatchShape(t *testing.T) {
	src := writePNG(t, 32, 24)
	b, err := New().NextBatch(context.Background(), request(src), 3)
	if err != nil {
		t.Fatal(err)
	}
	if b.Len() != 12 || len(b.Labels) != 12 || b.Labels[0] != 3 {
		t.Fatalf("unexpected batch: %d images, labels %v", b.Len(), b.Labels)
	}
	img := b.Images[0]
	if img.Width != 8 || img.Height != 8 || img.Channels != 3 || len(img.Pix) != 8*8*3 {
		t.Errorf("unexpected image shape %dx%dx%d", img.Width, img.Height, img.Channels)
	}
	for _, v := range img.Pix {
		if v < 0 || v > 1 {
			t.Fatalf("value %f outside [0, 1]", v)
		}
	}
	if b.Extra != nil {
		t.Error("extra input must be empty unless requested")
	}
}

func TestDirectAndPreloadedAgree(t *testing.T) {
	src := writePNG(t, 40, 40)
	req := request(src)
	req.ColorMode = run.ColorGrayscale
	req.ExtraInput = true

	direct, err := New().NextBatch(context.Background(), req, 1)
	if err != nil {
		t.Fatal(err)
	}
	c := &mapCache{}
	p := New(WithCache(c))
	if err := p.Preload(context.Background(), src); err != nil {
		t.Fatal(err)
	}
	preloaded, err := p.NextBatch(context.Background(), req, 1)
	if err != nil {
		t.Fatal(err)
	}
	if c.hits == 0 {
		t.Error("preloaded mode did not use the cache")
	}
	if !reflect.DeepEqual(direct, preloaded) {
		t.Error("direct and preloaded batches differ")
	}
	if preloaded.Images[0].Channels != 1 || len(preloaded.Extra) != req.Count {
		t.Errorf("unexpected grayscale batch: channels %d, extra %d", preloaded.Images[0].Channels, len(preloaded.Extra))
	}
}

func TestSeedIsDeterministic(t *testing.T) {
	src := writePNG(t, 64, 64)
	p := New()
	a, _ := p.NextBatch(context.Background(), request(src), 0)
	b, _ := p.NextBatch(context.Background(), request(src), 0)
	if !reflect.DeepEqual(a.Indices, b.Indices) {
		t.Error("same seed must select the same crops")
	}
	req := request(src)
	req.Seed = 43
	c, _ := p.NextBatch(context.Background(), req, 0)
	if reflect.DeepEqual(a.Indices, c.Indices) {
		t.Error("a different seed should select different crops")
	}
}

func TestDeletePaddingExhausts(t *testing.T) {
	src := writePNG(t, 6, 6)
	_, err := New().NextBatch(context.Background(), request(src), 0)
	if !errors.Is(err, domain.ErrResourceExhausted) {
		t.Fatalf("expected resource exhausted, got %v", err)
	}

	req := request(src)
	req.PaddingMode = run.PadReflect
	b, err := New().NextBatch(context.Background(), req, 0)
	if err != nil {
		t.Fatalf("padded crops should be usable: %v", err)
	}
	if b.Len() != req.Count {
		t.Errorf("expected %d samples, got %d", req.Count, b.Len())
	}
}

func TestImageStdNormalization(t *testing.T) {
	src := writePNG(t, 16, 16)
	req := request(src)
	req.Normalization = run.NormImageStd
	b, err := New().NextBatch(context.Background(), req, 0)
	if err != nil {
		t.Fatal(err)
	}
	s := statsOf(b.Images[0].Pix)
	if s.mean > 1e-4 || s.mean < -1e-4 {
		t.Errorf("expected zero mean, got %f", s.mean)
	}
}

func TestMissingSource(t *testing.T) {
	_, err := New().NextBatch(context.Background(), request(filepath.Join(t.TempDir(), "nope.png")), 0)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestPad(t *testing.T) {
	tests := []struct {
		mode run.PaddingMode
		i    int
		want int
		ok   bool
	}{
		{run.PadConstant, -1, 0, false},
		{run.PadConstant, 2, 2, true},
		{run.PadEdge, -3, 0, true},
		{run.PadEdge, 7, 3, true},
		{run.PadWrap, -1, 3, true},
		{run.PadWrap, 5, 1, true},
		{run.PadReflect, -1, 1, true},
		{run.PadReflect, 4, 2, true},
		{run.PadSymmetric, -1, 0, true},
		{run.PadSymmetric, 4, 3, true},
	}
	for _, tt := range tests {
		got, ok := pad(tt.i, 4, tt.mode)
		if got != tt.want || ok != tt.ok {
			t.Errorf("pad(%d, 4, %s) = %d, %v; want %d, %v", tt.i, tt.mode, got, ok, tt.want, tt.ok)
		}
	}
}
