package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Strob0t/AIDTrainer/internal/config"
	"github.com/Strob0t/AIDTrainer/internal/domain"
	"github.com/Strob0t/AIDTrainer/internal/domain/event"
	"github.com/Strob0t/AIDTrainer/internal/domain/optim"
	"github.com/Strob0t/AIDTrainer/internal/domain/run"
	"github.com/Strob0t/AIDTrainer/internal/environment"
	"github.com/Strob0t/AIDTrainer/internal/port/dataset"
	"github.com/Strob0t/AIDTrainer/internal/port/metastore"
	"github.com/Strob0t/AIDTrainer/internal/port/model"
)

// --- model ---

type fakeModel struct {
	mu       sync.Mutex
	loss     optim.Loss
	kind     optim.Kind
	dropout  []float64
	lr       float64
	compiles int
	fits     int
	saves    []string

	compileErr error
	// onFit runs before metrics are produced for the given 1-based call.
	onFit func(call int)
	// metrics returns the metrics of a call. nil uses improving defaults.
	metrics func(call int, loss optim.Loss) model.Metrics
	failAt  int
	panicAt int
}

func newFakeModel() *fakeModel {
	return &fakeModel{loss: optim.CategoricalCrossentropy, kind: optim.Adam, lr: 0.001}
}

func (m *fakeModel) FitStep(_ context.Context, batch *dataset.Batch, opts model.FitOptions) (model.Metrics, error) {
	m.mu.Lock()
	m.fits++
	call := m.fits
	hook := m.onFit
	m.mu.Unlock()

	if hook != nil {
		hook(call)
	}
	if m.failAt == call {
		return nil, errors.New("out of memory on device")
	}
	if m.panicAt == call {
		panic("native runtime fault")
	}
	if batch.Len() == 0 {
		return nil, errors.New("empty batch")
	}
	if opts.Scheduler != nil && opts.Scheduler.Active() {
		m.SetLearningRate(opts.Scheduler.Rate(m.LearningRate()))
		opts.Scheduler.Step()
	}
	if m.metrics != nil {
		return m.metrics(call, m.Loss()), nil
	}
	return model.Metrics{
		"loss":         1 / float64(call),
		"accuracy":     float64(call) / 100,
		"val_loss":     2 / float64(call),
		"val_accuracy": float64(call) / 200,
	}, nil
}

func (m *fakeModel) Save(path string) error {
	m.mu.Lock()
	m.saves = append(m.saves, path)
	m.mu.Unlock()
	return os.WriteFile(path, []byte("weights"), 0o644)
}

func (m *fakeModel) Compile(opts model.CompileOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.compileErr != nil {
		return m.compileErr
	}
	m.compiles++
	m.loss = opts.Loss
	m.kind = opts.Optimizer.Kind
	m.dropout = slices.Clone(opts.Dropout)
	m.lr = opts.Optimizer.LearningRate
	return nil
}

func (m *fakeModel) Loss() optim.Loss {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loss
}

func (m *fakeModel) Optimizer() optim.Kind {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.kind
}

func (m *fakeModel) Dropout() []float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.dropout)
}

func (m *fakeModel) LearningRate() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lr
}

func (m *fakeModel) SetLearningRate(lr float64) {
	m.mu.Lock()
	m.lr = lr
	m.mu.Unlock()
}

func (m *fakeModel) Close() error { return nil }

func (m *fakeModel) compileCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.compiles
}

func (m *fakeModel) savedPaths() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.saves)
}

type fakeLoader struct {
	models map[string]*fakeModel
}

func (l *fakeLoader) Load(_ context.Context, path string) (model.Model, error) {
	m, ok := l.models[path]
	if !ok {
		return nil, fmt.Errorf("%w: model %s", domain.ErrNotFound, path)
	}
	return m, nil
}

// --- dataset ---

type fakeProvider struct {
	mu        sync.Mutex
	exhausted map[string]bool
	requests  []dataset.Request
}

func (p *fakeProvider) NextBatch(_ context.Context, req dataset.Request, label int) (*dataset.Batch, error) {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	exhausted := p.exhausted[req.Source]
	p.mu.Unlock()
	if exhausted {
		return nil, fmt.Errorf("%w: %s", domain.ErrResourceExhausted, req.Source)
	}
	b := &dataset.Batch{}
	for i := range req.Count {
		b.Images = append(b.Images, dataset.Image{
			Width: req.CropSize, Height: req.CropSize, Channels: 1,
			Pix: make([]float32, req.CropSize*req.CropSize),
		})
		b.Labels = append(b.Labels, label)
		b.Indices = append(b.Indices, i)
	}
	return b, nil
}

// --- metastore ---

type fakeWorkbook struct {
	used     []run.SourceFile
	overview []metastore.ClassOverview
	params   []run.ParametersRow
	history  []run.EpochRecord
}

type fakeStore struct {
	mu    sync.Mutex
	books map[string]*fakeWorkbook
	fail  bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{books: make(map[string]*fakeWorkbook)}
}

func (s *fakeStore) Open(_ context.Context, path string) (metastore.Book, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return nil, errors.New("disk full")
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	_ = f.Close()
	wb, ok := s.books[path]
	if !ok {
		wb = &fakeWorkbook{}
		s.books[path] = wb
	}
	return &fakeBook{store: s, wb: wb}, nil
}

func (s *fakeStore) book(path string) *fakeWorkbook {
	s.mu.Lock()
	defer s.mu.Unlock()
	wb, ok := s.books[path]
	if !ok {
		return &fakeWorkbook{}
	}
	return &fakeWorkbook{
		used:     slices.Clone(wb.used),
		overview: slices.Clone(wb.overview),
		params:   slices.Clone(wb.params),
		history:  slices.Clone(wb.history),
	}
}

type fakeBook struct {
	store *fakeStore
	wb    *fakeWorkbook
}

func (b *fakeBook) WriteUsedData(_ context.Context, files []run.SourceFile) error {
	b.store.mu.Lock()
	defer b.store.mu.Unlock()
	b.wb.used = slices.Clone(files)
	return nil
}

func (b *fakeBook) WriteOverview(_ context.Context, rows []metastore.ClassOverview) error {
	b.store.mu.Lock()
	defer b.store.mu.Unlock()
	b.wb.overview = slices.Clone(rows)
	return nil
}

func (b *fakeBook) AppendParameters(_ context.Context, rows ...run.ParametersRow) error {
	b.store.mu.Lock()
	defer b.store.mu.Unlock()
	b.wb.params = append(b.wb.params, rows...)
	return nil
}

func (b *fakeBook) AppendHistory(_ context.Context, rows ...run.EpochRecord) error {
	b.store.mu.Lock()
	defer b.store.mu.Unlock()
	b.wb.history = append(b.wb.history, rows...)
	return nil
}

func (b *fakeBook) Close() error { return nil }

// --- event recorder ---

type recorder struct {
	mu          sync.Mutex
	progress    []float64
	metrics     []event.MetricsPayload
	checkpoints []run.CheckpointEvent
	notices     []event.NoticePayload
	states      []run.State
	errs        []*TaskError
	results     []any
	finished    int
	onState     func(run.State)
}

func (r *recorder) events() Events {
	return Events{
		OnProgress: func(p float64) { r.mu.Lock(); r.progress = append(r.progress, p); r.mu.Unlock() },
		OnMetrics:  func(m event.MetricsPayload) { r.mu.Lock(); r.metrics = append(r.metrics, m); r.mu.Unlock() },
		OnCheckpoint: func(c run.CheckpointEvent) {
			r.mu.Lock()
			r.checkpoints = append(r.checkpoints, c)
			r.mu.Unlock()
		},
		OnNotice: func(n event.NoticePayload) { r.mu.Lock(); r.notices = append(r.notices, n); r.mu.Unlock() },
		OnState: func(s run.State) {
			r.mu.Lock()
			r.states = append(r.states, s)
			hook := r.onState
			r.mu.Unlock()
			if hook != nil {
				hook(s)
			}
		},
		OnError:    func(e *TaskError) { r.mu.Lock(); r.errs = append(r.errs, e); r.mu.Unlock() },
		OnResult:   func(v any) { r.mu.Lock(); r.results = append(r.results, v); r.mu.Unlock() },
		OnFinished: func() { r.mu.Lock(); r.finished++; r.mu.Unlock() },
	}
}

func (r *recorder) warnings(substr string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, no := range r.notices {
		if no.Level == event.LevelWarn && strings.Contains(no.Message, substr) {
			n++
		}
	}
	return n
}

func (r *recorder) metricsFor(path string) []event.MetricsPayload {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []event.MetricsPayload
	for _, m := range r.metrics {
		if m.ModelPath == path {
			out = append(out, m)
		}
	}
	return out
}

// --- fixtures ---

type harness struct {
	dir      string
	fallback string
	loader   *fakeLoader
	provider *fakeProvider
	store    *fakeStore
	ctrl     *Controller
}

func newHarness(t *testing.T, paths ...string) *harness {
	t.Helper()
	root := t.TempDir()
	h := &harness{
		dir:      filepath.Join(root, "models"),
		fallback: filepath.Join(root, "fallback"),
		loader:   &fakeLoader{models: make(map[string]*fakeModel)},
		provider: &fakeProvider{exhausted: make(map[string]bool)},
		store:    newFakeStore(),
	}
	if err := os.MkdirAll(h.dir, 0o755); err != nil {
		t.Fatal(err)
	}
	for _, p := range paths {
		h.loader.models[h.path(p)] = newFakeModel()
	}
	training := config.Defaults().Training
	training.FallbackRoot = h.fallback
	training.PausePoll = 5 * time.Millisecond
	training.MetaSaveInterval = 0
	h.ctrl = NewController(ControllerDeps{
		Loader:   h.loader,
		Provider: h.provider,
		Store:    h.store,
		Env:      environment.Environment{Hostname: "testhost", LogicalCPUs: 2, CPUModel: "test cpu"},
		Training: training,
	})
	return h
}

func (h *harness) path(name string) string { return filepath.Join(h.dir, name) }

func (h *harness) model(name string) *fakeModel { return h.loader.models[h.path(name)] }

func (h *harness) config(epochs int, names ...string) run.Config {
	cfg := run.Config{
		Sources: []run.SourceFile{
			{Path: "class0.tif", Class: 0, Role: run.RoleTrain, Events: 100},
			{Path: "class1.tif", Class: 1, Role: run.RoleTrain, Events: 100},
			{Path: "valid0.tif", Class: 0, Role: run.RoleValid, Events: 10},
			{Path: "valid1.tif", Class: 1, Role: run.RoleValid, Events: 10},
		},
		CropSize:      8,
		ColorMode:     run.ColorGrayscale,
		Normalization: run.NormDiv255,
		PaddingMode:   run.PadConstant,
		Epochs:        epochs,
		BatchSize:     32,
		Loss:          optim.CategoricalCrossentropy,
		Optimizer:     optim.Defaults(optim.Adam),
		Metrics:       []string{"accuracy"},
	}
	if len(names) == 1 {
		cfg.ModelPath = h.path(names[0])
	} else {
		for _, n := range names {
			cfg.ModelPaths = append(cfg.ModelPaths, h.path(n))
		}
	}
	return cfg
}

// run submits the configuration and waits for the outcome.
func (h *harness) run(t *testing.T, cfg run.Config, controls *Controls, rec *recorder) (*run.Outcome, error) {
	t.Helper()
	if controls == nil {
		controls = NewControls(cfg.Epochs)
	}
	var out *run.Outcome
	r := NewRunner(nil, 64)
	handle := r.Submit(context.Background(), "run-1", func(ctx context.Context, emit *Emitter) (any, error) {
		o, err := h.ctrl.Run(ctx, RunRequest{ID: "run-1", Config: cfg, Controls: controls}, emit)
		out = o
		return o, err
	}, rec.events())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := handle.Wait(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		t.Fatal("run did not finish")
	}
	return out, err
}
