package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	aidotel "github.com/Strob0t/AIDTrainer/internal/adapter/otel"
	"github.com/Strob0t/AIDTrainer/internal/config"
	"github.com/Strob0t/AIDTrainer/internal/domain"
	"github.com/Strob0t/AIDTrainer/internal/domain/event"
	"github.com/Strob0t/AIDTrainer/internal/domain/run"
	"github.com/Strob0t/AIDTrainer/internal/environment"
	"github.com/Strob0t/AIDTrainer/internal/logger"
	"github.com/Strob0t/AIDTrainer/internal/pool"
	"github.com/Strob0t/AIDTrainer/internal/port/augment"
	"github.com/Strob0t/AIDTrainer/internal/port/dataset"
	"github.com/Strob0t/AIDTrainer/internal/port/metastore"
	"github.com/Strob0t/AIDTrainer/internal/port/model"
)

// ControllerDeps are the collaborators of a Controller. Augmenter, Augment and
// Metrics are optional.
type ControllerDeps struct {
	Loader    model.Loader
	Provider  dataset.Provider
	Augmenter augment.Augmenter
	Store     metastore.Store
	Env       environment.Environment
	Augment   *pool.Pool
	Training  config.Training
	Metrics   *aidotel.Metrics
	Now       func() time.Time
}

// Controller runs the epoch loop of training runs. One Controller serves any
// number of runs; all per-run state lives in Run.
type Controller struct {
	loader    model.Loader
	provider  dataset.Provider
	augmenter augment.Augmenter
	store     metastore.Store
	env       environment.Environment
	augment   *pool.Pool
	training  config.Training
	metrics   *aidotel.Metrics
	now       func() time.Time
}

// NewController creates a Controller.
func NewController(d ControllerDeps) *Controller {
	now := d.Now
	if now == nil {
		now = time.Now
	}
	return &Controller{
		loader:    d.Loader,
		provider:  d.Provider,
		augmenter: d.Augmenter,
		store:     d.Store,
		env:       d.Env,
		augment:   d.Augment,
		training:  d.Training,
		metrics:   d.Metrics,
		now:       now,
	}
}

// RunRequest is one training run handed to the Controller.
type RunRequest struct {
	ID       string
	Config   run.Config
	Controls *Controls
}

// runState is the mutable state of one Run call.
type runState struct {
	id       string
	cfg      run.Config
	controls *Controls
	emit     *Emitter
	members  []*member
	weights  map[int]float64
	valid    *dataset.Batch
	warnings *fallbackWarnings
	counter  int
	start    time.Time
}

// Run executes req until its epoch bound is reached, it is stopped, its window
// is closed or ctx is done. The outcome is returned even when the run fails.
func (c *Controller) Run(ctx context.Context, req RunRequest, emit *Emitter) (*run.Outcome, error) {
	ctx = logger.WithRunID(ctx, req.ID)
	controls := req.Controls
	if controls == nil {
		controls = NewControls(req.Config.Epochs)
	}
	rs := &runState{id: req.ID, cfg: req.Config.Clone(), controls: controls, emit: emit}
	rs.warnings = newFallbackWarnings(func(primaryDir, fallbackDir string) {
		c.metrics.FallbackActivated(ctx)
		emit.Notice(event.LevelWarn, "directory %s is not reachable, writing to %s", primaryDir, fallbackDir)
	})
	out := &run.Outcome{RunID: req.ID}

	ctx, span := aidotel.StartRunSpan(ctx, req.ID, rs.cfg.Name, len(rs.cfg.Members()))
	defer span.End()
	c.metrics.RunStarted(ctx)

	if err := c.prepare(ctx, rs); err != nil {
		closeAll(ctx, rs.members)
		return c.finish(ctx, rs, out, err)
	}
	defer closeAll(ctx, rs.members)

	c.setState(rs, run.StateRunning)
	slog.InfoContext(ctx, "training run started", "models", len(rs.members), "epochs", controls.Epochs())

	rs.start = c.now()
	err := c.loop(ctx, rs)
	out.Interrupted = controls.stopRequested() || controls.Closed() || ctx.Err() != nil

	for _, m := range live(rs.members) {
		c.flush(ctx, rs, m, true)
	}
	if err == nil {
		emit.Progress(100)
	}
	for _, dir := range rs.warnings.dirs() {
		emit.Notice(event.LevelWarn, "outputs of this run were written to fallback directory %s", dir)
	}
	return c.finish(ctx, rs, out, err)
}

// finish fills the outcome and sets the terminal state.
func (c *Controller) finish(ctx context.Context, rs *runState, out *run.Outcome, err error) (*run.Outcome, error) {
	out.Epochs = rs.counter
	out.Fallback = len(rs.warnings.dirs()) > 0
	for _, m := range rs.members {
		out.Members = append(out.Members, m.result())
	}
	if err != nil {
		out.State = run.StateFailed
		out.Error = err.Error()
		c.setState(rs, run.StateFailed)
		c.metrics.RunEnded(ctx, true)
		slog.ErrorContext(ctx, "training run failed", "epochs", rs.counter, "error", err)
		return out, err
	}
	out.State = run.StateCompleted
	c.setState(rs, run.StateCompleted)
	c.metrics.RunEnded(ctx, false)
	slog.InfoContext(ctx, "training run finished", "epochs", rs.counter, "interrupted", out.Interrupted)
	return out, nil
}

func (c *Controller) setState(rs *runState, s run.State) {
	if rs.controls.setState(s) {
		rs.emit.State(s)
	}
}

// prepare validates the configuration, loads and reconfigures the models,
// resolves class weights, loads the validation set and opens the metadata.
func (c *Controller) prepare(ctx context.Context, rs *runState) error {
	cfg := &rs.cfg
	if cfg.RecordPolicy == "" {
		cfg.RecordPolicy = run.RecordPolicy(c.training.RecordPolicy)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.Device != "" && !c.env.HasDevice(cfg.Device) {
		return fmt.Errorf("%w: device %q is not available on %s", domain.ErrConfiguration, cfg.Device, c.env.Hostname)
	}

	for _, path := range cfg.Members() {
		m, err := c.loader.Load(ctx, path)
		if err != nil {
			if domain.CategoryOf(err) == domain.CategoryInternal {
				err = fmt.Errorf("%w: load %s: %v", domain.ErrModelRuntime, path, err)
			}
			return err
		}
		if _, err := reconfigure(m, cfg, cfg.NewModel); err != nil {
			_ = m.Close()
			return fmt.Errorf("model %s: %w", path, err)
		}
		policy := NewCheckpointPolicy(NewFallback(c.training.FallbackRoot, FallbackAnchor(path), rs.warnings.warn), c.training.CheckpointExt)
		meta := NewMetaLog(c.store, NewFallback(c.training.FallbackRoot, FallbackAnchor(path), rs.warnings.warn), MetaPath(path), c.metaInterval(cfg))
		rs.members = append(rs.members, newMember(path, m, policy, meta, schedule(cfg)))
	}

	weights, fellBack := run.ClassWeights(cfg.LossWeights, cfg.EventsPerClass())
	if fellBack {
		rs.emit.Notice(event.LevelWarn, "custom loss weights do not match the training classes, using balanced weights")
	}
	rs.weights = weights

	valid, err := c.validationSet(ctx, rs)
	if err != nil {
		return err
	}
	rs.valid = valid

	used, overview := c.usedData(cfg)
	for _, m := range rs.members {
		if err := m.meta.Open(ctx, c.now(), used, overview, c.parameters(cfg, 1)); err != nil {
			rs.emit.Notice(event.LevelWarn, "metadata of %s could not be opened: %v", m.path, err)
			slog.WarnContext(ctx, "open metadata failed", "model", m.path, "error", err)
		}
	}
	return nil
}

func (c *Controller) metaInterval(cfg *run.Config) time.Duration {
	if cfg.MetaSaveSeconds > 0 {
		return time.Duration(cfg.MetaSaveSeconds) * time.Second
	}
	return c.training.MetaSaveInterval
}

func (c *Controller) parameters(cfg *run.Config, epochStarted int) run.ParametersRow {
	return run.ParametersRow{
		EpochStarted: epochStarted,
		Settings:     cfg.Clone(),
		Host:         c.env.Hostname,
		CPU:          c.env.CPUSummary(),
		Time:         c.now(),
	}
}

func (c *Controller) usedData(cfg *run.Config) ([]run.SourceFile, []metastore.ClassOverview) {
	byClass := make(map[int]*metastore.ClassOverview)
	var order []int
	for _, s := range cfg.Sources {
		row, ok := byClass[s.Class]
		if !ok {
			row = &metastore.ClassOverview{Class: s.Class}
			byClass[s.Class] = row
			order = append(order, s.Class)
		}
		if s.Role == run.RoleValid {
			row.ValidEvents += s.Events
		} else {
			row.TrainEvents += s.Events
		}
	}
	overview := make([]metastore.ClassOverview, 0, len(order))
	for _, class := range order {
		overview = append(overview, *byClass[class])
	}
	return cfg.Sources, overview
}

func (c *Controller) request(cfg *run.Config, src run.SourceFile, epoch int) dataset.Request {
	return dataset.Request{
		CropSize:      cfg.CropSize,
		Source:        src.Path,
		Count:         src.Events,
		Shuffle:       src.Shuffle,
		ZoomFactor:    src.ZoomFactor,
		ZoomOrder:     cfg.ZoomOrder,
		ColorMode:     cfg.ColorMode,
		PaddingMode:   cfg.PaddingMode,
		Normalization: cfg.Normalization,
		ExtraInput:    src.ExtraInput,
		Seed:          cfg.Seed + uint64(epoch),
	}
}

// validationSet loads the Valid files once. Exhausted files are skipped.
func (c *Controller) validationSet(ctx context.Context, rs *runState) (*dataset.Batch, error) {
	files := rs.cfg.Files(run.RoleValid)
	if len(files) == 0 {
		return nil, nil
	}
	valid := &dataset.Batch{}
	for _, src := range files {
		b, err := c.provider.NextBatch(ctx, c.request(&rs.cfg, src, 0), src.Class)
		if errors.Is(err, domain.ErrResourceExhausted) {
			rs.emit.Notice(event.LevelWarn, "validation file %s has no usable samples, skipped", src.Path)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load validation file %s: %w", src.Path, err)
		}
		valid.Append(b)
	}
	return valid, nil
}

// trainBatch draws one epoch of training samples.
func (c *Controller) trainBatch(ctx context.Context, rs *runState, epoch int) (*dataset.Batch, error) {
	batch := &dataset.Batch{}
	for _, src := range rs.cfg.Files(run.RoleTrain) {
		b, err := c.provider.NextBatch(ctx, c.request(&rs.cfg, src, epoch), src.Class)
		if errors.Is(err, domain.ErrResourceExhausted) {
			rs.emit.Notice(event.LevelWarn, "training file %s has no usable samples in epoch %d, skipped", src.Path, epoch)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load training file %s: %w", src.Path, err)
		}
		batch.Append(b)
	}
	if batch.Len() == 0 {
		return nil, fmt.Errorf("%w: no training file produced samples in epoch %d", domain.ErrResourceExhausted, epoch)
	}
	return batch, nil
}

// augmentBatch augments the batch in parallel chunks on the augmentation pool.
func (c *Controller) augmentBatch(ctx context.Context, rs *runState, batch *dataset.Batch) error {
	if c.augmenter == nil || !rs.cfg.Augmentation.Enabled() {
		return nil
	}
	chunks := c.augment.Limit()
	if chunks == 0 {
		chunks = max(c.env.LogicalCPUs, 1)
	}
	chunks = min(chunks, batch.Len())
	size := (batch.Len() + chunks - 1) / chunks
	params, padding := rs.cfg.Augmentation, rs.cfg.PaddingMode
	return c.augment.Each(ctx, chunks, func(ctx context.Context, i int) error {
		lo := i * size
		hi := min(lo+size, batch.Len())
		if lo >= hi {
			return nil
		}
		return c.augmenter.Augment(ctx, batch.Images[lo:hi], params, padding)
	})
}

// loop runs epochs until the bound is reached. The bound is read again on
// every iteration because Stop and hot-swaps move it.
func (c *Controller) loop(ctx context.Context, rs *runState) error {
	for {
		if err := c.waitWhilePaused(ctx, rs); err != nil {
			slog.InfoContext(ctx, "training run cancelled while paused", "error", err)
			return nil
		}
		if h, ok := rs.controls.takeSwap(); ok {
			if err := c.applySwap(ctx, rs, h); err != nil {
				return err
			}
		}
		if rs.counter >= rs.controls.Epochs() {
			return nil
		}
		if rs.controls.Closed() || ctx.Err() != nil {
			slog.InfoContext(ctx, "training run abandoned", "epochs", rs.counter)
			return nil
		}
		if err := c.epoch(ctx, rs); err != nil {
			return err
		}
		if len(live(rs.members)) == 0 {
			return fmt.Errorf("%w: every model of the collection failed", domain.ErrModelRuntime)
		}
		rs.counter++
		rs.controls.epochDone()
		rs.emit.Progress(float64(rs.counter) / float64(max(rs.controls.Epochs(), 1)) * 100)
	}
}

// waitWhilePaused polls the controls until the run is resumed, stopped or
// closed. It returns ctx.Err() when ctx is done while paused.
func (c *Controller) waitWhilePaused(ctx context.Context, rs *runState) error {
	if !rs.controls.Paused() {
		return nil
	}
	c.setState(rs, run.StatePaused)
	slog.InfoContext(ctx, "training run paused", "epochs", rs.counter)

	ticker := time.NewTicker(c.training.PausePoll)
	defer ticker.Stop()
	for rs.controls.Paused() && !rs.controls.Closed() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	c.setState(rs, run.StateRunning)
	return nil
}

// applySwap applies a pending settings change at an epoch boundary.
func (c *Controller) applySwap(ctx context.Context, rs *runState, h run.HotSwap) error {
	lossChanged := h.ApplyTo(&rs.cfg)
	if h.LossWeights != nil {
		weights, fellBack := run.ClassWeights(rs.cfg.LossWeights, rs.cfg.EventsPerClass())
		if fellBack {
			rs.emit.Notice(event.LevelWarn, "custom loss weights do not match the training classes, using balanced weights")
		}
		rs.weights = weights
	}
	next := rs.counter + 1
	for _, m := range live(rs.members) {
		compiled, err := reconfigure(m.model, &rs.cfg, false)
		if err != nil {
			if !rs.cfg.Collection() {
				return fmt.Errorf("model %s: %w", m.path, err)
			}
			c.memberFailed(ctx, rs, m, next, err)
			continue
		}
		if compiled {
			rs.emit.Notice(event.LevelInfo, "%s recompiled with loss %s and optimizer %s", m.path, rs.cfg.Loss, rs.cfg.Optimizer.Kind)
		}
		if lossChanged {
			m.tracker.ResetLoss()
		}
		if h.Schedule != nil {
			m.sched.Reset(schedule(&rs.cfg))
		}
		if err := m.meta.AppendParameters(ctx, c.parameters(&rs.cfg, next)); err != nil {
			rs.emit.Notice(event.LevelWarn, "parameters of %s could not be recorded: %v", m.path, err)
		}
	}
	rs.emit.Notice(event.LevelInfo, "new settings apply from epoch %d", next)
	slog.InfoContext(ctx, "settings applied", "epoch", next, "loss_changed", lossChanged, "epochs", rs.controls.Epochs())
	return nil
}

// epoch trains every live member on one shared batch.
func (c *Controller) epoch(ctx context.Context, rs *runState) error {
	epoch := rs.counter + 1
	ctx, span := aidotel.StartEpochSpan(ctx, rs.id, epoch)
	defer span.End()

	batch, err := c.trainBatch(ctx, rs, epoch)
	if err != nil {
		return err
	}
	if err := c.augmentBatch(ctx, rs, batch); err != nil {
		return fmt.Errorf("augment epoch %d: %w", epoch, err)
	}
	save := rs.controls.takeSave()

	for _, m := range live(rs.members) {
		if err := c.fit(ctx, rs, m, batch, epoch, save); err != nil {
			if !rs.cfg.Collection() {
				return err
			}
			c.memberFailed(ctx, rs, m, epoch, err)
		}
	}
	return nil
}

func (c *Controller) memberFailed(ctx context.Context, rs *runState, m *member, epoch int, err error) {
	m.fail(epoch, err)
	te := NewTaskError(err)
	te.ModelPath = m.path
	te.Epoch = epoch
	rs.emit.Error(te)
	slog.ErrorContext(ctx, "collection member failed", "model", m.path, "epoch", epoch, "error", err)
	c.flush(ctx, rs, m, true)
}

// fit runs one epoch of one member and records the result.
func (c *Controller) fit(ctx context.Context, rs *runState, m *member, batch *dataset.Batch, epoch int, save bool) error {
	start := c.now()
	metrics, err := c.fitStep(ctx, rs, m, batch, epoch)
	if err != nil {
		return err
	}
	elapsed := c.now().Sub(start)
	c.metrics.EpochFitted(ctx, m.path, elapsed)

	broken := m.tracker.Update(metrics)
	recordBroken := m.tracker.Broken(metrics, broken, rs.cfg.RecordPolicy)
	saved := false
	ev, err := m.policy.Decide(recordBroken, save, m.path, epoch)
	if err != nil {
		rs.emit.Notice(event.LevelWarn, "checkpoint of %s at epoch %d skipped: %v", m.path, epoch, err)
	} else if ev != nil {
		saved = c.save(ctx, rs, m, ev)
	}

	rec := run.EpochRecord{
		Epoch:        epoch,
		Metrics:      metrics,
		Elapsed:      c.now().Sub(rs.start),
		LearningRate: m.model.LearningRate(),
		Saved:        saved,
	}
	m.meta.Append(rec)
	m.outcome.Epochs = epoch
	c.flush(ctx, rs, m, epoch == 1)

	rs.emit.Metrics(event.MetricsPayload{
		ModelPath:    m.path,
		Epoch:        epoch,
		Metrics:      metrics,
		LearningRate: rec.LearningRate,
		Saved:        saved,
	})
	return nil
}

// fitStep trains m for one epoch. Failures and panics of the model runtime
// come back as a TaskError owned by m.
func (c *Controller) fitStep(ctx context.Context, rs *runState, m *member, batch *dataset.Batch, epoch int) (metrics model.Metrics, err error) {
	defer func() {
		if p := recover(); p != nil {
			slog.ErrorContext(ctx, "model runtime panicked", "model", m.path, "epoch", epoch, "panic", p)
			metrics = nil
			err = &TaskError{
				Category:  domain.CategoryModelRuntime,
				Message:   fmt.Sprintf("fit %s at epoch %d: panic: %v", m.path, epoch, p),
				ModelPath: m.path,
				Epoch:     epoch,
				Stack:     string(debug.Stack()),
				Err:       fmt.Errorf("%w: panic: %v", domain.ErrModelRuntime, p),
			}
		}
	}()

	metrics, err = m.model.FitStep(ctx, batch, model.FitOptions{
		ClassWeights: rs.weights,
		Validation:   rs.valid,
		BatchSize:    rs.cfg.BatchSize,
		Scheduler:    m.sched,
	})
	if err != nil {
		return nil, &TaskError{
			Category:  domain.CategoryModelRuntime,
			Message:   fmt.Sprintf("fit %s at epoch %d: %v", m.path, epoch, err),
			ModelPath: m.path,
			Epoch:     epoch,
			Err:       fmt.Errorf("%w: %w", domain.ErrModelRuntime, err),
		}
	}
	return metrics, nil
}

// save writes a checkpoint. A failed write is retried once in the fallback
// directory.
func (c *Controller) save(ctx context.Context, rs *runState, m *member, ev *run.CheckpointEvent) bool {
	_, span := aidotel.StartCheckpointSpan(ctx, ev.Path, string(ev.Reason))
	defer span.End()

	err := m.model.Save(ev.Path)
	if err != nil && !m.policy.FallbackActive() {
		slog.WarnContext(ctx, "checkpoint write failed, retrying in fallback", "path", ev.Path, "error", err)
		if rerr := m.policy.Redirect(ev, m.path); rerr != nil {
			err = errors.Join(err, rerr)
		} else {
			err = m.model.Save(ev.Path)
		}
	}
	if err != nil {
		rs.emit.Notice(event.LevelWarn, "checkpoint %s could not be written: %v", ev.Path, err)
		slog.WarnContext(ctx, "checkpoint write failed", "path", ev.Path, "error", err)
		return false
	}
	m.outcome.Checkpoints = append(m.outcome.Checkpoints, *ev)
	c.metrics.CheckpointSaved(ctx, string(ev.Reason))
	rs.emit.Checkpoint(*ev)
	return true
}

// flush persists buffered history, always when force is set and otherwise on
// the MetaLog cadence. Failures are warnings.
func (c *Controller) flush(ctx context.Context, rs *runState, m *member, force bool) {
	start := c.now()
	var err error
	if force {
		err = m.meta.Flush(ctx, start)
	} else {
		var done bool
		done, err = m.meta.FlushIfDue(ctx, start)
		if !done && err == nil {
			return
		}
	}
	if err != nil {
		rs.emit.Notice(event.LevelWarn, "metadata of %s could not be written: %v", m.path, err)
		slog.WarnContext(ctx, "metadata flush failed", "path", m.meta.Path(), "error", err)
		return
	}
	c.metrics.Flushed(ctx, c.now().Sub(start))
}
