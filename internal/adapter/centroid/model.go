// Package centroid is the reference model: a nearest-centroid classifier
// whose class centroids move toward each batch's class means at the learning
// rate. Models persist as bbolt files.
package centroid

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"slices"

	"github.com/Strob0t/AIDTrainer/internal/domain/optim"
	"github.com/Strob0t/AIDTrainer/internal/port/dataset"
	"github.com/Strob0t/AIDTrainer/internal/port/model"
)

// defaultBatchSize is used when a fit step does not set one.
const defaultBatchSize = 32

// Model implements model.Model.
type Model struct {
	dim       int
	classes   []int
	centroids map[int][]float32
	velocity  map[int][]float32

	loss      optim.Loss
	optimizer optim.Settings
	lr        float64
	dropout   []float64
	metrics   []string

	rng    *rand.Rand
	closed bool
}

var _ model.Model = (*Model)(nil)

// New returns an untrained model for classes. The input size is fixed by the
// first fit step.
func New(classes []int, opts model.CompileOptions) (*Model, error) {
	if len(classes) < 2 {
		return nil, errors.New("a classifier needs at least two classes")
	}
	m := &Model{
		classes:   slices.Sorted(slices.Values(classes)),
		centroids: make(map[int][]float32, len(classes)),
		rng:       rand.New(rand.NewPCG(1, 2)),
	}
	if err := m.Compile(opts); err != nil {
		return nil, err
	}
	return m, nil
}

// Classes returns the class labels of the model.
func (m *Model) Classes() []int { return slices.Clone(m.classes) }

// Compile implements model.Model.
func (m *Model) Compile(opts model.CompileOptions) error {
	if opts.Optimizer.Kind == "" {
		opts.Optimizer = optim.Defaults(optim.Adam)
	}
	if err := opts.Optimizer.Validate(); err != nil {
		return err
	}
	if opts.Loss == "" {
		opts.Loss = optim.CategoricalCrossentropy
	}
	m.loss = opts.Loss
	m.optimizer = opts.Optimizer
	m.lr = opts.Optimizer.LearningRate
	m.dropout = slices.Clone(opts.Dropout)
	m.metrics = slices.Clone(opts.Metrics)
	m.velocity = make(map[int][]float32, len(m.classes))
	return nil
}

func (m *Model) Loss() optim.Loss           { return m.loss }
func (m *Model) Optimizer() optim.Kind      { return m.optimizer.Kind }
func (m *Model) Dropout() []float64         { return slices.Clone(m.dropout) }
func (m *Model) LearningRate() float64      { return m.lr }
func (m *Model) SetLearningRate(lr float64) { m.lr = lr }

// Close releases the model. The model is not usable afterwards.
func (m *Model) Close() error {
	m.closed = true
	return nil
}

// FitStep implements model.Model.
func (m *Model) FitStep(ctx context.Context, batch *dataset.Batch, opts model.FitOptions) (model.Metrics, error) {
	if m.closed {
		return nil, errors.New("model is closed")
	}
	if batch.Len() == 0 {
		return nil, errors.New("empty training batch")
	}
	if err := m.checkInput(batch); err != nil {
		return nil, err
	}

	size := opts.BatchSize
	if size <= 0 {
		size = defaultBatchSize
	}
	order := m.rng.Perm(batch.Len())
	for start := 0; start < len(order); start += size {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if opts.Scheduler != nil && opts.Scheduler.Active() {
			m.lr = opts.Scheduler.Rate(m.lr)
			opts.Scheduler.Step()
		}
		m.update(batch, order[start:min(start+size, len(order))], opts.ClassWeights)
	}

	out := model.Metrics{}
	out["loss"], out["accuracy"] = m.evaluate(batch, opts.ClassWeights)
	if opts.Validation.Len() > 0 {
		if err := m.checkInput(opts.Validation); err != nil {
			return nil, fmt.Errorf("validation: %w", err)
		}
		out["val_loss"], out["val_accuracy"] = m.evaluate(opts.Validation, nil)
	}
	return out, nil
}

func (m *Model) checkInput(batch *dataset.Batch) error {
	n := len(batch.Images[0].Pix)
	if m.dim == 0 {
		m.dim = n
	}
	for i, img := range batch.Images {
		if len(img.Pix) != m.dim {
			return fmt.Errorf("sample %d has %d values, model input is %d", i, len(img.Pix), m.dim)
		}
		if !slices.Contains(m.classes, batch.Labels[i]) {
			return fmt.Errorf("sample %d has unknown class %d", i, batch.Labels[i])
		}
	}
	return nil
}

// update moves each class centroid toward the mean of its samples in idx.
func (m *Model) update(batch *dataset.Batch, idx []int, weights map[int]float64) {
	sums := make(map[int][]float64)
	counts := make(map[int]int)
	keep := 1.0
	if len(m.dropout) > 0 {
		keep = 1 - m.dropout[0]
	}
	for _, i := range idx {
		label := batch.Labels[i]
		s, ok := sums[label]
		if !ok {
			s = make([]float64, m.dim)
			sums[label] = s
		}
		for k, v := range batch.Images[i].Pix {
			if keep < 1 && m.rng.Float64() >= keep {
				continue
			}
			s[k] += float64(v) / keep
		}
		counts[label]++
	}

	for label, s := range sums {
		c, ok := m.centroids[label]
		if !ok {
			c = make([]float32, m.dim)
			for k := range c {
				c[k] = float32(s[k] / float64(counts[label]))
			}
			m.centroids[label] = c
			continue
		}
		step := m.lr * classWeight(weights, label)
		step = math.Min(step, 1)
		v := m.velocity[label]
		if v == nil {
			v = make([]float32, m.dim)
			m.velocity[label] = v
		}
		for k := range c {
			delta := float32(s[k]/float64(counts[label])) - c[k]
			v[k] = float32(m.optimizer.Momentum)*v[k] + float32(step)*delta
			c[k] += v[k]
		}
	}
}

func classWeight(weights map[int]float64, label int) float64 {
	if w, ok := weights[label]; ok && w > 0 {
		return w
	}
	return 1
}

// evaluate returns the weighted mean loss and the accuracy on batch.
func (m *Model) evaluate(batch *dataset.Batch, weights map[int]float64) (loss, accuracy float64) {
	var total, weightSum float64
	correct := 0
	dists := make([]float64, len(m.classes))
	for i, img := range batch.Images {
		best, bestDist := -1, math.Inf(1)
		for j, class := range m.classes {
			d := math.Inf(1)
			if c, ok := m.centroids[class]; ok {
				d = sqDist(img.Pix, c)
			}
			dists[j] = d
			if d < bestDist {
				best, bestDist = class, d
			}
		}
		if best == batch.Labels[i] {
			correct++
		}
		w := classWeight(weights, batch.Labels[i])
		total += w * m.sampleLoss(dists, slices.Index(m.classes, batch.Labels[i]))
		weightSum += w
	}
	return total / weightSum, float64(correct) / float64(batch.Len())
}

// sampleLoss is the cross-entropy of a softmax over negative distances for
// the crossentropy losses and the squared distance to the own centroid
// otherwise.
func (m *Model) sampleLoss(dists []float64, target int) float64 {
	switch m.loss {
	case optim.CategoricalCrossentropy, optim.SparseCategoricalCrossentropy, optim.KLDivergence:
		lo := math.Inf(1)
		for _, d := range dists {
			lo = math.Min(lo, d)
		}
		if math.IsInf(dists[target], 1) {
			return math.Log(float64(len(dists)))
		}
		var sum float64
		for _, d := range dists {
			if !math.IsInf(d, 1) {
				sum += math.Exp(-(d - lo))
			}
		}
		return (dists[target] - lo) + math.Log(sum)
	default:
		if math.IsInf(dists[target], 1) {
			return 1
		}
		return dists[target] / float64(max(len(dists), 1))
	}
}

func sqDist(a, b []float32) float64 {
	var s float64
	for i := range a {
		d := float64(a[i] - b[i])
		s += d * d
	}
	return s / float64(max(len(a), 1))
}
