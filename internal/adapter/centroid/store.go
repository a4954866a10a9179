package centroid

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	"go.etcd.io/bbolt"

	"github.com/Strob0t/AIDTrainer/internal/domain"
	"github.com/Strob0t/AIDTrainer/internal/domain/optim"
	"github.com/Strob0t/AIDTrainer/internal/port/model"
)

var (
	bucketMeta      = []byte("meta")
	bucketCentroids = []byte("centroids")
	keyHeader       = []byte("header")
)

// header is the JSON record in the meta bucket.
type header struct {
	Dim       int            `json:"dim"`
	Classes   []int          `json:"classes"`
	Loss      optim.Loss     `json:"loss"`
	Optimizer optim.Settings `json:"optimizer"`
	LR        float64        `json:"learning_rate"`
	Dropout   []float64      `json:"dropout,omitempty"`
	Metrics   []string       `json:"metrics,omitempty"`
	SavedAt   time.Time      `json:"saved_at"`
}

var openOptions = &bbolt.Options{Timeout: time.Second}

// Save implements model.Model. The file at path is replaced.
func (m *Model) Save(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: replace %s: %v", domain.ErrStorageUnavailable, path, err)
	}
	db, err := bbolt.Open(path, 0o600, openOptions)
	if err != nil {
		return fmt.Errorf("%w: open %s: %v", domain.ErrStorageUnavailable, path, err)
	}
	defer func() { _ = db.Close() }()

	h := header{
		Dim:       m.dim,
		Classes:   m.classes,
		Loss:      m.loss,
		Optimizer: m.optimizer,
		LR:        m.lr,
		Dropout:   m.dropout,
		Metrics:   m.metrics,
		SavedAt:   time.Now().UTC(),
	}
	data, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("marshal model header: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		meta, err := tx.CreateBucketIfNotExists(bucketMeta)
		if err != nil {
			return err
		}
		if err := meta.Put(keyHeader, data); err != nil {
			return err
		}
		cb, err := tx.CreateBucketIfNotExists(bucketCentroids)
		if err != nil {
			return err
		}
		for class, c := range m.centroids {
			if err := cb.Put(classKey(class), encodeVector(c)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: write %s: %v", domain.ErrStorageUnavailable, path, err)
	}
	return nil
}

// Loader implements model.Loader for centroid files.
type Loader struct{}

var _ model.Loader = Loader{}

// Load implements model.Loader.
func (Loader) Load(_ context.Context, path string) (model.Model, error) {
	return Open(path)
}

// Open reads the model at path.
func Open(path string) (*Model, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("model %s: %w", path, domain.ErrNotFound)
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second, ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("%w: open model %s: %v", domain.ErrConfiguration, path, err)
	}
	defer func() { _ = db.Close() }()

	var h header
	centroids := make(map[int][]float32)
	err = db.View(func(tx *bbolt.Tx) error {
		meta := tx.Bucket(bucketMeta)
		if meta == nil {
			return errors.New("missing meta bucket")
		}
		if err := json.Unmarshal(meta.Get(keyHeader), &h); err != nil {
			return fmt.Errorf("decode header: %w", err)
		}
		cb := tx.Bucket(bucketCentroids)
		if cb == nil {
			return nil
		}
		return cb.ForEach(func(k, v []byte) error {
			if len(k) != 8 {
				return fmt.Errorf("bad centroid key length %d", len(k))
			}
			centroids[int(int64(binary.BigEndian.Uint64(k)))] = decodeVector(v)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("%w: read model %s: %v", domain.ErrConfiguration, path, err)
	}

	m, err := New(h.Classes, model.CompileOptions{Loss: h.Loss, Optimizer: h.Optimizer, Dropout: h.Dropout, Metrics: h.Metrics})
	if err != nil {
		return nil, fmt.Errorf("%w: model %s: %v", domain.ErrConfiguration, path, err)
	}
	m.dim = h.Dim
	m.lr = h.LR
	m.centroids = centroids
	return m, nil
}

func classKey(class int) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, uint64(int64(class)))
	return k
}

func encodeVector(v []float32) []byte {
	out := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(out[4*i:], math.Float32bits(f))
	}
	return out
}

func decodeVector(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return out
}
