package service

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/Strob0t/AIDTrainer/internal/domain/run"
)

// CheckpointPolicy decides whether a model is saved after an epoch and where.
// Each model of a run has its own policy; the Fallback is not shared with the
// model's MetaLog.
type CheckpointPolicy struct {
	fallback *Fallback
	ext      string
}

// NewCheckpointPolicy creates a policy writing through fb. ext is used when
// the model path has no extension of its own.
func NewCheckpointPolicy(fb *Fallback, ext string) *CheckpointPolicy {
	if ext == "" {
		ext = ".model"
	}
	return &CheckpointPolicy{fallback: fb, ext: ext}
}

// Decide returns the checkpoint to write after epoch, or nil when neither a
// record was broken nor a save was requested. A missing primary directory
// switches the policy to its fallback directory for the rest of the run.
func (p *CheckpointPolicy) Decide(recordBroken, userRequested bool, primary string, epoch int) (*run.CheckpointEvent, error) {
	if !recordBroken && !userRequested {
		return nil, nil
	}
	dir, err := p.fallback.Resolve(filepath.Dir(primary))
	if err != nil {
		return nil, err
	}
	reason := run.ReasonRecordBroken
	if userRequested {
		reason = run.ReasonUserRequested
	}
	return &run.CheckpointEvent{
		Epoch:  epoch,
		Path:   filepath.Join(dir, p.fileName(primary, epoch)),
		Reason: reason,
	}, nil
}

// Redirect moves ev into the fallback directory after a failed write.
func (p *CheckpointPolicy) Redirect(ev *run.CheckpointEvent, primary string) error {
	dir, err := p.fallback.Switch(filepath.Dir(primary))
	if err != nil {
		return err
	}
	ev.Path = filepath.Join(dir, filepath.Base(ev.Path))
	return nil
}

// FallbackActive reports whether checkpoints are redirected.
func (p *CheckpointPolicy) FallbackActive() bool { return p.fallback.Active() }

// fileName returns <stem>_<epoch><ext>.
func (p *CheckpointPolicy) fileName(primary string, epoch int) string {
	base := filepath.Base(primary)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	if ext == "" {
		ext = p.ext
	}
	return fmt.Sprintf("%s_%d%s", stem, epoch, ext)
}
