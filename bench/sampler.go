package bench

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/loadbench/loadbench/bench/observability"
)

// StatusSource yields a consistent sample of a node's admission state.
// Implemented by AdmissionScheduler.
type StatusSource interface {
	Status(now time.Time) StatusSample
}

// BatchSender delivers a status batch to the collector. Best effort.
type BatchSender interface {
	SendBatch(ctx context.Context, batch ReportBatch) error
}

// StatusStore persists the most recent batch per node.
// Save must never leave a partially written batch visible to Load.
type StatusStore interface {
	Save(ctx context.Context, batch ReportBatch) error
	Load(ctx context.Context, nodeID string) (ReportBatch, error)
}

// defaultSendBuffer bounds the batches waiting for the sender goroutine.
const defaultSendBuffer = 64

// StatusSampler periodically samples a node and ships full batches to the
// collector (fire-and-forget) and to the status store. Neither failure stops
// sampling.
type StatusSampler struct {
	nodeID    string
	source    StatusSource
	period    time.Duration
	batchSize int
	sender    BatchSender
	store     StatusStore

	batch []StatusSample
	sends chan ReportBatch
}

// NewStatusSampler creates a sampler. sender and store may be nil.
func NewStatusSampler(nodeID string, source StatusSource, period time.Duration, batchSize int, sender BatchSender, store StatusStore) *StatusSampler {
	if batchSize < 1 {
		batchSize = 1
	}
	return &StatusSampler{
		nodeID:    nodeID,
		source:    source,
		period:    period,
		batchSize: batchSize,
		sender:    sender,
		store:     store,
		batch:     make([]StatusSample, 0, batchSize),
		sends:     make(chan ReportBatch, defaultSendBuffer),
	}
}

// Run samples every period until ctx is cancelled.
func (s *StatusSampler) Run(ctx context.Context) {
	if s.sender != nil {
		go s.sendLoop(ctx)
	}
	ticker := time.NewTicker(s.period)
	defer ticker.Stop()

	logrus.WithField("node", s.nodeID).Infof("Status sampling every %v, batch %d", s.period, s.batchSize)
	for {
		select {
		case <-ctx.Done():
			logrus.WithField("node", s.nodeID).Info("Status sampler stopping...")
			return
		case now := <-ticker.C:
			s.tick(ctx, now)
		}
	}
}

// tick records one sample and flushes the batch when it is full.
func (s *StatusSampler) tick(ctx context.Context, now time.Time) {
	s.batch = append(s.batch, s.source.Status(now))
	if len(s.batch) < s.batchSize {
		return
	}
	batch := ReportBatch{NodeID: s.nodeID, Samples: s.batch}
	s.batch = make([]StatusSample, 0, s.batchSize)

	if s.sender != nil {
		select {
		case s.sends <- batch.Clone():
		default:
			observability.StatusBatchesDropped.WithLabelValues(s.nodeID).Inc()
			logrus.WithField("node", s.nodeID).Warn("Status sender backed up, dropping batch")
		}
	}
	if s.store != nil {
		if err := s.store.Save(ctx, batch); err != nil {
			observability.StatusPersistFailures.WithLabelValues(s.nodeID).Inc()
			logrus.WithField("node", s.nodeID).Errorf("Persisting status: %v", err)
		}
	}
}

func (s *StatusSampler) sendLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case batch := <-s.sends:
			if err := s.sender.SendBatch(ctx, batch); err != nil {
				logrus.WithField("node", s.nodeID).Errorf("Sending status to collector: %v", err)
			}
		}
	}
}
