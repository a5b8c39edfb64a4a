package status

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/loadbench/loadbench/bench"
)

// Sink receives status snapshots. Implemented by bench.Router.
type Sink interface {
	ObserveStatus(batch bench.ReportBatch)
}

// Watcher pushes FileStore snapshots to a sink as soon as they are renamed
// into place. Snapshots sampled before the watcher was created are left over
// from an earlier run and never forwarded.
type Watcher struct {
	store   *FileStore
	nodes   map[string]bool
	sink    Sink
	w       *fsnotify.Watcher
	sinceUs int64
}

// NewWatcher starts watching the store's directory for the given nodes.
func NewWatcher(store *FileStore, nodes []string, sink Sink) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating status watcher: %w", err)
	}
	if err := w.Add(store.Dir()); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("watching %q: %w", store.Dir(), err)
	}
	known := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		known[n] = true
	}
	return &Watcher{store: store, nodes: known, sink: sink, w: w, sinceUs: time.Now().UnixMicro()}, nil
}

// Run forwards snapshots until ctx is cancelled, then closes the watcher.
// Fresh snapshots already on disk are forwarded first.
func (w *Watcher) Run(ctx context.Context) {
	defer w.w.Close()

	for node := range w.nodes {
		w.forward(ctx, node)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.w.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			name := filepath.Base(ev.Name)
			if !isStatusFile(name) || !w.nodes[name] {
				continue
			}
			w.forward(ctx, name)
		case err, ok := <-w.w.Errors:
			if !ok {
				return
			}
			logrus.Errorf("Status watcher: %v", err)
		}
	}
}

func (w *Watcher) forward(ctx context.Context, nodeID string) {
	batch, err := w.store.Load(ctx, nodeID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			logrus.WithField("node", nodeID).Debugf("Loading status: %v", err)
		}
		return
	}
	if stale(batch, w.sinceUs) {
		logrus.WithField("node", nodeID).Debug("Skipping stale status snapshot")
		return
	}
	w.sink.ObserveStatus(batch)
}

// stale reports whether a batch is empty or its latest sample precedes sinceUs.
func stale(batch bench.ReportBatch, sinceUs int64) bool {
	latest, ok := batch.Latest()
	return !ok || latest.TimestampUs < sinceUs
}

// Poller reads every node's snapshot from a store at a fixed interval and
// forwards the ones that advanced since the previous read. Like the Watcher,
// it ignores snapshots sampled before it was created.
type Poller struct {
	store    bench.StatusStore
	nodes    []string
	sink     Sink
	interval time.Duration
	sinceUs  int64

	seen map[string]int64
}

// NewPoller creates a poller over nodes.
func NewPoller(store bench.StatusStore, nodes []string, sink Sink, interval time.Duration) *Poller {
	ordered := make([]string, len(nodes))
	copy(ordered, nodes)
	return &Poller{
		store:    store,
		nodes:    ordered,
		sink:     sink,
		interval: interval,
		sinceUs:  time.Now().UnixMicro(),
		seen:     make(map[string]int64, len(nodes)),
	}
}

// Run polls until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	p.Poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Poll(ctx)
		}
	}
}

// Poll performs one pass over all nodes and returns how many snapshots were forwarded.
func (p *Poller) Poll(ctx context.Context) int {
	forwarded := 0
	for _, node := range p.nodes {
		batch, err := p.store.Load(ctx, node)
		if err != nil {
			if !errors.Is(err, ErrNotFound) {
				logrus.WithField("node", node).Debugf("Polling status: %v", err)
			}
			continue
		}
		if stale(batch, p.sinceUs) {
			continue
		}
		latest, _ := batch.Latest()
		if latest.TimestampUs <= p.seen[node] {
			continue
		}
		p.seen[node] = latest.TimestampUs
		p.sink.ObserveStatus(batch)
		forwarded++
	}
	return forwarded
}
