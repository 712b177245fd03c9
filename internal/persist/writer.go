// Package persist turns the engine's per-op notifications into debounced
// durable writes: the latest snapshot plus the accepted-op window are
// flushed once a document has been quiet for the debounce interval. The
// in-memory copy keeps serving regardless of persistence failures; failed
// flushes are retried with exponential backoff and surfaced to alerting.
package persist

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"golang.org/x/sync/errgroup"

	"toolforge/api/internal/document"
)

// Store is the durable backend (PostgreSQL in production).
type Store interface {
	SaveSnapshot(ctx context.Context, snap document.Snapshot) error
	LoadSnapshot(ctx context.Context, documentID string) (document.Snapshot, bool, error)
	AppendOps(ctx context.Context, records []document.OpRecord) error
}

// Mirror receives every successfully flushed snapshot (git history).
type Mirror interface {
	CommitSnapshot(snap document.Snapshot, author string) error
}

// Archiver receives every successfully flushed snapshot (object storage).
type Archiver interface {
	StoreSnapshot(ctx context.Context, snap document.Snapshot) error
}

// Indexer receives every successfully flushed snapshot (search).
type Indexer interface {
	IndexSnapshot(snap document.Snapshot)
}

// Notifier is told about flushes that exhausted their retry budget.
type Notifier interface {
	PersistenceFailure(documentID string, version int64, err error)
}

type pending struct {
	snap       document.Snapshot
	ops        []document.OpRecord
	lastAuthor string
	timer      *time.Timer
}

// Writer implements collab.PersistenceSink. Mirror, archiver, indexer, and
// notifier may each be nil.
type Writer struct {
	store    Store
	debounce time.Duration
	maxRetry time.Duration

	mirror   Mirror
	archiver Archiver
	indexer  Indexer
	notifier Notifier

	mu      sync.Mutex
	pending map[string]*pending
	closed  bool
	wg      sync.WaitGroup
}

func NewWriter(store Store, debounce time.Duration) *Writer {
	if debounce <= 0 {
		debounce = 2 * time.Second
	}
	return &Writer{
		store:    store,
		debounce: debounce,
		maxRetry: 30 * time.Second,
		pending:  make(map[string]*pending),
	}
}

// WithRetryBudget caps how long a failed flush keeps retrying before it is
// reported and requeued.
func (w *Writer) WithRetryBudget(d time.Duration) *Writer {
	if d > 0 {
		w.maxRetry = d
	}
	return w
}

func (w *Writer) WithMirror(m Mirror) *Writer     { w.mirror = m; return w }
func (w *Writer) WithArchiver(a Archiver) *Writer { w.archiver = a; return w }
func (w *Writer) WithIndexer(i Indexer) *Writer   { w.indexer = i; return w }
func (w *Writer) WithNotifier(n Notifier) *Writer { w.notifier = n; return w }

// LoadSnapshot lets the writer double as the engine's SnapshotLoader, so
// first load after a crash rehydrates from the last flushed state.
func (w *Writer) LoadSnapshot(ctx context.Context, documentID string) (document.Snapshot, bool, error) {
	return w.store.LoadSnapshot(ctx, documentID)
}

// OpAccepted coalesces bursts: each accepted op replaces the pending
// snapshot and resets the debounce timer, so a typing burst produces one
// write. Called from document actors; must not block.
func (w *Writer) OpAccepted(snap document.Snapshot, rec document.OpRecord) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	p, ok := w.pending[snap.DocumentID]
	if !ok {
		p = &pending{}
		w.pending[snap.DocumentID] = p
	}
	p.snap = snap
	p.ops = append(p.ops, rec)
	p.lastAuthor = rec.Author
	if p.timer != nil {
		p.timer.Stop()
	}
	id := snap.DocumentID
	p.timer = time.AfterFunc(w.debounce, func() { w.flush(id) })
}

func (w *Writer) flush(documentID string) {
	w.mu.Lock()
	p, ok := w.pending[documentID]
	if !ok {
		w.mu.Unlock()
		return
	}
	delete(w.pending, documentID)
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.wg.Add(1)
	w.mu.Unlock()

	go func() {
		defer w.wg.Done()
		w.write(context.Background(), p)
	}()
}

func (w *Writer) write(ctx context.Context, p *pending) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 250 * time.Millisecond
	policy.MaxElapsedTime = w.maxRetry

	attempt := func() error {
		if err := w.store.SaveSnapshot(ctx, p.snap); err != nil {
			return err
		}
		return w.store.AppendOps(ctx, p.ops)
	}

	if err := backoff.Retry(attempt, policy); err != nil {
		log.Printf("persist: flush %s v%d failed after retries: %v", p.snap.DocumentID, p.snap.Version, err)
		if w.notifier != nil {
			w.notifier.PersistenceFailure(p.snap.DocumentID, p.snap.Version, err)
		}
		w.requeue(p)
		return
	}

	if w.mirror != nil {
		if err := w.mirror.CommitSnapshot(p.snap, p.lastAuthor); err != nil {
			log.Printf("persist: history mirror %s v%d: %v", p.snap.DocumentID, p.snap.Version, err)
		}
	}
	if w.archiver != nil {
		if err := w.archiver.StoreSnapshot(ctx, p.snap); err != nil {
			log.Printf("persist: archive %s v%d: %v", p.snap.DocumentID, p.snap.Version, err)
		}
	}
	if w.indexer != nil {
		w.indexer.IndexSnapshot(p.snap)
	}
}

// requeue folds a failed flush back into the pending set so a later timer
// picks it up; durability is delayed, never abandoned, while the document
// keeps serving from memory.
func (w *Writer) requeue(p *pending) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	cur, ok := w.pending[p.snap.DocumentID]
	if !ok {
		p.timer = time.AfterFunc(w.debounce, func() { w.flush(p.snap.DocumentID) })
		w.pending[p.snap.DocumentID] = p
		return
	}
	// Newer ops arrived while we were failing; keep the newer snapshot and
	// prepend the unflushed ops.
	cur.ops = append(p.ops, cur.ops...)
}

// FlushAll synchronously flushes every pending document, used on shutdown.
func (w *Writer) FlushAll(ctx context.Context) error {
	w.mu.Lock()
	var detached []*pending
	for id, p := range w.pending {
		if p.timer != nil {
			p.timer.Stop()
		}
		detached = append(detached, p)
		delete(w.pending, id)
	}
	w.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)
	for _, p := range detached {
		g.Go(func() error {
			if err := w.store.SaveSnapshot(ctx, p.snap); err != nil {
				return err
			}
			return w.store.AppendOps(ctx, p.ops)
		})
	}
	return g.Wait()
}

// Close stops accepting notifications and waits for in-flight flushes.
func (w *Writer) Close() {
	w.mu.Lock()
	w.closed = true
	for id, p := range w.pending {
		if p.timer != nil {
			p.timer.Stop()
		}
		delete(w.pending, id)
	}
	w.mu.Unlock()
	w.wg.Wait()
}
