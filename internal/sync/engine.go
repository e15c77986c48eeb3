package sync

import (
	"context"
	"errors"
	"strings"
	gosync "sync"
	"time"

	"github.com/MosinFAM/timeline/internal/events"
	"github.com/MosinFAM/timeline/internal/logger"
	"github.com/MosinFAM/timeline/internal/metric"
	"github.com/MosinFAM/timeline/internal/models"
	"github.com/MosinFAM/timeline/internal/storage"

	"github.com/cheggaaa/mb/v3"
	"go.uber.org/zap"
)

var (
	ErrClosed          = errors.New("sync engine closed")
	ErrEmptyImage      = errors.New("image is empty")
	ErrEmptyCaption    = errors.New("caption is empty")
	ErrEmptyComment    = errors.New("comment text is empty")
	ErrPostNotFound    = errors.New("post not found")
	ErrParentNotSynced = errors.New("post is not synced yet")
	ErrNoResult        = errors.New("store returned no result")
)

type Option func(*Engine)

func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.log = l }
}

func WithBus(b *events.Bus) Option {
	return func(e *Engine) { e.bus = b }
}

func WithMetrics(m *metric.SyncMetrics) Option {
	return func(e *Engine) { e.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// Engine owns the local post collection and keeps it convergent with the
// remote record store.
//
// Every read and write of the collection, the pending set and the in-flight
// flag happens on a single owner goroutine. Store calls run on their own
// goroutines and hand their completions back to the owner through a FIFO
// queue, so per-record callbacks are applied before the final completion of
// the same call.
type Engine struct {
	store   storage.Storage
	log     *zap.Logger
	bus     *events.Bus
	metrics *metric.SyncMetrics
	now     func() time.Time

	calls     *mb.MB[func()]
	quit      chan struct{}
	stopped   chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce gosync.Once

	// owner goroutine only
	posts     []*models.Post
	pending   map[string]*models.Record // local entity ID -> record being saved
	isSyncing bool
}

// New creates an engine over store and starts its owner goroutine.
func New(store storage.Storage, opts ...Option) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		store:   store,
		log:     logger.NewNamed("sync"),
		now:     time.Now,
		calls:   mb.New[func()](0),
		quit:    make(chan struct{}),
		stopped: make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
		pending: make(map[string]*models.Record),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.bus == nil {
		e.bus = events.NewBus()
	}
	go e.loop()
	return e
}

// Close cancels in-flight store calls and stops the owner goroutine. Tasks
// still waiting on the store resolve with ErrClosed.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		e.cancel()
		close(e.quit)
		_ = e.calls.Close()
	})
	<-e.stopped
	return nil
}

// Events subscribes to collection and post-comments notifications.
func (e *Engine) Events(buffer int) (<-chan events.Event, func()) {
	return e.bus.Subscribe(buffer)
}

func (e *Engine) loop() {
	defer close(e.stopped)
	for {
		fn, err := e.calls.WaitOne(context.Background())
		if err != nil {
			return
		}
		fn()
	}
}

// enqueue schedules fn on the owner goroutine. It never blocks and reports
// false once the engine is closed.
func (e *Engine) enqueue(fn func()) bool {
	select {
	case <-e.quit:
		return false
	default:
	}
	return e.calls.Add(context.Background(), fn) == nil
}

// call runs fn on the owner goroutine and waits for it.
func (e *Engine) call(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	if !e.enqueue(func() { fn(); close(done) }) {
		return ErrClosed
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-e.quit:
		return ErrClosed
	}
}

// remote runs op off the owner goroutine; the func op returns runs back on
// the owner. onClosed runs instead when the engine has been closed meanwhile.
func (e *Engine) remote(op func(ctx context.Context) func(), onClosed func()) {
	go func() {
		next := op(e.ctx)
		if !e.enqueue(next) && onClosed != nil {
			onClosed()
		}
	}()
}

func (e *Engine) publish(ev events.Event) {
	e.bus.Publish(ev)
}

// result treats a missing record the same as an error.
func result(r *models.Record, err error) error {
	if err != nil {
		return err
	}
	if r == nil {
		return ErrNoResult
	}
	return nil
}

func (e *Engine) findPost(id string) *models.Post {
	for _, post := range e.posts {
		if post.ID == id {
			return post
		}
	}
	return nil
}

func (e *Engine) postByRemoteID(remoteID string) *models.Post {
	if remoteID == "" {
		return nil
	}
	for _, post := range e.posts {
		if post.RemoteID == remoteID {
			return post
		}
	}
	return nil
}

// recordsOf returns every local entity of the given type.
func (e *Engine) recordsOf(recordType models.RecordType) []models.Syncable {
	var out []models.Syncable
	switch recordType {
	case models.PostType:
		for _, post := range e.posts {
			out = append(out, post)
		}
	case models.CommentType:
		for _, post := range e.posts {
			for _, comment := range post.Comments {
				out = append(out, comment)
			}
		}
	}
	return out
}

// knownRecordIDs lists record IDs of recordType that must not be fetched:
// identities of synced entities plus records whose save is still in flight.
func (e *Engine) knownRecordIDs(recordType models.RecordType) []string {
	var ids []string
	for _, entity := range e.recordsOf(recordType) {
		if entity.IsSynced() {
			ids = append(ids, entity.RemoteIdentity())
		}
	}
	for _, record := range e.pending {
		if record.Type == recordType {
			ids = append(ids, record.ID)
		}
	}
	return ids
}

func (e *Engine) isKnown(recordType models.RecordType, recordID string) bool {
	for _, id := range e.knownRecordIDs(recordType) {
		if id == recordID {
			return true
		}
	}
	return false
}

// Posts returns snapshots of all posts in insertion order.
func (e *Engine) Posts(ctx context.Context) ([]*models.Post, error) {
	var out []*models.Post
	err := e.call(ctx, func() {
		out = make([]*models.Post, 0, len(e.posts))
		for _, post := range e.posts {
			out = append(out, post.Clone())
		}
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (e *Engine) Post(ctx context.Context, id string) (*models.Post, error) {
	var out *models.Post
	err := e.call(ctx, func() {
		out = e.findPost(id).Clone()
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, ErrPostNotFound
	}
	return out, nil
}

// Comments returns snapshots of the comments of all posts.
func (e *Engine) Comments(ctx context.Context) ([]*models.Comment, error) {
	var out []*models.Comment
	err := e.call(ctx, func() {
		for _, entity := range e.recordsOf(models.CommentType) {
			out = append(out, entity.(*models.Comment).Clone())
		}
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Search returns posts matching term case-insensitively. An empty term matches every post.
func (e *Engine) Search(ctx context.Context, term string) ([]*models.Post, error) {
	term = strings.ToLower(strings.TrimSpace(term))
	var out []*models.Post
	err := e.call(ctx, func() {
		for _, post := range e.posts {
			if term == "" || post.Matches(term) {
				out = append(out, post.Clone())
			}
		}
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RemoteID returns the remote identity of a post, "" while it is unsynced.
func (e *Engine) RemoteID(ctx context.Context, postID string) (string, error) {
	var (
		id    string
		found bool
	)
	err := e.call(ctx, func() {
		if post := e.findPost(postID); post != nil {
			id, found = post.RemoteID, true
		}
	})
	if err != nil {
		return "", err
	}
	if !found {
		return "", ErrPostNotFound
	}
	return id, nil
}

// Syncing reports whether a full sync is in flight.
func (e *Engine) Syncing(ctx context.Context) (bool, error) {
	var syncing bool
	err := e.call(ctx, func() { syncing = e.isSyncing })
	return syncing, err
}
