package sync

import (
	"context"
	"fmt"

	"github.com/MosinFAM/timeline/internal/events"
	"github.com/MosinFAM/timeline/internal/models"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// SyncResult - итог полной синхронизации
type SyncResult struct {
	// Skipped is set when another full sync was already in flight.
	Skipped         bool `json:"skipped"`
	Pushed          int  `json:"pushed"`
	PushFailed      int  `json:"pushFailed"`
	FetchedPosts    int  `json:"fetchedPosts"`
	FetchedComments int  `json:"fetchedComments"`
	Dropped         int  `json:"dropped"`
	Malformed       int  `json:"malformed"`
}

// PerformFullSync pushes every unsynced post and comment in one batch, then
// fetches new posts, then new comments.
//
// At most one full sync runs at a time: a call made while one is in flight
// resolves at once with Skipped set. A failed push ends the sync without
// fetching and the task carries the push error; fetch failures are joined into
// the task error after both fetches ran.
func (e *Engine) PerformFullSync() *Task[SyncResult] {
	task := newTask[SyncResult]()
	if !e.enqueue(func() { e.fullSync(task) }) {
		task.resolve(SyncResult{}, ErrClosed)
	}
	return task
}

func (e *Engine) fullSync(task *Task[SyncResult]) {
	if e.isSyncing {
		e.metrics.SyncSkipped()
		task.resolve(SyncResult{Skipped: true}, nil)
		return
	}
	e.isSyncing = true
	e.metrics.SyncStarted()

	res := &SyncResult{}
	abort := func() { task.resolve(SyncResult{}, ErrClosed) }
	finish := func(err error) {
		e.isSyncing = false
		if err != nil {
			e.metrics.SyncFailed()
			e.log.Warn("full sync failed", zap.Error(err))
		} else {
			e.log.Debug("full sync done",
				zap.Int("pushed", res.Pushed),
				zap.Int("posts", res.FetchedPosts),
				zap.Int("comments", res.FetchedComments))
		}
		task.resolve(*res, err)
	}

	e.push(res, func(err error) {
		if err != nil {
			finish(fmt.Errorf("push: %w", err))
			return
		}
		e.fetchNewRecords(models.PostType, res, func(postErr error) {
			e.fetchNewRecords(models.CommentType, res, func(commentErr error) {
				finish(multierr.Combine(postErr, commentErr))
			}, abort)
		}, abort)
	}, abort)
}

// push saves all unsynced posts and comments in one batch. Records are keyed
// by their client-side ID so each per-record result lands on its entity.
// Comments of a post saved in the same batch reference the post's pending
// record ID. Entities whose save is already in flight are left out.
func (e *Engine) push(res *SyncResult, done func(error), abort func()) {
	var records []*models.Record
	byRecord := make(map[string]models.Syncable)
	batch := make(map[string]*models.Record) // local ID -> record

	for _, post := range e.posts {
		if post.IsSynced() || e.pending[post.ID] != nil {
			continue
		}
		record := post.Record()
		records = append(records, record)
		byRecord[record.ID] = post
		batch[post.ID] = record
	}
	for _, post := range e.posts {
		parentRef := post.RemoteID
		if parentRef == "" && batch[post.ID] != nil {
			parentRef = batch[post.ID].ID
		}
		if parentRef == "" {
			continue
		}
		for _, comment := range post.Comments {
			if comment.IsSynced() || e.pending[comment.ID] != nil {
				continue
			}
			record := comment.Record(parentRef)
			records = append(records, record)
			byRecord[record.ID] = comment
			batch[comment.ID] = record
		}
	}

	if len(records) == 0 {
		done(nil)
		return
	}
	for localID, record := range batch {
		e.pending[localID] = record
	}
	e.log.Debug("pushing records", zap.Int("count", len(records)))

	e.remote(func(ctx context.Context) func() {
		saved, err := e.store.SaveRecords(ctx, records, func(r *models.Record, err error) {
			e.metrics.RecordPushed(err)
			if err != nil || r == nil {
				e.log.Warn("record not saved", zap.Error(err))
				return
			}
			e.enqueue(func() {
				if entity, ok := byRecord[r.ID]; ok {
					entity.SetRemoteIdentity(r.ID)
					res.Pushed++
				}
			})
		})
		return func() {
			for localID := range batch {
				delete(e.pending, localID)
			}
			res.PushFailed = len(records) - res.Pushed
			if err == nil && saved == nil {
				err = ErrNoResult
			}
			done(err)
		}
	}, abort)
}

// fetchNewRecords fetches records of recordType not known locally and applies them.
func (e *Engine) fetchNewRecords(recordType models.RecordType, res *SyncResult, done func(error), abort func()) {
	// An empty exclusion list matches every record.
	predicate := models.Excluding(e.knownRecordIDs(recordType))

	e.remote(func(ctx context.Context) func() {
		_, err := e.store.FetchRecords(ctx, recordType, predicate, func(r *models.Record) {
			e.enqueue(func() { e.apply(r, res) })
		})
		return func() {
			if err != nil {
				e.log.Warn("error fetching new records", zap.String("type", string(recordType)), zap.Error(err))
				done(fmt.Errorf("fetch %s: %w", recordType, err))
				return
			}
			done(nil)
		}
	}, abort)
}

// apply merges one fetched record into the collection. Malformed records and
// comments whose post is unknown locally are dropped.
func (e *Engine) apply(r *models.Record, res *SyncResult) {
	if r == nil {
		return
	}
	switch r.Type {
	case models.PostType:
		if e.isKnown(models.PostType, r.ID) {
			return
		}
		post, ok := models.PostFromRecord(r)
		if !ok {
			e.malformed(r, res)
			return
		}
		e.posts = append(e.posts, post)
		res.FetchedPosts++
		e.metrics.RecordFetched(string(r.Type))
		e.publish(events.Event{Kind: events.CollectionChanged})

	case models.CommentType:
		post := e.postByRemoteID(r.PostRef())
		if post == nil {
			res.Dropped++
			e.metrics.CommentDropped()
			e.log.Debug("dropping comment of unknown post", zap.String("record", r.ID), zap.String("post", r.PostRef()))
			return
		}
		if e.isKnown(models.CommentType, r.ID) {
			return
		}
		comment, ok := models.CommentFromRecord(r)
		if !ok {
			e.malformed(r, res)
			return
		}
		post.AddComment(comment)
		res.FetchedComments++
		e.metrics.RecordFetched(string(r.Type))
		e.publish(events.Event{Kind: events.PostCommentsChanged, Post: post.Clone()})
	}
}

func (e *Engine) malformed(r *models.Record, res *SyncResult) {
	res.Malformed++
	e.metrics.RecordMalformed()
	e.log.Debug("skipping malformed record", zap.String("record", r.ID), zap.String("type", string(r.Type)))
}
