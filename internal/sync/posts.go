package sync

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MosinFAM/timeline/internal/events"
	"github.com/MosinFAM/timeline/internal/models"

	"go.uber.org/zap"
)

// Create validates the input, appends a new post and pushes it. Once the post
// is saved the caption becomes its first comment.
//
// When the save fails the post stays unsynced in the collection and the caption
// comment is kept locally; both go out with the next full sync. The task then
// resolves with the save error and a snapshot of the post.
func (e *Engine) Create(image []byte, caption string) (*Task[*models.Post], error) {
	if len(image) == 0 {
		return nil, ErrEmptyImage
	}
	if strings.TrimSpace(caption) == "" {
		return nil, ErrEmptyCaption
	}

	task := newTask[*models.Post]()
	if !e.enqueue(func() { e.create(image, caption, task) }) {
		return nil, ErrClosed
	}
	return task, nil
}

func (e *Engine) create(image []byte, caption string, task *Task[*models.Post]) {
	post := models.NewPost(image, e.now())
	e.posts = append(e.posts, post)
	e.publish(events.Event{Kind: events.CollectionChanged})

	record := post.Record()
	e.pending[post.ID] = record
	e.log.Debug("creating post", zap.String("post", post.ID), zap.String("record", record.ID))

	e.remote(func(ctx context.Context) func() {
		saved, err := e.store.CreateRecord(ctx, record)
		return func() {
			delete(e.pending, post.ID)
			err = result(saved, err)
			e.metrics.RecordPushed(err)
			if err != nil {
				e.log.Warn("unable to save post", zap.String("post", post.ID), zap.Error(err))
				e.addComment(post, caption, func(*models.Comment, error) {})
				task.resolve(post.Clone(), fmt.Errorf("save post: %w", err))
				return
			}

			post.RemoteID = saved.ID
			e.addComment(post, caption, func(_ *models.Comment, err error) {
				if errors.Is(err, ErrClosed) {
					task.resolve(nil, err)
					return
				}
				task.resolve(post.Clone(), err)
			})
		}
	}, func() { task.resolve(nil, ErrClosed) })
}

// AddComment appends a comment to the post with the given local ID and pushes it.
//
// A comment on a post that is not synced yet is kept locally and the task
// resolves with ErrParentNotSynced; the next full sync pushes it together with
// its post.
func (e *Engine) AddComment(postID, text string) *Task[*models.Comment] {
	if strings.TrimSpace(text) == "" {
		return resolved[*models.Comment](nil, ErrEmptyComment)
	}

	task := newTask[*models.Comment]()
	ok := e.enqueue(func() {
		post := e.findPost(postID)
		if post == nil {
			task.resolve(nil, ErrPostNotFound)
			return
		}
		e.addComment(post, text, task.resolve)
	})
	if !ok {
		task.resolve(nil, ErrClosed)
	}
	return task
}

// addComment runs on the owner goroutine; done is called there as well,
// except when the engine closes before the save completes.
func (e *Engine) addComment(post *models.Post, text string, done func(*models.Comment, error)) {
	comment := models.NewComment(text, e.now())
	post.AddComment(comment)
	e.publish(events.Event{Kind: events.PostCommentsChanged, Post: post.Clone()})

	if !post.IsSynced() {
		done(comment.Clone(), ErrParentNotSynced)
		return
	}

	record := comment.Record(post.RemoteID)
	e.pending[comment.ID] = record

	e.remote(func(ctx context.Context) func() {
		saved, err := e.store.CreateRecord(ctx, record)
		return func() {
			delete(e.pending, comment.ID)
			err = result(saved, err)
			e.metrics.RecordPushed(err)
			if err != nil {
				e.log.Warn("unable to save comment", zap.String("comment", comment.ID), zap.Error(err))
				done(comment.Clone(), fmt.Errorf("save comment: %w", err))
				return
			}
			comment.RemoteID = saved.ID
			done(comment.Clone(), nil)
		}
	}, func() { done(nil, ErrClosed) })
}
