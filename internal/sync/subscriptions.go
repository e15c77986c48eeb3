package sync

import (
	"context"
	"errors"

	"github.com/MosinFAM/timeline/internal/logger"
	"github.com/MosinFAM/timeline/internal/models"
	"github.com/MosinFAM/timeline/internal/storage"

	"go.uber.org/zap"
)

const (
	// NewPostsSubscriptionID is the fixed ID of the subscription to new posts.
	NewPostsSubscriptionID = "allPosts"
	// CommentAlertBody is shown for new comments on a followed post.
	CommentAlertBody = "Someone commented on a post you follow"
)

var ErrPostNotSynced = errors.New("post is not synced")

// RemoteIdentities resolves the remote identity of a local post. *Engine implements it.
type RemoteIdentities interface {
	RemoteID(ctx context.Context, postID string) (string, error)
}

// Subscriptions manages server-side push triggers. Per-post subscriptions
// are keyed by the post's remote identity, so the post must be synced first.
type Subscriptions struct {
	store storage.Storage
	posts RemoteIdentities
	log   *zap.Logger
}

func NewSubscriptions(store storage.Storage, posts RemoteIdentities) *Subscriptions {
	return &Subscriptions{
		store: store,
		posts: posts,
		log:   logger.NewNamed("sync.subscriptions"),
	}
}

func subscribed(sub *storage.Subscription, err error) error {
	if err != nil {
		return err
	}
	if sub == nil {
		return ErrNoResult
	}
	return nil
}

// SubscribeToNewPosts registers the trigger for new posts. Registering again
// replaces the existing subscription.
func (s *Subscriptions) SubscribeToNewPosts(ctx context.Context) error {
	sub, err := s.store.Subscribe(ctx, storage.Subscription{
		ID:               NewPostsSubscriptionID,
		RecordType:       models.PostType,
		Predicate:        models.All(),
		ContentAvailable: true,
		Options:          storage.FiresOnRecordCreation,
	})
	if err = subscribed(sub, err); err != nil {
		return err
	}
	s.log.Info("subscribed to new posts")
	return nil
}

func (s *Subscriptions) subscriptionID(ctx context.Context, postID string) (string, error) {
	id, err := s.posts.RemoteID(ctx, postID)
	if err != nil {
		return "", err
	}
	if id == "" {
		return "", ErrPostNotSynced
	}
	return id, nil
}

// AddSubscription subscribes to new comments on the post.
func (s *Subscriptions) AddSubscription(ctx context.Context, postID, alertBody string) error {
	recordID, err := s.subscriptionID(ctx, postID)
	if err != nil {
		return err
	}
	sub, err := s.store.Subscribe(ctx, storage.Subscription{
		ID:               recordID,
		RecordType:       models.CommentType,
		Predicate:        models.ReferencingPost(recordID),
		ContentAvailable: true,
		AlertBody:        alertBody,
		DesiredKeys:      []string{models.KeyText, models.KeyPost},
		Options:          storage.FiresOnRecordCreation,
	})
	return subscribed(sub, err)
}

func (s *Subscriptions) RemoveSubscription(ctx context.Context, postID string) error {
	recordID, err := s.subscriptionID(ctx, postID)
	if err != nil {
		return err
	}
	id, err := s.store.Unsubscribe(ctx, recordID)
	if err != nil {
		return err
	}
	if id == "" {
		return ErrNoResult
	}
	return nil
}

// CheckSubscription reports whether the post's comments are followed.
func (s *Subscriptions) CheckSubscription(ctx context.Context, postID string) (bool, error) {
	recordID, err := s.subscriptionID(ctx, postID)
	if err != nil {
		return false, err
	}
	sub, err := s.store.FetchSubscription(ctx, recordID)
	if errors.Is(err, storage.ErrSubscriptionNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return sub != nil, nil
}

// ToggleSubscription removes the subscription when present and adds it
// otherwise, returning the new state. The check and the change are two store
// calls, so concurrent toggles of one post can race.
func (s *Subscriptions) ToggleSubscription(ctx context.Context, postID string) (bool, error) {
	isSubscribed, err := s.CheckSubscription(ctx, postID)
	if err != nil {
		return false, err
	}
	if isSubscribed {
		if err := s.RemoveSubscription(ctx, postID); err != nil {
			return true, err
		}
		return false, nil
	}
	if err := s.AddSubscription(ctx, postID, CommentAlertBody); err != nil {
		return false, err
	}
	return true, nil
}
