package storage

import (
	"context"
	"errors"

	"github.com/MosinFAM/timeline/internal/models"
)

var (
	ErrRecordNotFound       = errors.New("record not found")
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrInvalidRecord        = errors.New("invalid record")
)

// SubscriptionOptions - условия срабатывания подписки
type SubscriptionOptions int

const (
	FiresOnRecordCreation SubscriptionOptions = 1 << iota
	FiresOnRecordUpdate
	FiresOnRecordDeletion
)

// Subscription is a server-side trigger notifying this process about records
// matching Predicate.
type Subscription struct {
	ID               string              `json:"id"`
	RecordType       models.RecordType   `json:"recordType"`
	Predicate        models.Predicate    `json:"predicate"`
	ContentAvailable bool                `json:"contentAvailable"`
	AlertBody        string              `json:"alertBody,omitempty"`
	DesiredKeys      []string            `json:"desiredKeys,omitempty"`
	Options          SubscriptionOptions `json:"options"`
}

// Fires reports whether a newly created record triggers the subscription.
func (s *Subscription) Fires(r *models.Record) bool {
	return s.Options&FiresOnRecordCreation != 0 &&
		r.Type == s.RecordType &&
		s.Predicate.Match(r)
}

// Notification - push-уведомление о срабатывании подписки
type Notification struct {
	SubscriptionID string            `json:"subscriptionId"`
	RecordType     models.RecordType `json:"recordType"`
	RecordID       string            `json:"recordId"`
	AlertBody      string            `json:"alertBody,omitempty"`
}

// Storage - интерфейс удалённого хранилища записей (in-memory и PostgreSQL)
//
// Callbacks passed to SaveRecords and FetchRecords are invoked sequentially on
// the calling goroutine before the method returns.
type Storage interface {
	CreateRecord(ctx context.Context, record *models.Record) (*models.Record, error)
	SaveRecords(ctx context.Context, records []*models.Record, perRecord func(*models.Record, error)) ([]*models.Record, error)
	FetchRecords(ctx context.Context, recordType models.RecordType, predicate models.Predicate, perRecord func(*models.Record)) ([]*models.Record, error)
	Subscribe(ctx context.Context, sub Subscription) (*Subscription, error)
	Unsubscribe(ctx context.Context, subscriptionID string) (string, error)
	FetchSubscription(ctx context.Context, subscriptionID string) (*Subscription, error)
}

// Notifier delivers push triggers for subscriptions that fire on record creation.
// The channel is closed when ctx is done.
type Notifier interface {
	Listen(ctx context.Context) (<-chan Notification, error)
}

func validate(record *models.Record) error {
	if record == nil {
		return ErrInvalidRecord
	}
	switch record.Type {
	case models.PostType:
		if !record.HasKey(models.KeyPhotoData) {
			return ErrInvalidRecord
		}
	case models.CommentType:
		if !record.HasKey(models.KeyText) || record.PostRef() == "" {
			return ErrInvalidRecord
		}
	default:
		return ErrInvalidRecord
	}
	return nil
}
