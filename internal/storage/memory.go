package storage

import (
	"context"
	"sync"
	"time"

	"github.com/MosinFAM/timeline/internal/logger"
	"github.com/MosinFAM/timeline/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var log = logger.NewNamed("storage")

// MemoryStorage - хранилище записей в памяти
type MemoryStorage struct {
	records       map[string]*models.Record
	order         []string
	subscriptions map[string]Subscription
	listeners     []chan Notification
	now           func() time.Time
	mu            sync.RWMutex
}

// NewMemoryStorage создает новое in-memory хранилище
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		records:       make(map[string]*models.Record),
		subscriptions: make(map[string]Subscription),
		now:           time.Now,
	}
}

// CreateRecord сохраняет одну запись
func (s *MemoryStorage) CreateRecord(ctx context.Context, record *models.Record) (*models.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(record)
}

// SaveRecords saves records in order, reporting each result to perRecord.
// The batch fails as a whole only when ctx is done; individual failures are
// reported per record.
func (s *MemoryStorage) SaveRecords(ctx context.Context, records []*models.Record, perRecord func(*models.Record, error)) ([]*models.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	saved := make([]*models.Record, 0, len(records))
	for _, record := range records {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out, err := s.save(record)
		if perRecord != nil {
			perRecord(out, err)
		}
		if err == nil {
			saved = append(saved, out)
		}
	}
	return saved, nil
}

// FetchRecords возвращает записи заданного типа, подходящие под предикат
func (s *MemoryStorage) FetchRecords(ctx context.Context, recordType models.RecordType, predicate models.Predicate, perRecord func(*models.Record)) ([]*models.Record, error) {
	s.mu.RLock()
	var result []*models.Record
	for _, id := range s.order {
		record := s.records[id]
		if record.Type != recordType || !predicate.Match(record) {
			continue
		}
		result = append(result, record.Clone())
	}
	s.mu.RUnlock()

	for _, record := range result {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if perRecord != nil {
			perRecord(record)
		}
	}
	return result, nil
}

// Subscribe регистрирует подписку; повторная регистрация с тем же ID заменяет её
func (s *MemoryStorage) Subscribe(ctx context.Context, sub Subscription) (*Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.subscriptions[sub.ID] = sub
	return &sub, nil
}

func (s *MemoryStorage) Unsubscribe(ctx context.Context, subscriptionID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.subscriptions[subscriptionID]; !exists {
		return "", ErrSubscriptionNotFound
	}
	delete(s.subscriptions, subscriptionID)
	return subscriptionID, nil
}

func (s *MemoryStorage) FetchSubscription(ctx context.Context, subscriptionID string) (*Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, exists := s.subscriptions[subscriptionID]
	if !exists {
		return nil, ErrSubscriptionNotFound
	}
	return &sub, nil
}

// Listen подписка на push-уведомления
func (s *MemoryStorage) Listen(ctx context.Context) (<-chan Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan Notification, 16)
	s.listeners = append(s.listeners, ch)

	// Отписка при завершении контекста
	go func() {
		<-ctx.Done()
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, l := range s.listeners {
			if l == ch {
				s.listeners = append(s.listeners[:i], s.listeners[i+1:]...)
				close(ch)
				break
			}
		}
	}()
	return ch, nil
}

// save must be called with s.mu held.
func (s *MemoryStorage) save(record *models.Record) (*models.Record, error) {
	if err := validate(record); err != nil {
		return nil, err
	}
	if record.Type == models.CommentType {
		if _, exists := s.records[record.PostRef()]; !exists {
			return nil, ErrRecordNotFound
		}
	}

	stored := record.Clone()
	if stored.ID == "" {
		stored.ID = uuid.New().String()
	}
	existing, exists := s.records[stored.ID]
	if exists {
		stored.CreatedAt = existing.CreatedAt
	} else {
		stored.CreatedAt = s.now()
		s.order = append(s.order, stored.ID)
	}
	s.records[stored.ID] = stored

	if !exists {
		s.notify(stored)
	}
	return stored.Clone(), nil
}

// notify must be called with s.mu held.
func (s *MemoryStorage) notify(record *models.Record) {
	for _, sub := range s.subscriptions {
		if !sub.Fires(record) {
			continue
		}
		n := Notification{
			SubscriptionID: sub.ID,
			RecordType:     record.Type,
			RecordID:       record.ID,
			AlertBody:      sub.AlertBody,
		}
		// Уведомляем слушателей
		for _, ch := range s.listeners {
			select {
			case ch <- n:
			default:
				log.Warn("dropping notification for slow listener", zap.String("subscription", n.SubscriptionID))
			}
		}
	}
}
