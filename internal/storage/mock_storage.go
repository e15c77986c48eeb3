package storage

import (
	"context"

	"github.com/MosinFAM/timeline/internal/models"
	"github.com/stretchr/testify/mock"
)

// MockStorage - мок хранилища для тестов
//
// SaveRecords and FetchRecords replay the records given in Return through the
// callback before returning, the way real stores do.
type MockStorage struct {
	mock.Mock
}

func (m *MockStorage) CreateRecord(ctx context.Context, record *models.Record) (*models.Record, error) {
	args := m.Called(ctx, record)
	r, _ := args.Get(0).(*models.Record)
	return r, args.Error(1)
}

func (m *MockStorage) SaveRecords(ctx context.Context, records []*models.Record, perRecord func(*models.Record, error)) ([]*models.Record, error) {
	args := m.Called(ctx, records)
	saved, _ := args.Get(0).([]*models.Record)
	if perRecord != nil {
		for _, r := range saved {
			perRecord(r, nil)
		}
	}
	return saved, args.Error(1)
}

func (m *MockStorage) FetchRecords(ctx context.Context, recordType models.RecordType, predicate models.Predicate, perRecord func(*models.Record)) ([]*models.Record, error) {
	args := m.Called(ctx, recordType, predicate)
	records, _ := args.Get(0).([]*models.Record)
	if perRecord != nil {
		for _, r := range records {
			perRecord(r)
		}
	}
	return records, args.Error(1)
}

func (m *MockStorage) Subscribe(ctx context.Context, sub Subscription) (*Subscription, error) {
	args := m.Called(ctx, sub)
	s, _ := args.Get(0).(*Subscription)
	return s, args.Error(1)
}

func (m *MockStorage) Unsubscribe(ctx context.Context, subscriptionID string) (string, error) {
	args := m.Called(ctx, subscriptionID)
	return args.String(0), args.Error(1)
}

func (m *MockStorage) FetchSubscription(ctx context.Context, subscriptionID string) (*Subscription, error) {
	args := m.Called(ctx, subscriptionID)
	s, _ := args.Get(0).(*Subscription)
	return s, args.Error(1)
}
