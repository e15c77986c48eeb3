package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/MosinFAM/timeline/internal/logger"
	"github.com/MosinFAM/timeline/internal/models"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

// RecordsChannel - канал LISTEN/NOTIFY для новых записей
const RecordsChannel = "records_channel"

var pgLog = logger.NewNamed("storage.postgres")

// PostgresStorage - хранилище записей в PostgreSQL
type PostgresStorage struct {
	DB         *sql.DB
	DataSource string
}

// NewPostgresStorage создаёт экземпляр PostgreSQL-хранилища
func NewPostgresStorage(db *sql.DB, dataSource string) *PostgresStorage {
	return &PostgresStorage{DB: db, DataSource: dataSource}
}

type recordEvent struct {
	ID      string            `json:"id"`
	Type    models.RecordType `json:"type"`
	PostRef string            `json:"postRef,omitempty"`
}

const recordColumns = "id, record_type, created_at, ts, text, photo, post_ref, ref_action"

// CreateRecord вставляет запись и отправляет NOTIFY
func (s *PostgresStorage) CreateRecord(ctx context.Context, record *models.Record) (*models.Record, error) {
	if err := validate(record); err != nil {
		return nil, err
	}
	stored := record.Clone()
	if stored.ID == "" {
		stored.ID = uuid.New().String()
	}

	var text sql.NullString
	if stored.Text != nil {
		text = sql.NullString{String: *stored.Text, Valid: true}
	}
	var postRef sql.NullString
	refAction := int(models.ReferenceNone)
	if stored.Post != nil {
		postRef = sql.NullString{String: stored.Post.RecordID, Valid: true}
		refAction = int(stored.Post.Action)
	}

	pgLog.Debug("saving record", zap.String("id", stored.ID), zap.String("type", string(stored.Type)))
	var inserted bool
	err := s.DB.QueryRowContext(ctx, `
		INSERT INTO records (id, record_type, ts, text, photo, post_ref, ref_action)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET ts = EXCLUDED.ts, text = EXCLUDED.text, photo = EXCLUDED.photo
		RETURNING created_at, (xmax = 0)`,
		stored.ID, string(stored.Type), stored.Timestamp, text, stored.Asset, postRef, refAction,
	).Scan(&stored.CreatedAt, &inserted)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "foreign_key_violation" {
			return nil, fmt.Errorf("post %s: %w", stored.PostRef(), ErrRecordNotFound)
		}
		pgLog.Warn("insert record failed", zap.Error(err))
		return nil, err
	}

	if inserted {
		payload, err := json.Marshal(recordEvent{ID: stored.ID, Type: stored.Type, PostRef: stored.PostRef()})
		if err != nil {
			return nil, err
		}
		// Отправляем уведомление в PostgreSQL NOTIFY
		if _, err := s.DB.ExecContext(ctx, "SELECT pg_notify($1, $2)", RecordsChannel, string(payload)); err != nil {
			pgLog.Warn("notification error", zap.Error(err))
		}
	}
	return stored, nil
}

// SaveRecords saves records one by one in order. Per-record failures are
// reported to perRecord and do not abort the batch; only a done ctx does.
func (s *PostgresStorage) SaveRecords(ctx context.Context, records []*models.Record, perRecord func(*models.Record, error)) ([]*models.Record, error) {
	saved := make([]*models.Record, 0, len(records))
	for _, record := range records {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out, err := s.CreateRecord(ctx, record)
		if perRecord != nil {
			perRecord(out, err)
		}
		if err == nil {
			saved = append(saved, out)
		}
	}
	return saved, nil
}

// FetchRecords returns records of recordType matching predicate in creation order.
func (s *PostgresStorage) FetchRecords(ctx context.Context, recordType models.RecordType, predicate models.Predicate, perRecord func(*models.Record)) ([]*models.Record, error) {
	where, args := predicateSQL(recordType, predicate)
	rows, err := s.DB.QueryContext(ctx, "SELECT "+recordColumns+" FROM records WHERE "+where+" ORDER BY created_at, id", args...)
	if err != nil {
		pgLog.Warn("fetch records failed", zap.String("type", string(recordType)), zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	var records []*models.Record
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		if perRecord != nil {
			perRecord(record)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

// predicateSQL renders the WHERE clause for a fetch.
func predicateSQL(recordType models.RecordType, predicate models.Predicate) (string, []any) {
	clauses := []string{"record_type = $1"}
	args := []any{string(recordType)}
	if len(predicate.ExcludeIDs) > 0 {
		args = append(args, pq.Array(predicate.ExcludeIDs))
		clauses = append(clauses, "NOT (id = ANY($"+strconv.Itoa(len(args))+"))")
	}
	if predicate.PostRef != "" {
		args = append(args, predicate.PostRef)
		clauses = append(clauses, "post_ref = $"+strconv.Itoa(len(args)))
	}
	return strings.Join(clauses, " AND "), args
}

func scanRecord(rows *sql.Rows) (*models.Record, error) {
	var (
		record    models.Record
		recType   string
		ts        sql.NullTime
		text      sql.NullString
		postRef   sql.NullString
		refAction int
	)
	if err := rows.Scan(&record.ID, &recType, &record.CreatedAt, &ts, &text, &record.Asset, &postRef, &refAction); err != nil {
		return nil, err
	}
	record.Type = models.RecordType(recType)
	if ts.Valid {
		record.Timestamp = ts.Time
	}
	if text.Valid {
		record.Text = &text.String
	}
	if postRef.Valid {
		record.Post = &models.Reference{RecordID: postRef.String, Action: models.ReferenceAction(refAction)}
	}
	return &record, nil
}

// Subscribe сохраняет подписку; повторный вызов с тем же ID перезаписывает её
func (s *PostgresStorage) Subscribe(ctx context.Context, sub Subscription) (*Subscription, error) {
	predicate, err := json.Marshal(sub.Predicate)
	if err != nil {
		return nil, err
	}
	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO subscriptions (id, record_type, predicate, content_available, alert_body, desired_keys, options)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			record_type = EXCLUDED.record_type,
			predicate = EXCLUDED.predicate,
			content_available = EXCLUDED.content_available,
			alert_body = EXCLUDED.alert_body,
			desired_keys = EXCLUDED.desired_keys,
			options = EXCLUDED.options`,
		sub.ID, string(sub.RecordType), predicate, sub.ContentAvailable, sub.AlertBody, pq.Array(sub.DesiredKeys), int(sub.Options))
	if err != nil {
		pgLog.Warn("subscribe failed", zap.String("subscription", sub.ID), zap.Error(err))
		return nil, err
	}
	return &sub, nil
}

func (s *PostgresStorage) Unsubscribe(ctx context.Context, subscriptionID string) (string, error) {
	var id string
	err := s.DB.QueryRowContext(ctx, "DELETE FROM subscriptions WHERE id = $1 RETURNING id", subscriptionID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrSubscriptionNotFound
	}
	if err != nil {
		return "", err
	}
	return id, nil
}

func (s *PostgresStorage) FetchSubscription(ctx context.Context, subscriptionID string) (*Subscription, error) {
	row := s.DB.QueryRowContext(ctx, `
		SELECT id, record_type, predicate, content_available, alert_body, desired_keys, options
		FROM subscriptions WHERE id = $1`, subscriptionID)
	sub, err := scanSubscription(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSubscriptionNotFound
	}
	return sub, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSubscription(row scanner) (*Subscription, error) {
	var (
		sub       Subscription
		recType   string
		predicate []byte
		options   int
	)
	if err := row.Scan(&sub.ID, &recType, &predicate, &sub.ContentAvailable, &sub.AlertBody, pq.Array(&sub.DesiredKeys), &options); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(predicate, &sub.Predicate); err != nil {
		return nil, err
	}
	sub.RecordType = models.RecordType(recType)
	sub.Options = SubscriptionOptions(options)
	return &sub, nil
}

func (s *PostgresStorage) subscriptionsFor(ctx context.Context, recordType models.RecordType) ([]*Subscription, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, record_type, predicate, content_available, alert_body, desired_keys, options
		FROM subscriptions WHERE record_type = $1`, string(recordType))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []*Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// Listen подключается к LISTEN через pq.Listener и превращает NOTIFY о новых
// записях в уведомления по сработавшим подпискам
func (s *PostgresStorage) Listen(ctx context.Context) (<-chan Notification, error) {
	listener := pq.NewListener(s.DataSource, 10*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			pgLog.Warn("postgres listener error", zap.Error(err))
		}
	})
	if err := listener.Listen(RecordsChannel); err != nil {
		listener.Close()
		return nil, fmt.Errorf("failed to listen on %s: %w", RecordsChannel, err)
	}

	ch := make(chan Notification)
	// Горутина для получения уведомлений
	go func() {
		defer close(ch)
		defer listener.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(90 * time.Second):
				// Проверяем соединение каждые 90 секунд
				if err := listener.Ping(); err != nil {
					pgLog.Warn("postgres listener ping error", zap.Error(err))
					return
				}
			case n := <-listener.Notify:
				if n == nil {
					continue
				}
				s.dispatch(ctx, n.Extra, ch)
			}
		}
	}()

	pgLog.Info("listening for records", zap.String("channel", RecordsChannel))
	return ch, nil
}

func (s *PostgresStorage) dispatch(ctx context.Context, payload string, ch chan<- Notification) {
	var ev recordEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		pgLog.Warn("bad notification payload", zap.String("payload", payload), zap.Error(err))
		return
	}
	record := &models.Record{ID: ev.ID, Type: ev.Type}
	if ev.PostRef != "" {
		record.Post = &models.Reference{RecordID: ev.PostRef}
	}

	subs, err := s.subscriptionsFor(ctx, ev.Type)
	if err != nil {
		pgLog.Warn("load subscriptions failed", zap.Error(err))
		return
	}
	for _, sub := range subs {
		if !sub.Fires(record) {
			continue
		}
		select {
		case ch <- Notification{SubscriptionID: sub.ID, RecordType: ev.Type, RecordID: ev.ID, AlertBody: sub.AlertBody}:
		case <-ctx.Done():
			return
		}
	}
}
