package sync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MosinFAM/timeline/internal/events"
	"github.com/MosinFAM/timeline/internal/models"
	"github.com/MosinFAM/timeline/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var errNetwork = errors.New("network down")

func newEngine(t *testing.T, store storage.Storage, opts ...Option) *Engine {
	t.Helper()
	e := New(store, append([]Option{WithLogger(zap.NewNop())}, opts...)...)
	t.Cleanup(func() { e.Close() })
	return e
}

func await[T any](t *testing.T, task *Task[T]) (T, error) {
	t.Helper()
	select {
	case <-task.Done():
	case <-time.After(2 * time.Second):
		require.FailNow(t, "task did not resolve")
	}
	return task.Result()
}

func posts(t *testing.T, e *Engine) []*models.Post {
	t.Helper()
	out, err := e.Posts(context.Background())
	require.NoError(t, err)
	return out
}

func assertSyncInvariant(t *testing.T, all []*models.Post) {
	t.Helper()
	for _, post := range all {
		assert.Equal(t, post.RemoteID != "", post.IsSynced())
		for _, comment := range post.Comments {
			assert.Equal(t, comment.RemoteID != "", comment.IsSynced())
			assert.Equal(t, post.ID, comment.PostID)
		}
	}
}

// failingCreateStore fails every single-record save.
type failingCreateStore struct {
	*storage.MemoryStorage
}

func (s failingCreateStore) CreateRecord(context.Context, *models.Record) (*models.Record, error) {
	return nil, errNetwork
}

// blockingStore holds every fetch until release is closed.
type blockingStore struct {
	*storage.MemoryStorage
	entered chan struct{}
	release chan struct{}
}

func (s *blockingStore) FetchRecords(ctx context.Context, t models.RecordType, p models.Predicate, perRecord func(*models.Record)) ([]*models.Record, error) {
	s.entered <- struct{}{}
	<-s.release
	return s.MemoryStorage.FetchRecords(ctx, t, p, perRecord)
}

func seedPost(t *testing.T, store storage.Storage, id string) *models.Record {
	t.Helper()
	r := models.NewPost([]byte("jpeg"), time.Now()).Record()
	r.ID = id
	saved, err := store.CreateRecord(context.Background(), r)
	require.NoError(t, err)
	return saved
}

func seedComment(t *testing.T, store storage.Storage, postRecordID, text string) *models.Record {
	t.Helper()
	saved, err := store.CreateRecord(context.Background(), models.NewComment(text, time.Now()).Record(postRecordID))
	require.NoError(t, err)
	return saved
}

func TestCreate_Validation(t *testing.T) {
	e := newEngine(t, storage.NewMemoryStorage())

	_, err := e.Create(nil, "caption")
	assert.ErrorIs(t, err, ErrEmptyImage)

	_, err = e.Create([]byte("jpeg"), "  ")
	assert.ErrorIs(t, err, ErrEmptyCaption)

	assert.Empty(t, posts(t, e))
}

func TestCreate_PushesPostAndCaption(t *testing.T) {
	store := storage.NewMemoryStorage()
	e := newEngine(t, store)

	task, err := e.Create([]byte("jpeg"), "First post")
	require.NoError(t, err)
	post, err := await(t, task)
	require.NoError(t, err)

	require.NotNil(t, post)
	assert.True(t, post.IsSynced())
	require.Len(t, post.Comments, 1)
	assert.Equal(t, "First post", post.Comments[0].Text)
	assert.True(t, post.Comments[0].IsSynced())

	remote, err := store.FetchRecords(context.Background(), models.CommentType, models.ReferencingPost(post.RemoteID), nil)
	require.NoError(t, err)
	require.Len(t, remote, 1)
	assert.Equal(t, post.Comments[0].RemoteID, remote[0].ID)

	assertSyncInvariant(t, posts(t, e))
}

func TestCreate_Events(t *testing.T) {
	bus := events.NewBus()
	ch, cancel := bus.Subscribe(8)
	defer cancel()
	e := newEngine(t, storage.NewMemoryStorage(), WithBus(bus))

	task, err := e.Create([]byte("jpeg"), "hello")
	require.NoError(t, err)
	_, err = await(t, task)
	require.NoError(t, err)

	first := <-ch
	assert.Equal(t, events.CollectionChanged, first.Kind)
	assert.Nil(t, first.Post)

	second := <-ch
	assert.Equal(t, events.PostCommentsChanged, second.Kind)
	require.NotNil(t, second.Post)
	assert.Len(t, second.Post.Comments, 1)
}

func TestCreate_SaveFails(t *testing.T) {
	e := newEngine(t, failingCreateStore{storage.NewMemoryStorage()})

	task, err := e.Create([]byte("jpeg"), "caption")
	require.NoError(t, err)
	post, err := await(t, task)

	assert.ErrorIs(t, err, errNetwork)
	require.NotNil(t, post)
	assert.False(t, post.IsSynced())

	all := posts(t, e)
	require.Len(t, all, 1)
	require.Len(t, all[0].Comments, 1)
	assert.False(t, all[0].Comments[0].IsSynced())
	assertSyncInvariant(t, all)
}

func TestAddComment(t *testing.T) {
	e := newEngine(t, storage.NewMemoryStorage())
	task, err := e.Create([]byte("jpeg"), "caption")
	require.NoError(t, err)
	post, err := await(t, task)
	require.NoError(t, err)

	comment, err := await(t, e.AddComment(post.ID, "Nice shot"))
	require.NoError(t, err)
	assert.True(t, comment.IsSynced())
	assert.Equal(t, post.ID, comment.PostID)

	got, err := e.Post(context.Background(), post.ID)
	require.NoError(t, err)
	require.Len(t, got.Comments, 2)
	assert.Equal(t, "Nice shot", got.Comments[1].Text)
}

func TestAddComment_Errors(t *testing.T) {
	e := newEngine(t, failingCreateStore{storage.NewMemoryStorage()})

	_, err := await(t, e.AddComment("any", " "))
	assert.ErrorIs(t, err, ErrEmptyComment)

	_, err = await(t, e.AddComment("missing", "text"))
	assert.ErrorIs(t, err, ErrPostNotFound)

	task, err := e.Create([]byte("jpeg"), "caption")
	require.NoError(t, err)
	post, _ := await(t, task)

	comment, err := await(t, e.AddComment(post.ID, "later"))
	assert.ErrorIs(t, err, ErrParentNotSynced)
	require.NotNil(t, comment)
	assert.False(t, comment.IsSynced())

	got, err := e.Post(context.Background(), post.ID)
	require.NoError(t, err)
	assert.Len(t, got.Comments, 2)
}

func TestPerformFullSync_PushBeforeFetch(t *testing.T) {
	mem := storage.NewMemoryStorage()
	offline := newEngine(t, failingCreateStore{mem})

	task, err := offline.Create([]byte("jpeg"), "caption")
	require.NoError(t, err)
	_, err = await(t, task)
	require.Error(t, err)

	res, err := await(t, offline.PerformFullSync())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Pushed)
	assert.Zero(t, res.PushFailed)
	assert.Zero(t, res.FetchedPosts)
	assert.Zero(t, res.FetchedComments)

	all := posts(t, offline)
	require.Len(t, all, 1)
	assert.True(t, all[0].IsSynced())
	require.Len(t, all[0].Comments, 1)
	assert.True(t, all[0].Comments[0].IsSynced())
	assertSyncInvariant(t, all)

	// the comment references the post's remote identity
	remote, err := mem.FetchRecords(context.Background(), models.CommentType, models.ReferencingPost(all[0].RemoteID), nil)
	require.NoError(t, err)
	assert.Len(t, remote, 1)
}

func TestPerformFullSync_FetchesPostsThenComments(t *testing.T) {
	store := storage.NewMemoryStorage()
	post := seedPost(t, store, "P")
	seedComment(t, store, post.ID, "first")
	seedComment(t, store, post.ID, "second")
	e := newEngine(t, store)

	res, err := await(t, e.PerformFullSync())
	require.NoError(t, err)
	assert.Equal(t, 1, res.FetchedPosts)
	assert.Equal(t, 2, res.FetchedComments)

	all := posts(t, e)
	require.Len(t, all, 1)
	assert.Equal(t, "P", all[0].RemoteID)
	require.Len(t, all[0].Comments, 2)
	assert.Equal(t, "first", all[0].Comments[0].Text)
	assert.Equal(t, "second", all[0].Comments[1].Text)
	assertSyncInvariant(t, all)

	// nothing new the second time
	res, err = await(t, e.PerformFullSync())
	require.NoError(t, err)
	assert.Zero(t, res.FetchedPosts)
	assert.Zero(t, res.FetchedComments)
	assert.Len(t, posts(t, e), 1)
}

func TestPerformFullSync_ExclusionPredicate(t *testing.T) {
	store := storage.NewMemoryStorage()
	seedPost(t, store, "A")
	seedPost(t, store, "B")
	e := newEngine(t, store)

	_, err := await(t, e.PerformFullSync())
	require.NoError(t, err)
	require.Len(t, posts(t, e), 2)

	seedPost(t, store, "C")
	res, err := await(t, e.PerformFullSync())
	require.NoError(t, err)
	assert.Equal(t, 1, res.FetchedPosts)

	all := posts(t, e)
	require.Len(t, all, 3)
	assert.Equal(t, "C", all[2].RemoteID)
}

func TestPerformFullSync_PredicateSentToStore(t *testing.T) {
	store := new(storage.MockStorage)
	e := newEngine(t, store)

	store.On("FetchRecords", mock.Anything, models.PostType, models.Predicate{}).
		Return([]*models.Record{{ID: "A", Type: models.PostType, CreatedAt: time.Now(), Asset: []byte("a")}}, nil).Once()
	store.On("FetchRecords", mock.Anything, models.CommentType, models.Predicate{}).
		Return([]*models.Record{}, nil).Once()

	_, err := await(t, e.PerformFullSync())
	require.NoError(t, err)

	store.On("FetchRecords", mock.Anything, models.PostType, models.Excluding([]string{"A"})).
		Return([]*models.Record{}, nil).Once()
	store.On("FetchRecords", mock.Anything, models.CommentType, models.Predicate{}).
		Return([]*models.Record{}, nil).Once()

	_, err = await(t, e.PerformFullSync())
	require.NoError(t, err)

	store.AssertExpectations(t)
	store.AssertNotCalled(t, "SaveRecords", mock.Anything, mock.Anything)
}

func TestPerformFullSync_OrphanCommentDropped(t *testing.T) {
	store := new(storage.MockStorage)
	e := newEngine(t, store)

	text := "hello"
	orphan := &models.Record{
		ID:        "c1",
		Type:      models.CommentType,
		CreatedAt: time.Now(),
		Text:      &text,
		Post:      &models.Reference{RecordID: "ghost", Action: models.ReferenceDeleteSelf},
	}
	store.On("FetchRecords", mock.Anything, models.PostType, mock.Anything).Return([]*models.Record{}, nil)
	store.On("FetchRecords", mock.Anything, models.CommentType, mock.Anything).Return([]*models.Record{orphan}, nil)

	res, err := await(t, e.PerformFullSync())

	require.NoError(t, err)
	assert.Equal(t, 1, res.Dropped)
	assert.Zero(t, res.FetchedComments)
	comments, err := e.Comments(context.Background())
	require.NoError(t, err)
	assert.Empty(t, comments)
}

func TestPerformFullSync_MalformedSkipped(t *testing.T) {
	store := new(storage.MockStorage)
	e := newEngine(t, store)

	noPhoto := &models.Record{ID: "p1", Type: models.PostType, CreatedAt: time.Now()}
	store.On("FetchRecords", mock.Anything, models.PostType, mock.Anything).Return([]*models.Record{noPhoto}, nil)
	store.On("FetchRecords", mock.Anything, models.CommentType, mock.Anything).Return([]*models.Record{}, nil)

	res, err := await(t, e.PerformFullSync())

	require.NoError(t, err)
	assert.Equal(t, 1, res.Malformed)
	assert.Empty(t, posts(t, e))
}

func TestPerformFullSync_PushFails(t *testing.T) {
	store := new(storage.MockStorage)
	e := newEngine(t, store)

	store.On("CreateRecord", mock.Anything, mock.Anything).Return(nil, errNetwork)
	task, err := e.Create([]byte("jpeg"), "caption")
	require.NoError(t, err)
	_, err = await(t, task)
	require.ErrorIs(t, err, errNetwork)

	store.On("SaveRecords", mock.Anything, mock.Anything).Return(nil, errNetwork)

	res, err := await(t, e.PerformFullSync())

	assert.ErrorIs(t, err, errNetwork)
	assert.Zero(t, res.Pushed)
	store.AssertNotCalled(t, "FetchRecords", mock.Anything, mock.Anything, mock.Anything)

	syncing, err := e.Syncing(context.Background())
	require.NoError(t, err)
	assert.False(t, syncing)

	all := posts(t, e)
	require.Len(t, all, 1)
	assert.False(t, all[0].IsSynced())
	assertSyncInvariant(t, all)
}

func TestPerformFullSync_FetchErrorReported(t *testing.T) {
	store := new(storage.MockStorage)
	e := newEngine(t, store)

	store.On("FetchRecords", mock.Anything, models.PostType, mock.Anything).Return(nil, errNetwork)
	store.On("FetchRecords", mock.Anything, models.CommentType, mock.Anything).Return([]*models.Record{}, nil)

	_, err := await(t, e.PerformFullSync())

	assert.ErrorIs(t, err, errNetwork)
	store.AssertNumberOfCalls(t, "FetchRecords", 2)
}

func TestPerformFullSync_AtMostOneInFlight(t *testing.T) {
	store := &blockingStore{
		MemoryStorage: storage.NewMemoryStorage(),
		entered:       make(chan struct{}, 4),
		release:       make(chan struct{}),
	}
	e := newEngine(t, store)

	first := e.PerformFullSync()
	<-store.entered

	syncing, err := e.Syncing(context.Background())
	require.NoError(t, err)
	assert.True(t, syncing)

	res, err := await(t, e.PerformFullSync())
	require.NoError(t, err)
	assert.True(t, res.Skipped)

	close(store.release)
	res, err = await(t, first)
	require.NoError(t, err)
	assert.False(t, res.Skipped)

	// the flag is cleared once the sync is done
	res, err = await(t, e.PerformFullSync())
	require.NoError(t, err)
	assert.False(t, res.Skipped)
}

func TestSearch(t *testing.T) {
	e := newEngine(t, storage.NewMemoryStorage())
	for _, caption := range []string{"Hello World", "Mountains"} {
		task, err := e.Create([]byte("jpeg"), caption)
		require.NoError(t, err)
		_, err = await(t, task)
		require.NoError(t, err)
	}

	found, err := e.Search(context.Background(), "WORLD")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "Hello World", found[0].Comments[0].Text)

	found, err = e.Search(context.Background(), "xyz")
	require.NoError(t, err)
	assert.Empty(t, found)

	found, err = e.Search(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, found, 2)
}

func TestClose(t *testing.T) {
	e := New(storage.NewMemoryStorage(), WithLogger(zap.NewNop()))
	require.NoError(t, e.Close())
	require.NoError(t, e.Close())

	_, err := e.Create([]byte("jpeg"), "caption")
	assert.ErrorIs(t, err, ErrClosed)

	_, err = await(t, e.PerformFullSync())
	assert.ErrorIs(t, err, ErrClosed)

	_, err = e.Posts(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}
