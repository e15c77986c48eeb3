package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MosinFAM/timeline/internal/events"
	"github.com/MosinFAM/timeline/internal/logger"
	"github.com/MosinFAM/timeline/internal/models"
	tsync "github.com/MosinFAM/timeline/internal/sync"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// maxImageSize - максимальный размер загружаемого фото
const maxImageSize = 10 << 20

// Handler serves the timeline over HTTP on top of the sync engine.
type Handler struct {
	Engine        *tsync.Engine
	Subscriptions *tsync.Subscriptions
	// WaitTimeout bounds how long a request waits for a push to finish
	// before answering with the local state.
	WaitTimeout time.Duration

	log *zap.Logger
}

func NewHandler(engine *tsync.Engine, subs *tsync.Subscriptions) *Handler {
	return &Handler{
		Engine:        engine,
		Subscriptions: subs,
		WaitTimeout:   5 * time.Second,
		log:           logger.NewNamed("api"),
	}
}

// Comment - представление комментария в API
type Comment struct {
	ID        string `json:"id"`
	PostID    string `json:"postId"`
	Text      string `json:"text"`
	Timestamp string `json:"timestamp"`
	Synced    bool   `json:"synced"`
}

// Post - представление поста в API (без фото)
type Post struct {
	ID        string     `json:"id"`
	Timestamp string     `json:"timestamp"`
	Synced    bool       `json:"synced"`
	PhotoURL  string     `json:"photoUrl"`
	Comments  []*Comment `json:"comments"`
}

func toComment(c *models.Comment) *Comment {
	return &Comment{
		ID:        c.ID,
		PostID:    c.PostID,
		Text:      c.Text,
		Timestamp: c.Timestamp.Format(time.RFC3339),
		Synced:    c.IsSynced(),
	}
}

func toPost(p *models.Post) *Post {
	post := &Post{
		ID:        p.ID,
		Timestamp: p.Timestamp.Format(time.RFC3339),
		Synced:    p.IsSynced(),
		PhotoURL:  "/posts/" + p.ID + "/photo",
		Comments:  make([]*Comment, 0, len(p.Comments)),
	}
	for _, c := range p.Comments {
		post.Comments = append(post.Comments, toComment(c))
	}
	return post
}

func toPosts(posts []*models.Post) []*Post {
	out := make([]*Post, 0, len(posts))
	for _, p := range posts {
		out = append(out, toPost(p))
	}
	return out
}

func abort(c *gin.Context, status int, err error) {
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}

func (h *Handler) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, tsync.ErrPostNotFound):
		abort(c, http.StatusNotFound, err)
	case errors.Is(err, tsync.ErrEmptyImage), errors.Is(err, tsync.ErrEmptyCaption), errors.Is(err, tsync.ErrEmptyComment):
		abort(c, http.StatusBadRequest, err)
	case errors.Is(err, tsync.ErrPostNotSynced):
		abort(c, http.StatusConflict, err)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		abort(c, http.StatusGatewayTimeout, err)
	default:
		h.log.Warn("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		abort(c, http.StatusInternalServerError, err)
	}
}

// Posts возвращает все посты
func (h *Handler) Posts(c *gin.Context) {
	posts, err := h.Engine.Posts(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toPosts(posts))
}

// Post возвращает пост по ID
func (h *Handler) Post(c *gin.Context) {
	post, err := h.Engine.Post(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toPost(post))
}

func (h *Handler) Photo(c *gin.Context) {
	post, err := h.Engine.Post(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Data(http.StatusOK, mimetype.Detect(post.Photo).String(), post.Photo)
}

// CreatePost accepts a multipart form with an "image" file and a "caption".
// It answers 201 once the post is synced and 202 when it is only stored locally.
func (h *Handler) CreatePost(c *gin.Context) {
	file, err := c.FormFile("image")
	if err != nil {
		h.fail(c, tsync.ErrEmptyImage)
		return
	}
	if file.Size > maxImageSize {
		abort(c, http.StatusRequestEntityTooLarge, errors.New("image is too large"))
		return
	}
	f, err := file.Open()
	if err != nil {
		h.fail(c, err)
		return
	}
	defer f.Close()
	image, err := io.ReadAll(f)
	if err != nil {
		h.fail(c, err)
		return
	}

	if len(image) > 0 && !strings.HasPrefix(mimetype.Detect(image).String(), "image/") {
		abort(c, http.StatusUnsupportedMediaType, errors.New("upload is not an image"))
		return
	}

	task, err := h.Engine.Create(image, c.PostForm("caption"))
	if err != nil {
		h.fail(c, err)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.WaitTimeout)
	defer cancel()
	post, err := task.Wait(ctx)
	if post == nil {
		h.fail(c, err)
		return
	}
	if err != nil {
		h.log.Info("post kept locally", zap.String("post", post.ID), zap.Error(err))
	}
	c.JSON(status(post.IsSynced()), toPost(post))
}

type commentRequest struct {
	Text string `json:"text"`
}

func (h *Handler) AddComment(c *gin.Context) {
	var req commentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.WaitTimeout)
	defer cancel()
	comment, err := h.Engine.AddComment(c.Param("id"), req.Text).Wait(ctx)
	if comment == nil {
		h.fail(c, err)
		return
	}
	if err != nil {
		h.log.Info("comment kept locally", zap.String("comment", comment.ID), zap.Error(err))
	}
	c.JSON(status(comment.IsSynced()), toComment(comment))
}

func status(synced bool) int {
	if synced {
		return http.StatusCreated
	}
	return http.StatusAccepted
}

func (h *Handler) Search(c *gin.Context) {
	posts, err := h.Engine.Search(c.Request.Context(), c.Query("q"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toPosts(posts))
}

// Sync runs a full sync. It is also the webhook for remote push triggers.
func (h *Handler) Sync(c *gin.Context) {
	res, err := h.Engine.PerformFullSync().Wait(c.Request.Context())
	if err != nil {
		h.log.Warn("sync failed", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"result": res, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": res})
}

func (h *Handler) CheckSubscription(c *gin.Context) {
	subscribed, err := h.Subscriptions.CheckSubscription(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"subscribed": subscribed})
}

func (h *Handler) AddSubscription(c *gin.Context) {
	if err := h.Subscriptions.AddSubscription(c.Request.Context(), c.Param("id"), tsync.CommentAlertBody); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"subscribed": true})
}

func (h *Handler) RemoveSubscription(c *gin.Context) {
	if err := h.Subscriptions.RemoveSubscription(c.Request.Context(), c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"subscribed": false})
}

func (h *Handler) ToggleSubscription(c *gin.Context) {
	subscribed, err := h.Subscriptions.ToggleSubscription(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"subscribed": subscribed})
}

// Event - сообщение в websocket-потоке
type Event struct {
	Kind string `json:"kind"`
	Post *Post  `json:"post,omitempty"`
}

func eventMessage(ev events.Event) Event {
	msg := Event{Kind: string(ev.Kind)}
	if ev.Post != nil {
		msg.Post = toPost(ev.Post)
	}
	return msg
}

// Comments возвращает все комментарии всех постов
func (h *Handler) Comments(c *gin.Context) {
	comments, err := h.Engine.Comments(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	out := make([]*Comment, 0, len(comments))
	for _, comment := range comments {
		out = append(out, toComment(comment))
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) SyncStatus(c *gin.Context) {
	syncing, err := h.Engine.Syncing(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"syncing": syncing})
}
