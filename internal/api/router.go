package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"
)

// eventsBuffer - размер буфера событий на одно websocket-соединение
const eventsBuffer = 32

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// NewRouter - настройка Gin, CORS и маршрутов
func NewRouter(h *Handler, gatherer prometheus.Gatherer) http.Handler {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/posts", h.Posts)
	r.POST("/posts", h.CreatePost)
	r.GET("/posts/:id", h.Post)
	r.GET("/posts/:id/photo", h.Photo)
	r.POST("/posts/:id/comments", h.AddComment)

	r.GET("/posts/:id/subscription", h.CheckSubscription)
	r.PUT("/posts/:id/subscription", h.AddSubscription)
	r.DELETE("/posts/:id/subscription", h.RemoveSubscription)
	r.POST("/posts/:id/subscription/toggle", h.ToggleSubscription)

	r.GET("/comments", h.Comments)
	r.GET("/search", h.Search)
	r.GET("/sync", h.SyncStatus)
	r.POST("/sync", h.Sync)
	r.GET("/events", h.Events)

	if gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowCredentials: true,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
	})
	return c.Handler(r)
}

// Events streams engine events to a websocket client until it disconnects.
func (h *Handler) Events(c *gin.Context) {
	// subscribe before the handshake completes so no event after it is missed
	events, cancel := h.Engine.Events(eventsBuffer)
	defer cancel()

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	// reader detects the client going away
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := conn.WriteJSON(eventMessage(ev)); err != nil {
				h.log.Debug("websocket write failed", zap.Error(err))
				return
			}
		case <-gone:
			return
		case <-c.Request.Context().Done():
			return
		}
	}
}
