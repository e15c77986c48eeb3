package events

import (
	"sync"

	"github.com/MosinFAM/timeline/internal/models"
)

type Kind string

const (
	// CollectionChanged carries no payload; observers re-read the whole collection.
	CollectionChanged Kind = "collection_changed"
	// PostCommentsChanged carries a snapshot of the affected post.
	PostCommentsChanged Kind = "post_comments_changed"
)

// Event - уведомление слою представления
type Event struct {
	Kind Kind         `json:"kind"`
	Post *models.Post `json:"post,omitempty"`
}

// Bus fans events out to subscribers. Publish never blocks: a subscriber whose
// buffer is full misses the event.
type Bus struct {
	mu          sync.Mutex
	subscribers map[chan Event]struct{}
}

func NewBus() *Bus {
	return &Bus{subscribers: make(map[chan Event]struct{})}
}

// Subscribe returns a channel of events and a cancel func that unsubscribes
// and closes the channel. Cancel is safe to call more than once.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	ch := make(chan Event, buffer)

	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subscribers, ch)
			close(ch)
		})
	}
}

func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subscribers {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Len returns the number of active subscribers.
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}
