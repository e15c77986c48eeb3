package models

import (
	"time"

	"github.com/google/uuid"
)

// Post - пост с фотографией и комментариями
type Post struct {
	ID        string     `json:"id"`
	RemoteID  string     `json:"remoteId,omitempty"`
	Photo     []byte     `json:"-"`
	Timestamp time.Time  `json:"timestamp"`
	Comments  []*Comment `json:"comments"`
}

// NewPost creates an unsynced post owning no comments.
func NewPost(photo []byte, timestamp time.Time) *Post {
	return &Post{
		ID:        uuid.New().String(),
		Photo:     photo,
		Timestamp: timestamp,
		Comments:  []*Comment{},
	}
}

// PostFromRecord builds a synced post from a fetched record.
// It returns false when the record lacks a creation date or a photo asset.
func PostFromRecord(r *Record) (*Post, bool) {
	if r == nil || r.Type != PostType || r.ID == "" {
		return nil, false
	}
	if r.CreatedAt.IsZero() || !r.HasKey(KeyPhotoData) {
		return nil, false
	}
	post := NewPost(r.Asset, r.CreatedAt)
	post.RemoteID = r.ID
	return post, true
}

// Record encodes the post under a fresh record ID.
func (p *Post) Record() *Record {
	r := NewRecord(PostType)
	r.Timestamp = p.Timestamp
	r.Asset = p.Photo
	return r
}

func (p *Post) RecordType() RecordType { return PostType }

func (p *Post) RemoteIdentity() string { return p.RemoteID }

func (p *Post) SetRemoteIdentity(id string) { p.RemoteID = id }

func (p *Post) IsSynced() bool { return p.RemoteID != "" }

// Matches is true when at least one owned comment matches.
func (p *Post) Matches(term string) bool {
	for _, c := range p.Comments {
		if c.Matches(term) {
			return true
		}
	}
	return false
}

// AddComment appends c and points its relation at p.
func (p *Post) AddComment(c *Comment) {
	c.PostID = p.ID
	p.Comments = append(p.Comments, c)
}

// Clone returns a snapshot safe to hand to another goroutine.
// The photo payload is immutable and shared.
func (p *Post) Clone() *Post {
	if p == nil {
		return nil
	}
	c := *p
	c.Comments = make([]*Comment, 0, len(p.Comments))
	for _, comment := range p.Comments {
		c.Comments = append(c.Comments, comment.Clone())
	}
	return &c
}
