package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Модель комментария к посту
type Comment struct {
	ID        string    `json:"id"`
	RemoteID  string    `json:"remoteId,omitempty"`
	PostID    string    `json:"postId"` // ID поста, к которому прикреплён комментарий
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

func NewComment(text string, timestamp time.Time) *Comment {
	return &Comment{
		ID:        uuid.New().String(),
		Text:      text,
		Timestamp: timestamp,
	}
}

// CommentFromRecord builds a synced comment from a fetched record. The caller
// attaches it to the post resolved from the record's post reference.
// It returns false when text or creation date is missing.
func CommentFromRecord(r *Record) (*Comment, bool) {
	if r == nil || r.Type != CommentType || r.ID == "" {
		return nil, false
	}
	if r.Text == nil || r.CreatedAt.IsZero() {
		return nil, false
	}
	comment := NewComment(*r.Text, r.CreatedAt)
	comment.RemoteID = r.ID
	return comment, true
}

// Record encodes the comment under a fresh record ID. postRecordID is the
// remote identity (or pending record ID) of the owning post.
func (c *Comment) Record(postRecordID string) *Record {
	text := c.Text
	r := NewRecord(CommentType)
	r.Timestamp = c.Timestamp
	r.Text = &text
	r.Post = &Reference{RecordID: postRecordID, Action: ReferenceDeleteSelf}
	return r
}

func (c *Comment) RecordType() RecordType { return CommentType }

func (c *Comment) RemoteIdentity() string { return c.RemoteID }

func (c *Comment) SetRemoteIdentity(id string) { c.RemoteID = id }

func (c *Comment) IsSynced() bool { return c.RemoteID != "" }

// Matches does a substring match of the lowercased text against term.
func (c *Comment) Matches(term string) bool {
	return strings.Contains(strings.ToLower(c.Text), term)
}

func (c *Comment) Clone() *Comment {
	if c == nil {
		return nil
	}
	clone := *c
	return &clone
}
