package models

import (
	"time"

	"github.com/google/uuid"
)

// RecordType - тег типа записи в удалённом хранилище
type RecordType string

const (
	PostType    RecordType = "Post"
	CommentType RecordType = "Comment"
)

// Ключи полей записи
const (
	KeyTimestamp = "timestamp"
	KeyPhotoData = "photoData"
	KeyText      = "text"
	KeyPost      = "post"
)

// ReferenceAction describes what the store does with a referencing record
// when the referenced record is deleted.
type ReferenceAction int

const (
	ReferenceNone ReferenceAction = iota
	ReferenceDeleteSelf
)

// Reference - ссылка одной записи на другую
type Reference struct {
	RecordID string          `json:"recordId"`
	Action   ReferenceAction `json:"action"`
}

// Record is the remote representation of a syncable entity.
// CreatedAt is assigned by the store on first save.
type Record struct {
	ID        string     `json:"id"`
	Type      RecordType `json:"type"`
	CreatedAt time.Time  `json:"createdAt"`
	Timestamp time.Time  `json:"timestamp"`
	Text      *string    `json:"text,omitempty"`
	Asset     []byte     `json:"photoData,omitempty"`
	Post      *Reference `json:"post,omitempty"`
}

// NewRecord returns an empty record of the given type with a fresh client-side ID.
func NewRecord(t RecordType) *Record {
	return &Record{
		ID:   uuid.New().String(),
		Type: t,
	}
}

// Clone returns a copy that shares no mutable state with r.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	if r.Text != nil {
		text := *r.Text
		c.Text = &text
	}
	if r.Post != nil {
		ref := *r.Post
		c.Post = &ref
	}
	return &c
}

// PostRef returns the referenced post record ID, or "" when the record has none.
func (r *Record) PostRef() string {
	if r.Post == nil {
		return ""
	}
	return r.Post.RecordID
}

// HasKey reports whether the field is set. Used for desired keys of subscriptions
// and for validating fetched records.
func (r *Record) HasKey(key string) bool {
	switch key {
	case KeyTimestamp:
		return !r.Timestamp.IsZero()
	case KeyPhotoData:
		return len(r.Asset) > 0
	case KeyText:
		return r.Text != nil
	case KeyPost:
		return r.Post != nil
	}
	return false
}

// Predicate selects records during fetch and for subscriptions.
// The zero value matches every record.
type Predicate struct {
	ExcludeIDs []string `json:"excludeIds,omitempty"`
	PostRef    string   `json:"postRef,omitempty"`
}

// All matches every record.
func All() Predicate {
	return Predicate{}
}

// Excluding matches records whose ID is not in ids.
// With no ids it is the same as All.
func Excluding(ids []string) Predicate {
	return Predicate{ExcludeIDs: ids}
}

// ReferencingPost matches records whose post reference points at recordID.
func ReferencingPost(recordID string) Predicate {
	return Predicate{PostRef: recordID}
}

func (p Predicate) Match(r *Record) bool {
	if r == nil {
		return false
	}
	for _, id := range p.ExcludeIDs {
		if id == r.ID {
			return false
		}
	}
	if p.PostRef != "" && r.PostRef() != p.PostRef {
		return false
	}
	return true
}
