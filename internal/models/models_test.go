package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComment_Matches(t *testing.T) {
	comment := NewComment("Hello World", time.Now())

	assert.True(t, comment.Matches("world"))
	assert.True(t, comment.Matches("lo wo"))
	assert.False(t, comment.Matches("xyz"))
}

func TestPost_Matches(t *testing.T) {
	post := NewPost([]byte("jpeg"), time.Now())
	assert.False(t, post.Matches("beach"))

	post.AddComment(NewComment("sunset", time.Now()))
	post.AddComment(NewComment("At the Beach", time.Now()))

	assert.True(t, post.Matches("beach"))
	assert.False(t, post.Matches("mountain"))
}

func TestIsSynced(t *testing.T) {
	post := NewPost([]byte("jpeg"), time.Now())
	comment := NewComment("hi", time.Now())

	for _, entity := range []Syncable{post, comment} {
		assert.False(t, entity.IsSynced())
		assert.Empty(t, entity.RemoteIdentity())

		entity.SetRemoteIdentity("remote-1")
		assert.True(t, entity.IsSynced())
		assert.Equal(t, "remote-1", entity.RemoteIdentity())
	}
}

func TestPost_Record(t *testing.T) {
	ts := time.Date(2016, 12, 23, 10, 0, 0, 0, time.UTC)
	post := NewPost([]byte("jpeg"), ts)

	r1 := post.Record()
	r2 := post.Record()

	assert.Equal(t, PostType, r1.Type)
	assert.Equal(t, ts, r1.Timestamp)
	assert.Equal(t, []byte("jpeg"), r1.Asset)
	assert.Nil(t, r1.Post)
	assert.NotEmpty(t, r1.ID)
	assert.NotEqual(t, r1.ID, r2.ID)
}

func TestComment_Record(t *testing.T) {
	comment := NewComment("nice", time.Now())

	r := comment.Record("post-record")

	assert.Equal(t, CommentType, r.Type)
	require.NotNil(t, r.Text)
	assert.Equal(t, "nice", *r.Text)
	require.NotNil(t, r.Post)
	assert.Equal(t, "post-record", r.Post.RecordID)
	assert.Equal(t, ReferenceDeleteSelf, r.Post.Action)
	assert.Equal(t, "post-record", r.PostRef())
}

func TestPostFromRecord(t *testing.T) {
	r := NewRecord(PostType)
	r.CreatedAt = time.Now()
	r.Asset = []byte("jpeg")

	post, ok := PostFromRecord(r)
	require.True(t, ok)
	assert.Equal(t, r.ID, post.RemoteID)
	assert.Equal(t, r.CreatedAt, post.Timestamp)
	assert.Empty(t, post.Comments)

	missingAsset := NewRecord(PostType)
	missingAsset.CreatedAt = time.Now()
	_, ok = PostFromRecord(missingAsset)
	assert.False(t, ok)

	missingDate := NewRecord(PostType)
	missingDate.Asset = []byte("jpeg")
	_, ok = PostFromRecord(missingDate)
	assert.False(t, ok)

	_, ok = PostFromRecord(nil)
	assert.False(t, ok)
}

func TestCommentFromRecord(t *testing.T) {
	r := NewComment("hello", time.Now()).Record("post-1")
	r.CreatedAt = time.Now()

	comment, ok := CommentFromRecord(r)
	require.True(t, ok)
	assert.Equal(t, "hello", comment.Text)
	assert.Equal(t, r.ID, comment.RemoteID)

	r.Text = nil
	_, ok = CommentFromRecord(r)
	assert.False(t, ok)

	postRecord := NewRecord(PostType)
	postRecord.CreatedAt = time.Now()
	_, ok = CommentFromRecord(postRecord)
	assert.False(t, ok)
}

func TestPredicate_Match(t *testing.T) {
	a, b, c := NewRecord(PostType), NewRecord(PostType), NewRecord(PostType)

	assert.True(t, All().Match(a))
	assert.True(t, Excluding(nil).Match(a))

	p := Excluding([]string{a.ID, b.ID})
	assert.False(t, p.Match(a))
	assert.False(t, p.Match(b))
	assert.True(t, p.Match(c))
	assert.False(t, p.Match(nil))

	comment := NewComment("x", time.Now()).Record(a.ID)
	assert.True(t, ReferencingPost(a.ID).Match(comment))
	assert.False(t, ReferencingPost(b.ID).Match(comment))
	assert.False(t, ReferencingPost(a.ID).Match(c))
}

func TestPost_Clone(t *testing.T) {
	post := NewPost([]byte("jpeg"), time.Now())
	post.AddComment(NewComment("first", time.Now()))

	clone := post.Clone()
	clone.Comments[0].RemoteID = "changed"
	clone.AddComment(NewComment("second", time.Now()))

	assert.Len(t, post.Comments, 1)
	assert.Empty(t, post.Comments[0].RemoteID)
	assert.Equal(t, post.ID, clone.Comments[1].PostID)
}
