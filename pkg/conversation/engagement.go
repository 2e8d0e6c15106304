package conversation

import (
	"context"
	"errors"
	"fmt"
	"slices"

	lru "github.com/hashicorp/golang-lru"
	"github.com/putto11262002/arena/core"
)

// ViewThreshold is the visible fraction of a message past which it counts as viewed.
const ViewThreshold = 0.5

const defaultCommentCacheSize = 128

var ErrMessageNotCached = errors.New("message not in cache")

// EngagementAPI is the server side of likes, comments and views.
type EngagementAPI interface {
	ToggleLike(ctx context.Context, roomID, messageID string) (LikeResult, error)
	AddComment(ctx context.Context, roomID, messageID, content string) (core.Comment, bool, error)
	ListComments(ctx context.Context, roomID, messageID string) ([]core.Comment, error)
	RecordView(ctx context.Context, roomID, messageID string) (ViewResult, error)
}

// Engagement applies likes, comments and views to the cached history.
// Changes are applied to the cache before the server confirms them and reverted when it rejects them.
type Engagement struct {
	cache    *Cache
	api      EngagementAPI
	comments *lru.Cache
	// viewed holds the messages a view was recorded for.
	viewed *core.SyncMap[string, struct{}]
}

func NewEngagement(cache *Cache, api EngagementAPI, commentCacheSize int) (*Engagement, error) {
	if commentCacheSize <= 0 {
		commentCacheSize = defaultCommentCacheSize
	}
	comments, err := lru.New(commentCacheSize)
	if err != nil {
		return nil, fmt.Errorf("lru.New: %w", err)
	}
	return &Engagement{
		cache:    cache,
		api:      api,
		comments: comments,
		viewed:   core.NewSyncMap[string, struct{}](),
	}, nil
}

func flipLike(m core.Message) core.Message {
	if m.Liked {
		m.Like--
	} else {
		m.Like++
	}
	m.Liked = !m.Liked
	return m
}

// ToggleLike flips the like of the viewer on a cached message.
func (e *Engagement) ToggleLike(ctx context.Context, roomID, messageID string) error {
	if !e.cache.PatchMessage(roomID, messageID, flipLike) {
		return ErrMessageNotCached
	}

	res, err := e.api.ToggleLike(ctx, roomID, messageID)
	if err != nil {
		e.cache.PatchMessage(roomID, messageID, flipLike)
		return fmt.Errorf("toggle like: %w", err)
	}

	e.cache.PatchMessage(roomID, messageID, func(m core.Message) core.Message {
		m.Like = res.Like
		m.Liked = res.Liked
		return m
	})
	return nil
}

func messageKey(roomID, messageID string) string {
	return roomID + "/" + messageID
}

// Comments returns the comments of a message, loading them on a cache miss.
func (e *Engagement) Comments(ctx context.Context, roomID, messageID string) ([]core.Comment, error) {
	if v, ok := e.comments.Get(messageKey(roomID, messageID)); ok {
		return slices.Clone(v.([]core.Comment)), nil
	}
	comments, err := e.api.ListComments(ctx, roomID, messageID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	e.comments.Add(messageKey(roomID, messageID), comments)
	return slices.Clone(comments), nil
}

// AddComment posts the viewer comment. A created comment is appended to the cached comments and
// counted on the message. An updated comment replaces the cached one.
func (e *Engagement) AddComment(ctx context.Context, roomID, messageID, content string) (core.Comment, error) {
	comment, created, err := e.api.AddComment(ctx, roomID, messageID, content)
	if err != nil {
		return comment, fmt.Errorf("add comment: %w", err)
	}

	key := messageKey(roomID, messageID)
	if v, ok := e.comments.Get(key); ok {
		cached := slices.Clone(v.([]core.Comment))
		i := slices.IndexFunc(cached, func(c core.Comment) bool { return c.ID == comment.ID })
		if i >= 0 {
			cached[i] = comment
		} else {
			cached = append(cached, comment)
		}
		e.comments.Add(key, cached)
	}

	if created {
		e.cache.PatchMessage(roomID, messageID, func(m core.Message) core.Message {
			m.Comments++
			return m
		})
	}
	return comment, nil
}

// RecordView records a view of a message once it is at least ViewThreshold visible.
// A view is recorded at most once per message. It reports whether a view was sent.
func (e *Engagement) RecordView(ctx context.Context, roomID, messageID string, visibleRatio float64) (bool, error) {
	if visibleRatio < ViewThreshold {
		return false, nil
	}
	m, ok := e.cache.Message(roomID, messageID)
	if !ok {
		return false, ErrMessageNotCached
	}
	if m.Viewed {
		return false, nil
	}

	key := messageKey(roomID, messageID)
	_, claimed := e.viewed.Update(key, func(_ struct{}, seen bool) (struct{}, bool) {
		return struct{}{}, !seen
	})
	if !claimed {
		return false, nil
	}

	e.cache.PatchMessage(roomID, messageID, func(m core.Message) core.Message {
		if !m.Viewed {
			m.Viewed = true
			m.View++
		}
		return m
	})

	res, err := e.api.RecordView(ctx, roomID, messageID)
	if err != nil {
		e.viewed.Delete(key)
		e.cache.PatchMessage(roomID, messageID, func(m core.Message) core.Message {
			m.Viewed = false
			m.View--
			return m
		})
		return true, fmt.Errorf("record view: %w", err)
	}

	e.cache.PatchMessage(roomID, messageID, func(m core.Message) core.Message {
		m.View = res.View
		m.Viewed = true
		return m
	})
	return true, nil
}
