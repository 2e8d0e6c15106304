package conversation

import (
	"context"
	"sync"

	"github.com/putto11262002/arena/core"
)

// Status is the state of the first page of a pager.
type Status int

const (
	StatusPending Status = iota
	StatusSuccess
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusSuccess:
		return "success"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// ViewState is what a message list should render.
type ViewState int

const (
	// ViewLoading is rendered while the first page is loading.
	ViewLoading ViewState = iota
	// ViewEmpty is rendered when the topic has no messages and no older page exists.
	ViewEmpty
	// ViewReady is rendered when there are messages or older pages to load.
	ViewReady
	// ViewError is rendered when the first page failed to load.
	ViewError
)

// PageFetcher fetches one page of a room history.
type PageFetcher interface {
	ListMessages(ctx context.Context, roomID string, q ListQuery) (core.MessagePage, error)
}

// Pager loads the history of a room backward into a Cache, one page at a time.
type Pager struct {
	cache   *Cache
	fetcher PageFetcher
	roomID  string
	limit   int

	mu       sync.Mutex
	status   Status
	inFlight bool
	err      error
}

func NewPager(cache *Cache, fetcher PageFetcher, roomID string, limit int) *Pager {
	return &Pager{cache: cache, fetcher: fetcher, roomID: roomID, limit: limit}
}

func (p *Pager) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// Err returns the error of the last failed fetch.
func (p *Pager) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Fetching reports whether a fetch is in flight.
func (p *Pager) Fetching() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inFlight
}

// HasNextPage reports whether an older page exists.
func (p *Pager) HasNextPage() bool {
	return p.cache.Get(p.roomID).HasNextPage()
}

// FetchNextPage loads the next older page. The first call loads the most recent page.
// It is a no-op returning false when a fetch is in flight or no older page exists.
func (p *Pager) FetchNextPage(ctx context.Context) (bool, error) {
	p.mu.Lock()
	if p.inFlight {
		p.mu.Unlock()
		return false, nil
	}
	pages := p.cache.Get(p.roomID)
	if pages.Loaded && !pages.HasNextPage() {
		p.mu.Unlock()
		return false, nil
	}
	p.inFlight = true
	p.mu.Unlock()

	page, err := p.fetcher.ListMessages(ctx, p.roomID, ListQuery{Cursor: pages.NextCursor(), Limit: p.limit})
	if err == nil {
		// cache subscribers may call back into the pager, so the lock is not held here
		p.cache.AppendPage(p.roomID, Page{Data: page.Data, NextCursor: page.NextCursor})
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.inFlight = false
	if err != nil {
		p.err = err
		if p.status != StatusSuccess {
			p.status = StatusError
		}
		return true, err
	}
	p.status = StatusSuccess
	p.err = nil
	return true, nil
}

// SentinelVisible is called when the end of the list scrolls into view.
func (p *Pager) SentinelVisible(ctx context.Context) (bool, error) {
	return p.FetchNextPage(ctx)
}

// View returns the render state of topicIndex.
func (p *Pager) View(topicIndex int) ViewState {
	pages := p.cache.Get(p.roomID)
	switch p.Status() {
	case StatusPending:
		return ViewLoading
	case StatusError:
		return ViewError
	}
	if len(Project(pages, topicIndex)) == 0 && !pages.HasNextPage() {
		return ViewEmpty
	}
	return ViewReady
}
