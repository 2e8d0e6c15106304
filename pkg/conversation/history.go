package conversation

import (
	"slices"
	"sync"

	"github.com/putto11262002/arena/core"
)

// Page is a contiguous slice of messages, newest first.
type Page struct {
	Data       []core.Message
	NextCursor string
}

// Pages is an immutable snapshot of the history of a room.
// Pages are ordered from the most recent to the oldest.
type Pages struct {
	Pages []Page
	// Loaded is set once a page was fetched from the server.
	Loaded bool
}

// HasNextPage reports whether older messages can be fetched.
func (p Pages) HasNextPage() bool {
	return p.Loaded && p.NextCursor() != ""
}

// NextCursor is the cursor of the oldest fetched page.
func (p Pages) NextCursor() string {
	if len(p.Pages) == 0 {
		return ""
	}
	return p.Pages[len(p.Pages)-1].NextCursor
}

// Messages flattens the pages, newest first.
func (p Pages) Messages() []core.Message {
	n := 0
	for _, page := range p.Pages {
		n += len(page.Data)
	}
	out := make([]core.Message, 0, n)
	for _, page := range p.Pages {
		out = append(out, page.Data...)
	}
	return out
}

func (p Pages) Contains(id string) bool {
	_, _, ok := p.find(id)
	return ok
}

func (p Pages) find(id string) (int, int, bool) {
	for i, page := range p.Pages {
		for j, m := range page.Data {
			if m.ID == id {
				return i, j, true
			}
		}
	}
	return 0, 0, false
}

// Cache holds the message history of each room.
// Snapshots are never mutated. Every update builds a new snapshot from the latest one
// and swaps it in atomically, so a merge never applies to a stale snapshot.
type Cache struct {
	rooms *core.SyncMap[string, Pages]

	subMu     sync.Mutex
	nextSubID int
	subs      map[string]map[int]func(Pages)
}

func NewCache() *Cache {
	return &Cache{
		rooms: core.NewSyncMap[string, Pages](),
		subs:  make(map[string]map[int]func(Pages)),
	}
}

// Get returns the current snapshot of roomID.
func (c *Cache) Get(roomID string) Pages {
	p, _ := c.rooms.Load(roomID)
	return p
}

// Subscribe calls fn with every new snapshot of roomID.
func (c *Cache) Subscribe(roomID string, fn func(Pages)) (unsubscribe func()) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	id := c.nextSubID
	c.nextSubID++
	if c.subs[roomID] == nil {
		c.subs[roomID] = make(map[int]func(Pages))
	}
	c.subs[roomID][id] = fn
	return func() {
		c.subMu.Lock()
		defer c.subMu.Unlock()
		delete(c.subs[roomID], id)
		if len(c.subs[roomID]) == 0 {
			delete(c.subs, roomID)
		}
	}
}

func (c *Cache) publish(roomID string, p Pages) {
	c.subMu.Lock()
	fns := make([]func(Pages), 0, len(c.subs[roomID]))
	for _, fn := range c.subs[roomID] {
		fns = append(fns, fn)
	}
	c.subMu.Unlock()
	for _, fn := range fns {
		fn(p)
	}
}

func (c *Cache) update(roomID string, f func(Pages) (Pages, bool)) bool {
	p, stored := c.rooms.Update(roomID, func(old Pages, _ bool) (Pages, bool) {
		return f(old)
	})
	if stored {
		c.publish(roomID, p)
	}
	return stored
}

// MergeLivePush prepends m to the most recent page, creating it when the room has no pages.
// A message whose id is already cached is rejected. It reports whether m was merged.
func (c *Cache) MergeLivePush(roomID string, m core.Message) bool {
	return c.update(roomID, func(old Pages) (Pages, bool) {
		if old.Contains(m.ID) {
			return old, false
		}
		pages := slices.Clone(old.Pages)
		if len(pages) == 0 {
			pages = append(pages, Page{Data: []core.Message{m}})
		} else {
			first := pages[0]
			data := make([]core.Message, 0, len(first.Data)+1)
			data = append(data, m)
			data = append(data, first.Data...)
			pages[0] = Page{Data: data, NextCursor: first.NextCursor}
		}
		return Pages{Pages: pages, Loaded: old.Loaded}, true
	})
}

// AppendPage records an older page fetched from the server.
// Messages already cached, typically pushed live while the page was in flight, are dropped.
func (c *Cache) AppendPage(roomID string, page Page) {
	c.update(roomID, func(old Pages) (Pages, bool) {
		data := make([]core.Message, 0, len(page.Data))
		for _, m := range page.Data {
			if !old.Contains(m.ID) && !slices.ContainsFunc(data, func(d core.Message) bool { return d.ID == m.ID }) {
				data = append(data, m)
			}
		}
		pages := make([]Page, 0, len(old.Pages)+1)
		pages = append(pages, old.Pages...)
		pages = append(pages, Page{Data: data, NextCursor: page.NextCursor})
		return Pages{Pages: pages, Loaded: true}, true
	})
}

// Reset drops the history of roomID.
func (c *Cache) Reset(roomID string) {
	c.update(roomID, func(Pages) (Pages, bool) {
		return Pages{}, true
	})
}

// Message returns the cached message id of roomID.
func (c *Cache) Message(roomID, id string) (core.Message, bool) {
	p := c.Get(roomID)
	i, j, ok := p.find(id)
	if !ok {
		return core.Message{}, false
	}
	return p.Pages[i].Data[j], true
}

// PatchMessage replaces the message id of roomID with fn applied to it.
// The structure and order of the pages is preserved. It reports whether the message was found.
func (c *Cache) PatchMessage(roomID, id string, fn func(core.Message) core.Message) bool {
	return c.update(roomID, func(old Pages) (Pages, bool) {
		i, j, ok := old.find(id)
		if !ok {
			return old, false
		}
		pages := slices.Clone(old.Pages)
		data := slices.Clone(pages[i].Data)
		data[j] = fn(data[j])
		pages[i] = Page{Data: data, NextCursor: pages[i].NextCursor}
		return Pages{Pages: pages, Loaded: old.Loaded}, true
	})
}

// Project returns the messages of topicIndex in roomID, oldest first.
func (c *Cache) Project(roomID string, topicIndex int) []core.Message {
	return Project(c.Get(roomID), topicIndex)
}

// Project flattens p, reverses it to chronological order and keeps the messages of topicIndex.
func Project(p Pages, topicIndex int) []core.Message {
	all := p.Messages()
	out := make([]core.Message, 0, len(all))
	for i := len(all) - 1; i >= 0; i-- {
		if all[i].TopicIndex == topicIndex {
			out = append(out, all[i])
		}
	}
	return out
}
