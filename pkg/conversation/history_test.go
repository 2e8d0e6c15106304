package conversation

import (
	"sync"
	"testing"

	"github.com/putto11262002/arena/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_Project(t *testing.T) {
	cache := NewCache()
	// pages arrive newest first
	cache.AppendPage("r1", Page{
		Data:       []core.Message{message("m6", 1, "a"), message("m5", 0, "a"), message("m4", -1, "a")},
		NextCursor: "3",
	})
	cache.AppendPage("r1", Page{
		Data: []core.Message{message("m3", 0, "a"), message("m2", 1, "a"), message("m1", 0, "a")},
	})

	testCases := []struct {
		topic int
		want  []string
	}{
		{topic: -1, want: []string{"m4"}},
		{topic: 0, want: []string{"m1", "m3", "m5"}},
		{topic: 1, want: []string{"m2", "m6"}},
		{topic: 2, want: []string{}},
	}
	for _, tc := range testCases {
		got := cache.Project("r1", tc.topic)
		assert.Equal(t, tc.want, messageIDs(got), "topic %d", tc.topic)
		for _, m := range got {
			assert.Equal(t, tc.topic, m.TopicIndex)
		}
	}
}

func TestCache_MergeLivePush(t *testing.T) {
	t.Run("creates the first page", func(t *testing.T) {
		cache := NewCache()
		require.True(t, cache.MergeLivePush("r1", message("m1", 0, "a")))
		pages := cache.Get("r1")
		require.Len(t, pages.Pages, 1)
		assert.False(t, pages.Loaded)
	})

	t.Run("prepends to the most recent page", func(t *testing.T) {
		cache := NewCache()
		cache.AppendPage("r1", Page{Data: []core.Message{message("m2", 0, "a")}, NextCursor: "c1"})
		cache.AppendPage("r1", Page{Data: []core.Message{message("m1", 0, "a")}})

		require.True(t, cache.MergeLivePush("r1", message("m3", 0, "a")))
		pages := cache.Get("r1")
		require.Len(t, pages.Pages, 2)
		assert.Equal(t, []string{"m3", "m2"}, messageIDs(pages.Pages[0].Data))
		assert.Equal(t, "c1", pages.Pages[0].NextCursor)
		assert.Equal(t, []string{"m1", "m2", "m3"}, messageIDs(cache.Project("r1", 0)))
	})

	t.Run("rejects a redelivered message", func(t *testing.T) {
		cache := NewCache()
		cache.AppendPage("r1", Page{Data: []core.Message{message("m1", 0, "a")}})
		require.True(t, cache.MergeLivePush("r1", message("m2", 0, "a")))

		assert.False(t, cache.MergeLivePush("r1", message("m2", 0, "a")))
		assert.False(t, cache.MergeLivePush("r1", message("m1", 0, "a")))
		assert.Equal(t, []string{"m1", "m2"}, messageIDs(cache.Project("r1", 0)))
	})

	t.Run("concurrent pushes are all kept", func(t *testing.T) {
		cache := NewCache()
		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				cache.MergeLivePush("r1", message(string(rune('A'+i)), 0, "a"))
			}(i)
		}
		wg.Wait()
		assert.Len(t, cache.Project("r1", 0), 50)
	})
}

func TestCache_AppendPageDropsLivePushed(t *testing.T) {
	cache := NewCache()
	// m3 is pushed live while the first page is in flight
	require.True(t, cache.MergeLivePush("r1", message("m3", 0, "a")))
	cache.AppendPage("r1", Page{
		Data:       []core.Message{message("m3", 0, "a"), message("m2", 0, "a")},
		NextCursor: "2",
	})

	pages := cache.Get("r1")
	assert.True(t, pages.Loaded)
	assert.True(t, pages.HasNextPage())
	assert.Equal(t, []string{"m2", "m3"}, messageIDs(cache.Project("r1", 0)))
}

func TestCache_PatchMessage(t *testing.T) {
	cache := NewCache()
	cache.AppendPage("r1", Page{Data: []core.Message{message("m2", 0, "a")}, NextCursor: "1"})
	cache.AppendPage("r1", Page{Data: []core.Message{message("m1", 0, "a")}})
	before := cache.Get("r1")

	ok := cache.PatchMessage("r1", "m1", func(m core.Message) core.Message {
		m.Like = 7
		return m
	})
	require.True(t, ok)

	after := cache.Get("r1")
	require.Len(t, after.Pages, 2)
	assert.Equal(t, "1", after.Pages[0].NextCursor)
	assert.Equal(t, 7, after.Pages[1].Data[0].Like)
	// the previous snapshot is untouched
	assert.Equal(t, 0, before.Pages[1].Data[0].Like)

	assert.False(t, cache.PatchMessage("r1", "missing", func(m core.Message) core.Message { return m }))
}

func TestCache_Subscribe(t *testing.T) {
	cache := NewCache()
	var got []int
	unsubscribe := cache.Subscribe("r1", func(p Pages) {
		got = append(got, len(p.Messages()))
	})

	cache.MergeLivePush("r1", message("m1", 0, "a"))
	cache.MergeLivePush("r1", message("m1", 0, "a"))
	cache.MergeLivePush("r2", message("m2", 0, "a"))
	cache.MergeLivePush("r1", message("m3", 0, "a"))
	unsubscribe()
	cache.MergeLivePush("r1", message("m4", 0, "a"))

	assert.Equal(t, []int{1, 2}, got)
}
