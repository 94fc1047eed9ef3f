package mediagroup

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitBatch(t *testing.T, ch <-chan []string) []string {
	t.Helper()
	select {
	case items := <-ch:
		return items
	case <-time.After(2 * time.Second):
		t.Fatal("batch never fired")
		return nil
	}
}

func TestBatchFiresOnceWithAllItemsInOrder(t *testing.T) {
	agg := New[string](60 * time.Millisecond)
	fired := make(chan []string, 4)
	complete := func(_ string, items []string) { fired <- items }

	agg.Add("g1", "a", complete)
	agg.Add("g1", "b", complete)
	agg.Add("g1", "c", complete)

	items := waitBatch(t, fired)
	assert.Equal(t, []string{"a", "b", "c"}, items)
	assert.Equal(t, 0, agg.Pending())

	select {
	case extra := <-fired:
		t.Fatalf("batch fired twice: %v", extra)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestAddExtendsTheDebounceWindow(t *testing.T) {
	agg := New[string](150 * time.Millisecond)
	fired := make(chan []string, 4)
	complete := func(_ string, items []string) { fired <- items }

	agg.Add("g1", "first", complete)
	time.Sleep(80 * time.Millisecond)
	agg.Add("g1", "second", complete)

	// The second add landed inside the first item's window, so both items
	// belong to the same batch.
	items := waitBatch(t, fired)
	assert.Equal(t, []string{"first", "second"}, items)
}

func TestItemAfterFireStartsNewBatch(t *testing.T) {
	agg := New[string](40 * time.Millisecond)
	fired := make(chan []string, 4)
	complete := func(_ string, items []string) { fired <- items }

	agg.Add("g1", "a", complete)
	first := waitBatch(t, fired)
	require.Equal(t, []string{"a"}, first)

	agg.Add("g1", "b", complete)
	second := waitBatch(t, fired)
	assert.Equal(t, []string{"b"}, second)
}

func TestGroupsAreIndependent(t *testing.T) {
	agg := New[string](60 * time.Millisecond)
	fired := make(chan []string, 4)
	groups := make(chan string, 4)
	complete := func(groupID string, items []string) {
		groups <- groupID
		fired <- items
	}

	agg.Add("g1", "a", complete)
	agg.Add("g2", "x", complete)
	agg.Add("g1", "b", complete)

	got := map[string][]string{}
	for i := 0; i < 2; i++ {
		items := waitBatch(t, fired)
		got[<-groups] = items
	}
	assert.Equal(t, []string{"a", "b"}, got["g1"])
	assert.Equal(t, []string{"x"}, got["g2"])
}
