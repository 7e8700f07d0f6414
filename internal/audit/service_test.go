package audit

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	rows       []Record
	lastOffset int
	lastLimit  int
}

func (f *fakeStore) TimelineWindow(_ context.Context, _ TimelineFilters, offset, limit int) ([]Record, error) {
	f.lastOffset = offset
	f.lastLimit = limit
	if offset >= len(f.rows) {
		return nil, nil
	}
	end := offset + limit
	if end > len(f.rows) {
		end = len(f.rows)
	}
	return f.rows[offset:end], nil
}

func storeWithRows(n int) *fakeStore {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rows := make([]Record, n)
	for i := range rows {
		rows[i] = Record{EventID: "ev-" + strconv.Itoa(i), Action: "authz.decision.allow", At: at}
	}
	return &fakeStore{rows: rows}
}

func TestTimelineDefaultsAndClamps(t *testing.T) {
	store := storeWithRows(5)
	svc := NewService(store)
	ctx := context.Background()

	res, err := svc.Timeline(ctx, TimelineFilters{})
	require.NoError(t, err)
	assert.Equal(t, 20, res.Paging.PageSize)
	assert.Equal(t, 1, res.Paging.Page)
	assert.Equal(t, 21, store.lastLimit, "fetches one extra row to probe the next page")

	res, err = svc.Timeline(ctx, TimelineFilters{PageSize: 500})
	require.NoError(t, err)
	assert.Equal(t, 50, res.Paging.PageSize)

	res, err = svc.Timeline(ctx, TimelineFilters{PageSize: -3, Page: -1})
	require.NoError(t, err)
	assert.Equal(t, 20, res.Paging.PageSize)
	assert.Equal(t, 1, res.Paging.Page)
}

func TestTimelinePaging(t *testing.T) {
	store := storeWithRows(7)
	svc := NewService(store)
	ctx := context.Background()

	first, err := svc.Timeline(ctx, TimelineFilters{Page: 1, PageSize: 3})
	require.NoError(t, err)
	require.Len(t, first.Rows, 3)
	assert.True(t, first.Paging.HasNext)
	assert.Equal(t, 2, first.Paging.NextPage)
	assert.Zero(t, first.Paging.PrevPage)
	assert.Equal(t, "ev-0", first.Rows[0].EventID)

	last, err := svc.Timeline(ctx, TimelineFilters{Page: 3, PageSize: 3})
	require.NoError(t, err)
	require.Len(t, last.Rows, 1)
	assert.False(t, last.Paging.HasNext)
	assert.Zero(t, last.Paging.NextPage)
	assert.Equal(t, 2, last.Paging.PrevPage)
	assert.Equal(t, 6, store.lastOffset)
}

func TestTimelineEmptyPage(t *testing.T) {
	svc := NewService(storeWithRows(2))
	res, err := svc.Timeline(context.Background(), TimelineFilters{Page: 5, PageSize: 10})
	require.NoError(t, err)
	assert.Empty(t, res.Rows)
	assert.False(t, res.Paging.HasNext)
}

func TestTimelineRequiresStore(t *testing.T) {
	svc := NewService(nil)
	_, err := svc.Timeline(context.Background(), TimelineFilters{})
	assert.Error(t, err)
}
