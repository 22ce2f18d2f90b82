package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/mmcdole/kinosync/internal/domain"
)

func TestCacheObserver(t *testing.T) {
	before := testutil.ToFloat64(CacheEvents.WithLabelValues("catalog", "miss"))
	CacheObserver{}.OnCacheEvent(domain.CacheEvent{Type: domain.CacheMiss, Resource: domain.ResourceCatalog, Key: "k"})
	assert.Equal(t, before+1, testutil.ToFloat64(CacheEvents.WithLabelValues("catalog", "miss")))
}

func TestRecordSyncTask(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	RecordSyncTask(domain.TaskResult{Category: domain.CategoryMoviesWatched, Duration: time.Second}, at)
	RecordSyncTask(domain.TaskResult{Category: domain.CategoryHidden, Err: errors.New("boom")}, at)

	assert.Equal(t, float64(at.Unix()), testutil.ToFloat64(SyncLastSuccess.WithLabelValues("movies.watched")))
	assert.Equal(t, 1.0, testutil.ToFloat64(SyncTasks.WithLabelValues("shows.hidden", "error")))
	assert.Equal(t, 0.0, testutil.ToFloat64(SyncLastSuccess.WithLabelValues("shows.hidden")))
}

func TestRecordRemoteRequest(t *testing.T) {
	RecordRemoteRequest("trakt", 0, time.Millisecond)
	RecordRemoteRequest("trakt", 304, time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(RemoteRequests.WithLabelValues("trakt", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(RemoteRequests.WithLabelValues("trakt", "304")))
}
