package feed

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gardian_admin/internal/models"
	"gardian_admin/internal/store"
)

type countingUsers struct {
	*store.Memory
	calls  int64
	failID string
}

func (c *countingUsers) GetUser(ctx context.Context, id string) (*models.User, error) {
	atomic.AddInt64(&c.calls, 1)
	if id == c.failID {
		return nil, errors.New("lookup timed out")
	}
	return c.Memory.GetUser(ctx, id)
}

func at(h int) time.Time {
	return time.Date(2024, 3, 1, h, 0, 0, 0, time.UTC)
}

func TestJoinSortsAndLeavesMissingProfilesNull(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	require.NoError(t, mem.PutUser(ctx, &models.User{ID: "u1", FirstName: "Juan", LastName: "Cruz", Barangay: "San Roque", Phone: "0917", Email: "j@example.com"}))
	users := &countingUsers{Memory: mem, failID: "u3"}

	reports := []models.Report{
		{ID: "r1", UserID: "u1", UploadedAt: at(8)},
		{ID: "r2", UserID: "u2", UploadedAt: at(10)},
		{ID: "r3", UserID: "u3", UploadedAt: at(9)},
	}
	views := Join(ctx, users, reports, false)
	require.Len(t, views, 3)
	assert.Equal(t, []string{"r2", "r3", "r1"}, []string{views[0].ID, views[1].ID, views[2].ID})

	assert.Nil(t, views[0].SubmitterName)
	assert.Nil(t, views[1].SubmitterName)
	require.NotNil(t, views[2].SubmitterName)
	assert.Equal(t, "Juan Cruz", *views[2].SubmitterName)
	assert.Equal(t, "San Roque", *views[2].SubmitterBarangay)
}

func TestJoinCacheSharesLookups(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	require.NoError(t, mem.PutUser(ctx, &models.User{ID: "u1", FirstName: "Juan"}))
	users := &countingUsers{Memory: mem}

	reports := make([]models.Report, 20)
	for i := range reports {
		reports[i] = models.Report{ID: string(rune('a' + i)), UserID: "u1", UploadedAt: at(i % 24)}
	}
	views := Join(ctx, users, reports, true)
	assert.Len(t, views, 20)
	assert.EqualValues(t, 1, atomic.LoadInt64(&users.calls))

	atomic.StoreInt64(&users.calls, 0)
	Join(ctx, users, reports, false)
	assert.EqualValues(t, 20, atomic.LoadInt64(&users.calls))
}

func TestFeedPublishesJoinedSnapshots(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mem := store.NewMemory()
	f := New(mem, mem, Options{CacheProfiles: true})

	updates, stop := f.Subscribe()
	defer stop()
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		f.Run(ctx)
	}()

	first := <-updates
	assert.Empty(t, first)

	mem.PutReport(models.Report{ID: "r1", UserID: "u9", UploadedAt: at(7), Status: models.ReportPending})
	var views []models.ReportView
	require.Eventually(t, func() bool {
		select {
		case views = <-updates:
		default:
		}
		return len(views) == 1
	}, time.Second, 10*time.Millisecond)
	assert.Nil(t, views[0].SubmitterName)

	// the profile shows up on the next publish once it exists
	require.NoError(t, mem.PutUser(ctx, &models.User{ID: "u9", FirstName: "Maria", Barangay: "Poblacion"}))
	mem.PutReport(models.Report{ID: "r2", UserID: "u9", UploadedAt: at(8), Status: models.ReportPending})
	require.Eventually(t, func() bool {
		select {
		case views = <-updates:
		default:
		}
		return len(views) == 2 && views[0].SubmitterName != nil
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, "Maria", *views[1].SubmitterName)

	current, ok := f.Current()
	assert.True(t, ok)
	assert.Len(t, current, 2)

	cancel()
	wg.Wait()
}
