// Package feed maintains the live, profile-joined report list every dashboard view renders from.
package feed

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"gardian_admin/internal/models"
	"gardian_admin/internal/store"
)

// Options configures a Feed.
type Options struct {
	// CacheProfiles shares one profile lookup per submitter within a snapshot.
	CacheProfiles bool
	// RetryDelay is the pause before re-subscribing after the watch fails.
	RetryDelay time.Duration
}

// Feed watches every submitter's reports and republishes them joined with profiles, newest first.
type Feed struct {
	reports store.ReportStore
	users   store.UserStore
	opts    Options

	mu        sync.RWMutex
	current   []models.ReportView
	published time.Time
	subs      map[int]chan []models.ReportView
	nextSub   int
}

// New returns a feed that publishes nothing until Run is called.
func New(reports store.ReportStore, users store.UserStore, opts Options) *Feed {
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 5 * time.Second
	}
	return &Feed{
		reports: reports,
		users:   users,
		opts:    opts,
		subs:    make(map[int]chan []models.ReportView),
	}
}

// Run follows the report watch until ctx is done, re-subscribing after failures.
func (f *Feed) Run(ctx context.Context) {
	for {
		err := f.reports.WatchReports(ctx, func(reports []models.Report) {
			f.publish(Join(ctx, f.users, reports, f.opts.CacheProfiles))
		})
		if ctx.Err() != nil {
			return
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			logrus.WithError(err).Error("report watch failed, resubscribing")
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(f.opts.RetryDelay):
		}
	}
}

// Join enriches reports with their submitters' profiles. Lookups run concurrently and the
// result is returned once all of them settle. A missing or failed profile leaves that report's
// profile fields nil. The result is sorted newest first.
func Join(ctx context.Context, users store.UserStore, reports []models.Report, cacheProfiles bool) []models.ReportView {
	views := make([]models.ReportView, len(reports))
	lookup := func(uid string) *models.User {
		u, err := users.GetUser(ctx, uid)
		if err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				logrus.WithError(err).WithField("user_id", uid).Warn("profile lookup failed, leaving submitter fields empty")
			}
			return nil
		}
		return u
	}
	if cacheProfiles {
		lookup = newProfileCache(lookup).get
	}

	var g errgroup.Group
	for i := range reports {
		i := i
		g.Go(func() error {
			views[i] = models.JoinReport(reports[i], lookup(reports[i].UserID))
			return nil
		})
	}
	_ = g.Wait()

	SortNewestFirst(views)
	return views
}

// SortNewestFirst orders views by capture time, newest first.
func SortNewestFirst(views []models.ReportView) {
	sort.SliceStable(views, func(i, j int) bool {
		return views[i].UploadedAt.After(views[j].UploadedAt)
	})
}

type profileCall struct {
	once sync.Once
	user *models.User
}

// profileCache collapses concurrent lookups of the same submitter within one snapshot.
type profileCache struct {
	fetch func(string) *models.User
	mu    sync.Mutex
	calls map[string]*profileCall
}

func newProfileCache(fetch func(string) *models.User) *profileCache {
	return &profileCache{fetch: fetch, calls: make(map[string]*profileCall)}
}

func (c *profileCache) get(uid string) *models.User {
	c.mu.Lock()
	call, ok := c.calls[uid]
	if !ok {
		call = &profileCall{}
		c.calls[uid] = call
	}
	c.mu.Unlock()
	call.once.Do(func() { call.user = c.fetch(uid) })
	return call.user
}

func (f *Feed) publish(views []models.ReportView) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current = views
	f.published = time.Now()
	for _, ch := range f.subs {
		// keep only the newest list for slow consumers
		select {
		case <-ch:
		default:
		}
		ch <- views
	}
	logrus.WithField("reports", len(views)).Debug("report feed published")
}

// Current returns the latest published list and whether anything has been published yet.
// The slice is shared; callers must not modify it.
func (f *Feed) Current() ([]models.ReportView, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.current, !f.published.IsZero()
}

// Subscribe delivers every subsequent publish, starting with the current list when there is
// one. The returned func ends the subscription.
func (f *Feed) Subscribe() (<-chan []models.ReportView, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextSub
	f.nextSub++
	ch := make(chan []models.ReportView, 1)
	if !f.published.IsZero() {
		ch <- f.current
	}
	f.subs[id] = ch
	return ch, func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if c, ok := f.subs[id]; ok {
			delete(f.subs, id)
			close(c)
		}
	}
}
