// Package feed owns the in-memory event list and its refresh lifecycle:
// cache-first startup, staleness-driven background refresh, forced refresh
// and offline resilience.
package feed

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"momcal/internal/cache"
	"momcal/internal/category"
	"momcal/internal/ics"
	appLog "momcal/internal/log"
	"momcal/internal/model"
)

// ErrorState is the soft error exposed to consumers.
type ErrorState string

const (
	ErrorNone ErrorState = ""
	// ErrorCached means the last refresh failed and previously loaded events
	// are being shown.
	ErrorCached ErrorState = "cached"
	// ErrorFailed means the last refresh failed and there is nothing to show.
	ErrorFailed ErrorState = "failed"
)

const DefaultStaleAfter = 30 * time.Minute

var (
	ErrRefreshFailed = errors.New("feed: refresh failed")
	// ErrSuperseded is returned by a refresh whose result was discarded
	// because a newer refresh started or the controller closed.
	ErrSuperseded = errors.New("feed: refresh superseded")
	ErrClosed     = errors.New("feed: controller closed")
)

// Fetcher retrieves raw calendar text. *ics.Retriever implements it.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// Options configures a Controller.
type Options struct {
	URL        string
	StaleAfter time.Duration

	// ExpandRecurring replaces recurring events with their occurrences
	// between now and now+Horizon.
	ExpandRecurring bool
	Horizon         time.Duration
	StableIDs       bool

	// Now overrides time.Now.
	Now func() time.Time
}

// View is a consistent snapshot of the controller state.
type View struct {
	// Events are upcoming or ongoing at the time of the snapshot, sorted by start.
	Events      []model.CalendarEvent
	Loading     bool
	Error       ErrorState
	LastUpdated *time.Time
}

// Controller coordinates retriever, parser, categorizer and cache.
type Controller struct {
	opts        Options
	fetcher     Fetcher
	parser      *ics.Parser
	categorizer *category.Categorizer
	cache       *cache.Manager

	baseCtx    context.Context
	baseCancel context.CancelFunc
	wg         sync.WaitGroup

	mu        sync.Mutex
	events    []model.CalendarEvent
	hasData   bool
	fetchedAt time.Time
	loading   bool
	errState  ErrorState
	gen       uint64
	cancel    context.CancelFunc
	closed    bool

	// persistMu orders cache writes; appliedGen is the newest generation
	// written to the cache.
	persistMu  sync.Mutex
	appliedGen uint64
}

func NewController(opts Options, fetcher Fetcher, parser *ics.Parser, categorizer *category.Categorizer, cm *cache.Manager) *Controller {
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = DefaultStaleAfter
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		opts:        opts,
		fetcher:     fetcher,
		parser:      parser,
		categorizer: categorizer,
		cache:       cm,
		baseCtx:     ctx,
		baseCancel:  cancel,
		events:      []model.CalendarEvent{},
	}
}

// Start populates the controller from the cache and kicks off a background
// refresh when there is no cache or it is stale. It does not block on the
// network.
func (c *Controller) Start(ctx context.Context) {
	c.Restore(ctx)

	c.mu.Lock()
	stale := !c.hasData || c.isStaleLocked()
	if stale {
		c.loading = true
	}
	c.mu.Unlock()

	if stale {
		c.RefreshAsync()
	}
}

// Restore populates the controller from the cache without fetching. It
// reports whether a snapshot was found.
func (c *Controller) Restore(ctx context.Context) bool {
	data, ok := c.cache.Load(ctx)
	if !ok {
		return false
	}

	c.mu.Lock()
	c.events = data.Events
	c.hasData = true
	c.fetchedAt = data.FetchedAt
	stale := c.isStaleLocked()
	c.mu.Unlock()

	appLog.Info("calendar cache restored", "events", len(data.Events), "fetched_at", data.FetchedAt.Format(time.RFC3339), "stale", stale)
	return true
}

// Refresh runs a forced refresh and waits for it. A newer refresh or Close
// makes it return ErrSuperseded without touching the state.
func (c *Controller) Refresh(ctx context.Context) error {
	gen, rctx, done, err := c.begin(ctx)
	if err != nil {
		return err
	}
	defer done()

	events, loadErr := c.load(rctx)
	return c.finish(gen, events, loadErr)
}

// RefreshAsync starts a forced refresh in the background.
func (c *Controller) RefreshAsync() {
	gen, rctx, done, err := c.begin(c.baseCtx)
	if err != nil {
		return
	}
	go func() {
		defer done()
		events, loadErr := c.load(rctx)
		_ = c.finish(gen, events, loadErr)
	}()
}

// RefreshIfStale refreshes only when the data is older than the stale
// threshold or missing. Nothing happens while another refresh is running.
func (c *Controller) RefreshIfStale(ctx context.Context) error {
	c.mu.Lock()
	stale := !c.hasData || c.isStaleLocked()
	busy := c.cancel != nil
	c.mu.Unlock()

	if !stale || busy {
		return nil
	}
	return c.Refresh(ctx)
}

// Snapshot returns the current view with the end-or-start >= now filter applied.
func (c *Controller) Snapshot() View {
	now := c.opts.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	upcoming := make([]model.CalendarEvent, 0, len(c.events))
	for _, ev := range c.events {
		if ev.VisibleAt(now) {
			upcoming = append(upcoming, ev)
		}
	}

	v := View{
		Events:  upcoming,
		Loading: c.loading,
		Error:   c.errState,
	}
	if c.hasData && !c.fetchedAt.IsZero() {
		t := c.fetchedAt
		v.LastUpdated = &t
	}
	return v
}

// Close cancels in-flight refreshes and waits for them. Results arriving
// afterwards are dropped.
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.baseCancel()
	c.wg.Wait()
}

func (c *Controller) isStaleLocked() bool {
	return c.opts.Now().Sub(c.fetchedAt) > c.opts.StaleAfter
}

// begin registers a new refresh generation and cancels the previous one.
func (c *Controller) begin(parent context.Context) (uint64, context.Context, func(), error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return 0, nil, nil, ErrClosed
	}
	if c.cancel != nil {
		c.cancel()
	}

	c.gen++
	ctx, cancel := context.WithCancel(parent)
	stop := context.AfterFunc(c.baseCtx, cancel)
	c.cancel = cancel
	c.loading = true
	c.wg.Add(1)

	done := func() {
		stop()
		cancel()
		c.wg.Done()
	}
	return c.gen, ctx, done, nil
}

// load runs retrieve, parse, expand, categorize and link resolution.
func (c *Controller) load(ctx context.Context) ([]model.CalendarEvent, error) {
	text, err := c.fetcher.Fetch(ctx, c.opts.URL)
	if err != nil {
		return nil, err
	}

	events := c.parser.Parse(text)

	if c.opts.ExpandRecurring {
		now := c.opts.Now()
		horizon := c.opts.Horizon
		if horizon <= 0 {
			horizon = 365 * 24 * time.Hour
		}
		events, err = ics.Expand(events, ics.ExpandConfig{
			RangeStart: now,
			RangeEnd:   now.Add(horizon),
			StableIDs:  c.opts.StableIDs,
		})
		if err != nil {
			return nil, err
		}
	}

	for i := range events {
		events[i].Recurrence = nil
		events[i].CategoryKey = c.categorizer.Resolve(events[i])
		events[i].InfoLink = ics.ResolveInfoLink(events[i])
	}
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Start.Before(events[j].Start)
	})

	return events, nil
}

// finish applies the result of generation gen if it is still the latest.
func (c *Controller) finish(gen uint64, events []model.CalendarEvent, loadErr error) error {
	c.mu.Lock()
	if c.closed || gen != c.gen {
		c.mu.Unlock()
		appLog.Debug("dropping superseded calendar refresh", "generation", gen)
		return ErrSuperseded
	}

	c.loading = false
	c.cancel = nil

	if loadErr != nil {
		if c.hasData {
			c.errState = ErrorCached
		} else {
			c.errState = ErrorFailed
			c.events = []model.CalendarEvent{}
		}
		state := c.errState
		c.mu.Unlock()

		appLog.Warn("calendar refresh failed", "err", loadErr, "state", string(state))
		return ErrRefreshFailed
	}

	c.events = events
	c.hasData = true
	c.fetchedAt = c.opts.Now()
	c.errState = ErrorNone
	c.mu.Unlock()

	appLog.Info("calendar refreshed", "events", len(events), "generation", gen)
	c.persist(gen, events)
	return nil
}

func (c *Controller) persist(gen uint64, events []model.CalendarEvent) {
	c.persistMu.Lock()
	defer c.persistMu.Unlock()

	if gen < c.appliedGen {
		return
	}
	c.appliedGen = gen
	c.cache.Store(context.WithoutCancel(c.baseCtx), events)
}
