package community

import (
	"context"
	"strings"
	"sync"
	"time"
)

type cachedPage struct {
	page EventPage
	at   time.Time
}

type cachedEvent struct {
	event Event
	at    time.Time
}

// EventCatalog reads events through the gateway with a TTL cache. When a read
// fails it serves stale cache entries, then demo data if enabled. Writes never
// go through the catalog.
type EventCatalog struct {
	mu           sync.Mutex
	gateway      Gateway
	tracker      EventTracker
	ttl          time.Duration
	demoFallback bool
	pages        map[string]cachedPage
	events       map[string]cachedEvent
	logger       Logger
	now          Clock
}

// CatalogOption customizes an EventCatalog.
type CatalogOption func(*EventCatalog)

// WithCatalogTracker sets where fetched events are reported.
func WithCatalogTracker(tracker EventTracker) CatalogOption {
	return func(c *EventCatalog) {
		c.tracker = tracker
	}
}

// WithCatalogTTL sets how long cached reads are considered fresh.
func WithCatalogTTL(ttl time.Duration) CatalogOption {
	return func(c *EventCatalog) {
		c.ttl = ttl
	}
}

// WithDemoFallback enables demo events when nothing else can be served.
func WithDemoFallback(enabled bool) CatalogOption {
	return func(c *EventCatalog) {
		c.demoFallback = enabled
	}
}

// WithCatalogLogger sets the catalog logger.
func WithCatalogLogger(logger Logger) CatalogOption {
	return func(c *EventCatalog) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithCatalogClock injects a custom clock (useful for tests).
func WithCatalogClock(clock Clock) CatalogOption {
	return func(c *EventCatalog) {
		if clock != nil {
			c.now = clock
		}
	}
}

// NewEventCatalog returns a catalog with the default TTL.
func NewEventCatalog(gateway Gateway, opts ...CatalogOption) *EventCatalog {
	c := &EventCatalog{
		gateway: gateway,
		ttl:     DefaultConfig().EventsCacheTTL,
		pages:   map[string]cachedPage{},
		events:  map[string]cachedEvent{},
		logger:  defLogger{},
		now:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// List returns a page of events matching filters.
func (c *EventCatalog) List(ctx context.Context, filters EventFilters) (EventPage, error) {
	key := filters.cacheKey()

	c.mu.Lock()
	cached, hit := c.pages[key]
	c.mu.Unlock()
	if hit && c.fresh(cached.at) {
		return cached.page, nil
	}

	page, err := c.gateway.ListEvents(ctx, filters)
	if err == nil {
		now := c.now()
		for i := range page.Events {
			page.Events[i].FetchedAt = now
		}
		c.mu.Lock()
		c.pages[key] = cachedPage{page: page, at: now}
		for _, ev := range page.Events {
			c.events[ev.ID] = cachedEvent{event: ev, at: now}
		}
		c.mu.Unlock()
		c.track(page.Events...)
		return page, nil
	}

	if hit {
		c.logger.Warn("list events failed, serving cached page: %v", err)
		stale := cached.page
		stale.Stale = true
		stale.Events = markEvents(stale.Events, func(e *Event) { e.Stale = true })
		return stale, nil
	}

	if c.demoFallback {
		c.logger.Warn("list events failed, serving demo events: %v", err)
		return demoPage(filters, c.now()), nil
	}
	return EventPage{}, err
}

// Get returns one event. A NotFound answer is never replaced by fallback data.
func (c *EventCatalog) Get(ctx context.Context, eventID string) (Event, error) {
	c.mu.Lock()
	cached, hit := c.events[eventID]
	c.mu.Unlock()
	if hit && c.fresh(cached.at) {
		return cached.event, nil
	}

	ev, err := c.gateway.GetEvent(ctx, eventID)
	if err == nil {
		ev.FetchedAt = c.now()
		c.mu.Lock()
		c.events[ev.ID] = cachedEvent{event: ev, at: ev.FetchedAt}
		c.mu.Unlock()
		c.track(ev)
		return ev, nil
	}

	if IsKind(err, KindNotFound) {
		return Event{}, err
	}
	if hit {
		c.logger.Warn("get event %s failed, serving cached event: %v", eventID, err)
		stale := cached.event
		stale.Stale = true
		return stale, nil
	}
	if c.demoFallback {
		for _, demo := range DemoEvents(c.now()) {
			if demo.ID == eventID {
				return demo, nil
			}
		}
	}
	return Event{}, err
}

// PrefetchFeatured warms the cache with featured upcoming events. Failures
// are only logged.
func (c *EventCatalog) PrefetchFeatured(ctx context.Context) {
	if _, err := c.List(ctx, EventFilters{Featured: true, Upcoming: true}); err != nil {
		c.logger.Debug("prefetch featured events: %v", err)
	}
}

// Invalidate drops every cached entry.
func (c *EventCatalog) Invalidate() {
	c.mu.Lock()
	c.pages = map[string]cachedPage{}
	c.events = map[string]cachedEvent{}
	c.mu.Unlock()
}

func (c *EventCatalog) fresh(at time.Time) bool {
	return c.ttl > 0 && c.now().Sub(at) < c.ttl
}

func (c *EventCatalog) track(events ...Event) {
	if c.tracker != nil && len(events) > 0 {
		c.tracker.Track(events...)
	}
}

func markEvents(events []Event, fn func(*Event)) []Event {
	out := make([]Event, len(events))
	copy(out, events)
	for i := range out {
		fn(&out[i])
	}
	return out
}

// DemoEvents returns placeholder events shown when the API is unreachable.
func DemoEvents(now time.Time) []Event {
	day := 24 * time.Hour
	at := func(d time.Duration) *time.Time {
		t := now.Add(d).Truncate(time.Hour)
		return &t
	}
	return []Event{
		{
			ID:               "demo-go-meetup",
			Title:            "Community Go Meetup",
			Description:      "Lightning talks and pizza with local gophers.",
			Category:         "technology",
			Location:         "Community Hall",
			StartsAt:         at(7 * day),
			EndsAt:           at(7*day + 3*time.Hour),
			MaxAttendees:     50,
			CurrentAttendees: 32,
			RegistrationOpen: true,
			Featured:         true,
			Demo:             true,
		},
		{
			ID:               "demo-park-cleanup",
			Title:            "Saturday Park Cleanup",
			Description:      "Gloves and bags provided.",
			Category:         "volunteering",
			Location:         "Riverside Park",
			StartsAt:         at(3 * day),
			EndsAt:           at(3*day + 4*time.Hour),
			RegistrationOpen: true,
			Demo:             true,
		},
		{
			ID:               "demo-design-workshop",
			Title:            "Design Systems Workshop",
			Description:      "Hands on session, seats are limited.",
			Category:         "workshop",
			Location:         "Online",
			StartsAt:         at(14 * day),
			EndsAt:           at(14*day + 2*time.Hour),
			MaxAttendees:     20,
			CurrentAttendees: 20,
			RegistrationOpen: true,
			RequiresApproval: true,
			Featured:         true,
			Demo:             true,
		},
	}
}

func demoPage(f EventFilters, now time.Time) EventPage {
	search := strings.ToLower(strings.TrimSpace(f.Search))
	var events []Event
	for _, ev := range DemoEvents(now) {
		if f.Featured && !ev.Featured {
			continue
		}
		if f.Category != "" && !strings.EqualFold(f.Category, ev.Category) {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(ev.Title+" "+ev.Description), search) {
			continue
		}
		events = append(events, ev)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = len(events)
	}
	return EventPage{
		Events: events,
		Pagination: Pagination{
			Page:  1,
			Limit: limit,
			Total: len(events),
			Pages: 1,
		},
		Demo: true,
	}
}
