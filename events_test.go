package community_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	community "github.com/goliatone/go-community"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// movableClock is advanced by tests to age cache entries.
type movableClock struct {
	at time.Time
}

func (c *movableClock) now() time.Time { return c.at }

func (c *movableClock) advance(d time.Duration) { c.at = c.at.Add(d) }

func newTestCatalog(gateway community.Gateway, clock *movableClock, opts ...community.CatalogOption) *community.EventCatalog {
	base := []community.CatalogOption{
		community.WithCatalogLogger(community.NopLogger()),
		community.WithCatalogClock(clock.now),
		community.WithCatalogTTL(time.Minute),
	}
	return community.NewEventCatalog(gateway, append(base, opts...)...)
}

func onePage(events ...community.Event) community.EventPage {
	return community.EventPage{
		Events:     events,
		Pagination: community.Pagination{Page: 1, Limit: 10, Total: len(events), Pages: 1},
	}
}

func TestCatalogServesFreshCache(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.server.AddEvent(openEvent("e1", 10, 2))
	h.server.AddEvent(openEvent("e2", 0, 0))

	filters := community.EventFilters{Page: 1, Limit: 10}
	page, err := h.client.Catalog.List(ctx, filters)
	require.NoError(t, err)
	require.Len(t, page.Events, 2)
	assert.False(t, page.Stale)
	assert.False(t, page.Events[0].FetchedAt.IsZero())

	_, err = h.client.Catalog.List(ctx, filters)
	require.NoError(t, err)
	assert.Equal(t, 1, h.server.Requests("GET /events"))

	_, err = h.client.Catalog.Get(ctx, "e2")
	require.NoError(t, err)
	assert.Equal(t, 0, h.server.Requests("GET /events/:id"), "listed events are cached individually")

	h.client.Catalog.Invalidate()
	_, err = h.client.Catalog.List(ctx, filters)
	require.NoError(t, err)
	assert.Equal(t, 2, h.server.Requests("GET /events"))
}

func TestCatalogFiltersAreCachedSeparately(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	featured := openEvent("e1", 10, 0)
	featured.Featured = true
	featured.Category = "tech"
	h.server.AddEvent(featured)
	h.server.AddEvent(openEvent("e2", 10, 0))

	page, err := h.client.Catalog.List(ctx, community.EventFilters{Featured: true})
	require.NoError(t, err)
	require.Len(t, page.Events, 1)
	assert.Equal(t, "e1", page.Events[0].ID)

	page, err = h.client.Catalog.List(ctx, community.EventFilters{Search: "GO  "})
	require.NoError(t, err)
	assert.Len(t, page.Events, 2)

	_, err = h.client.Catalog.List(ctx, community.EventFilters{Search: "go"})
	require.NoError(t, err)
	assert.Equal(t, 2, h.server.Requests("GET /events"), "search is normalized in the cache key")
}

func TestCatalogRefetchesAfterTTL(t *testing.T) {
	ctx := context.Background()
	clock := &movableClock{at: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
	gateway := &MockGateway{}
	gateway.On("ListEvents", mock.Anything, mock.Anything).Return(onePage(openEvent("e1", 10, 0)), nil).Twice()

	catalog := newTestCatalog(gateway, clock)

	_, err := catalog.List(ctx, community.EventFilters{})
	require.NoError(t, err)
	clock.advance(59 * time.Second)
	_, err = catalog.List(ctx, community.EventFilters{})
	require.NoError(t, err)
	clock.advance(time.Second)
	_, err = catalog.List(ctx, community.EventFilters{})
	require.NoError(t, err)

	gateway.AssertNumberOfCalls(t, "ListEvents", 2)
}

func TestCatalogServesStalePageOnFailure(t *testing.T) {
	ctx := context.Background()
	clock := &movableClock{at: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
	gateway := &MockGateway{}
	gateway.On("ListEvents", mock.Anything, mock.Anything).Return(onePage(openEvent("e1", 10, 0)), nil).Once()
	gateway.On("ListEvents", mock.Anything, mock.Anything).
		Return(community.EventPage{}, community.NewError(community.KindNetwork, "")).Once()

	catalog := newTestCatalog(gateway, clock)
	_, err := catalog.List(ctx, community.EventFilters{})
	require.NoError(t, err)

	clock.advance(time.Hour)
	page, err := catalog.List(ctx, community.EventFilters{})
	require.NoError(t, err)
	assert.True(t, page.Stale)
	assert.False(t, page.Demo)
	require.Len(t, page.Events, 1)
	assert.True(t, page.Events[0].Stale)
	gateway.AssertExpectations(t)
}

func TestCatalogDemoFallback(t *testing.T) {
	ctx := context.Background()
	clock := &movableClock{at: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
	gateway := &MockGateway{}
	gateway.On("ListEvents", mock.Anything, mock.Anything).
		Return(community.EventPage{}, community.NewError(community.KindNetwork, ""))

	withDemo := newTestCatalog(gateway, clock, community.WithDemoFallback(true))
	page, err := withDemo.List(ctx, community.EventFilters{Featured: true})
	require.NoError(t, err)
	assert.True(t, page.Demo)
	require.NotEmpty(t, page.Events)
	for _, ev := range page.Events {
		assert.True(t, ev.Demo)
		assert.True(t, ev.Featured)
	}

	withoutDemo := newTestCatalog(gateway, clock)
	_, err = withoutDemo.List(ctx, community.EventFilters{})
	require.Error(t, err)
	assert.True(t, community.IsNetworkError(err))
}

func TestCatalogGetNotFoundIsNeverReplaced(t *testing.T) {
	ctx := context.Background()
	clock := &movableClock{at: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
	demoID := community.DemoEvents(clock.at)[0].ID

	gateway := &MockGateway{}
	gateway.On("GetEvent", mock.Anything, demoID).
		Return(community.Event{}, community.NewError(community.KindNotFound, "")).Once()
	gateway.On("GetEvent", mock.Anything, demoID).
		Return(community.Event{}, community.NewError(community.KindNetwork, "")).Once()

	catalog := newTestCatalog(gateway, clock, community.WithDemoFallback(true))

	_, err := catalog.Get(ctx, demoID)
	assert.Equal(t, community.KindNotFound, community.KindOf(err))

	ev, err := catalog.Get(ctx, demoID)
	require.NoError(t, err)
	assert.True(t, ev.Demo)
	gateway.AssertExpectations(t)
}

func TestCatalogGetServesStaleEvent(t *testing.T) {
	ctx := context.Background()
	clock := &movableClock{at: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
	gateway := &MockGateway{}
	gateway.On("GetEvent", mock.Anything, "e1").Return(openEvent("e1", 10, 4), nil).Once()
	gateway.On("GetEvent", mock.Anything, "e1").
		Return(community.Event{}, community.NewError(community.KindServer, "")).Once()

	catalog := newTestCatalog(gateway, clock)
	ev, err := catalog.Get(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, clock.at, ev.FetchedAt)

	clock.advance(2 * time.Minute)
	ev, err = catalog.Get(ctx, "e1")
	require.NoError(t, err)
	assert.True(t, ev.Stale)
	assert.Equal(t, 4, ev.CurrentAttendees)
	gateway.AssertExpectations(t)
}

func TestCatalogTracksFetchedEvents(t *testing.T) {
	ctx := context.Background()
	clock := &movableClock{at: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
	gateway := &MockGateway{}
	gateway.On("ListEvents", mock.Anything, mock.Anything).
		Return(community.EventPage{}, community.NewError(community.KindNetwork, "")).Once()
	gateway.On("GetEvent", mock.Anything, "e1").Return(openEvent("e1", 3, 3), nil).Once()

	coordinator := community.NewRegistrationCoordinator(gateway, signedIn(testUser),
		community.WithCoordinatorLogger(community.NopLogger()),
	)
	catalog := newTestCatalog(gateway, clock,
		community.WithCatalogTracker(coordinator),
		community.WithDemoFallback(true),
	)

	page, err := catalog.List(ctx, community.EventFilters{})
	require.NoError(t, err)
	require.True(t, page.Demo)
	_, known := coordinator.Event(page.Events[0].ID)
	assert.False(t, known, "demo events are never tracked")

	_, err = catalog.Get(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, community.KindEventFull, coordinator.Availability("e1").Reason)
	gateway.AssertExpectations(t)
}

func TestPrefetchFeatured(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	featured := openEvent("e1", 10, 0)
	featured.Featured = true
	h.server.AddEvent(featured)

	h.client.Catalog.PrefetchFeatured(ctx)
	assert.Equal(t, 1, h.server.Requests("GET /events"))

	page, err := h.client.Catalog.List(ctx, community.EventFilters{Featured: true, Upcoming: true})
	require.NoError(t, err)
	require.Len(t, page.Events, 1)
	assert.Equal(t, 1, h.server.Requests("GET /events"))

	h.client.Catalog.Invalidate()
	h.server.Fail("GET /events", http.StatusServiceUnavailable, "", 1)
	h.client.Catalog.PrefetchFeatured(ctx)
	assert.Equal(t, 2, h.server.Requests("GET /events"))
}
