package community

import (
	"context"
)

// Client wires the store, gateway, session manager, catalog and coordinator
// for one configuration.
type Client struct {
	Config        Config
	Store         *CredentialStore
	Gateway       *HTTPGateway
	Sessions      *SessionManager
	Catalog       *EventCatalog
	Registrations *RegistrationCoordinator
	logger        Logger
}

// ClientOptions carries the optional collaborators for NewClient.
type ClientOptions struct {
	Logger         Logger
	ActivitySink   ActivitySink
	TokenInspector TokenInspector
	Manager        []ManagerOption
}

// NewClient builds a Client persisting credentials through backend.
func NewClient(cfg Config, backend CredentialBackend, opts ClientOptions) *Client {
	logger := normalizeLogger(opts.Logger)

	storeOpts := []StoreOption{WithStoreLogger(logger)}
	if opts.TokenInspector != nil {
		storeOpts = append(storeOpts, WithTokenInspector(opts.TokenInspector))
	}
	store := NewCredentialStore(backend, storeOpts...)
	gateway := NewGatewayFromConfig(cfg, store, logger)

	coordinator := NewRegistrationCoordinator(gateway, store,
		WithCoordinatorLogger(logger),
		WithCoordinatorActivitySink(opts.ActivitySink),
		WithPhoneRegion(cfg.PhoneRegion),
	)
	catalog := NewEventCatalog(gateway,
		WithCatalogTracker(coordinator),
		WithCatalogTTL(cfg.EventsCacheTTL),
		WithDemoFallback(cfg.DemoFallback),
		WithCatalogLogger(logger),
	)

	managerOpts := append([]ManagerOption{
		WithManagerLogger(logger),
		WithActivitySink(opts.ActivitySink),
	}, opts.Manager...)
	sessions := NewSessionManager(gateway, store, cfg, managerOpts...)

	return &Client{
		Config:        cfg,
		Store:         store,
		Gateway:       gateway,
		Sessions:      sessions,
		Catalog:       catalog,
		Registrations: coordinator,
		logger:        logger,
	}
}

// Start hydrates the persisted session and warms the featured events cache.
func (c *Client) Start(ctx context.Context) (SessionState, error) {
	state, err := c.Sessions.Hydrate(ctx)
	if err != nil {
		c.logger.Warn("hydrate session: %v", err)
	}
	c.Catalog.PrefetchFeatured(ctx)
	return state, err
}

// Close stops timers owned by the client.
func (c *Client) Close() {
	c.Sessions.Close()
}
