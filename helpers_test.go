package community_test

import (
	"testing"
	"time"

	community "github.com/goliatone/go-community"
	"github.com/goliatone/go-community/apitest"
	"github.com/goliatone/go-community/storage/memory"
)

type harness struct {
	server  *apitest.Server
	backend *memory.Backend
	client  *community.Client
	sink    *recordingSink
}

func testConfig(baseURL string) community.Config {
	cfg := community.DefaultConfig()
	cfg.Mode = community.ModeTest
	cfg.BaseURL = baseURL
	cfg.RequestTimeout = 5 * time.Second
	cfg.StorageDriver = community.StorageMemory
	cfg.DemoFallback = false
	return cfg
}

// newHarness starts a fake API and a client whose countdown only moves when
// the test advances it.
func newHarness(t *testing.T, opts ...apitest.Option) *harness {
	t.Helper()

	server := apitest.New(opts...).Start()
	t.Cleanup(server.Close)

	backend := memory.New()
	sink := &recordingSink{}
	client := community.NewClient(testConfig(server.URL), backend, community.ClientOptions{
		Logger:       community.NopLogger(),
		ActivitySink: sink,
		Manager: []community.ManagerOption{
			community.WithCountdownOptions(community.WithManualTicks()),
		},
	})
	t.Cleanup(client.Close)

	return &harness{server: server, backend: backend, client: client, sink: sink}
}

func (h *harness) clientOn(t *testing.T, backend community.CredentialBackend) *community.Client {
	t.Helper()
	client := community.NewClient(testConfig(h.server.URL), backend, community.ClientOptions{
		Logger: community.NopLogger(),
		Manager: []community.ManagerOption{
			community.WithCountdownOptions(community.WithManualTicks()),
		},
	})
	t.Cleanup(client.Close)
	return client
}

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}
