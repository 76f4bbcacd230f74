// Package syncserver runs the full sync HTTP stack over an in-memory
// SQLite database for end-to-end tests.
package syncserver

import (
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"infinite-experiment/logbook/internal/api"
	"infinite-experiment/logbook/internal/auth"
	"infinite-experiment/logbook/internal/config"
	"infinite-experiment/logbook/internal/db"
	"infinite-experiment/logbook/internal/metrics"
	gormModels "infinite-experiment/logbook/internal/models/gorm"
	"infinite-experiment/logbook/internal/routes"
	"infinite-experiment/logbook/internal/testutil"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

const Secret = "syncserver-secret"

// Clock is a settable time source shared by the server's services.
type Clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type Server struct {
	*httptest.Server
	Deps     *api.Dependencies
	Clock    *Clock
	Registry *prometheus.Registry
}

// New starts a server. mutate may adjust the config before wiring.
func New(t *testing.T, mutate func(*config.Config)) *Server {
	t.Helper()

	orm := testutil.SQLiteNamed(t, "_server", &gormModels.SyncRecord{}, &gormModels.Tombstone{})
	handle, err := db.Wrap(orm, "sqlite3")
	require.NoError(t, err)

	cfg := config.Default()
	cfg.AppEnv = "test"
	cfg.JWTSecret = Secret
	cfg.Sync.RateLimitRPS = 1000
	cfg.Sync.RateLimitBurst = 1000
	if mutate != nil {
		mutate(cfg)
	}

	reg := prometheus.NewRegistry()
	m := metrics.NewMetricsRegistry(reg)
	deps, err := api.InitDependencies(handle, cfg, m)
	require.NoError(t, err)

	clock := &Clock{t: time.Now()}
	deps.Services.Sync.SetClock(clock.Now)
	deps.Services.Delta.SetClock(clock.Now)

	handler := routes.RegisterRoutes(deps, map[string]api.Pinger{"database": handle}, reg, time.Now())
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return &Server{Server: srv, Deps: deps, Clock: clock, Registry: reg}
}

// Token mints a session token for userID.
func (s *Server) Token(t *testing.T, userID string) string {
	t.Helper()
	token, err := auth.IssueToken(Secret, userID, "TEST"+userID, time.Hour)
	require.NoError(t, err)
	return token
}
