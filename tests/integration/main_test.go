//go:build integration

package integration

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/bissquit/triage-garden/internal/app"
	"github.com/bissquit/triage-garden/internal/config"
	"github.com/bissquit/triage-garden/internal/testutil"
)

var (
	testServer    *httptest.Server
	testValidator *testutil.OpenAPIValidator
	testApp       *app.App

	pgContainer    *testutil.PostgresContainer
	redisContainer *testutil.RedisContainer

	webhook *webhookRecorder
)

// OpenAPI document path relative to the tests/integration directory.
const openAPISpecPath = "../../api/openapi/openapi.yaml"

// webhookRecorder captures Mattermost webhook payloads posted by the alert worker.
type webhookRecorder struct {
	mu       sync.Mutex
	payloads []map[string]any
}

func (w *webhookRecorder) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	var payload map[string]any
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		rw.WriteHeader(http.StatusBadRequest)
		return
	}
	w.mu.Lock()
	w.payloads = append(w.payloads, payload)
	w.mu.Unlock()
	rw.WriteHeader(http.StatusOK)
}

func (w *webhookRecorder) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.payloads)
}

// newTestClient creates a new test client with OpenAPI validation enabled.
func newTestClient(t *testing.T) *testutil.Client {
	t.Helper()
	client := testutil.NewClientWithValidator(testServer.URL, testValidator)
	client.SetT(t)
	return client
}

func TestMain(m *testing.M) {
	ctx := context.Background()

	var err error
	pgContainer, err = testutil.NewPostgresContainer(ctx)
	if err != nil {
		log.Fatalf("start postgres: %v", err)
	}
	defer func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			log.Printf("terminate postgres: %v", err)
		}
	}()

	redisContainer, err = testutil.NewRedisContainer(ctx)
	if err != nil {
		log.Fatalf("start redis: %v", err)
	}
	defer func() {
		if err := redisContainer.Terminate(ctx); err != nil {
			log.Printf("terminate redis: %v", err)
		}
	}()

	webhook = &webhookRecorder{}
	webhookServer := httptest.NewServer(webhook)
	defer webhookServer.Close()

	cfg := config.Default()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = "0"
	cfg.Server.MetricsPort = "0"
	cfg.Log.Level = "error"
	cfg.Log.Format = "text"
	cfg.Storage.Backend = config.BackendPostgres
	cfg.Storage.Postgres.URL = pgContainer.ConnectionString
	cfg.Storage.Postgres.MaxOpenConns = 5
	cfg.Storage.Postgres.MaxIdleConns = 2
	cfg.Storage.Postgres.ConnectTimeout = 30 * time.Second
	cfg.Storage.Postgres.ConnectAttempts = 3
	cfg.Storage.Postgres.Migrate = true
	// every probe fails, so each run produces discrepancies
	cfg.Validation.Simulation.MinLatency = time.Millisecond
	cfg.Validation.Simulation.MaxLatency = 5 * time.Millisecond
	cfg.Validation.Simulation.SuccessRate = 0
	cfg.Validation.Simulation.Seed = 42
	cfg.Alerting.Enabled = true
	cfg.Alerting.MinSeverity = "critical"
	cfg.Alerting.Worker.InitialBackoff = 10 * time.Millisecond
	cfg.Alerting.Worker.MaxBackoff = 50 * time.Millisecond
	cfg.Alerting.Mattermost.WebhookURL = webhookServer.URL

	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid test config: %v", err)
	}

	testApp, err = app.New(&cfg)
	if err != nil {
		log.Fatalf("create app: %v", err)
	}

	testServer = httptest.NewServer(testApp.Router())

	testValidator, err = testutil.LoadOpenAPIValidator(openAPISpecPath)
	if err != nil {
		log.Fatalf("load OpenAPI validator: %v", err)
	}

	code := m.Run()

	testServer.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := testApp.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown app: %v", err)
	}

	os.Exit(code)
}
