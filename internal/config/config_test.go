package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, DriverMemory, cfg.Storage.Driver)
	assert.Equal(t, 5*time.Second, cfg.Ledger.PointLockTimeout)
	assert.Equal(t, 3*time.Second, cfg.PG.ConnectTimeout)
	assert.Equal(t, 10*time.Second, cfg.PG.ReadTimeout)
	assert.Equal(t, 30*time.Minute, cfg.Reconciliation.StaleAfter)
	assert.Equal(t, 3, cfg.Reconciliation.Attempts)
	assert.Equal(t, 3*time.Second, cfg.Reconciliation.Backoff)
	assert.Equal(t, time.Minute, cfg.Reconciliation.ResultGrace)
	assert.Empty(t, cfg.Kafka.Brokers)
	assert.Empty(t, cfg.Redis.Addr)
}

func TestLoadFileThenEnv(t *testing.T) {
	path := writeFile(t, `
service:
  name: saga-test
  http_addr: ":9090"
storage:
  driver: mysql
  dsn: "root:pw@tcp(db:3306)/saga"
pg:
  base_url: "http://pg:8082"
  breaker:
    consecutive_failures: 2
reconciliation:
  interval: 15s
kafka:
  brokers: ["k1:9092"]
seed:
  products:
    - id: p1
      price: 5000
      quantity: 10
`)
	t.Setenv("SAGA_SERVICE_HTTP_ADDR", ":7070")
	t.Setenv("SAGA_KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("SAGA_LEDGER_POINT_LOCK_TIMEOUT", "2s")
	t.Setenv("SAGA_RECONCILIATION_RESULT_GRACE", "90s")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "saga-test", cfg.Service.Name)
	assert.Equal(t, ":7070", cfg.Service.HTTPAddr)
	assert.Equal(t, DriverMySQL, cfg.Storage.Driver)
	assert.Equal(t, "http://pg:8082", cfg.PG.BaseURL)
	assert.Equal(t, uint32(2), cfg.PG.Breaker.ConsecutiveFailures)
	assert.Equal(t, 10*time.Second, cfg.PG.Breaker.OpenTimeout)
	assert.Equal(t, 15*time.Second, cfg.Reconciliation.Interval)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 2*time.Second, cfg.Ledger.PointLockTimeout)
	assert.Equal(t, 90*time.Second, cfg.Reconciliation.ResultGrace)
	require.Len(t, cfg.Seed.Products, 1)
	assert.Equal(t, SeedProduct{ID: "p1", Price: 5000, Quantity: 10}, cfg.Seed.Products[0])
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		env  map[string]string
	}{
		{name: "mysql without dsn", body: "storage:\n  driver: mysql\n"},
		{name: "unknown driver", body: "storage:\n  driver: sqlite\n"},
		{name: "brokers without topic", body: "kafka:\n  brokers: [k1]\n  topic: \"\"\n"},
		{name: "bad yaml", body: "service: [\n"},
		{name: "bad env duration", body: "", env: map[string]string{"SAGA_RECONCILIATION_INTERVAL": "soon"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load(writeFile(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
