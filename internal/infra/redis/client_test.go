package redis

import (
	"context"
	"strconv"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap/zaptest"

	"github.com/wre314954-sudo/wirenew/internal/infra/config"
)

func TestNewClientPingsAndCloses(t *testing.T) {
	server, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	defer server.Close()

	cfg := config.RedisSettings{Host: server.Host(), Port: mustPort(t, server.Port())}
	client, err := NewClient(context.Background(), cfg, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}

	if err := client.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck returned error: %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}
}

func TestNewClientFailsWhenUnreachable(t *testing.T) {
	server, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	port := mustPort(t, server.Port())
	host := server.Host()
	server.Close()

	if _, err := NewClient(context.Background(), config.RedisSettings{Host: host, Port: port}, zaptest.NewLogger(t)); err == nil {
		t.Fatal("expected ping failure for closed server")
	}
}

func TestHealthCheckWritesIntoDeviceKeyspace(t *testing.T) {
	server, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	defer server.Close()

	cfg := config.RedisSettings{Host: server.Host(), Port: mustPort(t, server.Port()), DevicePrefix: "shop:device"}
	client, err := NewClient(context.Background(), cfg, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}
	defer client.Close()

	if client.Keyspace() != "shop:device" {
		t.Fatalf("unexpected keyspace %q", client.Keyspace())
	}
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck returned error: %v", err)
	}
	if !server.Exists("shop:device:readyz") {
		t.Fatal("expected readiness marker in the device keyspace")
	}
	if ttl := server.TTL("shop:device:readyz"); ttl <= 0 || ttl > readinessTTL {
		t.Fatalf("unexpected marker ttl %v", ttl)
	}
}

func TestKeyspaceDefaultsWhenUnset(t *testing.T) {
	server, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	defer server.Close()

	client, err := NewClient(context.Background(), config.RedisSettings{Host: server.Host(), Port: mustPort(t, server.Port())}, nil)
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}
	defer client.Close()

	if client.Keyspace() != defaultKeyspace {
		t.Fatalf("unexpected keyspace %q", client.Keyspace())
	}
}

func TestCollectorExportsPoolStats(t *testing.T) {
	server, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	defer server.Close()

	cfg := config.RedisSettings{Host: server.Host(), Port: mustPort(t, server.Port()), DevicePrefix: "shop:device"}
	client, err := NewClient(context.Background(), cfg, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}
	defer client.Close()

	registry := prometheus.NewRegistry()
	if err := registry.Register(client.Collector()); err != nil {
		t.Fatalf("register collector: %v", err)
	}
	if count := testutil.CollectAndCount(client.Collector()); count != 5 {
		t.Fatalf("expected 5 pool series, got %d", count)
	}

	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, family := range families {
		for _, metric := range family.GetMetric() {
			label := metric.GetLabel()
			if len(label) != 1 || label[0].GetName() != "keyspace" || label[0].GetValue() != "shop:device" {
				t.Fatalf("%s: unexpected labels %v", family.GetName(), label)
			}
		}
	}
}

func mustPort(t *testing.T, raw string) int {
	t.Helper()
	port, err := strconv.Atoi(raw)
	if err != nil {
		t.Fatalf("invalid port %q: %v", raw, err)
	}
	return port
}
