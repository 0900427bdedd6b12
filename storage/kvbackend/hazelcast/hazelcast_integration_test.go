//go:build integration

package hazelcast

import (
	"context"
	"flag"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/hazelcast/hazelcast-go-client"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/crawlkit/httpcache/storage/storagetest"
)

const (
	skipIntegrationMsg = "skipping integration test in short mode"
	hazelcastImage     = "hazelcast/hazelcast:5.6"
	failedConnectMsg   = "failed to connect to Hazelcast: %v"
	failedSetupMsg     = "failed to setup Hazelcast map: %v"
)

var (
	sharedHazelcastContainer testcontainers.Container
	sharedHazelcastEndpoint  string
)

func TestMain(m *testing.M) {
	flag.Parse()

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        hazelcastImage,
		ExposedPorts: []string{"5701/tcp"},
		Env: map[string]string{
			"HZ_NETWORK_PUBLICADDRESS": "127.0.0.1:5701",
		},
		WaitingFor: wait.ForLog("is STARTED").WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		panic("failed to start Hazelcast container: " + err.Error())
	}
	sharedHazelcastContainer = container

	host, err := container.Host(ctx)
	if err != nil {
		_ = testcontainers.TerminateContainer(container)
		panic("failed to get Hazelcast host: " + err.Error())
	}

	port, err := container.MappedPort(ctx, "5701")
	if err != nil {
		_ = testcontainers.TerminateContainer(container)
		panic("failed to get Hazelcast port: " + err.Error())
	}

	sharedHazelcastEndpoint = fmt.Sprintf("%s:%s", host, port.Port())

	time.Sleep(5 * time.Second)

	code := m.Run()

	if err := testcontainers.TerminateContainer(container); err != nil {
		panic("failed to terminate Hazelcast container: " + err.Error())
	}

	os.Exit(code)
}

func setupIntegrationStore(t *testing.T) (*Store, func()) {
	t.Helper()

	ctx := context.Background()

	config := hazelcast.Config{}
	config.Cluster.Network.SetAddresses(sharedHazelcastEndpoint)
	config.Cluster.Unisocket = true

	client, err := hazelcast.StartNewClientWithConfig(ctx, config)
	if err != nil {
		t.Fatalf(failedConnectMsg, err)
	}

	m, err := client.GetMap(ctx, "test-cache")
	if err != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = client.Shutdown(shutdownCtx)
		cancel()
		t.Fatalf(failedSetupMsg, err)
	}

	if err := m.Clear(ctx); err != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = client.Shutdown(shutdownCtx)
		cancel()
		t.Fatalf("failed to clear Hazelcast map: %v", err)
	}

	cleanup := func() {
		clearCtx, clearCancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = m.Clear(clearCtx)
		clearCancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = client.Shutdown(shutdownCtx)
		shutdownCancel()
	}

	return NewWithMap(m), cleanup
}

func TestStoreIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip(skipIntegrationMsg)
	}

	s, cleanup := setupIntegrationStore(t)
	defer cleanup()

	storagetest.ExerciseKV(t, s)
}

func TestStoreIntegrationMultipleOperations(t *testing.T) {
	if testing.Short() {
		t.Skip(skipIntegrationMsg)
	}

	s, cleanup := setupIntegrationStore(t)
	defer cleanup()

	ctx := context.Background()
	keys := []string{"key1", "key2", "key3"}
	values := [][]byte{[]byte("value1"), []byte("value2"), []byte("value3")}

	for i, key := range keys {
		if err := s.Set(ctx, key, values[i]); err != nil {
			t.Fatalf("set %s: %v", key, err)
		}
	}

	for i, key := range keys {
		val, ok, err := s.Get(ctx, key)
		if err != nil || !ok || string(val) != string(values[i]) {
			t.Errorf("key %s: got (%q, %v, %v)", key, val, ok, err)
		}
	}

	if err := s.Delete(ctx, keys[1]); err != nil {
		t.Fatalf("delete %s: %v", keys[1], err)
	}
	if _, ok, _ := s.Get(ctx, keys[1]); ok {
		t.Errorf("expected key %s to be gone", keys[1])
	}
	if _, ok, _ := s.Get(ctx, keys[0]); !ok {
		t.Errorf("expected key %s to still exist", keys[0])
	}
}

func TestStoreIntegrationPersistence(t *testing.T) {
	if testing.Short() {
		t.Skip(skipIntegrationMsg)
	}

	s, cleanup := setupIntegrationStore(t)
	defer cleanup()

	ctx := context.Background()
	key, value := "persistentKey", []byte("persistentValue")
	if err := s.Set(ctx, key, value); err != nil {
		t.Fatalf("set: %v", err)
	}

	for i := 0; i < 5; i++ {
		val, ok, err := s.Get(ctx, key)
		if err != nil || !ok || string(val) != string(value) {
			t.Errorf("iteration %d: got (%q, %v, %v)", i, val, ok, err)
		}
	}
}
