package rpc

import (
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"podfleet/internal/env"
)

/**
 * Test HTTP client creation functionality
 * @param {*testing.T} t - Testing framework instance
 * @description
 * - Creates default HTTP configuration with a test server name
 * - Verifies the client is usable and cleanly closeable
 */
func TestHTTPClientCreation(t *testing.T) {
	config := DefaultHTTPConfig()
	config.ServerName = "test-podfleet"
	config.Timeout = 5 * time.Second

	client := NewHTTPClient(config)
	defer client.Close()

	// 对应socket不存在时请求应该报错，CLI靠这个回退到本地执行
	if _, err := client.Get("/podfleet/api/v1/pods"); err == nil {
		t.Error("expected error when daemon socket is absent")
	}
}

/**
 * Test a full request round trip over the daemon's unix socket
 */
func TestHTTPClientUnixRoundTrip(t *testing.T) {
	socketDir := filepath.Join(env.PodfleetDir, "run")
	if err := os.MkdirAll(socketDir, 0755); err != nil {
		t.Fatal(err)
	}
	socketPath := GetSocketPath("test-roundtrip.sock", socketDir)
	os.Remove(socketPath)

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		t.Fatalf("failed to listen on unix socket: %v", err)
	}
	defer os.Remove(socketPath)
	defer listener.Close()

	mux := http.NewServeMux()
	mux.HandleFunc("/ping", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})
	server := &http.Server{Handler: mux}
	go server.Serve(listener)
	defer server.Close()

	config := DefaultHTTPConfig()
	config.ServerName = "test-roundtrip"
	config.Timeout = 5 * time.Second
	client := NewHTTPClient(config)
	defer client.Close()

	resp, err := client.Get("/ping")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !resp.Success() {
		t.Fatalf("expected 2xx, got %d", resp.StatusCode)
	}
	if string(resp.Body) != `{"status":"ok"}` {
		t.Fatalf("unexpected body: %s", resp.Body)
	}

	resp, err = client.Post("/ping", map[string]string{"hello": "world"})
	if err != nil {
		t.Fatalf("Post: %v", err)
	}
	if !resp.Success() {
		t.Fatalf("expected 2xx, got %d", resp.StatusCode)
	}
}
