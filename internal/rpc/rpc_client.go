package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"podfleet/internal/env"
	"podfleet/internal/logger"
)

/**
 * HTTP client for talking to the podfleet daemon over its unix socket
 * @description
 * - CLI verbs try the daemon first and fall back to local execution when
 *   the socket is absent or the request fails
 */
type HTTPClient struct {
	config     *HTTPConfig
	client     *http.Client
	transport  *http.Transport
	connected  bool
	socketPath string
	mu         sync.Mutex
}

// NewHTTPClient 创建RPC客户端实例，不立即连接
func NewHTTPClient(config *HTTPConfig) *HTTPClient {
	if config == nil {
		config = DefaultHTTPConfig()
	}

	c := &HTTPClient{config: config}
	c.transport = &http.Transport{}
	c.client = &http.Client{
		Transport: c.transport,
		Timeout:   config.Timeout,
	}
	return c
}

// Get 发送GET请求
func (c *HTTPClient) Get(path string) (*HTTPResponse, error) {
	return c.do("GET", path, nil)
}

// Post 发送POST请求，data为nil时不带请求体
func (c *HTTPClient) Post(path string, data interface{}) (*HTTPResponse, error) {
	var body io.Reader
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to serialize data: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	return c.do("POST", path, body)
}

func (c *HTTPClient) do(method, path string, body io.Reader) (*HTTPResponse, error) {
	if err := c.ensureConnected(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	logger.Debugf("Sending %s request to %s", method, path)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return &HTTPResponse{StatusCode: resp.StatusCode, Body: raw}, nil
}

// Close 关闭客户端连接
func (c *HTTPClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		c.client.CloseIdleConnections()
	}
	c.connected = false
	return nil
}

// ensureConnected 确保transport指向守护进程的unix socket
func (c *HTTPClient) ensureConnected() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		return nil
	}

	socketDir := filepath.Join(env.PodfleetDir, "run")
	c.socketPath = GetSocketPath(c.config.ServerName+".sock", socketDir)

	if _, err := os.Stat(c.socketPath); os.IsNotExist(err) {
		return fmt.Errorf("socket file not found at %s", c.socketPath)
	}

	c.transport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
		return net.Dial("unix", c.socketPath)
	}
	c.connected = true

	logger.Debugf("Connected to podfleet server at %s", c.socketPath)
	return nil
}
