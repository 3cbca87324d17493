package rpc

import (
	"path/filepath"
	"time"
)

// HTTPConfig RPC客户端配置
type HTTPConfig struct {
	ServerName string
	BaseURL    string
	Timeout    time.Duration
}

// HTTPResponse 服务端应答
type HTTPResponse struct {
	StatusCode int
	Body       []byte
}

// Success reports whether the response carries a 2xx status.
func (r *HTTPResponse) Success() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

func DefaultHTTPConfig() *HTTPConfig {
	return &HTTPConfig{
		ServerName: "podfleet",
		BaseURL:    "http://unix",
		Timeout:    30 * time.Second,
	}
}

// GetSocketPath socket文件的完整路径
func GetSocketPath(name, dir string) string {
	return filepath.Join(dir, name)
}
