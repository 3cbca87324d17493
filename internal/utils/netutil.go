package utils

import (
	"fmt"
	"net"
	"time"
)

// CheckPortConnectable 端口可连通说明有服务正在监听
func CheckPortConnectable(host string, port int) bool {
	timeout := time.Second
	conn, err := net.DialTimeout("tcp", net.JoinHostPort(host, fmt.Sprintf("%d", port)), timeout)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

/**
 * Test whether two CIDR subnets overlap
 * @param {string} a - First subnet in CIDR notation
 * @param {string} b - Second subnet in CIDR notation
 * @returns {bool} true if the subnets share any address
 * @returns {error} Returns error if either CIDR fails to parse
 */
func SubnetsOverlap(a, b string) (bool, error) {
	_, netA, err := net.ParseCIDR(a)
	if err != nil {
		return false, fmt.Errorf("invalid subnet %q: %w", a, err)
	}
	_, netB, err := net.ParseCIDR(b)
	if err != nil {
		return false, fmt.Errorf("invalid subnet %q: %w", b, err)
	}
	return netA.Contains(netB.IP) || netB.Contains(netA.IP), nil
}
