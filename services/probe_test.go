package services

import (
	"context"
	"net"
	"testing"

	"podfleet/internal/models"
)

/**
 * Test the tcp probe: a listening port passes, a closed one fails
 */
func TestTCPProbe(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := listener.Addr().String()

	probe := BuildProbe(&models.HealthcheckSpec{Kind: models.ProbeTCP, Target: addr})
	if err := probe(context.Background()); err != nil {
		t.Errorf("probe against a listening port: %v", err)
	}

	listener.Close()
	if err := probe(context.Background()); err == nil {
		t.Error("probe against a closed port should pass an error")
	}
}

func TestTCPProbeInvalidTarget(t *testing.T) {
	probe := BuildProbe(&models.HealthcheckSpec{Kind: models.ProbeTCP, Target: "no-port-here"})
	if err := probe(context.Background()); err == nil {
		t.Error("target without a port should fail the probe")
	}
}
