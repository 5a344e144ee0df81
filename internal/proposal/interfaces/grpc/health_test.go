package grpc

import (
	"context"
	"errors"
	"testing"

	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

type flakyChecker struct{ err error }

func (c *flakyChecker) CheckConnectivity(ctx context.Context) error { return c.err }

func TestCheckUpdatesServingStatus(t *testing.T) {
	checker := &flakyChecker{err: errors.New("exchange down")}
	h := NewHealthServer(checker)
	req := &healthpb.HealthCheckRequest{Service: ServiceName}

	if h.Check(context.Background()) {
		t.Fatal("health check should fail")
	}
	resp, err := h.server.Check(context.Background(), req)
	if err != nil || resp.Status != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("status = %v, %v", resp.GetStatus(), err)
	}

	checker.err = nil
	if !h.Check(context.Background()) {
		t.Fatal("health check should succeed")
	}
	resp, err = h.server.Check(context.Background(), req)
	if err != nil || resp.Status != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("status = %v, %v", resp.GetStatus(), err)
	}
}
