package grpc_test

import (
	"context"
	"errors"
	"testing"

	grpcadapter "github.com/viralforge/mesh/services/financial-rails/M15-settlement-engine/internal/adapters/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

func TestCheckReflectsReadiness(t *testing.T) {
	var storeErr error
	server := grpcadapter.NewSettlementInternalServer(func(context.Context) error { return storeErr })

	res, err := server.Check(context.Background(), &grpc_health_v1.HealthCheckRequest{})
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if res.GetStatus() != grpc_health_v1.HealthCheckResponse_SERVING {
		t.Fatalf("unexpected status: got=%s", res.GetStatus())
	}

	storeErr = errors.New("connection refused")
	res, err = server.Check(context.Background(), &grpc_health_v1.HealthCheckRequest{Service: "settlement"})
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if res.GetStatus() != grpc_health_v1.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("unexpected status: got=%s", res.GetStatus())
	}
}

func TestCheckUnknownService(t *testing.T) {
	server := grpcadapter.NewSettlementInternalServer(nil)
	_, err := server.Check(context.Background(), &grpc_health_v1.HealthCheckRequest{Service: "ledger"})
	if status.Code(err) != codes.NotFound {
		t.Fatalf("unexpected code: got=%s want=%s", status.Code(err), codes.NotFound)
	}
}
