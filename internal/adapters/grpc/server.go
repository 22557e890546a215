package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

// ReadinessFunc reports whether the engine's backing stores are reachable.
type ReadinessFunc func(ctx context.Context) error

type SettlementInternalServer struct {
	grpc_health_v1.UnimplementedHealthServer
	ready ReadinessFunc
}

func NewSettlementInternalServer(ready ReadinessFunc) *SettlementInternalServer {
	return &SettlementInternalServer{ready: ready}
}

func Register(server grpc.ServiceRegistrar, svc *SettlementInternalServer) {
	grpc_health_v1.RegisterHealthServer(server, svc)
}

func (s *SettlementInternalServer) Check(ctx context.Context, req *grpc_health_v1.HealthCheckRequest) (*grpc_health_v1.HealthCheckResponse, error) {
	switch req.GetService() {
	case "", "settlement":
	default:
		return nil, status.Errorf(codes.NotFound, "unknown service %q", req.GetService())
	}
	return &grpc_health_v1.HealthCheckResponse{Status: s.status(ctx)}, nil
}

func (s *SettlementInternalServer) Watch(req *grpc_health_v1.HealthCheckRequest, stream grpc_health_v1.Health_WatchServer) error {
	_ = req
	return stream.Send(&grpc_health_v1.HealthCheckResponse{Status: s.status(stream.Context())})
}

func (s *SettlementInternalServer) status(ctx context.Context) grpc_health_v1.HealthCheckResponse_ServingStatus {
	if s.ready != nil {
		if err := s.ready(ctx); err != nil {
			return grpc_health_v1.HealthCheckResponse_NOT_SERVING
		}
	}
	return grpc_health_v1.HealthCheckResponse_SERVING
}
