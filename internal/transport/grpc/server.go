package transportgrpc

import (
	"fmt"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	grpcinterceptors "github.com/wre314954-sudo/wirenew/internal/transport/grpc/interceptors"
)

// ServiceName is the health service name reported for the identity API as a whole.
const ServiceName = "storefront.identity"

// healthPrefix stays reachable without a credential so orchestrators can check the server.
const healthPrefix = "/grpc.health.v1.Health/"

// ServerDependencies encapsulates what the gRPC server layer needs.
type ServerDependencies struct {
	Bearer         grpcinterceptors.BearerParser
	AdminAccountID string
	Metrics        *grpcinterceptors.GRPCMetrics
	Tracing        *grpcinterceptors.Tracing
	Logger         *zap.Logger
}

// Server bundles the gRPC server with its health registry.
type Server struct {
	*grpc.Server
	Health *health.Server
}

// NewServer wires the health and reflection services behind the interceptor chain.
// Reflection is only served to the privileged admin bearer.
func NewServer(deps ServerDependencies) (*Server, error) {
	if deps.Bearer == nil {
		return nil, fmt.Errorf("bearer parser is required")
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	authInterceptor := grpcinterceptors.NewAuthInterceptor(deps.Bearer, grpcinterceptors.AuthOptions{
		AdminAccountID: deps.AdminAccountID,
		AllowPrefixes:  []string{healthPrefix},
		Logger:         logger,
	})

	server := grpc.NewServer(
		deps.Tracing.ServerOption(),
		grpc.ChainUnaryInterceptor(
			deps.Metrics.UnaryServerInterceptor(),
			authInterceptor.UnaryServerInterceptor(),
		),
		grpc.ChainStreamInterceptor(
			deps.Metrics.StreamServerInterceptor(),
			authInterceptor.StreamServerInterceptor(),
		),
	)

	healthServer := health.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	healthServer.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(server, healthServer)

	reflection.Register(server)

	return &Server{Server: server, Health: healthServer}, nil
}

// SetServing flips both the overall and the identity service health status.
func (s *Server) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.Health.SetServingStatus("", status)
	s.Health.SetServingStatus(ServiceName, status)
}
