package server

import (
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"

	healthhandler "m-taji/platform/internal/health/handler"
)

// NewGRPCServer returns a gRPC server instrumented with OpenTelemetry that serves the
// standard health service. The auth and profile APIs are served over HTTP (see NewRouter).
func NewGRPCServer(health *healthhandler.Server, opts ...grpc.ServerOption) *grpc.Server {
	opts = append([]grpc.ServerOption{grpc.StatsHandler(otelgrpc.NewServerHandler())}, opts...)
	s := grpc.NewServer(opts...)
	RegisterServices(s, health)
	return s
}

// RegisterServices registers the gRPC services with the given registrar.
func RegisterServices(s grpc.ServiceRegistrar, health *healthhandler.Server) {
	if health != nil {
		health.Register(s)
	}
}
