package grpcserver

import (
	"context"
	"fmt"

	"github.com/md-rashed-zaman/clinicsched/libs/grpcx"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// CheckHealth asks the health server at addr for service's status and fails unless it is
// SERVING. Container images without a shell run it as their health command.
func CheckHealth(ctx context.Context, addr, service string) error {
	conn, err := grpcx.Dial(addr, grpcx.DialOptions{})
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()

	ctx = grpcx.WithRequestID(ctx, grpcx.NewRequestID())
	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return fmt.Errorf("health check %s: %w", addr, err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("%s is %s", service, resp.GetStatus())
	}
	return nil
}
