package server

import (
	"context"
	"sync"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

// CrawlerService is the health service name reflecting the last pass.
const CrawlerService = "crawler"

// HealthChecker implements the gRPC health checking protocol
type HealthChecker struct {
	grpc_health_v1.UnimplementedHealthServer
	mu     sync.RWMutex
	status map[string]grpc_health_v1.HealthCheckResponse_ServingStatus
}

// NewHealthChecker reports the server itself ("") as serving and the crawler
// as not serving until its first pass succeeded.
func NewHealthChecker() *HealthChecker {
	return &HealthChecker{
		status: map[string]grpc_health_v1.HealthCheckResponse_ServingStatus{
			"":             grpc_health_v1.HealthCheckResponse_SERVING,
			CrawlerService: grpc_health_v1.HealthCheckResponse_NOT_SERVING,
		},
	}
}

func (h *HealthChecker) Check(ctx context.Context, req *grpc_health_v1.HealthCheckRequest) (*grpc_health_v1.HealthCheckResponse, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if status, ok := h.status[req.Service]; ok {
		return &grpc_health_v1.HealthCheckResponse{
			Status: status,
		}, nil
	}

	return nil, status.Error(codes.NotFound, "unknown service")
}

func (h *HealthChecker) Watch(req *grpc_health_v1.HealthCheckRequest, stream grpc_health_v1.Health_WatchServer) error {
	return status.Error(codes.Unimplemented, "watching is not supported")
}

// SetServingStatus sets the serving status of a service
func (h *HealthChecker) SetServingStatus(service string, status grpc_health_v1.HealthCheckResponse_ServingStatus) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.status[service] = status
}

// ReportPass marks the crawler serving after a clean pass and not serving
// after a pass with errors.
func (h *HealthChecker) ReportPass(err error) {
	if err != nil {
		h.SetServingStatus(CrawlerService, grpc_health_v1.HealthCheckResponse_NOT_SERVING)
		return
	}
	h.SetServingStatus(CrawlerService, grpc_health_v1.HealthCheckResponse_SERVING)
}
