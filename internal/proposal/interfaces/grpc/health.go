// Package grpc 暴露标准 gRPC 健康检查，状态跟随交易所连通性
package grpc

import (
	"context"
	"time"

	"github.com/wyfcoding/proposalengine/pkg/logger"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName 健康检查中使用的服务名
const ServiceName = "proposal.ProposalEngine"

// ConnectivityChecker 由 application.ProposalService 实现
type ConnectivityChecker interface {
	CheckConnectivity(ctx context.Context) error
}

// HealthServer 周期性探测交易所并更新健康状态
type HealthServer struct {
	server  *health.Server
	checker ConnectivityChecker
}

// NewHealthServer 初始状态为 NOT_SERVING，首次探测成功后转为 SERVING
func NewHealthServer(checker ConnectivityChecker) *HealthServer {
	s := health.NewServer()
	s.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	s.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	return &HealthServer{server: s, checker: checker}
}

// Register 注册到 gRPC 服务器
func (h *HealthServer) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, h.server)
}

// Check 执行一次检查并更新状态
func (h *HealthServer) Check(ctx context.Context) bool {
	status := healthpb.HealthCheckResponse_SERVING
	if err := h.checker.CheckConnectivity(ctx); err != nil {
		logger.Warn(ctx, "Exchange health check failed", "error", err)
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	h.server.SetServingStatus(ServiceName, status)
	h.server.SetServingStatus("", status)
	return status == healthpb.HealthCheckResponse_SERVING
}

// Run 按 interval 检查直到 ctx 取消，退出时标记为 NOT_SERVING
func (h *HealthServer) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	h.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			h.server.Shutdown()
			return nil
		case <-ticker.C:
			h.Check(ctx)
		}
	}
}
