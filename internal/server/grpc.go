package server

import (
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName 是 gRPC 健康检查中的服务名
const ServiceName = "wager.v1.Orchestrator"

// NewGRPCServer 初始化 gRPC 服务，注册健康检查和反射
// 健康状态跟随钱包会话: 有会话为 SERVING，否则为 NOT_SERVING
func NewGRPCServer() (*grpc.Server, *health.Server) {
	s := grpc.NewServer()

	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(s, hs)

	reflection.Register(s)
	return s, hs
}

// SetSessionHealth 更新会话相关的健康状态
func SetSessionHealth(hs *health.Server, active bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if active {
		status = healthpb.HealthCheckResponse_SERVING
	}
	hs.SetServingStatus(ServiceName, status)
}
