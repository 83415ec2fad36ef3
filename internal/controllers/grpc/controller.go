// Package grpc serves the explorer API over gRPC.
package grpc

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/arpa-simc/provami/internal/grpcutil"
	"github.com/arpa-simc/provami/internal/log"
	"github.com/arpa-simc/provami/internal/webapi"
)

// Controller represents the gRPC controller
type Controller struct {
	ctx    context.Context
	wg     *sync.WaitGroup
	Server *grpc.Server
	api    *webapi.API
	health *health.Server
	logger *zap.SugaredLogger
}

var _ grpcutil.ExplorerServer = (*Controller)(nil)

// NewController creates a new gRPC controller instance
func NewController(ctx context.Context, wg *sync.WaitGroup, api *webapi.API, logger *zap.SugaredLogger, opts ...grpc.ServerOption) (*Controller, error) {
	if api == nil {
		return nil, fmt.Errorf("gRPC controller needs an API")
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	ctrl := &Controller{
		ctx:    ctx,
		wg:     wg,
		api:    api,
		health: health.NewServer(),
		logger: logger,
	}

	ctrl.Server = grpc.NewServer(opts...)

	// Register the explorer service, health checks and reflection
	grpcutil.RegisterExplorerServer(ctrl.Server, ctrl)
	healthpb.RegisterHealthServer(ctrl.Server, ctrl.health)
	reflection.Register(ctrl.Server)
	ctrl.health.SetServingStatus(grpcutil.ServiceName, healthpb.HealthCheckResponse_SERVING)

	return ctrl, nil
}

// Call runs one explorer operation.
func (c *Controller) Call(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	op, args, err := grpcutil.ParseCall(req)
	if err != nil {
		return nil, err
	}
	res, code := c.api.Call(ctx, op, args)
	if code != http.StatusOK {
		msg, _ := res["message"].(string)
		return nil, status.Error(grpcutil.StatusCode(code), msg)
	}
	out, err := grpcutil.ToStruct(res)
	if err != nil {
		c.logger.Errorf("gRPC %s: cannot encode response: %v", op, err)
		return nil, status.Error(codes.Internal, "cannot encode response")
	}
	return out, nil
}

// StartController serves gRPC on l until the controller context ends.
func (c *Controller) StartController(l net.Listener) error {
	log.Info("Starting gRPC controller...")
	c.wg.Add(1)

	go func() {
		defer c.wg.Done()

		log.Infof("gRPC controller listening on %s", l.Addr())
		if err := c.Server.Serve(l); err != nil && err != grpc.ErrServerStopped {
			log.Errorf("gRPC controller serve error: %v", err)
		}
	}()

	go func() {
		<-c.ctx.Done()
		c.StopController()
	}()

	return nil
}

// StopController stops the gRPC controller
func (c *Controller) StopController() {
	log.Info("Stopping gRPC controller...")
	if c.Server != nil {
		c.health.Shutdown()
		c.Server.GracefulStop()
	}
}
