// Package managers starts the front-end controllers on a shared listener.
package managers

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/soheilhy/cmux"
	"go.uber.org/zap"

	grpccontroller "github.com/arpa-simc/provami/internal/controllers/grpc"
	"github.com/arpa-simc/provami/internal/controllers/restserver"
	"github.com/arpa-simc/provami/internal/webapi"
	"github.com/arpa-simc/provami/pkg/config"
)

// Controller is an interface that provides standard methods for the
// front-end controllers
type Controller interface {
	StartController(l net.Listener) error
}

// ControllerManager multiplexes HTTP and gRPC on one listener.
type ControllerManager struct {
	ctx    context.Context
	wg     *sync.WaitGroup
	config config.ServerData
	logger *zap.SugaredLogger

	REST *restserver.Controller
	GRPC *grpccontroller.Controller
}

// NewControllerManager creates the REST controller and, when enabled, the
// gRPC one.
func NewControllerManager(ctx context.Context, wg *sync.WaitGroup, sc config.ServerData, api *webapi.API, gatherer prometheus.Gatherer, logger *zap.SugaredLogger) (*ControllerManager, error) {
	cm := &ControllerManager{
		ctx:    ctx,
		wg:     wg,
		config: sc,
		logger: logger,
	}

	if !sc.Metrics {
		gatherer = nil
	}

	var err error
	cm.REST, err = restserver.NewController(ctx, wg, sc, api, gatherer, logger.Named("rest"))
	if err != nil {
		return nil, fmt.Errorf("error creating REST controller: %v", err)
	}

	if sc.GRPCEnabled {
		cm.GRPC, err = grpccontroller.NewController(ctx, wg, api, logger.Named("grpc"))
		if err != nil {
			return nil, fmt.Errorf("error creating gRPC controller: %v", err)
		}
	}

	return cm, nil
}

// Listen opens the configured address, wrapped in TLS when configured.
func (cm *ControllerManager) Listen() (net.Listener, error) {
	l, err := net.Listen("tcp", cm.config.Addr())
	if err != nil {
		return nil, fmt.Errorf("could not listen on %s: %v", cm.config.Addr(), err)
	}
	if !cm.config.TLSEnabled() {
		return l, nil
	}

	cert, err := tls.LoadX509KeyPair(cm.config.TLSCertPath, cm.config.TLSKeyPath)
	if err != nil {
		l.Close()
		return nil, fmt.Errorf("could not load TLS keypair: %v", err)
	}
	return tls.NewListener(l, &tls.Config{
		Certificates: []tls.Certificate{cert},
		// Browsers get HTTP/1.1; gRPC clients only offer h2
		NextProtos: []string{"http/1.1", "h2"},
		MinVersion: tls.VersionTLS12,
	}), nil
}

// StartControllers serves all controllers on l until the context ends.
func (cm *ControllerManager) StartControllers(l net.Listener) error {
	cm.logger.Info("Starting controller manager...")

	if cm.GRPC == nil {
		return cm.REST.StartController(l)
	}

	m := cmux.New(l)
	grpcL := m.MatchWithWriters(cmux.HTTP2MatchHeaderFieldSendSettings("content-type", "application/grpc"))
	httpL := m.Match(cmux.Any())

	controllers := []struct {
		name string
		c    Controller
		l    net.Listener
	}{
		{"gRPC", cm.GRPC, grpcL},
		{"REST", cm.REST, httpL},
	}
	for _, c := range controllers {
		if err := c.c.StartController(c.l); err != nil {
			m.Close()
			return fmt.Errorf("error starting %s controller: %v", c.name, err)
		}
	}

	cm.wg.Add(1)
	go func() {
		defer cm.wg.Done()
		if err := m.Serve(); err != nil && !errors.Is(err, net.ErrClosed) && !errors.Is(err, cmux.ErrListenerClosed) {
			cm.logger.Errorf("listener error: %v", err)
		}
	}()

	go func() {
		<-cm.ctx.Done()
		m.Close()
	}()

	cm.logger.Infof("Started %d controllers on %s", len(controllers), l.Addr())
	return nil
}
