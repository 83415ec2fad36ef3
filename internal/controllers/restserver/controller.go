// Package restserver serves the explorer API over HTTP.
package restserver

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/arpa-simc/provami/internal/log"
	"github.com/arpa-simc/provami/internal/webapi"
	"github.com/arpa-simc/provami/pkg/config"
)

// APIPrefix is the path prefix of all API operations.
const APIPrefix = "/api/1.0"

// Controller represents the REST server controller
type Controller struct {
	ctx        context.Context
	wg         *sync.WaitGroup
	restConfig config.ServerData
	Server     http.Server
	api        *webapi.API
	gatherer   prometheus.Gatherer
	token      string
	logger     *zap.SugaredLogger
	handlers   *Handlers
}

// NewController creates a new REST server controller. gatherer may be nil,
// in which case /metrics is not served.
func NewController(ctx context.Context, wg *sync.WaitGroup, rc config.ServerData, api *webapi.API, gatherer prometheus.Gatherer, logger *zap.SugaredLogger) (*Controller, error) {
	if api == nil {
		return nil, fmt.Errorf("REST server needs an API")
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	ctrl := &Controller{
		ctx:        ctx,
		wg:         wg,
		restConfig: rc,
		api:        api,
		gatherer:   gatherer,
		logger:     logger,
	}

	if !rc.NoAuth {
		ctrl.token = rc.Token
		if ctrl.token == "" {
			ctrl.token = generateAuthToken()
		}
	}

	ctrl.handlers = NewHandlers(ctrl)
	ctrl.Server.Addr = rc.Addr()
	ctrl.Server.Handler = ctrl.setupRouter()
	ctrl.Server.ReadHeaderTimeout = 10 * time.Second

	return ctrl, nil
}

// StartURL returns the URL that logs a browser in and opens the explorer.
func (c *Controller) StartURL() string {
	scheme := "http"
	if c.restConfig.TLSEnabled() {
		scheme = "https"
	}
	if c.token == "" {
		return fmt.Sprintf("%s://%s/", scheme, c.Server.Addr)
	}
	return fmt.Sprintf("%s://%s/start/%s", scheme, c.Server.Addr, c.token)
}

// Handler returns the router serving all endpoints.
func (c *Controller) Handler() http.Handler {
	return c.Server.Handler
}

// StartController serves HTTP on l until the controller context ends. TLS,
// when configured, is terminated by the listener.
func (c *Controller) StartController(l net.Listener) error {
	log.Info("Starting REST server controller...")
	c.wg.Add(1)

	go func() {
		defer c.wg.Done()

		if err := c.Server.Serve(l); err != nil && err != http.ErrServerClosed {
			log.Errorf("REST server error: %v", err)
		}
	}()

	go func() {
		<-c.ctx.Done()
		log.Info("Shutting down the REST server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		c.Server.Shutdown(shutdownCtx)
	}()

	c.logger.Infof("explorer available at %s", c.StartURL())
	return nil
}

// setupRouter configures the HTTP router with all endpoints
func (c *Controller) setupRouter() http.Handler {
	router := mux.NewRouter()

	router.Use(c.corsMiddleware)

	// Authentication routes (no auth required)
	router.HandleFunc("/start/{token}", c.handlers.Start).Methods(http.MethodGet)

	if c.gatherer != nil {
		router.Handle("/metrics", promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	api := router.PathPrefix(APIPrefix).Subrouter()
	api.Use(c.authMiddleware)
	api.HandleFunc("/export/{format}", c.handlers.Export).Methods(http.MethodGet)
	api.HandleFunc("/{op}", c.handlers.Call).Methods(http.MethodGet, http.MethodPost)

	router.Handle("/", c.authMiddleware(http.HandlerFunc(c.handlers.Index))).Methods(http.MethodGet)

	accessLog := zap.NewStdLog(c.logger.Desugar().Named("access")).Writer()
	recovery := handlers.RecoveryHandler(
		handlers.RecoveryLogger(zap.NewStdLog(c.logger.Desugar())),
		handlers.PrintRecoveryStack(true),
	)
	return recovery(handlers.CombinedLoggingHandler(accessLog, router))
}

// corsMiddleware adds CORS headers
func (c *Controller) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
