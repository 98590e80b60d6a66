// Package rest implements the control API: triggering aggregation runs and
// serving status and simple data queries to the web front end.
package rest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rwilli/localweather/internal/aggregator"
	"github.com/rwilli/localweather/internal/alarm"
	"github.com/rwilli/localweather/internal/storage"
	"github.com/rwilli/localweather/internal/types"
	"github.com/rwilli/localweather/pkg/config"
	"go.uber.org/zap"
)

const (
	defaultListenAddr = "127.0.0.1"
	defaultPort       = 8001
)

// AggregatorService is the aggregator surface the control API drives.
type AggregatorService interface {
	Run(ctx context.Context) *aggregator.RunResult
	LastRun() (time.Time, *aggregator.RunResult)
	Compute(ctx context.Context, family types.SensorFamily, kind types.PeriodKind, now time.Time) (*types.PeriodAggregate, error)
}

// StatusSource exposes the interceptor's degraded-mode state. It is nil when
// the interceptor runs in a separate process.
type StatusSource interface {
	Degraded() bool
	BufferDepth() int
}

// Controller represents the control API server.
type Controller struct {
	ctx        context.Context
	wg         *sync.WaitGroup
	apiConfig  config.ControlAPIData
	Server     http.Server
	store      storage.SampleStore
	aggregator AggregatorService
	alarms     *alarm.Evaluator
	status     StatusSource
	logger     *zap.SugaredLogger
	handlers   *Handlers
}

// NewController creates a new control API controller. alarms and status may
// be nil.
func NewController(ctx context.Context, wg *sync.WaitGroup, apiConfig config.ControlAPIData, store storage.SampleStore, agg AggregatorService, alarms *alarm.Evaluator, status StatusSource, logger *zap.SugaredLogger) (*Controller, error) {
	if agg == nil {
		return nil, fmt.Errorf("control API requires an aggregator")
	}

	if apiConfig.ListenAddr == "" {
		logger.Infof("control_api.listen_addr not provided; defaulting to %s", defaultListenAddr)
		apiConfig.ListenAddr = defaultListenAddr
	}
	if apiConfig.Port == 0 {
		logger.Infof("control_api.port not provided; defaulting to %d", defaultPort)
		apiConfig.Port = defaultPort
	}

	ctrl := &Controller{
		ctx:        ctx,
		wg:         wg,
		apiConfig:  apiConfig,
		store:      store,
		aggregator: agg,
		alarms:     alarms,
		status:     status,
		logger:     logger,
	}
	ctrl.handlers = NewHandlers(ctrl)

	ctrl.Server.Addr = fmt.Sprintf("%v:%v", apiConfig.ListenAddr, apiConfig.Port)
	ctrl.Server.Handler = ctrl.setupRouter()

	return ctrl, nil
}

// setupRouter configures the HTTP router with all endpoints.
func (c *Controller) setupRouter() *mux.Router {
	router := mux.NewRouter()

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/update", c.handlers.Update).Methods(http.MethodPost)
	api.HandleFunc("/status", c.handlers.Status).Methods(http.MethodGet)
	api.HandleFunc("/latest", c.handlers.Latest).Methods(http.MethodGet)
	api.HandleFunc("/aggregates/{family}/{period}", c.handlers.Aggregate).Methods(http.MethodGet)
	api.HandleFunc("/query", c.handlers.Query).Methods(http.MethodPost)

	router.Handle("/metrics", promhttp.Handler())

	router.NotFoundHandler = http.HandlerFunc(c.handlers.NotFound)

	return router
}

// StartController starts the control API server.
func (c *Controller) StartController() error {
	c.logger.Infof("starting control API on %s", c.Server.Addr)
	c.wg.Add(1)

	go func() {
		defer c.wg.Done()
		if err := c.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			c.logger.Errorf("control API server error: %v", err)
		}
	}()

	go func() {
		<-c.ctx.Done()
		c.logger.Info("shutting down the control API...")
		c.Server.Shutdown(context.Background())
	}()

	return nil
}
