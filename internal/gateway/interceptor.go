package gateway

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rwilli/localweather/internal/metrics"
	"github.com/rwilli/localweather/internal/types"
	"github.com/rwilli/localweather/pkg/config"
	"go.uber.org/zap"
)

const (
	defaultBufferSize   = 4096
	defaultMaxClockSkew = 10 * time.Minute
	maxUploadBytes      = 1 << 20
)

// ReadingPublisher publishes one normalized reading to the bus.
type ReadingPublisher interface {
	PublishReading(types.Reading) error
}

// Interceptor is the HTTP server the gateway is proxied to. It decodes each
// framed report in an upload, normalizes the channels into readings, and
// hands them to the publish buffer in receipt order.
type Interceptor struct {
	ctx       context.Context
	cancel    context.CancelFunc
	wg        *sync.WaitGroup
	cfg       config.GatewayData
	publisher ReadingPublisher
	decoder   Decoder
	buffer    *publishBuffer
	server    *http.Server
	logger    *zap.SugaredLogger
}

// NewInterceptor creates an interceptor listening on the configured local
// address and port. The decoder defaults to the JSON report decoder.
func NewInterceptor(ctx context.Context, wg *sync.WaitGroup, cfg config.GatewayData, publisher ReadingPublisher, logger *zap.SugaredLogger) (*Interceptor, error) {
	if cfg.ListenAddr == "" || cfg.Port == 0 {
		return nil, fmt.Errorf("gateway interceptor requires listen_addr and port")
	}
	if cfg.BufferSize == 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.MaxClockSkew == 0 {
		cfg.MaxClockSkew = defaultMaxClockSkew
	}

	interceptorCtx, cancel := context.WithCancel(ctx)

	return &Interceptor{
		ctx:       interceptorCtx,
		cancel:    cancel,
		wg:        wg,
		cfg:       cfg,
		publisher: publisher,
		decoder:   &JSONDecoder{},
		buffer:    newPublishBuffer(cfg.BufferSize),
		logger:    logger,
	}, nil
}

// SetDecoder swaps the wire decoder. Must be called before Start.
func (i *Interceptor) SetDecoder(d Decoder) {
	i.decoder = d
}

// Degraded reports whether readings are currently being dropped because the
// publish buffer overflowed during a bus outage.
func (i *Interceptor) Degraded() bool {
	return i.buffer.Degraded()
}

// BufferDepth returns the number of readings waiting to be published.
func (i *Interceptor) BufferDepth() int {
	return i.buffer.Len()
}

// Start issues the gateway proxy-configuration call, then starts the HTTP
// listener and the publish pump.
func (i *Interceptor) Start() error {
	if i.cfg.GatewayAddr != "" {
		if err := ConfigureGatewayProxy(i.cfg.GatewayAddr, i.cfg.ConfigPort, i.cfg.ListenAddr, i.cfg.Port); err != nil {
			// The call is idempotent and reissued on every restart, so a
			// failure here degrades to the gateway keeping its last target.
			i.logger.Warnf("gateway proxy configuration failed, will retry on next restart: %v", err)
		} else {
			i.logger.Infof("configured gateway %s to proxy via %s:%d", i.cfg.GatewayAddr, i.cfg.ListenAddr, i.cfg.Port)
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", i.handleUpload)

	i.server = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", i.cfg.ListenAddr, i.cfg.Port),
		Handler: mux,
	}

	i.logger.Infof("gateway interceptor listening on %s", i.server.Addr)

	i.wg.Add(1)
	go func() {
		defer i.wg.Done()
		if err := i.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			i.logger.Errorf("interceptor HTTP server error: %v", err)
		}
	}()

	i.wg.Add(1)
	go i.publishPump()

	go func() {
		<-i.ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := i.server.Shutdown(shutdownCtx); err != nil {
			i.logger.Errorf("interceptor HTTP server shutdown error: %v", err)
		}
	}()

	return nil
}

// Stop shuts the interceptor down.
func (i *Interceptor) Stop() {
	i.cancel()
}

// handleUpload accepts one gateway upload. The body carries one or more
// newline-framed reports; a decode failure drops that single report and the
// remaining frames are still processed.
func (i *Interceptor) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost && r.Method != http.MethodPut {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxUploadBytes))
	if err != nil {
		i.logger.Warnf("failed to read gateway upload from %s: %v", r.RemoteAddr, err)
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	receivedAt := time.Now().UTC()

	for _, frame := range bytes.Split(body, []byte("\n")) {
		frame = bytes.TrimSpace(frame)
		if len(frame) == 0 {
			continue
		}

		report, err := i.decoder.Decode(frame, receivedAt)
		if err != nil {
			var decodeErr *DecodeError
			if errors.As(err, &decodeErr) {
				metrics.DecodeFailures.Inc()
				i.logger.Warnf("dropping undecodable report from %s: %v", r.RemoteAddr, err)
				continue
			}
			i.logger.Errorf("decoder failure: %v", err)
			continue
		}

		metrics.ReportsReceived.Inc()
		for _, reading := range i.normalize(report) {
			i.buffer.Push(reading)
		}
	}

	// The gateway expects a success response from the vendor cloud; anything
	// else makes it re-send and eventually fall back to direct upload.
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// normalize maps a decoded report to bus readings. Timestamps are
// receipt-time-corrected: a missing device clock or one skewed beyond the
// configured tolerance is replaced with the proxy's receipt time.
func (i *Interceptor) normalize(report *types.GatewayReport) []types.Reading {
	ts := report.DeviceTime
	if ts.IsZero() || absDuration(report.ReceivedAt.Sub(ts)) > i.cfg.MaxClockSkew {
		ts = report.ReceivedAt
	}

	readings := make([]types.Reading, 0, len(report.Channels))
	for _, cv := range report.Channels {
		family, ok := familyFor(cv.Channel)
		if !ok {
			continue
		}
		readings = append(readings, types.Reading{
			DeviceID:  report.DeviceID,
			Family:    family,
			Channel:   cv.Channel,
			Value:     cv.Value,
			Unit:      cv.Unit,
			BatteryOK: report.BatteryOK,
			Timestamp: ts,
		})
	}
	return readings
}

// publishPump drains the buffer to the bus, one reading at a time to keep
// receipt order. Publish failures back off up to 30 seconds while readings
// keep accumulating in the bounded buffer.
func (i *Interceptor) publishPump() {
	defer i.wg.Done()

	backoff := time.Second
	for {
		reading, seq, ok := i.buffer.Peek()
		if !ok {
			select {
			case <-i.buffer.Notify():
				continue
			case <-i.ctx.Done():
				return
			}
		}

		if err := i.publisher.PublishReading(reading); err != nil {
			i.logger.Warnf("bus publish failed, retrying in %v: %v", backoff, err)
			select {
			case <-time.After(backoff):
			case <-i.ctx.Done():
				return
			}
			backoff *= 2
			if backoff > 30*time.Second {
				backoff = 30 * time.Second
			}
			continue
		}

		backoff = time.Second
		metrics.ReadingsPublished.WithLabelValues(string(reading.Family)).Inc()
		i.buffer.Pop(seq)
	}
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
