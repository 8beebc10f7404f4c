package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// registry 汇总守护进程的全部指标，所有字段受 mu 保护。
type registry struct {
	mu sync.Mutex

	requests *counterVec
	errors   *counterVec
	latency  *histogramVec

	transitions *counterVec
	state       string

	events   *counterVec
	failures *counterVec
}

var defaultRegistry = newRegistry()

func newRegistry() *registry {
	return &registry{
		requests: newCounterVec("bloodbank_http_requests_total",
			"Total number of HTTP requests processed.", "handler", "method", "code"),
		errors: newCounterVec("bloodbank_http_request_errors_total",
			"Total number of HTTP requests that resulted in a server error.", "handler", "method"),
		latency: newHistogramVec("bloodbank_http_request_duration_seconds",
			"HTTP request duration in seconds.", "handler", "method"),
		transitions: newCounterVec("bloodbank_session_transitions_total",
			"Wallet session snapshots published by state.", "state"),
		events: newCounterVec("bloodbank_chain_events_total",
			"Contract events processed by kind.", "kind"),
		failures: newCounterVec("bloodbank_chain_event_failures_total",
			"Chain event pipeline failures by stage.", "stage"),
	}
}

// ObserveSessionState records a published wallet session state.
func ObserveSessionState(state string) {
	r := defaultRegistry
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions.inc(state)
	r.state = state
}

// ObserveChainEvent counts a processed contract event by kind.
func ObserveChainEvent(kind string) {
	r := defaultRegistry
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events.inc(kind)
}

// ObserveEventFailure counts a failure in the chain event pipeline by stage
// (decode, publish, removed).
func ObserveEventFailure(stage string) {
	r := defaultRegistry
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures.inc(stage)
}

// ObserveHTTPRequest records one finished request against its route pattern.
func ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	r := defaultRegistry
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests.inc(handler, method, strconv.Itoa(status))
	if status >= http.StatusInternalServerError {
		r.errors.inc(handler, method)
	}
	r.latency.observe(duration.Seconds(), handler, method)
}

func (r *registry) render() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var b strings.Builder
	b.Grow(2048)
	r.requests.write(&b)
	r.errors.write(&b)
	r.latency.write(&b)
	r.transitions.write(&b)
	writeHeader(&b, "bloodbank_session_state", "Current wallet session state.", "gauge")
	if r.state != "" {
		fmt.Fprintf(&b, "bloodbank_session_state{state=\"%s\"} 1\n", escape(r.state))
	}
	r.events.write(&b)
	r.failures.write(&b)
	return b.String()
}

// Handler exposes the metrics in Prometheus text exposition format.
func Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		_, _ = fmt.Fprint(w, defaultRegistry.render())
	})
}

// StartServer serves /metrics on addr until ctx is cancelled.
func StartServer(ctx context.Context, addr string) error {
	if addr == "" {
		return errors.New("metrics address is empty")
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return err
	}
}
