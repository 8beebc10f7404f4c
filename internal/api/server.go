package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/dimfeld/httptreemux/v5"
	"github.com/ethereum/go-ethereum/event"
	"github.com/gorilla/websocket"

	"BloodBank-Chain/internal/bloodbank"
	"BloodBank-Chain/internal/chainevents"
	"BloodBank-Chain/internal/observability/metrics"
	"BloodBank-Chain/internal/records"
	"BloodBank-Chain/internal/session"
	"BloodBank-Chain/pkg/logger"
)

// WalletSession 是 HTTP 层使用的会话能力，由 session.Manager 实现。
type WalletSession interface {
	Session() session.Session
	Subscribe(ch chan<- session.Session) event.Subscription
	Connect(ctx context.Context) error
	Disconnect()
	Contract() (*bloodbank.Contract, error)
}

// EventStats 提供已处理链上事件的计数。
type EventStats interface {
	Snapshot() chainevents.StatsSnapshot
}

// WatcherStatus 提供事件监听器的状态。
type WatcherStatus interface {
	Status() chainevents.Status
}

// Server 负责暴露 REST 接口。
type Server struct {
	addr     string
	records  *records.Service
	wallet   WalletSession
	events   EventStats
	watcher  WatcherStatus
	origin   string
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// Option 定义可选配置。
type Option func(*Server)

// WithRecords 挂载链下记录服务。
func WithRecords(svc *records.Service) Option {
	return func(s *Server) { s.records = svc }
}

// WithWallet 挂载钱包会话。
func WithWallet(w WalletSession) Option {
	return func(s *Server) { s.wallet = w }
}

// WithChainEvents 挂载链上事件统计。watcher 可以为 nil。
func WithChainEvents(stats EventStats, watcher WatcherStatus) Option {
	return func(s *Server) {
		s.events = stats
		s.watcher = watcher
	}
}

// WithAllowedOrigin 设置 CORS 与 websocket 允许的来源，"*" 表示任意来源。
func WithAllowedOrigin(origin string) Option {
	return func(s *Server) {
		if origin != "" {
			s.origin = origin
		}
	}
}

// WithLogger 指定日志记录器。
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, opts ...Option) *Server {
	s := &Server{
		addr:   addr,
		origin: "*",
		logger: logger.Named("api"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.upgrader = websocket.Upgrader{CheckOrigin: s.checkOrigin}
	return s
}

// Handler 构建完整的路由树。
func (s *Server) Handler() http.Handler {
	mux := httptreemux.NewContextMux()

	s.route(mux, http.MethodPost, "/api/donations", s.handleCreateDonation)
	s.route(mux, http.MethodGet, "/api/donations", s.handleListDonations)
	s.route(mux, http.MethodPut, "/api/donations", s.handleUpdateDonation)
	s.route(mux, http.MethodDelete, "/api/donations", s.handleDeleteDonation)

	s.route(mux, http.MethodGet, "/api/inventory", s.handleInventorySummary)
	s.route(mux, http.MethodPost, "/api/inventory", s.handleAddInventory)
	s.route(mux, http.MethodPut, "/api/inventory", s.handleUpdateInventory)
	s.route(mux, http.MethodDelete, "/api/inventory", s.handlePurgeInventory)

	s.route(mux, http.MethodPost, "/api/requests", s.handleCreateRequest)
	s.route(mux, http.MethodGet, "/api/requests", s.handleListRequests)
	s.route(mux, http.MethodPut, "/api/requests", s.handleUpdateRequest)
	s.route(mux, http.MethodDelete, "/api/requests", s.handleDeleteRequest)

	s.route(mux, http.MethodPost, "/api/users", s.handleCreateUser)
	s.route(mux, http.MethodGet, "/api/users", s.handleGetUsers)
	s.route(mux, http.MethodPut, "/api/users", s.handleUpdateUser)

	s.route(mux, http.MethodGet, "/api/wallet/session", s.handleSession)
	s.route(mux, http.MethodPost, "/api/wallet/connect", s.handleConnect)
	s.route(mux, http.MethodPost, "/api/wallet/disconnect", s.handleDisconnect)
	s.route(mux, http.MethodGet, "/api/wallet/stream", s.handleStream)

	s.route(mux, http.MethodPost, "/api/chain/donations", s.handleChainDonate)
	s.route(mux, http.MethodPost, "/api/chain/requests", s.handleChainRequest)
	s.route(mux, http.MethodGet, "/api/chain/stats", s.handleChainStats)
	s.route(mux, http.MethodGet, "/api/chain/inventory", s.handleChainInventory)
	s.route(mux, http.MethodGet, "/api/chain/events", s.handleChainEvents)

	mux.Handler(http.MethodGet, "/metrics", metrics.Handler())
	s.route(mux, http.MethodGet, "/healthz", s.handleHealth)

	return s.cors(withRequestID(mux))
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.logger.Info("API 服务已启动", "addr", s.addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (s *Server) route(mux *httptreemux.ContextMux, method, path string, h http.HandlerFunc) {
	mux.Handle(method, path, instrument(path, h))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{"status": "ok"}
	if s.wallet != nil {
		resp["session"] = s.wallet.Session().State
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if s.origin == "*" {
		return true
	}
	origin := r.Header.Get("Origin")
	return origin == "" || origin == s.origin
}

// cors 设置跨域响应头，预检请求直接返回。
func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", s.origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Origin, Accept, Content-Type, Content-Length, Accept-Encoding, X-Request-ID")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
