package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"BloodBank-Chain/internal/bloodbank"
	xerrors "BloodBank-Chain/internal/errors"
	"BloodBank-Chain/internal/session"
)

const (
	streamPingInterval = 15 * time.Second
	streamWriteTimeout = 5 * time.Second
)

type connectResponse struct {
	Session session.Session `json:"session"`
	Error   string          `json:"error,omitempty"`
	Code    string          `json:"code,omitempty"`
}

// statusOf 将统一错误码映射为 HTTP 状态码。
func statusOf(err error) int {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, bloodbank.ErrContractInvalidated):
		return http.StatusConflict
	case errors.Is(err, bloodbank.ErrTransactionReverted):
		return http.StatusUnprocessableEntity
	}
	switch xerrors.CodeOf(err) {
	case xerrors.CodeInvalidArgument:
		return http.StatusBadRequest
	case session.CodeUserRejected:
		return http.StatusForbidden
	case session.CodeNotConnected, session.CodeWrongNetwork, session.CodeNetworkSwitchFailed, session.CodeSuperseded:
		return http.StatusConflict
	case session.CodeNoWalletInstalled, xerrors.CodeUnavailable:
		return http.StatusServiceUnavailable
	case session.CodeContractNotDeployed, session.CodeContractAddressMissing, session.CodeConnectFailure, xerrors.CodeChainFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// walletFailure 返回统一错误的用户文案与错误码。
func (s *Server) walletFailure(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	resp := errorResponse{Error: xerrors.MessageOf(err)}
	if errors.Is(err, bloodbank.ErrContractInvalidated) {
		resp.Error = xerrors.AttributesOf(session.CodeNotConnected).Message
		resp.Code = string(session.CodeNotConnected)
	} else if e, ok := xerrors.From(err); ok {
		resp.Code = string(e.Code())
		resp.Field = xerrors.FieldOf(e)
	}
	level := xerrors.SeverityOf(err).Level()
	if status < http.StatusInternalServerError && level > slog.LevelInfo {
		level = slog.LevelInfo
	}
	s.logger.Log(r.Context(), level, "钱包或合约请求失败",
		"request_id", requestID(r.Context()),
		"path", r.URL.Path,
		"status", status,
		"error", err,
	)
	writeJSON(w, status, resp)
}

func (s *Server) walletReady(w http.ResponseWriter, r *http.Request) bool {
	if s.wallet == nil {
		s.walletFailure(w, r, xerrors.New(xerrors.CodeUnavailable, "钱包会话未启用"))
		return false
	}
	return true
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	if !s.walletReady(w, r) {
		return
	}
	writeJSON(w, http.StatusOK, s.wallet.Session())
}

// handleConnect 驱动会话进入 Connected。失败时同时返回错误与最新快照。
func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	if !s.walletReady(w, r) {
		return
	}
	if err := s.wallet.Connect(r.Context()); err != nil {
		status := statusOf(err)
		resp := connectResponse{Session: s.wallet.Session(), Error: xerrors.MessageOf(err)}
		if e, ok := xerrors.From(err); ok {
			resp.Code = string(e.Code())
		}
		s.logger.Info("钱包连接失败", "request_id", requestID(r.Context()), "error", err)
		writeJSON(w, status, resp)
		return
	}
	writeJSON(w, http.StatusOK, connectResponse{Session: s.wallet.Session()})
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if !s.walletReady(w, r) {
		return
	}
	s.wallet.Disconnect()
	writeJSON(w, http.StatusOK, connectResponse{Session: s.wallet.Session()})
}

// handleStream 通过 websocket 推送会话快照：先推送当前快照，之后每次变更推送一次。
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if !s.walletReady(w, r) {
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket 升级失败", "request_id", requestID(r.Context()), "error", err)
		return
	}
	defer conn.Close()

	snapshots := make(chan session.Session, 16)
	sub := s.wallet.Subscribe(snapshots)
	defer sub.Unsubscribe()

	// 读协程只用于感知客户端断开。
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	write := func(v any) error {
		_ = conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
		return conn.WriteJSON(v)
	}
	if err := write(s.wallet.Session()); err != nil {
		return
	}

	ticker := time.NewTicker(streamPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-closed:
			return
		case err := <-sub.Err():
			if err != nil {
				s.logger.Warn("会话订阅中断", "error", err)
			}
			return
		case snap := <-snapshots:
			if err := write(snap); err != nil {
				return
			}
		case <-ticker.C:
			deadline := time.Now().Add(streamWriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, []byte("ping"), deadline); err != nil {
				return
			}
		}
	}
}
