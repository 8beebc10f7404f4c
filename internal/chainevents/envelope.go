package chainevents

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"BloodBank-Chain/internal/bloodbank"
	xerrors "BloodBank-Chain/internal/errors"
)

const (
	// CodeEventPublish 表示事件投递到队列失败。
	CodeEventPublish xerrors.Code = "CHAIN_EVENT_PUBLISH_FAILED"
	// CodeEventDecode 表示队列消息无法解析。
	CodeEventDecode xerrors.Code = "CHAIN_EVENT_DECODE_FAILED"
)

func init() {
	xerrors.Register(CodeEventPublish, xerrors.Attributes{
		Message:   "chain event publish failed",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
	})
	xerrors.Register(CodeEventDecode, xerrors.Attributes{
		Message:  "chain event payload is malformed",
		Severity: xerrors.SeverityWarning,
	})
}

// Envelope 是在队列中流转的事件消息。
type Envelope struct {
	ID         string          `json:"id"`
	ReceivedAt time.Time       `json:"receivedAt"`
	Event      bloodbank.Event `json:"event"`
}

// NewEnvelope 为事件分配唯一 ID。
func NewEnvelope(ev bloodbank.Event, at time.Time) Envelope {
	return Envelope{ID: uuid.NewString(), ReceivedAt: at.UTC(), Event: ev}
}

// Key 标识链上的同一条日志，重复投递时保持不变。
func (e Envelope) Key() string {
	return fmt.Sprintf("%s:%d", e.Event.TxHash.Hex(), e.Event.LogIndex)
}
