package records

import (
	"context"
	"time"

	xerrors "BloodBank-Chain/internal/errors"
)

const (
	CodeRecordNotFound   xerrors.Code = "RECORD_NOT_FOUND"
	CodeRecordValidation xerrors.Code = "RECORD_VALIDATION_FAILED"
	CodeRecordConflict   xerrors.Code = "RECORD_CONFLICT"
)

var (
	// ErrNotFound 表示记录不存在。
	ErrNotFound = xerrors.New(CodeRecordNotFound, "record not found")
	// ErrConflict 表示唯一键冲突，例如重复的用户地址。
	ErrConflict = xerrors.New(CodeRecordConflict, "record conflict")
)

func init() {
	xerrors.Register(CodeRecordNotFound, xerrors.Attributes{Message: "record not found", Severity: xerrors.SeverityInfo})
	xerrors.Register(CodeRecordValidation, xerrors.Attributes{Message: "record validation failed", Severity: xerrors.SeverityInfo})
	xerrors.Register(CodeRecordConflict, xerrors.Attributes{Message: "record conflict", Severity: xerrors.SeverityWarning})
}

// UserChanges 是按地址更新用户时可修改的字段，nil 表示不修改。
type UserChanges struct {
	Name  *string
	Email *string
	Role  *Role
}

// RequestChanges 是更新用血申请时写入的字段。FulfilledAt 为 nil 时清空。
type RequestChanges struct {
	Status      RequestStatus
	FulfilledBy *string
	FulfilledAt *time.Time
	UpdatedAt   time.Time
}

// Store 抽象链下记录的持久化。列表查询返回的记录已关联用户。
type Store interface {
	CreateUser(ctx context.Context, user *User) error
	GetUserByAddress(ctx context.Context, address string) (*User, error)
	ListUsers(ctx context.Context) ([]*User, error)
	UpdateUser(ctx context.Context, address string, changes UserChanges, at time.Time) (*User, error)

	CreateDonation(ctx context.Context, donation *Donation) error
	ListDonations(ctx context.Context, filter ListFilter) ([]*Donation, error)
	UpdateDonationStatus(ctx context.Context, id string, status DonationStatus, at time.Time) (*Donation, error)
	DeleteDonation(ctx context.Context, id string) error

	CreateInventoryItem(ctx context.Context, item *InventoryItem) error
	ListInventory(ctx context.Context) ([]*InventoryItem, error)
	UpdateInventoryItem(ctx context.Context, id string, status InventoryStatus, requestID *string, at time.Time) (*InventoryItem, error)
	DeleteExpiredInventory(ctx context.Context, before time.Time) (int64, error)

	CreateRequest(ctx context.Context, request *BloodRequest) error
	ListRequests(ctx context.Context, filter ListFilter) ([]*BloodRequest, error)
	UpdateRequest(ctx context.Context, id string, changes RequestChanges) (*BloodRequest, error)
	DeleteRequest(ctx context.Context, id string) error

	Close() error
}

// SummaryCache 缓存库存汇总。Get 未命中时返回 ok=false。
type SummaryCache interface {
	Get(ctx context.Context) (summary []InventorySummary, ok bool, err error)
	Set(ctx context.Context, summary []InventorySummary) error
	Invalidate(ctx context.Context) error
}
