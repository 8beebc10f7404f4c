package records

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	xerrors "BloodBank-Chain/internal/errors"
	"BloodBank-Chain/pkg/logger"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// UserInput 创建或按地址更新用户。
type UserInput struct {
	Address string `json:"address" validate:"required,eth_addr"`
	Name    string `json:"name" validate:"required"`
	Email   string `json:"email" validate:"omitempty,email"`
	Role    Role   `json:"role" validate:"omitempty,oneof=DONOR HOSPITAL ADMIN"`
}

// UserUpdate 是 PUT /api/users 的请求体。缺省的字段保持原值。
type UserUpdate struct {
	Address string  `json:"address" validate:"required,eth_addr"`
	Name    *string `json:"name" validate:"omitnil,min=1"`
	Email   *string `json:"email" validate:"omitnil,email"`
	Role    *Role   `json:"role" validate:"omitnil,oneof=DONOR HOSPITAL ADMIN"`
}

// DonationInput 登记一次已提交上链的捐献。
type DonationInput struct {
	TransactionHash string `json:"transactionHash"`
	DonorAddress    string `json:"donorAddress" validate:"required,eth_addr"`
	BloodType       string `json:"bloodType" validate:"required,oneof=A+ A- B+ B- AB+ AB- O+ O-"`
	Quantity        Int    `json:"quantity" validate:"gt=0"`
	DonorName       string `json:"donorName" validate:"required"`
	Age             Int    `json:"age" validate:"gte=0"`
	Contact         string `json:"contact"`
}

// DonationUpdate 修改捐献记录状态。
type DonationUpdate struct {
	ID     string         `json:"id" validate:"required"`
	Status DonationStatus `json:"status" validate:"required,oneof=PENDING CONFIRMED REJECTED"`
}

// InventoryInput 入库一个血液单位。
type InventoryInput struct {
	BloodType  string  `json:"bloodType" validate:"required,oneof=A+ A- B+ B- AB+ AB- O+ O-"`
	Quantity   Int     `json:"quantity" validate:"gt=0"`
	DonationID *string `json:"donationId"`
}

// InventoryUpdate 修改库存单位状态，并可关联用血申请。
type InventoryUpdate struct {
	ID        string          `json:"id" validate:"required"`
	Status    InventoryStatus `json:"status" validate:"required,oneof=AVAILABLE RESERVED USED EXPIRED"`
	RequestID *string         `json:"requestId"`
}

// RequestInput 登记一次已提交上链的用血申请。
type RequestInput struct {
	TransactionHash  string `json:"transactionHash"`
	RequesterAddress string `json:"requesterAddress" validate:"required,eth_addr"`
	BloodType        string `json:"bloodType" validate:"required,oneof=A+ A- B+ B- AB+ AB- O+ O-"`
	Quantity         Int    `json:"quantity" validate:"gt=0"`
	RecipientName    string `json:"recipientName" validate:"required"`
	Age              Int    `json:"age" validate:"gte=0,lte=120"`
	Contact          string `json:"contact"`
	Hospital         string `json:"hospital" validate:"required"`
	Reason           string `json:"reason" validate:"required"`
}

// RequestUpdate 修改用血申请状态。
type RequestUpdate struct {
	ID          string        `json:"id" validate:"required"`
	Status      RequestStatus `json:"status" validate:"required,oneof=PENDING APPROVED FULFILLED REJECTED"`
	FulfilledBy *string       `json:"fulfilledBy"`
}

// Service 负责链下记录的默认值、校验与库存汇总。
type Service struct {
	store  Store
	cache  SummaryCache
	now    func() time.Time
	logger *slog.Logger
}

// Option 定义 Service 的可选配置。
type Option func(*Service)

// WithSummaryCache 为库存汇总启用缓存。
func WithSummaryCache(cache SummaryCache) Option {
	return func(s *Service) { s.cache = cache }
}

// WithClock 替换时间来源。
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger 指定日志记录器。
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewService 构造记录服务。
func NewService(store Store, opts ...Option) *Service {
	s := &Service{store: store, now: time.Now, logger: logger.Named("records")}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Close 释放底层存储。
func (s *Service) Close() error {
	if s == nil || s.store == nil {
		return nil
	}
	return s.store.Close()
}

func (s *Service) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Millisecond)
}

func (s *Service) ready() error {
	if s == nil || s.store == nil {
		return xerrors.New(xerrors.CodeUnavailable, "记录存储未初始化")
	}
	return nil
}

func invalid(err error) error {
	var verrs validator.ValidationErrors
	if stdErrors.As(err, &verrs) && len(verrs) > 0 {
		return xerrors.Wrap(CodeRecordValidation, err, "", xerrors.WithField(verrs[0].Field()))
	}
	return xerrors.Wrap(CodeRecordValidation, err, "")
}

// CreateUser 创建用户，未指定角色时默认为 DONOR。
func (s *Service) CreateUser(ctx context.Context, in UserInput) (*User, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if err := validate.Struct(in); err != nil {
		return nil, invalid(err)
	}
	now := s.timestamp()
	user := &User{
		ID:        uuid.NewString(),
		Address:   strings.TrimSpace(in.Address),
		Name:      in.Name,
		Email:     in.Email,
		Role:      in.Role,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if user.Role == "" {
		user.Role = RoleDonor
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// GetUser 返回地址对应的用户，不存在时返回 nil, nil。
func (s *Service) GetUser(ctx context.Context, address string) (*User, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	user, err := s.store.GetUserByAddress(ctx, address)
	if stdErrors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return user, err
}

// ListUsers 返回全部用户。
func (s *Service) ListUsers(ctx context.Context) ([]*User, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	return s.store.ListUsers(ctx)
}

// UpdateUser 按地址更新用户资料，只写入请求中出现的字段。
func (s *Service) UpdateUser(ctx context.Context, in UserUpdate) (*User, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if err := validate.Struct(in); err != nil {
		return nil, invalid(err)
	}
	changes := UserChanges{Name: in.Name, Email: in.Email, Role: in.Role}
	return s.store.UpdateUser(ctx, strings.TrimSpace(in.Address), changes, s.timestamp())
}

// CreateDonation 登记捐献，状态为 PENDING，时间为当前时间。
func (s *Service) CreateDonation(ctx context.Context, in DonationInput) (*Donation, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if err := validate.Struct(in); err != nil {
		return nil, invalid(err)
	}
	now := s.timestamp()
	donation := &Donation{
		ID:              uuid.NewString(),
		TransactionHash: in.TransactionHash,
		DonorAddress:    strings.TrimSpace(in.DonorAddress),
		BloodType:       in.BloodType,
		Quantity:        int(in.Quantity),
		DonorName:       in.DonorName,
		Age:             int(in.Age),
		Contact:         in.Contact,
		Status:          DonationPending,
		Timestamp:       now,
		UpdatedAt:       now,
	}
	if err := s.store.CreateDonation(ctx, donation); err != nil {
		return nil, err
	}
	logger.Audit().Info("donation recorded", "id", donation.ID, "donor", donation.DonorAddress, "tx", donation.TransactionHash)
	return donation, nil
}

// ListDonations 按时间倒序列出捐献记录。
func (s *Service) ListDonations(ctx context.Context, filter ListFilter) ([]*Donation, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	return s.store.ListDonations(ctx, filter)
}

// UpdateDonation 修改捐献状态。
func (s *Service) UpdateDonation(ctx context.Context, in DonationUpdate) (*Donation, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if err := validate.Struct(in); err != nil {
		return nil, invalid(err)
	}
	return s.store.UpdateDonationStatus(ctx, in.ID, in.Status, s.timestamp())
}

// DeleteDonation 删除捐献记录。
func (s *Service) DeleteDonation(ctx context.Context, id string) error {
	if err := s.ready(); err != nil {
		return err
	}
	if strings.TrimSpace(id) == "" {
		return xerrors.New(CodeRecordValidation, "id 不能为空")
	}
	return s.store.DeleteDonation(ctx, id)
}

// AddInventory 入库一个单位，状态 AVAILABLE，有效期 42 天。
func (s *Service) AddInventory(ctx context.Context, in InventoryInput) (*InventoryItem, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if err := validate.Struct(in); err != nil {
		return nil, invalid(err)
	}
	now := s.timestamp()
	item := &InventoryItem{
		ID:         uuid.NewString(),
		BloodType:  in.BloodType,
		Quantity:   int(in.Quantity),
		DonationID: cloneString(in.DonationID),
		Status:     InventoryAvailable,
		ExpiryDate: now.Add(ShelfLife),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.store.CreateInventoryItem(ctx, item); err != nil {
		return nil, err
	}
	s.InvalidateSummary(ctx)
	return item, nil
}

// UpdateInventoryItem 修改库存单位状态与关联申请。
func (s *Service) UpdateInventoryItem(ctx context.Context, in InventoryUpdate) (*InventoryItem, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if err := validate.Struct(in); err != nil {
		return nil, invalid(err)
	}
	item, err := s.store.UpdateInventoryItem(ctx, in.ID, in.Status, in.RequestID, s.timestamp())
	if err != nil {
		return nil, err
	}
	s.InvalidateSummary(ctx)
	return item, nil
}

// PurgeExpired 删除已过期的库存单位并返回删除数量。
func (s *Service) PurgeExpired(ctx context.Context) (int64, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	deleted, err := s.store.DeleteExpiredInventory(ctx, s.timestamp())
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		s.InvalidateSummary(ctx)
		logger.Audit().Info("expired inventory purged", "count", deleted)
	}
	return deleted, nil
}

// InventorySummary 返回按血型汇总的库存，优先读取缓存。
func (s *Service) InventorySummary(ctx context.Context) ([]InventorySummary, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if s.cache != nil {
		summary, ok, err := s.cache.Get(ctx)
		switch {
		case err != nil:
			s.logger.Warn("读取库存汇总缓存失败", "error", err)
		case ok:
			return summary, nil
		}
	}
	items, err := s.store.ListInventory(ctx)
	if err != nil {
		return nil, err
	}
	summary := Summarize(items)
	if s.cache != nil {
		if err := s.cache.Set(ctx, summary); err != nil {
			s.logger.Warn("写入库存汇总缓存失败", "error", err)
		}
	}
	return summary, nil
}

// InvalidateSummary 丢弃缓存的库存汇总。失败只记录日志。
func (s *Service) InvalidateSummary(ctx context.Context) {
	if s == nil || s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx); err != nil {
		s.logger.Warn("清除库存汇总缓存失败", "error", err)
	}
}

// Summarize 按血型分组累加数量，available 与 reserved 分别统计对应状态。
func Summarize(items []*InventoryItem) []InventorySummary {
	grouped := make(map[string]*InventorySummary)
	for _, item := range items {
		if item == nil {
			continue
		}
		group, ok := grouped[item.BloodType]
		if !ok {
			group = &InventorySummary{BloodType: item.BloodType}
			grouped[item.BloodType] = group
		}
		group.Quantity += item.Quantity
		switch item.Status {
		case InventoryAvailable:
			group.Available += item.Quantity
		case InventoryReserved:
			group.Reserved += item.Quantity
		}
	}
	out := make([]InventorySummary, 0, len(grouped))
	for _, group := range grouped {
		out = append(out, *group)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BloodType < out[j].BloodType })
	return out
}

// CreateRequest 登记用血申请，状态为 PENDING。
func (s *Service) CreateRequest(ctx context.Context, in RequestInput) (*BloodRequest, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if err := validate.Struct(in); err != nil {
		return nil, invalid(err)
	}
	now := s.timestamp()
	request := &BloodRequest{
		ID:               uuid.NewString(),
		TransactionHash:  in.TransactionHash,
		RequesterAddress: strings.TrimSpace(in.RequesterAddress),
		BloodType:        in.BloodType,
		Quantity:         int(in.Quantity),
		RecipientName:    in.RecipientName,
		Age:              int(in.Age),
		Contact:          in.Contact,
		Hospital:         in.Hospital,
		Reason:           in.Reason,
		Status:           RequestPending,
		Timestamp:        now,
		UpdatedAt:        now,
	}
	if err := s.store.CreateRequest(ctx, request); err != nil {
		return nil, err
	}
	logger.Audit().Info("blood request recorded", "id", request.ID, "requester", request.RequesterAddress, "tx", request.TransactionHash)
	return request, nil
}

// ListRequests 按时间倒序列出用血申请。
func (s *Service) ListRequests(ctx context.Context, filter ListFilter) ([]*BloodRequest, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	return s.store.ListRequests(ctx, filter)
}

// UpdateRequest 修改申请状态。fulfilledAt 仅在 FULFILLED 时写入，否则清空。
func (s *Service) UpdateRequest(ctx context.Context, in RequestUpdate) (*BloodRequest, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if err := validate.Struct(in); err != nil {
		return nil, invalid(err)
	}
	now := s.timestamp()
	changes := RequestChanges{
		Status:      in.Status,
		FulfilledBy: cloneString(in.FulfilledBy),
		UpdatedAt:   now,
	}
	if in.Status == RequestFulfilled {
		changes.FulfilledAt = &now
	}
	return s.store.UpdateRequest(ctx, in.ID, changes)
}

// DeleteRequest 删除用血申请。
func (s *Service) DeleteRequest(ctx context.Context, id string) error {
	if err := s.ready(); err != nil {
		return err
	}
	if strings.TrimSpace(id) == "" {
		return xerrors.New(CodeRecordValidation, "id 不能为空")
	}
	return s.store.DeleteRequest(ctx, id)
}
