package records

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	xerrors "BloodBank-Chain/internal/errors"
)

// MemoryStore 以内存方式保存链下记录，适合开发与测试。
type MemoryStore struct {
	mu        sync.RWMutex
	seq       uint64
	users     map[string]*User // keyed by lower-case address
	donations map[string]*entry[Donation]
	inventory map[string]*entry[InventoryItem]
	requests  map[string]*entry[BloodRequest]
}

// entry remembers insertion order so equal timestamps list newest first.
type entry[T any] struct {
	seq   uint64
	value *T
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:     make(map[string]*User),
		donations: make(map[string]*entry[Donation]),
		inventory: make(map[string]*entry[InventoryItem]),
		requests:  make(map[string]*entry[BloodRequest]),
	}
}

func addressKey(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

func (m *MemoryStore) next() uint64 {
	m.seq++
	return m.seq
}

// CreateUser 实现 Store 接口。
func (m *MemoryStore) CreateUser(_ context.Context, user *User) error {
	if user == nil || user.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "用户 ID 不能为空")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := addressKey(user.Address)
	if _, ok := m.users[key]; ok {
		return ErrConflict
	}
	m.users[key] = cloneUser(user)
	return nil
}

// GetUserByAddress 实现 Store 接口。
func (m *MemoryStore) GetUserByAddress(_ context.Context, address string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	user, ok := m.users[addressKey(address)]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneUser(user), nil
}

// ListUsers 按创建时间返回全部用户。
func (m *MemoryStore) ListUsers(_ context.Context) ([]*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	users := make([]*User, 0, len(m.users))
	for _, user := range m.users {
		users = append(users, cloneUser(user))
	}
	sort.SliceStable(users, func(i, j int) bool {
		if users[i].CreatedAt.Equal(users[j].CreatedAt) {
			return users[i].Address < users[j].Address
		}
		return users[i].CreatedAt.Before(users[j].CreatedAt)
	})
	return users, nil
}

// UpdateUser 实现 Store 接口。
func (m *MemoryStore) UpdateUser(_ context.Context, address string, changes UserChanges, at time.Time) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[addressKey(address)]
	if !ok {
		return nil, ErrNotFound
	}
	if changes.Name != nil {
		user.Name = *changes.Name
	}
	if changes.Email != nil {
		user.Email = *changes.Email
	}
	if changes.Role != nil {
		user.Role = *changes.Role
	}
	user.UpdatedAt = at
	return cloneUser(user), nil
}

// CreateDonation 实现 Store 接口。
func (m *MemoryStore) CreateDonation(_ context.Context, donation *Donation) error {
	if donation == nil || donation.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "捐献记录 ID 不能为空")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.donations[donation.ID]; ok {
		return ErrConflict
	}
	stored := donation.Clone()
	stored.Donor = nil
	m.donations[donation.ID] = &entry[Donation]{seq: m.next(), value: stored}
	return nil
}

// ListDonations 按时间倒序返回捐献记录，并关联捐献者。
func (m *MemoryStore) ListDonations(_ context.Context, filter ListFilter) ([]*Donation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	matched := make([]*entry[Donation], 0, len(m.donations))
	for _, e := range m.donations {
		if filter.Address != "" && e.value.DonorAddress != filter.Address {
			continue
		}
		if filter.Status != "" && string(e.value.Status) != filter.Status {
			continue
		}
		matched = append(matched, e)
	}
	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if a.value.Timestamp.Equal(b.value.Timestamp) {
			return a.seq > b.seq
		}
		return a.value.Timestamp.After(b.value.Timestamp)
	})
	out := make([]*Donation, 0, len(matched))
	for _, e := range matched {
		d := e.value.Clone()
		d.Donor = cloneUser(m.users[addressKey(d.DonorAddress)])
		out = append(out, d)
	}
	return out, nil
}

// UpdateDonationStatus 实现 Store 接口。
func (m *MemoryStore) UpdateDonationStatus(_ context.Context, id string, status DonationStatus, at time.Time) (*Donation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.donations[id]
	if !ok {
		return nil, ErrNotFound
	}
	e.value.Status = status
	e.value.UpdatedAt = at
	return e.value.Clone(), nil
}

// DeleteDonation 实现 Store 接口。
func (m *MemoryStore) DeleteDonation(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.donations[id]; !ok {
		return ErrNotFound
	}
	delete(m.donations, id)
	return nil
}

// CreateInventoryItem 实现 Store 接口。
func (m *MemoryStore) CreateInventoryItem(_ context.Context, item *InventoryItem) error {
	if item == nil || item.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "库存记录 ID 不能为空")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.inventory[item.ID]; ok {
		return ErrConflict
	}
	m.inventory[item.ID] = &entry[InventoryItem]{seq: m.next(), value: item.Clone()}
	return nil
}

// ListInventory 按血型升序返回全部库存单位。
func (m *MemoryStore) ListInventory(_ context.Context) ([]*InventoryItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entries := make([]*entry[InventoryItem], 0, len(m.inventory))
	for _, e := range m.inventory {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].value.BloodType == entries[j].value.BloodType {
			return entries[i].seq < entries[j].seq
		}
		return entries[i].value.BloodType < entries[j].value.BloodType
	})
	out := make([]*InventoryItem, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.value.Clone())
	}
	return out, nil
}

// UpdateInventoryItem 实现 Store 接口。
func (m *MemoryStore) UpdateInventoryItem(_ context.Context, id string, status InventoryStatus, requestID *string, at time.Time) (*InventoryItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.inventory[id]
	if !ok {
		return nil, ErrNotFound
	}
	e.value.Status = status
	e.value.RequestID = cloneString(requestID)
	e.value.UpdatedAt = at
	return e.value.Clone(), nil
}

// DeleteExpiredInventory 删除过期时间早于 before 的库存单位。
func (m *MemoryStore) DeleteExpiredInventory(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var deleted int64
	for id, e := range m.inventory {
		if e.value.ExpiryDate.Before(before) {
			delete(m.inventory, id)
			deleted++
		}
	}
	return deleted, nil
}

// CreateRequest 实现 Store 接口。
func (m *MemoryStore) CreateRequest(_ context.Context, request *BloodRequest) error {
	if request == nil || request.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "用血申请 ID 不能为空")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.requests[request.ID]; ok {
		return ErrConflict
	}
	stored := request.Clone()
	stored.Requester = nil
	m.requests[request.ID] = &entry[BloodRequest]{seq: m.next(), value: stored}
	return nil
}

// ListRequests 按时间倒序返回用血申请，并关联申请人。
func (m *MemoryStore) ListRequests(_ context.Context, filter ListFilter) ([]*BloodRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	matched := make([]*entry[BloodRequest], 0, len(m.requests))
	for _, e := range m.requests {
		if filter.Address != "" && e.value.RequesterAddress != filter.Address {
			continue
		}
		if filter.Status != "" && string(e.value.Status) != filter.Status {
			continue
		}
		matched = append(matched, e)
	}
	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if a.value.Timestamp.Equal(b.value.Timestamp) {
			return a.seq > b.seq
		}
		return a.value.Timestamp.After(b.value.Timestamp)
	})
	out := make([]*BloodRequest, 0, len(matched))
	for _, e := range matched {
		r := e.value.Clone()
		r.Requester = cloneUser(m.users[addressKey(r.RequesterAddress)])
		out = append(out, r)
	}
	return out, nil
}

// UpdateRequest 实现 Store 接口。
func (m *MemoryStore) UpdateRequest(_ context.Context, id string, changes RequestChanges) (*BloodRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	e.value.Status = changes.Status
	e.value.FulfilledBy = cloneString(changes.FulfilledBy)
	e.value.FulfilledAt = cloneTime(changes.FulfilledAt)
	e.value.UpdatedAt = changes.UpdatedAt
	return e.value.Clone(), nil
}

// DeleteRequest 实现 Store 接口。
func (m *MemoryStore) DeleteRequest(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.requests[id]; !ok {
		return ErrNotFound
	}
	delete(m.requests, id)
	return nil
}

// Close 实现 Store 接口。
func (m *MemoryStore) Close() error { return nil }

var _ Store = (*MemoryStore)(nil)
