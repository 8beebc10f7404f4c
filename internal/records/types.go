package records

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ShelfLife 是入库血液单位的有效期。
const ShelfLife = 42 * 24 * time.Hour

// DonationStatus 表示捐献记录的处理状态。
type DonationStatus string

const (
	DonationPending   DonationStatus = "PENDING"
	DonationConfirmed DonationStatus = "CONFIRMED"
	DonationRejected  DonationStatus = "REJECTED"
)

// InventoryStatus 表示库存单位的状态。
type InventoryStatus string

const (
	InventoryAvailable InventoryStatus = "AVAILABLE"
	InventoryReserved  InventoryStatus = "RESERVED"
	InventoryUsed      InventoryStatus = "USED"
	InventoryExpired   InventoryStatus = "EXPIRED"
)

// RequestStatus 表示用血申请的处理状态。
type RequestStatus string

const (
	RequestPending   RequestStatus = "PENDING"
	RequestApproved  RequestStatus = "APPROVED"
	RequestFulfilled RequestStatus = "FULFILLED"
	RequestRejected  RequestStatus = "REJECTED"
)

// Role 表示用户在平台中的身份。
type Role string

const (
	RoleDonor    Role = "DONOR"
	RoleHospital Role = "HOSPITAL"
	RoleAdmin    Role = "ADMIN"
)

// User 以钱包地址唯一标识。
type User struct {
	ID        string    `json:"id"`
	Address   string    `json:"address"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Donation 是一次链上捐献的链下记录。
type Donation struct {
	ID              string         `json:"id"`
	TransactionHash string         `json:"transactionHash"`
	DonorAddress    string         `json:"donorAddress"`
	BloodType       string         `json:"bloodType"`
	Quantity        int            `json:"quantity"`
	DonorName       string         `json:"donorName"`
	Age             int            `json:"age"`
	Contact         string         `json:"contact"`
	Status          DonationStatus `json:"status"`
	Timestamp       time.Time      `json:"timestamp"`
	UpdatedAt       time.Time      `json:"updatedAt"`
	Donor           *User          `json:"donor"`
}

// InventoryItem 是一个入库的血液单位。
type InventoryItem struct {
	ID         string          `json:"id"`
	BloodType  string          `json:"bloodType"`
	Quantity   int             `json:"quantity"`
	DonationID *string         `json:"donationId"`
	RequestID  *string         `json:"requestId"`
	Status     InventoryStatus `json:"status"`
	ExpiryDate time.Time       `json:"expiryDate"`
	CreatedAt  time.Time       `json:"createdAt"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}

// BloodRequest 是一次链上用血申请的链下记录。
type BloodRequest struct {
	ID               string        `json:"id"`
	TransactionHash  string        `json:"transactionHash"`
	RequesterAddress string        `json:"requesterAddress"`
	BloodType        string        `json:"bloodType"`
	Quantity         int           `json:"quantity"`
	RecipientName    string        `json:"recipientName"`
	Age              int           `json:"age"`
	Contact          string        `json:"contact"`
	Hospital         string        `json:"hospital"`
	Reason           string        `json:"reason"`
	Status           RequestStatus `json:"status"`
	Timestamp        time.Time     `json:"timestamp"`
	UpdatedAt        time.Time     `json:"updatedAt"`
	FulfilledBy      *string       `json:"fulfilledBy"`
	FulfilledAt      *time.Time    `json:"fulfilledAt"`
	Requester        *User         `json:"requester"`
}

// InventorySummary 汇总同一血型的全部库存单位。
type InventorySummary struct {
	BloodType string `json:"bloodType"`
	Quantity  int    `json:"quantity"`
	Available int    `json:"available"`
	Reserved  int    `json:"reserved"`
}

// ListFilter 过滤捐献与申请列表，空字段表示不过滤。
type ListFilter struct {
	Address string
	Status  string
}

// Int accepts a JSON number or a numeric string, so form values posted as
// text ("450") are read the same as numbers.
type Int int

// UnmarshalJSON 实现 json.Unmarshaler。
func (i *Int) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*i = 0
		return nil
	}
	text := string(data)
	if len(data) > 0 && data[0] == '"' {
		if err := json.Unmarshal(data, &text); err != nil {
			return err
		}
	}
	text = strings.TrimSpace(text)
	value, err := strconv.Atoi(text)
	if err != nil {
		if f, ferr := strconv.ParseFloat(text, 64); ferr == nil {
			*i = Int(f)
			return nil
		}
		return fmt.Errorf("invalid integer %q", text)
	}
	*i = Int(value)
	return nil
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneUser(u *User) *User {
	if u == nil {
		return nil
	}
	v := *u
	return &v
}

// Clone 返回不共享指针字段的副本。
func (d *Donation) Clone() *Donation {
	if d == nil {
		return nil
	}
	v := *d
	v.Donor = cloneUser(d.Donor)
	return &v
}

// Clone 返回不共享指针字段的副本。
func (it *InventoryItem) Clone() *InventoryItem {
	if it == nil {
		return nil
	}
	v := *it
	v.DonationID = cloneString(it.DonationID)
	v.RequestID = cloneString(it.RequestID)
	return &v
}

// Clone 返回不共享指针字段的副本。
func (r *BloodRequest) Clone() *BloodRequest {
	if r == nil {
		return nil
	}
	v := *r
	v.FulfilledBy = cloneString(r.FulfilledBy)
	v.FulfilledAt = cloneTime(r.FulfilledAt)
	v.Requester = cloneUser(r.Requester)
	return &v
}
