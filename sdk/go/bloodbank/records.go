package bloodbank

import (
	"context"
	"net/http"
	"net/url"
	"time"
)

// User is an off-chain user profile.
type User struct {
	ID        string    `json:"id"`
	Address   string    `json:"address"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// UserInput creates a user or updates the user with the same address.
type UserInput struct {
	Address string `json:"address"`
	Name    string `json:"name"`
	Email   string `json:"email,omitempty"`
	Role    string `json:"role,omitempty"`
}

// UserUpdate changes a user's profile. Nil fields are left unchanged.
type UserUpdate struct {
	Address string  `json:"address"`
	Name    *string `json:"name,omitempty"`
	Email   *string `json:"email,omitempty"`
	Role    *string `json:"role,omitempty"`
}

// Donation is an off-chain donation record.
type Donation struct {
	ID              string    `json:"id"`
	TransactionHash string    `json:"transactionHash"`
	DonorAddress    string    `json:"donorAddress"`
	BloodType       string    `json:"bloodType"`
	Quantity        int       `json:"quantity"`
	DonorName       string    `json:"donorName"`
	Age             int       `json:"age"`
	Contact         string    `json:"contact"`
	Status          string    `json:"status"`
	Timestamp       time.Time `json:"timestamp"`
	UpdatedAt       time.Time `json:"updatedAt"`
	Donor           *User     `json:"donor"`
}

// DonationInput registers a donation that was submitted on chain.
type DonationInput struct {
	TransactionHash string `json:"transactionHash"`
	DonorAddress    string `json:"donorAddress"`
	BloodType       string `json:"bloodType"`
	Quantity        int    `json:"quantity"`
	DonorName       string `json:"donorName"`
	Age             int    `json:"age"`
	Contact         string `json:"contact"`
}

// InventoryItem is one stored blood unit.
type InventoryItem struct {
	ID         string    `json:"id"`
	BloodType  string    `json:"bloodType"`
	Quantity   int       `json:"quantity"`
	DonationID *string   `json:"donationId"`
	RequestID  *string   `json:"requestId"`
	Status     string    `json:"status"`
	ExpiryDate time.Time `json:"expiryDate"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// InventoryInput adds a unit to the inventory.
type InventoryInput struct {
	BloodType  string  `json:"bloodType"`
	Quantity   int     `json:"quantity"`
	DonationID *string `json:"donationId,omitempty"`
}

// InventorySummary is the stock of one blood type.
type InventorySummary struct {
	BloodType string `json:"bloodType"`
	Quantity  int    `json:"quantity"`
	Available int    `json:"available"`
	Reserved  int    `json:"reserved"`
}

// BloodRequest is an off-chain blood request record.
type BloodRequest struct {
	ID               string     `json:"id"`
	TransactionHash  string     `json:"transactionHash"`
	RequesterAddress string     `json:"requesterAddress"`
	BloodType        string     `json:"bloodType"`
	Quantity         int        `json:"quantity"`
	RecipientName    string     `json:"recipientName"`
	Age              int        `json:"age"`
	Contact          string     `json:"contact"`
	Hospital         string     `json:"hospital"`
	Reason           string     `json:"reason"`
	Status           string     `json:"status"`
	FulfilledBy      *string    `json:"fulfilledBy"`
	FulfilledAt      *time.Time `json:"fulfilledAt"`
	Timestamp        time.Time  `json:"timestamp"`
	UpdatedAt        time.Time  `json:"updatedAt"`
	Requester        *User      `json:"requester"`
}

// RequestInput registers a blood request that was submitted on chain.
type RequestInput struct {
	TransactionHash  string `json:"transactionHash"`
	RequesterAddress string `json:"requesterAddress"`
	BloodType        string `json:"bloodType"`
	Quantity         int    `json:"quantity"`
	RecipientName    string `json:"recipientName"`
	Age              int    `json:"age"`
	Contact          string `json:"contact"`
	Hospital         string `json:"hospital"`
	Reason           string `json:"reason"`
}

// Filter narrows donation and request listings. Empty fields match all.
type Filter struct {
	Address string
	Status  string
}

func (f Filter) values(addressKey string) url.Values {
	q := url.Values{}
	if f.Address != "" {
		q.Set(addressKey, f.Address)
	}
	if f.Status != "" {
		q.Set("status", f.Status)
	}
	return q
}

type statusUpdate struct {
	ID          string  `json:"id"`
	Status      string  `json:"status"`
	RequestID   *string `json:"requestId,omitempty"`
	FulfilledBy *string `json:"fulfilledBy,omitempty"`
}

type purgeResult struct {
	Success      bool  `json:"success"`
	DeletedCount int64 `json:"deletedCount"`
}

func idQuery(id string) url.Values { return url.Values{"id": []string{id}} }

// CreateDonation stores a PENDING donation record.
func (c *Client) CreateDonation(ctx context.Context, in DonationInput) (Donation, error) {
	var out Donation
	err := c.send(ctx, http.MethodPost, "/api/donations", nil, in, &out)
	return out, err
}

// ListDonations returns donations, newest first.
func (c *Client) ListDonations(ctx context.Context, filter Filter) ([]Donation, error) {
	var out []Donation
	err := c.send(ctx, http.MethodGet, "/api/donations", filter.values("donorAddress"), nil, &out)
	return out, err
}

// UpdateDonation changes the status of a donation.
func (c *Client) UpdateDonation(ctx context.Context, id, status string) (Donation, error) {
	var out Donation
	err := c.send(ctx, http.MethodPut, "/api/donations", nil, statusUpdate{ID: id, Status: status}, &out)
	return out, err
}

// DeleteDonation removes a donation record.
func (c *Client) DeleteDonation(ctx context.Context, id string) error {
	return c.send(ctx, http.MethodDelete, "/api/donations", idQuery(id), nil, nil)
}

// InventorySummary returns the stock grouped by blood type.
func (c *Client) InventorySummary(ctx context.Context) ([]InventorySummary, error) {
	var out []InventorySummary
	err := c.send(ctx, http.MethodGet, "/api/inventory", nil, nil, &out)
	return out, err
}

// AddInventory stores an AVAILABLE unit that expires after the shelf life.
func (c *Client) AddInventory(ctx context.Context, in InventoryInput) (InventoryItem, error) {
	var out InventoryItem
	err := c.send(ctx, http.MethodPost, "/api/inventory", nil, in, &out)
	return out, err
}

// UpdateInventoryItem changes a unit's status and its linked request.
func (c *Client) UpdateInventoryItem(ctx context.Context, id, status string, requestID *string) (InventoryItem, error) {
	var out InventoryItem
	err := c.send(ctx, http.MethodPut, "/api/inventory", nil, statusUpdate{ID: id, Status: status, RequestID: requestID}, &out)
	return out, err
}

// PurgeExpired deletes expired units and returns how many were removed.
func (c *Client) PurgeExpired(ctx context.Context) (int64, error) {
	var out purgeResult
	if err := c.send(ctx, http.MethodDelete, "/api/inventory", nil, nil, &out); err != nil {
		return 0, err
	}
	return out.DeletedCount, nil
}

// CreateRequest stores a PENDING blood request record.
func (c *Client) CreateRequest(ctx context.Context, in RequestInput) (BloodRequest, error) {
	var out BloodRequest
	err := c.send(ctx, http.MethodPost, "/api/requests", nil, in, &out)
	return out, err
}

// ListRequests returns blood requests, newest first.
func (c *Client) ListRequests(ctx context.Context, filter Filter) ([]BloodRequest, error) {
	var out []BloodRequest
	err := c.send(ctx, http.MethodGet, "/api/requests", filter.values("requesterAddress"), nil, &out)
	return out, err
}

// UpdateRequest changes a request's status. fulfilledBy may be nil.
func (c *Client) UpdateRequest(ctx context.Context, id, status string, fulfilledBy *string) (BloodRequest, error) {
	var out BloodRequest
	err := c.send(ctx, http.MethodPut, "/api/requests", nil, statusUpdate{ID: id, Status: status, FulfilledBy: fulfilledBy}, &out)
	return out, err
}

// DeleteRequest removes a blood request record.
func (c *Client) DeleteRequest(ctx context.Context, id string) error {
	return c.send(ctx, http.MethodDelete, "/api/requests", idQuery(id), nil, nil)
}

// CreateUser stores a user profile.
func (c *Client) CreateUser(ctx context.Context, in UserInput) (User, error) {
	var out User
	err := c.send(ctx, http.MethodPost, "/api/users", nil, in, &out)
	return out, err
}

// GetUser returns the user with address, or nil when there is none.
func (c *Client) GetUser(ctx context.Context, address string) (*User, error) {
	var out *User
	err := c.send(ctx, http.MethodGet, "/api/users", url.Values{"address": []string{address}}, nil, &out)
	return out, err
}

// ListUsers returns every user.
func (c *Client) ListUsers(ctx context.Context) ([]User, error) {
	var out []User
	err := c.send(ctx, http.MethodGet, "/api/users", nil, nil, &out)
	return out, err
}

// UpdateUser updates the fields set in in for the user with in.Address.
func (c *Client) UpdateUser(ctx context.Context, in UserUpdate) (User, error) {
	var out User
	err := c.send(ctx, http.MethodPut, "/api/users", nil, in, &out)
	return out, err
}
