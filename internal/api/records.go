package api

import (
	"net/http"

	"BloodBank-Chain/internal/records"
)

// 记录接口的固定失败文案。
const (
	msgCreateDonation  = "Failed to create donation record"
	msgFetchDonations  = "Failed to fetch donations"
	msgUpdateDonation  = "Failed to update donation"
	msgDeleteDonation  = "Failed to delete donation"
	msgFetchInventory  = "Failed to fetch inventory"
	msgAddInventory    = "Failed to update inventory"
	msgUpdateInventory = "Failed to update inventory item"
	msgPurgeInventory  = "Failed to remove expired inventory"
	msgCreateRequest   = "Failed to create blood request"
	msgFetchRequests   = "Failed to fetch blood requests"
	msgUpdateRequest   = "Failed to update blood request"
	msgDeleteRequest   = "Failed to delete blood request"
	msgCreateUser      = "Failed to create user"
	msgFetchUsers      = "Failed to fetch users"
	msgUpdateUser      = "Failed to update user"
)

type deleteResponse struct {
	Success bool `json:"success"`
}

type purgeResponse struct {
	Success      bool  `json:"success"`
	DeletedCount int64 `json:"deletedCount"`
}

// recordFailure 记录真实原因，客户端只看到固定文案。
func (s *Server) recordFailure(w http.ResponseWriter, r *http.Request, message string, err error) {
	s.logger.Error(message,
		"request_id", requestID(r.Context()),
		"method", r.Method,
		"path", r.URL.Path,
		"error", err,
	)
	writeJSON(w, http.StatusInternalServerError, errorResponse{Error: message})
}

func (s *Server) handleCreateDonation(w http.ResponseWriter, r *http.Request) {
	var in records.DonationInput
	if err := decodeJSON(w, r, &in); err != nil {
		s.recordFailure(w, r, msgCreateDonation, err)
		return
	}
	donation, err := s.records.CreateDonation(r.Context(), in)
	if err != nil {
		s.recordFailure(w, r, msgCreateDonation, err)
		return
	}
	writeJSON(w, http.StatusOK, donation)
}

func (s *Server) handleListDonations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	donations, err := s.records.ListDonations(r.Context(), records.ListFilter{
		Address: q.Get("donorAddress"),
		Status:  q.Get("status"),
	})
	if err != nil {
		s.recordFailure(w, r, msgFetchDonations, err)
		return
	}
	writeJSON(w, http.StatusOK, donations)
}

func (s *Server) handleUpdateDonation(w http.ResponseWriter, r *http.Request) {
	var in records.DonationUpdate
	if err := decodeJSON(w, r, &in); err != nil {
		s.recordFailure(w, r, msgUpdateDonation, err)
		return
	}
	donation, err := s.records.UpdateDonation(r.Context(), in)
	if err != nil {
		s.recordFailure(w, r, msgUpdateDonation, err)
		return
	}
	writeJSON(w, http.StatusOK, donation)
}

func (s *Server) handleDeleteDonation(w http.ResponseWriter, r *http.Request) {
	if err := s.records.DeleteDonation(r.Context(), r.URL.Query().Get("id")); err != nil {
		s.recordFailure(w, r, msgDeleteDonation, err)
		return
	}
	writeJSON(w, http.StatusOK, deleteResponse{Success: true})
}

func (s *Server) handleInventorySummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.records.InventorySummary(r.Context())
	if err != nil {
		s.recordFailure(w, r, msgFetchInventory, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleAddInventory(w http.ResponseWriter, r *http.Request) {
	var in records.InventoryInput
	if err := decodeJSON(w, r, &in); err != nil {
		s.recordFailure(w, r, msgAddInventory, err)
		return
	}
	item, err := s.records.AddInventory(r.Context(), in)
	if err != nil {
		s.recordFailure(w, r, msgAddInventory, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *Server) handleUpdateInventory(w http.ResponseWriter, r *http.Request) {
	var in records.InventoryUpdate
	if err := decodeJSON(w, r, &in); err != nil {
		s.recordFailure(w, r, msgUpdateInventory, err)
		return
	}
	item, err := s.records.UpdateInventoryItem(r.Context(), in)
	if err != nil {
		s.recordFailure(w, r, msgUpdateInventory, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *Server) handlePurgeInventory(w http.ResponseWriter, r *http.Request) {
	deleted, err := s.records.PurgeExpired(r.Context())
	if err != nil {
		s.recordFailure(w, r, msgPurgeInventory, err)
		return
	}
	writeJSON(w, http.StatusOK, purgeResponse{Success: true, DeletedCount: deleted})
}

func (s *Server) handleCreateRequest(w http.ResponseWriter, r *http.Request) {
	var in records.RequestInput
	if err := decodeJSON(w, r, &in); err != nil {
		s.recordFailure(w, r, msgCreateRequest, err)
		return
	}
	request, err := s.records.CreateRequest(r.Context(), in)
	if err != nil {
		s.recordFailure(w, r, msgCreateRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, request)
}

func (s *Server) handleListRequests(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	requests, err := s.records.ListRequests(r.Context(), records.ListFilter{
		Address: q.Get("requesterAddress"),
		Status:  q.Get("status"),
	})
	if err != nil {
		s.recordFailure(w, r, msgFetchRequests, err)
		return
	}
	writeJSON(w, http.StatusOK, requests)
}

func (s *Server) handleUpdateRequest(w http.ResponseWriter, r *http.Request) {
	var in records.RequestUpdate
	if err := decodeJSON(w, r, &in); err != nil {
		s.recordFailure(w, r, msgUpdateRequest, err)
		return
	}
	request, err := s.records.UpdateRequest(r.Context(), in)
	if err != nil {
		s.recordFailure(w, r, msgUpdateRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, request)
}

func (s *Server) handleDeleteRequest(w http.ResponseWriter, r *http.Request) {
	if err := s.records.DeleteRequest(r.Context(), r.URL.Query().Get("id")); err != nil {
		s.recordFailure(w, r, msgDeleteRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, deleteResponse{Success: true})
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var in records.UserInput
	if err := decodeJSON(w, r, &in); err != nil {
		s.recordFailure(w, r, msgCreateUser, err)
		return
	}
	user, err := s.records.CreateUser(r.Context(), in)
	if err != nil {
		s.recordFailure(w, r, msgCreateUser, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// handleGetUsers 带 address 参数时返回单个用户或 null，否则返回全部用户。
func (s *Server) handleGetUsers(w http.ResponseWriter, r *http.Request) {
	if address := r.URL.Query().Get("address"); address != "" {
		user, err := s.records.GetUser(r.Context(), address)
		if err != nil {
			s.recordFailure(w, r, msgFetchUsers, err)
			return
		}
		writeJSON(w, http.StatusOK, user)
		return
	}
	users, err := s.records.ListUsers(r.Context())
	if err != nil {
		s.recordFailure(w, r, msgFetchUsers, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	var in records.UserUpdate
	if err := decodeJSON(w, r, &in); err != nil {
		s.recordFailure(w, r, msgUpdateUser, err)
		return
	}
	user, err := s.records.UpdateUser(r.Context(), in)
	if err != nil {
		s.recordFailure(w, r, msgUpdateUser, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}
