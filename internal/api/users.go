package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Kenox00/door-lock-sub001/internal/auth"
)

// minPasswordLength is the shortest accepted account password.
const minPasswordLength = 8

type createUserRequest struct {
	Username    string    `json:"username"`
	DisplayName string    `json:"display_name"`
	Password    string    `json:"password"`
	Role        auth.Role `json:"role"`
}

type updateUserRequest struct {
	Password *string `json:"password,omitempty"`
	IsActive *bool   `json:"is_active,omitempty"`
}

// handleListUsers returns all accounts.
func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.users.List(r.Context())
	if err != nil {
		s.logger.Error("list users failed", "error", err)
		writeInternalError(w, "failed to list users")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"users": users,
		"count": len(users),
	})
}

// handleCreateUser creates an account. Role defaults to "user" (lock owner).
func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())

	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if req.Username == "" || req.Password == "" {
		writeBadRequest(w, "username and password are required")
		return
	}
	if !auth.IsValidUsername(req.Username) {
		writeBadRequest(w, "username may contain only letters, digits, '.', '_' and '-'")
		return
	}
	if len(req.Password) < minPasswordLength {
		writeBadRequest(w, "password must be at least 8 characters")
		return
	}
	if req.Role == "" {
		req.Role = auth.RoleUser
	}
	if !auth.IsValidRole(req.Role) {
		writeBadRequest(w, "invalid role: must be user, operator, or admin")
		return
	}
	if req.DisplayName == "" {
		req.DisplayName = req.Username
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		s.logger.Error("hash password failed", "error", err)
		writeInternalError(w, "failed to create user")
		return
	}

	user := &auth.User{
		Username:     req.Username,
		DisplayName:  req.DisplayName,
		PasswordHash: hash,
		Role:         req.Role,
		IsActive:     true,
	}
	if err := s.users.Create(r.Context(), user); err != nil {
		if errors.Is(err, auth.ErrUsernameExists) {
			writeConflict(w, "username already exists")
			return
		}
		s.logger.Error("create user failed", "error", err)
		writeInternalError(w, "failed to create user")
		return
	}

	s.logger.Info("user created", "user_id", user.ID, "username", user.Username, "role", user.Role, "created_by", claims.Subject)
	s.auditLog("user_created", "", "", claims.Subject, map[string]any{
		"target_user_id": user.ID,
		"username":       user.Username,
		"role":           user.Role,
	})

	writeJSON(w, http.StatusCreated, user)
}

// handleGetUser returns a single account by ID.
func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	user, err := s.users.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			writeNotFound(w, "user not found")
			return
		}
		s.logger.Error("get user failed", "error", err)
		writeInternalError(w, "failed to get user")
		return
	}

	writeJSON(w, http.StatusOK, user)
}

// handleUpdateUser resets a password or (de)activates an account.
func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	claims := claimsFromContext(r.Context())

	var req updateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Password == nil && req.IsActive == nil {
		writeBadRequest(w, "nothing to update")
		return
	}

	// Self-protection: cannot deactivate yourself
	if req.IsActive != nil && !*req.IsActive && id == claims.Subject {
		writeForbidden(w, "cannot deactivate your own account")
		return
	}
	if req.Password != nil && len(*req.Password) < minPasswordLength {
		writeBadRequest(w, "password must be at least 8 characters")
		return
	}

	if _, err := s.users.GetByID(r.Context(), id); err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			writeNotFound(w, "user not found")
			return
		}
		s.logger.Error("get user for update failed", "error", err)
		writeInternalError(w, "failed to update user")
		return
	}

	if req.Password != nil {
		hash, err := auth.HashPassword(*req.Password)
		if err != nil {
			s.logger.Error("hash password failed", "error", err)
			writeInternalError(w, "failed to update user")
			return
		}
		if err := s.users.UpdatePassword(r.Context(), id, hash); err != nil {
			s.logger.Error("update password failed", "error", err)
			writeInternalError(w, "failed to update user")
			return
		}
	}
	if req.IsActive != nil {
		if err := s.users.SetActive(r.Context(), id, *req.IsActive); err != nil {
			s.logger.Error("set active failed", "error", err)
			writeInternalError(w, "failed to update user")
			return
		}
	}

	details := map[string]any{"target_user_id": id, "password_reset": req.Password != nil}
	if req.IsActive != nil {
		details["is_active"] = *req.IsActive
	}
	s.auditLog("user_updated", "", "", claims.Subject, details)

	user, err := s.users.GetByID(r.Context(), id)
	if err != nil {
		s.logger.Error("reload user failed", "error", err)
		writeInternalError(w, "failed to load user")
		return
	}
	writeJSON(w, http.StatusOK, user)
}
