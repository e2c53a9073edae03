package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/verdantlab/verdant-core/internal/auth"
)

const minPasswordLength = 8

type createUserRequest struct {
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email,omitempty"`
	Password    string `json:"password"`
}

type updateUserRequest struct {
	DisplayName *string `json:"display_name,omitempty"`
	Email       *string `json:"email,omitempty"`
	IsActive    *bool   `json:"is_active,omitempty"`
}

type setPasswordRequest struct {
	Password string `json:"password"`
}

// decodeBody parses the request body into dst and reports a 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return false
	}
	return true
}

// loadUser fetches the user named by the {id} route param, writing the
// error response itself when the lookup fails.
func (s *Server) loadUser(w http.ResponseWriter, r *http.Request) *auth.User {
	user, err := s.users.GetByID(r.Context(), chi.URLParam(r, "id"))
	switch {
	case err == nil:
		return user
	case errors.Is(err, auth.ErrUserNotFound):
		writeNotFound(w, "user not found")
	default:
		s.logger.Error("get user failed", "error", err)
		writeInternalError(w, "failed to get user")
	}
	return nil
}

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

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Username == "" || req.Password == "" || req.DisplayName == "" {
		writeBadRequest(w, "username, password, and display_name are required")
		return
	}
	if len(req.Password) < minPasswordLength {
		writeBadRequest(w, "password must be at least 8 characters")
		return
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
		Email:        req.Email,
		PasswordHash: hash,
		IsActive:     true,
	}
	switch err := s.users.Create(r.Context(), user); {
	case err == nil:
	case errors.Is(err, auth.ErrInvalidUsername):
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "invalid username format")
		return
	case errors.Is(err, auth.ErrUsernameExists):
		writeConflict(w, "username already exists")
		return
	default:
		s.logger.Error("create user failed", "error", err)
		writeInternalError(w, "failed to create user")
		return
	}

	s.logger.Info("user created", "user_id", user.ID, "username", user.Username)
	writeJSON(w, http.StatusCreated, user)
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	if user := s.loadUser(w, r); user != nil {
		writeJSON(w, http.StatusOK, user)
	}
}

// handleUpdateUser applies a partial update; absent fields keep their value.
func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	var req updateUserRequest
	if !decodeBody(w, r, &req) {
		return
	}
	user := s.loadUser(w, r)
	if user == nil {
		return
	}

	if req.DisplayName != nil {
		user.DisplayName = *req.DisplayName
	}
	if req.Email != nil {
		user.Email = *req.Email
	}
	if req.IsActive != nil {
		user.IsActive = *req.IsActive
	}

	if err := s.users.Update(r.Context(), user); err != nil {
		s.logger.Error("update user failed", "error", err)
		writeInternalError(w, "failed to update user")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	switch err := s.users.Delete(r.Context(), chi.URLParam(r, "id")); {
	case err == nil:
		writeJSON(w, http.StatusNoContent, nil)
	case errors.Is(err, auth.ErrUserNotFound):
		writeNotFound(w, "user not found")
	default:
		s.logger.Error("delete user failed", "error", err)
		writeInternalError(w, "failed to delete user")
	}
}

func (s *Server) handleSetUserPassword(w http.ResponseWriter, r *http.Request) {
	var req setPasswordRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.Password) < minPasswordLength {
		writeBadRequest(w, "password must be at least 8 characters")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		s.logger.Error("hash password failed", "error", err)
		writeInternalError(w, "failed to set password")
		return
	}

	switch err := s.users.UpdatePassword(r.Context(), chi.URLParam(r, "id"), hash); {
	case err == nil:
		writeJSON(w, http.StatusNoContent, nil)
	case errors.Is(err, auth.ErrUserNotFound):
		writeNotFound(w, "user not found")
	default:
		s.logger.Error("set password failed", "error", err)
		writeInternalError(w, "failed to set password")
	}
}
