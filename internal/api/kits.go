package api

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"

	"github.com/verdantlab/verdant-core/internal/auth"
	"github.com/verdantlab/verdant-core/internal/kit"
)

// ─── Request/Response Types ────────────────────────────────────────

type createKitRequest struct {
	Serial          string   `json:"serial"`
	Name            string   `json:"name"`
	Description     string   `json:"description,omitempty"`
	Latitude        *float64 `json:"latitude,omitempty"`
	Longitude       *float64 `json:"longitude,omitempty"`
	PublicDashboard bool     `json:"privacy_public_dashboard"`
	ShowOnMap       bool     `json:"privacy_show_on_map"`
}

// createKitResponse carries the device secret exactly once: it is stored
// hashed and cannot be retrieved afterwards.
type createKitResponse struct {
	*kit.Kit
	Secret string `json:"secret"`
}

type updateKitRequest struct {
	Name            *string  `json:"name,omitempty"`
	Description     *string  `json:"description,omitempty"`
	Latitude        *float64 `json:"latitude,omitempty"`
	Longitude       *float64 `json:"longitude,omitempty"`
	PublicDashboard *bool    `json:"privacy_public_dashboard,omitempty"`
	ShowOnMap       *bool    `json:"privacy_show_on_map,omitempty"`
}

type addMemberRequest struct {
	UserID string `json:"user_id"`
}

type addPeripheralRequest struct {
	DefinitionID string `json:"definition_id"`
	Name         string `json:"name"`
}

// ─── Kit Handlers ──────────────────────────────────────────────────

// handleListKits returns all registered kits.
func (s *Server) handleListKits(w http.ResponseWriter, r *http.Request) {
	kits, err := s.kits.List(r.Context())
	if err != nil {
		s.logger.Error("list kits failed", "error", err)
		writeInternalError(w, "failed to list kits")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"kits":  kits,
		"count": len(kits),
	})
}

// handleKitMap returns kits that opted in to the public map. No auth required;
// the response contains only kits with privacy_show_on_map set.
func (s *Server) handleKitMap(w http.ResponseWriter, r *http.Request) {
	kits, err := s.kits.ListOnMap(r.Context())
	if err != nil {
		s.logger.Error("list kits on map failed", "error", err)
		writeInternalError(w, "failed to list kits")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"kits":  kits,
		"count": len(kits),
	})
}

// handleCreateKit registers a new kit. The device secret is generated here,
// returned once in the response, and persisted only as an Argon2id hash.
// The creating user is linked as the kit's first member.
func (s *Server) handleCreateKit(w http.ResponseWriter, r *http.Request) {
	var req createKitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	secret := generateKitSecret()
	hash, err := auth.HashPassword(secret)
	if err != nil {
		s.logger.Error("hash kit secret failed", "error", err)
		writeInternalError(w, "failed to create kit")
		return
	}

	k := &kit.Kit{
		Serial:          req.Serial,
		Name:            req.Name,
		Description:     req.Description,
		Latitude:        req.Latitude,
		Longitude:       req.Longitude,
		SecretHash:      hash,
		PublicDashboard: req.PublicDashboard,
		ShowOnMap:       req.ShowOnMap,
	}

	if err := s.kits.Create(r.Context(), k); err != nil {
		switch {
		case errors.Is(err, kit.ErrInvalidSerial), errors.Is(err, kit.ErrInvalidName):
			writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
		case errors.Is(err, kit.ErrKitExists):
			writeConflict(w, "kit serial already exists")
		default:
			s.logger.Error("create kit failed", "error", err)
			writeInternalError(w, "failed to create kit")
		}
		return
	}

	principal := principalFromContext(r.Context())
	if err := s.kits.AddMember(r.Context(), k.ID, principal.UserID); err != nil {
		s.logger.Warn("linking creator to kit failed", "kit_id", k.ID, "error", err)
	}

	writeJSON(w, http.StatusCreated, createKitResponse{Kit: k, Secret: secret})
}

// handleGetKit returns a single kit by id.
func (s *Server) handleGetKit(w http.ResponseWriter, r *http.Request) {
	k, err := s.kits.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, kit.ErrKitNotFound) {
			writeNotFound(w, "kit not found")
			return
		}
		s.logger.Error("get kit failed", "error", err)
		writeInternalError(w, "failed to get kit")
		return
	}

	writeJSON(w, http.StatusOK, k)
}

// handleUpdateKit applies a partial update to a kit. The serial and secret
// are immutable.
func (s *Server) handleUpdateKit(w http.ResponseWriter, r *http.Request) {
	var req updateKitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	k, err := s.kits.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, kit.ErrKitNotFound) {
			writeNotFound(w, "kit not found")
			return
		}
		s.logger.Error("get kit failed", "error", err)
		writeInternalError(w, "failed to update kit")
		return
	}

	if req.Name != nil {
		k.Name = *req.Name
	}
	if req.Description != nil {
		k.Description = *req.Description
	}
	if req.Latitude != nil {
		k.Latitude = req.Latitude
	}
	if req.Longitude != nil {
		k.Longitude = req.Longitude
	}
	if req.PublicDashboard != nil {
		k.PublicDashboard = *req.PublicDashboard
	}
	if req.ShowOnMap != nil {
		k.ShowOnMap = *req.ShowOnMap
	}

	if err := s.kits.Update(r.Context(), k); err != nil {
		switch {
		case errors.Is(err, kit.ErrInvalidName):
			writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
		case errors.Is(err, kit.ErrKitNotFound):
			writeNotFound(w, "kit not found")
		default:
			s.logger.Error("update kit failed", "error", err)
			writeInternalError(w, "failed to update kit")
		}
		return
	}

	writeJSON(w, http.StatusOK, k)
}

// handleDeleteKit removes a kit and its dependent records.
func (s *Server) handleDeleteKit(w http.ResponseWriter, r *http.Request) {
	if err := s.kits.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		if errors.Is(err, kit.ErrKitNotFound) {
			writeNotFound(w, "kit not found")
			return
		}
		s.logger.Error("delete kit failed", "error", err)
		writeInternalError(w, "failed to delete kit")
		return
	}

	writeJSON(w, http.StatusNoContent, nil)
}

// ─── Membership Handlers ───────────────────────────────────────────

// handleListMembers returns the user ids linked to a kit.
func (s *Server) handleListMembers(w http.ResponseWriter, r *http.Request) {
	k, err := s.kits.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, kit.ErrKitNotFound) {
			writeNotFound(w, "kit not found")
			return
		}
		s.logger.Error("get kit failed", "error", err)
		writeInternalError(w, "failed to list members")
		return
	}

	snap, err := s.kits.Snapshot(r.Context(), k.Serial)
	if err != nil {
		s.logger.Error("kit snapshot failed", "error", err)
		writeInternalError(w, "failed to list members")
		return
	}

	members := make([]string, 0, len(snap.MemberIDs))
	for id := range snap.MemberIDs {
		members = append(members, id)
	}
	sort.Strings(members)

	writeJSON(w, http.StatusOK, map[string]any{
		"members": members,
		"count":   len(members),
	})
}

// handleAddMember links a user to a kit.
func (s *Server) handleAddMember(w http.ResponseWriter, r *http.Request) {
	var req addMemberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.UserID == "" {
		writeBadRequest(w, "user_id is required")
		return
	}

	if err := s.kits.AddMember(r.Context(), chi.URLParam(r, "id"), req.UserID); err != nil {
		switch {
		case errors.Is(err, kit.ErrKitNotFound):
			writeNotFound(w, "kit not found")
		case errors.Is(err, kit.ErrMembershipExists):
			writeConflict(w, "user is already a member")
		default:
			s.logger.Error("add member failed", "error", err)
			writeInternalError(w, "failed to add member")
		}
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{"user_id": req.UserID})
}

// handleRemoveMember unlinks a user from a kit.
func (s *Server) handleRemoveMember(w http.ResponseWriter, r *http.Request) {
	kitID := chi.URLParam(r, "id")
	userID := chi.URLParam(r, "userID")

	if err := s.kits.RemoveMember(r.Context(), kitID, userID); err != nil {
		switch {
		case errors.Is(err, kit.ErrKitNotFound):
			writeNotFound(w, "kit not found")
		case errors.Is(err, kit.ErrMembershipNotFound):
			writeNotFound(w, "membership not found")
		default:
			s.logger.Error("remove member failed", "error", err)
			writeInternalError(w, "failed to remove member")
		}
		return
	}

	writeJSON(w, http.StatusNoContent, nil)
}

// ─── Peripheral Handlers ───────────────────────────────────────────

// handleListPeripherals returns a kit's peripherals with resolved definitions.
func (s *Server) handleListPeripherals(w http.ResponseWriter, r *http.Request) {
	peripherals, err := s.kits.ListPeripherals(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.logger.Error("list peripherals failed", "error", err)
		writeInternalError(w, "failed to list peripherals")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"peripherals": peripherals,
		"count":       len(peripherals),
	})
}

// handleAddPeripheral attaches a peripheral to a kit.
func (s *Server) handleAddPeripheral(w http.ResponseWriter, r *http.Request) {
	var req addPeripheralRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.DefinitionID == "" || req.Name == "" {
		writeBadRequest(w, "definition_id and name are required")
		return
	}

	p := &kit.Peripheral{
		KitID:        chi.URLParam(r, "id"),
		DefinitionID: req.DefinitionID,
		Name:         req.Name,
		Active:       true,
	}

	if err := s.kits.AddPeripheral(r.Context(), p); err != nil {
		switch {
		case errors.Is(err, kit.ErrKitNotFound):
			writeNotFound(w, "kit not found")
		case errors.Is(err, kit.ErrDefinitionNotFound):
			writeBadRequest(w, "unknown peripheral definition")
		case errors.Is(err, kit.ErrPeripheralExists):
			writeConflict(w, "peripheral name already taken on this kit")
		default:
			s.logger.Error("add peripheral failed", "error", err)
			writeInternalError(w, "failed to add peripheral")
		}
		return
	}

	writeJSON(w, http.StatusCreated, p)
}

// handleRemovePeripheral deactivates a peripheral.
func (s *Server) handleRemovePeripheral(w http.ResponseWriter, r *http.Request) {
	kitID := chi.URLParam(r, "id")
	peripheralID := chi.URLParam(r, "peripheralID")

	if err := s.kits.RemovePeripheral(r.Context(), kitID, peripheralID); err != nil {
		switch {
		case errors.Is(err, kit.ErrKitNotFound):
			writeNotFound(w, "kit not found")
		case errors.Is(err, kit.ErrPeripheralNotFound):
			writeNotFound(w, "peripheral not found")
		default:
			s.logger.Error("remove peripheral failed", "error", err)
			writeInternalError(w, "failed to remove peripheral")
		}
		return
	}

	writeJSON(w, http.StatusNoContent, nil)
}

// ─── Experiment Handlers ───────────────────────────────────────────

// handleCurrentExperiment returns the kit's open experiment, if any.
func (s *Server) handleCurrentExperiment(w http.ResponseWriter, r *http.Request) {
	exp, err := s.kits.OpenExperiment(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, kit.ErrExperimentNotFound) {
			writeNotFound(w, "no open experiment")
			return
		}
		s.logger.Error("get open experiment failed", "error", err)
		writeInternalError(w, "failed to get experiment")
		return
	}

	writeJSON(w, http.StatusOK, exp)
}

// handleStartExperiment opens a new experiment on the kit. Measurements
// taken while it is open are tagged with the experiment id.
func (s *Server) handleStartExperiment(w http.ResponseWriter, r *http.Request) {
	kitID := chi.URLParam(r, "id")

	// Reject if the kit does not exist; StartExperiment itself only hits
	// a foreign key at insert time.
	if _, err := s.kits.GetByID(r.Context(), kitID); err != nil {
		if errors.Is(err, kit.ErrKitNotFound) {
			writeNotFound(w, "kit not found")
			return
		}
		s.logger.Error("get kit failed", "error", err)
		writeInternalError(w, "failed to start experiment")
		return
	}

	exp := &kit.Experiment{KitID: kitID}
	if err := s.kits.StartExperiment(r.Context(), exp); err != nil {
		s.logger.Error("start experiment failed", "error", err)
		writeInternalError(w, "failed to start experiment")
		return
	}

	writeJSON(w, http.StatusCreated, exp)
}

// handleEndExperiment closes an open experiment.
func (s *Server) handleEndExperiment(w http.ResponseWriter, r *http.Request) {
	if err := s.kits.EndExperiment(r.Context(), chi.URLParam(r, "experimentID")); err != nil {
		if errors.Is(err, kit.ErrExperimentNotFound) {
			writeNotFound(w, "experiment not found")
			return
		}
		s.logger.Error("end experiment failed", "error", err)
		writeInternalError(w, "failed to end experiment")
		return
	}

	writeJSON(w, http.StatusNoContent, nil)
}

// ─── Catalog Handlers ──────────────────────────────────────────────

// handleListQuantityTypes returns the registered quantity types.
func (s *Server) handleListQuantityTypes(w http.ResponseWriter, r *http.Request) {
	types, err := s.kits.ListQuantityTypes(r.Context())
	if err != nil {
		s.logger.Error("list quantity types failed", "error", err)
		writeInternalError(w, "failed to list quantity types")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"quantity_types": types,
		"count":          len(types),
	})
}

// handleListDefinitions returns the peripheral definitions with their
// declared quantity types.
func (s *Server) handleListDefinitions(w http.ResponseWriter, r *http.Request) {
	defs, err := s.kits.ListDefinitions(r.Context())
	if err != nil {
		s.logger.Error("list peripheral definitions failed", "error", err)
		writeInternalError(w, "failed to list peripheral definitions")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"peripheral_definitions": defs,
		"count":                  len(defs),
	})
}

// kitSecretBytes is the number of random bytes in a generated device secret.
const kitSecretBytes = 24

// generateKitSecret creates a random device secret for a new kit.
func generateKitSecret() string {
	b := make([]byte, kitSecretBytes)
	//nolint:errcheck // crypto/rand.Read always returns len(b) on supported platforms
	rand.Read(b)
	return hex.EncodeToString(b)
}
