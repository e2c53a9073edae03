package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/verdantlab/verdant-core/internal/auth"
	"github.com/verdantlab/verdant-core/internal/kit"
	"github.com/verdantlab/verdant-core/internal/measurement"
)

// handleListMeasurements returns the persisted (REDUCED) measurement history
// for a kit, addressed by serial. Access follows the same policy as the live
// stream: public dashboard, the device itself, or a kit member.
//
// Query parameters: kit (serial, required), peripheral, experiment,
// since, until (RFC3339), limit, offset.
func (s *Server) handleListMeasurements(w http.ResponseWriter, r *http.Request) {
	serial := r.URL.Query().Get("kit")
	if serial == "" {
		writeBadRequest(w, "kit query parameter is required")
		return
	}

	snap, err := s.kits.Snapshot(r.Context(), serial)
	if err != nil {
		if errors.Is(err, kit.ErrKitNotFound) {
			writeNotFound(w, "kit not found")
			return
		}
		s.logger.Error("kit snapshot failed", "error", err)
		writeInternalError(w, "failed to query measurements")
		return
	}

	principal := principalFromContext(r.Context())
	if !auth.CanSubscribe(principal, snap) {
		writeForbidden(w, "access to this kit's measurements is denied")
		return
	}

	filter, err := measurementFilter(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	result, err := s.store.ListByKit(r.Context(), snap.Kit.ID, filter)
	if err != nil {
		s.logger.Error("list measurements failed", "kit", serial, "error", err)
		writeInternalError(w, "failed to query measurements")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// measurementFilter parses history query parameters.
func measurementFilter(r *http.Request) (measurement.Filter, error) {
	q := r.URL.Query()
	filter := measurement.Filter{
		PeripheralID: q.Get("peripheral"),
		ExperimentID: q.Get("experiment"),
	}

	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, errors.New("since must be an RFC3339 timestamp")
		}
		filter.Since = &t
	}
	if v := q.Get("until"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, errors.New("until must be an RFC3339 timestamp")
		}
		filter.Until = &t
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return filter, errors.New("limit must be a non-negative integer")
		}
		filter.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return filter, errors.New("offset must be a non-negative integer")
		}
		filter.Offset = n
	}

	return filter, nil
}
