package handler

import (
	"lototet/internal/cache"
	"lototet/internal/transport/rest/middleware"
	"net/http"
)

// LeaseHandler lets a peer give up its reserved identity early
type LeaseHandler struct {
	leases   cache.PeerCache
	presence PresenceChecker
}

// NewLeaseHandler creates a new lease handler
func NewLeaseHandler(leases cache.PeerCache, presence PresenceChecker) *LeaseHandler {
	return &LeaseHandler{leases: leases, presence: presence}
}

// Release handles DELETE /v1/leases
func (h *LeaseHandler) Release(w http.ResponseWriter, r *http.Request) {
	peerID := middleware.GetPeerID(r.Context())
	if peerID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if h.presence.Online(peerID) {
		writeError(w, http.StatusConflict, "peer is still connected")
		return
	}

	if err := h.leases.Release(r.Context(), peerID); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
