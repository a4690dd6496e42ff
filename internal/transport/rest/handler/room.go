package handler

import (
	"encoding/json"
	"lototet/internal/model"
	"lototet/internal/service"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/skip2/go-qrcode"
)

const qrSize = 256

// PresenceChecker reports whether a relay identity is connected
type PresenceChecker interface {
	Online(peerID string) bool
}

// RoomHandler handles room lookup endpoints
type RoomHandler struct {
	presence  PresenceChecker
	publicURL string
}

// NewRoomHandler creates a new room handler
func NewRoomHandler(presence PresenceChecker, publicURL string) *RoomHandler {
	return &RoomHandler{
		presence:  presence,
		publicURL: publicURL,
	}
}

// RoomStatus is the response body of GET /v1/rooms/{code}
type RoomStatus struct {
	RoomCode   string `json:"roomCode"`
	HostPeerID string `json:"hostPeerId"`
	Open       bool   `json:"open"`
	JoinURL    string `json:"joinUrl"`
}

func (h *RoomHandler) code(w http.ResponseWriter, r *http.Request) (string, bool) {
	code, err := service.ValidateRoomCode(mux.Vars(r)["code"])
	if err != nil {
		writeError(w, http.StatusBadRequest, service.UserMessage(err))
		return "", false
	}
	return code, true
}

// Get handles GET /v1/rooms/{code}
func (h *RoomHandler) Get(w http.ResponseWriter, r *http.Request) {
	code, ok := h.code(w, r)
	if !ok {
		return
	}

	status := RoomStatus{
		RoomCode:   code,
		HostPeerID: model.HostPeerID(code),
		Open:       h.presence.Online(model.HostPeerID(code)),
		JoinURL:    service.JoinURL(h.publicURL, code),
	}
	if !status.Open {
		writeJSON(w, http.StatusNotFound, status)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// QR handles GET /v1/rooms/{code}/qr
func (h *RoomHandler) QR(w http.ResponseWriter, r *http.Request) {
	code, ok := h.code(w, r)
	if !ok {
		return
	}

	png, err := qrcode.Encode(service.JoinURL(h.publicURL, code), qrcode.Medium, qrSize)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.WriteHeader(http.StatusOK)
	w.Write(png)
}

// ScanRequest carries text read from a QR code
type ScanRequest struct {
	Text string `json:"text"`
}

// Scan handles POST /v1/rooms/scan and resolves scanned text to a room
func (h *RoomHandler) Scan(w http.ResponseWriter, r *http.Request) {
	var req ScanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	code, err := service.ValidateRoomCode(service.ParseScannedCode(req.Text))
	if err != nil {
		writeError(w, http.StatusBadRequest, service.UserMessage(err))
		return
	}

	writeJSON(w, http.StatusOK, RoomStatus{
		RoomCode:   code,
		HostPeerID: model.HostPeerID(code),
		Open:       h.presence.Online(model.HostPeerID(code)),
		JoinURL:    service.JoinURL(h.publicURL, code),
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
