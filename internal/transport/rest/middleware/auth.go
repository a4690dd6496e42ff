package middleware

import (
	"context"
	"lototet/internal/service"
	"net/http"
	"strings"
)

type contextKey string

const PeerIDKey contextKey = "peerId"

// LeaseMiddleware authenticates requests with a relay lease token
type LeaseMiddleware struct {
	leaseSvc *service.LeaseService
}

// NewLeaseMiddleware creates a new lease middleware
func NewLeaseMiddleware(leaseSvc *service.LeaseService) *LeaseMiddleware {
	return &LeaseMiddleware{leaseSvc: leaseSvc}
}

// RequireLease validates the lease JWT from the Authorization header or token query param
func (m *LeaseMiddleware) RequireLease(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractBearerToken(r)
		if token == "" {
			token = r.URL.Query().Get("token")
		}
		if token == "" {
			http.Error(w, `{"error":"missing authorization"}`, http.StatusUnauthorized)
			return
		}

		claims, err := m.leaseSvc.Validate(token)
		if err != nil {
			http.Error(w, `{"error":"invalid or expired token"}`, http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), PeerIDKey, claims.PeerID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return parts[1]
}

// GetPeerID extracts the authenticated peer id from context
func GetPeerID(ctx context.Context) string {
	if v := ctx.Value(PeerIDKey); v != nil {
		return v.(string)
	}
	return ""
}
