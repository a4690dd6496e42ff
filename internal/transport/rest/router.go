package rest

import (
	"lototet/internal/cache"
	"lototet/internal/service"
	"lototet/internal/transport/rest/handler"
	"lototet/internal/transport/rest/middleware"
	"lototet/internal/transport/ws"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// Container holds all dependencies for the router
type Container struct {
	LeaseService *service.LeaseService
	Leases       cache.PeerCache
	Hub          *ws.Hub
	PublicURL    string
	CORSOrigins  string
	Logger       *zap.Logger
}

// NewRouter creates the relay router with all endpoints
func NewRouter(c *Container) http.Handler {
	r := mux.NewRouter()

	roomHandler := handler.NewRoomHandler(c.Hub, c.PublicURL)
	leaseHandler := handler.NewLeaseHandler(c.Leases, c.Hub)
	wsHandler := ws.NewHandler(c.Hub, c.Logger)

	leaseMW := middleware.NewLeaseMiddleware(c.LeaseService)

	r.Use(corsMiddleware(c.CORSOrigins))
	r.Use(accessLog(c.Logger))

	v1 := r.PathPrefix("/v1").Subrouter()

	// Relay socket (identity in query params)
	v1.HandleFunc("/peers", wsHandler.PeerWS).Methods("GET")

	v1.HandleFunc("/rooms/scan", roomHandler.Scan).Methods("POST", "OPTIONS")
	v1.HandleFunc("/rooms/{code}", roomHandler.Get).Methods("GET", "OPTIONS")
	v1.HandleFunc("/rooms/{code}/qr", roomHandler.QR).Methods("GET", "OPTIONS")

	leaseRoutes := v1.NewRoute().Subrouter()
	leaseRoutes.Use(leaseMW.RequireLease)
	leaseRoutes.HandleFunc("/leases", leaseHandler.Release).Methods("DELETE", "OPTIONS")

	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	}).Methods("GET")

	return r
}

func corsMiddleware(allowedOrigins string) mux.MiddlewareFunc {
	if allowedOrigins == "" {
		allowedOrigins = "*"
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", allowedOrigins)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func accessLog(logger *zap.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			logger.Debug("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Duration("took", time.Since(start)))
		})
	}
}
