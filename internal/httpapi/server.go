package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/ride-dispatch/internal/auth"
	"github.com/example/ride-dispatch/internal/core"
	"github.com/example/ride-dispatch/internal/dispatch"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/payments"
	"github.com/example/ride-dispatch/internal/rides"
	"github.com/example/ride-dispatch/internal/storage"
)

// Server is the HTTP and websocket front of the dispatch core. It
// authenticates connections before the core ever sees an identity and
// translates core errors into responses.
type Server struct {
	Core     *core.Service
	Hub      *dispatch.Hub
	Verifier *auth.Verifier

	logger *slog.Logger
	mux    *mux.Router
}

func NewServer(c *core.Service, hub *dispatch.Hub, verifier *auth.Verifier, logger *slog.Logger) *Server {
	s := &Server{Core: c, Hub: hub, Verifier: verifier, logger: logger, mux: mux.NewRouter()}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/v1/rides/request", s.handleRideRequest).Methods("POST")
	s.mux.HandleFunc("/api/v1/rides/{ride_id}/pay", s.handlePayRide).Methods("POST")
	s.mux.HandleFunc("/api/v1/drivers", s.handleListDrivers).Methods("GET")
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/ws", s.handleWS)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) handleRideRequest(w http.ResponseWriter, r *http.Request) {
	var req models.RideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.PassengerID == "" {
		http.Error(w, "passenger_id required", http.StatusBadRequest)
		return
	}

	ride, err := s.Core.HandleRideRequest(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]any{
		"ride_id":    ride.ID,
		"status":     ride.Status,
		"price":      ride.Price,
		"distance_m": ride.DistanceM,
	})
}

func (s *Server) handlePayRide(w http.ResponseWriter, r *http.Request) {
	rideID := mux.Vars(r)["ride_id"]
	var body struct {
		PaymentMethod string `json:"payment_method"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.Core.ConfirmPayment(r.Context(), rideID, body.PaymentMethod); err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"ride_id": rideID, "status": models.StatusPaid})
}

func (s *Server) handleListDrivers(w http.ResponseWriter, r *http.Request) {
	drivers := s.Core.Presence.OnlineDrivers()
	out := make([]models.DriverSnapshot, 0, len(drivers))
	for _, d := range drivers {
		out = append(out, models.DriverSnapshot{
			DriverID:      d.ID,
			Name:          d.Name,
			Location:      d.Location,
			Available:     d.Available,
			CurrentRideID: d.CurrentRideID,
			Online:        true,
		})
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"drivers": out})
}

// writeError degrades faults to "try again" responses without exposing
// internals; expected lifecycle conflicts get conflict semantics.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		http.Error(w, "ride not found", http.StatusNotFound)
	case errors.Is(err, rides.ErrInvalidTransition):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, payments.ErrPaymentFailed):
		http.Error(w, "payment failed, try again", http.StatusPaymentRequired)
	case errors.Is(err, core.ErrPersistence):
		http.Error(w, "temporarily unavailable, try again", http.StatusServiceUnavailable)
	default:
		s.logger.Error("request failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
