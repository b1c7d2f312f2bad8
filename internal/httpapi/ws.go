package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/example/ride-dispatch/internal/auth"
	"github.com/example/ride-dispatch/internal/core"
	"github.com/example/ride-dispatch/internal/dispatch"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/rides"
	"github.com/example/ride-dispatch/internal/storage"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// inbound is a client-to-server frame. Data stays raw until the event
// name tells us what shape to expect.
type inbound struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = bearerToken(r)
	}
	claims, err := s.Verifier.Verify(token)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	sess := dispatch.NewSession(conn)
	s.Hub.Add(sess)
	s.logger.Info("client connected", "user_id", claims.UserID, "role", claims.Role)

	// Passengers are present the moment they connect; drivers announce
	// themselves with an explicit driver-online frame carrying location.
	if claims.Role == "passenger" {
		s.Core.HandlePassengerOnline(claims.UserID, sess)
	}

	go s.readLoop(conn, sess, claims)
}

func (s *Server) readLoop(conn *websocket.Conn, sess *dispatch.Session, claims *auth.Claims) {
	ctx := context.Background()
	defer func() {
		s.Core.HandleDisconnect(ctx, sess)
		conn.Close()
		s.logger.Info("client disconnected", "user_id", claims.UserID, "role", claims.Role)
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg inbound
		if err := json.Unmarshal(raw, &msg); err != nil {
			sess.Send("error", map[string]string{"message": "malformed frame"})
			continue
		}
		s.dispatchFrame(ctx, sess, claims, msg)
	}
}

// dispatchFrame routes one client frame to the core. The identity in
// the verified token always wins over whatever the payload claims.
func (s *Server) dispatchFrame(ctx context.Context, sess *dispatch.Session, claims *auth.Claims, msg inbound) {
	switch msg.Event {
	case "driver-online":
		var p struct {
			Name     string       `json:"name"`
			Location models.Coord `json:"location"`
		}
		if err := json.Unmarshal(msg.Data, &p); err != nil {
			sess.Send("error", map[string]string{"message": "malformed payload"})
			return
		}
		s.Core.HandleDriverOnline(claims.UserID, p.Name, p.Location, sess)

	case "driver-offline":
		s.Core.HandleDriverOffline(claims.UserID)

	case "position-update":
		var p struct {
			Location models.Coord `json:"location"`
		}
		if err := json.Unmarshal(msg.Data, &p); err != nil {
			return
		}
		s.Core.HandlePositionUpdate(ctx, claims.UserID, p.Location)

	case "ride-request":
		var req models.RideRequest
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			sess.Send("error", map[string]string{"message": "malformed payload"})
			return
		}
		req.PassengerID = claims.UserID
		if _, err := s.Core.HandleRideRequest(ctx, req); err != nil {
			s.sendFrameError(sess, "", err)
		}

	case "ride-accept":
		rideID, ok := s.rideID(sess, msg)
		if !ok {
			return
		}
		outcome, err := s.Core.AttemptAccept(ctx, rideID, claims.UserID)
		if err != nil {
			s.sendFrameError(sess, rideID, err)
			return
		}
		switch outcome {
		case core.AlreadyTaken:
			sess.Send(core.EvtRideUnavailable, map[string]string{
				"ride_id": rideID,
				"message": "this ride is no longer available",
			})
		case core.DriverBusy:
			sess.Send("error", map[string]string{
				"ride_id": rideID,
				"message": "finish your current ride first",
			})
		}

	case "ride-refuse":
		rideID, ok := s.rideID(sess, msg)
		if !ok {
			return
		}
		if err := s.Core.HandleRefuse(ctx, rideID, claims.UserID); err != nil {
			s.sendFrameError(sess, rideID, err)
		}

	case "driver-arrived":
		rideID, ok := s.rideID(sess, msg)
		if !ok {
			return
		}
		if err := s.Core.HandleArrived(ctx, rideID, claims.UserID); err != nil {
			s.sendFrameError(sess, rideID, err)
		}

	case "ride-start":
		rideID, ok := s.rideID(sess, msg)
		if !ok {
			return
		}
		if err := s.Core.HandleStart(ctx, rideID, claims.UserID); err != nil {
			s.sendFrameError(sess, rideID, err)
		}

	case "ride-finish":
		rideID, ok := s.rideID(sess, msg)
		if !ok {
			return
		}
		if err := s.Core.HandleFinish(ctx, rideID, claims.UserID); err != nil {
			s.sendFrameError(sess, rideID, err)
		}

	case "ride-cancel":
		var p struct {
			RideID string `json:"ride_id"`
			Reason string `json:"reason"`
		}
		if err := json.Unmarshal(msg.Data, &p); err != nil || p.RideID == "" {
			sess.Send("error", map[string]string{"message": "ride_id required"})
			return
		}
		if err := s.Core.HandleCancel(ctx, p.RideID, claims.Role, p.Reason); err != nil {
			s.sendFrameError(sess, p.RideID, err)
		}

	default:
		sess.Send("error", map[string]string{"message": "unknown event: " + msg.Event})
	}
}

func (s *Server) rideID(sess *dispatch.Session, msg inbound) (string, bool) {
	var p struct {
		RideID string `json:"ride_id"`
	}
	if err := json.Unmarshal(msg.Data, &p); err != nil || p.RideID == "" {
		sess.Send("error", map[string]string{"message": "ride_id required"})
		return "", false
	}
	return p.RideID, true
}

func (s *Server) sendFrameError(sess *dispatch.Session, rideID string, err error) {
	msg := "internal error"
	switch {
	case errors.Is(err, storage.ErrNotFound):
		msg = "ride not found"
	case errors.Is(err, rides.ErrInvalidTransition):
		msg = err.Error()
	case errors.Is(err, core.ErrPersistence):
		msg = "temporarily unavailable, try again"
	default:
		s.logger.Error("frame failed", "ride_id", rideID, "error", err)
	}
	sess.Send("error", map[string]string{"ride_id": rideID, "message": msg})
}

func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	if len(h) > len(prefix) && h[:len(prefix)] == prefix {
		return h[len(prefix):]
	}
	return ""
}
