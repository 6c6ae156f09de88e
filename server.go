package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"i4.energy/across/modemd/device"
	"i4.energy/across/modemd/mode"
	"i4.energy/across/modemd/modem"
	"i4.energy/across/modemd/session"
	"i4.energy/across/modemd/sms"
)

// Device is the attached modem as seen by the HTTP API. It is implemented by
// *session.Session.
type Device interface {
	Vendor() string
	Messages() *sms.List
	LoadModes(ctx context.Context) (allowed, preferred mode.Mode, err error)
	SetModes(ctx context.Context, allowed, preferred mode.Mode) error
	LoadSupportedModes(ctx context.Context) (mode.Mode, error)
	LoadAccessTechnology(ctx context.Context) (mode.AccessTechnology, error)
	LoadIdentifier(ctx context.Context) (string, error)
	SubmitPIN(ctx context.Context, pin string) error
	PowerDown(ctx context.Context) error
	PowerUp(ctx context.Context) error
	DeleteMessage(ctx context.Context, id uuid.UUID) error
	SendMessage(ctx context.Context, number, text string) ([]int, error)
}

var _ Device = (*session.Session)(nil)

// Server handles incoming HTTP requests for interacting with the
// attached modem
type Server struct {
	Logger  *slog.Logger
	Session Device

	once sync.Once
	mux  *http.ServeMux
}

// ServeHTTP implements the http.Handler interface for the Server struct
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.once.Do(func() {
		mux := http.NewServeMux()
		mux.HandleFunc("POST /sms", s.handleSMS)
		mux.HandleFunc("GET /messages", s.handleListMessages)
		mux.HandleFunc("DELETE /messages/{id}", s.handleDeleteMessage)
		mux.HandleFunc("GET /modes", s.handleGetModes)
		mux.HandleFunc("PUT /modes", s.handleSetModes)
		mux.HandleFunc("GET /modes/supported", s.handleSupportedModes)
		mux.HandleFunc("GET /access-technology", s.handleAccessTechnology)
		mux.HandleFunc("GET /sim/identifier", s.handleIdentifier)
		mux.HandleFunc("POST /sim/pin", s.handlePIN)
		mux.HandleFunc("POST /power/down", s.handlePowerDown)
		mux.HandleFunc("POST /power/up", s.handlePowerUp)
		s.mux = mux
	})
	s.mux.ServeHTTP(w, r)
}

func (s *Server) sendError(w http.ResponseWriter, message string, statusCode int) {
	if message == "" {
		w.WriteHeader(statusCode)
		return
	}

	type ErrorResponse struct {
		Message string `json:"message"`
	}
	resp := ErrorResponse{Message: message}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(resp)
}

func (s *Server) sendJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(v)
}

// fail logs err and answers with the status matching its kind.
func (s *Server) fail(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.Logger.Error("Operation failed", "op", op, "error", err)
	} else {
		s.Logger.Warn("Operation rejected", "op", op, "error", err)
	}
	s.sendError(w, err.Error(), status)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, device.ErrUnsupportedRequest):
		return http.StatusUnprocessableEntity
	case errors.Is(err, device.ErrNotSupported):
		return http.StatusNotImplemented
	case errors.Is(err, device.ErrMissingCredential), errors.Is(err, session.ErrSIMPinRequired):
		return http.StatusConflict
	case errors.Is(err, sms.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrDetached):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, device.ErrParse), errors.Is(err, modem.ErrCommandFailed), errors.Is(err, modem.ErrTransport):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// handleSMS processes incoming HTTP POST requests to send SMS messages
func (s *Server) handleSMS(w http.ResponseWriter, r *http.Request) {
	type SMSRequest struct {
		To      string `json:"to"`
		Message string `json:"message"`
	}

	var req SMSRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if req.To == "" || req.Message == "" {
		s.sendError(w, "both 'to' and 'message' fields are required", http.StatusBadRequest)
		return
	}

	refs, err := s.Session.SendMessage(r.Context(), req.To, req.Message)
	if err != nil {
		s.fail(w, "send", err)
		return
	}

	s.Logger.Info("SMS sent successfully", "to", req.To, "message_length", len(req.Message), "parts", len(refs))
	s.sendJSON(w, struct {
		References []int `json:"references"`
	}{References: refs})
}

type messageView struct {
	ID        uuid.UUID `json:"id"`
	Number    string    `json:"number"`
	Timestamp time.Time `json:"timestamp,omitzero"`
	Text      string    `json:"text"`
	Multipart bool      `json:"multipart"`
	Complete  bool      `json:"complete"`
	Parts     int       `json:"parts"`
	Max       int       `json:"max,omitempty"`
	Indexes   []uint32  `json:"indexes"`
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	msgs := s.Session.Messages().Messages()
	views := make([]messageView, 0, len(msgs))
	for i := range msgs {
		m := &msgs[i]
		v := messageView{
			ID:        m.ID(),
			Number:    m.Number(),
			Timestamp: m.Timestamp(),
			Multipart: m.IsMultipart(),
			Complete:  m.IsComplete(),
			Parts:     len(m.Parts()),
			Indexes:   m.Indexes(),
		}
		if m.IsMultipart() {
			v.Max = m.Max()
		}
		if v.Complete {
			v.Text = m.Text()
		}
		views = append(views, v)
	}
	s.sendJSON(w, views)
}

func (s *Server) handleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		s.sendError(w, "invalid message ID", http.StatusBadRequest)
		return
	}
	if err := s.Session.DeleteMessage(r.Context(), id); err != nil {
		s.fail(w, "delete", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type modesBody struct {
	Allowed   mode.Mode `json:"allowed"`
	Preferred mode.Mode `json:"preferred"`
}

func (s *Server) handleGetModes(w http.ResponseWriter, r *http.Request) {
	allowed, preferred, err := s.Session.LoadModes(r.Context())
	if err != nil {
		s.fail(w, "load modes", err)
		return
	}
	s.sendJSON(w, modesBody{Allowed: allowed, Preferred: preferred})
}

func (s *Server) handleSetModes(w http.ResponseWriter, r *http.Request) {
	var req modesBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.Session.SetModes(r.Context(), req.Allowed, req.Preferred); err != nil {
		s.fail(w, "set modes", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSupportedModes(w http.ResponseWriter, r *http.Request) {
	supported, err := s.Session.LoadSupportedModes(r.Context())
	if err != nil {
		s.fail(w, "load supported modes", err)
		return
	}
	s.sendJSON(w, struct {
		Supported mode.Mode `json:"supported"`
	}{Supported: supported})
}

func (s *Server) handleAccessTechnology(w http.ResponseWriter, r *http.Request) {
	tech, err := s.Session.LoadAccessTechnology(r.Context())
	if err != nil {
		s.fail(w, "load access technology", err)
		return
	}
	s.sendJSON(w, struct {
		AccessTechnology mode.AccessTechnology `json:"access_technology"`
	}{AccessTechnology: tech})
}

func (s *Server) handleIdentifier(w http.ResponseWriter, r *http.Request) {
	iccid, err := s.Session.LoadIdentifier(r.Context())
	if err != nil {
		s.fail(w, "load identifier", err)
		return
	}
	s.sendJSON(w, struct {
		ICCID string `json:"iccid"`
	}{ICCID: iccid})
}

func (s *Server) handlePIN(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PIN string `json:"pin"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.Session.SubmitPIN(r.Context(), req.PIN); err != nil {
		s.fail(w, "submit PIN", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePowerDown(w http.ResponseWriter, r *http.Request) {
	if err := s.Session.PowerDown(r.Context()); err != nil {
		s.fail(w, "power down", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePowerUp(w http.ResponseWriter, r *http.Request) {
	if err := s.Session.PowerUp(r.Context()); err != nil {
		s.fail(w, "power up", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
