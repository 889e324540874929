// Package league provides the HTTP handlers of the league engine: basket
// submission, leaderboards, period status, participant statistics and the
// administrative reset, plus the WebSocket event feed.
package league

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/portfolio-league/league-engine/internal/basket"
	"github.com/portfolio-league/league-engine/internal/ledger"
	"github.com/portfolio-league/league-engine/internal/model"
	"github.com/portfolio-league/league-engine/internal/period"
	"github.com/portfolio-league/league-engine/internal/price"
	"github.com/portfolio-league/league-engine/internal/scoring"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 64 << 10

var (
	errRateLimited  = errors.New("league: too many submissions, slow down")
	errUnauthorized = errors.New("league: admin token required")
	errBadRequest   = errors.New("league: invalid request body")
)

// Ranker computes a period leaderboard. *ranking.Engine satisfies it.
type Ranker interface {
	Rank(ctx context.Context, periodID string) (*model.Leaderboard, error)
}

// StatsSource computes participant statistics. *stats.Service satisfies it.
type StatsSource interface {
	ForParticipant(ctx context.Context, participant string) (*model.ParticipantStats, error)
}

// Service serves the league API. Handlers hold no state of their own; every
// request goes through the ledger or the ranking engine.
type Service struct {
	ledger     *ledger.Ledger
	ranker     Ranker
	stats      StatsSource
	clock      *period.Clock
	assets     []model.Asset
	basketSize int
	limiter    *SubmitLimiter
	hub        *WSHub
	adminToken string
	now        func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithLimiter enables per-participant submission rate limiting.
func WithLimiter(l *SubmitLimiter) Option {
	return func(s *Service) { s.limiter = l }
}

// WithHub broadcasts submissions and resets to WebSocket clients.
func WithHub(h *WSHub) Option {
	return func(s *Service) { s.hub = h }
}

// WithAdminToken sets the bearer token required by administrative routes.
// Without one those routes always answer 401.
func WithAdminToken(token string) Option {
	return func(s *Service) { s.adminToken = token }
}

// WithNow overrides the wall clock.
func WithNow(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates the league API service.
func NewService(led *ledger.Ledger, ranker Ranker, st StatsSource, clock *period.Clock, validator *basket.Validator, opts ...Option) *Service {
	s := &Service{
		ledger:     led,
		ranker:     ranker,
		stats:      st,
		clock:      clock,
		assets:     validator.Assets(),
		basketSize: validator.Size(),
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Routes mounts the API on r, relative to its current prefix.
func (s *Service) Routes(r chi.Router) {
	if s.hub != nil {
		r.Get("/ws", s.hub.HandleWS)
	}
	r.Get("/assets", s.ListAssets)

	r.Route("/periods/{periodID}", func(r chi.Router) {
		r.Get("/", s.GetPeriod)
		r.Get("/leaderboard", s.GetLeaderboard)
		r.Post("/submissions", s.Submit)
		r.Delete("/submissions", s.ResetPeriod)
		r.Get("/submissions/{participant}", s.GetSubmission)
	})

	r.Get("/participants/{participant}/stats", s.GetParticipantStats)
}

// --- Request/Response types ---

// SubmitRequest is the JSON body for POST /periods/{periodID}/submissions.
type SubmitRequest struct {
	Participant string       `json:"participant"`
	Basket      model.Basket `json:"basket"`
}

// PeriodResponse describes a period relative to the current time.
type PeriodResponse struct {
	model.Period
	Status       model.PeriodStatus `json:"status"`
	Participants int                `json:"participants"`
	// SecondsRemaining counts down to the end of an active period, or to
	// the start of an upcoming one. It is zero once the period completes.
	SecondsRemaining int64 `json:"seconds_remaining"`
}

// AssetsResponse lists what a basket may hold.
type AssetsResponse struct {
	Assets     []model.Asset `json:"assets"`
	BasketSize int           `json:"basket_size"`
}

// ResetResponse reports an administrative reset.
type ResetResponse struct {
	PeriodID string `json:"period_id"`
	Removed  int    `json:"removed"`
}

// --- HTTP Handlers ---

// Submit handles POST /api/v1/periods/{periodID}/submissions.
func (s *Service) Submit(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeErr(w, err)
		return
	}

	participant, err := ledger.NormalizeParticipant(req.Participant)
	if err != nil {
		writeErr(w, err)
		return
	}
	if !s.limiter.Allow(participant) {
		writeErr(w, errRateLimited)
		return
	}

	sub, err := s.ledger.Submit(r.Context(), participant, chi.URLParam(r, "periodID"), req.Basket)
	if err != nil {
		writeErr(w, err)
		return
	}

	if s.hub != nil {
		s.hub.Broadcast(WSMessage{
			Type:         EventSubmissionAccepted,
			PeriodID:     sub.PeriodID,
			Participant:  sub.Participant,
			SubmissionID: sub.ID,
		})
	}

	writeJSON(w, http.StatusCreated, sub)
}

// GetSubmission handles GET /api/v1/periods/{periodID}/submissions/{participant}.
func (s *Service) GetSubmission(w http.ResponseWriter, r *http.Request) {
	sub, err := s.ledger.Get(r.Context(), chi.URLParam(r, "participant"), chi.URLParam(r, "periodID"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

// GetLeaderboard handles GET /api/v1/periods/{periodID}/leaderboard.
func (s *Service) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	board, err := s.ranker.Rank(r.Context(), chi.URLParam(r, "periodID"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, board)
}

// GetPeriod handles GET /api/v1/periods/{periodID}, including "current".
func (s *Service) GetPeriod(w http.ResponseWriter, r *http.Request) {
	now := s.now()
	p, err := s.clock.Lookup(chi.URLParam(r, "periodID"), now)
	if err != nil {
		writeErr(w, err)
		return
	}
	n, err := s.ledger.Count(r.Context(), p.ID)
	if err != nil {
		writeErr(w, err)
		return
	}

	resp := PeriodResponse{
		Period:       p,
		Status:       p.Status(now),
		Participants: n,
	}
	switch resp.Status {
	case model.StatusActive:
		resp.SecondsRemaining = int64(p.End.Sub(now).Seconds())
	case model.StatusUpcoming:
		resp.SecondsRemaining = int64(p.Start.Sub(now).Seconds())
	}
	writeJSON(w, http.StatusOK, resp)
}

// ResetPeriod handles DELETE /api/v1/periods/{periodID}/submissions.
// Requires "Authorization: Bearer <admin token>".
func (s *Service) ResetPeriod(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		writeErr(w, errUnauthorized)
		return
	}

	periodID := chi.URLParam(r, "periodID")
	p, err := s.clock.Lookup(periodID, s.now())
	if err != nil {
		writeErr(w, err)
		return
	}
	n, err := s.ledger.ResetPeriod(r.Context(), p.ID)
	if err != nil {
		writeErr(w, err)
		return
	}

	if s.hub != nil {
		s.hub.Broadcast(WSMessage{Type: EventPeriodReset, PeriodID: p.ID, Removed: n})
	}
	writeJSON(w, http.StatusOK, ResetResponse{PeriodID: p.ID, Removed: n})
}

// GetParticipantStats handles GET /api/v1/participants/{participant}/stats.
func (s *Service) GetParticipantStats(w http.ResponseWriter, r *http.Request) {
	participant, err := ledger.NormalizeParticipant(chi.URLParam(r, "participant"))
	if err != nil {
		writeErr(w, err)
		return
	}
	st, err := s.stats.ForParticipant(r.Context(), participant)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// ListAssets handles GET /api/v1/assets.
func (s *Service) ListAssets(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, AssetsResponse{Assets: s.assets, BasketSize: s.basketSize})
}

func (s *Service) authorized(r *http.Request) bool {
	if s.adminToken == "" {
		return false
	}
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(strings.TrimSpace(token)), []byte(s.adminToken)) == 1
}

// --- Helpers ---

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return errors.Join(errBadRequest, err)
	}
	return nil
}

// ErrorResponse is the JSON body of every error.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// errorStatus maps a domain error to an HTTP status and a stable code.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest, "INVALID_REQUEST"
	case errors.Is(err, basket.ErrInvalidBasket):
		return http.StatusBadRequest, "INVALID_BASKET"
	case errors.Is(err, ledger.ErrInvalidParticipant):
		return http.StatusBadRequest, "INVALID_PARTICIPANT"
	case errors.Is(err, errUnauthorized):
		return http.StatusUnauthorized, "UNAUTHORIZED"
	case errors.Is(err, period.ErrUnknownPeriod):
		return http.StatusNotFound, "UNKNOWN_PERIOD"
	case errors.Is(err, ledger.ErrSubmissionNotFound):
		return http.StatusNotFound, "SUBMISSION_NOT_FOUND"
	case errors.Is(err, ledger.ErrPeriodNotActive):
		return http.StatusConflict, "PERIOD_NOT_ACTIVE"
	case errors.Is(err, ledger.ErrDuplicateSubmission):
		return http.StatusConflict, "DUPLICATE_SUBMISSION"
	case errors.Is(err, errRateLimited):
		return http.StatusTooManyRequests, "RATE_LIMITED"
	case errors.Is(err, price.ErrPriceUnavailable):
		return http.StatusServiceUnavailable, "PRICE_UNAVAILABLE"
	case errors.Is(err, scoring.ErrMissingPrice), errors.Is(err, scoring.ErrInvalidPrice):
		return http.StatusBadGateway, "BAD_PRICE"
	default:
		return http.StatusInternalServerError, "INTERNAL"
	}
}

// writeErr writes err as a JSON error response. Internal errors are logged
// and their message withheld.
func writeErr(w http.ResponseWriter, err error) {
	status, code := errorStatus(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "err", err)
		msg = "internal error"
	}
	writeJSON(w, status, ErrorResponse{Error: msg, Code: code})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
