package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"tinyassets/internal/auth"
	"tinyassets/internal/game"
	"tinyassets/internal/metrics"
	"tinyassets/internal/rules"
)

type contextKey string

const userContextKey contextKey = "user"

type UserContext struct {
	UserID string
	Email  string
	Token  string
}

// Authenticator is the slice of the Supabase client the API uses.
type Authenticator interface {
	SignUp(ctx context.Context, email, password, displayName string) (auth.Session, error)
	Login(ctx context.Context, email, password string) (auth.Session, error)
	VerifyAccessToken(ctx context.Context, accessToken string) (auth.User, error)
}

type Server struct {
	log  *slog.Logger
	auth Authenticator
	game *game.Service
	hub  *Hub
	mux  *chi.Mux
}

func New(logger *slog.Logger, authClient Authenticator, gameSvc *game.Service, hub *Hub) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		log:  logger,
		auth: authClient,
		game: gameSvc,
		hub:  hub,
		mux:  chi.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	r := s.mux
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.rulesetHeader)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(60 * time.Second))
			r.Post("/auth/signup", s.handleSignup)
			r.Post("/auth/login", s.handleLogin)
			r.Get("/rules", s.handleRules)

			r.Group(func(r chi.Router) {
				r.Use(s.authMiddleware)
				r.Get("/state", s.handleState)
				r.Get("/holdings", s.handleHoldings)
				r.Get("/portfolio", s.handlePortfolio)
				r.Get("/win", s.handleWin)

				r.Post("/trades/buy", s.handleTrade(rules.ActionBuy))
				r.Post("/trades/sell", s.handleTrade(rules.ActionSell))

				r.Get("/day/indicators", s.handleIndicators)
				r.Post("/day/execute", s.handleExecuteDay)
				r.Post("/day/skip", s.handleSkipDay)

				r.Get("/missions", s.handleMissions)
				r.Post("/missions/{id}/claim", s.handleClaimMission)
				r.Post("/tutorial/complete", s.handleCompleteTutorial)
				r.Get("/badges", s.handleBadges)

				r.Get("/history/events", s.handleEventHistory)
				r.Get("/history/transactions", s.handleTransactionHistory)
				r.Get("/history/production", s.handleProductionHistory)

				r.Post("/parent/setup", s.handleParentSetup)
				r.Post("/parent/rotate", s.handleParentRotate)
				r.Post("/parent/profile", s.handleParentProfile)

				r.Post("/sync/replay", s.handleSyncReplay)
			})
		})

		// Long-lived, so it sits outside the request timeout.
		r.With(s.authMiddleware).Get("/feed", s.handleFeed)
	})
}

func (s *Server) rulesetHeader(next http.Handler) http.Handler {
	version := s.game.Rules().Version
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Ruleset-Version", version)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" && websocket.IsWebSocketUpgrade(r) {
			// Browsers cannot set headers on a websocket handshake.
			token = strings.TrimSpace(r.URL.Query().Get("access_token"))
		}
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		user, err := s.auth.VerifyAccessToken(r.Context(), token)
		if err != nil {
			if !errors.Is(err, auth.ErrUnauthorized) {
				s.log.Warn("token verification failed", "err", err)
			}
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		ctx := context.WithValue(r.Context(), userContextKey, UserContext{
			UserID: user.ID,
			Email:  user.Email,
			Token:  token,
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func userFromContext(ctx context.Context) (UserContext, error) {
	v := ctx.Value(userContextKey)
	user, ok := v.(UserContext)
	if !ok || user.UserID == "" {
		return UserContext{}, errors.New("missing auth context")
	}
	return user, nil
}

func writeDomainError(w http.ResponseWriter, err error) {
	var shortfall *rules.ShortfallError
	switch {
	case errors.As(err, &shortfall):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":     err.Error(),
			"asset":     shortfall.Asset,
			"requested": shortfall.Requested,
			"available": shortfall.Available,
		})
	case errors.Is(err, rules.ErrInsufficientFunds),
		errors.Is(err, rules.ErrInsufficientHoldings),
		errors.Is(err, rules.ErrOwnershipCapExceeded):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, rules.ErrUnknownAsset),
		errors.Is(err, rules.ErrInvalidShareCount),
		errors.Is(err, rules.ErrInvalidAction),
		errors.Is(err, rules.ErrWrongPhase),
		errors.Is(err, game.ErrInvalidUser):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, game.ErrMissionNotFound), errors.Is(err, game.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, game.ErrParentAccessDenied):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, game.ErrMissionNotCompleted),
		errors.Is(err, game.ErrAlreadyClaimed),
		errors.Is(err, game.ErrDayAlreadyExecuted),
		errors.Is(err, game.ErrStateConflict),
		errors.Is(err, game.ErrDuplicateIdempotency),
		errors.Is(err, game.ErrTxConflict),
		errors.Is(err, game.ErrParentAccessExists):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeJSON(r *http.Request, out any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return err
	}
	return nil
}

// decodeOptionalJSON accepts an empty body as the zero value.
func decodeOptionalJSON(r *http.Request, out any) error {
	if r.ContentLength == 0 {
		return nil
	}
	return decodeJSON(r, out)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": strings.TrimSpace(message)})
}

func idempotencyKey(r *http.Request) string {
	key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if key != "" {
		return key
	}
	return uuid.NewString()
}

func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func queryLimit(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil {
		return 0
	}
	return n
}
