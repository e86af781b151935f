package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"altanian/internal/auth"
	"altanian/internal/config"
	"altanian/internal/game"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type contextKey string

const userContextKey contextKey = "user"

type UserContext struct {
	UserID string
	Email  string
	Token  string
}

// Authenticator resolves bearer tokens and proxies account operations.
type Authenticator interface {
	Authenticate(ctx context.Context, accessToken string) (auth.Principal, error)
	SignUp(ctx context.Context, email, password string) (auth.Session, error)
	Login(ctx context.Context, email, password string) (auth.Session, error)
}

type Server struct {
	cfg     config.APIConfig
	log     *slog.Logger
	auth    Authenticator
	game    *game.Service
	hub     *Hub
	limiter *playerLimiter
	idem    *idempotencyCache
	mux     *chi.Mux
}

func New(cfg config.APIConfig, logger *slog.Logger, authn Authenticator, gameSvc *game.Service) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:     cfg,
		log:     logger,
		auth:    authn,
		game:    gameSvc,
		hub:     NewHub(logger, authn, gameSvc),
		limiter: newPlayerLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst),
		idem:    newIdempotencyCache(10 * time.Minute),
		mux:     chi.NewRouter(),
	}
	gameSvc.SetBroadcaster(s.hub)
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) Hub() *Hub {
	return s.hub
}

func (s *Server) routes() {
	r := s.mux
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.recoverer)
	r.Use(corsMiddleware)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		// The socket outlives request timeouts.
		r.Get("/ws", s.hub.ServeWS)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(60 * time.Second))
			r.Post("/auth/signup", s.handleSignup)
			r.Post("/auth/login", s.handleLogin)
		})

		r.Route("/game", func(r chi.Router) {
			r.Use(middleware.Timeout(60 * time.Second))
			r.Use(s.authMiddleware)
			r.Use(s.rateLimitMiddleware)
			r.Use(s.idempotencyMiddleware)

			r.Post("/start", s.handleStart)
			r.Get("/state", s.handleState)
			r.Post("/tick", s.handleTick)
			r.Post("/click", s.handleClick)
			r.Post("/buy-generator", s.handleBuyGenerator)
			r.Post("/upgrade-ship", s.handleUpgradeShip)
			r.Post("/build-ship", s.handleBuildShip)
			r.Post("/launch", s.handleLaunch)
			r.Post("/land", s.handleLand)
			r.Post("/travel-to", s.handleTravelTo)
			r.Post("/planet-click", s.handlePlanetClick)
			r.Get("/system", s.handleSystem)
			r.Post("/travel", s.handleTravel)
			r.Post("/travel-cost", s.handleTravelCost)
			r.Post("/craft", s.handleCraft)
			r.Post("/cancel-craft", s.handleCancelCraft)
			r.Post("/allocate-energy", s.handleAllocateEnergy)
			r.Post("/fm/fuel", s.handleFMFuel)
			r.Post("/fm/auto", s.handleFMAuto)
			r.Post("/save-fleet", s.handleSaveFleet)
			r.Get("/story", s.handleStory)
		})
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
			return
		}
		p, err := s.auth.Authenticate(r.Context(), token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized", "invalid token")
			return
		}
		ctx := context.WithValue(r.Context(), userContextKey, UserContext{
			UserID: p.UserID,
			Email:  p.Email,
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

// recoverer turns panics into a generic 500 and logs the fault.
func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				s.log.Error("panic recovered",
					"err", fmt.Sprint(rec),
					"path", r.URL.Path,
					"request_id", middleware.GetReqID(r.Context()),
				)
				writeError(w, http.StatusInternalServerError, "internal", "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// corsMiddleware admits the browser clients.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Idempotency-Key, If-None-Match")
		w.Header().Set("Access-Control-Expose-Headers", "ETag, Idempotent-Replayed")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	session, err := s.auth.SignUp(r.Context(), strings.TrimSpace(in.Email), strings.TrimSpace(in.Password))
	if err != nil {
		s.writeAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	session, err := s.auth.Login(r.Context(), strings.TrimSpace(in.Email), strings.TrimSpace(in.Password))
	if err != nil {
		s.writeAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) writeAuthError(w http.ResponseWriter, err error) {
	if errors.Is(err, auth.ErrUnsupported) {
		writeError(w, http.StatusNotImplemented, "unsupported", err.Error())
		return
	}
	if errors.Is(err, auth.ErrRejected) {
		writeError(w, http.StatusUnauthorized, "unauthorized", err.Error())
		return
	}
	s.log.Warn("auth provider failed", "err", err)
	writeError(w, http.StatusBadGateway, "auth_unavailable", "identity provider unavailable")
}

// gameResponse is the {game, rates, digest} envelope plus per-action extras.
type gameResponse struct {
	game.Snapshot
	Gained      *game.Gain `json:"gained,omitempty"`
	SystemIndex *int       `json:"systemIndex,omitempty"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", err.Error())
		return
	}
	var in struct {
		NationName string `json:"nationName"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	snap, err := s.game.Start(r.Context(), user.UserID, in.NationName)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, gameResponse{Snapshot: snap})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", err.Error())
		return
	}
	snap, err := s.game.State(r.Context(), user.UserID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	etag := `"` + snap.Digest + `"`
	w.Header().Set("ETag", etag)
	if match := strings.TrimSpace(r.Header.Get("If-None-Match")); match != "" && strings.TrimPrefix(match, "W/") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	writeJSON(w, http.StatusOK, gameResponse{Snapshot: snap})
}

func (s *Server) handleTick(w http.ResponseWriter, r *http.Request) {
	s.simpleAction(w, r, s.game.Tick)
}

func (s *Server) handleClick(w http.ResponseWriter, r *http.Request) {
	s.simpleAction(w, r, s.game.Click)
}

func (s *Server) handleUpgradeShip(w http.ResponseWriter, r *http.Request) {
	s.simpleAction(w, r, s.game.UpgradeShip)
}

func (s *Server) handleBuildShip(w http.ResponseWriter, r *http.Request) {
	s.simpleAction(w, r, s.game.BuildShip)
}

func (s *Server) handleLaunch(w http.ResponseWriter, r *http.Request) {
	s.simpleAction(w, r, s.game.Launch)
}

func (s *Server) handleStory(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", err.Error())
		return
	}
	story, err := s.game.Story(r.Context(), user.UserID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, story)
}

func (s *Server) handleBuyGenerator(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Type string `json:"type"`
	}
	s.decodedAction(w, r, &in, func(ctx context.Context, userID string) (game.Snapshot, error) {
		return s.game.BuyGenerator(ctx, userID, strings.TrimSpace(in.Type))
	})
}

func (s *Server) handleLand(w http.ResponseWriter, r *http.Request) {
	var in struct {
		PlanetName string `json:"planetName"`
	}
	s.optionalAction(w, r, &in, func(ctx context.Context, userID string) (game.Snapshot, error) {
		return s.game.Land(ctx, userID, strings.TrimSpace(in.PlanetName))
	})
}

func (s *Server) handleTravelTo(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Planet string `json:"planet"`
	}
	s.decodedAction(w, r, &in, func(ctx context.Context, userID string) (game.Snapshot, error) {
		return s.game.TravelToPlanet(ctx, userID, strings.TrimSpace(in.Planet))
	})
}

func (s *Server) handlePlanetClick(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", err.Error())
		return
	}
	var in struct {
		PlanetName string `json:"planetName"`
	}
	if err := decodeOptionalJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	snap, gain, err := s.game.Harvest(r.Context(), user.UserID, strings.TrimSpace(in.PlanetName))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, gameResponse{Snapshot: snap, Gained: &gain})
}

func (s *Server) handleSystem(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", err.Error())
		return
	}
	var index *int
	if raw := strings.TrimSpace(r.URL.Query().Get("index")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_input", "index must be an integer")
			return
		}
		index = &n
	}
	sys, err := s.game.System(r.Context(), user.UserID, index)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sys)
}

func (s *Server) handleTravel(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", err.Error())
		return
	}
	var in game.TravelRequest
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	snap, _, err := s.game.Travel(r.Context(), user.UserID, in)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	idx := snap.Game.SystemIndex
	writeJSON(w, http.StatusOK, gameResponse{Snapshot: snap, SystemIndex: &idx})
}

func (s *Server) handleTravelCost(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", err.Error())
		return
	}
	var in game.TravelRequest
	if err := decodeOptionalJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	quote, err := s.game.TravelCost(r.Context(), user.UserID, in)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, quote)
}

func (s *Server) handleCraft(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Type           string  `json:"type"`
		EnergyRequired float64 `json:"energyRequired"`
	}
	s.decodedAction(w, r, &in, func(ctx context.Context, userID string) (game.Snapshot, error) {
		return s.game.Craft(ctx, userID, strings.TrimSpace(in.Type), in.EnergyRequired)
	})
}

func (s *Server) handleCancelCraft(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Index int `json:"index"`
	}
	s.decodedAction(w, r, &in, func(ctx context.Context, userID string) (game.Snapshot, error) {
		return s.game.CancelCraft(ctx, userID, in.Index)
	})
}

func (s *Server) handleAllocateEnergy(w http.ResponseWriter, r *http.Request) {
	var in struct {
		CraftingPct float64 `json:"craftingPct"`
	}
	s.decodedAction(w, r, &in, func(ctx context.Context, userID string) (game.Snapshot, error) {
		return s.game.AllocateEnergy(ctx, userID, in.CraftingPct)
	})
}

func (s *Server) handleFMFuel(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Amount float64 `json:"amount"`
	}
	s.decodedAction(w, r, &in, func(ctx context.Context, userID string) (game.Snapshot, error) {
		return s.game.Fuel(ctx, userID, in.Amount)
	})
}

func (s *Server) handleFMAuto(w http.ResponseWriter, r *http.Request) {
	var in struct {
		AutoFuel bool `json:"autoFuel"`
	}
	s.decodedAction(w, r, &in, func(ctx context.Context, userID string) (game.Snapshot, error) {
		return s.game.SetAutoFuel(ctx, userID, in.AutoFuel)
	})
}

func (s *Server) handleSaveFleet(w http.ResponseWriter, r *http.Request) {
	var in game.FleetUpdate
	s.decodedAction(w, r, &in, func(ctx context.Context, userID string) (game.Snapshot, error) {
		return s.game.SaveFleet(ctx, userID, in)
	})
}

type actionFunc func(ctx context.Context, userID string) (game.Snapshot, error)

func (s *Server) simpleAction(w http.ResponseWriter, r *http.Request, fn actionFunc) {
	s.runAction(w, r, nil, false, fn)
}

func (s *Server) decodedAction(w http.ResponseWriter, r *http.Request, in any, fn actionFunc) {
	s.runAction(w, r, in, true, fn)
}

func (s *Server) optionalAction(w http.ResponseWriter, r *http.Request, in any, fn actionFunc) {
	s.runAction(w, r, in, false, fn)
}

func (s *Server) runAction(w http.ResponseWriter, r *http.Request, in any, required bool, fn actionFunc) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", err.Error())
		return
	}
	if in != nil {
		decode := decodeOptionalJSON
		if required {
			decode = decodeJSON
		}
		if err := decode(r, in); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
			return
		}
	}
	snap, err := fn(r.Context(), user.UserID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, gameResponse{Snapshot: snap})
}

func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, game.ErrNotStarted):
		writeError(w, http.StatusNotFound, "not_started", err.Error())
	case errors.Is(err, game.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
	case errors.Is(err, game.ErrInsufficientResources):
		writeError(w, http.StatusBadRequest, "insufficient_resources", err.Error())
	case errors.Is(err, game.ErrIllegalState):
		writeError(w, http.StatusBadRequest, "illegal_state", err.Error())
	case errors.Is(err, game.ErrStorageUnavailable):
		writeError(w, http.StatusServiceUnavailable, "storage_unavailable", "storage unavailable, try again later")
	case errors.Is(err, game.ErrTxConflict):
		writeError(w, http.StatusConflict, "conflict", err.Error())
	default:
		s.log.Error("request failed",
			"err", err,
			"path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()),
		)
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
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

// decodeOptionalJSON accepts an empty body.
func decodeOptionalJSON(r *http.Request, out any) error {
	if err := decodeJSON(r, out); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{"error": strings.TrimSpace(message), "code": code})
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
