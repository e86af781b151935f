package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"altanian/internal/auth"
	"altanian/internal/game"
)

// Game endpoint paths, relative to the API base URL.
const (
	PathStart          = "/v1/game/start"
	PathState          = "/v1/game/state"
	PathTick           = "/v1/game/tick"
	PathClick          = "/v1/game/click"
	PathBuyGenerator   = "/v1/game/buy-generator"
	PathUpgradeShip    = "/v1/game/upgrade-ship"
	PathBuildShip      = "/v1/game/build-ship"
	PathLaunch         = "/v1/game/launch"
	PathLand           = "/v1/game/land"
	PathTravelTo       = "/v1/game/travel-to"
	PathPlanetClick    = "/v1/game/planet-click"
	PathSystem         = "/v1/game/system"
	PathTravel         = "/v1/game/travel"
	PathTravelCost     = "/v1/game/travel-cost"
	PathCraft          = "/v1/game/craft"
	PathCancelCraft    = "/v1/game/cancel-craft"
	PathAllocateEnergy = "/v1/game/allocate-energy"
	PathFMFuel         = "/v1/game/fm/fuel"
	PathFMAuto         = "/v1/game/fm/auto"
	PathSaveFleet      = "/v1/game/save-fleet"
	PathStory          = "/v1/game/story"
)

// APIError is a structured failure returned by the server.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api status %d (%s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("api status %d: %s", e.Status, e.Message)
}

// IsAPIError reports whether err came back from the server, as opposed to
// a transport failure.
func IsAPIError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr)
}

// GameResponse is the {game, rates, digest} envelope of game endpoints.
type GameResponse struct {
	Game        game.Ledger `json:"game"`
	Rates       game.Rates  `json:"rates"`
	Digest      string      `json:"digest"`
	Gained      *game.Gain  `json:"gained,omitempty"`
	SystemIndex *int        `json:"systemIndex,omitempty"`
}

type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *Client) Signup(ctx context.Context, email, password string) (auth.Session, error) {
	var out auth.Session
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/auth/signup", "", map[string]any{
		"email":    email,
		"password": password,
	}, &out, "")
	return out, err
}

func (c *Client) Login(ctx context.Context, email, password string) (auth.Session, error) {
	var out auth.Session
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/auth/login", "", map[string]any{
		"email":    email,
		"password": password,
	}, &out, "")
	return out, err
}

func (c *Client) State(ctx context.Context, accessToken string) (GameResponse, error) {
	var out GameResponse
	err := c.jsonRequest(ctx, http.MethodGet, PathState, accessToken, nil, &out, "")
	return out, err
}

// Action posts body to a game endpoint that answers with the game envelope.
func (c *Client) Action(ctx context.Context, accessToken, path string, body map[string]any, idem string) (GameResponse, error) {
	var out GameResponse
	if body == nil {
		body = map[string]any{}
	}
	err := c.jsonRequest(ctx, http.MethodPost, path, accessToken, body, &out, idem)
	return out, err
}

func (c *Client) System(ctx context.Context, accessToken string, index *int) (game.System, error) {
	path := PathSystem
	if index != nil {
		path += "?index=" + strconv.Itoa(*index)
	}
	var out game.System
	err := c.jsonRequest(ctx, http.MethodGet, path, accessToken, nil, &out, "")
	return out, err
}

func (c *Client) TravelCost(ctx context.Context, accessToken string, req game.TravelRequest) (game.TravelQuote, error) {
	var out game.TravelQuote
	err := c.jsonRequest(ctx, http.MethodPost, PathTravelCost, accessToken, req, &out, "")
	return out, err
}

func (c *Client) Story(ctx context.Context, accessToken string) (game.StoryView, error) {
	var out game.StoryView
	err := c.jsonRequest(ctx, http.MethodGet, PathStory, accessToken, nil, &out, "")
	return out, err
}

func (c *Client) Do(ctx context.Context, method, path, accessToken string, body map[string]any, idem string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, method, path, accessToken, body, &out, idem)
	return out, err
}

func (c *Client) jsonRequest(ctx context.Context, method, path, accessToken string, in any, out any, idem string) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}
	if idem != "" {
		req.Header.Set("Idempotency-Key", idem)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		apiErr := &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
		var structured struct {
			Error string `json:"error"`
			Code  string `json:"code"`
		}
		if json.Unmarshal(raw, &structured) == nil && structured.Error != "" {
			apiErr.Message = structured.Error
			apiErr.Code = structured.Code
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
