package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"lukechampine.com/blake3"
)

// ErrRejected is an account request the identity provider refused
// (bad credentials, duplicate email, weak password).
var ErrRejected = errors.New("account request rejected")

// principalTTL bounds how long a verified token skips the round trip to
// /auth/v1/user. Revocation takes effect within this window.
const (
	principalTTL      = 30 * time.Second
	principalCacheMax = 4096
)

// SupabaseClient talks to the GoTrue endpoints of a Supabase project.
type SupabaseClient struct {
	baseURL    string
	anonKey    string
	httpClient *http.Client
	now        func() time.Time

	mu    sync.Mutex
	cache map[[32]byte]cachedPrincipal
}

type cachedPrincipal struct {
	principal Principal
	expires   time.Time
}

type Session struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	TokenType    string `json:"token_type"`
	User         User   `json:"user"`
}

type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Principal is the opaque identity the game keys ledgers by.
type Principal struct {
	UserID string
	Email  string
}

// gotrueError covers both error shapes GoTrue answers with.
type gotrueError struct {
	Msg              string `json:"msg"`
	Message          string `json:"message"`
	ErrorCode        string `json:"error_code"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func (e gotrueError) text() string {
	for _, s := range []string{e.Msg, e.Message, e.ErrorDescription, e.ErrorCode, e.Error} {
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return ""
}

func NewSupabaseClient(baseURL, anonKey string) *SupabaseClient {
	return &SupabaseClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		anonKey:    anonKey,
		httpClient: &http.Client{Timeout: 20 * time.Second},
		now:        time.Now,
		cache:      map[[32]byte]cachedPrincipal{},
	}
}

func (c *SupabaseClient) SignUp(ctx context.Context, email, password string) (Session, error) {
	var out Session
	err := c.do(ctx, http.MethodPost, "/auth/v1/signup", "", credentials(email, password), &out)
	return out, err
}

func (c *SupabaseClient) Login(ctx context.Context, email, password string) (Session, error) {
	var out Session
	err := c.do(ctx, http.MethodPost, "/auth/v1/token?grant_type=password", "", credentials(email, password), &out)
	return out, err
}

// Authenticate resolves a bearer token to its user. Successful lookups are
// cached by token hash for principalTTL; failures are never cached.
func (c *SupabaseClient) Authenticate(ctx context.Context, accessToken string) (Principal, error) {
	accessToken = strings.TrimSpace(accessToken)
	if accessToken == "" {
		return Principal{}, ErrInvalidToken
	}
	key := blake3.Sum256([]byte(accessToken))
	now := c.now()

	c.mu.Lock()
	if hit, ok := c.cache[key]; ok && now.Before(hit.expires) {
		c.mu.Unlock()
		return hit.principal, nil
	}
	c.mu.Unlock()

	var user User
	if err := c.do(ctx, http.MethodGet, "/auth/v1/user", accessToken, nil, &user); err != nil {
		if errors.Is(err, ErrRejected) {
			return Principal{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
		}
		return Principal{}, err
	}
	if user.ID == "" {
		return Principal{}, ErrInvalidToken
	}
	p := Principal{UserID: user.ID, Email: user.Email}

	c.mu.Lock()
	if len(c.cache) >= principalCacheMax {
		for k, v := range c.cache {
			if !now.Before(v.expires) {
				delete(c.cache, k)
			}
		}
		if len(c.cache) >= principalCacheMax {
			c.cache = map[[32]byte]cachedPrincipal{}
		}
	}
	c.cache[key] = cachedPrincipal{principal: p, expires: now.Add(principalTTL)}
	c.mu.Unlock()
	return p, nil
}

func credentials(email, password string) map[string]string {
	return map[string]string{"email": email, "password": password}
}

// do sends one GoTrue request. 4xx answers become ErrRejected carrying the
// provider's message; transport failures and 5xx are returned as-is.
func (c *SupabaseClient) do(ctx context.Context, method, path, bearer string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("apikey", c.anonKey)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("supabase %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		var ge gotrueError
		msg := strings.TrimSpace(string(raw))
		if json.Unmarshal(raw, &ge) == nil && ge.text() != "" {
			msg = ge.text()
		}
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return fmt.Errorf("%w: %s", ErrRejected, msg)
		}
		return fmt.Errorf("supabase status %d: %s", resp.StatusCode, msg)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode supabase response: %w", err)
	}
	return nil
}
