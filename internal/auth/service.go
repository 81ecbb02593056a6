package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

var ErrSessionMismatch = errors.New("session does not match the current session")

const (
	DefaultTokenURL = "https://securetoken.googleapis.com"

	defaultRequestTimeout = 15 * time.Second
	maxErrorBodyBytes     = 64 << 10
	// refreshSkew renews tokens this long before they lapse.
	refreshSkew = time.Minute
)

// Service is the client side of the hosted identity backend. It never sees
// password hashes; credentials are forwarded and tokens are kept as issued.
type Service struct {
	baseURL      string
	tokenURL     string
	apiKey       string
	client       *http.Client
	nowFunc      func() time.Time
	sessionStore SessionStore

	sessMu  sync.RWMutex
	current *Session
}

type ServiceConfig struct {
	BaseURL        string
	TokenURL       string
	APIKey         string
	RequestTimeout time.Duration
	SessionStore   SessionStore
	HTTPClient     *http.Client
}

func NewService(cfg ServiceConfig) (*Service, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("identity backend base url is required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("parse identity backend base url: %w", err)
	}
	tokenURL := strings.TrimRight(strings.TrimSpace(cfg.TokenURL), "/")
	if tokenURL == "" {
		tokenURL = DefaultTokenURL
	}
	if _, err := url.Parse(tokenURL); err != nil {
		return nil, fmt.Errorf("parse token endpoint url: %w", err)
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("identity backend api key is required")
	}
	if cfg.SessionStore == nil {
		return nil, fmt.Errorf("session store is required")
	}

	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.RequestTimeout
		if timeout <= 0 {
			timeout = defaultRequestTimeout
		}
		client = &http.Client{Timeout: timeout}
	}

	return &Service{
		baseURL:      baseURL,
		tokenURL:     tokenURL,
		apiKey:       cfg.APIKey,
		client:       client,
		nowFunc:      time.Now,
		sessionStore: cfg.SessionStore,
	}, nil
}

// LoadSessionState restores the session persisted by a previous run.
func (s *Service) LoadSessionState() error {
	sess, err := s.sessionStore.Load()
	if err != nil {
		return fmt.Errorf("load session state: %w", err)
	}
	s.sessMu.Lock()
	s.current = sess
	s.sessMu.Unlock()
	return nil
}

func (s *Service) CurrentSession() (Session, bool) {
	s.sessMu.RLock()
	defer s.sessMu.RUnlock()
	if s.current == nil {
		return Session{}, false
	}
	return *s.current, true
}

type credentialRequest struct {
	Email             string `json:"email"`
	Password          string `json:"password"`
	ReturnSecureToken bool   `json:"returnSecureToken"`
}

type tokenResponse struct {
	LocalID      string `json:"localId"`
	Email        string `json:"email"`
	IDToken      string `json:"idToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    string `json:"expiresIn"`
}

func (s *Service) SignIn(ctx context.Context, email, password string) (Session, error) {
	return s.exchangeCredentials(ctx, "accounts:signInWithPassword", email, password)
}

func (s *Service) CreateIdentity(ctx context.Context, email, password string) (Session, error) {
	return s.exchangeCredentials(ctx, "accounts:signUp", email, password)
}

func (s *Service) exchangeCredentials(ctx context.Context, method, email, password string) (Session, error) {
	var resp tokenResponse
	req := credentialRequest{Email: email, Password: password, ReturnSecureToken: true}
	if err := s.post(ctx, method, req, &resp); err != nil {
		return Session{}, err
	}
	if resp.LocalID == "" || resp.IDToken == "" {
		return Session{}, fmt.Errorf("%s: response missing identity or token", method)
	}

	session := Session{
		UserID:       resp.LocalID,
		Email:        resp.Email,
		IDToken:      resp.IDToken,
		RefreshToken: resp.RefreshToken,
		ExpiresAt:    s.nowFunc().Add(parseExpiresIn(resp.ExpiresIn)),
	}
	if session.Email == "" {
		session.Email = email
	}

	s.sessMu.Lock()
	defer s.sessMu.Unlock()
	if err := s.sessionStore.Save(&session); err != nil {
		return Session{}, fmt.Errorf("persist session: %w", err)
	}
	s.current = &session
	return session, nil
}

// InvalidateSession ends the session on this device. Tokens issued by the
// backend simply expire.
func (s *Service) InvalidateSession(_ context.Context, session Session) error {
	s.sessMu.Lock()
	defer s.sessMu.Unlock()
	if s.current != nil && s.current.UserID != session.UserID {
		return ErrSessionMismatch
	}
	if err := s.sessionStore.Save(nil); err != nil {
		return fmt.Errorf("clear session state: %w", err)
	}
	s.current = nil
	return nil
}

type refreshRequest struct {
	GrantType    string `json:"grant_type"`
	RefreshToken string `json:"refresh_token"`
}

type refreshResponse struct {
	UserID       string `json:"user_id"`
	IDToken      string `json:"id_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    string `json:"expires_in"`
}

func (s *Service) needsRefresh(session Session) bool {
	if session.ExpiresAt.IsZero() || session.RefreshToken == "" {
		return false
	}
	return !s.nowFunc().Before(session.ExpiresAt.Add(-refreshSkew))
}

// RefreshSession exchanges the refresh token for a new ID token once the
// current one has lapsed. A session that is still valid is returned as is.
// The refreshed session replaces the persisted one when it is current.
func (s *Service) RefreshSession(ctx context.Context, session Session) (Session, error) {
	if !s.needsRefresh(session) {
		return session, nil
	}

	var resp refreshResponse
	req := refreshRequest{GrantType: "refresh_token", RefreshToken: session.RefreshToken}
	if err := s.postTo(ctx, s.tokenURL, "token", req, &resp); err != nil {
		return Session{}, err
	}
	if resp.IDToken == "" {
		return Session{}, fmt.Errorf("token: response missing id token")
	}
	if resp.UserID != "" && resp.UserID != session.UserID {
		return Session{}, ErrSessionMismatch
	}

	refreshed := session
	refreshed.IDToken = resp.IDToken
	if resp.RefreshToken != "" {
		refreshed.RefreshToken = resp.RefreshToken
	}
	refreshed.ExpiresAt = s.nowFunc().Add(parseExpiresIn(resp.ExpiresIn))

	s.sessMu.Lock()
	defer s.sessMu.Unlock()
	if s.current != nil && s.current.UserID == session.UserID {
		if err := s.sessionStore.Save(&refreshed); err != nil {
			return Session{}, fmt.Errorf("persist refreshed session: %w", err)
		}
		s.current = &refreshed
	}
	return refreshed, nil
}

// DeleteIdentity removes the identity on the backend, refreshing an expired
// ID token first.
func (s *Service) DeleteIdentity(ctx context.Context, session Session) error {
	if session.IDToken == "" {
		return ErrSessionMismatch
	}
	session, err := s.RefreshSession(ctx, session)
	if err != nil {
		return err
	}
	req := map[string]string{"idToken": session.IDToken}
	if err := s.post(ctx, "accounts:delete", req, nil); err != nil {
		return err
	}

	s.sessMu.Lock()
	defer s.sessMu.Unlock()
	if s.current != nil && s.current.UserID == session.UserID {
		if err := s.sessionStore.Save(nil); err != nil {
			return fmt.Errorf("clear session state: %w", err)
		}
		s.current = nil
	}
	return nil
}

func (s *Service) SendPasswordReset(ctx context.Context, email string) error {
	req := map[string]string{
		"requestType": "PASSWORD_RESET",
		"email":       email,
	}
	return s.post(ctx, "accounts:sendOobCode", req, nil)
}

type backendErrorBody struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (s *Service) post(ctx context.Context, method string, payload any, out any) error {
	return s.postTo(ctx, s.baseURL, method, payload, out)
}

func (s *Service) postTo(ctx context.Context, baseURL, method string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%s: encode request: %w", method, err)
	}

	endpoint := baseURL + "/v1/" + method + "?key=" + url.QueryEscape(s.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%s: build request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		var decoded backendErrorBody
		if err := json.Unmarshal(raw, &decoded); err == nil && decoded.Error.Message != "" {
			return ClassifyBackendCode(decoded.Error.Message)
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			return &Error{Code: CodeRateLimited, Message: http.StatusText(resp.StatusCode)}
		}
		return fmt.Errorf("%s: identity backend returned status %d", method, resp.StatusCode)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", method, err)
	}
	return nil
}

func parseExpiresIn(raw string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || secs <= 0 {
		return time.Hour
	}
	return time.Duration(secs) * time.Second
}
