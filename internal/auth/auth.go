package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ignite/marketplace-ops/internal/config"
	"github.com/ignite/marketplace-ops/internal/pkg/httputil"
	"github.com/ignite/marketplace-ops/internal/pkg/logger"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const googleUserInfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"

// GoogleUserInfo represents the user info returned by Google
type GoogleUserInfo struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	VerifiedEmail bool   `json:"verified_email"`
	Name          string `json:"name"`
	HD            string `json:"hd"` // Hosted domain (GSuite domain)
}

// Session represents an authenticated console session
type Session struct {
	UserID    string    `json:"user_id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Principal is whoever a request acts as: a console user or a service
// holding an API key.
type Principal struct {
	Kind    string `json:"kind"` // "user" or "service"
	Subject string `json:"subject"`
}

type principalKey struct{}

// WithPrincipal returns ctx carrying p.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the principal stored on ctx.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// Actor names the caller for audit fields, "anonymous" when auth is off.
func Actor(ctx context.Context) string {
	if p, ok := PrincipalFrom(ctx); ok {
		return p.Subject
	}
	return "anonymous"
}

// AuthManager authenticates admin API requests. Console users sign in with
// Google OAuth and carry a session cookie; services send a bearer API key.
type AuthManager struct {
	config       config.AuthConfig
	oauth2Config *oauth2.Config
	sessions     map[string]*Session
	sessionMu    sync.RWMutex
	apiKeys      []string
	userInfoURL  string
	httpClient   *http.Client
	now          func() time.Time
}

// NewAuthManager creates a new authentication manager
func NewAuthManager(cfg config.AuthConfig) *AuthManager {
	oauth2Config := &oauth2.Config{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  strings.TrimRight(cfg.BaseURL, "/") + "/auth/callback",
		Scopes: []string{
			"https://www.googleapis.com/auth/userinfo.email",
			"https://www.googleapis.com/auth/userinfo.profile",
		},
		Endpoint: google.Endpoint,
	}

	keys := make([]string, 0, len(cfg.APIKeys))
	for _, k := range cfg.APIKeys {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}

	return &AuthManager{
		config:       cfg,
		oauth2Config: oauth2Config,
		sessions:     make(map[string]*Session),
		apiKeys:      keys,
		userInfoURL:  googleUserInfoURL,
		httpClient:   &http.Client{Timeout: 10 * time.Second},
		now:          time.Now,
	}
}

// randomToken returns 32 random bytes, URL-safe encoded.
func randomToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

// HandleLogin initiates the Google OAuth flow
func (am *AuthManager) HandleLogin(w http.ResponseWriter, r *http.Request) {
	state, err := randomToken()
	if err != nil {
		httputil.InternalError(w, err)
		return
	}

	// Store state in a cookie for verification
	http.SetCookie(w, &http.Cookie{
		Name:     "oauth_state",
		Value:    state,
		Path:     "/",
		MaxAge:   300,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	opts := []oauth2.AuthCodeOption{oauth2.AccessTypeOnline}
	if am.config.AllowedDomain != "" {
		opts = append(opts, oauth2.SetAuthURLParam("hd", am.config.AllowedDomain))
	}
	http.Redirect(w, r, am.oauth2Config.AuthCodeURL(state, opts...), http.StatusTemporaryRedirect)
}

// HandleCallback processes the OAuth callback from Google
func (am *AuthManager) HandleCallback(w http.ResponseWriter, r *http.Request) {
	stateCookie, err := r.Cookie("oauth_state")
	if err != nil || r.URL.Query().Get("state") != stateCookie.Value {
		logger.Warn("auth: invalid oauth state")
		http.Redirect(w, r, "/?error=invalid_state", http.StatusTemporaryRedirect)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:   "oauth_state",
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	})

	if errMsg := r.URL.Query().Get("error"); errMsg != "" {
		logger.Warn("auth: google returned error", "error", errMsg)
		http.Redirect(w, r, "/?error=oauth_denied", http.StatusTemporaryRedirect)
		return
	}

	token, err := am.oauth2Config.Exchange(r.Context(), r.URL.Query().Get("code"))
	if err != nil {
		logger.Warn("auth: code exchange failed", "error", err)
		http.Redirect(w, r, "/?error=exchange_failed", http.StatusTemporaryRedirect)
		return
	}

	userInfo, err := am.getUserInfo(r.Context(), token.AccessToken)
	if err != nil {
		logger.Warn("auth: user info failed", "error", err)
		http.Redirect(w, r, "/?error=userinfo_failed", http.StatusTemporaryRedirect)
		return
	}

	if !am.domainAllowed(userInfo.Email) {
		logger.Warn("auth: domain not allowed", "email", userInfo.Email, "allowed", am.config.AllowedDomain)
		http.Redirect(w, r, "/?error=domain_not_allowed", http.StatusTemporaryRedirect)
		return
	}

	sessionID, err := randomToken()
	if err != nil {
		httputil.InternalError(w, err)
		return
	}

	now := am.now()
	am.sessionMu.Lock()
	am.sessions[sessionID] = &Session{
		UserID:    userInfo.ID,
		Email:     userInfo.Email,
		Name:      userInfo.Name,
		CreatedAt: now,
		ExpiresAt: now.Add(time.Duration(am.config.CookieMaxAge) * time.Second),
	}
	am.sessionMu.Unlock()

	logger.Info("auth: user logged in", "email", userInfo.Email)

	http.SetCookie(w, &http.Cookie{
		Name:     am.config.CookieName,
		Value:    sessionID,
		Path:     "/",
		MaxAge:   am.config.CookieMaxAge,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, "/", http.StatusTemporaryRedirect)
}

func (am *AuthManager) domainAllowed(email string) bool {
	if am.config.AllowedDomain == "" {
		return true
	}
	parts := strings.Split(email, "@")
	return len(parts) == 2 && strings.EqualFold(parts[1], am.config.AllowedDomain)
}

// HandleLogout logs out the user
func (am *AuthManager) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(am.config.CookieName); err == nil {
		am.sessionMu.Lock()
		delete(am.sessions, cookie.Value)
		am.sessionMu.Unlock()
	}

	http.SetCookie(w, &http.Cookie{
		Name:   am.config.CookieName,
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	})

	http.Redirect(w, r, "/", http.StatusTemporaryRedirect)
}

// HandleUserInfo returns the caller's identity as JSON
func (am *AuthManager) HandleUserInfo(w http.ResponseWriter, r *http.Request) {
	p, ok := am.Authenticate(r)
	if !ok {
		httputil.JSON(w, http.StatusUnauthorized, map[string]interface{}{"authenticated": false})
		return
	}
	httputil.OK(w, map[string]interface{}{
		"authenticated": true,
		"principal":     p,
	})
}

// GetSession returns the session for the current request, or nil if not authenticated
func (am *AuthManager) GetSession(r *http.Request) *Session {
	cookie, err := r.Cookie(am.config.CookieName)
	if err != nil {
		return nil
	}

	am.sessionMu.RLock()
	session, exists := am.sessions[cookie.Value]
	am.sessionMu.RUnlock()

	if !exists {
		return nil
	}

	if am.now().After(session.ExpiresAt) {
		am.sessionMu.Lock()
		delete(am.sessions, cookie.Value)
		am.sessionMu.Unlock()
		return nil
	}

	return session
}

// Authenticate resolves the principal of r from its bearer API key or its
// session cookie.
func (am *AuthManager) Authenticate(r *http.Request) (Principal, bool) {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		if i := am.matchKey(strings.TrimPrefix(h, "Bearer ")); i >= 0 {
			return Principal{Kind: "service", Subject: fmt.Sprintf("api-key-%d", i+1)}, true
		}
		return Principal{}, false
	}
	if s := am.GetSession(r); s != nil {
		return Principal{Kind: "user", Subject: s.Email}, true
	}
	return Principal{}, false
}

// matchKey returns the index of key in the configured keys, or -1. Every
// key is compared in constant time.
func (am *AuthManager) matchKey(key string) int {
	found := -1
	for i, k := range am.apiKeys {
		if subtle.ConstantTimeCompare([]byte(k), []byte(key)) == 1 && found < 0 {
			found = i
		}
	}
	return found
}

// RequireAuth is middleware that rejects unauthenticated requests with 401
// and stores the principal on the request context.
func (am *AuthManager) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := am.Authenticate(r)
		if !ok {
			httputil.Error(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
	})
}

// getUserInfo fetches the user's profile from Google
func (am *AuthManager) getUserInfo(ctx context.Context, accessToken string) (*GoogleUserInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, am.userInfoURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := am.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to get user info: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("google API error: HTTP %d", resp.StatusCode)
	}

	var userInfo GoogleUserInfo
	if err := json.Unmarshal(body, &userInfo); err != nil {
		return nil, fmt.Errorf("failed to parse user info: %w", err)
	}
	if userInfo.Email == "" || !userInfo.VerifiedEmail {
		return nil, fmt.Errorf("google account has no verified email")
	}

	return &userInfo, nil
}

// OAuthEnabled reports whether console sign-in is configured.
func (am *AuthManager) OAuthEnabled() bool {
	return am.oauth2Config.ClientID != ""
}

// ValidateCredentials probes Google's token endpoint with a dummy code so
// that rotated OAuth client credentials fail at boot instead of at the
// first login.
func (am *AuthManager) ValidateCredentials(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	_, err := am.oauth2Config.Exchange(ctx, "validation_probe")
	if err == nil {
		return nil
	}
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		switch re.ErrorCode {
		case "invalid_grant", "invalid_request", "redirect_uri_mismatch":
			return nil
		case "invalid_client":
			return fmt.Errorf("google OAuth client credentials rejected")
		}
	}
	return fmt.Errorf("unexpected response from google token endpoint: %w", err)
}

// CleanupExpiredSessions removes expired sessions every five minutes until
// ctx is done.
func (am *AuthManager) CleanupExpiredSessions(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Minute)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				am.expireSessions()
			}
		}
	}()
}

func (am *AuthManager) expireSessions() int {
	am.sessionMu.Lock()
	defer am.sessionMu.Unlock()

	now := am.now()
	removed := 0
	for id, session := range am.sessions {
		if now.After(session.ExpiresAt) {
			delete(am.sessions, id)
			removed++
		}
	}
	return removed
}
