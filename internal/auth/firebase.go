package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

const (
	defaultSignUpURL = "https://identitytoolkit.googleapis.com/v1/accounts:signUp"
	defaultTokenURL  = "https://securetoken.googleapis.com/v1/token"
)

// FirebaseProvider signs in anonymously against Firebase Authentication and
// refreshes the ID token through the secure token service.
type FirebaseProvider struct {
	apiKey      string
	sessionPath string
	signUpURL   string
	tokenURL    string
	httpClient  *http.Client
}

// FirebaseOption configures a FirebaseProvider.
type FirebaseOption func(*FirebaseProvider)

// WithSessionFile reuses and persists the anonymous session at path.
func WithSessionFile(path string) FirebaseOption {
	return func(p *FirebaseProvider) { p.sessionPath = path }
}

// WithEndpoints overrides the sign-up and token URLs.
func WithEndpoints(signUpURL, tokenURL string) FirebaseOption {
	return func(p *FirebaseProvider) {
		p.signUpURL = signUpURL
		p.tokenURL = tokenURL
	}
}

// NewFirebaseProvider returns a provider for the project owning apiKey.
func NewFirebaseProvider(apiKey string, opts ...FirebaseOption) *FirebaseProvider {
	p := &FirebaseProvider{
		apiKey:     apiKey,
		signUpURL:  defaultSignUpURL,
		tokenURL:   defaultTokenURL,
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *FirebaseProvider) withKey(endpoint string) string {
	sep := "?"
	if strings.Contains(endpoint, "?") {
		sep = "&"
	}
	return endpoint + sep + "key=" + url.QueryEscape(p.apiKey)
}

// oauth2Config returns the refresh configuration. The secure token service
// speaks the standard refresh_token grant with the API key in the URL.
func (p *FirebaseProvider) oauth2Config() *oauth2.Config {
	return &oauth2.Config{
		Endpoint: oauth2.Endpoint{
			TokenURL:  p.withKey(p.tokenURL),
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// SignInAnonymously implements Provider. A saved session whose refresh
// token still works is reused; otherwise a new anonymous user is created.
func (p *FirebaseProvider) SignInAnonymously(ctx context.Context) (Identity, oauth2.TokenSource, error) {
	if p.apiKey == "" {
		return Identity{}, nil, fmt.Errorf("firebase api key is not configured")
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
	cfg := p.oauth2Config()

	if id, ts, ok := p.restore(ctx, cfg); ok {
		return id, ts, nil
	}

	tok, uid, err := p.signUp(ctx)
	if err != nil {
		return Identity{}, nil, err
	}
	if p.sessionPath != "" {
		if err := saveSession(p.sessionPath, &sessionRecord{Provider: ProviderFirebase, UID: uid, Token: tok}); err != nil {
			return Identity{}, nil, err
		}
	}
	return Identity{UID: uid, Provider: ProviderFirebase}, p.tokenSource(ctx, cfg, tok, uid), nil
}

func (p *FirebaseProvider) tokenSource(ctx context.Context, cfg *oauth2.Config, tok *oauth2.Token, uid string) oauth2.TokenSource {
	return &savingTokenSource{ts: cfg.TokenSource(ctx, tok), path: p.sessionPath, uid: uid, last: tok.AccessToken}
}

func (p *FirebaseProvider) restore(ctx context.Context, cfg *oauth2.Config) (Identity, oauth2.TokenSource, bool) {
	if p.sessionPath == "" {
		return Identity{}, nil, false
	}
	rec, err := loadSession(p.sessionPath)
	if err != nil || rec == nil || rec.Provider != ProviderFirebase || rec.Token == nil || rec.Token.RefreshToken == "" {
		return Identity{}, nil, false
	}
	ts := p.tokenSource(ctx, cfg, rec.Token, rec.UID)
	tok, err := ts.Token()
	if err != nil {
		return Identity{}, nil, false
	}
	claims, err := parseIDToken(tok.AccessToken)
	if err != nil || claims.uid() != rec.UID {
		return Identity{}, nil, false
	}
	return Identity{UID: rec.UID, Provider: ProviderFirebase}, ts, true
}

type signUpResponse struct {
	IDToken      string `json:"idToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    string `json:"expiresIn"`
	LocalID      string `json:"localId"`
}

func (p *FirebaseProvider) signUp(ctx context.Context) (*oauth2.Token, string, error) {
	body, _ := json.Marshal(map[string]any{"returnSecureToken": true})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.withKey(p.signUpURL), bytes.NewReader(body))
	if err != nil {
		return nil, "", fmt.Errorf("creating sign-up request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("sign-up request failed: %w", err)
	}
	data, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, "", fmt.Errorf("reading sign-up response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("identity toolkit error %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var out signUpResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, "", fmt.Errorf("decoding sign-up response: %w", err)
	}
	if out.IDToken == "" || out.LocalID == "" {
		return nil, "", fmt.Errorf("sign-up response carries no identity")
	}

	claims, err := parseIDToken(out.IDToken)
	if err != nil {
		return nil, "", err
	}
	if uid := claims.uid(); uid != "" && uid != out.LocalID {
		return nil, "", fmt.Errorf("id token subject %q does not match user %q", uid, out.LocalID)
	}

	tok := &oauth2.Token{
		AccessToken:  out.IDToken,
		TokenType:    "Bearer",
		RefreshToken: out.RefreshToken,
		Expiry:       claims.expiry(),
	}
	if secs, err := strconv.Atoi(out.ExpiresIn); err == nil && secs > 0 {
		tok.Expiry = time.Now().Add(time.Duration(secs) * time.Second)
	}
	return tok, out.LocalID, nil
}

// idClaims are the ID token claims the client reads. Signatures are checked
// by the database, not here.
type idClaims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

func (c *idClaims) uid() string {
	if c.UserID != "" {
		return c.UserID
	}
	return c.Subject
}

func (c *idClaims) expiry() time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}

func parseIDToken(raw string) (*idClaims, error) {
	claims := &idClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return nil, fmt.Errorf("parsing id token: %w", err)
	}
	return claims, nil
}
