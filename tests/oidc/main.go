// Command oidc runs a minimal OpenID Connect provider for integration
// tests of the Google sign-in flow. Tests queue the identity that the
// next authorization should mint via POST /test/next-user, then drive
// the browser flow against /authorize and /token.
package main

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/big"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"
)

const (
	fallbackIssuer      = "http://oidc:5555"
	fallbackClientID    = "tastemate-test"
	fallbackRedirectURI = "http://app:8080/api/auth/google/callback"

	codeTTL  = 2 * time.Minute
	tokenTTL = 10 * time.Minute
)

// queuedIdentity is the identity handed out by the next /authorize call.
type queuedIdentity struct {
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Sub           string `json:"sub"`
}

type issuedCode struct {
	identity    queuedIdentity
	nonce       string
	clientID    string
	redirectURI string
	issuedAt    time.Time
}

type provider struct {
	issuer      string
	clientID    string
	redirectURI string
	signingKey  *rsa.PrivateKey
	keyID       string

	mu     sync.Mutex
	queued *queuedIdentity
	byCode map[string]issuedCode
}

func main() {
	p, err := newProvider()
	if err != nil {
		log.Fatalf("oidc stub: %v", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", p.discovery)
	mux.HandleFunc("/authorize", p.authorize)
	mux.HandleFunc("/token", p.token)
	mux.HandleFunc("/keys", p.jwks)
	mux.HandleFunc("/test/next-user", p.queueIdentity)

	server := &http.Server{
		Addr:              ":5555",
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       30 * time.Second,
	}

	log.Printf("oidc stub listening on %s (issuer %s)", server.Addr, p.issuer)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
}

func newProvider() (*provider, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("generating signing key: %w", err)
	}
	keyID, err := randomString(8)
	if err != nil {
		return nil, fmt.Errorf("generating key id: %w", err)
	}

	return &provider{
		issuer:      envOr("OIDC_ISSUER_URL", fallbackIssuer),
		clientID:    envOr("OIDC_CLIENT_ID", fallbackClientID),
		redirectURI: envOr("OIDC_REDIRECT_URI", fallbackRedirectURI),
		signingKey:  key,
		keyID:       keyID,
		byCode:      map[string]issuedCode{},
	}, nil
}

func (p *provider) discovery(w http.ResponseWriter, r *http.Request) {
	respond(w, map[string]any{
		"issuer":                                p.issuer,
		"authorization_endpoint":                p.issuer + "/authorize",
		"token_endpoint":                        p.issuer + "/token",
		"jwks_uri":                              p.issuer + "/keys",
		"response_types_supported":              []string{"code"},
		"subject_types_supported":               []string{"public"},
		"id_token_signing_alg_values_supported": []string{"RS256"},
		"scopes_supported":                      []string{"openid", "email", "profile"},
		"token_endpoint_auth_methods_supported": []string{"client_secret_basic", "client_secret_post"},
	})
}

func (p *provider) authorize(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("response_type") != "code" {
		http.Error(w, "unsupported response_type", http.StatusBadRequest)
		return
	}
	clientID, redirectURI, state := q.Get("client_id"), q.Get("redirect_uri"), q.Get("state")
	if clientID == "" || redirectURI == "" || state == "" {
		http.Error(w, "missing parameters", http.StatusBadRequest)
		return
	}
	if p.redirectURI != "" && redirectURI != p.redirectURI {
		http.Error(w, "invalid redirect_uri", http.StatusBadRequest)
		return
	}

	identity, ok := p.takeQueued()
	if !ok {
		http.Error(w, "no identity queued, POST /test/next-user first", http.StatusBadRequest)
		return
	}
	if identity.Sub == "" {
		identity.Sub = "sub-" + mustRandomString(12)
	}

	code, err := randomString(16)
	if err != nil {
		http.Error(w, "failed to mint code", http.StatusInternalServerError)
		return
	}

	p.mu.Lock()
	p.byCode[code] = issuedCode{
		identity:    identity,
		nonce:       q.Get("nonce"),
		clientID:    clientID,
		redirectURI: redirectURI,
		issuedAt:    time.Now(),
	}
	p.mu.Unlock()

	target, err := url.Parse(redirectURI)
	if err != nil {
		http.Error(w, "invalid redirect_uri", http.StatusBadRequest)
		return
	}
	params := target.Query()
	params.Set("code", code)
	params.Set("state", state)
	target.RawQuery = params.Encode()
	http.Redirect(w, r, target.String(), http.StatusFound)
}

func (p *provider) token(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	if r.Form.Get("grant_type") != "authorization_code" {
		http.Error(w, "unsupported grant_type", http.StatusBadRequest)
		return
	}

	clientID := r.Form.Get("client_id")
	if clientID == "" {
		if id, _, ok := basicAuthClient(r.Header.Get("Authorization")); ok {
			clientID = id
		}
	}

	code := r.Form.Get("code")
	p.mu.Lock()
	grant, ok := p.byCode[code]
	delete(p.byCode, code)
	p.mu.Unlock()
	if !ok || time.Since(grant.issuedAt) > codeTTL {
		http.Error(w, "invalid code", http.StatusBadRequest)
		return
	}

	if clientID != "" && grant.clientID != "" && clientID != grant.clientID {
		http.Error(w, "invalid client_id", http.StatusUnauthorized)
		return
	}
	// Any client_secret is accepted; the single-use code gates the flow.
	if redirect := r.Form.Get("redirect_uri"); redirect != "" && grant.redirectURI != "" && redirect != grant.redirectURI {
		http.Error(w, "redirect_uri mismatch", http.StatusBadRequest)
		return
	}

	idToken, err := p.mintIDToken(grant)
	if err != nil {
		http.Error(w, "failed to sign token", http.StatusInternalServerError)
		return
	}
	accessToken, err := randomString(16)
	if err != nil {
		http.Error(w, "failed to mint token", http.StatusInternalServerError)
		return
	}

	respond(w, map[string]any{
		"access_token": accessToken,
		"token_type":   "Bearer",
		"expires_in":   int(tokenTTL.Seconds()),
		"id_token":     idToken,
	})
}

func (p *provider) jwks(w http.ResponseWriter, r *http.Request) {
	respond(w, map[string]any{
		"keys": []map[string]any{{
			"kty": "RSA",
			"use": "sig",
			"alg": "RS256",
			"kid": p.keyID,
			"n":   base64.RawURLEncoding.EncodeToString(p.signingKey.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(p.signingKey.PublicKey.E)).Bytes()),
		}},
	})
}

func (p *provider) queueIdentity(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var identity queuedIdentity
	if err := json.NewDecoder(r.Body).Decode(&identity); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	identity.Email = strings.TrimSpace(strings.ToLower(identity.Email))
	identity.Sub = strings.TrimSpace(identity.Sub)
	if identity.Email == "" {
		http.Error(w, "email required", http.StatusBadRequest)
		return
	}

	p.mu.Lock()
	p.queued = &identity
	p.mu.Unlock()

	w.WriteHeader(http.StatusNoContent)
}

func (p *provider) takeQueued() (queuedIdentity, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.queued == nil {
		return queuedIdentity{}, false
	}
	identity := *p.queued
	p.queued = nil
	return identity, true
}

func (p *provider) mintIDToken(grant issuedCode) (string, error) {
	now := time.Now()
	claims := map[string]any{
		"iss":            p.issuer,
		"sub":            grant.identity.Sub,
		"aud":            grant.clientID,
		"exp":            now.Add(tokenTTL).Unix(),
		"iat":            now.Unix(),
		"email":          grant.identity.Email,
		"email_verified": grant.identity.EmailVerified,
		"nonce":          grant.nonce,
	}
	header := map[string]any{"alg": "RS256", "typ": "JWT", "kid": p.keyID}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return "", err
	}
	claimsJSON, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}

	signingInput := base64.RawURLEncoding.EncodeToString(headerJSON) + "." + base64.RawURLEncoding.EncodeToString(claimsJSON)
	digest := sha256.Sum256([]byte(signingInput))
	signature, err := rsa.SignPKCS1v15(rand.Reader, p.signingKey, crypto.SHA256, digest[:])
	if err != nil {
		return "", err
	}
	return signingInput + "." + base64.RawURLEncoding.EncodeToString(signature), nil
}

func basicAuthClient(header string) (string, string, bool) {
	scheme, encoded, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Basic") {
		return "", "", false
	}
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", "", false
	}
	id, secret, found := strings.Cut(string(decoded), ":")
	if !found {
		return "", "", false
	}
	return id, secret, true
}

func randomString(length int) (string, error) {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func mustRandomString(length int) string {
	s, err := randomString(length)
	if err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return s
}

func respond(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}

func envOr(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
