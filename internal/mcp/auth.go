package mcp

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Credentials is the opaque bag of fields an AuthProvider consumes. Which
// fields matter depends on the concrete provider (token for Bearer;
// clientId/timestamp/signature/body for HMAC).
type Credentials map[string]string

// AuthProvider authenticates a set of credentials into an AuthContext, or
// reports failure. Returning (nil, nil) is never valid — failure is always
// a non-nil error.
type AuthProvider interface {
	Authenticate(creds Credentials) (*AuthContext, error)
	Name() string
}

// AuditEvent records one authenticate/authorize outcome.
type AuditEvent struct {
	Kind       string // "authenticate" | "authorize"
	ClientID   string
	Timestamp  time.Time
	Permission Permission
	Resource   string
	Allowed    bool
	Reason     string
}

// AuditSink receives audit events. Implementations must not block the
// caller for long; the default logging sink just logs.
type AuditSink interface {
	Record(event AuditEvent)
}

// SlogAuditSink writes audit events through log/slog, matching the
// teacher's structured-logging convention everywhere else in this repo.
type SlogAuditSink struct {
	Logger *slog.Logger
}

// Record implements AuditSink.
func (s *SlogAuditSink) Record(event AuditEvent) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("mcp audit",
		"kind", event.Kind,
		"client_id", event.ClientID,
		"permission", string(event.Permission),
		"resource", event.Resource,
		"allowed", event.Allowed,
		"reason", event.Reason,
	)
}

// NoneProvider authenticates every request with a default role. Used for
// local/dev deployments with no access control.
type NoneProvider struct {
	Role *Role
}

// NewNoneProvider constructs a NoneProvider with the default full-access role.
func NewNoneProvider() *NoneProvider {
	return &NoneProvider{Role: DefaultRole()}
}

// Name implements AuthProvider.
func (p *NoneProvider) Name() string { return "none" }

// Authenticate implements AuthProvider.
func (p *NoneProvider) Authenticate(creds Credentials) (*AuthContext, error) {
	return &AuthContext{ClientID: creds["clientId"], Authenticated: true, Role: p.Role}, nil
}

// BearerProvider validates credentials containing a "token" field against a
// registry of SHA-256(token) -> Role, comparing hashes in constant time.
type BearerProvider struct {
	mu         sync.RWMutex
	tokenRoles map[string]*Role // hex(sha256(token)) -> role
}

// NewBearerProvider constructs an empty bearer-token provider.
func NewBearerProvider() *BearerProvider {
	return &BearerProvider{tokenRoles: make(map[string]*Role)}
}

// RegisterToken associates a plaintext token with a role. Only the hash is
// retained.
func (p *BearerProvider) RegisterToken(token string, role *Role) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokenRoles[hashToken(token)] = role
}

// Name implements AuthProvider.
func (p *BearerProvider) Name() string { return "bearer" }

// Authenticate implements AuthProvider.
func (p *BearerProvider) Authenticate(creds Credentials) (*AuthContext, error) {
	token := creds["token"]
	if token == "" {
		return nil, fmt.Errorf("bearer: missing token")
	}
	candidate := hashToken(token)

	p.mu.RLock()
	defer p.mu.RUnlock()
	for stored, role := range p.tokenRoles {
		if subtle.ConstantTimeCompare([]byte(stored), []byte(candidate)) == 1 {
			return &AuthContext{ClientID: creds["clientId"], Authenticated: true, Role: role}, nil
		}
	}
	return nil, fmt.Errorf("bearer: invalid token")
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// BearerJWTProvider validates a signed JWT bearer token instead of an
// opaque shared secret, for deployments that issue verifiable claims
// (role, clientId) rather than maintaining a server-side token table.
type BearerJWTProvider struct {
	secret     []byte
	roleClaim  string
	rolesByJWT map[string]*Role
}

// NewBearerJWTProvider constructs a JWT-backed bearer provider. roles maps
// the "role" claim value found in the token to a Role.
func NewBearerJWTProvider(secret []byte, roles map[string]*Role) *BearerJWTProvider {
	return &BearerJWTProvider{secret: secret, roleClaim: "role", rolesByJWT: roles}
}

// Name implements AuthProvider.
func (p *BearerJWTProvider) Name() string { return "bearer-jwt" }

// Authenticate implements AuthProvider.
func (p *BearerJWTProvider) Authenticate(creds Credentials) (*AuthContext, error) {
	raw := creds["token"]
	if raw == "" {
		return nil, fmt.Errorf("bearer-jwt: missing token")
	}

	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return p.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("bearer-jwt: %w", err)
	}

	roleName, _ := claims[p.roleClaim].(string)
	role, ok := p.rolesByJWT[roleName]
	if !ok {
		return nil, fmt.Errorf("bearer-jwt: unknown role %q", roleName)
	}

	clientID, _ := claims["clientId"].(string)
	userID, _ := claims["sub"].(string)
	return &AuthContext{ClientID: clientID, Authenticated: true, Role: role, UserID: userID}, nil
}

// HMACProvider validates credentials containing clientId/timestamp/
// signature/body: signature = HMAC-SHA256(secret, clientId:timestamp:body),
// compared in constant time, with a ±300s timestamp skew allowance.
type HMACProvider struct {
	secret     []byte
	skew       time.Duration
	rolesByID  map[string]*Role
	defaultRole *Role
}

// NewHMACProvider constructs an HMAC-signed-request provider.
func NewHMACProvider(secret []byte, rolesByClientID map[string]*Role) *HMACProvider {
	return &HMACProvider{
		secret:    secret,
		skew:      300 * time.Second,
		rolesByID: rolesByClientID,
	}
}

// Name implements AuthProvider.
func (p *HMACProvider) Name() string { return "hmac" }

// Authenticate implements AuthProvider.
func (p *HMACProvider) Authenticate(creds Credentials) (*AuthContext, error) {
	clientID := creds["clientId"]
	timestampStr := creds["timestamp"]
	signature := creds["signature"]
	body := creds["body"]

	if clientID == "" || timestampStr == "" || signature == "" {
		return nil, fmt.Errorf("hmac: missing clientId/timestamp/signature")
	}

	timestamp, err := strconv.ParseInt(timestampStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("hmac: invalid timestamp: %w", err)
	}

	now := time.Now().Unix()
	if math.Abs(float64(now-timestamp)) > p.skew.Seconds() {
		return nil, fmt.Errorf("hmac: timestamp outside allowed skew")
	}

	mac := hmac.New(sha256.New, p.secret)
	mac.Write([]byte(clientID + ":" + timestampStr + ":" + body))
	expected := hex.EncodeToString(mac.Sum(nil))

	if subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) != 1 {
		return nil, fmt.Errorf("hmac: signature mismatch")
	}

	role := p.rolesByID[clientID]
	if role == nil {
		role = p.defaultRole
	}
	if role == nil {
		role = DefaultRole()
	}
	return &AuthContext{ClientID: clientID, Authenticated: true, Role: role}, nil
}

// Authorizer wraps an AuthProvider plus the method->permission mapping and
// per-tool allow/deny enforcement, emitting an AuditEvent for every
// authenticate/authorize outcome.
type Authorizer struct {
	Provider AuthProvider
	Sinks    []AuditSink
}

// NewAuthorizer constructs an Authorizer.
func NewAuthorizer(provider AuthProvider, sinks ...AuditSink) *Authorizer {
	return &Authorizer{Provider: provider, Sinks: sinks}
}

func (a *Authorizer) audit(event AuditEvent) {
	for _, sink := range a.Sinks {
		sink.Record(event)
	}
}

// Authenticate authenticates credentials, emitting an audit event.
func (a *Authorizer) Authenticate(creds Credentials) (*AuthContext, error) {
	ctx, err := a.Provider.Authenticate(creds)
	allowed := err == nil
	reason := ""
	if err != nil {
		reason = err.Error()
	}
	clientID := creds["clientId"]
	if ctx != nil {
		clientID = ctx.ClientID
	}
	a.audit(AuditEvent{Kind: "authenticate", ClientID: clientID, Timestamp: time.Now(), Allowed: allowed, Reason: reason})
	return ctx, err
}

// Authorize checks whether ctx is permitted to invoke method against an
// optional resource (the tool name, for tools/call). Lifecycle methods
// always pass without auditing, per spec.md §4.4.
func (a *Authorizer) Authorize(ctx *AuthContext, method, resource string) bool {
	perm, lifecycle := PermissionFor(method)
	if lifecycle {
		return true
	}

	allowed := ctx != nil && ctx.Authenticated && ctx.Role.Has(perm)
	if allowed && perm == PermToolsCall && resource != "" {
		allowed = ctx.Role.AllowsTool(resource)
	}

	clientID := ""
	if ctx != nil {
		clientID = ctx.ClientID
	}
	reason := ""
	if !allowed {
		reason = "permission denied"
	}
	a.audit(AuditEvent{
		Kind: "authorize", ClientID: clientID, Timestamp: time.Now(),
		Permission: perm, Resource: resource, Allowed: allowed, Reason: reason,
	})
	return allowed
}
