package httpapi

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"github.com/marcelg7/hayacs-sub004/internal/persistence"
)

const (
	dashboardSessionCookieName = "acsd_console_session"
	dashboardSessionTTL        = 12 * time.Hour
	dashboardUsernamePrefix    = "admin-"
	dashboardPasswordHashAlgo  = "bcrypt"
	dashboardBCryptCost        = 12
	dashboardCredentialRowID   = 1
)

// DashboardCredentialInitResult reports how the operator credential was
// obtained at startup. PasswordPlaintext is only set when the credential was
// created on this boot, so the caller can surface it exactly once.
type DashboardCredentialInitResult struct {
	Username          string
	PasswordHash      string
	PasswordPlaintext string
	InitializedNow    bool
	EnvIgnored        bool
}

// InitializeDashboardCredentials loads the persisted operator credential.
// On first boot it creates one from the environment, generating a random
// username and password for anything left blank. Once a credential row
// exists the environment is ignored; rotating the operator password means
// clearing the row.
func InitializeDashboardCredentials(
	ctx context.Context,
	queries *persistence.Queries,
	envUsername string,
	envPassword string,
) (DashboardCredentialInitResult, error) {
	if queries == nil {
		return DashboardCredentialInitResult{}, errors.New("dashboard credential queries is required")
	}

	record, err := queries.GetDashboardCredential(ctx)
	if err == nil {
		if record.Username == "" || record.PasswordHash == "" {
			return DashboardCredentialInitResult{}, errors.New("persisted dashboard credential is invalid")
		}
		if !strings.EqualFold(record.HashAlgo, dashboardPasswordHashAlgo) {
			return DashboardCredentialInitResult{}, fmt.Errorf(
				"persisted dashboard credential hash algorithm %q is unsupported", record.HashAlgo)
		}
		return DashboardCredentialInitResult{
			Username:     record.Username,
			PasswordHash: record.PasswordHash,
			EnvIgnored:   envUsername != "" || envPassword != "",
		}, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return DashboardCredentialInitResult{}, fmt.Errorf("load persisted dashboard credential: %w", err)
	}

	username := strings.TrimSpace(envUsername)
	if username == "" {
		suffix, err := randomHex(4)
		if err != nil {
			return DashboardCredentialInitResult{}, err
		}
		username = dashboardUsernamePrefix + suffix
	}
	password := envPassword
	if password == "" {
		generated, err := randomHex(24)
		if err != nil {
			return DashboardCredentialInitResult{}, err
		}
		password = generated
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), dashboardBCryptCost)
	if err != nil {
		return DashboardCredentialInitResult{}, fmt.Errorf("hash dashboard password: %w", err)
	}
	nowMS := time.Now().UnixMilli()
	if err := queries.InsertDashboardCredential(ctx, persistence.InsertDashboardCredentialParams{
		SingletonID:     dashboardCredentialRowID,
		Username:        username,
		PasswordHash:    string(hash),
		HashAlgo:        dashboardPasswordHashAlgo,
		CreatedAtUnixMs: nowMS,
		UpdatedAtUnixMs: nowMS,
	}); err != nil {
		return DashboardCredentialInitResult{}, fmt.Errorf("persist dashboard credential: %w", err)
	}

	return DashboardCredentialInitResult{
		Username:          username,
		PasswordHash:      string(hash),
		PasswordPlaintext: password,
		InitializedNow:    true,
	}, nil
}

// ConsoleAuth guards the operator-facing task API with cookie sessions.
// This is entirely separate from the device-facing Digest/Basic gate: CPEs
// never see these endpoints and operators never see the CWMP one.
type ConsoleAuth struct {
	username     string
	passwordHash string
	logger       *slog.Logger

	sessionMu sync.Mutex
	sessions  map[string]time.Time
	nowFn     func() time.Time
}

func NewConsoleAuth(username string, passwordHash string, logger *slog.Logger) *ConsoleAuth {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConsoleAuth{
		username:     strings.TrimSpace(username),
		passwordHash: strings.TrimSpace(passwordHash),
		logger:       logger,
		sessions:     make(map[string]time.Time),
		nowFn:        time.Now,
	}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (a *ConsoleAuth) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	usernameOK := constantTimeEqualString(a.username, req.Username)
	passwordOK := bcrypt.CompareHashAndPassword([]byte(a.passwordHash), []byte(req.Password)) == nil
	if !usernameOK || !passwordOK {
		a.logger.Warn("console_login_failed",
			slog.String("username", req.Username),
			slog.String("client_ip", c.ClientIP()))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid username or password"})
		return
	}

	sessionID, expiresAt, err := a.createSession()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create session"})
		return
	}

	a.logger.Info("console_login",
		slog.String("username", req.Username),
		slog.String("client_ip", c.ClientIP()))
	a.setSessionCookie(c, sessionID, expiresAt)
	c.JSON(http.StatusOK, gin.H{"authenticated": true})
}

func (a *ConsoleAuth) Logout(c *gin.Context) {
	if sessionID, err := c.Cookie(dashboardSessionCookieName); err == nil {
		a.sessionMu.Lock()
		delete(a.sessions, sessionID)
		a.sessionMu.Unlock()
		a.logger.Info("console_logout", slog.String("client_ip", c.ClientIP()))
	}

	a.clearSessionCookie(c)
	c.Status(http.StatusNoContent)
}

func (a *ConsoleAuth) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID, err := c.Cookie(dashboardSessionCookieName)
		if err != nil || sessionID == "" || !a.isSessionValid(sessionID) {
			a.clearSessionCookie(c)
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			c.Abort()
			return
		}
		c.Next()
	}
}

// createSession mints a new session id and sweeps expired sessions while it
// holds the lock, so the map stays bounded by the number of live logins.
func (a *ConsoleAuth) createSession() (string, time.Time, error) {
	sessionID, err := randomHex(32)
	if err != nil {
		return "", time.Time{}, err
	}
	now := a.nowFn()
	expiresAt := now.Add(dashboardSessionTTL)

	a.sessionMu.Lock()
	for id, expiry := range a.sessions {
		if !expiry.After(now) {
			delete(a.sessions, id)
		}
	}
	a.sessions[sessionID] = expiresAt
	a.sessionMu.Unlock()

	return sessionID, expiresAt, nil
}

func (a *ConsoleAuth) isSessionValid(sessionID string) bool {
	now := a.nowFn()

	a.sessionMu.Lock()
	defer a.sessionMu.Unlock()

	expiresAt, ok := a.sessions[sessionID]
	if !ok {
		return false
	}
	if !expiresAt.After(now) {
		delete(a.sessions, sessionID)
		return false
	}
	return true
}

func (a *ConsoleAuth) setSessionCookie(c *gin.Context, sessionID string, expiresAt time.Time) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     dashboardSessionCookieName,
		Value:    sessionID,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(dashboardSessionTTL / time.Second),
		Expires:  expiresAt,
		Secure:   requestIsTLS(c.Request),
	})
}

func (a *ConsoleAuth) clearSessionCookie(c *gin.Context) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     dashboardSessionCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		Secure:   requestIsTLS(c.Request),
	})
}

func requestIsTLS(r *http.Request) bool {
	if r == nil {
		return false
	}
	if r.TLS != nil {
		return true
	}
	forwardedProto, _, _ := strings.Cut(r.Header.Get("X-Forwarded-Proto"), ",")
	return strings.EqualFold(strings.TrimSpace(forwardedProto), "https")
}

func constantTimeEqualString(expected string, actual string) bool {
	expectedHash := sha256.Sum256([]byte(expected))
	actualHash := sha256.Sum256([]byte(actual))
	return subtle.ConstantTimeCompare(expectedHash[:], actualHash[:]) == 1
}

func randomHex(byteSize int) (string, error) {
	raw := make([]byte, byteSize)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return hex.EncodeToString(raw), nil
}
