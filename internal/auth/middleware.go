package auth

import (
	"encoding/base64"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	digestPrefix = "Digest "
	basicPrefix  = "Basic "

	// usernameContextKey carries the authenticated CPE username to
	// downstream handlers.
	usernameContextKey = "acsd_cpe_username"
)

// Authenticator gates inbound CWMP sessions with HTTP Digest/Basic
// authentication. Every failure path re-issues a fresh challenge instead of
// hard-failing, since device firmware retries with corrected credentials on
// the next attempt.
type Authenticator struct {
	realm       string
	credentials *Credentials
	nonces      *NonceCache
	logger      *slog.Logger
}

func NewAuthenticator(realm string, credentials *Credentials, nonces *NonceCache, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Authenticator{
		realm:       realm,
		credentials: credentials,
		nonces:      nonces,
		logger:      logger,
	}
}

// AuthenticatedUsername returns the CPE username the authenticator stored
// for this request.
func AuthenticatedUsername(c *gin.Context) string {
	username, _ := c.Get(usernameContextKey)
	value, _ := username.(string)
	return value
}

// Middleware returns the gin handler enforcing Digest/Basic authentication.
func (a *Authenticator) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		clientIP := c.ClientIP()
		header := c.GetHeader("Authorization")

		switch {
		case header == "":
			a.challenge(c, clientIP, "challenge_issued", slog.String("reason", "no_authorization_header"))
		case strings.HasPrefix(header, digestPrefix):
			a.handleDigest(c, clientIP, strings.TrimPrefix(header, digestPrefix))
		case strings.HasPrefix(header, basicPrefix):
			a.handleBasic(c, clientIP, strings.TrimPrefix(header, basicPrefix))
		default:
			a.challenge(c, clientIP, "challenge_issued", slog.String("reason", "unknown_auth_type"))
		}
	}
}

func (a *Authenticator) handleDigest(c *gin.Context, clientIP string, value string) {
	params := ParseDigestParams(value)
	if !params.complete() {
		a.challenge(c, clientIP, "header_parse_failed",
			slog.String("scheme", "digest"),
			slog.String("username", params.Username))
		return
	}

	record, ok := a.nonces.Validate(clientIP, params.Nonce)
	if !ok {
		// Either an expired challenge, a replay from another session, or a
		// nonce issued to a different address.
		a.challenge(c, clientIP, "nonce_invalid",
			slog.String("username", params.Username),
			slog.String("nonce", params.Nonce))
		return
	}
	if params.Opaque != "" && params.Opaque != record.Opaque {
		a.challenge(c, clientIP, "opaque_mismatch",
			slog.String("username", params.Username))
		return
	}

	credential, ok := a.credentials.Find(params.Username)
	if !ok {
		a.challenge(c, clientIP, "unknown_user",
			slog.String("username", params.Username))
		return
	}

	expected := ExpectedDigestResponse(credential, params, c.Request.Method)
	if expected != params.Response {
		a.challenge(c, clientIP, "response_mismatch",
			slog.String("username", params.Username),
			slog.String("qop", params.QOP))
		return
	}

	a.logger.Info("auth_success",
		slog.String("scheme", "digest"),
		slog.String("client_ip", clientIP),
		slog.String("username", params.Username))
	c.Set(usernameContextKey, params.Username)
	c.Next()
}

func (a *Authenticator) handleBasic(c *gin.Context, clientIP string, value string) {
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(value))
	if err != nil {
		a.challenge(c, clientIP, "header_parse_failed",
			slog.String("scheme", "basic"),
			slog.String("reason", "invalid_base64"))
		return
	}
	username, password, found := strings.Cut(string(decoded), ":")
	if !found {
		a.challenge(c, clientIP, "header_parse_failed",
			slog.String("scheme", "basic"),
			slog.String("reason", "missing_separator"))
		return
	}

	if !a.credentials.IsValid(username, password) {
		a.challenge(c, clientIP, "basic_invalid",
			slog.String("username", username))
		return
	}

	a.logger.Info("auth_success",
		slog.String("scheme", "basic"),
		slog.String("client_ip", clientIP),
		slog.String("username", username))
	c.Set(usernameContextKey, username)
	c.Next()
}

// challenge issues a fresh nonce and responds 401 with both Digest and
// Basic challenges as separate header lines, Digest first. CPEs pick
// whichever scheme their firmware supports.
func (a *Authenticator) challenge(c *gin.Context, clientIP string, event string, attrs ...slog.Attr) {
	record, err := a.nonces.Issue(clientIP)
	if err != nil {
		// crypto/rand failure; nothing sane to challenge with.
		a.logger.Error("nonce_issue_failed", slog.String("client_ip", clientIP), slog.String("error", err.Error()))
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}

	level := slog.LevelWarn
	if event == "challenge_issued" {
		level = slog.LevelInfo
	}
	a.logger.LogAttrs(c.Request.Context(), level, event,
		append([]slog.Attr{slog.String("client_ip", clientIP)}, attrs...)...)

	headers := c.Writer.Header()
	headers.Add("WWW-Authenticate",
		`Digest realm="`+a.realm+`", qop="auth", nonce="`+record.Nonce+`", opaque="`+record.Opaque+`"`)
	headers.Add("WWW-Authenticate", `Basic realm="`+a.realm+`"`)
	headers.Set("Content-Type", "text/plain")
	headers.Set("Connection", "close")
	headers.Set("Content-Length", "0")
	c.Status(http.StatusUnauthorized)
	c.Abort()
}
