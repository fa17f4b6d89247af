package auth

import (
	"encoding/base64"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	testRealm    = "TR-069 ACS"
	testUsername = "acs-user"
	testPassword = "acs-password"
	testClientIP = "192.0.2.10"
)

func newTestRouter(t *testing.T, nonces *NonceCache) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	credentials := NewCredentials([]Credential{{Username: testUsername, Password: testPassword}})
	authenticator := NewAuthenticator(testRealm, credentials, nonces, slog.New(slog.DiscardHandler))

	router := gin.New()
	router.POST("/acs", authenticator.Middleware(), func(c *gin.Context) {
		c.String(http.StatusOK, AuthenticatedUsername(c))
	})
	return router
}

func postACS(router *gin.Engine, clientIP string, authorization string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/acs", strings.NewReader(`{}`))
	req.RemoteAddr = clientIP + ":51000"
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func assertChallenge(t *testing.T, rec *httptest.ResponseRecorder) DigestParams {
	t.Helper()

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	challenges := rec.Header().Values("WWW-Authenticate")
	if len(challenges) != 2 {
		t.Fatalf("expected two WWW-Authenticate headers, got %d: %v", len(challenges), challenges)
	}
	if !strings.HasPrefix(challenges[0], "Digest ") {
		t.Fatalf("expected Digest challenge first, got %q", challenges[0])
	}
	if challenges[1] != `Basic realm="`+testRealm+`"` {
		t.Fatalf("unexpected Basic challenge %q", challenges[1])
	}
	if got := rec.Header().Get("Connection"); got != "close" {
		t.Fatalf("expected Connection: close, got %q", got)
	}
	if got := rec.Header().Get("Content-Type"); got != "text/plain" {
		t.Fatalf("expected text/plain, got %q", got)
	}
	if rec.Body.Len() != 0 {
		t.Fatalf("expected empty challenge body, got %q", rec.Body.String())
	}

	params := ParseDigestParams(strings.TrimPrefix(challenges[0], "Digest "))
	if params.Nonce == "" || params.Opaque == "" {
		t.Fatalf("challenge missing nonce/opaque: %q", challenges[0])
	}
	if params.Realm != testRealm {
		t.Fatalf("challenge realm = %q", params.Realm)
	}
	return params
}

func digestAuthorization(challenge DigestParams, username string, password string) string {
	params := DigestParams{
		Username: username,
		Realm:    testRealm,
		Nonce:    challenge.Nonce,
		URI:      "/acs",
		QOP:      "auth",
		NC:       "00000001",
		CNonce:   "0a4f113b",
	}
	response := ExpectedDigestResponse(Credential{Username: username, Password: password}, params, http.MethodPost)
	return `Digest username="` + username + `", realm="` + testRealm + `", nonce="` + challenge.Nonce +
		`", uri="/acs", qop=auth, nc=00000001, cnonce="0a4f113b", response="` + response +
		`", opaque="` + challenge.Opaque + `"`
}

func TestMissingAuthorizationChallenges(t *testing.T) {
	router := newTestRouter(t, NewNonceCache(NonceCacheOptions{}))
	rec := postACS(router, testClientIP, "")
	assertChallenge(t, rec)
}

func TestUnknownAuthTypeChallenges(t *testing.T) {
	router := newTestRouter(t, NewNonceCache(NonceCacheOptions{}))
	rec := postACS(router, testClientIP, "Bearer some-token")
	assertChallenge(t, rec)
}

func TestBasicAuthSuccess(t *testing.T) {
	router := newTestRouter(t, NewNonceCache(NonceCacheOptions{}))

	// base64("acs-user:acs-password")
	rec := postACS(router, testClientIP, "Basic YWNzLXVzZXI6YWNzLXBhc3N3b3Jk")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Body.String() != testUsername {
		t.Fatalf("expected authenticated username %q, got %q", testUsername, rec.Body.String())
	}
}

func TestBasicAuthWrongPasswordChallenges(t *testing.T) {
	router := newTestRouter(t, NewNonceCache(NonceCacheOptions{}))

	wrong := base64.StdEncoding.EncodeToString([]byte(testUsername + ":acs-passworX"))
	rec := postACS(router, testClientIP, "Basic "+wrong)
	assertChallenge(t, rec)
}

func TestBasicAuthMalformedChallenges(t *testing.T) {
	router := newTestRouter(t, NewNonceCache(NonceCacheOptions{}))

	rec := postACS(router, testClientIP, "Basic !!!not-base64!!!")
	assertChallenge(t, rec)

	noSeparator := base64.StdEncoding.EncodeToString([]byte("acs-user-without-colon"))
	rec = postACS(router, testClientIP, "Basic "+noSeparator)
	assertChallenge(t, rec)
}

func TestDigestAuthFullExchange(t *testing.T) {
	router := newTestRouter(t, NewNonceCache(NonceCacheOptions{}))

	challenge := assertChallenge(t, postACS(router, testClientIP, ""))
	rec := postACS(router, testClientIP, digestAuthorization(challenge, testUsername, testPassword))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 after digest exchange, got %d", rec.Code)
	}
	if rec.Body.String() != testUsername {
		t.Fatalf("expected authenticated username %q, got %q", testUsername, rec.Body.String())
	}
}

func TestDigestAuthFlippedResponseRejected(t *testing.T) {
	router := newTestRouter(t, NewNonceCache(NonceCacheOptions{}))

	challenge := assertChallenge(t, postACS(router, testClientIP, ""))
	authorization := digestAuthorization(challenge, testUsername, testPassword)

	// Flip one character of the response hash.
	idx := strings.Index(authorization, `response="`) + len(`response="`)
	flipped := byte('0')
	if authorization[idx] == '0' {
		flipped = '1'
	}
	tampered := authorization[:idx] + string(flipped) + authorization[idx+1:]

	assertChallenge(t, postACS(router, testClientIP, tampered))
}

func TestDigestAuthWrongIPRejected(t *testing.T) {
	router := newTestRouter(t, NewNonceCache(NonceCacheOptions{}))

	challenge := assertChallenge(t, postACS(router, testClientIP, ""))
	rec := postACS(router, "198.51.100.7", digestAuthorization(challenge, testUsername, testPassword))
	assertChallenge(t, rec)
}

func TestDigestAuthExpiredNonceRejected(t *testing.T) {
	nonces := NewNonceCache(NonceCacheOptions{TTL: 300 * time.Second})
	base := time.Unix(1_700_000_000, 0)
	nonces.nowFn = func() time.Time { return base }
	router := newTestRouter(t, nonces)

	challenge := assertChallenge(t, postACS(router, testClientIP, ""))

	nonces.nowFn = func() time.Time { return base.Add(301 * time.Second) }
	rec := postACS(router, testClientIP, digestAuthorization(challenge, testUsername, testPassword))
	assertChallenge(t, rec)
}

func TestDigestAuthOpaqueMismatchRejected(t *testing.T) {
	router := newTestRouter(t, NewNonceCache(NonceCacheOptions{}))

	challenge := assertChallenge(t, postACS(router, testClientIP, ""))
	challenge.Opaque = "0000000000000000"
	rec := postACS(router, testClientIP, digestAuthorization(challenge, testUsername, testPassword))
	assertChallenge(t, rec)
}

func TestDigestAuthUnknownUserRejected(t *testing.T) {
	router := newTestRouter(t, NewNonceCache(NonceCacheOptions{}))

	challenge := assertChallenge(t, postACS(router, testClientIP, ""))
	rec := postACS(router, testClientIP, digestAuthorization(challenge, "stranger", testPassword))
	assertChallenge(t, rec)
}

func TestDigestAuthConcurrentDevicesGetIndependentNonces(t *testing.T) {
	router := newTestRouter(t, NewNonceCache(NonceCacheOptions{}))

	challengeA := assertChallenge(t, postACS(router, "192.0.2.10", ""))
	challengeB := assertChallenge(t, postACS(router, "192.0.2.11", ""))
	if challengeA.Nonce == challengeB.Nonce {
		t.Fatalf("expected independent nonces per device")
	}

	// Each nonce only works from the IP it was issued to.
	if rec := postACS(router, "192.0.2.11", digestAuthorization(challengeA, testUsername, testPassword)); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected cross-IP nonce use to fail, got %d", rec.Code)
	}
	if rec := postACS(router, "192.0.2.10", digestAuthorization(challengeA, testUsername, testPassword)); rec.Code != http.StatusOK {
		t.Fatalf("expected correct-IP nonce use to succeed, got %d", rec.Code)
	}
}
