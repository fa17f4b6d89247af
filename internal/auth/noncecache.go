package auth

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"
)

const (
	nonceByteSize  = 16
	opaqueByteSize = 8

	// DefaultNonceTTL bounds how long a CPE has between receiving a
	// challenge and replying with the digest response. Five minutes
	// tolerates slow links and firmware retries without letting the cache
	// grow unbounded.
	DefaultNonceTTL = 300 * time.Second
)

// NonceRecord is one outstanding digest challenge, bound to the client IP
// it was issued to.
type NonceRecord struct {
	Nonce     string
	Opaque    string
	ClientIP  string
	CreatedAt time.Time
}

type nonceKey struct {
	clientIP string
	nonce    string
}

// NonceCacheOptions configures a NonceCache.
//
// SingleUse controls whether a successful Validate consumes the record.
// Deployed CPE firmware is known to reuse a nonce for several requests
// within one TCP session, so the default keeps records valid until TTL
// expiry; flip SingleUse on for strict replay protection.
type NonceCacheOptions struct {
	TTL       time.Duration
	SingleUse bool
}

// NonceCache stores outstanding digest challenges keyed by
// (client IP, nonce). Expired records are evicted lazily on access and
// opportunistically on Issue.
type NonceCache struct {
	ttl       time.Duration
	singleUse bool

	mu      sync.Mutex
	records map[nonceKey]NonceRecord
	nowFn   func() time.Time
}

func NewNonceCache(opts NonceCacheOptions) *NonceCache {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultNonceTTL
	}
	return &NonceCache{
		ttl:       ttl,
		singleUse: opts.SingleUse,
		records:   make(map[nonceKey]NonceRecord),
		nowFn:     time.Now,
	}
}

// Issue generates a fresh nonce/opaque pair for clientIP and remembers it
// for the cache TTL.
func (c *NonceCache) Issue(clientIP string) (NonceRecord, error) {
	nonce, err := randomHex(nonceByteSize)
	if err != nil {
		return NonceRecord{}, err
	}
	opaque, err := randomHex(opaqueByteSize)
	if err != nil {
		return NonceRecord{}, err
	}

	now := c.nowFn()
	record := NonceRecord{
		Nonce:     nonce,
		Opaque:    opaque,
		ClientIP:  clientIP,
		CreatedAt: now,
	}

	c.mu.Lock()
	c.pruneLocked(now)
	c.records[nonceKey{clientIP: clientIP, nonce: nonce}] = record
	c.mu.Unlock()

	return record, nil
}

// Validate returns the record for (clientIP, nonce) if it exists and has
// not expired. Expired records are treated as absent and dropped. In
// single-use mode a successful validation also consumes the record.
func (c *NonceCache) Validate(clientIP string, nonce string) (NonceRecord, bool) {
	if nonce == "" {
		return NonceRecord{}, false
	}
	key := nonceKey{clientIP: clientIP, nonce: nonce}
	now := c.nowFn()

	c.mu.Lock()
	defer c.mu.Unlock()

	record, ok := c.records[key]
	if !ok {
		return NonceRecord{}, false
	}
	if now.Sub(record.CreatedAt) >= c.ttl {
		delete(c.records, key)
		return NonceRecord{}, false
	}
	if c.singleUse {
		delete(c.records, key)
	}
	return record, true
}

func (c *NonceCache) pruneLocked(now time.Time) {
	for key, record := range c.records {
		if now.Sub(record.CreatedAt) >= c.ttl {
			delete(c.records, key)
		}
	}
}

func randomHex(byteSize int) (string, error) {
	raw := make([]byte, byteSize)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return hex.EncodeToString(raw), nil
}
