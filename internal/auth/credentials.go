package auth

import "strings"

// Credential is a username/password pair a CPE may present. The password is
// kept in clear because HTTP Digest needs it to compute HA1.
type Credential struct {
	Username string
	Password string
}

// Credentials is the immutable set of valid CPE credentials, loaded once at
// startup. The list is expected to stay small (a handful of entries during
// a credential migration), so lookup is a linear scan.
type Credentials struct {
	entries []Credential
}

func NewCredentials(entries []Credential) *Credentials {
	copied := make([]Credential, 0, len(entries))
	for _, entry := range entries {
		username := strings.TrimSpace(entry.Username)
		if username == "" || entry.Password == "" {
			continue
		}
		copied = append(copied, Credential{Username: username, Password: entry.Password})
	}
	return &Credentials{entries: copied}
}

// Find returns the credential for username. A miss is reported with
// ok=false, never an error, so callers re-challenge instead of failing.
func (c *Credentials) Find(username string) (Credential, bool) {
	if c == nil {
		return Credential{}, false
	}
	for _, entry := range c.entries {
		if entry.Username == username {
			return entry, true
		}
	}
	return Credential{}, false
}

func (c *Credentials) IsValid(username string, password string) bool {
	credential, ok := c.Find(username)
	if !ok {
		return false
	}
	return credential.Password == password
}

func (c *Credentials) Len() int {
	if c == nil {
		return 0
	}
	return len(c.entries)
}
