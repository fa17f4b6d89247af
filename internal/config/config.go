package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
)

const (
	defaultHTTPAddr         = ":7547"
	defaultRealm            = "TR-069 ACS"
	defaultNonceTTLSec      = 300
	defaultSweepIntervalSec = 30
	defaultDBPath           = "./db/acsd.db"
	defaultBusyTimeoutMS    = 5000
	defaultCredentialsFile  = "./cpe-credentials.yaml"
)

type Config struct {
	HTTPAddr        string
	Realm           string
	NonceTTL        time.Duration
	NonceSingleUse  bool
	SweepInterval   time.Duration
	DBPath          string
	BusyTimeoutMS   int
	CredentialsFile string

	DashboardUsername string
	DashboardPassword string
}

func Load() Config {
	nonceTTLSec := parsePositiveIntEnv("ACSD_NONCE_TTL_SEC", defaultNonceTTLSec)
	sweepIntervalSec := parsePositiveIntEnv("ACSD_SWEEP_INTERVAL_SEC", defaultSweepIntervalSec)
	busyTimeoutMS := parsePositiveIntEnv("ACSD_DB_BUSY_TIMEOUT_MS", defaultBusyTimeoutMS)

	return Config{
		HTTPAddr:          getEnv("ACSD_HTTP_ADDR", defaultHTTPAddr),
		Realm:             getEnv("ACSD_REALM", defaultRealm),
		NonceTTL:          time.Duration(nonceTTLSec) * time.Second,
		NonceSingleUse:    parseBoolEnv("ACSD_NONCE_SINGLE_USE", false),
		SweepInterval:     time.Duration(sweepIntervalSec) * time.Second,
		DBPath:            getEnv("ACSD_DB_PATH", defaultDBPath),
		BusyTimeoutMS:     busyTimeoutMS,
		CredentialsFile:   getEnv("ACSD_CPE_CREDENTIALS_FILE", defaultCredentialsFile),
		DashboardUsername: os.Getenv("ACSD_DASHBOARD_USERNAME"),
		DashboardPassword: os.Getenv("ACSD_DASHBOARD_PASSWORD"),
	}
}

// CPECredential is one username/password pair a device may authenticate
// with. Several pairs may be valid at once so fleets can be migrated to new
// credentials without a flag day.
type CPECredential struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type credentialsFile struct {
	Credentials []CPECredential `yaml:"credentials"`
}

func LoadCPECredentials(path string) ([]CPECredential, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read cpe credentials file: %w", err)
	}

	var parsed credentialsFile
	if err := yaml.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("parse cpe credentials file %q: %w", path, err)
	}

	credentials := make([]CPECredential, 0, len(parsed.Credentials))
	for i, credential := range parsed.Credentials {
		username := strings.TrimSpace(credential.Username)
		if username == "" {
			return nil, fmt.Errorf("cpe credentials file %q: entry %d has empty username", path, i)
		}
		if credential.Password == "" {
			return nil, fmt.Errorf("cpe credentials file %q: entry %d has empty password", path, i)
		}
		credentials = append(credentials, CPECredential{Username: username, Password: credential.Password})
	}
	if len(credentials) == 0 {
		return nil, fmt.Errorf("cpe credentials file %q contains no credentials", path)
	}
	return credentials, nil
}

func getEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func parsePositiveIntEnv(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return defaultValue
	}
	return parsed
}

func parseBoolEnv(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}
