package github

import (
	"bytes"
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/gsm"
	"github.com/golang-jwt/jwt/v5"
)

// Authentication constants.
const (
	maxTokenLength     = 100
	minTokenLength     = 40
	classicTokenLength = 40
	maxAppID           = 999999999
	filePermReadOnly   = 0o400
	filePermOwnerRW    = 0o600
	jwtLifetime        = 10 * time.Minute // GitHub caps app JWTs at 10 minutes
	jwtRefreshAfter    = 9 * time.Minute
)

// generateJWT generates a JWT token for GitHub App authentication.
func generateJWT(appID string, privateKey []byte) (string, error) {
	block, _ := pem.Decode(privateKey)
	if block == nil {
		return "", errors.New("failed to parse PEM block containing the private key")
	}

	key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		parsedKey, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return "", fmt.Errorf("failed to parse private key: %w", err)
		}
		var ok bool
		key, ok = parsedKey.(*rsa.PrivateKey)
		if !ok {
			return "", errors.New("private key is not RSA")
		}
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"iat": now.Add(-time.Minute).Unix(), // tolerate clock drift
		"exp": now.Add(jwtLifetime).Unix(),
		"iss": appID,
	}

	return jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
}

// newAppAuthClient creates a GitHub client with App authentication.
func newAppAuthClient(ctx context.Context, cfg Config) (*Client, error) {
	creds, err := resolveAppCredentials(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if err := validateAppID(creds.appID); err != nil {
		return nil, err
	}

	privateKey, err := loadPrivateKey(creds.privateKeyContent, creds.keyPath)
	if err != nil {
		return nil, err
	}

	jwtToken, err := generateJWT(creds.appID, privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to generate JWT: %w", err)
	}
	slog.Info("Generated JWT for GitHub App", "component", "auth", "app_id", creds.appID)

	return &Client{
		httpClient:         cfg.HTTPClient,
		baseURL:            cfg.BaseURL,
		token:              jwtToken,
		isAppAuth:          true,
		appID:              creds.appID,
		privateKeyPath:     creds.keyPath,
		privateKeyContent:  creds.privateKeyContent,
		tokenExpiry:        time.Now().Add(jwtRefreshAfter),
		installationTokens: make(map[string]string),
		installationExpiry: make(map[string]time.Time),
		installationIDs:    make(map[string]int),
	}, nil
}

// newPersonalTokenClient creates a GitHub client with personal token authentication.
func newPersonalTokenClient(ctx context.Context, cfg Config) (*Client, error) {
	token := cfg.Token
	if token == "" {
		token = os.Getenv("GITHUB_TOKEN")
	}
	if token == "" {
		cmd := exec.CommandContext(ctx, "gh", "auth", "token")
		output, err := cmd.Output()
		if err != nil {
			return nil, fmt.Errorf("failed to get GitHub token: %w", err)
		}
		token = strings.TrimSpace(string(output))
	}

	if err := validateToken(token); err != nil {
		return nil, err
	}

	slog.Info("Using personal access token authentication", "component", "auth")
	return &Client{
		httpClient: cfg.HTTPClient,
		baseURL:    cfg.BaseURL,
		token:      token,
	}, nil
}

// fetchSecret reads a secret from Google Secret Manager.
var fetchSecret = gsm.Secret

// appCredentials holds GitHub App authentication details.
type appCredentials struct {
	appID             string
	keyPath           string
	privateKeyContent []byte
}

// resolveAppCredentials resolves app credentials from config, environment, or Secret Manager.
// Precedence: key path flag, GITHUB_APP_KEY content, Secret Manager, GITHUB_APP_KEY_PATH.
func resolveAppCredentials(ctx context.Context, cfg Config) (*appCredentials, error) {
	appID := cfg.AppID
	if appID == "" {
		appID = os.Getenv("GITHUB_APP_ID")
	}
	if appID == "" {
		return nil, errors.New("GitHub App ID is required. " +
			"Use --app-id flag or set GITHUB_APP_ID environment variable")
	}

	creds := &appCredentials{appID: appID}
	secretName := cfg.AppKeySecret
	if secretName == "" {
		secretName = os.Getenv("GITHUB_APP_KEY_SECRET")
	}

	switch {
	case cfg.AppKeyPath != "":
		slog.Info("Using private key file from command line", "component", "auth", "path", cfg.AppKeyPath)
		creds.keyPath = cfg.AppKeyPath
	case os.Getenv("GITHUB_APP_KEY") != "":
		creds.privateKeyContent = []byte(os.Getenv("GITHUB_APP_KEY"))
		slog.Info("Using GITHUB_APP_KEY environment variable", "component", "auth", "bytes", len(creds.privateKeyContent))
	case secretName != "":
		key, err := fetchSecret(ctx, secretName)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch app key from Secret Manager (%s): %w", secretName, err)
		}
		creds.privateKeyContent = []byte(key)
		slog.Info("Using private key from Secret Manager", "component", "auth", "secret", secretName)
	default:
		creds.keyPath = os.Getenv("GITHUB_APP_KEY_PATH")
		if creds.keyPath != "" {
			slog.Info("Using private key file", "component", "auth", "path", creds.keyPath)
		}
	}

	if len(creds.privateKeyContent) == 0 && creds.keyPath == "" {
		return nil, errors.New("GitHub App private key is required. " +
			"Use --app-key-path flag, set GITHUB_APP_KEY (key content), " +
			"GITHUB_APP_KEY_SECRET (Secret Manager name), or GITHUB_APP_KEY_PATH (file path)")
	}
	return creds, nil
}

// validateAppID validates the GitHub App ID.
func validateAppID(appID string) error {
	appIDNum, err := strconv.Atoi(appID)
	if err != nil {
		return fmt.Errorf("GITHUB_APP_ID must be numeric: %w", err)
	}
	if appIDNum <= 0 || appIDNum > maxAppID {
		return errors.New("GITHUB_APP_ID out of valid range")
	}
	return nil
}

// loadPrivateKey loads the private key from content or file path.
func loadPrivateKey(privateKeyContent []byte, keyPath string) ([]byte, error) {
	var privateKey []byte
	var err error

	switch {
	case len(privateKeyContent) > 0:
		privateKey = privateKeyContent
	case keyPath != "":
		privateKey, err = readPrivateKeyFile(keyPath)
		if err != nil {
			return nil, err
		}
	default:
		return nil, errors.New("no private key provided (neither content nor path)")
	}

	if !bytes.Contains(privateKey, []byte("BEGIN RSA PRIVATE KEY")) &&
		!bytes.Contains(privateKey, []byte("BEGIN PRIVATE KEY")) {
		return nil, errors.New("private key does not appear to be a valid PEM private key")
	}

	return privateKey, nil
}

// readPrivateKeyFile reads and validates a private key file.
func readPrivateKeyFile(keyPath string) ([]byte, error) {
	cleanPath := filepath.Clean(keyPath)
	if !filepath.IsAbs(cleanPath) {
		return nil, errors.New("GITHUB_APP_KEY_PATH must be an absolute path")
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("cannot access private key file: %w", err)
	}
	if fileInfo.IsDir() {
		return nil, errors.New("GITHUB_APP_KEY_PATH must be a file, not a directory")
	}

	perm := fileInfo.Mode().Perm()
	if perm != filePermOwnerRW && perm != filePermReadOnly {
		return nil, fmt.Errorf("private key file has insecure permissions %04o (must be 0600 or 0400)", perm)
	}

	return os.ReadFile(cleanPath)
}

// validateToken validates a GitHub personal access token.
func validateToken(token string) error {
	if token == "" {
		return errors.New("no GitHub token found")
	}
	if len(token) > maxTokenLength || len(token) < minTokenLength {
		return errors.New("invalid token length")
	}

	for _, prefix := range []string{"ghp_", "gho_", "ghu_", "ghs_", "ghr_", "github_pat_"} {
		if strings.HasPrefix(token, prefix) {
			return nil
		}
	}

	if len(token) != classicTokenLength {
		return errors.New("invalid token format")
	}
	for _, r := range token {
		if (r < 'a' || r > 'f') && (r < '0' || r > '9') {
			return errors.New("invalid classic token format")
		}
	}
	return nil
}

// refreshJWTIfNeeded refreshes the JWT token if it's close to expiry.
func (c *Client) refreshJWTIfNeeded() error {
	if !c.isAppAuth {
		return nil
	}

	c.tokenMutex.RLock()
	needsRefresh := time.Now().After(c.tokenExpiry)
	c.tokenMutex.RUnlock()
	if !needsRefresh {
		return nil
	}

	c.tokenMutex.Lock()
	defer c.tokenMutex.Unlock()

	if time.Now().Before(c.tokenExpiry) {
		return nil
	}

	privateKey, err := loadPrivateKey(c.privateKeyContent, c.privateKeyPath)
	if err != nil {
		return fmt.Errorf("failed to load private key for refresh: %w", err)
	}

	newToken, err := generateJWT(c.appID, privateKey)
	if err != nil {
		return fmt.Errorf("failed to generate JWT for refresh: %w", err)
	}

	c.token = newToken
	c.tokenExpiry = time.Now().Add(jwtRefreshAfter)
	slog.Info("Refreshed GitHub App JWT", "component", "auth")
	return nil
}

// installationToken gets or refreshes an installation access token for an owner.
func (c *Client) installationToken(ctx context.Context, owner string) (string, error) {
	if owner == "" {
		return "", errors.New("owner cannot be empty")
	}

	c.tokenMutex.RLock()
	token, ok := c.installationTokens[owner]
	expiry := c.installationExpiry[owner]
	_, known := c.installationIDs[owner]
	c.tokenMutex.RUnlock()
	if ok && time.Now().Before(expiry) {
		return token, nil
	}

	if !known {
		// The app may have been installed after startup.
		if _, err := c.ListAppInstallations(ctx); err != nil {
			return "", err
		}
	}

	if err := c.refreshJWTIfNeeded(); err != nil {
		return "", fmt.Errorf("failed to refresh JWT: %w", err)
	}

	c.tokenMutex.Lock()
	defer c.tokenMutex.Unlock()

	if token, ok := c.installationTokens[owner]; ok && time.Now().Before(c.installationExpiry[owner]) {
		return token, nil
	}

	installationID, ok := c.installationIDs[owner]
	if !ok {
		return "", fmt.Errorf("no installation ID found for %s (is the app installed?)", owner)
	}

	slog.Info("Creating installation access token", "component", "auth", "owner", owner, "installation_id", installationID)
	apiURL := fmt.Sprintf("%s/app/installations/%d/access_tokens", c.baseURL, installationID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, http.NoBody)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/vnd.github.v3+json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to get installation token: %w", err)
	}
	defer drainAndCloseBody(resp.Body)

	if resp.StatusCode != http.StatusCreated {
		return "", statusError("failed to create installation token", resp)
	}

	var tokenResp struct {
		ExpiresAt time.Time `json:"expires_at"`
		Token     string    `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return "", fmt.Errorf("failed to decode token response: %w", err)
	}
	if tokenResp.Token == "" {
		return "", errors.New("received empty installation token")
	}

	// Expire 5 minutes early so in-flight requests never carry a stale token.
	c.installationTokens[owner] = tokenResp.Token
	c.installationExpiry[owner] = tokenResp.ExpiresAt.Add(-5 * time.Minute)
	return tokenResp.Token, nil
}

// Installation represents a GitHub App installation.
type Installation struct {
	Account struct {
		Login string `json:"login"`
		Type  string `json:"type"`
	} `json:"account"`
	ID int `json:"id"`
}

// ListAppInstallations returns all accounts where this GitHub app is installed.
func (c *Client) ListAppInstallations(ctx context.Context) ([]string, error) {
	if !c.isAppAuth {
		return nil, errors.New("app installations can only be listed with GitHub App authentication")
	}
	if err := c.refreshJWTIfNeeded(); err != nil {
		return nil, err
	}

	c.tokenMutex.RLock()
	jwtToken := c.token
	c.tokenMutex.RUnlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/app/installations?per_page=100", http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+jwtToken)
	req.Header.Set("Accept", "application/vnd.github.v3+json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to get app installations: %w", err)
	}
	defer drainAndCloseBody(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return nil, statusError("failed to list installations", resp)
	}

	var installations []Installation
	if err := json.NewDecoder(resp.Body).Decode(&installations); err != nil {
		return nil, fmt.Errorf("failed to decode installations: %w", err)
	}

	c.tokenMutex.Lock()
	defer c.tokenMutex.Unlock()
	owners := make([]string, 0, len(installations))
	for _, inst := range installations {
		owners = append(owners, inst.Account.Login)
		c.installationIDs[inst.Account.Login] = inst.ID
		slog.Info("Found installation", "component", "app", "account", inst.Account.Login, "type", inst.Account.Type, "id", inst.ID)
	}
	return owners, nil
}
