package cli

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/miyabi-dev/miyabi/internal/cloud/gcp"
	"github.com/miyabi-dev/miyabi/internal/config"
	"github.com/miyabi-dev/miyabi/internal/errs"
	"github.com/miyabi-dev/miyabi/internal/github"
)

// appTokenManagers caches one TokenManager per App ID for the life of the
// process, so a long-lived `miyabi auto` loop exchanges a fresh JWT for an
// installation token only once per hour instead of on every tick.
var (
	appTokenManagersMu sync.Mutex
	appTokenManagers   = map[int64]*github.TokenManager{}
)

// resolveToken finds the GitHub token to authenticate the platform gateway
// with, checking in order: explicit config, GITHUB_TOKEN, a configured
// GitHub App installation (AppID+InstallationID+PrivateKeySecret, the JWT
// exchange flow), and finally a literal personal access token stored in
// GCP Secret Manager under PrivateKeySecret.
func resolveToken(ctx context.Context, cfg *config.Config) (string, error) {
	if cfg.Platform.Token != "" {
		return cfg.Platform.Token, nil
	}
	if t := os.Getenv("GITHUB_TOKEN"); t != "" {
		return t, nil
	}
	if cfg.GitHub.PrivateKeySecret == "" {
		return "", nil
	}

	client, err := gcp.NewSecretManagerClient(ctx)
	if err != nil {
		return "", errs.Wrap(errs.CodeAuth, err, "creating Secret Manager client")
	}
	defer client.Close()

	if cfg.GitHub.AppID != 0 && cfg.GitHub.InstallationID != 0 {
		return resolveGitHubAppToken(ctx, client, cfg)
	}

	token, err := client.FetchSecret(ctx, cfg.GitHub.PrivateKeySecret)
	if err != nil {
		return "", errs.Wrap(errs.CodeAuth, err, "fetching GitHub token from %s", cfg.GitHub.PrivateKeySecret)
	}
	return token, nil
}

// resolveGitHubAppToken exchanges a GitHub App's private key (fetched from
// Secret Manager) for a short-lived installation access token, reusing a
// cached TokenManager across calls so the 1-hour-lived token is refreshed
// only when it is actually close to expiring.
func resolveGitHubAppToken(ctx context.Context, secrets *gcp.SecretManagerClient, cfg *config.Config) (string, error) {
	appTokenManagersMu.Lock()
	tm, ok := appTokenManagers[cfg.GitHub.AppID]
	appTokenManagersMu.Unlock()

	if !ok {
		pem, err := secrets.FetchSecret(ctx, cfg.GitHub.PrivateKeySecret)
		if err != nil {
			return "", errs.Wrap(errs.CodeAuth, err, "fetching GitHub App private key from %s", cfg.GitHub.PrivateKeySecret)
		}
		tm, err = github.NewTokenManager(fmt.Sprintf("%d", cfg.GitHub.AppID), cfg.GitHub.InstallationID, []byte(pem))
		if err != nil {
			return "", errs.Wrap(errs.CodeAuth, err, "building GitHub App token manager")
		}
		appTokenManagersMu.Lock()
		appTokenManagers[cfg.GitHub.AppID] = tm
		appTokenManagersMu.Unlock()
	}

	token, err := tm.Token()
	if err != nil {
		return "", errs.Wrap(errs.CodeAuth, err, "exchanging GitHub App JWT for an installation token")
	}
	return token, nil
}
