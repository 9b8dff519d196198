// Package update checks GitHub for a newer sqlguard release.
package update

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	goversion "github.com/hashicorp/go-version"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/afero"

	"github.com/pthm/sqlguard/internal/version"
)

const (
	releasesURL = "https://api.github.com/repos/pthm/sqlguard/releases/latest"
	cacheTTL    = 24 * time.Hour
	cacheFile   = "update-check.json"
)

// Info contains update check results
type Info struct {
	LatestVersion   string    `json:"latest_version"`
	CurrentVersion  string    `json:"current_version"`
	ReleaseURL      string    `json:"release_url,omitempty"`
	CheckedAt       time.Time `json:"checked_at"`
	UpdateAvailable bool      `json:"update_available"`
}

// githubRelease represents the GitHub API response
type githubRelease struct {
	TagName string `json:"tag_name"`
	HTMLURL string `json:"html_url"`
}

// Checker fetches the latest release and caches the answer for a day.
// The zero value is not usable; call NewChecker.
type Checker struct {
	URL      string
	Client   *http.Client
	Fs       afero.Fs
	CacheDir string
	// Attempts bounds the number of requests per check.
	Attempts uint64
	Now      func() time.Time
}

// NewChecker returns a checker for the public release feed, caching under
// $XDG_CACHE_HOME/sqlguard or ~/.cache/sqlguard.
func NewChecker() (*Checker, error) {
	dir, err := cacheDir()
	if err != nil {
		return nil, err
	}
	return &Checker{
		URL:      releasesURL,
		Client:   &http.Client{Timeout: 5 * time.Second},
		Fs:       afero.NewOsFs(),
		CacheDir: dir,
		Attempts: 3,
		Now:      time.Now,
	}, nil
}

// CheckWithCache checks for updates using cache when available
func (c *Checker) CheckWithCache(ctx context.Context) (*Info, error) {
	info, err := c.loadCache()
	if err == nil && c.Now().Sub(info.CheckedAt) < cacheTTL {
		// Cache is valid, update current version for comparison
		info.CurrentVersion = version.Version
		info.UpdateAvailable = compareVersions(info.CurrentVersion, info.LatestVersion) < 0
		return info, nil
	}

	info, err = c.check(ctx)
	if err != nil {
		return nil, err
	}

	// Save to cache (ignore errors)
	_ = c.saveCache(info)

	return info, nil
}

// check fetches the latest release, retrying transient failures.
func (c *Checker) check(ctx context.Context) (*Info, error) {
	var release githubRelease
	fetch := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL, http.NoBody)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Accept", "application/vnd.github.v3+json")
		req.Header.Set("User-Agent", "sqlguard/"+version.Version)

		resp, err := c.Client.Do(req)
		if err != nil {
			return err
		}
		defer func() {
			_ = resp.Body.Close()
		}()

		switch {
		case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
			return fmt.Errorf("GitHub API returned status %d", resp.StatusCode)
		case resp.StatusCode != http.StatusOK:
			return backoff.Permanent(fmt.Errorf("GitHub API returned status %d", resp.StatusCode))
		}
		if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
			return backoff.Permanent(fmt.Errorf("decoding release: %w", err))
		}
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	var retries uint64
	if c.Attempts > 1 {
		retries = c.Attempts - 1
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(b, retries), ctx)
	if err := backoff.Retry(fetch, policy); err != nil {
		return nil, err
	}

	latestVersion := strings.TrimPrefix(release.TagName, "v")
	currentVersion := version.Version

	return &Info{
		LatestVersion:   latestVersion,
		CurrentVersion:  currentVersion,
		ReleaseURL:      release.HTMLURL,
		CheckedAt:       c.Now(),
		UpdateAvailable: compareVersions(currentVersion, latestVersion) < 0,
	}, nil
}

// cacheDir returns the cache directory path
func cacheDir() (string, error) {
	// Use XDG_CACHE_HOME if set, otherwise ~/.cache
	cacheHome := os.Getenv("XDG_CACHE_HOME")
	if cacheHome == "" {
		home, err := homedir.Dir()
		if err != nil {
			return "", err
		}
		cacheHome = filepath.Join(home, ".cache")
	}
	return filepath.Join(cacheHome, "sqlguard"), nil
}

func (c *Checker) loadCache() (*Info, error) {
	data, err := afero.ReadFile(c.Fs, filepath.Join(c.CacheDir, cacheFile))
	if err != nil {
		return nil, err
	}

	var info Info
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, err
	}

	return &info, nil
}

func (c *Checker) saveCache(info *Info) error {
	if err := c.Fs.MkdirAll(c.CacheDir, 0o755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return err
	}

	return afero.WriteFile(c.Fs, filepath.Join(c.CacheDir, cacheFile), data, 0o644)
}

// compareVersions compares two semver strings
// Returns -1 if a < b, 0 if a == b, 1 if a > b
func compareVersions(a, b string) int {
	// dev is always "latest"
	if a == "dev" {
		return 1
	}
	if b == "dev" {
		return -1
	}

	va, errA := goversion.NewVersion(a)
	vb, errB := goversion.NewVersion(b)
	switch {
	case errA != nil && errB != nil:
		return 0
	case errA != nil:
		return -1 // unparseable builds are treated as outdated
	case errB != nil:
		return 1
	}
	return va.Compare(vb)
}
