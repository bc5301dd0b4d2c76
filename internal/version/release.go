package version

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Version is overridden at build time with -ldflags "-X ...version.Version=v1.2.3".
var Version = "dev"

const (
	DefaultReleaseAPIURL = "https://api.github.com/repos/vocdoni/p12sign/releases/latest"
	ReleasePageURL       = "https://github.com/vocdoni/p12sign/releases/latest"
)

type latestReleaseResponse struct {
	TagName string `json:"tag_name"`
	HTMLURL string `json:"html_url"`
}

// Release is the newest published release.
type Release struct {
	Tag string
	URL string
}

// Checker queries a GitHub style "latest release" endpoint.
type Checker struct {
	URL    string
	Client *http.Client
	Logger *slog.Logger
}

func NewChecker(logger *slog.Logger) *Checker {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Checker{
		URL:    DefaultReleaseAPIURL,
		Client: &http.Client{Timeout: 8 * time.Second},
		Logger: logger,
	}
}

func (c *Checker) Latest(ctx context.Context) (Release, error) {
	c.Logger.Debug("fetching latest release", "url", c.URL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL, nil)
	if err != nil {
		return Release{}, fmt.Errorf("build latest release request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", "p12sign-version-check")

	resp, err := c.Client.Do(req)
	if err != nil {
		return Release{}, fmt.Errorf("fetch latest release: %w", err)
	}
	defer resp.Body.Close()
	c.Logger.Debug("latest release response", "status", resp.Status)

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		msg := strings.TrimSpace(string(body))
		if msg == "" {
			msg = resp.Status
		}
		return Release{}, fmt.Errorf("latest release request failed: %s", msg)
	}

	var out latestReleaseResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Release{}, fmt.Errorf("decode latest release response: %w", err)
	}
	if out.TagName == "" {
		return Release{}, fmt.Errorf("latest release response missing tag_name")
	}
	if out.HTMLURL == "" {
		out.HTMLURL = ReleasePageURL
	}
	return Release{Tag: out.TagName, URL: out.HTMLURL}, nil
}
