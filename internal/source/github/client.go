// Package github fetches markdown documents from a GitHub repository
// directory so they can be ingested like local files. It is an optional
// remote source; the filesystem remains the primary ingestion path.
package github

import (
	"context"
	"os"

	"github.com/gofri/go-github-ratelimit/github_ratelimit"
	"github.com/google/go-github/v81/github"
)

// Client wraps the GitHub API client with rate limiting.
type Client struct {
	*github.Client
}

// NewClient creates a rate-limited GitHub client. If GITHUB_TOKEN is set
// the client authenticates for higher rate limits.
func NewClient(ctx context.Context) (*Client, error) {
	rateLimiter, err := github_ratelimit.NewRateLimitWaiterClient(nil)
	if err != nil {
		return nil, err
	}

	ghClient := github.NewClient(rateLimiter)
	if token := os.Getenv("GITHUB_TOKEN"); token != "" {
		ghClient = ghClient.WithAuthToken(token)
	}

	return &Client{Client: ghClient}, nil
}
