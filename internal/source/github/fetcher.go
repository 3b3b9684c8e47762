package github

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// Fetcher pulls markdown files out of one repository directory.
type Fetcher struct {
	client   *Client
	owner    string
	repo     string
	basePath string
}

// NewFetcher creates a fetcher rooted at owner/repo/basePath.
func NewFetcher(client *Client, owner, repo, basePath string) *Fetcher {
	return &Fetcher{client: client, owner: owner, repo: repo, basePath: basePath}
}

// ListDocs recursively lists all markdown file paths under the base path,
// relative to it.
func (f *Fetcher) ListDocs(ctx context.Context) ([]string, error) {
	return f.listRecursive(ctx, f.basePath, "")
}

func (f *Fetcher) listRecursive(ctx context.Context, fullPath, relativePath string) ([]string, error) {
	var docs []string

	_, dirContents, _, err := f.client.Repositories.GetContents(ctx, f.owner, f.repo, fullPath, nil)
	if err != nil {
		return nil, fmt.Errorf("list contents of %s: %w", fullPath, err)
	}

	for _, item := range dirContents {
		if item.Type == nil || item.Name == nil {
			continue
		}
		itemRelPath := path.Join(relativePath, *item.Name)

		switch *item.Type {
		case "file":
			if strings.HasSuffix(*item.Name, ".md") {
				docs = append(docs, itemRelPath)
			}
		case "dir":
			sub, err := f.listRecursive(ctx, path.Join(fullPath, *item.Name), itemRelPath)
			if err != nil {
				return nil, err
			}
			docs = append(docs, sub...)
		}
	}

	return docs, nil
}

// FetchDoc returns the decoded content of one markdown file.
func (f *Fetcher) FetchDoc(ctx context.Context, relativePath string) (string, error) {
	fullPath := path.Join(f.basePath, relativePath)

	fileContent, _, _, err := f.client.Repositories.GetContents(ctx, f.owner, f.repo, fullPath, nil)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", fullPath, err)
	}
	if fileContent == nil {
		return "", fmt.Errorf("no file content returned for %s", fullPath)
	}

	content, err := base64.StdEncoding.DecodeString(*fileContent.Content)
	if err != nil {
		return "", fmt.Errorf("decode %s: %w", fullPath, err)
	}
	return string(content), nil
}

// Download fetches every markdown file under the base path into dir,
// flattening the repository layout into unique local file names, and
// returns the local paths for ingestion. Cancellation is checked between
// files; files fetched so far are returned alongside the error.
func (f *Fetcher) Download(ctx context.Context, dir string) ([]string, error) {
	docs, err := f.ListDocs(ctx)
	if err != nil {
		return nil, err
	}

	var local []string
	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return local, err
		}

		content, err := f.FetchDoc(ctx, doc)
		if err != nil {
			return local, err
		}

		name := strings.ReplaceAll(doc, "/", "__")
		dst := filepath.Join(dir, name)
		if err := os.WriteFile(dst, []byte(content), 0o600); err != nil {
			return local, fmt.Errorf("write %s: %w", dst, err)
		}
		local = append(local, dst)
	}
	return local, nil
}

// Describe returns a human-readable source identifier for metadata.
func (f *Fetcher) Describe() string {
	return fmt.Sprintf("%s/%s/%s", f.owner, f.repo, f.basePath)
}
