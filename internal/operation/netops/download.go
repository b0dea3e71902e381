// Package netops provides network-reaching operations, currently the
// RepoDownload archive fetch.
package netops

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"taskforge/internal/operation"
)

// RepoDownload fetches an archive over HTTP into the session sandbox. The
// "mirror" alternative retries the same path against a configured mirror
// base URL, for when the primary host rate-limits or is unreachable.
type RepoDownload struct {
	operation.Base

	// Client defaults to a 30-second-timeout http.Client.
	Client *http.Client

	// MirrorBaseURL is the base used by the mirror alternative. Empty
	// disables the fallback at run time (the method still fails cleanly).
	MirrorBaseURL string
}

func (RepoDownload) Name() string                 { return "RepoDownload" }
func (RepoDownload) Capabilities() []string       { return []string{"network", "download"} }
func (RepoDownload) RequiresNetwork() bool        { return true }
func (RepoDownload) RequiresFileSystem() bool     { return true }
func (RepoDownload) AlternativeMethods() []string { return []string{"mirror"} }

func (r RepoDownload) Run(ctx context.Context, opCtx *operation.Context) (*operation.Result, error) {
	rawURL, err := opCtx.StringParam("url")
	if err != nil {
		return nil, err
	}
	return r.fetch(ctx, opCtx, rawURL)
}

func (r RepoDownload) RunAlternative(ctx context.Context, opCtx *operation.Context, method string) (*operation.Result, error) {
	if method != "mirror" {
		return nil, operation.ErrUnknownMethod
	}
	if r.MirrorBaseURL == "" {
		return nil, fmt.Errorf("no mirror configured")
	}
	rawURL, err := opCtx.StringParam("url")
	if err != nil {
		return nil, err
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}
	mirrored := strings.TrimRight(r.MirrorBaseURL, "/") + parsed.Path
	return r.fetch(ctx, opCtx, mirrored)
}

func (r RepoDownload) fetch(ctx context.Context, opCtx *operation.Context, rawURL string) (*operation.Result, error) {
	if opCtx.Scope == nil {
		return operation.Fail("no session scope attached to invocation"), nil
	}

	parsed, err := url.Parse(rawURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return nil, fmt.Errorf("invalid url %q", rawURL)
	}

	dest := opCtx.OptionalString("dest", "")
	if dest == "" {
		dest = path.Base(parsed.Path)
		if dest == "/" || dest == "." || dest == "" {
			dest = "download"
		}
	}
	abs, err := opCtx.Scope.ResolveDir(dest)
	if err != nil {
		return nil, err
	}

	client := r.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download failed with status %d", resp.StatusCode)
	}

	n, err := writeBody(abs, resp.Body)
	if err != nil {
		return nil, err
	}

	opCtx.State["downloadedBytes"] = n
	return operation.Ok(fmt.Sprintf("downloaded %d bytes to %s", n, opCtx.Scope.DisplayPath(abs))), nil
}

func (RepoDownload) EstimateCost(*operation.Context) decimal.Decimal {
	return decimal.NewFromFloat(1.0)
}

func writeBody(abs string, body io.Reader) (int64, error) {
	f, err := createFile(abs)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	n, err := io.Copy(f, body)
	if err != nil {
		return 0, fmt.Errorf("failed to write download: %w", err)
	}
	return n, nil
}
