package contextsrc

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"agentcron/internal/core/domain"
	"agentcron/internal/core/ports"
)

const (
	maxSourceBytes = 1 << 20 // 1MB per source
	maxFolderFiles = 20
)

// Resolver renders context source descriptors into text spliced into a prompt.
// A failing source renders an error marker instead of failing the run.
var _ ports.ContextResolver = (*Resolver)(nil)

type Resolver struct {
	logger *slog.Logger
	client *http.Client
}

func NewResolver(logger *slog.Logger) *Resolver {
	return &Resolver{
		logger: logger,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

// Resolve renders each source in order into one context block.
func (r *Resolver) Resolve(ctx context.Context, sources []domain.ContextSource, user domain.UserID) (string, error) {
	var b strings.Builder
	for i, src := range sources {
		rendered, err := r.renderSource(ctx, src)
		if err != nil {
			r.logger.Warn("context source failed",
				"user_id", user, "type", src.Type, "value", src.Value, "error", err)
			rendered = fmt.Sprintf("[context source %s unavailable: %v]", src.Type, err)
		}
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(rendered)
	}
	return b.String(), nil
}

// Apply splices rendered context ahead of the prompt.
func (r *Resolver) Apply(prompt, rendered string) string {
	if rendered == "" {
		return prompt
	}
	return "## Context\n\n" + rendered + "\n\n---\n\n" + prompt
}

func (r *Resolver) renderSource(ctx context.Context, src domain.ContextSource) (string, error) {
	switch src.Type {
	case domain.ContextSourceText:
		return src.Value, nil
	case domain.ContextSourceFile:
		return readFileCapped(src.Value)
	case domain.ContextSourceFolder:
		return r.renderFolder(src.Value)
	case domain.ContextSourceWeb:
		return r.fetchURL(ctx, src.Value)
	default:
		return "", fmt.Errorf("unknown context source type %q", src.Type)
	}
}

func readFileCapped(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, maxSourceBytes))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (r *Resolver) renderFolder(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	if len(names) > maxFolderFiles {
		names = names[:maxFolderFiles]
	}

	var b strings.Builder
	for _, name := range names {
		content, err := readFileCapped(filepath.Join(dir, name))
		if err != nil {
			r.logger.Warn("skipping unreadable file in context folder", "file", name, "error", err)
			continue
		}
		fmt.Fprintf(&b, "### %s\n\n%s\n\n", name, content)
	}
	return b.String(), nil
}

func (r *Resolver) fetchURL(ctx context.Context, rawURL string) (string, error) {
	if isInternalTarget(rawURL) {
		return "", fmt.Errorf("URL blocked by security policy: %s", rawURL)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch returned status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxSourceBytes))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// isInternalTarget blocks loopback, private ranges, metadata endpoints, and
// non-HTTP schemes.
func isInternalTarget(rawURL string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return true
	}

	host := parsed.Hostname()
	blocked := []string{
		"localhost",
		"127.0.0.1",
		"0.0.0.0",
		"[::1]",
		"::1",
		"169.254.169.254",
		"metadata.google.internal",
	}
	for _, b := range blocked {
		if strings.EqualFold(host, b) {
			return true
		}
	}

	if ip := net.ParseIP(host); ip != nil {
		if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
			return true
		}
	}

	scheme := strings.ToLower(parsed.Scheme)
	return scheme != "http" && scheme != "https"
}
