// Package registry talks to the authoritative remote registry: the search
// service that enumerates every published DOI, and the journal site that
// serves each document's XML.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/roach88/corpussync/internal/article"
	"github.com/roach88/corpussync/internal/doi"
	"github.com/roach88/corpussync/internal/fault"
)

// Defaults for Config.
const (
	DefaultArticleBase = "https://journals.plos.org"
	DefaultSearchBase  = "https://api.plos.org"
	DefaultTermsLimit  = 500000
	DefaultUserAgent   = "corpussync/1"

	maxBodyBytes = 256 << 20
)

// termsRegex restricts enumeration to identifiers that map to corpus files.
const termsRegex = `10\.1371/(journal\.p[a-zA-Z]{3}\.[\d]{7}|annotation/[a-zA-Z0-9]{8}-[a-zA-Z0-9]{4}-[a-zA-Z0-9]{4}-[a-zA-Z0-9]{4}-[a-zA-Z0-9]{12})`

// Config configures a Client.
type Config struct {
	ArticleBase string
	SearchBase  string
	TermsLimit  int
	UserAgent   string

	// HTTPClient overrides the transport. Per-call timeouts come from the
	// caller's context, not from the client.
	HTTPClient *http.Client

	// HandoffSize bounds the fingerprinted bodies kept for a following
	// Fetch. Zero means DefaultHandoffSize; negative disables reuse.
	HandoffSize int
	HandoffTTL  time.Duration
}

// Client is an HTTP registry client. Safe for concurrent use.
type Client struct {
	cfg     Config
	hc      *http.Client
	logger  *slog.Logger
	handoff *handoff
}

// New creates a Client, filling unset Config fields with defaults.
func New(cfg Config, logger *slog.Logger) *Client {
	if cfg.ArticleBase == "" {
		cfg.ArticleBase = DefaultArticleBase
	}
	if cfg.SearchBase == "" {
		cfg.SearchBase = DefaultSearchBase
	}
	if cfg.TermsLimit <= 0 {
		cfg.TermsLimit = DefaultTermsLimit
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 5 * time.Minute}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.HandoffSize == 0 {
		cfg.HandoffSize = DefaultHandoffSize
	}
	if cfg.HandoffTTL <= 0 {
		cfg.HandoffTTL = DefaultHandoffTTL
	}
	return &Client{cfg: cfg, hc: hc, logger: logger, handoff: newHandoff(cfg.HandoffSize, cfg.HandoffTTL)}
}

type termsResponse struct {
	Terms struct {
		ID []any `json:"id"`
	} `json:"terms"`
}

// ListAllIDs enumerates the canonical DOI set. The terms endpoint returns
// identifiers interleaved with their counts; only valid DOIs are kept.
func (c *Client) ListAllIDs(ctx context.Context) (doi.Set, error) {
	q := url.Values{}
	q.Set("terms.fl", "id")
	q.Set("terms.limit", strconv.Itoa(c.cfg.TermsLimit))
	q.Set("wt", "json")
	q.Set("terms.regex", termsRegex)
	endpoint := c.cfg.SearchBase + "/terms?" + q.Encode()

	body, err := c.get(ctx, "list", "", endpoint)
	if err != nil {
		return nil, err
	}

	var resp termsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fault.Malformed("list", "", fmt.Errorf("decode terms response: %w", err))
	}

	ids := doi.NewSet()
	skipped := 0
	for _, term := range resp.Terms.ID {
		s, ok := term.(string)
		if !ok {
			continue
		}
		id, err := doi.Parse(s)
		if err != nil {
			skipped++
			continue
		}
		ids.Add(id)
	}
	c.logger.Debug("canonical set listed", "ids", ids.Len(), "skipped", skipped)
	return ids, nil
}

// Fetch downloads and decodes the current version of id. Bytes just
// downloaded by FetchFingerprint for id are decoded without a second
// request.
func (c *Client) Fetch(ctx context.Context, id doi.DOI) (*article.Document, error) {
	body, ok := c.handoff.take(id)
	if ok {
		c.logger.Debug("reusing fingerprinted body", "doi", id)
	} else {
		var err error
		if body, err = c.get(ctx, "fetch", id, id.ArticleURL(c.cfg.ArticleBase)); err != nil {
			return nil, err
		}
	}
	doc, err := article.Decode(id, body)
	if err != nil {
		return nil, fault.Malformed("fetch", id, err)
	}
	return doc, nil
}

// FetchFingerprint hashes the current remote bytes of id without decoding.
// The registry serves no content hash, so this downloads the document; the
// bytes are kept briefly for a following Fetch.
func (c *Client) FetchFingerprint(ctx context.Context, id doi.DOI) (article.Fingerprint, error) {
	body, err := c.get(ctx, "fingerprint", id, id.ArticleURL(c.cfg.ArticleBase))
	if err != nil {
		return "", err
	}
	c.handoff.put(id, body)
	return article.FingerprintOf(body), nil
}

// get performs a GET and classifies the outcome:
//
//	404, 410            NotFound
//	408, 429, 5xx       Transient
//	other non-2xx       Malformed
//	transport errors    Transient
func (c *Client) get(ctx context.Context, op string, id doi.DOI, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fault.Malformed(op, id, err)
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fault.Transient(op, id, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fault.NotFound(op, id)
	case resp.StatusCode == http.StatusRequestTimeout ||
		resp.StatusCode == http.StatusTooManyRequests ||
		resp.StatusCode/100 == 5:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fault.Transient(op, id, fmt.Errorf("upstream status %d", resp.StatusCode))
	case resp.StatusCode/100 != 2:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fault.Malformed(op, id, fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if err != nil {
		return nil, fault.Transient(op, id, fmt.Errorf("read body: %w", err))
	}
	if len(body) > maxBodyBytes {
		return nil, fault.Malformed(op, id, fmt.Errorf("body exceeds %d bytes", maxBodyBytes))
	}
	return body, nil
}
