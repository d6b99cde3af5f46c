// Package userdir is a REST client for a dummyjson-style user directory,
// exposed as tools. Every outbound request carries the headers propagated
// from the inbound request that triggered it.
package userdir

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/allegro/bigcache/v3"
	"github.com/go-go-golems/ctxrelay/pkg/mdc"
	"github.com/go-go-golems/ctxrelay/pkg/restoration"
	"github.com/go-go-golems/ctxrelay/pkg/security"
	"github.com/pkg/errors"
)

const DefaultBaseURL = "https://dummyjson.com"

// headers never forwarded from the inbound request
var skippedHeaders = map[string]struct{}{
	"host":              {},
	"content-length":    {},
	"content-type":      {},
	"connection":        {},
	"accept-encoding":   {},
	"transfer-encoding": {},
	"upgrade":           {},
	"te":                {},
	"trailer":           {},
	"keep-alive":        {},
}

type Config struct {
	BaseURL  string        `json:"base_url" yaml:"base_url" mapstructure:"base_url"`
	Timeout  time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"`
	CacheTTL time.Duration `json:"cache_ttl" yaml:"cache_ttl" mapstructure:"cache_ttl"`
	// Outbound guards BaseURL, since every request carries the inbound
	// request's headers.
	Outbound security.OutboundPolicy `json:"outbound" yaml:"outbound" mapstructure:"outbound"`
}

func DefaultConfig() Config {
	return Config{
		BaseURL:  DefaultBaseURL,
		Timeout:  10 * time.Second,
		CacheTTL: 0,
	}
}

// APIError is returned for non-2xx responses.
type APIError struct {
	Method string
	URL    string
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.URL, e.Status, e.Body)
}

type Client struct {
	baseURL  string
	http     *http.Client
	restorer *restoration.Service
	cache    *bigcache.BigCache
}

type ClientOption func(*Client)

func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) {
		cl.http = c
	}
}

// NewClient builds a client. A positive cfg.CacheTTL enables an in-memory
// cache of GET responses, keyed by URL and traffic color.
func NewClient(ctx context.Context, cfg Config, restorer *restoration.Service, options ...ClientOption) (*Client, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if err := cfg.Outbound.Check(cfg.BaseURL); err != nil {
		return nil, errors.Wrap(err, "user directory base URL")
	}
	c := &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		http:     &http.Client{Timeout: cfg.Timeout},
		restorer: restorer,
	}
	for _, o := range options {
		o(c)
	}
	if cfg.CacheTTL > 0 {
		cacheCfg := bigcache.DefaultConfig(cfg.CacheTTL)
		cacheCfg.Verbose = false
		cache, err := bigcache.New(ctx, cacheCfg)
		if err != nil {
			return nil, errors.Wrap(err, "creating response cache")
		}
		c.cache = cache
	}
	return c, nil
}

func (c *Client) Close() error {
	if c.cache != nil {
		return c.cache.Close()
	}
	return nil
}

func (c *Client) ListUsers(ctx context.Context, limit, skip int) (*UsersResponse, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("skip", strconv.Itoa(skip))
	var ret UsersResponse
	if err := c.do(ctx, http.MethodGet, "/users?"+q.Encode(), nil, &ret); err != nil {
		return nil, err
	}
	return &ret, nil
}

func (c *Client) ListUsersDefault(ctx context.Context) (*UsersResponse, error) {
	var ret UsersResponse
	if err := c.do(ctx, http.MethodGet, "/users", nil, &ret); err != nil {
		return nil, err
	}
	return &ret, nil
}

func (c *Client) GetUser(ctx context.Context, id int) (*User, error) {
	var ret User
	if err := c.do(ctx, http.MethodGet, "/users/"+strconv.Itoa(id), nil, &ret); err != nil {
		return nil, err
	}
	return &ret, nil
}

func (c *Client) SearchUsers(ctx context.Context, query string) (*UsersResponse, error) {
	var ret UsersResponse
	if err := c.do(ctx, http.MethodGet, "/users/search?q="+url.QueryEscape(query), nil, &ret); err != nil {
		return nil, err
	}
	return &ret, nil
}

func (c *Client) AddUser(ctx context.Context, u User) (*User, error) {
	var ret User
	if err := c.do(ctx, http.MethodPost, "/users/add", u, &ret); err != nil {
		return nil, err
	}
	return &ret, nil
}

func (c *Client) UpdateUser(ctx context.Context, id int, updates map[string]any) (*User, error) {
	var ret User
	path := "/users/" + strconv.Itoa(id)
	if err := c.do(ctx, http.MethodPut, path, updates, &ret); err != nil {
		return nil, err
	}
	c.invalidate(ctx, path)
	return &ret, nil
}

func (c *Client) DeleteUser(ctx context.Context, id int) (*User, error) {
	var ret User
	path := "/users/" + strconv.Itoa(id)
	if err := c.do(ctx, http.MethodDelete, path, nil, &ret); err != nil {
		return nil, err
	}
	c.invalidate(ctx, path)
	return &ret, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	headers := forwarded(c.restorer.RestoreAllContextsAndGetHeaders(ctx))
	logger := mdc.Ctx(ctx).With().Str("component", "userdir").Str("method", method).Str("path", path).Logger()

	key := c.cacheKey(path, headers)
	if method == http.MethodGet && c.cache != nil {
		if b, err := c.cache.Get(key); err == nil {
			logger.Debug().Msg("cache hit")
			return errors.Wrap(json.Unmarshal(b, out), "decoding cached response")
		}
	}

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "encoding request body")
		}
		reader = bytes.NewReader(b)
	}

	u := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return errors.Wrap(err, "building request")
	}
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	logger.Debug().Int("forwarded_headers", len(req.Header)).Msg("calling user directory")
	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, u)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "reading response")
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{Method: method, URL: u, Status: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	if err := json.Unmarshal(b, out); err != nil {
		return errors.Wrap(err, "decoding response")
	}
	if method == http.MethodGet && c.cache != nil {
		if err := c.cache.Set(key, b); err != nil {
			logger.Warn().Err(err).Msg("could not cache response")
		}
	}
	return nil
}

// forwarded drops the headers that must not reach the directory.
func forwarded(headers http.Header) http.Header {
	ret := make(http.Header, len(headers))
	for k, vs := range headers {
		if _, skip := skippedHeaders[strings.ToLower(k)]; skip {
			continue
		}
		ret[k] = vs
	}
	return ret
}

// cacheKey digests every forwarded header together with the path, so callers
// with different credentials or routing headers never share an entry.
func (c *Client) cacheKey(path string, headers http.Header) string {
	names := make([]string, 0, len(headers))
	for k := range headers {
		names = append(names, k)
	}
	sort.Strings(names)

	h := sha256.New()
	for _, k := range names {
		h.Write([]byte(strings.ToLower(k)))
		h.Write([]byte{0})
		for _, v := range headers[k] {
			h.Write([]byte(v))
			h.Write([]byte{0})
		}
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil)) + "|" + path
}

// invalidate drops the entry cached for the current caller. Entries of other
// callers age out with the cache TTL.
func (c *Client) invalidate(ctx context.Context, path string) {
	if c.cache == nil {
		return
	}
	_ = c.cache.Delete(c.cacheKey(path, forwarded(c.restorer.HTTPHeaders(ctx))))
}
