// Package crawler fetches pages over HTTP and extracts links, titles and text.
package crawler

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"sitesearch/packages/metrics"

	"github.com/temoto/robotstxt"
	"golang.org/x/time/rate"
)

type Options struct {
	Timeout       time.Duration
	Delay         time.Duration
	UserAgent     string
	RespectRobots bool
	MaxBodyBytes  int64
}

// Response is a fetched page. Non-2xx responses are returned as data.
type Response struct {
	StatusCode  int
	Body        string
	ContentType string
	FinalURL    string
}

type Crawler struct {
	client *http.Client
	opts   Options

	limitersMu sync.Mutex
	limiters   map[string]*rate.Limiter

	robotsMu    sync.RWMutex
	robotsCache map[string]*robotstxt.RobotsData
}

func New(opts Options) *Crawler {
	if opts.Timeout <= 0 {
		opts.Timeout = 6 * time.Second
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 10 << 20
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "SiteSearchBot/1.0"
	}
	return &Crawler{
		client: &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		opts:        opts,
		limiters:    make(map[string]*rate.Limiter),
		robotsCache: make(map[string]*robotstxt.RobotsData),
	}
}

// Fetch downloads rawURL. A transport failure is returned as an error;
// any HTTP status is returned in the Response. Bodies that are not HTML
// are dropped.
func (c *Crawler) Fetch(ctx context.Context, rawURL string) (*Response, error) {
	slog.Debug("Starting page fetch", "url", rawURL)
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse url %q: %w", rawURL, err)
	}
	if err := c.limiter(u.Host).Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.opts.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")

	resp, err := c.client.Do(req)
	if err != nil {
		metrics.PagesFetched.WithLabelValues("transport_error").Inc()
		return nil, err
	}
	defer resp.Body.Close()

	out := &Response{
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		FinalURL:    resp.Request.URL.String(),
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		slog.Debug("Fetch returned bad status code", "url", rawURL, "status_code", resp.StatusCode)
		metrics.PagesFetched.WithLabelValues("http_error").Inc()
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, c.opts.MaxBodyBytes))
		return out, nil
	}
	metrics.PagesFetched.WithLabelValues("ok").Inc()

	if out.ContentType != "" && !strings.Contains(strings.ToLower(out.ContentType), "html") {
		slog.Debug("Content-Type is not HTML", "url", rawURL, "content_type", out.ContentType)
		return out, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.opts.MaxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body of %s: %w", rawURL, err)
	}
	out.Body = string(body)
	return out, nil
}

// Allowed reports whether robots.txt of the URL's host permits fetching it.
// It always returns true when robots handling is disabled or robots.txt
// cannot be retrieved.
func (c *Crawler) Allowed(ctx context.Context, rawURL string) bool {
	if !c.opts.RespectRobots {
		return true
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	robotsURL := fmt.Sprintf("%s://%s/robots.txt", u.Scheme, u.Host)

	c.robotsMu.RLock()
	robots, exists := c.robotsCache[robotsURL]
	c.robotsMu.RUnlock()

	if !exists {
		robots = c.fetchRobotsTxt(ctx, robotsURL)
		c.robotsMu.Lock()
		c.robotsCache[robotsURL] = robots
		c.robotsMu.Unlock()
	}
	if robots == nil {
		return true
	}

	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	return robots.FindGroup(c.opts.UserAgent).Test(path)
}

func (c *Crawler) fetchRobotsTxt(ctx context.Context, robotsURL string) *robotstxt.RobotsData {
	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return nil
	}
	req.Header.Set("User-Agent", c.opts.UserAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		slog.Debug("robots.txt unavailable", "url", robotsURL, "error", err)
		return nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 512<<10))
	if err != nil {
		return nil
	}
	robots, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		slog.Debug("robots.txt unparsable", "url", robotsURL, "error", err)
		return nil
	}
	return robots
}

func (c *Crawler) limiter(host string) *rate.Limiter {
	c.limitersMu.Lock()
	defer c.limitersMu.Unlock()
	l, ok := c.limiters[host]
	if !ok {
		limit := rate.Inf
		if c.opts.Delay > 0 {
			limit = rate.Every(c.opts.Delay)
		}
		l = rate.NewLimiter(limit, 1)
		c.limiters[host] = l
	}
	return l
}
