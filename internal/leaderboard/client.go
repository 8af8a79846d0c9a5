package leaderboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	logx "aocbot/pkg/logx"
)

var ErrUnauthorized = errors.New("leaderboard: session rejected")

const (
	DefaultBaseURL   = "https://adventofcode.com"
	defaultUserAgent = "aocbot (+https://github.com/aocbot/aocbot)"
	maxBodyBytes     = 8 << 20
)

type ClientConfig struct {
	BaseURL     string
	BoardID     string
	Session     string
	UserAgent   string
	Timeout     time.Duration
	MinInterval time.Duration // minimum spacing between requests; the site asks for >= 15m per board
}

// Client fetches private leaderboard snapshots.
type Client struct {
	cfg     ClientConfig
	http    *http.Client
	limiter *rate.Limiter
	log     logx.Logger
}

func NewClient(cfg ClientConfig, hc *http.Client, log logx.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.BoardID) == "" {
		return nil, errors.New("leaderboard: board id is empty")
	}
	if strings.TrimSpace(cfg.Session) == "" {
		return nil, errors.New("leaderboard: session is empty")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if hc == nil {
		hc = &http.Client{}
	}
	// A redirect means the session is gone; the site bounces to its login page.
	c := *hc
	c.Timeout = cfg.Timeout
	c.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }

	lim := rate.NewLimiter(rate.Inf, 1)
	if cfg.MinInterval > 0 {
		lim = rate.NewLimiter(rate.Every(cfg.MinInterval), 1)
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{cfg: cfg, http: &c, limiter: lim, log: log}, nil
}

func (c *Client) url(year int) string {
	return c.cfg.BaseURL + "/" + strconv.Itoa(year) + "/leaderboard/private/view/" + c.cfg.BoardID + ".json"
}

// Fetch downloads the snapshot for year. Calls wait on the shared limiter.
func (c *Client) Fetch(ctx context.Context, year int) (Snapshot, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return Snapshot{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url(year), nil)
	if err != nil {
		return Snapshot{}, fmt.Errorf("build leaderboard request: %w", err)
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("Accept", "application/json")
	req.AddCookie(&http.Cookie{Name: "session", Value: c.cfg.Session})

	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return Snapshot{}, fmt.Errorf("leaderboard request: %w", err)
	}
	defer resp.Body.Close()
	c.log.Debug("leaderboard fetched", logx.Int("year", year), logx.Int("status", resp.StatusCode), logx.Duration("took", time.Since(started)))

	switch {
	case resp.StatusCode >= 300 && resp.StatusCode < 400, resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return Snapshot{}, fmt.Errorf("%w: %s", ErrUnauthorized, resp.Status)
	case resp.StatusCode != http.StatusOK:
		return Snapshot{}, fmt.Errorf("leaderboard returned %s", resp.Status)
	}

	var snap Snapshot
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&snap); err != nil {
		return Snapshot{}, fmt.Errorf("decode leaderboard: %w", err)
	}
	if snap.Event == "" {
		snap.Event = strconv.Itoa(year)
	}
	if snap.Event != strconv.Itoa(year) {
		return Snapshot{}, fmt.Errorf("%w: asked for %d, got event %q", ErrMalformed, year, snap.Event)
	}
	return snap, nil
}
