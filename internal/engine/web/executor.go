// Package webengine executes web crawl sessions with gocolly.
package webengine

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-session-manager/internal/engine"
	"github.com/JakeFAU/crawl-session-manager/internal/metrics"
	"github.com/JakeFAU/crawl-session-manager/internal/session"
)

// Setting keys understood by the web executor.
const (
	SettingEntryURL     = "entryUrl"
	SettingMaxDepth     = "maxDepth"
	SettingMaxURLNumber = "maxUrlNumber"
	SettingSameHostOnly = "sameHostOnly"
	SettingUserAgent    = "userAgent"
)

// Limiter throttles requests per host.
type Limiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Config carries executor defaults used when a definition leaves a setting out.
type Config struct {
	UserAgent     string
	MaxDepth      int
	MaxURLNumber  int
	Timeout       time.Duration
	RespectRobots bool
	// Transport overrides the HTTP transport; nil uses a pooled default.
	Transport http.RoundTripper
}

// Executor crawls from an entry URL following links, checkpointing before every request.
type Executor struct {
	cfg     Config
	limiter Limiter
	logger  *zap.Logger
}

// New builds an Executor. limiter may be nil.
func New(cfg Config, limiter Limiter, logger *zap.Logger) *Executor {
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = 2
	}
	if cfg.MaxURLNumber <= 0 {
		cfg.MaxURLNumber = 100
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.Transport == nil {
		cfg.Transport = newHTTPTransport()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{cfg: cfg, limiter: limiter, logger: logger.Named("web_executor")}
}

type plan struct {
	entry        *url.URL
	maxDepth     int
	maxURLs      int
	sameHostOnly bool
	userAgent    string
}

func (e *Executor) plan(def session.Definition) (plan, error) {
	s := engine.Settings(def.Settings)
	raw, err := s.RequiredString(SettingEntryURL)
	if err != nil {
		return plan{}, err
	}
	entry, err := url.Parse(raw)
	if err != nil || (entry.Scheme != "http" && entry.Scheme != "https") || entry.Host == "" {
		return plan{}, fmt.Errorf("setting %q must be an absolute http(s) URL: %w", SettingEntryURL, session.ErrValidation)
	}
	p := plan{entry: entry}
	if p.maxDepth, err = s.Int(SettingMaxDepth, e.cfg.MaxDepth); err != nil {
		return plan{}, err
	}
	if p.maxURLs, err = s.Int(SettingMaxURLNumber, e.cfg.MaxURLNumber); err != nil {
		return plan{}, err
	}
	if p.maxURLs == 0 {
		p.maxURLs = e.cfg.MaxURLNumber
	}
	if p.sameHostOnly, err = s.Bool(SettingSameHostOnly, true); err != nil {
		return plan{}, err
	}
	if p.userAgent, err = s.String(SettingUserAgent, e.cfg.UserAgent); err != nil {
		return plan{}, err
	}
	return p, nil
}

// Execute implements session.Executor.
func (e *Executor) Execute(ctx context.Context, task session.Task, progress session.Progress) error {
	p, err := e.plan(task.Definition)
	if err != nil {
		return err
	}
	logger := e.logger.With(zap.String("session", task.Name), zap.String("run_id", task.RunID))

	var (
		requested int
		stopErr   error
	)
	// colly counts the entry page as depth 1.
	opts := []colly.CollectorOption{colly.MaxDepth(p.maxDepth + 1)}
	if p.sameHostOnly {
		opts = append(opts, colly.AllowedDomains(p.entry.Hostname()))
	}
	c := colly.NewCollector(opts...)
	if p.userAgent != "" {
		c.UserAgent = p.userAgent
	}
	c.IgnoreRobotsTxt = !e.cfg.RespectRobots
	c.SetRequestTimeout(e.cfg.Timeout)
	c.WithTransport(e.cfg.Transport)

	c.OnRequest(func(r *colly.Request) {
		if stopErr != nil {
			r.Abort()
			return
		}
		if err := progress.Checkpoint(); err != nil {
			stopErr = err
			r.Abort()
			return
		}
		if requested >= p.maxURLs {
			r.Abort()
			return
		}
		if e.limiter != nil {
			if err := e.limiter.Wait(ctx, r.URL.String()); err != nil {
				stopErr = err
				r.Abort()
				return
			}
		}
		requested++
	})

	c.OnResponse(func(r *colly.Response) {
		metrics.ObserveFetch(r.Request.URL.String(), strconv.Itoa(r.StatusCode), len(r.Body))
		progress.Report(session.Counters{Items: 1, Bytes: int64(len(r.Body))})
	})

	c.OnError(func(r *colly.Response, err error) {
		target := ""
		if r != nil && r.Request != nil {
			target = r.Request.URL.String()
		}
		metrics.ObserveFetch(target, "error", 0)
		progress.Report(session.Counters{Failed: 1})
		logger.Debug("fetch failed", zap.String("url", target), zap.Error(err))
	})

	c.OnHTML("a[href]", func(el *colly.HTMLElement) {
		// Rejections (visited, depth, foreign host) are expected here.
		_ = el.Request.Visit(el.Attr("href"))
	})

	visitErr := c.Visit(p.entry.String())
	if stopErr != nil {
		return stopErr
	}
	if err := progress.Checkpoint(); err != nil {
		return err
	}
	if visitErr != nil {
		return fmt.Errorf("visit entry %s: %w", p.entry, visitErr)
	}
	logger.Debug("web crawl finished", zap.Int("requests", requested))
	return nil
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
