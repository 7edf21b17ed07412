// Package pool is the on-disk data pool: a content-addressed local cache over
// the remote archive, with mirror-aware retrying fetch. Safe for use from many
// concurrent workers; per-file writes are temp-then-rename atomic.
package pool

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// ErrNotFound reports that the remote resource is genuinely absent on every
// mirror. It is expected and drives the fallback path.
var ErrNotFound = errors.New("pool: resource not found")

// FetchError is a transient network or HTTP failure; the caller may retry the
// whole unit later or count it as missing.
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Config carries the fetch protocol settings.
type Config struct {
	BaseURLs            []string
	RetryCount          int
	RetryBackoff        time.Duration
	Timeout             time.Duration
	VerifyChecksum      bool
	RefreshCache        bool
	RecentRefreshWindow time.Duration
}

// Request names one archive file by instrument and calendar unit. Time is the
// unit start in UTC; FileName is e.g. "04h_ticks.bi5" or the daily bar file.
type Request struct {
	Instrument string
	Time       time.Time
	FileName   string
}

// Pool owns the cache directory tree rooted at root.
type Pool struct {
	root   string
	cfg    Config
	client *http.Client

	// sleep and now are injectable so retry/backoff is testable without
	// wall-clock waits.
	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time

	dirMu       sync.Mutex
	createdDirs map[string]struct{}
}

// New creates a pool rooted at the given directory.
func New(root string, cfg Config) *Pool {
	if cfg.RetryCount <= 0 {
		cfg.RetryCount = 1
	}
	return &Pool{
		root:        root,
		cfg:         cfg,
		client:      &http.Client{Timeout: cfg.Timeout},
		sleep:       sleepCtx,
		now:         time.Now,
		createdDirs: make(map[string]struct{}),
	}
}

// Fetch returns the raw bytes for a request, from cache when a valid copy
// exists, otherwise downloading with retry across month candidates × mirrors.
// Returns ErrNotFound when the file is definitively absent everywhere.
func (p *Pool) Fetch(ctx context.Context, req Request) ([]byte, error) {
	candidates := monthCandidates(req.Time)

	if !p.needsRefresh(req.Time) {
		for _, month := range candidates {
			localPath, err := p.localPath(req, month)
			if err != nil {
				return nil, err
			}
			if p.usable(localPath) {
				log.WithField("path", localPath).Debug("pool cache hit")
				return os.ReadFile(localPath)
			}
		}
	}

	attempts := p.buildAttempts(req, candidates)
	if len(attempts) == 0 {
		return nil, ErrNotFound
	}

	var lastErr error
	for try := 0; try < p.cfg.RetryCount; try++ {
		allNotFound := true
		for _, at := range attempts {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			err := p.download(ctx, at.url, at.localPath)
			if err == nil {
				return os.ReadFile(at.localPath)
			}
			if errors.Is(err, ErrNotFound) {
				continue
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			allNotFound = false
			lastErr = err
			log.WithField("url", at.url).WithError(err).Debug("pool download failed")
		}

		// Every candidate/mirror combination 404ed: the file does not exist,
		// no point burning the remaining retries.
		if allNotFound {
			return nil, ErrNotFound
		}

		if try < p.cfg.RetryCount-1 {
			if err := p.sleep(ctx, p.cfg.RetryBackoff); err != nil {
				return nil, err
			}
		}
	}

	return nil, lastErr
}

type attempt struct {
	url       string
	localPath string
}

// buildAttempts flattens the month-candidate × mirror search into one ordered
// sequence, decoupled from the backoff policy.
func (p *Pool) buildAttempts(req Request, candidates []int) []attempt {
	t := req.Time.UTC()
	var attempts []attempt
	for _, month := range candidates {
		localPath, err := p.localPath(req, month)
		if err != nil {
			log.WithError(err).Warn("pool could not prepare cache directory")
			continue
		}
		relative := fmt.Sprintf("%s/%04d/%02d/%02d/%s",
			req.Instrument, t.Year(), month, t.Day(), req.FileName)
		for _, base := range p.cfg.BaseURLs {
			url := fmt.Sprintf("%s/%s", trimTrailingSlash(base), relative)
			attempts = append(attempts, attempt{url: url, localPath: localPath})
		}
	}
	return attempts
}

func (p *Pool) download(ctx context.Context, url, localPath string) error {
	log.WithField("url", url).Debug("pool downloading")

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return &FetchError{URL: url, Err: err}
	}
	resp, err := p.client.Do(httpReq)
	if err != nil {
		return &FetchError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return &FetchError{URL: url, Err: fmt.Errorf("unexpected status %s", resp.Status)}
	}

	tmp, err := os.CreateTemp(filepath.Dir(localPath), filepath.Base(localPath)+".tmp*")
	if err != nil {
		return &FetchError{URL: url, Err: err}
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, resp.Body)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return &FetchError{URL: url, Err: err}
	}
	if n == 0 {
		return &FetchError{URL: url, Err: errors.New("downloaded file is empty")}
	}

	if err := os.Rename(tmp.Name(), localPath); err != nil {
		return &FetchError{URL: url, Err: err}
	}
	if err := WriteMeta(localPath); err != nil {
		return &FetchError{URL: url, Err: err}
	}
	return nil
}

// usable reports whether a cached file may be served without refetching.
func (p *Pool) usable(localPath string) bool {
	info, err := os.Stat(localPath)
	if err != nil || info.Size() == 0 {
		return false
	}
	if p.cfg.VerifyChecksum && !VerifyFile(localPath) {
		log.WithField("path", localPath).Warn("pool cache integrity mismatch, refetching")
		return false
	}
	return true
}

// needsRefresh applies the recent-window refresh policy: recently traded units
// are refetched even when a valid cached copy exists, since the provider may
// still be backfilling them.
func (p *Pool) needsRefresh(unit time.Time) bool {
	if !p.cfg.RefreshCache || p.cfg.RecentRefreshWindow <= 0 {
		return false
	}
	return unit.After(p.now().Add(-p.cfg.RecentRefreshWindow))
}

func (p *Pool) localPath(req Request, month int) (string, error) {
	t := req.Time.UTC()
	dir := filepath.Join(p.root, req.Instrument,
		fmt.Sprintf("%04d", t.Year()),
		fmt.Sprintf("%02d", month),
		fmt.Sprintf("%02d", t.Day()))
	if err := p.ensureDir(dir); err != nil {
		return "", err
	}
	return filepath.Join(dir, req.FileName), nil
}

func (p *Pool) ensureDir(dir string) error {
	p.dirMu.Lock()
	defer p.dirMu.Unlock()
	if _, ok := p.createdDirs[dir]; ok {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create cache directory %s: %w", dir, err)
	}
	p.createdDirs[dir] = struct{}{}
	return nil
}

// monthCandidates returns both plausible month directories for a unit, in
// ascending order. The remote archive indexes months with an off-by-one quirk
// (0-based vs 1-based upstream), so both {month-1, month} must be probed.
// Do not "fix" this.
func monthCandidates(t time.Time) []int {
	month := int(t.UTC().Month())
	var out []int
	for _, m := range []int{month - 1, month} {
		if m < 0 || m > 12 {
			continue
		}
		if len(out) > 0 && out[len(out)-1] == m {
			continue
		}
		out = append(out, m)
	}
	return out
}

func trimTrailingSlash(s string) string {
	for len(s) > 0 && s[len(s)-1] == '/' {
		s = s[:len(s)-1]
	}
	return s
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
