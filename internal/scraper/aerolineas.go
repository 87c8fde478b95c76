// Package scraper produces the raw payloads the ingest pipeline
// consumes: it fetches the airport operator's all-flights API and
// archives each response body verbatim into the object store.
package scraper

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"flightetl/internal/blobpath"
	"flightetl/internal/blobstore"
	"flightetl/internal/metrics"
)

const apiBase = "https://webaa-api-h4d5amdfcze7hthn.a02.azurefd.net/web-prod/v1/api-aa/all-flights"

// DefaultAirports is the set of boards polled when no explicit list is
// configured.
var DefaultAirports = []string{
	"AEP", "EZE", "COR", "MDZ", "BRC", "USH", "SLA", "IGR", "TUC",
	"NQN", "FTE", "CRD", "MDQ", "BHI", "JUJ", "RGL", "RGA", "PSS",
	"RES", "CNQ", "SDE", "EQS", "VDM", "LUQ", "CTC", "IRJ", "SFN",
}

// Client fetches flight boards and archives the raw bodies.
//
// The zero MaxAttempts/backoff fields get sane defaults; tests inject
// sleep and now to avoid real clocks.
type Client struct {
	HTTP        *http.Client
	Store       blobstore.Store
	Environment string

	MaxAttempts int           // default 5
	BaseBackoff time.Duration // default 1s, doubled per attempt
	MaxBackoff  time.Duration // default 60s
	JitterMax   time.Duration // default 350ms

	sleep func(context.Context, time.Duration) bool
	now   func() time.Time
}

// BoardURL builds the all-flights request URL for one airport, one
// movement direction, and one local service date.
func BoardURL(airport string, dir blobpath.Direction, date time.Time) string {
	q := url.Values{}
	q.Set("c", "900")
	q.Set("idarpt", airport)
	q.Set("movtp", movtpCode(dir))
	q.Set("f", date.Format("02-01-2006"))
	return apiBase + "?" + q.Encode()
}

// movtpCode maps a direction to the API's movtp query value.
func movtpCode(dir blobpath.Direction) string {
	if dir == blobpath.DirectionArrival {
		return "A"
	}
	return "D"
}

// FetchBoard downloads one board with retries and archives the body.
// It returns the object-store key the body was stored under.
//
// Errors:
//   - last HTTP/network error once attempts are exhausted.
//   - the Put error when archiving fails (the fetch is not retried).
func (c *Client) FetchBoard(ctx context.Context, airport string, dir blobpath.Direction, date, fetchedAt time.Time) (string, error) {
	rawURL := BoardURL(airport, dir, date)

	body, err := c.fetch(ctx, rawURL)
	if err != nil {
		return "", err
	}

	key := blobpath.EncodeURL(c.Environment, fetchedAt, rawURL)
	if err := c.Store.Put(ctx, key, body); err != nil {
		return "", fmt.Errorf("archive %s: %w", key, err)
	}
	log.Debug().Str("url", rawURL).Str("key", key).Int("bytes", len(body)).Msg("archived board")
	return key, nil
}

func (c *Client) fetch(ctx context.Context, rawURL string) ([]byte, error) {
	maxAttempts := c.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 5
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		start := c.clock()()
		body, status, err := c.doRequest(ctx, rawURL)
		metrics.ObserveHistogram("scrape_request_duration_seconds",
			c.clock()().Sub(start).Seconds(), nil)

		switch {
		case err != nil:
			lastErr = err
			metrics.IncCounter("scrape_requests_total", 1, metrics.Labels{"status": "error"})
		case status >= 400:
			lastErr = fmt.Errorf("GET %s: status %d", rawURL, status)
			metrics.IncCounter("scrape_requests_total", 1, metrics.Labels{"status": fmt.Sprintf("%d", status)})
		default:
			metrics.IncCounter("scrape_requests_total", 1, metrics.Labels{"status": "ok"})
			return body, nil
		}

		if attempt == maxAttempts {
			break
		}
		log.Warn().Str("url", rawURL).Int("attempt", attempt).Err(lastErr).Msg("retrying fetch")
		if !c.sleepFn()(ctx, c.retryDelay(attempt)) {
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("fetch failed after %d attempts: %w", maxAttempts, lastErr)
}

func (c *Client) doRequest(ctx context.Context, rawURL string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, 0, err
	}
	// The operator's API rejects anonymous clients; these are the
	// headers its own frontend sends.
	req.Header.Set("Origin", "https://www.aeropuertosargentina.com")
	req.Header.Set("Key", "HieGcY2nFreIsNLuo5EbXCwE7g0aRzTN")
	req.Header.Set("User-Agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36")
	req.Header.Set("Accept-Language", "es-AR")

	client := c.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return body, resp.StatusCode, nil
}

// retryDelay is exponential from BaseBackoff, clamped to MaxBackoff,
// plus uniform jitter.
func (c *Client) retryDelay(attempt int) time.Duration {
	base := c.BaseBackoff
	if base <= 0 {
		base = time.Second
	}
	max := c.MaxBackoff
	if max <= 0 {
		max = 60 * time.Second
	}
	d := base << uint(attempt-1)
	if d > max {
		d = max
	}
	jitterMax := c.JitterMax
	if jitterMax < 0 {
		jitterMax = 0
	} else if jitterMax == 0 {
		jitterMax = 350 * time.Millisecond
	}
	if jitterMax > 0 {
		d += time.Duration(rand.Int63n(int64(jitterMax) + 1))
	}
	return d
}

func (c *Client) sleepFn() func(context.Context, time.Duration) bool {
	if c.sleep != nil {
		return c.sleep
	}
	return sleepContext
}

func (c *Client) clock() func() time.Time {
	if c.now != nil {
		return c.now
	}
	return time.Now
}

func sleepContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// SnapshotReport summarizes one scrape sweep.
type SnapshotReport struct {
	Fetched int
	Failed  int
}

// Snapshot fetches every airport in both directions for the given
// service date, with bounded fan-out. All boards in one sweep share a
// single fetchedAt so the ingest pipeline sees them as one batch.
func (c *Client) Snapshot(ctx context.Context, airports []string, date time.Time, workers int) (SnapshotReport, error) {
	if len(airports) == 0 {
		airports = DefaultAirports
	}
	if workers <= 0 {
		workers = 5
	}

	fetchedAt := c.clock()().UTC()

	type job struct {
		airport string
		dir     blobpath.Direction
	}
	jobs := make(chan job)

	var (
		mu     sync.Mutex
		report SnapshotReport
		wg     sync.WaitGroup
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				_, err := c.FetchBoard(ctx, j.airport, j.dir, date, fetchedAt)
				mu.Lock()
				if err != nil {
					report.Failed++
					log.Error().Str("airport", j.airport).Str("movtp", movtpCode(j.dir)).Err(err).Msg("board fetch failed")
				} else {
					report.Fetched++
				}
				mu.Unlock()
			}
		}()
	}

drain:
	for _, a := range airports {
		for _, dir := range []blobpath.Direction{blobpath.DirectionDeparture, blobpath.DirectionArrival} {
			select {
			case <-ctx.Done():
				break drain
			case jobs <- job{airport: a, dir: dir}:
			}
		}
	}
	close(jobs)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return report, err
	}
	return report, nil
}
