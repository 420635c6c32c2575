package broker

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/oarkflow/errors"
	"github.com/oarkflow/json"
	"github.com/oarkflow/log"
)

const (
	acceptHeader = "application/ld+json"

	// tooBroadQuery is the body fragment Orion-LD returns for an
	// unfiltered entity query. Getting it back proves the broker is up
	// and answering, so the connectivity probe treats it as success.
	tooBroadQuery = "Too broad query"
)

// Fetcher is a paginated NGSI-LD entity client. It is stateless per call
// and safe to share across a pipeline run.
type Fetcher struct {
	baseURL string
	client  *http.Client
	logger  *log.Logger
}

type Option func(*Fetcher)

func WithTimeout(d time.Duration) Option {
	return func(f *Fetcher) {
		f.client.Timeout = d
	}
}

func WithLogger(logger *log.Logger) Option {
	return func(f *Fetcher) {
		f.logger = logger
	}
}

// WithBaseURL overrides the derived broker URL, mainly for tests.
func WithBaseURL(url string) Option {
	return func(f *Fetcher) {
		f.baseURL = strings.TrimSuffix(url, "/")
	}
}

func New(host string, port int, opts ...Option) *Fetcher {
	f := &Fetcher{
		baseURL: fmt.Sprintf("http://%s:%d/ngsi-ld/v1/entities", host, port),
		client:  &http.Client{Timeout: 10 * time.Second},
		logger:  &log.DefaultLogger,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// FetchPage retrieves one page of entities of the given type. A transport
// error or non-2xx status is logged and yields an empty page rather than an
// error: for the pagination loop, absence of data is the stop signal.
func (f *Fetcher) FetchPage(ctx context.Context, entityType string, limit, offset int) []map[string]any {
	url := fmt.Sprintf("%s?type=%s&limit=%d&offset=%d", f.baseURL, entityType, limit, offset)
	status, body, err := f.get(ctx, url)
	if err != nil {
		f.logger.Warn().Err(err).Str("type", entityType).Int("offset", offset).Msg("entity page fetch failed")
		return nil
	}
	if status < 200 || status >= 300 {
		f.logger.Warn().Int("status", status).Str("type", entityType).Int("offset", offset).
			Str("body", truncate(body, 256)).Msg("entity page fetch returned non-2xx status")
		return nil
	}
	var entities []map[string]any
	if err := json.Unmarshal([]byte(body), &entities); err != nil {
		f.logger.Warn().Err(err).Str("type", entityType).Int("offset", offset).Msg("entity page body is not a JSON array")
		return nil
	}
	f.logger.Info().Str("type", entityType).Int("offset", offset).Int("limit", limit).
		Int("fetched", len(entities)).Msg("fetched entity page")
	return entities
}

// CountByType asks the broker for the total number of entities of a type,
// delivered via the X-Total-Count response header. A missing or malformed
// header counts as zero.
func (f *Fetcher) CountByType(ctx context.Context, entityType string) int {
	url := fmt.Sprintf("%s?type=%s&count=true&limit=1", f.baseURL, entityType)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0
	}
	req.Header.Set("Accept", acceptHeader)
	resp, err := f.client.Do(req)
	if err != nil {
		f.logger.Warn().Err(err).Str("type", entityType).Msg("entity count request failed")
		return 0
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		f.logger.Warn().Int("status", resp.StatusCode).Str("type", entityType).Msg("entity count request returned non-2xx status")
		return 0
	}
	count, err := strconv.Atoi(resp.Header.Get("X-Total-Count"))
	if err != nil {
		f.logger.Warn().Err(err).Str("type", entityType).Msg("unparseable X-Total-Count header")
		return 0
	}
	return count
}

// FetchAllByType drains every page of a type. The loop stops when a page
// comes back strictly smaller than batchSize; when the total count is an
// exact multiple of batchSize this issues one extra, empty trailing fetch,
// matching the upstream client's behavior.
func (f *Fetcher) FetchAllByType(ctx context.Context, entityType string, batchSize int) []map[string]any {
	var all []map[string]any
	for offset := 0; ; offset += batchSize {
		page := f.FetchPage(ctx, entityType, batchSize, offset)
		all = append(all, page...)
		if len(page) < batchSize {
			return all
		}
	}
}

// TestConnectivity probes the broker. An unfiltered query answered with a
// 2xx, or the 400 "Too broad query" rejection, proves liveness; after that
// it falls back to a local=true probe and then per-type probes, mirroring
// the upstream diagnostic ladder.
func (f *Fetcher) TestConnectivity(ctx context.Context) error {
	status, body, err := f.get(ctx, f.baseURL)
	if err == nil {
		if status >= 200 && status < 300 {
			f.logger.Info().Msg("broker connectivity confirmed")
			return nil
		}
		if status == http.StatusBadRequest && strings.Contains(body, tooBroadQuery) {
			f.logger.Info().Msg("broker connectivity confirmed via expected 'Too broad query' rejection")
			return nil
		}
		f.logger.Warn().Int("status", status).Str("body", truncate(body, 256)).Msg("unexpected broker response, trying fallback probes")
	} else {
		f.logger.Warn().Err(err).Msg("broker probe failed, trying fallback probes")
	}

	probes := []string{f.baseURL + "?local=true&limit=1"}
	for _, entityType := range []string{"BrightnessSensor", "HumiditySensor", "Sensor", "TemperatureSensor"} {
		probes = append(probes, fmt.Sprintf("%s?type=%s&limit=1", f.baseURL, entityType))
	}
	for _, url := range probes {
		status, _, err := f.get(ctx, url)
		if err == nil && status >= 200 && status < 300 {
			f.logger.Info().Str("probe", url).Msg("broker connectivity confirmed via fallback probe")
			return nil
		}
	}
	return errors.New("broker is unreachable: all connectivity probes failed")
}

func (f *Fetcher) get(ctx context.Context, url string) (int, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("Accept", acceptHeader)
	resp, err := f.client.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, "", err
	}
	return resp.StatusCode, string(body), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
