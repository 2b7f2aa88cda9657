// Package source fetches entity payloads from the DeansList API.
package source

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/deanslist-sync/pkg/clients"
	"github.com/ajitpratap0/deanslist-sync/pkg/entity"
	"github.com/ajitpratap0/deanslist-sync/pkg/errors"
	"github.com/ajitpratap0/deanslist-sync/pkg/json"
	"github.com/ajitpratap0/deanslist-sync/pkg/logger"
)

const maxErrorBody = 512

// RecordSet is the raw payload of one tenant+entity fetch.
type RecordSet struct {
	Tenant string
	Entity string
	Data   []json.RawMessage
	// Raw is the response body as received, kept for archiving.
	Raw []byte
}

// Len returns the number of records.
func (rs *RecordSet) Len() int {
	if rs == nil {
		return 0
	}
	return len(rs.Data)
}

// Fetcher retrieves one entity's records for one tenant. Implementations
// must return a transport error on any failure and never retry.
type Fetcher interface {
	Fetch(ctx context.Context, tenant entity.Tenant, def *entity.Definition, window *entity.Window) (*RecordSet, error)
}

// Config holds the DeansList connection settings.
type Config struct {
	BaseURL string              `yaml:"base_url"`
	HTTP    *clients.HTTPConfig `yaml:"http"`
}

// DeansList is the Fetcher for the DeansList v1 and beta export APIs.
type DeansList struct {
	baseURL string
	client  *clients.HTTPClient
	logger  *zap.Logger
}

// NewDeansList creates the adapter. baseURL is the district's DeansList
// domain, for example https://district.deanslistsoftware.com.
func NewDeansList(cfg Config, log *zap.Logger) (*DeansList, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.Configuration("source base_url is required")
	}
	if _, err := url.ParseRequestURI(base); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid source base_url")
	}
	if log == nil {
		log = logger.Get()
	}
	return &DeansList{
		baseURL: base,
		client:  clients.NewHTTPClient(cfg.HTTP, log),
		logger:  log.With(zap.String("component", "deanslist_source")),
	}, nil
}

// Endpoint returns the URL of def without query parameters.
func (d *DeansList) Endpoint(def *entity.Definition) string {
	if def.APIVersion == entity.APIVersionBeta {
		return d.baseURL + "/api/beta/export/" + def.Endpoint + ".php"
	}
	return d.baseURL + "/api/v1/" + def.Endpoint
}

// Fetch requests def's records for tenant. The window is sent as sdt/edt
// only when def is windowed.
func (d *DeansList) Fetch(ctx context.Context, tenant entity.Tenant, def *entity.Definition, window *entity.Window) (*RecordSet, error) {
	if def.IsNested() {
		return nil, errors.New(errors.ErrorTypeInternal, fmt.Sprintf("%s is nested and has no endpoint of its own", def.Name))
	}

	params := url.Values{}
	params.Set("apikey", tenant.APIKey)
	if def.Windowed && window != nil {
		params.Set("sdt", window.StartString())
		params.Set("edt", window.EndString())
	}
	endpoint := d.Endpoint(def)

	start := time.Now()
	resp, err := d.client.Get(ctx, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, errors.Transport(tenant.Name, def.Name, redact(err, tenant.APIKey))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Transport(tenant.Name, def.Name, fmt.Errorf("read body: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet := body
		if len(snippet) > maxErrorBody {
			snippet = snippet[:maxErrorBody]
		}
		return nil, errors.Transport(tenant.Name, def.Name,
			fmt.Errorf("%s returned %s: %s", endpoint, statusText(resp.StatusCode), bytes.TrimSpace(snippet))).
			WithDetail("status", resp.StatusCode)
	}

	data, err := decodeData(body)
	if err != nil {
		return nil, errors.Transport(tenant.Name, def.Name, err)
	}

	d.logger.Debug("fetched records",
		zap.String("tenant", tenant.Name),
		zap.String("entity", def.Name),
		zap.Int("records", len(data)),
		zap.Int("bytes", len(body)),
		zap.Duration("duration", time.Since(start)))

	return &RecordSet{Tenant: tenant.Name, Entity: def.Name, Data: data, Raw: body}, nil
}

// Stats exposes the underlying client's counters.
func (d *DeansList) Stats() clients.HTTPStats {
	return d.client.GetStats()
}

// Close releases idle connections.
func (d *DeansList) Close() error {
	return d.client.Close()
}

// decodeData extracts the "data" array. A payload without the key is
// malformed; an explicit null means no records.
func decodeData(body []byte) ([]json.RawMessage, error) {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("malformed JSON payload: %w", err)
	}
	raw, ok := envelope["data"]
	if !ok {
		return nil, fmt.Errorf("payload has no data field")
	}
	if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return []json.RawMessage{}, nil
	}
	var data []json.RawMessage
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("data field is not an array: %w", err)
	}
	return data, nil
}

// redact strips the API key from transport errors, which embed the request URL.
func redact(err error, apiKey string) error {
	if apiKey == "" {
		return err
	}
	msg := strings.ReplaceAll(err.Error(), url.QueryEscape(apiKey), "REDACTED")
	msg = strings.ReplaceAll(msg, apiKey, "REDACTED")
	return &redactedError{msg: msg, cause: err}
}

type redactedError struct {
	msg   string
	cause error
}

func (e *redactedError) Error() string { return e.msg }
func (e *redactedError) Unwrap() error { return e.cause }

var _ Fetcher = (*DeansList)(nil)

func statusText(code int) string {
	return fmt.Sprintf("%d %s", code, http.StatusText(code))
}
