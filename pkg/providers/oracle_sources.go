package providers

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"dal/runtime-go/pkg/runtime"
)

// Source answers oracle queries.
type Source interface {
	Fetch(ctx context.Context, query string) (runtime.Value, error)
}

type SourceFunc func(ctx context.Context, query string) (runtime.Value, error)

func (f SourceFunc) Fetch(ctx context.Context, query string) (runtime.Value, error) {
	return f(ctx, query)
}

// StaticSource returns the same value for every query.
type StaticSource struct {
	Value runtime.Value
}

func (s StaticSource) Fetch(ctx context.Context, _ string) (runtime.Value, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.Value == nil {
		return runtime.Null, nil
	}
	return s.Value, nil
}

const maxOracleBody = 1 << 20

// HTTPSource issues a GET per query and decodes the JSON body. A "{query}"
// placeholder in URL is replaced by the escaped query; otherwise the query is
// sent as the q parameter.
type HTTPSource struct {
	URL    string
	Client *http.Client
	Header http.Header
}

func NewHTTPSource(rawURL string, timeout time.Duration) (*HTTPSource, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("oracle source %q: %w", rawURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("oracle source %q: must be an http or https URL", rawURL)
	}
	return &HTTPSource{URL: rawURL, Client: &http.Client{Timeout: timeout}}, nil
}

func (s *HTTPSource) target(query string) (string, error) {
	if strings.Contains(s.URL, "{query}") {
		return strings.ReplaceAll(s.URL, "{query}", url.QueryEscape(query)), nil
	}
	u, err := url.Parse(s.URL)
	if err != nil {
		return "", err
	}
	if query != "" {
		q := u.Query()
		q.Set("q", query)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func (s *HTTPSource) Fetch(ctx context.Context, query string) (runtime.Value, error) {
	target, err := s.target(query)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	for k, vs := range s.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("GET %s: %s", target, resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxOracleBody))
	if err != nil {
		return nil, err
	}
	v, err := runtime.ParseJSONValue(body)
	if err != nil {
		return nil, fmt.Errorf("GET %s: decode body: %w", target, err)
	}
	return v, nil
}
