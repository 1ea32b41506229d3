package pncp

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
)

const (
	defaultBaseURL   = "https://pncp.gov.br/api/consulta"
	defaultUserAgent = "baliza/1.0 (+https://github.com/franklinbaldo/baliza-sub001)"
	dateFormat       = "20060102"
)

// Envelope is the pagination wrapper every consulta endpoint responds with.
type Envelope struct {
	Data             []json.RawMessage `json:"data"`
	TotalRegistros   int               `json:"totalRegistros"`
	TotalPaginas     int               `json:"totalPaginas"`
	NumeroPagina     int               `json:"numeroPagina"`
	PaginasRestantes int               `json:"paginasRestantes"`
	Empty            bool              `json:"empty"`
}

// Pages returns the page count, deriving it from the record total when the
// envelope does not carry one.
func (e *Envelope) Pages(pageSize int) int {
	if e.TotalPaginas > 0 {
		return e.TotalPaginas
	}
	if e.TotalRegistros > 0 && pageSize > 0 {
		return (e.TotalRegistros + pageSize - 1) / pageSize
	}
	return 0
}

// Page is one fetched page: the exact bytes received plus the decoded
// envelope fields.
type Page struct {
	Body     []byte
	Envelope Envelope
}

type PageRequest struct {
	Path       string
	DateStart  time.Time
	DateEnd    time.Time
	Page       int
	PageSize   int
	ParamName  string
	ParamValue string
}

type Client struct {
	client    *http.Client
	baseURL   string
	userAgent string
}

func New(opts ...Option) *Client {
	c := &Client{
		client:    &http.Client{Timeout: 60 * time.Second},
		baseURL:   defaultBaseURL,
		userAgent: defaultUserAgent,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type Option func(*Client)

func WithClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// FetchPage retrieves one page and returns the raw body together with the
// decoded envelope. 204 and empty envelopes map to ErrNoContent, 404 to
// ErrPageNotFound, other non-2xx statuses to *StatusError.
func (c *Client) FetchPage(ctx context.Context, pr PageRequest) (*Page, error) {
	params := url.Values{}
	params.Set("dataInicial", pr.DateStart.Format(dateFormat))
	params.Set("dataFinal", pr.DateEnd.Format(dateFormat))
	params.Set("pagina", strconv.Itoa(pr.Page))
	params.Set("tamanhoPagina", strconv.Itoa(pr.PageSize))
	if pr.ParamName != "" {
		params.Set(pr.ParamName, pr.ParamValue)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+pr.Path+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	res, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = res.Body.Close() }()

	switch {
	case res.StatusCode == http.StatusNoContent:
		return nil, ErrNoContent
	case res.StatusCode == http.StatusNotFound:
		return nil, ErrPageNotFound
	case res.StatusCode < 200 || res.StatusCode > 299:
		return nil, &StatusError{Code: res.StatusCode}
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, err
	}

	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, &EnvelopeError{Err: err}
	}
	if env.Empty || (len(env.Data) == 0 && env.TotalRegistros == 0) {
		return nil, ErrNoContent
	}

	slog.Debug("fetched page", "path", pr.Path, "page", pr.Page, "records", len(env.Data), "bytes", len(body))
	return &Page{Body: body, Envelope: env}, nil
}
