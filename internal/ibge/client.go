// Package ibge fetches municipality and indicator data from the IBGE public
// APIs: the localidades service for the municipality list and SIDRA for
// population time series.
package ibge

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/cityscope/cityscope/internal/metrics"
)

const (
	DefaultLocalidadesURL = "https://servicodados.ibge.gov.br/api/v1"
	DefaultSidraURL       = "https://apisidra.ibge.gov.br"

	// SIDRA table 6579, variable 9324: resident population estimates for
	// every municipality (n6), all periods.
	populationPath = "/values/t/6579/n6/all/v/9324/p/all"
)

type Client struct {
	localidadesURL string
	sidraURL       string
	client         *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURLs overrides the API base URLs, mainly for tests.
func WithBaseURLs(localidades, sidra string) Option {
	return func(c *Client) {
		c.localidadesURL = strings.TrimRight(localidades, "/")
		c.sidraURL = strings.TrimRight(sidra, "/")
	}
}

func NewClient(opts ...Option) *Client {
	c := &Client{
		localidadesURL: DefaultLocalidadesURL,
		sidraURL:       DefaultSidraURL,
		client:         &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Area decodes the municipality area field, which the API serves as either a
// JSON number or a numeric string. Unparseable values decode to zero, which
// the loader treats as absent.
type Area float64

func (a *Area) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "null" || s == "" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	*a = Area(f)
	return nil
}

// Municipality is one entry of the localidades municipality list.
type Municipality struct {
	ID           int64  `json:"id"`
	Nome         string `json:"nome"`
	Area         *Area  `json:"area"`
	Microrregiao struct {
		Mesorregiao struct {
			UF struct {
				Sigla  string `json:"sigla"`
				Regiao struct {
					Nome string `json:"nome"`
				} `json:"regiao"`
			} `json:"UF"`
		} `json:"mesorregiao"`
	} `json:"microrregiao"`
}

// UF returns the two-letter state code.
func (m Municipality) UF() string {
	return m.Microrregiao.Mesorregiao.UF.Sigla
}

// Region returns the macro-region name.
func (m Municipality) Region() string {
	return m.Microrregiao.Mesorregiao.UF.Regiao.Nome
}

// PopulationRow is one SIDRA data row. All fields arrive as strings and are
// parsed by the loader so that malformed rows count as skips, not failures.
type PopulationRow struct {
	CityCode string `json:"D1C"`
	Year     string `json:"D3C"`
	Value    string `json:"V"`
}

// FetchMunicipalities retrieves the full municipality list.
func (c *Client) FetchMunicipalities(ctx context.Context) ([]Municipality, error) {
	body, err := c.get(ctx, "municipios", c.localidadesURL+"/localidades/municipios")
	if err != nil {
		return nil, err
	}

	var municipalities []Municipality
	if err := json.Unmarshal(body, &municipalities); err != nil {
		return nil, fmt.Errorf("unmarshal municipalities: %w", err)
	}
	return municipalities, nil
}

// FetchPopulation retrieves the SIDRA population series for all
// municipalities. The first row is a header and is discarded.
func (c *Client) FetchPopulation(ctx context.Context) ([]PopulationRow, error) {
	body, err := c.get(ctx, "sidra_population", c.sidraURL+populationPath)
	if err != nil {
		return nil, err
	}

	var rows []PopulationRow
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("unmarshal population rows: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[1:], nil
}

func (c *Client) get(ctx context.Context, endpoint, url string) ([]byte, error) {
	var body []byte
	start := time.Now()

	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("build request: %w", err))
		}

		resp, err := c.client.Do(req)
		if err != nil {
			metrics.IBGEAPICallsTotal.WithLabelValues(endpoint, "error").Inc()
			return fmt.Errorf("fetch %s: %w", endpoint, err)
		}
		defer resp.Body.Close()

		metrics.IBGEAPICallsTotal.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
			return fmt.Errorf("fetch %s: status %d", endpoint, resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			b, _ := io.ReadAll(resp.Body)
			return backoff.Permanent(fmt.Errorf("fetch %s: status %d: %s", endpoint, resp.StatusCode, string(b)))
		}

		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("read body: %w", err))
		}
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 2 * time.Minute
	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		return nil, err
	}

	metrics.IBGEAPILatency.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	return body, nil
}
