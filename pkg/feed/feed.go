// Package feed fetches public documents (e.g. the USGS earthquake GeoJSON
// feed) over plain HTTP GET. No credential is involved, so the provider
// resolves an anonymous credential and verification is local.
package feed

import (
	"context"
	"fmt"
	"io/ioutil"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/serverlessresearch/cloudfetch/pkg/cloudfetch"
	"github.com/spf13/viper"
)

const (
	ProviderName = "feed"

	// DefaultURL is the USGS summary of all earthquakes in the past day.
	DefaultURL = "https://earthquake.usgs.gov/earthquakes/feed/v1.0/summary/all_day.geojson"

	defaultTimeout = 30 * time.Second
)

type Config struct {
	URL       string        `mapstructure:"url" validate:"omitempty,url"`
	Timeout   time.Duration `mapstructure:"timeout"`
	UserAgent string        `mapstructure:"user-agent"`
}

type Provider struct {
	cfg    Config
	client *http.Client
	log    cloudfetch.Logger
}

// NewConfig builds the provider from the "feed" config section.
func NewConfig(logger cloudfetch.Logger, section *viper.Viper) (*Provider, error) {
	cfg := Config{}
	if section != nil {
		if err := section.Unmarshal(&cfg); err != nil {
			return nil, errors.Wrap(err, "Failed to parse feed configuration")
		}
	}
	return New(logger, cfg)
}

func New(logger cloudfetch.Logger, cfg Config) (*Provider, error) {
	if err := cloudfetch.ValidateStruct(&cfg); err != nil {
		return nil, errors.Wrap(err, "feed configuration")
	}
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "cloudfetch"
	}
	return &Provider{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		log:    logger,
	}, nil
}

// URL is the feed fetched when a request does not name one.
func (p *Provider) URL() string {
	return p.cfg.URL
}

func (p *Provider) Name() string {
	return ProviderName
}

func (p *Provider) Strategies() []cloudfetch.Strategy {
	return []cloudfetch.Strategy{cloudfetch.StrategyFunc{
		Label: "anonymous",
		Fn: func(context.Context) (*cloudfetch.Credential, error) {
			return &cloudfetch.Credential{Source: cloudfetch.SourceAnonymous}, nil
		},
	}}
}

func (p *Provider) IdentityClient(cred *cloudfetch.Credential) (cloudfetch.IdentityClient, error) {
	if cred.Source != cloudfetch.SourceAnonymous {
		return nil, errors.Errorf("feed only accepts anonymous credentials, got %s", cred.Source)
	}
	return anonymous{}, nil
}

func (p *Provider) StorageClient(cred *cloudfetch.Credential) (cloudfetch.StorageClient, error) {
	return &getter{client: p.client, userAgent: p.cfg.UserAgent, log: p.log}, nil
}

type anonymous struct{}

// Verify accepts without a remote call: public feeds need no authorization.
func (anonymous) Verify(ctx context.Context) (*cloudfetch.Identity, error) {
	return &cloudfetch.Identity{
		Provider:  ProviderName,
		Principal: "anonymous",
		Source:    cloudfetch.SourceAnonymous,
	}, nil
}

type getter struct {
	client    *http.Client
	userAgent string
	log       cloudfetch.Logger
}

func (g *getter) Fetch(ctx context.Context, req *cloudfetch.FetchRequest) (*cloudfetch.FetchResult, error) {
	if !req.IsFeed() {
		return nil, errors.New("feed fetches URLs, not bucket objects")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "build request for %s", req.URL)
	}
	httpReq.Header.Set("Accept", "application/geo+json, application/json;q=0.9, */*;q=0.1")
	httpReq.Header.Set("User-Agent", g.userAgent)

	g.log.Debugf("GET %s", req.URL)
	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, &cloudfetch.TransportError{Endpoint: httpReq.URL.Host, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &cloudfetch.FetchServiceError{
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("Failed to fetch data: HTTP %d", resp.StatusCode),
		}
	}

	body, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return nil, &cloudfetch.TransportError{
			Endpoint: httpReq.URL.Host,
			Err:      errors.Wrap(err, "read response body"),
		}
	}

	return &cloudfetch.FetchResult{
		Body:        body,
		ContentType: resp.Header.Get("Content-Type"),
		Source:      req.URL,
	}, nil
}
