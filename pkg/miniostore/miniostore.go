// Package miniostore implements cloudfetch.Provider for S3-compatible object
// stores reached through minio-go.
package miniostore

import (
	"context"
	"io/ioutil"
	"net"
	"net/http"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
	"github.com/serverlessresearch/cloudfetch/pkg/cloudfetch"
	"github.com/spf13/viper"
)

const ProviderName = "minio"

type Config struct {
	// host:port, no scheme.
	Endpoint string `mapstructure:"endpoint" validate:"required,hostname_port"`
	Region   string `mapstructure:"region" validate:"required"`
	UseSSL   bool   `mapstructure:"use-ssl"`

	CredentialsFile string `mapstructure:"credentials-file"`
	Profile         string `mapstructure:"profile"`

	// IAMEndpoint overrides the instance metadata address used by the IAM
	// strategy. Empty means the platform default.
	IAMEndpoint string `mapstructure:"iam-endpoint"`
	// Bound on each request to the IAM endpoint.
	IAMTimeout time.Duration `mapstructure:"iam-timeout"`
}

type Provider struct {
	cfg Config
	log cloudfetch.Logger
}

// NewConfig builds the provider from the "service.storage.minio" section.
func NewConfig(logger cloudfetch.Logger, section *viper.Viper) (*Provider, error) {
	cfg := Config{}
	if section != nil {
		if err := section.Unmarshal(&cfg); err != nil {
			return nil, errors.Wrap(err, "Failed to parse minio configuration")
		}
	}
	return New(logger, cfg)
}

func New(logger cloudfetch.Logger, cfg Config) (*Provider, error) {
	if err := cloudfetch.ValidateStruct(&cfg); err != nil {
		return nil, errors.Wrap(err, "minio configuration")
	}
	if cfg.IAMTimeout <= 0 {
		cfg.IAMTimeout = 2 * time.Second
	}
	return &Provider{cfg: cfg, log: logger}, nil
}

func (p *Provider) Name() string {
	return ProviderName
}

func (p *Provider) Strategies() []cloudfetch.Strategy {
	return []cloudfetch.Strategy{
		&FileStrategy{Filename: p.cfg.CredentialsFile, Profile: p.cfg.Profile, Region: p.cfg.Region},
		&IAMStrategy{Endpoint: p.cfg.IAMEndpoint, Region: p.cfg.Region, Timeout: p.cfg.IAMTimeout},
	}
}

func (p *Provider) IdentityClient(cred *cloudfetch.Credential) (cloudfetch.IdentityClient, error) {
	client, err := p.client(cred)
	if err != nil {
		return nil, err
	}
	return &bucketLister{client: client, cred: cred}, nil
}

func (p *Provider) StorageClient(cred *cloudfetch.Credential) (cloudfetch.StorageClient, error) {
	client, err := p.client(cred)
	if err != nil {
		return nil, err
	}
	return &objectGetter{client: client, log: p.log}, nil
}

func (p *Provider) client(cred *cloudfetch.Credential) (*minio.Client, error) {
	creds, ok := cred.Signer.(*credentials.Credentials)
	if !ok {
		return nil, errors.Errorf("credential from %s does not carry minio credentials", cred.Source)
	}
	client, err := minio.New(p.cfg.Endpoint, &minio.Options{
		Creds:      creds,
		Secure:     p.cfg.UseSSL,
		Region:     cred.Region,
		Transport:  newTransport(),
		MaxRetries: 1,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "Failed to create minio client for %s", p.cfg.Endpoint)
	}
	return client, nil
}

func newTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

// FileStrategy reads an AWS-style shared credentials file.
type FileStrategy struct {
	Filename string
	Profile  string
	Region   string
}

func (s *FileStrategy) Name() string {
	return "profile-file"
}

func (s *FileStrategy) Attempt(ctx context.Context) (*cloudfetch.Credential, error) {
	filename := s.Filename
	if filename == "" {
		filename = "~/.aws/credentials"
	}
	path, err := homedir.Expand(filename)
	if err != nil {
		return nil, errors.Wrapf(err, "expand %s", filename)
	}
	profile := s.Profile
	if profile == "" {
		profile = "default"
	}

	creds := credentials.NewFileAWSCredentials(path, profile)
	v, err := creds.Get()
	if err != nil {
		return nil, errors.Wrapf(err, "load profile %q from %s", profile, path)
	}
	if v.AccessKeyID == "" {
		return nil, errors.Errorf("profile %q in %s has no access key", profile, path)
	}

	return &cloudfetch.Credential{
		Source:  cloudfetch.SourceConfigFile,
		Region:  s.Region,
		Profile: profile,
		Signer:  creds,
	}, nil
}

// IAMStrategy asks the platform for role credentials (EC2 metadata, ECS
// task role or web identity, whichever the environment offers).
type IAMStrategy struct {
	Endpoint string
	Region   string
	Timeout  time.Duration
}

func (s *IAMStrategy) Name() string {
	return "instance-role"
}

// Attempt returns once ctx is done even if the endpoint has not answered.
// Each request to the endpoint is bounded by Timeout.
func (s *IAMStrategy) Attempt(ctx context.Context) (*cloudfetch.Credential, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, "retrieve IAM credentials")
	}

	client := &http.Client{Transport: newTransport(), Timeout: s.Timeout}

	type result struct {
		v   credentials.Value
		err error
	}
	creds := credentials.NewIAM(s.Endpoint)
	done := make(chan result, 1)
	go func() {
		v, err := creds.GetWithContext(&credentials.CredContext{Client: client})
		done <- result{v, err}
	}()

	var v credentials.Value
	select {
	case <-ctx.Done():
		return nil, errors.Wrap(ctx.Err(), "retrieve IAM credentials")
	case r := <-done:
		if r.err != nil {
			return nil, errors.Wrap(r.err, "retrieve IAM credentials")
		}
		v = r.v
	}
	if v.AccessKeyID == "" {
		return nil, errors.New("IAM returned an empty access key")
	}
	return &cloudfetch.Credential{
		Source: cloudfetch.SourceInstancePrincipal,
		Region: s.Region,
		Signer: creds,
	}, nil
}

type bucketLister struct {
	client *minio.Client
	cred   *cloudfetch.Credential
}

// Verify lists buckets: read only, and it fails for unknown or revoked keys.
func (v *bucketLister) Verify(ctx context.Context) (*cloudfetch.Identity, error) {
	if _, err := v.client.ListBuckets(ctx); err != nil {
		return nil, &cloudfetch.AuthVerificationError{
			Provider: ProviderName,
			Err:      classify(err, v.client.EndpointURL().Host),
		}
	}

	principal := ""
	if val, err := v.cred.Signer.(*credentials.Credentials).Get(); err == nil {
		principal = val.AccessKeyID
	}
	return &cloudfetch.Identity{
		Provider:  ProviderName,
		Principal: principal,
		Region:    v.cred.Region,
		Source:    v.cred.Source,
	}, nil
}

type objectGetter struct {
	client *minio.Client
	log    cloudfetch.Logger
}

func (g *objectGetter) Fetch(ctx context.Context, req *cloudfetch.FetchRequest) (*cloudfetch.FetchResult, error) {
	if req.IsFeed() {
		return nil, errors.New("minio fetches objects, not URLs")
	}
	if req.Namespace != "" {
		g.log.Debugf("namespace %q has no meaning for minio; ignored", req.Namespace)
	}

	endpoint := g.client.EndpointURL().Host
	obj, err := g.client.GetObject(ctx, req.Bucket, req.Object, minio.GetObjectOptions{})
	if err != nil {
		return nil, classify(err, endpoint)
	}
	defer obj.Close()

	info, err := obj.Stat()
	if err != nil {
		return nil, classify(err, endpoint)
	}

	body, err := ioutil.ReadAll(obj)
	if err != nil {
		return nil, classify(err, endpoint)
	}

	return &cloudfetch.FetchResult{
		Body:        body,
		ContentType: info.ContentType,
		Source:      "minio://" + endpoint + "/" + req.Bucket + "/" + req.Object,
	}, nil
}

func classify(err error, endpoint string) error {
	resp := minio.ToErrorResponse(err)
	if resp.StatusCode > 0 {
		return &cloudfetch.FetchServiceError{
			StatusCode: resp.StatusCode,
			Code:       resp.Code,
			Message:    resp.Message,
			Err:        err,
		}
	}
	return &cloudfetch.TransportError{Endpoint: endpoint, Err: err}
}
