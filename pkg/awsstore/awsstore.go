// AWS specific functions. Implements the cloudfetch.Provider interface on
// top of S3 (data) and STS (verification).

package awsstore

import (
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/pkg/errors"
	"github.com/serverlessresearch/cloudfetch/pkg/cloudfetch"
	"github.com/spf13/viper"
)

const ProviderName = "awsS3"

type Config struct {
	// Region forces the region used for signing and endpoint resolution.
	// Empty means the region of the credential source: the profile's
	// region in the shared config file, or the instance's region.
	Region string `mapstructure:"region"`

	// Shared credentials file and profile for the profile-file strategy.
	// The files default to ~/.aws/credentials and ~/.aws/config, the
	// profile to "default".
	CredentialsFile  string `mapstructure:"credentials-file"`
	SharedConfigFile string `mapstructure:"shared-config-file"`
	Profile          string `mapstructure:"profile"`

	// Optional endpoint overrides (LocalStack, MinIO, tests).
	S3Endpoint       string `mapstructure:"endpoint" validate:"omitempty,url"`
	PathStyle        bool   `mapstructure:"path-style"`
	STSEndpoint      string `mapstructure:"sts-endpoint" validate:"omitempty,url"`
	MetadataEndpoint string `mapstructure:"metadata-endpoint" validate:"omitempty,url"`

	// Bound on each call to the instance metadata service.
	MetadataTimeout time.Duration `mapstructure:"metadata-timeout"`
}

type Provider struct {
	cfg Config
	log cloudfetch.Logger
}

// NewConfig builds the provider from the "service.storage.awsS3" section.
// A nil section is treated as empty.
func NewConfig(logger cloudfetch.Logger, section *viper.Viper) (*Provider, error) {
	cfg := Config{}
	if section != nil {
		if err := section.Unmarshal(&cfg); err != nil {
			return nil, errors.Wrap(err, "Failed to parse awsS3 configuration")
		}
	}
	return New(logger, cfg)
}

func New(logger cloudfetch.Logger, cfg Config) (*Provider, error) {
	if err := cloudfetch.ValidateStruct(&cfg); err != nil {
		return nil, errors.Wrap(err, "awsS3 configuration")
	}
	if cfg.MetadataTimeout <= 0 {
		cfg.MetadataTimeout = 2 * time.Second
	}
	return &Provider{cfg: cfg, log: logger}, nil
}

func (p *Provider) Name() string {
	return ProviderName
}

// Strategies tries the shared credentials file first, then the EC2 instance
// role.
func (p *Provider) Strategies() []cloudfetch.Strategy {
	return []cloudfetch.Strategy{
		&ProfileStrategy{
			Filename:   p.cfg.CredentialsFile,
			ConfigFile: p.cfg.SharedConfigFile,
			Profile:    p.cfg.Profile,
			Region:     p.cfg.Region,
		},
		&InstanceRoleStrategy{
			Endpoint: p.cfg.MetadataEndpoint,
			Region:   p.cfg.Region,
			Timeout:  p.cfg.MetadataTimeout,
		},
	}
}

func (p *Provider) IdentityClient(cred *cloudfetch.Credential) (cloudfetch.IdentityClient, error) {
	sess, err := p.session(cred)
	if err != nil {
		return nil, err
	}
	return newSTSVerifier(sess, p.cfg.STSEndpoint, cred), nil
}

func (p *Provider) StorageClient(cred *cloudfetch.Credential) (cloudfetch.StorageClient, error) {
	sess, err := p.session(cred)
	if err != nil {
		return nil, err
	}
	return newS3Fetcher(sess, p.cfg.S3Endpoint, p.cfg.PathStyle, p.log), nil
}

// session binds the credential's signer to a region. Retries are off: a
// failed call fails the run.
func (p *Provider) session(cred *cloudfetch.Credential) (*session.Session, error) {
	creds, ok := cred.Signer.(*credentials.Credentials)
	if !ok {
		return nil, errors.Errorf("credential from %s does not carry AWS credentials", cred.Source)
	}

	region := cred.Region
	if region == "" {
		region = p.cfg.Region
	}
	if region == "" {
		return nil, errors.Errorf("credential from %s has no region", cred.Source)
	}

	sess, err := session.NewSession(&aws.Config{
		Region:      aws.String(region),
		Credentials: creds,
		MaxRetries:  aws.Int(0),
	})
	if err != nil {
		return nil, errors.Wrap(err, "Failed to create AWS session")
	}
	return sess, nil
}
