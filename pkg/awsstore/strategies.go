package awsstore

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/credentials/ec2rolecreds"
	"github.com/aws/aws-sdk-go/aws/ec2metadata"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/go-ini/ini"
	"github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
	"github.com/serverlessresearch/cloudfetch/pkg/cloudfetch"
)

const (
	DefaultCredentialsFile = "~/.aws/credentials"
	DefaultConfigFile      = "~/.aws/config"
	DefaultProfile         = "default"
)

// ProfileStrategy loads a named profile from a shared credentials file.
// Without an explicit Region the profile's region from the shared config
// file is used.
type ProfileStrategy struct {
	Filename   string
	ConfigFile string
	Profile    string
	Region     string
}

func (s *ProfileStrategy) Name() string {
	return "profile-file"
}

func (s *ProfileStrategy) Attempt(ctx context.Context) (*cloudfetch.Credential, error) {
	filename := s.Filename
	if filename == "" {
		filename = DefaultCredentialsFile
	}
	path, err := homedir.Expand(filename)
	if err != nil {
		return nil, errors.Wrapf(err, "expand %s", filename)
	}
	if _, err := os.Stat(path); err != nil {
		return nil, errors.Wrap(err, "credentials file")
	}

	profile := s.Profile
	if profile == "" {
		profile = DefaultProfile
	}

	creds := credentials.NewSharedCredentials(path, profile)
	if _, err := creds.GetWithContext(ctx); err != nil {
		return nil, errors.Wrapf(err, "load profile %q from %s", profile, path)
	}

	region := s.Region
	if region == "" {
		region = s.profileRegion(profile)
	}
	if region == "" {
		return nil, errors.Errorf("no region configured for profile %q", profile)
	}

	return &cloudfetch.Credential{
		Source:  cloudfetch.SourceConfigFile,
		Region:  region,
		Tenancy: iniValue(path, profile, "aws_account_id"),
		Profile: profile,
		Signer:  creds,
	}, nil
}

// profileRegion reads "region" for profile from the shared config file, where
// every profile but the default one lives in a "profile <name>" section.
func (s *ProfileStrategy) profileRegion(profile string) string {
	filename := s.ConfigFile
	if filename == "" {
		filename = DefaultConfigFile
	}
	name := "profile " + profile
	if profile == DefaultProfile {
		name = DefaultProfile
	}
	return iniValue(filename, name, "region")
}

// iniValue returns key from section of an INI file, or "" if the file,
// section or key is missing.
func iniValue(filename, section, key string) string {
	path, err := homedir.Expand(filename)
	if err != nil {
		return ""
	}
	cfg, err := ini.Load(path)
	if err != nil {
		return ""
	}
	return cfg.Section(section).Key(key).String()
}

// InstanceRoleStrategy obtains short-lived credentials for the role attached
// to the EC2 instance this process runs on.
type InstanceRoleStrategy struct {
	// Endpoint overrides the metadata service address.
	Endpoint string
	// Region wins over the region reported by the instance; empty means
	// the instance's own region.
	Region  string
	Timeout time.Duration
}

func (s *InstanceRoleStrategy) Name() string {
	return "instance-role"
}

func (s *InstanceRoleStrategy) Attempt(ctx context.Context) (*cloudfetch.Credential, error) {
	cfg := aws.NewConfig().
		WithMaxRetries(0).
		WithHTTPClient(&http.Client{Timeout: s.Timeout})
	if s.Endpoint != "" {
		cfg = cfg.WithEndpoint(s.Endpoint)
	}
	sess, err := session.NewSession(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "metadata session")
	}
	md := ec2metadata.New(sess)

	if !md.AvailableWithContext(ctx) {
		return nil, errors.New("instance metadata service is not reachable (not running on EC2?)")
	}

	doc, err := md.GetInstanceIdentityDocumentWithContext(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "read instance identity document")
	}

	creds := ec2rolecreds.NewCredentialsWithClient(md)
	if _, err := creds.GetWithContext(ctx); err != nil {
		return nil, errors.Wrap(err, "retrieve instance role credentials")
	}

	region := s.Region
	if region == "" {
		region = doc.Region
	}

	return &cloudfetch.Credential{
		Source:  cloudfetch.SourceInstancePrincipal,
		Region:  region,
		Tenancy: doc.AccountID,
		Signer:  creds,
	}, nil
}
