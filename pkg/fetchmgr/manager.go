package fetchmgr

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/serverlessresearch/cloudfetch/pkg/awsstore"
	"github.com/serverlessresearch/cloudfetch/pkg/cloudfetch"
	"github.com/serverlessresearch/cloudfetch/pkg/feed"
	"github.com/serverlessresearch/cloudfetch/pkg/miniostore"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

type FetchManager struct {
	Logger cloudfetch.Logger
	Cfg    *viper.Viper

	// Keys below the selected storage service section that callers (the
	// CLI flags) want to force, e.g. "region".
	serviceOverrides map[string]interface{}
}

// NewManager loads configuration and sets up logging. Recognized options:
//
//	"config-file"       string: explicit config file (must exist)
//	"logger"            cloudfetch.Logger: replaces the default logrus logger
//	"provider"          string: overrides "default-provider"
//	"log-level"         string: overrides "log-level"
//	"service-overrides" map[string]interface{}: values for the selected
//	                    storage service section
func NewManager(userCfg map[string]interface{}) (*FetchManager, error) {
	var err error
	mgr := &FetchManager{}

	if cfgPathRaw, ok := userCfg["config-file"]; ok {
		if cfgPath, ok := cfgPathRaw.(string); ok {
			err = mgr.initConfig(&cfgPath)
		} else {
			return nil, errors.New("option 'config-file' must be of type string")
		}
	} else {
		err = mgr.initConfig(nil)
	}
	if err != nil {
		return nil, err
	}

	if providerRaw, ok := userCfg["provider"]; ok {
		provider, ok := providerRaw.(string)
		if !ok {
			return nil, errors.New("option 'provider' must be of type string")
		}
		if provider != "" {
			mgr.Cfg.Set("default-provider", provider)
		}
	}

	if levelRaw, ok := userCfg["log-level"]; ok {
		level, ok := levelRaw.(string)
		if !ok {
			return nil, errors.New("option 'log-level' must be of type string")
		}
		mgr.Cfg.Set("log-level", level)
	}

	if overridesRaw, ok := userCfg["service-overrides"]; ok {
		overrides, ok := overridesRaw.(map[string]interface{})
		if !ok {
			return nil, errors.New("option 'service-overrides' must be of type map[string]interface{}")
		}
		mgr.serviceOverrides = overrides
	}

	if loggerRaw, ok := userCfg["logger"]; ok {
		if logger, ok := loggerRaw.(cloudfetch.Logger); ok {
			mgr.Logger = logger
		} else {
			return nil, errors.New("option 'logger' must satisfy cloudfetch.Logger")
		}
	} else {
		logger := logrus.New()
		level, err := logrus.ParseLevel(mgr.Cfg.GetString("log-level"))
		if err != nil {
			return nil, errors.Wrap(err, "Invalid log-level")
		}
		logger.SetLevel(level)
		mgr.Logger = logger
	}

	return mgr, nil
}

func (self *FetchManager) initConfig(cfgPath *string) error {
	// This is a private viper context just for cloudfetch (so as not to
	// conflict with the importer's usage).
	self.Cfg = viper.New()

	self.Cfg.SetDefault("log-level", "info")
	self.Cfg.SetDefault("timeout", 2*time.Minute)

	self.Cfg.SetDefault("default-provider", "aws")
	self.Cfg.SetDefault("providers.aws.storage", awsstore.ProviderName)
	self.Cfg.SetDefault("providers.minio.storage", miniostore.ProviderName)

	// Order of precedence: flags, ENV, cloudfetch.yaml, defaults. An empty
	// region defers to the credential source.
	self.Cfg.SetDefault("service.storage.awsS3.region", "")
	self.Cfg.BindEnv("service.storage.awsS3.region", "CLOUDFETCH_AWS_REGION", "AWS_DEFAULT_REGION", "AWS_REGION")
	self.Cfg.SetDefault("service.storage.awsS3.profile", awsstore.DefaultProfile)
	self.Cfg.BindEnv("service.storage.awsS3.profile", "CLOUDFETCH_AWS_PROFILE", "AWS_PROFILE")
	self.Cfg.SetDefault("service.storage.awsS3.credentials-file", awsstore.DefaultCredentialsFile)
	self.Cfg.BindEnv("service.storage.awsS3.credentials-file", "CLOUDFETCH_AWS_CREDENTIALS_FILE", "AWS_SHARED_CREDENTIALS_FILE")
	self.Cfg.SetDefault("service.storage.awsS3.shared-config-file", awsstore.DefaultConfigFile)
	self.Cfg.BindEnv("service.storage.awsS3.shared-config-file", "CLOUDFETCH_AWS_CONFIG_FILE", "AWS_CONFIG_FILE")
	self.Cfg.SetDefault("service.storage.awsS3.endpoint", "")
	self.Cfg.SetDefault("service.storage.awsS3.path-style", false)
	self.Cfg.SetDefault("service.storage.awsS3.sts-endpoint", "")
	self.Cfg.SetDefault("service.storage.awsS3.metadata-endpoint", "")
	self.Cfg.SetDefault("service.storage.awsS3.metadata-timeout", 2*time.Second)

	self.Cfg.SetDefault("service.storage.minio.endpoint", "localhost:9000")
	self.Cfg.SetDefault("service.storage.minio.region", "us-east-1")
	self.Cfg.SetDefault("service.storage.minio.use-ssl", false)
	self.Cfg.SetDefault("service.storage.minio.credentials-file", awsstore.DefaultCredentialsFile)
	self.Cfg.SetDefault("service.storage.minio.profile", awsstore.DefaultProfile)
	self.Cfg.SetDefault("service.storage.minio.iam-endpoint", "")
	self.Cfg.SetDefault("service.storage.minio.iam-timeout", 2*time.Second)

	self.Cfg.SetDefault("feed.url", feed.DefaultURL)
	self.Cfg.SetDefault("feed.timeout", 30*time.Second)

	self.Cfg.SetDefault("request.namespace", "")
	self.Cfg.SetDefault("request.bucket", "")
	self.Cfg.SetDefault("request.object", "")

	self.Cfg.SetEnvPrefix("CLOUDFETCH")
	self.Cfg.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	self.Cfg.AutomaticEnv()

	if cfgPath != nil {
		// Use config file from the flag.
		self.Cfg.SetConfigFile(*cfgPath)
		if err := self.Cfg.ReadInConfig(); err != nil {
			return errors.Wrap(err, "Failed to load config")
		}
		return nil
	}

	// default search path for config is ./configs/cloudfetch.* (* can be json, yaml, etc)
	self.Cfg.AddConfigPath("./configs")
	self.Cfg.SetConfigName("cloudfetch")
	if err := self.Cfg.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Everything can come from flags and the environment.
			return nil
		}
		return errors.Wrap(err, "Failed to load config")
	}
	return nil
}

// section returns every setting below key, with environment and override
// values already applied. viper.Sub drops environment bindings.
func (self *FetchManager) section(key string) *viper.Viper {
	sub := viper.New()
	prefix := strings.ToLower(key) + "."
	for _, k := range self.Cfg.AllKeys() {
		if strings.HasPrefix(k, prefix) {
			sub.Set(strings.TrimPrefix(k, prefix), self.Cfg.Get(k))
		}
	}
	return sub
}

// StorageProvider builds the provider named by the configuration.
func (self *FetchManager) StorageProvider() (cloudfetch.Provider, error) {
	providerName := self.Cfg.GetString("default-provider")
	if providerName == "" {
		return nil, errors.New("No default provider in configuration")
	}

	serviceName := self.Cfg.GetString("providers." + providerName + ".storage")
	if serviceName == "" {
		return nil, errors.New("Provider \"" + providerName + "\" does not provide a storage service")
	}

	section := self.section("service.storage." + serviceName)
	for k, v := range self.serviceOverrides {
		section.Set(k, v)
	}

	var provider cloudfetch.Provider
	var err error
	switch serviceName {
	case awsstore.ProviderName:
		provider, err = awsstore.NewConfig(
			self.Logger.WithField("module", "storage.awss3"), section)
	case miniostore.ProviderName:
		provider, err = miniostore.NewConfig(
			self.Logger.WithField("module", "storage.minio"), section)
	default:
		return nil, errors.New("Unrecognized storage service: " + serviceName)
	}
	if err != nil {
		return nil, errors.Wrap(err, "Failed to initialize service "+serviceName)
	}
	return provider, nil
}

// FeedProvider builds the public feed provider.
func (self *FetchManager) FeedProvider() (*feed.Provider, error) {
	provider, err := feed.NewConfig(self.Logger.WithField("module", "feed"), self.section("feed"))
	if err != nil {
		return nil, errors.Wrap(err, "Failed to initialize feed")
	}
	return provider, nil
}

// ObjectRequest fills the empty fields of req from the "request" section.
func (self *FetchManager) ObjectRequest(req cloudfetch.FetchRequest) *cloudfetch.FetchRequest {
	if req.Namespace == "" {
		req.Namespace = self.Cfg.GetString("request.namespace")
	}
	if req.Bucket == "" {
		req.Bucket = self.Cfg.GetString("request.bucket")
	}
	if req.Object == "" {
		req.Object = self.Cfg.GetString("request.object")
	}
	req.URL = ""
	return &req
}

// NewPipeline returns a single-use pipeline for provider.
func (self *FetchManager) NewPipeline(provider cloudfetch.Provider) *cloudfetch.Pipeline {
	return cloudfetch.NewPipeline(provider, self.Logger.WithField("module", "pipeline"))
}

// Context bounds the whole run by the configured timeout.
func (self *FetchManager) Context() (context.Context, context.CancelFunc) {
	timeout := self.Cfg.GetDuration("timeout")
	if timeout <= 0 {
		return context.WithCancel(context.Background())
	}
	return context.WithTimeout(context.Background(), timeout)
}
