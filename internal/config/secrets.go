package config

import (
	"errors"
	"fmt"

	"github.com/ilyakaznacheev/cleanenv"
)

// Secrets holds credentials that only ever come from the environment.
type Secrets struct {
	PostgrestEndpoint  string `env:"PGREST_ENDPOINT"`
	PostgrestJWT       string `env:"PGREST_JWT"`
	KnackAppID         string `env:"KNACK_APP_ID"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID"`
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY"`
	Bucket             string `env:"BUCKET"`
	SocrataUser        string `env:"SOCRATA_USER"`
	SocrataPassword    string `env:"SOCRATA_PW"`
	SocrataToken       string `env:"SOCRATA_TOKEN"`
}

func LoadSecrets() (*Secrets, error) {
	var s Secrets
	if err := cleanenv.ReadEnv(&s); err != nil {
		return nil, fmt.Errorf("failed to read secrets from env: %w", err)
	}
	return &s, nil
}

// CheckFor reports missing secrets needed by the configured collaborators.
func (s *Secrets) CheckFor(cfg *Config) error {
	var errs []error

	if cfg.Registry.Source == RegistryPostgrest {
		errs = appendMissing(errs, "PGREST_ENDPOINT", s.PostgrestEndpoint)
		errs = appendMissing(errs, "PGREST_JWT", s.PostgrestJWT)
		errs = appendMissing(errs, "KNACK_APP_ID", s.KnackAppID)
	}
	if cfg.SinkEnabled(SinkS3) {
		errs = appendMissing(errs, "BUCKET", s.Bucket)
	}

	return errors.Join(errs...)
}

// CheckForPublish reports missing secrets needed to republish to the portal.
func (s *Secrets) CheckForPublish() error {
	var errs []error
	errs = appendMissing(errs, "BUCKET", s.Bucket)
	errs = appendMissing(errs, "SOCRATA_USER", s.SocrataUser)
	errs = appendMissing(errs, "SOCRATA_PW", s.SocrataPassword)
	errs = appendMissing(errs, "SOCRATA_TOKEN", s.SocrataToken)
	return errors.Join(errs...)
}

func appendMissing(errs []error, name, value string) []error {
	if value == "" {
		return append(errs, fmt.Errorf("%s is not set", name))
	}
	return errs
}
