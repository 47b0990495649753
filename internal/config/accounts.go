package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"cloudbridge/internal/billing"
)

// AccountConfig is one entry of the accounts list in config.yaml
type AccountConfig struct {
	ID              string `mapstructure:"id" yaml:"id"`
	Name            string `mapstructure:"name" yaml:"name"`
	Provider        string `mapstructure:"provider" yaml:"provider"`
	Enabled         *bool  `mapstructure:"enabled" yaml:"enabled,omitempty"`
	AccessKeyID     string `mapstructure:"access_key_id" yaml:"access_key_id,omitempty"`
	SecretAccessKey string `mapstructure:"secret_access_key" yaml:"secret_access_key,omitempty"`
	Region          string `mapstructure:"region" yaml:"region,omitempty"`
	AWSProfile      string `mapstructure:"aws_profile" yaml:"aws_profile,omitempty"`
	AmountPolicy    string `mapstructure:"amount_policy" yaml:"amount_policy,omitempty"`
}

const defaultAWSRegion = "us-east-1"

// LoadAccounts reads and validates the accounts list from viper.
// Unknown keys in an account entry are rejected.
func LoadAccounts() ([]billing.Account, error) {
	var raw []AccountConfig
	strict := func(dc *mapstructure.DecoderConfig) { dc.ErrorUnused = true }
	if err := viper.UnmarshalKey("accounts", &raw, strict); err != nil {
		return nil, &billing.ConfigError{Field: "accounts", Reason: err.Error()}
	}
	return BuildAccounts(raw)
}

// BuildAccounts validates raw entries and resolves their credentials.
// Secret fields may reference environment variables as $VAR or ${VAR}.
func BuildAccounts(raw []AccountConfig) ([]billing.Account, error) {
	seen := make(map[string]struct{}, len(raw))
	accounts := make([]billing.Account, 0, len(raw))

	for i, rc := range raw {
		field := fmt.Sprintf("accounts[%d]", i)

		id := strings.TrimSpace(rc.ID)
		if id == "" {
			return nil, &billing.ConfigError{Field: field + ".id", Reason: "must not be empty"}
		}
		if _, dup := seen[id]; dup {
			return nil, &billing.ConfigError{Field: field + ".id", Reason: fmt.Sprintf("duplicate account id %q", id)}
		}
		seen[id] = struct{}{}

		provider := billing.ProviderType(strings.ToLower(strings.TrimSpace(rc.Provider)))
		if provider == "" {
			return nil, &billing.ConfigError{Field: field + ".provider", Reason: "must not be empty"}
		}

		policyDefault := billing.AmountKeep
		if provider == billing.ProviderDeepSeek {
			policyDefault = billing.AmountClamp
		}
		policy, err := billing.ParseAmountPolicy(rc.AmountPolicy, policyDefault)
		if err != nil {
			return nil, err
		}

		cred := billing.Credential{
			AccountID:   id,
			AccessKeyID: os.ExpandEnv(rc.AccessKeyID),
			Secret:      os.ExpandEnv(rc.SecretAccessKey),
			Region:      rc.Region,
		}

		if rc.AWSProfile != "" && cred.AccessKeyID == "" {
			profileCred, err := LoadAWSProfile(rc.AWSProfile)
			if err != nil {
				return nil, &billing.ConfigError{Field: field + ".aws_profile", Reason: err.Error()}
			}
			cred.AccessKeyID = profileCred.AccessKeyID
			cred.Secret = profileCred.Secret
			if cred.Region == "" {
				cred.Region = profileCred.Region
			}
		}

		if provider == billing.ProviderAWS && cred.Region == "" {
			cred.Region = defaultAWSRegion
		}

		name := strings.TrimSpace(rc.Name)
		if name == "" {
			name = id
		}

		enabled := true
		if rc.Enabled != nil {
			enabled = *rc.Enabled
		}

		accounts = append(accounts, billing.Account{
			ID:           id,
			Name:         name,
			Provider:     provider,
			Enabled:      enabled,
			Credential:   cred,
			AmountPolicy: policy,
		})
	}

	return accounts, nil
}
