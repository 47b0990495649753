package config

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go/aws/defaults"
	"gopkg.in/ini.v1"

	"cloudbridge/internal/billing"
)

func sharedCredentialsPath() string {
	if p := os.Getenv("AWS_SHARED_CREDENTIALS_FILE"); p != "" {
		return p
	}
	return defaults.SharedCredentialsFilename()
}

func sharedConfigPath() string {
	if p := os.Getenv("AWS_CONFIG_FILE"); p != "" {
		return p
	}
	return defaults.SharedConfigFilename()
}

// ListAWSProfiles returns the profile names found in the shared AWS credentials and config files
func ListAWSProfiles() ([]string, error) {
	profiles := make(map[string]struct{})

	if _, err := os.Stat(sharedCredentialsPath()); err == nil {
		credsFile, err := ini.Load(sharedCredentialsPath())
		if err != nil {
			return nil, fmt.Errorf("failed to load credentials file: %w", err)
		}
		for _, section := range credsFile.Sections() {
			if section.Name() != ini.DefaultSection {
				profiles[section.Name()] = struct{}{}
			}
		}
	}

	if _, err := os.Stat(sharedConfigPath()); err == nil {
		configFile, err := ini.Load(sharedConfigPath())
		if err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
		for _, section := range configFile.Sections() {
			if section.Name() != ini.DefaultSection {
				profiles[strings.TrimPrefix(section.Name(), "profile ")] = struct{}{}
			}
		}
	}

	result := make([]string, 0, len(profiles))
	for profile := range profiles {
		result = append(result, profile)
	}
	sort.Strings(result)
	return result, nil
}

// LoadAWSProfile reads static keys for profile from the shared credentials file,
// and its region from the shared config file when present
func LoadAWSProfile(profile string) (billing.Credential, error) {
	var cred billing.Credential

	credsFile, err := ini.Load(sharedCredentialsPath())
	if err != nil {
		return cred, fmt.Errorf("failed to load credentials file: %w", err)
	}
	section, err := credsFile.GetSection(profile)
	if err != nil {
		return cred, fmt.Errorf("profile %q not found in %s", profile, sharedCredentialsPath())
	}

	cred.AccessKeyID = section.Key("aws_access_key_id").String()
	cred.Secret = section.Key("aws_secret_access_key").String()
	if cred.AccessKeyID == "" || cred.Secret == "" {
		return cred, fmt.Errorf("profile %q has no static access keys", profile)
	}
	cred.Region = section.Key("region").String()

	if cred.Region == "" {
		if configFile, err := ini.Load(sharedConfigPath()); err == nil {
			name := "profile " + profile
			if profile == "default" {
				name = "default"
			}
			if s, err := configFile.GetSection(name); err == nil {
				cred.Region = s.Key("region").String()
			}
		}
	}

	return cred, nil
}
