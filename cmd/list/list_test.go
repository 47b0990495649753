package list

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/undefinedlabs/go-mpatch"

	"cloudbridge/internal/billing"
	"cloudbridge/internal/config"
)

// Helper function to execute a command and capture its output
func executeCommand(cmd *cobra.Command, args ...string) (string, error) {
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs(args)

	err := cmd.Execute()
	return buf.String(), err
}

// Helper function to safely unpatch
func safeUnpatch(patch *mpatch.Patch) {
	if err := patch.Unpatch(); err != nil {
		fmt.Fprintf(os.Stderr, "Error unpatching: %v\n", err)
	}
}

func TestListAccounts(t *testing.T) {
	viper.Reset()
	defer viper.Reset()
	t.Setenv("TEST_ALIYUN_KEY", "ak")
	t.Setenv("TEST_ALIYUN_SECRET", "sk")

	viper.Set("accounts", []map[string]interface{}{
		{
			"id":                "123456789012",
			"name":              "prod",
			"provider":          "aws",
			"access_key_id":     "AKIDEXAMPLE",
			"secret_access_key": "secret",
		},
		{
			"id":                "aliyun-main",
			"name":              "cn",
			"provider":          "aliyun",
			"enabled":           false,
			"access_key_id":     "$TEST_ALIYUN_KEY",
			"secret_access_key": "${TEST_ALIYUN_SECRET}",
		},
	})

	out, err := executeCommand(NewListCmd(), "accounts")
	require.NoError(t, err)
	assert.Equal(t, "Configured accounts:\n"+
		"  123456789012 - prod (aws)\n"+
		"  aliyun-main - cn (aliyun) [disabled]\n", out)
	assert.NotContains(t, out, "secret")
}

func TestListAccountsEmpty(t *testing.T) {
	viper.Reset()
	defer viper.Reset()

	out, err := executeCommand(NewListCmd(), "accounts")
	require.NoError(t, err)
	assert.Equal(t, "No accounts configured\n", out)
}

func TestListAccountsLoadError(t *testing.T) {
	patch, err := mpatch.PatchMethod(config.LoadAccounts, func() ([]billing.Account, error) {
		return nil, &billing.ConfigError{Field: "accounts[0].id", Reason: "must not be empty"}
	})
	if err != nil {
		t.Skipf("Skipping test as patching is not supported: %v", err)
	}
	defer safeUnpatch(patch)

	_, err = executeCommand(NewListCmd(), "accounts")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load accounts")
	assert.True(t, billing.IsConfig(err))
}

func TestListProviders(t *testing.T) {
	out, err := executeCommand(NewListCmd(), "providers")
	require.NoError(t, err)
	assert.Equal(t, "aliyun\naws\ndeepseek\n", out)
}

func TestListProfiles(t *testing.T) {
	dir := t.TempDir()
	credentials := filepath.Join(dir, "credentials")
	configFile := filepath.Join(dir, "config")
	require.NoError(t, os.WriteFile(credentials, []byte("[default]\naws_access_key_id = a\n\n[billing]\naws_access_key_id = b\n"), 0600))
	require.NoError(t, os.WriteFile(configFile, []byte("[profile sso-admin]\nregion = eu-west-1\n"), 0600))
	t.Setenv("AWS_SHARED_CREDENTIALS_FILE", credentials)
	t.Setenv("AWS_CONFIG_FILE", configFile)

	out, err := executeCommand(NewListCmd(), "profiles")
	require.NoError(t, err)
	assert.Equal(t, "billing\ndefault\nsso-admin\n", out)
}

func TestListProfilesError(t *testing.T) {
	patch, err := mpatch.PatchMethod(config.ListAWSProfiles, func() ([]string, error) {
		return nil, errors.New("permission denied")
	})
	if err != nil {
		t.Skipf("Skipping test as patching is not supported: %v", err)
	}
	defer safeUnpatch(patch)

	_, err = executeCommand(NewListCmd(), "profiles")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to list profiles: permission denied")
}
