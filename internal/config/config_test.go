package config

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetViper() {
	viper.Reset()
}

func TestLoadAppliesDefaults(t *testing.T) {
	resetViper()
	t.Chdir(t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "1.0.0", cfg.Version)
	assert.Equal(t, 8090, cfg.Server.Port)
	assert.Equal(t, 5, cfg.Worker.RefreshBuildSecs)
	assert.Equal(t, 60, cfg.Worker.RefreshActiveSecs)
	assert.Equal(t, 10, cfg.Worker.CreateBatchCap)
	assert.Equal(t, 2000, cfg.Worker.InboxSize)
}

func TestValidateConfigRejectsBadPort(t *testing.T) {
	cfg := &Config{Version: "1.0.0"}
	cfg.Server.Port = 99999
	cfg.Database.Host = "localhost"
	cfg.Database.DBName = "vimengine"
	cfg.Worker.MaxDependencyTries = 3
	cfg.Worker.LoaderPageSize = 200
	cfg.Worker.InboxSize = 2000

	err := validateConfig(cfg)
	assert.Error(t, err)
}

func TestValidateConfigRejectsDuplicateTenant(t *testing.T) {
	cfg := &Config{Version: "1.0.0"}
	cfg.Server.Port = 8090
	cfg.Database.Host = "localhost"
	cfg.Database.DBName = "vimengine"
	cfg.Worker.MaxDependencyTries = 3
	cfg.Worker.LoaderPageSize = 200
	cfg.Worker.InboxSize = 2000
	cfg.Tenants = []TenantConfig{
		{DatacenterTenantID: "dc1", VIMType: "openstack"},
		{DatacenterTenantID: "dc1", VIMType: "aws"},
	}

	err := validateConfig(cfg)
	assert.Error(t, err)
}

func TestValidateConfigAcceptsDistinctTenants(t *testing.T) {
	cfg := &Config{Version: "1.0.0"}
	cfg.Server.Port = 8090
	cfg.Database.Host = "localhost"
	cfg.Database.DBName = "vimengine"
	cfg.Worker.MaxDependencyTries = 3
	cfg.Worker.LoaderPageSize = 200
	cfg.Worker.InboxSize = 2000
	cfg.Tenants = []TenantConfig{
		{DatacenterTenantID: "dc1", VIMType: "openstack"},
		{DatacenterTenantID: "dc2", VIMType: "aws"},
	}

	err := validateConfig(cfg)
	assert.NoError(t, err)
}
