package global

import (
	"testing"

	"github.com/mailio/go-mailio-datawallet/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	c := &Config{
		CouchDB: CouchDBConfig{Host: "localhost", Port: 5984, Scheme: "http"},
		Mailio:  MailioConfig{ServerDomain: "wallet.example.org", ServerKeysPath: "keys.json"},
		Redis:   RedisConfig{Host: "localhost", Port: 6379},
		Ipfs:    IpfsConfig{ApiUrl: "http://localhost:5001"},
		Ledger:  LedgerConfig{GatewayUrl: "http://localhost:8545", MinConfirmations: 1},
	}
	c.Host = "localhost"
	c.Port = 8080
	c.Scheme = "http"
	c.Mode = "debug"
	c.ApplyDefaults()
	return c
}

func TestApplyDefaults(t *testing.T) {
	c := validConfig()
	assert.Equal(t, "couchdb", c.Database.Type)
	assert.Equal(t, "ipfs", c.Storage.Type)
	assert.Equal(t, CreditsConfig{EmailBase: 3, Attachment: 2, Authorization: 1}, c.Credits)
	assert.Equal(t, 24*60, c.Authorization.TtlMinutes)
	assert.Equal(t, AutoProcessConfig{RequireDmarc: true, MinPassing: 2}, c.AutoProcess)
	assert.Equal(t, int64(30*1024*1024), c.Limits.MaxSizeBytes)
	assert.Equal(t, 100, c.Limits.MaxAttachments)
	assert.Equal(t, 3, c.Retry.Attempts)
	assert.Equal(t, 15, c.Queue.RequeueStalledMinutes)

	// explicit values are kept
	c.Credits = CreditsConfig{EmailBase: 5, Attachment: 1, Authorization: 0}
	c.ApplyDefaults()
	assert.Equal(t, 5, c.Credits.EmailBase)
}

func TestValidateConfig(t *testing.T) {
	require.NoError(t, ValidateConfig(validConfig()))

	tests := []struct {
		name   string
		modify func(c *Config)
	}{
		{"missing couchdb host", func(c *Config) { c.CouchDB.Host = "" }},
		{"postgres without url", func(c *Config) { c.Database.Type = "postgres" }},
		{"unknown database", func(c *Config) { c.Database.Type = "mongo" }},
		{"ipfs without api url", func(c *Config) { c.Ipfs.ApiUrl = "" }},
		{"s3 without bucket", func(c *Config) { c.Storage.Type = "s3"; c.Storage.Region = "eu-west-1" }},
		{"negative credits", func(c *Config) { c.Credits.Attachment = -1 }},
		{"too many passing checks", func(c *Config) { c.AutoProcess.MinPassing = 4 }},
		{"admin user without password", func(c *Config) { c.Admin.Username = "admin" }},
		{"missing ledger gateway", func(c *Config) { c.Ledger.GatewayUrl = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.modify(c)
			assert.ErrorIs(t, ValidateConfig(c), types.ErrConfiguration)
		})
	}
}
