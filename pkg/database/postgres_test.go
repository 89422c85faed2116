package database

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/xp-ledger/pkg/config"
)

func TestDSNCarriesLedgerSessionSettings(t *testing.T) {
	dsn := DSN(config.DatabaseConfig{
		Host:        "db",
		Port:        5432,
		User:        "ledger",
		Password:    "s3cret",
		Name:        "xp_ledger",
		SSLMode:     "disable",
		AppName:     "xp-ledger",
		LockTimeout: 1500 * time.Millisecond,
	})

	assert.Equal(t, "host=db port=5432 user=ledger password=s3cret dbname=xp_ledger sslmode=disable application_name=xp-ledger lock_timeout=1500", dsn)
}

func TestDSNQuotesAwkwardValues(t *testing.T) {
	dsn := DSN(config.DatabaseConfig{Host: "db", Port: 5432, User: "ledger", Password: `it's a \secret`, Name: "xp", SSLMode: "require"})

	assert.Contains(t, dsn, `password='it\'s a \\secret'`)
	assert.Contains(t, dsn, "sslmode=require")
	assert.NotContains(t, dsn, "application_name")
	assert.NotContains(t, dsn, "lock_timeout")
}

func TestDSNQuotesEmptyPassword(t *testing.T) {
	dsn := DSN(config.DatabaseConfig{Host: "db", Port: 5432, User: "ledger", Name: "xp", SSLMode: "disable"})

	assert.Contains(t, dsn, "password='' dbname=xp")
}
