package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/xp-ledger/pkg/config"
)

func TestOptionsNameClientAndBoundOperations(t *testing.T) {
	opts := Options(config.RedisConfig{Host: "cache", Port: 6380, DB: 2, AppName: "xp-ledger", OpTimeout: 300 * time.Millisecond})

	assert.Equal(t, "cache:6380", opts.Addr)
	assert.Equal(t, "xp-ledger", opts.ClientName)
	assert.Equal(t, 2, opts.DB)
	assert.Equal(t, 300*time.Millisecond, opts.ReadTimeout)
	assert.Equal(t, 300*time.Millisecond, opts.WriteTimeout)
}

func TestOptionsKeepDriverTimeoutsWhenUnset(t *testing.T) {
	opts := Options(config.RedisConfig{Host: "cache", Port: 6379})

	assert.Zero(t, opts.ReadTimeout)
	assert.Zero(t, opts.WriteTimeout)
	assert.Equal(t, 5*time.Second, opts.DialTimeout)
}
