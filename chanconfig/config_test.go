package chanconfig

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load([]string{"--rpcendpoint", "http://localhost:8545", "--chainid", "1337"})
	require.NoError(t, err)

	require.Equal(t, "http://localhost:8545", cfg.RPCEndpoint)
	require.EqualValues(t, 1337, cfg.ChainID)
	require.Equal(t, 5, cfg.ChainReaderMaxRetries)
	require.Equal(t, 200*time.Millisecond, cfg.ChainReaderRetryDelay)
	require.Equal(t, 1.5, cfg.LockTTLMultiplier)
	require.Equal(t, 10*time.Second, cfg.SendTimeout)
	require.Equal(t, 1, cfg.StaleUpdateMaxRetries)
	require.Equal(t, 64, cfg.TxQueueBufferSize)
	require.Equal(t, "info", cfg.LogLevel)
}

func TestLoadOverridesDefaults(t *testing.T) {
	cfg, err := Load([]string{
		"--rpcendpoint", "http://localhost:8545",
		"--chainid", "1",
		"--locktllmultiplier", "2.0",
		"--sendtimeout", "5s",
		"--loglevel", "debug",
	})
	require.NoError(t, err)
	require.Equal(t, 2.0, cfg.LockTTLMultiplier)
	require.Equal(t, 5*time.Second, cfg.SendTimeout)
	require.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadRejectsMissingRPCEndpoint(t *testing.T) {
	_, err := Load([]string{"--chainid", "1337"})
	require.Error(t, err)
}

func TestLoadRejectsNonPositiveChainID(t *testing.T) {
	_, err := Load([]string{"--rpcendpoint", "http://localhost:8545", "--chainid", "0"})
	require.Error(t, err)
}

func TestLoadRejectsLockTTLMultiplierAtOrBelowOne(t *testing.T) {
	_, err := Load([]string{"--rpcendpoint", "http://localhost:8545", "--chainid", "1", "--locktllmultiplier", "1.0"})
	require.Error(t, err)
}

func TestLockTTLDerivesFromSendTimeoutAndMultiplier(t *testing.T) {
	cfg := &Config{SendTimeout: 10 * time.Second, LockTTLMultiplier: 1.5}
	require.Equal(t, 15*time.Second, cfg.LockTTL())
}

func TestValidateRejectsTooFewChainReaderRetries(t *testing.T) {
	cfg := &Config{
		RPCEndpoint:           "http://localhost:8545",
		ChainID:               1,
		ChainReaderMaxRetries: 0,
		LockTTLMultiplier:     1.5,
	}
	require.Error(t, cfg.Validate())
}
