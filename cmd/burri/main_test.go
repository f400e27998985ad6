package main

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	solanago "github.com/gagliardetto/solana-go"
	"github.com/mvines/burri/service/solana"
	"github.com/mvines/burri/service/solana/rpctest"
	"github.com/mvines/burri/service/temporal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

type testCLI struct {
	key       solanago.PrivateKey
	keyPath   string
	config    string
	scheduler *temporal.MockScheduler
	stdout    bytes.Buffer
	stderr    bytes.Buffer
}

func newTestCLI(t *testing.T) *testCLI {
	t.Helper()
	dir := t.TempDir()
	key := solanago.NewWallet().PrivateKey

	values := make([]int, len(key))
	for i, b := range key {
		values[i] = int(b)
	}
	data, err := json.Marshal(values)
	require.NoError(t, err)
	keyPath := filepath.Join(dir, "id.json")
	require.NoError(t, os.WriteFile(keyPath, data, 0o600))

	return &testCLI{
		key:       key,
		keyPath:   keyPath,
		config:    filepath.Join(dir, "missing-config.yml"),
		scheduler: temporal.NewMockScheduler(),
	}
}

func (tc *testCLI) run(args ...string) error {
	app := newApp(func(*cli.Context, *slog.Logger) (temporal.Scheduler, func(), error) {
		return tc.scheduler, func() {}, nil
	})
	app.Writer = &tc.stdout
	app.ErrWriter = &tc.stderr
	app.ExitErrHandler = func(*cli.Context, error) {}
	return app.Run(append([]string{"burri"}, args...))
}

func exitCode(t *testing.T, err error) int {
	t.Helper()
	require.Error(t, err)
	var exitErr cli.ExitCoder
	require.ErrorAs(t, err, &exitErr)
	return exitErr.ExitCode()
}

func TestRun_Confirmed(t *testing.T) {
	srv := rpctest.NewServer()
	defer srv.Close()
	srv.SetBalance(2_000_000)

	tc := newTestCLI(t)
	ref := solanago.NewWallet().PublicKey()

	err := tc.run("--keypair", tc.keyPath, "--url", srv.URL, "--config", tc.config, ref.String())
	require.NoError(t, err)

	sent := srv.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "Signature: "+sent[0].Signatures[0].String()+"\n", tc.stdout.String())

	summary, err := solana.DescribeTransaction(sent[0])
	require.NoError(t, err)
	assert.Equal(t, tc.key.PublicKey(), summary.Source)
	assert.Equal(t, tc.key.PublicKey(), summary.Destination)
	assert.Equal(t, []solanago.PublicKey{ref}, summary.References)
}

func TestRun_Verbose(t *testing.T) {
	srv := rpctest.NewServer()
	defer srv.Close()
	srv.SetBalance(2_000_000)

	tc := newTestCLI(t)
	ref := solanago.NewWallet().PublicKey()

	err := tc.run("--verbose", "--keypair", tc.keyPath, "--url", srv.URL, "--config", tc.config, ref.String())
	require.NoError(t, err)

	out := tc.stdout.String()
	assert.Contains(t, out, "RPC URL: "+srv.URL)
	assert.Contains(t, out, "Fee payer: "+tc.key.PublicKey().String())
	assert.Contains(t, out, "Amount: 0.00")
	assert.Contains(t, out, " SOL\n")
	assert.Contains(t, out, "Reference: "+ref.String())
	assert.Contains(t, out, "Recent blockhash: "+srv.Blockhash().String())
	assert.Contains(t, out, "Signature: ")
}

func TestRun_JQ(t *testing.T) {
	srv := rpctest.NewServer()
	defer srv.Close()
	srv.SetBalance(2_000_000)

	tc := newTestCLI(t)
	err := tc.run("--jq", ".status", "--keypair", tc.keyPath, "--url", srv.URL, "--config", tc.config)
	require.NoError(t, err)
	assert.Equal(t, "\"confirmed\"\n", tc.stdout.String())

	t.Run("invalid filter fails before sending", func(t *testing.T) {
		tc := newTestCLI(t)
		err := tc.run("--jq", ".status | [", "--keypair", tc.keyPath, "--url", srv.URL, "--config", tc.config)
		assert.Equal(t, solana.ExitUnexpected, exitCode(t, err))
		assert.Len(t, srv.Sent(), 1)
	})
}

func TestRun_ExitCodes(t *testing.T) {
	t.Run("invalid reference makes no network calls", func(t *testing.T) {
		srv := rpctest.NewServer()
		defer srv.Close()
		tc := newTestCLI(t)

		err := tc.run("--keypair", tc.keyPath, "--url", srv.URL, "--config", tc.config, "not-base58!")
		assert.Equal(t, solana.ExitInvalidAddress, exitCode(t, err))
		assert.Zero(t, srv.Calls("getBalance"))
		assert.Zero(t, srv.Calls("getLatestBlockhash"))
	})

	t.Run("self reference", func(t *testing.T) {
		srv := rpctest.NewServer()
		defer srv.Close()
		tc := newTestCLI(t)

		err := tc.run("--keypair", tc.keyPath, "--url", srv.URL, "--config", tc.config, tc.key.PublicKey().String())
		assert.Equal(t, solana.ExitInvalidAddress, exitCode(t, err))
	})

	t.Run("insufficient funds", func(t *testing.T) {
		srv := rpctest.NewServer()
		defer srv.Close()
		srv.SetBalance(5000)
		tc := newTestCLI(t)

		err := tc.run("--keypair", tc.keyPath, "--url", srv.URL, "--config", tc.config)
		assert.Equal(t, solana.ExitInsufficientFunds, exitCode(t, err))
		assert.Empty(t, srv.Sent())
		assert.Empty(t, tc.stdout.String())
	})

	t.Run("rejected", func(t *testing.T) {
		srv := rpctest.NewServer()
		defer srv.Close()
		srv.SetBalance(2_000_000)
		srv.SetSendError(-32002, "Transaction simulation failed: Attempt to debit an account but found no record of a prior credit.")
		tc := newTestCLI(t)

		err := tc.run("--keypair", tc.keyPath, "--url", srv.URL, "--config", tc.config)
		assert.Equal(t, solana.ExitRejected, exitCode(t, err))
		assert.Contains(t, err.Error(), "no record of a prior credit")
		assert.Len(t, srv.Sent(), 1)
	})

	t.Run("timed out still reports the signature", func(t *testing.T) {
		srv := rpctest.NewServer()
		defer srv.Close()
		srv.SetBalance(2_000_000)
		srv.SetConfirmationStatus("")
		tc := newTestCLI(t)

		err := tc.run("--confirm-timeout", "50ms", "--keypair", tc.keyPath, "--url", srv.URL, "--config", tc.config)
		assert.Equal(t, solana.ExitTimedOut, exitCode(t, err))
		require.Len(t, srv.Sent(), 1)
		assert.Contains(t, err.Error(), srv.Sent()[0].Signatures[0].String())
	})

	t.Run("network unavailable", func(t *testing.T) {
		tc := newTestCLI(t)
		err := tc.run("--max-retries", "0", "--keypair", tc.keyPath, "--url", "http://127.0.0.1:1", "--config", tc.config)
		assert.Equal(t, solana.ExitNetworkUnavailable, exitCode(t, err))
	})

	t.Run("missing keypair", func(t *testing.T) {
		tc := newTestCLI(t)
		err := tc.run("--keypair", filepath.Join(t.TempDir(), "nope.json"), "--url", "http://127.0.0.1:1", "--config", tc.config)
		assert.Equal(t, solana.ExitUnexpected, exitCode(t, err))
	})
}

func TestRun_SolanaCLIConfig(t *testing.T) {
	srv := rpctest.NewServer()
	defer srv.Close()
	srv.SetBalance(2_000_000)

	tc := newTestCLI(t)
	cfg := "json_rpc_url: " + srv.URL + "\nkeypair_path: " + tc.keyPath + "\ncommitment: finalized\n"
	require.NoError(t, os.WriteFile(tc.config, []byte(cfg), 0o600))

	srv.SetConfirmationStatus("finalized")
	err := tc.run("--config", tc.config)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(tc.stdout.String(), "Signature: "))
}

func TestSchedule(t *testing.T) {
	tc := newTestCLI(t)
	ref := solanago.NewWallet().PublicKey()
	signer := tc.key.PublicKey().String()

	err := tc.run("schedule", "create", "--keypair", tc.keyPath, "--config", tc.config, "--interval", "15m", ref.String())
	require.NoError(t, err)

	input, interval, ok := tc.scheduler.GetSchedule(signer)
	require.True(t, ok)
	assert.Equal(t, 15*time.Minute, interval)
	assert.Equal(t, tc.keyPath, input.KeypairPath)
	assert.Equal(t, []string{ref.String()}, input.References)
	assert.Contains(t, tc.stdout.String(), temporal.ScheduleID(signer))

	t.Run("invalid reference is rejected locally", func(t *testing.T) {
		tc := newTestCLI(t)
		err := tc.run("schedule", "create", "--keypair", tc.keyPath, "--config", tc.config, "bogus")
		assert.Equal(t, solana.ExitInvalidAddress, exitCode(t, err))
		assert.Zero(t, tc.scheduler.ScheduleCount())
	})

	err = tc.run("schedule", "delete", signer)
	require.NoError(t, err)
	assert.False(t, tc.scheduler.ScheduleExists(signer))

	err = tc.run("schedule", "delete", signer)
	assert.Error(t, err)
}
