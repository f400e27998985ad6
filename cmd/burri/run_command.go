package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go/rpc"
	"github.com/itchyny/gojq"
	"github.com/mvines/burri/service/config"
	natspkg "github.com/mvines/burri/service/nats"
	"github.com/mvines/burri/service/solana"
	"github.com/urfave/cli/v2"
)

const publishTimeout = 5 * time.Second

func runFlags() []cli.Flag {
	defaults := solana.DefaultSubmitterOptions()
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "keypair",
			Aliases: []string{"k"},
			Usage:   "Keypair file in solana-keygen format (default: keypair_path from the Solana CLI config)",
			EnvVars: []string{"KEYPAIR_PATH"},
		},
		&cli.StringFlag{
			Name:    "url",
			Aliases: []string{"u"},
			Usage:   "RPC URL or moniker: mainnet-beta, testnet, devnet, localhost (default: json_rpc_url from the Solana CLI config)",
		},
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"C"},
			Usage:   "Solana CLI configuration file",
			Value:   config.DefaultSolanaCLIConfigPath(),
		},
		&cli.StringFlag{
			Name:  "commitment",
			Usage: "Commitment to wait for: processed, confirmed or finalized (default: from the Solana CLI config)",
		},
		&cli.BoolFlag{
			Name:    "verbose",
			Aliases: []string{"v"},
			Usage:   "Print the transaction details and info-level logs",
		},
		&cli.BoolFlag{
			Name:    "json",
			Aliases: []string{"j"},
			Usage:   "Print the run outcome as JSON",
		},
		&cli.StringFlag{
			Name:  "jq",
			Usage: "jq filter applied to the JSON outcome (implies --json)",
		},
		&cli.StringFlag{
			Name:    "nats-url",
			Usage:   "Publish the outcome to this NATS server (best effort)",
			EnvVars: []string{"NATS_URL"},
		},
		&cli.Uint64Flag{
			Name:  "fee",
			Usage: "Fee estimate in lamports reserved out of the balance",
			Value: solana.DefaultFeeLamports,
		},
		&cli.Uint64Flag{
			Name:  "margin",
			Usage: "Extra lamports held back on top of the fee",
		},
		&cli.Uint64Flag{
			Name:  "min-amount",
			Usage: "Smallest transfer amount in lamports",
			Value: 1,
		},
		&cli.IntFlag{
			Name:  "max-retries",
			Usage: "Send retries after a transient failure",
			Value: defaults.MaxSendRetries,
		},
		&cli.DurationFlag{
			Name:  "retry-backoff",
			Usage: "Initial backoff between send retries",
			Value: defaults.RetryBackoff,
		},
		&cli.DurationFlag{
			Name:  "confirm-timeout",
			Usage: "How long to wait for confirmation",
			Value: defaults.ConfirmTimeout,
		},
	}
}

func runAction(c *cli.Context) error {
	verbose := c.Bool("verbose")
	logger := setupLogger(verbose, c.App.ErrWriter)

	jqCode, err := compileJQ(c.String("jq"))
	if err != nil {
		return cli.Exit(fmt.Sprintf("error: %v", err), solana.ExitUnexpected)
	}

	cliCfg, err := config.LoadSolanaCLIConfig(c.String("config"))
	if err != nil {
		return cli.Exit(fmt.Sprintf("error: %v", err), solana.ExitUnexpected)
	}

	rpcURL := config.NormalizeURLMoniker(firstNonEmpty(c.String("url"), cliCfg.JSONRPCURL))
	commitment := rpc.CommitmentType(firstNonEmpty(c.String("commitment"), cliCfg.Commitment, string(rpc.CommitmentConfirmed)))
	switch commitment {
	case rpc.CommitmentProcessed, rpc.CommitmentConfirmed, rpc.CommitmentFinalized:
	default:
		return cli.Exit(fmt.Sprintf("error: unsupported commitment %q", commitment), solana.ExitUnexpected)
	}

	key, err := solana.LoadKeypair(firstNonEmpty(c.String("keypair"), cliCfg.KeypairPath))
	if err != nil {
		return cli.Exit(fmt.Sprintf("error: %v", err), solana.ExitUnexpected)
	}

	// Addresses are checked before anything touches the network.
	refs, err := solana.ParseReferences(key.PublicKey(), c.Args().Slice())
	if err != nil {
		return cli.Exit(fmt.Sprintf("error: %v", err), solana.ExitCode(err))
	}

	opts := solana.DefaultSubmitterOptions()
	opts.MaxSendRetries = c.Int("max-retries")
	opts.RetryBackoff = c.Duration("retry-backoff")
	if opts.MaxRetryBackoff < opts.RetryBackoff {
		opts.MaxRetryBackoff = opts.RetryBackoff
	}
	opts.ConfirmTimeout = c.Duration("confirm-timeout")
	if opts.ConfirmPollInterval > opts.ConfirmTimeout {
		opts.ConfirmPollInterval = opts.ConfirmTimeout
	}

	client := solana.NewClient(solana.NewRPCClient(rpcURL), rpcURL, commitment, nil, logger)
	runner := solana.NewRunner(client, solana.RunnerConfig{
		FeeLamports:       c.Uint64("fee"),
		MarginLamports:    c.Uint64("margin"),
		MinAmountLamports: c.Uint64("min-amount"),
		Submitter:         opts,
	}, nil, nil, logger)

	if verbose {
		runner.OnBuilt = func(draft *solana.Draft) {
			printDraft(c.App.Writer, rpcURL, draft)
		}
	}

	outcome, runErr := runner.Run(c.Context, key, refs)

	if natsURL := c.String("nats-url"); natsURL != "" {
		publishOutcome(c.Context, natsURL, outcome, rpcURL, logger)
	}

	if c.Bool("json") || jqCode != nil {
		if err := writeOutcome(c.App.Writer, outcome, jqCode); err != nil {
			return cli.Exit(fmt.Sprintf("error: %v", err), solana.ExitUnexpected)
		}
	} else if runErr == nil {
		fmt.Fprintf(c.App.Writer, "Signature: %s\n", outcome.Signature)
	}

	if runErr != nil {
		msg := fmt.Sprintf("error: %v", runErr)
		if outcome.Signature != "" {
			msg = fmt.Sprintf("%s (signature %s)", msg, outcome.Signature)
		}
		return cli.Exit(msg, solana.ExitCode(runErr))
	}
	return nil
}

func printDraft(w io.Writer, rpcURL string, draft *solana.Draft) {
	fmt.Fprintf(w, "RPC URL: %s\n", rpcURL)
	fmt.Fprintf(w, "Fee payer: %s\n", draft.Signer)
	fmt.Fprintf(w, "Amount: %s\n", solana.FormatSOL(draft.Amount))

	summary, err := solana.DescribeTransaction(draft.Tx)
	if err != nil {
		fmt.Fprintf(w, "Transaction: %v\n", err)
		return
	}
	for _, ref := range summary.References {
		fmt.Fprintf(w, "Reference: %s\n", ref)
	}
	fmt.Fprintf(w, "Recent blockhash: %s\n", summary.RecentBlockhash)
}

// publishOutcome sends the outcome to NATS. Failures are logged only.
func publishOutcome(ctx context.Context, natsURL string, outcome *solana.Outcome, endpoint string, logger *slog.Logger) {
	publisher, err := natspkg.NewPublisher(natsURL, nil, logger)
	if err != nil {
		logger.Warn("failed to connect to NATS, outcome not published", "error", err)
		return
	}
	defer publisher.Close()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := publisher.PublishOutcome(ctx, natspkg.FromOutcome(outcome, endpoint)); err != nil {
		logger.Warn("failed to publish outcome", "error", err)
	}
}

func compileJQ(filter string) (*gojq.Code, error) {
	if filter == "" {
		return nil, nil
	}
	query, err := gojq.Parse(filter)
	if err != nil {
		return nil, fmt.Errorf("invalid jq filter: %w", err)
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return nil, fmt.Errorf("failed to compile jq filter: %w", err)
	}
	return code, nil
}

// writeOutcome prints the outcome as JSON, or each result of code applied to it.
func writeOutcome(w io.Writer, outcome *solana.Outcome, code *gojq.Code) error {
	data, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("failed to marshal outcome: %w", err)
	}
	if code == nil {
		fmt.Fprintln(w, string(data))
		return nil
	}

	var input any
	if err := json.Unmarshal(data, &input); err != nil {
		return fmt.Errorf("failed to decode outcome: %w", err)
	}

	iter := code.Run(input)
	for {
		v, ok := iter.Next()
		if !ok {
			return nil
		}
		if err, isErr := v.(error); isErr {
			return fmt.Errorf("jq filter failed: %w", err)
		}
		out, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to marshal jq result: %w", err)
		}
		fmt.Fprintln(w, string(out))
	}
}
