package main

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	solanago "github.com/gagliardetto/solana-go"
	"github.com/mvines/burri/service/config"
	"github.com/mvines/burri/service/solana"
	"github.com/mvines/burri/service/temporal"
	"github.com/urfave/cli/v2"
)

func scheduleCommands(newScheduler schedulerFactory) *cli.Command {
	return &cli.Command{
		Name:  "schedule",
		Usage: "Manage recurring self-transfers run by the Temporal worker",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "temporal-host",
				Usage:   "Temporal server address",
				EnvVars: []string{"TEMPORAL_HOST"},
				Value:   "localhost:7233",
			},
			&cli.StringFlag{
				Name:    "temporal-namespace",
				Usage:   "Temporal namespace",
				EnvVars: []string{"TEMPORAL_NAMESPACE"},
				Value:   "default",
			},
			&cli.StringFlag{
				Name:    "task-queue",
				Usage:   "Temporal task queue the worker listens on",
				EnvVars: []string{"TEMPORAL_TASK_QUEUE"},
				Value:   "burri-self-transfer",
			},
		},
		Subcommands: []*cli.Command{
			scheduleCreateCommand(newScheduler),
			scheduleDeleteCommand(newScheduler),
		},
	}
}

func scheduleCreateCommand(newScheduler schedulerFactory) *cli.Command {
	return &cli.Command{
		Name:      "create",
		Usage:     "Run a self-transfer for a keypair on a fixed interval",
		ArgsUsage: "[REFERENCE_ADDRESS...]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "keypair",
				Aliases: []string{"k"},
				Usage:   "Keypair file; the path must also be readable by the worker",
				EnvVars: []string{"KEYPAIR_PATH"},
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"C"},
				Usage:   "Solana CLI configuration file",
				Value:   config.DefaultSolanaCLIConfigPath(),
			},
			&cli.DurationFlag{
				Name:    "interval",
				Aliases: []string{"i"},
				Usage:   "Time between runs (e.g., 10m, 1h)",
				EnvVars: []string{"RUN_INTERVAL"},
				Value:   10 * time.Minute,
			},
			&cli.BoolFlag{
				Name:    "json",
				Aliases: []string{"j"},
				Usage:   "Output as JSON",
			},
		},
		Action: func(c *cli.Context) error {
			logger := setupLogger(false, c.App.ErrWriter)

			interval := c.Duration("interval")
			if interval < time.Second {
				return fmt.Errorf("interval must be at least 1s")
			}

			cliCfg, err := config.LoadSolanaCLIConfig(c.String("config"))
			if err != nil {
				return err
			}
			keypairPath, err := filepath.Abs(firstNonEmpty(c.String("keypair"), cliCfg.KeypairPath))
			if err != nil {
				return fmt.Errorf("failed to resolve keypair path: %w", err)
			}
			key, err := solana.LoadKeypair(keypairPath)
			if err != nil {
				return err
			}
			if _, err := solana.ParseReferences(key.PublicKey(), c.Args().Slice()); err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), solana.ExitCode(err))
			}

			scheduler, release, err := newScheduler(c, logger)
			if err != nil {
				return fmt.Errorf("failed to connect to temporal: %w", err)
			}
			defer release()

			input := temporal.SelfTransferInput{
				Signer:      key.PublicKey().String(),
				KeypairPath: keypairPath,
				References:  c.Args().Slice(),
			}
			if err := scheduler.CreateSelfTransferSchedule(c.Context, input, interval); err != nil {
				return fmt.Errorf("failed to create schedule: %w", err)
			}

			if c.Bool("json") {
				data, _ := json.Marshal(map[string]interface{}{
					"schedule_id": temporal.ScheduleID(input.Signer),
					"signer":      input.Signer,
					"interval":    interval.String(),
					"references":  input.References,
				})
				fmt.Fprintln(c.App.Writer, string(data))
			} else {
				fmt.Fprintf(c.App.Writer, "✓ Schedule created\n")
				fmt.Fprintf(c.App.Writer, "  Schedule ID: %s\n", temporal.ScheduleID(input.Signer))
				fmt.Fprintf(c.App.Writer, "  Signer: %s\n", input.Signer)
				fmt.Fprintf(c.App.Writer, "  Interval: %s\n", interval)
			}
			return nil
		},
	}
}

func scheduleDeleteCommand(newScheduler schedulerFactory) *cli.Command {
	return &cli.Command{
		Name:      "delete",
		Aliases:   []string{"rm"},
		Usage:     "Stop the recurring self-transfer for a signer",
		ArgsUsage: "SIGNER_ADDRESS",
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("signer address is required")
			}
			signer, err := solanago.PublicKeyFromBase58(c.Args().Get(0))
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v: %v", solana.ErrInvalidAddress, err), solana.ExitInvalidAddress)
			}

			scheduler, release, err := newScheduler(c, setupLogger(false, c.App.ErrWriter))
			if err != nil {
				return fmt.Errorf("failed to connect to temporal: %w", err)
			}
			defer release()

			if err := scheduler.DeleteSelfTransferSchedule(c.Context, signer.String()); err != nil {
				return fmt.Errorf("failed to delete schedule: %w", err)
			}
			fmt.Fprintf(c.App.Writer, "✓ Schedule %s deleted\n", temporal.ScheduleID(signer.String()))
			return nil
		},
	}
}
