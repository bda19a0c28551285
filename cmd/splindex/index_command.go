package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/splindex/service/config"
	"github.com/brojonat/splindex/service/indexer"
	natspkg "github.com/brojonat/splindex/service/nats"
	"github.com/brojonat/splindex/service/solana"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/urfave/cli/v2"
)

func indexCommand() *cli.Command {
	flags := []cli.Flag{
		&cli.StringSliceFlag{
			Name:     "rpc-url",
			Usage:    "Solana RPC endpoint (repeatable, one is picked at random)",
			EnvVars:  []string{"SOLANA_RPC_URLS"},
			Required: true,
		},
		&cli.StringFlag{
			Name:  "commitment",
			Usage: "Commitment level: processed, confirmed or finalized",
			Value: string(rpc.CommitmentConfirmed),
		},
		&cli.StringFlag{
			Name:    "policy",
			Usage:   "Attribution policy: owner-or-signer or owner",
			EnvVars: []string{"ATTRIBUTION_POLICY"},
			Value:   string(indexer.DefaultPolicy),
		},
		&cli.BoolFlag{
			Name:  "early-exit",
			Usage: "Stop listing signatures at the first one older than --start",
		},
		&cli.IntFlag{
			Name:  "max-signatures",
			Usage: "Maximum signatures examined",
			Value: indexer.DefaultMaxSignatures,
		},
		&cli.IntFlag{
			Name:  "concurrency",
			Usage: "Concurrent transaction fetches",
			Value: indexer.DefaultConcurrency,
		},
		&cli.Float64Flag{
			Name:  "rate-limit",
			Usage: "RPC requests per second (0 disables)",
			Value: 5,
		},
		&cli.BoolFlag{
			Name:  "publish",
			Usage: "Publish the transfers to NATS JetStream",
		},
		&cli.StringFlag{
			Name:    "nats-url",
			Usage:   "NATS server URL used with --publish",
			EnvVars: []string{"NATS_URL"},
			Value:   "nats://localhost:4222",
		},
		&cli.DurationFlag{
			Name:  "timeout",
			Usage: "Overall timeout",
			Value: 10 * time.Minute,
		},
		jqFlag(),
		jsonFlag(),
	}

	return &cli.Command{
		Name:      "index",
		Usage:     "Index a wallet's token transfers directly from Solana RPC",
		ArgsUsage: "WALLET_ADDRESS",
		Flags:     append(windowFlags(), flags...),
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("wallet address is required")
			}
			wallet := c.Args().Get(0)
			mint := c.String("mint")
			if mint == "" {
				mint = config.USDCMainnetMint
			}

			start, end, err := parseWindow(c)
			if err != nil {
				return err
			}
			policy, err := indexer.ParsePolicy(c.String("policy"))
			if err != nil {
				return err
			}
			codes, err := compileJQFilters(c.StringSlice("must-jq"))
			if err != nil {
				return err
			}

			logger := newLogger(c.String("log-level"))

			endpoint, err := solana.SelectRandomEndpoint(c.StringSlice("rpc-url"))
			if err != nil {
				return err
			}
			client := solana.NewClient(solana.NewRPCClient(endpoint), solana.EndpointLabel(endpoint), solana.ClientOptions{
				Commitment:  rpc.CommitmentType(c.String("commitment")),
				RateLimit:   c.Float64("rate-limit"),
				MaxAttempts: 3,
				Backoff:     time.Second,
			}, nil, logger)

			idx := indexer.New(client, client, indexer.Options{
				MaxSignatures: c.Int("max-signatures"),
				Concurrency:   c.Int("concurrency"),
				Policy:        policy,
				EarlyExit:     c.Bool("early-exit"),
			}, indexer.NewLogObserver(logger, nil), logger)

			ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
			defer cancel()

			records, err := idx.IndexTransfers(ctx, wallet, mint, start, end)
			if err != nil {
				return fmt.Errorf("failed to index transfers: %w", err)
			}

			if c.Bool("publish") {
				if err := publishTransfers(ctx, c.String("nats-url"), wallet, mint, records, logger); err != nil {
					return err
				}
			}

			records, err = filterTransfers(records, codes, logger)
			if err != nil {
				return err
			}
			return printTransfers(c.App.Writer, records, c.Bool("json"))
		},
	}
}

// publishTransfers sends every record to JetStream, before any --must-jq
// filtering.
func publishTransfers(ctx context.Context, natsURL, wallet, mint string, records []indexer.TransferRecord, logger *slog.Logger) error {
	if len(records) == 0 {
		return nil
	}

	publisher, err := natspkg.NewPublisher(natsURL, nil, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	defer publisher.Close()

	events := natspkg.FromTransferRecords(wallet, mint, records)
	if err := publisher.PublishTransferBatch(ctx, events); err != nil {
		return fmt.Errorf("failed to publish transfers: %w", err)
	}
	logger.Info("published transfers", "count", len(events), "subject", events[0].Subject())
	return nil
}
