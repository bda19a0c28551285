package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/brojonat/splindex/client"
	"github.com/urfave/cli/v2"
)

func transfersCommand() *cli.Command {
	return &cli.Command{
		Name:      "transfers",
		Usage:     "Index a wallet's transfers through the splindex server",
		ArgsUsage: "WALLET_ADDRESS",
		Flags:     append(windowFlags(), jqFlag(), jsonFlag()),
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("wallet address is required")
			}
			wallet := c.Args().Get(0)

			start, end, err := parseWindow(c)
			if err != nil {
				return err
			}
			codes, err := compileJQFilters(c.StringSlice("must-jq"))
			if err != nil {
				return err
			}

			logger := newLogger(c.String("log-level"))
			cl := client.NewClient(c.String("server-url"), nil, logger)

			list, err := cl.ListTransfers(c.Context, wallet, c.String("mint"), start, end)
			if err != nil {
				return fmt.Errorf("failed to list transfers: %w", err)
			}

			records, err := filterTransfers(list.Transfers, codes, logger)
			if err != nil {
				return err
			}
			return printTransfers(c.App.Writer, records, c.Bool("json"))
		},
	}
}

func startJobCommand() *cli.Command {
	return &cli.Command{
		Name:      "start",
		Usage:     "Start an indexing job",
		ArgsUsage: "WALLET_ADDRESS",
		Flags: append(windowFlags(),
			&cli.BoolFlag{
				Name:  "publish",
				Usage: "Publish the job's transfers to NATS",
			},
			&cli.BoolFlag{
				Name:    "wait",
				Aliases: []string{"w"},
				Usage:   "Wait for the job to finish and print its transfers",
			},
			&cli.DurationFlag{
				Name:  "poll-interval",
				Usage: "Status poll interval used with --wait",
				Value: 2 * time.Second,
			},
			jsonFlag(),
		),
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("wallet address is required")
			}

			start, end, err := parseWindow(c)
			if err != nil {
				return err
			}

			logger := newLogger(c.String("log-level"))
			cl := client.NewClient(c.String("server-url"), nil, logger)

			workflowID, err := cl.StartIndexJob(c.Context, client.JobRequest{
				WalletAddress: c.Args().Get(0),
				TokenMint:     c.String("mint"),
				Start:         start,
				End:           end,
				Publish:       c.Bool("publish"),
			})
			if err != nil {
				return fmt.Errorf("failed to start job: %w", err)
			}

			if !c.Bool("wait") {
				if c.Bool("json") {
					return json.NewEncoder(c.App.Writer).Encode(map[string]string{"workflow_id": workflowID})
				}
				fmt.Fprintf(c.App.Writer, "✓ Index job started\n  Workflow ID: %s\n", workflowID)
				return nil
			}

			job, err := cl.AwaitIndexJob(c.Context, workflowID, c.Duration("poll-interval"))
			if err != nil {
				return fmt.Errorf("failed waiting for job %s: %w", workflowID, err)
			}
			return printJob(c, job)
		},
	}
}

func getJobCommand() *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "Show an indexing job's status and result",
		ArgsUsage: "WORKFLOW_ID",
		Flags:     []cli.Flag{jsonFlag()},
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("workflow ID is required")
			}

			logger := newLogger(c.String("log-level"))
			cl := client.NewClient(c.String("server-url"), nil, logger)

			job, err := cl.GetIndexJob(c.Context, c.Args().Get(0))
			if err != nil {
				return fmt.Errorf("failed to get job: %w", err)
			}
			return printJob(c, job)
		},
	}
}

func printJob(c *cli.Context, job *client.Job) error {
	w := c.App.Writer
	if c.Bool("json") {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(job)
	}

	fmt.Fprintf(w, "Workflow ID: %s\n", job.WorkflowID)
	fmt.Fprintf(w, "Status:      %s\n", job.Status)
	if job.StartedAt != nil {
		fmt.Fprintf(w, "Started:     %s\n", job.StartedAt.Format(time.RFC3339))
	}
	if job.ClosedAt != nil {
		fmt.Fprintf(w, "Closed:      %s\n", job.ClosedAt.Format(time.RFC3339))
	}
	if job.Error != "" {
		fmt.Fprintf(w, "Error:       %s\n", job.Error)
	}
	if job.Result != nil {
		fmt.Fprintf(w, "Published:   %d\n\n", job.Result.Published)
		return printTransfers(w, job.Result.Transfers, false)
	}
	return nil
}

func healthCommand() *cli.Command {
	return &cli.Command{
		Name:  "health",
		Usage: "Check server health",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Request timeout",
				Value: 5 * time.Second,
			},
		},
		Action: func(c *cli.Context) error {
			serverURL := c.String("server-url")
			if serverURL == "" {
				return fmt.Errorf("server-url is required (set SERVER_URL env var or use --server-url)")
			}

			httpClient := &http.Client{
				Timeout: c.Duration("timeout"),
			}

			resp, err := httpClient.Get(serverURL + "/health")
			if err != nil {
				return fmt.Errorf("health check failed: %w", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode == http.StatusOK {
				fmt.Fprintf(c.App.Writer, "✓ Server is healthy (status: %d)\n", resp.StatusCode)
				fmt.Fprintf(c.App.Writer, "  URL: %s\n", serverURL)
				return nil
			}

			return fmt.Errorf("server returned unhealthy status: %d", resp.StatusCode)
		},
	}
}

func versionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Show version information",
		Action: func(c *cli.Context) error {
			fmt.Fprintf(c.App.Writer, "splindex CLI\n")
			fmt.Fprintf(c.App.Writer, "  Version: %s\n", version)
			fmt.Fprintf(c.App.Writer, "  Commit:  %s\n", commit)
			fmt.Fprintf(c.App.Writer, "  Built:   %s\n", date)
			return nil
		},
	}
}
