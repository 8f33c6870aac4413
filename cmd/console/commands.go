package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/vladislavdragonenkov/oms-console/internal/app"
	"github.com/vladislavdragonenkov/oms-console/internal/domain"
	"github.com/vladislavdragonenkov/oms-console/internal/querycache"
	"github.com/vladislavdragonenkov/oms-console/internal/service/itemstatus"
	"github.com/vladislavdragonenkov/oms-console/internal/version"
)

// loadConfig читает окружение и накладывает флаги командной строки.
func loadConfig(opts *rootOptions) (app.Config, error) {
	cfg, err := app.LoadConfig(os.LookupEnv)
	if err != nil {
		return app.Config{}, err
	}
	if opts.apiURL != "" {
		cfg.APIURL = opts.apiURL
	}
	if opts.token != "" {
		cfg.APIToken = opts.token
	}
	if opts.logLevel != "" {
		cfg.LogLevel = opts.logLevel
	}
	if err := app.ConfigureLogging(cfg.LogLevel, cfg.LogFormat); err != nil {
		return app.Config{}, err
	}
	return cfg, nil
}

func serveCmd(opts *rootOptions) *cobra.Command {
	var httpAddr, metricsAddr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the console API, background refresh and metrics servers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			if httpAddr != "" {
				cfg.HTTPAddr = httpAddr
			}
			if metricsAddr != "" {
				cfg.MetricsAddr = metricsAddr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			log.WithFields(log.Fields{
				"http_addr":    cfg.HTTPAddr,
				"metrics_addr": cfg.MetricsAddr,
				"version":      version.GetVersion(),
			}).Info("запускаем консоль")

			if err := app.Run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			log.Info("консоль остановлена")
			return nil
		},
	}

	cmd.Flags().StringVar(&httpAddr, "http-addr", "", "console API listen address (env OMS_HTTP_ADDR)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "metrics listen address (env OMS_METRICS_ADDR)")
	return cmd
}

func itemStatusCmd(opts *rootOptions) *cobra.Command {
	var (
		notes   string
		orderID int64
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "item-status <item-id> <status>",
		Short: "Change the status of an order item and wait for the server",
		Long: `Changes the status of one order item. With --order the order is loaded
first so the change is applied optimistically and rolled back on failure.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			itemID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("item id must be an integer: %w", err)
			}
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}

			deps, err := app.NewDependencies(cfg, prometheus.NewRegistry(), log.WithField("component", "cli"))
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			defer deps.Close(ctx)

			if orderID > 0 {
				if _, err := deps.Cache.Fetch(ctx, querycache.OrderKey(orderID), func(ctx context.Context) (any, error) {
					return deps.Client.GetOrder(ctx, orderID)
				}); err != nil {
					return fmt.Errorf("load order %d: %w", orderID, err)
				}
			}

			result, runErr := deps.Controller.Run(ctx, domain.StatusChange{
				OrderItemID: itemID,
				Status:      domain.ItemStatus(args[1]),
				Notes:       notes,
			})
			if err := printJSON(cmd.OutOrStdout(), resultView(result, runErr)); err != nil {
				return err
			}
			return runErr
		},
	}

	cmd.Flags().StringVar(&notes, "notes", "", "notes to attach to the status change")
	cmd.Flags().Int64Var(&orderID, "order", 0, "order id to load before the change")
	cmd.Flags().DurationVar(&timeout, "timeout", time.Minute, "overall command timeout")
	return cmd
}

func orderCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "order <order-id>",
		Short: "Print an order as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			orderID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("order id must be an integer: %w", err)
			}
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			deps, err := app.NewDependencies(cfg, prometheus.NewRegistry(), log.WithField("component", "cli"))
			if err != nil {
				return err
			}

			order, err := deps.Client.GetOrder(cmd.Context(), orderID)
			if err != nil {
				return describeError(err)
			}
			return printJSON(cmd.OutOrStdout(), order)
		},
	}
}

func ordersCmd(opts *rootOptions) *cobra.Command {
	var page, limit int

	cmd := &cobra.Command{
		Use:   "orders",
		Short: "Print a page of orders as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			deps, err := app.NewDependencies(cfg, prometheus.NewRegistry(), log.WithField("component", "cli"))
			if err != nil {
				return err
			}

			page, limit = domain.NormalizePage(page, limit)
			result, err := deps.Client.ListOrders(cmd.Context(), page, limit)
			if err != nil {
				return describeError(err)
			}
			return printJSON(cmd.OutOrStdout(), result)
		},
	}

	cmd.Flags().IntVar(&page, "page", 1, "page number")
	cmd.Flags().IntVar(&limit, "limit", domain.DefaultPageLimit, "page size")
	return cmd
}

func versionCmd() *cobra.Command {
	var short bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			if short {
				fmt.Fprintln(cmd.OutOrStdout(), version.GetVersion())
				return
			}
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
		},
	}

	cmd.Flags().BoolVarP(&short, "short", "s", false, "print only version number")
	return cmd
}

type itemStatusResult struct {
	MutationID string               `json:"mutation_id,omitempty"`
	Item       *domain.LineItem     `json:"item,omitempty"`
	Attempts   int                  `json:"attempts"`
	Snapshot   *itemstatus.Snapshot `json:"snapshot,omitempty"`
	RolledBack bool                 `json:"rolled_back"`
	ErrorKind  domain.ErrorKind     `json:"error_kind,omitempty"`
	Error      string               `json:"error,omitempty"`
	Hint       string               `json:"hint,omitempty"`
}

func resultView(result itemstatus.Result, err error) itemStatusResult {
	view := itemStatusResult{
		MutationID: result.MutationID,
		Attempts:   result.Attempts,
		Snapshot:   result.Snapshot,
		RolledBack: result.RolledBack,
	}
	if err != nil {
		kind := itemstatus.Classify(err)
		view.ErrorKind = kind
		view.Error = err.Error()
		view.Hint = itemstatus.DescribeFailure(kind, result.RolledBack).Description
		return view
	}
	item := result.Item
	view.Item = &item
	return view
}

// describeError дополняет ошибку API понятной подсказкой.
func describeError(err error) error {
	if domain.IsNotFound(err) {
		return err
	}
	msg := itemstatus.Describe(itemstatus.Classify(err))
	return fmt.Errorf("%s: %w", msg.Title, err)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
