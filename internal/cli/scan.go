package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/L1nMay/vulnorch/internal/auth"
	"github.com/L1nMay/vulnorch/internal/model"
	"github.com/L1nMay/vulnorch/internal/scan"
)

// statusRefresh re-reads the record in case the progress stream dropped an update.
const statusRefresh = 5 * time.Second

type scanOptions struct {
	ip     string
	url    string
	name   string
	org    string
	owner  string
	dryRun bool
}

func newScanCmd(a *app) *cobra.Command {
	var opts scanOptions

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Run one scan in the foreground and print its report",
		Example: `  vulnorch scan --ip 10.0.0.5
  vulnorch scan --url https://shop.example.com --dry-run
  vulnorch scan --org acme`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runScan(cmd, opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.ip, "ip", "", "IP, CIDR or hostname to scan")
	f.StringVar(&opts.url, "url", "", "URL to scan")
	f.StringVar(&opts.name, "name", "", "asset name for --ip/--url")
	f.StringVar(&opts.org, "org", "", "scan every scannable asset of this organization")
	f.StringVar(&opts.owner, "owner", "cli", "owner recorded on the scan")
	f.BoolVar(&opts.dryRun, "dry-run", false, "print the engine targets that would be created and exit")
	return cmd
}

func (a *app) runScan(cmd *cobra.Command, opts scanOptions) error {
	cfg := a.cfg

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	assets, err := scanAssets(st, opts)
	if err != nil {
		return err
	}

	engine := newEngine(cfg, nil)
	runner := scan.NewRunner(cfg, engine, st)

	if opts.dryRun {
		plan, err := runner.Plan(assets)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), plan)
	}

	history, err := openHistory(cfg)
	if err != nil {
		return err
	}
	if history != nil {
		defer history.Close()
		runner.AddObserver(historyRecorder(history))
	}

	svc := scan.NewService(cfg, runner, engine, st, st)
	user := auth.User{ID: opts.owner, OrgID: opts.org}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rec, err := svc.StartAssets(ctx, user, assets)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "scan %s started on %d asset(s)\n", rec.ID, len(rec.Assets))

	final, err := waitTerminal(ctx, svc, user, rec.ID, cmd.ErrOrStderr())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	_ = runner.Shutdown(shutdownCtx)

	if err != nil {
		return err
	}
	if final.Status != model.StatusCompleted {
		return fmt.Errorf("scan %s %s: %s", final.ID, final.Status, final.Message)
	}

	rep, err := svc.Results(user, final.ID)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), rep)
}

func scanAssets(st store, opts scanOptions) ([]model.Asset, error) {
	if opts.ip != "" || opts.url != "" {
		name := opts.name
		if name == "" {
			name = opts.ip + opts.url
		}
		return []model.Asset{{Name: name, IP: opts.ip, URL: opts.url}}, nil
	}
	if opts.org == "" {
		return nil, errors.New("provide --ip, --url or --org")
	}

	all, err := st.ListAssets(opts.org)
	if err != nil {
		return nil, err
	}
	out := make([]model.Asset, 0, len(all))
	for _, asset := range all {
		if asset.Scannable() {
			out = append(out, asset)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w in organization %s", scan.ErrNoAssets, opts.org)
	}
	return out, nil
}

// waitTerminal follows the scan until it reaches a terminal status. An
// interrupt cancels the scan and keeps waiting for the cancellation to land.
func waitTerminal(ctx context.Context, svc *scan.Service, user auth.User, id string, progress io.Writer) (*model.ScanRecord, error) {
	updates, unwatch, err := svc.Watch(user, id)
	if err != nil {
		return nil, err
	}
	defer unwatch()

	ticker := time.NewTicker(statusRefresh)
	defer ticker.Stop()

	interrupted := ctx.Done()
	last := -1
	for {
		rec, err := svc.Status(user, id)
		if err != nil {
			return nil, err
		}
		if rec.Progress != last {
			fmt.Fprintf(progress, "[%3d%%] %s\n", rec.Progress, rec.Message)
			last = rec.Progress
		}
		if rec.Status.Terminal() {
			return rec, nil
		}

		select {
		case <-updates:
		case <-ticker.C:
		case <-interrupted:
			interrupted = nil
			fmt.Fprintln(progress, "interrupted, cancelling scan")
			if err := svc.Cancel(user, id); err != nil && !errors.Is(err, scan.ErrInvalidState) {
				return nil, err
			}
		}
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
