package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/okian/speedsync/internal/client/agent"
	"github.com/okian/speedsync/internal/domain/timing"
	"github.com/okian/speedsync/pkg/logger"
	"github.com/okian/speedsync/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const finalPushTimeout = 10 * time.Second

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	AssumeOnline bool
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the timing station",
		Long: `Start the race clock and record a finish for every bib read from stdin.

Each line is a bib number, recorded at the current clock time. A few words
control the clock instead:
  start (or a blank line)  start or resume the clock
  stop                     pause the clock
  reset                    stop and zero the clock

Results sync in the background every sync_interval while the server is
reachable, and right away when it comes back. End input (Ctrl-D) to quit.

Example:
  speedsync run --server http://finish-line:8080`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStation(cmd, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.AssumeOnline, "assume-online", false, "skip connectivity probing and treat the server as reachable")

	return cmd
}

func runStation(cmd *cobra.Command, opts *RunOptions) error {
	a, cfg, err := opts.openAgent(cmd)
	if err != nil {
		return err
	}
	defer closeAgent(cmd, a)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sw := timing.NewStopwatch(nil)
	sw.Start()

	g, gctx := errgroup.WithContext(ctx)

	if opts.AssumeOnline {
		a.Monitor.Set(true)
		g.Go(func() error {
			a.Engine.Run(gctx)
			return nil
		})
	} else {
		g.Go(func() error {
			a.Run(gctx)
			return nil
		})
	}

	g.Go(func() error {
		defer cancel()
		return readStation(gctx, cmd.InOrStdin(), newOutput(opts.Format, cmd.OutOrStdout()), a, sw)
	})

	if cfg.MetricsAddr != "" {
		g.Go(func() error {
			return serveMetrics(gctx, cfg.MetricsAddr)
		})
	}

	err = g.Wait()

	// one last attempt so a clean exit leaves nothing behind
	a.Engine.Wait()
	if a.Monitor.Online() {
		pctx, pcancel := context.WithTimeout(context.WithoutCancel(cmd.Context()), finalPushTimeout)
		a.Engine.PushPendingResults(pctx)
		pcancel()
	}
	return err
}

// readStation handles stdin lines until EOF or ctx is done.
func readStation(ctx context.Context, in io.Reader, out output, a *agent.Agent, sw *timing.Stopwatch) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- sc.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}
			if err := handleLine(ctx, strings.TrimSpace(line), out, a, sw); err != nil {
				return err
			}
		}
	}
}

func handleLine(ctx context.Context, line string, out output, a *agent.Agent, sw *timing.Stopwatch) error {
	switch strings.ToLower(line) {
	case "", "start":
		sw.Start()
		return out.line("clock running at " + timing.FormatElapsed(sw.ElapsedMillis()))
	case "stop":
		sw.Stop()
		return out.line("clock stopped at " + timing.FormatElapsed(sw.ElapsedMillis()))
	case "reset":
		sw.Reset()
		return out.line("clock reset")
	}

	rec, err := a.Recorder.RecordStopwatch(ctx, line, sw)
	if err != nil {
		return out.line("rejected: " + err.Error())
	}
	if out.isJSON() {
		return out.json(rec)
	}
	return out.line(fmt.Sprintf("#%s %s", rec.RunnerNumber, timing.FormatElapsed(rec.FinishTime)))
}

// serveMetrics exposes the client metrics until ctx is done.
func serveMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(metrics.GetRegistry(), promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		logger.Get().Info(ctx, "serving client metrics", logger.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
