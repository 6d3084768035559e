package cmd

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/papapumpkin/corona/internal/app"
	"github.com/papapumpkin/corona/internal/metrics"
	"github.com/papapumpkin/corona/internal/ui"
	"github.com/papapumpkin/corona/internal/watch"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Regenerate the runtime config when profile files change",
	Long: `Applies the runtime config once, then watches the current profile and the
chain item files and regenerates on every change until interrupted.

With --metrics-addr, Prometheus metrics are served on /metrics.`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().String("metrics-addr", "", "address to serve /metrics on, e.g. 127.0.0.1:9464")
	watchCmd.Flags().Duration("debounce", watch.DefaultDebounce, "quiet period before regenerating")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	addr, _ := cmd.Flags().GetString("metrics-addr")
	debounce, _ := cmd.Flags().GetDuration("debounce")

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a, err := openApp(cmd, app.WithMetrics(metrics.New(reg)))
	if err != nil {
		return err
	}
	defer a.Close()

	if addr != "" {
		stop, err := serveMetrics(addr, reg)
		if err != nil {
			return err
		}
		defer stop()
	}

	p := ui.New(cmd.OutOrStdout())
	onRun := func(out app.Outcome, err error) {
		if err != nil && out.Data == nil {
			p.Error(err)
			return
		}
		printOutcome(p, a, out)
		if err != nil {
			p.Error(err)
		}
	}
	onRun(a.Apply(ctx, app.SourceWatch))
	p.Info("watching %s (ctrl-c to stop)", a.Store().Dir())
	return a.Watch(ctx, onRun, watch.WithDebounce(debounce))
}

func serveMetrics(addr string, reg *prometheus.Registry) (func(), error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	select {
	case err := <-errc:
		return nil, err
	case <-time.After(50 * time.Millisecond):
	}
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			_ = srv.Close()
		}
	}, nil
}
