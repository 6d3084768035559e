package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/papapumpkin/corona/internal/telemetry"
)

var telemetryCmd = &cobra.Command{
	Use:   "telemetry",
	Short: "View the state-change event log",
	Long: `Reads and formats the JSONL telemetry file: every upsert, subscriber
migration and rollback, and every runtime config generation.

With --follow (-f), watches the file for new events (like tail -f).`,
	Args: cobra.NoArgs,
	RunE: runTelemetry,
}

func init() {
	telemetryCmd.Flags().BoolP("follow", "f", false, "follow the file for new events")
	rootCmd.AddCommand(telemetryCmd)
}

func runTelemetry(cmd *cobra.Command, _ []string) error {
	follow, _ := cmd.Flags().GetBool("follow")
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	path := cfg.TelemetryFile

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("telemetry: open %s: %w", path, err)
	}
	defer f.Close()

	w := cmd.OutOrStdout()
	if !follow {
		return telemetry.Scan(f, func(line string) { fmt.Fprintln(w, line) })
	}
	lr := &lineReader{r: bufio.NewReader(f)}
	lr.print(w)
	return tailFollow(cmd.Context(), w, lr, path)
}

// tailFollow watches the file for new data using fsnotify and prints new
// events until ctx is done.
func tailFollow(ctx context.Context, w io.Writer, lr *lineReader, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("telemetry: create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(path); err != nil {
		return fmt.Errorf("telemetry: watch %s: %w", path, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&fsnotify.Write == 0 {
				continue
			}
			lr.print(w)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("telemetry: watch %s: %w", path, err)
		}
	}
}

// lineReader prints complete JSONL lines, holding a trailing partial line
// until the writer finishes it.
type lineReader struct {
	r       *bufio.Reader
	partial string
}

func (l *lineReader) print(w io.Writer) {
	for {
		line, err := l.r.ReadString('\n')
		l.partial += line
		if err != nil {
			return
		}
		if s := strings.TrimSpace(l.partial); s != "" {
			fmt.Fprintln(w, telemetry.FormatLine(s))
		}
		l.partial = ""
	}
}
