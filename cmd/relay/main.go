// relay consumes the stream-json output of a coding agent on stdin,
// reconstructs tool invocation/result pairs, collapses repeats, and
// renders the resulting occurrences to the terminal or forwards them
// to a chat webhook:
//
//	claude -p "fix the tests" --output-format stream-json | relay
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/abelbrown/relay/internal/config"
	"github.com/abelbrown/relay/internal/correlate"
	"github.com/abelbrown/relay/internal/dispatch"
	"github.com/abelbrown/relay/internal/extract"
	"github.com/abelbrown/relay/internal/logging"
	"github.com/abelbrown/relay/internal/notify"
	"github.com/abelbrown/relay/internal/reduce"
	"github.com/abelbrown/relay/internal/render"
	"github.com/abelbrown/relay/internal/state"
	"github.com/abelbrown/relay/internal/view"
)

const version = "0.1.0"

// maxLineSize bounds a single stdin read; tool results can be large.
const maxLineSize = 10 * 1024 * 1024

func main() {
	var (
		tui         = flag.Bool("tui", false, "live alt-screen view instead of plain output")
		webhook     = flag.String("webhook", "", "chat webhook URL (overrides config)")
		channel     = flag.String("channel", "", "chat channel (overrides config)")
		width       = flag.Int("width", 0, "card width, 0 = auto")
		showVersion = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("relay %s\n", version)
		return
	}

	if err := logging.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "relay: %v\n", err)
		os.Exit(1)
	}
	defer logging.Close()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatal("failed to load config", "error", err)
	}
	if *webhook != "" {
		cfg.Notify.WebhookURL = *webhook
		cfg.Notify.Enabled = true
	}
	if *channel != "" {
		cfg.Notify.Channel = *channel
	}
	if *width != 0 {
		cfg.UI.Width = *width
	}

	if err := run(cfg, *tui); err != nil {
		logging.Error("relay failed", "error", err)
		fmt.Fprintf(os.Stderr, "relay: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, tui bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine := correlate.NewEngine(correlate.Options{
		SampleInterval: cfg.SampleInterval(),
		ToolTimeout:    cfg.ToolTimeout(),
		Capacity:       cfg.Core.MaxBufferSize,
	})
	engine.Start(ctx)

	limiter := dispatch.NewLimiter(cfg.Notify.CallsPerSec)
	defer limiter.Close()

	var notifier *notify.Notifier
	if cfg.Notify.Enabled && cfg.Notify.WebhookURL != "" {
		dbPath := cfg.Notify.StateDBPath
		if dbPath == "" {
			dbPath = config.StatePath()
		}
		store, err := state.Open(dbPath)
		if err != nil {
			logging.Warn("state db unavailable, threads will not persist", "error", err)
		} else {
			defer store.Close()
		}
		notifier = notify.New(notify.NewClient(cfg.Notify.WebhookURL), limiter, store, cfg.Notify.Channel)
		logging.Info("notifications enabled", "channel", cfg.Notify.Channel)
	}

	reducer := reduce.New()

	var updates chan view.Update
	var renderer *render.Renderer
	if tui {
		updates = make(chan view.Update, 64)
	} else {
		renderer = render.New(os.Stdout, cfg.UI.Width)
	}

	g, gctx := errgroup.WithContext(ctx)

	// Reader: stdin lines into the extractor, extracted events into the
	// engine. Stops on EOF or signal; either way the engine gets a clean
	// Stop so everything buffered flushes.
	g.Go(func() error {
		defer engine.Stop()

		extractor := extract.New()
		lines := make(chan string, 64)
		scanErr := make(chan error, 1)
		go func() {
			scanner := bufio.NewScanner(os.Stdin)
			scanner.Buffer(make([]byte, 64*1024), maxLineSize)
			for scanner.Scan() {
				lines <- scanner.Text()
			}
			scanErr <- scanner.Err()
			close(lines)
		}()

		for {
			select {
			case <-gctx.Done():
				logging.Info("reader interrupted")
				return nil
			case line, ok := <-lines:
				if !ok {
					err := <-scanErr
					if err != nil {
						logging.Warn("stdin read error", "error", err)
					}
					logging.Info("stdin closed")
					return nil
				}
				for _, ev := range extractor.Feed(line) {
					engine.Enqueue(ev)
				}
			}
		}
	})

	// Consumer: groups into occurrences into every active sink. Runs
	// until the engine closes its output after Stop.
	g.Go(func() error {
		defer func() {
			if updates != nil {
				close(updates)
			}
		}()
		for batch := range engine.Groups() {
			for _, grp := range batch {
				occ, fresh := reducer.Reduce(grp)
				if occ == nil {
					continue
				}
				if renderer != nil {
					renderer.Render(occ, fresh)
				}
				if updates != nil {
					updates <- view.Update{Occ: occ, Fresh: fresh}
				}
				if notifier != nil && fresh {
					notifier.Observe(occ)
				}
			}
		}
		return nil
	})

	if tui {
		err := view.Run(updates)
		// The user may quit while the stream is still flowing; keep the
		// updates channel drained so the consumer never blocks on it.
		go func() {
			for range updates {
			}
		}()
		stop()
		if err != nil {
			return fmt.Errorf("tui: %w", err)
		}
	}

	if err := g.Wait(); err != nil {
		return err
	}

	if notifier != nil {
		notifier.Drain()
	}
	limiter.WaitForCompletion()
	return nil
}
