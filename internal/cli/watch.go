package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"
	"golang.org/x/time/rate"

	"github.com/pocketcode/chatcore/internal/archive"
	"github.com/pocketcode/chatcore/internal/chatformatter"
	"github.com/pocketcode/chatcore/internal/config"
	"github.com/pocketcode/chatcore/internal/conversation"
	"github.com/pocketcode/chatcore/internal/metrics"
	"github.com/pocketcode/chatcore/internal/tooldesc"
	"github.com/pocketcode/chatcore/internal/transport"
)

// serverFlags maps shared flag names to config keys.
var serverFlags = map[string]string{
	"server":    "server_url",
	"directory": "directory",
	"transport": "transport",
	"archive":   "archive_dir",
	"log-level": "log_level",
}

func addServerFlags(cmd *cobra.Command) {
	cmd.Flags().String("server", "", "server base URL (config: server_url)")
	cmd.Flags().String("directory", "", "project directory sent to the server (config: directory)")
	cmd.Flags().String("transport", "", "event transport: sse or websocket (config: transport)")
	cmd.Flags().String("archive", "", "archive directory (config: archive_dir)")
	cmd.Flags().String("log-level", "", "log level (config: log_level)")
}

type watchOptions struct {
	width          int
	plain          bool
	maxReconnects  int
	metricsAddr    string
	reconnectDelay time.Duration
}

func newWatchCommand(env *cliEnv) *cobra.Command {
	var o watchOptions
	cmd := &cobra.Command{
		Use:   "watch <session>",
		Short: "Follow a session's events and answer permission prompts",
		Long: `Follow a session's event stream, printing each part once it stops changing.

When the agent asks for permission, answer on stdin:
  y         allow once
  a [scope] always allow (scope defaults to the permission type, e.g. "bash" or "bash:git *")
  n         deny`,
		Args: withUsage(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := changedFlags(cmd, serverFlags)
			if cmd.Flags().Changed("metrics-addr") {
				flags["metrics_addr"] = o.metricsAddr
			}
			if cmd.Flags().Changed("reconnect-delay") {
				flags["reconnect_delay"] = o.reconnectDelay.String()
			}
			cfg, err := env.config(flags)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return runWatch(ctx, env, cfg, args[0], o)
		},
	}
	addServerFlags(cmd)
	cmd.Flags().IntVar(&o.width, "width", 0, "wrap width; 0 uses the terminal width")
	cmd.Flags().BoolVar(&o.plain, "plain", false, "disable colors")
	cmd.Flags().IntVar(&o.maxReconnects, "max-reconnects", -1, "give up after this many consecutive failed subscriptions; -1 retries forever")
	cmd.Flags().StringVar(&o.metricsAddr, "metrics-addr", "", "serve /metrics on this address (config: metrics_addr)")
	cmd.Flags().DurationVar(&o.reconnectDelay, "reconnect-delay", 0, "wait between re-subscriptions (config: reconnect_delay)")
	return cmd
}

// terminalWidth returns w's width when it is a terminal.
func terminalWidth(w io.Writer) (int, bool) {
	f, ok := w.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return 0, false
	}
	width, _, err := term.GetSize(int(f.Fd()))
	if err != nil {
		return 0, true
	}
	return width, true
}

// loadToolDescriptors extends the default descriptor table from cfg.ToolDescriptors.
func loadToolDescriptors(cfg config.Config) error {
	if cfg.ToolDescriptors == "" {
		return nil
	}
	return tooldesc.Default().LoadFile(config.ExpandPath(cfg.ToolDescriptors))
}

func eventSource(cfg config.Config) transport.Source {
	if cfg.Transport == config.TransportWebSocket {
		return &transport.WebSocketSource{URL: strings.TrimRight(cfg.ServerURL, "/") + "/global/event", Directory: cfg.Directory}
	}
	return &transport.SSESource{BaseURL: cfg.ServerURL, Directory: cfg.Directory}
}

// httpBase returns the server URL with a ws scheme replaced by its http equivalent.
func httpBase(serverURL string) string {
	serverURL = strings.Replace(serverURL, "ws://", "http://", 1)
	return strings.Replace(serverURL, "wss://", "https://", 1)
}

func runWatch(ctx context.Context, env *cliEnv, cfg config.Config, sessionID string, o watchOptions) error {
	log, closeLog, err := config.NewLogger(cfg, env.errW)
	if err != nil {
		return err
	}
	defer closeLog()

	if err := loadToolDescriptors(cfg); err != nil {
		return err
	}

	m := metrics.New()
	opts := conversation.Options{
		Logger:  log,
		Metrics: m,
		Sender:  &transport.HTTPDecisionSender{BaseURL: httpBase(cfg.ServerURL), Directory: cfg.Directory},
		Rules:   cfg.PermissionRules,
	}
	if cfg.ArchiveDir != "" {
		arc, err := archive.Open(config.ExpandPath(cfg.ArchiveDir))
		if err != nil {
			return err
		}
		defer arc.Close()
		opts.Archive = arc
	}
	store := conversation.New(sessionID, opts)
	defer store.Close()

	_, tty := terminalWidth(env.out)
	width := func() int {
		if o.width > 0 {
			return o.width
		}
		w, _ := terminalWidth(env.out)
		return w
	}
	out := &syncWriter{w: env.out}
	f := chatformatter.New(chatformatter.Config{PlainText: o.plain || !tty})

	var bo backoff.BackOff = backoff.NewConstantBackOff(time.Duration(cfg.ReconnectDelay))
	if o.maxReconnects >= 0 {
		bo = backoff.WithMaxRetries(bo, uint64(o.maxReconnects))
	}
	client := &transport.Client{
		Source:    eventSource(cfg),
		Sink:      store,
		SessionID: sessionID,
		Backoff:   bo,
		Logger:    log,
		Metrics:   m,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := client.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		return render(gctx, store, chatformatter.NewTracker(f, width()), width, cfg.RenderRate, out)
	})
	g.Go(func() error {
		return answerPrompts(gctx, store, env.in, out, log)
	})
	if cfg.MetricsAddr != "" {
		g.Go(func() error {
			return serveMetrics(gctx, cfg.MetricsAddr, m, log)
		})
	}

	return g.Wait()
}

// render prints the new lines of the latest snapshot, at most rps times per second. Snapshots that arrive between two renders are coalesced. The wrap width
// is re-read before each render so terminal resizes apply to new lines. After ctx is done it prints whatever is still unprinted.
func render(ctx context.Context, store *conversation.Store, tr *chatformatter.Tracker, width func() int, rps float64, out io.Writer) error {
	limiter := rate.NewLimiter(rate.Limit(rps), 1)
	for range store.Subscribe(ctx) {
		if err := limiter.Wait(ctx); err != nil {
			break
		}
		tr.SetWidth(width())
		if err := writeLines(out, tr.Diff(store.Latest())); err != nil {
			return err
		}
	}
	return writeLines(out, tr.Diff(store.Latest()))
}

// answerPrompts applies y/a/n answers from in to the oldest open permission. It returns nil at EOF so that watching continues without a prompt.
func answerPrompts(ctx context.Context, store *conversation.Store, in io.Reader, out io.Writer, log *slog.Logger) error {
	lines := make(chan string)
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
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if err := answer(ctx, store, line); err != nil {
				log.Warn("permission answer", "err", err)
				fmt.Fprintf(out, "Error: %v\n", err)
			}
		}
	}
}

var errNoPermission = errors.New("no permission is waiting for an answer")

// answer applies one prompt line. Empty lines are ignored.
func answer(ctx context.Context, store *conversation.Store, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	open := store.Latest().Permissions
	if len(open) == 0 {
		return errNoPermission
	}
	p := open[0]
	switch strings.ToLower(fields[0]) {
	case "y", "yes":
		return store.ApproveTool(ctx, p.Key())
	case "a", "always":
		scope := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), fields[0]))
		return store.AlwaysAllow(ctx, p.Key(), scope)
	case "n", "no":
		return store.DenyTool(ctx, p.Key())
	default:
		return fmt.Errorf("answer y, a or n for %q", p.DisplayTitle())
	}
}

func serveMetrics(ctx context.Context, addr string, m *metrics.Metrics, log *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	log.Info("serving metrics", "addr", addr)

	select {
	case err := <-errc:
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	}
}
