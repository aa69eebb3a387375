package cli

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/pocketcode/chatcore/internal/config"
)

// Version is the chatcore version. It is a var so build tooling can override it (for example via `-ldflags "-X .../internal/cli.Version=1.2.3"`).
var Version = "0.4.0"

// RunOptions overrides standard I/O. Nil fields use the process defaults. Overriding is useful for testing.
type RunOptions struct {
	In  io.Reader
	Out io.Writer
	Err io.Writer

	// WorkDir is where the project config and .env are searched from. Empty uses the current directory.
	WorkDir string
}

// usageError marks errors caused by malformed arguments or flags.
type usageError struct{ err error }

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

// Run runs the CLI with args (typically os.Args).
//
// It returns a recommended exit code and an error, if any:
//   - 0 -> err == nil
//   - 1 -> err != nil, but the structure of args is sound
//   - 2 -> err != nil, args parse error or misuse of flags
//
// Run has already printed the error to opts.Err (or stderr); callers may os.Exit with the code.
func Run(args []string, opts *RunOptions) (int, error) {
	argv := args
	if len(argv) > 0 {
		argv = argv[1:]
	}

	env := &cliEnv{in: os.Stdin, out: os.Stdout, errW: os.Stderr}
	if opts != nil {
		if opts.In != nil {
			env.in = opts.In
		}
		if opts.Out != nil {
			env.out = opts.Out
		}
		if opts.Err != nil {
			env.errW = opts.Err
		}
		env.workDir = opts.WorkDir
	}

	root := newRootCommand(env)
	root.SetArgs(argv)
	root.SetIn(env.in)
	root.SetOut(env.out)
	root.SetErr(env.errW)

	err := root.ExecuteContext(context.Background())
	if err == nil {
		return 0, nil
	}

	msg := strings.TrimSpace(err.Error())
	if msg == "" {
		msg = "command failed"
	}
	io.WriteString(env.errW, "Error: "+msg+"\n")

	var ue usageError
	if errors.As(err, &ue) || strings.HasPrefix(msg, "unknown command") {
		return 2, errors.New(msg)
	}
	return 1, errors.New(msg)
}

// cliEnv is the per-invocation state shared by commands.
type cliEnv struct {
	in      io.Reader
	out     io.Writer
	errW    io.Writer
	workDir string

	once sync.Once
	cfg  config.Config
	err  error
}

// config loads the configuration once per invocation. flags holds the explicitly set flags, keyed like the config file.
func (e *cliEnv) config(flags map[string]any) (config.Config, error) {
	e.once.Do(func() {
		e.cfg, e.err = config.Load(e.workDir, flags)
	})
	return e.cfg, e.err
}

// changedFlags collects flags the user set that correspond to config keys.
func changedFlags(cmd *cobra.Command, keys map[string]string) map[string]any {
	out := map[string]any{}
	for flag, key := range keys {
		f := cmd.Flags().Lookup(flag)
		if f == nil || !f.Changed {
			continue
		}
		out[key] = f.Value.String()
	}
	return out
}

func withUsage(fn cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := fn(cmd, args); err != nil {
			return usageError{err}
		}
		return nil
	}
}

func newRootCommand(env *cliEnv) *cobra.Command {
	root := &cobra.Command{
		Use:           "chatcore",
		Short:         "chatcore follows a coding-agent session in the terminal.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError{err}
	})

	root.AddCommand(
		newWatchCommand(env),
		newDiffCommand(env),
		newDescribeCommand(env),
		newHistoryCommand(env),
		newConfigCommand(env),
		newVersionCommand(env),
	)
	return root
}

// syncWriter serializes writes from the render and prompt loops.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

func writeLines(w io.Writer, lines []string) error {
	if len(lines) == 0 {
		return nil
	}
	var b bytes.Buffer
	for _, l := range lines {
		b.WriteString(l)
		b.WriteByte('\n')
	}
	_, err := w.Write(b.Bytes())
	return err
}
