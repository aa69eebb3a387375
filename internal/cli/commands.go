package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pocketcode/chatcore/internal/archive"
	"github.com/pocketcode/chatcore/internal/chatformatter"
	"github.com/pocketcode/chatcore/internal/config"
	"github.com/pocketcode/chatcore/internal/conversation"
	"github.com/pocketcode/chatcore/internal/diff"
	"github.com/pocketcode/chatcore/internal/tiplist"
	"github.com/pocketcode/chatcore/internal/tooldesc"
)

func newVersionCommand(env *cliEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the chatcore version",
		Args:  withUsage(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintf(env.out, "chatcore %s\n", Version)
			return err
		},
	}
}

func newConfigCommand(env *cliEnv) *cobra.Command {
	var sources bool
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Args:  withUsage(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := env.config(changedFlags(cmd, serverFlags))
			if err != nil {
				return err
			}
			if err := config.WriteJSON(env.out, cfg); err != nil {
				return err
			}
			if !sources {
				return nil
			}
			keys := make([]string, 0, len(cfg.Providence))
			for k := range cfg.Providence {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Fprintf(env.out, "%s: %s\n", k, cfg.Providence[k])
			}
			return nil
		},
	}
	addServerFlags(cmd)
	cmd.Flags().BoolVar(&sources, "sources", false, "also print which source set each key")
	return cmd
}

func newDescribeCommand(env *cliEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "describe <tool> [json-args]",
		Short: "Show the icon, summary and collapsed label a tool call is displayed with",
		Args:  withUsage(cobra.RangeArgs(1, 2)),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := env.config(nil)
			if err != nil {
				return err
			}
			if err := loadToolDescriptors(cfg); err != nil {
				return err
			}
			var input []byte
			if len(args) == 2 {
				input = []byte(args[1])
			}
			d := tooldesc.Describe(args[0], input)
			_, err = fmt.Fprintf(env.out, "icon: %s\nsummary: %s\nlabel: %s\n", d.Icon, d.Summary, tooldesc.Compact(args[0], input))
			return err
		},
	}
}

func newDiffCommand(env *cliEnv) *cobra.Command {
	var oldPath, newPath string
	var statOnly bool
	cmd := &cobra.Command{
		Use:   "diff [file]",
		Short: "Summarize a unified diff, or diff two files",
		Long: `Read a unified diff from file (or stdin) and print it with new-file line numbers and a +added -removed summary.

With --old and --new, diff the two files instead.`,
		Args: withUsage(cobra.MaximumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			if (oldPath == "") != (newPath == "") {
				return usageError{errors.New("--old and --new must be given together")}
			}
			if oldPath != "" {
				if len(args) > 0 {
					return usageError{errors.New("a diff file cannot be combined with --old/--new")}
				}
				return diffFiles(env.out, oldPath, newPath, statOnly)
			}

			var text []byte
			var err error
			if len(args) == 1 && args[0] != "-" {
				text, err = os.ReadFile(args[0])
			} else {
				text, err = io.ReadAll(env.in)
			}
			if err != nil {
				return err
			}
			return printDiff(env.out, string(text), statOnly)
		},
	}
	cmd.Flags().StringVar(&oldPath, "old", "", "original file")
	cmd.Flags().StringVar(&newPath, "new", "", "changed file")
	cmd.Flags().BoolVar(&statOnly, "stat", false, "print only the summary")
	return cmd
}

func diffFiles(w io.Writer, oldPath, newPath string, statOnly bool) error {
	oldText, err := os.ReadFile(oldPath)
	if err != nil {
		return err
	}
	newText, err := os.ReadFile(newPath)
	if err != nil {
		return err
	}
	d := diff.Compute(string(oldText), string(newText))
	if !d.HasChanges() {
		_, err := fmt.Fprintln(w, "no changes")
		return err
	}
	if statOnly {
		_, err := fmt.Fprintln(w, d.Stats())
		return err
	}
	return printDiff(w, d.Unified(false, oldPath, newPath, 3), false)
}

// printDiff prints each hunk with new-file line numbers, then the summary.
func printDiff(w io.Writer, text string, statOnly bool) error {
	stats, ok := diff.Summarize(text)
	if !ok {
		_, err := fmt.Fprintln(w, "no changes")
		return err
	}
	if statOnly {
		_, err := fmt.Fprintln(w, stats)
		return err
	}

	var b strings.Builder
	for _, h := range diff.GroupByHunk(text) {
		for _, ln := range h.Lines {
			num := ""
			if ln.HasNumber {
				num = strconv.Itoa(ln.Number)
			}
			switch ln.Type {
			case diff.LineHeader:
				if h.File != "" {
					fmt.Fprintf(&b, "%s %s\n", h.File, ln.Content)
				} else {
					fmt.Fprintf(&b, "%s\n", ln.Content)
				}
			case diff.LineAdded:
				fmt.Fprintf(&b, "%5s +%s\n", num, ln.Content)
			case diff.LineRemoved:
				fmt.Fprintf(&b, "%5s -%s\n", num, ln.Content)
			default:
				fmt.Fprintf(&b, "%5s  %s\n", num, ln.Content)
			}
		}
	}
	fmt.Fprintln(&b, stats)
	_, err := io.WriteString(w, b.String())
	return err
}

func newHistoryCommand(env *cliEnv) *cobra.Command {
	var branch string
	var width int
	cmd := &cobra.Command{
		Use:   "history <session>",
		Short: "Print a session's archived messages",
		Args:  withUsage(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := env.config(changedFlags(cmd, serverFlags))
			if err != nil {
				return err
			}
			if cfg.ArchiveDir == "" {
				return errors.New("history: no archive configured (set archive_dir or --archive)")
			}
			if err := loadToolDescriptors(cfg); err != nil {
				return err
			}
			arc, err := archive.Open(config.ExpandPath(cfg.ArchiveDir))
			if err != nil {
				return err
			}
			defer arc.Close()
			return printHistory(env.out, arc, args[0], branch, width)
		},
	}
	addServerFlags(cmd)
	cmd.Flags().StringVar(&branch, "branch", "", "branch to print; empty lists branches and prints "+conversation.RootBranchID)
	cmd.Flags().IntVar(&width, "width", 0, "wrap width; 0 disables wrapping")
	return cmd
}

func printHistory(w io.Writer, arc *archive.Archive, sessionID, branch string, width int) error {
	if branch == "" {
		branches, err := arc.Branches(sessionID)
		if err != nil {
			return err
		}
		if len(branches) == 0 {
			return fmt.Errorf("history: nothing archived for session %s", sessionID)
		}
		if len(branches) > 1 {
			fmt.Fprintf(w, "branches: %s\n", strings.Join(branches, ", "))
		}
		branch = conversation.RootBranchID
	}
	msgs, err := arc.LoadBranch(sessionID, branch)
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		return fmt.Errorf("history: branch %s of session %s is empty", branch, sessionID)
	}
	tr := chatformatter.NewTracker(chatformatter.New(chatformatter.Config{PlainText: true}), width)
	return writeLines(w, tr.Diff(conversation.Snapshot{SessionID: sessionID, ActiveBranchID: branch, Messages: tiplist.Of(msgs...)}))
}
