package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/leafo/sitefolio/internal/sites"
)

const usage = `usage: sitefolio [flags] <command> [args]

commands:
  list                 list every unit and its state
  show <id>            print a unit body
  create <id>          create a disabled unit from the template (or -file)
  update <id>          replace a unit body from -file or stdin
  delete <id>          remove a unit
  enable <id>          enable a unit
  disable <id>         disable a unit
  history [id]         show journal entries
  reload               run the reload command
  config list          list the proxy's main config files
  config show <name>   print a main config file
  config edit <name>   replace a main config file from -file or stdin
  sync                 push every unit to the configured targets
  watch                push changes to the configured targets as they happen

sync and watch deliver to the search index and sync_command when configured;
with -reload they also run the reload command after each delivery.

flags:
`

type options struct {
	configPath string
	root       string
	delimiter  string
	journal    string
	template   string
	mainConfig string
	logLevel   string
	file       string
	reload     bool
	jsonOut    bool
}

func main() {
	var opts options

	flag.StringVar(&opts.configPath, "config", "", "path to a YAML or JSON config file")
	flag.StringVar(&opts.root, "root", "", "unit root directory (overrides config)")
	flag.StringVar(&opts.delimiter, "delimiter", "", "identifier hierarchy delimiter (overrides config)")
	flag.StringVar(&opts.journal, "journal", "", "path to the SQLite journal (overrides config)")
	flag.StringVar(&opts.template, "template", "", "template file for new units (overrides config)")
	flag.StringVar(&opts.mainConfig, "main-config-dir", "", "directory of the proxy's main config files (overrides config)")
	flag.StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn or error")
	flag.StringVar(&opts.file, "file", "", "read unit body from this file ('-' for stdin)")
	flag.BoolVar(&opts.reload, "reload", false, "run the reload command after a successful change")
	flag.BoolVar(&opts.jsonOut, "json", false, "print results as JSON")
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}

	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel})
	logger := slog.New(handler)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, opts, flag.Args(), logger); err != nil {
		logger.Error("Command failed", "command", flag.Arg(0), "error", err)
		os.Exit(1)
	}
}

func loadConfig(opts options) (*sites.Config, error) {
	cfg := sites.NewDefaultConfig()
	if opts.configPath != "" {
		loaded, err := sites.NewConfigFromFile(opts.configPath)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}

	override := &sites.ConfigOverride{}
	if opts.root != "" {
		override.Root = &opts.root
	}
	if opts.delimiter != "" {
		override.Delimiter = &opts.delimiter
	}
	if opts.journal != "" {
		override.JournalPath = &opts.journal
	}
	if opts.template != "" {
		override.TemplatePath = &opts.template
	}
	if opts.mainConfig != "" {
		override.MainConfigDir = &opts.mainConfig
	}
	if opts.logLevel != "" {
		override.LogLevel = &opts.logLevel
	}
	if err := cfg.Merge(override); err != nil {
		return nil, err
	}

	absRoot, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("resolve root %s: %w", cfg.Root, err)
	}
	cfg.Root = absRoot
	return cfg, nil
}

func run(ctx context.Context, cfg *sites.Config, opts options, args []string, logger *slog.Logger) error {
	codec, err := cfg.Codec()
	if err != nil {
		return err
	}

	manager := sites.NewManager(sites.NewOSFileSystem(), cfg.Root, codec, logger)

	var journal *sites.Journal
	if cfg.JournalPath != "" {
		journal, err = sites.OpenJournal(ctx, cfg.JournalPath)
		if err != nil {
			return err
		}
		defer journal.Close()
		manager.SetRecorder(journal)
		logger.Debug("Opened journal", "path", cfg.JournalPath)
	}

	command, rest := args[0], args[1:]
	needID := func() (string, error) {
		if len(rest) != 1 {
			return "", fmt.Errorf("%s expects exactly one identifier", command)
		}
		return rest[0], nil
	}

	switch command {
	case "list":
		inv, err := manager.Inventory(ctx)
		if err != nil {
			return err
		}
		return printInventory(os.Stdout, inv, opts.jsonOut)

	case "show":
		id, err := needID()
		if err != nil {
			return err
		}
		rev, err := manager.Read(ctx, id)
		if err != nil {
			return err
		}
		if opts.jsonOut {
			return writeJSON(os.Stdout, rev)
		}
		fmt.Fprint(os.Stdout, rev.Content)
		return nil

	case "create":
		id, err := needID()
		if err != nil {
			return err
		}
		var unit sites.Unit
		if opts.file != "" {
			body, err := readBody(opts.file)
			if err != nil {
				return err
			}
			unit, err = manager.Create(ctx, id, body)
			if err != nil {
				return err
			}
		} else {
			tmpl, err := sites.LoadTextTemplate(cfg.TemplatePath, codec)
			if err != nil {
				return err
			}
			unit, err = manager.CreateFromTemplate(ctx, id, tmpl)
			if err != nil {
				return err
			}
		}
		return finishMutation(ctx, cfg, opts, unit)

	case "update":
		id, err := needID()
		if err != nil {
			return err
		}
		source := opts.file
		if source == "" {
			source = "-"
		}
		body, err := readBody(source)
		if err != nil {
			return err
		}
		if err := manager.Update(ctx, id, body); err != nil {
			return err
		}
		rev, err := manager.Read(ctx, id)
		if err != nil {
			return err
		}
		return finishMutation(ctx, cfg, opts, rev.Unit)

	case "delete":
		id, err := needID()
		if err != nil {
			return err
		}
		if err := manager.Delete(ctx, id); err != nil {
			return err
		}
		return finishMutation(ctx, cfg, opts, sites.Unit{Identifier: id})

	case "enable", "disable":
		id, err := needID()
		if err != nil {
			return err
		}
		unit, err := manager.SetEnabled(ctx, id, command == "enable")
		if err != nil {
			return err
		}
		return finishMutation(ctx, cfg, opts, unit)

	case "history":
		if journal == nil {
			return errors.New("history needs a journal (set -journal or journal in the config file)")
		}
		var events []sites.Event
		if len(rest) > 0 {
			id, err := codec.Canonical(rest[0])
			if err != nil {
				return err
			}
			events, err = journal.History(ctx, id)
			if err != nil {
				return err
			}
		} else {
			events, err = journal.Recent(ctx, 50)
			if err != nil {
				return err
			}
		}
		return printEvents(os.Stdout, events, opts.jsonOut)

	case "reload":
		ok := reload(ctx, cfg, logger)
		fmt.Fprintf(os.Stdout, "reload: %s\n", okString(ok))
		if !ok {
			return errors.New("reload command failed")
		}
		return nil

	case "sync", "watch":
		syncer, err := newSyncer(ctx, cfg, manager, opts.reload, logger)
		if err != nil {
			return err
		}
		if command == "sync" {
			summary, err := syncer.Synchronize(ctx)
			if err != nil {
				return err
			}
			if opts.jsonOut {
				return writeJSON(os.Stdout, summary)
			}
			fmt.Fprintf(os.Stdout, "synchronized %d units (%d enabled, %d removed)\n", summary.Units, summary.Enabled, summary.Removed)
			return nil
		}
		if err := syncer.WatchAndSync(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil

	case "config":
		return runMainConfig(ctx, sites.NewMainConfig(sites.NewOSFileSystem(), cfg.MainConfigDir, codec, logger), opts, rest)

	default:
		flag.Usage()
		return fmt.Errorf("unknown command %q", command)
	}
}

func newSyncer(ctx context.Context, cfg *sites.Config, manager *sites.Manager, reload bool, logger *slog.Logger) (*sites.Syncer, error) {
	syncer := sites.NewSyncer(manager, logger)

	index, err := sites.NewMeilisearchTarget(ctx, cfg.Meilisearch, logger)
	if err != nil {
		logger.Warn("Failed to initialize Meilisearch", "error", err)
	} else if index != nil {
		syncer.RegisterTarget(index)
	}

	for _, trigger := range shellTargets(cfg, reload) {
		logger.Debug("Registered shell target", "command", trigger.Command())
		syncer.RegisterTarget(trigger)
	}
	return syncer, nil
}

// shellTargets returns the commands sync and watch deliver to. The reload
// command runs last and only when asked for.
func shellTargets(cfg *sites.Config, reload bool) []*sites.ShellTrigger {
	var targets []*sites.ShellTrigger
	if trigger := sites.NewShellTrigger(cfg.SyncCommand); trigger != nil {
		targets = append(targets, trigger)
	}
	if reload {
		if trigger := sites.NewShellTrigger(cfg.ReloadCommand); trigger != nil {
			targets = append(targets, trigger)
		}
	}
	return targets
}

func runMainConfig(ctx context.Context, store *sites.MainConfig, opts options, args []string) error {
	if len(args) == 0 {
		return errors.New("config expects list, show <name> or edit <name>")
	}
	sub, rest := args[0], args[1:]
	if sub == "list" {
		names, err := store.Names(ctx)
		if err != nil {
			return err
		}
		if opts.jsonOut {
			return writeJSON(os.Stdout, names)
		}
		for _, name := range names {
			fmt.Fprintln(os.Stdout, name)
		}
		return nil
	}

	if len(rest) != 1 {
		return fmt.Errorf("config %s expects exactly one file name", sub)
	}
	name := rest[0]
	switch sub {
	case "show":
		body, err := store.Read(ctx, name)
		if err != nil {
			return err
		}
		fmt.Fprint(os.Stdout, body)
		return nil
	case "edit":
		source := opts.file
		if source == "" {
			source = "-"
		}
		body, err := readBody(source)
		if err != nil {
			return err
		}
		return store.Write(ctx, name, body)
	default:
		return fmt.Errorf("unknown config command %q", sub)
	}
}

func finishMutation(ctx context.Context, cfg *sites.Config, opts options, unit sites.Unit) error {
	result := struct {
		Unit     sites.Unit `json:"unit"`
		Reloaded *bool      `json:"reloaded,omitempty"`
	}{Unit: unit}

	if opts.reload {
		ok := reload(ctx, cfg, slog.Default())
		result.Reloaded = &ok
	}

	if opts.jsonOut {
		return writeJSON(os.Stdout, result)
	}
	line := unit.Identifier
	if unit.File != "" {
		line += "\t" + unit.State.String() + "\t" + unit.File
	}
	if result.Reloaded != nil {
		line += "\treload: " + okString(*result.Reloaded)
	}
	fmt.Fprintln(os.Stdout, line)
	return nil
}

func reload(ctx context.Context, cfg *sites.Config, logger *slog.Logger) bool {
	trigger := sites.NewShellTrigger(cfg.ReloadCommand)
	if trigger == nil {
		logger.Warn("No reload command configured")
		return false
	}
	if err := trigger.Reload(ctx); err != nil {
		logger.Error("Reload failed", "command", trigger.Command(), "error", err)
		return false
	}
	logger.Info("Reloaded", "command", trigger.Command())
	return true
}

func readBody(source string) (string, error) {
	if source == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(source)
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}
	return string(data), nil
}

func printInventory(w io.Writer, inv sites.Inventory, asJSON bool) error {
	if asJSON {
		return writeJSON(w, inv.Units)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "IDENTIFIER\tSTATE\tMODIFIED\tFILE")
	for _, u := range inv.Units {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", u.Identifier, u.State, u.LastModified.Format(time.DateTime), u.File)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	for _, file := range inv.Shadowed {
		fmt.Fprintf(w, "shadowed: %s\n", file)
	}
	for _, file := range inv.Skipped {
		fmt.Fprintf(w, "skipped: %s\n", file)
	}
	return nil
}

func printEvents(w io.Writer, events []sites.Event, asJSON bool) error {
	if asJSON {
		return writeJSON(w, events)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RECORDED\tACTION\tIDENTIFIER\tSTATE\tFILE")
	for _, e := range events {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", e.RecordedAt.Local().Format(time.DateTime), e.Action, e.Identifier, e.State, e.File)
	}
	return tw.Flush()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func okString(ok bool) string {
	if ok {
		return "ok"
	}
	return "failed"
}
