package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/c2h5oh/datasize"

	adblock "github.com/haukened/rr-adblock"
	"github.com/haukened/rr-adblock/internal/adblock/common/clock"
	"github.com/haukened/rr-adblock/internal/adblock/common/log"
	"github.com/haukened/rr-adblock/internal/adblock/config"
	"github.com/haukened/rr-adblock/internal/adblock/domain"
	"github.com/haukened/rr-adblock/internal/adblock/repos/codec"
	"github.com/haukened/rr-adblock/internal/adblock/repos/filterlist/parsers"
	"github.com/haukened/rr-adblock/internal/adblock/repos/index"
	"github.com/haukened/rr-adblock/internal/adblock/repos/index/bloom"
	"github.com/haukened/rr-adblock/internal/adblock/repos/snapshot"
	"github.com/haukened/rr-adblock/internal/adblock/repos/snapshot/bolt"
)

const (
	// Version information
	version = "0.1.0-dev"
	appName = "rr-adblock"
)

// errUsage marks command line mistakes; run exits with status 2 for them.
const errUsage errors.Error = "usage"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func usage(w io.Writer) {
	fmt.Fprintf(w, `Usage:
  %[1]s compile [-o out.dat] [-store db -name n] list.txt...
  %[1]s match (-dat file.dat | -rules list.txt | -store db -name n) [-tag t,...] [-resources dir] [-third-party=true|false] url [source [type]]
  %[1]s inspect [-store db] [file.dat...]
  %[1]s version

Configuration is read from ADBLOCK_* environment variables.
`, appName)
}

// run executes one command and returns the process exit status.
func run(args []string, stdout, stderr io.Writer) int {
	// Load configuration from environment
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(stderr, "Configuration error: %v\n", err)
		return 1
	}

	// Configure global logging
	err = log.Configure(cfg.Env, cfg.Log.Level)
	if err != nil {
		fmt.Fprintf(stderr, "Logging configuration error: %v\n", err)
		return 1
	}

	if len(args) == 0 {
		usage(stderr)
		return 2
	}

	switch args[0] {
	case "compile":
		err = runCompile(cfg, args[1:], stdout, stderr)
	case "match":
		err = runMatch(cfg, args[1:], stdout, stderr)
	case "inspect":
		err = runInspect(cfg, args[1:], stdout, stderr)
	case "version":
		fmt.Fprintf(stdout, "%s %s\n", appName, version)
	case "help", "-h", "-help", "--help":
		usage(stdout)
	default:
		fmt.Fprintf(stderr, "unknown command %q\n", args[0])
		usage(stderr)
		return 2
	}

	switch {
	case err == nil, errors.Is(err, flag.ErrHelp):
		return 0
	case errors.Is(err, errUsage):
		fmt.Fprintf(stderr, "%s: %v\n", appName, err)
		return 2
	default:
		log.Error(map[string]any{"command": args[0], "error": err.Error()}, "command_failed")
		fmt.Fprintf(stderr, "%s: %v\n", appName, err)
		return 1
	}
}

// parseFlags treats every flag error other than -h as a usage mistake.
func parseFlags(fs *flag.FlagSet, args []string) error {
	err := fs.Parse(args)
	if err == nil || errors.Is(err, flag.ErrHelp) {
		return err
	}
	return fmt.Errorf("%w: %w", errUsage, err)
}

func buildOptions(cfg *config.AppConfig) index.BuildOptions {
	return index.BuildOptions{Bloom: bloom.NewFactory(), FPRate: cfg.Engine.Bloom.FPRate}
}

// parseFile parses one filter list from disk.
func parseFile(path string, logger log.Logger) (res parsers.ParseResult, err error) {
	f, err := os.Open(path)
	if err != nil {
		return res, err
	}
	defer func() { err = errors.WithDeferred(err, f.Close()) }()

	return parsers.ParseFilterList(f, filepath.Base(path), logger), nil
}

// compileLists parses every list in order and builds one index from the
// concatenated rules.
func compileLists(cfg *config.AppConfig, paths []string) (*index.Index, error) {
	logger := log.With(log.GetLogger(), map[string]any{"command": "compile"})
	var rules []domain.Rule
	for _, p := range paths {
		res, err := parseFile(p, logger)
		if err != nil {
			return nil, errors.Annotate(err, "parsing %q: %w", p)
		}
		rules = append(rules, res.Rules...)
		logger.Info(map[string]any{
			"list":     p,
			"rules":    len(res.Rules),
			"skipped":  len(res.Skipped),
			"cosmetic": res.Cosmetic,
		}, "filter_list_parsed")
	}
	return index.Build(rules, buildOptions(cfg)), nil
}

// withStore opens the snapshot store at path for the duration of f.
func withStore(path string, f func(snapshot.Store) error) (err error) {
	store, err := bolt.New(path, clock.RealClock{})
	if err != nil {
		return err
	}
	defer func() { err = errors.WithDeferred(err, store.Close()) }()

	return f(store)
}

func runCompile(cfg *config.AppConfig, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("compile", flag.ContinueOnError)
	fs.SetOutput(stderr)
	out := fs.String("o", "", "write the compiled blob to `file`")
	storePath := fs.String("store", cfg.Snapshot.DB, "save the blob in the snapshot `db`")
	name := fs.String("name", cfg.Snapshot.Name, "snapshot `name` inside the store")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	lists := fs.Args()
	if len(lists) == 0 {
		lists = cfg.Filters.Lists
	}
	if len(lists) == 0 {
		return fmt.Errorf("%w: compile needs at least one filter list", errUsage)
	}
	if *out == "" && *storePath == "" {
		return fmt.Errorf("%w: compile needs -o or -store", errUsage)
	}

	idx, err := compileLists(cfg, lists)
	if err != nil {
		return err
	}
	blob := codec.Encode(idx)

	if *out != "" {
		if err = codec.WriteFile(*out, idx); err != nil {
			return err
		}
	}
	if *storePath != "" {
		err = withStore(*storePath, func(s snapshot.Store) error {
			info, serr := s.Save(*name, blob)
			if serr != nil {
				return serr
			}
			log.Info(map[string]any{
				"store":   *storePath,
				"name":    info.Name,
				"version": info.Version,
			}, "snapshot_saved")
			return nil
		})
		if err != nil {
			return err
		}
	}

	st := idx.Stats()
	fmt.Fprintf(stdout, "rules=%d host_keys=%d shortcuts=%d generic=%d removed=%d size=%s\n",
		st.Rules, st.HostKeys, st.ShortcutKeys, st.Generic, st.Removed, datasize.ByteSize(len(blob)).HR())
	return nil
}

// partyFlag is an optional boolean flag: unset means "derive from URLs".
type partyFlag struct {
	set   bool
	value bool
}

func (p *partyFlag) String() string {
	if !p.set {
		return ""
	}
	return fmt.Sprint(p.value)
}

func (p *partyFlag) Set(s string) error {
	switch strings.ToLower(s) {
	case "true", "1", "3p", "third":
		p.value = true
	case "false", "0", "1p", "first":
		p.value = false
	default:
		return fmt.Errorf("invalid party %q", s)
	}
	p.set = true
	return nil
}

func (p *partyFlag) IsBoolFlag() bool { return true }

// openEngine builds an engine from exactly one of a blob file, a filter
// list or a stored snapshot.
func openEngine(cfg *config.AppConfig, datPath, rulesPath, storePath, name string) (*adblock.Engine, error) {
	logger := log.With(log.GetLogger(), map[string]any{"command": "match"})
	opts := []adblock.Option{adblock.WithConfig(cfg), adblock.WithLogger(logger)}

	n := 0
	for _, s := range []string{datPath, rulesPath, storePath} {
		if s != "" {
			n++
		}
	}
	if n != 1 {
		return nil, fmt.Errorf("%w: match needs exactly one of -dat, -rules or -store", errUsage)
	}

	switch {
	case rulesPath != "":
		data, err := os.ReadFile(rulesPath)
		if err != nil {
			return nil, err
		}
		return adblock.CreateEngine(string(data), opts...), nil
	case datPath != "":
		e := adblock.CreateDefaultEngine(opts...)
		ok, err := e.DeserializeFile(datPath)
		if err == nil && !ok {
			err = fmt.Errorf("%s: not a usable rule blob", datPath)
		}
		if err != nil {
			e.Destroy()
			return nil, err
		}
		return e, nil
	default:
		e := adblock.CreateDefaultEngine(opts...)
		err := withStore(storePath, func(s snapshot.Store) error {
			blob, _, lerr := s.Load(name)
			if lerr != nil {
				return errors.Annotate(lerr, "loading snapshot %q: %w", name)
			}
			ok, derr := e.Deserialize(blob)
			if derr == nil && !ok {
				derr = fmt.Errorf("snapshot %q: not a usable rule blob", name)
			}
			return derr
		})
		if err != nil {
			e.Destroy()
			return nil, err
		}
		return e, nil
	}
}

func runMatch(cfg *config.AppConfig, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("match", flag.ContinueOnError)
	fs.SetOutput(stderr)
	datPath := fs.String("dat", "", "compiled blob `file`")
	rulesPath := fs.String("rules", "", "filter list `file` compiled on the fly")
	storePath := fs.String("store", "", "snapshot `db` holding the blob")
	name := fs.String("name", cfg.Snapshot.Name, "snapshot `name` inside the store")
	tags := fs.String("tag", "", "comma separated `tags` to enable")
	resDir := fs.String("resources", cfg.Resources.Dir, "redirect resources `dir`")
	var party partyFlag
	fs.Var(&party, "third-party", "force the party relation instead of deriving it")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	rest := fs.Args()
	if len(rest) < 1 || len(rest) > 3 {
		return fmt.Errorf("%w: match takes url [source [type]]", errUsage)
	}
	for len(rest) < 3 {
		rest = append(rest, "")
	}

	e, err := openEngine(cfg, *datPath, *rulesPath, *storePath, *name)
	if err != nil {
		return err
	}
	defer e.Destroy()

	for _, t := range strings.Split(*tags, ",") {
		if t = strings.TrimSpace(t); t != "" {
			if err = e.EnableTag(t); err != nil {
				return err
			}
		}
	}
	if *resDir != "" {
		if err = e.LoadResourceDir(*resDir); err != nil {
			return err
		}
	}

	var r adblock.MatchResult
	if party.set {
		r, err = e.MatchWithHistory(rest[0], rest[1], rest[2], &party.value, adblock.MatchResult{})
	} else {
		r, err = e.Match(rest[0], rest[1], rest[2])
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(stdout, "matched=%t exception=%t important=%t bits=%d\n", r.Matched, r.Exception, r.Important, r.Bits())
	if r.Filter != "" {
		fmt.Fprintf(stdout, "filter=%s\n", r.Filter)
	}
	if r.Redirect != "" {
		fmt.Fprintf(stdout, "redirect=%s\n", r.Redirect)
	}
	return nil
}

func runInspect(cfg *config.AppConfig, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("inspect", flag.ContinueOnError)
	fs.SetOutput(stderr)
	storePath := fs.String("store", "", "list the snapshots in `db`")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if *storePath == "" && fs.NArg() == 0 {
		return fmt.Errorf("%w: inspect needs a blob file or -store", errUsage)
	}

	if *storePath != "" {
		err := withStore(*storePath, func(s snapshot.Store) error {
			infos, lerr := s.List()
			if lerr != nil {
				return lerr
			}
			tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tVERSION\tUPDATED\tSIZE")
			for _, info := range infos {
				fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", info.Name, info.Version,
					info.Updated.Format(time.RFC3339), datasize.ByteSize(info.Size).HR())
			}
			return tw.Flush()
		})
		if err != nil {
			return err
		}
	}

	for _, path := range fs.Args() {
		if err := inspectFile(cfg, path, stdout); err != nil {
			return err
		}
	}
	return nil
}

func inspectFile(cfg *config.AppConfig, path string, stdout io.Writer) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	h, err := codec.ReadHeader(data)
	if err != nil {
		return errors.Annotate(err, "inspecting %q: %w", path)
	}
	idx, err := codec.Decode(data, index.BuildOptions{})
	if err != nil {
		return errors.Annotate(err, "inspecting %q: %w", path)
	}

	st := idx.Stats()
	keys := uint64(st.HostKeys + st.ShortcutKeys)
	m, k := bloom.Params(keys, cfg.Engine.Bloom.FPRate)
	fmt.Fprintf(stdout, "%s: version=%d size=%s\n", path, h.Version, datasize.ByteSize(len(data)).HR())
	fmt.Fprintf(stdout, "  rules=%d host_keys=%d shortcuts=%d generic=%d\n", st.Rules, st.HostKeys, st.ShortcutKeys, st.Generic)
	fmt.Fprintf(stdout, "  bloom: keys=%d bits=%d hashes=%d fp_rate=%g\n", keys, m, k, cfg.Engine.Bloom.FPRate)
	return nil
}
