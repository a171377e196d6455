/*
DESCRIPTION
  subsadmin is a program for editing subscriptions: listing them,
  resolving duplicate queries, merging, separating, resetting and
  retrying queries, and moving subscriptions between installations.

LICENSE
  Copyright (C) 2026 the Australian Ocean Lab (AusOcean)

  This is free software: you can redistribute it and/or modify it
  under the terms of the GNU General Public License as published by
  the Free Software Foundation, either version 3 of the License, or
  (at your option) any later version.

  It is distributed in the hope that it will be useful,
  but WITHOUT ANY WARRANTY; without even the implied warranty of
  MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
  GNU General Public License for more details.

  You should have received a copy of the GNU General Public License
  in gpl.txt. If not, see http://www.gnu.org/licenses/.
*/

// subsadmin is a utility for editing subscriptions.
//
// Examples:
// To list subscriptions in a file store:
// - subsadmin -filestore store -task list
//
// To resolve duplicate queries, keeping them in "Cats":
// - subsadmin -task dedupe -master Cats -yes
//
// To merge two subscriptions into "Pets":
// - subsadmin -task merge -sub Cats,Dogs -primary Cats -rename Cats=Pets
//
// To move two queries of "Cats" into a subscription of their own:
// - subsadmin -task separate -sub Cats -mode part -query tabby,calico -yes -rename Cats=Stripes
//
// To export a subscription and import it elsewhere:
// - subsadmin -task export -sub Cats -output cats.json
// - subsadmin -filestore other -task import -input cats.json -yes
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/ausocean/openfish/datastore"
	"github.com/ausocean/utils/logging"

	"github.com/ausocean/subsync/bandwidth"
	"github.com/ausocean/subsync/gauth"
	"github.com/ausocean/subsync/loader"
	"github.com/ausocean/subsync/model"
	"github.com/ausocean/subsync/reconcile"
	"github.com/ausocean/subsync/session"
)

// config holds the command line options of one invocation.
type config struct {
	task      string
	subs      []string
	queries   []string
	gug       string
	gugName   string
	template  string
	master    string
	primary   string
	caseMode  string
	mode      string
	kind      string
	input     string
	output    string
	renames   map[string]string
	yes       bool
	dryRun    bool
	verbosity int8
}

func main() {
	var cfg config
	var ds, filestore, subs, queries, renames string
	var verbose bool

	flag.StringVar(&cfg.task, "task", "list", "Task (list, add, delete, addquery, removequery, checknow, pause, reset, retryfailed, retryignored, sync, dedupe, merge, separate, export, import, estimate, or addgug)")
	flag.StringVar(&ds, "ds", "subsync", "Datastore project")
	flag.StringVar(&filestore, "filestore", "", "File store path, otherwise the cloud datastore is used")
	flag.StringVar(&subs, "sub", "", "Comma-separated subscription names")
	flag.StringVar(&queries, "query", "", "Comma-separated query texts")
	flag.StringVar(&cfg.gug, "gug", "", "Gallery URL generator key")
	flag.StringVar(&cfg.gugName, "gugname", "", "Gallery URL generator name (addgug)")
	flag.StringVar(&cfg.template, "template", "", "Gallery URL template with a %s placeholder (addgug)")
	flag.StringVar(&cfg.master, "master", "", "Subscription keeping deduplicated queries")
	flag.StringVar(&cfg.primary, "primary", "", "Subscription absorbing a merge")
	flag.StringVar(&cfg.caseMode, "case", "", "Query text comparison (caseless or cased)")
	flag.StringVar(&cfg.mode, "mode", "half", "Separate mode (half, whole, or part)")
	flag.StringVar(&cfg.kind, "kind", "envelope", "Export kind (envelope or texts)")
	flag.StringVar(&cfg.input, "input", "", "Import file or gs:// URL")
	flag.StringVar(&cfg.output, "output", "-", "Export file, - for standard output")
	flag.StringVar(&renames, "rename", "", "Comma-separated old=new subscription names")
	flag.BoolVar(&cfg.yes, "yes", false, "Answer yes to every question")
	flag.BoolVar(&cfg.dryRun, "dryrun", false, "Do not commit changes")
	flag.BoolVar(&verbose, "v", false, "Log session activity")
	flag.Parse()

	log.SetFlags(0) // Minimise log messages.
	log.SetPrefix("ERROR: ")

	cfg.subs = splitList(subs)
	cfg.queries = splitList(queries)
	var err error
	cfg.renames, err = parseRenames(renames)
	if err != nil {
		log.Fatal(err)
	}
	cfg.verbosity = logging.Error
	if verbose {
		cfg.verbosity = logging.Debug
	}

	model.RegisterEntities()

	var store datastore.Store
	ctx := context.Background()
	if filestore == "" {
		ev := strings.ToUpper(ds) + "_CREDENTIALS"
		if os.Getenv(ev) == "" {
			log.Fatalf("%s required to access %s", ev, ds)
		}
		store, err = datastore.NewStore(ctx, "cloud", ds, "")
	} else {
		store, err = datastore.NewStore(ctx, "file", ds, filestore)
	}
	if err != nil {
		log.Fatalf("datastore.NewStore failed with error %v", err)
	}

	err = run(ctx, store, cfg, os.Stdout)
	if err != nil {
		log.Fatalf("%s failed: %v", cfg.task, err)
	}
}

// run performs one task against store, writing results to w.
func run(ctx context.Context, store datastore.Store, cfg config, w io.Writer) error {
	if cfg.task == "addgug" {
		return addGUG(ctx, store, cfg, w)
	}

	s, err := openSession(ctx, store, cfg, w)
	if err != nil {
		return err
	}

	var changed bool
	switch cfg.task {
	case "list":
		list(s, w)
		return nil

	case "estimate":
		return estimate(ctx, s, cfg, w)

	case "export":
		return export(ctx, s, cfg, w)

	case "add":
		changed, err = true, add(ctx, store, s, cfg)

	case "delete":
		changed, err = true, s.Delete(cfg.subs...)

	case "addquery":
		var name string
		name, err = single(cfg)
		if err == nil {
			changed, err = true, s.AddQuery(name, cfg.queries...)
		}

	case "removequery":
		var name string
		name, err = single(cfg)
		if err != nil {
			break
		}
		var removed []*model.QueryHeader
		removed, err = s.RemoveQueries(name, cfg.queries...)
		if err == nil {
			changed = true
			fmt.Fprintf(w, "removed %d queries\n", len(removed))
		}

	case "checknow":
		changed, err = true, each(cfg, func(name string) error { return s.CheckNow(name, cfg.queries...) })

	case "pause":
		changed, err = true, each(cfg, func(name string) error { return s.PausePlay(name, cfg.queries...) })

	case "reset", "retryfailed", "retryignored":
		fn := map[string]func(context.Context, string, ...string) (int, error){
			"reset":        s.Reset,
			"retryfailed":  s.RetryFailed,
			"retryignored": s.RetryIgnored,
		}[cfg.task]
		changed, err = true, each(cfg, func(name string) error {
			n, err := fn(ctx, name, cfg.queries...)
			fmt.Fprintf(w, "%s: %d\n", name, n)
			return err
		})

	case "sync":
		var n int
		n, err = s.Sync(ctx, cfg.subs...)
		if err == nil {
			changed = true
			fmt.Fprintf(w, "synced %d queries\n", n)
		}

	case "dedupe":
		var rep session.DedupeReport
		rep, err = s.Dedupe(ctx, cfg.subs...)
		if err == nil {
			changed = true
			fmt.Fprintf(w, "%d passes resolved %d texts, removing %d queries\n", rep.Passes, len(rep.Resolved), rep.Removed)
		}

	case "merge":
		var res reconcile.MergeResult
		res, err = s.Merge(ctx, cfg.subs...)
		if err == nil {
			changed = true
			for _, c := range res.Consumed {
				fmt.Fprintf(w, "merged %s\n", c.Name)
			}
		}

	case "separate":
		var name string
		name, err = single(cfg)
		if err != nil {
			break
		}
		var res reconcile.SeparateResult
		res, err = s.Separate(ctx, name)
		if err == nil {
			changed = true
			for _, c := range res.Created {
				fmt.Fprintf(w, "created %s with %d queries\n", c.Name, len(c.QueryHeaders))
			}
		}

	case "import":
		if cfg.input == "" {
			return fmt.Errorf("import requires -input")
		}
		var data []byte
		data, err = gauth.ReadFile(ctx, cfg.input)
		if err != nil {
			return err
		}
		var sub *model.Subscription
		sub, err = s.Import(ctx, data)
		if err == nil {
			changed = true
			fmt.Fprintf(w, "imported %s with %d queries\n", sub.Name, len(sub.QueryHeaders))
		}

	default:
		return fmt.Errorf("invalid task %q", cfg.task)
	}

	if err != nil {
		if reconcile.IsVeto(err) {
			return fmt.Errorf("not possible: %w", err)
		}
		return err
	}
	if !changed {
		return nil
	}
	if cfg.dryRun {
		r := s.Result()
		fmt.Fprintf(w, "dry run: %d subscriptions, %d containers to write, %d to delete\n", len(r.Subscriptions), len(r.EditedContainers), len(r.DeleteeNames))
		return nil
	}
	return s.Commit(ctx, session.StoreCommitter{Store: store})
}

// openSession opens a session over every stored subscription.
func openSession(ctx context.Context, store datastore.Store, cfg config, w io.Writer) (*session.Session, error) {
	subs, err := model.GetAllSubscriptions(ctx, store)
	if err != nil {
		return nil, err
	}
	lg := logging.New(cfg.verbosity, os.Stderr, false)
	l, err := loader.New(loader.StoreReader{Store: store}, loader.NewCache(), loader.WithLogger(lg))
	if err != nil {
		return nil, err
	}
	chooser, err := script(cfg, w)
	if err != nil {
		return nil, err
	}
	m, err := bandwidth.NewManager(store)
	if err != nil {
		return nil, err
	}
	return session.Open(ctx, subs, session.Env{
		Loader:    l,
		Chooser:   chooser,
		Estimator: bandwidth.NewEstimator(bandwidth.StoreGUGs{Store: store}, m),
		Log:       lg,
	})
}

// script returns a chooser answering from the command line options.
func script(cfg config, w io.Writer) (*reconcile.Script, error) {
	sc := &reconcile.Script{
		Master: cfg.master,
		Names:  cfg.renames,
		Yes:    cfg.yes,
		Log:    func(msg string) { fmt.Fprintf(w, "? %s\n", msg) },
	}
	if (cfg.task == "separate" || cfg.task == "dedupe") && len(cfg.queries) > 0 {
		sc.Texts = cfg.queries
	}
	if cfg.primary != "" {
		sc.Primary = map[string]bool{cfg.primary: true}
	}
	switch cfg.caseMode {
	case "":
	case "caseless":
		m := reconcile.Caseless
		sc.CaseMode = &m
	case "cased":
		m := reconcile.Cased
		sc.CaseMode = &m
	default:
		return nil, fmt.Errorf("invalid case mode %q", cfg.caseMode)
	}
	if cfg.task == "separate" {
		mode, err := reconcile.ParseSeparateMode(cfg.mode)
		if err != nil {
			return nil, err
		}
		sc.SeparateMode = mode
	}
	return sc, nil
}

// list writes every subscription and the status of its queries.
func list(s *session.Session, w io.Writer) {
	now := time.Now()
	for _, sub := range s.Subscriptions() {
		fmt.Fprintf(w, "%s [%s]", sub.Name, sub.GUG.Name)
		if sub.Paused {
			fmt.Fprint(w, " paused")
		}
		if now.Before(sub.NoWorkUntil) {
			fmt.Fprintf(w, " resting for %s: %s", model.FormatDuration(sub.NoWorkUntil.Sub(now)), sub.NoWorkUntilReason)
		}
		fmt.Fprintln(w)
		for _, q := range sub.QueryHeaders {
			fmt.Fprintf(w, "  %s: %s, %s, %s\n", q.Name(), q.Status(now), q.FileStatus, q.Velocity)
		}
	}
}

// estimate writes the bandwidth estimate of each named subscription.
func estimate(ctx context.Context, s *session.Session, cfg config, w io.Writer) error {
	return each(cfg, func(name string) error {
		est, err := s.Estimate(ctx, name)
		if err != nil {
			return err
		}
		switch {
		case !est.Known:
			fmt.Fprintf(w, "%s: %s\n", est.Subscription, bandwidth.StatusUnknown)
		case est.Min == est.Max:
			fmt.Fprintf(w, "%s: %s\n", est.Subscription, model.FormatDuration(est.Min))
		default:
			fmt.Fprintf(w, "%s: %s to %s\n", est.Subscription, model.FormatDuration(est.Min), model.FormatDuration(est.Max))
		}
		for _, q := range est.Queries {
			fmt.Fprintf(w, "  %s: %s\n", q.Query, q.Status)
		}
		return nil
	})
}

// export writes the named subscription to the output file.
func export(ctx context.Context, s *session.Session, cfg config, w io.Writer) error {
	name, err := single(cfg)
	if err != nil {
		return err
	}
	kind, err := session.ParseExportKind(cfg.kind)
	if err != nil {
		return err
	}
	data, err := s.Export(ctx, name, kind)
	if err != nil {
		return err
	}
	if cfg.output == "-" {
		_, err = w.Write(data)
		return err
	}
	return os.WriteFile(cfg.output, data, 0644)
}

// add adds a new subscription targeting the given GUG.
func add(ctx context.Context, store datastore.Store, s *session.Session, cfg config) error {
	name, err := single(cfg)
	if err != nil {
		return err
	}
	gug, err := model.GetGUG(ctx, store, cfg.gug)
	if err != nil {
		return fmt.Errorf("no gug %q: %w", cfg.gug, err)
	}
	err = s.Add(model.NewSubscription(name, gug.KeyAndName()))
	if err != nil || len(cfg.queries) == 0 {
		return err
	}
	return s.AddQuery(name, cfg.queries...)
}

// addGUG stores a gallery URL generator.
func addGUG(ctx context.Context, store datastore.Store, cfg config, w io.Writer) error {
	if cfg.gug == "" || cfg.template == "" {
		return fmt.Errorf("addgug requires -gug and -template")
	}
	g := &model.GUG{Key: cfg.gug, Name: cfg.gugName, URLTemplate: cfg.template}
	if g.Name == "" {
		g.Name = g.Key
	}
	_, err := g.GenerateURL("test")
	if err != nil {
		return err
	}
	err = model.PutGUG(ctx, store, g)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "added gug %s\n", g.Name)
	return nil
}

// single returns the one subscription name a task needs.
func single(cfg config) (string, error) {
	if len(cfg.subs) != 1 {
		return "", fmt.Errorf("%s requires exactly one -sub", cfg.task)
	}
	return cfg.subs[0], nil
}

// each calls fn for each named subscription.
func each(cfg config, fn func(string) error) error {
	if len(cfg.subs) == 0 {
		return fmt.Errorf("%s requires -sub", cfg.task)
	}
	for _, name := range cfg.subs {
		err := fn(name)
		if err != nil {
			return err
		}
	}
	return nil
}

func splitList(s string) []string {
	var res []string
	for _, v := range strings.Split(s, ",") {
		if v = strings.TrimSpace(v); v != "" {
			res = append(res, v)
		}
	}
	return res
}

func parseRenames(s string) (map[string]string, error) {
	m := make(map[string]string)
	for _, v := range splitList(s) {
		old, name, ok := strings.Cut(v, "=")
		if !ok || old == "" || name == "" {
			return nil, fmt.Errorf("invalid rename %q, want old=new", v)
		}
		m[old] = name
	}
	return m, nil
}
