package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"git.sr.ht/~sircmpwn/getopt"

	"git.sr.ht/~tbpro/tbmail/config"
	"git.sr.ht/~tbpro/tbmail/lib/log"
	"git.sr.ht/~tbpro/tbmail/lib/mailsync"
	"git.sr.ht/~tbpro/tbmail/lib/pagecache"
	"git.sr.ht/~tbpro/tbmail/lib/view"
	"git.sr.ht/~tbpro/tbmail/worker/jmap"
)

type Opts struct {
	Account  string
	Mailbox  string
	Unread   bool
	Search   string
	Count    int
	Read     string
	UnreadID string
	Delete   string
	Watch    bool
	ConfDir  string
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: %s [-uw] [-a account] [-m mailbox] [-s text] [-n count]
              [-r id] [-R id] [-d id] [-C confdir]

  -a <account>   Use the named account instead of the first configured one.
  -m <mailbox>   Open the mailbox matching this name (fuzzy) instead of the inbox.
  -u             Only list unread messages.
  -s <text>      Only list messages whose sender or subject contain text.
  -n <count>     Print at most count messages (default 20).
  -r <id>        Mark a message read.
  -R <id>        Mark a message unread.
  -d <id>        Move a message to trash, or destroy it when already there.
  -w             Keep running, print the list again on every change.
  -C <confdir>   Read tbmail.conf and accounts.conf from confdir.
`, os.Args[0])
}

func parseOpts(args []string) (*Opts, error) {
	opts := &Opts{Count: 20}
	parsed, optind, err := getopt.Getopts(args, "a:m:us:n:r:R:d:wC:h")
	if err != nil {
		return nil, err
	}
	for _, opt := range parsed {
		switch opt.Option {
		case 'a':
			opts.Account = opt.Value
		case 'm':
			opts.Mailbox = opt.Value
		case 'u':
			opts.Unread = true
		case 's':
			opts.Search = opt.Value
		case 'n':
			n, err := strconv.Atoi(opt.Value)
			if err != nil || n < 0 {
				return nil, fmt.Errorf("-n: invalid count %q", opt.Value)
			}
			opts.Count = n
		case 'r':
			opts.Read = opt.Value
		case 'R':
			opts.UnreadID = opt.Value
		case 'd':
			opts.Delete = opt.Value
		case 'w':
			opts.Watch = true
		case 'C':
			opts.ConfDir = opt.Value
		case 'h':
			return nil, errHelp
		}
	}
	if optind < len(args) {
		return nil, fmt.Errorf("unexpected argument %q", args[optind])
	}
	return opts, nil
}

var errHelp = errors.New("help")

func die(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}

func main() {
	defer log.PanicHandler()

	opts, err := parseOpts(os.Args)
	if errors.Is(err, errHelp) {
		usage()
		os.Exit(0)
	} else if err != nil {
		usage()
		die("%s", err)
	}

	var root *string
	if opts.ConfDir != "" {
		root = &opts.ConfDir
	}
	var accts []string
	if opts.Account != "" {
		accts = []string{opts.Account}
	}
	conf, err := config.LoadConfigFromFile(root, accts)
	if err != nil {
		die("failed to load config: %s", err)
	}
	if err := conf.General.InitLogging(); err != nil {
		die("%s", err)
	}
	shutdown := func(context.Context) error { return nil }
	if conf.General.TraceFile != "" {
		shutdown, err = initTracing(conf.General.TraceFile)
		if err != nil {
			die("%s", err)
		}
	}
	acct, err := conf.Account(opts.Account)
	if err != nil {
		die("%s", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = run(ctx, acct, opts)
	stop()

	flush, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := shutdown(flush); err != nil {
		log.Warnf("trace: %v", err)
	}
	cancel()
	if err != nil {
		die("%s", err)
	}
}

func run(ctx context.Context, acct *config.AccountConfig, opts *Opts) error {
	client, err := jmap.NewClient(acct)
	if err != nil {
		return fmt.Errorf("%s: %w", acct.Name, err)
	}
	defer func() {
		if err := client.Cache().Close(); err != nil {
			log.Warnf("cache close: %v", err)
		}
	}()

	engine := mailsync.New(client,
		mailsync.WithPageSize(acct.PageSize),
		mailsync.WithPrefetch(acct.Prefetch),
		mailsync.WithRefreshInterval(acct.RefreshInterval),
		mailsync.WithRequestTimeout(acct.RequestTimeout),
		mailsync.WithCache(pagecache.New(acct.StaleAfter, acct.EvictAfter)),
		mailsync.WithStore(client.Cache()),
	)
	log.Infof("connecting %s", acct.Name)
	if err := engine.Connect(ctx); err != nil {
		return err
	}
	defer engine.Disconnect()

	if opts.Mailbox != "" {
		id, err := resolveMailbox(engine.Mailboxes(), opts.Mailbox)
		if err != nil {
			return err
		}
		if err := engine.SwitchMailbox(ctx, id); err != nil {
			return err
		}
	}

	if err := mutate(ctx, engine, opts); err != nil {
		return err
	}

	q := view.Query{Text: opts.Search}
	if opts.Unread {
		q.Filter = view.FilterUnread
	}
	if !opts.Watch && engine.View(q).Stale {
		if err := engine.RefreshCurrentMailbox(ctx); err != nil {
			log.Warnf("refresh: %v", err)
		}
	}
	out := newPrinter(os.Stdout, opts.Count)
	out.Print(engine.Mailboxes(), engine.Active(), engine.View(q))
	if !opts.Watch {
		return nil
	}

	updates := make(chan struct{}, 1)
	engine.OnUpdate(func() {
		select {
		case updates <- struct{}{}:
		default:
		}
	})
	// resuming a stopped process counts as the user coming back
	cont := make(chan os.Signal, 1)
	signal.Notify(cont, syscall.SIGCONT)
	defer signal.Stop(cont)

	// coalesce bursts of updates into one print
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	dirty := false
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-updates:
			dirty = true
		case <-cont:
			engine.Focus()
		case <-ticker.C:
			if dirty {
				dirty = false
				out.Print(engine.Mailboxes(), engine.Active(), engine.View(q))
			}
		}
	}
}

func mutate(ctx context.Context, engine *mailsync.Engine, opts *Opts) error {
	if opts.Read != "" {
		if err := engine.ToggleRead(ctx, opts.Read, true); err != nil {
			return fmt.Errorf("mark read: %w", err)
		}
	}
	if opts.UnreadID != "" {
		if err := engine.ToggleRead(ctx, opts.UnreadID, false); err != nil {
			return fmt.Errorf("mark unread: %w", err)
		}
	}
	if opts.Delete != "" {
		if err := engine.DeleteMessage(ctx, opts.Delete, engine.Active()); err != nil {
			return fmt.Errorf("delete: %w", err)
		}
	}
	return nil
}
