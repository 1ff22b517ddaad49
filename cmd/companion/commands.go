package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"slices"

	"github.com/dmitrymomot/companion/pkg/callback"
	"github.com/dmitrymomot/companion/pkg/capi"
	"github.com/dmitrymomot/companion/pkg/correlation"
	"github.com/dmitrymomot/companion/pkg/journal"
	"github.com/dmitrymomot/companion/pkg/logger"
	"github.com/dmitrymomot/companion/pkg/pg"
	"github.com/dmitrymomot/companion/pkg/redis"
)

// login logs identity in. When the stored credential cannot be refreshed it
// prints the authorization URL and serves the callback listener until the
// browser redirect has been delivered.
func (a *app) login(ctx context.Context, args []string) error {
	if err := requireArgs(args, 1, "identity"); err != nil {
		return err
	}
	s := a.newSession()
	defer s.Close()

	sub := s.Subscribe(ctx)
	defer sub.Close()

	ev, err := s.LogIn(ctx, args[0])
	if err != nil {
		return err
	}
	if ev.State == capi.Authorized {
		fmt.Println("logged in")
		return nil
	}

	fmt.Printf("Open this URL in a browser to authorize access:\n\n  %s\n\n", ev.AuthURL)
	fmt.Printf("Waiting for the redirect on %s (run `companion deliver <url>` if the browser does not hand it over).\n", a.callback.Addr)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	srv := callback.NewServer(a.callback, s, callback.WithLogger(a.log))
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Run(ctx) }()

	for {
		select {
		case err := <-errCh:
			if err != nil {
				return err
			}
			return ctx.Err()
		case ev, ok := <-sub.C():
			if !ok {
				return errors.New("session closed")
			}
			switch ev.State {
			case capi.Authorized:
				cancel()
				<-errCh
				fmt.Println("logged in")
				return nil
			case capi.AuthorizationFailed:
				a.log.WarnContext(ctx, "authorization attempt failed, still waiting", logger.Error(ev.Err))
			}
		}
	}
}

func (a *app) deliver(ctx context.Context, args []string) error {
	if err := requireArgs(args, 1, "redirect url"); err != nil {
		return err
	}
	ctx, _ = correlation.Ensure(ctx)
	res, err := callback.Deliver(ctx, a.callback.Addr, args[0], nil)
	if err != nil {
		a.log.ErrorContext(ctx, "callback delivery failed", logger.Error(err))
		return err
	}
	a.log.DebugContext(ctx, "callback delivered", logger.State(res.State))
	fmt.Println(res.State)
	return nil
}

// activate logs identity in without starting an interactive login.
func (a *app) activate(ctx context.Context, identity string) (*capi.Session, error) {
	s := a.newSession()
	ev, err := s.LogIn(ctx, identity)
	if err != nil {
		s.Close()
		return nil, err
	}
	if ev.State != capi.Authorized {
		s.Close()
		return nil, fmt.Errorf("%s is not logged in, run `companion login %s`", identity, identity)
	}
	return s, nil
}

func (a *app) status(ctx context.Context, args []string) error {
	if err := requireArgs(args, 1, "identity"); err != nil {
		return err
	}
	identity := args[0]
	fmt.Printf("stored credential: %s\n", capi.StoredUserState(a.capi.CredentialDir, identity))

	s, err := a.activate(ctx, identity)
	if err != nil {
		return err
	}
	defer s.Close()

	resp := s.Profile(ctx, true)
	if !resp.OK() {
		return fmt.Errorf("profile unavailable: %s", http.StatusText(resp.StatusCode))
	}
	p, err := capi.ParseProfile(resp.Body)
	if err != nil {
		return err
	}
	fmt.Printf("commander: %s (id %d)\n", p.Commander.Name, p.Commander.ID)
	fmt.Printf("credits:   %d\n", p.Commander.Credits)
	fmt.Printf("system:    %s\n", p.LastSystem.Name)
	if p.Commander.Docked {
		fmt.Printf("docked at: %s\n", p.LastStarport.Name)
	}
	return nil
}

func (a *app) get(ctx context.Context, args []string) error {
	if err := requireArgs(args, 2, "identity and path"); err != nil {
		return err
	}
	s, err := a.activate(ctx, args[0])
	if err != nil {
		return err
	}
	defer s.Close()

	resp := s.Get(ctx, args[1])
	fmt.Fprintf(os.Stderr, "status: %d\n", resp.StatusCode)
	if resp.HasBody {
		fmt.Println(resp.Body)
	}
	if !resp.OK() {
		return fmt.Errorf("request failed: %s", http.StatusText(resp.StatusCode))
	}
	return nil
}

func (a *app) syncJournal(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("journal", flag.ContinueOnError)
	passes := fs.Int("n", 1, "number of passes to run")
	commander := fs.String("commander", "", "canonical commander name written into the journal")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireArgs(fs.Args(), 1, "identity"); err != nil {
		return err
	}
	identity := fs.Arg(0)

	s, err := a.activate(ctx, identity)
	if err != nil {
		return err
	}
	defer s.Close()

	store, err := journal.OpenStore(ctx, a.journal, a.s3)
	if err != nil {
		return err
	}
	progressStore, closeProgress, err := a.openProgressStore(ctx)
	if err != nil {
		return err
	}
	defer closeProgress()

	name := *commander
	if name == "" {
		name = identity
		if resp := s.Profile(ctx, false); resp.OK() {
			if p, err := capi.ParseProfile(resp.Body); err == nil {
				name = p.Commander.Name
			}
		}
	}

	syncer, err := journal.NewSynchronizer(s, store, identity, a.journal,
		journal.WithLogger(a.log),
		journal.WithCommander(name),
	)
	if err != nil {
		return err
	}

	var progress journal.Progress
	for range max(*passes, 1) {
		progress, err = syncer.Sync(ctx, progressStore)
		if err != nil {
			return err
		}
	}

	keys := make([]string, 0, len(progress))
	for k := range progress {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		fmt.Printf("%s  %s\n", k, progress[k].Status)
	}
	return nil
}

func (a *app) openProgressStore(ctx context.Context) (journal.ProgressStore, func(), error) {
	switch a.journal.ProgressStore {
	case journal.ProgressRedis:
		client, err := redis.Connect(ctx, a.redis)
		if err != nil {
			return nil, nil, err
		}
		ps, err := journal.OpenProgressStore(a.journal, journal.ProgressBackends{
			Redis:       client,
			RedisPrefix: a.redis.KeyPrefix,
		})
		if err != nil {
			client.Close()
			return nil, nil, err
		}
		return ps, func() { client.Close() }, nil
	case journal.ProgressPostgres:
		pool, err := pg.Connect(ctx, a.pg)
		if err != nil {
			return nil, nil, err
		}
		if err := pg.Migrate(ctx, pool, journal.Migrations, "migrations", a.pg, a.log); err != nil {
			pool.Close()
			return nil, nil, err
		}
		ps, err := journal.OpenProgressStore(a.journal, journal.ProgressBackends{Postgres: pool})
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		return ps, pool.Close, nil
	default:
		ps, err := journal.OpenProgressStore(a.journal, journal.ProgressBackends{})
		return ps, func() {}, err
	}
}

func (a *app) logout(ctx context.Context, args []string) error {
	if err := requireArgs(args, 1, "identity"); err != nil {
		return err
	}
	s := a.newSession()
	defer s.Close()
	if err := s.LogOutIdentity(ctx, args[0]); err != nil {
		return err
	}
	fmt.Printf("%s logged out\n", args[0])
	return nil
}
