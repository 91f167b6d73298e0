// Command dronewatch is the field operator's telemetry relay: it authenticates
// the operator, resolves the active emergency assignment, and runs the report
// pipeline against the shared incident-tracking backend.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/aeroaid/dronewatch/internal/assignment"
	"github.com/aeroaid/dronewatch/internal/bridge"
	"github.com/aeroaid/dronewatch/internal/config"
	"github.com/aeroaid/dronewatch/internal/errs"
	"github.com/aeroaid/dronewatch/internal/identity"
	"github.com/aeroaid/dronewatch/internal/journal"
	"github.com/aeroaid/dronewatch/internal/model"
	"github.com/aeroaid/dronewatch/internal/pipeline"
	"github.com/aeroaid/dronewatch/internal/session"
	"github.com/aeroaid/dronewatch/internal/store"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

func usage() {
	fmt.Fprintf(os.Stderr, `dronewatch
Usage:
  dronewatch [-config file] <cmd> [args]

Commands:
  version
  login    -email <email> -password <password>   (saves session)
  run                                            (relay telemetry; Enter = capture)
  logout                                         (clears session)
`)
	os.Exit(2)
}

func main() {
	cfgPath := flag.String("config", "", "config file (YAML)")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
	}
	cmd := flag.Arg(0)

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fail(err)
	}

	logger, _ := zap.NewProduction()
	defer func() { _ = logger.Sync() }()

	sessions := session.NewStore(cfg.Settings.SessionDir)

	switch cmd {
	case "version":
		fmt.Printf("dronewatch %s (%s)\n", version, buildDate)

	case "login":
		fs := flag.NewFlagSet("login", flag.ExitOnError)
		email := fs.String("email", "", "operator email")
		password := fs.String("password", "", "operator password")
		_ = fs.Parse(flag.Args()[1:])

		if err := runLogin(cfg, sessions, logger, *email, *password); err != nil {
			fail(err)
		}

	case "run":
		if err := runPipeline(cfg, sessions, logger); err != nil {
			fail(err)
		}

	case "logout":
		if err := sessions.Clear(); err != nil {
			fail(err)
		}
		fmt.Println("ok")

	default:
		usage()
	}
}

func runLogin(cfg config.Config, sessions *session.Store, logger *zap.Logger, email, password string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var idOpts []identity.Option
	if cfg.Identity.Endpoint != "" {
		idOpts = append(idOpts, identity.WithEndpoint(cfg.Identity.Endpoint))
	}
	idc := identity.New(cfg.Identity.APIKey, idOpts...)

	cred, err := idc.SignIn(ctx, email, password)
	switch {
	case errors.Is(err, errs.ErrMissingField):
		return errors.New("email and password are required")
	case errors.Is(err, errs.ErrInvalidCredentials):
		return errors.New("invalid email or password")
	case errors.Is(err, errs.ErrAccountDisabled):
		return errors.New("account disabled")
	case err != nil:
		return err
	}

	// Persist the credential before resolving so a no-assignment outcome still
	// leaves a resumable login, matching the backend's session model.
	sess := model.Session{
		Token:      cred.Token,
		ExpiresAt:  cred.ExpiresAt,
		Email:      email,
		OperatorID: cred.OperatorID,
	}
	if err := sessions.Save(sess); err != nil {
		return err
	}

	docs := newDocClient(cfg, logger)
	resolver := assignment.NewResolver(docs, sessions, logger)
	asg, err := resolver.Resolve(ctx, cred.Token, cred.OperatorID)
	switch {
	case errors.Is(err, errs.ErrNotAuthorized):
		return errors.New("your account does not have drone operator permissions")
	case errors.Is(err, errs.ErrNoActiveEmergency):
		fmt.Println("logged in; no active emergency assigned (accept one in the web app first)")
		return nil
	case err != nil:
		return err
	}

	sess.EmergencyID = asg.EmergencyID
	sess.AssignmentID = asg.AssignmentID
	if err := sessions.Save(sess); err != nil {
		return err
	}

	logger.Info("login complete",
		zap.String("operator", cred.OperatorID),
		zap.String("emergency", asg.EmergencyID),
		zap.String("assignment", asg.AssignmentID),
	)
	fmt.Println("ok")
	return nil
}

func runPipeline(cfg config.Config, sessions *session.Store, logger *zap.Logger) error {
	sess, err := sessions.Load()
	if errors.Is(err, errs.ErrNoSession) {
		return errors.New("no session; run 'dronewatch login' first")
	}
	if err != nil {
		return err
	}
	if sess.Expired(time.Now()) {
		return errors.New("session expired; run 'dronewatch login' again")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	docs := newDocClient(cfg, logger)

	// Re-resolve on every resume: the assignment may have been closed or
	// reassigned since the session was persisted.
	resolver := assignment.NewResolver(docs, sessions, logger)
	asg, err := resolver.Resolve(ctx, sess.Token, sess.OperatorID)
	switch {
	case errors.Is(err, errs.ErrNotAuthorized):
		return errors.New("your account does not have drone operator permissions")
	case errors.Is(err, errs.ErrNoActiveEmergency):
		return errors.New("no active emergency assigned; accept one in the web app first")
	case err != nil:
		return err
	}
	sess.EmergencyID = asg.EmergencyID
	sess.AssignmentID = asg.AssignmentID
	if err := sessions.Save(sess); err != nil {
		return err
	}

	vehicle := bridge.New(cfg.Vehicle.BridgeAddr)

	opts := []pipeline.Option{
		pipeline.WithLogger(logger),
		pipeline.WithPeriod(time.Duration(cfg.Store.PushPeriod)),
	}
	if cfg.Journal.Enabled && cfg.Journal.Path != "" {
		jrnl := journal.Open(cfg.Journal.Path)
		defer func() { _ = jrnl.Close() }()
		opts = append(opts, pipeline.WithJournal(jrnl))
	}

	pipe, err := pipeline.New(sess, docs, vehicle, vehicle, opts...)
	if err != nil {
		return err
	}
	if err := pipe.Start(ctx); err != nil {
		return err
	}
	defer pipe.Stop()

	fmt.Println("relaying telemetry; press Enter to capture, Ctrl-C to stop")

	// stdin lines act as capture triggers, standing in for the vehicle
	// controller's button and hardware keys.
	triggers := make(chan string)
	go readTriggers(ctx, os.Stdin, triggers)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case trigger, ok := <-triggers:
				if !ok {
					return nil
				}
				if err := pipe.Report(ctx, trigger); err != nil {
					fmt.Fprintf(os.Stderr, "capture failed: %v\n", err)
					continue
				}
				fmt.Println("finding reported")
			}
		}
	})
	g.Go(func() error {
		<-ctx.Done()
		return nil
	})
	return g.Wait()
}

// readTriggers forwards one capture trigger per line read from r until the
// input ends. A pending send is abandoned when ctx ends, so the forwarder
// never outlives its consumer.
func readTriggers(ctx context.Context, r io.Reader, triggers chan<- string) {
	defer close(triggers)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		select {
		case triggers <- "key":
		case <-ctx.Done():
			return
		}
	}
}

func newDocClient(cfg config.Config, logger *zap.Logger) *store.Client {
	opts := []store.Option{store.WithLogger(logger)}
	if cfg.Store.BaseURL != "" {
		opts = append(opts, store.WithBaseURL(cfg.Store.BaseURL))
	}
	return store.New(cfg.Store.ProjectID, opts...)
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
