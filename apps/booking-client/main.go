package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/prohmpiriya/homeservice-client/apps/booking-client/internal/di"
	"github.com/prohmpiriya/homeservice-client/apps/booking-client/internal/domain"
	"github.com/prohmpiriya/homeservice-client/apps/booking-client/internal/dto"
	"github.com/prohmpiriya/homeservice-client/apps/booking-client/internal/guard"
	"github.com/prohmpiriya/homeservice-client/apps/booking-client/internal/repository"
	"github.com/prohmpiriya/homeservice-client/apps/booking-client/internal/service"
	"github.com/prohmpiriya/homeservice-client/apps/booking-client/internal/session"
	"github.com/prohmpiriya/homeservice-client/apps/booking-client/internal/store"
	"github.com/prohmpiriya/homeservice-client/pkg/config"
	"github.com/prohmpiriya/homeservice-client/pkg/logger"
	"github.com/prohmpiriya/homeservice-client/pkg/telemetry"
)

const usage = `booking-client: home-service marketplace client

Usage:
  booking-client [global flags] <command> [flags]

Commands:
  login      --username NAME [--password PASS]
  register   --username NAME --password PASS [--email E] [--worker]
  logout
  whoami
  bookings   [--json]
  book       --worker ID --service ID --date YYYY-MM-DD --time HH:MM [--notes TEXT]
  cancel     BOOKING_ID
  accept     BOOKING_ID
  decline    BOOKING_ID
  complete   BOOKING_ID
  rate       BOOKING_ID --rating 1..5 [--review TEXT]
  watch      [--surface PATH]

Global flags:
`

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var configPath string
	var sessionStore string
	var logLevel string

	flagSet := pflag.NewFlagSet("booking-client", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to an env-format config file (default: .env if present)")
	flagSet.StringVar(&sessionStore, "store", "", "session store: memory, file or redis (overrides SESSION_STORE)")
	flagSet.StringVar(&logLevel, "log-level", "", "log level (overrides APP_LOG_LEVEL)")
	flagSet.BoolP("help", "h", false, "show help")
	flagSet.SetInterspersed(false)

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printHelp(flagSet)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help || flagSet.NArg() == 0 {
		printHelp(flagSet)
		return nil
	}

	// Load configuration
	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadWithPath(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if sessionStore != "" {
		cfg.Session.Store = sessionStore
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	if logLevel == "" {
		logLevel = cfg.App.LogLevel
	}

	// Initialize logger
	if err := logger.Init(&logger.Config{
		Level:       logLevel,
		ServiceName: cfg.App.Name,
		Development: cfg.IsDevelopment(),
	}); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()
	appLog := logger.Get()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize telemetry
	if _, err := telemetry.Init(ctx, &telemetry.Config{
		Enabled:        cfg.OTel.Enabled,
		ServiceName:    cfg.OTel.ServiceName,
		ServiceVersion: cfg.App.Version,
		Environment:    cfg.App.Environment,
		CollectorAddr:  cfg.OTel.CollectorAddr,
		SampleRatio:    cfg.OTel.SampleRatio,
	}); err != nil {
		appLog.Warn("telemetry disabled", zap.Error(err))
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			appLog.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}()

	// Build dependency injection container
	container, err := di.NewContainer(ctx, &di.ContainerConfig{
		Config: cfg,
		Logger: appLog,
		Navigator: service.NavigatorFunc(func(s guard.Surface) {
			fmt.Fprintf(os.Stderr, "session ended, continue at %s (run: booking-client login)\n", s)
		}),
	})
	if err != nil {
		return err
	}
	defer container.Close()

	if err := container.Start(ctx); err != nil {
		return fmt.Errorf("failed to start session sync: %w", err)
	}

	cmd, rest := flagSet.Arg(0), flagSet.Args()[1:]
	return dispatch(ctx, container, cmd, rest)
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprint(os.Stderr, usage)
	flagSet.PrintDefaults()
}

func dispatch(ctx context.Context, c *di.Container, cmd string, args []string) error {
	switch cmd {
	case "login":
		return runLogin(ctx, c, args)
	case "register":
		return runRegister(ctx, c, args)
	case "logout":
		return c.Session.Logout()
	case "whoami":
		return runWhoami(c)
	case "bookings":
		return runBookings(ctx, c, args)
	case "book":
		return runBook(ctx, c, args)
	case "cancel", "accept", "decline", "complete":
		action, err := domain.ParseAction(cmd)
		if err != nil {
			return err
		}
		return runAction(ctx, c, action, args)
	case "rate":
		return runRate(ctx, c, args)
	case "watch":
		return runWatch(ctx, c, args)
	}
	return fmt.Errorf("unknown command %q", cmd)
}

func runLogin(ctx context.Context, c *di.Container, args []string) error {
	fs := pflag.NewFlagSet("login", pflag.ContinueOnError)
	username := fs.StringP("username", "u", "", "account username")
	password := fs.StringP("password", "p", os.Getenv("BOOKING_CLIENT_PASSWORD"), "account password (default: $BOOKING_CLIENT_PASSWORD)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if err := c.Session.Login(ctx, session.Credentials{Username: *username, Password: *password}); err != nil {
		return err
	}
	s := c.Session.Current()
	fmt.Printf("logged in as %s (%s), home: %s\n", s.Username, s.Role, guard.Home(s.Role))
	return nil
}

func runRegister(ctx context.Context, c *di.Container, args []string) error {
	fs := pflag.NewFlagSet("register", pflag.ContinueOnError)
	var req dto.RegisterRequest
	fs.StringVar(&req.Username, "username", "", "account username")
	fs.StringVar(&req.Password, "password", "", "account password")
	fs.StringVar(&req.Email, "email", "", "email address")
	fs.StringVar(&req.Phone, "phone", "", "phone number")
	fs.StringVar(&req.Address, "address", "", "address or service location")
	fs.StringVar(&req.Profession, "profession", "", "worker profession")
	fs.StringVar(&req.Experience, "experience", "", "worker experience")
	fs.StringVar(&req.Bio, "bio", "", "worker bio")
	worker := fs.Bool("worker", false, "register a worker account")
	if err := fs.Parse(args); err != nil {
		return err
	}

	role := domain.RoleCustomer
	if *worker {
		role = domain.RoleWorker
	}
	if err := c.Session.Register(ctx, role, req); err != nil {
		var authErr *session.AuthError
		if errors.As(err, &authErr) {
			for field, msgs := range authErr.Fields {
				fmt.Fprintf(os.Stderr, "  %s: %v\n", field, msgs)
			}
		}
		return err
	}
	fmt.Printf("registered %s account %s\n", role, req.Username)
	return nil
}

func runWhoami(c *di.Container) error {
	s := c.Session.Current()
	if s.IsGuest() {
		fmt.Println("guest")
		return nil
	}
	fmt.Printf("%s\t%s\tuser_id=%s\n", s.Username, s.Role, s.UserID)
	return nil
}

func requireRoles(c *di.Container, surface guard.Surface) error {
	d := guard.Authorize(c.Session.Current(), guard.ForPath(string(surface)))
	if !d.Allowed {
		return fmt.Errorf("%w: continue at %s", domain.ErrForbidden, d.Redirect)
	}
	return nil
}

func runBookings(ctx context.Context, c *di.Container, args []string) error {
	fs := pflag.NewFlagSet("bookings", pflag.ContinueOnError)
	asJSON := fs.Bool("json", false, "print JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if c.Session.Current().IsGuest() {
		return fmt.Errorf("%w: continue at %s", domain.ErrForbidden, guard.SurfaceLogin)
	}

	if err := c.Dispatcher.Refresh(ctx); err != nil {
		return err
	}
	list := c.Cache.List()
	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(list)
	}

	role := c.Session.Current().Role
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tDATE\tTIME\tWORKER\tSERVICE\tACTIONS")
	for _, b := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%v\n",
			b.ID, b.Status, b.ScheduledDate, b.ScheduledTime,
			orDash(b.WorkerName, b.WorkerID), orDash(b.ServiceName, b.ServiceID),
			domain.Allowed(b.Status, role))
	}
	return tw.Flush()
}

func orDash(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return "-"
}

func runBook(ctx context.Context, c *di.Container, args []string) error {
	fs := pflag.NewFlagSet("book", pflag.ContinueOnError)
	workerID := fs.String("worker", "", "worker id")
	var n domain.NewBooking
	fs.StringVar(&n.ServiceID, "service", "", "service id")
	fs.StringVar(&n.ScheduledDate, "date", "", "date, YYYY-MM-DD")
	fs.StringVar(&n.ScheduledTime, "time", "", "time, HH:MM")
	fs.StringVar(&n.Notes, "notes", "", "notes for the worker")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireRoles(c, guard.SurfaceBooking+guard.Surface(*workerID)); err != nil {
		return err
	}

	b, err := c.Dispatcher.Book(ctx, *workerID, n)
	if err != nil {
		return err
	}
	fmt.Printf("booking %s created (%s)\n", b.ID, b.Status)
	return nil
}

// loadBooking makes sure the cache holds id before acting on it
func loadBooking(ctx context.Context, c *di.Container, id string) error {
	if _, err := c.Cache.Get(id); err == nil {
		return nil
	}
	return c.Dispatcher.Refresh(ctx)
}

func runAction(ctx context.Context, c *di.Container, action domain.Action, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: booking-client %s BOOKING_ID", action)
	}
	id := args[0]
	if err := loadBooking(ctx, c, id); err != nil {
		return err
	}

	unsub := c.Cache.Subscribe(func(e repository.Event) {
		if e.Booking.ID == id && e.Optimistic {
			fmt.Printf("booking %s: %s (pending confirmation)\n", id, e.Booking.Status)
		}
	})
	defer unsub()

	b, err := c.Dispatcher.Perform(ctx, id, action)
	if err != nil {
		if current, getErr := c.Cache.Get(id); getErr == nil {
			fmt.Fprintf(os.Stderr, "booking %s is %s\n", id, current.Status)
		}
		return err
	}
	fmt.Printf("booking %s: %s\n", id, b.Status)
	return nil
}

func runRate(ctx context.Context, c *di.Container, args []string) error {
	fs := pflag.NewFlagSet("rate", pflag.ContinueOnError)
	rating := fs.Int("rating", 0, "rating from 1 to 5")
	review := fs.String("review", "", "review text")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: booking-client rate BOOKING_ID --rating N")
	}
	id := fs.Arg(0)
	if err := loadBooking(ctx, c, id); err != nil {
		return err
	}

	summary, err := c.Dispatcher.Rate(ctx, id, *rating, *review)
	if err != nil {
		return err
	}
	fmt.Printf("rated %d, worker average %s over %d ratings\n",
		*rating, strconv.FormatFloat(summary.AverageRating, 'f', 2, 64), summary.TotalRatings)
	return nil
}

func runWatch(ctx context.Context, c *di.Container, args []string) error {
	fs := pflag.NewFlagSet("watch", pflag.ContinueOnError)
	surface := fs.String("surface", string(guard.SurfaceCustomerProfile), "surface whose access is watched")
	if err := fs.Parse(args); err != nil {
		return err
	}

	required := guard.ForPath(*surface)
	unsubGuard := guard.Watch(c.Store, required, func(d guard.Decision) {
		if d.Allowed {
			fmt.Printf("%s: allowed\n", *surface)
			return
		}
		fmt.Printf("%s: redirect to %s\n", *surface, d.Redirect)
	})
	defer unsubGuard()

	unsubStore := c.Store.Subscribe(func(ch store.Change) {
		fmt.Printf("session %s: %s -> %s\n", ch.Origin, ch.Previous.Role, ch.Session.Role)
	})
	defer unsubStore()

	<-ctx.Done()
	return nil
}
