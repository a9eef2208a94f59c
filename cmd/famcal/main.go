package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"famcal/internal/apperr"
	"famcal/internal/capture"
	"famcal/internal/config"
	"famcal/internal/gateway"
	"famcal/internal/ics"
	appLog "famcal/internal/log"
	"famcal/internal/refresh"
	"famcal/internal/session"
	"famcal/internal/store"
	"famcal/internal/web"
)

const version = "0.3.0"

// flagConfig holds CLI flag values; they win over config file and env.
type flagConfig struct {
	configPath string
	apiBase    string
	listen     string
	debug      bool
}

// app is everything a command needs, built once in main.
type app struct {
	cfg        *config.Config
	configPath string
	stateDir   string
	loc        *time.Location

	gw    *gateway.Client
	sess  *session.Session
	store *store.Store

	in  *bufio.Reader
	out io.Writer
}

func main() {
	// .env 가 없으면 조용히 넘어간다.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		appLog.Error("failed to load .env", err)
	}

	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		if conf == nil {
			appLog.Error("failed to load config", err, "config_path", flags.configPath)
			os.Exit(1)
		}
		appLog.Error("failed to write default config", err, "config_path", flags.configPath)
	}
	conf.ApplyEnv()
	if flags.apiBase != "" {
		conf.APIBase = strings.TrimRight(flags.apiBase, "/")
	}
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	conf.Normalize()

	level := appLog.ParseLevel(conf.Log.Level)
	if flags.debug {
		level = appLog.LevelDebug
	}
	if err := appLog.Init(appLog.Options{Level: level, Development: conf.Log.Development}); err != nil {
		fmt.Fprintln(os.Stderr, "famcal: logger init failed:", err)
	}
	defer appLog.Sync()

	appLog.Debug("effective config",
		"version", version,
		"api_base", conf.APIBase,
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"week_start", conf.WeekStart,
		"refresh", conf.RefreshCron,
	)

	a, err := newApp(conf, flags.configPath)
	if err != nil {
		appLog.Error("failed to initialize session", err)
		os.Exit(1)
	}

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cmd, args := "shell", flag.Args()
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}
	if err := a.run(ctx, cmd, args); err != nil {
		fmt.Fprintln(os.Stderr, "famcal:", apperr.Message(err))
		appLog.Sync()
		os.Exit(1)
	}
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", config.DefaultPath(), "Path to config file")
	flag.StringVar(&cfg.apiBase, "api-base", "", "Backend base URL (overrides config if set)")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address for serve (overrides config if set)")
	flag.BoolVar(&cfg.debug, "debug", false, "Enable debug logging")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: famcal [flags] [shell|serve|signup|login|logout|whoami|export|snapshot]\n\n")
		flag.PrintDefaults()
	}

	flag.Parse()

	return cfg
}

func newApp(conf *config.Config, configPath string) (*app, error) {
	a := &app{
		cfg:        conf,
		configPath: configPath,
		stateDir:   conf.ResolveStateDir(configPath),
		loc:        conf.Location(),
		gw:         gateway.New(conf.APIBase, conf.RequestTimeout),
		store:      store.New(),
		in:         bufio.NewReader(os.Stdin),
		out:        os.Stdout,
	}

	// FAMCAL_TOKEN 은 메모리에만 유지하고 디스크에는 쓰지 않는다.
	if tok := strings.TrimSpace(os.Getenv("FAMCAL_TOKEN")); tok != "" {
		a.sess = session.New(nil)
		if err := a.sess.Login(tok, ""); err != nil {
			return nil, err
		}
		return a, nil
	}
	a.sess = session.New(session.NewFileStore(a.stateDir))
	if err := a.sess.Initialize(); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *app) run(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "shell":
		return a.runShell(ctx)
	case "serve":
		return a.runServe(ctx)
	case "signup":
		return a.runSignup(ctx, args)
	case "login":
		return a.runLogin(ctx, args)
	case "logout":
		return a.runLogout()
	case "whoami":
		return a.runWhoami(ctx)
	case "export":
		return a.runExport(ctx, args)
	case "snapshot":
		return a.runSnapshot(ctx, args)
	case "version":
		fmt.Fprintln(a.out, "famcal", version)
		return nil
	default:
		flag.Usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func (a *app) runServe(ctx context.Context) error {
	if a.sess.LoggedIn() {
		if err := a.store.Refresh(a.sess.Context(ctx), a.gw); err != nil {
			appLog.Error("initial refresh failed", err)
		}
	} else {
		appLog.Info("not logged in; serving an empty calendar until `famcal login`")
	}

	if a.cfg.RefreshEnabled() {
		sched, err := refresh.New(ctx, a.cfg.RefreshCron, a.loc, a.store, a.gw, a.sess.Token)
		if err != nil {
			return fmt.Errorf("refresh schedule: %w", err)
		}
		sched.Start()
		defer sched.Stop()
	}

	srv := web.NewServer(web.Options{
		Config:      a.cfg,
		Store:       a.store,
		Session:     a.sess,
		Backend:     a.gw,
		PreviewPath: a.previewPath(),
	})
	return srv.StartServer(ctx)
}

func (a *app) runSignup(ctx context.Context, args []string) error {
	email, password, err := a.credentials(args)
	if err != nil {
		return err
	}
	u, err := a.gw.SignUp(ctx, email, password)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Account created for %s. Run `famcal login` next.\n", u.Email)
	return nil
}

func (a *app) runLogin(ctx context.Context, args []string) error {
	email, password, err := a.credentials(args)
	if err != nil {
		return err
	}
	tok, err := a.gw.Login(ctx, email, password)
	if err != nil {
		return err
	}
	if err := a.sess.Login(tok.AccessToken, email); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	fmt.Fprintf(a.out, "Logged in as %s.\n", email)
	return nil
}

func (a *app) runLogout() error {
	if err := a.sess.Logout(); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Logged out.")
	return nil
}

func (a *app) runWhoami(ctx context.Context) error {
	if !a.sess.LoggedIn() {
		return errors.New("not logged in")
	}
	u, err := a.gw.Me(ctx, a.sess.Token())
	if err != nil {
		if gateway.IsUnauthorized(err) {
			return errors.New("session expired; run `famcal login` again")
		}
		return err
	}
	fmt.Fprintf(a.out, "%s (%s)\n", u.Email, u.ID)
	return nil
}

func (a *app) runExport(ctx context.Context, args []string) error {
	set := flag.NewFlagSet("export", flag.ContinueOnError)
	out := set.String("o", "", "Write to file instead of stdout")
	if err := set.Parse(args); err != nil {
		return err
	}
	if !a.sess.LoggedIn() {
		return errors.New("not logged in")
	}
	if err := a.store.Refresh(a.sess.Context(ctx), a.gw); err != nil {
		return err
	}
	data, err := ics.Export(a.store.Snapshot(), ics.ExportOptions{Name: "famcal"})
	if err != nil {
		return err
	}
	if *out == "" {
		_, err = a.out.Write(data)
		return err
	}
	if err := config.WriteFileAtomic(*out, data); err != nil {
		return err
	}
	// Export skips events it cannot encode; report what actually landed.
	written, err := ics.Decode(data)
	if err != nil {
		return fmt.Errorf("verify export: %w", err)
	}
	if skipped := a.store.Len() - len(written); skipped > 0 {
		appLog.Info("some events were not exported", "skipped", skipped)
	}
	fmt.Fprintf(a.out, "Exported %d events to %s\n", len(written), *out)
	return nil
}

func (a *app) runSnapshot(ctx context.Context, args []string) error {
	set := flag.NewFlagSet("snapshot", flag.ContinueOnError)
	month := set.String("month", "", "Month to capture (YYYY-MM)")
	out := set.String("o", a.previewPath(), "Output PNG path")
	base := set.String("url", "http://"+a.cfg.Listen, "Base URL of a running `famcal serve`")
	if err := set.Parse(args); err != nil {
		return err
	}
	if err := capture.CaptureCalendarPNG(ctx, capture.Options{
		BaseURL:    *base,
		Month:      *month,
		OutputPath: *out,
		BasicAuth:  a.cfg.BasicAuth,
	}); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Wrote", *out)
	return nil
}

func (a *app) previewPath() string {
	return filepath.Join(a.stateDir, "preview.png")
}

// credentials takes the email from args or a prompt, and always prompts
// for the password.
func (a *app) credentials(args []string) (string, string, error) {
	email := ""
	if len(args) > 0 {
		email = strings.TrimSpace(args[0])
	}
	if email == "" {
		v, err := a.prompt("Email: ")
		if err != nil {
			return "", "", err
		}
		email = v
	}
	password, err := a.prompt("Password: ")
	if err != nil {
		return "", "", err
	}
	if email == "" {
		return "", "", apperr.Invalid("email", "email is required")
	}
	if password == "" {
		return "", "", apperr.Invalid("password", "password is required")
	}
	return email, password, nil
}

func (a *app) prompt(label string) (string, error) {
	fmt.Fprint(a.out, label)
	line, err := a.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
