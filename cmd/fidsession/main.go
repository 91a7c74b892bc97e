package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"runtime/debug"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/pcd/fids-session/authapi"
	"github.com/pcd/fids-session/broadcast"
	"github.com/pcd/fids-session/internal/config"
	"github.com/pcd/fids-session/oauthx"
	"github.com/pcd/fids-session/session"
	"github.com/pcd/fids-session/storage"
)

const usage = `usage: fidsession <command> [flags]

commands:
  login    -email <email> -password <password>
  whoami
  refresh
  logout
`

func main() {
	if err := run(os.Args[1:]); err != nil {
		log.Fatal().Err(err).Msg("fidsession failed")
	}
}

func run(args []string) (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Any("panic", r).Msg("recovered from panic")
			debug.PrintStack()
			returnError = fmt.Errorf("panic recovered: %v", r)
		}
	}()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	_ = godotenv.Load()

	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("missing command")
	}

	cfg := config.New()
	displayAppName("FIDS Session")

	store, err := storage.OpenFileStore(cfg.GetStoreDir(), cfg.GetStorePassphrase())
	if err != nil {
		return fmt.Errorf("open session store (set FIDS_STORE_PASSPHRASE): %w", err)
	}

	client := authapi.NewClient(cfg.GetAuthBaseURL(), cfg.GetUserBaseURL(),
		authapi.WithTimeout(cfg.GetRequestTimeout()))
	manager := session.NewManager(client, store,
		session.WithBroadcast(broadcast.New(store.Dir())),
		session.WithNotificationSink(consoleSink{}),
		session.WithLeadTime(cfg.GetRefreshLeadTime()),
		session.WithRetryPolicy(cfg.GetRefreshMaxRetries(), cfg.GetRetryBaseDelay(), cfg.GetRetryMaxDelay()),
		session.WithDefaultRole(cfg.GetDefaultRole()),
	)
	defer manager.Close()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.GetRequestTimeout()*3)
	defer cancel()

	switch args[0] {
	case "login":
		return loginCommand(ctx, manager, args[1:])
	case "whoami":
		return whoamiCommand(ctx, manager)
	case "refresh":
		return refreshCommand(ctx, manager)
	case "logout":
		manager.Logout()
		return nil
	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func loginCommand(ctx context.Context, manager *session.Manager, args []string) error {
	flags := flag.NewFlagSet("login", flag.ContinueOnError)
	email := flags.String("email", "", "account email")
	password := flags.String("password", "", "account password")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if *email == "" || *password == "" {
		return fmt.Errorf("login requires -email and -password")
	}

	user, err := manager.Login(ctx, *email, *password)
	if err != nil {
		return err
	}
	fmt.Printf("Logged in as %s <%s> roles=%v\n", user.FullName(), user.Email, user.Roles)

	if tok, err := oauthx.TokenSource(manager).Token(); err == nil {
		fmt.Printf("Access token valid until %s\n", tok.Expiry.Format(time.RFC1123))
	}
	return nil
}

func whoamiCommand(ctx context.Context, manager *session.Manager) error {
	if err := manager.AutoLogin(ctx); err != nil {
		return err
	}
	user := manager.CurrentUser()
	if user == nil {
		fmt.Println("Not logged in")
		return nil
	}
	fmt.Printf("%s <%s> roles=%v state=%s\n", user.FullName(), user.Email, user.Roles, manager.State())
	return nil
}

func refreshCommand(ctx context.Context, manager *session.Manager) error {
	if err := manager.Refresh(ctx); err != nil {
		return err
	}
	_, expiry, err := manager.AccessToken()
	if err != nil {
		return err
	}
	fmt.Printf("Session refreshed, valid until %s\n", expiry.Format(time.RFC1123))
	return nil
}

type consoleSink struct{}

func (consoleSink) Notify(kind session.NotificationKind, title, message string) {
	fmt.Printf("[%s] %s: %s\n", kind, title, message)
}

func displayAppName(appName string) {
	myFigure := figure.NewFigure(appName, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
