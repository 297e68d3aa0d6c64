// Package main provides the entry point for the typepulse companion.
// It logs the user into the learning backend through a browser-mediated
// OAuth handshake and tracks typing sessions against that identity.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/typepulse/typepulse/internal/api"
	"github.com/typepulse/typepulse/internal/auth"
	"github.com/typepulse/typepulse/internal/config"
	"github.com/typepulse/typepulse/internal/credential"
	"github.com/typepulse/typepulse/internal/logging"
	"github.com/typepulse/typepulse/internal/state"
	"github.com/typepulse/typepulse/internal/tracker"
	"github.com/typepulse/typepulse/internal/watcher"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

// init initializes the shared logger setup.
func init() {
	logging.SetupBaseLogger()
}

// main parses command-line flags, loads configuration, builds the component
// graph once, and runs the requested mode.
func main() {
	var login bool
	var logout bool
	var status bool
	var track bool
	var noBrowser bool
	var oauthCallbackPort int
	var configPath string

	flag.BoolVar(&login, "login", false, "Login to the backend using OAuth")
	flag.BoolVar(&logout, "logout", false, "Clear the stored credential")
	flag.BoolVar(&status, "status", false, "Show the authenticated user")
	flag.BoolVar(&track, "track", false, "Enable activity tracking and watch the workspace")
	flag.BoolVar(&noBrowser, "no-browser", false, "Don't open browser automatically for OAuth")
	flag.IntVar(&oauthCallbackPort, "oauth-callback-port", 0, "Override OAuth callback port")
	flag.StringVar(&configPath, "config", "", "Configure File Path")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Debugf("no .env file loaded: %v", err)
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if oauthCallbackPort > 0 {
		cfg.OAuthCallbackPort = oauthCallbackPort
	}
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
	}
	if err = logging.ConfigureLogOutput(cfg.StateDir, cfg.LoggingToFile); err != nil {
		log.Warnf("failed to configure log output: %v", err)
	}

	// Composition root: every component is constructed once and passed
	// explicitly; there is no ambient global lookup.
	creds := credential.NewStore(cfg.StateDir)
	localState, err := state.Load(cfg.StateDir)
	if err != nil {
		log.Fatalf("failed to load local state: %v", err)
	}
	client := api.NewClient(cfg.BackendBaseURL, creds)
	flow := auth.NewFlow(cfg.BackendBaseURL, cfg.AuthProvider, cfg.OAuthCallbackPort, creds)
	flow.NoBrowser = noBrowser

	switch {
	case login:
		runLogin(flow)
	case logout:
		runLogout(flow)
	case status:
		runStatus(client, localState)
	case track:
		runTracker(cfg, client, localState)
	default:
		fmt.Printf("typepulse %s (%s, built %s)\n\n", Version, Commit, BuildDate)
		flag.Usage()
	}
}

// runLogin drives the loopback OAuth flow to completion.
func runLogin(flow *auth.Flow) {
	result, err := flow.Login(context.Background())
	if err != nil {
		if auth.IsAuthenticationError(err) {
			fmt.Println(auth.GetUserFriendlyMessage(err))
		} else {
			fmt.Printf("Login failed: %v\n", err)
		}
		os.Exit(1)
	}
	if result.AlreadyLoggedIn {
		fmt.Println("Already logged in")
		return
	}
	fmt.Printf("Successfully logged in as %s\n", loginName(result.Login))
}

func runLogout(flow *auth.Flow) {
	if err := flow.Logout(); err != nil {
		fmt.Printf("Logout failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Successfully logged out")
}

// runStatus performs the who-am-I call and prints the result, along with the
// tracking state recorded at last shutdown.
func runStatus(client *api.Client, localState *state.Store) {
	body := client.CurrentUser(context.Background())
	if body == nil || !gjson.GetBytes(body, "authenticated").Bool() {
		fmt.Println("Not logged in")
		os.Exit(1)
	}
	user := gjson.GetBytes(body, "user")
	name := user.Get("login").String()
	if name == "" {
		name = user.Get("name").String()
	}
	fmt.Printf("Logged in as %s\n", loginName(name))
	if localState.LoggingEnabled() {
		fmt.Println("Activity tracking: enabled")
	} else {
		fmt.Println("Activity tracking: disabled")
	}
}

// runTracker enables tracking and watches the workspace until interrupted.
func runTracker(cfg *config.Config, client *api.Client, localState *state.Store) {
	tr := tracker.New(client, localState, promptForConsent)

	if err := tr.Enable(context.Background()); err != nil {
		switch {
		case errors.Is(err, tracker.ErrAuthenticationRequired):
			fmt.Println("Please login first before enabling activity tracking (typepulse -login).")
			os.Exit(1)
		case errors.Is(err, tracker.ErrConsentDeclined):
			fmt.Println("Tracking not enabled.")
			return
		default:
			fmt.Printf("Failed to enable tracking: %v\n", err)
			os.Exit(1)
		}
	}

	w := watcher.New(cfg.WatchDir, func(path string) string {
		return tracker.ClassifyLanguage(path, "")
	})
	sub, err := w.Subscribe(&trackerHandler{tracker: tr})
	if err != nil {
		tr.Disable(context.Background())
		log.Fatalf("failed to watch workspace %s: %v", cfg.WatchDir, err)
	}

	fmt.Printf("Activity tracking enabled, watching %s (Ctrl-C to stop)\n", cfg.WatchDir)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	sub.Cancel()
	tr.Disable(context.Background())
	fmt.Println("Activity tracking disabled")
}

// trackerHandler adapts watcher events to tracker calls.
type trackerHandler struct {
	tracker *tracker.Tracker
}

func (h *trackerHandler) OnEdit(languageTag string) {
	h.tracker.OnEdit(context.Background(), languageTag)
}

func (h *trackerHandler) OnFocusChange() {
	h.tracker.OnFocusChange()
}

// promptForConsent asks for one-time tracking consent on the terminal.
func promptForConsent() bool {
	fmt.Println("typepulse would like to track your typing activity.")
	fmt.Println("We will only collect: when you type and the file extension you're working on.")
	fmt.Print("Do you consent? [y/N]: ")

	reader := bufio.NewReader(os.Stdin)
	answer, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}

func loginName(login string) string {
	if login == "" {
		return "user"
	}
	return login
}
