package setup

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/njoerd114/daydial/internal/auth"
	"github.com/njoerd114/daydial/internal/cloud"
	"github.com/njoerd114/daydial/internal/config"
	"github.com/njoerd114/daydial/internal/model"
)

// DefaultAPIURL is offered as the event API address.
const DefaultAPIURL = "https://api.daydial.app"

// Wizard guides the user through first-run configuration.
type Wizard struct {
	prompt  *Prompter
	logger  *slog.Logger
	w       io.Writer
	cfgPath string
}

// NewWizard creates a Wizard that writes its result to cfgPath.
func NewWizard(r io.Reader, w io.Writer, logger *slog.Logger, cfgPath string) *Wizard {
	return &Wizard{
		prompt:  NewPrompter(r, w),
		logger:  logger,
		w:       w,
		cfgPath: cfgPath,
	}
}

// Run executes the interactive setup wizard. It walks the user through the
// cloud account, the sync schedule and local display settings, then writes
// the config file.
func (wiz *Wizard) Run(ctx context.Context) error {
	fmt.Fprintf(wiz.w, "\nWelcome to daydial setup!\n")
	fmt.Fprintf(wiz.w, "This wizard writes %s.\n\n", wiz.cfgPath)

	if _, statErr := os.Stat(wiz.cfgPath); statErr == nil {
		fmt.Fprintf(wiz.w, "  Existing config found at %s\n", wiz.cfgPath)
		if !wiz.prompt.Confirm("Overwrite existing configuration?", false) {
			fmt.Fprintf(wiz.w, "\n  Keeping existing config.\n")
			return nil
		}
		fmt.Fprintf(wiz.w, "\n")
	}

	cfg := &config.Config{}

	// Step 1: Cloud account.
	fmt.Fprintf(wiz.w, "Step 1/4 · Cloud Sync\n")
	cfg.CloudSync = wiz.prompt.Confirm("Sync events with your daydial account?", true)
	if cfg.CloudSync {
		if err := wiz.account(ctx, cfg); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(wiz.w, "  Events will be kept on this device only.\n")
	}
	fmt.Fprintf(wiz.w, "\n")

	// Step 2: Schedule.
	fmt.Fprintf(wiz.w, "Step 2/4 · Sync Schedule\n")
	if cfg.CloudSync {
		if err := wiz.schedule(cfg); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(wiz.w, "  (skipped, cloud sync is off)\n")
	}
	fmt.Fprintf(wiz.w, "\n")

	// Step 3: Display.
	fmt.Fprintf(wiz.w, "Step 3/4 · Display\n")
	zone := time.Local.String()
	if zone == "Local" {
		zone = "UTC"
	}
	cfg.TimeZone = wiz.prompt.String("Time zone", zone)
	cfg.WidgetPath = wiz.prompt.Optional("Widget file for today's events")
	fmt.Fprintf(wiz.w, "\n")

	// Step 4: Write config.
	fmt.Fprintf(wiz.w, "Step 4/4 · Save Configuration\n")
	if err := cfg.Write(wiz.cfgPath); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	fmt.Fprintf(wiz.w, "  ✓ Config written to %s\n\n", wiz.cfgPath)

	fmt.Fprintf(wiz.w, "Next steps:\n")
	if cfg.CloudSync {
		fmt.Fprintf(wiz.w, "  daydial migrate     upload events created before cloud sync\n")
		fmt.Fprintf(wiz.w, "  daydial daemon      keep syncing in the background\n")
	}
	fmt.Fprintf(wiz.w, "  daydial add ...     plan your day\n\n")
	return nil
}

// account asks for the API address and credentials and checks them.
func (wiz *Wizard) account(ctx context.Context, cfg *config.Config) error {
	cfg.APIURL = wiz.prompt.String("API URL", DefaultAPIURL)

	idx, err := wiz.prompt.Select("How should daydial get your sign-in token?", []string{
		"Paste a token now",
		"Read it from a file kept fresh by another tool",
	})
	if err != nil {
		return fmt.Errorf("selecting token source: %w", err)
	}
	if idx == 0 {
		cfg.Token = wiz.prompt.Secret("Token", false)
	} else {
		cfg.TokenFile = wiz.prompt.String("Token file", "")
	}

	fmt.Fprintf(wiz.w, "  Checking your account...")
	session := auth.NewSession(cfg.Token, cfg.TokenFile)
	info, err := CheckAccount(ctx, cfg.APIURL, session)
	if err != nil {
		fmt.Fprintf(wiz.w, " ✗\n")
		wiz.logger.Debug("account check failed", "api_url", cfg.APIURL, "error", err)
		return fmt.Errorf("cannot reach the event API: %w\n\n  Check the URL and token, then try again", err)
	}
	fmt.Fprintf(wiz.w, " ✓\n")
	if info.Email != "" {
		fmt.Fprintf(wiz.w, "  Signed in as %s\n", info.Email)
	}
	if !info.ExpiresAt.IsZero() {
		fmt.Fprintf(wiz.w, "  Token expires %s\n", info.ExpiresAt.Local().Format(time.RFC1123))
	}
	return nil
}

// schedule asks for either a fixed interval or a cron expression.
func (wiz *Wizard) schedule(cfg *config.Config) error {
	idx, err := wiz.prompt.Select("When should the daemon sync?", []string{
		"At a fixed interval",
		"On a cron schedule",
	})
	if err != nil {
		return fmt.Errorf("selecting schedule: %w", err)
	}
	if idx == 1 {
		cfg.Schedule = wiz.prompt.String("Cron expression (minute hour dom month dow)", "*/15 7-22 * * *")
		return nil
	}

	pollStr := wiz.prompt.String("Sync every (30s–1h)", "5m")
	poll, parseErr := time.ParseDuration(pollStr)
	if parseErr != nil {
		poll = 5 * time.Minute
		fmt.Fprintf(wiz.w, "  (invalid duration, using default 5m)\n")
	}
	cfg.PollInterval = poll
	return nil
}

// CheckAccount verifies that the token is usable and the API answers an
// authenticated request. It lists today's events, which is cheap and has no
// side effects.
func CheckAccount(ctx context.Context, apiURL string, session *auth.Session, opts ...cloud.Option) (auth.Info, error) {
	info, err := session.Info(ctx)
	if err != nil {
		return auth.Info{}, err
	}

	opts = append([]cloud.Option{cloud.WithMaxAttempts(1)}, opts...)
	client := cloud.NewClient(apiURL, session, opts...)

	today := model.DateKeyFor(time.Now(), time.Local)
	if _, err := client.FetchEvents(ctx, cloud.Range{Start: today, End: today}); err != nil {
		return auth.Info{}, err
	}
	return info, nil
}
