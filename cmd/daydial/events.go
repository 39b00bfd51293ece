package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/njoerd114/daydial/internal/model"
	"github.com/njoerd114/daydial/internal/planner"
)

// runAdd plans a new event.
func runAdd(args []string) error {
	fs, flags := newFlagSet("add")
	date := fs.String("date", "", "day of the event, YYYY-MM-DD (default today)")
	from := fs.String("from", "", "start time, HH:MM or fractional hour (required)")
	to := fs.String("to", "", "end time; earlier than --from means the next day (default one hour later)")
	desc := fs.String("desc", "", "description")
	category := fs.String("category", "", "category")
	emoji := fs.String("emoji", "", "emoji")
	color := fs.String("color", "", "color, e.g. #ff8800")
	with := fs.String("with", "", "comma-separated participants")
	notify := fs.String("notify", "", "comma-separated reminder offsets in minutes before start; 'end' for at end")
	if err := fs.Parse(args); err != nil {
		return err
	}
	title := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if title == "" {
		return errors.New("usage: daydial add --from HH:MM [flags] <title...>")
	}
	if *from == "" {
		return errors.New("--from is required")
	}

	ctx, stop := signalContext()
	defer stop()

	a, err := openApp(ctx, flags, slog.LevelWarn)
	if err != nil {
		return err
	}
	defer a.close()

	d := planner.Draft{
		Title:        title,
		Description:  *desc,
		Category:     *category,
		Emoji:        *emoji,
		Color:        *color,
		Participants: splitList(*with),
	}
	if d.DateKey, err = resolveDate(*date, a.cfg.Location()); err != nil {
		return err
	}
	if d.StartHour, err = parseHour(*from); err != nil {
		return fmt.Errorf("--from: %w", err)
	}
	d.EndHour = d.StartHour + 1
	if *to != "" {
		if d.EndHour, err = parseHour(*to); err != nil {
			return fmt.Errorf("--to: %w", err)
		}
		if d.EndHour <= d.StartHour {
			d.EndHour += 24
		}
	}
	if d.Notifications, err = parseNotify(*notify); err != nil {
		return fmt.Errorf("--notify: %w", err)
	}

	e, err := a.planner.Add(ctx, d)
	if err != nil {
		return err
	}
	fmt.Printf("✓ Added %s  %s\n", shortID(e.ID), describe(e))
	return nil
}

// runList prints one day, or every day with --all.
func runList(args []string) error {
	fs, flags := newFlagSet("list")
	date := fs.String("date", "", "day to show, YYYY-MM-DD (default today)")
	all := fs.Bool("all", false, "show every day")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx := context.Background()
	a, err := openApp(ctx, flags, slog.LevelWarn)
	if err != nil {
		return err
	}
	defer a.close()

	var events []model.Event
	if *all {
		events = a.planner.All(ctx)
	} else {
		key, err := resolveDate(*date, a.cfg.Location())
		if err != nil {
			return err
		}
		events = a.planner.Day(ctx, key)
		fmt.Println(key)
	}

	if len(events) == 0 {
		fmt.Println("  (no events)")
		return nil
	}
	day := ""
	for _, e := range events {
		if *all && e.DateKey != day {
			day = e.DateKey
			fmt.Println(day)
		}
		fmt.Printf("  %s  %s\n", shortID(e.ID), describe(e))
	}
	return nil
}

// runDone marks an event completed.
func runDone(args []string) error {
	return withEvent("done", args, func(ctx context.Context, a *app, id string) error {
		e, err := a.planner.Complete(ctx, id)
		if err != nil {
			return err
		}
		fmt.Printf("✓ Completed %s\n", e.Title)
		return nil
	})
}

// runRemove deletes an event.
func runRemove(args []string) error {
	return withEvent("rm", args, func(ctx context.Context, a *app, id string) error {
		if err := a.planner.Remove(ctx, id); err != nil {
			return err
		}
		fmt.Printf("✓ Removed %s\n", shortID(id))
		return nil
	})
}

// withEvent opens the app, resolves the single ID argument and calls fn.
func withEvent(name string, args []string, fn func(context.Context, *app, string) error) error {
	fs, flags := newFlagSet(name)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: daydial %s <id>", name)
	}

	ctx, stop := signalContext()
	defer stop()

	a, err := openApp(ctx, flags, slog.LevelWarn)
	if err != nil {
		return err
	}
	defer a.close()

	id, err := resolveID(a.planner.All(ctx), fs.Arg(0))
	if err != nil {
		return err
	}
	return fn(ctx, a, id)
}

// --- Formatting and parsing ----------------------------------------------------

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func describe(e model.Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s–%s  ", model.FormatHour(e.StartHour), model.FormatHour(e.EndHour))
	if e.IsCompleted {
		b.WriteString("✓ ")
	}
	if e.Emoji != "" {
		b.WriteString(e.Emoji + " ")
	}
	b.WriteString(e.Title)
	if len(e.Participants) > 0 {
		fmt.Fprintf(&b, " (with %s)", strings.Join(e.Participants, ", "))
	}
	if e.SyncStatus != model.StatusSynced && e.SyncStatus != model.StatusLocal {
		fmt.Fprintf(&b, "  [%s]", e.SyncStatus)
	}
	return b.String()
}

// resolveID accepts a full ID or an unambiguous prefix.
func resolveID(events []model.Event, arg string) (string, error) {
	var match string
	for _, e := range events {
		if e.ID == arg {
			return e.ID, nil
		}
		if strings.HasPrefix(e.ID, arg) {
			if match != "" {
				return "", fmt.Errorf("id %q is ambiguous", arg)
			}
			match = e.ID
		}
	}
	if match == "" {
		return "", fmt.Errorf("%w: %s", planner.ErrNotFound, arg)
	}
	return match, nil
}

func resolveDate(s string, loc *time.Location) (string, error) {
	switch s {
	case "", "today":
		return model.DateKeyFor(time.Now(), loc), nil
	case "tomorrow":
		return model.DateKeyFor(time.Now().AddDate(0, 0, 1), loc), nil
	}
	if _, err := model.ParseDateKey(s, loc); err != nil {
		return "", err
	}
	return s, nil
}

// parseHour accepts "18:30", "18" or "18.5".
func parseHour(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if h, m, ok := strings.Cut(s, ":"); ok {
		hours, err := strconv.Atoi(h)
		if err != nil {
			return 0, fmt.Errorf("invalid hour %q", s)
		}
		minutes, err := strconv.Atoi(m)
		if err != nil || minutes < 0 || minutes >= 60 {
			return 0, fmt.Errorf("invalid minutes in %q", s)
		}
		return float64(hours) + float64(minutes)/60, nil
	}
	h, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid hour %q", s)
	}
	return h, nil
}

func parseNotify(s string) (model.NotificationSettings, error) {
	var n model.NotificationSettings
	for _, part := range splitList(s) {
		if part == "end" {
			n.Offsets = append(n.Offsets, model.OffsetAtEnd)
			continue
		}
		minutes, err := strconv.Atoi(part)
		if err != nil || minutes < 0 {
			return n, fmt.Errorf("invalid offset %q", part)
		}
		n.Offsets = append(n.Offsets, minutes)
	}
	n.Enabled = len(n.Offsets) > 0
	return n, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
