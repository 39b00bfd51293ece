package sync

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/njoerd114/daydial/internal/cloud"
	"github.com/njoerd114/daydial/internal/model"
)

// Migration performs the one-time switch from local-only storage to the
// cloud. It compares the local collection with the account's remote events,
// prints a summary, and (with user confirmation) uploads the local events in
// one batch.
type Migration struct {
	orch   *Orchestrator
	store  LocalStore
	log    *slog.Logger
	reader io.Reader // for confirmation prompt (os.Stdin in production)
	writer io.Writer // for summary output (os.Stdout in production)
}

// NewMigration creates a Migration. reader and writer control the
// confirmation prompt I/O.
func NewMigration(orch *Orchestrator, store LocalStore, logger *slog.Logger, reader io.Reader, writer io.Writer) *Migration {
	return &Migration{
		orch:   orch,
		store:  store,
		log:    logger,
		reader: reader,
		writer: writer,
	}
}

// migrationPlan classifies both collections before anything is uploaded.
type migrationPlan struct {
	upload   []model.Event // local records that will be sent
	linked   []model.Event // local records already present remotely
	orphaned []model.Event // remote records with no local counterpart
}

// Run uploads the local collection. With clearExisting the account's remote
// events are replaced by the local ones; otherwise records already linked
// to a remote event are left alone. Returns true if the upload was
// executed, false if there was nothing to do or the user declined.
func (m *Migration) Run(ctx context.Context, clearExisting bool) (bool, error) {
	local := m.store.LoadAll(ctx)
	if len(local) == 0 {
		_, _ = fmt.Fprintln(m.writer, "No local events to migrate.")
		return false, nil
	}

	remote, err := m.orch.fetchAll(ctx)
	if err != nil {
		return false, err
	}

	plan := planMigration(local, remote, clearExisting)
	if len(plan.upload) == 0 {
		_, _ = fmt.Fprintln(m.writer, "All local events are already in the cloud.")
		return false, nil
	}

	m.printSummary(plan, clearExisting)

	if !m.confirm() {
		m.log.Info("migration cancelled by user")
		return false, nil
	}

	out, err := m.orch.BatchUpload(ctx, local, clearExisting)
	if err != nil {
		return false, fmt.Errorf("uploading local events: %w", err)
	}

	synced := 0
	for i := range out {
		if out[i].SyncStatus == model.StatusSynced {
			synced++
		}
	}
	m.log.Info("migration complete", "events", len(out), "synced", synced)
	return true, nil
}

// planMigration decides which local records are sent. Remote records are
// linked by CloudID only: content matches are left to the next full sync.
func planMigration(local, remote []model.Event, clearExisting bool) migrationPlan {
	var plan migrationPlan

	remoteIDs := make(map[string]bool, len(remote))
	for _, r := range remote {
		remoteIDs[r.CloudID] = true
	}

	claimed := make(map[string]bool, len(local))
	for _, e := range local {
		if e.CloudID != "" && remoteIDs[e.CloudID] {
			claimed[e.CloudID] = true
			if !clearExisting {
				plan.linked = append(plan.linked, e)
				continue
			}
		}
		if clearExisting || e.CloudID == "" {
			plan.upload = append(plan.upload, e)
		}
	}

	for _, r := range remote {
		if !claimed[r.CloudID] {
			plan.orphaned = append(plan.orphaned, r)
		}
	}
	return plan
}

// printSummary writes a human-readable summary of the plan.
func (m *Migration) printSummary(plan migrationPlan, clearExisting bool) {
	_, _ = fmt.Fprintf(m.writer, "\n--- Cloud Migration Summary ---\n\n")

	_, _ = fmt.Fprintf(m.writer, "To upload: %d\n", len(plan.upload))
	for _, e := range plan.upload {
		_, _ = fmt.Fprintf(m.writer, "    → %s  %s %s\n", e.DateKey, model.FormatHour(e.StartHour), e.Title)
	}
	if len(plan.linked) > 0 {
		_, _ = fmt.Fprintf(m.writer, "Already in the cloud: %d\n", len(plan.linked))
	}
	if len(plan.orphaned) > 0 {
		if clearExisting {
			_, _ = fmt.Fprintf(m.writer, "Cloud-only events that will be DELETED: %d\n", len(plan.orphaned))
		} else {
			_, _ = fmt.Fprintf(m.writer, "Cloud-only events (kept, merged on next sync): %d\n", len(plan.orphaned))
		}
		for _, e := range plan.orphaned {
			_, _ = fmt.Fprintf(m.writer, "    ← %s  %s %s\n", e.DateKey, model.FormatHour(e.StartHour), e.Title)
		}
	}
	_, _ = fmt.Fprintln(m.writer)
}

// confirm reads a y/n response from the reader.
func (m *Migration) confirm() bool {
	_, _ = fmt.Fprintf(m.writer, "Proceed with migration? [y/N] ")
	scanner := bufio.NewScanner(m.reader)
	if scanner.Scan() {
		answer := strings.TrimSpace(strings.ToLower(scanner.Text()))
		return answer == "y" || answer == "yes"
	}
	return false
}

// fetchAll lists every remote event of the account for the migration
// summary.
func (o *Orchestrator) fetchAll(ctx context.Context) ([]model.Event, error) {
	if err := o.ensureSession(ctx); err != nil {
		return nil, err
	}
	remote, err := o.remote.FetchEvents(ctx, cloud.Range{})
	if err != nil {
		if isAuthError(err) {
			return nil, notAuthenticated(err)
		}
		return nil, fmt.Errorf("%w: %w", ErrFetch, err)
	}
	return remote, nil
}
