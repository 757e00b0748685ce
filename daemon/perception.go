package daemon

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/signetai/signet/capture"
	"github.com/signetai/signet/config"
)

const (
	persistInterval = 5 * time.Minute

	defaultPerceptionRetentionDays = 7
)

// perceptionPersister copies screen and terminal captures from the in-memory
// stores into the perception_screen and perception_terminal tables, where
// the distiller's working-style computation reads them. Capture ids are the
// primary keys, so re-reading an overlapping window is harmless.
type perceptionPersister struct {
	db        *sql.DB
	manager   *capture.Manager
	retention time.Duration
	logger    *zap.SugaredLogger

	lastFlush time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newPerceptionPersister(database *sql.DB, manager *capture.Manager, cfg config.PerceptionConfig, logger *zap.SugaredLogger) *perceptionPersister {
	days := cfg.MaxRetentionDays
	if days <= 0 {
		days = defaultPerceptionRetentionDays
	}
	return &perceptionPersister{
		db:        database,
		manager:   manager,
		retention: time.Duration(days) * 24 * time.Hour,
		logger:    logger,
		lastFlush: time.Now().Add(-persistInterval),
	}
}

func (p *perceptionPersister) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(persistInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := p.flush(ctx); err != nil {
					p.logger.Warnw("Perception persistence failed", "error", err)
				}
			}
		}
	}()
}

func (p *perceptionPersister) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

// flush writes captures since the previous flush, with a one-interval
// overlap absorbed by the INSERT OR IGNORE primary keys.
func (p *perceptionPersister) flush(ctx context.Context) error {
	now := time.Now()
	bundle := p.manager.GetRecentCaptures(p.lastFlush.Add(-persistInterval))
	p.lastFlush = now

	for _, c := range bundle.Screen {
		if _, err := p.db.ExecContext(ctx, `INSERT OR IGNORE INTO perception_screen
			(id, timestamp, focused_app, focused_window, bundle_id, ocr_text)
			VALUES (?, ?, ?, ?, ?, ?)`,
			c.ID, c.Timestamp.UTC().Format(time.RFC3339),
			c.FocusedApp, c.FocusedWindow, c.BundleID, c.OCRText,
		); err != nil {
			return err
		}
	}
	for _, c := range bundle.Terminal {
		if _, err := p.db.ExecContext(ctx, `INSERT OR IGNORE INTO perception_terminal
			(id, timestamp, command, working_directory, shell)
			VALUES (?, ?, ?, ?, ?)`,
			c.ID, c.Timestamp.UTC().Format(time.RFC3339),
			c.Command, c.WorkingDirectory, c.Shell,
		); err != nil {
			return err
		}
	}

	cutoff := now.Add(-p.retention).UTC().Format(time.RFC3339)
	for _, table := range []string{"perception_screen", "perception_terminal"} {
		if _, err := p.db.ExecContext(ctx,
			"DELETE FROM "+table+" WHERE timestamp < ?", cutoff); err != nil {
			return err
		}
	}
	return nil
}
