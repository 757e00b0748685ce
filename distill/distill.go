// Package distill runs the long-cycle synthesis passes: the cognitive
// profile, the expertise graph, and the agent card derived from both.
package distill

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/signetai/signet/errors"
	"github.com/signetai/signet/memory"
)

const (
	// RunInterval is the distillation cadence.
	RunInterval = 24 * time.Hour

	// checkInterval is how often the background loop re-evaluates the gate.
	checkInterval = time.Hour

	stateLastRun     = "distillation.lastRun"
	stateLastProfile = "distillation.lastProfileUpdate"
	stateLastGraph   = "distillation.lastGraphUpdate"
	stateLastCard    = "distillation.lastCardGeneration"
)

// generator is the slice of the LLM client profile synthesis needs.
type generator interface {
	Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error)
	Available(ctx context.Context) bool
}

// Distiller owns the synthesis passes and their run gating.
type Distiller struct {
	db      *sql.DB
	store   *memory.Store
	client  generator
	graph   *Graph
	version string
	logger  *zap.SugaredLogger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(database *sql.DB, store *memory.Store, client generator, version string, logger *zap.SugaredLogger) *Distiller {
	return &Distiller{
		db:      database,
		store:   store,
		client:  client,
		graph:   NewGraph(database, logger),
		version: version,
		logger:  logger,
	}
}

// Graph exposes the expertise graph for query paths.
func (d *Distiller) Graph() *Graph { return d.graph }

// Start runs the hourly gate check in the background until Stop.
func (d *Distiller) Start(ctx context.Context) {
	ctx, d.cancel = context.WithCancel(ctx)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ticker := time.NewTicker(checkInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if !d.ShouldRun(ctx, time.Now()) {
					continue
				}
				if err := d.Run(ctx); err != nil {
					d.logger.Warnw("Distillation failed", "error", err)
				}
			}
		}
	}()
}

func (d *Distiller) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()
}

// ShouldRun reports whether a full interval has elapsed since the last run.
// A missing or unparseable state row means run now.
func (d *Distiller) ShouldRun(ctx context.Context, now time.Time) bool {
	raw, err := d.getState(ctx, stateLastRun)
	if err != nil || raw == "" {
		return true
	}
	last, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return true
	}
	return now.Sub(last) >= RunInterval
}

// Run executes one full distillation pass: profile, then graph, then card.
// Each pass records its own state key so a partial failure resumes cleanly.
func (d *Distiller) Run(ctx context.Context) error {
	now := time.Now()
	d.logger.Infow("Distillation starting")

	if _, err := d.UpdateProfile(ctx); err != nil {
		return errors.Wrap(err, "profile update")
	}
	if err := d.setState(ctx, stateLastProfile, now); err != nil {
		return err
	}

	memories, err := d.store.All(ctx)
	if err != nil {
		return errors.Wrap(err, "load memories for graph")
	}
	nodes, edges, err := d.graph.Rebuild(ctx, memories)
	if err != nil {
		return errors.Wrap(err, "graph rebuild")
	}
	if err := d.setState(ctx, stateLastGraph, now); err != nil {
		return err
	}

	// The card is derived state; generating it here just validates the
	// inputs and stamps the state key.
	if _, err := d.Card(ctx); err != nil {
		return errors.Wrap(err, "agent card")
	}
	if err := d.setState(ctx, stateLastCard, now); err != nil {
		return err
	}

	if err := d.setState(ctx, stateLastRun, now); err != nil {
		return err
	}
	d.logger.Infow("Distillation complete", "nodes", nodes, "edges", edges)
	return nil
}

// Card assembles the agent card from the persisted profile and the top
// expertise nodes. Pure read of stored state.
func (d *Distiller) Card(ctx context.Context) (*AgentCard, error) {
	profile, err := d.CurrentProfile(ctx)
	if err != nil {
		return nil, err
	}
	top, err := d.graph.TopNodes(ctx, cardSkillLimit)
	if err != nil {
		return nil, err
	}
	card := BuildAgentCard(profile, top, d.version)
	return &card, nil
}

func (d *Distiller) getState(ctx context.Context, key string) (string, error) {
	var value string
	err := d.db.QueryRowContext(ctx,
		"SELECT value FROM perception_state WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, errors.Wrapf(err, "read state %s", key)
}

func (d *Distiller) setState(ctx context.Context, key string, t time.Time) error {
	_, err := d.db.ExecContext(ctx, `INSERT INTO perception_state (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, t.UTC().Format(time.RFC3339), time.Now().UTC().Format(time.RFC3339))
	return errors.Wrapf(err, "write state %s", key)
}
