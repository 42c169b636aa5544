package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bwmarrin/snowflake"

	"github.com/skridlevsky/repo-activity/internal/aggregate"
)

// State is where a synchronization run ended
type State int

const (
	StateScanning State = iota
	// StateNoOp: the newest recognized event is the stored snapshot
	StateNoOp
	// StateCheckpointReached: the stored snapshot was found and the delta merged
	StateCheckpointReached
	// StateBoundaryExceeded: the lookback boundary was crossed before the snapshot
	StateBoundaryExceeded
	// StatePagesExhausted: the feed ran out before the snapshot
	StatePagesExhausted
)

func (s State) String() string {
	switch s {
	case StateScanning:
		return "scanning"
	case StateNoOp:
		return "no_op"
	case StateCheckpointReached:
		return "checkpoint_reached"
	case StateBoundaryExceeded:
		return "boundary_exceeded"
	case StatePagesExhausted:
		return "pages_exhausted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Result is the outcome of a synchronization run
type Result struct {
	State State
	// Aggregate is the merged aggregate after StateCheckpointReached and the
	// untouched input otherwise
	Aggregate *aggregate.Aggregate
	RunID     string
	Pages     int
	Events    int // recognized events folded into the delta
}

// ResyncRequired reports whether the aggregate must be rebuilt from scratch
func (r *Result) ResyncRequired() bool {
	return r.State == StateBoundaryExceeded || r.State == StatePagesExhausted
}

// Updated reports whether Aggregate differs from the input
func (r *Result) Updated() bool {
	return r.State == StateCheckpointReached
}

// Syncer brings stored aggregates up to date from the account activity feed
type Syncer struct {
	provider Provider
	cfg      Config
	node     *snowflake.Node
}

// NewSyncer creates a new Syncer
func NewSyncer(provider Provider, cfg Config) (*Syncer, error) {
	cfg = cfg.withDefaults()

	node, err := snowflake.NewNode(cfg.NodeID)
	if err != nil {
		return nil, fmt.Errorf("failed to create run id generator: %w", err)
	}

	return &Syncer{
		provider: provider,
		cfg:      cfg,
		node:     node,
	}, nil
}

// Synchronize walks login's activity feed from the newest event back to the
// aggregate's snapshot and folds everything newer into a copy of agg.
//
// A provider failure or cancellation aborts the run with an error and no
// merge. When the snapshot cannot be found within the lookback window the
// result asks for a resync and agg is returned untouched.
func (s *Syncer) Synchronize(ctx context.Context, login string, agg *aggregate.Aggregate) (*Result, error) {
	if agg == nil {
		return nil, errors.New("synchronize: nil aggregate")
	}

	runID := s.node.Generate().String()
	log := slog.With("run_id", runID, "user", login, "repo", agg.FullName)
	boundary := s.cfg.Now().Add(-s.cfg.Lookback)

	p := newPager(s.provider, login, s.cfg)
	result := &Result{State: StateScanning, Aggregate: agg, RunID: runID}
	finish := func(state State) *Result {
		result.State = state
		result.Pages = p.Pages()
		return result
	}

	events, ok, err := p.Next(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch activity: %w", err)
	}
	if !ok {
		log.Info("Sync resync required", "state", StatePagesExhausted.String(), "pages", p.Pages())
		return finish(StatePagesExhausted), nil
	}

	candidate, found := ScanCheckpoint(events, agg.Name)
	if found && candidate == agg.Snapshot {
		log.Debug("Sync no-op, aggregate up to date", "snapshot", agg.Snapshot)
		return finish(StateNoOp), nil
	}

	x := &extractor{provider: s.provider, cfg: s.cfg, login: login, agg: agg, log: log}
	delta := NewDelta()

	for {
		for _, ev := range events {
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			a := classify(ev, agg.Name)
			if a.kind == KindIgnored {
				continue
			}

			if ev.ID == agg.Snapshot {
				result.Aggregate = Merge(agg, delta, candidate)
				log.Info("Sync checkpoint reached",
					"event_id", ev.ID,
					"snapshot", result.Aggregate.Snapshot,
					"events", result.Events,
					"pages", p.Pages(),
				)
				return finish(StateCheckpointReached), nil
			}

			if !ev.CreatedAt.After(boundary) {
				log.Info("Sync resync required",
					"state", StateBoundaryExceeded.String(),
					"event_id", ev.ID,
					"created_at", ev.CreatedAt,
					"boundary", boundary,
				)
				return finish(StateBoundaryExceeded), nil
			}

			if err := x.extract(ctx, a, delta); err != nil {
				if errors.Is(err, errMalformedPayload) {
					log.Warn("Failed to parse event", "event_id", ev.ID, "type", ev.Type, "error", err)
					continue
				}
				return nil, fmt.Errorf("failed to extract %s event %s: %w", a.kind, ev.ID, err)
			}
			result.Events++
		}

		events, ok, err = p.Next(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch activity: %w", err)
		}
		if !ok {
			log.Info("Sync resync required", "state", StatePagesExhausted.String(), "pages", p.Pages())
			return finish(StatePagesExhausted), nil
		}
	}
}
