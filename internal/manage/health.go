package manage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sbarron/ambiance/internal/generation"
	"github.com/sbarron/ambiance/internal/store"
)

// HealthReport is the result of health_check.
type HealthReport struct {
	Healthy        bool                  `json:"healthy"`
	Issues         []string              `json:"issues,omitempty"`
	Compatibility  *store.Compatibility  `json:"compatibility,omitempty"`
	Staleness      *store.DiskComparison `json:"staleness,omitempty"`
	DuplicateFiles int                   `json:"duplicate_files"`
	LegacyOnly     bool                  `json:"legacy_only"`
	Fixes          []string              `json:"fixes,omitempty"`
	// FixTimedOut is set when auto-fix stopped at its time budget. The
	// budget is checked between steps; a running step is never interrupted.
	FixTimedOut bool `json:"fix_timed_out,omitempty"`
}

func (s *Service) healthCheck(ctx context.Context, t *target, p Params) *Response {
	rep := &HealthReport{}
	var recs []string

	switch t.res.Source {
	case store.SourceNone:
		rep.Issues = append(rep.Issues, "no embeddings stored")
	case store.SourceIndexing:
		rep.Issues = append(rep.Issues, "embedding generation in progress")
	case store.SourceLegacy:
		rep.LegacyOnly = true
		rep.Issues = append(rep.Issues, "embeddings stored under the legacy project ID only")
	}

	if hasData(t) {
		compat, err := s.compatibility(ctx, t)
		if err != nil {
			return fail(t, err)
		}
		rep.Compatibility = compat
		rep.Issues = append(rep.Issues, compat.Issues...)

		dups, err := s.store.FindStaleFileEmbeddings(ctx, t.dataID())
		if err != nil {
			return fail(t, err)
		}
		rep.DuplicateFiles = len(dups)
		if len(dups) > 0 {
			rep.Issues = append(rep.Issues, fmt.Sprintf("%d files hold superseded generations", len(dups)))
		}

		if t.hasRoot {
			cmp, _, _, err := s.diskComparison(ctx, t)
			if err != nil {
				return fail(t, err)
			}
			rep.Staleness = &cmp
			if cmp.NeedsUpdate() || len(cmp.Missing) > 0 {
				rep.Issues = append(rep.Issues, fmt.Sprintf("%d stale, %d new, %d missing files",
					len(cmp.Stale), len(cmp.New), len(cmp.Missing)))
			}
		}
	}
	rep.Healthy = len(rep.Issues) == 0

	if !p.AutoFix {
		if !rep.Healthy {
			recs = append(recs, "Run 'ambiance embeddings health_check --auto-fix' to repair automatically")
		}
		return ok(rep, recs...)
	}

	if t.res.Source == store.SourceIndexing {
		return ok(rep, "Generation is running; run the health check again once it completes")
	}
	s.autoFix(ctx, t, p, rep)
	return ok(rep, recs...)
}

// autoFix repairs what the checks found, in order: migrate legacy data,
// drop superseded generations, then regenerate. The time budget is
// advisory and only checked between steps.
func (s *Service) autoFix(ctx context.Context, t *target, p Params, rep *HealthReport) {
	budget := s.cfg.Generation.FixTimeoutDuration()
	if p.MaxFixMinutes > 0 {
		budget = time.Duration(p.MaxFixMinutes) * time.Minute
	}
	deadline := s.now().Add(budget)
	expired := func() bool {
		if s.now().After(deadline) {
			rep.FixTimedOut = true
			return true
		}
		return false
	}
	note := func(fix string) {
		rep.Fixes = append(rep.Fixes, fix)
		s.logger.Info("health_fix_applied", slog.String("project_id", t.ident.ID), slog.String("fix", fix))
	}

	if rep.LegacyOnly {
		if err := s.store.MigrateProject(ctx, t.ident.LegacyID, t.ident.ID); err != nil {
			rep.Issues = append(rep.Issues, "legacy migration failed: "+err.Error())
		} else {
			note(fmt.Sprintf("migrated legacy embeddings %s -> %s", t.ident.LegacyID, t.ident.ID))
			t.res = &store.Resolution{Source: store.SourceCurrent, ProjectID: t.ident.ID, Stats: t.res.Stats}
		}
	}
	if expired() {
		return
	}

	if rep.DuplicateFiles > 0 {
		res, err := s.store.CleanupStaleFileEmbeddings(ctx, t.dataID())
		if err != nil {
			rep.Issues = append(rep.Issues, "duplicate cleanup failed: "+err.Error())
		} else {
			note(fmt.Sprintf("removed %d superseded chunks from %d files", res.ChunksDeleted, res.StaleFilesFound))
		}
	}
	if expired() {
		return
	}

	if s.manager == nil || !t.hasRoot {
		return
	}
	var opts *generation.Options
	switch {
	case !hasData(t), rep.Compatibility != nil && !rep.Compatibility.Compatible:
		opts = &generation.Options{Clear: true}
	case rep.Staleness != nil && rep.Staleness.NeedsUpdate():
		opts = &generation.Options{Incremental: true}
	case rep.Staleness != nil && len(rep.Staleness.Missing) > 0:
		opts = &generation.Options{Clear: true}
	}
	if opts == nil {
		return
	}
	tr := s.manager.TriggerGeneration(ctx, t.ident, *opts)
	switch {
	case !tr.Started:
		rep.Issues = append(rep.Issues, "could not start generation: "+tr.Reason)
	case opts.Clear:
		note("started full regeneration (session " + tr.SessionID + ")")
	default:
		note("started incremental update (session " + tr.SessionID + ")")
	}
}
