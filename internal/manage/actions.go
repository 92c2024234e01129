package manage

import (
	"context"
	"fmt"
	"path"
	"sort"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/sbarron/ambiance/internal/chunk"
	amerrors "github.com/sbarron/ambiance/internal/errors"
	"github.com/sbarron/ambiance/internal/generation"
	"github.com/sbarron/ambiance/internal/store"
)

// GenerationStatus is the live or last generation session of a project.
type GenerationStatus struct {
	Session   *generation.Session `json:"session"`
	Percent   float64             `json:"percent"`
	ETA       string              `json:"eta,omitempty"`
	StartedAt string              `json:"started,omitempty"`
}

// StatusResult is the result of the status action.
type StatusResult struct {
	Source        store.LookupSource   `json:"source"`
	Stats         *store.ProjectStats  `json:"stats,omitempty"`
	Model         *store.ModelInfo     `json:"model,omitempty"`
	Compatibility *store.Compatibility `json:"compatibility,omitempty"`
	Generation    *GenerationStatus    `json:"generation,omitempty"`
	LastUpdated   string               `json:"last_updated,omitempty"`
	StoreSize     string               `json:"store_size,omitempty"`
}

func (s *Service) status(ctx context.Context, t *target) *Response {
	res := &StatusResult{Source: t.res.Source, Stats: t.res.Stats, Generation: s.generationStatus(t.ident.ID)}
	var recs []string

	if size, err := s.store.Size(ctx); err == nil {
		res.StoreSize = humanize.Bytes(uint64(size))
	}

	switch t.res.Source {
	case store.SourceNone:
		recs = append(recs, "No embeddings found; run 'ambiance embeddings create' to index this project")
	case store.SourceIndexing:
		recs = append(recs, "Embedding generation is running; check again shortly")
	case store.SourceLegacy:
		recs = append(recs, "Embeddings are stored under the legacy project ID; run 'ambiance embeddings health_check --auto-fix' to migrate them")
	}

	if t.res.Stats != nil && t.res.Stats.TotalChunks > 0 {
		res.LastUpdated = humanize.RelTime(t.res.Stats.LastUpdated, s.now(), "ago", "from now")
		model, err := s.store.GetModelInfo(ctx, t.dataID())
		if err != nil {
			return fail(t, err)
		}
		res.Model = model
		compat, err := s.compatibility(ctx, t)
		if err != nil {
			return fail(t, err)
		}
		res.Compatibility = compat
		if !compat.Compatible {
			recs = append(recs, compat.Recommendations...)
		}
	}

	if g := res.Generation; g != nil && len(g.Session.Errors) > 0 && !g.Session.IsGenerating {
		recs = append(recs, fmt.Sprintf("The last generation reported %d file errors; see the session errors", len(g.Session.Errors)))
	}
	return ok(res, recs...)
}

func (s *Service) generationStatus(projectID string) *GenerationStatus {
	if s.manager == nil {
		return nil
	}
	session, found := s.manager.GetGenerationStatus(projectID)
	if !found {
		return nil
	}
	g := &GenerationStatus{
		Session:   session,
		StartedAt: humanize.RelTime(session.StartedAt, s.now(), "ago", "from now"),
	}
	if total := session.Progress.TotalFiles; total > 0 {
		g.Percent = float64(session.Progress.ProcessedFiles) / float64(total) * 100
	}
	if eta, ok := session.ETA(s.now()); ok {
		g.ETA = eta.Round(time.Second).String()
	}
	return g
}

func (s *Service) compatibility(ctx context.Context, t *target) (*store.Compatibility, error) {
	dims, err := s.currentDims(ctx)
	if err != nil {
		return nil, err
	}
	return s.store.ValidateEmbeddingCompatibility(ctx, t.dataID(), s.embedder.Provider(), dims)
}

func (s *Service) validate(ctx context.Context, t *target) *Response {
	if !hasData(t) {
		return notIndexed(t)
	}
	compat, err := s.compatibility(ctx, t)
	if err != nil {
		return fail(t, err)
	}
	return ok(compat, compat.Recommendations...)
}

// GenerateResult is the result of create and update.
type GenerateResult struct {
	Started   bool   `json:"started"`
	SessionID string `json:"session_id,omitempty"`
	Mode      string `json:"mode"`
}

func (s *Service) generate(ctx context.Context, t *target, opts generation.Options) *Response {
	if s.manager == nil {
		return fail(t, amerrors.InternalError("generation is not available in this process", nil))
	}
	if !t.hasRoot {
		return needsRoot(t)
	}
	if s.manager.IsGenerating(t.ident.ID) {
		return fail(t, amerrors.GenerationInProgress(t.ident.ID),
			"Check progress with 'ambiance embeddings status'")
	}

	tr := s.manager.TriggerGeneration(ctx, t.ident, opts)
	mode := "full"
	if opts.Incremental {
		mode = "incremental"
	}
	if !tr.Started {
		err := amerrors.GenerationInProgress(t.ident.ID).WithDetail("reason", tr.Reason)
		if tr.Reason == generation.ReasonShuttingDown {
			err = amerrors.InternalError("cannot start generation: "+tr.Reason, nil)
		}
		return fail(t, err)
	}
	return ok(&GenerateResult{Started: true, SessionID: tr.SessionID, Mode: mode},
		"Generation runs in the background; track it with 'ambiance embeddings status'")
}

// StaleResult is the result of check_stale.
type StaleResult struct {
	store.DiskComparison
	StoredFiles int `json:"stored_files"`
	DiskFiles   int `json:"disk_files"`
}

func (s *Service) checkStale(ctx context.Context, t *target) *Response {
	if !t.hasRoot {
		return needsRoot(t)
	}
	cmp, stored, disk, err := s.diskComparison(ctx, t)
	if err != nil {
		return fail(t, err)
	}
	return ok(&StaleResult{DiskComparison: cmp, StoredFiles: stored, DiskFiles: disk}, staleRecommendations(cmp)...)
}

func (s *Service) diskComparison(ctx context.Context, t *target) (store.DiskComparison, int, int, error) {
	records, err := s.store.ListProjectFiles(ctx, t.dataID())
	if err != nil {
		return store.DiskComparison{}, 0, 0, err
	}
	files, err := s.lister.List(ctx, t.ident.Root, chunk.ListOptions{
		MaxFiles: s.cfg.Generation.MaxFiles,
		Exclude:  s.cfg.Paths.Exclude,
	})
	if err != nil {
		return store.DiskComparison{}, 0, 0, amerrors.New(amerrors.ErrCodeInvalidPath, "cannot list project files", err)
	}
	return store.CompareWithDisk(records, files), len(records), len(files), nil
}

func staleRecommendations(cmp store.DiskComparison) []string {
	var recs []string
	if cmp.NeedsUpdate() {
		recs = append(recs, fmt.Sprintf("%d stale and %d new files; run 'ambiance embeddings update'",
			len(cmp.Stale), len(cmp.New)))
	}
	if len(cmp.Missing) > 0 {
		recs = append(recs, fmt.Sprintf("%d embedded files no longer exist on disk; run 'ambiance embeddings create' to drop them",
			len(cmp.Missing)))
	}
	return recs
}

// DuplicatesResult is the result of find_duplicates.
type DuplicatesResult struct {
	Files             []store.StaleFile `json:"files"`
	Count             int               `json:"count"`
	ReclaimableChunks int               `json:"reclaimable_chunks"`
	ReclaimableBytes  string            `json:"reclaimable_bytes"`
}

func (s *Service) findDuplicates(ctx context.Context, t *target) *Response {
	stale, err := s.store.FindStaleFileEmbeddings(ctx, t.dataID())
	if err != nil {
		return fail(t, err)
	}
	res := &DuplicatesResult{Files: stale, Count: len(stale)}
	var bytes int64
	for _, f := range stale {
		for _, g := range f.Generations[1:] {
			res.ReclaimableChunks += g.ChunkCount
			bytes += g.ByteSize
		}
	}
	res.ReclaimableBytes = humanize.Bytes(uint64(bytes))
	if res.Count == 0 {
		return ok(res)
	}
	return ok(res, fmt.Sprintf("%d files hold superseded generations; run 'ambiance embeddings cleanup_duplicates'", res.Count))
}

// CleanupResult is the result of cleanup_duplicates.
type CleanupResult struct {
	*store.CleanupResult
	SpaceSavedHuman string `json:"space_saved_human"`
}

func (s *Service) cleanupDuplicates(ctx context.Context, t *target) *Response {
	if s.manager != nil && s.manager.IsGenerating(t.ident.ID) {
		return fail(t, amerrors.GenerationInProgress(t.ident.ID))
	}
	res, err := s.store.CleanupStaleFileEmbeddings(ctx, t.dataID())
	if err != nil {
		return fail(t, err)
	}
	return ok(&CleanupResult{CleanupResult: res, SpaceSavedHuman: humanize.Bytes(uint64(res.SpaceSaved))})
}

// ProjectSummary is one entry of list_projects.
type ProjectSummary struct {
	store.ProjectRecord
	Updated    string `json:"updated"`
	Generating bool   `json:"generating"`
}

// ProjectList is the result of list_projects.
type ProjectList struct {
	Projects []ProjectSummary `json:"projects"`
	Count    int              `json:"count"`
}

func (s *Service) listProjects(ctx context.Context) *Response {
	recs, err := s.store.ListProjects(ctx)
	if err != nil {
		return fail(nil, err)
	}
	list := &ProjectList{Projects: make([]ProjectSummary, 0, len(recs)), Count: len(recs)}
	for _, r := range recs {
		list.Projects = append(list.Projects, ProjectSummary{
			ProjectRecord: r,
			Updated:       humanize.RelTime(r.LastUpdated, s.now(), "ago", "from now"),
			Generating:    s.manager != nil && s.manager.IsGenerating(r.ProjectID),
		})
	}
	if list.Count == 0 {
		return ok(list, "No projects indexed yet; run 'ambiance embeddings create <path>'")
	}
	return ok(list)
}

// DeleteResult is the result of delete_project.
type DeleteResult struct {
	Deleted []string `json:"deleted"`
}

func (s *Service) deleteProject(ctx context.Context, t *target, p Params) *Response {
	if s.manager != nil && s.manager.IsGenerating(t.ident.ID) {
		return fail(t, amerrors.GenerationInProgress(t.ident.ID))
	}

	ids := []string{t.ident.ID}
	if p.Force && t.ident.HasLegacy() {
		ids = append(ids, t.ident.LegacyID)
	}
	res := &DeleteResult{}
	for _, id := range ids {
		err := s.store.DeleteProject(ctx, id)
		switch {
		case err == nil:
			res.Deleted = append(res.Deleted, id)
		case amerrors.GetCode(err) == amerrors.ErrCodeNotFound:
		default:
			return fail(t, err)
		}
	}
	if len(res.Deleted) == 0 {
		recs := []string{"List indexed projects with 'ambiance embeddings list_projects'"}
		if t.res.Source == store.SourceLegacy {
			recs = append(recs, "Data exists under the legacy ID only; pass --force to delete it")
		}
		return fail(t, amerrors.NotFound("project "+t.ident.ID), recs...)
	}
	if s.manager != nil {
		s.manager.ClearSession(t.ident.ID)
	}
	return ok(res)
}

// ProjectDetails is the result of project_details.
type ProjectDetails struct {
	Record         *store.ProjectRecord `json:"record"`
	Stats          *store.ProjectStats  `json:"stats"`
	Languages      map[string]int       `json:"languages"`
	Files          []store.FileRecord   `json:"files"`
	DuplicateFiles int                  `json:"duplicate_files"`
	Generation     *GenerationStatus    `json:"generation,omitempty"`
}

// maxDetailFiles bounds the file list in project_details.
const maxDetailFiles = 100

func (s *Service) projectDetails(ctx context.Context, t *target) *Response {
	id := t.dataID()
	rec, err := s.store.GetProject(ctx, id)
	if err != nil {
		return fail(t, err)
	}
	if rec == nil {
		return notIndexed(t)
	}
	stats, err := s.store.GetProjectStats(ctx, id)
	if err != nil {
		return fail(t, err)
	}
	files, err := s.store.ListProjectFiles(ctx, id)
	if err != nil {
		return fail(t, err)
	}
	dups, err := s.store.FindStaleFileEmbeddings(ctx, id)
	if err != nil {
		return fail(t, err)
	}

	d := &ProjectDetails{
		Record:         rec,
		Stats:          stats,
		Languages:      map[string]int{},
		DuplicateFiles: len(dups),
		Generation:     s.generationStatus(t.ident.ID),
	}
	for _, f := range files {
		lang := chunk.DetectLanguage(f.FilePath)
		if lang == "" {
			lang = path.Ext(f.FilePath)
		}
		d.Languages[lang]++
	}
	sort.SliceStable(files, func(i, j int) bool { return files[i].EmbeddedAt.After(files[j].EmbeddedAt) })
	d.Files = files[:min(len(files), maxDetailFiles)]

	var recs []string
	if len(dups) > 0 {
		recs = append(recs, "Run 'ambiance embeddings cleanup_duplicates' to drop superseded generations")
	}
	return ok(d, recs...)
}

func hasData(t *target) bool {
	return t.res != nil && (t.res.Source == store.SourceCurrent || t.res.Source == store.SourceLegacy)
}
