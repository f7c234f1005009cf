package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/nao1215/arbiter/internal/database"
	"github.com/nao1215/arbiter/internal/model"
)

// Collection names as stored in the items table.
const (
	CollectionSubdomains      = "subdomains"
	CollectionLiveHosts       = "live_hosts"
	CollectionVulnerabilities = "vulnerabilities"
	CollectionAddressRanges   = "address_ranges"
	CollectionCrawledURLs     = "crawled_urls"
	CollectionEndpoints       = "endpoints"
)

// Document names as stored in the documents table.
const (
	documentEmailSecurity = "email_security"
	documentTechnologies  = "technologies"
	documentCloudAssets   = "cloud_assets"
)

// Metadata keys.
const (
	metaDomain    = "domain"
	metaMode      = "mode"
	metaCreatedAt = "created_at"
)

// Session is the aggregate root of one scan: the target, the mode it was
// started with, which phases have completed, and every finding so far.
//
// Everything a Session holds lives in its durable store. Collections can be
// appended to from many goroutines; documents are last-write-wins.
type Session struct {
	domain string
	mode   model.Mode
	db     *database.SessionDB
	logger *slog.Logger

	// docMu serializes read-modify-write cycles on documents.
	docMu sync.Mutex

	runID string

	Subdomains      *Collection[string]
	LiveHosts       *Collection[model.LiveHost]
	Vulnerabilities *Collection[model.Vulnerability]
	AddressRanges   *Collection[string]
	CrawledURLs     *Collection[string]
	Endpoints       *Collection[string]
}

// Options configures Open.
type Options struct {
	// Dir is the directory holding session stores.
	Dir string

	// Domain is the target. It is normalized before use.
	Domain string

	// Mode is the scan mode. A new session records it; a resumed session
	// must match it.
	Mode model.Mode

	// Resume loads previous state for the domain instead of starting over.
	Resume bool

	// Logger receives storage errors. Defaults to slog.Default().
	Logger *slog.Logger
}

// Open creates or resumes the session for opts.Domain.
//
// Without Resume any previous state for the domain is discarded first.
// With Resume the previous state is loaded, or a fresh session is created
// if there is none; resuming with a different mode returns ErrModeMismatch.
func Open(ctx context.Context, opts Options) (*Session, error) {
	domain, err := model.NormalizeDomain(opts.Domain)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", err, opts.Domain)
	}
	if _, err := model.ParseMode(string(opts.Mode)); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	key := model.SanitizeKey(domain)
	if !opts.Resume {
		if err := database.Remove(database.Path(opts.Dir, key)); err != nil {
			return nil, fmt.Errorf("failed to discard previous state: %w", err)
		}
	}

	db, err := database.Open(opts.Dir, key, database.DefaultOptions())
	if err != nil {
		return nil, err
	}

	s := newSession(domain, opts.Mode, db, logger)
	if err := s.bind(ctx, opts.Resume); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Load opens the existing session for domain read-only. The mode is
// taken from the store and every write through the returned Session
// fails. It returns ErrNoSession if the domain has never been scanned.
func Load(ctx context.Context, dir, domain string, logger *slog.Logger) (*Session, error) {
	domain, err := model.NormalizeDomain(domain)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	db, err := database.Open(dir, model.SanitizeKey(domain), database.Options{ReadOnly: true})
	if errors.Is(err, database.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNoSession, domain)
	}
	if err != nil {
		return nil, err
	}

	stored, ok, err := db.GetMeta(ctx, metaMode)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if !ok {
		_ = db.Close()
		return nil, fmt.Errorf("%w: %s", ErrNoSession, domain)
	}

	s := newSession(domain, model.Mode(stored), db, logger)
	if err := s.checkDomain(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func newSession(domain string, mode model.Mode, db *database.SessionDB, logger *slog.Logger) *Session {
	return &Session{
		domain:          domain,
		mode:            mode,
		db:              db,
		logger:          logger,
		Subdomains:      newCollection[string](CollectionSubdomains, db, logger),
		LiveHosts:       newCollection[model.LiveHost](CollectionLiveHosts, db, logger),
		Vulnerabilities: newCollection[model.Vulnerability](CollectionVulnerabilities, db, logger),
		AddressRanges:   newCollection[string](CollectionAddressRanges, db, logger),
		CrawledURLs:     newCollection[string](CollectionCrawledURLs, db, logger),
		Endpoints:       newCollection[string](CollectionEndpoints, db, logger),
	}
}

// bind records identity metadata on a fresh store or validates it on a
// resumed one.
func (s *Session) bind(ctx context.Context, resume bool) error {
	stored, ok, err := s.db.GetMeta(ctx, metaMode)
	if err != nil {
		return err
	}

	if !ok {
		if resume {
			s.logger.Info("no previous state found, starting a fresh session", "domain", s.domain)
		}
		if err := s.db.SetMeta(ctx, metaDomain, s.domain); err != nil {
			return err
		}
		if err := s.db.SetMeta(ctx, metaCreatedAt, time.Now().UTC().Format(time.RFC3339)); err != nil {
			return err
		}
		return s.db.SetMeta(ctx, metaMode, string(s.mode))
	}

	if err := s.checkDomain(ctx); err != nil {
		return err
	}
	if model.Mode(stored) != s.mode {
		return fmt.Errorf("%w: stored %s, requested %s", ErrModeMismatch, stored, s.mode)
	}
	return nil
}

func (s *Session) checkDomain(ctx context.Context) error {
	stored, ok, err := s.db.GetMeta(ctx, metaDomain)
	if err != nil {
		return err
	}
	if ok && stored != s.domain {
		return fmt.Errorf("%w: %s", ErrDomainMismatch, stored)
	}
	return nil
}

// Domain returns the normalized target domain.
func (s *Session) Domain() string {
	return s.domain
}

// Mode returns the mode the session was created with.
func (s *Session) Mode() model.Mode {
	return s.mode
}

// Path returns the file backing the session.
func (s *Session) Path() string {
	return s.db.Path()
}

// CompletedPhases returns completed phase names in completion order.
func (s *Session) CompletedPhases(ctx context.Context) ([]string, error) {
	return s.db.Phases(ctx)
}

// IsCompleted reports whether phase has completed in this or an earlier run.
func (s *Session) IsCompleted(ctx context.Context, phase string) (bool, error) {
	phases, err := s.db.Phases(ctx)
	if err != nil {
		return false, err
	}
	return slices.Contains(phases, phase), nil
}

// MarkCompleted records phase as completed. Marking twice is a no-op.
func (s *Session) MarkCompleted(ctx context.Context, phase string) error {
	return s.db.MarkPhase(ctx, phase)
}

// Persist makes everything written so far durable in the main store file.
func (s *Session) Persist(ctx context.Context) error {
	return s.db.Checkpoint(ctx)
}

// EmailSecurity returns the stored email security document.
func (s *Session) EmailSecurity(ctx context.Context) (model.EmailSecurity, error) {
	var v model.EmailSecurity
	_, err := s.loadDocument(ctx, documentEmailSecurity, &v)
	return v, err
}

// SetEmailSecurity replaces the email security document.
func (s *Session) SetEmailSecurity(ctx context.Context, v model.EmailSecurity) error {
	return s.storeDocument(ctx, documentEmailSecurity, v)
}

// Technologies returns the stored category to URL map.
func (s *Session) Technologies(ctx context.Context) (model.Technologies, error) {
	tech := model.Technologies{}
	_, err := s.loadDocument(ctx, documentTechnologies, &tech)
	if tech == nil {
		tech = model.Technologies{}
	}
	return tech, err
}

// MergeTechnologies adds every entry of tech to the stored map.
func (s *Session) MergeTechnologies(ctx context.Context, tech model.Technologies) error {
	s.docMu.Lock()
	defer s.docMu.Unlock()

	current, err := s.Technologies(ctx)
	if err != nil {
		return err
	}
	current.Merge(tech)
	return s.storeDocument(ctx, documentTechnologies, current)
}

// CloudAssets returns the stored cloud assets sorted by URL.
func (s *Session) CloudAssets(ctx context.Context) ([]model.CloudAsset, error) {
	var assets []model.CloudAsset
	_, err := s.loadDocument(ctx, documentCloudAssets, &assets)
	return assets, err
}

// AddCloudAssets merges assets into the stored list, keyed by URL.
func (s *Session) AddCloudAssets(ctx context.Context, assets []model.CloudAsset) error {
	if len(assets) == 0 {
		return nil
	}

	s.docMu.Lock()
	defer s.docMu.Unlock()

	current, err := s.CloudAssets(ctx)
	if err != nil {
		return err
	}
	byURL := make(map[string]model.CloudAsset, len(current)+len(assets))
	for _, a := range current {
		byURL[a.URL] = a
	}
	for _, a := range assets {
		byURL[a.URL] = a
	}

	merged := make([]model.CloudAsset, 0, len(byURL))
	for _, a := range byURL {
		merged = append(merged, a)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].URL < merged[j].URL })
	return s.storeDocument(ctx, documentCloudAssets, merged)
}

func (s *Session) loadDocument(ctx context.Context, name string, v any) (bool, error) {
	data, ok, err := s.db.GetDocument(ctx, name)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("failed to decode %s: %w", name, err)
	}
	return true, nil
}

func (s *Session) storeDocument(ctx context.Context, name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", name, err)
	}
	return s.db.PutDocument(ctx, name, data)
}

// StartRun records the start of a scan invocation.
func (s *Session) StartRun(ctx context.Context) error {
	id, err := s.db.StartRun(ctx, string(s.mode), model.RunStatusRunning)
	if err != nil {
		return err
	}
	s.runID = id
	return nil
}

// FinishRun records the final status of the current invocation.
// It is a no-op if StartRun was not called.
func (s *Session) FinishRun(ctx context.Context, status string) error {
	if s.runID == "" {
		return nil
	}
	return s.db.FinishRun(ctx, s.runID, status)
}

// Snapshot materializes the whole session into plain values.
func (s *Session) Snapshot(ctx context.Context) (*model.Snapshot, error) {
	phases, err := s.CompletedPhases(ctx)
	if err != nil {
		return nil, err
	}
	email, err := s.EmailSecurity(ctx)
	if err != nil {
		return nil, err
	}
	tech, err := s.Technologies(ctx)
	if err != nil {
		return nil, err
	}
	assets, err := s.CloudAssets(ctx)
	if err != nil {
		return nil, err
	}
	records, err := s.db.Runs(ctx)
	if err != nil {
		return nil, err
	}
	runs := make([]model.Run, 0, len(records))
	for _, r := range records {
		runs = append(runs, model.Run{
			ID:         r.ID,
			Mode:       model.Mode(r.Mode),
			StartedAt:  r.StartedAt,
			FinishedAt: r.FinishedAt,
			Status:     r.Status,
		})
	}

	subdomains := s.Subdomains.Items(ctx)
	sort.Strings(subdomains)
	crawled := s.CrawledURLs.Items(ctx)
	sort.Strings(crawled)
	endpoints := s.Endpoints.Items(ctx)
	sort.Strings(endpoints)
	ranges := s.AddressRanges.Items(ctx)
	sort.Strings(ranges)
	vulns := s.Vulnerabilities.Items(ctx)
	model.SortVulnerabilities(vulns)

	email.MX = nonNil(email.MX)
	email.Providers = nonNil(email.Providers)
	email.OpenPorts = nonNil(email.OpenPorts)

	return &model.Snapshot{
		Domain:          s.domain,
		Mode:            s.mode,
		GeneratedAt:     time.Now(),
		CompletedPhases: nonNil(phases),
		Subdomains:      subdomains,
		LiveHosts:       model.GroupLiveHostsByURL(s.LiveHosts.Items(ctx)),
		Vulnerabilities: vulns,
		AddressRanges:   ranges,
		CrawledURLs:     crawled,
		Endpoints:       endpoints,
		EmailSecurity:   email,
		Technologies:    tech,
		CloudAssets:     nonNil(assets),
		Runs:            runs,
	}, nil
}

// nonNil keeps empty lists encoding as [] rather than null.
func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

// Close checkpoints and closes the store.
func (s *Session) Close() error {
	if err := s.db.Checkpoint(context.Background()); err != nil {
		s.logger.Warn("failed to checkpoint before close", "domain", s.domain, "error", err)
	}
	return s.db.Close()
}

// Purge deletes the durable store and the domain's directory under
// outputDir. The Session must not be used afterwards.
func (s *Session) Purge(ctx context.Context, outputDir string) error {
	if err := s.db.Purge(ctx); err != nil {
		return err
	}
	return removeOutput(outputDir, s.domain)
}

// Purge deletes the durable store and output directory for domain
// without opening a Session. Purging a domain with no state succeeds.
func Purge(ctx context.Context, dir, outputDir, domain string) error {
	domain, err := model.NormalizeDomain(domain)
	if err != nil {
		return err
	}

	key := model.SanitizeKey(domain)
	if database.Exists(dir, key) {
		db, err := database.Open(dir, key, database.Options{EnableWAL: true})
		if err != nil {
			return err
		}
		if err := db.Purge(ctx); err != nil {
			return err
		}
	}
	return removeOutput(outputDir, domain)
}

// OutputDir returns the directory reports for domain are written to.
func OutputDir(outputDir, domain string) string {
	return filepath.Join(outputDir, domain)
}

func removeOutput(outputDir, domain string) error {
	if outputDir == "" {
		return nil
	}
	if err := os.RemoveAll(OutputDir(outputDir, domain)); err != nil {
		return fmt.Errorf("failed to remove output directory: %w", err)
	}
	return nil
}
