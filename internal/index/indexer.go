package index

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/abramin/dynlink/internal/config"
	"github.com/abramin/dynlink/internal/store"
	"github.com/abramin/dynlink/internal/trace"
	"github.com/abramin/dynlink/internal/typemodel"
)

// Options control an indexing run.
type Options struct {
	// Patterns are package patterns relative to the project; "./..." if empty.
	Patterns []string
	// ModelOut, when set, receives the imported types as a model file.
	ModelOut string
	// Fresh clears the store before recording.
	Fresh bool
	// NoStore skips persistence entirely.
	NoStore bool
}

// Indexer coordinates the import pipeline.
type Indexer struct {
	cfg        *config.Config
	projectDir string
	logger     *slog.Logger
}

// NewIndexer creates a new indexer for the given project directory.
func NewIndexer(cfg *config.Config, projectDir string, logger *slog.Logger) *Indexer {
	absPath, err := filepath.Abs(projectDir)
	if err != nil {
		absPath = projectDir
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Indexer{
		cfg:        cfg,
		projectDir: absPath,
		logger:     logger,
	}
}

// Result holds the results of an indexing run.
type Result struct {
	PackageCount   int
	TypeCount      int
	InterfaceCount int
	MethodCount    int
	Universe       *typemodel.Universe
	Duration       time.Duration
	DBPath         string
	ModelPath      string
}

// StoreDir is where the indexer keeps its database.
func (idx *Indexer) StoreDir() string {
	if filepath.IsAbs(idx.cfg.Dump.Dir) {
		return idx.cfg.Dump.Dir
	}
	return filepath.Join(idx.projectDir, idx.cfg.Dump.Dir)
}

// Run loads the project, imports its types and persists them.
func (idx *Indexer) Run(opts Options) (*Result, error) {
	start := time.Now()

	idx.logger.Info("loading packages", "dir", idx.projectDir)
	loader := NewLoader(idx.cfg, idx.projectDir, idx.logger)
	if err := loader.Load(opts.Patterns...); err != nil {
		return nil, fmt.Errorf("loading packages: %w", err)
	}
	idx.logger.Info("packages loaded", "count", len(loader.Packages()))

	u := typemodel.NewUniverse()
	mf, err := loader.Import(u)
	if err != nil {
		return nil, err
	}

	res := &Result{
		PackageCount: len(loader.Packages()),
		TypeCount:    len(mf.Types),
		Universe:     u,
	}
	for _, ts := range mf.Types {
		if ts.Kind == string(typemodel.KindInterface) {
			res.InterfaceCount++
		}
		res.MethodCount += len(ts.Methods)
	}

	if opts.ModelOut != "" {
		if err := typemodel.WriteModel(u, opts.ModelOut); err != nil {
			return nil, err
		}
		res.ModelPath = opts.ModelOut
	}

	if !opts.NoStore {
		dbPath, err := idx.persist(u, opts.Fresh)
		if err != nil {
			return nil, err
		}
		res.DBPath = dbPath
	}

	res.Duration = time.Since(start)
	return res, nil
}

func (idx *Indexer) persist(u *typemodel.Universe, fresh bool) (string, error) {
	st, err := store.Open(idx.StoreDir())
	if err != nil {
		return "", fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	if fresh {
		if err := st.Clear(); err != nil {
			return "", fmt.Errorf("clearing store: %w", err)
		}
	}

	rec := trace.NewRecorder(st, idx.logger)
	if err := rec.RecordUniverse(u, store.OriginIndex); err != nil {
		return "", err
	}
	if err := st.SetMetadata("indexed_at", time.Now().UTC().Format(time.RFC3339)); err != nil {
		return "", fmt.Errorf("storing metadata: %w", err)
	}
	if err := st.SetMetadata("project_dir", idx.projectDir); err != nil {
		return "", fmt.Errorf("storing metadata: %w", err)
	}
	if err := st.WriteSummaryJSON(); err != nil {
		return "", fmt.Errorf("writing summary.json: %w", err)
	}
	return st.DBPath(), nil
}
