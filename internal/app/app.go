package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"medialib/internal/config"
	"medialib/internal/database"
	"medialib/internal/derive"
	"medialib/internal/encryption"
	"medialib/internal/events"
	"medialib/internal/fs"
	"medialib/internal/ledger"
	"medialib/internal/media"
	"medialib/internal/snapshot"
	"medialib/internal/tracing"
)

// MediaApp is the application layer between the CLI and MediaService.
// It constructs all dependencies from config, records which command changed
// the tree, and snapshots the metadata database on Close.
type MediaApp struct {
	cfg       *config.Config
	db        *database.SQLiteDatabase
	ledger    ledger.Ledger
	events    events.Sink
	vaults    []snapshot.Vault
	encryptor encryption.Encryptor
	fsmgr     *fs.OSFilesystemManager
	service   *media.MediaService
	op        *Operation
	logger    *slog.Logger
	logFile   *os.File
	shutdown  tracing.ShutdownFunc
}

// NewMediaApp creates a fully wired MediaApp from the given config.
// operation identifies the CLI command being run (e.g. "Upload", "List").
// The caller must call Close when done.
func NewMediaApp(ctx context.Context, cfg *config.Config, operation, parameters string) (*MediaApp, error) {
	m := &MediaApp{cfg: cfg, op: NewOperation(operation, parameters)}
	ok := false
	defer func() {
		if !ok {
			m.abort()
		}
	}()

	var err error

	opID := uuid.New().String()[:8]
	m.logger, m.logFile, err = newLogger(cfg.LogDir, cfg.LogLevel, opID)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	log := &slogAdapter{l: m.logger}

	if m.shutdown, err = tracing.InitTracer(ctx, cfg.Tracing); err != nil {
		return nil, fmt.Errorf("initializing tracing: %w", err)
	}

	if m.fsmgr, err = fs.NewOSFilesystemManager(cfg.Storage.Root); err != nil {
		return nil, fmt.Errorf("creating filesystem manager: %w", err)
	}

	if m.db, err = database.NewDatabaseFromConfig(cfg.Database, cfg.InstanceID, media.RealClock{}); err != nil {
		return nil, fmt.Errorf("creating database: %w", err)
	}
	if err := m.db.CheckMigrations(); err != nil {
		return nil, fmt.Errorf("database schema out of date: %w", err)
	}

	if m.vaults, err = snapshot.NewVaultsFromConfig(ctx, cfg.Snapshots); err != nil {
		return nil, fmt.Errorf("creating vaults: %w", err)
	}
	if err := m.checkVersions(ctx); err != nil {
		return nil, err
	}

	if m.encryptor, err = encryption.NewEncryptorFromConfig(cfg.Encryption); err != nil {
		return nil, fmt.Errorf("creating encryptor: %w", err)
	}

	if m.ledger, err = ledger.NewLedgerFromConfig(cfg.Ledger, m.db); err != nil {
		return nil, fmt.Errorf("creating ledger: %w", err)
	}

	if m.events, err = events.NewSinkFromConfig(cfg.Events, log); err != nil {
		return nil, fmt.Errorf("creating event sinks: %w", err)
	}

	gen, err := derive.NewGeneratorFromConfig(cfg.Derivatives)
	if err != nil {
		return nil, fmt.Errorf("creating derivative generator: %w", err)
	}

	minimum, err := media.ParseMinimumCapability(cfg.Access.Minimum)
	if err != nil {
		return nil, err
	}
	evaluator := media.NewEvaluator(media.AccessPolicy{Minimum: minimum, Multisite: cfg.Access.Multisite})

	statuses := make([]media.Status, 0, len(cfg.Storage.Statuses))
	for _, st := range cfg.Storage.Statuses {
		statuses = append(statuses, media.Status(st))
	}

	paths := media.NewPathResolver(m.fsmgr.Root(), cfg.Storage.BaseURL, nil, m.fsmgr)
	m.service = media.NewMediaService(m.db, m.ledger, m.fsmgr, paths, evaluator, log, media.RealClock{}, media.UUIDGenerator{},
		media.WithDerivatives(gen),
		media.WithEventSink(m.events),
		media.WithUploadPolicy(fs.NewUploadPolicy(cfg.Policy)),
		media.WithStatuses(statuses...),
	)
	ok = true
	return m, nil
}

// checkVersions refuses to run on a database older than a vault's snapshot,
// since writing to it would fork the history.
func (a *MediaApp) checkVersions(ctx context.Context) error {
	localMax, err := a.db.MaxOperationID()
	if err != nil {
		return fmt.Errorf("checking local metadata version: %w", err)
	}
	for _, v := range a.vaults {
		remote, err := v.Version(ctx, a.cfg.InstanceID)
		if err != nil {
			return fmt.Errorf("checking metadata version in vault %s: %w", v.Name(), err)
		}
		if remote > localMax {
			return fmt.Errorf("local database is behind vault %s (local=%d, remote=%d): run 'medialib snapshot restore'", v.Name(), localMax, remote)
		}
	}
	return nil
}

// Service exposes the media service, e.g. for URLs.
func (a *MediaApp) Service() *media.MediaService {
	return a.service
}

// Operation returns the command being run.
func (a *MediaApp) Operation() *Operation {
	return a.op
}

// persistOperation saves the operation to the database, giving it an auto-increment ID.
// This should only be called for commands that change the media tree.
func (a *MediaApp) persistOperation() error {
	if a.op.Persisted() {
		return nil
	}
	dbOp, err := a.db.CreateOperation(a.op.Name, a.op.Parameters)
	if err != nil {
		return fmt.Errorf("persisting operation: %w", err)
	}
	a.op.ID = dbOp.ID
	return nil
}

func (a *MediaApp) MakeDirectory(ctx context.Context, subj media.Subject, req media.MakeDirectoryRequest) (*media.Entry, error) {
	if err := a.persistOperation(); err != nil {
		return nil, err
	}
	e, err := a.service.MakeDirectory(ctx, subj, req)
	return e, a.op.Record(err)
}

// UploadFile uploads a local file. An empty req.Name defaults to the file's
// base name.
func (a *MediaApp) UploadFile(ctx context.Context, subj media.Subject, localPath string, req media.UploadRequest) (*media.UploadResult, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return nil, fmt.Errorf("opening upload: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat upload: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("cannot upload a directory: %s", localPath)
	}
	if req.Name == "" {
		req.Name = filepath.Base(localPath)
	}
	req.Body = f
	req.Size = info.Size()

	if err := a.persistOperation(); err != nil {
		return nil, err
	}
	res, err := a.service.Upload(ctx, subj, req)
	return res, a.op.Record(err)
}

func (a *MediaApp) Move(ctx context.Context, subj media.Subject, id int64, req media.MoveRequest) (*media.Entry, error) {
	if err := a.persistOperation(); err != nil {
		return nil, err
	}
	e, err := a.service.Move(ctx, subj, id, req)
	return e, a.op.Record(err)
}

func (a *MediaApp) Rename(ctx context.Context, subj media.Subject, id int64, title string, ifVersion int64) (*media.Entry, error) {
	if err := a.persistOperation(); err != nil {
		return nil, err
	}
	e, err := a.service.Rename(ctx, subj, id, title, ifVersion)
	return e, a.op.Record(err)
}

func (a *MediaApp) Delete(ctx context.Context, subj media.Subject, id int64) (*media.DeleteResult, error) {
	if err := a.persistOperation(); err != nil {
		return nil, err
	}
	res, err := a.service.Delete(ctx, subj, id)
	return res, a.op.Record(err)
}

func (a *MediaApp) RegenerateDerivatives(ctx context.Context, subj media.Subject, id int64) (*media.UploadResult, error) {
	if err := a.persistOperation(); err != nil {
		return nil, err
	}
	res, err := a.service.RegenerateDerivatives(ctx, subj, id)
	return res, a.op.Record(err)
}

func (a *MediaApp) Get(ctx context.Context, subj media.Subject, id int64) (*media.Entry, error) {
	return a.service.Get(ctx, subj, id)
}

func (a *MediaApp) List(ctx context.Context, subj media.Subject, q media.ListQuery) ([]*media.Entry, error) {
	return a.service.List(ctx, subj, q)
}

func (a *MediaApp) FindBySlug(ctx context.Context, subj media.Subject, ownerID int64, statuses []media.Status, slug string) (*media.Entry, error) {
	return a.service.FindBySlug(ctx, subj, ownerID, statuses, slug)
}

// Download copies an entry's content to w.
func (a *MediaApp) Download(ctx context.Context, subj media.Subject, id int64, w io.Writer) (*media.Entry, error) {
	rc, e, err := a.service.Open(ctx, subj, id)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	if _, err := io.Copy(w, rc); err != nil {
		return nil, fmt.Errorf("reading %s: %w", e, err)
	}
	return e, nil
}

func (a *MediaApp) Usage(ctx context.Context, subj media.Subject, ownerID int64) (int64, error) {
	return a.service.Usage(ctx, subj, ownerID)
}

// GetHistory returns the most recent operations that changed the tree. A
// limit of zero uses the configured history length.
func (a *MediaApp) GetHistory(limit int) ([]*database.Operation, error) {
	if limit <= 0 {
		limit = a.cfg.CLI.HistoryLength
	}
	return a.db.ListOperations(limit)
}

// Close finalizes the operation and closes all resources.
// For persisted operations: finishes the operation record, snapshots the DB,
// and uploads the snapshot to every vault.
// For non-persisted operations: just closes the database.
func (a *MediaApp) Close() error {
	ctx := context.Background()
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	var snapshotPath string
	if a.op.Persisted() {
		if err := a.db.FinishOperation(a.op.ID, a.op.Status); err != nil {
			keep(fmt.Errorf("finishing operation: %w", err))
		}
		path, err := a.snapshotDatabase()
		keep(err)
		snapshotPath = path
	}

	a.release()

	if snapshotPath != "" {
		for _, v := range a.vaults {
			if err := a.uploadSnapshot(ctx, v, snapshotPath, a.op.ID); err != nil {
				a.logger.Error("snapshot upload failed", "vault", v.Name(), "version", a.op.ID, "error", err)
				keep(err)
			}
		}
		os.Remove(snapshotPath)
	}

	if a.shutdown != nil {
		keep(a.shutdown(ctx))
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
	return firstErr
}

// release closes the collaborators that hold connections or files.
func (a *MediaApp) release() {
	if a.events != nil {
		if err := a.events.Close(); err != nil && a.logger != nil {
			a.logger.Warn("closing event sinks", "error", err)
		}
		a.events = nil
	}
	if a.ledger != nil {
		if err := a.ledger.Close(); err != nil && a.logger != nil {
			a.logger.Warn("closing ledger", "error", err)
		}
		a.ledger = nil
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil && a.logger != nil {
			a.logger.Warn("closing database", "error", err)
		}
		a.db = nil
	}
}

// abort undoes a partial construction.
func (a *MediaApp) abort() {
	a.release()
	if a.shutdown != nil {
		a.shutdown(context.Background())
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
}

// snapshotDatabase copies the database to a temp file. VACUUM INTO refuses
// an existing destination, so only the name is reserved.
func (a *MediaApp) snapshotDatabase() (string, error) {
	if len(a.vaults) == 0 {
		return "", nil
	}
	tmp, err := os.CreateTemp("", "medialib-snapshot-*.db")
	if err != nil {
		return "", fmt.Errorf("creating temp file for snapshot: %w", err)
	}
	path := tmp.Name()
	tmp.Close()
	os.Remove(path)

	if err := a.db.BackupTo(path); err != nil {
		os.Remove(path)
		return "", err
	}
	return path, nil
}

// uploadSnapshot seals the snapshot and puts it in v with the given version.
func (a *MediaApp) uploadSnapshot(ctx context.Context, v snapshot.Vault, path string, version int64) error {
	sealed, err := os.CreateTemp("", "medialib-sealed-*")
	if err != nil {
		return fmt.Errorf("creating temp file for sealed snapshot: %w", err)
	}
	defer os.Remove(sealed.Name())
	defer sealed.Close()

	plain, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening snapshot: %w", err)
	}
	err = a.encryptor.Encrypt(plain, sealed)
	plain.Close()
	if err != nil {
		return fmt.Errorf("sealing snapshot: %w", err)
	}

	size, err := sealed.Seek(0, io.SeekCurrent)
	if err != nil {
		return fmt.Errorf("sizing sealed snapshot: %w", err)
	}
	if _, err := sealed.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewinding sealed snapshot: %w", err)
	}
	if err := v.Put(ctx, a.cfg.InstanceID, sealed, size, version); err != nil {
		return fmt.Errorf("uploading snapshot to vault %s: %w", v.Name(), err)
	}
	a.logger.Info("snapshot uploaded", "vault", v.Name(), "version", version, "bytes", size)
	return nil
}
