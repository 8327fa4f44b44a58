// Package importer scans a directory tree and indexes the DICOM instances it
// finds into a hierarchy.Index, reporting progress on an events.Stream.
package importer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/mrsinham/dicomshelf/internal/dicom"
	"github.com/mrsinham/dicomshelf/internal/events"
	"github.com/mrsinham/dicomshelf/internal/hierarchy"
	"github.com/mrsinham/dicomshelf/internal/metrics"
	"github.com/mrsinham/dicomshelf/internal/util"
)

const defaultBatchSize = 64

// Suspender batches view notifications while a run rewrites the index.
type Suspender interface {
	Suspend() (release func())
}

// Options configures a Pipeline.
type Options struct {
	// TagsToPrecache are tag keywords or "GGGG,EEEE" values read from every
	// file and stored with its instance.
	TagsToPrecache []string
	// Workers bounds concurrent file parsing. Zero means runtime.NumCPU().
	Workers int
	// BatchSize is the number of files parsed ahead of the commit loop.
	BatchSize int
	// DisplayImportSummary writes a report to Report at the end of each run.
	DisplayImportSummary bool
	Report               io.Writer
	Logger               *log.Logger
	Metrics              *metrics.Import
}

// Pipeline runs at most one import at a time.
type Pipeline struct {
	index   hierarchy.Index
	view    Suspender
	stream  *events.Stream
	opts    Options
	tags    []util.TagInfo
	logger  *log.Logger
	metrics *metrics.Import

	mu       sync.Mutex
	active   *Handle
	progress progress
}

// New creates a pipeline writing into index. It fails if a precache tag
// cannot be resolved.
func New(index hierarchy.Index, view Suspender, stream *events.Stream, opts Options) (*Pipeline, error) {
	tags, err := util.ResolveTags(opts.TagsToPrecache)
	if err != nil {
		return nil, fmt.Errorf("tags to precache: %w", err)
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.Report == nil {
		opts.Report = io.Discard
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Pipeline{
		index:   index,
		view:    view,
		stream:  stream,
		opts:    opts,
		tags:    tags,
		logger:  logger,
		metrics: opts.Metrics,
	}, nil
}

// Handle tracks one run.
type Handle struct {
	ID   string
	Root string

	cancel  context.CancelFunc
	done    chan struct{}
	summary Summary
	err     error
}

// Cancel asks the run to stop before its next file. It does not wait.
func (h *Handle) Cancel() { h.cancel() }

// Done is closed once ImportFinished has been published.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Wait blocks until the run ends and returns its summary and fatal error.
func (h *Handle) Wait() (Summary, error) {
	<-h.done
	return h.summary, h.err
}

// ImportDirectory starts indexing root in the background. It returns a
// *BusyError if a run is already active. Every other failure is reported by
// Handle.Wait and the ImportFinished event.
func (p *Pipeline) ImportDirectory(ctx context.Context, root string) (*Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active != nil {
		return nil, &BusyError{ActiveID: p.active.ID}
	}

	runCtx, cancel := context.WithCancel(ctx)
	h := &Handle{
		ID:     uuid.NewString(),
		Root:   root,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	p.active = h
	p.progress.reset()

	go p.run(runCtx, h)
	return h, nil
}

// Cancel cancels h if it is the active run.
func (p *Pipeline) Cancel(h *Handle) {
	p.mu.Lock()
	active := p.active
	p.mu.Unlock()
	if h != nil && h == active {
		h.Cancel()
	}
}

// Active returns the running handle, or nil.
func (p *Pipeline) Active() *Handle {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

// PatientsAdded returns the patients created so far by the current or last run.
func (p *Pipeline) PatientsAdded() int { return int(p.progress.patients.Load()) }

// StudiesAdded returns the studies created so far by the current or last run.
func (p *Pipeline) StudiesAdded() int { return int(p.progress.studies.Load()) }

// SeriesAdded returns the series created so far by the current or last run.
func (p *Pipeline) SeriesAdded() int { return int(p.progress.series.Load()) }

// InstancesAdded returns the instances created so far by the current or last run.
func (p *Pipeline) InstancesAdded() int { return int(p.progress.instances.Load()) }

func (p *Pipeline) run(ctx context.Context, h *Handle) {
	defer h.cancel()
	start := time.Now()
	p.metrics.RunStarted()
	p.logger.Printf("import %s: starting in %s", h.ID, h.Root)

	sum := Summary{Root: h.Root}
	err := p.execute(ctx, h, &sum)
	sum.Duration = time.Since(start)

	outcome := metrics.OutcomeCompleted
	switch {
	case err != nil:
		outcome = metrics.OutcomeFailed
		p.logger.Printf("import %s: failed: %v", h.ID, err)
	case sum.Cancelled:
		outcome = metrics.OutcomeCancelled
		p.logger.Printf("import %s: cancelled after %d files", h.ID, sum.FilesScanned)
	default:
		p.logger.Printf("import %s: done, %d instances added, %d skipped", h.ID, sum.InstancesAdded, sum.Skipped)
	}
	p.metrics.RunFinished(outcome, sum.Duration)

	if p.opts.DisplayImportSummary {
		DisplayImportSummary(p.opts.Report, sum, err)
	}

	h.summary, h.err = sum, err
	// The next run may only start once this one's ImportFinished is queued.
	p.stream.Publish(ImportFinished{RunID: h.ID, Summary: sum, Err: err})
	p.mu.Lock()
	p.active = nil
	p.mu.Unlock()
	close(h.done)
}

// execute performs a run. Cancellation is not an error: it sets
// sum.Cancelled and returns nil.
func (p *Pipeline) execute(ctx context.Context, h *Handle, sum *Summary) error {
	root := h.Root
	abs, err := checkRoot(root)
	if err != nil {
		return err
	}
	sum.Root = abs

	if err := p.ensureSchema(ctx); err != nil {
		return err
	}

	release := p.view.Suspend()
	defer release()

	paths, err := walkCandidates(ctx, abs, p.logger)
	if err != nil {
		if ctx.Err() != nil {
			sum.Cancelled = true
			return nil
		}
		return &PathError{Path: root, Err: err}
	}
	p.stream.Publish(ScanCompleted{RunID: h.ID, Files: len(paths)})

	for start := 0; start < len(paths); start += p.opts.BatchSize {
		batch := paths[start:min(start+p.opts.BatchSize, len(paths))]
		results := p.parseBatch(ctx, batch)

		for i, path := range batch {
			if ctx.Err() != nil || !results[i].parsed {
				sum.Cancelled = true
				return nil
			}
			sum.FilesScanned++

			if results[i].err != nil {
				perr := &ParseError{Path: path, Err: results[i].err}
				sum.Skipped++
				p.metrics.FileSkipped()
				p.logger.Printf("skipping %v", perr)
				p.stream.Publish(FileSkipped{Path: path, Err: perr})
				continue
			}

			if err := p.commit(ctx, path, results[i].header, sum); err != nil {
				return err
			}
		}
	}
	return nil
}

func checkRoot(root string) (string, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", &PathError{Path: root, Err: err}
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", &PathError{Path: root, Err: err}
	}
	if !info.IsDir() {
		return "", &PathError{Path: root, Err: errNotDirectory}
	}
	f, err := os.Open(abs)
	if err != nil {
		return "", &PathError{Path: root, Err: err}
	}
	_, err = f.Readdirnames(1)
	_ = f.Close()
	if err != nil && !errors.Is(err, io.EOF) {
		return "", &PathError{Path: root, Err: err}
	}
	return abs, nil
}

// ensureSchema upgrades an outdated index. The upgrade ignores cancellation
// so it never stops halfway.
func (p *Pipeline) ensureSchema(ctx context.Context) error {
	current, err := p.index.SchemaVersion(ctx)
	if err != nil {
		return &SchemaError{From: current, To: hierarchy.CurrentSchemaVersion, Err: err}
	}
	if current == hierarchy.CurrentSchemaVersion {
		return nil
	}
	if current > hierarchy.CurrentSchemaVersion {
		return &SchemaError{From: current, To: hierarchy.CurrentSchemaVersion,
			Err: errors.New("index was written by a newer version")}
	}

	p.logger.Printf("upgrading index schema from %d to %d", current, hierarchy.CurrentSchemaVersion)
	err = p.index.UpgradeSchema(context.WithoutCancel(ctx), func(step, total int) {
		p.stream.Publish(SchemaUpgradeProgress{Step: step, Total: total})
	})
	if err != nil {
		return &SchemaError{From: current, To: hierarchy.CurrentSchemaVersion, Err: err}
	}
	return nil
}

type parseResult struct {
	parsed bool
	header dicom.Header
	err    error
}

// parseBatch parses files concurrently. Files not started before ctx was
// cancelled are left with parsed == false.
func (p *Pipeline) parseBatch(ctx context.Context, batch []string) []parseResult {
	results := make([]parseResult, len(batch))
	var g errgroup.Group
	g.SetLimit(p.opts.Workers)
	for i, path := range batch {
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			h, err := dicom.ReadHeader(path, p.tags)
			results[i] = parseResult{parsed: true, header: h, err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// commit stores one file in a single transaction, then publishes the events
// for what it created. A started commit is not interrupted by cancellation.
func (p *Pipeline) commit(ctx context.Context, path string, h dicom.Header, sum *Summary) error {
	ctx = context.WithoutCancel(ctx)
	tx, err := p.index.Begin(ctx)
	if err != nil {
		return fmt.Errorf("index %s: %w", path, err)
	}
	defer func() { _ = tx.Rollback() }()

	patientID, patientNew, err := tx.FindOrCreatePatient(h.Patient)
	if err != nil {
		return fmt.Errorf("index %s: %w", path, err)
	}
	studyID, studyNew, err := tx.FindOrCreateStudy(patientID, h.Study)
	if err != nil {
		return fmt.Errorf("index %s: %w", path, err)
	}
	seriesID, seriesNew, err := tx.FindOrCreateSeries(studyID, h.Series)
	if err != nil {
		return fmt.Errorf("index %s: %w", path, err)
	}
	instanceID, instanceNew, err := tx.UpsertInstance(seriesID, path, h.Instance)
	if err != nil {
		return fmt.Errorf("index %s: %w", path, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s: %w", path, err)
	}

	if patientNew {
		sum.PatientsAdded++
		p.progress.patients.Add(1)
		p.metrics.RecordAdded(hierarchy.LevelPatient.String())
		p.stream.Publish(PatientAdded{
			ID:        patientID,
			Name:      h.Patient.Name,
			BirthDate: h.Patient.BirthDate,
			Sex:       h.Patient.Sex,
		})
	}
	if studyNew {
		sum.StudiesAdded++
		p.progress.studies.Add(1)
		p.metrics.RecordAdded(hierarchy.LevelStudy.String())
		p.stream.Publish(StudyAdded{ID: studyID})
	}
	if seriesNew {
		sum.SeriesAdded++
		p.progress.series.Add(1)
		p.metrics.RecordAdded(hierarchy.LevelSeries.String())
		p.stream.Publish(SeriesAdded{ID: seriesID})
	}
	if instanceNew {
		sum.InstancesAdded++
		p.progress.instances.Add(1)
		p.metrics.RecordAdded(hierarchy.LevelInstance.String())
		p.stream.Publish(InstanceAdded{ID: instanceID})
	} else {
		sum.InstancesUpdated++
	}
	p.metrics.FileIndexed()
	p.stream.Publish(FileIndexed{Path: path})
	return nil
}
