// Package browser wires the import pipeline, the navigation controller and
// the view model around one index, and relays user actions to them.
//
// Import calls, counters and Close may be used from any goroutine. Every
// other method, and Run, belong to the single goroutine that owns the
// presentation layer.
package browser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mrsinham/dicomshelf/internal/config"
	"github.com/mrsinham/dicomshelf/internal/events"
	"github.com/mrsinham/dicomshelf/internal/hierarchy"
	"github.com/mrsinham/dicomshelf/internal/importer"
	"github.com/mrsinham/dicomshelf/internal/index/memindex"
	"github.com/mrsinham/dicomshelf/internal/index/sqlite"
	"github.com/mrsinham/dicomshelf/internal/metrics"
	"github.com/mrsinham/dicomshelf/internal/navigation"
	"github.com/mrsinham/dicomshelf/internal/viewmodel"
)

// DatabaseDirectoryChanged is published after the browser switched index.
type DatabaseDirectoryChanged struct {
	Directory string
}

// QueryRetrieveFinished is published when a remote retrieve into the index
// has ended. Err is nil on success.
type QueryRetrieveFinished struct {
	Err error
}

func (DatabaseDirectoryChanged) EventName() string { return "database_directory_changed" }
func (QueryRetrieveFinished) EventName() string    { return "query_retrieve_finished" }

// Options configures Open.
type Options struct {
	Config config.Config
	// InMemory keeps the index in memory instead of in DatabaseDirectory.
	InMemory bool
	Logger   *log.Logger
	// Report receives import summaries when Config.DisplayImportSummary is set.
	Report io.Writer
	// Registerer receives the import metrics. Nil leaves them unregistered.
	Registerer prometheus.Registerer
}

// Browser is the facade over one index.
type Browser struct {
	opts     Options
	logger   *log.Logger
	interval time.Duration
	stream   *events.Stream
	metrics  *metrics.Import

	dir      string
	index    hierarchy.Index
	view     *viewmodel.Model
	nav      *navigation.Controller
	pipeline *importer.Pipeline
}

// Open opens the index in opts.Config.DatabaseDirectory, upgrades its schema
// if needed and positions the cursor on the first instance.
func Open(ctx context.Context, opts Options) (*Browser, error) {
	if err := opts.Config.Validate(); err != nil {
		return nil, err
	}
	interval, _ := opts.Config.Interval()
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard, "", 0)
	}

	b := &Browser{
		opts:     opts,
		logger:   opts.Logger,
		interval: interval,
		stream:   events.NewStream(),
		metrics:  metrics.NewImport(opts.Registerer),
	}
	index, err := b.openIndex(opts.Config.DatabaseDirectory)
	if err != nil {
		return nil, err
	}
	b.view = viewmodel.New(index, b.stream)
	b.view.SetThumbnailSize(opts.Config.ThumbnailSize)
	b.nav = navigation.New(index, b.stream)
	if err := b.attach(ctx, opts.Config.DatabaseDirectory, index); err != nil {
		_ = index.Close()
		return nil, err
	}
	return b, nil
}

func (b *Browser) openIndex(dir string) (hierarchy.Index, error) {
	if b.opts.InMemory {
		return memindex.New()
	}
	return sqlite.Open(dir)
}

// attach makes index the current one: schema upgrade, new pipeline, cursor
// on the first instance. On failure the browser keeps its previous index.
func (b *Browser) attach(ctx context.Context, dir string, index hierarchy.Index) error {
	pipeline, err := importer.New(index, b.view, b.stream, importer.Options{
		TagsToPrecache:       b.opts.Config.TagsToPrecache,
		Workers:              b.opts.Config.Workers,
		DisplayImportSummary: b.opts.Config.DisplayImportSummary,
		Report:               b.opts.Report,
		Logger:               b.logger,
		Metrics:              b.metrics,
	})
	if err != nil {
		return err
	}
	if _, err := b.upgradeSchema(ctx, index); err != nil {
		return err
	}
	if err := b.nav.SetReader(ctx, index); err != nil {
		if b.index != nil {
			_ = b.nav.SetReader(ctx, b.index)
		}
		return err
	}
	b.view.SetReader(index)
	b.dir, b.index, b.pipeline = dir, index, pipeline
	return nil
}

// Subscribe returns a new subscription to every event the browser publishes.
func (b *Browser) Subscribe() *events.Subscription {
	return b.stream.Subscribe()
}

// Index returns the read side of the current index.
func (b *Browser) Index() hierarchy.Reader { return b.index }

// View returns the view model.
func (b *Browser) View() *viewmodel.Model { return b.view }

// Cursor returns the navigation cursor.
func (b *Browser) Cursor() navigation.Cursor { return b.nav.Cursor() }

// DatabaseDirectory returns the directory of the current index.
func (b *Browser) DatabaseDirectory() string { return b.dir }

// SetDatabaseDirectory closes the current index and opens the one in dir.
// It fails with importer.ErrBusy while an import runs.
func (b *Browser) SetDatabaseDirectory(ctx context.Context, dir string) error {
	if h := b.pipeline.Active(); h != nil {
		return &importer.BusyError{ActiveID: h.ID}
	}
	index, err := b.openIndex(dir)
	if err != nil {
		return err
	}
	old := b.index
	if err := b.attach(ctx, dir, index); err != nil {
		_ = index.Close()
		return err
	}
	if err := old.Close(); err != nil {
		b.logger.Printf("close previous index: %v", err)
	}
	b.logger.Printf("database directory is now %s", dir)
	b.stream.Publish(DatabaseDirectoryChanged{Directory: dir})
	return nil
}

// UpdateSchemaIfNeeded upgrades an outdated index and reports whether an
// upgrade ran. Progress is published as importer.SchemaUpgradeProgress.
func (b *Browser) UpdateSchemaIfNeeded(ctx context.Context) (bool, error) {
	return b.upgradeSchema(ctx, b.index)
}

func (b *Browser) upgradeSchema(ctx context.Context, index hierarchy.Index) (bool, error) {
	current, err := index.SchemaVersion(ctx)
	if err != nil {
		return false, &importer.SchemaError{From: current, To: hierarchy.CurrentSchemaVersion, Err: err}
	}
	if current >= hierarchy.CurrentSchemaVersion {
		return false, nil
	}
	err = index.UpgradeSchema(context.WithoutCancel(ctx), func(step, total int) {
		b.stream.Publish(importer.SchemaUpgradeProgress{Step: step, Total: total})
	})
	if err != nil {
		return false, &importer.SchemaError{From: current, To: hierarchy.CurrentSchemaVersion, Err: err}
	}
	b.logger.Printf("index schema upgraded from %d to %d", current, hierarchy.CurrentSchemaVersion)
	return true, nil
}

// ImportDirectory starts importing root. See importer.Pipeline.
func (b *Browser) ImportDirectory(ctx context.Context, root string) (*importer.Handle, error) {
	return b.pipeline.ImportDirectory(ctx, root)
}

// CancelImport cancels h if it is still running.
func (b *Browser) CancelImport(h *importer.Handle) {
	b.pipeline.Cancel(h)
}

// ImportActive reports whether an import is running.
func (b *Browser) ImportActive() bool { return b.pipeline.Active() != nil }

// PatientsAddedDuringImport returns the patients added by the current or last import.
func (b *Browser) PatientsAddedDuringImport() int { return b.pipeline.PatientsAdded() }

// StudiesAddedDuringImport returns the studies added by the current or last import.
func (b *Browser) StudiesAddedDuringImport() int { return b.pipeline.StudiesAdded() }

// SeriesAddedDuringImport returns the series added by the current or last import.
func (b *Browser) SeriesAddedDuringImport() int { return b.pipeline.SeriesAdded() }

// InstancesAddedDuringImport returns the instances added by the current or last import.
func (b *Browser) InstancesAddedDuringImport() int { return b.pipeline.InstancesAdded() }

func (b *Browser) NextImage(ctx context.Context) (bool, error)      { return b.nav.NextImage(ctx) }
func (b *Browser) PreviousImage(ctx context.Context) (bool, error)  { return b.nav.PreviousImage(ctx) }
func (b *Browser) NextSeries(ctx context.Context) (bool, error)     { return b.nav.NextSeries(ctx) }
func (b *Browser) PreviousSeries(ctx context.Context) (bool, error) { return b.nav.PreviousSeries(ctx) }
func (b *Browser) NextStudy(ctx context.Context) (bool, error)      { return b.nav.NextStudy(ctx) }
func (b *Browser) PreviousStudy(ctx context.Context) (bool, error)  { return b.nav.PreviousStudy(ctx) }
func (b *Browser) NextPatient(ctx context.Context) (bool, error)    { return b.nav.NextPatient(ctx) }
func (b *Browser) PreviousPatient(ctx context.Context) (bool, error) {
	return b.nav.PreviousPatient(ctx)
}

// Select moves the cursor to p. See navigation.Controller.Select.
func (b *Browser) Select(ctx context.Context, p navigation.Path) error {
	return b.nav.Select(ctx, p)
}

// SetAutoPlay arms or disarms auto-play at the configured interval.
func (b *Browser) SetAutoPlay(enabled bool) {
	b.nav.SetAutoPlay(enabled, b.interval)
}

// SetAutoPlayInterval changes the interval, rearming a running auto-play.
func (b *Browser) SetAutoPlayInterval(d time.Duration) {
	b.interval = d
	if b.nav.AutoPlayEnabled() {
		b.nav.SetAutoPlay(true, d)
	}
}

// AutoPlayEnabled reports whether auto-play is armed.
func (b *Browser) AutoPlayEnabled() bool { return b.nav.AutoPlayEnabled() }

// AutoPlayTicks is the channel the owning loop waits on. See
// navigation.Controller.AutoPlayTicks.
func (b *Browser) AutoPlayTicks() <-chan time.Time { return b.nav.AutoPlayTicks() }

// OnAutoPlayTick advances auto-play by one image.
func (b *Browser) OnAutoPlayTick(ctx context.Context) (bool, error) {
	return b.nav.OnAutoPlayTick(ctx)
}

// SetThumbnailSize is passed to the view model.
func (b *Browser) SetThumbnailSize(px int) { b.view.SetThumbnailSize(px) }

// RemoveSelected removes the record at level on the cursor's path together
// with its subtree, then rebuilds the cursor.
func (b *Browser) RemoveSelected(ctx context.Context, level hierarchy.Level) error {
	cur := b.nav.Cursor()
	if cur.Empty() {
		return errors.New("nothing selected")
	}
	return b.Remove(ctx, cur.Node(level))
}

// Remove deletes node and its subtree, then rebuilds the cursor.
func (b *Browser) Remove(ctx context.Context, node hierarchy.Node) error {
	if node.Level < hierarchy.LevelPatient || node.Level > hierarchy.LevelInstance {
		return fmt.Errorf("cannot remove at %s level", node.Level)
	}
	if err := b.index.Remove(ctx, node); err != nil {
		return fmt.Errorf("remove %s: %w", node, err)
	}
	b.logger.Printf("removed %s", node)
	b.view.Invalidate()
	_, err := b.nav.Refresh(ctx)
	return err
}

// QueryRetrieveFinished reports the end of a retrieve that wrote into the
// index. The cursor is rebuilt on success.
func (b *Browser) QueryRetrieveFinished(ctx context.Context, retrieveErr error) error {
	b.stream.Publish(QueryRetrieveFinished{Err: retrieveErr})
	if retrieveErr != nil {
		b.logger.Printf("query/retrieve failed: %v", retrieveErr)
		return nil
	}
	b.view.Invalidate()
	_, err := b.nav.Refresh(ctx)
	return err
}

// HandleEvent applies the browser's own reaction to ev. The owning loop
// calls it for every event it receives.
func (b *Browser) HandleEvent(ctx context.Context, ev events.Event) error {
	if _, ok := ev.(importer.ImportFinished); ok {
		_, err := b.nav.Refresh(ctx)
		return err
	}
	return nil
}

// Run is a headless owning loop. It feeds every event of sub to HandleEvent
// and then to handle, and drives auto-play, until ctx is done or sub closes.
func (b *Browser) Run(ctx context.Context, sub *events.Subscription, handle func(events.Event)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-sub.C():
			if !ok {
				return nil
			}
			if err := b.HandleEvent(ctx, ev); err != nil {
				b.logger.Printf("handle %s: %v", ev.EventName(), err)
			}
			if handle != nil {
				handle(ev)
			}
		case <-b.nav.AutoPlayTicks():
			if _, err := b.nav.OnAutoPlayTick(ctx); err != nil {
				b.logger.Printf("auto-play: %v", err)
			}
		}
	}
}

// Close cancels and waits for a running import, then releases the index.
func (b *Browser) Close() error {
	if h := b.pipeline.Active(); h != nil {
		h.Cancel()
		_, _ = h.Wait()
	}
	b.nav.Close()
	b.stream.Close()
	return b.index.Close()
}
