// Package tui is the interactive archive browser.
package tui

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"

	"github.com/mrsinham/dicomshelf/internal/browser"
	"github.com/mrsinham/dicomshelf/internal/events"
	"github.com/mrsinham/dicomshelf/internal/hierarchy"
	"github.com/mrsinham/dicomshelf/internal/importer"
	"github.com/mrsinham/dicomshelf/internal/navigation"
	"github.com/mrsinham/dicomshelf/internal/util"
	"github.com/mrsinham/dicomshelf/internal/viewmodel"
)

const thumbnailStep = 32

// Options configures Run.
type Options struct {
	// ImportRoot, when set, is imported as soon as the browser starts.
	ImportRoot string
	// Tags are shown for the current instance when they were precached.
	Tags []string
}

type eventMsg struct{ ev events.Event }

type streamClosedMsg struct{}

type tickMsg struct{}

// tagGroup holds the cached values of tags sharing a scope.
type tagGroup struct {
	scope  util.TagScope
	values []string
}

// detail is what the browser shows about the cursor.
type detail struct {
	patient, study, series, image string
	path                          string
	tags                          []tagGroup
}

// Model is the bubbletea model of the browser.
type Model struct {
	ctx   context.Context
	shelf *browser.Browser
	sub   *events.Subscription
	tags  []util.TagInfo

	stopTicks chan struct{}

	handle   *importer.Handle
	progress *importProgress

	form       *huh.Form
	importPath string

	detail detail
	status string
	width  int
	height int
}

// New builds a model over shelf. Tag names are resolved the same way the
// import pipeline resolves them.
func New(ctx context.Context, shelf *browser.Browser, opts Options) (*Model, error) {
	infos, err := util.ResolveTags(opts.Tags)
	if err != nil {
		return nil, err
	}
	// Patient tags first, numeric tags last.
	slices.SortStableFunc(infos, func(a, b util.TagInfo) int { return cmp.Compare(a.Scope, b.Scope) })
	m := &Model{ctx: ctx, shelf: shelf, sub: shelf.Subscribe(), tags: infos}
	m.loadDetail()
	if opts.ImportRoot != "" {
		m.startImport(opts.ImportRoot)
	}
	return m, nil
}

// Run starts the browser on the terminal and blocks until the user quits.
func Run(ctx context.Context, shelf *browser.Browser, opts Options) error {
	m, err := New(ctx, shelf, opts)
	if err != nil {
		return err
	}
	defer m.sub.Unsubscribe()

	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	_, err = p.Run()
	if m.handle != nil {
		shelf.CancelImport(m.handle)
		_, _ = m.handle.Wait()
	}
	return err
}

func waitEvent(sub *events.Subscription) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-sub.C()
		if !ok {
			return streamClosedMsg{}
		}
		return eventMsg{ev: ev}
	}
}

func waitTick(ticks <-chan time.Time, stop <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		select {
		case <-ticks:
			return tickMsg{}
		case <-stop:
			return nil
		}
	}
}

// Init implements tea.Model
func (m *Model) Init() tea.Cmd {
	return waitEvent(m.sub)
}

// Update implements tea.Model
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case eventMsg:
		return m, tea.Batch(m.handleEvent(msg.ev), waitEvent(m.sub))
	case streamClosedMsg:
		return m, tea.Quit
	case tickMsg:
		if _, err := m.shelf.OnAutoPlayTick(m.ctx); err != nil {
			m.status = err.Error()
		}
		if m.shelf.AutoPlayEnabled() {
			return m, waitTick(m.shelf.AutoPlayTicks(), m.stopTicks)
		}
		return m, nil
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	}

	if m.form != nil {
		return m, m.updateForm(msg)
	}
	if key, ok := msg.(tea.KeyMsg); ok {
		return m, m.handleKey(key)
	}
	return m, nil
}

func (m *Model) handleKey(key tea.KeyMsg) tea.Cmd {
	steps := map[string]func(context.Context) (bool, error){
		"right":  m.shelf.NextImage,
		"l":      m.shelf.NextImage,
		"left":   m.shelf.PreviousImage,
		"h":      m.shelf.PreviousImage,
		"down":   m.shelf.NextSeries,
		"j":      m.shelf.NextSeries,
		"up":     m.shelf.PreviousSeries,
		"k":      m.shelf.PreviousSeries,
		"]":      m.shelf.NextStudy,
		"[":      m.shelf.PreviousStudy,
		"pgdown": m.shelf.NextPatient,
		"n":      m.shelf.NextPatient,
		"pgup":   m.shelf.PreviousPatient,
		"p":      m.shelf.PreviousPatient,
	}
	if step, ok := steps[key.String()]; ok {
		m.status = ""
		if _, err := step(m.ctx); err != nil {
			m.status = err.Error()
		}
		return nil
	}

	switch key.String() {
	case "ctrl+c", "q":
		if m.handle != nil {
			m.shelf.CancelImport(m.handle)
		}
		m.stopAutoPlay()
		return tea.Quit
	case " ":
		if m.shelf.AutoPlayEnabled() {
			m.stopAutoPlay()
			return nil
		}
		m.shelf.SetAutoPlay(true)
		if !m.shelf.AutoPlayEnabled() {
			return nil
		}
		m.stopTicks = make(chan struct{})
		return waitTick(m.shelf.AutoPlayTicks(), m.stopTicks)
	case "c":
		if m.handle != nil {
			m.shelf.CancelImport(m.handle)
			m.status = "cancelling import"
		}
	case "i":
		if m.handle != nil {
			m.status = importer.ErrBusy.Error()
			return nil
		}
		m.importPath = ""
		m.form = huh.NewForm(huh.NewGroup(
			huh.NewInput().
				Title("Directory to import").
				Value(&m.importPath),
		)).WithShowHelp(false)
		return m.form.Init()
	case "+":
		m.shelf.SetThumbnailSize(m.shelf.View().ThumbnailSize() + thumbnailStep)
	case "-":
		m.shelf.SetThumbnailSize(m.shelf.View().ThumbnailSize() - thumbnailStep)
	}
	return nil
}

func (m *Model) updateForm(msg tea.Msg) tea.Cmd {
	if key, ok := msg.(tea.KeyMsg); ok && key.String() == "esc" {
		m.form = nil
		return nil
	}
	form, cmd := m.form.Update(msg)
	if f, ok := form.(*huh.Form); ok {
		m.form = f
	}
	switch m.form.State {
	case huh.StateCompleted:
		m.form = nil
		if root := strings.TrimSpace(m.importPath); root != "" {
			m.startImport(root)
		}
		return nil
	case huh.StateAborted:
		m.form = nil
		return nil
	}
	return cmd
}

func (m *Model) stopAutoPlay() {
	m.shelf.SetAutoPlay(false)
	m.closeTicks()
}

func (m *Model) closeTicks() {
	if m.stopTicks != nil {
		close(m.stopTicks)
		m.stopTicks = nil
	}
}

func (m *Model) startImport(root string) {
	h, err := m.shelf.ImportDirectory(m.ctx, root)
	if err != nil {
		m.status = err.Error()
		return
	}
	m.handle = h
	m.progress = &importProgress{root: root, started: time.Now()}
}

func (m *Model) handleEvent(ev events.Event) tea.Cmd {
	if err := m.shelf.HandleEvent(m.ctx, ev); err != nil {
		m.status = err.Error()
	}

	switch ev := ev.(type) {
	case importer.SchemaUpgradeProgress:
		if m.progress != nil {
			m.progress.schema = fmt.Sprintf("Upgrading index schema (%d/%d)", ev.Step, ev.Total)
		}
	case importer.ScanCompleted:
		if m.progress != nil {
			m.progress.total = ev.Files
		}
	case importer.FileIndexed:
		if m.progress != nil {
			m.progress.processed++
			m.progress.path = ev.Path
		}
	case importer.FileSkipped:
		if m.progress != nil {
			m.progress.processed++
			m.progress.skipped++
			m.progress.path = ev.Path
		}
	case importer.ImportFinished:
		if m.progress != nil {
			m.progress.finished = true
			m.progress.summary = ev.Summary
			m.progress.err = ev.Err
		}
		m.handle = nil
		m.loadDetail()
	case navigation.AutoPlayChanged:
		if !ev.Enabled {
			m.closeTicks()
		}
	case navigation.CursorChanged, viewmodel.ViewReset, browser.DatabaseDirectoryChanged:
		m.loadDetail()
	case browser.QueryRetrieveFinished:
		if ev.Err != nil {
			m.status = "query/retrieve failed: " + ev.Err.Error()
		}
	}
	return nil
}

func (m *Model) loadDetail() {
	cur := m.shelf.Cursor()
	if cur.Empty() {
		m.detail = detail{}
		return
	}
	view := m.shelf.View()
	label := func(level hierarchy.Level) string {
		row, err := view.Row(m.ctx, cur.Node(level))
		if err != nil {
			return err.Error()
		}
		return row.Label
	}

	d := detail{
		patient: label(hierarchy.LevelPatient),
		study:   label(hierarchy.LevelStudy),
		series:  label(hierarchy.LevelSeries),
		image:   fmt.Sprintf("%d/%d", cur.SequenceIndex+1, cur.TotalInSeries),
	}
	if inst, err := m.shelf.Index().Instance(m.ctx, cur.InstanceID); err == nil {
		d.path = inst.FilePath
	}
	for _, info := range m.tags {
		v, ok, err := m.shelf.Index().CachedTag(m.ctx, cur.InstanceID, info.Name)
		if err != nil || !ok {
			continue
		}
		if n := len(d.tags); n == 0 || d.tags[n-1].scope != info.Scope {
			d.tags = append(d.tags, tagGroup{scope: info.Scope})
		}
		g := &d.tags[len(d.tags)-1]
		g.values = append(g.values, info.Name+"="+v)
	}
	m.detail = d
}

// View implements tea.Model
func (m *Model) View() string {
	var sb strings.Builder
	sb.WriteString(titleStyle.Render("dicomshelf"))
	sb.WriteString("\n")

	if m.form != nil {
		sb.WriteString(m.form.View())
		sb.WriteString("\n")
		sb.WriteString(hintStyle.Render("enter to import, esc to go back"))
		return sb.String()
	}

	if m.detail.image == "" {
		sb.WriteString(emptyStyle.Render("The index is empty. Press i to import a directory."))
		sb.WriteString("\n")
	} else {
		lines := []struct{ label, value string }{
			{"Patient", m.detail.patient},
			{"Study", m.detail.study},
			{"Series", m.detail.series},
			{"Image", m.detail.image},
			{"File", truncatePath(m.detail.path, max(m.width-12, 40))},
		}
		for _, g := range m.detail.tags {
			lines = append(lines, struct{ label, value string }{g.scope.String() + " tags", strings.Join(g.values, "  ")})
		}
		for _, l := range lines {
			sb.WriteString(labelStyle.Render(l.label + ":"))
			sb.WriteString(valueStyle.Render(l.value))
			sb.WriteString("\n")
		}
	}
	if m.shelf.AutoPlayEnabled() {
		sb.WriteString(autoPlayStyle.Render("▶ auto-play"))
		sb.WriteString("\n")
	}
	sb.WriteString(progressFileStyle.Render(fmt.Sprintf("Thumbnails: %dpx", m.shelf.View().ThumbnailSize())))
	sb.WriteString("\n\n")

	if m.progress != nil {
		sb.WriteString(m.progress.view(m.width, counters{
			patients:  m.shelf.PatientsAddedDuringImport(),
			studies:   m.shelf.StudiesAddedDuringImport(),
			series:    m.shelf.SeriesAddedDuringImport(),
			instances: m.shelf.InstancesAddedDuringImport(),
		}))
		sb.WriteString("\n\n")
	}
	if m.status != "" {
		sb.WriteString(statusStyle.Render(m.status))
		sb.WriteString("\n")
	}
	sb.WriteString(hintStyle.Render("←/→ image  ↑/↓ series  [/] study  p/n patient  space auto-play  i import  +/- thumbnails  q quit"))
	return sb.String()
}
