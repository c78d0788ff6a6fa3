package tui

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/thomaskoefod/hnreadr/internal/browser"
	"github.com/thomaskoefod/hnreadr/internal/config"
	"github.com/thomaskoefod/hnreadr/internal/database"
	"github.com/thomaskoefod/hnreadr/internal/feed"
	"github.com/thomaskoefod/hnreadr/internal/hn"
	"github.com/thomaskoefod/hnreadr/internal/raindrop"
	"github.com/thomaskoefod/hnreadr/internal/staleness"
	"github.com/thomaskoefod/hnreadr/pkg/models"
)

type View int

const (
	ViewStories View = iota
	ViewComments
	ViewHelp
)

// Deps are the collaborators the renderer drives.
type Deps struct {
	Config   *config.Config
	DB       *database.DB
	Fetcher  *feed.Fetcher
	HN       *hn.Client
	Raindrop *raindrop.Client
	Logger   *slog.Logger
	Clock    func() time.Time
	// Glamour style name; empty picks one from the terminal background.
	Style string
	// Open replaces browser.Open, for tests.
	Open func(url string) error
}

type Model struct {
	ctx  context.Context
	deps Deps

	view     View
	prevView View
	tab      int
	list     list.Model
	spinner  spinner.Model
	viewport viewport.Model
	render   *renderer

	fetchedAt *time.Time
	loading   bool
	lastCheck time.Time

	story    *models.Story
	comments []models.Comment
	selected int
	offsets  []int

	width     int
	height    int
	err       error
	statusMsg string
}

type storiesLoadedMsg struct {
	category  models.FeedCategory
	items     []list.Item
	fetchedAt *time.Time
	stale     bool
}

type refreshMsg struct {
	update feed.Update
	ok     bool
}

type commentsLoadedMsg struct {
	story    *models.Story
	comments []models.Comment
	err      error
}

type favoriteToggledMsg struct {
	item models.Favoritable
}

type moreLoadedMsg struct {
	category models.FeedCategory
	count    int
}

type openThreadMsg struct {
	story *models.Story
}

type tickMsg time.Time

type errorMsg struct {
	err error
}

type statusMsg string

// New builds the model. ctx bounds every background fetch it starts.
func New(ctx context.Context, deps Deps, start models.FeedCategory) Model {
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.DiscardHandler)
	}
	if deps.Open == nil {
		deps.Open = browser.Open
	}

	delegate := list.NewDefaultDelegate()
	l := list.New([]list.Item{}, delegate, 0, 0)
	l.SetShowTitle(false)
	l.SetShowStatusBar(true)
	l.SetShowHelp(false)
	l.SetFilteringEnabled(true)
	l.Styles.Title = titleStyle

	sp := spinner.New()
	sp.Spinner = spinner.MiniDot
	sp.Style = spinnerStyle

	tab := 0
	for i, c := range models.FeedCategories {
		if c == start {
			tab = i
		}
	}

	return Model{
		ctx:      ctx,
		deps:     deps,
		view:     ViewStories,
		tab:      tab,
		list:     l,
		spinner:  sp,
		viewport: viewport.New(0, 0),
		render:   newRenderer(deps.Style),
	}
}

func (m Model) category() models.FeedCategory {
	return models.FeedCategories[m.tab]
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.loadStories(m.category()),
		m.waitForRefresh(),
		m.spinner.Tick,
		tick(),
		m.checkRaindrop(),
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.list.SetSize(msg.Width, msg.Height-4)
		m.viewport.Width = msg.Width
		m.viewport.Height = msg.Height - 3
		if m.view == ViewComments {
			m.renderThread()
		}
		return m, nil

	case tea.KeyMsg:
		return m.handleKeyPress(msg)

	case storiesLoadedMsg:
		if msg.category != m.category() {
			return m, nil
		}
		m.list.SetItems(msg.items)
		m.fetchedAt = msg.fetchedAt
		m.err = nil
		if msg.stale && msg.category.Remote() && !m.loading {
			return m.refresh()
		}
		return m, nil

	case refreshMsg:
		if !msg.ok {
			return m, nil
		}
		cmd := m.waitForRefresh()
		u := msg.update
		if u.Category != m.category() {
			return m, cmd
		}
		m.loading = false
		if u.Err != nil {
			m.err = u.Err
			return m, cmd
		}
		m.statusMsg = fmt.Sprintf("Refreshed %s: %d stories", u.Category.Label(), u.Stories)
		return m, tea.Batch(cmd, m.loadStories(u.Category))

	case commentsLoadedMsg:
		m.loading = false
		if m.story == nil || msg.story.ID != m.story.ID {
			return m, nil
		}
		m.comments = msg.comments
		m.err = msg.err
		if m.selected >= len(m.comments) {
			m.selected = 0
		}
		m.renderThread()
		return m, nil

	case openThreadMsg:
		return m.openThread(msg.story)

	case favoriteToggledMsg:
		return m.applyFavorite(msg.item)

	case moreLoadedMsg:
		m.loading = false
		m.statusMsg = fmt.Sprintf("Loaded %d more stories", msg.count)
		return m, m.loadStories(msg.category)

	case tickMsg:
		return m.handleTick(time.Time(msg))

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case errorMsg:
		m.loading = false
		m.err = msg.err
		return m, nil

	case statusMsg:
		m.err = nil
		m.statusMsg = string(msg)
		return m, nil
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m Model) handleKeyPress(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.String() == "ctrl+c" {
		return m, tea.Quit
	}
	switch m.view {
	case ViewStories:
		return m.handleListKeys(msg)
	case ViewComments:
		return m.handleCommentKeys(msg)
	case ViewHelp:
		return m.handleHelpKeys(msg)
	}
	return m, nil
}

func (m Model) handleListKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	// While typing a filter every key belongs to the list.
	if m.list.FilterState() == list.Filtering {
		var cmd tea.Cmd
		m.list, cmd = m.list.Update(msg)
		return m, cmd
	}

	switch key := msg.String(); key {
	case "q":
		return m, tea.Quit

	case "tab", "right", "l":
		return m.switchTab((m.tab + 1) % len(models.FeedCategories))

	case "shift+tab", "left", "h":
		return m.switchTab((m.tab + len(models.FeedCategories) - 1) % len(models.FeedCategories))

	case "1", "2", "3", "4", "5", "6", "7":
		return m.switchTab(int(key[0] - '1'))

	case "enter":
		return m.openSelected()

	case "f":
		if item := favoritable(m.list.SelectedItem()); item != nil {
			return m, m.toggleFavorite(item)
		}

	case "o":
		if s, ok := m.list.SelectedItem().(storyItem); ok {
			return m, m.openURL(storyURL(&s.story))
		}
		if c, ok := m.list.SelectedItem().(commentItem); ok {
			return m, m.openURL(models.DiscussionURL(c.comment.ID))
		}

	case "c":
		if item := favoritable(m.list.SelectedItem()); item != nil {
			return m, m.openURL(models.DiscussionURL(item.ItemID()))
		}

	case "r":
		if m.category().Remote() {
			return m.refresh()
		}
		return m, m.loadStories(m.category())

	case "m":
		if m.category().Remote() && m.deps.HN != nil {
			m.loading = true
			return m, m.loadMore(m.category(), len(m.list.Items())+m.deps.Config.Feeds.PageSize)
		}

	case "s":
		if s, ok := m.list.SelectedItem().(storyItem); ok {
			return m, m.saveToRaindrop(s.story)
		}

	case "?":
		m.prevView = m.view
		m.view = ViewHelp
		return m, nil
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m Model) handleCommentKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "esc", "backspace":
		m.view = ViewStories
		m.story, m.comments, m.offsets = nil, nil, nil
		return m, m.loadStories(m.category())

	case "j", "down":
		if m.selected < len(m.comments)-1 {
			m.selected++
			m.renderThread()
		}
		return m, nil

	case "k", "up":
		if m.selected > 0 {
			m.selected--
			m.renderThread()
		}
		return m, nil

	case "f":
		if m.selected < len(m.comments) {
			return m, m.toggleFavorite(&m.comments[m.selected])
		}

	case "F":
		return m, m.toggleFavorite(m.story)

	case "o":
		return m, m.openURL(storyURL(m.story))

	case "c":
		return m, m.openURL(models.DiscussionURL(m.story.ID))

	case "s":
		return m, m.saveToRaindrop(*m.story)

	case "r":
		m.loading = true
		return m, m.loadComments(m.story)

	case "?":
		m.prevView = m.view
		m.view = ViewHelp
		return m, nil
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m Model) handleHelpKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc", "?", "q":
		m.view = m.prevView
	}
	return m, nil
}

func (m Model) handleTick(now time.Time) (tea.Model, tea.Cmd) {
	cmd := tick()
	interval := m.deps.Config.UI.RefreshInterval.Std()
	if interval <= 0 || now.Sub(m.lastCheck) < interval || m.loading || !m.category().Remote() {
		return m, cmd
	}
	m.lastCheck = now
	// A reload reports staleness; storiesLoadedMsg starts the refetch.
	return m, tea.Batch(cmd, m.loadStories(m.category()))
}

func (m Model) switchTab(tab int) (tea.Model, tea.Cmd) {
	if tab < 0 || tab >= len(models.FeedCategories) || tab == m.tab {
		return m, nil
	}
	m.tab = tab
	m.loading = false
	m.fetchedAt = nil
	m.statusMsg = ""
	m.err = nil
	m.list.ResetFilter()
	m.list.ResetSelected()
	m.list.SetItems(nil)
	return m, m.loadStories(m.category())
}

func (m Model) refresh() (tea.Model, tea.Cmd) {
	m.loading = true
	m.err = nil
	m.statusMsg = "Fetching " + m.category().Label() + "..."
	m.deps.Fetcher.Refresh(m.ctx, m.category())
	return m, m.spinner.Tick
}

func (m Model) openSelected() (tea.Model, tea.Cmd) {
	switch i := m.list.SelectedItem().(type) {
	case storyItem:
		s := i.story
		return m.openThread(&s)
	case commentItem:
		return m, m.openParentStory(i.comment)
	}
	return m, nil
}

func (m Model) openThread(story *models.Story) (tea.Model, tea.Cmd) {
	m.view = ViewComments
	m.story = story
	m.comments = nil
	m.selected = 0
	m.loading = true
	m.viewport.GotoTop()
	m.renderThread()
	return m, tea.Batch(m.loadComments(story), m.spinner.Tick)
}

func (m Model) applyFavorite(item models.Favoritable) (tea.Model, tea.Cmd) {
	verb := "Unfavorited"
	if item.FavoritedAt() != nil {
		verb = "Favorited"
	}
	m.statusMsg = fmt.Sprintf("%s %s %d", verb, item.Kind(), item.ItemID())
	m.err = nil

	if m.view == ViewComments {
		if m.story != nil && item.Kind() == models.KindStory && item.ItemID() == m.story.ID {
			m.story.Favorited = item.FavoritedAt()
		}
		for i := range m.comments {
			if item.Kind() == models.KindComment && m.comments[i].ID == item.ItemID() {
				m.comments[i].Favorited = item.FavoritedAt()
			}
		}
		m.renderThread()
		return m, nil
	}

	if m.category() == models.FeedFavorites {
		return m, m.loadStories(models.FeedFavorites)
	}
	for idx, li := range m.list.Items() {
		if s, ok := li.(storyItem); ok && item.Kind() == models.KindStory && s.story.ID == item.ItemID() {
			s.story.Favorited = item.FavoritedAt()
			return m, m.list.SetItem(idx, s)
		}
	}
	return m, nil
}

func (m *Model) renderThread() {
	if m.story == nil {
		return
	}
	content, offsets := m.render.thread(m.story, m.comments, m.selected, m.viewport.Width, m.deps.Clock())
	m.viewport.SetContent(content)
	m.offsets = offsets
	if m.selected < len(offsets) {
		top := offsets[m.selected]
		if top < m.viewport.YOffset || top >= m.viewport.YOffset+m.viewport.Height-2 {
			m.viewport.SetYOffset(top)
		}
	}
}

func (m Model) View() string {
	switch m.view {
	case ViewStories:
		return m.renderList()
	case ViewComments:
		return m.renderComments()
	case ViewHelp:
		return m.renderHelp()
	}
	return ""
}

func (m Model) renderTabs() string {
	tabs := make([]string, len(models.FeedCategories))
	for i, c := range models.FeedCategories {
		label := fmt.Sprintf("%d %s", i+1, c.Label())
		if i == m.tab {
			tabs[i] = tabActiveStyle.Render(label)
		} else {
			tabs[i] = tabInactiveStyle.Render(label)
		}
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, tabs...)
}

// ageLabel is computed at render time so it keeps counting between fetches.
func (m Model) ageLabel() string {
	if !m.category().Remote() {
		return "local"
	}
	age := staleness.Compute(m.fetchedAt, m.deps.Clock())
	if !age.Fetched() {
		return age.Label()
	}
	return "updated " + age.Label()
}

func (m Model) statusLine() string {
	var s strings.Builder
	if m.loading {
		s.WriteString(m.spinner.View())
		s.WriteString(" ")
	}
	switch {
	case m.err != nil:
		s.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
	case m.statusMsg != "":
		s.WriteString(statusStyle.Render(m.statusMsg))
	}
	return s.String()
}

func (m Model) renderList() string {
	var s strings.Builder

	s.WriteString(m.renderTabs())
	s.WriteString("  ")
	s.WriteString(ageStyle.Render(m.ageLabel()))
	s.WriteString("\n")
	s.WriteString(m.list.View())
	s.WriteString("\n")
	s.WriteString(m.statusLine())
	s.WriteString("\n")
	s.WriteString(helpStyle.Render("enter: comments • f: favorite • o: open • tab: next feed • r: refresh • m: more • ?: help • q: quit"))

	return s.String()
}

func (m Model) renderComments() string {
	var s strings.Builder

	s.WriteString(m.viewport.View())
	s.WriteString("\n")
	s.WriteString(m.statusLine())
	s.WriteString("\n")
	s.WriteString(helpStyle.Render("j/k: next/prev • f: favorite comment • F: favorite story • o: open • s: save • esc: back • ?: help"))

	return s.String()
}

func (m Model) renderHelp() string {
	help := `
hnreadr - Keyboard Shortcuts

Story List:
  ↑/↓, j/k     Navigate stories
  tab, l / h   Next / previous feed
  1-7          Jump to feed
  enter        Read comments
  f            Toggle favorite
  o            Open story in browser
  c            Open discussion in browser
  r            Refetch feed
  m            Load more stories
  s            Save story to Raindrop.io
  /            Filter stories
  q, ctrl+c    Quit

Comments:
  j/k          Select next / previous comment
  pgup/pgdn    Scroll
  f            Toggle favorite on selected comment
  F            Toggle favorite on story
  o, c         Open story / discussion in browser
  r            Reload comments
  esc          Back to list

General:
  ?            Show/hide this help
`
	return help + "\n" + helpStyle.Render("Press ? or esc to close help")
}

func storyURL(s *models.Story) string {
	if s.URL != "" {
		return s.URL
	}
	return models.DiscussionURL(s.ID)
}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) waitForRefresh() tea.Cmd {
	if m.deps.Fetcher == nil {
		return nil
	}
	updates := m.deps.Fetcher.Updates()
	return func() tea.Msg {
		u, ok := <-updates
		return refreshMsg{update: u, ok: ok}
	}
}

func (m Model) loadStories(category models.FeedCategory) tea.Cmd {
	db, ttl, now := m.deps.DB, m.deps.Config.TTL(category), m.deps.Clock
	ctx := m.ctx
	return func() tea.Msg {
		if category == models.FeedFavorites {
			stories, err := db.FavoriteStories(ctx, 0, 0)
			if err != nil {
				return errorMsg{err}
			}
			comments, err := db.FavoriteComments(ctx, 0, 0)
			if err != nil {
				return errorMsg{err}
			}
			return storiesLoadedMsg{category: category, items: favoriteItems(stories, comments, now())}
		}

		stories, err := db.FeedStories(ctx, category, 0, 0)
		if err != nil {
			return errorMsg{err}
		}
		age, err := db.FeedAge(ctx, category)
		if err != nil {
			return errorMsg{err}
		}
		return storiesLoadedMsg{
			category:  category,
			items:     storyItems(stories, now(), true),
			fetchedAt: age.FetchedAt,
			stale:     staleness.ShouldRefetch(age.FetchedAt, now(), ttl),
		}
	}
}

func (m Model) loadComments(story *models.Story) tea.Cmd {
	src, db, depth, ctx := m.deps.HN, m.deps.DB, m.deps.Config.Feeds.CommentDepth, m.ctx
	return func() tea.Msg {
		var (
			comments []models.Comment
			err      error
		)
		if src == nil {
			comments, err = db.Comments(ctx, story.ID)
			comments = models.Thread(story.Kids, comments)
		} else {
			comments, err = feed.LoadComments(ctx, src, db, story, depth)
		}
		return commentsLoadedMsg{story: story, comments: comments, err: err}
	}
}

// openParentStory opens the thread a favorited comment belongs to, if that
// story is cached.
func (m Model) openParentStory(c models.Comment) tea.Cmd {
	db, ctx := m.deps.DB, m.ctx
	return func() tea.Msg {
		s, err := db.Story(ctx, c.StoryID)
		if err != nil {
			return errorMsg{err}
		}
		if s == nil {
			return statusMsg(fmt.Sprintf("Story %d is not cached", c.StoryID))
		}
		return openThreadMsg{story: s}
	}
}

func (m Model) loadMore(category models.FeedCategory, upTo int) tea.Cmd {
	src, db, ctx := m.deps.HN, m.deps.DB, m.ctx
	return func() tea.Msg {
		n, err := feed.LoadMore(ctx, src, db, category, upTo)
		if err != nil {
			return errorMsg{err}
		}
		return moreLoadedMsg{category: category, count: n}
	}
}

// toggleFavorite works on a copy so the command never writes to model state
// from outside Update.
func (m Model) toggleFavorite(item models.Favoritable) tea.Cmd {
	db, ctx, logger := m.deps.DB, m.ctx, m.deps.Logger
	kind, id := item.Kind(), item.ItemID()
	return func() tea.Msg {
		var copied models.Favoritable
		switch kind {
		case models.KindStory:
			copied = &models.Story{ID: id}
		default:
			copied = &models.Comment{ID: id}
		}
		if err := db.ToggleFavoriteItem(ctx, copied); err != nil {
			if errors.Is(err, database.ErrNotFound) {
				return statusMsg(fmt.Sprintf("%s %d is not cached yet", kind, id))
			}
			logger.Error("toggling favorite", "kind", kind, "id", id, "error", err)
			return errorMsg{err}
		}
		return favoriteToggledMsg{item: copied}
	}
}

func (m Model) openURL(url string) tea.Cmd {
	open := m.deps.Open
	return func() tea.Msg {
		if err := open(url); err != nil {
			return errorMsg{err}
		}
		return statusMsg("Opened in browser")
	}
}

// checkRaindrop verifies a configured token once at startup, so a bad token
// shows up before the first save.
func (m Model) checkRaindrop() tea.Cmd {
	rd, ctx, logger := m.deps.Raindrop, m.ctx, m.deps.Logger
	if !rd.Enabled() {
		return nil
	}
	return func() tea.Msg {
		if err := rd.TestConnection(ctx); err != nil {
			logger.Warn("raindrop token check failed", "error", err)
			return statusMsg("Raindrop.io check failed: " + err.Error())
		}
		return nil
	}
}

func (m Model) saveToRaindrop(story models.Story) tea.Cmd {
	rd, ctx := m.deps.Raindrop, m.ctx
	return func() tea.Msg {
		if !rd.Enabled() {
			return statusMsg("Raindrop is not configured (raindrop.api_token)")
		}
		if err := rd.SaveStory(ctx, &story); err != nil {
			return errorMsg{err}
		}
		return statusMsg("Saved to Raindrop.io")
	}
}
