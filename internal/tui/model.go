package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/sahilm/fuzzy"

	"storesearch/searchclient/internal/catalog"
	"storesearch/searchclient/internal/domain"
	"storesearch/searchclient/internal/search"
)

// detailSlot is the artwork slot of the selected-item detail line.
const detailSlot = 0

// Searcher is the part of the orchestrator the screen drives.
type Searcher interface {
	SetTerm(term string)
	SetScope(scope domain.SearchScope)
	Snapshots() <-chan domain.Snapshot
	State() search.State
}

// ArtworkSource loads artwork for the selected item.
type ArtworkSource interface {
	Load(ctx context.Context, slot int, item domain.StoreItem, callback search.ArtworkCallback)
}

type snapshotMsg struct {
	snapshot domain.Snapshot
}

type snapshotsClosedMsg struct{}

type artworkMsg struct {
	slot  int
	item  domain.StoreItem
	asset catalog.Asset
}

type artworkInfo struct {
	itemID      int64
	width       int
	height      int
	contentType string
}

// Model is the Bubble Tea model of the search screen.
type Model struct {
	searcher Searcher
	artwork  ArtworkSource
	artCh    chan artworkMsg
	keys     KeyMap
	input    textinput.Model
	scope    domain.SearchScope
	snapshot domain.Snapshot
	cursor   int
	art      artworkInfo
	width    int
	height   int
	closed   bool
}

func NewModel(searcher Searcher, artwork ArtworkSource) Model {
	ti := textinput.New()
	ti.Placeholder = "Search the store..."
	ti.CharLimit = 200
	ti.Width = 48
	ti.Prompt = "> "
	ti.PromptStyle = lipgloss.NewStyle().Foreground(Accent)
	ti.PlaceholderStyle = lipgloss.NewStyle().Foreground(DimGray)
	ti.Focus()

	return Model{
		searcher: searcher,
		artwork:  artwork,
		artCh:    make(chan artworkMsg, 4),
		keys:     DefaultKeyMap(),
		input:    ti,
		scope:    domain.ScopeAll,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, waitForSnapshot(m.searcher.Snapshots()), waitForArtwork(m.artCh))
}

func waitForSnapshot(ch <-chan domain.Snapshot) tea.Cmd {
	return func() tea.Msg {
		snapshot, ok := <-ch
		if !ok {
			return snapshotsClosedMsg{}
		}
		return snapshotMsg{snapshot: snapshot}
	}
}

func waitForArtwork(ch <-chan artworkMsg) tea.Cmd {
	return func() tea.Msg {
		return <-ch
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.input.Width = max(msg.Width-10, 10)
		return m, nil

	case snapshotMsg:
		// A snapshot of an older generation can only arrive out of order
		// if the channel was drained late; the newest one wins.
		if msg.snapshot.Generation < m.snapshot.Generation {
			return m, waitForSnapshot(m.searcher.Snapshots())
		}
		m.snapshot = msg.snapshot
		m.cursor = min(m.cursor, max(m.snapshot.ItemCount()-1, 0))
		return m, tea.Batch(waitForSnapshot(m.searcher.Snapshots()), m.loadSelectedArtwork())

	case snapshotsClosedMsg:
		m.closed = true
		return m, nil

	case artworkMsg:
		if selected, ok := m.selected(); ok && selected.ID == msg.item.ID {
			m.art = artworkInfo{
				itemID:      msg.item.ID,
				width:       msg.asset.Width,
				height:      msg.asset.Height,
				contentType: msg.asset.ContentType,
			}
		}
		return m, waitForArtwork(m.artCh)

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.NextScope):
			m.setScope(m.scope.Next())
			return m, nil
		case key.Matches(msg, m.keys.PrevScope):
			m.setScope(m.scope.Prev())
			return m, nil
		case key.Matches(msg, m.keys.Up):
			if m.cursor > 0 {
				m.cursor--
			}
			return m, m.loadSelectedArtwork()
		case key.Matches(msg, m.keys.Down):
			if m.cursor < m.snapshot.ItemCount()-1 {
				m.cursor++
			}
			return m, m.loadSelectedArtwork()
		case key.Matches(msg, m.keys.Clear):
			m.input.SetValue("")
			m.searcher.SetTerm("")
			return m, nil
		}
	}

	previous := m.input.Value()
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	if value := m.input.Value(); value != previous {
		m.searcher.SetTerm(value)
	}
	return m, cmd
}

func (m *Model) setScope(scope domain.SearchScope) {
	m.scope = scope
	m.cursor = 0
	m.searcher.SetScope(scope)
}

// Scope returns the scope currently selected in the tab bar.
func (m Model) Scope() domain.SearchScope {
	return m.scope
}

func (m Model) Snapshot() domain.Snapshot {
	return m.snapshot
}

func (m Model) selected() (domain.StoreItem, bool) {
	index := m.cursor
	for _, section := range m.snapshot.Sections {
		if index < len(section.Items) {
			return section.Items[index], true
		}
		index -= len(section.Items)
	}
	return domain.StoreItem{}, false
}

func (m Model) loadSelectedArtwork() tea.Cmd {
	if m.artwork == nil {
		return nil
	}
	item, ok := m.selected()
	if !ok || item.ArtworkURL == "" || m.art.itemID == item.ID {
		return nil
	}
	artwork, artCh := m.artwork, m.artCh
	return func() tea.Msg {
		artwork.Load(context.Background(), detailSlot, item, func(slot int, item domain.StoreItem, asset catalog.Asset) {
			select {
			case artCh <- artworkMsg{slot: slot, item: item, asset: asset}:
			default:
			}
		})
		return nil
	}
}

func (m Model) View() string {
	var b strings.Builder
	b.WriteString(m.renderTabs())
	b.WriteString("\n")
	b.WriteString(m.input.View())
	b.WriteString("\n")
	b.WriteString(m.renderStatus())
	b.WriteString("\n")
	b.WriteString(m.renderSections())
	if detail := m.renderDetail(); detail != "" {
		b.WriteString("\n")
		b.WriteString(detail)
	}
	b.WriteString("\n")
	b.WriteString(m.renderHelp())
	return b.String()
}

func (m Model) renderHelp() string {
	bindings := m.keys.ShortHelp()
	parts := make([]string, 0, len(bindings))
	for _, binding := range bindings {
		help := binding.Help()
		parts = append(parts, help.Key+" "+help.Desc)
	}
	return StatusStyle.Render(strings.Join(parts, " • "))
}

func (m Model) renderTabs() string {
	scopes := domain.Scopes()
	tabs := make([]string, 0, len(scopes))
	for _, scope := range scopes {
		if scope == m.scope {
			tabs = append(tabs, ActiveTabStyle.Render(scope.Title()))
			continue
		}
		tabs = append(tabs, InactiveTabStyle.Render(scope.Title()))
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, tabs...)
}

func (m Model) renderStatus() string {
	if m.closed {
		return ErrorStyle.Render("search stopped")
	}
	snapshot := m.snapshot
	if strings.TrimSpace(snapshot.Term) == "" {
		return StatusStyle.Render("type to search")
	}
	var failed []string
	for _, status := range snapshot.Scopes {
		if !status.OK && !status.Cancelled {
			failed = append(failed, status.Scope.Title())
		}
	}
	text := fmt.Sprintf("%d results for %q", snapshot.ItemCount(), snapshot.Term)
	if !snapshot.Final {
		text = fmt.Sprintf("searching %q... %d scopes pending", snapshot.Term, snapshot.Pending)
	} else if snapshot.Empty() {
		text = fmt.Sprintf("no results for %q", snapshot.Term)
	}
	status := StatusStyle.Render(text)
	if len(failed) > 0 {
		status += " " + ErrorStyle.Render("unavailable: "+strings.Join(failed, ", "))
	}
	return status
}

func (m Model) renderSections() string {
	if m.snapshot.Empty() {
		return ""
	}
	layout := m.snapshot.Scope.Layout()
	index := 0
	blocks := make([]string, 0, len(m.snapshot.Sections))
	for _, section := range m.snapshot.Sections {
		lines := []string{SectionTitleStyle.Render(section.Title)}
		rows := groupItems(section.Items, layout.GroupItemCount)
		for _, row := range rows {
			cells := make([]string, 0, len(row))
			for _, item := range row {
				cells = append(cells, m.renderItem(item, index == m.cursor))
				index++
			}
			lines = append(lines, strings.Join(cells, "   "))
		}
		blocks = append(blocks, strings.Join(lines, "\n"))
	}

	if !layout.OrthogonalScroll || m.width <= 0 {
		return strings.Join(blocks, "\n")
	}
	columnWidth := max(int(float64(m.width)*layout.GroupWidthFraction)-4, 20)
	columns := make([]string, 0, len(blocks))
	for _, block := range blocks {
		columns = append(columns, ColumnStyle.Width(columnWidth).Render(block))
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, columns...)
}

func groupItems(items []domain.StoreItem, size int) [][]domain.StoreItem {
	if size <= 0 {
		size = 1
	}
	rows := make([][]domain.StoreItem, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		rows = append(rows, items[start:end])
	}
	return rows
}

func (m Model) renderItem(item domain.StoreItem, selected bool) string {
	name := highlightMatches(item.Name, matchIndexes(m.snapshot.Term, item.Name))
	if selected {
		name = SelectedItemStyle.Render("▸ ") + name
	} else {
		name = "  " + name
	}
	if item.Artist == "" {
		return name
	}
	return name + ArtistStyle.Render(" · "+item.Artist)
}

func (m Model) renderDetail() string {
	item, ok := m.selected()
	if !ok {
		return ""
	}
	detail := fmt.Sprintf("%s  [%s #%d]", item.Name, item.Kind, item.ID)
	if m.art.itemID == item.ID {
		detail += fmt.Sprintf("  artwork %dx%d %s", m.art.width, m.art.height, m.art.contentType)
	}
	return StatusStyle.Render(detail)
}

// matchIndexes returns the byte offsets in name that fuzzy-match term.
// Matching folds case itself, so offsets line up with name as displayed.
func matchIndexes(term, name string) []int {
	term = strings.TrimSpace(term)
	if term == "" || name == "" {
		return nil
	}
	matches := fuzzy.Find(term, []string{name})
	if len(matches) == 0 {
		return nil
	}
	return matches[0].MatchedIndexes
}

func highlightMatches(text string, matched []int) string {
	if len(matched) == 0 {
		return ItemStyle.Render(text)
	}
	matchSet := make(map[int]bool, len(matched))
	for _, idx := range matched {
		matchSet[idx] = true
	}
	var b strings.Builder
	for i, r := range text {
		if matchSet[i] {
			b.WriteString(MatchStyle.Render(string(r)))
			continue
		}
		b.WriteString(ItemStyle.Render(string(r)))
	}
	return b.String()
}
