package bell

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nao1215/crewlink/internal/notify"
)

const (
	// maxVisible はドロップダウンに一度に表示する件数。
	maxVisible = 8
	// itemTop はドロップダウンの1件目が描画される行。バッジ、枠線、見出しの下になる。
	itemTop = 3
	// callTimeout はAPI呼び出し1回あたりのタイムアウト。
	callTimeout = 10 * time.Second
)

type (
	snapshotMsg notify.Snapshot
	errMsg      struct{ err error }
	tickMsg     time.Time
)

var (
	badgeStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FFFFFF")).
			Background(lipgloss.Color("#D7263D")).
			Padding(0, 1)
	idleBadgeStyle = lipgloss.NewStyle().Faint(true).Padding(0, 1)
	boxStyle       = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#5F87AF")).
			Padding(0, 1)
	headerStyle   = lipgloss.NewStyle().Bold(true)
	unreadStyle   = lipgloss.NewStyle().Bold(true)
	readStyle     = lipgloss.NewStyle().Faint(true)
	selectedStyle = lipgloss.NewStyle().Reverse(true)
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#D7263D"))
	helpStyle     = lipgloss.NewStyle().Faint(true)
)

// Model は通知ベルとドロップダウンのbubbleteaモデル。
// 一覧と件数はサーバーのスナップショットをそのまま使い、手元では開閉とカーソルだけを持つ。
type Model struct {
	api          API
	keys         KeyMap
	width        int
	pollInterval time.Duration
	now          func() time.Time

	open   bool
	cursor int
	snap   notify.Snapshot
	err    error
}

// NewModel は新しいModelを生成する。
func NewModel(api API, cfg *Config) Model {
	return Model{
		api:          api,
		keys:         DefaultKeyMap(),
		width:        cfg.Width,
		pollInterval: cfg.PollInterval(),
		now:          time.Now,
	}
}

// Init は初回の取得とポーリングを開始する。
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.call(m.api.List), m.tick())
}

func (m Model) tick() tea.Cmd {
	return tea.Tick(m.pollInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) call(fn func(ctx context.Context) (notify.Snapshot, error)) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
		defer cancel()
		snap, err := fn(ctx)
		if err != nil {
			return errMsg{err: err}
		}
		return snapshotMsg(snap)
	}
}

// Update はメッセージを処理する。
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case snapshotMsg:
		m.snap = notify.Snapshot(msg)
		m.err = nil
		m.clampCursor()
		return m, nil

	case errMsg:
		m.err = msg.err
		return m, nil

	case tickMsg:
		return m, tea.Batch(m.call(m.api.List), m.tick())

	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.MouseMsg:
		return m.handleMouse(msg)
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.Toggle):
		m.open = !m.open
		return m, nil
	case key.Matches(msg, m.keys.Refresh):
		return m, m.call(m.api.Refetch)
	}

	if !m.open {
		return m, nil
	}

	switch {
	case key.Matches(msg, m.keys.Close):
		m.open = false
	case key.Matches(msg, m.keys.Up):
		if m.cursor > 0 {
			m.cursor--
		}
	case key.Matches(msg, m.keys.Down):
		if m.cursor < len(m.snap.Notifications)-1 {
			m.cursor++
		}
	case key.Matches(msg, m.keys.Read):
		return m.markSelected()
	case key.Matches(msg, m.keys.ReadAll):
		return m.markAll()
	}
	return m, nil
}

func (m Model) handleMouse(msg tea.MouseMsg) (tea.Model, tea.Cmd) {
	if msg.Action != tea.MouseActionPress || msg.Button != tea.MouseButtonLeft {
		return m, nil
	}

	if m.inBadge(msg.X, msg.Y) {
		m.open = !m.open
		return m, nil
	}
	if !m.open {
		return m, nil
	}
	if !m.inDropdown(msg.X, msg.Y) {
		m.open = false
		return m, nil
	}

	if i := m.offset() + msg.Y - itemTop; msg.Y >= itemTop && i < m.offset()+maxVisible && i < len(m.snap.Notifications) {
		m.cursor = i
		return m.markSelected()
	}
	return m, nil
}

// markSelected はカーソル位置の通知を既読にする。
// 表示はサーバーが返したスナップショットが届くまで変えない。
func (m Model) markSelected() (tea.Model, tea.Cmd) {
	if m.cursor >= len(m.snap.Notifications) {
		return m, nil
	}
	item := m.snap.Notifications[m.cursor]
	if item.Read {
		return m, nil
	}
	return m, m.call(func(ctx context.Context) (notify.Snapshot, error) {
		return m.api.MarkAsRead(ctx, item.ID)
	})
}

func (m Model) markAll() (tea.Model, tea.Cmd) {
	if m.snap.UnreadCount == 0 {
		return m, nil
	}
	return m, m.call(m.api.MarkAllAsRead)
}

func (m *Model) clampCursor() {
	if n := len(m.snap.Notifications); m.cursor >= n {
		m.cursor = max(n-1, 0)
	}
}

// offset はスクロール位置。カーソルが常に表示範囲に入るようにする。
func (m Model) offset() int {
	return max(m.cursor-maxVisible+1, 0)
}

func (m Model) inBadge(x, y int) bool {
	return y == 0 && x >= 0 && x < lipgloss.Width(m.badge())
}

func (m Model) inDropdown(x, y int) bool {
	box := m.dropdown()
	return y >= 1 && y < 1+lipgloss.Height(box) && x >= 0 && x < lipgloss.Width(box)
}

// View は画面を描画する。
func (m Model) View() string {
	if !m.open {
		return m.badge()
	}
	return lipgloss.JoinVertical(lipgloss.Left, m.badge(), m.dropdown())
}

func (m Model) badge() string {
	label := "🔔"
	if m.snap.IsLoading {
		label += " …"
	}
	if m.snap.UnreadCount > 0 {
		return badgeStyle.Render(fmt.Sprintf("%s %d", label, m.snap.UnreadCount))
	}
	return idleBadgeStyle.Render(label)
}

func (m Model) dropdown() string {
	inner := m.width - 4
	line := lipgloss.NewStyle().MaxWidth(inner)

	var b strings.Builder
	b.WriteString(headerStyle.Render(fmt.Sprintf("通知 (未読 %d件)", m.snap.UnreadCount)))

	items := m.snap.Notifications
	if len(items) == 0 {
		b.WriteString("\n" + readStyle.Render("通知はありません"))
	}

	start := m.offset()
	end := min(start+maxVisible, len(items))
	for i := start; i < end; i++ {
		n := items[i]
		mark, style := "  ", readStyle
		if !n.Read {
			mark, style = "● ", unreadStyle
		}
		text := fmt.Sprintf("%s%s  %s  %s", mark, ago(m.now(), n.CreatedAt), n.Title, n.Message)
		rendered := style.Render(line.Render(text))
		if i == m.cursor {
			rendered = selectedStyle.Render(line.Render(text))
		}
		b.WriteString("\n" + rendered)
	}

	if m.err != nil {
		b.WriteString("\n" + errorStyle.Render(line.Render("エラー: "+m.err.Error())))
	}
	b.WriteString("\n" + helpStyle.Render(line.Render("enter 既読  a すべて既読  r 再取得  esc 閉じる")))

	return boxStyle.Width(m.width - 2).Render(b.String())
}

// ago は作成日時を「3分前」のような相対表記にする。
func ago(now, t time.Time) string {
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "たった今"
	case d < time.Hour:
		return fmt.Sprintf("%d分前", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%d時間前", int(d.Hours()))
	default:
		return fmt.Sprintf("%d日前", int(d.Hours()/24))
	}
}
