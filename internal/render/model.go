// Package render draws the dashboard. It never touches the network: every
// frame is built from the current viewstate.View, and panel groups are only
// rebuilt when their feed changed.
package render

import (
	"context"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/igwedaniel/sharkmon/internal/types"
	"github.com/igwedaniel/sharkmon/internal/viewstate"
)

const (
	defaultWidth  = 120
	clockInterval = time.Second
	waveInterval  = 100 * time.Millisecond
	waveHeight    = 3
	// relative labels ("3 minutes ago") are redrawn at most this often
	labelRefresh = 30 * time.Second
)

// MinerController is the part of the scheduler the input box drives
type MinerController interface {
	SubmitMiner(ctx context.Context, address string) error
	RefreshMiner(ctx context.Context) error
}

// FeedChangedMsg tells the model that feed was republished
type FeedChangedMsg struct {
	Feed types.Feed
}

type clockMsg time.Time

type waveMsg time.Time

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("51"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	helpStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	inputStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("63")).Padding(0, 1)

	panelColors = map[string]lipgloss.Color{
		"Pool Stats":       lipgloss.Color("51"),
		"Blockchain":       lipgloss.Color("201"),
		"Connections":      lipgloss.Color("226"),
		"Latest Block":     lipgloss.Color("46"),
		"Pool Performance": lipgloss.Color("33"),
		"Top Miners":       lipgloss.Color("208"),
		"Your Miner":       lipgloss.Color("196"),
	}
)

type Model struct {
	state *viewstate.State
	ctrl  MinerController
	opts  Options
	input textinput.Model

	width     int
	now       time.Time
	wavePhase float64

	groups  map[types.Feed]string
	seqs    map[types.Feed]uint64
	builds  map[types.Feed]int
	builtAt map[types.Feed]time.Time
}

func NewModel(state *viewstate.State, ctrl MinerController, opts Options) Model {
	ti := textinput.New()
	ti.Placeholder = "Enter your miner address"
	ti.CharLimit = 128
	ti.Prompt = "⛏ "
	ti.Focus()

	m := Model{
		state:   state,
		ctrl:    ctrl,
		opts:    opts,
		input:   ti,
		width:   defaultWidth,
		now:     time.Now(),
		groups:  make(map[types.Feed]string, len(types.AllFeeds)),
		seqs:    make(map[types.Feed]uint64, len(types.AllFeeds)),
		builds:  make(map[types.Feed]int, len(types.AllFeeds)),
		builtAt: make(map[types.Feed]time.Time, len(types.AllFeeds)),
	}
	m.input.Width = m.width - 8
	m.rebuildAll()
	return m
}

// Subscribe forwards feed changes from state into program and returns the
// unsubscribe function
func Subscribe(state *viewstate.State, program *tea.Program) func() {
	return state.Subscribe(func(feed types.Feed) {
		program.Send(FeedChangedMsg{Feed: feed})
	})
}

func tickClock() tea.Cmd {
	return tea.Tick(clockInterval, func(t time.Time) tea.Msg { return clockMsg(t) })
}

func tickWave() tea.Cmd {
	return tea.Tick(waveInterval, func(t time.Time) tea.Msg { return waveMsg(t) })
}

func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{textinput.Blink, tickClock()}
	if m.opts.Animation {
		cmds = append(cmds, tickWave())
	}
	return tea.Batch(cmds...)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.input.Width = msg.Width - 8
		m.rebuildAll()
		return m, nil

	case FeedChangedMsg:
		m.rebuild(msg.Feed, m.state.Load())
		return m, nil

	case clockMsg:
		m.now = time.Time(msg)
		m.refreshLabels(m.state.Load())
		return m, tickClock()

	case waveMsg:
		m.wavePhase += 0.2
		return m, tickWave()

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC:
			return m, tea.Quit
		case tea.KeyEnter:
			address := m.input.Value()
			m.input.SetValue("")
			return m, m.submit(address)
		case tea.KeyCtrlR:
			return m, m.refresh()
		}
		if msg.String() == "q" && m.input.Value() == "" {
			return m, tea.Quit
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) submit(address string) tea.Cmd {
	ctrl := m.ctrl
	return func() tea.Msg {
		if ctrl != nil {
			_ = ctrl.SubmitMiner(context.Background(), address)
		}
		return nil
	}
}

func (m Model) refresh() tea.Cmd {
	ctrl := m.ctrl
	return func() tea.Msg {
		if ctrl != nil {
			_ = ctrl.RefreshMiner(context.Background())
		}
		return nil
	}
}

func (m Model) rebuildAll() {
	v := m.state.Load()
	for _, f := range types.AllFeeds {
		m.build(f, v)
	}
}

// rebuild redraws the group of feed if its data changed since the last build
func (m Model) rebuild(feed types.Feed, v *viewstate.View) {
	if seq, ok := m.seqs[feed]; ok && seq == v.Meta(feed).Seq {
		return
	}
	m.build(feed, v)
}

// refreshLabels redraws the groups that show times relative to now. The
// miner feed only republishes on demand, so without this its labels would
// never age.
func (m Model) refreshLabels(v *viewstate.View) {
	for _, f := range []types.Feed{types.FeedPool, types.FeedMiner} {
		if v.HasData(f) && m.now.Sub(m.builtAt[f]) >= labelRefresh {
			m.build(f, v)
		}
	}
}

func (m Model) build(feed types.Feed, v *viewstate.View) {
	now := m.now
	if now.IsZero() {
		now = time.Now()
	}
	switch feed {
	case types.FeedPool:
		w := m.columnWidth(3)
		top := lipgloss.JoinHorizontal(lipgloss.Top,
			panel("Pool Stats", PoolStatsLines(v.Pool, m.opts), w),
			panel("Blockchain", BlockchainLines(v.Pool), w),
			panel("Connections", ConnectionsLines(m.opts), w),
		)
		w2 := m.columnWidth(2)
		bottom := lipgloss.JoinHorizontal(lipgloss.Top,
			panel("Latest Block", LatestBlockLines(v.Pool, now), w2),
			panel("Pool Performance", PerformanceLines(v.Pool, m.opts, now), w2),
		)
		m.groups[feed] = lipgloss.JoinVertical(lipgloss.Left, top, bottom)
	case types.FeedLeaderboard:
		m.groups[feed] = panel("Top Miners", LeaderboardLines(v.Leaderboard, m.opts.LeaderboardSize), m.columnWidth(2))
	case types.FeedMiner:
		w := m.columnWidth(2)
		m.groups[feed] = panel("Your Miner", MinerLines(v.Miner, now, w-4), w)
	default:
		return
	}
	m.seqs[feed] = v.Meta(feed).Seq
	m.builtAt[feed] = now
	m.builds[feed]++
}

// columnWidth is the inner width of one of n side-by-side panels
func (m Model) columnWidth(n int) int {
	w := m.width/n - 2
	if w < 20 {
		w = 20
	}
	return w
}

func panel(title string, lines []string, width int) string {
	color := panelColors[title]
	heading := lipgloss.NewStyle().Bold(true).Foreground(color).Render(title)
	return lipgloss.NewStyle().
		Border(lipgloss.ThickBorder()).
		BorderForeground(color).
		Padding(0, 1).
		Width(width).
		Render(heading + "\n" + joinLines(lines))
}

func (m Model) View() string {
	v := m.state.Load()
	maxAge := m.opts.MaxStaleness

	sections := []string{
		titleStyle.Render("🦈 " + m.opts.PoolName + " Monitor  " + m.now.Format("15:04:05")),
		m.groups[types.FeedPool],
	}
	if warn := StaleLine(v, types.FeedPool, m.now, maxAge); warn != "" {
		sections = append(sections, warnStyle.Render(warn))
	}

	left := m.groups[types.FeedLeaderboard]
	if warn := StaleLine(v, types.FeedLeaderboard, m.now, maxAge); warn != "" {
		left = lipgloss.JoinVertical(lipgloss.Left, left, warnStyle.Render(warn))
	}
	right := m.groups[types.FeedMiner]
	if warn := StaleLine(v, types.FeedMiner, m.now, maxAge); warn != "" {
		right = lipgloss.JoinVertical(lipgloss.Left, right, warnStyle.Render(warn))
	}
	sections = append(sections,
		lipgloss.JoinHorizontal(lipgloss.Top, left, right),
		inputStyle.Render(m.input.View()),
	)
	if status := MinerStatusLine(v.Miner); status != "" {
		sections = append(sections, status)
	}
	if m.opts.Animation {
		sections = append(sections, waveRows(m.width, waveHeight, m.wavePhase)...)
	}
	sections = append(sections, helpStyle.Render("enter: look up miner • ctrl+r: refresh miner • q: quit"))

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}
