package ui

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Dicklesworthstone/procmon/internal/fsinfo"
	"github.com/Dicklesworthstone/procmon/internal/model"
)

// Source is the store surface the dashboard reads and drives.
type Source interface {
	Snapshot() model.Snapshot
	ProcessDetails(pid int) (model.ProcessDetail, bool)
	ProcessLimit() int
	SetProcessLimit(n int) error
	SetCurrentDirectory(path string) error
}

type pane int

const (
	paneProcesses pane = iota
	paneFiles
)

// Model renders snapshots from a Source.
type Model struct {
	src    Source
	latest model.Snapshot
	width  int
	height int
	home   string

	pane   pane
	cursor int

	inputting bool
	pidInput  string
	detailPID int
	detail    *model.ProcessDetail
	status    string
}

func New(src Source) *Model {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "/"
	}
	return &Model{src: src, latest: src.Snapshot(), width: 120, height: 40, home: home}
}

// Messages
type tickMsg struct{}

func tickCmd() tea.Cmd { return tea.Tick(time.Second/5, func(time.Time) tea.Msg { return tickMsg{} }) }

func (m *Model) Init() tea.Cmd { return tickCmd() }

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
	case tea.KeyMsg:
		if m.inputting {
			m.pidKey(msg)
			return m, nil
		}
		return m, m.key(msg)
	case tickMsg:
		snap := m.src.Snapshot()
		if snap.Sequence != m.latest.Sequence {
			m.latest = snap
			m.clampCursor()
			if m.detailPID > 0 {
				m.loadDetail(m.detailPID)
			}
		}
		return m, tickCmd()
	}
	return m, nil
}

func (m *Model) key(msg tea.KeyMsg) tea.Cmd {
	switch msg.String() {
	case "q", "ctrl+c":
		return tea.Quit
	case "+", "=":
		m.setLimit(m.src.ProcessLimit() + 1)
	case "-", "_":
		m.setLimit(m.src.ProcessLimit() - 1)
	case "tab", "f":
		if m.pane == paneProcesses {
			m.pane = paneFiles
		} else {
			m.pane = paneProcesses
		}
		m.cursor = 0
	case "p", "/":
		m.inputting = true
		m.pidInput = ""
	case "esc":
		m.detailPID, m.detail = 0, nil
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		m.cursor++
		m.clampCursor()
	case "enter":
		m.enter()
	case "backspace":
		m.chdir(filepath.Dir(m.latest.CurrentPath))
	case "~":
		m.chdir(m.home)
	}
	return nil
}

func (m *Model) pidKey(msg tea.KeyMsg) {
	switch msg.Type {
	case tea.KeyEnter:
		m.inputting = false
		pid, err := strconv.Atoi(m.pidInput)
		if err != nil || pid <= 0 {
			m.status = fmt.Sprintf("invalid pid %q", m.pidInput)
			return
		}
		m.loadDetail(pid)
	case tea.KeyEsc:
		m.inputting = false
	case tea.KeyBackspace:
		if n := len(m.pidInput); n > 0 {
			m.pidInput = m.pidInput[:n-1]
		}
	case tea.KeyRunes:
		for _, r := range msg.Runes {
			if r >= '0' && r <= '9' {
				m.pidInput += string(r)
			}
		}
	}
}

func (m *Model) enter() {
	switch m.pane {
	case paneProcesses:
		if m.cursor < len(m.latest.Processes) {
			m.loadDetail(m.latest.Processes[m.cursor].PID)
		}
	case paneFiles:
		entries := m.latest.Directory.Entries
		if m.cursor < len(entries) && entries[m.cursor].Type == fsinfo.TypeDirectory {
			m.chdir(entries[m.cursor].Path)
		}
	}
}

func (m *Model) loadDetail(pid int) {
	d, ok := m.src.ProcessDetails(pid)
	if !ok {
		m.detailPID, m.detail = 0, nil
		m.status = fmt.Sprintf("process %d not found", pid)
		return
	}
	m.detailPID, m.detail = pid, &d
	m.status = ""
}

func (m *Model) setLimit(n int) {
	if err := m.src.SetProcessLimit(n); err != nil {
		m.status = err.Error()
		return
	}
	m.status = fmt.Sprintf("showing %d processes from next refresh", n)
}

func (m *Model) chdir(path string) {
	if err := m.src.SetCurrentDirectory(path); err != nil {
		m.status = err.Error()
		return
	}
	m.cursor = 0
	m.status = "opening " + path
}

func (m *Model) clampCursor() {
	n := len(m.latest.Processes)
	if m.pane == paneFiles {
		n = len(m.latest.Directory.Entries)
	}
	if m.cursor >= n {
		m.cursor = n - 1
	}
	if m.cursor < 0 {
		m.cursor = 0
	}
}

// Styles
var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("45"))
	subtleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	labelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("81")).Bold(true)
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	selStyle    = lipgloss.NewStyle().Reverse(true)
	gaugeFill   = "█"
	gaugeEmpty  = "░"
	cardStyle   = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("60")).
			Padding(0, 1).
			MarginRight(1)
)

func (m *Model) View() string {
	s := m.latest
	stamp := "waiting for first sample"
	if !s.SampledAt.IsZero() {
		stamp = s.SampledAt.Format("Mon Jan 2 15:04:05 MST 2006")
	}
	header := titleStyle.Render("procmon") + "  " + subtleStyle.Render(stamp)

	g := s.Global
	cpuCard := card("CPU", fmt.Sprintf("%s  idle %.1f%%", gaugeBar(g.CPUUsedPct, 24), g.CPUIdlePct))
	memCard := card("Memory", fmt.Sprintf("%s  %s / %s",
		gaugeBar(g.MemUsedPct, 24), formatKB(float64(g.MemUsedKB)), formatKB(float64(g.MemTotalKB))))
	swapBody := subtleStyle.Render("no swap configured")
	if g.HasSwap {
		swapBody = fmt.Sprintf("%s  %s / %s",
			gaugeBar(g.SwapUsedPct, 16), formatKB(float64(g.SwapUsedKB)), formatKB(float64(g.SwapTotalKB)))
	}
	swapCard := card("Swap", swapBody)
	diskLines := []string{fmt.Sprintf("R %s  W %s", formatRate(g.DiskReadBps), formatRate(g.DiskWriteBps))}
	for _, d := range g.Disks {
		diskLines = append(diskLines, fmt.Sprintf("%-8s R %s  W %s", truncate(d.Name, 8), formatRate(d.ReadBps), formatRate(d.WriteBps)))
	}
	diskCard := card("Disk", strings.Join(diskLines, "\n"))
	countCard := card("Tasks", fmt.Sprintf("%d processes\n%d threads", g.ProcessCount, g.ThreadCount))

	line1 := lipgloss.JoinHorizontal(lipgloss.Top, cpuCard, memCard, swapCard, diskCard, countCard)

	var body string
	if m.pane == paneFiles {
		body = lipgloss.JoinHorizontal(lipgloss.Top,
			card("Partitions", renderPartitions(s.Filesystem.Partitions)),
			card(truncate(s.CurrentPath, 60), m.renderDirectory()))
	} else {
		body = card(fmt.Sprintf("Processes (top %d)", m.src.ProcessLimit()), m.renderProcesses())
	}
	parts := []string{header, line1, body}
	if m.detail != nil {
		parts = append(parts, card(fmt.Sprintf("PID %d", m.detail.PID), renderDetail(*m.detail)))
	}
	parts = append(parts, m.footer())
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func (m *Model) footer() string {
	if m.inputting {
		return labelStyle.Render("pid: ") + m.pidInput + "█"
	}
	help := subtleStyle.Render("q quit  +/- limit  tab files  p pid  enter open  backspace up  ~ home  esc close")
	if m.status != "" {
		return warnStyle.Render(m.status) + "  " + help
	}
	return help
}

func (m *Model) renderProcesses() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%-7s %-18s %-10s %6s %9s %4s %9s %5s %11s %11s\n",
		"pid", "name", "user", "cpu%", "cputime", "thr", "mem", "mem%", "read", "write")
	for i, r := range m.latest.Processes {
		row := fmt.Sprintf("%-7d %-18s %-10s %6.1f %9.1f %4d %9s %5.1f %11s %11s",
			r.PID, truncate(r.Name, 18), truncate(r.Username, 10), r.CPUPercent, r.CPUTimeSeconds,
			r.Threads, formatKB(r.MemoryMB*1024), r.MemoryPercent, formatRate(r.IOReadBps), formatRate(r.IOWriteBps))
		if m.pane == paneProcesses && i == m.cursor {
			row = selStyle.Render(row)
		}
		b.WriteString(row + "\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderPartitions(parts []model.Partition) string {
	if len(parts) == 0 {
		return subtleStyle.Render("no partitions")
	}
	var b strings.Builder
	for _, p := range parts {
		fmt.Fprintf(&b, "%-16s %-6s %s %s free\n",
			truncate(p.MountPoint, 16), truncate(p.FSType, 6), gaugeBar(p.UsagePercent, 10), formatKB(p.FreeKB))
	}
	return strings.TrimRight(b.String(), "\n")
}

func (m *Model) renderDirectory() string {
	d := m.latest.Directory
	if d.Err != "" {
		return warnStyle.Render(d.Err)
	}
	if len(d.Entries) == 0 {
		return subtleStyle.Render("empty")
	}
	var b strings.Builder
	for i, e := range d.Entries {
		size := "N/A"
		if e.HasSize {
			size = formatBytes(float64(e.Size))
		}
		var row string
		if e.Status != model.EntryOK {
			row = fmt.Sprintf("%-24s %s", truncate(e.Name, 24), warnStyle.Render(string(e.Status)))
		} else {
			row = fmt.Sprintf("%-24s %-9s %9s %s %-8s %s",
				truncate(e.Name, 24), e.Type, size, e.PermString, truncate(e.Owner, 8), e.ModTime.Format("2006-01-02 15:04"))
		}
		if m.pane == paneFiles && i == m.cursor {
			row = selStyle.Render(row)
		}
		b.WriteString(row + "\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderDetail(d model.ProcessDetail) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s  user %s  state %s  threads %d\n", d.Name, d.Username, d.State, d.Threads)
	fmt.Fprintf(&b, "priority %d  nice %d (%s)", d.Priority, d.Nice, d.PriorityLabel)
	if !d.StartedAt.IsZero() {
		fmt.Fprintf(&b, "  started %s", d.StartedAt.Format("2006-01-02 15:04:05"))
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "cpu %.1f%%  cputime %.2fs  read %s  write %s\n",
		d.CPUPercent, d.CPUTimeSeconds, formatRate(d.IOReadBps), formatRate(d.IOWriteBps))
	fmt.Fprintf(&b, "rss %s  virt %s  code %s  data %s  stack %s  shared %s\n",
		formatKB(float64(d.RSSKB)), formatKB(float64(d.VirtualKB)), formatKB(float64(d.CodeKB)),
		formatKB(float64(d.DataKB)), formatKB(float64(d.StackKB)), formatKB(float64(d.SharedKB)))
	fmt.Fprintf(&b, "%d open resources", len(d.OpenResources))
	for i, r := range d.OpenResources {
		if i == 8 {
			fmt.Fprintf(&b, "\n  … %d more", len(d.OpenResources)-i)
			break
		}
		fmt.Fprintf(&b, "\n  %4d %-10s %s", r.FD, r.Kind, truncate(r.Target, 60))
	}
	return b.String()
}

// Helpers
func gaugeBar(pct float64, width int) string {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	filled := int((pct / 100) * float64(width))
	if filled > width {
		filled = width
	}
	return fmt.Sprintf("[%s%s] %5.1f%%",
		strings.Repeat(gaugeFill, filled),
		strings.Repeat(gaugeEmpty, width-filled),
		pct)
}

func card(title, body string) string {
	titleStr := labelStyle.Render(title)
	content := titleStr + "\n" + body
	return cardStyle.Render(content)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func formatRate(bps float64) string {
	if bps < 0 {
		bps = 0
	}
	return formatBytes(bps) + "/s"
}

func formatBytes(b float64) string {
	switch {
	case b >= 1<<30:
		return fmt.Sprintf("%.2f GB", b/(1<<30))
	case b >= 1<<20:
		return fmt.Sprintf("%.2f MB", b/(1<<20))
	case b >= 1<<10:
		return fmt.Sprintf("%.2f KB", b/(1<<10))
	}
	return fmt.Sprintf("%.0f B", b)
}

func formatKB(kb float64) string {
	switch {
	case kb <= 0:
		return "0 KB"
	case kb >= 1<<20:
		return fmt.Sprintf("%.2f GB", kb/(1<<20))
	case kb >= 1<<10:
		return fmt.Sprintf("%.2f MB", kb/(1<<10))
	}
	return fmt.Sprintf("%d KB", int(kb))
}

// RunTUI starts the Bubble Tea program.
func RunTUI(src Source) error {
	prog := tea.NewProgram(New(src), tea.WithAltScreen())
	_, err := prog.Run()
	return err
}
