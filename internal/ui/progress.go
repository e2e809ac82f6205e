// internal/ui/progress.go

package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"

	"sftpFetch/internal/fetcher"
	"sftpFetch/internal/ssh"
	"sftpFetch/internal/ui/messages"
)

const maxBarWidth = 60

// FetchModel shows the running fetch cycle: current step, a download bar
// and, once finished, a summary.
type FetchModel struct {
	source   string
	keys     KeyMap
	bar      progress.Model
	step     string
	transfer ssh.TransferProgress
	done     bool
	result   fetcher.Result
	err      error
	cancel   func()
	now      func() time.Time
}

// NewFetchModel returns a model for the named source. cancel is called when
// the user quits before the cycle ends.
func NewFetchModel(source string, cancel func()) FetchModel {
	return FetchModel{
		source: source,
		keys:   DefaultKeyMap(),
		bar:    progress.New(progress.WithDefaultGradient(), progress.WithWidth(maxBarWidth)),
		step:   "starting",
		cancel: cancel,
		now:    time.Now,
	}
}

func (m FetchModel) Init() tea.Cmd {
	return nil
}

func (m FetchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if key.Matches(msg, m.keys.Quit) && !m.done {
			if m.cancel != nil {
				m.cancel()
			}
			m.step = "cancelling"
		}
	case tea.WindowSizeMsg:
		m.bar.Width = min(maxBarWidth, max(10, msg.Width-30))
	case messages.StepMsg:
		m.step = string(msg)
	case messages.ProgressMsg:
		m.transfer = ssh.TransferProgress(msg)
	case messages.DoneMsg:
		m.done = true
		m.result = msg.Result
		m.err = msg.Err
		return m, tea.Quit
	}
	return m, nil
}

func (m FetchModel) percent() float64 {
	if m.transfer.TotalBytes <= 0 {
		return 0
	}
	p := float64(m.transfer.TransferredBytes) / float64(m.transfer.TotalBytes)
	return min(1, p)
}

func (m FetchModel) View() string {
	var b strings.Builder
	b.WriteString(TitleStyle.Render("sftpfetch " + m.source))
	b.WriteString("\n")

	if m.done {
		b.WriteString(RenderSummary(m.result, m.err))
		return WindowStyle.Render(b.String()) + "\n"
	}

	b.WriteString(DescriptionStyle.Render(m.step + "..."))
	b.WriteString("\n")
	if m.transfer.TotalBytes > 0 {
		b.WriteString(m.transfer.FileName + "\n")
		b.WriteString(m.bar.ViewAs(m.percent()))
		b.WriteString(" " + DescriptionStyle.Render(m.rate()))
		b.WriteString("\n")
	}
	b.WriteString(DescriptionStyle.Render(m.keys.Quit.Help().Key + " " + m.keys.Quit.Help().Desc))
	return WindowStyle.Render(b.String()) + "\n"
}

func (m FetchModel) rate() string {
	elapsed := m.now().Sub(m.transfer.StartTime).Seconds()
	if elapsed <= 0 {
		elapsed = 1
	}
	speed := float64(m.transfer.TransferredBytes) / elapsed
	return fmt.Sprintf("%s / %s  %s/s",
		FormatSize(m.transfer.TransferredBytes),
		FormatSize(m.transfer.TotalBytes),
		FormatSize(int64(speed)))
}

// Err returns the cycle error once the model is done.
func (m FetchModel) Err() error {
	return m.err
}

// Sender is the part of *tea.Program used to feed the display.
type Sender interface {
	Send(msg tea.Msg)
}

// MonitorProgress forwards download progress to p until progressChan is
// closed.
func MonitorProgress(p Sender, progressChan <-chan ssh.TransferProgress) {
	for pr := range progressChan {
		p.Send(messages.ProgressMsg(pr))
	}
}

// FormatSize renders a byte count with a binary unit.
func FormatSize(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}
	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB",
		float64(size)/float64(div), "KMGTPE"[exp])
}
