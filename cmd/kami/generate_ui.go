package main

import (
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"kamishibai/internal/types"
)

// The generation UI runs one background acquisition task concurrently with a
// foreground spinner. The hand-off is a single buffered channel delivered to
// the update loop as a message; the background task shares no other state
// with the view.

// fillerLines rotate under the spinner while the provider works.
var fillerLines = []string{
	"場面を考えています…",
	"ことばをやさしくしています…",
	"もうすこしでできあがります…",
	"内容をたしかめています…",
}

// generateResultMsg carries the background task's result into the UI loop.
type generateResultMsg struct {
	content types.GeneratedContent
	err     error
}

// fillerTickMsg rotates the filler line.
type fillerTickMsg struct{}

type generateModel struct {
	spinner  spinner.Model
	resultCh <-chan generateResultMsg
	filler   int

	content types.GeneratedContent
	err     error
	aborted bool
}

func newGenerateModel(resultCh <-chan generateResultMsg) generateModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	return generateModel{
		spinner:  sp,
		resultCh: resultCh,
	}
}

func (m generateModel) waitForResult() tea.Msg {
	return <-m.resultCh
}

func fillerTick() tea.Cmd {
	return tea.Tick(3*time.Second, func(time.Time) tea.Msg {
		return fillerTickMsg{}
	})
}

func (m generateModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.waitForResult, fillerTick())
}

func (m generateModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case generateResultMsg:
		m.content = msg.content
		m.err = msg.err
		return m, tea.Quit

	case fillerTickMsg:
		m.filler = (m.filler + 1) % len(fillerLines)
		return m, fillerTick()

	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyEsc {
			m.aborted = true
			return m, tea.Quit
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m generateModel) View() string {
	if m.err != nil || m.content.Body != "" || m.aborted {
		return ""
	}
	return m.spinner.View() + " " + mutedStyle.Render(fillerLines[m.filler]) + "\n"
}

// runWithSpinner runs produce in the background while the spinner renders,
// and returns its result. Falls back to a plain blocking call when the UI
// cannot start (e.g. no TTY).
func runWithSpinner(produce func() (types.GeneratedContent, error)) (types.GeneratedContent, error) {
	resultCh := make(chan generateResultMsg, 1)
	go func() {
		content, err := produce()
		resultCh <- generateResultMsg{content: content, err: err}
	}()

	program := tea.NewProgram(newGenerateModel(resultCh))
	final, err := program.Run()
	if err != nil {
		// UI unavailable; block on the hand-off directly.
		res := <-resultCh
		return res.content, res.err
	}

	m := final.(generateModel)
	if m.aborted {
		res := <-resultCh // background task still owns the channel
		return res.content, res.err
	}
	return m.content, m.err
}
