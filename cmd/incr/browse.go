package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
)

// browseModel lists the symbols of loaded units, enter executes the selected one as a wrapper.
type browseModel struct {
	s        *session
	files    []string
	symbols  []string
	filter   textinput.Model
	selected int
	result   string
	err      error
	loaded   bool
}

type loadedMsg struct {
	err error
}

type callResultMsg struct {
	name   string
	result string
	err    error
}

func newBrowseModel(s *session, files []string) *browseModel {
	ti := textinput.New()
	ti.Placeholder = "filter symbols"
	ti.Prompt = "/ "
	ti.Width = 40
	return &browseModel{s: s, files: files, filter: ti}
}

func (m *browseModel) Init() tea.Cmd {
	return m.load
}

func (m *browseModel) load() tea.Msg {
	for _, f := range m.files {
		if _, err := m.s.submitFile(f, ""); err != nil {
			return loadedMsg{err: fmt.Errorf("%s: %w", f, err)}
		}
	}
	return loadedMsg{}
}

func (m *browseModel) refresh() {
	m.symbols = m.symbols[:0]
	q := m.filter.Value()
	for _, n := range m.s.exec.Symbols() {
		if q == "" || strings.Contains(n, q) {
			m.symbols = append(m.symbols, n)
		}
	}
	if m.selected >= len(m.symbols) {
		m.selected = max(len(m.symbols)-1, 0)
	}
}

func (m *browseModel) call(name string) tea.Cmd {
	return func() tea.Msg {
		v, err := m.s.call(name)
		return callResultMsg{name: name, result: v, err: err}
	}
}

func (m *browseModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.filter.Focused() {
			switch msg.String() {
			case "enter", "esc":
				m.filter.Blur()
				return m, nil
			}
			var cmd tea.Cmd
			m.filter, cmd = m.filter.Update(msg)
			m.refresh()
			return m, cmd
		}
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "up", "k":
			if m.selected > 0 {
				m.selected--
			}
		case "down", "j":
			if m.selected < len(m.symbols)-1 {
				m.selected++
			}
		case "/":
			return m, m.filter.Focus()
		case "u":
			if m.selected < len(m.symbols) {
				if u := m.s.exec.Owner(m.symbols[m.selected]); u != nil {
					m.err = m.s.exec.UnloadModule(u)
					m.result = fmt.Sprintf("%s unloaded", u)
				}
				m.refresh()
			}
		case "enter":
			if m.selected < len(m.symbols) {
				return m, m.call(m.symbols[m.selected])
			}
		}
	case loadedMsg:
		m.loaded = true
		m.err = msg.err
		m.refresh()
	case callResultMsg:
		m.err = msg.err
		m.result = fmt.Sprintf("%s => %s", msg.name, msg.result)
		m.refresh()
	}
	return m, nil
}

func (m *browseModel) View() string {
	if !m.loaded {
		return "Loading units..."
	}
	var b strings.Builder
	b.WriteString(titleStyle.Render("incremental"))
	b.WriteString(" ")
	b.WriteString(strings.Join(m.files, " "))
	b.WriteString("\n\n")
	b.WriteString(m.filter.View())
	b.WriteString("\n\n")
	for i, n := range m.symbols {
		owner := ""
		if u := m.s.exec.Owner(n); u != nil {
			owner = " " + unitStyle.Render(u.String())
		}
		if i == m.selected {
			b.WriteString(selectedStyle.Render("> " + n))
		} else {
			b.WriteString("  " + symbolStyle.Render(n))
		}
		b.WriteString(owner)
		b.WriteString("\n")
	}
	b.WriteString("\n")
	if m.err != nil {
		b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
		b.WriteString("\n")
	} else if m.result != "" {
		b.WriteString(resultStyle.Render(m.result))
		b.WriteString("\n")
	}
	b.WriteString(helpStyle.Render("↑/↓ select • enter call • u unload • / filter • q quit"))
	return b.String()
}

func runBrowse(s *session, files []string) error {
	p := tea.NewProgram(newBrowseModel(s, files), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
