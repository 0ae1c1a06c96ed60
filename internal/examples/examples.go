// Package examples ships small demo TUIs for driving pilotty against a
// known screen: a form with inputs and toggles, a menu with an inverse
// selection bar, and a ticking progress bar. `pilotty examples --run
// <name>` launches one; the detector and wait subsystem have something
// deterministic to chew on.
package examples

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Walkthrough is printed by a bare `pilotty examples`.
const Walkthrough = `End-to-end example: create a file with vi

# 1. Spawn vi to create a new file
pilotty spawn --name editor vi /tmp/hello.txt

# 2. Wait for vi to start
pilotty wait-for -s editor "hello.txt"

# 3. Press 'i' to enter insert mode
pilotty key -s editor i

# 4. Type some text
pilotty type -s editor "Hello from pilotty!"

# 5. Back to normal mode, save and quit
pilotty key -s editor Escape
pilotty type -s editor ":wq"
pilotty key -s editor Enter

# 6. Verify the session ended (vi exited)
pilotty list-sessions

Demo TUIs to practice against (run in one terminal, drive from another):
  pilotty examples --run form       # text input, checkboxes, buttons
  pilotty examples --run menu       # list with an inverse selection bar
  pilotty examples --run progress   # self-advancing progress bar
`

// demos maps demo names to model constructors.
var demos = map[string]func() tea.Model{
	"form":     newFormModel,
	"menu":     newMenuModel,
	"progress": newProgressModel,
}

// Names lists the available demos.
func Names() []string {
	names := make([]string, 0, len(demos))
	for name := range demos {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Run launches the named demo in the current terminal.
func Run(name string) error {
	build, ok := demos[name]
	if !ok {
		return fmt.Errorf("unknown demo %q (available: %s)", name, strings.Join(Names(), ", "))
	}
	_, err := tea.NewProgram(build()).Run()
	return err
}

var (
	titleStyle   = lipgloss.NewStyle().Bold(true)
	focusedStyle = lipgloss.NewStyle().Reverse(true)
	helpStyle    = lipgloss.NewStyle().Faint(true)
)

// formModel is the richest demo: one text input, two toggles, and two
// buttons. Tab cycles focus; Space flips the focused toggle; Enter on a
// button submits or quits.
type formModel struct {
	input    textinput.Model
	toggles  [2]bool
	focus    int // 0 input, 1-2 toggles, 3-4 buttons
	done     bool
	lastName string
}

func newFormModel() tea.Model {
	ti := textinput.New()
	ti.Placeholder = "your name"
	ti.Focus()
	ti.CharLimit = 64
	ti.Width = 24
	return &formModel{input: ti}
}

func (m *formModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m *formModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}

	switch key.String() {
	case "ctrl+c", "q":
		if m.focus == 0 && key.String() == "q" {
			break // let the input take the letter
		}
		return m, tea.Quit
	case "tab":
		m.focus = (m.focus + 1) % 5
		if m.focus == 0 {
			m.input.Focus()
		} else {
			m.input.Blur()
		}
		return m, nil
	case "shift+tab":
		m.focus = (m.focus + 4) % 5
		if m.focus == 0 {
			m.input.Focus()
		} else {
			m.input.Blur()
		}
		return m, nil
	case " ", "space":
		if m.focus == 1 || m.focus == 2 {
			m.toggles[m.focus-1] = !m.toggles[m.focus-1]
			return m, nil
		}
	case "enter":
		switch m.focus {
		case 3:
			m.done = true
			m.lastName = m.input.Value()
			return m, nil
		case 4:
			return m, tea.Quit
		}
	}

	if m.focus == 0 {
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *formModel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Settings") + "\n\n")
	b.WriteString("Name: " + m.input.View() + "\n\n")

	labels := [2]string{"Notifications", "Dark mode"}
	for i, label := range labels {
		box := "[ ]"
		if m.toggles[i] {
			box = "[x]"
		}
		line := box + " " + label
		if m.focus == i+1 {
			line = focusedStyle.Render(line)
		}
		b.WriteString(line + "\n")
	}
	b.WriteString("\n")

	submit, cancel := "[ Submit ]", "[ Cancel ]"
	if m.focus == 3 {
		submit = focusedStyle.Render(submit)
	}
	if m.focus == 4 {
		cancel = focusedStyle.Render(cancel)
	}
	b.WriteString(submit + "  " + cancel + "\n")

	if m.done {
		fmt.Fprintf(&b, "\nSaved settings for %q\n", m.lastName)
	}
	b.WriteString("\n" + helpStyle.Render("tab: focus · space: toggle · enter: press · ctrl+c: quit"))
	return b.String()
}

// menuModel renders a fixed list with an inverse-video selection bar.
type menuModel struct {
	items  []string
	cursor int
	chosen string
}

func newMenuModel() tea.Model {
	return &menuModel{
		items: []string{"Open file", "Save file", "Search", "Settings", "Quit"},
	}
}

func (m *menuModel) Init() tea.Cmd { return nil }

func (m *menuModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}
	switch key.String() {
	case "ctrl+c", "q":
		return m, tea.Quit
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(m.items)-1 {
			m.cursor++
		}
	case "enter":
		m.chosen = m.items[m.cursor]
		if m.chosen == "Quit" {
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m *menuModel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Main menu") + "\n\n")
	for i, item := range m.items {
		line := "  " + item
		if i == m.cursor {
			line = focusedStyle.Render("> " + item)
		}
		b.WriteString(line + "\n")
	}
	if m.chosen != "" {
		b.WriteString("\nChose: " + m.chosen + "\n")
	}
	b.WriteString("\n" + helpStyle.Render("up/down: move · enter: choose · q: quit"))
	return b.String()
}

// progressModel advances a bar on a timer, then reports completion. It
// gives await_settle a screen that changes and then goes quiet.
type progressModel struct {
	percent int
}

type tickMsg time.Time

func newProgressModel() tea.Model {
	return &progressModel{}
}

func tick() tea.Cmd {
	return tea.Tick(200*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m *progressModel) Init() tea.Cmd { return tick() }

func (m *progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" || msg.String() == "q" {
			return m, tea.Quit
		}
	case tickMsg:
		if m.percent < 100 {
			m.percent += 5
			return m, tick()
		}
	}
	return m, nil
}

func (m *progressModel) View() string {
	const width = 30
	filled := m.percent * width / 100
	bar := strings.Repeat("=", filled) + strings.Repeat(" ", width-filled)

	var b strings.Builder
	b.WriteString(titleStyle.Render("Working...") + "\n\n")
	fmt.Fprintf(&b, "[%s] %3d%%\n", bar, m.percent)
	if m.percent >= 100 {
		b.WriteString("\nDone. Press q to exit.\n")
	}
	b.WriteString("\n" + helpStyle.Render("q: quit"))
	return b.String()
}
