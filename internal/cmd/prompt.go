package cmd

import (
	"fmt"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/ApexChef/groomflow/internal/interrupt"
	"github.com/ApexChef/groomflow/internal/item"
)

// approvalModel is the Bubbletea model for the interactive approve prompt:
// one row per pending item, a/r to decide, enter to submit once every item
// has a decision.
type approvalModel struct {
	items     []interrupt.PayloadItem
	decisions map[string]string
	cursor    int
	submitted bool
	quitting  bool
}

func newApprovalModel(items []interrupt.PayloadItem) approvalModel {
	return approvalModel{
		items:     items,
		decisions: make(map[string]string, len(items)),
	}
}

func (m approvalModel) Init() tea.Cmd {
	return nil
}

func (m approvalModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	keyMsg, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}

	switch keyMsg.String() {
	case "q", "ctrl+c", "esc":
		m.quitting = true
		return m, tea.Quit

	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}

	case "down", "j":
		if m.cursor < len(m.items)-1 {
			m.cursor++
		}

	case "a":
		m.decisions[m.items[m.cursor].ID] = item.DecisionApprove
		if m.cursor < len(m.items)-1 {
			m.cursor++
		}

	case "r":
		m.decisions[m.items[m.cursor].ID] = item.DecisionReject
		if m.cursor < len(m.items)-1 {
			m.cursor++
		}

	case "enter":
		if len(m.decisions) == len(m.items) {
			m.submitted = true
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m approvalModel) View() string {
	if m.quitting || m.submitted {
		return ""
	}

	s := styleHeading.Render("Pending approvals") + "\n\n"
	for i, pi := range m.items {
		cursor := "  "
		if i == m.cursor {
			cursor = "> "
		}
		mark := " "
		switch m.decisions[pi.ID] {
		case item.DecisionApprove:
			mark = styleDone.Render("✓")
		case item.DecisionReject:
			mark = styleErr.Render("✗")
		}
		s += fmt.Sprintf("%s[%s] %s  %-40s score %.0f\n", cursor, mark, pi.ID, truncate(pi.Title, 40), pi.Score)
	}

	s += "\n" + styleDim.Render("a approve · r reject · ↑/↓ move")
	if len(m.decisions) == len(m.items) {
		s += styleDim.Render(" · enter submit")
	}
	s += styleDim.Render(" · q abort") + "\n"
	return s
}

// promptApprovals runs the interactive approval prompt. It returns nil when
// the user aborts without submitting.
func promptApprovals(items []interrupt.PayloadItem) (map[string]string, error) {
	final, err := tea.NewProgram(newApprovalModel(items)).Run()
	if err != nil {
		return nil, err
	}
	m := final.(approvalModel)
	if !m.submitted {
		fmt.Println(styleDim.Render("Aborted; session remains suspended."))
		return nil, nil
	}
	return m.decisions, nil
}

// contextModel is the Bubbletea model for the interactive context prompt:
// one text input per pending item, enter to advance. Empty answers are
// allowed and count as "no further context".
type contextModel struct {
	items     []interrupt.PayloadItem
	input     textinput.Model
	answers   map[string]string
	index     int
	submitted bool
	quitting  bool
}

func newContextModel(items []interrupt.PayloadItem) contextModel {
	ti := textinput.New()
	ti.Focus()
	ti.CharLimit = 500
	ti.Width = 72

	return contextModel{
		items:   items,
		input:   ti,
		answers: make(map[string]string, len(items)),
	}
}

func (m contextModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m contextModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if keyMsg, ok := msg.(tea.KeyMsg); ok {
		switch keyMsg.String() {
		case "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit

		case "enter":
			m.answers[m.items[m.index].ID] = m.input.Value()
			m.index++
			if m.index >= len(m.items) {
				m.submitted = true
				return m, tea.Quit
			}
			m.input.SetValue("")
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m contextModel) View() string {
	if m.quitting || m.submitted {
		return ""
	}

	pi := m.items[m.index]
	s := styleHeading.Render(fmt.Sprintf("Context needed (%d/%d)", m.index+1, len(m.items))) + "\n\n"
	s += fmt.Sprintf("%s  %s  score %.0f\n", pi.ID, pi.Title, pi.Score)
	for _, q := range pi.Questions {
		s += styleDim.Render("  ? "+q) + "\n"
	}
	s += "\n" + m.input.View() + "\n"
	s += styleDim.Render("enter next (empty = no further context) · esc abort") + "\n"
	return s
}

// promptContext runs the interactive context prompt. It returns nil when the
// user aborts without answering every item.
func promptContext(items []interrupt.PayloadItem) (map[string]string, error) {
	final, err := tea.NewProgram(newContextModel(items)).Run()
	if err != nil {
		return nil, err
	}
	m := final.(contextModel)
	if !m.submitted {
		fmt.Println(styleDim.Render("Aborted; session remains suspended."))
		return nil, nil
	}
	return m.answers, nil
}
