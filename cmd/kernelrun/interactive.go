package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"

	"github.com/wippyai/kernel-runtime/job"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	passStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	exhaustedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFD700"))

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

const maxPassLines = 12

type modelState int

const (
	stateForm modelState = iota
	stateRunning
	stateDone
)

type field struct {
	label string
	input textinput.Model
}

type interactiveModel struct {
	err     error
	program *tea.Program
	result  *job.Result
	opts    options
	passes  []job.PassReport
	fields  []field
	spinner spinner.Model
	started time.Time
	elapsed time.Duration
	focus   int
	bad     int
	state   modelState
}

type passMsg job.PassReport

type doneMsg struct {
	err    error
	result *job.Result
	bad    int
}

func newInteractiveModel(opts options) *interactiveModel {
	m := &interactiveModel{opts: opts, state: stateForm}
	add := func(label, value string) {
		ti := textinput.New()
		ti.Prompt = ""
		ti.Width = 16
		ti.SetValue(value)
		m.fields = append(m.fields, field{label: label, input: ti})
	}
	add("kernels", strconv.Itoa(opts.kernels))
	add("width", strconv.Itoa(opts.width))
	add("factor", strconv.FormatFloat(opts.factor, 'g', -1, 64))
	add("capacity", strconv.FormatUint(uint64(opts.capacity), 10))
	m.fields[0].input.Focus()

	m.spinner = spinner.New()
	m.spinner.Spinner = spinner.Dot
	return m
}

func (m *interactiveModel) Init() tea.Cmd {
	return textinput.Blink
}

// parse reads the form into a copy of the options.
func (m *interactiveModel) parse() (options, error) {
	opts := m.opts
	var err error
	value := func(i int) string { return strings.TrimSpace(m.fields[i].input.Value()) }
	if opts.kernels, err = strconv.Atoi(value(0)); err != nil || opts.kernels < 0 {
		return opts, fmt.Errorf("kernels: %q is not a count", value(0))
	}
	if opts.width, err = strconv.Atoi(value(1)); err != nil || opts.width < 0 {
		return opts, fmt.Errorf("width: %q is not a count", value(1))
	}
	if opts.factor, err = strconv.ParseFloat(value(2), 64); err != nil {
		return opts, fmt.Errorf("factor: %v", err)
	}
	c, err := strconv.ParseUint(value(3), 10, 32)
	if err != nil {
		return opts, fmt.Errorf("capacity: %v", err)
	}
	opts.capacity = uint(c)
	return opts, nil
}

func (m *interactiveModel) start() tea.Cmd {
	opts, err := m.parse()
	if err != nil {
		m.err = err
		return nil
	}
	m.opts = opts
	m.err = nil
	m.passes = nil
	m.state = stateRunning
	m.started = time.Now()

	p := m.program
	runJob := func() tea.Msg {
		ctx := context.Background()
		cfg, err := loadConfig(opts)
		if err != nil {
			return doneMsg{err: err, bad: -1}
		}
		obs := job.ObserverFunc(func(r job.PassReport) { p.Send(passMsg(r)) })
		s, err := newSession(ctx, cfg, opts, obs)
		if err != nil {
			return doneMsg{err: err, bad: -1}
		}
		defer s.close(ctx)
		res, err := s.run(ctx)
		return doneMsg{err: err, result: res, bad: s.verify(len(res.Completed))}
	}
	return tea.Batch(m.spinner.Tick, runJob)
}

func (m *interactiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit

		case "q":
			if m.state != stateForm {
				return m, tea.Quit
			}

		case "tab", "down":
			if m.state == stateForm {
				m.move(1)
				return m, nil
			}

		case "shift+tab", "up":
			if m.state == stateForm {
				m.move(-1)
				return m, nil
			}

		case "enter":
			switch m.state {
			case stateForm:
				return m, m.start()
			case stateDone:
				m.state = stateForm
				m.result = nil
				m.err = nil
				return m, nil
			}

		case "esc":
			if m.state == stateForm {
				return m, tea.Quit
			}
		}

	case passMsg:
		m.passes = append(m.passes, job.PassReport(msg))
		return m, nil

	case doneMsg:
		m.state = stateDone
		m.elapsed = time.Since(m.started)
		m.result = msg.result
		m.err = msg.err
		m.bad = msg.bad
		return m, nil

	case spinner.TickMsg:
		if m.state != stateRunning {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	if m.state == stateForm {
		var cmd tea.Cmd
		m.fields[m.focus].input, cmd = m.fields[m.focus].input.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *interactiveModel) move(delta int) {
	m.fields[m.focus].input.Blur()
	m.focus = (m.focus + delta + len(m.fields)) % len(m.fields)
	m.fields[m.focus].input.Focus()
}

func (m *interactiveModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Kernel Runner"))
	b.WriteString(" scale-row\n\n")

	switch m.state {
	case stateForm:
		for i, f := range m.fields {
			cursor := "  "
			if i == m.focus {
				cursor = "> "
			}
			b.WriteString(cursor)
			b.WriteString(labelStyle.Render(fmt.Sprintf("%-9s", f.label)))
			b.WriteString(f.input.View())
			b.WriteString("\n")
		}
		if m.err != nil {
			b.WriteString("\n")
			b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("tab next field • enter run • esc quit"))

	case stateRunning:
		b.WriteString(m.spinner.View())
		b.WriteString(fmt.Sprintf(" running %d kernels\n\n", m.opts.kernels))
		m.writePasses(&b)
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("q quit"))

	case stateDone:
		m.writePasses(&b)
		b.WriteString("\n")
		if r := m.result; r != nil {
			b.WriteString(resultStyle.Render(fmt.Sprintf(
				"%s: %d/%d kernels in %d passes, %d native objects, capacity %d, %s",
				r.State, len(r.Completed), m.opts.kernels, r.Passes, r.Allocated, r.Capacity,
				m.elapsed.Round(time.Microsecond))))
			b.WriteString("\n")
		}
		if m.bad >= 0 {
			b.WriteString(errorStyle.Render(fmt.Sprintf("kernel %d result does not match host computation", m.bad)))
			b.WriteString("\n")
		}
		if m.err != nil {
			b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("enter again • q quit"))
	}

	return b.String()
}

func (m *interactiveModel) writePasses(b *strings.Builder) {
	passes := m.passes
	if len(passes) > maxPassLines {
		fmt.Fprintf(b, "  … %d earlier passes\n", len(passes)-maxPassLines)
		passes = passes[len(passes)-maxPassLines:]
	}
	for _, r := range passes {
		line := fmt.Sprintf("  pass %3d  %5d kernels  %5d committed  total %6d  capacity %d",
			r.Pass, r.Kernels, r.Committed, r.Total, r.Capacity)
		if r.Exhausted {
			b.WriteString(exhaustedStyle.Render(line + "  exhausted"))
		} else {
			b.WriteString(passStyle.Render(line))
		}
		b.WriteString("\n")
	}
}

func runInteractive(opts options) error {
	setLogger(zap.NewNop())
	m := newInteractiveModel(opts)
	p := tea.NewProgram(m, tea.WithAltScreen())
	m.program = p
	_, err := p.Run()
	return err
}
