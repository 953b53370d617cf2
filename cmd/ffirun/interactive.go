package main

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/wippyai/ffi-runtime/runtime"
)

var interactiveCmd = &cobra.Command{
	Use:   "interactive [library]",
	Short: "Browse and call configured functions",
	Long: `Interactive lists the functions declared in the configuration file,
optionally only those of one library, and calls them with arguments typed
into a form.`,
	Aliases: []string{"i"},
	Args:    cobra.MaximumNArgs(1),
	RunE:    runInteractive,
}

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	funcStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	typeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4"))

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

type modelState int

const (
	stateSelectFunc modelState = iota
	stateInputArgs
	stateShowResult
)

type interactiveModel struct {
	err      error
	ctx      context.Context
	opts     runtime.CallOptions
	title    string
	result   string
	funcs    []*runtime.Func
	inputs   []textinput.Model
	selected int
	focusIdx int
	state    modelState
	calling  bool
}

type callResultMsg struct {
	err    error
	result string
}

func (m *interactiveModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m *interactiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit

		case "q":
			if m.state != stateInputArgs {
				return m, tea.Quit
			}

		case "up", "k":
			if m.state == stateSelectFunc && m.selected > 0 {
				m.selected--
			}

		case "down", "j":
			if m.state == stateSelectFunc && m.selected < len(m.funcs)-1 {
				m.selected++
			}

		case "enter":
			switch m.state {
			case stateSelectFunc:
				m.prepareInputs()
				if len(m.inputs) == 0 {
					return m, m.startCall()
				}
				m.state = stateInputArgs
				return m, nil

			case stateInputArgs:
				return m, m.startCall()

			case stateShowResult:
				m.reset()
			}

		case "tab", "shift+tab":
			if m.state == stateInputArgs && len(m.inputs) > 1 {
				step := 1
				if msg.String() == "shift+tab" {
					step = len(m.inputs) - 1
				}
				m.inputs[m.focusIdx].Blur()
				m.focusIdx = (m.focusIdx + step) % len(m.inputs)
				m.inputs[m.focusIdx].Focus()
				return m, nil
			}

		case "esc":
			switch m.state {
			case stateInputArgs:
				m.state = stateSelectFunc
				m.inputs = nil
			case stateShowResult:
				m.reset()
			}
			return m, nil
		}

	case callResultMsg:
		m.calling = false
		m.result = msg.result
		m.err = msg.err
		m.state = stateShowResult
		return m, nil
	}

	if m.state == stateInputArgs {
		cmds := make([]tea.Cmd, len(m.inputs))
		for i := range m.inputs {
			m.inputs[i], cmds[i] = m.inputs[i].Update(msg)
		}
		return m, tea.Batch(cmds...)
	}
	return m, nil
}

func (m *interactiveModel) reset() {
	m.state = stateSelectFunc
	m.inputs = nil
	m.result = ""
	m.err = nil
}

func (m *interactiveModel) prepareInputs() {
	params := m.funcs[m.selected].Signature().Params
	m.inputs = make([]textinput.Model, len(params))
	for i, p := range params {
		ti := textinput.New()
		ti.Placeholder = p.String()
		ti.Prompt = fmt.Sprintf("arg%d: ", i)
		ti.Width = 40
		if i == 0 {
			ti.Focus()
		}
		m.inputs[i] = ti
	}
	m.focusIdx = 0
}

// startCall parses the form before handing the call to a tea.Cmd, so
// the inputs are read on the update goroutine.
func (m *interactiveModel) startCall() tea.Cmd {
	if m.calling {
		return nil
	}
	f := m.funcs[m.selected]
	raw := make([]string, len(m.inputs))
	for i, input := range m.inputs {
		raw[i] = input.Value()
	}
	args, err := parseArgs(f.Signature(), raw)
	if err != nil {
		return func() tea.Msg { return callResultMsg{err: err} }
	}
	m.calling = true
	ctx, opts := m.ctx, m.opts
	return func() tea.Msg {
		res, err := f.CallWith(ctx, opts, args...)
		if err != nil {
			return callResultMsg{err: err}
		}
		out := pretty(plain(res.Value), 0)
		if opts.Errno {
			out += fmt.Sprintf("\nerrno %d %s", res.Errno, res.ErrnoMessage)
		}
		return callResultMsg{result: out}
	}
}

func (m *interactiveModel) View() string {
	if len(m.funcs) == 0 {
		return errorStyle.Render("No functions configured.\n\nDeclare them under [libraries.functions] and press q to quit.")
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("FFI Runner"))
	b.WriteString(" ")
	b.WriteString(m.title)
	b.WriteString("\n\n")

	switch m.state {
	case stateSelectFunc:
		b.WriteString("Select a function to call:\n\n")
		for i, f := range m.funcs {
			if i == m.selected {
				b.WriteString(selectedStyle.Render("> " + formatFunc(f)))
			} else {
				b.WriteString("  " + formatFunc(f))
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("↑/↓ select • enter call • q quit"))

	case stateInputArgs:
		f := m.funcs[m.selected]
		fmt.Fprintf(&b, "Calling %s\n\n", funcStyle.Render(f.Library()+"."+f.Name()))
		params := f.Signature().Params
		for i, input := range m.inputs {
			b.WriteString(input.View())
			b.WriteString(" ")
			b.WriteString(typeStyle.Render(params[i].String()))
			b.WriteString("\n")
		}
		b.WriteString("\n")
		if m.calling {
			b.WriteString(helpStyle.Render("calling..."))
		} else {
			b.WriteString(helpStyle.Render("tab next field • enter call • esc back"))
		}

	case stateShowResult:
		f := m.funcs[m.selected]
		fmt.Fprintf(&b, "Result of %s:\n\n", funcStyle.Render(f.Library()+"."+f.Name()))
		if m.err != nil {
			b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
		} else {
			b.WriteString(resultStyle.Render(m.result))
		}
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("enter continue • q quit"))
	}
	return b.String()
}

func formatFunc(f *runtime.Func) string {
	sig := f.Signature()
	params := make([]string, len(sig.Params))
	for i, p := range sig.Params {
		params[i] = typeStyle.Render(p.String())
	}
	if sig.Variadic {
		params = append(params[:sig.Fixed], append([]string{"..."}, params[sig.Fixed:]...)...)
	}
	result := ""
	if sig.Return != nil {
		result = " -> " + typeStyle.Render(sig.Return.String())
	}
	return funcStyle.Render(f.Library()+"."+f.Name()) + "(" + strings.Join(params, ", ") + ")" + result
}

func runInteractive(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	rt, cfg, closeFn, err := openRuntime(ctx, cmd)
	if err != nil {
		return err
	}
	defer closeFn()

	title := "all libraries"
	var funcs []*runtime.Func
	for _, lib := range cfg.Libraries {
		if len(args) == 1 && lib.Name != args[0] {
			continue
		}
		for name := range lib.Functions {
			if f, ok := rt.Func(lib.Name, name); ok {
				funcs = append(funcs, f)
			}
		}
	}
	if len(args) == 1 {
		title = args[0]
	}
	sort.Slice(funcs, func(i, j int) bool {
		if funcs[i].Library() != funcs[j].Library() {
			return funcs[i].Library() < funcs[j].Library()
		}
		return funcs[i].Name() < funcs[j].Name()
	})

	m := &interactiveModel{
		ctx:   ctx,
		opts:  runtime.CallOptions{Errno: cfg.Calls.CaptureErrno},
		title: title,
		funcs: funcs,
		state: stateSelectFunc,
	}
	_, err = tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	return err
}
