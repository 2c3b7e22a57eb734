package main

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"overseer/internal/events"
	"overseer/internal/nl"
	"overseer/internal/orchestrator"
	"overseer/internal/types"
)

var interactiveCmd = &cobra.Command{
	Use:   "interactive",
	Short: "Start the interactive REPL",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInteractive()
	},
}

// Slash commands, sorted for completion and for the unknown-command
// error message.
var slashCommands = []string{
	"/help", "/override-decision", "/pause", "/project", "/resume",
	"/run", "/send-to-implementer", "/status", "/stop",
}

var (
	promptStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("205")).Bold(true)
	eventStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	replyStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
)

// replModel is the bubbletea model for the REPL.
type replModel struct {
	input    textinput.Model
	viewport viewport.Model
	renderer *glamour.TermRenderer

	app       *app
	nlp       *nl.Pipeline
	exec      *nl.Executor
	orch      *orchestrator.Orchestrator
	sub       *events.Subscription
	projectID int64

	lines   []string
	running bool
	inject  string // queued /send-to-implementer text
	ready   bool
	width   int
	height  int
}

// Messages produced by background work.
type busEventMsg events.Event
type taskDoneMsg struct {
	taskID int64
	res    *types.TaskResult
	err    error
}

func runInteractive() error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.close()

	ti := textinput.New()
	ti.Placeholder = "type a command, or /help"
	ti.Prompt = promptStyle.Render("orch> ")
	ti.Focus()
	ti.CharLimit = 4096

	renderer, _ := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)

	m := &replModel{
		input:    ti,
		renderer: renderer,
		app:      a,
		nlp:      nl.NewPipeline(a.cfg.NL, a.store, a.model),
		exec:     &nl.Executor{State: a.store},
		orch:     a.orchestratorFor(),
		sub:      a.bus.Subscribe(),
	}
	m.push(replyStyle.Render("overseer interactive. /help for commands; anything else is natural language."))

	p := tea.NewProgram(m, tea.WithAltScreen())
	_, err = p.Run()
	return err
}

func (m *replModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.waitEvent())
}

// waitEvent bridges the event bus into the tea message loop.
func (m *replModel) waitEvent() tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-m.sub.Events()
		if !ok {
			return nil
		}
		return busEventMsg(ev)
	}
}

func (m *replModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		if !m.ready {
			m.viewport = viewport.New(msg.Width, msg.Height-2)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = msg.Height - 2
		}
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyTab:
			m.complete()
			return m, nil
		case tea.KeyEnter:
			line := strings.TrimSpace(m.input.Value())
			m.input.SetValue("")
			if line == "" {
				return m, nil
			}
			m.push(promptStyle.Render("orch> ") + line)
			return m, m.dispatch(line)
		}

	case busEventMsg:
		m.push(eventStyle.Render(fmt.Sprintf("[%s] %s %s",
			msg.Type, msg.Message, eventContext(events.Event(msg)))))
		return m, m.waitEvent()

	case taskDoneMsg:
		m.running = false
		if msg.err != nil {
			m.push(errorStyle.Render(fmt.Sprintf("Task #%d failed: %v", msg.taskID, msg.err)))
		} else {
			m.push(replyStyle.Render(fmt.Sprintf("Task #%d: %s (quality %d, confidence %d)",
				msg.taskID, msg.res.Status, msg.res.Quality, msg.res.Confidence)))
			if msg.res.Clarification != "" {
				m.push(replyStyle.Render("  " + msg.res.Clarification))
			}
		}
		return m, nil
	}

	var cmds []tea.Cmd
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m *replModel) View() string {
	if !m.ready {
		return "starting..."
	}
	return m.viewport.View() + "\n" + m.input.View()
}

// dispatch routes one input line: slash command or natural language.
func (m *replModel) dispatch(line string) tea.Cmd {
	if strings.HasPrefix(line, "/") {
		return m.slash(line)
	}

	out, err := m.nlp.Process(context.Background(), m.projectID, line)
	if err != nil {
		m.push(errorStyle.Render("Error: " + err.Error()))
		return nil
	}
	m.push(replyStyle.Render(out.ResponseText))

	if out.Op != nil && (out.Pending == nil || out.Op.Confirmed) {
		text, err := m.exec.Execute(out.Op)
		if err != nil {
			m.push(errorStyle.Render("Error: " + err.Error()))
			return nil
		}
		m.push(replyStyle.Render(text))
	}
	return nil
}

// slash handles slash commands. They are case-insensitive; unknown
// commands list the vocabulary.
func (m *replModel) slash(line string) tea.Cmd {
	fields := strings.Fields(line)
	cmd := strings.ToLower(fields[0])
	rest := strings.TrimSpace(strings.TrimPrefix(line, fields[0]))

	switch cmd {
	case "/help":
		m.showHelp()
	case "/status":
		m.showStatus()
	case "/pause":
		m.orch.RequestCancel()
		m.push(replyStyle.Render("Pause requested; the loop stops between iterations."))
	case "/resume":
		m.orch.ClearCancel()
		m.push(replyStyle.Render("Resume: cancel flag cleared; /run to continue."))
	case "/stop":
		m.orch.RequestCancel()
		m.push(replyStyle.Render("Stop requested (graceful cancel)."))
	case "/send-to-implementer":
		if rest == "" {
			m.push(errorStyle.Render("Usage: /send-to-implementer <text>"))
			return nil
		}
		m.inject = rest
		m.push(replyStyle.Render("Queued for the next implementer prompt."))
	case "/override-decision":
		return m.overrideDecision(rest)
	case "/project":
		id, err := parseID(rest)
		if err != nil {
			m.push(errorStyle.Render("Usage: /project <id>"))
			return nil
		}
		m.projectID = id
		m.push(replyStyle.Render(fmt.Sprintf("Current project set to #%d", id)))
	case "/run":
		return m.runTask(rest)
	default:
		m.push(errorStyle.Render(fmt.Sprintf("Unknown command %s. Available: %s",
			cmd, strings.Join(slashCommands, " "))))
	}
	return nil
}

func (m *replModel) runTask(arg string) tea.Cmd {
	taskID, err := parseID(arg)
	if err != nil {
		m.push(errorStyle.Render("Usage: /run <task-id>"))
		return nil
	}
	if m.running {
		m.push(errorStyle.Render("A task is already running; /stop it first."))
		return nil
	}
	m.running = true
	m.orch.ClearCancel()
	inject := m.inject
	m.inject = ""

	if inject != "" {
		// Injected operator text rides along in the next prompt; the task
		// record stays untouched.
		m.orch.InjectNote(inject)
	}

	return func() tea.Msg {
		res, err := m.orch.ExecuteTask(context.Background(), taskID, 0)
		return taskDoneMsg{taskID: taskID, res: res, err: err}
	}
}

// overrideDecision resolves the newest unresolved breakpoint of the
// current project's paused task with an operator-chosen resolution.
func (m *replModel) overrideDecision(arg string) tea.Cmd {
	parts := strings.Fields(arg)
	if len(parts) != 2 {
		m.push(errorStyle.Render("Usage: /override-decision <task-id> <proceed|retry|clarify|escalate>"))
		return nil
	}
	taskID, err := parseID(parts[0])
	if err != nil {
		m.push(errorStyle.Render("Invalid task id"))
		return nil
	}
	resolution, err := parseResolution(parts[1])
	if err != nil {
		m.push(errorStyle.Render(err.Error()))
		return nil
	}

	bp, err := m.app.store.UnresolvedBreakpoint(taskID)
	if err != nil {
		m.push(errorStyle.Render("Error: " + err.Error()))
		return nil
	}
	if bp == nil {
		m.push(errorStyle.Render(fmt.Sprintf("Task #%d has no unresolved breakpoint", taskID)))
		return nil
	}
	if err := m.app.store.ResolveBreakpoint(bp.ID, resolution); err != nil {
		m.push(errorStyle.Render("Error: " + err.Error()))
		return nil
	}
	m.push(replyStyle.Render(fmt.Sprintf("Breakpoint #%d resolved: %s", bp.ID, resolution)))
	return nil
}

func (m *replModel) showHelp() {
	doc := `# overseer commands

| Command | Effect |
|---|---|
| /help | this help |
| /status | projects, running task, pending confirmation |
| /project <id> | set the current project |
| /run <task-id> | execute a task through the loop |
| /pause | cooperative pause between iterations |
| /resume | clear the pause flag |
| /stop | graceful cancel |
| /send-to-implementer <text> | inject text into the next agent prompt |
| /override-decision <task-id> <resolution> | resolve a breakpoint |

Anything not starting with "/" is natural language, for example:
` + "`create a task \"wire the config loader\" priority 3`"

	if m.renderer != nil {
		if out, err := m.renderer.Render(doc); err == nil {
			m.push(out)
			return
		}
	}
	m.push(doc)
}

func (m *replModel) showStatus() {
	projects, err := m.app.store.ListProjects(false)
	if err != nil {
		m.push(errorStyle.Render("Error: " + err.Error()))
		return
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Projects: %d; current #%d\n", len(projects), m.projectID)
	for _, p := range projects {
		fmt.Fprintf(&b, "  #%d %s (%s)\n", p.ID, p.Name, p.Status)
	}
	fmt.Fprintf(&b, "Task running: %v\n", m.running)
	if pending := m.nlp.Pending(); pending != nil {
		fmt.Fprintf(&b, "Awaiting confirmation: %s\n", pending.Prompt)
	}
	if m.inject != "" {
		fmt.Fprintf(&b, "Queued implementer message: %s\n", m.inject)
	}
	m.push(replyStyle.Render(strings.TrimRight(b.String(), "\n")))
}

// complete expands a partial slash command when exactly one matches.
func (m *replModel) complete() {
	val := strings.ToLower(m.input.Value())
	if !strings.HasPrefix(val, "/") {
		return
	}
	var matches []string
	for _, c := range slashCommands {
		if strings.HasPrefix(c, val) {
			matches = append(matches, c)
		}
	}
	sort.Strings(matches)
	switch len(matches) {
	case 0:
	case 1:
		m.input.SetValue(matches[0] + " ")
		m.input.CursorEnd()
	default:
		m.push(eventStyle.Render(strings.Join(matches, "  ")))
	}
}

func (m *replModel) push(line string) {
	m.lines = append(m.lines, line)
	m.refresh()
}

func (m *replModel) refresh() {
	if !m.ready {
		return
	}
	m.viewport.SetContent(strings.Join(m.lines, "\n"))
	m.viewport.GotoBottom()
}

func eventContext(ev events.Event) string {
	var parts []string
	if ev.TaskID != 0 {
		parts = append(parts, fmt.Sprintf("task=%d", ev.TaskID))
	}
	if ev.SessionID != "" {
		parts = append(parts, "session="+ev.SessionID[:8])
	}
	return strings.Join(parts, " ")
}
