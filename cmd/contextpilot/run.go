package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/contextpilot/contextpilot/internal/clock"
	"github.com/contextpilot/contextpilot/internal/llm"
	"github.com/contextpilot/contextpilot/internal/prompt"
	"github.com/contextpilot/contextpilot/internal/statecore"
)

// systemPrompt is the static seed every request opens with. The original
// builds a much larger one from per-module contributions (mod.rs's
// system_prompt_fragment); this engine keeps a single static seed and lets
// modules speak through their panels instead (spec.md §4.5).
const systemPrompt = "You are an autonomous coding agent. Use the context panels below and the available tools to complete the user's request."

func init() {
	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the interactive foreground session",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := buildEngine(rootRoot)
		if err != nil {
			return fmt.Errorf("building engine: %w", err)
		}
		client, model, err := clientFor(e.cfg.DefaultModel)
		if err != nil {
			return fmt.Errorf("resolving model %q: %w", e.cfg.DefaultModel, err)
		}
		p := tea.NewProgram(newRunModel(e, client, model), tea.WithAltScreen())
		_, err = p.Run()
		if err != nil {
			return err
		}
		return saveModuleData(e.root, e.reg, e.state)
	},
}

// runModel is the foreground TUI: a scrolling transcript and a single-line
// prompt, deliberately thin relative to the original's multi-panel TUI
// (convoy/feed-style layouts per internal/tui) — spec.md §4.10 scopes the
// interactive surface down to streaming assistant text plus input.
type runModel struct {
	e      *engine
	client llm.Client
	model  llm.ModelInfo

	transcript viewport.Model
	input      textinput.Model
	width      int
	height     int

	busy   bool
	status string
}

func newRunModel(e *engine, client llm.Client, model llm.ModelInfo) runModel {
	ti := textinput.New()
	ti.Placeholder = "Ask contextpilot..."
	ti.Focus()
	ti.CharLimit = 4096

	vp := viewport.New(80, 20)
	return runModel{e: e, client: client, model: model, transcript: vp, input: ti}
}

func (m runModel) Init() tea.Cmd { return textinput.Blink }

// turnDoneMsg carries the result of one llm.Run call back to Update.
type turnDoneMsg struct {
	outcome llm.Outcome
}

func (m runModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.transcript.Width = msg.Width
		m.transcript.Height = msg.Height - 4
		m.input.Width = msg.Width - 2
		m.renderTranscript()
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyEnter:
			if m.busy {
				return m, nil
			}
			text := strings.TrimSpace(m.input.Value())
			if text == "" {
				return m, nil
			}
			m.input.SetValue("")
			m.e.state.AppendMessage(&statecore.Message{
				ID: m.e.state.NextMessageID("U"), Role: statecore.RoleUser, Type: statecore.MessageUser,
				Text: text, Status: statecore.StatusActive,
			})
			m.busy = true
			m.status = "thinking..."
			m.renderTranscript()
			return m, m.runTurn()
		}

	case turnDoneMsg:
		m.busy = false
		m.applyOutcome(msg.outcome)
		m.renderTranscript()
		if msg.outcome.FinalState == llm.StateError {
			m.status = fmt.Sprintf("error: %v", msg.outcome.Err)
		} else {
			m.status = ""
		}
		return m, nil
	}

	var cmds []tea.Cmd
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	m.transcript, cmd = m.transcript.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m *runModel) applyOutcome(o llm.Outcome) {
	s := m.e.state
	if o.AssistantText != "" || len(o.ToolUses) > 0 {
		s.AppendMessage(&statecore.Message{
			ID: s.NextMessageID("A"), Role: statecore.RoleAssistant, Type: statecore.MessageAssistant,
			Text: o.AssistantText, ToolUses: o.ToolUses, Status: statecore.StatusActive,
		})
	}
	if len(o.PendingResults) > 0 {
		s.AppendMessage(&statecore.Message{
			ID: s.NextMessageID("R"), Role: statecore.RoleUser, Type: statecore.MessageToolResult,
			ToolResults: o.PendingResults, Status: statecore.StatusActive,
		})
	}
	if o.Err != nil {
		s.AppendMessage(&statecore.Message{
			ID: s.NextMessageID("A"), Role: statecore.RoleAssistant, Type: statecore.MessageAssistant,
			Text: fmt.Sprintf("[error: %v]", o.Err), Status: statecore.StatusActive,
		})
	}
}

// runTurn refreshes the synchronous panels, ticks the cache pipeline and the
// GitHub poller, drains whatever updates already arrived, then drives one
// full llm.Run call on a background goroutine, reporting back via
// turnDoneMsg.
func (m runModel) runTurn() tea.Cmd {
	e := m.e
	return func() tea.Msg {
		ctx := context.Background()
		e.refreshSyncPanels()
		e.pipe.Tick(ctx, e.state)
		e.syncAndTickGhPoller(ctx)
		drainPipelineUpdates(e)

		build := func(pending []statecore.ToolResultBlock) llm.Request {
			e.state.RLock()
			msgs := append([]*statecore.Message(nil), e.state.Messages...)
			panels := append([]*statecore.ContextElement(nil), e.state.Panels...)
			tools := append([]*statecore.ToolDefinition(nil), e.state.Tools...)
			e.state.RUnlock()

			apiMsgs := prompt.Assemble(prompt.Input{
				Messages: msgs, Panels: panels, Tools: tools,
				PendingResults: pending, SystemPromptSeed: "",
			})
			toolDefs := make([]statecore.ToolDefinition, 0, len(tools))
			for _, t := range tools {
				if t.Enabled {
					toolDefs = append(toolDefs, *t)
				}
			}
			return llm.Request{Model: m.model.APIName, APIMessages: apiMsgs, Tools: toolDefs, SystemPrompt: systemPrompt}
		}

		outcome := llm.Run(ctx, m.client, e.dsp, e.state, build, m.model, clock.Real{}, e.costCap)
		return turnDoneMsg{outcome: outcome}
	}
}

// drainPipelineUpdates applies whatever cache.Pipeline.Update values are
// already queued without blocking; the next Tick picks up anything still
// in flight.
func drainPipelineUpdates(e *engine) {
	for {
		select {
		case u := <-e.pipe.Updates():
			e.pipe.Apply(e.state, u)
		case u := <-e.ghUpdates:
			e.pipe.Apply(e.state, u)
		default:
			return
		}
	}
}

func (m *runModel) renderTranscript() {
	s := m.e.state
	s.RLock()
	defer s.RUnlock()
	var b strings.Builder
	for _, msg := range s.Messages {
		if !msg.IsVisible() {
			continue
		}
		switch msg.Type {
		case statecore.MessageUser:
			fmt.Fprintf(&b, "%s\n%s\n\n", userStyle.Render("you"), msg.Text)
		case statecore.MessageAssistant:
			fmt.Fprintf(&b, "%s\n%s\n", assistantStyle.Render("assistant"), msg.Text)
			for _, tu := range msg.ToolUses {
				fmt.Fprintf(&b, "  %s %s\n", toolStyle.Render("->"), tu.Name)
			}
			b.WriteString("\n")
		case statecore.MessageToolResult:
			for _, r := range msg.ToolResults {
				fmt.Fprintf(&b, "  %s %s\n", toolStyle.Render("<-"), truncate(r.Content, 200))
			}
		}
	}
	m.transcript.SetContent(b.String())
	m.transcript.GotoBottom()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

var (
	userStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	assistantStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	toolStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	statusStyle    = lipgloss.NewStyle().Faint(true)
)

func (m runModel) View() string {
	status := m.status
	if m.busy && status == "" {
		status = "working..."
	}
	return fmt.Sprintf("%s\n%s\n%s", m.transcript.View(), m.input.View(), statusStyle.Render(status))
}
