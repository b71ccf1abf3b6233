package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"
	"go.uber.org/zap"

	"github.com/agentloop/agentloop/internal/agents"
	"github.com/agentloop/agentloop/internal/config"
	"github.com/agentloop/agentloop/internal/coordinator"
	"github.com/agentloop/agentloop/internal/eventbus"
	"github.com/agentloop/agentloop/internal/registry"
	"github.com/agentloop/agentloop/internal/safeexec"
	"github.com/agentloop/agentloop/internal/session"
	"github.com/agentloop/agentloop/internal/strategy"
)

const wrapWidth = 100

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("6"))
	answerStyle = lipgloss.NewStyle().Bold(true)
	dimStyle    = lipgloss.NewStyle().Faint(true)
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
)

// Run executes one session and prints the final answer.
func (r *RunCmd) Run() error {
	cfg, err := loadConfig(r.Config)
	if err != nil {
		return err
	}
	if r.ToolLogDir != "" {
		cfg.Session.PerfLogDir = r.ToolLogDir
	}
	if r.Tools != "" {
		cfg.Tools.Manifest = r.Tools
	}
	if r.EventsURL != "" {
		cfg.Events.NATSURL = r.EventsURL
	}

	logger, err := newLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer logger.Sync()

	prof, err := cfg.GetProfile(r.Profile)
	if err != nil {
		return err
	}

	reg, err := buildRegistry(cfg)
	if err != nil {
		return err
	}

	sink, err := buildSink(cfg)
	if err != nil {
		return err
	}
	defer sink.Close()

	exec := safeexec.New(reg, prof, logger)
	strategies := []strategy.Strategy{&strategy.ToolStrategy{Exec: exec}}

	var retriever coordinator.Retriever
	if len(cfg.Knowledge.Docs) > 0 {
		kb := buildKnowledgeBase(cfg)
		retriever = kb
		strategies = append(strategies, &strategy.RetrievalStrategy{Source: agents.KBSource{KB: kb}})
	}

	human := func(prompt string) (string, error) { return "", nil }
	if !r.NoInput {
		human = promptHuman
	}

	c, err := coordinator.New(coordinator.Config{
		Profile:    prof,
		Runner:     strategy.NewRunner(prof, logger, strategies...),
		Perception: agents.RuleBasedPerception{},
		Retriever:  retriever,
		Memory:     agents.Recorder{},
		Planner:    &agents.HeuristicPlanner{Reg: reg},
		Critic:     agents.HeuristicCritic{},
		Human:      human,
		Logger:     logger,
		Events:     sink,
		PerfLogDir: cfg.Session.PerfLogDir,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	answer, runErr := c.Run(ctx, r.Query)
	if r.Trace {
		printTrace(c.State())
	}
	if runErr != nil {
		return runErr
	}

	fmt.Println(answerStyle.Render(wordwrap.String(answer, wrapWidth)))
	return nil
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	if _, err := os.Stat("agentloop.toml"); err == nil {
		return config.LoadDefault()
	}
	return config.Default(), nil
}

func newLogger(lc config.LoggingConfig) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if !lc.JSON {
		zcfg = zap.NewDevelopmentConfig()
	}
	level, err := zap.ParseAtomicLevel(lc.Level)
	if err != nil {
		return nil, fmt.Errorf("bad log level %q: %w", lc.Level, err)
	}
	zcfg.Level = level
	return zcfg.Build()
}

func buildRegistry(cfg *config.Config) (*registry.Registry, error) {
	reg := registry.New()
	if cfg.Tools.Builtins {
		if err := agents.RegisterBuiltins(reg); err != nil {
			return nil, err
		}
	}
	if cfg.Tools.Manifest == "" {
		return reg, nil
	}

	schemas, err := registry.LoadManifest(cfg.Tools.Manifest)
	if err != nil {
		return nil, err
	}
	for _, schema := range schemas {
		// Manifest tools declare schemas for validation and planning;
		// without a bound executor an invocation fails cleanly.
		name := schema.Name
		err := reg.Register(schema, func(ctx context.Context, args map[string]any) (string, map[string]any, error) {
			return "", nil, fmt.Errorf("tool %s has no local executor", name)
		})
		if err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func buildSink(cfg *config.Config) (eventbus.Sink, error) {
	if cfg.Events.NATSURL == "" {
		return eventbus.NopSink{}, nil
	}
	return eventbus.DialNATS(cfg.Events.NATSURL)
}

func buildKnowledgeBase(cfg *config.Config) *agents.StaticRetriever {
	docs := make([]agents.Document, 0, len(cfg.Knowledge.Docs))
	for _, d := range cfg.Knowledge.Docs {
		docs = append(docs, agents.Document{
			Ref:     d.Ref,
			Title:   d.Title,
			Content: d.Content,
			Tags:    d.Tags,
		})
	}
	return &agents.StaticRetriever{Docs: docs}
}

func promptHuman(prompt string) (string, error) {
	fmt.Fprintln(os.Stderr, headerStyle.Render("[input needed]"))
	fmt.Fprintln(os.Stderr, wordwrap.String(prompt, wrapWidth))
	fmt.Fprint(os.Stderr, "> ")
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func printTrace(state *session.State) {
	if state == nil {
		return
	}
	fmt.Println(headerStyle.Render(fmt.Sprintf("session %s (%s)", state.ID, state.Profile)))
	for _, plan := range state.Plans {
		fmt.Println(dimStyle.Render(fmt.Sprintf("plan v%d (%s, rewrites %d)", plan.Version, plan.Status, plan.RewriteCount)))
		for _, step := range plan.Steps {
			mark := okStyle.Render("+")
			if step.Status == session.StepFailed || step.Status == session.StepEscalated {
				mark = failStyle.Render("-")
			} else if step.Status == session.StepPending {
				mark = dimStyle.Render(".")
			}
			line := fmt.Sprintf("%s [%s] %s", mark, step.Kind, step.Description)
			if step.ToolName != "" {
				line += dimStyle.Render(" via " + step.ToolName)
			}
			fmt.Println(wordwrap.String(line, wrapWidth))
			if step.ResultText != "" && step.Status == session.StepSucceeded {
				fmt.Println(dimStyle.Render(wordwrap.String("    "+step.ResultText, wrapWidth)))
			}
		}
	}
	for _, ev := range state.HILEvents {
		fmt.Println(failStyle.Render(fmt.Sprintf("escalation [%s] turn %d: %s", ev.Category, ev.Turn, ev.Prompt)))
	}
}
