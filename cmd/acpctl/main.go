// Command acpctl is a thin CLI over the coordination runtime: it wires
// the bus, agent manager, and orchestrator together, registers one demo
// agent, and runs a single goal to completion.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/autoforge/acp/agent"
	"github.com/autoforge/acp/bus"
	"github.com/autoforge/acp/core"
	"github.com/autoforge/acp/manager"
	"github.com/autoforge/acp/orchestrator"
	"github.com/autoforge/acp/pkg/logger"
)

func main() {
	var (
		goalDesc = flag.String("goal", "", "goal description to execute")
		title    = flag.String("title", "acpctl-goal", "workflow title for the goal")
		devMode  = flag.Bool("dev", false, "enable dev-mode logging")
		timeout  = flag.Duration("timeout", 30*time.Second, "max time to wait for the goal")
	)
	flag.Parse()

	if *goalDesc == "" {
		fmt.Fprintln(os.Stderr, "acpctl: -goal is required")
		os.Exit(2)
	}

	log := logger.NewTintLogger(envOr(core.EnvLogLevel, "info"))
	if *devMode {
		log = logger.NewTintLogger("debug")
	}

	cfg, err := core.NewConfig()
	if err != nil {
		log.Error("config load failed", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}

	b := bus.New(log, cfg.Bus.HandlerTimeout)
	mgr := manager.New(log)
	runner := orchestrator.New(b, mgr, log, cfg.Orchestrator)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	for _, demo := range demoAgents(b, log) {
		if err := demo.Initialize(ctx); err != nil {
			log.Error("agent init failed", map[string]interface{}{"agentId": demo.ID, "error": err.Error()})
			os.Exit(1)
		}
		if err := mgr.Register(demo); err != nil {
			log.Error("agent register failed", map[string]interface{}{"agentId": demo.ID, "error": err.Error()})
			os.Exit(1)
		}
	}

	if err := runner.Start(ctx); err != nil {
		log.Error("orchestrator start failed", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}
	defer runner.Destroy(context.Background())

	opts := orchestrator.DefaultExecuteGoalOptions()
	opts.Timeout = *timeout

	result, err := runner.ExecuteGoal(ctx, *title, *goalDesc, opts)
	if err != nil {
		log.Error("goal execution failed", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}

	log.Info("goal finished", map[string]interface{}{
		"goalId": result.GoalID, "status": string(result.Status), "totalDurationMs": result.TotalDuration,
		"completedTasks": result.CompletedTasks, "failedTasks": result.FailedTasks,
	})
	if result.Status != core.GoalCompleted {
		os.Exit(1)
	}
}

// demoAgents builds one coder agent whose handler just echoes the
// task payload back — enough to drive executeGoal end-to-end without
// a real language-model backend.
func demoAgents(b *bus.Bus, log core.Logger) []*agent.Agent {
	coder := agent.New("coder-1", core.AgentTypeCoder, b, log, core.DefaultStopDrainTimeout)
	coder.RegisterHandler(core.TaskTypeGeneric, func(ctx context.Context, task *core.Task) (interface{}, error) {
		return task.Payload, nil
	})
	return []*agent.Agent{coder}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
