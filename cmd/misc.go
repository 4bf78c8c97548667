package cmd

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/kfsoftware/asd/internal/config"
	"github.com/kfsoftware/asd/internal/readiness"
)

const netConfigTemplate = `version: 1
project:
  name: %s
network:
  services: {}
`

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "scaffold a new project: .asd workspace and net.config.yaml (see env-init for .env)",
		RunE: func(cmd *cobra.Command, args []string) error {
			resolver, err := newResolver()
			if err != nil {
				return err
			}
			ws, err := resolver.ProjectWorkspace()
			if err != nil {
				return err
			}
			root := filepath.Dir(filepath.Dir(ws))
			configPath := filepath.Join(root, "net.config.yaml")
			if _, err := os.Stat(configPath); err == nil {
				fmt.Fprintf(cmd.OutOrStdout(), "%s already exists, leaving it untouched\n", configPath)
				return nil
			}
			name := filepath.Base(root)
			if err := os.WriteFile(configPath, []byte(fmt.Sprintf(netConfigTemplate, name)), 0o644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", configPath)
			return nil
		},
	}
}

func newEnvInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "env-init",
		Short: "create an empty project .env if one does not already exist",
		RunE: func(cmd *cobra.Command, args []string) error {
			resolver, err := newResolver()
			if err != nil {
				return err
			}
			dotenvPath, err := resolver.DotenvPath()
			if err != nil {
				return err
			}
			if _, err := os.Stat(dotenvPath); err == nil {
				fmt.Fprintf(cmd.OutOrStdout(), "%s already exists\n", dotenvPath)
				return nil
			}
			if err := os.WriteFile(dotenvPath, []byte(""), 0o644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", dotenvPath)
			return nil
		},
	}
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <task>",
		Short: "run a named automation task's ordered step list from the project config",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()
			cfg, _, err := a.loadConfig()
			if err != nil {
				return err
			}
			steps, ok := cfg.Automation[args[0]]
			if !ok {
				return fmt.Errorf("no automation task %q declared", args[0])
			}
			for i, step := range steps {
				if err := runStep(cmd, step); err != nil {
					return fmt.Errorf("task %q step %d (%q): %w", args[0], i, step.Run, err)
				}
			}
			return nil
		},
	}
}

func runStep(cmd *cobra.Command, step config.AutomationStep) error {
	c := exec.CommandContext(cmd.Context(), "sh", "-c", step.Run)
	c.Stdout = cmd.OutOrStdout()
	c.Stderr = cmd.ErrOrStderr()
	for k, v := range step.Environment {
		c.Env = append(c.Env, fmt.Sprintf("%s=%s", k, v))
	}
	c.Env = append(os.Environ(), c.Env...)

	if step.Background {
		if err := c.Start(); err != nil {
			return err
		}
		if step.WaitFor != "" {
			timeout := time.Duration(step.TimeoutSecs) * time.Second
			if timeout <= 0 {
				timeout = readiness.DefaultBudget().Timeout
			}
			return readiness.Wait(cmd.Context(), readiness.Budget{Timeout: timeout, PollInterval: 200 * time.Millisecond}, readiness.Spec{TCP: &readiness.TCPCheck{HostPort: step.WaitFor}})
		}
		return nil
	}
	return c.Run()
}

func newUpdateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "update",
		Short: "report how asd is updated (this build does not self-update)",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), "asd is installed via your package manager; this build does not self-update")
			return nil
		},
	}
}
