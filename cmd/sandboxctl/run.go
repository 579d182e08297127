package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/birdsong-labs/luasandbox/internal/hostconfig"
	"github.com/birdsong-labs/luasandbox/internal/sandbox"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run <script.lua> [arg]",
	Short: "Load a script, call process(arg), and print its output",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runRun,
}

func runRun(cmd *cobra.Command, args []string) error {
	scriptPath := args[0]
	arg := 0
	if len(args) == 2 {
		v, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("argument must be an integer: %w", err)
		}
		arg = v
	}

	file, err := hostconfig.Load(configPath)
	if err != nil {
		return err
	}
	if modulesPath != "" {
		file.ModulesPath = modulesPath
	}

	source, err := os.ReadFile(scriptPath)
	if err != nil {
		return fmt.Errorf("read script: %w", err)
	}

	sb, err := sandbox.New(sandbox.Config{
		OutputLimit:      file.OutputLimit,
		MemoryLimit:      file.MemoryLimit,
		InstructionLimit: file.InstructionLimit,
		Path:             file.ModulesPath,
		PreservationPath: file.PreservationPath,
		Logger:           logger,
	})
	if err != nil {
		return fmt.Errorf("create sandbox: %w", err)
	}
	defer sb.Terminate()

	if err := sb.Init(string(source)); err != nil {
		return fmt.Errorf("init: %w (last_error=%s)", err, sb.LastError())
	}

	status, err := sb.Invoke(arg)
	out := sb.Output()
	if len(out) > 0 {
		fmt.Fprint(cmd.OutOrStdout(), string(out))
	}
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "invoke error: %v (last_error=%s)\n", err, sb.LastError())
	}

	reportUsage(cmd, sb)

	if err != nil {
		os.Exit(1)
	}
	if status != 0 {
		os.Exit(status)
	}
	return nil
}

func reportUsage(cmd *cobra.Command, sb *sandbox.Sandbox) {
	resources := []sandbox.Resource{sandbox.ResourceMemory, sandbox.ResourceInstructions, sandbox.ResourceOutput}
	for _, r := range resources {
		fmt.Fprintf(cmd.ErrOrStderr(), "%s: current=%d maximum=%d limit=%d\n",
			r,
			sb.Usage(r, sandbox.MetricCurrent),
			sb.Usage(r, sandbox.MetricMaximum),
			sb.Usage(r, sandbox.MetricLimit),
		)
	}
}
