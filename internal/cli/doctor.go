package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"slices"
	"strings"

	"github.com/urfave/cli/v3"
)

// DoctorCommand returns the CLI command definition for the 'doctor' subcommand.
// This command runs diagnostic checks on the binary, the agent MCP config
// and the otlp-timeline config files.
func DoctorCommand(version string) *cli.Command {
	return &cli.Command{
		Name:  "doctor",
		Usage: "Diagnose common setup and configuration issues",
		Description: `Run checks to verify otlp-timeline is properly set up.

This command checks:
  - Binary location and permissions
  - Agent MCP configuration (an otlp-timeline entry running "serve --mcp")
  - otlp-timeline config files parse and their watch directories exist
  - Optional dependencies (otel-cli)

Exit codes:
  0 - All critical checks passed
  1 - One or more issues found`,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return runDoctor(version)
		},
	}
}

type checkResult struct {
	Name       string
	Status     string // "pass", "warn", "fail"
	Message    string
	Suggestion string
	IsCritical bool
}

type fsUtils interface {
	Executable() (string, error)
	Stat(name string) (os.FileInfo, error)
	ReadFile(name string) ([]byte, error)
	UserHomeDir() (string, error)
	Getwd() (string, error)
	LookPath(file string) (string, error)
}

type realFsUtils struct{}

func (r *realFsUtils) Executable() (string, error)           { return os.Executable() }
func (r *realFsUtils) Stat(name string) (os.FileInfo, error) { return os.Stat(name) }
func (r *realFsUtils) ReadFile(name string) ([]byte, error)  { return os.ReadFile(name) }
func (r *realFsUtils) UserHomeDir() (string, error)          { return os.UserHomeDir() }
func (r *realFsUtils) Getwd() (string, error)                { return os.Getwd() }
func (r *realFsUtils) LookPath(file string) (string, error)  { return exec.LookPath(file) }

func runDoctor(version string) error {
	return runDoctorWithUtils(version, &realFsUtils{})
}

func runDoctorWithUtils(version string, utils fsUtils) error {
	fmt.Printf("🔍 otlp-timeline doctor v%s\n\n", version)

	checks := []func(utils fsUtils) checkResult{
		checkBinary,
		checkMCPConfig,
		checkTimelineConfig,
		checkOtelCLI,
	}

	var summary resultSummary
	for _, check := range checks {
		result := check(utils)
		summary.add(result)
		printCheckResult(result)
	}

	fmt.Println()
	printSummary(summary)

	if summary.FailCount > 0 {
		return fmt.Errorf("found %d issues that need attention", summary.FailCount)
	}
	return nil
}

func printCheckResult(result checkResult) {
	icon := map[string]string{"pass": "✓", "warn": "⚠", "fail": "✗"}[result.Status]
	fmt.Printf("%s %s\n", icon, result.Message)
	if result.Suggestion != "" {
		fmt.Printf("  %s\n", result.Suggestion)
	}
}

type resultSummary struct {
	PassCount int
	WarnCount int
	FailCount int
}

func (s *resultSummary) add(r checkResult) {
	switch r.Status {
	case "pass":
		s.PassCount++
	case "warn":
		s.WarnCount++
	case "fail":
		s.FailCount++
	}
}

func printSummary(summary resultSummary) {
	switch {
	case summary.FailCount > 0:
		fmt.Printf("❌ Found %d issue(s) that need attention\n", summary.FailCount)
		if summary.WarnCount > 0 {
			fmt.Printf("⚠️  %d warning(s)\n", summary.WarnCount)
		}
	case summary.WarnCount > 0:
		fmt.Printf("✅ All critical checks passed!\n")
		fmt.Printf("⚠️  %d optional warning(s)\n", summary.WarnCount)
		fmt.Printf("💡 Run 'otlp-timeline serve --verbose' and open the UI URL it prints\n")
	default:
		fmt.Printf("✅ All checks passed!\n")
		fmt.Printf("💡 Run 'otlp-timeline serve --verbose' and open the UI URL it prints\n")
	}
}

// Check 1: the binary can be found and executed
func checkBinary(utils fsUtils) checkResult {
	executable, err := utils.Executable()
	if err != nil {
		return checkResult{
			Name:       "binary",
			Status:     "fail",
			Message:    "Could not determine binary location",
			Suggestion: fmt.Sprintf("Error: %v", err),
			IsCritical: true,
		}
	}
	absPath, err := filepath.Abs(executable)
	if err != nil {
		absPath = executable
	}

	info, err := utils.Stat(executable)
	if err != nil || info == nil {
		return checkResult{
			Name:       "binary",
			Status:     "fail",
			Message:    fmt.Sprintf("Could not stat binary %s", absPath),
			Suggestion: fmt.Sprintf("Error: %v", err),
			IsCritical: true,
		}
	}
	if info.Mode()&0111 == 0 {
		return checkResult{
			Name:       "binary",
			Status:     "fail",
			Message:    fmt.Sprintf("Binary %s is not executable", absPath),
			Suggestion: fmt.Sprintf("Run: chmod +x %s", executable),
			IsCritical: true,
		}
	}

	return checkResult{
		Name:    "binary",
		Status:  "pass",
		Message: fmt.Sprintf("Binary: %s", absPath),
	}
}

// Check 2: an agent MCP config runs this binary with --mcp
func checkMCPConfig(utils fsUtils) checkResult {
	allPaths := getMCPConfigPaths(utils)
	configPath := firstExisting(utils, allPaths)

	if configPath == "" {
		executable, _ := utils.Executable()
		absPath, _ := filepath.Abs(executable)

		var locations strings.Builder
		for _, p := range allPaths {
			fmt.Fprintf(&locations, "  - %s\n", p)
		}

		return checkResult{
			Name:    "mcp_config",
			Status:  "warn",
			Message: "Optional: no agent MCP config found",
			Suggestion: fmt.Sprintf(`Checked:
%s
  To give an agent the timeline tools, add:
  {
    "mcpServers": {
      "otlp-timeline": {
        "command": "%s",
        "args": ["serve", "--mcp"]
      }
    }
  }`, locations.String(), absPath),
		}
	}

	data, err := utils.ReadFile(configPath)
	if err != nil {
		return checkResult{
			Name:       "mcp_config",
			Status:     "fail",
			Message:    "Could not read MCP config",
			Suggestion: fmt.Sprintf("Error reading %s: %v", configPath, err),
			IsCritical: true,
		}
	}

	var config struct {
		MCPServers map[string]struct {
			Command string   `json:"command"`
			Args    []string `json:"args"`
		} `json:"mcpServers"`
	}
	if err := json.Unmarshal(data, &config); err != nil {
		return checkResult{
			Name:       "mcp_config",
			Status:     "fail",
			Message:    "MCP config is not valid JSON",
			Suggestion: fmt.Sprintf("Error parsing %s: %v", configPath, err),
			IsCritical: true,
		}
	}

	entry, ok := config.MCPServers["otlp-timeline"]
	if !ok {
		return checkResult{
			Name:       "mcp_config",
			Status:     "warn",
			Message:    fmt.Sprintf("MCP config found: %s", configPath),
			Suggestion: "Config has no 'otlp-timeline' server entry",
		}
	}
	if !slices.Contains(entry.Args, "--mcp") {
		return checkResult{
			Name:       "mcp_config",
			Status:     "fail",
			Message:    fmt.Sprintf("MCP config found: %s", configPath),
			Suggestion: `The otlp-timeline entry must pass "--mcp", e.g. "args": ["serve", "--mcp"]`,
			IsCritical: true,
		}
	}

	executable, _ := utils.Executable()
	absExecutable, _ := filepath.Abs(executable)
	if entry.Command != "" && entry.Command != absExecutable {
		return checkResult{
			Name:    "mcp_config",
			Status:  "warn",
			Message: fmt.Sprintf("MCP config found: %s", configPath),
			Suggestion: fmt.Sprintf("Configured command (%s) differs from current binary (%s)",
				entry.Command, absExecutable),
		}
	}

	return checkResult{
		Name:    "mcp_config",
		Status:  "pass",
		Message: fmt.Sprintf("MCP config found: %s", configPath),
	}
}

// Check 3: otlp-timeline config files parse and name existing directories
func checkTimelineConfig(utils fsUtils) checkResult {
	var paths []string
	if cwd, err := utils.Getwd(); err == nil && cwd != "" {
		paths = append(paths, filepath.Join(cwd, projectConfigName))
	}
	if home, err := utils.UserHomeDir(); err == nil && home != "" {
		paths = append(paths, filepath.Join(home, ".config", "otlp-timeline", "config.json"))
	}

	var found []string
	var missing []string
	for _, p := range paths {
		if _, err := utils.Stat(p); err != nil {
			continue
		}
		data, err := utils.ReadFile(p)
		if err != nil {
			return checkResult{
				Name:       "timeline_config",
				Status:     "fail",
				Message:    fmt.Sprintf("Could not read %s", p),
				Suggestion: fmt.Sprintf("Error: %v", err),
				IsCritical: true,
			}
		}
		var cfg Config
		if err := json.Unmarshal(data, &cfg); err != nil {
			return checkResult{
				Name:       "timeline_config",
				Status:     "fail",
				Message:    fmt.Sprintf("Config %s is not valid JSON", p),
				Suggestion: fmt.Sprintf("Error: %v", err),
				IsCritical: true,
			}
		}
		found = append(found, p)
		for _, dir := range cfg.WatchDirs {
			if _, err := utils.Stat(dir); err != nil {
				missing = append(missing, dir)
			}
		}
	}

	switch {
	case len(found) == 0:
		return checkResult{
			Name:    "timeline_config",
			Status:  "pass",
			Message: "No otlp-timeline config files, using defaults",
		}
	case len(missing) > 0:
		return checkResult{
			Name:       "timeline_config",
			Status:     "warn",
			Message:    fmt.Sprintf("Config loaded: %s", strings.Join(found, ", ")),
			Suggestion: fmt.Sprintf("Watch directories do not exist yet: %s", strings.Join(missing, ", ")),
		}
	default:
		return checkResult{
			Name:    "timeline_config",
			Status:  "pass",
			Message: fmt.Sprintf("Config loaded: %s", strings.Join(found, ", ")),
		}
	}
}

// Check 4: otel-cli availability
func checkOtelCLI(utils fsUtils) checkResult {
	if path, err := utils.LookPath("otel-cli"); err == nil {
		return checkResult{
			Name:    "otel_cli",
			Status:  "pass",
			Message: fmt.Sprintf("Optional: otel-cli found at %s", path),
		}
	}
	return checkResult{
		Name:    "otel_cli",
		Status:  "warn",
		Message: "Optional: otel-cli not found",
		Suggestion: `otel-cli is handy for sending test spans to the receiver.
  Install with: go install github.com/tobert/otel-cli@latest`,
	}
}

// getMCPConfigPaths returns possible MCP config file paths for various agents
func getMCPConfigPaths(utils fsUtils) []string {
	homeDir, err := utils.UserHomeDir()
	if err != nil {
		return nil
	}

	var paths []string
	if cwd, _ := utils.Getwd(); cwd != "" {
		paths = append(paths,
			filepath.Join(cwd, ".gemini", "settings.json"),
			filepath.Join(cwd, ".mcp.json"),
		)
	}

	switch runtime.GOOS {
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData == "" {
			appData = filepath.Join(homeDir, "AppData", "Roaming")
		}
		paths = append(paths, filepath.Join(appData, "mcp", "mcp_settings.json"))
	default:
		paths = append(paths, filepath.Join(homeDir, ".config", "mcp", "mcp_settings.json"))
	}

	return paths
}

func firstExisting(utils fsUtils, paths []string) string {
	for _, p := range paths {
		if _, err := utils.Stat(p); err == nil {
			return p
		}
	}
	return ""
}
