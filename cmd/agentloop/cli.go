// Package main defines the CLI structure using kong.
package main

import "github.com/alecthomas/kong"

// CLI defines the command-line interface.
type CLI struct {
	Run     RunCmd     `cmd:"" help:"Run a query through the orchestration loop"`
	Report  ReportCmd  `cmd:"" help:"Pretty-print a persisted tool performance log"`
	Version VersionCmd `cmd:"" help:"Show version information"`
}

// RunCmd runs one session for a query.
type RunCmd struct {
	Query      string `arg:"" help:"Task or question to solve"`
	Profile    string `help:"Strategy profile: conservative|exploratory|fallback"`
	Config     string `help:"Config file path (TOML)"`
	Tools      string `help:"YAML manifest with additional tool schemas"`
	ToolLogDir string `help:"Directory for the persisted tool performance log"`
	EventsURL  string `help:"NATS URL to mirror session events to"`
	Trace      bool   `help:"Print the step trace after the answer"`
	NoInput    bool   `help:"Answer human escalations with an empty response instead of prompting"`
}

// ReportCmd summarizes a persisted performance log.
type ReportCmd struct {
	Path string `arg:"" help:"Path to a <session>_tool_perf.json file"`
}

// VersionCmd shows version information.
type VersionCmd struct{}

// kongVars returns variables for kong (version info).
func kongVars() kong.Vars {
	return kong.Vars{
		"version": version,
	}
}
