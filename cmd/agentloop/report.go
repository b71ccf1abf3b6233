package main

import (
	"fmt"
	"sort"

	"github.com/agentloop/agentloop/internal/session"
)

// Run prints a per-tool summary of a persisted performance log.
func (r *ReportCmd) Run() error {
	log, err := session.LoadPerformanceLog(r.Path)
	if err != nil {
		return err
	}

	summary := log.SummarizeByTool()
	if len(summary) == 0 {
		fmt.Println(dimStyle.Render("no tool calls recorded"))
		return nil
	}

	tools := make([]string, 0, len(summary))
	for name := range summary {
		tools = append(tools, name)
	}
	sort.Strings(tools)

	fmt.Println(headerStyle.Render(fmt.Sprintf("%d records across %d tools", log.Len(), len(tools))))
	for _, name := range tools {
		st := summary[name]
		line := fmt.Sprintf("%-20s calls %3d  ok %3d  failed %3d  success %5.1f%%  avg %6.1fms",
			name, st.TotalCalls, st.SuccessCount, st.FailureCount, st.SuccessRate*100, st.AvgLatencyMs)
		if st.FailureCount > 0 {
			fmt.Println(failStyle.Render(line))
		} else {
			fmt.Println(okStyle.Render(line))
		}
	}

	// Per-kind failure breakdown helps spot systematic rejections.
	kinds := make(map[string]int)
	for _, rec := range log.Records() {
		if rec.ErrorKind != "" {
			kinds[rec.ErrorKind]++
		}
	}
	if len(kinds) > 0 {
		names := make([]string, 0, len(kinds))
		for k := range kinds {
			names = append(names, k)
		}
		sort.Strings(names)
		fmt.Println(headerStyle.Render("failures by kind"))
		for _, k := range names {
			fmt.Println(dimStyle.Render(fmt.Sprintf("  %-20s %d", k, kinds[k])))
		}
	}
	return nil
}

// Run prints version information.
func (v *VersionCmd) Run() error {
	fmt.Printf("agentloop %s (%s, built %s)\n", version, commit, buildTime)
	return nil
}
