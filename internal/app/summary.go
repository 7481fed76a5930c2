package app

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/randomizedcoder/go-backend-launcher/internal/metrics"
)

const banner = "═══════════════════════════════════════════════════════════════════"

// PrintExitSummary writes a summary of the run to w.
func (a *App) PrintExitSummary(w io.Writer) {
	summary := a.metrics.GenerateSummary()

	fmt.Fprintln(w)
	fmt.Fprintln(w, banner)
	fmt.Fprintln(w, "                 go-backend-launcher Exit Summary")
	fmt.Fprintln(w, banner)
	fmt.Fprintf(w, "Run Duration:           %s\n", formatDuration(summary.Duration))
	fmt.Fprintf(w, "Final State:            %s\n", summary.State)
	fmt.Fprintf(w, "Backend:                %s\n", a.builder.Name())
	fmt.Fprintf(w, "Health Endpoint:        %s\n", a.sup.Endpoint())
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Lifecycle:")
	fmt.Fprintf(w, "  Launches:             %d\n", summary.Launches)
	fmt.Fprintf(w, "  Became Ready:         %d\n", summary.Ready)
	fmt.Fprintf(w, "  Startup Failures:     %d\n", summary.Failures)
	fmt.Fprintf(w, "  Crashes:              %d\n", summary.Crashes)
	fmt.Fprintf(w, "  Forced Kills:         %d\n", summary.ForceKills)
	if summary.LastStartup > 0 {
		fmt.Fprintf(w, "  Last Startup:         %s\n", summary.LastStartup.Round(time.Millisecond))
	}
	fmt.Fprintln(w)

	if probes := summary.ProbesHealthy + summary.ProbesUnhealthy; probes > 0 {
		fmt.Fprintln(w, "Health Probes:")
		fmt.Fprintf(w, "  Reachable:            %d\n", summary.ProbesHealthy)
		fmt.Fprintf(w, "  Unreachable:          %d\n", summary.ProbesUnhealthy)
		fmt.Fprintf(w, "  Latency P50:          %s\n", summary.ProbeP50.Round(time.Microsecond))
		fmt.Fprintf(w, "  Latency P95:          %s\n", summary.ProbeP95.Round(time.Microsecond))
		fmt.Fprintf(w, "  Latency P99:          %s\n", summary.ProbeP99.Round(time.Microsecond))
		fmt.Fprintln(w)
	}

	if len(summary.ExitCodes) > 0 {
		fmt.Fprintln(w, "Exit Codes:")
		for _, code := range slices.Sorted(maps.Keys(summary.ExitCodes)) {
			fmt.Fprintf(w, "  %-20s %d\n", metrics.ExitCodeLabel(code), summary.ExitCodes[code])
		}
		fmt.Fprintln(w)
	}

	if errs := a.stderr.CountErrors(); len(errs) > 0 {
		fmt.Fprintln(w, "Backend Errors:")
		for _, pattern := range slices.Sorted(maps.Keys(errs)) {
			fmt.Fprintf(w, "  %-20s %d\n", strings.TrimSpace(pattern), errs[pattern])
		}
		fmt.Fprintln(w)
	}

	if a.server != nil {
		fmt.Fprintf(w, "Metrics endpoint was: http://%s/metrics\n", a.server.Addr())
	}
	fmt.Fprintln(w, banner)
}

// formatDuration formats a duration as HH:MM:SS.
func formatDuration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}
