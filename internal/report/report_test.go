package report

import (
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"github.com/stretchr/testify/assert"

	"github.com/Norgate-AV/pbuild/internal/compiler"
	"github.com/Norgate-AV/pbuild/internal/executor"
	"github.com/Norgate-AV/pbuild/internal/target"
)

func init() {
	lipgloss.SetColorProfile(termenv.Ascii)
}

func TestRender(t *testing.T) {
	r := executor.Report{
		Pass:     1,
		Duration: 1500 * time.Millisecond,
		Results: []compiler.Result{
			{Target: target.Target{ID: "desktop/patcher"}, Success: true, Duration: 120 * time.Millisecond},
			{
				Target: target.Target{ID: "desktop/renderer"},
				Diagnostics: []compiler.Diagnostic{
					{Severity: compiler.SeverityError, File: "src/a.ts", Line: 1, Column: 6, Message: "first"},
					{Severity: compiler.SeverityError, File: "src/b.ts", Line: 2, Column: 3, Message: "second"},
				},
			},
			{
				Target:  target.Target{ID: "browser"},
				Success: true,
				Cached:  true,
				Diagnostics: []compiler.Diagnostic{
					{Severity: compiler.SeverityWarning, Message: "careful"},
				},
			},
		},
	}

	out := Render(r)

	assert.Contains(t, out, "✓ desktop/patcher  120ms")
	assert.Contains(t, out, "✗ desktop/renderer 2 errors")
	assert.Contains(t, out, "✓ browser          cached")

	// Every diagnostic is shown
	assert.Contains(t, out, "src/a.ts:1:6: error: first")
	assert.Contains(t, out, "src/b.ts:2:3: error: second")
	assert.Contains(t, out, "warning: careful")

	assert.Contains(t, out, "1 of 3 targets failed (2 built in 1.5s)")
}

func TestSummary_AllBuilt(t *testing.T) {
	r := executor.Report{
		Duration: 2 * time.Second,
		Results:  []compiler.Result{{Success: true}, {Success: true}},
	}

	assert.Equal(t, "2 targets built in 2s", Summary(r))
}

func TestPlugins(t *testing.T) {
	out := Plugins([]Plugin{
		{Name: "Alpha", Path: "plugins/alpha", Native: true},
		{Name: "Beta", Path: "userplugins/beta", User: true},
	})

	lines := strings.Split(out, "\n")
	assert.Equal(t, "Alpha  plugins/alpha  native", lines[0])
	assert.Equal(t, "Beta   userplugins/beta  user", lines[1])
	assert.Contains(t, out, "2 plugins, 1 native module")

	assert.Contains(t, Plugins(nil), "No plugins found")
}
