// Package audit checks that the console and the backend agree with each
// other and that the console stays inside the brand palette.
package audit

import (
	"bufio"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"regexp"
	"sort"
	"strings"
)

// Severity ranks an issue.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
)

// Severities lists every severity, most severe first.
var Severities = []Severity{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow}

// Categories of issues.
const (
	CategoryRoutes = "API routes"
	CategoryColors = "Brand colors"
	CategoryAssets = "Assets"
)

// Issue is one finding.
type Issue struct {
	Location    string
	Line        int
	Severity    Severity
	Category    string
	Description string
	Fix         string
}

// Inputs is everything the audit looks at.
type Inputs struct {
	// QueryKeys are the paths the console reads. {id} marks a parameter.
	QueryKeys []string
	// Routes are the backend route patterns.
	Routes []string
	// MatchPath reports whether a route pattern serves a path.
	MatchPath func(pattern, path string) bool
	// Assets holds the console templates and stylesheets.
	Assets fs.FS
	// Palette lists the allowed hex colours.
	Palette []string
}

// Report is the outcome of Run.
type Report struct {
	Issues       []Issue
	FilesScanned int
	PassRate     float64
}

// Count returns the number of issues with severity s.
func (r Report) Count(s Severity) int {
	n := 0
	for _, is := range r.Issues {
		if is.Severity == s {
			n++
		}
	}
	return n
}

// Passed reports whether the pass rate is 100%.
func (r Report) Passed() bool {
	return r.PassRate >= 100
}

// Run executes every check.
func Run(in Inputs) Report {
	var r Report
	r.Issues = append(r.Issues, checkQueryKeys(in)...)
	r.Issues = append(r.Issues, checkRoutes(in.Routes)...)
	colorIssues, scanned := checkColors(in.Assets, in.Palette)
	r.Issues = append(r.Issues, colorIssues...)
	r.FilesScanned = scanned
	r.PassRate = passRate(r.Issues)

	slog.Info("audit.Run: finished", "issues", len(r.Issues), "files", r.FilesScanned, "pass_rate", r.PassRate)
	return r
}

// passRate is 100 without issues; otherwise the share of issues that are
// neither critical nor high.
func passRate(issues []Issue) float64 {
	if len(issues) == 0 {
		return 100
	}
	blocking := 0
	for _, is := range issues {
		if is.Severity == SeverityCritical || is.Severity == SeverityHigh {
			blocking++
		}
	}
	rate := float64(len(issues)-blocking) / float64(len(issues)) * 100
	if rate < 0 {
		return 0
	}
	return rate
}

func checkQueryKeys(in Inputs) []Issue {
	var issues []Issue
	for _, key := range in.QueryKeys {
		if !strings.HasPrefix(key, "/api/") {
			issues = append(issues, Issue{
				Location:    key,
				Severity:    SeverityMedium,
				Category:    CategoryRoutes,
				Description: "Query key does not start with /api/",
				Fix:         "Prefix the key with /api/",
			})
		}
		served := false
		for _, pattern := range in.Routes {
			if in.MatchPath != nil && in.MatchPath(pattern, key) {
				served = true
				break
			}
		}
		if !served {
			issues = append(issues, Issue{
				Location:    key,
				Severity:    SeverityHigh,
				Category:    CategoryRoutes,
				Description: "No backend route serves query key " + key,
				Fix:         "Register the route or correct the key",
			})
		}
	}
	return issues
}

func checkRoutes(routes []string) []Issue {
	var issues []Issue
	for _, pattern := range routes {
		if !strings.HasPrefix(pattern, "/api/") {
			issues = append(issues, Issue{
				Location:    pattern,
				Severity:    SeverityMedium,
				Category:    CategoryRoutes,
				Description: "Backend route is outside /api/",
				Fix:         "Move the route under /api/",
			})
		}
	}
	return issues
}

var hexColor = regexp.MustCompile(`#(?:[0-9A-Fa-f]{6}|[0-9A-Fa-f]{3})\b`)

// scannedExt lists the asset files whose colours are checked.
var scannedExt = []string{".html", ".css"}

func checkColors(assets fs.FS, palette []string) ([]Issue, int) {
	if assets == nil {
		return nil, 0
	}
	allowed := make(map[string]bool, len(palette))
	for _, c := range palette {
		allowed[strings.ToUpper(c)] = true
	}

	var issues []Issue
	scanned := 0
	err := fs.WalkDir(assets, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !hasScannedExt(path) {
			return nil
		}
		f, err := assets.Open(path)
		if err != nil {
			issues = append(issues, Issue{Location: path, Severity: SeverityCritical, Category: CategoryAssets,
				Description: "Asset cannot be read: " + err.Error(), Fix: "Check the embedded files"})
			return nil
		}
		defer f.Close()
		scanned++

		sc := bufio.NewScanner(f)
		line := 0
		for sc.Scan() {
			line++
			for _, c := range hexColor.FindAllString(sc.Text(), -1) {
				if allowed[strings.ToUpper(c)] {
					continue
				}
				issues = append(issues, Issue{
					Location:    path,
					Line:        line,
					Severity:    SeverityMedium,
					Category:    CategoryColors,
					Description: "Non-brand color " + c,
					Fix:         "Use one of " + strings.Join(palette, ", "),
				})
			}
		}
		if err := sc.Err(); err != nil {
			issues = append(issues, Issue{Location: path, Severity: SeverityCritical, Category: CategoryAssets,
				Description: "Asset cannot be scanned: " + err.Error(), Fix: "Check the embedded files"})
		}
		return nil
	})
	if err != nil {
		slog.Error("audit.checkColors: walking assets failed", "error", err)
		issues = append(issues, Issue{Location: ".", Severity: SeverityCritical, Category: CategoryAssets,
			Description: "Assets cannot be listed: " + err.Error(), Fix: "Check the embedded files"})
	}
	return issues, scanned
}

func hasScannedExt(path string) bool {
	for _, ext := range scannedExt {
		if strings.HasSuffix(path, ext) {
			return true
		}
	}
	return false
}

// WriteReport prints the report grouped by severity, most severe first.
func WriteReport(w io.Writer, r Report) error {
	bw := bufio.NewWriter(w)
	rule := strings.Repeat("=", 60)
	fmt.Fprintln(bw, rule)
	fmt.Fprintln(bw, "CAREDESK AUDIT REPORT")
	fmt.Fprintln(bw, rule)
	fmt.Fprintf(bw, "Pass rate: %.1f%%\n", r.PassRate)
	fmt.Fprintf(bw, "Files scanned: %d\n\n", r.FilesScanned)
	for _, s := range Severities {
		fmt.Fprintf(bw, "  %-9s %d\n", s+":", r.Count(s))
	}
	fmt.Fprintln(bw)

	if len(r.Issues) == 0 {
		fmt.Fprintln(bw, "No issues found.")
		return bw.Flush()
	}

	grouped := make(map[Severity][]Issue, len(Severities))
	for _, is := range r.Issues {
		grouped[is.Severity] = append(grouped[is.Severity], is)
	}
	for _, s := range Severities {
		issues := grouped[s]
		if len(issues) == 0 {
			continue
		}
		sort.SliceStable(issues, func(i, j int) bool {
			if issues[i].Location != issues[j].Location {
				return issues[i].Location < issues[j].Location
			}
			return issues[i].Line < issues[j].Line
		})
		fmt.Fprintf(bw, "%s ISSUES (%d):\n", s, len(issues))
		fmt.Fprintln(bw, strings.Repeat("-", 40))
		for i, is := range issues {
			fmt.Fprintf(bw, "%d. %s:%d\n", i+1, is.Location, is.Line)
			fmt.Fprintf(bw, "   Category: %s\n", is.Category)
			fmt.Fprintf(bw, "   Issue: %s\n", is.Description)
			fmt.Fprintf(bw, "   Fix: %s\n\n", is.Fix)
		}
	}
	return bw.Flush()
}
