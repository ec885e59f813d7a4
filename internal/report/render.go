// Package report renders an analysis result into a markdown artifact and
// optionally pins it to content-addressed storage. Rendering is pure and
// deterministic; archival failures never invalidate the underlying result.
package report

import (
	"fmt"
	"strings"

	"auditgate/internal/analysis"
)

// Variant selects the rendered flavor. The archive variant embeds a print
// affordance block; since the identifier of content-addressed storage is
// derived from the bytes, switching variants yields a different content ID.
type Variant string

const (
	VariantViewer  Variant = "viewer"
	VariantArchive Variant = "archive"
)

// Artifact is the rendered document plus, after a successful upload, its
// content identifiers.
type Artifact struct {
	RenderedDocument string
	ContentID        string
	ContentURL       string
}

// Render produces the markdown report for a finalized result. Identical
// input always yields identical bytes: severity sections follow the fixed
// enum order and findings keep their input order within a section.
func Render(result *analysis.Result, variant Variant) string {
	var b strings.Builder

	name := result.SubjectName
	if name == "" {
		name = "Unnamed Contract"
	}

	fmt.Fprintf(&b, "# Security Analysis: %s\n\n", name)
	fmt.Fprintf(&b, "**Score:** %d/100 (service-reported)\n\n", result.ScoreHint)
	if result.PaymentRef != "" {
		fmt.Fprintf(&b, "**Payment reference:** `%s`\n\n", result.PaymentRef)
	}

	b.WriteString("## Assessment\n\n")
	b.WriteString(strings.TrimSpace(result.Assessment))
	b.WriteString("\n\n")

	b.WriteString("## Severity Breakdown\n\n")
	b.WriteString("| Severity | Count |\n|---|---|\n")
	for _, sev := range analysis.Severities() {
		fmt.Fprintf(&b, "| %s | %d |\n", sev, result.SeverityCounts[sev])
	}
	b.WriteString("\n")

	b.WriteString("## Findings\n\n")
	if len(result.Findings) == 0 {
		b.WriteString("No findings reported.\n")
	}
	for _, sev := range analysis.Severities() {
		for _, f := range result.Findings {
			parsed, ok := analysis.ParseSeverity(f.Severity)
			if !ok || parsed != sev {
				continue
			}
			fmt.Fprintf(&b, "### [%s] %s\n\n", parsed, f.Title)
			if f.ID != "" {
				fmt.Fprintf(&b, "Reference: %s\n\n", f.ID)
			}
			b.WriteString(strings.TrimSpace(f.Description))
			b.WriteString("\n")
			if len(f.LineRefs) > 0 {
				refs := make([]string, len(f.LineRefs))
				for i, n := range f.LineRefs {
					refs[i] = fmt.Sprintf("%d", n)
				}
				fmt.Fprintf(&b, "\nLines: %s\n", strings.Join(refs, ", "))
			}
			b.WriteString("\n")
		}
	}

	if variant == VariantArchive {
		b.WriteString("---\n\n")
		b.WriteString("*This report is archived on content-addressed storage. ")
		b.WriteString("Print or save this page for your records.*\n")
	}

	return b.String()
}
