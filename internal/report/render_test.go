package report

import (
	"strings"
	"testing"

	"auditgate/internal/analysis"
)

func sampleResult() *analysis.Result {
	return &analysis.Result{
		SubjectName: "Vault",
		ScoreHint:   64,
		Assessment:  "Two exploitable paths and one gas concern.",
		Findings: []analysis.Finding{
			{Severity: "High", Title: "Unchecked transfer", Description: "ERC20 return ignored.", LineRefs: []int{88}},
			{Severity: "Critical", Title: "Reentrancy in withdraw", Description: "External call before state update.", LineRefs: []int{41, 57}},
			{Severity: "Gas", Title: "Storage read in loop", Description: "Cache length locally."},
		},
		SeverityCounts: map[analysis.Severity]int{
			analysis.SeverityCritical: 1,
			analysis.SeverityHigh:     1,
			analysis.SeverityGas:      1,
		},
		PaymentRef: "0xabc123",
	}
}

func TestRender_Deterministic(t *testing.T) {
	result := sampleResult()
	first := Render(result, VariantViewer)
	for i := 0; i < 5; i++ {
		if got := Render(result, VariantViewer); got != first {
			t.Fatal("identical input produced different bytes")
		}
	}
}

func TestRender_SectionsInSeverityOrder(t *testing.T) {
	doc := Render(sampleResult(), VariantViewer)

	critical := strings.Index(doc, "Reentrancy in withdraw")
	high := strings.Index(doc, "Unchecked transfer")
	gas := strings.Index(doc, "Storage read in loop")
	if critical < 0 || high < 0 || gas < 0 {
		t.Fatalf("findings missing from document:\n%s", doc)
	}
	if !(critical < high && high < gas) {
		t.Errorf("findings not ordered by severity: critical=%d high=%d gas=%d", critical, high, gas)
	}
}

func TestRender_CarriesPaymentRefAndCounts(t *testing.T) {
	doc := Render(sampleResult(), VariantViewer)
	if !strings.Contains(doc, "0xabc123") {
		t.Error("payment reference missing")
	}
	if !strings.Contains(doc, "| Critical | 1 |") {
		t.Error("severity table missing or malformed")
	}
	// Every severity bucket appears, including empty ones.
	if !strings.Contains(doc, "| Medium | 0 |") {
		t.Error("empty buckets must still render")
	}
	if !strings.Contains(doc, "Lines: 41, 57") {
		t.Error("line references missing")
	}
}

func TestRender_VariantsDiffer(t *testing.T) {
	result := sampleResult()
	viewer := Render(result, VariantViewer)
	archive := Render(result, VariantArchive)
	if viewer == archive {
		t.Fatal("variants rendered identical bytes; content IDs would collide")
	}
	if !strings.HasPrefix(archive, viewer) {
		t.Error("archive variant should extend the viewer document, not rewrite it")
	}
	if !strings.Contains(archive, "Print or save") {
		t.Error("archive variant missing print affordance")
	}
}

func TestRender_NoFindings(t *testing.T) {
	result := &analysis.Result{
		Assessment:     "Clean.",
		ScoreHint:      98,
		SeverityCounts: analysis.Aggregate(nil, nil),
	}
	doc := Render(result, VariantViewer)
	if !strings.Contains(doc, "No findings reported.") {
		t.Error("empty findings list needs an explicit statement")
	}
	if !strings.Contains(doc, "Unnamed Contract") {
		t.Error("missing subject name fallback")
	}
}
