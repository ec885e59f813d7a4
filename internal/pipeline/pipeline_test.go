package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"auditgate/internal/analysis"
	"auditgate/internal/chain"
	"auditgate/internal/payment"
	"auditgate/internal/report"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeWallet struct {
	mu   sync.Mutex
	sent int
}

func (w *fakeWallet) SendTransaction(ctx context.Context, call chain.PreparedCall) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.sent++
	return fmt.Sprintf("0xhash%d", w.sent), nil
}

type fakeReader struct {
	price     *big.Int
	allowance *big.Int
}

func (r *fakeReader) CurrentPrice(ctx context.Context, mode chain.PaymentMode) (chain.PaymentQuote, error) {
	return chain.PaymentQuote{Amount: new(big.Int).Set(r.price), Mode: mode, Recipient: "0xrecipient"}, nil
}

func (r *fakeReader) PaymentMode(ctx context.Context) (chain.PaymentMode, error) {
	return chain.ModeNative, nil
}

func (r *fakeReader) Allowance(ctx context.Context, owner, spender string) (*big.Int, error) {
	return new(big.Int).Set(r.allowance), nil
}

func (r *fakeReader) Balance(ctx context.Context, owner string) (*big.Int, error) {
	return big.NewInt(0), nil
}

type fakeAnalyzer struct {
	calls int32
	delay time.Duration
	err   error
}

func (a *fakeAnalyzer) Analyze(ctx context.Context, sourceText string) (*analysis.Result, error) {
	atomic.AddInt32(&a.calls, 1)
	if a.delay > 0 {
		select {
		case <-time.After(a.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if a.err != nil {
		return nil, a.err
	}
	return &analysis.Result{
		SubjectName:    "Vault",
		ScoreHint:      80,
		Assessment:     "ok",
		Findings:       []analysis.Finding{{Severity: "Low", Title: "t", Description: "d"}},
		SeverityCounts: analysis.Aggregate([]analysis.Finding{{Severity: "Low"}}, nil),
	}, nil
}

type fakeArchiver struct {
	calls int
	fail  bool
}

func (a *fakeArchiver) Archive(ctx context.Context, document, subjectName string) (report.Artifact, error) {
	a.calls++
	if a.fail {
		return report.Artifact{RenderedDocument: document},
			&report.ArchiveError{Op: "upload", Status: 502, Err: errors.New("gateway down")}
	}
	return report.Artifact{
		RenderedDocument: document,
		ContentID:        "QmPinned",
		ContentURL:       "https://gateway.example.com/ipfs/QmPinned",
	}, nil
}

func newTestPipeline(analyzer Analyzer, archiver Archiver) (*Pipeline, *fakeWallet) {
	wallet := &fakeWallet{}
	reader := &fakeReader{price: big.NewInt(1000), allowance: big.NewInt(1000)}
	machine := payment.NewMachine(payment.Config{
		Owner:    "0xowner",
		Contract: "0xcontract",
		Token:    "0xtoken",
	}, wallet, reader, nil)
	return New(machine, analyzer, archiver, nil), wallet
}

func TestPipeline_NativeFlowEndToEnd(t *testing.T) {
	analyzer := &fakeAnalyzer{}
	p, wallet := newTestPipeline(analyzer, &fakeArchiver{})

	if err := p.Submit(context.Background(), "contract Vault {}", chain.ModeNative); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if wallet.sent != 1 {
		t.Fatalf("expected 1 wallet transaction, got %d", wallet.sent)
	}

	result, err := p.OnConfirmed(context.Background(), "0xhash1")
	if err != nil {
		t.Fatalf("OnConfirmed failed: %v", err)
	}
	if result.PaymentRef != "0xhash1" {
		t.Errorf("result not stamped with payment ref: %q", result.PaymentRef)
	}

	status := p.Status()
	if status.PaymentState != payment.StateComplete || !status.HasResult {
		t.Errorf("unexpected status: %+v", status)
	}
	if status.SessionID == "" {
		t.Error("session ID missing")
	}
}

func TestPipeline_DuplicateConfirmationRunsAnalysisOnce(t *testing.T) {
	analyzer := &fakeAnalyzer{}
	p, _ := newTestPipeline(analyzer, nil)

	if err := p.Submit(context.Background(), "contract Vault {}", chain.ModeNative); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	first, err := p.OnConfirmed(context.Background(), "0xhash1")
	if err != nil {
		t.Fatalf("first confirmation failed: %v", err)
	}
	second, err := p.OnConfirmed(context.Background(), "0xhash1")
	if err != nil {
		t.Fatalf("duplicate confirmation errored: %v", err)
	}
	if first != second {
		t.Error("duplicate confirmation did not share the stored result")
	}
	if got := atomic.LoadInt32(&analyzer.calls); got != 1 {
		t.Errorf("analysis ran %d times for one transaction", got)
	}
}

func TestPipeline_ConcurrentConfirmationsShareOneRun(t *testing.T) {
	analyzer := &fakeAnalyzer{delay: 50 * time.Millisecond}
	p, _ := newTestPipeline(analyzer, nil)

	if err := p.Submit(context.Background(), "contract Vault {}", chain.ModeNative); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	const n = 8
	var wg sync.WaitGroup
	results := make([]*analysis.Result, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = p.OnConfirmed(context.Background(), "0xhash1")
		}(i)
	}
	wg.Wait()

	if got := atomic.LoadInt32(&analyzer.calls); got != 1 {
		t.Fatalf("analysis ran %d times under concurrent confirmations", got)
	}
	succeeded := 0
	for i := 0; i < n; i++ {
		if errs[i] == nil && results[i] != nil {
			succeeded++
		} else if !errors.Is(errs[i], ErrAlreadyTriggered) {
			t.Errorf("goroutine %d: unexpected error %v", i, errs[i])
		}
	}
	if succeeded == 0 {
		t.Error("no confirmation received the result")
	}
}

func TestPipeline_UnknownHashDoesNotTrigger(t *testing.T) {
	analyzer := &fakeAnalyzer{}
	p, _ := newTestPipeline(analyzer, nil)

	if err := p.Submit(context.Background(), "contract Vault {}", chain.ModeNative); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	_, err := p.OnConfirmed(context.Background(), "0xunknown")
	if !errors.Is(err, ErrAlreadyTriggered) {
		t.Fatalf("expected ErrAlreadyTriggered for unknown hash, got %v", err)
	}
	if atomic.LoadInt32(&analyzer.calls) != 0 {
		t.Error("unknown hash triggered analysis")
	}
}

func TestPipeline_TokenFlowApprovesBeforePaying(t *testing.T) {
	analyzer := &fakeAnalyzer{}
	p, wallet := newTestPipeline(analyzer, nil)

	if err := p.Submit(context.Background(), "contract Vault {}", chain.ModeToken); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	// Approval plus payment.
	if wallet.sent != 2 {
		t.Errorf("expected 2 wallet transactions in token mode, got %d", wallet.sent)
	}
}

func TestPipeline_EmptySourceRejectedBeforePayment(t *testing.T) {
	analyzer := &fakeAnalyzer{}
	p, wallet := newTestPipeline(analyzer, nil)

	err := p.Submit(context.Background(), "  ", chain.ModeNative)
	if !errors.Is(err, analysis.ErrEmptySource) {
		t.Fatalf("expected ErrEmptySource, got %v", err)
	}
	if wallet.sent != 0 {
		t.Error("invalid request still reached the wallet")
	}
}

func TestPipeline_AnalysisFailureSurfacesAndResultAbsent(t *testing.T) {
	analyzer := &fakeAnalyzer{err: errors.New("service down")}
	p, _ := newTestPipeline(analyzer, nil)

	if err := p.Submit(context.Background(), "contract Vault {}", chain.ModeNative); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if _, err := p.OnConfirmed(context.Background(), "0xhash1"); err == nil {
		t.Fatal("expected analysis failure to surface")
	}
	if _, err := p.Result(); !errors.Is(err, ErrNoResult) {
		t.Errorf("expected ErrNoResult, got %v", err)
	}
}

func TestPipeline_PrepaidRunsWithoutWallet(t *testing.T) {
	analyzer := &fakeAnalyzer{}
	p, wallet := newTestPipeline(analyzer, nil)

	result, err := p.AnalyzePrepaid(context.Background(), "contract Vault {}", "0xprepaid")
	if err != nil {
		t.Fatalf("AnalyzePrepaid failed: %v", err)
	}
	if result.PaymentRef != "0xprepaid" {
		t.Errorf("payment ref = %q", result.PaymentRef)
	}
	if wallet.sent != 0 {
		t.Error("prepaid path touched the wallet")
	}

	// Same reference again: stored result, no second run.
	again, err := p.AnalyzePrepaid(context.Background(), "contract Vault {}", "0xprepaid")
	if err != nil || again != result {
		t.Errorf("repeat prepaid call did not reuse the result: %v", err)
	}
	if atomic.LoadInt32(&analyzer.calls) != 1 {
		t.Errorf("analysis ran %d times for one reference", analyzer.calls)
	}
}

func TestPipeline_ArchiveFailureIsNonFatal(t *testing.T) {
	analyzer := &fakeAnalyzer{}
	archiver := &fakeArchiver{fail: true}
	p, _ := newTestPipeline(analyzer, archiver)

	if err := p.Submit(context.Background(), "contract Vault {}", chain.ModeNative); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if _, err := p.OnConfirmed(context.Background(), "0xhash1"); err != nil {
		t.Fatalf("OnConfirmed failed: %v", err)
	}

	artifact, err := p.ArchiveReport(context.Background(), report.VariantArchive)
	if err == nil {
		t.Fatal("expected archive failure")
	}
	if artifact.RenderedDocument == "" {
		t.Error("failed archive lost the rendered document")
	}
	// The analysis result is untouched by the failed upload.
	if _, err := p.Result(); err != nil {
		t.Errorf("result lost after archive failure: %v", err)
	}

	// Retry alone succeeds without re-running analysis.
	archiver.fail = false
	artifact, err = p.ArchiveReport(context.Background(), report.VariantArchive)
	if err != nil {
		t.Fatalf("archive retry failed: %v", err)
	}
	if artifact.ContentID != "QmPinned" {
		t.Errorf("ContentID = %q", artifact.ContentID)
	}
	if atomic.LoadInt32(&analyzer.calls) != 1 {
		t.Error("archive retry re-ran the analysis")
	}
	if got := p.Status().ContentID; got != "QmPinned" {
		t.Errorf("status missing content ID: %q", got)
	}
}
