// Package pipeline ties the payment flow to the analysis run: a session
// submits payment, a confirmation event triggers exactly one analysis, and
// the finished result can be rendered and archived. Archival failures never
// invalidate a completed analysis.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"auditgate/internal/analysis"
	"auditgate/internal/chain"
	"auditgate/internal/payment"
	"auditgate/internal/report"
)

var (
	// ErrNoSource means no source text has been submitted for this session.
	ErrNoSource = errors.New("pipeline: no source submitted")

	// ErrAlreadyTriggered means the confirmation for this hash was a duplicate
	// and no stored result is available to share.
	ErrAlreadyTriggered = errors.New("pipeline: analysis already triggered for this transaction")

	// ErrNoResult means no completed analysis exists yet.
	ErrNoResult = errors.New("pipeline: no analysis result available")
)

// Analyzer runs the structured analysis. Satisfied by *analysis.Client.
type Analyzer interface {
	Analyze(ctx context.Context, sourceText string) (*analysis.Result, error)
}

// Archiver pins a rendered report. Satisfied by *report.Archiver.
type Archiver interface {
	Archive(ctx context.Context, document, subjectName string) (report.Artifact, error)
}

// Status is a point-in-time snapshot of a session.
type Status struct {
	SessionID    string
	PaymentState payment.State
	Processing   bool
	HasResult    bool
	ContentID    string
}

// Pipeline orchestrates one analysis session.
type Pipeline struct {
	sessionID string
	machine   *payment.Machine
	analyzer  Analyzer
	archiver  Archiver
	logger    *zap.Logger

	flight singleflight.Group

	mu         sync.Mutex
	source     string
	processing bool
	result     *analysis.Result
	resultHash string
	artifact   *report.Artifact
}

// New creates a session pipeline. archiver may be nil when archival is not
// configured; ArchiveReport then reports the missing configuration.
func New(machine *payment.Machine, analyzer Analyzer, archiver Archiver, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	id := uuid.NewString()
	return &Pipeline{
		sessionID: id,
		machine:   machine,
		analyzer:  analyzer,
		archiver:  archiver,
		logger:    logger.With(zap.String("session", id)),
	}
}

// SessionID returns the session identifier.
func (p *Pipeline) SessionID() string { return p.sessionID }

// Status returns the current session snapshot.
func (p *Pipeline) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := Status{
		SessionID:    p.sessionID,
		PaymentState: p.machine.State(),
		Processing:   p.processing,
		HasResult:    p.result != nil,
	}
	if p.artifact != nil {
		s.ContentID = p.artifact.ContentID
	}
	return s
}

// Processing reports whether an analysis run is currently executing.
func (p *Pipeline) Processing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.processing
}

// State returns the payment flow position.
func (p *Pipeline) State() payment.State {
	return p.machine.State()
}

// Result returns the completed analysis, or ErrNoResult.
func (p *Pipeline) Result() (*analysis.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.result == nil {
		return nil, ErrNoResult
	}
	return p.result, nil
}

// Artifact returns the archived artifact, or nil if none was produced yet.
func (p *Pipeline) Artifact() *report.Artifact {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.artifact
}

// Submit validates the source locally, then runs the payment leg: the token
// approval flow when mode is token, followed by the charge transaction. The
// analysis itself waits for OnConfirmed.
func (p *Pipeline) Submit(ctx context.Context, sourceText string, mode chain.PaymentMode) error {
	if err := analysis.ValidateRequest(sourceText); err != nil {
		return err
	}

	p.mu.Lock()
	p.source = sourceText
	p.mu.Unlock()

	if mode == chain.ModeToken {
		if err := p.machine.Approve(ctx, sourceText); err != nil {
			return err
		}
	}
	if err := p.machine.Pay(ctx, mode); err != nil {
		return err
	}

	tx := p.machine.Transaction()
	p.logger.Info("payment submitted, awaiting confirmation",
		zap.String("hash", tx.Hash), zap.String("mode", string(mode)))
	return nil
}

// OnConfirmed handles an on-chain confirmation event for hash. The first
// confirmation claims the analysis trigger and runs the analysis; duplicate
// or concurrent confirmations for the same hash share the single run (or its
// stored result) instead of starting another.
func (p *Pipeline) OnConfirmed(ctx context.Context, hash string) (*analysis.Result, error) {
	// The trigger claim lives inside the flight so concurrent confirmations
	// collapse onto whichever call executes: it claims, runs the analysis,
	// and the rest share its return value.
	v, err, _ := p.flight.Do(hash, func() (interface{}, error) {
		if !p.machine.Confirm(hash) {
			if res := p.storedResult(hash); res != nil {
				return res, nil
			}
			return nil, ErrAlreadyTriggered
		}
		return p.runAnalysis(ctx, hash)
	})
	if err != nil {
		return nil, err
	}
	return v.(*analysis.Result), nil
}

// AnalyzePrepaid runs analysis against an already-confirmed payment reference
// without driving the payment leg. Used when payment was settled out of band.
// The once-per-reference guarantee holds across calls.
func (p *Pipeline) AnalyzePrepaid(ctx context.Context, sourceText, paymentRef string) (*analysis.Result, error) {
	if err := analysis.ValidateRequest(sourceText); err != nil {
		return nil, err
	}
	if strings.TrimSpace(paymentRef) == "" {
		return nil, fmt.Errorf("pipeline: payment reference required")
	}

	p.mu.Lock()
	p.source = sourceText
	p.mu.Unlock()

	v, err, _ := p.flight.Do(paymentRef, func() (interface{}, error) {
		if res := p.storedResult(paymentRef); res != nil {
			return res, nil
		}
		return p.runAnalysis(ctx, paymentRef)
	})
	if err != nil {
		return nil, err
	}
	return v.(*analysis.Result), nil
}

// ArchiveReport renders the completed result and uploads it. The error is
// informational only: a failed upload leaves the result and the rendered
// document intact, and the call can simply be repeated.
func (p *Pipeline) ArchiveReport(ctx context.Context, variant report.Variant) (report.Artifact, error) {
	result, err := p.Result()
	if err != nil {
		return report.Artifact{}, err
	}
	if p.archiver == nil {
		return report.Artifact{RenderedDocument: report.Render(result, variant)},
			fmt.Errorf("pipeline: no archiver configured")
	}

	document := report.Render(result, variant)
	artifact, err := p.archiver.Archive(ctx, document, result.SubjectName)
	if err != nil {
		p.logger.Warn("report archival failed, result unaffected", zap.Error(err))
		return artifact, err
	}

	p.mu.Lock()
	p.artifact = &artifact
	p.mu.Unlock()
	return artifact, nil
}

// runAnalysis executes the analysis for the claimed payment reference and
// stores the result on success.
func (p *Pipeline) runAnalysis(ctx context.Context, paymentRef string) (*analysis.Result, error) {
	p.mu.Lock()
	source := p.source
	p.processing = true
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.processing = false
		p.mu.Unlock()
	}()

	if strings.TrimSpace(source) == "" {
		return nil, ErrNoSource
	}

	p.logger.Info("analysis triggered", zap.String("payment_ref", paymentRef))
	result, err := p.analyzer.Analyze(ctx, source)
	if err != nil {
		return nil, err
	}
	result.PaymentRef = paymentRef

	p.mu.Lock()
	p.result = result
	p.resultHash = paymentRef
	p.mu.Unlock()
	return result, nil
}

func (p *Pipeline) storedResult(hash string) *analysis.Result {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.result != nil && p.resultHash == hash {
		return p.result
	}
	return nil
}
