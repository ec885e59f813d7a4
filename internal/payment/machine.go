package payment

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"auditgate/internal/chain"
)

var (
	// ErrPaymentInFlight means a payment transaction is already submitted or
	// awaiting confirmation. The request is rejected before any wallet call.
	ErrPaymentInFlight = errors.New("payment: transaction already in flight")

	// ErrNoWallet means no wallet is connected for this session.
	ErrNoWallet = errors.New("payment: no wallet connected")

	// ErrEmptySource means there is nothing to analyze, so nothing to pay for.
	ErrEmptySource = errors.New("payment: no source text provided")

	// ErrAllowanceTimeout means the approval transaction went through but the
	// allowance mapping has not become visible within the polling window. This
	// is distinct from a wallet rejection: the user should retry verification,
	// not re-approve.
	ErrAllowanceTimeout = errors.New("payment: approval submitted but allowance not yet visible on-chain")

	// ErrInsufficientAllowance means the on-chain allowance no longer covers
	// the current price. Always determined from a fresh chain read.
	ErrInsufficientAllowance = errors.New("payment: on-chain allowance below required amount")

	// ErrBadState means the requested transition is not legal from the
	// current state.
	ErrBadState = errors.New("payment: operation not valid in current state")
)

// Config wires a Machine to its session.
type Config struct {
	Owner    string // connected wallet address; empty means not connected
	Contract string // payment contract (the allowance spender)
	Token    string // ERC-20 token used in token mode

	AllowanceAttempts int           // poll budget for allowance visibility
	AllowanceInterval time.Duration // fixed sleep between polls
}

// Machine is the payment state machine for one session. Methods are safe for
// concurrent use; the single-flight guard and the once-per-hash trigger set
// are explicit fields here, never ambient globals.
type Machine struct {
	cfg      Config
	wallet   chain.Wallet
	reader   chain.Reader
	verifier *chain.AllowanceVerifier
	logger   *zap.Logger
	now      func() time.Time

	mu        sync.Mutex
	state     State
	quote     *chain.PaymentQuote
	tx        *chain.PaymentTransaction
	lastErr   error
	triggered map[string]bool // confirmed hashes whose analysis already ran
}

// NewMachine creates an idle payment machine.
func NewMachine(cfg Config, wallet chain.Wallet, reader chain.Reader, logger *zap.Logger) *Machine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.AllowanceAttempts <= 0 {
		cfg.AllowanceAttempts = 10
	}
	if cfg.AllowanceInterval <= 0 {
		cfg.AllowanceInterval = 1500 * time.Millisecond
	}
	return &Machine{
		cfg:       cfg,
		wallet:    wallet,
		reader:    reader,
		verifier:  chain.NewAllowanceVerifier(reader, logger),
		logger:    logger,
		now:       time.Now,
		state:     StateIdle,
		triggered: make(map[string]bool),
	}
}

// State returns the current flow position.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// LastError returns the error that moved the machine into StateError, if any.
func (m *Machine) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// Transaction returns the current payment transaction, or nil.
func (m *Machine) Transaction() *chain.PaymentTransaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tx
}

// Approve runs the token-mode approval leg: submit an ERC-20 approval for the
// current price, then wait for the allowance mapping to reflect it.
// Idle → Approving → AwaitingAllowance → ReadyToPay (or Error).
func (m *Machine) Approve(ctx context.Context, sourceText string) error {
	if strings.TrimSpace(sourceText) == "" {
		return ErrEmptySource
	}
	if m.cfg.Owner == "" || m.wallet == nil {
		return ErrNoWallet
	}

	m.mu.Lock()
	if m.state != StateIdle {
		m.mu.Unlock()
		return fmt.Errorf("%w: approve from %s", ErrBadState, m.state)
	}
	m.state = StateApproving
	m.mu.Unlock()

	quote, err := m.reader.CurrentPrice(ctx, chain.ModeToken)
	if err != nil {
		return m.fail(fmt.Errorf("fetch price: %w", err))
	}
	if !quote.Valid() {
		return m.fail(fmt.Errorf("fetch price: zero or incomplete quote"))
	}

	call := chain.ApproveCall(m.cfg.Token, m.cfg.Contract, quote.Amount)
	hash, err := m.wallet.SendTransaction(ctx, call)
	if err != nil {
		return m.fail(fmt.Errorf("approval: %w", err))
	}

	m.mu.Lock()
	m.quote = &quote
	m.state = StateAwaitingAllowance
	m.mu.Unlock()
	m.logger.Info("approval submitted", zap.String("hash", hash))

	ok, err := m.verifier.Await(ctx, m.cfg.Owner, m.cfg.Contract, quote.Amount,
		m.cfg.AllowanceAttempts, m.cfg.AllowanceInterval)
	if err != nil {
		return m.fail(fmt.Errorf("allowance wait: %w", err))
	}
	if !ok {
		return m.fail(ErrAllowanceTimeout)
	}

	m.mu.Lock()
	m.state = StateReadyToPay
	m.mu.Unlock()
	return nil
}

// Pay submits the charge transaction. Legal from Idle (native mode) or
// ReadyToPay (token mode, after Approve). A request while a payment is
// already in flight is rejected before any wallet interaction.
func (m *Machine) Pay(ctx context.Context, mode chain.PaymentMode) error {
	if m.cfg.Owner == "" || m.wallet == nil {
		return ErrNoWallet
	}

	m.mu.Lock()
	if m.state.InFlight() {
		m.mu.Unlock()
		return ErrPaymentInFlight
	}
	if m.state != StateIdle && m.state != StateReadyToPay {
		m.mu.Unlock()
		return fmt.Errorf("%w: pay from %s", ErrBadState, m.state)
	}
	m.state = StatePaying
	m.mu.Unlock()

	// The quote snapshot from the approval leg is advisory only; the price is
	// always re-fetched immediately before payment.
	quote, err := m.reader.CurrentPrice(ctx, mode)
	if err != nil {
		return m.fail(fmt.Errorf("fetch price: %w", err))
	}
	if !quote.Valid() {
		return m.fail(fmt.Errorf("fetch price: zero or incomplete quote"))
	}

	if mode == chain.ModeToken {
		if err := m.verifyAllowance(ctx, quote.Amount); err != nil {
			return m.fail(err)
		}
	}

	call := chain.PaymentCall(m.cfg.Contract, quote)
	hash, err := m.wallet.SendTransaction(ctx, call)
	if err != nil {
		// A wallet decline or RPC failure discards the snapshot entirely;
		// retry starts from a fresh quote.
		return m.fail(fmt.Errorf("payment: %w", err))
	}

	m.mu.Lock()
	m.quote = &quote
	m.tx = &chain.PaymentTransaction{Hash: hash, SubmittedAt: m.now()}
	m.state = StateAwaitingConfirmation
	m.mu.Unlock()
	m.logger.Info("payment submitted", zap.String("hash", hash), zap.String("mode", string(mode)))
	return nil
}

// verifyAllowance re-reads the allowance from the chain; the machine never
// trusts its own earlier snapshot for this check.
func (m *Machine) verifyAllowance(ctx context.Context, required *big.Int) error {
	granted, err := m.reader.Allowance(ctx, m.cfg.Owner, m.cfg.Contract)
	if err != nil {
		return fmt.Errorf("verify allowance: %w", err)
	}
	state := chain.AllowanceState{
		Owner:    m.cfg.Owner,
		Spender:  m.cfg.Contract,
		Granted:  granted,
		Required: required,
	}
	if !state.Sufficient() {
		return fmt.Errorf("%w: granted %s, required %s",
			ErrInsufficientAllowance, granted.String(), required.String())
	}
	return nil
}

// Confirm records an on-chain confirmation for hash. It returns true exactly
// once per hash: the first confirmation event moves the machine to Complete
// and claims the analysis trigger; duplicate events return false.
func (m *Machine) Confirm(hash string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.tx == nil || m.tx.Hash != hash {
		m.logger.Warn("confirmation for unknown transaction", zap.String("hash", hash))
		return false
	}

	m.tx.MarkConfirmed(m.now())
	if m.state == StateAwaitingConfirmation {
		m.state = StateComplete
	}

	if m.triggered[hash] {
		return false
	}
	m.triggered[hash] = true
	return true
}

// Triggered reports whether analysis has already been claimed for hash.
func (m *Machine) Triggered(hash string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.triggered[hash]
}

// Reset returns an errored or completed machine to Idle. The quote and
// transaction snapshots are discarded; the per-hash trigger set survives so
// a replayed confirmation cannot re-run analysis after a reset.
func (m *Machine) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateError && m.state != StateComplete {
		return fmt.Errorf("%w: reset from %s", ErrBadState, m.state)
	}
	m.state = StateIdle
	m.quote = nil
	m.tx = nil
	m.lastErr = nil
	return nil
}

// fail moves the machine to Error and discards the quote snapshot.
func (m *Machine) fail(err error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.state.Terminal() {
		m.state = StateError
	}
	m.quote = nil
	m.lastErr = err
	m.logger.Warn("payment flow failed", zap.String("state", string(m.state)), zap.Error(err))
	return err
}
