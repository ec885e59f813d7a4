package chain

import (
	"context"
	"math/big"
	"time"

	"go.uber.org/zap"
)

// AllowanceVerifier waits for an on-chain approval to become visible in the
// allowance mapping. It polls on a fixed interval; an approval transaction
// can be mined before the mapping read reflects it, so a bounded number of
// re-reads is the whole job here.
type AllowanceVerifier struct {
	reader Reader
	logger *zap.Logger
}

// NewAllowanceVerifier creates a verifier over the given reader.
func NewAllowanceVerifier(reader Reader, logger *zap.Logger) *AllowanceVerifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AllowanceVerifier{reader: reader, logger: logger}
}

// Await polls the allowance until granted >= required or maxAttempts reads
// have been made. It returns false on exhaustion rather than an error so
// callers branch explicitly into a "not yet confirmed, retry" state. The
// context is honored at every wait; cancellation returns ctx.Err().
func (v *AllowanceVerifier) Await(ctx context.Context, owner, spender string, required *big.Int, maxAttempts int, interval time.Duration) (bool, error) {
	if maxAttempts <= 0 {
		return false, nil
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return false, err
		}

		granted, err := v.reader.Allowance(ctx, owner, spender)
		if err != nil {
			// A failed read consumes an attempt; the chain may simply be slow.
			v.logger.Warn("allowance read failed",
				zap.Int("attempt", attempt),
				zap.Error(err))
		} else {
			state := AllowanceState{Owner: owner, Spender: spender, Granted: granted, Required: required}
			if state.Sufficient() {
				v.logger.Debug("allowance confirmed",
					zap.Int("attempt", attempt),
					zap.String("granted", granted.String()))
				return true, nil
			}
			v.logger.Debug("allowance not yet visible",
				zap.Int("attempt", attempt),
				zap.String("granted", granted.String()),
				zap.String("required", required.String()))
		}

		if attempt == maxAttempts {
			break
		}

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false, ctx.Err()
		case <-timer.C:
		}
	}

	return false, nil
}
