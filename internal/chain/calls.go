package chain

import (
	"encoding/hex"
	"math/big"
	"strings"
)

// Selectors for the two state-changing calls the payment flow submits.
const (
	selApprove      = "095ea7b3" // approve(address,uint256)
	selPayWithToken = "8e1a55fc" // payForAnalysis()
	selPayNative    = "b6b55f25" // payForAnalysisNative()
)

// ApproveCall builds the ERC-20 approval granting spender the given amount.
func ApproveCall(token, spender string, amount *big.Int) PreparedCall {
	data := selApprove + leftPadAddress(spender) + leftPadBig(amount)
	return PreparedCall{To: token, Value: big.NewInt(0), Data: mustHex(data)}
}

// PaymentCall builds the charge transaction for the given quote. In native
// mode the amount rides as call value; in token mode the contract pulls the
// pre-approved tokens.
func PaymentCall(contract string, quote PaymentQuote) PreparedCall {
	if quote.Mode == ModeNative {
		return PreparedCall{To: contract, Value: new(big.Int).Set(quote.Amount), Data: mustHex(selPayNative)}
	}
	return PreparedCall{To: contract, Value: big.NewInt(0), Data: mustHex(selPayWithToken)}
}

// leftPadBig encodes a non-negative big integer as a 32-byte ABI word.
func leftPadBig(v *big.Int) string {
	h := ""
	if v != nil {
		h = hex.EncodeToString(v.Bytes())
	}
	if len(h) > 64 {
		h = h[len(h)-64:]
	}
	return strings.Repeat("0", 64-len(h)) + h
}

func mustHex(s string) []byte {
	b, err := hex.DecodeString(s)
	if err != nil {
		panic("chain: bad calldata constant: " + err.Error())
	}
	return b
}
