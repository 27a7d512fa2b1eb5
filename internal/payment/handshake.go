package payment

import (
	"context"
	"time"

	"github.com/potato-weijie-li/chiral-network-sub000/internal/errs"
)

// DefaultMinBalanceMultiplier is the factor applied to the committed
// amount when checking the downloader's on-chain balance (spec
// §4.6).
const DefaultMinBalanceMultiplier = 1.2

// ReputationChecker reports a peer's current trust score, used to
// enforce the reputation floor in HandshakeValidator.
type ReputationChecker interface {
	Score(ctx context.Context, from SignedTransactionMessage) (float64, error)
}

// BalanceChecker reports a peer's current on-chain balance, used to
// enforce the minimum-balance requirement in HandshakeValidator.
type BalanceChecker interface {
	Balance(ctx context.Context, id string) (uint64, error)
}

// HandshakeOptions configures HandshakeValidator.Validate (spec
// §4.6's "seeder MAY require a SignedTransactionMessage").
type HandshakeOptions struct {
	MinTransferTime      time.Duration
	ReputationFloor      float64
	MinBalanceMultiplier float64
}

// HandshakeValidator implements the seeder-side pre-transfer check
// described in spec §4.6: signature, deadline slack, reputation floor,
// and balance sufficiency. Any failing check rejects the transfer.
type HandshakeValidator struct {
	Reputation ReputationChecker
	Balance    BalanceChecker
}

// Validate runs every seeder-side check against msg and returns the
// first failure encountered, or nil if the transfer may proceed.
func (v *HandshakeValidator) Validate(ctx context.Context, msg *SignedTransactionMessage, opts HandshakeOptions) error {
	if err := msg.Verify(); err != nil {
		return err
	}

	minTransfer := opts.MinTransferTime
	if minTransfer <= 0 {
		minTransfer = 0
	}
	if msg.Deadline.Before(time.Now().Add(minTransfer)) {
		return errs.New(errs.KindConfigurationError, "transaction deadline does not allow the minimum transfer time")
	}

	if v.Reputation != nil {
		score, err := v.Reputation.Score(ctx, *msg)
		if err != nil {
			return errs.Wrap(err, "check downloader reputation")
		}
		if score < opts.ReputationFloor {
			return errs.New(errs.KindBlacklisted, "downloader reputation below floor")
		}
	}

	if v.Balance != nil {
		multiplier := opts.MinBalanceMultiplier
		if multiplier <= 0 {
			multiplier = DefaultMinBalanceMultiplier
		}
		balance, err := v.Balance.Balance(ctx, msg.From.String())
		if err != nil {
			return errs.Wrap(err, "check downloader balance")
		}
		required := uint64(float64(msg.Amount) * multiplier)
		if balance < required {
			return errs.New(errs.KindQuotaExceeded, "downloader balance below required multiplier of committed amount")
		}
	}

	return nil
}
