package ledger

import (
	"errors"
	"fmt"
	"slices"
)

var ErrNotSuccessor = errors.New("ledger is not a successor")

// VerifySuccessor checks that next can follow prev for the same wallet:
// transaction ids, key images and addresses only ever grow, and time never
// moves backwards.
func VerifySuccessor(prev, next *Ledger) error {
	if prev == nil {
		return nil
	}
	if next == nil {
		return fmt.Errorf("%w: missing ledger", ErrNotSuccessor)
	}

	if prev.PublicAddress.Address != next.PublicAddress.Address {
		return fmt.Errorf("%w: primary address changed from %s to %s",
			ErrNotSuccessor, prev.PublicAddress, next.PublicAddress)
	}
	if prev.CheckedAt.Network != next.CheckedAt.Network {
		return fmt.Errorf("%w: network changed from %s to %s",
			ErrNotSuccessor, prev.CheckedAt.Network, next.CheckedAt.Network)
	}
	if next.CheckedAt.Compare(prev.CheckedAt) < 0 {
		return fmt.Errorf("%w: checked at %s before %s",
			ErrNotSuccessor, next.CheckedAt, prev.CheckedAt)
	}

	if missing := prev.TransactionIDs().Diff(next.TransactionIDs()); len(missing) > 0 {
		return fmt.Errorf("%w: %d transactions disappeared, e.g. %s",
			ErrNotSuccessor, len(missing), slices.Min(missing.ToSlice()))
	}
	if missing := prev.KeyImages().Diff(next.KeyImages()); len(missing) > 0 {
		return fmt.Errorf("%w: %d key images disappeared, e.g. %s",
			ErrNotSuccessor, len(missing), slices.Min(missing.ToSlice()))
	}
	if missing := prev.Addresses().Diff(next.Addresses()); len(missing) > 0 {
		return fmt.Errorf("%w: %d addresses disappeared, e.g. %s",
			ErrNotSuccessor, len(missing), slices.Min(missing.ToSlice()))
	}

	return nil
}
