package shop

import (
	"errors"
	"fmt"
)

// Line describes how one category of items is bought.
type Line[T any] struct {
	Category Category
	Lookup   func(id string) (T, bool)
	Price    func(T) int64
	// Validate checks eligibility before any money moves. A non-nil error
	// that is not already a shop error is reported as ErrNotPurchasable.
	Validate func(T) error
	// Owned reports existing ownership. Nil means the line is repeatable.
	Owned func(id string) bool
	// Grant applies the item after a successful debit and returns the ids
	// granted. It must not fail; everything that could fail belongs in
	// Validate.
	Grant func(T) []string
}

// Receipt describes a completed purchase.
type Receipt struct {
	ItemID        string   `json:"itemId"`
	Category      Category `json:"category"`
	Price         int64    `json:"price"`
	Granted       []string `json:"granted"`
	PurchaseCount int      `json:"purchaseCount"`
}

// purchase runs the purchase protocol for id on line. The caller must hold
// the manager's purchase lock.
//
// Steps: lookup, eligibility, ownership, affordability, debit, grant. The
// ownership set is untouched unless the debit succeeded.
func purchase[T any](m *Manager, line Line[T], id string) (Receipt, error) {
	item, ok := line.Lookup(id)
	if !ok {
		return Receipt{}, fmt.Errorf("%w: %s", ErrItemNotFound, id)
	}
	if line.Validate != nil {
		if err := line.Validate(item); err != nil {
			if !isShopError(err) {
				err = fmt.Errorf("%w: %v", ErrNotPurchasable, err)
			}
			return Receipt{}, err
		}
	}
	if line.Owned != nil && line.Owned(id) {
		return Receipt{}, fmt.Errorf("%w: %s", ErrAlreadyOwned, id)
	}

	price := line.Price(item)
	if price > 0 {
		if !m.wallet.CanAfford(price) {
			return Receipt{}, fmt.Errorf("%w: %s costs %d", ErrInsufficientFunds, id, price)
		}
		if !m.wallet.DebitFor(price, "purchase:"+id) {
			return Receipt{}, fmt.Errorf("%w: %s", ErrPaymentFailed, id)
		}
	}

	granted := line.Grant(item)
	m.inv.PurchaseCount++
	return Receipt{
		ItemID:        id,
		Category:      line.Category,
		Price:         price,
		Granted:       granted,
		PurchaseCount: m.inv.PurchaseCount,
	}, nil
}

func isShopError(err error) bool {
	for _, target := range []error{
		ErrItemNotFound, ErrNotPurchasable, ErrAlreadyOwned,
		ErrInsufficientFunds, ErrPaymentFailed, ErrNotOwned, ErrNotEquippable,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
