package shop

import "errors"

// Purchase and equip failures. Callers match them with errors.Is.
var (
	ErrItemNotFound      = errors.New("item not found")
	ErrNotPurchasable    = errors.New("item is not purchasable")
	ErrAlreadyOwned      = errors.New("item already owned")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrPaymentFailed     = errors.New("payment failed")
	ErrNotOwned          = errors.New("item not owned")
	ErrNotEquippable     = errors.New("item cannot be equipped")
)

// Message returns the text shown to the user for a shop error.
func Message(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrItemNotFound):
		return "That item isn't in the shop."
	case errors.Is(err, ErrNotPurchasable):
		return "This one can't be bought. Keep leveling up to unlock it."
	case errors.Is(err, ErrAlreadyOwned):
		return "You already own this."
	case errors.Is(err, ErrInsufficientFunds):
		return "Not enough coins yet. Finish a few more focus sessions."
	case errors.Is(err, ErrPaymentFailed):
		return "Your coins changed while paying. Nothing was charged, please try again."
	case errors.Is(err, ErrNotOwned):
		return "You need to buy this before you can wear it."
	case errors.Is(err, ErrNotEquippable):
		return "Only cosmetics can be worn."
	}
	return "Something went wrong with the shop."
}
