package models

import "time"

// TransactionType is the direction of a balance change.
type TransactionType string

const (
	TransactionSpend TransactionType = "spend"
	TransactionEarn  TransactionType = "earn"
)

// TransactionCategory explains why the balance changed.
type TransactionCategory string

const (
	CategoryPurchase        TransactionCategory = "purchase"
	CategoryReward          TransactionCategory = "reward"
	CategoryRefund          TransactionCategory = "refund"
	CategoryAdmin           TransactionCategory = "admin"
	CategoryMembershipBonus TransactionCategory = "membership_bonus"
)

// TransactionStatus of an audit record.
type TransactionStatus string

const (
	TransactionCompleted TransactionStatus = "completed"
	TransactionRefunded  TransactionStatus = "refunded"
)

// Transaction is the append-only audit record of one balance mutation.
// BalanceAfter is BalanceBefore minus Amount for spend and plus Amount for earn.
type Transaction struct {
	ID            string                 `json:"id"`
	UserID        string                 `json:"userId"`
	Type          TransactionType        `json:"type"`
	Category      TransactionCategory    `json:"category"`
	Amount        int64                  `json:"amount"`
	Description   string                 `json:"description,omitempty"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
	BalanceBefore int64                  `json:"balanceBefore"`
	BalanceAfter  int64                  `json:"balanceAfter"`
	Status        TransactionStatus      `json:"status"`
	CreatedAt     time.Time              `json:"createdAt"`
}

// Signed returns the amount with the sign of its type.
func (t Transaction) Signed() int64 {
	if t.Type == TransactionSpend {
		return -t.Amount
	}
	return t.Amount
}

// BalanceChange is returned by coin mutations.
type BalanceChange struct {
	UserID          string `json:"userId"`
	TransactionID   string `json:"transactionId,omitempty"`
	PreviousBalance int64  `json:"previousBalance"`
	NewBalance      int64  `json:"newBalance"`
}

// PaymentMethod used by a purchase.
type PaymentMethod string

const (
	PaymentUnlockTicket PaymentMethod = "unlock_ticket"
	PaymentCoins        PaymentMethod = "coins"
)

// UnlockResult is returned by a character unlock purchase.
type UnlockResult struct {
	UserID          string        `json:"userId"`
	CharacterID     string        `json:"characterId"`
	PaymentMethod   PaymentMethod `json:"paymentMethod"`
	Cost            int64         `json:"cost"`
	PermanentUnlock bool          `json:"permanentUnlock"`
	TransactionID   string        `json:"transactionId,omitempty"`
	PreviousBalance int64         `json:"previousBalance"`
	NewBalance      int64         `json:"newBalance"`
	RemainingCards  int64         `json:"remainingCards"`
}

// AssetPackage is a purchasable bundle stored under asset_packages/{sku}.
type AssetPackage struct {
	SKU         string    `json:"sku"`
	DisplayName string    `json:"displayName"`
	Category    string    `json:"category,omitempty"`
	AssetType   AssetType `json:"assetType"`
	Quantity    int64     `json:"quantity"`
	FinalPrice  int64     `json:"finalPrice"`
	Status      string    `json:"status"`
}

// PackagePurchaseResult is returned by an asset package purchase.
type PackagePurchaseResult struct {
	UserID           string    `json:"userId"`
	SKU              string    `json:"sku"`
	AssetType        AssetType `json:"assetType"`
	Quantity         int64     `json:"quantity"`
	Cost             int64     `json:"cost"`
	TransactionID    string    `json:"transactionId"`
	PreviousBalance  int64     `json:"previousBalance"`
	NewBalance       int64     `json:"newBalance"`
	PreviousQuantity int64     `json:"previousQuantity"`
	NewQuantity      int64     `json:"newQuantity"`
}

// PurchaseResult is the union returned by the generic purchase entry point.
type PurchaseResult struct {
	Unlock  *UnlockResult          `json:"unlock,omitempty"`
	Package *PackagePurchaseResult `json:"package,omitempty"`
}
