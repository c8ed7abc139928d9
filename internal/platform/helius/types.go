package helius

// EnhancedTransaction is one parsed transaction from the enhanced
// transactions endpoint.
type EnhancedTransaction struct {
	Signature       string           `json:"signature"`
	Timestamp       int64            `json:"timestamp"` // unix seconds
	Type            string           `json:"type"`
	Source          string           `json:"source"`
	TransactionErr  any              `json:"transactionError"`
	TokenTransfers  []TokenTransfer  `json:"tokenTransfers"`
	NativeTransfers []NativeTransfer `json:"nativeTransfers"`
}

// TokenTransfer is one SPL token movement inside an enhanced transaction.
type TokenTransfer struct {
	FromUserAccount string  `json:"fromUserAccount"`
	ToUserAccount   string  `json:"toUserAccount"`
	Mint            string  `json:"mint"`
	TokenAmount     float64 `json:"tokenAmount"`
}

// NativeTransfer is one SOL movement inside an enhanced transaction.
// Amounts are in lamports.
type NativeTransfer struct {
	FromUserAccount string `json:"fromUserAccount"`
	ToUserAccount   string `json:"toUserAccount"`
	Amount          int64  `json:"amount"`
}

// webhookRequest is the create-webhook request body.
type webhookRequest struct {
	WebhookURL       string   `json:"webhookURL"`
	TransactionTypes []string `json:"transactionTypes"`
	AccountAddresses []string `json:"accountAddresses"`
	WebhookType      string   `json:"webhookType"`
}

// webhookResponse is the provider's webhook representation.
type webhookResponse struct {
	WebhookID        string   `json:"webhookID"`
	WebhookURL       string   `json:"webhookURL"`
	TransactionTypes []string `json:"transactionTypes"`
	AccountAddresses []string `json:"accountAddresses"`
	WebhookType      string   `json:"webhookType"`
}

// lamportsPerSOL converts native transfer amounts to SOL.
const lamportsPerSOL = 1_000_000_000
