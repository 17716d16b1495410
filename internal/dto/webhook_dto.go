package dto

// AdCompletionWebhook is posted by the ad network after a rewarded view.
// Signature is hex HMAC-SHA256 of SessionID with the shared callback secret.
type AdCompletionWebhook struct {
	SessionID     string `json:"session_id"`
	TransactionID string `json:"transaction_id"`
	Signature     string `json:"signature"`
}
