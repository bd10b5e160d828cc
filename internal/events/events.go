package events

// Loyalty event types written to the outbox for downstream consumers
// (dashboards, notifications).
const (
	EventTransactionSynced  = "transaction_synced"
	EventPointsEarned       = "points_earned"
	EventPointsRedeemed     = "points_redeemed"
	EventBillingCycleClosed = "billing_cycle_closed"
	EventBillingCycleIssued = "billing_cycle_issued"
)

// PointsPayload captures the minimal data needed to fan out a points change.
type PointsPayload struct {
	EntryID  string `json:"entry_id"`
	UserID   string `json:"user_id"`
	Amount   int64  `json:"amount"`
	Source   string `json:"source,omitempty"`
	SourceID string `json:"source_id,omitempty"`
}

// ToMap converts a payload into an outbox-friendly map.
func (p PointsPayload) ToMap() map[string]any {
	payload := map[string]any{
		"entry_id": p.EntryID,
		"user_id":  p.UserID,
		"amount":   p.Amount,
	}
	if p.Source != "" {
		payload["source"] = p.Source
	}
	if p.SourceID != "" {
		payload["source_id"] = p.SourceID
	}
	return payload
}

// CyclePayload captures the minimal data needed to fan out a cycle close.
type CyclePayload struct {
	CycleID     string `json:"cycle_id"`
	MerchantID  string `json:"merchant_id"`
	TotalAmount int64  `json:"total_amount"`
}

// ToMap converts a payload into an outbox-friendly map.
func (p CyclePayload) ToMap() map[string]any {
	return map[string]any{
		"cycle_id":     p.CycleID,
		"merchant_id":  p.MerchantID,
		"total_amount": p.TotalAmount,
	}
}
