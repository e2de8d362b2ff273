package model

// PrivacyPolicy is the counterpart's receipt-visibility settings. It controls
// whether receipt glyphs are rendered for messages sent by the local user;
// the underlying receipt state is computed and stored regardless.
type PrivacyPolicy struct {
	ReadReceipts   bool `json:"read_receipts"`
	DeliveryStatus bool `json:"delivery_status"`
}

// ShowReceipts reports whether any receipt state may be rendered.
func (p PrivacyPolicy) ShowReceipts() bool {
	return p.ReadReceipts || p.DeliveryStatus
}
