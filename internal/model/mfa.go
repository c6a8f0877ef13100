package model

import "time"

// MFAChallenge is an outstanding request for an MFA delivery option or a
// one-time code. There is at most one per bank.
type MFAChallenge struct {
	BankID      string    `json:"bankId"`
	Options     []string  `json:"options,omitempty"`
	Option      *int      `json:"option,omitempty"`
	Code        string    `json:"code,omitempty"`
	RequestedAt time.Time `json:"requestedAt"`
}

// MFAUpdate carries the fields an out-of-band party fills in on a challenge.
type MFAUpdate struct {
	Options []string `json:"options,omitempty"`
	Option  *int     `json:"option,omitempty"`
	Code    *string  `json:"code,omitempty"`
}
