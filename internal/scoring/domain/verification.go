package domain

import "github.com/shopspring/decimal"

// Outcome is the tri-state result of an external verification call. A timeout
// or transport failure maps to OutcomeFailed, which scores exactly like a
// negative answer: the engine never treats a missing check as a pass.
type Outcome string

const (
	OutcomeConfirmed   Outcome = "confirmed"
	OutcomeUnconfirmed Outcome = "unconfirmed"
	OutcomeFailed      Outcome = "failed"
)

// BureauResult is the credit-bureau check response.
type BureauResult struct {
	Outcome          Outcome  `json:"outcome"`
	HasCreditHistory bool     `json:"has_credit_history"`
	Score            int      `json:"score"`
	Restrictions     []string `json:"restrictions"`
}

// RegistryResult is the public-employment-registry check response.
type RegistryResult struct {
	Outcome        Outcome         `json:"outcome"`
	PublicEmployee bool            `json:"public_employee"`
	Employer       string          `json:"employer"`
	Salary         decimal.Decimal `json:"salary"`
}

// BankAccountResult is the titularity/blacklist check response.
type BankAccountResult struct {
	Outcome       Outcome `json:"outcome"`
	IsOwner       bool    `json:"is_owner"`
	IsBlacklisted bool    `json:"is_blacklisted"`
}

// HasHistory reports a positively confirmed credit history.
func (b BureauResult) HasHistory() bool {
	return b.Outcome == OutcomeConfirmed && b.HasCreditHistory
}

// AffiliationConfirmed reports a positively confirmed public employment.
func (r RegistryResult) AffiliationConfirmed() bool {
	return r.Outcome == OutcomeConfirmed && r.PublicEmployee
}

// OwnerConfirmed reports positively confirmed account titularity.
func (b BankAccountResult) OwnerConfirmed() bool {
	return b.Outcome == OutcomeConfirmed && b.IsOwner
}

// Blacklisted reports confirmed blacklist membership. A failed check does not
// assert membership; the unconfirmed titularity factor already penalizes it.
func (b BankAccountResult) Blacklisted() bool {
	return b.Outcome == OutcomeConfirmed && b.IsBlacklisted
}
