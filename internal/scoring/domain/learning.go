package domain

import "time"

// ClientLearning is the aggregated per-client history maintained after each
// completed proposal and consumed as a prior on the next evaluation.
type ClientLearning struct {
	ClientID             string    `json:"client_id"`
	TotalOperations      int       `json:"total_operations"`
	SuccessfulOperations int       `json:"successful_operations"`
	AvgDaysToPayroll     float64   `json:"avg_days_to_payroll"`
	LastRiskScore        int       `json:"last_risk_score"`
	AutoApprove          bool      `json:"auto_approve"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// RecordEvaluation folds a completed evaluation into the aggregate.
// autoApproveFloor is the successful-operation count a client needs before the
// auto-approve flag may be set; a low-risk score is also required.
func (cl *ClientLearning) RecordEvaluation(score int, successful bool, yieldDays int, autoApproveFloor int) {
	cl.TotalOperations++
	if successful {
		cl.SuccessfulOperations++
	}
	if yieldDays > 0 {
		// Running average over successful settlements.
		n := float64(cl.TotalOperations)
		cl.AvgDaysToPayroll = (cl.AvgDaysToPayroll*(n-1) + float64(yieldDays)) / n
	}
	cl.LastRiskScore = score
	cl.AutoApprove = cl.SuccessfulOperations >= autoApproveFloor && score < MediumThreshold
	cl.UpdatedAt = time.Now()
}
