package dto

import "time"

// AccountURI binds the account path parameter.
type AccountURI struct {
	AccountKey string `uri:"account_key" binding:"required,max=64"`
}

// OrderURI binds the account and order path parameters.
type OrderURI struct {
	AccountKey string `uri:"account_key" binding:"required,max=64"`
	OrderNbr   string `uri:"order_nbr" binding:"required,max=64"`
}

// SyncQuery holds the query flags of a sync trigger.
// Async hands the run to the scheduler and returns the queued job.
type SyncQuery struct {
	Purge bool `form:"purge"`
	Async bool `form:"async"`
}

// PurgeRequest is the body of a purge trigger. A nil cutoff means now minus the window.
type PurgeRequest struct {
	Cutoff *time.Time `json:"cutoff"`
}

// JobsQuery filters the scheduler history.
type JobsQuery struct {
	Limit      int    `form:"limit" binding:"omitempty,min=1,max=100"`
	AccountKey string `form:"account_key" binding:"omitempty,max=64"`
}
