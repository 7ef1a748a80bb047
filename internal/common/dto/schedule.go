package dto

import "github.com/amoylab/hostlink/internal/scheduler"

// SyncSchedulesRequest replaces the schedules of an action
type SyncSchedulesRequest struct {
	ActionID string            `json:"actionId" binding:"required"`
	Inputs   []scheduler.Input `json:"inputs"`
}

// SyncSchedulesResponse counts what the sync changed
type SyncSchedulesResponse struct {
	Created int `json:"created"`
	Deleted int `json:"deleted"`
	Skipped int `json:"skipped"`
}
