package models

import "time"

// CommandStatus tracks a remote command through its lifecycle.
type CommandStatus string

const (
	CommandPendingConfirmation CommandStatus = "PendingConfirmation"
	CommandConfirmed           CommandStatus = "Confirmed"
	CommandRejected            CommandStatus = "Rejected"
	CommandExecuting           CommandStatus = "Executing"
	CommandCompleted           CommandStatus = "Completed"
	CommandFailed              CommandStatus = "Failed"
)

// CommandExecution tracks one remote command end to end. The relay
// drives only the PendingConfirmation -> Confirmed/Rejected transition;
// Executing/Completed/Failed happen on the executing client and are
// reported, not driven, by the relay.
type CommandExecution struct {
	ID          string        `json:"id"`
	Command     string        `json:"command"`
	ClientID    string        `json:"clientId"`
	RequesterID string        `json:"requesterId"`
	Status      CommandStatus `json:"status"`
	Output      string        `json:"output,omitempty"`
	Error       string        `json:"error,omitempty"`
	RequestedAt time.Time     `json:"requestedAt"`
	ConfirmedAt *time.Time    `json:"confirmedAt,omitempty"`
	ExecutedAt  *time.Time    `json:"executedAt,omitempty"`
}
