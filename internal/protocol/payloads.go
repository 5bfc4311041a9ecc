package protocol

// AuthResponse is the AuthenticationResponse payload.
type AuthResponse struct {
	Success  bool   `json:"success"`
	ClientID string `json:"clientId"`
}

// CommandDecision is the CommandConfirmation payload: the target's
// approve/reject verdict for one pending command.
type CommandDecision struct {
	CommandID string `json:"commandId"`
	Approved  bool   `json:"approved"`
}

// GroupJoinRequest is the ChatGroupJoin payload.
type GroupJoinRequest struct {
	GroupID string `json:"groupId"`
}

// GroupAck acknowledges ChatGroupCreate and ChatGroupJoin.
type GroupAck struct {
	Success bool   `json:"success"`
	GroupID string `json:"groupId"`
}

// ErrorInfo is the Error payload.
type ErrorInfo struct {
	Error string `json:"error"`
}
