package chatapi

// Exchange is one user message and the assistant response it produced.
// Field names follow the chat service's wire format.
type Exchange struct {
	UserMessage string `json:"user_message"`
	Response    string `json:"response"`
}

// SubmitRequest carries a user message to the chat service.
type SubmitRequest struct {
	Message    string `json:"message"`
	Email      string `json:"email"`
	Name       string `json:"name"`
	Picture    string `json:"picture"`
	SessionID  string `json:"session_id"`
	NewSession bool   `json:"new_session"`
}

// SubmitResponse is the chat service's answer to a submission. SessionID is
// the session the exchange was recorded under, which is authoritative when the
// submission used a freshly created session.
type SubmitResponse struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
}
