package models

// Wire message types exchanged over the sync websocket.
// Client -> server messages carry an "action"; server -> client messages
// carry a "type". Every message is routed by the client-chosen
// subscription id, so no other correlation state is needed.

// Client -> server actions.
const (
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"
)

// Server -> client message types.
const (
	MsgSubscribed       = "subscribed"
	MsgUnsubscribed     = "unsubscribed"
	MsgError            = "error"
	MsgSnapshot         = "snapshot"
	MsgUpsert           = "upsert"
	MsgDelete           = "delete"
	MsgWorkspaceChanged = "workspace_changed"
)

// Structured error codes (stable; clients switch on these).
const (
	ErrCodeBadMessage          = "bad_message"
	ErrCodeInvalidSpec         = "invalid_spec"
	ErrCodeFetchFailed         = "fetch_failed"
	ErrCodeUnknownSubscription = "unknown_subscription"
)

// ClientMessage is a request from a viewer: subscribe or unsubscribe.
// ID is the client-chosen subscription id; Type/Params describe the
// query for subscribe requests.
type ClientMessage struct {
	Action string         `json:"action"`
	ID     string         `json:"id"`
	Type   string         `json:"type,omitempty"`
	Params map[string]any `json:"params,omitempty"`
}

// Spec rebuilds the subscription spec embedded in a subscribe message.
func (m *ClientMessage) Spec() SubscriptionSpec {
	return SubscriptionSpec{Type: m.Type, Params: m.Params}
}

// PushEnvelope is one unsolicited server -> client notice for a single
// subscription id. Exactly one of Issues / Issue / IssueID is populated
// depending on Type (snapshot / upsert / delete).
//
// Revision is the per-(connection, key) sequence number the client uses
// for staleness detection; it is meaningful only within one stream.
type PushEnvelope struct {
	Type     string   `json:"type"`
	ID       string   `json:"id"`
	Revision uint64   `json:"revision"`
	Issues   []*Issue `json:"issues,omitempty"`
	Issue    *Issue   `json:"issue,omitempty"`
	IssueID  string   `json:"issue_id,omitempty"`
}

// SubscribeAck confirms a subscribe request and echoes the resolved
// canonical key as an idempotency/debug aid.
type SubscribeAck struct {
	Type string `json:"type"` // always "subscribed"
	ID   string `json:"id"`
	Key  string `json:"key"`
}

// UnsubscribeAck confirms an unsubscribe request. Unsubscribed reports
// whether the detach actually removed a registry subscriber (it may
// already have been removed by a spec-change replacement).
type UnsubscribeAck struct {
	Type         string `json:"type"` // always "unsubscribed"
	ID           string `json:"id"`
	Unsubscribed bool   `json:"unsubscribed"`
}

// WireError is a structured failure reply. No partial server state is
// left behind when one of these is sent in response to a request.
type WireError struct {
	Type    string         `json:"type"` // always "error"
	ID      string         `json:"id,omitempty"`
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// WorkspaceChanged tells every viewer that the registry was wiped
// (workspace/database switch) and all subscriptions must be re-opened.
type WorkspaceChanged struct {
	Type string `json:"type"` // always "workspace_changed"
	Path string `json:"path,omitempty"`
}

// ServerMessage is the decode-side union of everything the server can
// send. The client reads into this and dispatches on Type.
type ServerMessage struct {
	Type         string         `json:"type"`
	ID           string         `json:"id,omitempty"`
	Key          string         `json:"key,omitempty"`
	Revision     uint64         `json:"revision,omitempty"`
	Issues       []*Issue       `json:"issues,omitempty"`
	Issue        *Issue         `json:"issue,omitempty"`
	IssueID      string         `json:"issue_id,omitempty"`
	Unsubscribed bool           `json:"unsubscribed,omitempty"`
	Code         string         `json:"code,omitempty"`
	Message      string         `json:"message,omitempty"`
	Details      map[string]any `json:"details,omitempty"`
	Path         string         `json:"path,omitempty"`
}

// Envelope converts a decoded push message back into a PushEnvelope for
// the client-side store.
func (m *ServerMessage) Envelope() *PushEnvelope {
	return &PushEnvelope{
		Type:     m.Type,
		ID:       m.ID,
		Revision: m.Revision,
		Issues:   m.Issues,
		Issue:    m.Issue,
		IssueID:  m.IssueID,
	}
}
