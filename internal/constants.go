package internal

const (
	HeaderRecipientID    = "recipient_id"
	HeaderConversationID = "conversation_id"
	HeaderEventKind      = "event_kind"
)
