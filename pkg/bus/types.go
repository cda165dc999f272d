package bus

import "encoding/json"

// EventKind tags pre-decoded inbound events. The dialog controller only
// consumes text and date-selection events; location messages are routed
// to the pharmacy lookup.
type EventKind string

const (
	EventText          EventKind = "text"
	EventDateSelection EventKind = "date_selection"
	EventLocation      EventKind = "location"
)

// InboundEvent is one decoded user turn from a channel.
type InboundEvent struct {
	ID      string
	Channel string
	UserID  string
	ChatID  string
	Kind    EventKind

	// Text payload for EventText.
	Text string

	// FieldKey and Date for EventDateSelection. Date is ISO YYYY-MM-DD.
	FieldKey string
	Date     string

	// Coordinates for EventLocation.
	Latitude  float64
	Longitude float64

	// ReplyToken, when present, lets the channel answer on the free
	// reply path instead of a push.
	ReplyToken string
}

// MenuItem is one selectable option attached to a prompt.
type MenuItem struct {
	Label string
	Text  string
}

// DatePrompt asks the channel to render a date picker bound to a field
// key; the selection comes back as an EventDateSelection.
type DatePrompt struct {
	Label    string
	FieldKey string
}

// OutboundMessage is a reply, prompt, or notification for a channel to
// deliver.
type OutboundMessage struct {
	Channel    string
	UserID     string
	ChatID     string
	Text       string
	Menu       []MenuItem
	DatePicker *DatePrompt

	// AskLocation requests a share-location affordance where the
	// channel supports one.
	AskLocation bool

	// Flex carries a prebuilt LINE flex payload (pharmacy carousel).
	// Channels without flex support fall back to AltText.
	Flex    json.RawMessage
	AltText string

	ReplyToken string
}
