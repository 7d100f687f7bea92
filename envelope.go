package workerpool

// DeviceThread is the well-known identifier of the pool controller.
// Every execution unit can address it without any mesh lookup.
const DeviceThread = "device"

// Envelope is the single message shape multiplexed over every private
// channel in the mesh. Exactly one protocol field is set per message;
// the receiving state machine dispatches on the first one present, in
// the order the fields are declared below.
//
// The JSON tags document the wire names; envelopes themselves travel
// as Go values, serialization only happens when a payload needs a
// structural clone.
type Envelope struct {
	// Sender is stamped with the emitting unit's identifier right
	// before every send, replies are addressed to it.
	Sender string `json:"sender,omitempty"`

	// Ident assigns the receiving unit its identity. Sent once by the
	// controller, immediately after spawning.
	Ident string `json:"ident,omitempty"`

	// Remote announces a sibling: with an Endpoint attached it binds
	// that sibling id to the delivered channel end, with Terminate set
	// it retires the sibling instead.
	Remote    string `json:"remote,omitempty"`
	Terminate bool   `json:"terminate,omitempty"`

	// Listen hands over one end of a freshly cross-wired channel pair.
	// The value is the id of the peer reachable through Endpoint.
	Listen string `json:"listen,omitempty"`

	// Cmd invokes a named command on the receiver. Args are the
	// positional arguments, Thread the resolved destination and
	// CallbackID the correlation id the response must echo.
	Cmd        string `json:"cmd,omitempty"`
	Args       []any  `json:"args,omitempty"`
	Thread     string `json:"thread,omitempty"`
	CallbackID string `json:"callbackId,omitempty"`

	// ReturnID correlates a command response with the caller's pending
	// callback. Exactly one of Data or Error accompanies it, plus the
	// triggering envelope when a handler failed.
	ReturnID      string    `json:"returnId,omitempty"`
	Data          any       `json:"data,omitempty"`
	Error         string    `json:"error,omitempty"`
	PreviousEvent *Envelope `json:"previousEvent,omitempty"`

	// SetHTTPAuth and SetHTTPAccessToken push ambient HTTP
	// configuration into the unit, read by HTTPRequest.
	SetHTTPAuth        string `json:"setHttpAuth,omitempty"`
	SetHTTPAccessToken string `json:"setHttpAccessToken,omitempty"`

	// Endpoint is the transferable channel end riding along a Remote
	// or Listen announcement. It moves by reference and is never part
	// of any serialized form.
	Endpoint *Endpoint `json:"-"`
}

// Event is what listener registries dispatch: one inbound envelope,
// the thread it relates to, and the transport failure when the channel
// itself broke instead of delivering.
type Event struct {
	Thread string
	Env    Envelope
	Err    error
}
