package transport

// DropReason says why an inbound message was not dispatched.
type DropReason string

// Drop reasons reported to Observer.MessageDropped.
const (
	DropOrigin          DropReason = "origin"           // Sender origin not allowed
	DropMalformed       DropReason = "malformed"        // Payload failed to decode
	DropNoClient        DropReason = "no_client"        // No local client for the message type
	DropUnknownCallback DropReason = "unknown_callback" // Callback id not pending
	DropHandler         DropReason = "handler"          // Local handler returned an error
)

// Observer is notified of traffic and call lifecycle on a Transport.
// Methods are called synchronously and must not block.
type Observer interface {
	MessageSent(msg *Message)
	MessageReceived(msg *Message)
	MessageDropped(reason DropReason, origin string, err error)
	CallStarted(typ, method string, id int)
	CallFinished(typ, method string, id int, err error)
}

// NopObserver ignores everything.
type NopObserver struct{}

func (NopObserver) MessageSent(*Message)                     {}
func (NopObserver) MessageReceived(*Message)                 {}
func (NopObserver) MessageDropped(DropReason, string, error) {}
func (NopObserver) CallStarted(string, string, int)          {}
func (NopObserver) CallFinished(string, string, int, error)  {}

// Observers fans out to each observer in order.
type Observers []Observer

func (o Observers) MessageSent(msg *Message) {
	for _, obs := range o {
		obs.MessageSent(msg)
	}
}

func (o Observers) MessageReceived(msg *Message) {
	for _, obs := range o {
		obs.MessageReceived(msg)
	}
}

func (o Observers) MessageDropped(reason DropReason, origin string, err error) {
	for _, obs := range o {
		obs.MessageDropped(reason, origin, err)
	}
}

func (o Observers) CallStarted(typ, method string, id int) {
	for _, obs := range o {
		obs.CallStarted(typ, method, id)
	}
}

func (o Observers) CallFinished(typ, method string, id int, err error) {
	for _, obs := range o {
		obs.CallFinished(typ, method, id, err)
	}
}
