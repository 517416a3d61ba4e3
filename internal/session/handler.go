package session

import "github.com/omochice/voichai/pkg/protocol"

// Handler receives a session's lifecycle callbacks. All methods run on the
// session's event loop, one at a time, after the Status has been updated.
type Handler interface {
	// OnOpen is called when a connection becomes ready for Send.
	OnOpen()

	// OnMessage is the dispatch hook, called once per decoded inbound
	// envelope in transport order.
	OnMessage(env protocol.Envelope)

	// OnError reports transport, decode and encode failures. None of them
	// stop the session.
	OnError(err error)

	// OnClose is called when a connection is closed by the peer or when
	// the session reaches StateClosed after Close.
	OnClose(ev CloseEvent)
}

// CloseEvent describes why a connection closed.
type CloseEvent struct {
	// Code and Reason come from the peer's close frame; Code is zero when
	// none was received.
	Code   int
	Reason string

	// Requested is true when the close followed a call to Close.
	Requested bool
}

// HandlerFuncs adapts optional functions to Handler. Nil fields are no-ops.
type HandlerFuncs struct {
	Open    func()
	Message func(protocol.Envelope)
	Error   func(error)
	Close   func(CloseEvent)
}

// OnOpen implements Handler.
func (h HandlerFuncs) OnOpen() {
	if h.Open != nil {
		h.Open()
	}
}

// OnMessage implements Handler.
func (h HandlerFuncs) OnMessage(env protocol.Envelope) {
	if h.Message != nil {
		h.Message(env)
	}
}

// OnError implements Handler.
func (h HandlerFuncs) OnError(err error) {
	if h.Error != nil {
		h.Error(err)
	}
}

// OnClose implements Handler.
func (h HandlerFuncs) OnClose(ev CloseEvent) {
	if h.Close != nil {
		h.Close(ev)
	}
}

var _ Handler = HandlerFuncs{}
