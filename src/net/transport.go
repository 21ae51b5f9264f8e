package net

// Transport provides an interface for network transports
// to allow a node to communicate with other nodes.
type Transport interface {

	// Starts the transport listening
	Listen()

	// Consumer returns a channel that can be used to
	// consume and respond to RPC requests.
	Consumer() <-chan RPC

	// LocalAddr is used to return our local address
	LocalAddr() string

	// AdvertiseAddr is used to return our advertise address where other nodes
	// can reach us
	AdvertiseAddr() string

	// SendSession and Notarise send the appropriate RPC to the target node.

	SendSession(target string, args *SessionRequest, resp *SessionResponse) error

	Notarise(target string, args *NotarisationRequestMessage, resp *NotarisationResponseMessage) error

	// Close permanently closes a transport, stopping
	// any associated goroutines and freeing other resources.
	Close() error
}

// RPCResponse captures both a response and a potential error.
type RPCResponse struct {
	Response interface{}
	Error    error
}

// RPC encapsulates an RPC request and provides a response mechanism. Command
// is a *SessionRequest or a *NotarisationRequestMessage.
type RPC struct {
	Command  interface{}
	RespChan chan<- RPCResponse
}

// Respond is used to respond with a response, error or both.
func (r *RPC) Respond(resp interface{}, err error) {
	r.RespChan <- RPCResponse{resp, err}
}
