package net

import (
	"reflect"
	"testing"
	"time"

	"github.com/mosaicnetworks/notarium/src/common"
	"github.com/mosaicnetworks/notarium/src/transaction"
)

const (
	INMEM = iota
	TCP
	numTestTransports // NOTE: must be last
)

func NewTestTransport(ttype int, addr string, t *testing.T) Transport {
	switch ttype {
	case INMEM:
		_, it := NewInmemTransport("")
		return it
	case TCP:
		tt, err := NewTCPTransport(addr, "", 2, time.Second, 2*time.Second, common.NewTestEntry(t, common.TestLogLevel))
		if err != nil {
			t.Fatal(err)
		}
		go tt.Listen()
		return tt
	default:
		panic("Unknown transport type")
	}
}

func connectTestTransports(ttype int, trans1, trans2 Transport) {
	if ttype == INMEM {
		itrans1 := trans1.(*InmemTransport)
		itrans2 := trans2.(*InmemTransport)
		itrans1.Connect(itrans2.LocalAddr(), itrans2)
		itrans2.Connect(itrans1.LocalAddr(), itrans1)
	}
}

func TestTransport_StartStop(t *testing.T) {
	for ttype := 0; ttype < numTestTransports; ttype++ {
		trans := NewTestTransport(ttype, "127.0.0.1:0", t)
		if err := trans.Close(); err != nil {
			t.Fatalf("err: %v", err)
		}
	}
}

func TestTransport_SendSession(t *testing.T) {
	for ttype := 0; ttype < numTestTransports; ttype++ {
		trans1 := NewTestTransport(ttype, "127.0.0.1:0", t)
		defer trans1.Close()
		rpcCh := trans1.Consumer()

		// Make the RPC request
		args := SessionRequest{
			FromAddr: "alice",
			Messages: []SessionMessage{
				{
					SessionID: "s1",
					Seq:       1,
					Kind:      SessionInit,
					Sender:    "Alice",
					FlowName:  "finality",
					Payload:   []byte("hello"),
				},
				{
					SessionID:   "s2",
					ToInitiator: true,
					Seq:         4,
					Kind:        SessionError,
					Sender:      "Alice",
					Error:       "boom",
				},
			},
		}
		resp := SessionResponse{
			FromAddr: "bob",
			Accepted: 2,
		}

		// Listen for a request
		errCh := make(chan string, 1)
		go func() {
			select {
			case rpc := <-rpcCh:
				// Verify the command
				req := rpc.Command.(*SessionRequest)
				if !reflect.DeepEqual(req, &args) {
					errCh <- "command mismatch"
				}
				rpc.Respond(&resp, nil)

			case <-time.After(time.Second):
				errCh <- "timeout"
			}
		}()

		// Transport 2 makes outbound request
		trans2 := NewTestTransport(ttype, "127.0.0.1:0", t)
		defer trans2.Close()
		connectTestTransports(ttype, trans1, trans2)

		var out SessionResponse
		if err := trans2.SendSession(trans1.AdvertiseAddr(), &args, &out); err != nil {
			t.Fatalf("err: %v", err)
		}

		// Verify the response
		if !reflect.DeepEqual(resp, out) {
			t.Fatalf("response mismatch: %#v %#v", resp, out)
		}

		select {
		case e := <-errCh:
			t.Fatalf("ttype %d: %s", ttype, e)
		default:
		}
	}
}

func TestTransport_Notarise(t *testing.T) {
	for ttype := 0; ttype < numTestTransports; ttype++ {
		trans1 := NewTestTransport(ttype, "127.0.0.1:0", t)
		defer trans1.Close()
		rpcCh := trans1.Consumer()

		args := NotarisationRequestMessage{
			VerificationID:     42,
			TransactionPayload: []byte("payload"),
			ResponseAddress:    "alice",
		}
		resp := NotarisationResponseMessage{
			VerificationID: 42,
			Signatures: []transaction.TransactionSignature{
				{By: "0X04AB", Signature: "1|2"},
			},
		}

		go func() {
			rpc := <-rpcCh
			req := rpc.Command.(*NotarisationRequestMessage)
			if req.VerificationID != 42 {
				rpc.Respond(nil, errWrongRequest)
				return
			}
			rpc.Respond(&resp, nil)
		}()

		trans2 := NewTestTransport(ttype, "127.0.0.1:0", t)
		defer trans2.Close()
		connectTestTransports(ttype, trans1, trans2)

		var out NotarisationResponseMessage
		if err := trans2.Notarise(trans1.AdvertiseAddr(), &args, &out); err != nil {
			t.Fatalf("err: %v", err)
		}
		if !reflect.DeepEqual(resp, out) {
			t.Fatalf("response mismatch: %#v %#v", resp, out)
		}
	}
}

func TestTransport_ErrorResponse(t *testing.T) {
	for ttype := 0; ttype < numTestTransports; ttype++ {
		trans1 := NewTestTransport(ttype, "127.0.0.1:0", t)
		defer trans1.Close()
		rpcCh := trans1.Consumer()

		go func() {
			rpc := <-rpcCh
			rpc.Respond(&SessionResponse{}, errWrongRequest)
		}()

		trans2 := NewTestTransport(ttype, "127.0.0.1:0", t)
		defer trans2.Close()
		connectTestTransports(ttype, trans1, trans2)

		var out SessionResponse
		err := trans2.SendSession(trans1.AdvertiseAddr(), &SessionRequest{}, &out)
		if err == nil || err.Error() != errWrongRequest.Error() {
			t.Fatalf("ttype %d: expected %v, got %v", ttype, errWrongRequest, err)
		}
	}
}

func TestTransport_UnknownTarget(t *testing.T) {
	for ttype := 0; ttype < numTestTransports; ttype++ {
		trans := NewTestTransport(ttype, "127.0.0.1:0", t)
		defer trans.Close()

		var out SessionResponse
		if err := trans.SendSession("127.0.0.1:1", &SessionRequest{}, &out); err == nil {
			t.Fatalf("ttype %d: expected an error", ttype)
		}
	}
}

func TestTCPTransport_BadAddr(t *testing.T) {
	_, err := NewTCPTransport("0.0.0.0:0", "", 1, 0, 0, common.NewTestEntry(t, common.TestLogLevel))
	if err != errNotAdvertisable {
		t.Fatalf("err: %v", err)
	}
}

func TestTCPTransport_WithAdvertise(t *testing.T) {
	trans, err := NewTCPTransport("0.0.0.0:0", "127.0.0.1:12345", 1, 0, 0, common.NewTestEntry(t, common.TestLogLevel))
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	defer trans.Close()
	if trans.AdvertiseAddr() != "127.0.0.1:12345" {
		t.Fatalf("bad: %v", trans.AdvertiseAddr())
	}
}

func TestTCPTransport_PooledConnections(t *testing.T) {
	trans1 := NewTestTransport(TCP, "127.0.0.1:0", t).(*NetworkTransport)
	defer trans1.Close()

	go func() {
		for rpc := range trans1.Consumer() {
			req := rpc.Command.(*SessionRequest)
			rpc.Respond(&SessionResponse{Accepted: len(req.Messages)}, nil)
		}
	}()

	trans2 := NewTestTransport(TCP, "127.0.0.1:0", t).(*NetworkTransport)
	defer trans2.Close()

	for i := 0; i < 5; i++ {
		var out SessionResponse
		args := &SessionRequest{Messages: make([]SessionMessage, i)}
		if err := trans2.SendSession(trans1.AdvertiseAddr(), args, &out); err != nil {
			t.Fatalf("err: %v", err)
		}
		if out.Accepted != i {
			t.Fatalf("expected %d accepted, got %d", i, out.Accepted)
		}
	}

	sent, _ := trans2.Stats()
	_, received := trans1.Stats()
	if sent != 5 || received != 5 {
		t.Fatalf("expected 5 sent and received, got %d and %d", sent, received)
	}

	trans2.connPoolLock.Lock()
	pooled := len(trans2.connPool[trans1.AdvertiseAddr()])
	trans2.connPoolLock.Unlock()
	if pooled != 1 {
		t.Fatalf("expected one pooled connection, got %d", pooled)
	}
}

var errWrongRequest = errorString("wrong request")

type errorString string

func (e errorString) Error() string { return string(e) }
