package node

import (
	"context"
	"crypto/ecdsa"
	"testing"
	"time"

	"github.com/mosaicnetworks/notarium/src/crypto/keys"
	"github.com/mosaicnetworks/notarium/src/flow"
	"github.com/mosaicnetworks/notarium/src/identity"
	"github.com/mosaicnetworks/notarium/src/ledger"
	"github.com/mosaicnetworks/notarium/src/net"
	"github.com/mosaicnetworks/notarium/src/notary"
	"github.com/mosaicnetworks/notarium/src/transaction"
)

const testTimeout = 5 * time.Second

type testNode struct {
	*Node
	key   *ecdsa.PrivateKey
	trans *net.InmemTransport
}

// initNodes starts a validating notary called "Notary" and the named nodes,
// connected in memory.
func initNodes(t *testing.T, names ...string) map[string]*testNode {
	directory := identity.NewDirectory(nil)

	type pending struct {
		info  *identity.NodeInfo
		key   *ecdsa.PrivateKey
		trans *net.InmemTransport
	}

	all := []pending{}
	transports := []*net.InmemTransport{}
	for _, name := range append([]string{"Notary"}, names...) {
		key, err := keys.GenerateECDSAKey()
		if err != nil {
			t.Fatal(err)
		}
		addr, trans := net.NewInmemTransport("")
		trans.SetTimeout(300 * time.Millisecond)
		info := identity.NewNodeInfo(name, addr, keys.PublicKeyHexOf(key))
		if name == "Notary" {
			info.Notary = identity.ValidatingNotary
		}
		directory.Add(info)
		all = append(all, pending{info, key, trans})
		transports = append(transports, trans)
	}
	net.ConnectAll(transports...)

	nodes := make(map[string]*testNode)
	for _, p := range all {
		conf := TestConfig(t)

		sealer, err := ledger.NewSealerFromKey(p.key)
		if err != nil {
			t.Fatal(err)
		}
		l := ledger.NewInmemLedger(ledger.Config{Sealer: sealer, Logger: conf.Logger.WithField("node", p.info.Name)})

		var service *notary.Service
		if p.info.IsNotary() {
			service, err = notary.NewService(notary.ServiceConfig{
				Party:       p.info.Party(),
				Validating:  true,
				ReplicaKeys: []*ecdsa.PrivateKey{p.key},
				Directory:   directory,
			}, conf.Logger.WithField("node", p.info.Name))
			if err != nil {
				t.Fatal(err)
			}
		}

		node, err := NewNode(conf, p.info.Party(), p.key, directory, p.trans, l, flow.NewInmemCheckpointStore(), service)
		if err != nil {
			t.Fatal(err)
		}
		if err := node.Init(); err != nil {
			t.Fatal(err)
		}
		node.RunAsync()

		nodes[p.info.Name] = &testNode{Node: node, key: p.key, trans: p.trans}
	}

	t.Cleanup(func() {
		for _, n := range nodes {
			if err := n.Shutdown(); err != nil {
				t.Error(err)
			}
		}
	})

	return nodes
}

func (n *testNode) issue(t *testing.T, data string) *transaction.SignedTransaction {
	notaryParty, _ := n.directory.PartyByName("Notary")
	wtx, err := (&transaction.TransactionBuilder{
		Outputs: []transaction.TransactionState{
			{Contract: "cash", Data: []byte(data), Participants: []identity.Party{n.me}, Notary: notaryParty},
		},
		Commands: []transaction.Command{{Name: "Issue", Signers: []string{n.me.OwningKey}}},
	}).ToWireTransaction()
	if err != nil {
		t.Fatal(err)
	}
	return n.sign(t, wtx)
}

func (n *testNode) move(t *testing.T, input transaction.StateRef) *transaction.SignedTransaction {
	notaryParty, _ := n.directory.PartyByName("Notary")
	wtx, err := (&transaction.TransactionBuilder{
		Inputs: []transaction.StateRef{input},
		Outputs: []transaction.TransactionState{
			{Contract: "cash", Data: []byte("moved"), Notary: notaryParty},
		},
		Commands: []transaction.Command{{Name: "Move", Signers: []string{n.me.OwningKey}}},
		Notary:   &notaryParty,
	}).ToWireTransaction()
	if err != nil {
		t.Fatal(err)
	}
	return n.sign(t, wtx)
}

func (n *testNode) sign(t *testing.T, wtx *transaction.WireTransaction) *transaction.SignedTransaction {
	stx, err := transaction.NewSignedTransaction(wtx)
	if err != nil {
		t.Fatal(err)
	}
	if stx, err = stx.SignWith(n.key); err != nil {
		t.Fatal(err)
	}
	return stx
}

func wait(t *testing.T, h *flow.FlowHandle) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	res, err := h.Result(ctx)
	if err == context.DeadlineExceeded {
		t.Fatalf("flow %s did not end in time", h.ID)
	}
	return res, err
}

func TestFinalise(t *testing.T) {
	nodes := initNodes(t, "Alice", "Bob")
	alice, bob, notaryNode := nodes["Alice"], nodes["Bob"], nodes["Notary"]

	issue := alice.issue(t, "100")
	h, err := alice.Finalise(issue, ledger.AllVisible, map[string]ledger.StatesToRecord{"Bob": ledger.AllVisible})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := wait(t, h); err != nil {
		t.Fatal(err)
	}

	wtx, _ := issue.Tx()
	move := alice.move(t, wtx.OutputRef(0))
	h, err = alice.Finalise(move, ledger.AllVisible, map[string]ledger.StatesToRecord{"Bob": ledger.OnlyRelevant})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := wait(t, h); err != nil {
		t.Fatal(err)
	}

	for _, n := range []*testNode{alice, bob} {
		_, status, err := n.GetTransaction(move.ID())
		if err != nil {
			t.Fatalf("%s: %v", n.me.Name, err)
		}
		if status != ledger.Verified {
			t.Fatalf("%s: status should be Verified, not %s", n.me.Name, status)
		}
	}

	if s := alice.GetStats()["flows_completed"]; s != "2" {
		t.Fatalf("Alice should have completed 2 flows, not %s", s)
	}
	if s := bob.GetStats()["session_requests"]; s == "0" {
		t.Fatal("Bob should have received session requests")
	}
	if s := notaryNode.GetStats()["notarisation_requests"]; s != "1" {
		t.Fatalf("Notary should have received 1 notarisation request, not %s", s)
	}
	if s := notaryNode.GetStats()["notary"]; s != string(identity.ValidatingNotary) {
		t.Fatalf("Notary stats should say validating, not %q", s)
	}
	if s := alice.GetStats()["num_peers"]; s != "2" {
		t.Fatalf("Alice should have 2 peers, not %s", s)
	}
}

func TestNotarisationRequestToOrdinaryNode(t *testing.T) {
	nodes := initNodes(t, "Alice", "Bob")

	var resp net.NotarisationResponseMessage
	err := nodes["Alice"].trans.Notarise(nodes["Bob"].trans.LocalAddr(), &net.NotarisationRequestMessage{VerificationID: 1}, &resp)
	if err == nil {
		t.Fatal("Bob is not a notary")
	}

	if s := nodes["Bob"].GetStats()["rpc_errors"]; s != "1" {
		t.Fatalf("rpc_errors should be 1, not %s", s)
	}
}

func TestSuspend(t *testing.T) {
	nodes := initNodes(t, "Alice", "Bob")
	alice, bob := nodes["Alice"], nodes["Bob"]

	bob.Suspend()
	if s := bob.GetStats()["state"]; s != Suspended.String() {
		t.Fatalf("Bob should be Suspended, not %s", s)
	}
	if _, err := bob.Finalise(bob.issue(t, "1"), ledger.AllVisible, nil); err == nil {
		t.Fatal("a suspended node should not start flows")
	}

	issue := alice.issue(t, "100")
	h, err := alice.Finalise(issue, ledger.AllVisible, map[string]ledger.StatesToRecord{"Bob": ledger.AllVisible})
	if err != nil {
		t.Fatal(err)
	}

	select {
	case <-h.Done():
		t.Fatal("flow should wait for Bob")
	case <-time.After(150 * time.Millisecond):
	}

	bob.Resume()

	if _, err := wait(t, h); err != nil {
		t.Fatal(err)
	}
	if _, err := bob.Ledger().GetTransaction(issue.ID()); err != nil {
		t.Fatal(err)
	}
}

func TestNotarySuspended(t *testing.T) {
	nodes := initNodes(t, "Alice")
	alice, notaryNode := nodes["Alice"], nodes["Notary"]

	issue := alice.issue(t, "100")
	h, err := alice.Finalise(issue, ledger.AllVisible, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := wait(t, h); err != nil {
		t.Fatal(err)
	}

	notaryNode.Suspend()
	time.AfterFunc(50*time.Millisecond, notaryNode.Resume)

	wtx, _ := issue.Tx()
	h, err = alice.Finalise(alice.move(t, wtx.OutputRef(0)), ledger.AllVisible, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := wait(t, h); err != nil {
		t.Fatal(err)
	}
}

func TestShutdown(t *testing.T) {
	nodes := initNodes(t, "Alice")
	alice := nodes["Alice"]

	if err := alice.Shutdown(); err != nil {
		t.Fatal(err)
	}
	if err := alice.Shutdown(); err != nil {
		t.Fatal(err)
	}
	if _, err := alice.Finalise(alice.issue(t, "1"), ledger.AllVisible, nil); err == nil {
		t.Fatal("a node that is shut down should not start flows")
	}
	if s := alice.GetStats()["state"]; s != Shutdown.String() {
		t.Fatalf("state should be Shutdown, not %s", s)
	}
}

func TestFlowInspection(t *testing.T) {
	nodes := initNodes(t, "Alice", "Bob")
	alice, bob := nodes["Alice"], nodes["Bob"]

	bob.Suspend()

	h, err := alice.Finalise(alice.issue(t, "100"), ledger.AllVisible, map[string]ledger.StatesToRecord{"Bob": ledger.AllVisible})
	if err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(testTimeout)
	for {
		if info, ok := alice.GetFlow(h.ID); ok && info.Suspension == flow.IOReceive.String() {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("flow should be waiting for Bob's acknowledgement")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if len(alice.GetFlows()) != 1 {
		t.Fatalf("Alice should have 1 flow, not %d", len(alice.GetFlows()))
	}
	if len(alice.GetFlowHistory(h.ID)) == 0 {
		t.Fatal("history should record the transitions of the flow")
	}

	if err := alice.KillFlow(h.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := wait(t, h); err == nil {
		t.Fatal("killed flow should fail")
	}

	families, err := alice.Metrics().Gather()
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, f := range families {
		if f.GetName() == "notarium_flow_transitions_total" {
			found = true
		}
	}
	if !found {
		t.Fatal("flow transitions should be exported")
	}

}
