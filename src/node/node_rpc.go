package node

import (
	"fmt"

	"github.com/mosaicnetworks/notarium/src/net"
	"github.com/sirupsen/logrus"
)

func (n *Node) processRPC(rpc net.RPC) {
	switch cmd := rpc.Command.(type) {
	case *net.SessionRequest:
		n.processSessionRequest(rpc, cmd)
	case *net.NotarisationRequestMessage:
		n.processNotarisationRequest(rpc, cmd)
	default:
		n.logger.WithField("cmd", rpc.Command).Error("Unexpected RPC command")
		n.rpcErrors.Inc()
		rpc.Respond(nil, fmt.Errorf("unexpected command"))
	}
}

func (n *Node) processSessionRequest(rpc net.RPC, cmd *net.SessionRequest) {
	n.sessionRequests.Inc()

	n.logger.WithFields(logrus.Fields{
		"from":     cmd.FromAddr,
		"messages": len(cmd.Messages),
	}).Debug("process SessionRequest")

	if s := n.getState(); s != Running {
		n.rpcErrors.Inc()
		rpc.Respond(nil, fmt.Errorf("%s is %s", n.me.Name, s))
		return
	}

	resp, err := n.manager.HandleSessionRequest(cmd)
	if err != nil {
		n.rpcErrors.Inc()
		n.logger.WithError(err).Debug("Handling SessionRequest")
	}

	rpc.Respond(resp, err)
}

func (n *Node) processNotarisationRequest(rpc net.RPC, cmd *net.NotarisationRequestMessage) {
	n.notarisationRequests.Inc()

	n.logger.WithFields(logrus.Fields{
		"verification_id": cmd.VerificationID,
		"response_addr":   cmd.ResponseAddress,
	}).Debug("process NotarisationRequest")

	if n.notaryService == nil {
		n.rpcErrors.Inc()
		rpc.Respond(nil, fmt.Errorf("%s is not a notary", n.me.Name))
		return
	}

	rpc.Respond(n.notaryService.Process(cmd), nil)
}
