package relay

import (
	"net"

	"github.com/ledgerswap-network/ledgerswap-daemon/internal/core/domain"
)

// PeerMessage is the envelope every peer interaction travels in: the request,
// an optional one-shot reply channel, the sender identity when known and the
// origin address when the transport captured one.
type PeerMessage struct {
	Request       *domain.Request
	Response      chan *domain.Response
	PublicKey     domain.PublicKey
	SocketAddr    net.Addr
	CorrelationID string
}

// Reply delivers the response without ever blocking; a message without a
// reply channel or with an abandoned one drops the response.
func (pm PeerMessage) Reply(res *domain.Response) {
	if pm.Response == nil {
		return
	}
	select {
	case pm.Response <- res:
	default:
	}
}

// TransactionMessage carries a submitted transaction to the processing
// pipeline, with an optional reply channel when the submitter wants a
// synchronous confirmation.
type TransactionMessage struct {
	Transaction *domain.Transaction
	Response    chan *domain.Response
}

// ObservationSigningResult is what the internal observation signer hands
// back: a proof, or the error the signer produced.
type ObservationSigningResult struct {
	Proof *domain.ObservationProof
	Err   error
}

// ObservationSigningRequest asks the internal signer to fold one observation
// metadata into the next formed observation.
type ObservationSigningRequest struct {
	Metadata domain.ObservationMetadata
	Reply    chan ObservationSigningResult
}

// MultipartyExchange mediates threshold-signing traffic between the network
// and the local protocol driver.
type MultipartyExchange struct {
	Request  *domain.MultipartyThresholdRequest
	Response *domain.MultipartyThresholdResponse
	Origin   *domain.NodeMetadata
}

// TrustUpdate adjusts the local view of one peer's standing.
type TrustUpdate struct {
	Update     *domain.PeerNodeInfo
	RemovePeer *domain.PublicKey
}
