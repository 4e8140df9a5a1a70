package domain

import (
	"encoding/json"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
)

// NodeState tracks the lifecycle of the local node.
type NodeState int32

const (
	NodeStateInitializing NodeState = iota
	NodeStateDownloading
	NodeStateReady
)

type HashSearchRequest struct {
	SearchString string `json:"search_string"`
}

type HashSearchResponse struct {
	Transaction *Transaction `json:"transaction,omitempty"`
	Observation *Observation `json:"observation,omitempty"`
}

type SubmitTransactionRequest struct {
	Transaction *Transaction `json:"transaction"`
	// SyncQueryResponse requests a ledger-accepted confirmation instead of a
	// fire-and-forget echo.
	SyncQueryResponse bool `json:"sync_query_response"`
}

type SubmitTransactionResponse struct {
	TransactionHash Hash         `json:"transaction_hash"`
	Transaction     *Transaction `json:"transaction,omitempty"`
	Accepted        bool         `json:"accepted"`
}

type GetPeersInfoRequest struct{}

type GetPeersInfoResponse struct {
	PeerInfo []PeerNodeInfo `json:"peer_info"`
	SelfInfo *PeerNodeInfo  `json:"self_info,omitempty"`
}

type GossipTransactionRequest struct {
	Transaction *Transaction `json:"transaction"`
}

type GossipObservationRequest struct {
	Observation *Observation `json:"observation"`
}

type DownloadRequest struct {
	StartTime int64 `json:"start_time"`
	EndTime   int64 `json:"end_time"`
}

type DownloadResponse struct {
	Transactions []*Transaction `json:"transactions"`
	Observations []*Observation `json:"observations"`
}

type AboutNodeRequest struct {
	Verbose bool `json:"verbose"`
}

type AboutNodeResponse struct {
	PeerNodeInfo *PeerNodeInfo `json:"peer_node_info"`
}

type MultipartyThresholdRequest struct {
	InitiateKeygen  *InitiateKeygenRequest  `json:"initiate_keygen,omitempty"`
	InitiateSigning *InitiateSigningRequest `json:"initiate_signing,omitempty"`
}

type MultipartyThresholdResponse struct {
	Acknowledged bool `json:"acknowledged"`
}

// Request carries zero or more independent sub-requests. Presence of a field
// is the dispatch signal; multiple fields may be populated on one request.
type Request struct {
	HashSearch          *HashSearchRequest          `json:"hash_search,omitempty"`
	SubmitTransaction   *SubmitTransactionRequest   `json:"submit_transaction,omitempty"`
	GetPeersInfo        *GetPeersInfoRequest        `json:"get_peers_info,omitempty"`
	GossipTransaction   *GossipTransactionRequest   `json:"gossip_transaction,omitempty"`
	GossipObservation   *GossipObservationRequest   `json:"gossip_observation,omitempty"`
	Download            *DownloadRequest            `json:"download,omitempty"`
	AboutNode           *AboutNodeRequest           `json:"about_node,omitempty"`
	MultipartyThreshold *MultipartyThresholdRequest `json:"multiparty_threshold,omitempty"`

	NodeMetadata  *NodeMetadata `json:"node_metadata,omitempty"`
	Proof         *Proof        `json:"proof,omitempty"`
	CorrelationID string        `json:"correlation_id,omitempty"`
}

// Digest hashes the request body with the proof stripped, so the proof can
// sign it.
func (r *Request) Digest() ([]byte, error) {
	body := *r
	body.Proof = nil
	buf, err := json.Marshal(body)
	if err != nil {
		return nil, WrapError(KindValidation, "marshaling request", err)
	}
	h := HashOf(buf)
	return h.Bytes()
}

// Sign attaches a proof of origin to the request.
func (r *Request) Sign(priv *btcec.PrivateKey) error {
	digest, err := r.Digest()
	if err != nil {
		return err
	}
	proof := SignDigest(priv, digest)
	r.Proof = &proof
	return nil
}

// VerifyAuth checks the attached proof of origin and returns the sender key.
func (r *Request) VerifyAuth() (PublicKey, error) {
	if r.Proof == nil {
		return "", NewError(KindValidation, "request carries no proof of origin")
	}
	digest, err := r.Digest()
	if err != nil {
		return "", err
	}
	return r.Proof.Verify(digest)
}

// ResponseError is the uniform error slot on a Response.
type ResponseError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type ResponseMetadata struct {
	NodeMetadata *NodeMetadata `json:"node_metadata,omitempty"`
	Time         int64         `json:"time"`
}

// Response mirrors Request with one optional sub-response per sub-request
// plus a uniform error slot.
type Response struct {
	HashSearch          *HashSearchResponse          `json:"hash_search,omitempty"`
	SubmitTransaction   *SubmitTransactionResponse   `json:"submit_transaction,omitempty"`
	GetPeersInfo        *GetPeersInfoResponse        `json:"get_peers_info,omitempty"`
	Download            *DownloadResponse            `json:"download,omitempty"`
	AboutNode           *AboutNodeResponse           `json:"about_node,omitempty"`
	MultipartyThreshold *MultipartyThresholdResponse `json:"multiparty_threshold,omitempty"`

	Metadata      *ResponseMetadata `json:"metadata,omitempty"`
	Proof         *Proof            `json:"proof,omitempty"`
	Error         *ResponseError    `json:"error,omitempty"`
	CorrelationID string            `json:"correlation_id,omitempty"`
}

// ResponseFromError wraps a failure into an otherwise empty response.
func ResponseFromError(err error) *Response {
	return &Response{Error: &ResponseError{
		Kind:    ErrKind(err).String(),
		Message: err.Error(),
	}}
}

// Err surfaces the embedded error slot as a Go error, nil when absent.
func (r *Response) Err() error {
	if r == nil || r.Error == nil {
		return nil
	}
	return Errorf(KindUpstream, "peer response error (%s): %s", r.Error.Kind, r.Error.Message)
}

// WithMetadata stamps the responder's identity and time onto the response.
func (r *Response) WithMetadata(nm NodeMetadata) {
	r.Metadata = &ResponseMetadata{NodeMetadata: &nm, Time: time.Now().UnixMilli()}
}

// Sign attaches the responder's proof over the response body.
func (r *Response) Sign(priv *btcec.PrivateKey) error {
	body := *r
	body.Proof = nil
	buf, err := json.Marshal(body)
	if err != nil {
		return WrapError(KindValidation, "marshaling response", err)
	}
	digest, err := HashOf(buf).Bytes()
	if err != nil {
		return err
	}
	proof := SignDigest(priv, digest)
	r.Proof = &proof
	return nil
}
