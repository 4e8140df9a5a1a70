package relay

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
	"github.com/thanhpk/randstr"

	"github.com/ledgerswap-network/ledgerswap-daemon/internal/core/domain"
	"github.com/ledgerswap-network/ledgerswap-daemon/pkg/channel"
)

const (
	// DefaultPeerTimeout bounds synchronous peer calls.
	DefaultPeerTimeout = 60 * time.Second
	// DefaultBroadcastTimeout bounds each call of a broadcast fan-out.
	DefaultBroadcastTimeout = 20 * time.Second

	correlationIDLength = 16
)

var (
	peerMessagesQueued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledgerswap_relay_peer_messages_queued_total",
		Help: "Peer messages enqueued on the outbound queue.",
	})
	transactionsSubmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledgerswap_relay_transactions_submitted_total",
		Help: "Transactions submitted through the relay.",
	})
	syncCallTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledgerswap_relay_sync_call_timeouts_total",
		Help: "Synchronous relay calls that expired before a reply.",
	})
)

// Stores groups the persistent repositories every subsystem reaches through
// the relay.
type Stores struct {
	Peer        domain.PeerRepository
	Transaction domain.TransactionRepository
	Observation domain.ObservationRepository
	Multiparty  domain.MultipartyRepository
	Config      domain.ConfigRepository
}

// TransactionPool is the per-transaction-hash contention pool: the processing
// task waiting on a submitted transaction registers one and receives the
// observation proofs peers gossip about it.
type TransactionPool struct {
	Proofs *channel.Channel[domain.ObservationProof]
}

// UtxoPool serializes competing spenders of one utxo.
type UtxoPool struct {
	Contenders []domain.Hash
}

// Relay is the hub every subsystem communicates through: one typed queue per
// logical message class plus the persistent store handles and the node
// configuration. It is constructed once at startup and shared by pointer.
type Relay struct {
	NodeConfig domain.NodeConfig
	Stores     Stores

	Transactions       *channel.Channel[TransactionMessage]
	Observations       *channel.Channel[*domain.Observation]
	ObservationSigning *channel.Channel[ObservationSigningRequest]
	Multiparty         *channel.Channel[MultipartyExchange]
	PeerMessageOut     *channel.Channel[PeerMessage]
	PeerMessageIn      *channel.Channel[PeerMessage]
	Trust              *channel.Channel[TrustUpdate]

	nodeState atomic.Int32

	poolMtx          sync.Mutex
	transactionPools map[domain.Hash]*TransactionPool
	utxoPools        map[domain.UtxoID]*UtxoPool
}

// New wires a relay with fresh queues. Channel capacities are effectively
// unbounded; an overflow surfaces as a fatal-enqueue error to the sender.
func New(nodeConfig domain.NodeConfig, stores Stores) *Relay {
	return &Relay{
		NodeConfig:         nodeConfig,
		Stores:             stores,
		Transactions:       channel.New[TransactionMessage](0),
		Observations:       channel.New[*domain.Observation](0),
		ObservationSigning: channel.New[ObservationSigningRequest](0),
		Multiparty:         channel.New[MultipartyExchange](0),
		PeerMessageOut:     channel.New[PeerMessage](0),
		PeerMessageIn:      channel.New[PeerMessage](0),
		Trust:              channel.New[TrustUpdate](0),
		transactionPools:   make(map[domain.Hash]*TransactionPool),
		utxoPools:          make(map[domain.UtxoID]*UtxoPool),
	}
}

func (r *Relay) NodeState() domain.NodeState {
	return domain.NodeState(r.nodeState.Load())
}

func (r *Relay) SetNodeState(s domain.NodeState) {
	r.nodeState.Store(int32(s))
}

// RegisterTransactionPool opens a contention pool for a transaction being
// processed locally, so gossiped proofs can be routed to the waiting task.
func (r *Relay) RegisterTransactionPool(hash domain.Hash) *TransactionPool {
	r.poolMtx.Lock()
	defer r.poolMtx.Unlock()
	if pool, ok := r.transactionPools[hash]; ok {
		return pool
	}
	pool := &TransactionPool{Proofs: channel.New[domain.ObservationProof](0)}
	r.transactionPools[hash] = pool
	return pool
}

// TransactionPoolFor returns the open pool for a hash, nil when no task is
// waiting on it.
func (r *Relay) TransactionPoolFor(hash domain.Hash) *TransactionPool {
	r.poolMtx.Lock()
	defer r.poolMtx.Unlock()
	return r.transactionPools[hash]
}

func (r *Relay) DropTransactionPool(hash domain.Hash) {
	r.poolMtx.Lock()
	defer r.poolMtx.Unlock()
	delete(r.transactionPools, hash)
}

// ClaimUtxo records a contender for one utxo and reports whether it was the
// first claim. Competing spenders of the same output are serialized through
// this pool.
func (r *Relay) ClaimUtxo(id domain.UtxoID, contender domain.Hash) bool {
	r.poolMtx.Lock()
	defer r.poolMtx.Unlock()
	pool, ok := r.utxoPools[id]
	if !ok {
		r.utxoPools[id] = &UtxoPool{Contenders: []domain.Hash{contender}}
		return true
	}
	pool.Contenders = append(pool.Contenders, contender)
	return false
}

func (r *Relay) ReleaseUtxo(id domain.UtxoID) {
	r.poolMtx.Lock()
	defer r.poolMtx.Unlock()
	delete(r.utxoPools, id)
}

// Observe assigns a content hash to the metadata, queues it for the internal
// observation signer and awaits the proof. The wait is bounded by the
// configured observation formation duration plus one second of slack.
func (r *Relay) Observe(
	ctx context.Context, om domain.ObservationMetadata,
) (*domain.ObservationProof, error) {
	om.WithHash()
	reply := make(chan ObservationSigningResult, 1)
	if err := r.ObservationSigning.Send(ObservationSigningRequest{
		Metadata: om,
		Reply:    reply,
	}); err != nil {
		return nil, domain.WrapError(domain.KindFatalEnqueue, "queueing observation metadata", err)
	}

	timeout := r.NodeConfig.ObservationFormation + time.Second
	select {
	case res := <-reply:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Proof, nil
	case <-time.After(timeout):
		syncCallTimeouts.Inc()
		return nil, domain.NewError(domain.KindTimeout, "waiting for internal observation formation")
	case <-ctx.Done():
		return nil, domain.WrapError(domain.KindTimeout, "waiting for internal observation formation", ctx.Err())
	}
}

// SendMessage queues a fire-and-forget request to a peer.
func (r *Relay) SendMessage(request *domain.Request, node domain.PublicKey) error {
	if _, err := node.Parse(); err != nil {
		return err
	}
	pm := PeerMessage{
		Request:       request,
		PublicKey:     node,
		CorrelationID: randstr.Hex(correlationIDLength),
	}
	if err := r.PeerMessageOut.Send(pm); err != nil {
		return domain.WrapError(domain.KindFatalEnqueue, "queueing outbound peer message", err)
	}
	peerMessagesQueued.Inc()
	return nil
}

// SendMessageSync queues a request to a peer and awaits the reply on a fresh
// one-shot channel. The transport draining the outbound queue performs the
// actual wire call; this method's contract is purely enqueue-and-await.
func (r *Relay) SendMessageSync(
	ctx context.Context, request *domain.Request, node domain.PublicKey,
	timeout time.Duration,
) (*domain.Response, error) {
	if timeout <= 0 {
		timeout = r.peerTimeout()
	}
	if _, err := node.Parse(); err != nil {
		return nil, err
	}
	pm := PeerMessage{
		Request:       request,
		Response:      make(chan *domain.Response, 1),
		PublicKey:     node,
		CorrelationID: randstr.Hex(correlationIDLength),
	}
	if err := r.PeerMessageOut.Send(pm); err != nil {
		return nil, domain.WrapError(domain.KindFatalEnqueue, "queueing outbound peer message", err)
	}
	peerMessagesQueued.Inc()
	return awaitReply(ctx, pm.Response, timeout)
}

// ReceiveMessageSync funnels an externally received request through the same
// dispatch path as locally triggered ones. The request must carry a
// verifiable proof of origin; a failed check rejects the call outright with
// nothing enqueued.
func (r *Relay) ReceiveMessageSync(
	ctx context.Context, request *domain.Request, timeout time.Duration,
) (*domain.Response, error) {
	sender, err := request.VerifyAuth()
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = r.peerTimeout()
	}
	pm := PeerMessage{
		Request:       request,
		Response:      make(chan *domain.Response, 1),
		PublicKey:     sender,
		CorrelationID: randstr.Hex(correlationIDLength),
	}
	if err := r.PeerMessageIn.Send(pm); err != nil {
		return nil, domain.WrapError(domain.KindFatalEnqueue, "queueing inbound peer message", err)
	}
	return awaitReply(ctx, pm.Response, timeout)
}

// BroadcastResult is one entry of a broadcast fan-out, in input node order.
type BroadcastResult struct {
	PublicKey domain.PublicKey
	Response  *domain.Response
	Err       error
}

// Broadcast fans the request out to every node concurrently and joins all
// results. No node's failure affects another's entry.
func (r *Relay) Broadcast(
	ctx context.Context, nodes []domain.PublicKey, request *domain.Request,
	timeout time.Duration,
) []BroadcastResult {
	if timeout <= 0 {
		timeout = r.broadcastTimeout()
	}
	results := make([]BroadcastResult, len(nodes))
	var wg sync.WaitGroup
	for i, node := range nodes {
		wg.Add(1)
		go func(i int, node domain.PublicKey) {
			defer wg.Done()
			res, err := r.SendMessageSync(ctx, request, node, timeout)
			results[i] = BroadcastResult{PublicKey: node, Response: res, Err: err}
		}(i, node)
	}
	wg.Wait()
	return results
}

// SubmitTransaction hashes and queues a transaction for processing. With
// SyncQueryResponse set the call awaits the ledger-accepted confirmation and
// propagates any embedded error; otherwise it returns an immediate
// client-side response carrying the hash and the echoed transaction, with no
// confirmation of acceptance.
func (r *Relay) SubmitTransaction(
	ctx context.Context, req domain.SubmitTransactionRequest,
) (*domain.SubmitTransactionResponse, error) {
	if req.Transaction == nil {
		return nil, domain.NewError(domain.KindNotFound, "missing transaction field on submit request")
	}
	hash := req.Transaction.Hash()
	log.Debugf("relay submitting transaction %s", hash)
	transactionsSubmitted.Inc()

	var reply chan *domain.Response
	if req.SyncQueryResponse {
		reply = make(chan *domain.Response, 1)
	}
	if err := r.Transactions.Send(TransactionMessage{
		Transaction: req.Transaction,
		Response:    reply,
	}); err != nil {
		return nil, domain.WrapError(domain.KindFatalEnqueue, "queueing transaction message", err)
	}

	if !req.SyncQueryResponse {
		return &domain.SubmitTransactionResponse{
			TransactionHash: hash,
			Transaction:     req.Transaction,
		}, nil
	}

	res, err := awaitReply(ctx, reply, r.peerTimeout())
	if err != nil {
		return nil, err
	}
	if err := res.Err(); err != nil {
		return nil, err
	}
	if res.SubmitTransaction == nil {
		return nil, domain.NewError(domain.KindNotFound, "missing submit response on transaction confirmation")
	}
	return res.SubmitTransaction, nil
}

// SubmitTransactionSync is the synchronous-confirmation convenience form.
func (r *Relay) SubmitTransactionSync(
	ctx context.Context, tx *domain.Transaction,
) (*domain.SubmitTransactionResponse, error) {
	return r.SubmitTransaction(ctx, domain.SubmitTransactionRequest{
		Transaction:       tx,
		SyncQueryResponse: true,
	})
}

func (r *Relay) peerTimeout() time.Duration {
	if r.NodeConfig.PeerTimeout > 0 {
		return r.NodeConfig.PeerTimeout
	}
	return DefaultPeerTimeout
}

func (r *Relay) broadcastTimeout() time.Duration {
	if r.NodeConfig.BroadcastTimeout > 0 {
		return r.NodeConfig.BroadcastTimeout
	}
	return DefaultBroadcastTimeout
}

func awaitReply(
	ctx context.Context, reply <-chan *domain.Response, timeout time.Duration,
) (*domain.Response, error) {
	select {
	case res := <-reply:
		return res, nil
	case <-time.After(timeout):
		syncCallTimeouts.Inc()
		return nil, domain.NewError(domain.KindTimeout, "awaiting reply channel")
	case <-ctx.Done():
		return nil, domain.WrapError(domain.KindTimeout, "awaiting reply channel", ctx.Err())
	}
}
