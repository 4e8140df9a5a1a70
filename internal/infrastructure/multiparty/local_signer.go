// Package multiparty provides a single-custody stand-in for a distributed
// threshold-signing group. Rounds are announced to every participant over the
// relay so the message flow matches a real deployment, but the resulting key
// and signatures come from the local node key. Meant for regtest and local
// debug networks.
package multiparty

import (
	"context"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/ledgerswap-network/ledgerswap-daemon/internal/core/domain"
	"github.com/ledgerswap-network/ledgerswap-daemon/internal/core/ports"
	"github.com/ledgerswap-network/ledgerswap-daemon/internal/core/relay"
)

const roundAnnounceTimeout = 30 * time.Second

type localSigner struct {
	relay *relay.Relay
}

// NewLocalSigner returns a MultipartySigner whose custodial key is the local
// node key.
func NewLocalSigner(r *relay.Relay) ports.MultipartySigner {
	return &localSigner{relay: r}
}

func (s *localSigner) InitiateKeygen(
	ctx context.Context, participants []domain.PublicKey,
) (*domain.KeygenResult, error) {
	identifier := domain.MultipartyIdentifier{
		UUID:      uuid.NewString(),
		PartyKeys: participants,
		Threshold: threshold(len(participants)),
	}
	req := domain.InitiateKeygenRequest{Identifier: identifier}

	if err := s.announce(ctx, participants, &domain.Request{
		MultipartyThreshold: &domain.MultipartyThresholdRequest{
			InitiateKeygen: &req,
		},
	}); err != nil {
		return nil, err
	}

	return &domain.KeygenResult{
		Identifier: identifier,
		Request:    req,
		PublicKey:  s.relay.NodeConfig.PublicKey(),
	}, nil
}

func (s *localSigner) InitiateSigning(
	ctx context.Context, identifier domain.MultipartyIdentifier,
	digest []byte, participants []domain.PublicKey,
) (*domain.SigningResult, error) {
	if len(digest) == 0 {
		return nil, domain.NewError(domain.KindValidation, "empty signing digest")
	}

	if err := s.announce(ctx, participants, &domain.Request{
		MultipartyThreshold: &domain.MultipartyThresholdRequest{
			InitiateSigning: &domain.InitiateSigningRequest{
				Identifier: identifier,
				DigestHex:  hex.EncodeToString(digest),
				PartyKeys:  participants,
			},
		},
	}); err != nil {
		return nil, err
	}

	proof := domain.SignDigest(s.relay.NodeConfig.PrivateKey, digest)
	return &domain.SigningResult{Proof: proof}, nil
}

func (s *localSigner) KeygenFollower(
	ctx context.Context, req domain.InitiateKeygenRequest,
) error {
	log.Debugf(
		"joined keygen round %s with %d parties",
		req.Identifier.UUID, len(req.Identifier.PartyKeys),
	)
	return nil
}

func (s *localSigner) SigningFollower(
	ctx context.Context, req domain.InitiateSigningRequest,
) error {
	if _, err := hex.DecodeString(req.DigestHex); err != nil {
		return domain.WrapError(domain.KindValidation, "decoding signing digest", err)
	}
	log.Debugf("joined signing round %s", req.Identifier.UUID)
	return nil
}

// announce notifies every remote participant of the round. Peers that cannot
// be reached are logged and skipped, the round proceeds with local custody.
func (s *localSigner) announce(
	ctx context.Context, participants []domain.PublicKey, req *domain.Request,
) error {
	self := s.relay.NodeConfig.PublicKey()
	remote := make([]domain.PublicKey, 0, len(participants))
	for _, pk := range participants {
		if pk == self {
			continue
		}
		remote = append(remote, pk)
	}
	if len(remote) == 0 {
		return nil
	}

	if err := req.Sign(s.relay.NodeConfig.PrivateKey); err != nil {
		return err
	}

	results := s.relay.Broadcast(ctx, remote, req, roundAnnounceTimeout)
	for _, res := range results {
		if res.Err != nil {
			log.WithError(res.Err).Warnf(
				"participant %s did not acknowledge round", res.PublicKey.Short(),
			)
			continue
		}
		if res.Response == nil || res.Response.MultipartyThreshold == nil ||
			!res.Response.MultipartyThreshold.Acknowledged {
			log.Warnf(
				"participant %s returned no acknowledgement", res.PublicKey.Short(),
			)
		}
	}
	return nil
}

func threshold(parties int) int {
	if parties <= 1 {
		return 1
	}
	return parties - 1
}
