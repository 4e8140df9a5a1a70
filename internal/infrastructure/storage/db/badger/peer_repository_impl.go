package dbbadger

import (
	"context"
	"errors"
	"time"

	"github.com/timshannon/badgerhold/v4"

	"github.com/ledgerswap-network/ledgerswap-daemon/internal/core/domain"
)

type peerRecord struct {
	PublicKey string
	Info      domain.PeerNodeInfo
}

type peerRepositoryImpl struct {
	db *DbManager
}

func NewPeerRepositoryImpl(db *DbManager) domain.PeerRepository {
	return peerRepositoryImpl{db: db}
}

func (p peerRepositoryImpl) ActiveNodes(ctx context.Context) ([]domain.PublicKey, error) {
	var records []peerRecord
	if err := p.db.Store.Find(&records, nil); err != nil {
		return nil, err
	}
	nodes := make([]domain.PublicKey, 0, len(records))
	for _, r := range records {
		nodes = append(nodes, domain.PublicKey(r.PublicKey))
	}
	return nodes, nil
}

func (p peerRepositoryImpl) FindByPublicKey(
	ctx context.Context, pk domain.PublicKey,
) (*domain.PeerNodeInfo, error) {
	var record peerRecord
	if err := p.db.Store.Get(string(pk), &record); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	info := record.Info
	return &info, nil
}

func (p peerRepositoryImpl) AddPeer(ctx context.Context, info domain.PeerNodeInfo) error {
	key := string(info.Metadata.PublicKey)
	if key == "" {
		return domain.NewError(domain.KindValidation, "peer record requires a public key")
	}
	return p.db.Store.Upsert(key, peerRecord{
		PublicKey: key,
		Info:      info,
	})
}

func (p peerRepositoryImpl) RemovePeer(ctx context.Context, pk domain.PublicKey) error {
	err := p.db.Store.Delete(string(pk), peerRecord{})
	if errors.Is(err, badgerhold.ErrNotFound) {
		return nil
	}
	return err
}

// UpdateLastSeen bumps the stored timestamp. An unknown peer is a no-op
// rather than an insert: last-seen updates carry no metadata to store.
func (p peerRepositoryImpl) UpdateLastSeen(ctx context.Context, pk domain.PublicKey) error {
	var record peerRecord
	if err := p.db.Store.Get(string(pk), &record); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil
		}
		return err
	}
	record.Info.LastSeen = time.Now().UnixMilli()
	return p.db.Store.Update(string(pk), record)
}

func (p peerRepositoryImpl) AllPeerInfo(ctx context.Context) ([]domain.PeerNodeInfo, error) {
	var records []peerRecord
	if err := p.db.Store.Find(&records, nil); err != nil {
		return nil, err
	}
	infos := make([]domain.PeerNodeInfo, 0, len(records))
	for _, r := range records {
		infos = append(infos, r.Info)
	}
	return infos, nil
}
