package mapstate

import (
	"context"
	"log/slog"
)

// Collaborators はManagerが利用する外部サービスの組。
type Collaborators struct {
	Identity  IdentityProvider
	Documents DocumentStore
	Blobs     BlobStore
	Geocoder  GeocodeService
}

// Manager は地図状態の各コンポーネントを組み立てて保持する。
type Manager struct {
	Session  *Session
	Records  *RecordStore
	Feed     *FeedSubscriber
	Drafts   *DraftEditor
	Commits  *CommitPipeline
	Geocoder *GeocodeResolver
}

// NewManager はcollaboratorsからManagerを組み立てる。フィードの購読はStartで開始する。
func NewManager(c Collaborators, policy EditPolicy, logger *slog.Logger) *Manager {
	session := NewSession(c.Identity, logger)
	records := NewRecordStore()
	drafts := NewDraftEditor(session, policy)
	return &Manager{
		Session:  session,
		Records:  records,
		Feed:     NewFeedSubscriber(c.Documents, records, logger),
		Drafts:   drafts,
		Commits:  NewCommitPipeline(drafts, session, c.Documents, c.Blobs, logger),
		Geocoder: NewGeocodeResolver(c.Geocoder, logger),
	}
}

// Start はライブフィードの購読を開始する。
func (m *Manager) Start(ctx context.Context) error {
	return m.Feed.Start(ctx)
}

// Close はフィードとIdentityProviderの購読を解除する。
func (m *Manager) Close() {
	m.Feed.Stop()
	m.Session.Close()
}
