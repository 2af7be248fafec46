package storage

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ZentaChain/chatguard/pkg/contacts"
	"github.com/ZentaChain/chatguard/pkg/crypto"
	"github.com/ZentaChain/chatguard/pkg/identity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	keyOnce sync.Once
	testKey *rsa.PrivateKey
)

func openTestDB(t *testing.T) (*DB, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chatguard.db")
	db, err := Open(path, "correct horse")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, path
}

func testIdentity(t *testing.T) *identity.Identity {
	t.Helper()
	keyOnce.Do(func() {
		var err error
		testKey, err = rsa.GenerateKey(rand.Reader, crypto.DefaultRSABits)
		if err != nil {
			panic(err)
		}
	})
	id, err := identity.New("alice", testKey)
	require.NoError(t, err)
	return id
}

func TestIdentityRoundTrip(t *testing.T) {
	ctx := context.Background()
	db, path := openTestDB(t)

	_, err := db.LoadIdentity(ctx)
	assert.ErrorIs(t, err, identity.ErrNotFound)

	id := testIdentity(t)
	require.NoError(t, db.SaveIdentity(ctx, id))
	require.NoError(t, db.Close())

	reopened, err := Open(path, "correct horse")
	require.NoError(t, err)
	defer reopened.Close()

	loaded, err := reopened.LoadIdentity(ctx)
	require.NoError(t, err)
	assert.Equal(t, "alice", loaded.ID)
	assert.Equal(t, id.PublicKeyPEM, loaded.PublicKeyPEM)
	assert.Equal(t, id.PrivateKeyPEM, loaded.PrivateKeyPEM)
	assert.True(t, loaded.PrivateKey().Equal(id.PrivateKey()))
}

func TestPrivateKeySealedAtRest(t *testing.T) {
	ctx := context.Background()
	db, _ := openTestDB(t)
	id := testIdentity(t)
	require.NoError(t, db.SaveIdentity(ctx, id))

	var stored []byte
	require.NoError(t, db.db.QueryRow(`SELECT private_key FROM identity`).Scan(&stored))
	assert.NotContains(t, string(stored), "RSA PRIVATE KEY")
}

func TestOpenWrongPassword(t *testing.T) {
	_, path := openTestDB(t)

	_, err := Open(path, "wrong")
	assert.ErrorIs(t, err, ErrInvalidPassword)
}

func TestContacts(t *testing.T) {
	ctx := context.Background()
	db, _ := openTestDB(t)

	_, err := db.GetContact(ctx, "bob")
	assert.ErrorIs(t, err, contacts.ErrNotFound)

	bob := &contacts.Record{PeerID: "bob", PublicKeyPEM: "pem-1", LastSeen: 1000, Enabled: true}
	require.NoError(t, db.SaveContact(ctx, bob))

	got, err := db.GetContact(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, bob, got)

	bob.Acknowledged = true
	bob.LastSeen = 2000
	require.NoError(t, db.SaveContact(ctx, bob))
	require.NoError(t, db.SaveContact(ctx, &contacts.Record{PeerID: "amy", LastSeen: 1}))

	list, err := db.ListContacts(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "amy", list[0].PeerID)
	assert.Equal(t, *bob, list[1])
}

func TestSaveContactKeepsNewerRecord(t *testing.T) {
	ctx := context.Background()
	db, _ := openTestDB(t)

	require.NoError(t, db.SaveContact(ctx, &contacts.Record{PeerID: "bob", PublicKeyPEM: "new", LastSeen: 2000, Enabled: true}))

	err := db.SaveContact(ctx, &contacts.Record{PeerID: "bob", PublicKeyPEM: "old", LastSeen: 1000, Enabled: true})
	assert.ErrorIs(t, err, contacts.ErrStale)

	got, err := db.GetContact(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, "new", got.PublicKeyPEM)
	assert.Equal(t, int64(2000), got.LastSeen)

	// same timestamp is a flag update and lands
	require.NoError(t, db.SaveContact(ctx, &contacts.Record{PeerID: "bob", PublicKeyPEM: "new", LastSeen: 2000, Acknowledged: true}))
	got, err = db.GetContact(ctx, "bob")
	require.NoError(t, err)
	assert.True(t, got.Acknowledged)
}

func TestDirectoriesSharingOneFile(t *testing.T) {
	ctx := context.Background()
	db, _ := openTestDB(t)
	node := contacts.NewDirectory(db)
	cli := contacts.NewDirectory(db)

	ok, err := node.Upsert(ctx, "bob", contacts.Record{PublicKeyPEM: "k1", LastSeen: 1000, Enabled: true})
	require.NoError(t, err)
	require.True(t, ok)

	// the other directory holds no lock for bob; the store still refuses to go backwards
	ok, err = cli.Upsert(ctx, "bob", contacts.Record{PublicKeyPEM: "k2", LastSeen: 2000, Enabled: true})
	require.NoError(t, err)
	require.True(t, ok)

	err = db.SaveContact(ctx, &contacts.Record{PeerID: "bob", PublicKeyPEM: "k1", LastSeen: 1000, Acknowledged: true})
	assert.ErrorIs(t, err, contacts.ErrStale)

	rec, _, err := node.Get(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, "k2", rec.PublicKeyPEM)
	assert.False(t, rec.Acknowledged)
}

func TestDirectoryOverSQLite(t *testing.T) {
	ctx := context.Background()
	db, _ := openTestDB(t)
	dir := contacts.NewDirectory(db)

	ok, err := dir.Upsert(ctx, "bob", contacts.Record{PublicKeyPEM: "k", LastSeen: 1000, Enabled: true})
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = dir.Upsert(ctx, "bob", contacts.Record{PublicKeyPEM: "k2", LastSeen: 1000, Enabled: true})
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = dir.MarkAcknowledged(ctx, "bob")
	require.NoError(t, err)
	assert.True(t, ok)

	rec, found, err := dir.Get(ctx, "bob")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "k", rec.PublicKeyPEM)
	assert.True(t, rec.Acknowledged)
}

func TestEnsureOverSQLite(t *testing.T) {
	ctx := context.Background()
	db, _ := openTestDB(t)
	dir := contacts.NewDirectory(db)

	gen := func(int) (*rsa.PrivateKey, error) { return testIdentity(t).PrivateKey(), nil }
	first, err := identity.Ensure(ctx, "alice", db, dir, identity.WithKeyGenerator(gen))
	require.NoError(t, err)

	second, err := identity.Ensure(ctx, "alice", db, dir)
	require.NoError(t, err)
	assert.Equal(t, first.PublicKeyPEM, second.PublicKeyPEM)

	self, found, err := dir.Get(ctx, "alice")
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, self.Acknowledged)
}

func TestOutbox(t *testing.T) {
	ctx := context.Background()
	db, _ := openTestDB(t)

	require.NoError(t, db.Enqueue(ctx, "peer-1", "::ACKNOWLEDGMENT::__a", time.Hour))
	require.NoError(t, db.Enqueue(ctx, "peer-1", "::ACKNOWLEDGMENT::__b", time.Hour))
	require.NoError(t, db.Enqueue(ctx, "peer-2", "::ACKNOWLEDGMENT::__c", 0))

	pending, err := db.Pending(ctx, "peer-1")
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "::ACKNOWLEDGMENT::__a", pending[0].Packet)
	assert.Equal(t, "::ACKNOWLEDGMENT::__b", pending[1].Packet)

	peers, err := db.QueuedPeers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"peer-1", "peer-2"}, peers)

	require.NoError(t, db.IncrementAttempts(ctx, pending[0].ID))
	require.NoError(t, db.DeleteQueued(ctx, pending[1].ID))

	pending, err = db.Pending(ctx, "peer-1")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 1, pending[0].Attempts)

	size, err := db.QueueSize(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, size)

	purged, err := db.PurgeExpired(ctx, time.Now().Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)

	size, err = db.QueueSize(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, size)
}

func TestBoolHelpers(t *testing.T) {
	assert.Equal(t, 1, boolToInt(true))
	assert.Equal(t, 0, boolToInt(false))
	assert.True(t, intToBool(1))
	assert.False(t, intToBool(0))
}
