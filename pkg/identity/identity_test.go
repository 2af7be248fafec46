package identity

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ZentaChain/chatguard/pkg/contacts"
	"github.com/ZentaChain/chatguard/pkg/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	keyOnce sync.Once
	key     *rsa.PrivateKey
)

// fixedKey avoids generating a fresh 2048-bit key per test
func fixedKey(t *testing.T) func(int) (*rsa.PrivateKey, error) {
	t.Helper()
	keyOnce.Do(func() {
		var err error
		key, err = rsa.GenerateKey(rand.Reader, crypto.DefaultRSABits)
		if err != nil {
			panic(err)
		}
	})
	return func(int) (*rsa.PrivateKey, error) { return key, nil }
}

func TestEnsureCreatesIdentity(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	dir := contacts.NewDirectory(contacts.NewMemoryStore())
	now := time.UnixMilli(5000)

	id, err := Ensure(ctx, "alice", store, dir,
		WithKeyGenerator(fixedKey(t)),
		WithClock(func() time.Time { return now }),
	)
	require.NoError(t, err)
	assert.Equal(t, "alice", id.ID)
	assert.NotEmpty(t, id.PublicKeyPEM)
	assert.NotEmpty(t, id.PrivateKeyPEM)
	assert.Equal(t, 1, store.Saves())

	self, found, err := dir.Get(ctx, "alice")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, id.PublicKeyPEM, self.PublicKeyPEM)
	assert.Equal(t, int64(5000), self.LastSeen)
	assert.True(t, self.Enabled)
	assert.True(t, self.Acknowledged)
}

func TestEnsureIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	dir := contacts.NewDirectory(contacts.NewMemoryStore())

	first, err := Ensure(ctx, "alice", store, dir, WithKeyGenerator(fixedKey(t)))
	require.NoError(t, err)

	calls := 0
	second, err := Ensure(ctx, "alice", store, dir, WithKeyGenerator(func(int) (*rsa.PrivateKey, error) {
		calls++
		return nil, errors.New("must not be called")
	}))
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Zero(t, calls)
	assert.Equal(t, 1, store.Saves())
}

func TestEnsureKeyGenerationFailed(t *testing.T) {
	store := NewMemoryStore()
	dir := contacts.NewDirectory(contacts.NewMemoryStore())

	_, err := Ensure(context.Background(), "alice", store, dir, WithKeyGenerator(func(int) (*rsa.PrivateKey, error) {
		return nil, errors.New("entropy exhausted")
	}))
	assert.ErrorIs(t, err, ErrKeyGenerationFailed)
	assert.Zero(t, store.Saves())

	_, found, _ := dir.Get(context.Background(), "alice")
	assert.False(t, found)
}

func TestEnsureCancelled(t *testing.T) {
	store := NewMemoryStore()
	dir := contacts.NewDirectory(contacts.NewMemoryStore())

	release := make(chan struct{})
	defer close(release)
	slow := func(int) (*rsa.PrivateKey, error) {
		<-release
		return nil, errors.New("too late")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := Ensure(ctx, "alice", store, dir, WithKeyGenerator(slow))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Zero(t, store.Saves())
}

func TestEnsureIdentityMismatch(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	dir := contacts.NewDirectory(contacts.NewMemoryStore())

	_, err := Ensure(ctx, "alice", store, dir, WithKeyGenerator(fixedKey(t)))
	require.NoError(t, err)

	_, err = Ensure(ctx, "bob", store, dir, WithKeyGenerator(fixedKey(t)))
	assert.ErrorIs(t, err, ErrIdentityMismatch)
}

func TestEnsureRejectsBadID(t *testing.T) {
	dir := contacts.NewDirectory(contacts.NewMemoryStore())
	_, err := Ensure(context.Background(), "a__b", NewMemoryStore(), dir, WithKeyGenerator(fixedKey(t)))
	assert.Error(t, err)
}

func TestFromPEM(t *testing.T) {
	k, err := fixedKey(t)(crypto.DefaultRSABits)
	require.NoError(t, err)
	id, err := New("alice", k)
	require.NoError(t, err)

	loaded, err := FromPEM("alice", id.PublicKeyPEM, id.PrivateKeyPEM)
	require.NoError(t, err)
	assert.True(t, loaded.PublicKey().Equal(id.PublicKey()))

	fp1, err := id.Fingerprint()
	require.NoError(t, err)
	fp2, err := loaded.Fingerprint()
	require.NoError(t, err)
	assert.Equal(t, fp1, fp2)

	other, err := rsa.GenerateKey(rand.Reader, crypto.DefaultRSABits)
	require.NoError(t, err)
	otherPEM, err := crypto.ExportPublicKeyPEM(&other.PublicKey)
	require.NoError(t, err)

	_, err = FromPEM("alice", string(otherPEM), id.PrivateKeyPEM)
	assert.ErrorIs(t, err, crypto.ErrInvalidKey)

	_, err = FromPEM("alice", id.PublicKeyPEM, "garbage")
	assert.ErrorIs(t, err, crypto.ErrInvalidKey)
}

// failingStore fails the first n SaveIdentity calls
type failingStore struct {
	*MemoryStore
	failures int
}

func (s *failingStore) SaveIdentity(ctx context.Context, id *Identity) error {
	if s.failures > 0 {
		s.failures--
		return errors.New("disk full")
	}
	return s.MemoryStore.SaveIdentity(ctx, id)
}

func TestEnsureSaveFailureLeavesNoSelfRecord(t *testing.T) {
	ctx := context.Background()
	store := &failingStore{MemoryStore: NewMemoryStore(), failures: 1}
	dir := contacts.NewDirectory(contacts.NewMemoryStore())
	clock := WithClock(func() time.Time { return time.UnixMilli(1000) })

	other, err := rsa.GenerateKey(rand.Reader, crypto.DefaultRSABits)
	require.NoError(t, err)
	keys := []*rsa.PrivateKey{other}
	gen := func(bits int) (*rsa.PrivateKey, error) {
		if len(keys) > 0 {
			k := keys[0]
			keys = keys[1:]
			return k, nil
		}
		return fixedKey(t)(bits)
	}

	_, err = Ensure(ctx, "alice", store, dir, WithKeyGenerator(gen), clock)
	require.Error(t, err)

	_, err = store.LoadIdentity(ctx)
	assert.ErrorIs(t, err, ErrNotFound)
	_, found, err := dir.Get(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, found)

	// retry in the same millisecond with a different key
	id, err := Ensure(ctx, "alice", store, dir, WithKeyGenerator(gen), clock)
	require.NoError(t, err)

	self, found, err := dir.Get(ctx, "alice")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, id.PublicKeyPEM, self.PublicKeyPEM)
	assert.Equal(t, int64(1000), self.LastSeen)
}

func TestEnsureRepairsSelfRecord(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	dir := contacts.NewDirectory(contacts.NewMemoryStore())
	clock := WithClock(func() time.Time { return time.UnixMilli(1000) })

	k, err := fixedKey(t)(crypto.DefaultRSABits)
	require.NoError(t, err)
	id, err := New("alice", k)
	require.NoError(t, err)
	require.NoError(t, store.SaveIdentity(ctx, id))

	t.Run("Missing", func(t *testing.T) {
		_, err := Ensure(ctx, "alice", store, dir, clock)
		require.NoError(t, err)

		self, found, err := dir.Get(ctx, "alice")
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, id.PublicKeyPEM, self.PublicKeyPEM)
		assert.True(t, self.Acknowledged)
	})

	t.Run("NewerWithWrongKey", func(t *testing.T) {
		other, err := rsa.GenerateKey(rand.Reader, crypto.DefaultRSABits)
		require.NoError(t, err)
		otherPEM, err := crypto.ExportPublicKeyPEM(&other.PublicKey)
		require.NoError(t, err)
		_, err = dir.Upsert(ctx, "alice", contacts.Record{PublicKeyPEM: string(otherPEM), LastSeen: 5000, Acknowledged: true})
		require.NoError(t, err)

		_, err = Ensure(ctx, "alice", store, dir, clock)
		require.NoError(t, err)

		self, _, err := dir.Get(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, id.PublicKeyPEM, self.PublicKeyPEM)
		assert.Equal(t, int64(5001), self.LastSeen)
	})

	t.Run("Untouched", func(t *testing.T) {
		before, _, err := dir.Get(ctx, "alice")
		require.NoError(t, err)
		_, err = Ensure(ctx, "alice", store, dir, clock)
		require.NoError(t, err)
		after, _, err := dir.Get(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, before.LastSeen, after.LastSeen)
	})
}
