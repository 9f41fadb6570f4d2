package settings

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"ptz-panel/internal/ptz"
)

func TestFileStore_MissingFileYieldsDefaults(t *testing.T) {
	s := NewFileStore(filepath.Join(t.TempDir(), "settings.json"), zaptest.NewLogger(t))

	st, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, st.FavoritePresets)
	assert.NotNil(t, st.FavoritePresets)
	assert.Empty(t, st.CurrentAddress)
}

func TestFileStore_RoundTripCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "settings.json")
	s := NewFileStore(path, zaptest.NewLogger(t))

	in := Settings{
		FavoritePresets: map[string]int{"10.128.115.30": 3, "10.128.115.31": ptz.NoPreset},
		CurrentAddress:  "10.128.115.31",
	}
	require.NoError(t, s.Save(context.Background(), in))

	out, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, in, out)

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err), "temp file left behind")
}

func TestFileStore_FileFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	s := NewFileStore(path, zaptest.NewLogger(t))
	require.NoError(t, s.Save(context.Background(), Settings{
		FavoritePresets: map[string]int{"cam": 2},
		CurrentAddress:  "cam",
	}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"favoritePresets":{"cam":2},"currentAddress":"cam"}`, string(data))
}

func TestFileStore_CorruptFileYieldsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	st, err := NewFileStore(path, zaptest.NewLogger(t)).Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Defaults(), st)
}

func TestFileStore_NullFavoritesNormalized(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"favoritePresets":null,"currentAddress":"a"}`), 0o644))

	st, err := NewFileStore(path, zaptest.NewLogger(t)).Load(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, st.FavoritePresets)
	assert.Equal(t, "a", st.CurrentAddress)
}

func TestFileStore_UnwritableReportsUnavailable(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))

	// A regular file where a directory is needed.
	s := NewFileStore(filepath.Join(blocker, "settings.json"), zaptest.NewLogger(t))
	err := s.Save(context.Background(), Defaults())
	assert.ErrorIs(t, err, ptz.ErrStorageUnavailable)
}

func TestSettings_CloneIsDeep(t *testing.T) {
	a := Settings{FavoritePresets: map[string]int{"x": 1}}
	b := a.Clone()
	b.FavoritePresets["x"] = 2
	assert.Equal(t, 1, a.FavoritePresets["x"])
}

func TestManager_FavoriteTriState(t *testing.T) {
	m := NewManager(NewMemStore(), zaptest.NewLogger(t))

	_, ok := m.Favorite("cam")
	assert.False(t, ok, "never recorded")

	m.SetFavorite("cam", ptz.NoPreset)
	id, ok := m.Favorite("cam")
	assert.True(t, ok)
	assert.Equal(t, ptz.NoPreset, id)

	m.SetFavorite("cam", 4)
	id, ok = m.Favorite("cam")
	assert.True(t, ok)
	assert.Equal(t, 4, id)
}

func TestManager_WritesThrough(t *testing.T) {
	store := NewMemStore()
	m := NewManager(store, zaptest.NewLogger(t))

	m.SetFavorite("cam", 2)
	m.SetCurrentAddress("cam")

	st, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, st.FavoritePresets["cam"])
	assert.Equal(t, "cam", st.CurrentAddress)
	assert.Equal(t, 2, store.Saves())
}

func TestManager_UnchangedAddressNotSaved(t *testing.T) {
	store := NewMemStore()
	m := NewManager(store, zaptest.NewLogger(t))

	m.SetCurrentAddress("cam")
	m.SetCurrentAddress("cam")
	assert.Equal(t, 1, store.Saves())
}

func TestManager_LoadRestores(t *testing.T) {
	store := NewMemStore()
	require.NoError(t, store.Save(context.Background(), Settings{
		FavoritePresets: map[string]int{"cam": 7},
		CurrentAddress:  "cam",
	}))

	m := NewManager(store, zaptest.NewLogger(t))
	m.Load(context.Background())

	assert.Equal(t, "cam", m.CurrentAddress())
	id, ok := m.Favorite("cam")
	assert.True(t, ok)
	assert.Equal(t, 7, id)
}

func TestManager_StorageFailureIsSilent(t *testing.T) {
	store := NewMemStore()
	store.SetErr(errors.New("disk gone"))
	m := NewManager(store, zaptest.NewLogger(t))

	m.Load(context.Background())
	m.SetFavorite("cam", 1)

	// The in-memory value still applies for this run.
	id, ok := m.Favorite("cam")
	assert.True(t, ok)
	assert.Equal(t, 1, id)
	assert.Equal(t, 0, store.Saves())
}

func TestManager_UpdateFavorite(t *testing.T) {
	store := NewMemStore()
	m := NewManager(store, zaptest.NewLogger(t))

	id, ok := m.UpdateFavorite("cam", func(int, bool) (int, bool) { return 0, false })
	assert.False(t, ok)
	assert.Equal(t, 0, store.Saves(), "no change, no save")

	setIfAbsent := func(id int, recorded bool) (int, bool) { return 3, !recorded }
	id, ok = m.UpdateFavorite("cam", setIfAbsent)
	assert.True(t, ok)
	assert.Equal(t, 3, id)
	m.SetFavorite("cam", 5)
	id, _ = m.UpdateFavorite("cam", setIfAbsent)
	assert.Equal(t, 5, id)
	assert.Equal(t, 2, store.Saves())
}

// gatedStore holds the first Save until release is closed.
type gatedStore struct {
	*MemStore
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (s *gatedStore) Save(ctx context.Context, st Settings) error {
	first := false
	s.once.Do(func() { first = true })
	if first {
		close(s.entered)
		<-s.release
	}
	return s.MemStore.Save(ctx, st)
}

func TestManager_ConcurrentSavesKeepNewest(t *testing.T) {
	store := &gatedStore{
		MemStore: NewMemStore(),
		entered:  make(chan struct{}),
		release:  make(chan struct{}),
	}
	m := NewManager(store, zaptest.NewLogger(t))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		m.SetFavorite("cam", 1)
	}()
	<-store.entered
	go func() {
		defer wg.Done()
		m.SetFavorite("cam", 2)
	}()
	require.Eventually(t, func() bool {
		id, _ := m.Favorite("cam")
		return id == 2
	}, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(store.release)
	wg.Wait()

	st, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, st.FavoritePresets["cam"])
}

func TestManager_NilStore(t *testing.T) {
	m := NewManager(nil, zaptest.NewLogger(t))
	m.Load(context.Background())
	m.SetCurrentAddress("cam")
	assert.Equal(t, "cam", m.CurrentAddress())
}

func TestManager_SnapshotIsCopy(t *testing.T) {
	m := NewManager(NewMemStore(), zaptest.NewLogger(t))
	m.SetFavorite("cam", 1)

	snap := m.Snapshot()
	snap.FavoritePresets["cam"] = 9

	id, _ := m.Favorite("cam")
	assert.Equal(t, 1, id)
}

func redisAddr(t *testing.T) string {
	t.Helper()
	addr := os.Getenv("PTZPANEL_TEST_REDIS")
	if addr == "" {
		t.Skip("PTZPANEL_TEST_REDIS not set; skipping redis test")
	}
	return addr
}

func TestRedisStore_RoundTrip(t *testing.T) {
	addr := redisAddr(t)
	ctx := context.Background()

	prefix := "ptzpanel-test:" + time.Now().Format("150405.000000") + ":"
	s := NewRedisStore(ctx, RedisConfig{Addr: addr, KeyPrefix: prefix}, zaptest.NewLogger(t))
	t.Cleanup(func() {
		rdb := redis.NewClient(&redis.Options{Addr: addr})
		rdb.Del(ctx, prefix+KeyFavoritePresets, prefix+KeyCurrentAddress)
		rdb.Close()
		s.Close()
	})

	st, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, Defaults(), st)

	in := Settings{FavoritePresets: map[string]int{"cam": 5}, CurrentAddress: "cam"}
	require.NoError(t, s.Save(ctx, in))

	out, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestRedisStore_UnreachableReportsUnavailable(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 200 * time.Millisecond,
		MaxRetries:  -1,
	})
	s := NewRedisStoreFromClient(rdb, "x:", zaptest.NewLogger(t))
	defer s.Close()

	_, err := s.Load(context.Background())
	assert.ErrorIs(t, err, ptz.ErrStorageUnavailable)

	err = s.Save(context.Background(), Defaults())
	assert.ErrorIs(t, err, ptz.ErrStorageUnavailable)
}
