package identity

import (
	"context"
	"crypto/md5"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOfflineResolverDeterministic(t *testing.T) {
	r := OfflineResolver{}

	a, err := r.Resolve(context.Background(), "Notch")
	require.NoError(t, err)
	b, err := r.Resolve(context.Background(), "Notch")
	require.NoError(t, err)
	assert.Equal(t, a, b)

	c, err := r.Resolve(context.Background(), "notch")
	require.NoError(t, err)
	assert.NotEqual(t, a, c, "names are case sensitive")
}

func TestOfflineResolverNameUUIDLayout(t *testing.T) {
	r := OfflineResolver{}
	id, err := r.Resolve(context.Background(), "Alice")
	require.NoError(t, err)

	assert.Equal(t, uuid.Version(3), id.Version())
	assert.Equal(t, uuid.RFC4122, id.Variant())

	// All bits except version and variant come straight from the digest
	sum := md5.Sum([]byte("OfflinePlayer:Alice"))
	sum[6] = (sum[6] & 0x0f) | 0x30
	sum[8] = (sum[8] & 0x3f) | 0x80
	want, err := uuid.FromBytes(sum[:])
	require.NoError(t, err)
	assert.Equal(t, want, id)
}

func TestOfflineResolverEmptyName(t *testing.T) {
	_, err := OfflineResolver{}.Resolve(context.Background(), "")
	assert.ErrorIs(t, err, ErrUnresolved)
}

func TestMojangResolver(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		switch r.URL.Path {
		case "/Alice":
			w.Write([]byte(`{"id":"069a79f444e94726a5befca90e38aaf5","name":"Alice"}`))
		case "/Ghost":
			w.WriteHeader(http.StatusNotFound)
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	r := NewMojangResolver(time.Second)
	r.baseURL = srv.URL + "/%s"

	id, err := r.Resolve(context.Background(), "Alice")
	require.NoError(t, err)
	assert.Equal(t, uuid.MustParse("069a79f4-44e9-4726-a5be-fca90e38aaf5"), id)

	// cached, no second request
	_, err = r.Resolve(context.Background(), "Alice")
	require.NoError(t, err)
	assert.Equal(t, 1, hits)

	_, err = r.Resolve(context.Background(), "Ghost")
	assert.ErrorIs(t, err, ErrUnresolved)

	_, err = r.Resolve(context.Background(), "Broken")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnresolved, "server faults are not unresolved names")
}

func TestSessionResolverFastPath(t *testing.T) {
	r := NewSessionResolver(OfflineResolver{})

	online := uuid.MustParse("069a79f4-44e9-4726-a5be-fca90e38aaf5")
	r.Track("Alice", online)

	id, err := r.Resolve(context.Background(), "Alice")
	require.NoError(t, err)
	assert.Equal(t, online, id, "online session wins over the fallback")

	r.Forget("Alice")
	id, err = r.Resolve(context.Background(), "Alice")
	require.NoError(t, err)
	assert.NotEqual(t, online, id, "after forget the fallback answers")
}

func TestFromConfig(t *testing.T) {
	r, err := FromConfig("offline", time.Second)
	require.NoError(t, err)
	assert.IsType(t, OfflineResolver{}, r)

	r, err = FromConfig("mojang", time.Second)
	require.NoError(t, err)
	assert.IsType(t, &MojangResolver{}, r)

	_, err = FromConfig("bogus", time.Second)
	assert.Error(t, err)
}
