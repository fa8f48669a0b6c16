package mesh

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBootstrap(t *testing.T) {
	infos, err := ParseBootstrap([]string{
		"/ip4/127.0.0.1/tcp/4001/p2p/QmNnooDu7bfjPFoTZYxMNLWUQJyrVwtbZg5gBMjTezGAJN",
	})
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, "QmNnooDu7bfjPFoTZYxMNLWUQJyrVwtbZg5gBMjTezGAJN", infos[0].ID.String())
	require.Len(t, infos[0].Addrs, 1)
	assert.Equal(t, "/ip4/127.0.0.1/tcp/4001", infos[0].Addrs[0].String())

	_, err = ParseBootstrap([]string{"not-a-multiaddr"})
	assert.Error(t, err)

	_, err = ParseBootstrap([]string{"/ip4/127.0.0.1/tcp/4001"})
	assert.Error(t, err)
}

func TestTopics(t *testing.T) {
	assert.Equal(t, "/syncbeats/rooms/abc/doc", getDocTopic("abc"))
	assert.Equal(t, "/syncbeats/rooms/abc/awareness", getAwarenessTopic("abc"))
	assert.Equal(t, "/syncbeats/rooms/abc/sync-req", getSyncReqTopic("abc"))
}
