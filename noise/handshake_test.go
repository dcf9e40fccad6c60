package noise

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/at1559/WhatsappWeb4j/crypto"
)

// serverSide is a minimal mirror of the relay's half of the handshake,
// written only so the client-side Handshake type has something real to
// exchange messages with in tests. It is not part of the module's public
// surface — the module never plays the server role in production.
type serverSide struct {
	state  symmetricState
	ephem  *crypto.KeyPair
	static *crypto.KeyPair
}

func newServerSide(version uint32, ephem, static *crypto.KeyPair) *serverSide {
	s := &serverSide{ephem: ephem, static: static}
	s.state.start(BuildPrologue(version))
	return s
}

func (s *serverSide) consumeClientHello(clientEphem [32]byte) {
	s.state.updateHash(clientEphem[:])
}

func (s *serverSide) buildServerHello(clientEphem [32]byte) (serverEphemPub [32]byte, encStatic, encPayload []byte, err error) {
	s.state.updateHash(s.ephem.Pub[:])

	dh1, err := crypto.DH(s.ephem.Priv, clientEphem)
	if err != nil {
		return serverEphemPub, nil, nil, err
	}
	if err := s.state.mixIntoKey(dh1); err != nil {
		return serverEphemPub, nil, nil, err
	}

	encStatic = s.state.cypherEncrypt(s.static.Pub[:])

	dh2, err := crypto.DH(s.static.Priv, clientEphem)
	if err != nil {
		return serverEphemPub, nil, nil, err
	}
	if err := s.state.mixIntoKey(dh2); err != nil {
		return serverEphemPub, nil, nil, err
	}

	encPayload = s.state.cypherEncrypt([]byte("server-hello-payload"))
	return s.ephem.Pub, encStatic, encPayload, nil
}

func TestHandshakeRoundTrip(t *testing.T) {
	clientEphem, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	clientStatic, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	serverEphem, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	serverStatic, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	const version = uint32(2)
	clientPayload := []byte("client-payload-bytes")

	client := NewHandshake(clientEphem, clientStatic, version, clientPayload)
	server := newServerSide(version, serverEphem, serverStatic)

	// Message 1: ClientHello.
	clientHelloBytes := client.ClientHello()
	require.Len(t, clientHelloBytes, 32)
	server.consumeClientHello(clientEphem.Pub)

	// Message 2: ServerHello.
	srvEphemPub, encStatic, encPayload, err := server.buildServerHello(clientEphem.Pub)
	require.NoError(t, err)

	gotServerStatic, gotServerPayload, err := client.ProcessServerHello(srvEphemPub, encStatic, encPayload)
	require.NoError(t, err)
	require.Equal(t, serverStatic.Pub, gotServerStatic)
	require.Equal(t, []byte("server-hello-payload"), gotServerPayload)

	// Message 3: ClientFinish.
	clientEncStatic, clientEncPayload, err := client.ClientFinish(srvEphemPub)
	require.NoError(t, err)

	// Mirror the server-side "se" mix: dh3 = DH(server_ephem_priv, client_static_pub).
	dh3, err := crypto.DH(serverEphem.Priv, clientStatic.Pub)
	require.NoError(t, err)
	require.NoError(t, server.state.mixIntoKey(dh3))

	decStatic, err := server.state.cypherDecrypt(clientEncStatic, StateClientFinish)
	require.NoError(t, err)
	require.Equal(t, clientStatic.Pub[:], decStatic)

	decPayload, err := server.state.cypherDecrypt(clientEncPayload, StateClientFinish)
	require.NoError(t, err)
	require.Equal(t, clientPayload, decPayload)

	result, err := client.Finish(gotServerStatic, gotServerPayload)
	require.NoError(t, err)

	serverWriteKey, serverReadKey, err := server.state.finish()
	require.NoError(t, err)

	// The client's write key is the server's read key and vice versa.
	require.Equal(t, result.WriteKey, serverReadKey)
	require.Equal(t, result.ReadKey, serverWriteKey)
}

func TestHandshakeTamperedServerHelloFails(t *testing.T) {
	clientEphem, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	clientStatic, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	serverEphem, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	serverStatic, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	const version = uint32(2)
	client := NewHandshake(clientEphem, clientStatic, version, []byte("payload"))
	server := newServerSide(version, serverEphem, serverStatic)

	client.ClientHello()
	server.consumeClientHello(clientEphem.Pub)

	srvEphemPub, encStatic, encPayload, err := server.buildServerHello(clientEphem.Pub)
	require.NoError(t, err)

	tampered := append([]byte(nil), encStatic...)
	tampered[0] ^= 0xFF

	_, _, err = client.ProcessServerHello(srvEphemPub, tampered, encPayload)
	require.Error(t, err)

	var authErr *HandshakeAuthError
	require.ErrorAs(t, err, &authErr)
	require.Equal(t, StateServerHello, authErr.State)
}
