package listener

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListenAndServeEchoesConnections(t *testing.T) {
	ln, err := Listen(context.Background(), "127.0.0.1:0", false)
	require.NoError(t, err)

	go func() {
		_ = Serve(ln, func(conn net.Conn) {
			defer conn.Close()
			io.Copy(conn, conn)
		})
	}()
	defer ln.Close()

	conn, err := net.DialTimeout("tcp", ln.Addr().String(), time.Second)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("ping"))
	require.NoError(t, err)

	buf := make([]byte, 4)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err = io.ReadFull(conn, buf)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(buf))
}

func TestListenRejectsInvalidAddress(t *testing.T) {
	_, err := Listen(context.Background(), "not-an-address", false)
	assert.Error(t, err)
}
