package server

import (
	"bufio"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// expectLine reads from r until a line containing want arrives.
func expectLine(t *testing.T, conn net.Conn, r *bufio.Reader, want string) string {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err, "waiting for %q", want)
		if strings.Contains(line, want) {
			return line
		}
	}
}

func TestServeTelnetSession(t *testing.T) {
	env := newTestEnv(t)
	g := env.game
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewServer(g).Serve(ctx, ln) }()

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	r := bufio.NewReader(conn)

	expectLine(t, conn, r, "Welcome to mushcontrib.")
	_, err = conn.Write([]byte("connect Alice wrong\r\n"))
	require.NoError(t, err)
	expectLine(t, conn, r, "Either that player does not exist")

	_, err = conn.Write([]byte("\xff\xfb\x01connect Alice alicepw\r\n"))
	require.NoError(t, err)
	expectLine(t, conn, r, "Welcome back, Alice!")

	_, err = conn.Write([]byte("bug the door sticks\r\n"))
	require.NoError(t, err)
	expectLine(t, conn, r, "Your report has been filed.")
	var devOut strings.Builder
	require.Eventually(t, func() bool {
		devOut.WriteString(getOutput(env.dev))
		return strings.Contains(devOut.String(), "[Reports] New bug report from Alice.")
	}, 5*time.Second, 10*time.Millisecond)

	_, err = conn.Write([]byte("QUIT\r\n"))
	require.NoError(t, err)
	expectLine(t, conn, r, "Going home.")

	require.Eventually(t, func() bool {
		return g.Conns.Count() == 4
	}, 5*time.Second, 10*time.Millisecond, "descriptor removed after quit")
	assert.Equal(t, 1.0, testutil.ToFloat64(g.Metrics.connectionsTotal.WithLabelValues("tcp")))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not stop")
	}
}

func TestStripTelnet(t *testing.T) {
	assert.Equal(t, "look", stripTelnet("\xff\xfd\x18look"))
	assert.Equal(t, "say hi", stripTelnet("say\x07 hi"))
	assert.Equal(t, "a\tb", stripTelnet("a\tb"))
}
