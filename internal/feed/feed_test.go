package feed

import (
	"bytes"
	"context"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ssrmixer/internal/beast"
)

type recorder struct {
	mu     sync.Mutex
	lines  []string
	frames [][]byte
	mlats  []uint64
}

func (r *recorder) HandleHex(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, line)
}

func (r *recorder) HandleFrame(data []byte, mlat uint64, signal byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, append([]byte(nil), data...))
	r.mlats = append(r.mlats, mlat)
}

func (r *recorder) Lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.lines...)
}

func (r *recorder) FrameCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

const (
	identLine = "*8D4840D6202CC371C32CE0576098;"
	mlatLine  = "@00000123ABCD8D4840D6202CC371C32CE0576098;"
)

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("AVR")
	require.NoError(t, err)
	assert.Equal(t, FormatAVR, f)

	f, err = ParseFormat("beast")
	require.NoError(t, err)
	assert.Equal(t, FormatBeast, f)

	_, err = ParseFormat("sbs")
	assert.Error(t, err)
}

func TestStream_AVR(t *testing.T) {
	input := strings.Join([]string{
		identLine,
		"",
		"  " + mlatLine + "\r",
		"# comment",
		"*5D4840D6F8740F;",
	}, "\n")

	rec := &recorder{}
	err := Stream(context.Background(), strings.NewReader(input), FormatAVR, rec, quietLogger())
	require.NoError(t, err)

	assert.Equal(t, []string{identLine, mlatLine, "*5D4840D6F8740F;"}, rec.Lines())
}

func TestStream_AVRLineTooLong(t *testing.T) {
	input := "*" + strings.Repeat("0", maxLineLength+10) + ";\n"

	err := Stream(context.Background(), strings.NewReader(input), FormatAVR, &recorder{}, quietLogger())
	assert.Error(t, err)
}

func TestStream_Beast(t *testing.T) {
	short := []byte{0x5D, 0x48, 0x40, 0xD6, 0xF8, 0x74, 0x0F}
	long := []byte{0x8D, 0x48, 0x40, 0xD6, 0x20, 0x2C, 0xC3, 0x71, 0xC3, 0x2C, 0xE0, 0x57, 0x60, 0x98}

	var stream bytes.Buffer
	stream.Write(beast.Encode(beast.ModeS, 1, 10, short))
	stream.Write(beast.Encode(beast.ModeAC, 2, 10, []byte{0x12, 0x34}))
	stream.Write(beast.Encode(beast.ModeSLong, 0x1A, 10, long))

	rec := &recorder{}
	err := Stream(context.Background(), &stream, FormatBeast, rec, quietLogger())
	require.NoError(t, err)

	require.Equal(t, 2, rec.FrameCount())
	assert.Equal(t, short, rec.frames[0])
	assert.Equal(t, long, rec.frames[1])
	assert.Equal(t, []uint64{1, 0x1A}, rec.mlats)
}

func TestStream_UnknownFormat(t *testing.T) {
	err := Stream(context.Background(), strings.NewReader(""), Format("sbs"), &recorder{}, quietLogger())
	assert.Error(t, err)
}

func TestServer_AcceptsClients(t *testing.T) {
	rec := &recorder{}
	server := NewServer("127.0.0.1:0", FormatAVR, rec, quietLogger())
	require.NoError(t, server.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Serve(ctx) }()

	for i := 0; i < 2; i++ {
		conn, err := net.Dial("tcp", server.Addr().String())
		require.NoError(t, err)
		_, err = conn.Write([]byte(identLine + "\n"))
		require.NoError(t, err)
		defer conn.Close()
	}

	assert.Eventually(t, func() bool { return len(rec.Lines()) == 2 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}
	assert.Equal(t, 0, server.Connections())
}

func TestServer_RejectsConnectionsWhileStopping(t *testing.T) {
	server := NewServer("127.0.0.1:0", FormatAVR, &recorder{}, quietLogger())

	before, peer := net.Pipe()
	defer peer.Close()
	require.True(t, server.track(before))
	assert.Equal(t, 1, server.Connections())

	server.closeConns()
	_, err := before.Write([]byte(identLine))
	assert.ErrorIs(t, err, io.ErrClosedPipe)

	// Accepted just as the listener closed
	late, latePeer := net.Pipe()
	defer latePeer.Close()
	assert.False(t, server.track(late))
	_, err = late.Write([]byte(identLine))
	assert.ErrorIs(t, err, io.ErrClosedPipe)
	assert.NotContains(t, server.conns, late)
}

func TestServer_ListenError(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	server := NewServer(l.Addr().String(), FormatAVR, &recorder{}, quietLogger())
	assert.Error(t, server.Listen())
	assert.Nil(t, server.Addr())
}

func TestClient_Reconnects(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	// Each upstream connection sends one frame and hangs up
	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			conn.Write([]byte(identLine + "\n"))
			conn.Close()
		}
	}()

	rec := &recorder{}
	client := NewClient(l.Addr().String(), FormatAVR, rec, quietLogger(), 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- client.Run(ctx) }()

	assert.Eventually(t, func() bool { return len(rec.Lines()) >= 2 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("client did not stop")
	}
}

func TestClient_StopsWhileConnected(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := l.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	client := NewClient(l.Addr().String(), FormatBeast, &recorder{}, quietLogger(), time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- client.Run(ctx) }()

	var upstream net.Conn
	select {
	case upstream = <-accepted:
		defer upstream.Close()
	case <-time.After(2 * time.Second):
		t.Fatal("client did not connect")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("client did not stop")
	}
}

func TestNewClient_DefaultDelay(t *testing.T) {
	client := NewClient("127.0.0.1:1", FormatAVR, &recorder{}, quietLogger(), 0)
	assert.Equal(t, DefaultReconnectDelay, client.delay)
}
