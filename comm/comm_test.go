package comm_test

import (
	"bufio"
	"bytes"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/pvlab/ivbench/comm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopConn struct {
	bytes.Buffer
	mu     sync.Mutex
	closed bool
}

func (c *nopConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *nopConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func countingMaker(made *[]*nopConn) comm.CreationFunc {
	return func() (io.ReadWriteCloser, error) {
		c := &nopConn{}
		*made = append(*made, c)
		return c, nil
	}
}

// tcpEchoServer echoes every line back to the sender, upper-cased markers aside
func tcpEchoServer(t *testing.T) string {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				r := bufio.NewReader(conn)
				for {
					line, err := r.ReadBytes('\r')
					if err != nil {
						return
					}
					conn.Write(line)
				}
			}()
		}
	}()
	return ln.Addr().String()
}

func TestPoolReusesReturnedConnections(t *testing.T) {
	var made []*nopConn
	pool := comm.NewPool(3, time.Second, countingMaker(&made))
	for i := 0; i < 5; i++ {
		conn, err := pool.Get()
		require.NoError(t, err)
		pool.Put(conn)
	}
	assert.Len(t, made, 1, "a returned connection should be reused")
	assert.Equal(t, 1, pool.Size())
	assert.Equal(t, 0, pool.Active())
}

func TestPoolGrowsToCapacity(t *testing.T) {
	var made []*nopConn
	pool := comm.NewPool(3, time.Second, countingMaker(&made))
	for i := 0; i < 3; i++ {
		_, err := pool.Get()
		require.NoError(t, err)
	}
	assert.Len(t, made, 3)
	assert.Equal(t, 3, pool.Active())
}

func TestPoolMaintainsSize(t *testing.T) {
	var made []*nopConn
	pool := comm.NewPool(2, time.Second, countingMaker(&made))
	held := []io.ReadWriter{}
	for i := 0; i < 2; i++ {
		rw, err := pool.Get()
		require.NoError(t, err)
		held = append(held, rw)
	}
	got := make(chan io.ReadWriter, 1)
	go func() {
		rw, _ := pool.Get()
		got <- rw
	}()
	select {
	case <-got:
		t.Fatal("failed to prevent pool overflow")
	case <-time.After(50 * time.Millisecond):
	}
	pool.Put(held[0])
	select {
	case rw := <-got:
		assert.Equal(t, held[0], rw)
	case <-time.After(time.Second):
		t.Fatal("waiting Get was not served after Put")
	}
}

func TestPoolReturnWithErrorDestroys(t *testing.T) {
	var made []*nopConn
	pool := comm.NewPool(2, time.Second, countingMaker(&made))
	rw, err := pool.Get()
	require.NoError(t, err)
	pool.ReturnWithError(rw, io.ErrUnexpectedEOF)
	assert.True(t, made[0].isClosed())
	assert.Equal(t, 0, pool.Size())
}

func TestPoolReclaimsIdleConnections(t *testing.T) {
	var made []*nopConn
	pool := comm.NewPool(2, 10*time.Millisecond, countingMaker(&made))
	rw, err := pool.Get()
	require.NoError(t, err)
	pool.Put(rw)
	assert.Eventually(t, made[0].isClosed, time.Second, 5*time.Millisecond)
}

func TestTerminatorFraming(t *testing.T) {
	buf := &bytes.Buffer{}
	term := comm.NewTerminator(buf, '\n', '\n')
	n, err := term.Write([]byte("*IDN?"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, "*IDN?\n", buf.String())

	buf.Reset()
	buf.WriteString("KEITHLEY,2602B\nnext\n")
	p := make([]byte, 64)
	n, err = term.Read(p)
	require.NoError(t, err)
	assert.Equal(t, "KEITHLEY,2602B", string(p[:n]))
	n, err = term.Read(p)
	require.NoError(t, err)
	assert.Equal(t, "next", string(p[:n]))
}

func TestRemoteDeviceSendRecv(t *testing.T) {
	addr := tcpEchoServer(t)
	rd := comm.NewRemoteDevice(addr, false, nil, nil)
	defer rd.Close()
	resp, err := rd.SendRecv([]byte("1PA10.5"))
	require.NoError(t, err)
	assert.Equal(t, "1PA10.5", string(resp))
	resp, err = rd.SendRecv([]byte("1TP"))
	require.NoError(t, err)
	assert.Equal(t, "1TP", string(resp))
}

func TestRemoteDeviceSerialWithoutConfig(t *testing.T) {
	rd := comm.NewRemoteDevice("/dev/ttyS99", true, nil, nil)
	err := rd.Write([]byte("X"))
	assert.Error(t, err)
}
