package scpi_test

import (
	"bytes"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pvlab/ivbench/comm"
	"github.com/pvlab/ivbench/scpi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeInstrument answers queries from a table; writes are recorded
type fakeInstrument struct {
	mu      sync.Mutex
	answers map[string]string
	written []string
	out     bytes.Buffer
}

func (f *fakeInstrument) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cmd := strings.TrimRight(string(p), "\n")
	f.written = append(f.written, cmd)
	if strings.Contains(cmd, "?") {
		f.out.WriteString(f.answers[cmd] + "\n")
	}
	return len(p), nil
}

func (f *fakeInstrument) Read(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.out.Len() == 0 {
		return 0, io.EOF
	}
	return f.out.Read(p)
}

func (f *fakeInstrument) Close() error { return nil }

func newSCPI(f *fakeInstrument) *scpi.SCPI {
	pool := comm.NewPool(1, time.Second, func() (io.ReadWriteCloser, error) { return f, nil })
	return &scpi.SCPI{Pool: pool}
}

func TestReadFloat(t *testing.T) {
	f := &fakeInstrument{answers: map[string]string{":MEAS:CURR?": "-1.6E-03"}}
	s := newSCPI(f)
	v, err := s.ReadFloat(":MEAS:CURR?")
	require.NoError(t, err)
	assert.InDelta(t, -0.0016, v, 1e-12)
}

func TestReadFloats(t *testing.T) {
	f := &fakeInstrument{answers: map[string]string{":READ?": "5.5E-01,-1.2E-03,9.9E+37"}}
	s := newSCPI(f)
	v, err := s.ReadFloats(":READ?")
	require.NoError(t, err)
	require.Len(t, v, 3)
	assert.InDelta(t, 0.55, v[0], 1e-12)
	assert.InDelta(t, -0.0012, v[1], 1e-12)
}

func TestHandshakingReportsDeviceError(t *testing.T) {
	f := &fakeInstrument{answers: map[string]string{
		"*CLS; SOUR:VOLT 500 ;:SYSTem:ERRor?": "-222,\"Data out of range\"",
	}}
	s := newSCPI(f)
	s.Handshaking = true
	err := s.Write("SOUR:VOLT 500")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "-222")
}

func TestHandshakingAcceptsZero(t *testing.T) {
	f := &fakeInstrument{answers: map[string]string{
		"*CLS; SOUR:VOLT 0.5 ;:SYSTem:ERRor?": "+0,\"No error\"",
	}}
	s := newSCPI(f)
	s.Handshaking = true
	assert.NoError(t, s.Write("SOUR:VOLT 0.5"))
}

func TestRawWriteDoesNotRead(t *testing.T) {
	f := &fakeInstrument{}
	s := newSCPI(f)
	out, err := s.Raw("OUTP OFF")
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Equal(t, []string{"OUTP OFF"}, f.written)
}
