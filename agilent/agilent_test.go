package agilent_test

import (
	"bytes"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pvlab/ivbench/agilent"
	"github.com/pvlab/ivbench/comm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// generator keeps the DC offset it was last sent
type generator struct {
	mu     sync.Mutex
	offset string
	lines  []string
	out    bytes.Buffer
}

func (g *generator) Write(p []byte) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	line := strings.TrimRight(string(p), "\n")
	g.lines = append(g.lines, line)
	switch {
	case strings.HasPrefix(line, "VOLT:OFFS?"):
		g.out.WriteString(g.offset + "\n")
	case strings.HasPrefix(line, "OUTP?"):
		g.out.WriteString("1\n")
	case strings.HasPrefix(line, "VOLT:OFFS "):
		g.offset = strings.TrimPrefix(line, "VOLT:OFFS ")
	}
	return len(p), nil
}

func (g *generator) Read(p []byte) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.out.Len() == 0 {
		return 0, io.EOF
	}
	return g.out.Read(p)
}

func (g *generator) Close() error { return nil }

func TestAmplitudeRoundTrip(t *testing.T) {
	g := &generator{}
	fg := agilent.NewFunctionGenerator(comm.NewPool(1, time.Second, func() (io.ReadWriteCloser, error) { return g, nil }))
	require.NoError(t, fg.SetAmplitude(2.5))
	a, err := fg.Amplitude()
	require.NoError(t, err)
	assert.Equal(t, 2.5, a)
	assert.Equal(t, []string{"FUNC:SHAP DC", "VOLT:OFFS 2.5", "VOLT:OFFS?"}, g.lines)

	on, err := fg.GetOutput()
	require.NoError(t, err)
	assert.True(t, on)
}
