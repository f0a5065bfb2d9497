package benchhttp_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/pvlab/ivbench/bench"
	"github.com/pvlab/ivbench/benchhttp"
	"github.com/pvlab/ivbench/measure"
	"github.com/pvlab/ivbench/stage"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	srv   *httptest.Server
	api   *benchhttp.Server
	bench *bench.Bench
}

func setup(t *testing.T) *fixture {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)
	cfg := bench.Default()
	cfg.Runner.LightCheckDwell = 0.01
	b, err := bench.Build(cfg, log)
	require.NoError(t, err)
	api := benchhttp.New(b.Runner, b.Unit, b.Lamp, log)
	api.Stage = b.Stage
	srv := httptest.NewServer(api.Router())
	t.Cleanup(func() {
		b.Runner.RequestAbort()
		api.Wait()
		srv.Close()
		b.Close()
	})
	return &fixture{srv: srv, api: api, bench: b}
}

func (f *fixture) post(t *testing.T, path string, body interface{}) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	resp, err := http.Post(f.srv.URL+path, "application/json", &buf)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (f *fixture) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(f.srv.URL + path)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func common() measure.Common {
	return measure.Common{
		Intensity:         100,
		ActiveArea:        0.1,
		VoltageCompliance: 2,
		CurrentCompliance: 0.1,
		UseReference:      true,
	}
}

func sweep() *measure.SweepParams {
	return &measure.SweepParams{
		Common: common(),
		Start:  measure.Volts(0),
		Stop:   measure.Volts(0.5),
		Step:   0.1,
		Rate:   10,
	}
}

func longCV() *measure.ConstantVoltageParams {
	return &measure.ConstantVoltageParams{TimeSeries: measure.TimeSeries{
		Common:   common(),
		SetPoint: 0.3,
		Interval: 0.01,
		Duration: 60,
	}}
}

func TestRunThenFetchOutcome(t *testing.T) {
	f := setup(t)
	resp := f.post(t, "/runs/sweep", sweep())
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var id benchhttp.ID
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&id))
	require.NotEmpty(t, id.ID)

	f.api.Wait()
	resp = f.get(t, "/runs/"+id.ID)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out measure.RunOutcome
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, id.ID, out.ID)
	assert.Equal(t, measure.StateCompleted, out.Final)
	assert.Len(t, out.Samples, 6)

	resp = f.get(t, "/state")
	var st benchhttp.StateReply
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	assert.Equal(t, measure.StateIdle, st.State)
	assert.Empty(t, st.RunID)
}

func TestRejectedRequests(t *testing.T) {
	f := setup(t)
	assert.Equal(t, http.StatusNotFound, f.post(t, "/runs/iv-curve", sweep()).StatusCode)
	assert.Equal(t, http.StatusNotFound, f.get(t, "/runs/nope").StatusCode)

	bad := sweep()
	bad.Rate = 0
	assert.Equal(t, http.StatusBadRequest, f.post(t, "/runs/sweep", bad).StatusCode)

	over := sweep()
	over.Stop = measure.Volts(3)
	assert.Equal(t, http.StatusBadRequest, f.post(t, "/runs/sweep", over).StatusCode)

	assert.Equal(t, http.StatusBadRequest, f.post(t, "/lamp/on", map[string]float64{"f64": 42}).StatusCode)
	on, _ := f.bench.Lamp.(interface{ On() (bool, float64) }).On()
	assert.False(t, on)
}

func TestStreamBusyAndAbort(t *testing.T) {
	f := setup(t)
	resp := f.post(t, "/runs/cv", longCV())
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var id benchhttp.ID
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&id))

	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/runs/" + id.ID + "/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var m benchhttp.Message
	for {
		require.NoError(t, conn.ReadJSON(&m))
		if m.Type == benchhttp.TypeSample {
			break
		}
	}
	require.NotNil(t, m.Sample)
	assert.InDelta(t, 0.3, m.Sample.Voltage, 1e-9)

	assert.Equal(t, http.StatusConflict, f.post(t, "/runs/sweep", sweep()).StatusCode)
	assert.Equal(t, http.StatusConflict, f.post(t, "/calibrate", &measure.CalibrationParams{}).StatusCode)
	assert.Equal(t, http.StatusLocked, f.get(t, "/smu/measure").StatusCode)
	assert.Equal(t, http.StatusLocked, f.post(t, "/lamp/off", nil).StatusCode)
	assert.Equal(t, http.StatusAccepted, f.get(t, "/runs/"+id.ID).StatusCode)

	require.Equal(t, http.StatusOK, f.post(t, "/abort", nil).StatusCode)
	for m.Type != benchhttp.TypeOutcome {
		m = benchhttp.Message{}
		require.NoError(t, conn.ReadJSON(&m))
	}
	require.NotNil(t, m.Outcome)
	assert.Equal(t, measure.StateAborted, m.Outcome.Final)
	assert.Empty(t, m.Error)

	f.api.Wait()
	assert.Equal(t, http.StatusOK, f.get(t, "/smu/measure").StatusCode)
	on, _ := f.bench.Lamp.(interface{ On() (bool, float64) }).On()
	assert.False(t, on, "lamp off after abort")
}

func TestStreamOfFinishedRunReplays(t *testing.T) {
	f := setup(t)
	resp := f.post(t, "/runs/sweep", sweep())
	var id benchhttp.ID
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&id))
	f.api.Wait()

	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/runs/" + id.ID + "/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	samples := 0
	for {
		var m benchhttp.Message
		require.NoError(t, conn.ReadJSON(&m))
		if m.Type == benchhttp.TypeSample {
			samples++
		}
		if m.Type == benchhttp.TypeOutcome {
			break
		}
	}
	assert.Equal(t, 6, samples)
}

func TestCalibrate(t *testing.T) {
	f := setup(t)
	p := &measure.CalibrationParams{
		TimeSeries: measure.TimeSeries{
			Common:   common(),
			Interval: 0.01,
			Duration: 0.05,
		},
		OperatorReference: -0.0016,
	}
	resp := f.post(t, "/calibrate", p)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out measure.CalibrationOutcome
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.InDelta(t, 1, out.Factor, 1e-9)
	assert.InDelta(t, -0.0011, out.ReferenceCurrent, 1e-9)
}

func TestManualControl(t *testing.T) {
	f := setup(t)
	require.Equal(t, http.StatusOK, f.post(t, "/lamp/on", map[string]float64{"f64": 100}).StatusCode)
	assert.Equal(t, 100., f.bench.Emulator.Illumination())

	resp := f.get(t, "/lamp")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var lamp benchhttp.LampReply
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&lamp))
	assert.True(t, lamp.On)

	resp = f.get(t, "/smu/B/current")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, http.StatusBadRequest, f.get(t, "/smu/Q/current").StatusCode)

	require.Equal(t, http.StatusOK, f.post(t, "/smu/output-off", nil).StatusCode)
	require.Equal(t, http.StatusOK, f.post(t, "/lamp/off", nil).StatusCode)
	assert.Zero(t, f.bench.Emulator.Illumination())

	require.Equal(t, http.StatusOK, f.post(t, "/stage/reference", nil).StatusCode)
	assert.Equal(t, stage.ReferenceDiode, f.bench.Stage.(*stage.Mock).Current())
	assert.Equal(t, http.StatusNotFound, f.post(t, "/stage/sideways", nil).StatusCode)

	// a manual lock blocks manual control without a run
	require.Equal(t, http.StatusOK, f.post(t, "/lock", map[string]bool{"bool": true}).StatusCode)
	assert.Equal(t, http.StatusLocked, f.get(t, "/smu/measure").StatusCode)
}
