package benchhttp

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/pkg/errors"
	"github.com/pvlab/ivbench/generichttp"
	"github.com/pvlab/ivbench/illumination"
	"github.com/pvlab/ivbench/smu"
	"github.com/pvlab/ivbench/stage"
)

// Reading is the reply of the manual measure routes
type Reading struct {
	Channel smu.ChannelID `json:"channel"`
	Voltage float64       `json:"voltage"`
	Current float64       `json:"current"`
}

func (s *Server) channel(r *http.Request) (smu.ChannelID, error) {
	ch := s.Test
	if c := chi.URLParam(r, "ch"); c != "" {
		if err := ch.UnmarshalText([]byte(c)); err != nil {
			return ch, err
		}
	}
	return ch, nil
}

// onChannel adapts an operation on one channel to a handler
func (s *Server) onChannel(f func(http.ResponseWriter, smu.ChannelID) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ch, err := s.channel(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := f(w, ch); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
}

func (s *Server) smuRT() generichttp.RouteTable {
	measure := s.onChannel(func(w http.ResponseWriter, ch smu.ChannelID) error {
		v, err := s.SMU.MeasureVoltage(ch)
		if err != nil {
			return err
		}
		i, err := s.SMU.MeasureCurrent(ch)
		if err != nil {
			return err
		}
		generichttp.ReplyJSON(w, http.StatusOK, Reading{Channel: ch, Voltage: v, Current: i})
		return nil
	})
	voltage := s.onChannel(func(w http.ResponseWriter, ch smu.ChannelID) error {
		return get(w, func() (float64, error) { return s.SMU.MeasureVoltage(ch) })
	})
	current := s.onChannel(func(w http.ResponseWriter, ch smu.ChannelID) error {
		return get(w, func() (float64, error) { return s.SMU.MeasureCurrent(ch) })
	})
	off := s.onChannel(func(w http.ResponseWriter, ch smu.ChannelID) error {
		if err := s.SMU.DisableOutput(ch); err != nil {
			return err
		}
		w.WriteHeader(http.StatusOK)
		return nil
	})
	return generichttp.RouteTable{
		{Method: http.MethodGet, Path: "/measure"}:          measure,
		{Method: http.MethodGet, Path: "/{ch}/measure"}:     measure,
		{Method: http.MethodGet, Path: "/{ch}/voltage"}:     voltage,
		{Method: http.MethodGet, Path: "/{ch}/current"}:     current,
		{Method: http.MethodPost, Path: "/{ch}/output-off"}: off,
		{Method: http.MethodGet, Path: "/voltage"}:          generichttp.GetFloat(func() (float64, error) { return s.SMU.MeasureVoltage(s.Test) }),
		{Method: http.MethodGet, Path: "/current"}:          generichttp.GetFloat(func() (float64, error) { return s.SMU.MeasureCurrent(s.Test) }),
		{Method: http.MethodPost, Path: "/output-off"}:      generichttp.Do(func() error { return s.SMU.DisableOutput(smu.Both) }),
	}
}

func get(w http.ResponseWriter, f func() (float64, error)) error {
	v, err := f()
	if err != nil {
		return err
	}
	generichttp.ReplyJSON(w, http.StatusOK, generichttp.FloatT{F64: v})
	return nil
}

// LampReply is the reply of GET /lamp
type LampReply struct {
	On        bool    `json:"on"`
	Intensity float64 `json:"intensity"`
}

func (s *Server) lampRT() generichttp.RouteTable {
	rt := generichttp.RouteTable{
		{Method: http.MethodPost, Path: "/on"}: func(w http.ResponseWriter, r *http.Request) {
			f := generichttp.FloatT{}
			err := json.NewDecoder(r.Body).Decode(&f)
			r.Body.Close()
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			if err := s.Lamp.LightOn(r.Context(), f.F64); err != nil {
				http.Error(w, err.Error(), lampStatus(err))
				return
			}
			w.WriteHeader(http.StatusOK)
		},
		{Method: http.MethodPost, Path: "/off"}: func(w http.ResponseWriter, r *http.Request) {
			if err := s.Lamp.LightOff(r.Context()); err != nil {
				http.Error(w, err.Error(), lampStatus(err))
				return
			}
			w.WriteHeader(http.StatusOK)
		},
	}
	if st, ok := s.Lamp.(illumination.State); ok {
		rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/"}] = func(w http.ResponseWriter, r *http.Request) {
			on, i := st.On()
			generichttp.ReplyJSON(w, http.StatusOK, LampReply{On: on, Intensity: i})
		}
	}
	return rt
}

func (s *Server) stageRT() generichttp.RouteTable {
	return generichttp.RouteTable{
		{Method: http.MethodPost, Path: "/{pos}"}: func(w http.ResponseWriter, r *http.Request) {
			pos, err := stage.ParsePosition(chi.URLParam(r, "pos"))
			if err != nil {
				http.Error(w, err.Error(), http.StatusNotFound)
				return
			}
			if err := s.Stage.EnterMeasurementPosition(r.Context(), pos); err != nil {
				http.Error(w, err.Error(), http.StatusBadGateway)
				return
			}
			w.WriteHeader(http.StatusOK)
		},
	}
}

func lampStatus(err error) int {
	if errors.Is(err, illumination.ErrUndefinedIntensity) {
		return http.StatusBadRequest
	}
	return http.StatusBadGateway
}
