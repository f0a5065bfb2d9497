// Package scpi provides primitives for working with devices that
// have SCPI (or SCPI-like, line oriented) interfaces
package scpi

import (
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/pvlab/ivbench/comm"
)

const (
	defaultTimeout = 5 * time.Second

	tcpFrameSize = 1500
)

// SCPI is a type for encapsulating SCPI communication
type SCPI struct {
	Pool *comm.Pool

	// Handshaking indicates if the communication shall use handshaking,
	// where an error query is sent with every message
	// to ensure the device accepted the input
	Handshaking bool

	// Timeout bounds each exchange; zero means five seconds
	Timeout time.Duration

	// Term is the line terminator; zero means '\n'
	Term byte
}

func (s *SCPI) wrap(conn io.ReadWriter) (io.ReadWriter, error) {
	term := s.Term
	if term == 0 {
		term = '\n'
	}
	timeout := s.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	return comm.NewTimeout(comm.NewTerminator(conn, term, term), timeout)
}

func checkErrorReply(str string) error {
	str = strings.TrimSpace(str)
	if strings.HasPrefix(str, "+0") || strings.HasPrefix(str, "0,") || str == "0" {
		return nil
	}
	return errors.Errorf("device error: %s", str)
}

// Write sends a command to the device.  if s.Handshaking == true,
// it also requests an error response and checks that it is OK
// it is assumed this is used for set operations and not get.
func (s *SCPI) Write(cmds ...string) (err error) {
	conn, err := s.Pool.Get()
	if err != nil {
		return err
	}
	defer func() { s.Pool.ReturnWithError(conn, err) }()
	wrap, err := s.wrap(conn)
	if err != nil {
		return err
	}
	if s.Handshaking {
		cmds = append([]string{"*CLS;"}, cmds...)
		cmds = append(cmds, ";:SYSTem:ERRor?")
	}
	str := strings.Join(cmds, " ")
	if _, err = io.WriteString(wrap, str); err != nil {
		return errors.Wrapf(err, "writing %q", str)
	}
	if s.Handshaking {
		buf := make([]byte, tcpFrameSize)
		n, rerr := wrap.Read(buf)
		if rerr != nil {
			err = rerr
			return errors.Wrapf(err, "reading error queue after %q", str)
		}
		return checkErrorReply(string(buf[:n]))
	}
	return nil
}

// WriteRead is write, but with a read call after.  It is assumed that "get"
// calls use this underlying mechanism
func (s *SCPI) WriteRead(cmds ...string) (resp []byte, err error) {
	conn, err := s.Pool.Get()
	if err != nil {
		return resp, err
	}
	defer func() { s.Pool.ReturnWithError(conn, err) }()
	wrap, err := s.wrap(conn)
	if err != nil {
		return resp, err
	}
	if s.Handshaking {
		cmds = append([]string{"*CLS;"}, cmds...)
		cmds = append(cmds, ";:SYSTem:ERRor?")
	}
	str := strings.Join(cmds, " ")
	if _, err = io.WriteString(wrap, str); err != nil {
		return resp, errors.Wrapf(err, "writing %q", str)
	}
	buf := make([]byte, tcpFrameSize)
	n, err := wrap.Read(buf)
	if err != nil {
		return resp, errors.Wrapf(err, "reading reply to %q", str)
	}
	resp = buf[:n]
	if s.Handshaking {
		idx := strings.LastIndexByte(string(resp), ';')
		if idx < 0 {
			return resp, errors.Errorf("reply to %q carried no error status", str)
		}
		if cerr := checkErrorReply(string(resp[idx+1:])); cerr != nil {
			return resp, cerr
		}
		return resp[:idx], nil
	}
	return resp, nil
}

// ReadString sends a command to the device, the reads the response
// and returns it as a decoded ASCII or UTF-8 string
func (s *SCPI) ReadString(cmds ...string) (string, error) {
	resp, err := s.WriteRead(cmds...)
	return strings.TrimRight(string(resp), "\r\n"), err
}

// ReadFloat sends a command to the device, then reads the
// response and parses it as a floating point value
func (s *SCPI) ReadFloat(cmds ...string) (float64, error) {
	resp, err := s.ReadString(cmds...)
	if err != nil {
		return 0, err
	}
	return strconv.ParseFloat(strings.TrimSpace(resp), 64)
}

// ReadFloats sends a command to the device, then parses a comma or tab
// separated list of floats from the reply
func (s *SCPI) ReadFloats(cmds ...string) ([]float64, error) {
	resp, err := s.ReadString(cmds...)
	if err != nil {
		return nil, err
	}
	fields := strings.FieldsFunc(resp, func(r rune) bool { return r == ',' || r == '\t' })
	out := make([]float64, len(fields))
	for i, f := range fields {
		out[i], err = strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return nil, errors.Wrapf(err, "parsing field %d of %q", i, resp)
		}
	}
	return out, nil
}

// ReadBool sends a command to the device, then reads the
// response and parses it as a boolean
func (s *SCPI) ReadBool(cmds ...string) (bool, error) {
	resp, err := s.ReadString(cmds...)
	if err != nil {
		return false, err
	}
	return strconv.ParseBool(strings.TrimSpace(resp))
}

// Raw sends a command and returns a response if it was a query,
// else a blank string
func (s *SCPI) Raw(str string) (string, error) {
	prev := s.Handshaking
	s.Handshaking = false
	defer func() { s.Handshaking = prev }()
	if strings.Contains(str, "?") {
		return s.ReadString(str)
	}
	return "", s.Write(str)
}

// PopError gets a single error from the queue on the device
func (s *SCPI) PopError() error {
	str, err := s.ReadString("SYSTem:ERRor?")
	if err != nil {
		return err
	}
	return checkErrorReply(str)
}
