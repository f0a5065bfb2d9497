/*Package comm provides the transport used by bench instruments.

Instruments on the bench are reached one of three ways: a TCP socket (LAN
instruments, terminal servers, the lamp recipe service), an RS-232 line, or
USB-TMC (see package usbtmc).  RemoteDevice covers the first two for
line-oriented protocols; Pool hands out exclusive connections to protocol
layers such as package scpi that frame their own messages.

A minimal example for a device that answers "RD?" with a number:

	rd := comm.NewRemoteDevice("192.168.100.20:5025", false, nil, nil)
	resp, err := rd.SendRecv([]byte("RD?"))
	if err != nil {
		return err
	}
	return strconv.ParseFloat(string(resp), 64)
*/
package comm

import (
	"bufio"
	"bytes"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/pkg/errors"
	"github.com/tarm/serial"
)

var (
	// ErrNoSerialConf is generated when a serial RemoteDevice has no serial.Config
	ErrNoSerialConf = errors.New("device is serial but has no serial configuration")

	// ErrNotConnected is generated when .Conn is nil and Send or Recv is called.
	ErrNotConnected = errors.New("conn is nil, not connected to remote")

	// ErrTerminatorNotFound is generated when the termination byte is not found in a response
	ErrTerminatorNotFound = errors.New("termination byte not found")
)

const defaultTimeout = 3 * time.Second

// Terminators holds the transmit and receive termination bytes
type Terminators struct {
	Rx byte
	Tx byte
}

// deadliner is satisfied by net.Conn
type deadliner interface {
	SetDeadline(time.Time) error
}

/*RemoteDevice has an address and speaks a line-oriented protocol.

If IsSerial is true, the device must be created with a serial.Config.
Calls to SendRecv are serialized by the embedded mutex, so a RemoteDevice may
be shared between goroutines.
*/
type RemoteDevice struct {
	sync.Mutex

	Addr     string
	IsSerial bool
	Conn     io.ReadWriteCloser

	// Timeout bounds connect, read and write on TCP connections
	Timeout time.Duration

	// LastComm is the time of the most recent exchange
	LastComm time.Time

	terms  Terminators
	serCfg *serial.Config
	rdr    *bufio.Reader
}

// NewRemoteDevice creates a new RemoteDevice.  If terms is nil, carriage
// returns are used in both directions.
func NewRemoteDevice(addr string, serial bool, terms *Terminators, serCfg *serial.Config) RemoteDevice {
	t := Terminators{Rx: '\r', Tx: '\r'}
	if terms != nil {
		t = *terms
	}
	return RemoteDevice{
		Addr:     addr,
		IsSerial: serial,
		Timeout:  defaultTimeout,
		terms:    t,
		serCfg:   serCfg}
}

// Open the connection, setting the Conn variable.  Open is a no-op
// if the device is already connected.
func (rd *RemoteDevice) Open() error {
	if rd.Conn != nil {
		return nil
	}
	// exponential backoff, terminal servers do not like being thrashed
	wasTimeout := false
	op := func() error {
		err := rd.open()
		if err != nil {
			errS := strings.ToLower(err.Error())
			if err == ErrNoSerialConf || strings.Contains(errS, "refused") {
				return backoff.Permanent(err)
			}
			wasTimeout = true
			return err
		}
		wasTimeout = false
		return nil
	}

	err := backoff.Retry(op, &backoff.ExponentialBackOff{
		InitialInterval:     25 * time.Millisecond,
		RandomizationFactor: 0.,
		Multiplier:          2.,
		MaxInterval:         1 * time.Second,
		MaxElapsedTime:      3 * time.Second,
		Clock:               backoff.SystemClock})
	if err == nil {
		return nil
	}
	if wasTimeout {
		return errors.Wrapf(err, "connection timeout to %s", rd.Addr)
	}
	return errors.Wrapf(err, "connecting to %s", rd.Addr)
}

func (rd *RemoteDevice) open() error {
	var (
		err  error
		conn io.ReadWriteCloser
	)
	if rd.IsSerial {
		if rd.serCfg == nil {
			return ErrNoSerialConf
		}
		conn, err = serial.OpenPort(rd.serCfg)
	} else {
		conn, err = TCPSetup(rd.Addr, rd.Timeout)
	}
	if err != nil {
		return err
	}
	rd.Conn = conn
	rd.rdr = bufio.NewReader(conn)
	return nil
}

// Close the connection, nil-ing the Conn variable
func (rd *RemoteDevice) Close() error {
	if rd.Conn == nil {
		return nil
	}
	err := rd.Conn.Close()
	rd.Conn = nil
	rd.rdr = nil
	return err
}

func (rd *RemoteDevice) refreshDeadline() {
	if d, ok := rd.Conn.(deadliner); ok && rd.Timeout > 0 {
		d.SetDeadline(time.Now().Add(rd.Timeout))
	}
}

// Send writes data to the remote, appending the Tx terminator.
// Send does not lock; use SendRecv or lock the device yourself when
// pairing Send with Recv.
func (rd *RemoteDevice) Send(b []byte) error {
	if rd.Conn == nil {
		return ErrNotConnected
	}
	rd.refreshDeadline()
	msg := make([]byte, 0, len(b)+1)
	msg = append(msg, b...)
	msg = append(msg, rd.terms.Tx)
	_, err := rd.Conn.Write(msg)
	rd.LastComm = time.Now()
	return err
}

// Recv receives data from the remote and strips the Rx terminator
func (rd *RemoteDevice) Recv() ([]byte, error) {
	if rd.Conn == nil {
		return nil, ErrNotConnected
	}
	if rd.rdr == nil {
		rd.rdr = bufio.NewReader(rd.Conn)
	}
	rd.refreshDeadline()
	term := rd.terms.Rx
	buf, err := rd.rdr.ReadBytes(term)
	rd.LastComm = time.Now()
	if err != nil {
		return []byte{}, err
	}
	if bytes.HasSuffix(buf, []byte{term}) {
		return buf[:len(buf)-1], nil
	}
	return buf, ErrTerminatorNotFound
}

// Write opens the device if needed and sends a command that expects no reply
func (rd *RemoteDevice) Write(b []byte) error {
	rd.Lock()
	defer rd.Unlock()
	if err := rd.Open(); err != nil {
		return err
	}
	err := rd.Send(b)
	if err != nil {
		rd.Close()
	}
	return err
}

// SendRecv opens the device if needed, sends a buffer after appending
// the Tx terminator, then returns the response with the Rx terminator stripped.
// On a transport error the connection is dropped so the next call reconnects.
func (rd *RemoteDevice) SendRecv(b []byte) ([]byte, error) {
	rd.Lock()
	defer rd.Unlock()
	if err := rd.Open(); err != nil {
		return []byte{}, err
	}
	err := rd.Send(b)
	if err != nil {
		rd.Close()
		return []byte{}, err
	}
	resp, err := rd.Recv()
	if err != nil {
		rd.Close()
	}
	return resp, err
}

// Maker returns a CreationFunc that opens fresh connections to the same
// address, for use with a Pool
func (rd *RemoteDevice) Maker() CreationFunc {
	return func() (io.ReadWriteCloser, error) {
		if rd.IsSerial {
			if rd.serCfg == nil {
				return nil, ErrNoSerialConf
			}
			return serial.OpenPort(rd.serCfg)
		}
		return TCPSetup(rd.Addr, rd.Timeout)
	}
}

// TCPSetup opens a new TCP connection with a timeout on connect
func TCPSetup(addr string, timeout time.Duration) (net.Conn, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// SerialConf returns a serial.Config for an 8N1 line at the given baud rate
func SerialConf(addr string, baud int, readTimeout time.Duration) *serial.Config {
	return &serial.Config{
		Name:        addr,
		Baud:        baud,
		Size:        8,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
		ReadTimeout: readTimeout}
}
