package newport

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/pvlab/ivbench/comm"
)

const (
	// ESP301RemoteBufferSize is the number of ASCII characters that fit in the buffer on the ESP301.
	ESP301RemoteBufferSize = 80
)

var (
	// ErrBufferWouldOverflow is generated when the buffer on the ESP controller
	// would overflow if the message was transmitted
	ErrBufferWouldOverflow = errors.New("buffer too long, maximum command length is 80 characters")

	commands = []Command{
		// Status functions
		{Cmd: "TB", Alias: "err-msg", Description: "get error message", IsReadOnly: true},
		{Cmd: "TP", Alias: "get-position", Description: "get position", UsesAxis: true, IsReadOnly: true},
		{Cmd: "MD", Alias: "motion-done", Description: "get motion done status", UsesAxis: true, IsReadOnly: true},
		{Cmd: "VE", Alias: "controller-firmware", Description: "get controller firmware version", IsReadOnly: true},

		// Motion functions
		{Cmd: "MO", Alias: "motor-on", Description: "motor on", UsesAxis: true},
		{Cmd: "MF", Alias: "motor-off", Description: "motor off", UsesAxis: true},
		{Cmd: "OR", Alias: "origin-search", Description: "origin searching", UsesAxis: true},
		{Cmd: "PA", Alias: "move-abs", Description: "move absolute", UsesAxis: true},
		{Cmd: "PR", Alias: "move-rel", Description: "move relative", UsesAxis: true},
		{Cmd: "ST", Alias: "stop", Description: "stop motion", UsesAxis: true},
	}

	// ESPErrorCodesWithoutAxes maps error codes to error strings when the errors
	// are not axis specific
	ESPErrorCodesWithoutAxes = map[int]string{
		0:  "NO ERROR DETECTED",
		4:  "EMERGENCY STOP ACTIVATED",
		6:  "COMMAND DOES NOT EXIST",
		7:  "PARAMETER OUT OF RANGE",
		8:  "CABLE INTERLOCK ERROR",
		9:  "AXIS NUMBER OUT OF RANGE",
		27: "COMMAND NOT ALLOWED",
		37: "AXIS NUMBER MISSING",
		38: "COMMAND PARAMETER MISSING",
	}

	// ESPErrorCodesWithAxes maps the final two digits of an axis-specific
	// error code to a string.  The axis number is excluded from the key.
	ESPErrorCodesWithAxes = map[int]string{
		0:  "MOTOR TYPE NOT DEFINED",
		1:  "PARAMETER OUT OF RANGE",
		2:  "AMPLIFIER FAULT DETECTED",
		3:  "FOLLOWING ERROR THRESHLD EXCEEDED",
		4:  "POSITIVE HARDWARE LIMIT REACHED",
		5:  "NEGATIVE HARDWARE LIMIT REACHED",
		6:  "POSITIVE SOFTWARE LIMIT REACHED",
		7:  "NEGATIVE SOFTWARE LIMIT REACHED",
		8:  "MOTOR / STAGE NOT CONNECTED",
		9:  "FEEDBACK SIGNAL FAULT DETECTED",
		13: "MOTOR NOT ENABLED",
		20: "HOMING ABORTED",
		30: "COMMAND NOT ALLOWED DURING HOMING",
	}
)

// Command describes a command
type Command struct {
	Cmd         string `json:"cmd"`
	Alias       string `json:"alias"`
	Description string `json:"description"`
	UsesAxis    bool   `json:"usesAxis"`
	IsReadOnly  bool   `json:"isReadOnly"`
}

// ErrAliasNotFound is generated when an alias is unknown to the newport module
type ErrAliasNotFound struct {
	Alias string
}

func (e ErrAliasNotFound) Error() string {
	return fmt.Sprintf("alias %s not found", e.Alias)
}

func commandFromAlias(alias string) (Command, error) {
	for _, c := range commands {
		if c.Alias == alias {
			return c, nil
		}
	}
	return Command{}, ErrAliasNotFound{alias}
}

func makeTelegram(c Command, axis string, write bool, data float64) string {
	pieces := []string{}
	if c.UsesAxis {
		pieces = append(pieces, axis)
	}
	pieces = append(pieces, c.Cmd)
	if c.IsReadOnly || !write {
		pieces = append(pieces, "?")
	} else {
		pieces = append(pieces, strconv.FormatFloat(data, 'g', -1, 64))
	}
	return strings.Join(pieces, "")
}

// ESP301 represents an ESP301 motion controller.
type ESP301 struct {
	*comm.RemoteDevice
}

// NewESP301 makes a new ESP301 motion controller instance
func NewESP301(addr string, serial bool) *ESP301 {
	terms := &comm.Terminators{Tx: '\r', Rx: '\n'}
	rd := comm.NewRemoteDevice(addr, serial, terms, comm.SerialConf(addr, 19200, time.Second))
	return &ESP301{RemoteDevice: &rd}
}

// RawCommand sends a command directly to the motion controller.  Commands
// containing a ? are queries and the response is returned, otherwise the
// response is empty.
func (esp *ESP301) RawCommand(cmd string) (string, error) {
	if len(cmd) > ESP301RemoteBufferSize {
		return "", ErrBufferWouldOverflow
	}
	if !strings.Contains(cmd, "?") {
		return "", esp.Write([]byte(cmd))
	}
	r, err := esp.SendRecv([]byte(cmd))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(r)), nil
}

func (esp *ESP301) do(alias, axis string, write bool, data float64) (string, error) {
	c, err := commandFromAlias(alias)
	if err != nil {
		return "", err
	}
	return esp.RawCommand(makeTelegram(c, axis, write, data))
}

func (esp *ESP301) queryFloat(alias, axis string) (float64, error) {
	resp, err := esp.do(alias, axis, false, 0)
	if err != nil {
		return 0, err
	}
	return strconv.ParseFloat(resp, 64)
}

// Enable turns on the motor of an axis
func (esp *ESP301) Enable(axis string) error {
	c, _ := commandFromAlias("motor-on")
	_, err := esp.RawCommand(axis + c.Cmd)
	return err
}

// Disable turns off the motor of an axis
func (esp *ESP301) Disable(axis string) error {
	c, _ := commandFromAlias("motor-off")
	_, err := esp.RawCommand(axis + c.Cmd)
	return err
}

// GetEnabled returns if the motor of an axis is on
func (esp *ESP301) GetEnabled(axis string) (bool, error) {
	f, err := esp.queryFloat("motor-on", axis)
	return f == 1, err
}

// GetPos gets the absolute position of an axis in controller units (usually mm)
func (esp *ESP301) GetPos(axis string) (float64, error) {
	return esp.queryFloat("get-position", axis)
}

// GetInPosition returns true if motion on the axis is done
func (esp *ESP301) GetInPosition(axis string) (bool, error) {
	f, err := esp.queryFloat("motion-done", axis)
	return f == 1, err
}

// MoveAbs sets the absolute position of an axis in controller units (usually mm)
func (esp *ESP301) MoveAbs(axis string, pos float64) error {
	_, err := esp.do("move-abs", axis, true, pos)
	return err
}

// MoveRel triggers a relative motion of an axis in controller units
func (esp *ESP301) MoveRel(axis string, pos float64) error {
	_, err := esp.do("move-rel", axis, true, pos)
	return err
}

// Home homes an axis.
// We use a mode 1 home forcibly, which does "Find Home and Index Signal."  This
// 'fully' homes either linear or rotary axes. Use RawCommand if you want
// to do a different kind of homing
func (esp *ESP301) Home(axis string) error {
	_, err := esp.do("origin-search", axis, true, 1)
	return err
}

// Stop stops motion on an axis
func (esp *ESP301) Stop(axis string) error {
	c, _ := commandFromAlias("stop")
	_, err := esp.RawCommand(axis + c.Cmd)
	return err
}

// decodeError converts one TB? response to a message, or "" if there is no error
func decodeError(resp string) (string, error) {
	pieces := strings.Split(resp, ",")
	code := strings.TrimSpace(pieces[0])
	if code == "0" || code == "" {
		return "", nil
	}
	var (
		mapV  map[int]string
		icode int
		axis  = -1
		err   error
	)
	if l := len(code); l > 2 {
		mapV = ESPErrorCodesWithAxes
		if icode, err = strconv.Atoi(code[l-2:]); err != nil {
			return "", err
		}
		if axis, err = strconv.Atoi(code[:l-2]); err != nil {
			return "", err
		}
	} else {
		mapV = ESPErrorCodesWithoutAxes
		if icode, err = strconv.Atoi(code); err != nil {
			return "", err
		}
	}
	errS, ok := mapV[icode]
	if !ok && len(pieces) > 2 {
		errS = strings.TrimSpace(pieces[2])
	}
	if axis != -1 {
		errS = fmt.Sprintf("AXIS %d ", axis) + errS
	}
	return errS, nil
}

// ReadErrors reads all errors from the controller and returns a slice of the
// error messages, which may be empty if there are no errors.  The slice may be
// partially filled if a communication error is encountered while reading the
// sequence of errors.
func (esp *ESP301) ReadErrors() ([]string, error) {
	msgs := []string{}
	for {
		resp, err := esp.do("err-msg", "", false, 0)
		if err != nil {
			return msgs, err
		}
		msg, err := decodeError(resp)
		if err != nil {
			return msgs, err
		}
		if msg == "" {
			return msgs, nil
		}
		msgs = append(msgs, msg)
	}
}
