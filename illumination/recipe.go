package illumination

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/pvlab/ivbench/comm"
	"github.com/sirupsen/logrus"
)

// wlrc is the envelope of the recipe protocol.  Requests and replies share
// it; replies carry iErrCode and sErrMsg on the echoed element.
type wlrc struct {
	XMLName  xml.Name     `xml:"WLRC"`
	Activate *recipeReply `xml:"ActivateRecipe"`
	Start    *recipeReply `xml:"StartRecipe"`
	Cancel   *recipeReply `xml:"CancelRecipe"`
}

type recipeReply struct {
	Seq     int    `xml:"iSeq,attr"`
	Recipe  string `xml:"sRecipe,attr,omitempty"`
	ErrCode int    `xml:"iErrCode,attr"`
	ErrMsg  string `xml:"sErrMsg,attr"`
}

// Exchanger sends one message and returns one reply, comm.RemoteDevice implements it
type Exchanger interface {
	SendRecv([]byte) ([]byte, error)
}

// RecipeLamp is a lamp whose spectra and intensities are stored as named
// recipes in its controller, activated with XML messages over a socket.
type RecipeLamp struct {
	mu  sync.Mutex
	seq int

	conn Exchanger
	on   bool
	cur  float64

	// Recipes maps intensity in percent to recipe name
	Recipes map[float64]string

	// Settle is waited after the lamp confirms a start or cancel
	Settle time.Duration

	Log logrus.FieldLogger
}

// NewRecipeLamp returns a lamp controlled over TCP at addr
func NewRecipeLamp(addr string, recipes map[float64]string, settle time.Duration) *RecipeLamp {
	terms := &comm.Terminators{Tx: '\n', Rx: '\n'}
	rd := comm.NewRemoteDevice(addr, false, terms, nil)
	return NewRecipeLampWith(&rd, recipes, settle)
}

// NewRecipeLampWith returns a lamp using conn for its exchanges
func NewRecipeLampWith(conn Exchanger, recipes map[float64]string, settle time.Duration) *RecipeLamp {
	return &RecipeLamp{conn: conn, Recipes: recipes, Settle: settle, Log: logrus.StandardLogger()}
}

// exchange sends a request and checks the reply; r.mu must be held
func (r *RecipeLamp) exchange(op, body string) error {
	r.seq++
	seq := r.seq
	msg := fmt.Sprintf("<WLRC><%s iSeq='%d'%s/></WLRC>", op, seq, body)
	r.Log.WithField("op", op).Debug("lamp request")
	resp, err := r.conn.SendRecv([]byte(msg))
	if err != nil {
		return errors.Wrapf(err, "lamp %s", op)
	}
	var env wlrc
	if err := xml.Unmarshal(resp, &env); err != nil {
		return errors.Wrapf(err, "decoding lamp reply to %s", op)
	}
	var rep *recipeReply
	switch op {
	case "ActivateRecipe":
		rep = env.Activate
	case "StartRecipe":
		rep = env.Start
	case "CancelRecipe":
		rep = env.Cancel
	}
	if rep == nil {
		return errors.Wrapf(ErrConfirmationMismatch, "lamp reply to %s did not echo it: %s", op, resp)
	}
	if rep.Seq != seq {
		return errors.Wrapf(ErrConfirmationMismatch, "lamp reply sequence %d, sent %d", rep.Seq, seq)
	}
	if rep.ErrCode != 0 {
		return errors.Wrapf(ErrDeviceRejected, "%s: code %d: %s", op, rep.ErrCode, rep.ErrMsg)
	}
	return nil
}

// LightOn activates and starts the recipe for intensity
func (r *RecipeLamp) LightOn(ctx context.Context, intensity float64) error {
	name, ok := lookup(r.Recipes, intensity)
	if !ok {
		return undefined(intensity)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.exchange("ActivateRecipe", fmt.Sprintf(" sRecipe='%s'", xmlEscape(name))); err != nil {
		return err
	}
	// from here on the lamp may be lit even if Start reports an error
	r.on = true
	r.cur = intensity
	if err := r.exchange("StartRecipe", ""); err != nil {
		return err
	}
	return sleep(ctx, r.Settle)
}

// LightOff cancels the running recipe
func (r *RecipeLamp) LightOff(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.on {
		return nil
	}
	if err := r.exchange("CancelRecipe", ""); err != nil {
		return err
	}
	r.on = false
	r.cur = 0
	return sleep(ctx, r.Settle)
}

// On implements State
func (r *RecipeLamp) On() (bool, float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.on, r.cur
}

func xmlEscape(s string) string {
	var b bytes.Buffer
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}
