/*Package usbtmc implements the bulk-transfer subset of the USB Test and
Measurement Class needed to talk SCPI to a source-measure unit on USB.

It does not split messages across multiple transfers, and assumes each
command and each response fits in one bulk packet, which holds for the short
SCPI exchanges the bench uses.

Device satisfies io.ReadWriteCloser, so it can be handed to a comm.Pool:

	pool := comm.NewPool(1, time.Minute, func() (io.ReadWriteCloser, error) {
		return usbtmc.Open(0x05e6, 0x2450)
	})
*/
package usbtmc

import (
	"encoding/binary"
	"sync"

	"github.com/google/gousb"
	"github.com/pkg/errors"
)

const (
	reserved = 0x00

	msgDevDepOut    = 0x01
	msgReqDevDepIn  = 0x02
	headerSize      = 12
	alignment       = 4
	maxTransferSize = 1500
)

// bTagGen is a concurrent-safe bTag generator.  Valid tags are 1..255.
type bTagGen struct {
	sync.Mutex

	value byte
}

func (b *bTagGen) next() byte {
	b.Lock()
	defer b.Unlock()
	b.value++
	if b.value == 0 {
		b.value = 1
	}
	return b.value
}

// invbTag computes the bitwise inversion of a btag, per USBTMC table 1 offset 2
func invbTag(b byte) byte {
	return b ^ 0xff
}

// encBulkOutHeader creates a DEV_DEP_MSG_OUT header, USBTMC table 3.
// Bytes 4-7 are the transfer size (LSB first), byte 8 bit 0 marks end of message.
func encBulkOutHeader(tag byte, datalen int) [headerSize]byte {
	out := [headerSize]byte{}
	out[0] = msgDevDepOut
	out[1] = tag
	out[2] = invbTag(tag)
	out[3] = reserved
	binary.LittleEndian.PutUint32(out[4:8], uint32(datalen))
	out[8] = 0x01
	return out
}

// encBulkInHeader creates a REQUEST_DEV_DEP_MSG_IN header, USBTMC table 4.
// If terminator is nil the device is told to ignore term chars.
func encBulkInHeader(tag byte, bufsize int, terminator *byte) [headerSize]byte {
	out := [headerSize]byte{}
	out[0] = msgReqDevDepIn
	out[1] = tag
	out[2] = invbTag(tag)
	out[3] = reserved
	binary.LittleEndian.PutUint32(out[4:8], uint32(bufsize))
	if terminator != nil {
		out[8] = 0x02
		out[9] = *terminator
	}
	return out
}

// frame prepends the out header to b and pads to a multiple of 4 bytes
func frame(tag byte, b []byte) []byte {
	hdr := encBulkOutHeader(tag, len(b))
	msg := append(hdr[:], b...)
	if residual := len(msg) % alignment; residual > 0 {
		msg = append(msg, make([]byte, alignment-residual)...)
	}
	return msg
}

// Device is a USBTMC instrument exposing io.ReadWriteCloser
type Device struct {
	tags   bTagGen
	ctx    *gousb.Context
	device *gousb.Device
	in     *gousb.InEndpoint
	out    *gousb.OutEndpoint
	closer func()
}

// Open opens the first device matching vid and pid
func Open(vid, pid uint16) (*Device, error) {
	d := &Device{ctx: gousb.NewContext()}
	dev, err := d.ctx.OpenDeviceWithVIDPID(gousb.ID(vid), gousb.ID(pid))
	if err != nil {
		d.ctx.Close()
		return nil, errors.Wrapf(err, "usbtmc: opening %04x:%04x", vid, pid)
	}
	if dev == nil {
		d.ctx.Close()
		return nil, errors.Errorf("usbtmc: no device %04x:%04x", vid, pid)
	}
	d.device = dev
	if err = dev.SetAutoDetach(true); err != nil {
		d.Close()
		return nil, err
	}
	iface, closer, err := dev.DefaultInterface()
	if err != nil {
		d.Close()
		return nil, err
	}
	d.closer = closer
	if d.in, err = iface.InEndpoint(2); err != nil {
		d.Close()
		return nil, err
	}
	if d.out, err = iface.OutEndpoint(2); err != nil {
		d.Close()
		return nil, err
	}
	return d, nil
}

// Write sends p as a single DEV_DEP_MSG_OUT transfer
func (d *Device) Write(p []byte) (int, error) {
	msg := frame(d.tags.next(), p)
	n, err := d.out.Write(msg)
	if err != nil {
		return 0, err
	}
	if n < len(msg) {
		return 0, errors.Errorf("usbtmc: short write, %d of %d bytes", n, len(msg))
	}
	return len(p), nil
}

// Read requests up to len(p) bytes from the device and copies the payload
// (without the USBTMC header) into p
func (d *Device) Read(p []byte) (int, error) {
	size := len(p)
	if size > maxTransferSize-headerSize {
		size = maxTransferSize - headerSize
	}
	term := byte('\n')
	hdr := encBulkInHeader(d.tags.next(), size, &term)
	if _, err := d.out.Write(hdr[:]); err != nil {
		return 0, err
	}
	buf := make([]byte, maxTransferSize)
	n, err := d.in.Read(buf)
	if err != nil {
		return 0, err
	}
	if n < headerSize {
		return 0, errors.Errorf("usbtmc: only received %d bytes, need at least %d to form header", n, headerSize)
	}
	payloadLen := int(binary.LittleEndian.Uint32(buf[4:8]))
	payload := buf[headerSize:n]
	if payloadLen < len(payload) {
		payload = payload[:payloadLen]
	}
	return copy(p, payload), nil
}

// Close releases the interface, device and USB context
func (d *Device) Close() error {
	if d.closer != nil {
		d.closer()
	}
	var err error
	if d.device != nil {
		err = d.device.Close()
	}
	if d.ctx != nil {
		d.ctx.Close()
	}
	return err
}
