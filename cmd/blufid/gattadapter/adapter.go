// Package gattadapter wires session.Writer onto a real GATT peripheral
// using github.com/raff/goble, the peripheral-server library the retrieval
// pack's leso-kn-ble manifest pulls in for the equivalent role (see
// DESIGN.md). It is a demo collaborator: the core never imports it, and the
// attribute-protocol transport itself stays out of the core's scope.
package gattadapter

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/raff/goble"

	"github.com/wlanprov/blufi/frame"
)

// Adapter implements session.Writer over one GATT service exposing a write
// characteristic (inbound, app→device) and a notify characteristic
// (outbound, device→app), mirroring §6's writer(session, conn_id, attr_id,
// frame_list) contract one frame at a time.
type Adapter struct {
	mu     sync.Mutex
	notify func([]byte)
}

// ErrNotSubscribed reports a Write call before the peer has subscribed to
// the notify characteristic.
var ErrNotSubscribed = errors.New("blufi: gattadapter: peer has not subscribed to notifications")

// NewService builds the GATT service and an Adapter bound to it. onWrite is
// invoked with each inbound write's raw bytes, normally session.Update.
func NewService(serviceUUID, writeUUID, notifyUUID string, onWrite func([]byte)) (*goble.Service, *Adapter) {
	a := &Adapter{}

	writeChar := &goble.Characteristic{
		UUID:       writeUUID,
		Properties: goble.CharPropWrite | goble.CharPropWriteWithoutResponse,
		OnWriteRequest: func(data []byte, offset int, withoutResponse bool) byte {
			onWrite(append([]byte(nil), data...))
			return goble.AttEcSuccess
		},
	}

	notifyChar := &goble.Characteristic{
		UUID:       notifyUUID,
		Properties: goble.CharPropNotify,
		OnSubscribe: func(maxValueSize int, updateValueCallback func([]byte)) {
			a.mu.Lock()
			a.notify = updateValueCallback
			a.mu.Unlock()
		},
		OnUnsubscribe: func() {
			a.mu.Lock()
			a.notify = nil
			a.mu.Unlock()
		},
	}

	svc := &goble.Service{
		UUID:            serviceUUID,
		Characteristics: []*goble.Characteristic{writeChar, notifyChar},
	}
	return svc, a
}

// Write encodes each frame and delivers it as one notification, matching
// §6's "transmit each encoded frame as one attribute notification".
func (a *Adapter) Write(frames []*frame.Frame) error {
	a.mu.Lock()
	notify := a.notify
	a.mu.Unlock()
	if notify == nil {
		return ErrNotSubscribed
	}

	for i, f := range frames {
		b, err := frame.Encode(f)
		if err != nil {
			return errors.Wrapf(err, "encoding frame %d of %d", i, len(frames))
		}
		notify(b)
	}
	return nil
}
