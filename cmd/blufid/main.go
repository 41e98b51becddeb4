// Command blufid is a demo binary wiring the provisioning core onto a real
// GATT peripheral: urfave/cli for flags and subcommands (grounded in
// kryptco-kr/kr/kr.go), satori/go.uuid for characteristic/service
// identifiers (grounded in kryptco-kr/pair.go), and gattadapter for the
// transport itself. None of this wiring is part of the core; it exists to
// demonstrate the narrow session.Writer boundary against a real stack.
package main

import (
	"fmt"
	"os"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	uuid "github.com/satori/go.uuid"
	"github.com/urfave/cli"

	"github.com/wlanprov/blufi/cmd/blufid/gattadapter"
	"github.com/wlanprov/blufi/frame"
	"github.com/wlanprov/blufi/handler"
	"github.com/wlanprov/blufi/session"
)

// noopWifi is a placeholder WifiDriver: the real Wi-Fi stack is an external
// collaborator (spec §1 out of scope) that a deployment supplies in place
// of this.
type noopWifi struct{ log log.Logger }

func (w *noopWifi) StartScan() error {
	level.Warn(w.log).Log("msg", "StartScan not implemented by this demo binary")
	return nil
}
func (w *noopWifi) SetCredentials(ssid, password string) error {
	level.Info(w.log).Log("msg", "received credentials", "ssid", ssid)
	return nil
}
func (w *noopWifi) Reconnect() error { return nil }

type noopDispatcher struct{}

func (noopDispatcher) Execute(data []byte, reply func([]byte)) error {
	reply(nil)
	return nil
}

type noopTokens struct{}

func (noopTokens) HasDeviceToken() bool { return false }

func run(c *cli.Context) error {
	logger := log.NewLogfmtLogger(os.Stdout)
	logger = level.NewFilter(logger, level.AllowInfo())

	serviceUUID := uuid.NewV5(uuid.NamespaceOID, "blufi-service").String()
	writeUUID := uuid.NewV5(uuid.NamespaceOID, "blufi-write").String()
	notifyUUID := uuid.NewV5(uuid.NamespaceOID, "blufi-notify").String()

	var sess *session.Session
	var h *handler.Handler

	_, adapter := gattadapter.NewService(serviceUUID, writeUUID, notifyUUID, func(b []byte) {
		hdr, err := frame.Decode(b)
		if err != nil {
			level.Warn(logger).Log("msg", "frame decode failed", "err", err)
			return
		}
		state, err := sess.Update(b)
		if err != nil {
			level.Warn(logger).Log("msg", "session update failed", "err", err)
			return
		}
		v, err := sess.DecodeFrame(hdr)
		if err != nil {
			level.Warn(logger).Log("msg", "payload decode failed", "err", err)
			return
		}
		if v == nil {
			level.Debug(logger).Log("msg", "fragment pending", "state", state)
			return
		}
		if err := h.Handle(v); err != nil {
			level.Warn(logger).Log("msg", "handler error", "kind", v.Kind, "err", err)
		}
	})

	sess = session.New(adapter, logger)
	h = handler.New(sess, &noopWifi{log: logger}, noopDispatcher{}, noopTokens{}, handler.DefaultConfig(), logger)

	level.Info(logger).Log("msg", "blufid ready", "service", serviceUUID)
	select {}
}

func main() {
	app := cli.NewApp()
	app.Name = "blufid"
	app.Usage = "BluFi-compatible provisioning daemon over a GATT peripheral"
	app.Version = "0.1.0"
	app.Commands = []cli.Command{
		{
			Name:   "serve",
			Usage:  "advertise the provisioning service and drive the handler over it",
			Action: run,
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
