// Command tester is a demo UDS tester driving a udsclient.Client over a
// configurable CAN interface, in the style of the teacher's cmd/sdo_client.
package main

import (
	"flag"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/diagstack/govuds/internal/clock"
	"github.com/diagstack/govuds/pkg/can"
	_ "github.com/diagstack/govuds/pkg/can/socketcan"
	_ "github.com/diagstack/govuds/pkg/can/socketcanv2"
	_ "github.com/diagstack/govuds/pkg/can/virtual"
	"github.com/diagstack/govuds/pkg/config"
	"github.com/diagstack/govuds/pkg/isotp"
	"github.com/diagstack/govuds/pkg/transport/isotpport"
	"github.com/diagstack/govuds/pkg/uds"
	"github.com/diagstack/govuds/pkg/udsclient"
)

func main() {
	log.SetLevel(log.DebugLevel)

	iface := flag.String("i", "virtual", "CAN interface type: virtual, socketcan, socketcanv2")
	channel := flag.String("c", "vcan0", "CAN channel e.g. can0, vcan0, localhost:18000")
	confPath := flag.String("config", "", "path to an INI timing/addressing config file")
	did := flag.Uint("did", 0xF190, "data identifier to read with ReadDataByIdentifier")
	flag.Parse()

	var cfg *config.Config
	if *confPath != "" {
		var err error
		cfg, err = config.Load(*confPath)
		if err != nil {
			panic(err)
		}
	} else {
		cfg = &config.Config{
			P2Ms: 50, P2StarMs: 5000, MTU: 4095,
			ISOTP:             isotp.DefaultConfig(),
			PhysicalRequestID: 0x7E0, PhysicalResponseID: 0x7E8, FunctionalRequestID: 0x7DF,
		}
	}

	bus, err := can.NewBus(*iface, *channel, 500000)
	if err != nil {
		panic(err)
	}
	if err := bus.Connect(); err != nil {
		panic(err)
	}
	defer bus.Disconnect()

	port := isotpport.New(bus, cfg.PhysicalRequestID, cfg.PhysicalResponseID, 0, cfg.ISOTP)
	if err := bus.Subscribe(port.Link()); err != nil {
		panic(err)
	}

	client := udsclient.New(port, cfg.PhysicalResponseID)
	client.SetEventHandler(func(ev udsclient.Event) {
		switch ev.Kind {
		case uds.EventResponseReceived:
			log.Infof("[TESTER] response for %s: % x", ev.SID, ev.Data)
		case uds.EventErr:
			log.Warnf("[TESTER] request failed: %v", ev.Err)
		}
	})

	if err := client.DiagnosticSessionControl(uds.SessionExtendedDiagnostic); err != nil {
		panic(err)
	}
	runUntilIdle(client)

	var value string
	if err := client.ReadDataByIdentifier([]uint16{uint16(*did)}, func(gotDID uint16, data []byte) (int, error) {
		value = string(data)
		return len(data), nil
	}); err != nil {
		panic(err)
	}
	runUntilIdle(client)

	fmt.Printf("DID 0x%04X = %q\n", *did, value)
}

func runUntilIdle(client *udsclient.Client) {
	client.Poll(clock.Millis())
	for client.Busy() {
		time.Sleep(time.Millisecond)
		client.Poll(clock.Millis())
	}
}
