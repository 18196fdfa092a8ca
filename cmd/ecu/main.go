// Command ecu is a demo UDS server exposing a handful of toy
// DataIdentifiers and a seed/key SecurityAccess, grounded on
// original_source/uds_server.c's example ECU. Not the protocol core
// itself, a thin reference application around it.
package main

import (
	"flag"
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
	"github.com/diagstack/govuds/pkg/udsserver"
)

// demoHandler answers a fixed VIN and a trivial XOR-with-0x55 seed/key
// scheme, the same toy arrangement original_source/uds_server.c uses.
type demoHandler struct {
	vin      string
	unlocked bool
}

func (h *demoHandler) OnDiagnosticSessionControl(s *udsserver.Server, session uds.SessionType) (uint32, uint32, uds.NRC) {
	log.Infof("[ECU] session -> %s", session)
	return 0, 0, uds.PositiveResponse
}

func (h *demoHandler) OnECUReset(s *udsserver.Server, reset uds.ResetType) (uint8, uds.NRC) {
	log.Infof("[ECU] reset requested: %v", reset)
	return 0, uds.PositiveResponse
}

func (h *demoHandler) OnReadDataByIdentifier(s *udsserver.Server, did uint16, copy udsserver.CopyFunc) uds.NRC {
	if did == 0xF190 {
		return copy([]byte(h.vin))
	}
	return uds.RequestOutOfRange
}

func (h *demoHandler) OnReadMemoryByAddress(s *udsserver.Server, addr, size uint64, copy udsserver.CopyFunc) uds.NRC {
	return uds.RequestOutOfRange
}

func (h *demoHandler) OnCommunicationControl(s *udsserver.Server, ctrl, commType uint8) uds.NRC {
	return uds.PositiveResponse
}

func (h *demoHandler) OnSecurityAccessRequestSeed(s *udsserver.Server, level uint8, copy udsserver.CopyFunc) uds.NRC {
	if h.unlocked {
		return copy([]byte{0x00, 0x00})
	}
	return copy([]byte{0x12, 0x34})
}

func (h *demoHandler) OnSecurityAccessValidateKey(s *udsserver.Server, level uint8, key []byte) uds.NRC {
	if len(key) == 2 && key[0] == 0x12^0x55 && key[1] == 0x34^0x55 {
		h.unlocked = true
		return uds.PositiveResponse
	}
	return uds.InvalidKey
}

func (h *demoHandler) OnWriteDataByIdentifier(s *udsserver.Server, did uint16, data []byte) uds.NRC {
	if !h.unlocked {
		return uds.SecurityAccessDenied
	}
	return uds.PositiveResponse
}

func (h *demoHandler) OnRoutineControl(s *udsserver.Server, sub uds.RoutineControlType, routineID uint16, data []byte, copy udsserver.CopyFunc) uds.NRC {
	return uds.PositiveResponse
}

func (h *demoHandler) OnRequestDownload(s *udsserver.Server, dataFormatID uint8, addr, size uint64) (uint32, uds.NRC) {
	if !h.unlocked {
		return 0, uds.SecurityAccessDenied
	}
	return 0x0FFF, uds.PositiveResponse
}

func (h *demoHandler) OnRequestUpload(s *udsserver.Server, dataFormatID uint8, addr, size uint64) (uint32, uds.NRC) {
	if !h.unlocked {
		return 0, uds.SecurityAccessDenied
	}
	return 0x0FFF, uds.PositiveResponse
}

func (h *demoHandler) OnTransferData(s *udsserver.Server, blockSequenceCounter uint8, data []byte, copy udsserver.CopyFunc) uds.NRC {
	return uds.PositiveResponse
}

func (h *demoHandler) OnRequestTransferExit(s *udsserver.Server) uds.NRC {
	return uds.PositiveResponse
}

func (h *demoHandler) OnRequestFileTransfer(s *udsserver.Server, mode uint8, path string, dfi *uint8, sizeUncompressed, sizeCompressed uint64) (uint32, uds.NRC) {
	return 0x0FFF, uds.PositiveResponse
}

func (h *demoHandler) OnCustom(s *udsserver.Server, sid uds.SID, data []byte, copy udsserver.CopyFunc) uds.NRC {
	return uds.ServiceNotSupported
}

func (h *demoHandler) OnSessionTimeout(s *udsserver.Server) {
	log.Info("[ECU] session timed out, back to default")
}

func (h *demoHandler) OnDoScheduledReset(s *udsserver.Server, reset uds.ResetType) {
	log.Infof("[ECU] performing scheduled reset: %v", reset)
}

var _ udsserver.EventHandler = (*demoHandler)(nil)

func main() {
	log.SetLevel(log.DebugLevel)

	iface := flag.String("i", "virtual", "CAN interface type: virtual, socketcan, socketcanv2")
	channel := flag.String("c", "vcan0", "CAN channel e.g. can0, vcan0, localhost:18000")
	confPath := flag.String("config", "", "path to an INI timing/addressing config file")
	vin := flag.String("vin", "DIAGSTACKDEMO000001", "VIN returned for DID 0xF190")
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
			P2Ms: 50, P2StarMs: 5000, S3Ms: 5000, PowerDownMs: 2000,
			SecurityAuthFailMs: 10000, MTU: 4095,
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

	port := isotpport.New(bus, cfg.PhysicalResponseID, cfg.PhysicalRequestID, cfg.FunctionalRequestID, cfg.ISOTP)
	if err := bus.Subscribe(port.Link()); err != nil {
		panic(err)
	}

	srv := udsserver.New(port, cfg.ServerConfig())
	srv.SetEventHandler(&demoHandler{vin: *vin})

	log.Infof("[ECU] listening on %s/%s, physical req=0x%X resp=0x%X functional=0x%X",
		*iface, *channel, cfg.PhysicalRequestID, cfg.PhysicalResponseID, cfg.FunctionalRequestID)

	for {
		srv.Poll(clock.Millis())
		time.Sleep(time.Millisecond)
	}
}
