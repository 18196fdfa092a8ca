package udsserver

import "github.com/diagstack/govuds/pkg/uds"

// Event is the payload of a server-side notification that carries no
// request/response data of its own (spec.md §9's "variant/enum" rendering
// of the original tagged-callback design).
type Event struct {
	Kind uds.EventKind
}

// CopyFunc appends src to the response being built for RDBI/ReadMemoryByAddress
// and reports PositiveResponse on success or ResponseTooLong on overflow.
type CopyFunc = uds.CopyFunc

// EventHandler is the application's hook into the server. Handlers return
// uds.PositiveResponse or an NRC identifying the failure; the dispatcher
// wraps a non-positive return into the `7F SID NRC` wire form. One method
// per event kind that needs application interaction, plus OnSessionTimeout
// and OnDoScheduledReset for the two notifications that need no response.
type EventHandler interface {
	OnDiagnosticSessionControl(s *Server, session uds.SessionType) (p2Ms, p2StarMs uint32, nrc uds.NRC)
	OnECUReset(s *Server, reset uds.ResetType) (powerDownSeconds uint8, nrc uds.NRC)
	OnReadDataByIdentifier(s *Server, did uint16, copy CopyFunc) uds.NRC
	OnReadMemoryByAddress(s *Server, addr uint64, size uint64, copy CopyFunc) uds.NRC
	OnCommunicationControl(s *Server, ctrl, commType uint8) uds.NRC
	OnSecurityAccessRequestSeed(s *Server, level uint8, copy CopyFunc) uds.NRC
	OnSecurityAccessValidateKey(s *Server, level uint8, key []byte) uds.NRC
	OnWriteDataByIdentifier(s *Server, did uint16, data []byte) uds.NRC
	OnRoutineControl(s *Server, sub uds.RoutineControlType, routineID uint16, data []byte, copy CopyFunc) uds.NRC
	OnRequestDownload(s *Server, dataFormatID uint8, addr, size uint64) (maxBlockLen uint32, nrc uds.NRC)
	OnRequestUpload(s *Server, dataFormatID uint8, addr, size uint64) (maxBlockLen uint32, nrc uds.NRC)
	OnTransferData(s *Server, blockSequenceCounter uint8, data []byte, copy CopyFunc) uds.NRC
	OnRequestTransferExit(s *Server) uds.NRC
	OnRequestFileTransfer(s *Server, mode uint8, path string, dataFormatID *uint8, sizeUncompressed, sizeCompressed uint64) (maxBlockLen uint32, nrc uds.NRC)
	OnCustom(s *Server, sid uds.SID, data []byte, copy CopyFunc) uds.NRC
	OnSessionTimeout(s *Server)
	OnDoScheduledReset(s *Server, reset uds.ResetType)
}
