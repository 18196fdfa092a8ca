package udsserver

import (
	"encoding/binary"

	"github.com/diagstack/govuds/internal/clock"
	"github.com/diagstack/govuds/pkg/uds"
)

// invokeHandler dispatches s.reqBuf[:s.reqLen] (s.reqSID already parsed)
// to its service handler and leaves a response in s.respBuf[:s.respLen].
// It is safe to call repeatedly for the same request (the RCRRP
// re-dispatch path of spec.md §4.3).
func (s *Server) invokeHandler(now uint32) uds.NRC {
	if s.handler == nil {
		return uds.GeneralReject
	}
	req := s.reqBuf[:s.reqLen]

	switch s.reqSID {
	case uds.SIDDiagnosticSessionControl:
		return s.handleDiagnosticSessionControl(req, now)
	case uds.SIDECUReset:
		return s.handleECUReset(req, now)
	case uds.SIDReadDataByIdentifier:
		return s.handleReadDataByIdentifier(req)
	case uds.SIDReadMemoryByAddress:
		return s.handleReadMemoryByAddress(req)
	case uds.SIDSecurityAccess:
		return s.handleSecurityAccess(req, now)
	case uds.SIDCommunicationControl:
		return s.handleCommunicationControl(req)
	case uds.SIDWriteDataByIdentifier:
		return s.handleWriteDataByIdentifier(req)
	case uds.SIDRoutineControl:
		return s.handleRoutineControl(req)
	case uds.SIDRequestDownload:
		return s.handleRequestDownload(req)
	case uds.SIDRequestUpload:
		return s.handleRequestUpload(req)
	case uds.SIDTransferData:
		return s.handleTransferData(req)
	case uds.SIDRequestTransferExit:
		return s.handleRequestTransferExit(req)
	case uds.SIDRequestFileTransfer:
		return s.handleRequestFileTransfer(req)
	case uds.SIDTesterPresent:
		return s.handleTesterPresent(req, now)
	case uds.SIDControlDTCSetting:
		return s.handleControlDTCSetting(req)
	default:
		if nrc := s.handler.OnCustom(s, s.reqSID, req[1:], s.copyHelper()); nrc != uds.ServiceNotSupported {
			return nrc
		}
		return uds.ServiceNotSupported
	}
}

// copyHelper returns a CopyFunc appending to s.respBuf at s.respLen, that
// is after the positive-response SID and any echoed header bytes the
// calling handler below has already written.
func (s *Server) copyHelper() uds.CopyFunc {
	return func(src []byte) uds.NRC {
		if s.respLen+len(src) > len(s.respBuf) {
			return uds.ResponseTooLong
		}
		copy(s.respBuf[s.respLen:], src)
		s.respLen += len(src)
		return uds.PositiveResponse
	}
}

func (s *Server) handleDiagnosticSessionControl(req []byte, now uint32) uds.NRC {
	if len(req) < 2 {
		return uds.IncorrectMessageLengthOrInvalidFormat
	}
	session := uds.SessionType(uds.SubFunctionMask(req[1]) & 0x4F)

	p2, p2star, nrc := s.handler.OnDiagnosticSessionControl(s, session)
	if nrc != uds.PositiveResponse {
		return nrc
	}
	if p2 == 0 {
		p2 = s.cfg.P2Ms
	}
	if p2star == 0 {
		p2star = s.cfg.P2StarMs
	}
	s.session = session
	if session != uds.SessionDefault {
		s.s3Deadline = clock.Add(now, s.cfg.S3Ms)
	}

	s.respBuf[0] = uds.SIDDiagnosticSessionControl.PositiveResponse()
	s.respBuf[1] = uint8(session)
	binary.BigEndian.PutUint16(s.respBuf[2:], uint16(p2))
	binary.BigEndian.PutUint16(s.respBuf[4:], uint16(p2star/10))
	s.respLen = 6
	return uds.PositiveResponse
}

func (s *Server) handleECUReset(req []byte, now uint32) uds.NRC {
	if len(req) < 2 {
		return uds.IncorrectMessageLengthOrInvalidFormat
	}
	reset := uds.ResetType(uds.SubFunctionMask(req[1]) & 0x3F)

	powerDownSeconds, nrc := s.handler.OnECUReset(s, reset)
	if nrc != uds.PositiveResponse {
		return nrc
	}

	s.ecuResetScheduled = reset
	s.ecuResetTimer = clock.Add(now, s.cfg.PowerDownMs)

	s.respBuf[0] = uds.SIDECUReset.PositiveResponse()
	s.respBuf[1] = uint8(reset)
	s.respLen = 2
	if reset == uds.ResetEnableRapidPowerShutDown {
		if powerDownSeconds > 255 {
			powerDownSeconds = 255
		}
		s.respBuf[2] = powerDownSeconds
		s.respLen = 3
	}
	return uds.PositiveResponse
}

func (s *Server) handleReadDataByIdentifier(req []byte) uds.NRC {
	if len(req) < 3 || (len(req)-1)%2 != 0 {
		return uds.IncorrectMessageLengthOrInvalidFormat
	}
	s.respBuf[0] = uds.SIDReadDataByIdentifier.PositiveResponse()
	s.respLen = 1

	for off := 1; off < len(req); off += 2 {
		did := uint16(req[off])<<8 | uint16(req[off+1])
		before := s.respLen
		s.respBuf[s.respLen] = req[off]
		s.respBuf[s.respLen+1] = req[off+1]
		s.respLen += 2

		nrc := s.handler.OnReadDataByIdentifier(s, did, s.copyHelper())
		if nrc != uds.PositiveResponse {
			return nrc
		}
		if s.respLen == before+2 {
			return uds.GeneralReject
		}
	}
	return uds.PositiveResponse
}

func (s *Server) handleReadMemoryByAddress(req []byte) uds.NRC {
	if len(req) < 2 {
		return uds.IncorrectMessageLengthOrInvalidFormat
	}
	alfi := req[1]
	sizeBytes := int(alfi >> 4)
	addrBytes := int(alfi & 0x0F)
	if sizeBytes < 1 || sizeBytes > 8 || addrBytes < 1 || addrBytes > 8 {
		return uds.RequestOutOfRange
	}
	if len(req) < 2+sizeBytes+addrBytes {
		return uds.IncorrectMessageLengthOrInvalidFormat
	}
	var addr, size uint64
	off := 2
	for i := 0; i < addrBytes; i++ {
		addr = addr<<8 | uint64(req[off+i])
	}
	off += addrBytes
	for i := 0; i < sizeBytes; i++ {
		size = size<<8 | uint64(req[off+i])
	}

	s.respBuf[0] = uds.SIDReadMemoryByAddress.PositiveResponse()
	s.respLen = 1
	return s.handler.OnReadMemoryByAddress(s, addr, size, s.copyHelper())
}

func (s *Server) handleSecurityAccess(req []byte, now uint32) uds.NRC {
	if len(req) < 2 {
		return uds.IncorrectMessageLengthOrInvalidFormat
	}
	sub := req[1]

	if s.securityBootDeadline != 0 && !clock.After(now, s.securityBootDeadline) {
		return uds.RequiredTimeDelayNotExpired
	}
	if s.securityAuthFailDeadline != 0 && !clock.After(now, s.securityAuthFailDeadline) {
		return uds.ExceedNumberOfAttempts
	}

	s.respBuf[0] = uds.SIDSecurityAccess.PositiveResponse()
	s.respBuf[1] = sub
	s.respLen = 2

	if sub%2 == 1 {
		level := sub
		if s.securityLevel == level {
			binary.BigEndian.PutUint16(s.respBuf[2:], 0)
			s.respLen = 4
			return uds.PositiveResponse
		}
		return s.handler.OnSecurityAccessRequestSeed(s, level, s.copyHelper())
	}

	level := sub - 1
	keyData := req[2:]
	nrc := s.handler.OnSecurityAccessValidateKey(s, level, keyData)
	if nrc == uds.PositiveResponse {
		s.securityLevel = level
		return uds.PositiveResponse
	}
	s.securityAuthFailDeadline = clock.Add(now, s.cfg.SecurityAuthFailMs)
	return nrc
}

func (s *Server) handleCommunicationControl(req []byte) uds.NRC {
	if len(req) < 3 {
		return uds.IncorrectMessageLengthOrInvalidFormat
	}
	nrc := s.handler.OnCommunicationControl(s, req[1], req[2])
	if nrc != uds.PositiveResponse {
		return nrc
	}
	s.respBuf[0] = uds.SIDCommunicationControl.PositiveResponse()
	s.respBuf[1] = req[1]
	s.respLen = 2
	return uds.PositiveResponse
}

func (s *Server) handleWriteDataByIdentifier(req []byte) uds.NRC {
	if len(req) < 3 {
		return uds.IncorrectMessageLengthOrInvalidFormat
	}
	did := uint16(req[1])<<8 | uint16(req[2])
	nrc := s.handler.OnWriteDataByIdentifier(s, did, req[3:])
	if nrc != uds.PositiveResponse {
		return nrc
	}
	s.respBuf[0] = uds.SIDWriteDataByIdentifier.PositiveResponse()
	binary.BigEndian.PutUint16(s.respBuf[1:], did)
	s.respLen = 3
	return uds.PositiveResponse
}

func (s *Server) handleRoutineControl(req []byte) uds.NRC {
	if len(req) < 4 {
		return uds.IncorrectMessageLengthOrInvalidFormat
	}
	sub := uds.RoutineControlType(req[1])
	switch sub {
	case uds.RoutineStart, uds.RoutineStop, uds.RoutineRequestResults:
	default:
		return uds.RequestOutOfRange
	}
	routineID := uint16(req[2])<<8 | uint16(req[3])

	s.respBuf[0] = uds.SIDRoutineControl.PositiveResponse()
	s.respBuf[1] = uint8(sub)
	binary.BigEndian.PutUint16(s.respBuf[2:], routineID)
	s.respLen = 4
	return s.handler.OnRoutineControl(s, sub, routineID, req[4:], s.copyHelper())
}

func decodeALFI(req []byte, off int) (addr, size uint64, addrBytes, sizeBytes, next int, ok bool) {
	if off >= len(req) {
		return 0, 0, 0, 0, off, false
	}
	alfi := req[off]
	sizeBytes = int(alfi >> 4)
	addrBytes = int(alfi & 0x0F)
	if len(req) < off+1+addrBytes+sizeBytes {
		return 0, 0, 0, 0, off, false
	}
	p := off + 1
	for i := 0; i < addrBytes; i++ {
		addr = addr<<8 | uint64(req[p+i])
	}
	p += addrBytes
	for i := 0; i < sizeBytes; i++ {
		size = size<<8 | uint64(req[p+i])
	}
	return addr, size, addrBytes, sizeBytes, p + sizeBytes, true
}

func (s *Server) handleRequestDownload(req []byte) uds.NRC {
	if len(req) < 3 {
		return uds.IncorrectMessageLengthOrInvalidFormat
	}
	dfi := req[1]
	addr, size, _, _, _, ok := decodeALFI(req, 2)
	if !ok {
		return uds.IncorrectMessageLengthOrInvalidFormat
	}

	maxBlockLen, nrc := s.handler.OnRequestDownload(s, dfi, addr, size)
	if nrc != uds.PositiveResponse {
		return nrc
	}
	if int(maxBlockLen) > s.cfg.MTU {
		maxBlockLen = uint32(s.cfg.MTU)
	}
	if maxBlockLen < 3 {
		return uds.RequestOutOfRange
	}

	s.transfer = transferState{active: true, blockCounter: 1, totalBytes: size, maxBlockLen: maxBlockLen}

	s.respBuf[0] = uds.SIDRequestDownload.PositiveResponse()
	s.respBuf[1] = 4 << 4 // length-format identifier: sizeof(size_t) nibble
	binary.BigEndian.PutUint32(s.respBuf[2:], maxBlockLen)
	s.respLen = 6
	return uds.PositiveResponse
}

func (s *Server) handleRequestUpload(req []byte) uds.NRC {
	if len(req) < 3 {
		return uds.IncorrectMessageLengthOrInvalidFormat
	}
	dfi := req[1]
	addr, size, _, _, _, ok := decodeALFI(req, 2)
	if !ok {
		return uds.IncorrectMessageLengthOrInvalidFormat
	}

	maxBlockLen, nrc := s.handler.OnRequestUpload(s, dfi, addr, size)
	if nrc != uds.PositiveResponse {
		return nrc
	}
	if int(maxBlockLen) > s.cfg.MTU {
		maxBlockLen = uint32(s.cfg.MTU)
	}
	if maxBlockLen < 3 {
		return uds.RequestOutOfRange
	}

	s.transfer = transferState{active: true, blockCounter: 1, totalBytes: size, maxBlockLen: maxBlockLen}

	s.respBuf[0] = uds.SIDRequestUpload.PositiveResponse()
	s.respBuf[1] = 4 << 4
	binary.BigEndian.PutUint32(s.respBuf[2:], maxBlockLen)
	s.respLen = 6
	return uds.PositiveResponse
}

func (s *Server) handleTransferData(req []byte) uds.NRC {
	if !s.transfer.active {
		return uds.UploadDownloadNotAccepted
	}
	if len(req) < 2 {
		return uds.IncorrectMessageLengthOrInvalidFormat
	}
	bsc := req[1]
	if bsc != s.transfer.blockCounter {
		s.transfer = transferState{}
		return uds.RequestSequenceError
	}
	data := req[2:]
	if s.transfer.byteCounter+uint64(len(data)) > s.transfer.totalBytes {
		return uds.TransferDataSuspended
	}

	s.respBuf[0] = uds.SIDTransferData.PositiveResponse()
	s.respBuf[1] = bsc
	s.respLen = 2
	nrc := s.handler.OnTransferData(s, bsc, data, s.copyHelper())
	if nrc == uds.PositiveResponse {
		s.transfer.byteCounter += uint64(len(data))
		s.transfer.blockCounter++
	}
	return nrc
}

func (s *Server) handleRequestTransferExit(req []byte) uds.NRC {
	if !s.transfer.active {
		return uds.UploadDownloadNotAccepted
	}
	nrc := s.handler.OnRequestTransferExit(s)
	if nrc != uds.PositiveResponse {
		return nrc
	}
	s.transfer = transferState{}
	s.respBuf[0] = uds.SIDRequestTransferExit.PositiveResponse()
	s.respLen = 1
	return uds.PositiveResponse
}

func (s *Server) handleRequestFileTransfer(req []byte) uds.NRC {
	if len(req) < 3 {
		return uds.IncorrectMessageLengthOrInvalidFormat
	}
	mode := req[1]
	pathLen := int(req[2])<<8 | int(req[3])
	off := 4
	if len(req) < off+pathLen {
		return uds.IncorrectMessageLengthOrInvalidFormat
	}
	path := string(req[off : off+pathLen])
	off += pathLen

	var dfi *uint8
	if off < len(req) {
		v := req[off]
		dfi = &v
		off++
	}

	var sizeUncompressed, sizeCompressed uint64
	if off < len(req) {
		paramLen := int(req[off])
		off++
		if len(req) < off+2*paramLen {
			return uds.IncorrectMessageLengthOrInvalidFormat
		}
		for i := 0; i < paramLen; i++ {
			sizeUncompressed = sizeUncompressed<<8 | uint64(req[off+i])
		}
		off += paramLen
		for i := 0; i < paramLen; i++ {
			sizeCompressed = sizeCompressed<<8 | uint64(req[off+i])
		}
		off += paramLen
	}

	maxBlockLen, nrc := s.handler.OnRequestFileTransfer(s, mode, path, dfi, sizeUncompressed, sizeCompressed)
	if nrc != uds.PositiveResponse {
		return nrc
	}
	s.transfer = transferState{active: true, blockCounter: 1, totalBytes: sizeCompressed, maxBlockLen: maxBlockLen}

	s.respBuf[0] = uds.SIDRequestFileTransfer.PositiveResponse()
	s.respBuf[1] = mode
	binary.BigEndian.PutUint32(s.respBuf[2:], maxBlockLen)
	s.respLen = 6
	return uds.PositiveResponse
}

func (s *Server) handleTesterPresent(req []byte, now uint32) uds.NRC {
	if len(req) < 2 {
		return uds.IncorrectMessageLengthOrInvalidFormat
	}
	sub := uds.SubFunctionMask(req[1])
	if sub != 0x00 {
		return uds.SubFunctionNotSupported
	}
	if s.session != uds.SessionDefault {
		s.s3Deadline = clock.Add(now, s.cfg.S3Ms)
	}
	s.respBuf[0] = uds.SIDTesterPresent.PositiveResponse()
	s.respBuf[1] = 0x00
	s.respLen = 2
	return uds.PositiveResponse
}

func (s *Server) handleControlDTCSetting(req []byte) uds.NRC {
	if len(req) < 2 {
		return uds.IncorrectMessageLengthOrInvalidFormat
	}
	sub := uds.SubFunctionMask(req[1]) & 0x3F
	s.respBuf[0] = uds.SIDControlDTCSetting.PositiveResponse()
	s.respBuf[1] = sub
	s.respLen = 2
	return uds.PositiveResponse
}
