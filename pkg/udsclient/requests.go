package udsclient

import (
	"encoding/binary"

	"github.com/diagstack/govuds/pkg/uds"
)

// DiagnosticSessionControl sends SID 0x10.
func (c *Client) DiagnosticSessionControl(session uds.SessionType) error {
	payload := []byte{uint8(uds.SIDDiagnosticSessionControl), uint8(session)}
	return c.start(uds.SIDDiagnosticSessionControl, payload, 1)
}

// ECUReset sends SID 0x11.
func (c *Client) ECUReset(reset uds.ResetType) error {
	c.reqSubByte = uint8(reset)
	payload := []byte{uint8(uds.SIDECUReset), uint8(reset)}
	return c.start(uds.SIDECUReset, payload, 1)
}

// ReadDataByIdentifier sends SID 0x22 for the given DIDs. decode is
// invoked once per DID in the positive response, in request order, and
// must return how many value bytes it consumed.
func (c *Client) ReadDataByIdentifier(dids []uint16, decode func(did uint16, value []byte) (int, error)) error {
	payload := make([]byte, 1+2*len(dids))
	payload[0] = uint8(uds.SIDReadDataByIdentifier)
	for i, did := range dids {
		binary.BigEndian.PutUint16(payload[1+2*i:], did)
	}
	c.reqDIDs = dids
	c.decodeDID = decode
	return c.start(uds.SIDReadDataByIdentifier, payload, -1)
}

// reservedSecurityLevel matches the reserved range resolved in
// spec.md §9's Open Questions: {0x00, 0x7F, 0x43..0x5E}.
func reservedSecurityLevel(level uint8) bool {
	return level == 0x00 || level == 0x7F || (level >= 0x43 && level <= 0x5E)
}

// SecurityAccess sends SID 0x27.
func (c *Client) SecurityAccess(level uint8, data []byte) error {
	if reservedSecurityLevel(level) {
		return uds.NewErr(uds.ErrInvalidArg)
	}
	payload := make([]byte, 2+len(data))
	payload[0] = uint8(uds.SIDSecurityAccess)
	payload[1] = level
	copy(payload[2:], data)
	return c.start(uds.SIDSecurityAccess, payload, 1)
}

// CommunicationControl sends SID 0x28.
func (c *Client) CommunicationControl(ctrl, commType uint8) error {
	payload := []byte{uint8(uds.SIDCommunicationControl), ctrl, commType}
	return c.start(uds.SIDCommunicationControl, payload, 1)
}

// WriteDataByIdentifier sends SID 0x2E.
func (c *Client) WriteDataByIdentifier(did uint16, data []byte) error {
	payload := make([]byte, 3+len(data))
	payload[0] = uint8(uds.SIDWriteDataByIdentifier)
	binary.BigEndian.PutUint16(payload[1:], did)
	copy(payload[3:], data)
	return c.start(uds.SIDWriteDataByIdentifier, payload, -1)
}

// RoutineControl sends SID 0x31.
func (c *Client) RoutineControl(sub uds.RoutineControlType, routineID uint16, data []byte) error {
	payload := make([]byte, 4+len(data))
	payload[0] = uint8(uds.SIDRoutineControl)
	payload[1] = uint8(sub)
	binary.BigEndian.PutUint16(payload[2:], routineID)
	copy(payload[4:], data)
	return c.start(uds.SIDRoutineControl, payload, 1)
}

func encodeALFI(addr, size uint64, addrBytes, sizeBytes int) []byte {
	out := make([]byte, 1+sizeBytes+addrBytes)
	out[0] = byte(sizeBytes<<4) | byte(addrBytes)
	for i := 0; i < addrBytes; i++ {
		out[1+i] = byte(addr >> (8 * (addrBytes - 1 - i)))
	}
	for i := 0; i < sizeBytes; i++ {
		out[1+addrBytes+i] = byte(size >> (8 * (sizeBytes - 1 - i)))
	}
	return out
}

// RequestDownload sends SID 0x34. dataFormatID is the DFI byte;
// addrBytes/sizeBytes give the ALFI nibbles.
func (c *Client) RequestDownload(dataFormatID uint8, addr, size uint64, addrBytes, sizeBytes int) error {
	alfi := encodeALFI(addr, size, addrBytes, sizeBytes)
	payload := make([]byte, 2+len(alfi))
	payload[0] = uint8(uds.SIDRequestDownload)
	payload[1] = dataFormatID
	copy(payload[2:], alfi)
	return c.start(uds.SIDRequestDownload, payload, -1)
}

// RequestUpload sends SID 0x35, the same shape as RequestDownload.
func (c *Client) RequestUpload(dataFormatID uint8, addr, size uint64, addrBytes, sizeBytes int) error {
	alfi := encodeALFI(addr, size, addrBytes, sizeBytes)
	payload := make([]byte, 2+len(alfi))
	payload[0] = uint8(uds.SIDRequestUpload)
	payload[1] = dataFormatID
	copy(payload[2:], alfi)
	return c.start(uds.SIDRequestUpload, payload, -1)
}

// TransferData sends SID 0x36 with the given block sequence counter.
func (c *Client) TransferData(blockSequenceCounter uint8, data []byte) error {
	payload := make([]byte, 2+len(data))
	payload[0] = uint8(uds.SIDTransferData)
	payload[1] = blockSequenceCounter
	copy(payload[2:], data)
	return c.start(uds.SIDTransferData, payload, -1)
}

// RequestTransferExit sends SID 0x37.
func (c *Client) RequestTransferExit() error {
	payload := []byte{uint8(uds.SIDRequestTransferExit)}
	return c.start(uds.SIDRequestTransferExit, payload, -1)
}

// RequestFileTransferParams bundles 0x38's request fields (spec.md §4.2's
// "external interfaces" shape).
type RequestFileTransferParams struct {
	Mode               uint8
	Path               string
	DataFormatID       *uint8
	SizeUncompressed   uint64
	SizeCompressed     uint64
	SizeParamLen       int // 0 disables the size fields entirely
}

// RequestFileTransfer sends SID 0x38.
func (c *Client) RequestFileTransfer(p RequestFileTransferParams) error {
	path := []byte(p.Path)
	payload := make([]byte, 0, 4+len(path)+1+2*p.SizeParamLen)
	payload = append(payload, uint8(uds.SIDRequestFileTransfer), p.Mode)
	payload = append(payload, byte(len(path)>>8), byte(len(path)))
	payload = append(payload, path...)
	if p.DataFormatID != nil {
		payload = append(payload, *p.DataFormatID)
	}
	if p.SizeParamLen > 0 {
		payload = append(payload, byte(p.SizeParamLen))
		payload = append(payload, beTrunc(p.SizeUncompressed, p.SizeParamLen)...)
		payload = append(payload, beTrunc(p.SizeCompressed, p.SizeParamLen)...)
	}
	return c.start(uds.SIDRequestFileTransfer, payload, -1)
}

func beTrunc(v uint64, n int) []byte {
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		out[n-1-i] = byte(v >> (8 * i))
	}
	return out
}

// TesterPresent sends SID 0x3E.
func (c *Client) TesterPresent() error {
	payload := []byte{uint8(uds.SIDTesterPresent), 0x00}
	return c.start(uds.SIDTesterPresent, payload, 1)
}

func reservedDTCSetting(settingType uint8) bool {
	return settingType == 0x00 || settingType == 0x7F || (settingType >= 0x03 && settingType <= 0x3F)
}

// ControlDTCSetting sends SID 0x85.
func (c *Client) ControlDTCSetting(settingType uint8, data []byte) error {
	if reservedDTCSetting(settingType) {
		return uds.NewErr(uds.ErrInvalidArg)
	}
	payload := make([]byte, 2+len(data))
	payload[0] = uint8(uds.SIDControlDTCSetting)
	payload[1] = settingType
	copy(payload[2:], data)
	return c.start(uds.SIDControlDTCSetting, payload, 1)
}
