// Package uds defines the vocabulary shared by the UDS client and server:
// service identifiers, negative response codes, session/reset types and
// the event taxonomy dispatched to application handlers.
package uds

// SID is a UDS service identifier, the first byte of a request.
type SID uint8

const (
	SIDDiagnosticSessionControl SID = 0x10
	SIDECUReset                 SID = 0x11
	SIDReadDataByIdentifier     SID = 0x22
	SIDReadMemoryByAddress      SID = 0x23
	SIDSecurityAccess           SID = 0x27
	SIDCommunicationControl     SID = 0x28
	SIDWriteDataByIdentifier    SID = 0x2E
	SIDRoutineControl           SID = 0x31
	SIDRequestDownload          SID = 0x34
	SIDRequestUpload            SID = 0x35
	SIDTransferData             SID = 0x36
	SIDRequestTransferExit      SID = 0x37
	SIDRequestFileTransfer      SID = 0x38
	SIDTesterPresent            SID = 0x3E
	SIDControlDTCSetting        SID = 0x85
)

// PositiveResponseOffset is added to a request SID to form the matching
// positive response SID.
const PositiveResponseOffset = 0x40

// NegativeResponseSID marks a negative response: `7F SID NRC`.
const NegativeResponseSID = 0x7F

func (s SID) PositiveResponse() uint8 {
	return uint8(s) + PositiveResponseOffset
}

var sidNames = map[SID]string{
	SIDDiagnosticSessionControl: "DiagnosticSessionControl",
	SIDECUReset:                 "ECUReset",
	SIDReadDataByIdentifier:     "ReadDataByIdentifier",
	SIDReadMemoryByAddress:      "ReadMemoryByAddress",
	SIDSecurityAccess:           "SecurityAccess",
	SIDCommunicationControl:     "CommunicationControl",
	SIDWriteDataByIdentifier:    "WriteDataByIdentifier",
	SIDRoutineControl:           "RoutineControl",
	SIDRequestDownload:          "RequestDownload",
	SIDRequestUpload:            "RequestUpload",
	SIDTransferData:             "TransferData",
	SIDRequestTransferExit:      "RequestTransferExit",
	SIDRequestFileTransfer:      "RequestFileTransfer",
	SIDTesterPresent:            "TesterPresent",
	SIDControlDTCSetting:        "ControlDTCSetting",
}

func (s SID) String() string {
	name, ok := sidNames[s]
	if !ok {
		return "Unknown"
	}
	return name
}

// SessionType is the sub-function of DiagnosticSessionControl (0x10),
// low 7 bits.
type SessionType uint8

const (
	SessionDefault                SessionType = 0x01
	SessionProgramming            SessionType = 0x02
	SessionExtendedDiagnostic     SessionType = 0x03
	SessionSafetySystemDiagnostic SessionType = 0x04
)

// ResetType is the sub-function of ECUReset (0x11), low 6 bits.
type ResetType uint8

const (
	ResetHard                      ResetType = 0x01
	ResetKeyOffOn                  ResetType = 0x02
	ResetSoft                      ResetType = 0x03
	ResetEnableRapidPowerShutDown  ResetType = 0x04
	ResetDisableRapidPowerShutDown ResetType = 0x05
)

// RoutineControlType is the sub-function of RoutineControl (0x31).
type RoutineControlType uint8

const (
	RoutineStart          RoutineControlType = 0x01
	RoutineStop           RoutineControlType = 0x02
	RoutineRequestResults RoutineControlType = 0x03
)

// SuppressPosRspMsgIndicationBit is bit 7 of a request sub-function byte;
// when set, the server must not transmit a positive response.
const SuppressPosRspMsgIndicationBit uint8 = 0x80

// SubFunctionMask strips the suppress bit from a sub-function byte.
func SubFunctionMask(b uint8) uint8 {
	return b &^ SuppressPosRspMsgIndicationBit
}

// SuppressesPositiveResponse reports whether the suppress bit is set.
func SuppressesPositiveResponse(b uint8) bool {
	return b&SuppressPosRspMsgIndicationBit != 0
}

// suppressibleSIDs is the set of services for which a suppress bit on the
// sub-function byte is meaningful (spec.md §4.3's list).
var suppressibleSIDs = map[SID]bool{
	SIDDiagnosticSessionControl: true,
	SIDECUReset:                 true,
	SIDSecurityAccess:           true,
	SIDCommunicationControl:     true,
	SIDRoutineControl:           true,
	SIDTesterPresent:            true,
	SIDControlDTCSetting:        true,
}

// SupportsSuppressedResponse reports whether SID participates in the
// sub-function suppression rule.
func SupportsSuppressedResponse(s SID) bool {
	return suppressibleSIDs[s]
}
