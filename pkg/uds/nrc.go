package uds

import "fmt"

// NRC is a Negative Response Code, byte 2 of a `7F SID NRC` response.
// The zero value doubles as "positive response" throughout dispatch.
type NRC uint8

const (
	PositiveResponse NRC = 0x00

	GeneralReject                           NRC = 0x10
	ServiceNotSupported                     NRC = 0x11
	SubFunctionNotSupported                 NRC = 0x12
	IncorrectMessageLengthOrInvalidFormat   NRC = 0x13
	ResponseTooLong                         NRC = 0x14
	BusyRepeatRequest                       NRC = 0x21
	ConditionsNotCorrect                    NRC = 0x22
	RequestSequenceError                    NRC = 0x24
	NoResponseFromSubnetComponent           NRC = 0x25
	FailurePreventsExecutionOfRequestedAction NRC = 0x26
	RequestOutOfRange                       NRC = 0x31
	SecurityAccessDenied                    NRC = 0x33
	InvalidKey                              NRC = 0x35
	ExceedNumberOfAttempts                  NRC = 0x36
	RequiredTimeDelayNotExpired              NRC = 0x37
	UploadDownloadNotAccepted               NRC = 0x70
	TransferDataSuspended                   NRC = 0x71
	GeneralProgrammingFailure                NRC = 0x72
	WrongBlockSequenceCounter               NRC = 0x73
	RequestCorrectlyReceived_ResponsePending NRC = 0x78
	SubFunctionNotSupportedInActiveSession   NRC = 0x7E
	ServiceNotSupportedInActiveSession       NRC = 0x7F
)

var nrcDescriptions = map[NRC]string{
	PositiveResponse:                          "Positive response",
	GeneralReject:                              "General reject",
	ServiceNotSupported:                        "Service not supported",
	SubFunctionNotSupported:                    "Sub-function not supported",
	IncorrectMessageLengthOrInvalidFormat:      "Incorrect message length or invalid format",
	ResponseTooLong:                            "Response too long",
	BusyRepeatRequest:                          "Busy, repeat request",
	ConditionsNotCorrect:                       "Conditions not correct",
	RequestSequenceError:                       "Request sequence error",
	NoResponseFromSubnetComponent:              "No response from subnet component",
	FailurePreventsExecutionOfRequestedAction:  "Failure prevents execution of requested action",
	RequestOutOfRange:                          "Request out of range",
	SecurityAccessDenied:                       "Security access denied",
	InvalidKey:                                 "Invalid key",
	ExceedNumberOfAttempts:                     "Exceed number of attempts",
	RequiredTimeDelayNotExpired:                "Required time delay not expired",
	UploadDownloadNotAccepted:                  "Upload/download not accepted",
	TransferDataSuspended:                      "Transfer data suspended",
	GeneralProgrammingFailure:                  "General programming failure",
	WrongBlockSequenceCounter:                  "Wrong block sequence counter",
	RequestCorrectlyReceived_ResponsePending:   "Request correctly received, response pending",
	SubFunctionNotSupportedInActiveSession:     "Sub-function not supported in active session",
	ServiceNotSupportedInActiveSession:         "Service not supported in active session",
}

// Description returns a human-readable name for the code, or a generic
// fallback if the code is not one of the known NRCs.
func (n NRC) Description() string {
	desc, ok := nrcDescriptions[n]
	if ok {
		return desc
	}
	return fmt.Sprintf("NRC 0x%02X", uint8(n))
}

func (n NRC) Error() string {
	return fmt.Sprintf("x%02x : %s", uint8(n), n.Description())
}

// IsPositive reports whether n is the canonical zero "positive response" NRC.
func (n NRC) IsPositive() bool {
	return n == PositiveResponse
}

// IsResponsePending reports whether n is the RCRRP keep-alive code.
func (n NRC) IsResponsePending() bool {
	return n == RequestCorrectlyReceived_ResponsePending
}
