package ftp

import (
	"strconv"
	"strings"
)

// StatusCode is a three digit reply code.
type StatusCode int

const (
	StatusRestartMarker          StatusCode = 110
	StatusServiceReadyInMinutes  StatusCode = 120
	StatusDataConnAlreadyOpen    StatusCode = 125
	StatusFileStatusOK           StatusCode = 150
	StatusOK                     StatusCode = 200
	StatusNotImplemented         StatusCode = 202
	StatusSystemStatus           StatusCode = 211
	StatusDirectoryStatus        StatusCode = 212
	StatusFileStatus             StatusCode = 213
	StatusHelpMessage            StatusCode = 214
	StatusNameSystem             StatusCode = 215
	StatusServiceReady           StatusCode = 220
	StatusClosingControlConn     StatusCode = 221
	StatusDataConnOpen           StatusCode = 225
	StatusClosingDataConn        StatusCode = 226
	StatusEnterPassiveMode       StatusCode = 227
	StatusEnterLongPassiveMode   StatusCode = 228
	StatusEnterExtPassiveMode    StatusCode = 229
	StatusUserLoggedIn           StatusCode = 230
	StatusUserLoggedOut          StatusCode = 231
	StatusLogoutNoted            StatusCode = 232
	StatusAuthAccepted           StatusCode = 234
	StatusFileActionOK           StatusCode = 250
	StatusPathCreated            StatusCode = 257
	StatusUsernameOK             StatusCode = 331
	StatusNeedAccount            StatusCode = 332
	StatusFileActionPending      StatusCode = 350
	StatusCommandNotAccepted     StatusCode = 400
	StatusServiceNotAvailable    StatusCode = 421
	StatusCantOpenDataConn       StatusCode = 425
	StatusConnClosed             StatusCode = 426
	StatusInvalidCredentials     StatusCode = 430
	StatusHostUnavailable        StatusCode = 434
	StatusFileActionNotTaken     StatusCode = 450
	StatusActionAborted          StatusCode = 451
	StatusInsufficientStorage    StatusCode = 452
	StatusUnknownError           StatusCode = 500
	StatusSyntaxError            StatusCode = 501
	StatusCommandNotImplemented  StatusCode = 502
	StatusBadSequence            StatusCode = 503
	StatusNotImplementedForParam StatusCode = 504
	StatusExtPortUnknownProtocol StatusCode = 522
	StatusNotLoggedIn            StatusCode = 530
	StatusNeedAccountForStoring  StatusCode = 532
	StatusPolicyRequiresSSL      StatusCode = 534
	StatusFileNotFound           StatusCode = 550
	StatusPageTypeUnknown        StatusCode = 551
	StatusExceededStorage        StatusCode = 552
	StatusFileNameNotAllowed     StatusCode = 553
	StatusIntegrityProtected     StatusCode = 631
	StatusConfIntegrityProtected StatusCode = 632
	StatusConfProtected          StatusCode = 633
)

var statusPhrases = map[StatusCode]string{
	StatusRestartMarker:          "Restart marker replay.",
	StatusServiceReadyInMinutes:  "Service ready in a few minutes.",
	StatusDataConnAlreadyOpen:    "Data connection already open.",
	StatusFileStatusOK:           "File status okay, about to open data connection.",
	StatusOK:                     "Command Ok.",
	StatusNotImplemented:         "Command not implemented.",
	StatusSystemStatus:           "System status.",
	StatusDirectoryStatus:        "Directory Status.",
	StatusFileStatus:             "File Status.",
	StatusHelpMessage:            "Help message.",
	StatusNameSystem:             "NAME system type.",
	StatusServiceReady:           "Service Ready.",
	StatusClosingControlConn:     "Closing control connection.",
	StatusDataConnOpen:           "Data connection open, no transfer in progress.",
	StatusClosingDataConn:        "Closing data connection. File action ok.",
	StatusEnterPassiveMode:       "Entering passive mode.",
	StatusEnterLongPassiveMode:   "Entering long passive mode.",
	StatusEnterExtPassiveMode:    "Entering extended passive mode.",
	StatusUserLoggedIn:           "User logged in, proceed. Logged out if appropriate.",
	StatusUserLoggedOut:          "User logged out, service terminated.",
	StatusLogoutNoted:            "Logout command noted.",
	StatusAuthAccepted:           "Authentication mechanism accepted.",
	StatusFileActionOK:           "Requested file action ok, completed.",
	StatusPathCreated:            "Path created.",
	StatusUsernameOK:             "Username okay, need password.",
	StatusNeedAccount:            "Need account for login.",
	StatusFileActionPending:      "Requested file action pending more information.",
	StatusCommandNotAccepted:     "Command not accepted, please try again.",
	StatusServiceNotAvailable:    "Service not available, closing control connection.",
	StatusCantOpenDataConn:       "Can't open data connection.",
	StatusConnClosed:             "Connection closed, transfer aborted.",
	StatusInvalidCredentials:     "Invalid username or password.",
	StatusHostUnavailable:        "Requested host unavailable.",
	StatusFileActionNotTaken:     "Requested file action not taken.",
	StatusActionAborted:          "Requested action aborted. Local error in processing.",
	StatusInsufficientStorage:    "Requested action not taken. Insufficient storage space in system. File unavailable.",
	StatusUnknownError:           "Unknown error.",
	StatusSyntaxError:            "Syntax error in parameters or arguments.",
	StatusCommandNotImplemented:  "Command not implemented.",
	StatusBadSequence:            "Bad sequence of commands.",
	StatusNotImplementedForParam: "Command not implemented for that parameter.",
	StatusExtPortUnknownProtocol: "Extended Port Failure - unknown network protocol",
	StatusNotLoggedIn:            "Not logged in.",
	StatusNeedAccountForStoring:  "Need account for storing files.",
	StatusPolicyRequiresSSL:      "Could Not Connect to Server - Policy Requires SSL.",
	StatusFileNotFound:           "File not found, error encountered.",
	StatusPageTypeUnknown:        "Requested action aborted. Page type unknown.",
	StatusExceededStorage:        "Requested file action aborted. Exceeded storage allocation.",
	StatusFileNameNotAllowed:     "Requested action not taken. File name not allowed.",
	StatusIntegrityProtected:     "Integrity protected reply.",
	StatusConfIntegrityProtected: "Confidentiality and integrity protected reply.",
	StatusConfProtected:          "Confidentiality protected reply.",
}

// Phrase returns the fixed text for code, or "" for an unknown code.
func (c StatusCode) Phrase() string {
	return statusPhrases[c]
}

// FormatResponse renders one reply line: "<code> <phrase> <extra>\n".
// Empty parts are omitted.
func FormatResponse(code StatusCode, extra string) string {
	var b strings.Builder
	b.WriteString(strconv.Itoa(int(code)))
	if phrase := code.Phrase(); phrase != "" {
		b.WriteByte(' ')
		b.WriteString(phrase)
	}
	if extra = strings.TrimSpace(extra); extra != "" {
		b.WriteByte(' ')
		b.WriteString(extra)
	}
	b.WriteByte('\n')
	return b.String()
}
