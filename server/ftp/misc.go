package ftp

import "strings"

func (s *Session) handleType(params string) error {
	fields := strings.Fields(params)
	if len(fields) == 0 {
		return s.reply(StatusSyntaxError, "")
	}

	switch t := TransferType(strings.ToUpper(fields[0])); t {
	case TransferTypeASCII, TransferTypeImage:
		s.mutex.Lock()
		s.transferType = t
		s.mutex.Unlock()
		return s.reply(StatusOK, "Transfer Type OK")
	default:
		return s.reply(StatusCommandNotImplemented, "")
	}
}

// Only stream mode is supported.
func (s *Session) handleMode(params string) error {
	switch strings.ToUpper(params) {
	case "":
		return s.reply(StatusSyntaxError, "")
	case "S":
		return s.reply(StatusOK, "")
	default:
		return s.reply(StatusNotImplementedForParam, "")
	}
}

// Only file structure is supported.
func (s *Session) handleStru(params string) error {
	switch strings.ToUpper(params) {
	case "":
		return s.reply(StatusSyntaxError, "")
	case "F":
		return s.reply(StatusOK, "")
	default:
		return s.reply(StatusNotImplementedForParam, "")
	}
}

func (s *Session) handleSyst(_ string) error {
	return s.reply(StatusNameSystem, "UNIX Type: L8")
}

func (s *Session) handleHelp(params string) error {
	return s.reply(StatusHelpMessage, helpText(params))
}

func (s *Session) handleNoop(_ string) error {
	return s.reply(StatusOK, "")
}

func (s *Session) handleAllo(_ string) error {
	return s.reply(StatusOK, "")
}

func (s *Session) handleSite(_ string) error {
	return s.reply(StatusOK, "")
}

func (s *Session) handleNotImplemented(_ string) error {
	return s.reply(StatusCommandNotImplemented, "")
}
