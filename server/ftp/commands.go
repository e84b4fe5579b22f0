package ftp

const (
	CommandAbort             = "ABOR"
	CommandAccount           = "ACCT"
	CommandAuthData          = "ADAT"
	CommandAllocate          = "ALLO"
	CommandAppend            = "APPE"
	CommandAuth              = "AUTH"
	CommandAvailable         = "AVBL"
	CommandClearChannel      = "CCC"
	CommandChangeParent      = "CDUP"
	CommandConfidential      = "CONF"
	CommandClientServerID    = "CSID"
	CommandChangeDir         = "CWD"
	CommandDelete            = "DELE"
	CommandDirSize           = "DSIZ"
	CommandPrivacyProtected  = "ENC"
	CommandExtAddrPort       = "EPRT"
	CommandExtPassive        = "EPSV"
	CommandFeatures          = "FEAT"
	CommandHelp              = "HELP"
	CommandHost              = "HOST"
	CommandLanguage          = "LANG"
	CommandList              = "LIST"
	CommandLongAddrPort      = "LPRT"
	CommandLongPassive       = "LPSV"
	CommandModTime           = "MDTM"
	CommandModCreateTime     = "MFCT"
	CommandModFacts          = "MFF"
	CommandModLastModTime    = "MFMT"
	CommandIntegrity         = "MIC"
	CommandMakeDir           = "MKD"
	CommandListDir           = "MLSD"
	CommandObjectData        = "MLST"
	CommandMode              = "MODE"
	CommandNameList          = "NLST"
	CommandNoop              = "NOOP"
	CommandOptions           = "OPTS"
	CommandPassword          = "PASS"
	CommandPassive           = "PASV"
	CommandBufferSize        = "PBSZ"
	CommandPort              = "PORT"
	CommandProtectionLevel   = "PROT"
	CommandPrintDir          = "PWD"
	CommandQuit              = "QUIT"
	CommandReinit            = "REIN"
	CommandRestart           = "REST"
	CommandRetrieve          = "RETR"
	CommandRemoveDir         = "RMD"
	CommandRemoveDirTree     = "RMDA"
	CommandRenameFrom        = "RNFR"
	CommandRenameTo          = "RNTO"
	CommandSite              = "SITE"
	CommandSize              = "SIZE"
	CommandMount             = "SMNT"
	CommandSinglePortPassive = "SPSV"
	CommandStatus            = "STAT"
	CommandStore             = "STOR"
	CommandStoreUnique       = "STOU"
	CommandStructure         = "STRU"
	CommandSystem            = "SYST"
	CommandThumbnail         = "THMB"
	CommandType              = "TYPE"
	CommandUser              = "USER"
	CommandXChangeParent     = "XCUP"
	CommandXMakeDir          = "XMKD"
	CommandXPrintDir         = "XPWD"
	CommandXRemoveDir        = "XRMD"
	CommandSendMail          = "XSEM"
	CommandSendTerminal      = "XSEN"
)

type commandHandler func(s *Session, params string) error

type commandSpec struct {
	handler commandHandler
	// auth commands answer 530 until PASS succeeds.
	auth bool
	// duringTransfer commands are accepted while a transfer is in flight.
	duringTransfer bool
}

var commandTable map[string]commandSpec

func init() {
	commandTable = map[string]commandSpec{
		CommandUser:     {handler: (*Session).handleUser},
		CommandPassword: {handler: (*Session).handlePass},
		CommandAccount:  {handler: (*Session).handleAcct, auth: true},
		CommandReinit:   {handler: (*Session).handleRein, auth: true, duringTransfer: true},
		CommandQuit:     {handler: (*Session).handleQuit, duringTransfer: true},

		CommandPrintDir:      {handler: (*Session).handlePwd, auth: true},
		CommandXPrintDir:     {handler: (*Session).handlePwd, auth: true},
		CommandChangeDir:     {handler: (*Session).handleCwd, auth: true},
		CommandChangeParent:  {handler: (*Session).handleCdup, auth: true},
		CommandXChangeParent: {handler: (*Session).handleCdup, auth: true},
		CommandMakeDir:       {handler: (*Session).handleMkd, auth: true},
		CommandXMakeDir:      {handler: (*Session).handleMkd, auth: true},
		CommandRemoveDir:     {handler: (*Session).handleRmd, auth: true},
		CommandXRemoveDir:    {handler: (*Session).handleRmd, auth: true},
		CommandDelete:        {handler: (*Session).handleDele, auth: true},
		CommandRenameFrom:    {handler: (*Session).handleRnfr, auth: true},
		CommandRenameTo:      {handler: (*Session).handleRnto, auth: true},

		CommandPassive:     {handler: (*Session).handlePasv, auth: true},
		CommandExtPassive:  {handler: (*Session).handleEpsv, auth: true},
		CommandPort:        {handler: (*Session).handlePort, auth: true},
		CommandExtAddrPort: {handler: (*Session).handleEprt, auth: true},

		CommandList:        {handler: (*Session).handleList, auth: true},
		CommandNameList:    {handler: (*Session).handleNlst, auth: true},
		CommandStatus:      {handler: (*Session).handleStat},
		CommandRetrieve:    {handler: (*Session).handleRetr, auth: true},
		CommandStore:       {handler: (*Session).handleStor, auth: true},
		CommandStoreUnique: {handler: (*Session).handleStou, auth: true},
		CommandAppend:      {handler: (*Session).handleAppe, auth: true},
		CommandAbort:       {handler: (*Session).handleAbor, auth: true, duringTransfer: true},

		CommandType:      {handler: (*Session).handleType},
		CommandMode:      {handler: (*Session).handleMode},
		CommandStructure: {handler: (*Session).handleStru},
		CommandSystem:    {handler: (*Session).handleSyst},
		CommandHelp:      {handler: (*Session).handleHelp},
		CommandNoop:      {handler: (*Session).handleNoop, duringTransfer: true},
		CommandAllocate:  {handler: (*Session).handleAllo},
		CommandSite:      {handler: (*Session).handleSite},
	}
}

// lookupCommand returns the spec for cmd. Unknown or unimplemented commands
// map to a handler that answers 502 and report false.
func lookupCommand(cmd string) (commandSpec, bool) {
	if spec, ok := commandTable[cmd]; ok {
		return spec, true
	}
	return commandSpec{handler: (*Session).handleNotImplemented}, false
}
