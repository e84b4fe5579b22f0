package ftp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHelpText(t *testing.T) {
	general := helpText("")
	assert.Contains(t, general, "Welcome to FTR, enter a command name to get more information about it. Current commands: ")
	assert.Contains(t, general, "abor: Abort an active file transfer.")
	assert.Contains(t, general, "xmkd: Make a directory")

	assert.Equal(t, "RETR: Retrieve a copy of the file", helpText("retr"))
	assert.Equal(t, "CWD: Change working directory.", helpText("CWD"))
	assert.Equal(t, "Sorry, the command BOGUS is not implemented", helpText("BOGUS"))
}
