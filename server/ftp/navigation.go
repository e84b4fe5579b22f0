package ftp

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
)

var (
	errRemoveRoot = errors.New("cannot remove the root directory")
	errRenameRoot = errors.New("cannot rename the root directory")
)

// resolvePath applies p to the working directory. An absolute p replaces
// the working directory; a relative one is appended to it. The result is
// cleaned, has no leading slash and never climbs above the account root.
func (s *Session) resolvePath(p string) string {
	s.mutex.Lock()
	cwd := s.cwd
	s.mutex.Unlock()
	return resolveRelative(cwd, p)
}

func resolveRelative(cwd, p string) string {
	var joined string
	switch {
	case strings.HasPrefix(p, "/"):
		joined = p[1:]
	case cwd == "":
		joined = p
	default:
		joined = cwd + "/" + p
	}
	return strings.TrimPrefix(path.Clean("/"+joined), "/")
}

// fsPath maps a session path onto the filesystem:
// configured root + account root + rel.
func (s *Session) fsPath(rel string) string {
	return filepath.Join(s.srv.root, s.User.Root, filepath.FromSlash(rel))
}

func displayPath(rel string) string {
	return "/" + rel
}

func (s *Session) statDir(rel string) error {
	fi, err := os.Stat(s.fsPath(rel))
	if err != nil {
		return err
	}
	if !fi.IsDir() {
		return fmt.Errorf("%s: not a directory", displayPath(rel))
	}
	return nil
}

func (s *Session) handlePwd(_ string) error {
	s.mutex.Lock()
	cwd := s.cwd
	s.mutex.Unlock()

	if err := s.statDir(cwd); err != nil {
		return s.reply(StatusFileNotFound, err.Error())
	}
	return s.reply(StatusPathCreated, fmt.Sprintf("%q is current directory", displayPath(cwd)))
}

func (s *Session) handleCwd(params string) error {
	if params == "" {
		return s.reply(StatusSyntaxError, "")
	}
	target := s.resolvePath(params)
	if err := s.statDir(target); err != nil {
		return s.reply(StatusFileNotFound, err.Error())
	}

	s.mutex.Lock()
	s.cwd = target
	s.mutex.Unlock()
	return s.reply(StatusFileActionOK, fmt.Sprintf("CWD successful. %q is current directory", displayPath(target)))
}

func (s *Session) handleCdup(_ string) error {
	target := s.resolvePath("..")
	if err := s.statDir(target); err != nil {
		return s.reply(StatusFileNotFound, err.Error())
	}

	s.mutex.Lock()
	s.cwd = target
	s.mutex.Unlock()
	return s.reply(StatusOK, fmt.Sprintf("%q is current directory", displayPath(target)))
}

func (s *Session) handleMkd(params string) error {
	if params == "" {
		return s.reply(StatusSyntaxError, "")
	}
	target := s.resolvePath(params)
	if err := os.Mkdir(s.fsPath(target), 0755); err != nil {
		return s.reply(StatusFileNotFound, err.Error())
	}
	s.DebugLog("created directory %s", displayPath(target))
	return s.reply(StatusOK, fmt.Sprintf("Directory %s created", displayPath(target)))
}

func (s *Session) handleRmd(params string) error {
	if params == "" {
		return s.reply(StatusSyntaxError, "")
	}
	target := s.resolvePath(params)
	if target == "" {
		return s.reply(StatusFileNotFound, errRemoveRoot.Error())
	}
	if err := s.statDir(target); err != nil {
		return s.reply(StatusFileNotFound, err.Error())
	}
	if err := os.RemoveAll(s.fsPath(target)); err != nil {
		return s.reply(StatusFileNotFound, err.Error())
	}
	s.DebugLog("removed directory %s", displayPath(target))
	return s.reply(StatusFileActionOK, fmt.Sprintf("Directory %s removed", displayPath(target)))
}

func (s *Session) handleDele(params string) error {
	if params == "" {
		return s.reply(StatusSyntaxError, "")
	}
	target := s.resolvePath(params)
	fi, err := os.Stat(s.fsPath(target))
	if err != nil {
		return s.reply(StatusFileNotFound, err.Error())
	}
	if fi.IsDir() {
		return s.reply(StatusFileNotFound, fmt.Sprintf("%s: is a directory", displayPath(target)))
	}
	if err := os.Remove(s.fsPath(target)); err != nil {
		return s.reply(StatusFileNotFound, err.Error())
	}
	s.DebugLog("deleted %s", displayPath(target))
	return s.reply(StatusFileActionOK, fmt.Sprintf("File %s deleted", displayPath(target)))
}

func (s *Session) handleRnfr(params string) error {
	// A new RNFR replaces any pending source, even when it fails.
	s.mutex.Lock()
	s.renameFrom = ""
	s.mutex.Unlock()

	if params == "" {
		return s.reply(StatusSyntaxError, "")
	}
	from := s.resolvePath(params)
	if from == "" {
		return s.reply(StatusFileNotFound, errRenameRoot.Error())
	}
	if _, err := os.Stat(s.fsPath(from)); err != nil {
		return s.reply(StatusFileNotFound, err.Error())
	}

	s.mutex.Lock()
	s.renameFrom = from
	s.mutex.Unlock()
	return s.reply(StatusFileActionPending, "")
}

func (s *Session) handleRnto(params string) error {
	s.mutex.Lock()
	from := s.renameFrom
	s.renameFrom = ""
	s.mutex.Unlock()

	if from == "" || params == "" {
		return s.reply(StatusSyntaxError, "")
	}
	to := s.resolvePath(params)
	if err := os.Rename(s.fsPath(from), s.fsPath(to)); err != nil {
		return s.reply(StatusFileNotFound, err.Error())
	}
	s.DebugLog("renamed %s to %s", displayPath(from), displayPath(to))
	return s.reply(StatusFileActionOK, "")
}
