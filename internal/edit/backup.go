package edit

import (
	"errors"
	"os"
)

// backupSlot is the single most recent pre-edit snapshot of one file, kept
// as the sibling file <path><suffix>. Saving again replaces the previous
// snapshot, so only one level of undo exists.
type backupSlot struct {
	path   string
	backup string
}

func slotFor(path, suffix string) backupSlot {
	return backupSlot{path: path, backup: path + suffix}
}

func (b backupSlot) save(content []byte, perm os.FileMode) error {
	return os.WriteFile(b.backup, content, perm)
}

func (b backupSlot) exists() bool {
	_, err := os.Stat(b.backup)
	return err == nil
}

// restore moves the snapshot back over the file, emptying the slot.
func (b backupSlot) restore() error {
	if err := os.Rename(b.backup, b.path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return errNoBackup
		}
		return err
	}
	return nil
}

var errNoBackup = errors.New("no backup")
