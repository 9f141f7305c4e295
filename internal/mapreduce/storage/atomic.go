package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/afero"
)

// AtomicWriteJSON implements the write-tmp/fsync/rename/fsync-parent
// protocol from spec section 6: write to <target>.tmp.<uuid>, fsync the
// file, rename over <target>, fsync the parent directory. Tolerates
// concurrent readers of target throughout.
//
// The file is fsynced through afero.File.Sync, which flushes to disk on
// afero.OsFs and is a no-op on in-memory filesystems (tests). The
// parent-directory fsync only runs when fs is an afero.OsFs.
func AtomicWriteJSON(fs afero.Fs, target string, v interface{}, indent bool) error {
	dir := filepath.Dir(target)
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create parent dir %s: %w", dir, err)
	}

	var data []byte
	var err error
	if indent {
		data, err = json.MarshalIndent(v, "", "  ")
	} else {
		data, err = json.Marshal(v)
	}
	if err != nil {
		return fmt.Errorf("marshal %s: %w", target, err)
	}

	tmp := fmt.Sprintf("%s.tmp.%s", target, uuid.NewString())

	f, err := fs.OpenFile(tmp, osWriteFlags, 0o644)
	if err != nil {
		return fmt.Errorf("open tmp file %s: %w", tmp, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		fs.Remove(tmp)
		return fmt.Errorf("write tmp file %s: %w", tmp, err)
	}
	if err := syncFile(f); err != nil {
		f.Close()
		fs.Remove(tmp)
		return fmt.Errorf("fsync tmp file %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		fs.Remove(tmp)
		return fmt.Errorf("close tmp file %s: %w", tmp, err)
	}

	if err := fs.Rename(tmp, target); err != nil {
		fs.Remove(tmp)
		return fmt.Errorf("rename %s to %s: %w", tmp, target, err)
	}

	if err := syncDir(fs, dir); err != nil {
		return fmt.Errorf("fsync parent dir %s: %w", dir, err)
	}

	return nil
}

// ReadJSON reads and unmarshals a JSON file through the given afero.Fs.
func ReadJSON(fs afero.Fs, path string, v interface{}) error {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// AppendLine appends a single line (plus LF) to target, creating parent
// directories as needed. Used for JSONL event logs, where each append is
// already crash-safe at the OS level via O_APPEND; callers batch-flush
// to bound the window of unflushed writes.
func AppendLine(fs afero.Fs, target string, line []byte) error {
	dir := filepath.Dir(target)
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create parent dir %s: %w", dir, err)
	}

	f, err := fs.OpenFile(target, osAppendFlags, 0o644)
	if err != nil {
		return fmt.Errorf("open %s for append: %w", target, err)
	}
	defer f.Close()

	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("append to %s: %w", target, err)
	}
	if len(line) == 0 || line[len(line)-1] != '\n' {
		if _, err := f.Write([]byte("\n")); err != nil {
			return fmt.Errorf("append newline to %s: %w", target, err)
		}
	}
	return syncFile(f)
}
