//go:build linux

package swapfs

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// perFileOverheadPages accounts for the swap header page plus rounding slack
// mkswap imposes on top of the usable payload; Allocate asks the
// filesystem for this many extra pages beyond the caller's request.
const perFileOverheadPages = 2

// Engine creates, formats, activates, retires, and deletes the swap files
// named by its Roster. MkswapBin is the absolute path to the mkswap
// binary, resolved once via ResolveMkswap so Allocate never invokes a
// shell and never depends on PATH at call time.
type Engine struct {
	Roster    *Roster
	PageSize  int64
	MkswapBin string
	Scratch   []byte
	Log       Logger
	// Paranoid, when set, makes Retire overwrite a file with zeroes before
	// unlinking it. When clear, Retire unlinks directly.
	Paranoid bool
	// MinSwapsize is the floor on any single file Allocate creates; a
	// request that would produce a smaller file is refused outright rather
	// than clamped up. Zero means no floor.
	MinSwapsize int64
	// MaxSwapsize caps the size of any single file Allocate creates. A
	// hard filesystem size limit (EFBIG) hit while filling a file ratchets
	// this down to the actual written size, page-truncated; zero means
	// uncapped.
	MaxSwapsize int64

	// Now returns the current tick counter, used to stamp CreatedTick.
	Now func() int64
}

// NewEngine constructs an Engine bound to roster. mkswapBin should be the
// resolved absolute path to mkswap (see ResolveMkswap). minSwapsize and
// maxSwapsize are the per-file floor and cap from configuration; zero
// disables either bound.
func NewEngine(roster *Roster, pageSize int64, mkswapBin string, scratch []byte, log Logger, now func() int64, minSwapsize, maxSwapsize int64) *Engine {
	if log == nil {
		log = nopLogger{}
	}
	return &Engine{Roster: roster, PageSize: pageSize, MkswapBin: mkswapBin, Scratch: scratch, Log: log, Now: now, MinSwapsize: minSwapsize, MaxSwapsize: maxSwapsize}
}

// ResolveMkswap locates the mkswap binary once at startup, so that every
// later invocation uses an absolute path and exec.Command never consults
// PATH or a shell.
func ResolveMkswap() (string, error) {
	p, err := exec.LookPath("mkswap")
	if err != nil {
		return "", fmt.Errorf("swapfs: locate mkswap: %w", err)
	}
	return p, nil
}

// roundDownPages truncates bytes to the next-lower whole multiple of
// pageSize.
func roundDownPages(bytes, pageSize int64) int64 {
	if pageSize <= 0 {
		return bytes
	}
	return (bytes / pageSize) * pageSize
}

// Allocate creates, formats, and activates a new swap file sized to cover
// reqBytes of usable capacity, truncated down to a whole number of pages
// plus perFileOverheadPages of header/rounding slack, and capped at
// MaxSwapsize when one is configured. A request that lands below
// MinSwapsize is refused with ErrRequestTooSmall before any filesystem
// work happens.
//
// A free-space check via statfs runs before any file is created; any stale
// file left at the target slot's path from a previous failed attempt is
// unlinked first so O_EXCL below cannot be permanently blocked by it. Every
// failure from that point on (zero-fill, mkswap, swapon) unlinks the
// partially built file before returning, so a failed attempt never leaves
// a half-built file squatting on a slot's name. ENOSPC and EDQUOT are
// reported as ordinary errors (the caller, pkg/policy, treats them as a
// hard-failure signal and enters Diet); EFBIG during the zero-fill pass
// additionally ratchets MaxSwapsize down to the actually written size,
// page-truncated.
func (e *Engine) Allocate(reqBytes int64) (err error) {
	size := roundDownPages(reqBytes, e.PageSize) + perFileOverheadPages*e.PageSize
	if e.MaxSwapsize > 0 && size > e.MaxSwapsize {
		size = roundDownPages(e.MaxSwapsize, e.PageSize)
	}
	if e.MinSwapsize > 0 && size < e.MinSwapsize {
		return fmt.Errorf("%w: %d bytes, floor %d", ErrRequestTooSmall, size, e.MinSwapsize)
	}

	idx := e.Roster.findFreeSlot()
	if e.Roster.entries[idx].Active() {
		return ErrRosterFull
	}
	path := e.Roster.Filename(idx)

	if ok, ferr := e.hasFreeSpace(path, size); ferr != nil {
		return ferr
	} else if !ok {
		return fmt.Errorf("swapfs: insufficient free space for %s (%d bytes): %w", path, size, unix.ENOSPC)
	}

	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("swapfs: unlink stale %s: %w", path, err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("swapfs: create %s: %w", path, err)
	}

	written, zerr := zeroFill(f, size, e.Scratch)
	if zerr == nil {
		zerr = f.Sync()
	}
	f.Close()
	if zerr != nil {
		if errors.Is(zerr, unix.EFBIG) {
			e.MaxSwapsize = roundDownPages(written, e.PageSize)
			e.Log.Warn("swapfile hit filesystem size limit, ratcheting max_swapsize down",
				"path", path, "max_swapsize", e.MaxSwapsize)
		}
		_ = os.Remove(path)
		return fmt.Errorf("swapfs: zero-fill %s: %w", path, zerr)
	}

	cmd := exec.Command(e.MkswapBin, path)
	if out, err := cmd.CombinedOutput(); err != nil {
		_ = os.Remove(path)
		return fmt.Errorf("swapfs: mkswap %s: %w: %s", path, err, out)
	}

	if err := unix.Swapon(path, 0); err != nil {
		_ = os.Remove(path)
		return fmt.Errorf("swapfs: swapon %s: %w", path, err)
	}

	e.Roster.entries[idx] = SwapEntry{
		SizeBytes:      size,
		UsedBytes:      0,
		CreatedTick:    e.Now(),
		ObservedInWild: true,
	}
	e.Roster.advanceCursor(idx)
	e.Log.Notice("allocated swapfile", "index", idx, "path", path, "size", size)
	return nil
}

// hasFreeSpace reports whether the filesystem holding path has at least
// needed bytes available to an unprivileged writer.
func (e *Engine) hasFreeSpace(path string, needed int64) (bool, error) {
	avail, err := FilesystemFree(filepath.Dir(path))
	if err != nil {
		return false, err
	}
	return avail >= needed, nil
}

// FilesystemFree returns the bytes available on dir's filesystem to an
// unprivileged writer (f_bavail, not f_bfree, so a margin is left for the
// superuser when the disk fills up). EINTR is retried once.
func FilesystemFree(dir string) (int64, error) {
	st, err := statfsRetrying(dir)
	if err != nil {
		return 0, err
	}
	return int64(st.Bavail) * int64(st.Bsize), nil
}

// FilesystemSize returns the total capacity of dir's filesystem; the
// startup check compares it against the smallest useful swap file.
func FilesystemSize(dir string) (int64, error) {
	st, err := statfsRetrying(dir)
	if err != nil {
		return 0, err
	}
	return int64(st.Blocks) * int64(st.Bsize), nil
}

func statfsRetrying(dir string) (unix.Statfs_t, error) {
	var st unix.Statfs_t
	err := unix.Statfs(dir, &st)
	if errors.Is(err, unix.EINTR) {
		err = unix.Statfs(dir, &st)
	}
	if err != nil {
		return st, fmt.Errorf("swapfs: statfs %s: %w", dir, err)
	}
	return st, nil
}

// zeroFill writes n zero bytes to f using buf as a reusable scratch
// buffer (falling back to a one-page buffer if buf is empty), matching
// the scratch-buffer convention used throughout this daemon. It returns
// the number of bytes actually written, which on an EFBIG failure is the
// caller's signal for how far the filesystem's size limit let it get.
func zeroFill(f *os.File, n int64, buf []byte) (int64, error) {
	if len(buf) == 0 {
		buf = make([]byte, os.Getpagesize())
	}
	for i := range buf {
		buf[i] = 0
	}
	var written int64
	for n > 0 {
		chunk := int64(len(buf))
		if chunk > n {
			chunk = n
		}
		w, err := f.Write(buf[:chunk])
		written += int64(w)
		if err != nil {
			return written, err
		}
		n -= int64(w)
	}
	return written, nil
}

// Free retires the roster's most suitable entry toward a shrink of
// target bytes: the active entry with the largest size not exceeding
// target, breaking ties toward the lowest index. If no entry qualifies,
// Free retires nothing and returns ErrNoRetirable; callers treat that as
// a soft condition, not a Diet-triggering failure.
func (e *Engine) Free(target int64) error {
	idx := e.Roster.findRetirable(target)
	if idx == -1 {
		return ErrNoRetirable
	}
	return e.Retire(idx)
}

// Retire deactivates and deletes the swap file at slot idx.
//
// swapoff runs first; if it fails, the file is left alone entirely
// (still active, still swapped-on) rather than risk unlinking a file the
// kernel is still using as backing store. Only after a successful swapoff,
// and only when Paranoid is set, is the file overwritten with zeroes
// before it is unlinked; otherwise it is unlinked directly.
func (e *Engine) Retire(idx int) error {
	entry := e.Roster.entries[idx]
	if !entry.Active() {
		return nil
	}
	path := e.Roster.Filename(idx)

	if err := unix.Swapoff(path); err != nil {
		return fmt.Errorf("swapfs: swapoff %s: %w", path, err)
	}

	if e.Paranoid {
		if f, oerr := os.OpenFile(path, os.O_WRONLY|unix.O_NOFOLLOW, 0); oerr == nil {
			_ = zeroFillRetrying(f, entry.SizeBytes, e.Scratch)
			_ = f.Close()
		}
	}

	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("swapfs: unlink %s: %w", path, err)
	}

	e.Roster.entries[idx] = SwapEntry{}
	e.Log.Notice("retired swapfile", "index", idx, "path", path, "size", entry.SizeBytes)
	return nil
}

// zeroFillRetrying is zeroFill with EINTR retried on each write, for the
// paranoid overwrite-before-delete pass where losing the wipe partway
// through a signal would defeat its purpose.
func zeroFillRetrying(f *os.File, n int64, buf []byte) error {
	if len(buf) == 0 {
		buf = make([]byte, os.Getpagesize())
	}
	for i := range buf {
		buf[i] = 0
	}
	for n > 0 {
		chunk := int64(len(buf))
		if chunk > n {
			chunk = n
		}
		w, err := f.Write(buf[:chunk])
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return err
		}
		n -= int64(w)
	}
	return nil
}

// RetireAll deactivates and deletes every active entry; used by erase and,
// in paranoid mode, on graceful daemon shutdown. An entry whose swapoff
// fails keeps its file; the first such error is returned.
func (e *Engine) RetireAll() error {
	var firstErr error
	for i := range e.Roster.entries {
		if !e.Roster.entries[i].Active() {
			continue
		}
		if err := e.Retire(i); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// ActivateOldSwaps recovers the roster's view of the swap directory at
// startup: every regular file it contains whose name is a valid slot
// index is either reactivated (if it is at least minSwapfileBytes bytes)
// or deleted as unusably small debris from a previous unclean shutdown.
// It finishes with a Reconcile against /proc/swaps so the roster reflects
// reality even if some of these files were already active (e.g. restart
// without a full shutdown).
func (e *Engine) ActivateOldSwaps(minSwapfileBytes int64, procSwapsPath string, now int64) error {
	entries, err := os.ReadDir(e.Roster.Dir)
	if err != nil {
		return fmt.Errorf("swapfs: read swap dir %s: %w", e.Roster.Dir, err)
	}
	for _, de := range entries {
		if de.IsDir() {
			continue
		}
		idx, ok := e.Roster.ownedIndex(filepath.Join(e.Roster.Dir, de.Name()))
		if !ok {
			continue
		}
		path := e.Roster.Filename(idx)
		fi, err := de.Info()
		if err != nil {
			continue
		}
		if fi.Size() < minSwapfileBytes {
			e.Log.Info("discarding undersized leftover swapfile", "path", path, "size", fi.Size())
			_ = os.Remove(path)
			continue
		}

		cmd := exec.Command(e.MkswapBin, path)
		if out, err := cmd.CombinedOutput(); err != nil {
			e.Log.Warn("failed to reformat leftover swapfile, discarding", "path", path, "err", err, "out", string(out))
			_ = os.Remove(path)
			continue
		}
		if err := unix.Swapon(path, 0); err != nil {
			e.Log.Warn("failed to activate leftover swapfile, discarding", "path", path, "err", err)
			_ = os.Remove(path)
			continue
		}
		e.Roster.entries[idx] = SwapEntry{
			SizeBytes:      fi.Size(),
			CreatedTick:    now,
			ObservedInWild: true,
		}
		e.Log.Notice("recovered leftover swapfile", "index", idx, "path", path, "size", fi.Size())
	}
	return e.Roster.Reconcile(procSwapsPath, e.Scratch, now, e.Log)
}
