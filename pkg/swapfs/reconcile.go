package swapfs

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// DefaultProcSwapsPath is the kernel's live swap-device table.
const DefaultProcSwapsPath = "/proc/swaps"

// Reconcile re-reads procSwapsPath and brings the roster's view of the
// world back in line with what the kernel actually has active.
//
// Every entry's ObservedInWild flag is reset before the scan; each data
// line owned by this roster's directory refreshes its entry's size, used,
// and ObservedInWild, adopting the slot on first sighting. Any line that
// is not a data row must match the kernel's "Filename Type Size Used ..."
// header shape; the kernel is known to sometimes repeat or relocate this
// header line, so a match anywhere in the file is accepted and latches
// ProcSwapsValidated, while a genuine mismatch aborts reconciliation.
// After the scan, any entry that still claims a size but was never
// observed this pass is presumed deactivated behind the daemon's back
// (e.g. a manual swapoff) and is cleared.
//
// scratch is an optional caller-owned read buffer (see pkg/meminfo for the
// same convention); nil is fine, letting bufio allocate its own.
func (r *Roster) Reconcile(procSwapsPath string, scratch []byte, now int64, log Logger) error {
	if log == nil {
		log = nopLogger{}
	}
	f, err := os.Open(procSwapsPath)
	if err != nil {
		return fmt.Errorf("swapfs: open %s: %w", procSwapsPath, err)
	}
	defer f.Close()
	return r.reconcileFrom(f, scratch, now, log)
}

func (r *Roster) reconcileFrom(rd io.Reader, scratch []byte, now int64, log Logger) error {
	var wasObserved [MaxSwapfiles]bool
	for i := range r.entries {
		wasObserved[i] = r.entries[i].ObservedInWild
		r.entries[i].ObservedInWild = false
	}

	sc := bufio.NewScanner(rd)
	if len(scratch) > 0 {
		sc.Buffer(scratch, len(scratch))
	}
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if isProcSwapsDataRow(fields) {
			r.applyDataRow(fields, wasObserved, now, log)
			continue
		}
		if !isProcSwapsHeaderRow(fields) {
			return fmt.Errorf("%w: %q", ErrProcSwapsFormat, line)
		}
		r.procSwapsValidated = true
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("swapfs: scan %s: %w", "/proc/swaps", err)
	}

	for i := range r.entries {
		if r.entries[i].SizeBytes > 0 && !r.entries[i].ObservedInWild {
			log.Notice("swapfile deactivated outside the daemon", "index", i, "path", r.Filename(i))
			r.entries[i] = SwapEntry{}
		}
	}
	return nil
}

// isProcSwapsDataRow reports whether fields look like a "Filename Type
// Size Used Priority" data row: at least four columns with the third and
// fourth parsing as integers (the kB size and used columns).
func isProcSwapsDataRow(fields []string) bool {
	if len(fields) < 4 {
		return false
	}
	if _, err := strconv.ParseInt(fields[2], 10, 64); err != nil {
		return false
	}
	if _, err := strconv.ParseInt(fields[3], 10, 64); err != nil {
		return false
	}
	return true
}

// isProcSwapsHeaderRow reports whether fields match the kernel's header
// line, case-sensitively, by its first four columns.
func isProcSwapsHeaderRow(fields []string) bool {
	if len(fields) < 4 {
		return false
	}
	return fields[0] == "Filename" && fields[1] == "Type" && fields[2] == "Size" && fields[3] == "Used"
}

// applyDataRow updates the owned entry (if any) described by one
// /proc/swaps data row. Non-"file" rows and rows outside this roster's
// directory are silently skipped: this daemon shares the swap subsystem
// with partitions and files it does not own.
func (r *Roster) applyDataRow(fields []string, wasObserved [MaxSwapfiles]bool, now int64, log Logger) {
	name, typ := fields[0], fields[1]
	if typ != "file" {
		return
	}
	idx, ok := r.ownedIndex(name)
	if !ok {
		return
	}
	sizeKB, _ := strconv.ParseInt(fields[2], 10, 64)
	usedKB, _ := strconv.ParseInt(fields[3], 10, 64)
	sizeBytes := sizeKB * 1024
	usedBytes := usedKB * 1024

	e := &r.entries[idx]
	switch {
	case !e.Active():
		e.CreatedTick = now
		log.Notice("adopted swapfile found in /proc/swaps", "index", idx, "path", name, "size", sizeBytes)
	case e.SizeBytes != sizeBytes:
		if wasObserved[idx] {
			log.Notice("swapfile size changed outside the daemon", "index", idx, "path", name,
				"was", e.SizeBytes, "now", sizeBytes)
		} else if sizeBytes > e.SizeBytes {
			log.Info("swapfile larger than roster expected", "index", idx, "path", name,
				"expected", e.SizeBytes, "found", sizeBytes)
		} else if e.SizeBytes-sizeBytes > 2*r.PageSize {
			log.Info("swapfile smaller than roster expected", "index", idx, "path", name,
				"expected", e.SizeBytes, "found", sizeBytes)
		}
	}
	if usedBytes > sizeBytes {
		log.Notice("swapfile reports used greater than size", "index", idx, "path", name,
			"size", sizeBytes, "used", usedBytes)
	}
	e.SizeBytes = sizeBytes
	e.UsedBytes = usedBytes
	e.ObservedInWild = true
}
