package ingestion

import (
	"bufio"
	"errors"
	"io"
	"io/fs"
	"os"
	"reflect"
	"strings"

	"github.com/pterm/pterm"
)

// maxLineTail bounds the stored copy of the last line read
const maxLineTail = 500

// ReadResult is one batch of lines and the file state after reading them
type ReadResult struct {
	Lines    []string
	Position int64
	Inode    int64
	LastLine string
}

// IncrementalReader reads an event file from a remembered offset and
// notices when the file has been rotated underneath it
type IncrementalReader struct {
	filePath        string
	lastPosition    int64
	lastInode       int64 // inode on Unix, file index on Windows
	lastLineContent string
	logger          *pterm.Logger
}

// NewIncrementalReader creates a reader resuming from a stored position
func NewIncrementalReader(filePath string, lastPos int64, lastInode int64, lastLine string, logger *pterm.Logger) *IncrementalReader {
	return &IncrementalReader{
		filePath:        filePath,
		lastPosition:    lastPos,
		lastInode:       lastInode,
		lastLineContent: lastLine,
		logger:          logger,
	}
}

// Path returns the file being read
func (r *IncrementalReader) Path() string {
	return r.filePath
}

// unchanged is the result of a read that produced nothing
func (r *IncrementalReader) unchanged() ReadResult {
	return ReadResult{Position: r.lastPosition, Inode: r.lastInode, LastLine: r.lastLineContent}
}

// ReadBatch reads up to maxLines complete, non-empty lines past the current position.
// A missing or unreadable file yields an empty result rather than an error so the
// caller keeps polling.
func (r *IncrementalReader) ReadBatch(maxLines int) (ReadResult, error) {
	file, err := os.Open(r.filePath)
	if err != nil {
		switch {
		case errors.Is(err, fs.ErrNotExist):
			r.logger.Debug("Event file does not exist yet, waiting for creation",
				r.logger.Args("path", r.filePath))
		case errors.Is(err, fs.ErrPermission):
			r.logger.Error("Permission denied accessing event file",
				r.logger.Args("path", r.filePath, "error", err))
		default:
			r.logger.Warn("Failed to open event file, will retry",
				r.logger.Args("path", r.filePath, "error", err))
		}
		return r.unchanged(), nil
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		r.logger.WithCaller().Error("Failed to stat event file", r.logger.Args("path", r.filePath, "error", err))
		return ReadResult{}, err
	}

	inode := fileInode(stat)

	// File deleted and recreated
	if r.lastInode != 0 && inode != 0 && inode != r.lastInode {
		r.logger.Info("File rotation detected: inode changed",
			r.logger.Args("path", r.filePath, "old_inode", r.lastInode, "new_inode", inode))
		r.lastPosition = 0
		r.lastLineContent = ""
	}
	if inode != 0 {
		r.lastInode = inode
	}

	// File truncated in place
	if stat.Size() < r.lastPosition {
		r.logger.Info("File rotation detected: file truncated",
			r.logger.Args("path", r.filePath, "old_size", r.lastPosition, "new_size", stat.Size()))
		r.lastPosition = 0
		r.lastLineContent = ""
	}

	if _, err := file.Seek(r.lastPosition, io.SeekStart); err != nil {
		r.logger.WithCaller().Error("Failed to seek in event file",
			r.logger.Args("path", r.filePath, "position", r.lastPosition, "error", err))
		return ReadResult{}, err
	}

	// Only complete lines are consumed, so a writer caught mid-line is picked
	// up whole on the next read
	br := bufio.NewReader(file)
	position := r.lastPosition
	lines := []string{}
	lastLine := r.lastLineContent

	for len(lines) < maxLines {
		raw, err := br.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				break
			}
			r.logger.WithCaller().Error("Failed to read event file",
				r.logger.Args("path", r.filePath, "error", err))
			return ReadResult{}, err
		}
		position += int64(len(raw))

		line := strings.TrimRight(raw, "\r\n")
		if line == "" {
			continue
		}
		lines = append(lines, line)
		lastLine = getTail(line, maxLineTail)
	}

	if position == r.lastPosition {
		return r.unchanged(), nil
	}

	r.logger.Trace("Read batch from event file",
		r.logger.Args(
			"path", r.filePath,
			"lines_read", len(lines),
			"old_position", r.lastPosition,
			"new_position", position,
		))

	return ReadResult{Lines: lines, Position: position, Inode: r.lastInode, LastLine: lastLine}, nil
}

// UpdatePosition commits the position once the lines read up to it are stored
func (r *IncrementalReader) UpdatePosition(position int64, inode int64, lastLine string) {
	r.lastPosition = position
	r.lastInode = inode
	r.lastLineContent = lastLine
}

// Position returns the committed offset
func (r *IncrementalReader) Position() int64 {
	return r.lastPosition
}

// Reset rewinds the reader to the beginning of the file
func (r *IncrementalReader) Reset() {
	r.logger.Info("Resetting reader to beginning", r.logger.Args("path", r.filePath))
	r.lastPosition = 0
	r.lastInode = 0
	r.lastLineContent = ""
}

// getTail returns the last maxLen bytes of s
func getTail(s string, maxLen int) string {
	s = strings.TrimRight(s, " \t\n\r")
	if len(s) <= maxLen {
		return s
	}
	return s[len(s)-maxLen:]
}

// fileInode returns a stable identifier for the file, or 0 when the platform
// does not expose one
func fileInode(stat os.FileInfo) int64 {
	sys := stat.Sys()
	if sys == nil {
		return 0
	}

	v := reflect.ValueOf(sys)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return 0
	}

	// Unix
	if ino := v.FieldByName("Ino"); ino.IsValid() && ino.CanUint() {
		return int64(ino.Uint())
	}

	// Windows
	if high := v.FieldByName("FileIndexHigh"); high.IsValid() && high.CanUint() {
		low := uint64(0)
		if f := v.FieldByName("FileIndexLow"); f.IsValid() && f.CanUint() {
			low = f.Uint()
		}
		return int64((high.Uint() << 32) | low)
	}

	return 0
}
