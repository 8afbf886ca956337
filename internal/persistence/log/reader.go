package log

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/klauspost/compress/zstd"

	"tidewar.ai/internal/netcode"
)

// ReadHeader loads header.json from a match directory.
func ReadHeader(dir string) (netcode.MatchHeader, error) {
	var h netcode.MatchHeader
	b, err := os.ReadFile(filepath.Join(dir, headerFile))
	if err != nil {
		return h, err
	}
	if err := json.Unmarshal(b, &h); err != nil {
		return h, fmt.Errorf("%s: %w", headerFile, err)
	}
	return h, nil
}

// TickFiles lists the tick logs of a match in write order.
func TickFiles(dir string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(dir, tickPrefix+"-*.jsonl.zst"))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// Reader iterates the tick entries of a match across all its files.
type Reader struct {
	files []string
	next  int

	f   *os.File
	dec *zstd.Decoder
	sc  *bufio.Scanner
}

func OpenReader(dir string) (*Reader, error) {
	files, err := TickFiles(dir)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no tick logs in %s", dir)
	}
	return &Reader{files: files}, nil
}

// Next returns the next entry, or io.EOF after the last one.
func (r *Reader) Next() (netcode.TickLogEntry, error) {
	var e netcode.TickLogEntry
	for {
		if r.sc == nil {
			if r.next >= len(r.files) {
				return e, io.EOF
			}
			if err := r.open(r.files[r.next]); err != nil {
				return e, err
			}
			r.next++
		}
		if r.sc.Scan() {
			if err := json.Unmarshal(r.sc.Bytes(), &e); err != nil {
				return e, fmt.Errorf("%s: %w", r.files[r.next-1], err)
			}
			return e, nil
		}
		err := r.sc.Err()
		r.closeFile()
		// A tail cut short by a crash ends the log.
		if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
			return e, fmt.Errorf("%s: %w", r.files[r.next-1], err)
		}
	}
}

func (r *Reader) open(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	dec, err := zstd.NewReader(f)
	if err != nil {
		_ = f.Close()
		return err
	}
	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	r.f, r.dec, r.sc = f, dec, sc
	return nil
}

func (r *Reader) closeFile() {
	if r.dec != nil {
		r.dec.Close()
		r.dec = nil
	}
	if r.f != nil {
		_ = r.f.Close()
		r.f = nil
	}
	r.sc = nil
}

func (r *Reader) Close() error {
	r.closeFile()
	r.next = len(r.files)
	return nil
}
