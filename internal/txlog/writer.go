package txlog

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const (
	textExt    = ".txlog"
	sidecarExt = ".jsonl"
)

// Writer stores artifacts under dir/<channel>/<day>.{txlog,jsonl}
type Writer struct {
	dir string
}

// NewWriter creates a writer rooted at dir
func NewWriter(dir string) *Writer {
	return &Writer{dir: dir}
}

// Paths returns the text and sidecar paths for a programming day
func (w *Writer) Paths(channelID, day string) (string, string) {
	base := filepath.Join(w.dir, channelID, day)
	return base + textExt, base + sidecarExt
}

// WriteDay renders both artifacts for a day and replaces any previous version
func (w *Writer) WriteDay(h Header, events []Event) error {
	if h.ChannelID == "" || h.Date == "" {
		return fmt.Errorf("channel and date are required")
	}

	var text, sidecar bytes.Buffer
	if err := WriteText(&text, h, events); err != nil {
		return err
	}
	if err := WriteJSONL(&sidecar, h, events); err != nil {
		return err
	}

	textPath, sidecarPath := w.Paths(h.ChannelID, h.Date)
	if err := os.MkdirAll(filepath.Dir(textPath), 0o755); err != nil {
		return fmt.Errorf("failed to create artifact directory: %w", err)
	}
	if err := writeAtomic(textPath, text.Bytes()); err != nil {
		return err
	}
	return writeAtomic(sidecarPath, sidecar.Bytes())
}

// VerifyDay reads both artifacts of a day and checks their event ids
func (w *Writer) VerifyDay(channelID, day string) error {
	textPath, sidecarPath := w.Paths(channelID, day)

	textFile, err := os.Open(textPath)
	if err != nil {
		return fmt.Errorf("failed to open text log: %w", err)
	}
	defer textFile.Close()
	textIDs, err := ReadTextIDs(textFile)
	if err != nil {
		return err
	}

	sidecarFile, err := os.Open(sidecarPath)
	if err != nil {
		return fmt.Errorf("failed to open sidecar: %w", err)
	}
	defer sidecarFile.Close()
	sidecarIDs, err := ReadJSONLIDs(sidecarFile)
	if err != nil {
		return err
	}

	return VerifyBijection(textIDs, sidecarIDs)
}

// Days lists the programming days with a text artifact for the channel
func (w *Writer) Days(channelID string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(w.dir, channelID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list artifacts: %w", err)
	}

	var days []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), textExt) {
			continue
		}
		days = append(days, strings.TrimSuffix(e.Name(), textExt))
	}
	sort.Strings(days)
	return days, nil
}

// Channels lists the channel directories under the writer root
func (w *Writer) Channels() ([]string, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list artifact channels: %w", err)
	}

	var channels []string
	for _, e := range entries {
		if e.IsDir() {
			channels = append(channels, e.Name())
		}
	}
	sort.Strings(channels)
	return channels, nil
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}
