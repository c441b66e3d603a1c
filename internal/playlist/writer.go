package playlist

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/randomizedcoder/go-iptv-probe/internal/model"
)

// EncodeTXT writes channels as "name,url" lines.
func EncodeTXT(w io.Writer, channels []model.RankedCandidate) error {
	bw := bufio.NewWriter(w)
	for _, c := range channels {
		fmt.Fprintf(bw, "%s,%s\n", c.Name, c.URL)
	}
	return bw.Flush()
}

// EncodeM3U writes channels as an extended M3U list. A non-empty epgURL
// is advertised through the x-tvg-url header attribute.
func EncodeM3U(w io.Writer, channels []model.RankedCandidate, epgURL string) error {
	bw := bufio.NewWriter(w)
	if epgURL != "" {
		fmt.Fprintf(bw, "#EXTM3U x-tvg-url=%q\n\n", epgURL)
	} else {
		bw.WriteString("#EXTM3U\n\n")
	}
	for _, c := range channels {
		fmt.Fprintf(bw, "#EXTINF:-1,%s\n%s\n\n", c.Name, c.URL)
	}
	return bw.Flush()
}

// WriteTXT writes channels to path, creating the parent directory.
func WriteTXT(path string, channels []model.RankedCandidate) error {
	return writeFile(path, func(w io.Writer) error {
		return EncodeTXT(w, channels)
	})
}

// WriteM3U writes channels to path, creating the parent directory.
func WriteM3U(path string, channels []model.RankedCandidate, epgURL string) error {
	return writeFile(path, func(w io.Writer) error {
		return EncodeM3U(w, channels, epgURL)
	})
}

// writeFile replaces path atomically so a player never reads a half
// written list.
func writeFile(path string, encode func(io.Writer) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := encode(tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}
