package catscodec

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// FileInfo describes one file carried by a FILES payload, mirroring
// cats/codecs.py's FileInfo dataclass. Path points at a spooled temp file
// holding the file's content; callers own its lifetime and must Remove it
// once done.
type FileInfo struct {
	Name string
	Path string
	Size int64
	Mime string
}

// Files is keyed by the logical form field name, matching cats/codecs.py's
// Files = Dict[str, FileInfo].
type Files map[string]FileInfo

type fileHeaderEntry struct {
	Key  string `json:"key"`
	Name string `json:"name"`
	Size int64  `json:"size"`
	Type string `json:"type,omitempty"`
}

// filesSeparator delimits the JSON file-header array from the concatenated
// file bodies within a FILES payload, matching cats/codecs.py's SEPARATOR.
var filesSeparator = []byte{0x00, 0x00}

// EncodeFiles spools data to a temp file: a JSON array of {key,name,size,type}
// headers, the separator, then each file's bytes concatenated in order.
// It returns the path to the spooled file; the caller owns its lifetime.
func EncodeFiles(files Files, tmpDir string) (path string, err error) {
	out, err := os.CreateTemp(tmpDir, "cats-files-*.tmp")
	if err != nil {
		return "", fmt.Errorf("catscodec: failed to create spool file: %w", err)
	}
	defer out.Close()

	keys := make([]string, 0, len(files))
	for k := range files {
		keys = append(keys, k)
	}

	header := make([]fileHeaderEntry, 0, len(keys))
	for _, k := range keys {
		info := files[k]
		header = append(header, fileHeaderEntry{Key: k, Name: info.Name, Size: info.Size, Type: info.Mime})
	}

	encodedHeader, err := json.Marshal(header)
	if err != nil {
		os.Remove(out.Name())
		return "", fmt.Errorf("%w: %v", ErrUnsupportedType, err)
	}

	bw := bufio.NewWriter(out)
	if _, err := bw.Write(encodedHeader); err != nil {
		os.Remove(out.Name())
		return "", err
	}
	if _, err := bw.Write(filesSeparator); err != nil {
		os.Remove(out.Name())
		return "", err
	}

	for _, k := range keys {
		info := files[k]
		if err := copyFileBody(bw, info); err != nil {
			os.Remove(out.Name())
			return "", fmt.Errorf("%w: %v", ErrUnsupportedType, err)
		}
	}

	if err := bw.Flush(); err != nil {
		os.Remove(out.Name())
		return "", err
	}
	return out.Name(), nil
}

func copyFileBody(w io.Writer, info FileInfo) error {
	src, err := os.Open(info.Path)
	if err != nil {
		return err
	}
	defer src.Close()

	n, err := io.CopyN(w, src, info.Size)
	if err != nil && err != io.EOF {
		return err
	}
	if n != info.Size {
		return fmt.Errorf("catscodec: file %q short read: wrote %d of %d bytes", info.Name, n, info.Size)
	}
	return nil
}

// DecodeFilesFromPath decodes a spooled FILES payload already on disk,
// re-spooling each entry's body into its own temp file so the payload file
// can be discarded independently.
func DecodeFilesFromPath(path, tmpDir string) (Files, error) {
	in, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer in.Close()
	return decodeFilesFromReader(bufio.NewReader(in), tmpDir)
}

// DecodeFilesFromBytes decodes a FILES payload held entirely in memory.
func DecodeFilesFromBytes(data []byte, tmpDir string) (Files, error) {
	return decodeFilesFromReader(newByteReader(data), tmpDir)
}

func decodeFilesFromReader(r *bufio.Reader, tmpDir string) (result Files, err error) {
	header, err := readUntilSeparator(r)
	if err != nil {
		return nil, fmt.Errorf("catscodec: failed to parse Files form data: %w", err)
	}

	var entries []fileHeaderEntry
	if err := json.Unmarshal(header, &entries); err != nil {
		return nil, fmt.Errorf("catscodec: failed to parse Files form data: %w", err)
	}

	result = make(Files, len(entries))
	defer func() {
		if err != nil {
			for _, info := range result {
				os.Remove(info.Path)
			}
		}
	}()

	for _, entry := range entries {
		tmp, spoolErr := spoolN(r, entry.Size, tmpDir)
		if spoolErr != nil {
			return nil, fmt.Errorf("catscodec: failed to parse Files form data: %w", spoolErr)
		}
		result[entry.Key] = FileInfo{Name: entry.Name, Path: tmp, Size: entry.Size, Mime: entry.Type}
	}
	return result, nil
}

func spoolN(r io.Reader, n int64, tmpDir string) (path string, err error) {
	out, err := os.CreateTemp(tmpDir, "cats-file-*.tmp")
	if err != nil {
		return "", err
	}
	defer out.Close()

	written, err := io.CopyN(out, r, n)
	if err != nil && err != io.EOF {
		os.Remove(out.Name())
		return "", err
	}
	if written != n {
		os.Remove(out.Name())
		return "", fmt.Errorf("catscodec: short read spooling file: wrote %d of %d bytes", written, n)
	}
	return out.Name(), nil
}

func readUntilSeparator(r *bufio.Reader) ([]byte, error) {
	var header []byte
	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		header = append(header, b)
		if len(header) >= len(filesSeparator) && bytesEqual(header[len(header)-len(filesSeparator):], filesSeparator) {
			return header[:len(header)-len(filesSeparator)], nil
		}
	}
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func newByteReader(data []byte) *bufio.Reader {
	return bufio.NewReader(bytes.NewReader(data))
}
