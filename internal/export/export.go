// Package export writes documents produced by the creative agent as
// zstd-compressed markdown.
package export

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
)

const docExt = ".md.zst"

// Document describes one exported file.
type Document struct {
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

type Exporter struct {
	dir string
	now func() time.Time
}

func New(dir string) *Exporter {
	return &Exporter{dir: dir, now: time.Now}
}

func (e *Exporter) Dir() string { return e.dir }

// Write compresses content into a new document named after title.
func (e *Exporter) Write(title, content string) (Document, error) {
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return Document{}, fmt.Errorf("create export dir: %w", err)
	}

	ts := e.now().UTC()
	name := fmt.Sprintf("%s-%s%s", Slug(title), ts.Format("20060102-150405.000"), docExt)
	path := filepath.Join(e.dir, name)

	f, err := os.Create(path)
	if err != nil {
		return Document{}, fmt.Errorf("create document: %w", err)
	}
	defer f.Close()

	zw, err := zstdWriter(f)
	if err != nil {
		return Document{}, err
	}
	if _, err := io.WriteString(zw, content); err != nil {
		zw.Close()
		return Document{}, fmt.Errorf("write document: %w", err)
	}
	if err := zw.Close(); err != nil {
		return Document{}, fmt.Errorf("close zstd: %w", err)
	}
	if err := f.Close(); err != nil {
		return Document{}, fmt.Errorf("close file: %w", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return Document{}, err
	}
	return Document{Name: name, Path: path, Size: info.Size(), CreatedAt: ts}, nil
}

// Read decompresses a document by name.
func (e *Exporter) Read(name string) (string, error) {
	if name != filepath.Base(name) || !strings.HasSuffix(name, docExt) {
		return "", fmt.Errorf("invalid document name %q", name)
	}
	f, err := os.Open(filepath.Join(e.dir, name))
	if err != nil {
		return "", err
	}
	defer f.Close()

	zr, err := zstdReader(f)
	if err != nil {
		return "", err
	}
	defer zr.Close()

	data, err := io.ReadAll(zr)
	if err != nil {
		return "", fmt.Errorf("read document: %w", err)
	}
	return string(data), nil
}

// List returns exported documents, newest first.
func (e *Exporter) List() ([]Document, error) {
	entries, err := os.ReadDir(e.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var docs []Document
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), docExt) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		docs = append(docs, Document{
			Name:      entry.Name(),
			Path:      filepath.Join(e.dir, entry.Name()),
			Size:      info.Size(),
			CreatedAt: info.ModTime(),
		})
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].CreatedAt.After(docs[j].CreatedAt) })
	return docs, nil
}

// Slug turns a title into a lowercase file-name fragment.
func Slug(title string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(title) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		case b.Len() > 0 && !dash:
			b.WriteByte('-')
			dash = true
		}
		if b.Len() >= 48 {
			break
		}
	}
	s := strings.TrimRight(b.String(), "-")
	if s == "" {
		return "document"
	}
	return s
}

func zstdWriter(w io.Writer) (*zstd.Encoder, error) {
	zw, err := zstd.NewWriter(w)
	if err != nil {
		return nil, fmt.Errorf("create zstd writer: %w", err)
	}
	return zw, nil
}

func zstdReader(r io.Reader) (*zstd.Decoder, error) {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("create zstd reader: %w", err)
	}
	return zr, nil
}
