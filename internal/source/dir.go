package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/kalambet/offsync/internal/kind"
)

// Dir serves items from a directory tree laid out as <root>/<kind>/<id>.json.
// Documents may instead be stored as <root>/document/<id>.pdf, in which case
// the payload is derived from the file: title, file_size and page_count.
type Dir struct {
	root string
}

func NewDir(root string) *Dir {
	return &Dir{root: root}
}

func (d *Dir) GetSourceItem(ctx context.Context, k kind.Kind, sourceID string) (kind.Payload, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !validID(sourceID) {
		return nil, ErrNotFound
	}
	base := filepath.Join(d.root, string(k), sourceID)

	p, err := readJSON(base + ".json")
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	if k == kind.Document {
		p, err := readPDF(base + ".pdf")
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}
	return nil, ErrNotFound
}

func validID(id string) bool {
	return id != "" && id != "." && id != ".." && !strings.ContainsAny(id, `/\`)
}

func readJSON(path string) (kind.Payload, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var p kind.Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", filepath.Base(path), err)
	}
	if p == nil {
		p = kind.Payload{}
	}
	return p, nil
}

func readPDF(path string) (kind.Payload, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening pdf %s: %w", filepath.Base(path), err)
	}
	defer f.Close()

	return kind.Payload{
		"title":      strings.TrimSuffix(filepath.Base(path), ".pdf"),
		"file_size":  info.Size(),
		"page_count": r.NumPage(),
		"mime_type":  "application/pdf",
	}, nil
}
