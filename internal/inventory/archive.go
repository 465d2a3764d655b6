package inventory

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// Archive keeps copies of exported inventories
type Archive interface {
	// Save writes a file and returns the name it was stored under
	Save(filename string, data []byte) (string, error)

	// Get reads an archived file
	Get(filename string) ([]byte, error)

	// List returns archived file names, newest name first
	List() ([]string, error)
}

// DirArchive implements Archive on a local directory
type DirArchive struct {
	basePath string
}

// NewDirArchive creates the directory if needed
func NewDirArchive(basePath string) (*DirArchive, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("creating archive directory: %w", err)
	}
	return &DirArchive{basePath: basePath}, nil
}

// path rejects names that would escape the archive directory
func (d *DirArchive) path(filename string) (string, error) {
	if filename == "" || filename != filepath.Base(filename) || strings.HasPrefix(filename, ".") {
		return "", fmt.Errorf("invalid archive file name %q", filename)
	}
	return filepath.Join(d.basePath, filename), nil
}

// Save writes data, replacing any earlier file of the same name
func (d *DirArchive) Save(filename string, data []byte) (string, error) {
	path, err := d.path(filename)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("writing file: %w", err)
	}
	return filename, nil
}

// Get reads an archived file
func (d *DirArchive) Get(filename string) ([]byte, error) {
	path, err := d.path(filename)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	return data, nil
}

// List returns the archived JSON files
func (d *DirArchive) List() ([]string, error) {
	entries, err := os.ReadDir(d.basePath)
	if err != nil {
		return nil, fmt.Errorf("reading archive directory: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.Type().IsRegular() && filepath.Ext(entry.Name()) == ".json" {
			names = append(names, entry.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	return names, nil
}

// exportNamespace scopes the name-based UUIDs that key archived exports
var exportNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("pantry-tracker/exports"))

// archivePrefix is the part of an archived file name that identifies its
// owner. It is derived from the user id alone, so two users sharing a
// username never see each other's files.
func archivePrefix(owner Owner) string {
	return uuid.NewSHA1(exportNamespace, []byte(owner.UserID)).String() + "."
}

// archiveName is the name filename is archived under for owner
func archiveName(owner Owner, filename string) string {
	return archivePrefix(owner) + filename
}

// ownsArchive reports whether name was archived for owner
func ownsArchive(owner Owner, name string) bool {
	rest, ok := strings.CutPrefix(name, archivePrefix(owner))
	return ok && rest != "" && !strings.Contains(rest, "/")
}
