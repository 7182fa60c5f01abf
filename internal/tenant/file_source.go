package tenant

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

const descriptorExt = ".yaml"

// FileSource reads one YAML descriptor per tenant from a directory:
//
//	# <dir>/UNGA79.yaml
//	name: UN General Assembly 79
//	database_url: postgres://parley@db/unga79
type FileSource struct {
	dir string
}

func NewFileSource(dir string) *FileSource {
	return &FileSource{dir: dir}
}

func (s *FileSource) Dir() string {
	return s.dir
}

func (s *FileSource) path(code string) string {
	return filepath.Join(s.dir, code+descriptorExt)
}

// Lookup treats a missing, unreadable or malformed file the same way: the
// tenant has no usable configuration.
func (s *FileSource) Lookup(_ context.Context, code string) (Descriptor, error) {
	if !ValidCode(code) {
		return Descriptor{}, fmt.Errorf("%w: %q is not a valid conference code", ErrTenantNotFound, code)
	}
	contents, err := os.ReadFile(s.path(code))
	if errors.Is(err, fs.ErrNotExist) {
		return Descriptor{}, fmt.Errorf("%w: %s", ErrTenantNotFound, code)
	}
	if err != nil {
		return Descriptor{}, fmt.Errorf("%w: read %s: %v", ErrTenantNotFound, code, err)
	}

	var desc Descriptor
	if err := yaml.Unmarshal(contents, &desc); err != nil {
		return Descriptor{}, fmt.Errorf("%w: parse %s: %v", ErrTenantNotFound, code, err)
	}
	desc.Code = code
	return desc, nil
}

// Codes lists the tenant codes that have a descriptor file.
func (s *FileSource) Codes() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read tenant dir: %w", err)
	}
	codes := make([]string, 0, len(entries))
	for _, entry := range entries {
		if code, ok := codeFromFile(entry.Name()); ok && !entry.IsDir() {
			codes = append(codes, code)
		}
	}
	sort.Strings(codes)
	return codes, nil
}

func codeFromFile(name string) (string, bool) {
	if !strings.HasSuffix(name, descriptorExt) {
		return "", false
	}
	code := strings.TrimSuffix(filepath.Base(name), descriptorExt)
	return code, ValidCode(code)
}

// DescriptorEvent reports a change to a descriptor file, or a watcher error
// when Err is set.
type DescriptorEvent struct {
	Code string
	Op   string
	Err  error
}

// Watch reports descriptor file changes until ctx is done. It returns once
// the watcher is installed.
func (s *FileSource) Watch(ctx context.Context, onChange func(DescriptorEvent)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create tenant watcher: %w", err)
	}
	if err := watcher.Add(s.dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch tenant dir %s: %w", s.dir, err)
	}

	go func() {
		defer func() { _ = watcher.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				code, valid := codeFromFile(event.Name)
				if !valid {
					continue
				}
				var op string
				switch {
				case event.Has(fsnotify.Create):
					op = "create"
				case event.Has(fsnotify.Write):
					op = "write"
				case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
					op = "remove"
				default:
					continue
				}
				onChange(DescriptorEvent{Code: code, Op: op})
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				onChange(DescriptorEvent{Op: "error", Err: err})
			}
		}
	}()
	return nil
}
