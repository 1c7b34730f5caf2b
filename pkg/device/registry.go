package device

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
)

// ErrNotFound is returned by Get for unknown device names.
type ErrNotFound struct {
	Name string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("router %s not found in the device mapping", e.Name)
}

// Registry maps device names to validated records. Reads may run
// concurrently; writes are serialized. All mutation passes through Validate.
type Registry struct {
	m       *sync.RWMutex
	devices map[string]*Record
}

func NewRegistry() *Registry {
	return &Registry{
		m:       &sync.RWMutex{},
		devices: make(map[string]*Record),
	}
}

// LoadFile bulk-loads a device mapping file. Every record is validated and
// the aggregate error names all offending devices; nothing is inserted if
// any record is invalid.
func (r *Registry) LoadFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	devs := make(map[string]*Record)
	if err := json.Unmarshal(b, &devs); err != nil {
		return fmt.Errorf("device mapping %s is not valid JSON: %w", path, err)
	}
	if err := ValidateAll(devs); err != nil {
		return err
	}
	r.m.Lock()
	defer r.m.Unlock()
	for name, rec := range devs {
		r.devices[name] = rec
	}
	log.Infof("successfully loaded and validated %d device(s)", len(devs))
	return nil
}

// ValidateAll validates a bulk set without stopping at the first bad record.
func ValidateAll(devs map[string]*Record) error {
	if len(devs) == 0 {
		log.Warn("no devices configured")
		return nil
	}
	names := make([]string, 0, len(devs))
	for name := range devs {
		names = append(names, name)
	}
	sort.Strings(names)

	var errs []string
	for _, name := range names {
		if err := Validate(name, devs[name]); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("device configuration validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// Insert validates and stores a new record. Inserting an existing name
// replaces the record (callers that care check Has first).
func (r *Registry) Insert(name string, rec *Record) error {
	if err := Validate(name, rec); err != nil {
		return err
	}
	r.m.Lock()
	defer r.m.Unlock()
	r.devices[name] = rec
	return nil
}

func (r *Registry) Get(name string) (*Record, error) {
	r.m.RLock()
	defer r.m.RUnlock()
	rec, ok := r.devices[name]
	if !ok {
		return nil, &ErrNotFound{Name: name}
	}
	return rec, nil
}

func (r *Registry) Has(name string) bool {
	r.m.RLock()
	defer r.m.RUnlock()
	_, ok := r.devices[name]
	return ok
}

// Names returns the device names in a stable (sorted) order.
func (r *Registry) Names() []string {
	r.m.RLock()
	defer r.m.RUnlock()
	names := make([]string, 0, len(r.devices))
	for name := range r.devices {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Delete removes a record. Not exposed as a tool, kept for symmetry with
// Insert.
func (r *Registry) Delete(name string) {
	r.m.Lock()
	defer r.m.Unlock()
	delete(r.devices, name)
}

func (r *Registry) Len() int {
	r.m.RLock()
	defer r.m.RUnlock()
	return len(r.devices)
}
