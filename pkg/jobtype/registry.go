package jobtype

import (
	"context"
	"fmt"

	"github.com/netraven-io/netraven-core/pkg/model"
	"github.com/netraven-io/netraven-core/pkg/util"
)

// probeDevice is the dummy input fed to every module during Load's
// self-check; its fields exist only to give the module something
// non-nil to read without touching a real device.
var probeDevice = model.DeviceWithCredential{
	Device:     model.Device{ID: 0, Hostname: "probe", IPAddress: "0.0.0.0"},
	Credential: model.Credential{ID: 0, Username: "probe"},
}

// Registry holds every job type the worker can dispatch, validated at
// load time so a module that panics or misbehaves never reaches
// production traffic.
type Registry struct {
	modules map[string]Module
	loaded  map[string]bool
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		modules: make(map[string]Module),
		loaded:  make(map[string]bool),
	}
}

// Register adds a module under name, rejecting a duplicate registration.
func (r *Registry) Register(name string, m Module) error {
	if _, exists := r.modules[name]; exists {
		return fmt.Errorf("%w: job type %q already registered", util.ErrAlreadyExists, name)
	}
	r.modules[name] = m
	return nil
}

// Load probes every registered module once: it calls Run with a
// zero-value device, jobID 0, nil cfg, and nil db, under a short
// deadline, and requires the call to complete without panicking and
// without returning a nil error alongside a zero-value Result. A module
// that panics is recovered, logged, and excluded from the set Get and
// Lookup return — the rest of the registry still loads.
func (r *Registry) Load(ctx context.Context) error {
	v := &util.ValidationBuilder{}
	for name, m := range r.modules {
		if err := r.probe(ctx, name, m); err != nil {
			v.AddErrorf("job type %q failed validation: %v", name, err)
			continue
		}
		r.loaded[name] = true
	}
	return v.Build()
}

func (r *Registry) probe(ctx context.Context, name string, m Module) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			util.WithField("job_type", name).Errorf("jobtype: module panicked during load probe: %v", rec)
			err = fmt.Errorf("module panicked: %v", rec)
		}
	}()

	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	result, runErr := m.Run(probeCtx, probeDevice, 0, nil, nil)
	if runErr != nil {
		return fmt.Errorf("probe Run returned an error: %w", runErr)
	}
	if isZeroResult(result) {
		return fmt.Errorf("probe Run returned a zero-value Result")
	}
	return nil
}

// isZeroResult reports whether result looks like an uninitialized
// Result{} rather than something a well-behaved probe Run returned.
func isZeroResult(result Result) bool {
	return !result.Success && result.DeviceID == 0 && result.Details == nil && result.ErrorType == ""
}

// Lookup returns a loaded module by name, or util.ErrNotFound.
func (r *Registry) Lookup(name string) (Module, error) {
	if !r.loaded[name] {
		return nil, fmt.Errorf("%w: job type %q", util.ErrNotFound, name)
	}
	return r.modules[name], nil
}

// Names returns every successfully loaded job type name.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.loaded))
	for name := range r.loaded {
		names = append(names, name)
	}
	return names
}
