// Package options implements the per-entity option store described in
// spec.md §4.1: a kebab-case key/value map with layered precedence, sticky
// globals, appending options, set-env accumulation, and ${...} substitution.
package options

import (
	"fmt"
	"math"
	"os"
	"regexp"
	"runtime"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
	"golang.org/x/xerrors"
)

// Kind classifies how an option's value behaves when layered and read.
type Kind int

const (
	// KindPlain options strictly override: the highest-precedence source wins.
	KindPlain Kind = iota
	// KindSticky options must be identical across every project; once set
	// they cannot be changed by a lower-precedence source.
	KindSticky
	// KindAppending options concatenate global and local values with a
	// single space, instead of overriding.
	KindAppending
	// KindEnv is the nested set-env map.
	KindEnv
	// KindBool coerces its value to a boolean.
	KindBool
	// KindAuto accepts the literal "auto" in addition to an integer.
	KindAuto
)

// Spec describes one registered option.
type Spec struct {
	Name    string
	Kind    Kind
	Default Value
}

// Value is the tagged union of everything an option can hold (DESIGN NOTES:
// OptionValue sum type).
type Value struct {
	Str        string
	Bool       bool
	Int        int
	Env        map[string]string
	RepoBase   map[string]string
	DefinedAt  []string
	IsSet      bool
	isBoolSet  bool
	isIntSet   bool
	isStrSet   bool
}

// StringValue returns v wrapped as a set string Value.
func StringValue(s string) Value { return Value{Str: s, IsSet: true, isStrSet: true} }

// BoolValue returns v wrapped as a set bool Value.
func BoolValue(b bool) Value { return Value{Bool: b, IsSet: true, isBoolSet: true} }

// IntValue returns v wrapped as a set int Value.
func IntValue(i int) Value { return Value{Int: i, IsSet: true, isIntSet: true} }

// BadOption is returned when a set() call targets an unknown option or
// supplies a value of the wrong type (spec.md §4.1 Errors).
type BadOption struct {
	Name   string
	Detail string
}

func (e *BadOption) Error() string {
	return fmt.Sprintf("bad option %q: %s", e.Name, e.Detail)
}

// Registry is the static table of every known option and its category.
type Registry struct {
	specs map[string]Spec
}

// StickyOptions is the closed set of options whose value must be consistent
// across the whole run (spec.md §4.1 "Sticky globals").
var StickyOptions = []string{
	"binpath",
	"source-dir",
	"build-dir",
	"install-dir",
	"log-dir",
	"directory-layout",
	"catalog-url",
}

// AppendingOptions concatenate global and per-project values with a single
// space separator (spec.md §4.1 "Appending options").
var AppendingOptions = []string{
	"cmake-options",
	"configure-flags",
	"cxxflags",
}

// NewRegistry builds the default registry used across a run. Unknown
// options passed to Store.Set return BadOption so the config parser can
// prepend file:line context.
func NewRegistry() *Registry {
	r := &Registry{specs: make(map[string]Spec)}
	reg := func(name string, kind Kind, def Value) {
		r.specs[name] = Spec{Name: name, Kind: kind, Default: def}
	}

	for _, name := range StickyOptions {
		reg(name, KindSticky, Value{})
	}
	for _, name := range AppendingOptions {
		reg(name, KindAppending, Value{})
	}

	reg("set-env", KindEnv, Value{Env: map[string]string{}})
	reg("git-repository-base", KindPlain, Value{RepoBase: map[string]string{}})
	reg("num-cores", KindAuto, StringValue("auto"))
	reg("num-cores-low-mem", KindAuto, StringValue("auto"))
	reg("taskset-cpu-list", KindAuto, StringValue(""))
	reg("repository", KindPlain, StringValue(""))
	reg("branch", KindPlain, StringValue(""))
	reg("branch-group", KindPlain, StringValue(""))
	reg("tag", KindPlain, StringValue(""))
	reg("commit", KindPlain, StringValue(""))
	reg("revision", KindPlain, StringValue(""))
	reg("use-projects", KindPlain, Value{})
	reg("ignore-projects", KindPlain, Value{})
	reg("override-build-system", KindPlain, StringValue(""))
	reg("build-when-unchanged", KindBool, BoolValue(true))
	reg("run-tests", KindBool, BoolValue(false))
	reg("install-after-build", KindBool, BoolValue(true))
	reg("stop-on-failure", KindBool, BoolValue(false))
	reg("remove-after-install", KindPlain, StringValue("none"))
	reg("purge-old-logs", KindBool, BoolValue(true))
	reg("git-user", KindPlain, StringValue(""))
	reg("make-options", KindAppending, Value{})
	reg("configured-module-file-name", KindPlain, StringValue(""))
	reg("#defined-at", KindPlain, Value{})

	return r
}

// Lookup returns the Spec for name, if registered.
func (r *Registry) Lookup(name string) (Spec, bool) {
	s, ok := r.specs[name]
	return s, ok
}

// Entity is anything that can own an options Store: a Project, a Group, or
// the global build context.
type Entity interface {
	Name() string
}

// Store is the option map owned by a single entity.
type Store struct {
	registry *Registry
	values   map[string]Value
}

// NewStore creates an empty option store bound to reg.
func NewStore(reg *Registry) *Store {
	return &Store{registry: reg, values: make(map[string]Value)}
}

// Set assigns name=val, validating against the registry and performing the
// append/env-merge/bool-coercion semantics documented in spec.md §4.1.
func (s *Store) Set(name string, raw string) error {
	spec, ok := s.registry.Lookup(name)
	if !ok {
		return &BadOption{Name: name, Detail: "unknown option"}
	}
	switch spec.Kind {
	case KindBool:
		b, err := parseBool(raw)
		if err != nil {
			return &BadOption{Name: name, Detail: err.Error()}
		}
		s.values[name] = BoolValue(b)
	case KindAppending:
		existing := s.values[name]
		if existing.Str != "" {
			existing.Str += " " + raw
		} else {
			existing.Str = raw
		}
		existing.IsSet = true
		existing.isStrSet = true
		s.values[name] = existing
	case KindEnv:
		existing := s.values[name]
		if existing.Env == nil {
			existing.Env = make(map[string]string)
		}
		k, v, err := splitEnvPair(raw)
		if err != nil {
			return &BadOption{Name: name, Detail: err.Error()}
		}
		existing.Env[k] = v
		existing.IsSet = true
		s.values[name] = existing
	default:
		if raw == "true" || raw == "false" {
			b, _ := strconv.ParseBool(raw)
			s.values[name] = BoolValue(b)
			return nil
		}
		s.values[name] = StringValue(raw)
	}
	return nil
}

// SetEnvMap merges a whole map into the set-env option (the "map form" of
// set-env described in spec.md §4.1).
func (s *Store) SetEnvMap(m map[string]string) {
	existing := s.values["set-env"]
	if existing.Env == nil {
		existing.Env = make(map[string]string)
	}
	for k, v := range m {
		existing.Env[k] = v
	}
	existing.IsSet = true
	s.values["set-env"] = existing
}

// Raw returns the value stored directly on this entity, if any.
func (s *Store) Raw(name string) (Value, bool) {
	v, ok := s.values[name]
	return v, ok
}

// SetValue assigns a pre-built Value directly, bypassing the string parsing
// Set performs. Used when layering an already-validated value from one
// store onto another (internal/selector's Override application).
func (s *Store) SetValue(name string, v Value) {
	s.values[name] = v
}

// SetNames returns the names of every option this store has a value for,
// in no particular order.
func (s *Store) SetNames() []string {
	names := make([]string, 0, len(s.values))
	for name := range s.values {
		names = append(names, name)
	}
	return names
}

// Registry returns the Registry this store validates against.
func (s *Store) Registry() *Registry { return s.registry }

// GetRaw returns this store's own string value for name, or def if unset.
// Unlike View.Get, it never walks a precedence chain: it is for reading
// the global store directly before any per-project View exists yet (e.g.
// resolving log-dir/source-dir while still setting up a run).
func (s *Store) GetRaw(name, def string) string {
	if v, ok := s.Raw(name); ok && v.Str != "" {
		return v.Str
	}
	return def
}

func splitEnvPair(raw string) (string, string, error) {
	fields := strings.SplitN(strings.TrimSpace(raw), " ", 2)
	if len(fields) != 2 || fields[0] == "" {
		return "", "", xerrors.New("set-env requires \"KEY value\"")
	}
	return fields[0], fields[1], nil
}

func parseBool(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "true", "yes", "1":
		return true, nil
	case "false", "no", "0":
		return false, nil
	default:
		return false, xerrors.Errorf("not a boolean: %q", raw)
	}
}

// View resolves options for a single project by walking the precedence
// chain from spec.md §4.1: cmdline-per-project > project > group > global >
// built-in default.
type View struct {
	registry   *Registry
	cmdline    *Store
	project    *Store
	group      *Store
	global     *Store
	ncpu       int
	ramKiB     int64
}

// NewView builds a resolver for one project. Any of cmdline/group may be
// nil (e.g. a project with no owning group).
func NewView(reg *Registry, cmdline, project, group, global *Store) *View {
	return &View{
		registry: reg,
		cmdline:  cmdline,
		project:  project,
		group:    group,
		global:   global,
		ncpu:     numCPU(),
		ramKiB:   totalRAMKiB(),
	}
}

func numCPU() int {
	n := runtime.NumCPU()
	if n < 1 {
		n = 1
	}
	return n
}

func totalRAMKiB() int64 {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return 0
	}
	return int64(info.Totalram) * int64(info.Unit) / 1024
}

// Get resolves name through the full precedence chain, returning the
// documented default if nothing set it.
func (v *View) Get(name string) Value {
	spec, known := v.registry.Lookup(name)

	// Sticky options (spec.md §4.1 "Sticky globals") must resolve to the
	// same value across every project in a run: the global store overrides
	// project/group, with only a per-project cmdline value (step 1 of the
	// precedence chain) still allowed to win.
	if known && spec.Kind == KindSticky {
		if v.cmdline != nil {
			if val, ok := v.cmdline.Raw(name); ok && val.IsSet {
				return val
			}
		}
		if v.global != nil {
			if val, ok := v.global.Raw(name); ok && val.IsSet {
				return val
			}
		}
		for _, store := range []*Store{v.project, v.group} {
			if store == nil {
				continue
			}
			if val, ok := store.Raw(name); ok && val.IsSet {
				return val
			}
		}
		return spec.Default
	}

	for _, store := range []*Store{v.cmdline, v.project, v.group, v.global} {
		if store == nil {
			continue
		}
		if val, ok := store.Raw(name); ok && val.IsSet {
			if known && spec.Kind == KindAppending {
				return v.appendAcrossLayers(name)
			}
			return val
		}
	}
	if known {
		return spec.Default
	}
	return Value{}
}

// appendAcrossLayers concatenates the non-empty values of an appending
// option from every layer (global, group, project, cmdline, in that order)
// with a single space, per spec.md §4.1.
func (v *View) appendAcrossLayers(name string) Value {
	var parts []string
	if v.global != nil {
		if val, ok := v.global.Raw(name); ok && val.Str != "" {
			parts = append(parts, val.Str)
		}
	}
	if v.group != nil {
		if val, ok := v.group.Raw(name); ok && val.Str != "" {
			parts = append(parts, val.Str)
		}
	}
	if v.project != nil {
		if val, ok := v.project.Raw(name); ok && val.Str != "" {
			parts = append(parts, val.Str)
		}
	}
	if v.cmdline != nil {
		if val, ok := v.cmdline.Raw(name); ok && val.Str != "" {
			parts = append(parts, val.Str)
		}
	}
	return StringValue(strings.Join(parts, " "))
}

// GetString is a convenience accessor.
func (v *View) GetString(name string) string { return v.Get(name).Str }

// GetBool is a convenience accessor.
func (v *View) GetBool(name string) bool {
	val := v.Get(name)
	if !val.Bool {
		return false // false is falsy everywhere
	}
	return val.Bool
}

// GetEnv merges set-env across all layers, cmdline winning on key clash.
func (v *View) GetEnv() map[string]string {
	out := make(map[string]string)
	for _, store := range []*Store{v.global, v.group, v.project, v.cmdline} {
		if store == nil {
			continue
		}
		if val, ok := store.Raw("set-env"); ok {
			for k, val := range val.Env {
				out[k] = val
			}
		}
	}
	return out
}

// NumCores resolves the num-cores option, including the "auto" literal
// (spec.md §4.1 "Numeric auto values").
func (v *View) NumCores() int {
	raw := v.GetString("num-cores")
	if raw == "" || raw == "auto" {
		n := int(math.Floor(float64(v.ncpu) * 0.8))
		if n < 1 {
			n = 1
		}
		return n
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n == 0 {
		return 4 // spec.md §8 B3: num-cores=0 coerces to 4 at apply time
	}
	return n
}

// NumCoresLowMem resolves num-cores-low-mem, bounded by ncpu.
func (v *View) NumCoresLowMem() int {
	raw := v.GetString("num-cores-low-mem")
	if raw == "" || raw == "auto" {
		n := 1
		if v.ramKiB > 0 {
			n = int(v.ramKiB / 2_000_000)
			if n < 1 {
				n = 1
			}
		}
		if n > v.ncpu {
			n = v.ncpu
		}
		return n
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n == 0 {
		return 4
	}
	return n
}

// StripBareJFlag removes a naked "-j" (not followed by a number) from argv,
// per spec.md §8 B4 and §4.7 "Parallelism plumbing".
func StripBareJFlag(argv []string) []string {
	out := make([]string, 0, len(argv))
	for i, a := range argv {
		if a == "-j" {
			if i+1 >= len(argv) {
				continue
			}
			if _, err := strconv.Atoi(argv[i+1]); err != nil {
				continue
			}
		}
		out = append(out, a)
	}
	return out
}

var varRef = regexp.MustCompile(`\$\{([a-zA-Z0-9_-]+)\}`)

// Substitute resolves ${name} references against global iteratively, and
// expands a leading ~ to $HOME, per spec.md §4.1 "Variable substitution".
func Substitute(raw string, global *Store) string {
	prev := ""
	cur := raw
	for i := 0; i < 16 && cur != prev; i++ {
		prev = cur
		cur = varRef.ReplaceAllStringFunc(cur, func(m string) string {
			name := varRef.FindStringSubmatch(m)[1]
			if val, ok := global.Raw(name); ok {
				return val.Str
			}
			return ""
		})
	}
	if strings.HasPrefix(cur, "~/") || cur == "~" {
		cur = strings.Replace(cur, "~", os.Getenv("HOME"), 1)
	}
	return cur
}

// sortedKeys returns m's keys in sorted order.
func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
