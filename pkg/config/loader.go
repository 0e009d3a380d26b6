// Package config loads token service settings from three layers, lowest
// priority first:
//
//	envDefault struct tags
//	a YAML or JSON file
//	environment variables
//
// The loader walks the settings struct once and remembers, for every leaf
// field, which layer set it. Services log that provenance at startup
// ([Loader.Fields]) and warn when a [secrets.Secret] came from a file
// instead of the environment.
//
// Nested structs contribute their env tag to their children's variable
// names, so a token.SigningConfig tagged `env:"SIGNING"` under the prefix
// TOKENS reads its issuer from TOKENS_SIGNING_ISSUER.
//
// Every failure is a configuration error (CONFIG_xxx) and is fatal: a
// service must not start with a half-loaded signing setup.
//
//	type Settings struct {
//	    Signing token.SigningConfig `env:"SIGNING" yaml:"signing"`
//	    Quota   int                 `env:"MAX_TOKENS_PER_USER" envDefault:"5" yaml:"max_tokens_per_user"`
//	}
//
//	cfg := config.MustLoad[Settings](
//	    config.New().WithEnvPrefix("TOKENS").WithFile("tokens.yaml"),
//	)
package config

import (
	"encoding"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	sserr "github.com/StricklySoft/stricklysoft-tokens/pkg/errors"
	"github.com/StricklySoft/stricklysoft-tokens/pkg/secrets"
)

var (
	durationType        = reflect.TypeFor[time.Duration]()
	secretType          = reflect.TypeFor[secrets.Secret]()
	textUnmarshalerType = reflect.TypeFor[encoding.TextUnmarshaler]()
)

// Source names the layer that last set a field.
type Source string

const (
	SourceUnset   Source = "unset"
	SourceDefault Source = "default"
	SourceFile    Source = "file"
	SourceEnv     Source = "env"
)

// Field describes one leaf setting after a load.
type Field struct {
	// Path is the dotted Go field path, e.g. "Signing.AccessSecret".
	Path string
	// EnvKey is the full environment variable name, or "" when the field
	// has no env tag.
	EnvKey string
	Source Source
	// Secret marks a secrets.Secret field. Its value is never exposed.
	Secret bool
}

// leaf is a settable non-struct field found by walk.
type leaf struct {
	Field
	v        reflect.Value
	def      string
	required bool
}

// Loader resolves settings. It is not safe for concurrent use.
type Loader struct {
	envPrefix string
	filePath  string
	fields    []Field
}

// New returns a Loader that reads only envDefault tags and the
// environment.
func New() *Loader {
	return &Loader{}
}

// WithEnvPrefix prepends prefix and "_" to every variable name. The
// prefix is uppercased.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = strings.ToUpper(prefix)
	return l
}

// WithFile adds a .yaml, .yml or .json file layer. A missing file is
// skipped; a path containing ".." is rejected at load time.
func (l *Loader) WithFile(path string) *Loader {
	l.filePath = path
	return l
}

// Fields returns the provenance of every leaf field from the last
// successful Load, in declaration order.
func (l *Loader) Fields() []Field {
	return append([]Field(nil), l.fields...)
}

// SecretsFromFile returns the paths of secret fields whose value came
// from the file layer.
func (l *Loader) SecretsFromFile() []string {
	var out []string
	for _, f := range l.fields {
		if f.Secret && f.Source == SourceFile {
			out = append(out, f.Path)
		}
	}
	return out
}

// Load fills cfg, a non-nil pointer to a struct, layer by layer and then
// validates it: required tags, recognized values for types with a
// Valid() bool method, and every [Validator] from the leaves up.
func (l *Loader) Load(cfg any) error {
	rv := reflect.ValueOf(cfg)
	if rv.Kind() != reflect.Pointer || rv.IsNil() || rv.Elem().Kind() != reflect.Struct {
		return sserr.New(sserr.CodeConfiguration,
			"config: Load requires a non-nil pointer to a struct")
	}

	leaves := walk(rv.Elem(), "", l.envPrefix, nil)

	for i := range leaves {
		lf := &leaves[i]
		if lf.def == "" || !lf.v.IsZero() {
			continue
		}
		if err := assign(lf.v, lf.def); err != nil {
			return sserr.Wrapf(err, sserr.CodeConfiguration,
				"config: bad envDefault for %s", lf.Path)
		}
		lf.Source = SourceDefault
	}

	if l.filePath != "" {
		if err := l.applyFile(cfg, leaves); err != nil {
			return err
		}
	}

	for i := range leaves {
		lf := &leaves[i]
		if lf.EnvKey == "" {
			continue
		}
		raw, ok := os.LookupEnv(lf.EnvKey)
		if !ok {
			continue
		}
		if err := assign(lf.v, raw); err != nil {
			return sserr.Wrapf(err, sserr.CodeConfiguration,
				"config: cannot set %s from %s", lf.Path, lf.EnvKey)
		}
		lf.Source = SourceEnv
	}

	if err := validate(cfg, rv.Elem(), leaves); err != nil {
		return err
	}

	l.fields = make([]Field, len(leaves))
	for i, lf := range leaves {
		l.fields[i] = lf.Field
	}
	return nil
}

// MustLoad loads a T or panics. Use it in main, where bad configuration
// must stop the process.
func MustLoad[T any](loader *Loader) T {
	var cfg T
	if err := loader.Load(&cfg); err != nil {
		panic(fmt.Sprintf("config: MustLoad failed: %v", err))
	}
	return cfg
}

// applyFile decodes the file over cfg and marks the leaves it changed.
func (l *Loader) applyFile(cfg any, leaves []leaf) error {
	if strings.Contains(l.filePath, "..") {
		return sserr.New(sserr.CodeConfiguration,
			"config: file path must not contain directory traversal (..) sequences")
	}

	var decode func([]byte, any) error
	switch ext := strings.ToLower(filepath.Ext(l.filePath)); ext {
	case ".yaml", ".yml":
		decode = yaml.Unmarshal
	case ".json":
		decode = json.Unmarshal
	default:
		return sserr.Newf(sserr.CodeConfiguration,
			"config: unsupported file extension %q (use .yaml, .yml, or .json)", ext)
	}

	data, err := os.ReadFile(l.filePath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return sserr.Wrapf(err, sserr.CodeConfiguration, "config: failed to read %q", l.filePath)
	}

	before := make([]any, len(leaves))
	for i, lf := range leaves {
		before[i] = snapshot(lf.v)
	}
	if err := decode(data, cfg); err != nil {
		return sserr.Wrapf(err, sserr.CodeConfiguration, "config: failed to parse %q", l.filePath)
	}
	for i := range leaves {
		if !reflect.DeepEqual(before[i], leaves[i].v.Interface()) {
			leaves[i].Source = SourceFile
		}
	}
	return nil
}

// walk appends the settable leaves under rv. Structs recurse unless they
// decode themselves from text, like time.Time.
func walk(rv reflect.Value, path, envPrefix string, out []leaf) []leaf {
	rt := rv.Type()
	for i := range rt.NumField() {
		sf := rt.Field(i)
		v := rv.Field(i)
		if !v.CanSet() {
			continue
		}

		p := joinPath(path, ".", sf.Name)
		env := sf.Tag.Get("env")
		if v.Kind() == reflect.Struct && !decodesText(v.Type()) {
			out = walk(v, p, joinPath(envPrefix, "_", env), out)
			continue
		}

		lf := leaf{
			Field:    Field{Path: p, Source: SourceUnset, Secret: v.Type() == secretType},
			v:        v,
			def:      sf.Tag.Get("envDefault"),
			required: sf.Tag.Get("required") == "true",
		}
		if env != "" {
			lf.EnvKey = joinPath(envPrefix, "_", env)
		}
		out = append(out, lf)
	}
	return out
}

// snapshot copies v's value. Slices get their own backing array, since
// encoding/json decodes into the existing one.
func snapshot(v reflect.Value) any {
	if v.Kind() != reflect.Slice || v.IsNil() {
		return v.Interface()
	}
	c := reflect.MakeSlice(v.Type(), v.Len(), v.Len())
	reflect.Copy(c, v)
	return c.Interface()
}

func joinPath(prefix, sep, name string) string {
	switch {
	case name == "":
		return prefix
	case prefix == "":
		return name
	default:
		return prefix + sep + name
	}
}

func decodesText(t reflect.Type) bool {
	return reflect.PointerTo(t).Implements(textUnmarshalerType)
}

// assign parses raw into v. Types implementing encoding.TextUnmarshaler
// parse themselves; []string splits on commas.
func assign(v reflect.Value, raw string) error {
	if decodesText(v.Type()) {
		return v.Addr().Interface().(encoding.TextUnmarshaler).UnmarshalText([]byte(raw))
	}
	if v.Type() == durationType {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return err
		}
		v.SetInt(int64(d))
		return nil
	}

	switch v.Kind() {
	case reflect.String:
		v.SetString(raw)
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return err
		}
		v.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(raw, 10, v.Type().Bits())
		if err != nil {
			return err
		}
		v.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(raw, 10, v.Type().Bits())
		if err != nil {
			return err
		}
		v.SetUint(n)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(raw, v.Type().Bits())
		if err != nil {
			return err
		}
		v.SetFloat(f)
	case reflect.Slice:
		if v.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice of %s", v.Type().Elem())
		}
		parts := strings.Split(raw, ",")
		s := reflect.MakeSlice(v.Type(), len(parts), len(parts))
		for i, p := range parts {
			s.Index(i).SetString(strings.TrimSpace(p))
		}
		v.Set(s)
	default:
		return fmt.Errorf("unsupported type %s", v.Type())
	}
	return nil
}
