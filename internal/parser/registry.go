package parser

import (
	"sort"
	"strings"

	"icscal/internal/ics"
)

// DefaultEngine is used when no engine name is configured.
const DefaultEngine = "golang-ical"

var engines = map[string]func() ics.Engine{
	"golang-ical": func() ics.Engine { return ics.GolangICal{} },
	"go-ical":     func() ics.Engine { return ics.GoICal{} },
	"gocal":       func() ics.Engine { return ics.Gocal{} },
}

// Older configurations name engines after the libraries they replaced.
var aliases = map[string]string{
	"rie": "golang-ical",
	"ics": "gocal",
}

// Names lists the registered engine names, without aliases.
func Names() []string {
	out := make([]string, 0, len(engines))
	for name := range engines {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Resolve maps a configured engine name to its registered name. The empty
// name resolves to DefaultEngine.
func Resolve(name string) (string, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	switch key {
	case "":
		return DefaultEngine, nil
	default:
		if target, ok := aliases[key]; ok {
			key = target
		}
		if _, ok := engines[key]; !ok {
			return "", &ConfigError{Name: name, Err: ErrUnknownEngine}
		}
		return key, nil
	}
}

// Get returns a new Parser backed by the named engine. Unknown names yield a
// *ConfigError wrapping ErrUnknownEngine.
func Get(name string, opts ...Option) (Parser, error) {
	key, err := Resolve(name)
	if err != nil {
		return nil, err
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.Location == nil {
		o.Location = defaultOptions().Location
	}
	if o.OnSkip == nil {
		o.OnSkip = logSkip
	}

	return &adapter{name: key, engine: engines[key](), opts: o}, nil
}
