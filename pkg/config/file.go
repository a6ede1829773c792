package config

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/tailscale/hujson"

	"github.com/swapspaced/swapspaced/pkg/sizeunit"
)

// fieldSetters maps each config-file/flag key to a function that applies
// its raw string value onto a Config. Centralizing this table is what
// lets both the line-oriented grammar and the HuJSON variant below share
// one set of parsing/validation rules per key.
var fieldSetters = map[string]func(*Config, string) error{
	"buffer_elasticity": intSetter(func(c *Config, v int64) { c.BufferElasticity = v }),
	"cache_elasticity":  intSetter(func(c *Config, v int64) { c.CacheElasticity = v }),
	"cooldown":          intSetter(func(c *Config, v int64) { c.CooldownSeconds = v }),
	"freetarget":        intSetter(func(c *Config, v int64) { c.FreeTarget = v }),
	"lower_freelimit":   intSetter(func(c *Config, v int64) { c.LowerFreeLimit = v }),
	"upper_freelimit":   intSetter(func(c *Config, v int64) { c.UpperFreeLimit = v }),
	"max_swapsize":      sizeSetter(func(c *Config, v int64) { c.MaxSwapsize = v }),
	"min_swapsize":      sizeSetter(func(c *Config, v int64) { c.MinSwapsize = v }),
	"swappath":          func(c *Config, v string) error { c.SwapPath = v; return nil },
	"pidfile":           func(c *Config, v string) error { c.PidFile = v; return nil },
	"daemon":            boolSetter(func(c *Config, v bool) { c.Daemonize = v }),
	"erase":             boolSetter(func(c *Config, v bool) { c.Erase = v }),
	"inspect":           boolSetter(func(c *Config, v bool) { c.Inspect = v }),
	"paranoid":          boolSetter(func(c *Config, v bool) { c.Paranoid = v }),
	"quiet":             boolSetter(func(c *Config, v bool) { c.Quiet = v }),
	"verbose":           boolSetter(func(c *Config, v bool) { c.Verbose = v }),
}

// intSetter and sizeSetter both accept an optional k/m/g/t suffix, the way
// every numeric option does; range validation later rejects any value a
// suffix pushed out of bounds.
func intSetter(set func(*Config, int64)) func(*Config, string) error {
	return sizeSetter(set)
}

func sizeSetter(set func(*Config, int64)) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := sizeunit.ParseSuffixed(v)
		if err != nil {
			return err
		}
		set(c, n)
		return nil
	}
}

func boolSetter(set func(*Config, bool)) func(*Config, string) error {
	return func(c *Config, v string) error {
		// A bare key (no "= value") arrives here as "true".
		if v == "" || v == "true" {
			set(c, true)
			return nil
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("expected a boolean, got %q: %w", v, err)
		}
		set(c, b)
		return nil
	}
}

// ParseFile reads a config file at path and applies its entries onto base,
// returning the updated record. The file may be either the line-oriented
// "key = value" grammar, or a HuJSON object (JSON that forgives comments
// and trailing commas) if its first non-space byte is '{'; either way,
// every value lands through the same fieldSetters table.
func ParseFile(path string, base Config) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return base, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()
	return parseFrom(f, base)
}

func parseFrom(r io.Reader, base Config) (Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return base, fmt.Errorf("config: read: %w", err)
	}
	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, "{") {
		return parseHuJSON(raw, base)
	}
	return parseKeyValue(raw, base)
}

// parseHuJSON accepts JSON tolerant of "//" and "/* */" comments and
// trailing commas, for operators who prefer a structured config file over
// the line-oriented grammar.
func parseHuJSON(raw []byte, base Config) (Config, error) {
	std, err := hujson.Standardize(raw)
	if err != nil {
		return base, fmt.Errorf("config: invalid HuJSON: %w", err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(std, &fields); err != nil {
		return base, fmt.Errorf("config: decode HuJSON object: %w", err)
	}
	cfg := base
	for key, raw := range fields {
		setter, ok := fieldSetters[key]
		if !ok {
			return cfg, fmt.Errorf("config: unknown key %q", key)
		}
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			// Accept bare JSON numbers/bools too, not just strings.
			s = strings.Trim(string(raw), `"`)
		}
		if err := setter(&cfg, s); err != nil {
			return cfg, fmt.Errorf("config: key %q: %w", key, err)
		}
	}
	return cfg, nil
}

// parseKeyValue implements the line-oriented config grammar: one entry per
// line, "key = value" or a bare "key" (treated as a boolean flag), values
// optionally double-quoted, "#" begins a comment.
func parseKeyValue(raw []byte, base Config) (Config, error) {
	cfg := base
	sc := bufio.NewScanner(strings.NewReader(string(raw)))
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := stripComment(sc.Text())
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		key, value, hasValue := splitKeyValue(line)
		key = strings.TrimSpace(key)
		setter, ok := fieldSetters[key]
		if !ok {
			return cfg, fmt.Errorf("config: line %d: unknown key %q", lineNo, key)
		}
		if !hasValue {
			value = "true"
		} else {
			value = unquote(strings.TrimSpace(value))
		}
		if err := setter(&cfg, value); err != nil {
			return cfg, fmt.Errorf("config: line %d: %w", lineNo, err)
		}
	}
	if err := sc.Err(); err != nil {
		return cfg, fmt.Errorf("config: scan: %w", err)
	}
	return cfg, nil
}

func stripComment(line string) string {
	if i := strings.IndexByte(line, '#'); i >= 0 {
		return line[:i]
	}
	return line
}

func splitKeyValue(line string) (key, value string, hasValue bool) {
	i := strings.IndexByte(line, '=')
	if i < 0 {
		return line, "", false
	}
	return line[:i], line[i+1:], true
}

func unquote(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}
