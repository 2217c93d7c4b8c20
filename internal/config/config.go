// Package config loads npemctl settings from a TOML file, the environment
// and CLI flags, and watches the file for runtime changes. Precedence is
// CLI > environment > file; struct tags bind options to their sources.
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"unicode"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/mtkaczyk/npemctl/internal/logging"
)

const envPrefix = "NPEMCTL_"

// LoadConfig fills opts from the TOML file named by its Config field and
// from NPEMCTL_* environment variables. Fields the user set explicitly on
// the command line are left alone, which gives CLI flags the final word.
// Daemon options are scalars, so only string, bool and int fields bind.
func LoadConfig(opts any, cmd *cobra.Command) error {
	v := reflect.ValueOf(opts).Elem()

	changed := changedFlags(cmd)

	if path := configPath(v); path != "" {
		if err := applyFileValues(v, path, changed); err != nil {
			return err
		}
	}
	applyEnvOverrides(v, changed)
	return nil
}

// changedFlags collects the flag names the user passed explicitly.
func changedFlags(cmd *cobra.Command) map[string]bool {
	changed := make(map[string]bool)
	if cmd == nil {
		return changed
	}
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if f.Changed {
			changed[f.Name] = true
		}
	})
	return changed
}

// configPath reads the Config field, which names the TOML file.
func configPath(v reflect.Value) string {
	field := v.FieldByName("Config")
	if !field.IsValid() || field.Kind() != reflect.String {
		return ""
	}
	return field.String()
}

// applyFileValues copies values from the TOML file into fields carrying a
// toml tag. A missing file is fine; a file that fails to parse is not.
func applyFileValues(v reflect.Value, path string, changed map[string]bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}

	var tree map[string]any
	if err := toml.Unmarshal(data, &tree); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		fieldType := t.Field(i)
		if changed[fieldNameToFlag(fieldType.Name)] {
			continue
		}
		key := fieldType.Tag.Get("toml")
		if key == "" {
			continue
		}
		if value := lookupKey(tree, key); value != nil {
			setScalar(v.Field(i), value)
		}
	}
	return nil
}

// applyEnvOverrides copies NPEMCTL_* variables into fields carrying an env
// tag.
func applyEnvOverrides(v reflect.Value, changed map[string]bool) {
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		fieldType := t.Field(i)
		if changed[fieldNameToFlag(fieldType.Name)] {
			continue
		}
		key := fieldType.Tag.Get("env")
		if key == "" {
			continue
		}
		if value := os.Getenv(envPrefix + key); value != "" {
			setScalarFromString(v.Field(i), value)
		}
	}
}

// fieldNameToFlag converts a field name to its kebab-case CLI flag name.
// Runs of capitals form one word: "PCISysfsRoot" becomes "pci-sysfs-root".
func fieldNameToFlag(fieldName string) string {
	runes := []rune(fieldName)
	var b strings.Builder
	for i, r := range runes {
		if i > 0 && unicode.IsUpper(r) {
			prevLower := unicode.IsLower(runes[i-1])
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if prevLower || nextLower {
				b.WriteRune('-')
			}
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}

// lookupKey walks dotted keys like "pci.sysfs_root" through nested tables.
func lookupKey(tree map[string]any, key string) any {
	parts := strings.Split(key, ".")
	for _, part := range parts[:len(parts)-1] {
		next, ok := tree[part].(map[string]any)
		if !ok {
			return nil
		}
		tree = next
	}
	return tree[parts[len(parts)-1]]
}

func setScalar(field reflect.Value, value any) {
	if !field.CanSet() {
		return
	}
	switch field.Kind() {
	case reflect.String:
		if s, ok := value.(string); ok {
			field.SetString(s)
		}
	case reflect.Bool:
		if b, ok := value.(bool); ok {
			field.SetBool(b)
		}
	case reflect.Int, reflect.Int64:
		switch n := value.(type) {
		case int64:
			field.SetInt(n)
		case int:
			field.SetInt(int64(n))
		}
	}
}

func setScalarFromString(field reflect.Value, value string) {
	if !field.CanSet() {
		return
	}
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Bool:
		if b, err := strconv.ParseBool(value); err == nil {
			field.SetBool(b)
		}
	case reflect.Int, reflect.Int64:
		if n, err := strconv.ParseInt(value, 10, 64); err == nil {
			field.SetInt(n)
		}
	}
}

// LoadLoggingConfig reads the [logging] table. level and format are global;
// every other key names a module whose level it overrides, so
// `npem = "debug"` turns on register-level tracing for just that module.
// Absent or unreadable files yield the defaults.
func LoadLoggingConfig(configPath string) logging.Config {
	cfg := logging.Config{
		Level:   "info",
		Format:  "text",
		Modules: make(map[string]string),
	}

	if configPath == "" {
		return cfg
	}
	data, err := os.ReadFile(configPath)
	if err != nil {
		return cfg
	}

	var raw struct {
		Logging map[string]string `toml:"logging"`
	}
	if err := toml.Unmarshal(data, &raw); err != nil {
		return cfg
	}

	for key, value := range raw.Logging {
		switch key {
		case "level":
			cfg.Level = value
		case "format":
			cfg.Format = value
		default:
			cfg.Modules[key] = value
		}
	}
	return cfg
}
