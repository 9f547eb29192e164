// Package keymap loads the game key-mapping configuration and translates
// raw input-key names back into logical button names.
package keymap

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Config is a game key-mapping file: logical button name -> input key name.
type Config struct {
	Name string            `json:"name,omitempty"`
	Keys map[string]string `json:"keys"`

	reverse map[string]string
}

// Load reads a key-mapping config. A missing or unreadable file is a
// configuration error and aborts the run.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key map: %w", err)
	}
	var c Config
	if err := json.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse key map %s: %w", path, err)
	}
	c.reverse = make(map[string]string, len(c.Keys))
	for button, key := range c.Keys {
		c.reverse[strings.ToLower(key)] = button
	}
	return &c, nil
}

// Button translates one raw key name to its logical button. Unmapped keys
// fall back to the raw string so partial configs degrade gracefully.
func (c *Config) Button(key string) string {
	k := strings.ToLower(strings.TrimSpace(key))
	if btn, ok := c.reverse[k]; ok {
		return btn
	}
	return k
}

// MapKeys translates a raw key field into logical button combos.
// The field is "None" for no input, otherwise combos separated by '|'
// with simultaneous keys joined by '+': "keyz+arrowup|keyx".
func (c *Config) MapKeys(field string) []string {
	if field == "" || field == "None" {
		return nil
	}
	var out []string
	for _, combo := range strings.Split(field, "|") {
		combo = strings.TrimSpace(combo)
		if combo == "" {
			continue
		}
		keys := strings.Split(combo, "+")
		mapped := make([]string, 0, len(keys))
		for _, k := range keys {
			mapped = append(mapped, c.Button(k))
		}
		out = append(out, strings.Join(mapped, "+"))
	}
	return out
}
