package config

import (
	"reflect"
	"sync/atomic"
)

// Holder hands the current configuration to watch mode. A SIGHUP reload
// swaps in a new snapshot; a pass already running keeps the one it read.
type Holder struct {
	cur atomic.Pointer[ResolvedConfig]
}

// NewHolder creates a Holder with the initial config.
func NewHolder(cfg *ResolvedConfig) *Holder {
	h := &Holder{}
	h.cur.Store(cfg)

	return h
}

// Config returns the current snapshot. Callers must not modify it.
func (h *Holder) Config() *ResolvedConfig {
	return h.cur.Load()
}

// Update installs cfg and returns the snapshot it replaced.
func (h *Holder) Update(cfg *ResolvedConfig) *ResolvedConfig {
	return h.cur.Swap(cfg)
}

// ChangedKeys lists the TOML keys ("section.key") whose values differ
// between two configs, in declaration order.
func ChangedKeys(prev, next *Config) []string {
	var keys []string

	pv, nv := reflect.ValueOf(prev).Elem(), reflect.ValueOf(next).Elem()
	t := pv.Type()

	for i := range t.NumField() {
		section := t.Field(i)
		st := section.Type

		for j := range st.NumField() {
			if reflect.DeepEqual(pv.Field(i).Field(j).Interface(), nv.Field(i).Field(j).Interface()) {
				continue
			}

			keys = append(keys, section.Tag.Get("toml")+"."+st.Field(j).Tag.Get("toml"))
		}
	}

	return keys
}
