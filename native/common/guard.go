package common

import (
	"fmt"
	"strings"

	errs "defilab/core/errors"
)

// Module names recognised by the pause registry.
const (
	ModuleToken   = "token"
	ModuleAMM     = "amm"
	ModuleFlash   = "flash"
	ModuleLending = "lending"
	ModuleOracle  = "oracle"
)

// PauseView reports whether a module's state-changing entry points are halted.
type PauseView interface {
	IsPaused(module string) bool
}

// Guard returns ErrModulePaused when p reports module as paused.
func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return errs.ErrModulePaused.Wrapf("%s", module)
	}
	return nil
}

// KV is the subset of the state manager the pause registry needs.
type KV interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVDelete(key []byte) error
}

// Pauses persists per-module pause flags in state.
type Pauses struct {
	kv KV
}

// NewPauses binds a pause registry to kv.
func NewPauses(kv KV) *Pauses {
	return &Pauses{kv: kv}
}

func pauseKey(module string) []byte {
	return []byte("pause/" + strings.ToLower(strings.TrimSpace(module)))
}

// IsPaused implements PauseView. Unreadable flags are treated as unpaused.
func (p *Pauses) IsPaused(module string) bool {
	if p == nil || p.kv == nil {
		return false
	}
	var paused bool
	ok, err := p.kv.KVGet(pauseKey(module), &paused)
	if err != nil || !ok {
		return false
	}
	return paused
}

// SetPaused toggles module. It must run inside an execution unit. Resuming
// removes the flag rather than storing false.
func (p *Pauses) SetPaused(module string, paused bool) error {
	if strings.TrimSpace(module) == "" {
		return fmt.Errorf("pause: module name required")
	}
	if !paused {
		return p.kv.KVDelete(pauseKey(module))
	}
	return p.kv.KVPut(pauseKey(module), true)
}
