// Package token implements the fungible balance ledger the protocol modules
// settle against. Balances and supply are persisted through the state manager
// and every mutation must happen inside an execution unit.
package token

import (
	"math/big"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"golang.org/x/text/unicode/norm"

	errs "defilab/core/errors"
	"defilab/core/events"
	nativecommon "defilab/native/common"
	"defilab/native/safemath"
)

// State is the persistence surface the ledger requires.
type State interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

// Ledger tracks balances, allowances and total supply per asset.
type Ledger struct {
	state   State
	emitter events.Emitter
	pauses  nativecommon.PauseView
	assets  map[string]struct{}
}

// NewLedger creates a ledger for the supplied asset symbols.
func NewLedger(st State, assets ...string) *Ledger {
	l := &Ledger{state: st, emitter: events.NoopEmitter{}, assets: make(map[string]struct{}, len(assets))}
	for _, asset := range assets {
		if normalized := NormalizeAsset(asset); normalized != "" {
			l.assets[normalized] = struct{}{}
		}
	}
	return l
}

// SetEmitter configures the event emitter used for ledger events.
func (l *Ledger) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		l.emitter = events.NoopEmitter{}
		return
	}
	l.emitter = emitter
}

// SetPauses wires the pause registry consulted before mutations.
func (l *Ledger) SetPauses(p nativecommon.PauseView) { l.pauses = p }

// NormalizeAsset canonicalises an asset symbol. Compatibility forms such as
// full-width letters fold to their ASCII equivalents.
func NormalizeAsset(asset string) string {
	return strings.ToUpper(norm.NFKC.String(strings.TrimSpace(asset)))
}

// Assets lists the registered symbols in sorted order.
func (l *Ledger) Assets() []string {
	out := make([]string, 0, len(l.assets))
	for asset := range l.assets {
		out = append(out, asset)
	}
	sort.Strings(out)
	return out
}

func (l *Ledger) resolve(asset string) (string, error) {
	normalized := NormalizeAsset(asset)
	if _, ok := l.assets[normalized]; !ok {
		return "", errs.ErrInvalidAsset.Wrapf("token: unknown asset %q", asset)
	}
	return normalized, nil
}

func balanceKey(asset string, addr common.Address) []byte {
	return append([]byte("token/balance/"+asset+"/"), addr.Bytes()...)
}

func supplyKey(asset string) []byte {
	return []byte("token/supply/" + asset)
}

func allowanceKey(asset string, owner, spender common.Address) []byte {
	key := append([]byte("token/allowance/"+asset+"/"), owner.Bytes()...)
	return append(key, spender.Bytes()...)
}

func (l *Ledger) load(key []byte) (*uint256.Int, error) {
	var stored big.Int
	ok, err := l.state.KVGet(key, &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return safemath.Zero(), nil
	}
	return safemath.FromBig(&stored)
}

func (l *Ledger) store(key []byte, value *uint256.Int) error {
	return l.state.KVPut(key, safemath.ToBig(value))
}

// BalanceOf returns the balance of addr in asset.
func (l *Ledger) BalanceOf(asset string, addr common.Address) (*uint256.Int, error) {
	normalized, err := l.resolve(asset)
	if err != nil {
		return nil, err
	}
	return l.load(balanceKey(normalized, addr))
}

// TotalSupply returns the minted supply of asset.
func (l *Ledger) TotalSupply(asset string) (*uint256.Int, error) {
	normalized, err := l.resolve(asset)
	if err != nil {
		return nil, err
	}
	return l.load(supplyKey(normalized))
}

// Allowance returns how much spender may move on behalf of owner.
func (l *Ledger) Allowance(asset string, owner, spender common.Address) (*uint256.Int, error) {
	normalized, err := l.resolve(asset)
	if err != nil {
		return nil, err
	}
	return l.load(allowanceKey(normalized, owner, spender))
}

// Mint creates amount of asset for to.
func (l *Ledger) Mint(to common.Address, asset string, amount *uint256.Int) error {
	if err := nativecommon.Guard(l.pauses, nativecommon.ModuleToken); err != nil {
		return err
	}
	normalized, err := l.resolve(asset)
	if err != nil {
		return err
	}
	if amount == nil {
		return errs.ErrInvalidAmount.Wrap("token: mint amount required")
	}
	supply, err := l.load(supplyKey(normalized))
	if err != nil {
		return err
	}
	newSupply, err := safemath.Add(supply, amount)
	if err != nil {
		return err
	}
	balance, err := l.load(balanceKey(normalized, to))
	if err != nil {
		return err
	}
	newBalance, err := safemath.Add(balance, amount)
	if err != nil {
		return err
	}
	if err := l.store(supplyKey(normalized), newSupply); err != nil {
		return err
	}
	if err := l.store(balanceKey(normalized, to), newBalance); err != nil {
		return err
	}
	l.emitter.Emit(events.TokenMint{Asset: normalized, To: to, Amount: safemath.Clone(amount)})
	return nil
}

// Transfer moves amount of asset from one account to another.
func (l *Ledger) Transfer(from, to common.Address, asset string, amount *uint256.Int) error {
	if err := nativecommon.Guard(l.pauses, nativecommon.ModuleToken); err != nil {
		return err
	}
	normalized, err := l.resolve(asset)
	if err != nil {
		return err
	}
	return l.transfer(normalized, from, to, amount)
}

func (l *Ledger) transfer(asset string, from, to common.Address, amount *uint256.Int) error {
	if amount == nil {
		return errs.ErrInvalidAmount.Wrap("token: transfer amount required")
	}
	fromBalance, err := l.load(balanceKey(asset, from))
	if err != nil {
		return err
	}
	if fromBalance.Lt(amount) {
		return errs.ErrInsufficientBalance.Wrapf("token: %s balance %s below %s", asset, fromBalance.Dec(), amount.Dec())
	}
	if amount.IsZero() || from == to {
		return nil
	}
	newFrom, err := safemath.Sub(fromBalance, amount)
	if err != nil {
		return err
	}
	toBalance, err := l.load(balanceKey(asset, to))
	if err != nil {
		return err
	}
	newTo, err := safemath.Add(toBalance, amount)
	if err != nil {
		return err
	}
	if err := l.store(balanceKey(asset, from), newFrom); err != nil {
		return err
	}
	if err := l.store(balanceKey(asset, to), newTo); err != nil {
		return err
	}
	l.emitter.Emit(events.TokenTransfer{Asset: asset, From: from, To: to, Amount: safemath.Clone(amount)})
	return nil
}

// Approve sets the allowance spender may draw from owner.
func (l *Ledger) Approve(owner, spender common.Address, asset string, amount *uint256.Int) error {
	if err := nativecommon.Guard(l.pauses, nativecommon.ModuleToken); err != nil {
		return err
	}
	normalized, err := l.resolve(asset)
	if err != nil {
		return err
	}
	if amount == nil {
		return errs.ErrInvalidAmount.Wrap("token: allowance required")
	}
	if err := l.store(allowanceKey(normalized, owner, spender), amount); err != nil {
		return err
	}
	l.emitter.Emit(events.TokenApproval{Asset: normalized, Owner: owner, Spender: spender, Amount: safemath.Clone(amount)})
	return nil
}

// TransferFrom moves amount from owner to to using spender's allowance.
func (l *Ledger) TransferFrom(spender, owner, to common.Address, asset string, amount *uint256.Int) error {
	if err := nativecommon.Guard(l.pauses, nativecommon.ModuleToken); err != nil {
		return err
	}
	normalized, err := l.resolve(asset)
	if err != nil {
		return err
	}
	if amount == nil {
		return errs.ErrInvalidAmount.Wrap("token: transfer amount required")
	}
	key := allowanceKey(normalized, owner, spender)
	allowance, err := l.load(key)
	if err != nil {
		return err
	}
	if allowance.Lt(amount) {
		return errs.ErrInsufficientAllowance.Wrapf("token: %s allowance %s below %s", normalized, allowance.Dec(), amount.Dec())
	}
	remaining, err := safemath.Sub(allowance, amount)
	if err != nil {
		return err
	}
	if err := l.transfer(normalized, owner, to, amount); err != nil {
		return err
	}
	return l.store(key, remaining)
}
