package common

import (
	"strings"

	ethcommon "github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// ModuleAddress derives the deterministic account that holds a module's funds
// on the token ledger.
func ModuleAddress(name string) ethcommon.Address {
	return ethcommon.BytesToAddress(ethcrypto.Keccak256([]byte("module:" + strings.ToLower(strings.TrimSpace(name)))))
}
