package domain

import "github.com/ethereum/go-ethereum/common"

// Mint is a fungible-token definition. Only Authority may mint new supply.
type Mint struct {
	Authority common.Address `json:"authority"`
	Supply    uint64         `json:"supply"`
	Decimals  uint8          `json:"decimals"`
}

// TokenAccount holds a balance of one mint on behalf of Owner.
type TokenAccount struct {
	Mint   common.Address `json:"mint"`
	Owner  common.Address `json:"owner"`
	Amount uint64         `json:"amount"`
}
