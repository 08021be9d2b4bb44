package gateway

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Bank contract surface: state-changing operations plus the read views the
// snapshot loader queries.
const bankABIJSON = `[
	{"type":"function","name":"deposit","stateMutability":"payable","inputs":[],"outputs":[]},
	{"type":"function","name":"withdraw","stateMutability":"nonpayable","inputs":[],"outputs":[]},
	{"type":"function","name":"borrow","stateMutability":"payable","inputs":[],"outputs":[]},
	{"type":"function","name":"payOff","stateMutability":"nonpayable","inputs":[],"outputs":[]},
	{"type":"function","name":"depositBalanceOf","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"isDeposited","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"collateralOf","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"isBorrowed","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"bool"}]}
]`

// Token contract surface: only the approval the pay-off flow needs.
const tokenABIJSON = `[
	{"type":"function","name":"approve","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]}
]`

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic("gateway: invalid embedded ABI: " + err.Error())
	}
	return parsed
}

var (
	bankABI  = mustParseABI(bankABIJSON)
	tokenABI = mustParseABI(tokenABIJSON)
)

func mustPack(parsed abi.ABI, method string, args ...interface{}) []byte {
	data, err := parsed.Pack(method, args...)
	if err != nil {
		panic("gateway: pack " + method + ": " + err.Error())
	}
	return data
}
