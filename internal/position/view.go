package position

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// FacetView is the read-only projection of one facet. DisplayValue is the
// provisional value while a submission is in flight, else the confirmed one.
type FacetView struct {
	Confirmed           *big.Int
	Provisional         *big.Int // nil when idle
	DisplayValue        *big.Int
	Flag                bool
	Busy                bool
	LastConfirmedHeight uint64
}

// View is the immutable observable state surface. Consumers must treat it
// as frozen; a fresh View replaces it on every mutation.
type View struct {
	Account common.Address
	Facets  [facetCount]FacetView
}

func (v *View) Facet(f Facet) FacetView {
	return v.Facets[f]
}

// WalletBalance is the wallet facet's display value.
func (v *View) WalletBalance() *big.Int {
	return v.Facets[FacetWallet].DisplayValue
}
