package position

// Facet identifies one tracked dimension of the user's position.
type Facet int32

const (
	FacetWallet Facet = iota
	FacetDeposit
	FacetBorrow
	FacetPayOff

	facetCount
)

func (f Facet) String() string {
	switch f {
	case FacetWallet:
		return "Wallet"
	case FacetDeposit:
		return "Deposit"
	case FacetBorrow:
		return "Borrow"
	case FacetPayOff:
		return "PayOff"
	default:
		return "Unknown"
	}
}

// ParseFacet maps the wire name back to a Facet.
func ParseFacet(s string) (Facet, bool) {
	switch s {
	case "Wallet", "wallet":
		return FacetWallet, true
	case "Deposit", "deposit":
		return FacetDeposit, true
	case "Borrow", "borrow":
		return FacetBorrow, true
	case "PayOff", "payoff":
		return FacetPayOff, true
	default:
		return 0, false
	}
}
