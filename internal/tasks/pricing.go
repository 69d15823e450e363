package tasks

// Pricing is the per-file credit cost for each credential tier.
type Pricing struct {
	SharedText   int
	SharedVision int
	OwnText      int
	OwnVision    int
}

// DefaultPricing matches the published credit table.
var DefaultPricing = Pricing{SharedText: 10, SharedVision: 50, OwnText: 3, OwnVision: 5}

func (p Pricing) PerFile(shared, vision bool) int {
	switch {
	case shared && vision:
		return p.SharedVision
	case shared:
		return p.SharedText
	case vision:
		return p.OwnVision
	default:
		return p.OwnText
	}
}
