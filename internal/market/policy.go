package market

// Hardforks are the activation times (unix seconds) of behavior changes
// that replay must honor.
type Hardforks struct {
	Hardfork555 int64
	Hardfork436 int64
}

// At returns the policy in force at head.
func (h Hardforks) At(head int64) Policy {
	return Policy{HeadTime: head, Hardfork555: h.Hardfork555, Hardfork436: h.Hardfork436}
}

// Policy answers the time-gated questions asked during matching.
type Policy struct {
	HeadTime    int64
	Hardfork555 int64
	Hardfork436 int64
}

// EagerCull culls dust on every partial fill.
func (p Policy) EagerCull() bool {
	return p.HeadTime < p.Hardfork555
}

// DeferDustCull leaves a partially filled taker in the book even when it
// is dust.
func (p Policy) DeferDustCull() bool {
	return p.HeadTime <= p.Hardfork555
}

// FeedProtectionHalts stops margin calls for positions the feed still
// considers safe.
func (p Policy) FeedProtectionHalts() bool {
	return p.HeadTime > p.Hardfork436
}
