package capture

import "math/rand"

// Sampler implements per-packet uniform 1-in-rate sampling (§8
// scenario 6: rate 10 over 1000 packets admits ~100, i.e. in [80,120]).
// It gates a module binding's packet admission (ModuleBinding.Sampler);
// raw-packet subscriptions made through Capture.Subscribe are not
// sampled. rate<=1 admits every packet.
type Sampler struct {
	rate int
	rng  *rand.Rand
}

// NewSampler builds a Sampler for the given rate, seeded from seed so
// tests can make the sequence reproducible.
func NewSampler(rate int, seed int64) *Sampler {
	return &Sampler{rate: rate, rng: rand.New(rand.NewSource(seed))}
}

// Admit reports whether the next packet should be admitted: a 1-in-rate
// uniform draw per packet.
func (s *Sampler) Admit() bool {
	if s.rate <= 1 {
		return true
	}
	return s.rng.Intn(s.rate) == 0
}
