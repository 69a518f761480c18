package orchestrator

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

// defaultBins is the number of boundary regions tracked per technique.
const defaultBins = 10

// Context identifies one (technique, boundary bin) region of the
// detection surface. Bins come from the prober's confidence deciles.
type Context struct {
	Technique string
	Bin       int
}

// Allocator is a Thompson-Sampling bandit over test contexts. Every
// context carries a Beta(alpha, beta) posterior over its evasion
// probability; selection draws one sample per context and plays the
// argmax, so high-yield regions win most rounds while low-yield ones
// still get the occasional draw.
type Allocator struct {
	mu         sync.Mutex
	rng        *rand.Rand
	contexts   []Context
	posteriors map[Context]*betaPosterior
}

type betaPosterior struct {
	alpha float64
	beta  float64
}

// NewAllocator builds a uniform Beta(1,1) posterior for every
// (technique, bin) pair. bins <= 0 uses the default of 10. seed == 0
// seeds from the clock.
func NewAllocator(techniques []string, bins int, seed int64) *Allocator {
	if bins <= 0 {
		bins = defaultBins
	}
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	a := &Allocator{
		rng:        rand.New(rand.NewSource(seed)),
		posteriors: make(map[Context]*betaPosterior, len(techniques)*bins),
	}
	for _, tech := range techniques {
		for bin := 0; bin < bins; bin++ {
			c := Context{Technique: tech, Bin: bin}
			a.contexts = append(a.contexts, c)
			a.posteriors[c] = &betaPosterior{alpha: 1, beta: 1}
		}
	}
	return a
}

// SelectNextTest samples every context's posterior and returns the
// context with the highest draw.
func (a *Allocator) SelectNextTest() Context {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.contexts) == 0 {
		return Context{}
	}
	best := a.contexts[0]
	bestSample := -1.0
	for _, c := range a.contexts {
		p := a.posteriors[c]
		sample := a.sampleBeta(p.alpha, p.beta)
		if sample > bestSample {
			bestSample = sample
			best = c
		}
	}
	return best
}

// Update records one observation for a context. An evasion is the
// allocator's reward and increments alpha; a detection increments beta.
func (a *Allocator) Update(c Context, evasion bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	p, ok := a.posteriors[c]
	if !ok {
		return
	}
	if evasion {
		p.alpha++
	} else {
		p.beta++
	}
}

// Posterior returns the current Beta parameters for a context.
// Unknown contexts report the uniform prior.
func (a *Allocator) Posterior(c Context) (alpha, beta float64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if p, ok := a.posteriors[c]; ok {
		return p.alpha, p.beta
	}
	return 1, 1
}

// TechniqueStats aggregates a technique's observations across its bins.
type TechniqueStats struct {
	Evasions    float64 `json:"evasions"`
	Detections  float64 `json:"detections"`
	EvasionRate float64 `json:"evasion_rate"`
}

// Stats summarizes observed outcomes per technique, priors excluded.
func (a *Allocator) Stats() map[string]TechniqueStats {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make(map[string]TechniqueStats)
	for c, p := range a.posteriors {
		s := out[c.Technique]
		s.Evasions += p.alpha - 1
		s.Detections += p.beta - 1
		out[c.Technique] = s
	}
	for tech, s := range out {
		if total := s.Evasions + s.Detections; total > 0 {
			s.EvasionRate = s.Evasions / total
		}
		out[tech] = s
	}
	return out
}

// sampleBeta draws from Beta(alpha, beta) as X/(X+Y) for independent
// gamma variates. Caller holds the mutex.
func (a *Allocator) sampleBeta(alpha, beta float64) float64 {
	x := a.sampleGamma(alpha)
	y := a.sampleGamma(beta)
	if x+y == 0 {
		return 0.5
	}
	return x / (x + y)
}

// sampleGamma draws from Gamma(shape, 1) using the Marsaglia-Tsang
// squeeze method, with the standard boost for shape < 1.
func (a *Allocator) sampleGamma(shape float64) float64 {
	if shape < 1 {
		u := a.rng.Float64()
		return a.sampleGamma(shape+1) * math.Pow(u, 1/shape)
	}

	d := shape - 1.0/3.0
	c := 1.0 / math.Sqrt(9*d)
	for {
		x := a.rng.NormFloat64()
		v := 1 + c*x
		if v <= 0 {
			continue
		}
		v = v * v * v
		u := a.rng.Float64()
		if u < 1-0.0331*x*x*x*x {
			return d * v
		}
		if math.Log(u) < 0.5*x*x+d*(1-v+math.Log(v)) {
			return d * v
		}
	}
}
