package evolution

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/unicodemonk/security-evaluator-leaderboard/internal/generator"
	"github.com/unicodemonk/security-evaluator-leaderboard/internal/scenario"
	"github.com/unicodemonk/security-evaluator-leaderboard/pkg/types"
)

// Fitness holds the dual objectives for one population member
type Fitness struct {
	Evasion float64
	Novelty float64
	Total   float64
}

// GenerationStats summarizes one completed generation
type GenerationStats struct {
	Generation    int
	DetectionRate float64
	AvgNovelty    float64
	Evasions      int
	ArchiveSize   int
}

// Executor adjudicates a single attack against the target
type Executor func(ctx context.Context, attack *types.Attack) *types.TestResult

// Engine maintains a fixed-size attack population and evolves it toward
// undetected, behaviorally novel payloads
type Engine struct {
	scn     scenario.Scenario
	gen     generator.Generator // optional; nil means deterministic only
	logger  *zap.Logger
	archive *Archive

	populationSize   int
	mutationRate     float64
	noveltyWeight    float64
	llmMutationRatio float64
	archiveThreshold float64
	fitnessWorkers   int

	mu  sync.Mutex // guards rng
	rng *rand.Rand

	population []*types.Attack
	fitness    map[string]Fitness
}

// NewEngine creates an engine with the original defaults
func NewEngine(scn scenario.Scenario, logger *zap.Logger, seed int64) *Engine {
	return &Engine{
		scn:              scn,
		logger:           logger,
		archive:          NewArchive(1000, 10.0),
		populationSize:   50,
		mutationRate:     0.3,
		noveltyWeight:    0.5,
		llmMutationRatio: 0.3,
		archiveThreshold: 0.7,
		fitnessWorkers:   5,
		rng:              rand.New(rand.NewSource(seed)),
		fitness:          make(map[string]Fitness),
	}
}

// WithPopulationSize sets the population size
func (e *Engine) WithPopulationSize(n int) *Engine {
	if n > 0 {
		e.populationSize = n
	}
	return e
}

// WithMutationRate sets the per-child mutation probability
func (e *Engine) WithMutationRate(rate float64) *Engine {
	if rate >= 0 && rate <= 1 {
		e.mutationRate = rate
	}
	return e
}

// WithNoveltyWeight sets the novelty share of total fitness
func (e *Engine) WithNoveltyWeight(w float64) *Engine {
	if w >= 0 && w <= 1 {
		e.noveltyWeight = w
	}
	return e
}

// WithGenerator attaches the optional creative-mutation port
func (e *Engine) WithGenerator(gen generator.Generator) *Engine {
	e.gen = gen
	return e
}

// WithLLMMutationRatio sets how often mutation goes through the generator
func (e *Engine) WithLLMMutationRatio(ratio float64) *Engine {
	if ratio >= 0 && ratio <= 1 {
		e.llmMutationRatio = ratio
	}
	return e
}

// WithArchive replaces the novelty archive (threshold stays)
func (e *Engine) WithArchive(a *Archive) *Engine {
	if a != nil {
		e.archive = a
	}
	return e
}

// WithArchiveThreshold sets the novelty score above which a behavior
// enters the archive
func (e *Engine) WithArchiveThreshold(t float64) *Engine {
	if t > 0 && t <= 1 {
		e.archiveThreshold = t
	}
	return e
}

// WithFitnessWorkers bounds the parallel fitness evaluation pool
func (e *Engine) WithFitnessWorkers(n int) *Engine {
	if n > 0 {
		e.fitnessWorkers = n
	}
	return e
}

// Archive exposes the novelty archive for inspection
func (e *Engine) Archive() *Archive {
	return e.archive
}

// Population returns the current population
func (e *Engine) Population() []*types.Attack {
	return e.population
}

// Seed initializes the population from starting attacks, expanding via
// deterministic mutators until the population size is reached
func (e *Engine) Seed(seeds []*types.Attack) error {
	if len(seeds) == 0 {
		return fmt.Errorf("no seed attacks")
	}

	e.population = append([]*types.Attack(nil), seeds...)
	mutators := e.scn.Mutators()

	for len(e.population) < e.populationSize && len(mutators) > 0 {
		parent := e.population[e.randIntn(len(e.population))]
		m := mutators[e.randIntn(len(mutators))]
		children := m.Mutate(parent)
		if len(children) == 0 {
			continue
		}
		e.population = append(e.population, children[e.randIntn(len(children))])
	}
	if len(e.population) > e.populationSize {
		e.population = e.population[:e.populationSize]
	}
	return nil
}

// EvolveGeneration runs one full generation: fitness evaluation, Pareto
// selection, offspring generation, and archive update. It returns the
// test results produced while scoring the population.
func (e *Engine) EvolveGeneration(ctx context.Context, generation int, execute Executor) ([]*types.TestResult, GenerationStats, error) {
	if len(e.population) == 0 {
		return nil, GenerationStats{}, fmt.Errorf("population not seeded")
	}

	results, err := e.evaluateFitness(ctx, execute)
	if err != nil {
		return nil, GenerationStats{}, err
	}

	stats := e.generationStats(generation, results)
	selected := e.paretoSelection()
	e.population = e.breed(ctx, selected, generation)
	e.updateArchive()
	stats.ArchiveSize = e.archive.Size()

	if e.logger != nil {
		e.logger.Debug("generation complete",
			zap.Int("generation", generation),
			zap.Float64("detection_rate", stats.DetectionRate),
			zap.Int("evasions", stats.Evasions),
			zap.Int("archive_size", stats.ArchiveSize))
	}
	return results, stats, nil
}

// evaluateFitness executes every member against the target in a bounded
// worker pool and computes the dual-objective fitness
func (e *Engine) evaluateFitness(ctx context.Context, execute Executor) ([]*types.TestResult, error) {
	results := make([]*types.TestResult, len(e.population))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.fitnessWorkers)
	for i, attack := range e.population {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = execute(gctx, attack)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	fitness := make(map[string]Fitness, len(e.population))
	for i, attack := range e.population {
		result := results[i]

		evasion := 0.0
		if result != nil && result.IsValid && !result.Detected {
			evasion = 1.0
		}
		novelty := e.archive.Novelty(DescribePayload(attack.Payload))

		fitness[attack.AttackID] = Fitness{
			Evasion: evasion,
			Novelty: novelty,
			Total:   evasion*(1-e.noveltyWeight) + novelty*e.noveltyWeight,
		}
	}
	e.fitness = fitness

	out := make([]*types.TestResult, 0, len(results))
	for _, r := range results {
		if r != nil {
			out = append(out, r)
		}
	}
	return out, nil
}

// paretoSelection retains the non-dominated front and backfills by total
// fitness to half the population size
func (e *Engine) paretoSelection() []*types.Attack {
	var front []*types.Attack
	for _, a := range e.population {
		dominated := false
		fa := e.fitness[a.AttackID]
		for _, b := range e.population {
			if a == b {
				continue
			}
			if dominates(e.fitness[b.AttackID], fa) {
				dominated = true
				break
			}
		}
		if !dominated {
			front = append(front, a)
		}
	}

	target := e.populationSize / 2
	if len(front) >= target {
		return front
	}

	inFront := make(map[string]bool, len(front))
	for _, a := range front {
		inFront[a.AttackID] = true
	}

	var rest []*types.Attack
	for _, a := range e.population {
		if !inFront[a.AttackID] {
			rest = append(rest, a)
		}
	}
	sort.SliceStable(rest, func(i, j int) bool {
		return e.fitness[rest[i].AttackID].Total > e.fitness[rest[j].AttackID].Total
	})

	for _, a := range rest {
		if len(front) >= target {
			break
		}
		front = append(front, a)
	}
	return front
}

// dominates reports whether a is at least as good in both objectives and
// strictly better in one
func dominates(a, b Fitness) bool {
	if a.Evasion < b.Evasion || a.Novelty < b.Novelty {
		return false
	}
	return a.Evasion > b.Evasion || a.Novelty > b.Novelty
}

// breed refills the population with offspring from the selected parents
func (e *Engine) breed(ctx context.Context, parents []*types.Attack, generation int) []*types.Attack {
	if len(parents) == 0 {
		return e.population
	}

	next := make([]*types.Attack, 0, e.populationSize)
	for len(next) < e.populationSize {
		a := parents[e.randIntn(len(parents))]
		b := parents[e.randIntn(len(parents))]
		for attempts := 0; b == a && len(parents) > 1 && attempts < 10; attempts++ {
			b = parents[e.randIntn(len(parents))]
		}

		child := e.crossover(a, b, generation)
		if e.randFloat() < e.mutationRate {
			child = e.mutate(ctx, child)
		}
		next = append(next, child)
	}
	return next
}

// crossover adopts one parent's payload verbatim, recording both parents
// in the child's metadata
func (e *Engine) crossover(a, b *types.Attack, generation int) *types.Attack {
	donor := a
	if e.randFloat() < 0.5 {
		donor = b
	}
	child := donor.CloneWithPayload(donor.Payload, "crossover")
	child.Generation = generation + 1
	child.Metadata["parent_a"] = a.AttackID
	child.Metadata["parent_b"] = b.AttackID
	return child
}

// mutate applies either a creative generation call or a deterministic
// scenario mutator; generation failures fall back to the deterministic
// path rather than surfacing
func (e *Engine) mutate(ctx context.Context, attack *types.Attack) *types.Attack {
	if e.gen != nil && e.randFloat() < e.llmMutationRatio {
		if mutated, err := e.llmMutate(ctx, attack); err == nil {
			return mutated
		} else if e.logger != nil {
			e.logger.Debug("creative mutation failed, using deterministic mutator", zap.Error(err))
		}
	}
	return e.algorithmicMutate(attack)
}

func (e *Engine) algorithmicMutate(attack *types.Attack) *types.Attack {
	mutators := e.scn.Mutators()
	if len(mutators) == 0 {
		return attack
	}
	m := mutators[e.randIntn(len(mutators))]
	children := m.Mutate(attack)
	if len(children) == 0 {
		return attack
	}
	return children[e.randIntn(len(children))]
}

func (e *Engine) llmMutate(ctx context.Context, attack *types.Attack) (*types.Attack, error) {
	prompt := fmt.Sprintf(`You are helping evaluate a security detector.
Produce a semantically equivalent variant of this %s payload that a
pattern-based detector might miss. Respond with the payload only, no
explanation and no code fences.

Payload: %s`, attack.Technique, attack.Payload)

	text, err := e.gen.Generate(ctx, prompt, 256, 0.9)
	if err != nil {
		return nil, err
	}

	payload := strings.TrimSpace(text)
	payload = strings.Trim(payload, "`")
	payload = strings.TrimSpace(payload)
	if payload == "" || payload == attack.Payload {
		return nil, fmt.Errorf("generator produced no usable variant")
	}
	return attack.CloneWithPayload(payload, "llm_creative"), nil
}

// updateArchive scores the current population and appends sufficiently
// novel behaviors, FIFO-bounded by the archive capacity
func (e *Engine) updateArchive() {
	for _, a := range e.population {
		descriptor := DescribePayload(a.Payload)
		if e.archive.Novelty(descriptor) > e.archiveThreshold {
			e.archive.Append(descriptor)
		}
	}
}

// generationStats summarizes the evaluated population
func (e *Engine) generationStats(generation int, results []*types.TestResult) GenerationStats {
	detected, evasions, valid := 0, 0, 0
	for _, r := range results {
		if !r.IsValid {
			continue
		}
		valid++
		if r.Detected {
			detected++
		}
		if r.IsEvasion() {
			evasions++
		}
	}

	noveltySum := 0.0
	for _, f := range e.fitness {
		noveltySum += f.Novelty
	}

	stats := GenerationStats{
		Generation: generation,
		Evasions:   evasions,
	}
	if valid > 0 {
		stats.DetectionRate = float64(detected) / float64(valid)
	}
	if len(e.fitness) > 0 {
		stats.AvgNovelty = noveltySum / float64(len(e.fitness))
	}
	return stats
}

func (e *Engine) randIntn(n int) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rng.Intn(n)
}

func (e *Engine) randFloat() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rng.Float64()
}
