package opt

import "math"

// LearningRater is anything whose learning rate a scheduler can adjust.
type LearningRater interface {
	LearningRate() float64
	SetLearningRate(lr float64)
}

// Group adjusts the learning rate of several optimizers together, such as
// the per-layer optimizers of one network.
type Group []Optimizer

// LearningRate returns the first member's learning rate.
func (g Group) LearningRate() float64 {
	if len(g) == 0 {
		return 0
	}
	return g[0].LearningRate()
}

// SetLearningRate sets lr on every member.
func (g Group) SetLearningRate(lr float64) {
	for _, o := range g {
		o.SetLearningRate(lr)
	}
}

// Scheduler defines the interface for learning rate schedulers.
type Scheduler interface {
	Step()
	StepWithLoss(loss float64)
	GetLR() float64
}

// BaseScheduler provides default implementations for Scheduler.
type BaseScheduler struct{}

func (s BaseScheduler) Step()                     {}
func (s BaseScheduler) StepWithLoss(loss float64) {}

// StepLR decays the learning rate by gamma every stepSize epochs.
type StepLR struct {
	BaseScheduler
	target    LearningRater
	stepSize  int
	gamma     float64
	lastEpoch int
}

func NewStepLR(target LearningRater, stepSize int, gamma float64) *StepLR {
	return &StepLR{target: target, stepSize: stepSize, gamma: gamma}
}

func (s *StepLR) Step() {
	s.lastEpoch++
	if s.stepSize > 0 && s.lastEpoch%s.stepSize == 0 {
		s.target.SetLearningRate(s.target.LearningRate() * s.gamma)
	}
}

func (s *StepLR) GetLR() float64 { return s.target.LearningRate() }

// ExponentialLR decays the learning rate by gamma every epoch.
type ExponentialLR struct {
	BaseScheduler
	target LearningRater
	gamma  float64
}

func NewExponentialLR(target LearningRater, gamma float64) *ExponentialLR {
	return &ExponentialLR{target: target, gamma: gamma}
}

func (s *ExponentialLR) Step() {
	s.target.SetLearningRate(s.target.LearningRate() * s.gamma)
}

func (s *ExponentialLR) GetLR() float64 { return s.target.LearningRate() }

// ReduceLROnPlateau reduces the learning rate when the loss has stopped improving.
type ReduceLROnPlateau struct {
	BaseScheduler
	target    LearningRater
	factor    float64
	patience  int
	threshold float64
	cooldown  int
	minLR     float64

	bestLoss        float64
	numBadEpochs    int
	cooldownCounter int
}

func NewReduceLROnPlateau(target LearningRater, factor float64, patience int, threshold, minLR float64) *ReduceLROnPlateau {
	return &ReduceLROnPlateau{
		target:    target,
		factor:    factor,
		patience:  patience,
		threshold: threshold,
		minLR:     minLR,
		bestLoss:  math.Inf(1),
	}
}

func (s *ReduceLROnPlateau) StepWithLoss(currentLoss float64) {
	if s.cooldownCounter > 0 {
		s.cooldownCounter--
		return
	}

	if currentLoss < s.bestLoss-s.threshold {
		s.bestLoss = currentLoss
		s.numBadEpochs = 0
	} else {
		s.numBadEpochs++
	}

	if s.numBadEpochs >= s.patience {
		s.target.SetLearningRate(math.Max(s.target.LearningRate()*s.factor, s.minLR))
		s.numBadEpochs = 0
		s.cooldownCounter = s.cooldown
	}
}

func (s *ReduceLROnPlateau) GetLR() float64 { return s.target.LearningRate() }
