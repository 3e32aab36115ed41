// Package neural holds the small feed-forward network whose outputs act as
// per-field confidence signals, and the encoder that feeds it.
package neural

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"sync"

	"go.uber.org/zap"
)

const (
	Momentum = 0.9

	DefaultHiddenSize   = 16
	DefaultLearningRate = 0.1

	errorLogInterval = 5
)

var (
	ErrDimensionMismatch = errors.New("neural: input dimension mismatch")
	ErrNotInitialized    = errors.New("neural: network not initialized")
)

// Activation is the result of one forward pass.
type Activation struct {
	Output []float64 `json:"output"`
	Hidden []float64 `json:"hidden"`
}

// Sample is one training pair.
type Sample struct {
	Input  []float64
	Target []float64
}

// Network is a single hidden layer perceptron: ReLU hidden units, sigmoid
// outputs. Weights are created on the first forward pass.
type Network struct {
	mu     sync.Mutex
	logger *zap.Logger
	rng    *rand.Rand

	inputSize    int
	hiddenSize   int
	outputSize   int
	learningRate float64

	weightsIH  [][]float64 // [input][hidden]
	weightsHO  [][]float64 // [hidden][output]
	hiddenBias []float64
	outputBias []float64

	prevIH   [][]float64
	prevHO   [][]float64
	prevBH   []float64
	prevBO   []float64
	trained  int
	lastLoss float64
}

type Config struct {
	HiddenSize   int
	OutputSize   int
	LearningRate float64
	Seed         int64
}

func NewNetwork(cfg Config, logger *zap.Logger) *Network {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.HiddenSize <= 0 {
		cfg.HiddenSize = DefaultHiddenSize
	}
	if cfg.LearningRate <= 0 {
		cfg.LearningRate = DefaultLearningRate
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = rand.Int63()
	}
	return &Network{
		logger:       logger,
		rng:          rand.New(rand.NewSource(seed)),
		hiddenSize:   cfg.HiddenSize,
		outputSize:   cfg.OutputSize,
		learningRate: cfg.LearningRate,
	}
}

func (n *Network) Initialized() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.weightsIH != nil
}

func (n *Network) InputSize() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.inputSize
}

func (n *Network) HiddenSize() int { return n.hiddenSize }
func (n *Network) OutputSize() int { return n.outputSize }

func (n *Network) TrainedSteps() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.trained
}

// LastLoss is the squared error of the most recent training step.
func (n *Network) LastLoss() float64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.lastLoss
}

// Reset drops all weights; the next forward pass re-initializes.
func (n *Network) Reset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.inputSize = 0
	n.weightsIH, n.weightsHO = nil, nil
	n.hiddenBias, n.outputBias = nil, nil
	n.prevIH, n.prevHO, n.prevBH, n.prevBO = nil, nil, nil, nil
	n.trained = 0
}

// initialize uses Xavier uniform weights, U(-x, x) with x = sqrt(2/(in+hidden)).
func (n *Network) initialize(inputSize int) {
	limit := math.Sqrt(2 / float64(inputSize+n.hiddenSize))
	uniform := func() float64 { return (n.rng.Float64()*2 - 1) * limit }

	n.inputSize = inputSize
	n.weightsIH = matrix(inputSize, n.hiddenSize, uniform)
	n.weightsHO = matrix(n.hiddenSize, n.outputSize, uniform)
	n.hiddenBias = make([]float64, n.hiddenSize)
	n.outputBias = make([]float64, n.outputSize)
	n.prevIH = matrix(inputSize, n.hiddenSize, nil)
	n.prevHO = matrix(n.hiddenSize, n.outputSize, nil)
	n.prevBH = make([]float64, n.hiddenSize)
	n.prevBO = make([]float64, n.outputSize)

	n.logger.Info("neural network initialized",
		zap.Int("input", inputSize),
		zap.Int("hidden", n.hiddenSize),
		zap.Int("output", n.outputSize),
	)
}

// Forward runs one pass. The outputs are confidence modifiers, one per
// field, not field values.
func (n *Network) Forward(input []float64) (Activation, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.forward(input)
}

func (n *Network) forward(input []float64) (Activation, error) {
	if len(input) == 0 {
		return Activation{}, fmt.Errorf("%w: empty input", ErrDimensionMismatch)
	}
	if n.weightsIH == nil {
		n.initialize(len(input))
	}
	if len(input) != n.inputSize {
		return Activation{}, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(input), n.inputSize)
	}

	hidden := make([]float64, n.hiddenSize)
	for j := range hidden {
		sum := n.hiddenBias[j]
		for i, x := range input {
			sum += x * n.weightsIH[i][j]
		}
		hidden[j] = relu(sum)
	}

	output := make([]float64, n.outputSize)
	for k := range output {
		sum := n.outputBias[k]
		for j, h := range hidden {
			sum += h * n.weightsHO[j][k]
		}
		output[k] = sigmoid(sum)
	}
	return Activation{Output: output, Hidden: hidden}, nil
}

// TrainSingle performs one online momentum-SGD step and returns the squared
// error of the pass. Bad targets or inputs are logged and skipped.
func (n *Network) TrainSingle(input, target []float64) float64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	loss, err := n.trainSingle(input, target)
	if err != nil {
		n.logger.Warn("skipping training step", zap.Error(err))
		return 0
	}
	return loss
}

func (n *Network) trainSingle(input, target []float64) (float64, error) {
	if len(target) != n.outputSize {
		return 0, fmt.Errorf("%w: target has %d values, want %d", ErrDimensionMismatch, len(target), n.outputSize)
	}
	act, err := n.forward(input)
	if err != nil {
		return 0, err
	}

	outErr := make([]float64, n.outputSize)
	loss := 0.0
	for k, o := range act.Output {
		diff := target[k] - o
		loss += diff * diff
		outErr[k] = diff * o * (1 - o)
	}

	hiddenErr := make([]float64, n.hiddenSize)
	for j, h := range act.Hidden {
		if h <= 0 {
			continue
		}
		sum := 0.0
		for k, e := range outErr {
			sum += e * n.weightsHO[j][k]
		}
		hiddenErr[j] = sum
	}

	for j, h := range act.Hidden {
		for k, e := range outErr {
			delta := n.learningRate*e*h + Momentum*n.prevHO[j][k]
			n.weightsHO[j][k] += delta
			n.prevHO[j][k] = delta
		}
	}
	for k, e := range outErr {
		delta := n.learningRate*e + Momentum*n.prevBO[k]
		n.outputBias[k] += delta
		n.prevBO[k] = delta
	}
	for i, x := range input {
		for j, e := range hiddenErr {
			delta := n.learningRate*e*x + Momentum*n.prevIH[i][j]
			n.weightsIH[i][j] += delta
			n.prevIH[i][j] = delta
		}
	}
	for j, e := range hiddenErr {
		delta := n.learningRate*e + Momentum*n.prevBH[j]
		n.hiddenBias[j] += delta
		n.prevBH[j] = delta
	}

	n.trained++
	n.lastLoss = loss
	return loss, nil
}

// TrainBatch shuffles and trains example by example for a fixed number of
// epochs. It returns the mean squared error of the final epoch.
func (n *Network) TrainBatch(samples []Sample, epochs int) float64 {
	n.mu.Lock()
	defer n.mu.Unlock()

	if len(samples) == 0 || epochs <= 0 {
		return 0
	}
	order := make([]int, len(samples))
	for i := range order {
		order[i] = i
	}

	avg := 0.0
	for epoch := 1; epoch <= epochs; epoch++ {
		n.rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
		total, count := 0.0, 0
		for _, idx := range order {
			loss, err := n.trainSingle(samples[idx].Input, samples[idx].Target)
			if err != nil {
				n.logger.Warn("skipping training sample", zap.Int("sample", idx), zap.Error(err))
				continue
			}
			total += loss
			count++
		}
		if count > 0 {
			avg = total / float64(count)
		}
		if epoch%errorLogInterval == 0 {
			n.logger.Info("training progress", zap.Int("epoch", epoch), zap.Float64("avg_error", avg))
		}
	}
	return avg
}

// Targets builds the presence vector for a set of field values: 1 where a
// field has a non-blank value.
func Targets(values []string) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		if strings.TrimSpace(v) != "" {
			out[i] = 1
		}
	}
	return out
}

func matrix(rows, cols int, fill func() float64) [][]float64 {
	m := make([][]float64, rows)
	for i := range m {
		m[i] = make([]float64, cols)
		if fill != nil {
			for j := range m[i] {
				m[i][j] = fill()
			}
		}
	}
	return m
}

func relu(x float64) float64 {
	if x > 0 {
		return x
	}
	return 0
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}
