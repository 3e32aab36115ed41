package neural

import (
	"fmt"

	"go.uber.org/zap"
)

// Snapshot is the persisted form of a network and its encoder vocabulary.
type Snapshot struct {
	InputSize    int         `json:"inputSize"`
	HiddenSize   int         `json:"hiddenSize"`
	OutputSize   int         `json:"outputSize"`
	LearningRate float64     `json:"learningRate"`
	WeightsIH    [][]float64 `json:"weightsInputHidden"`
	WeightsHO    [][]float64 `json:"weightsHiddenOutput"`
	HiddenBias   []float64   `json:"biasHidden"`
	OutputBias   []float64   `json:"biasOutput"`
	TrainedSteps int         `json:"trainedSteps"`
	Vocabulary   []string    `json:"vocabulary,omitempty"`
}

// Infer is Forward without the lazy initialization: it fails with
// ErrNotInitialized until the network has seen an input.
func (n *Network) Infer(input []float64) (Activation, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.weightsIH == nil {
		return Activation{}, ErrNotInitialized
	}
	return n.forward(input)
}

// Snapshot copies the weights. Momentum terms are not kept.
func (n *Network) Snapshot() Snapshot {
	n.mu.Lock()
	defer n.mu.Unlock()
	return Snapshot{
		InputSize:    n.inputSize,
		HiddenSize:   n.hiddenSize,
		OutputSize:   n.outputSize,
		LearningRate: n.learningRate,
		WeightsIH:    cloneMatrix(n.weightsIH),
		WeightsHO:    cloneMatrix(n.weightsHO),
		HiddenBias:   append([]float64(nil), n.hiddenBias...),
		OutputBias:   append([]float64(nil), n.outputBias...),
		TrainedSteps: n.trained,
	}
}

// FromSnapshot rebuilds a network. A snapshot without weights yields an
// uninitialized network of the recorded shape.
func FromSnapshot(s Snapshot, seed int64, logger *zap.Logger) (*Network, error) {
	n := NewNetwork(Config{
		HiddenSize:   s.HiddenSize,
		OutputSize:   s.OutputSize,
		LearningRate: s.LearningRate,
		Seed:         seed,
	}, logger)
	if s.WeightsIH == nil {
		return n, nil
	}
	if err := s.validate(); err != nil {
		return nil, err
	}

	n.inputSize = s.InputSize
	n.weightsIH = cloneMatrix(s.WeightsIH)
	n.weightsHO = cloneMatrix(s.WeightsHO)
	n.hiddenBias = append([]float64(nil), s.HiddenBias...)
	n.outputBias = append([]float64(nil), s.OutputBias...)
	n.prevIH = matrix(s.InputSize, s.HiddenSize, nil)
	n.prevHO = matrix(s.HiddenSize, s.OutputSize, nil)
	n.prevBH = make([]float64, s.HiddenSize)
	n.prevBO = make([]float64, s.OutputSize)
	n.trained = s.TrainedSteps
	return n, nil
}

func (s Snapshot) validate() error {
	if s.InputSize <= 0 || s.HiddenSize <= 0 || s.OutputSize <= 0 {
		return fmt.Errorf("%w: snapshot shape %dx%dx%d", ErrDimensionMismatch, s.InputSize, s.HiddenSize, s.OutputSize)
	}
	if !shaped(s.WeightsIH, s.InputSize, s.HiddenSize) || !shaped(s.WeightsHO, s.HiddenSize, s.OutputSize) {
		return fmt.Errorf("%w: snapshot weights do not match shape", ErrDimensionMismatch)
	}
	if len(s.HiddenBias) != s.HiddenSize || len(s.OutputBias) != s.OutputSize {
		return fmt.Errorf("%w: snapshot biases do not match shape", ErrDimensionMismatch)
	}
	return nil
}

func shaped(m [][]float64, rows, cols int) bool {
	if len(m) != rows {
		return false
	}
	for _, row := range m {
		if len(row) != cols {
			return false
		}
	}
	return true
}

func cloneMatrix(m [][]float64) [][]float64 {
	if m == nil {
		return nil
	}
	out := make([][]float64, len(m))
	for i, row := range m {
		out[i] = append([]float64(nil), row...)
	}
	return out
}
