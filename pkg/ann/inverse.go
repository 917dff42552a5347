package ann

import "math"

// InverseStep is one recorded point of the inverse optimization.
type InverseStep struct {
	Step            int                `json:"step"`
	InputScaled     []float64          `json:"input_scaled"`
	PredictedScaled float64            `json:"predicted_scaled"`
	PredictedOutput float64            `json:"predicted_output"`
	Loss            float64            `json:"loss"`
	Inputs          map[string]float64 `json:"inputs"`
}

// InverseResult reports the inputs found to produce a desired output.
type InverseResult struct {
	DesiredOutput   float64            `json:"desired_output"`
	PredictedOutput float64            `json:"predicted_output"`
	Error           float64            `json:"error"`
	FinalLoss       float64            `json:"final_loss"`
	FoundInputs     map[string]float64 `json:"found_inputs"`
	History         []InverseStep      `json:"optimization_history"`
}

// InverseSolve searches for inputs whose prediction matches desiredOutput by
// running Adam on the scaled input vector, starting from all zeros (the
// feature means). Progress is recorded every 50 steps.
func (m *Model) InverseSolve(desiredOutput float64, steps int, lr float64) *InverseResult {
	if steps <= 0 {
		steps = 200
	}
	if lr <= 0 {
		lr = 0.1
	}
	targetScaled := float32((desiredOutput - m.ScalerY.Mean[0]) / m.ScalerY.Scale[0])

	input := make([]float32, len(m.ScalerX.Mean))
	opt := newAdam()
	grads := make([]float32, len(input))

	res := &InverseResult{DesiredOutput: desiredOutput}
	var lastLoss float64

	for step := 0; step < steps; step++ {
		pre, post := m.Network.forward(input)
		pred := post[len(post)-1][0]
		diff := pred - targetScaled
		lastLoss = float64(diff * diff)

		gradIn := m.Network.backward(input, pre, post, 2*diff, nil)
		copy(grads, gradIn)
		opt.stepVector(input, grads, float32(lr))

		if step%50 == 0 {
			res.History = append(res.History, m.inverseStep(step, input, lastLoss))
		}
	}

	final := m.inverseStep(steps, input, lastLoss)
	res.PredictedOutput = final.PredictedOutput
	res.Error = math.Abs(final.PredictedOutput - desiredOutput)
	res.FinalLoss = lastLoss
	res.FoundInputs = final.Inputs
	return res
}

func (m *Model) inverseStep(step int, input []float32, loss float64) InverseStep {
	predScaled := float64(m.Network.Predict(input))
	s := InverseStep{
		Step:            step,
		InputScaled:     make([]float64, len(input)),
		PredictedScaled: predScaled,
		PredictedOutput: m.ScalerY.inverse(0, predScaled),
		Loss:            loss,
		Inputs:          make(map[string]float64, len(input)),
	}
	for i, v := range input {
		s.InputScaled[i] = float64(v)
		s.Inputs[m.FeatureNames[i]] = m.ScalerX.inverse(i, float64(v))
	}
	return s
}
