// Package ann implements the dense feed-forward regression networks behind
// the /api/ann endpoints: training with scaling and validation tracking,
// prediction, gradient-based inverse solving, and a disk-backed model
// registry.
package ann

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/chewxy/math32"
)

// Activation selects the hidden-layer nonlinearity. The output layer is
// always linear.
type Activation int

const (
	ActivationReLU Activation = iota
	ActivationTanh
	ActivationSigmoid
)

// ParseActivation resolves an activation by its API name.
func ParseActivation(name string) (Activation, error) {
	switch name {
	case "", "relu":
		return ActivationReLU, nil
	case "tanh":
		return ActivationTanh, nil
	case "sigmoid":
		return ActivationSigmoid, nil
	default:
		return 0, fmt.Errorf("ann: unknown activation %q", name)
	}
}

func (a Activation) String() string {
	switch a {
	case ActivationTanh:
		return "tanh"
	case ActivationSigmoid:
		return "sigmoid"
	default:
		return "relu"
	}
}

func activate(v float32, a Activation) float32 {
	switch a {
	case ActivationTanh:
		return math32.Tanh(v)
	case ActivationSigmoid:
		return 1.0 / (1.0 + math32.Exp(-v))
	default:
		if v < 0 {
			return 0
		}
		return v
	}
}

// activateDerivative is taken with respect to the pre-activation value.
func activateDerivative(pre float32, a Activation) float32 {
	switch a {
	case ActivationTanh:
		t := math32.Tanh(pre)
		return 1 - t*t
	case ActivationSigmoid:
		s := 1.0 / (1.0 + math32.Exp(-pre))
		return s * (1 - s)
	default:
		if pre > 0 {
			return 1
		}
		return 0
	}
}

// denseLayer is a fully connected layer with a flat row-major weight matrix:
// weights[i*out+o] connects input i to output o.
type denseLayer struct {
	In      int       `json:"in"`
	Out     int       `json:"out"`
	Weights []float32 `json:"weights"`
	Bias    []float32 `json:"bias"`
}

// Network is a dense multi-layer perceptron with one linear output.
type Network struct {
	Layers     []denseLayer `json:"layers"`
	Activation Activation   `json:"activation"`
}

// NewNetwork builds a network with He-initialized weights. hidden lists the
// hidden layer sizes; the output layer has a single unit.
func NewNetwork(nFeatures int, hidden []int, act Activation, rng *rand.Rand) *Network {
	sizes := append([]int{nFeatures}, hidden...)
	sizes = append(sizes, 1)

	n := &Network{Activation: act}
	for l := 0; l < len(sizes)-1; l++ {
		in, out := sizes[l], sizes[l+1]
		stddev := float32(math.Sqrt(2.0 / float64(in)))
		w := make([]float32, in*out)
		for i := range w {
			w[i] = float32(rng.NormFloat64()) * stddev
		}
		n.Layers = append(n.Layers, denseLayer{
			In:      in,
			Out:     out,
			Weights: w,
			Bias:    make([]float32, out),
		})
	}
	return n
}

// forward runs one sample through the network, recording pre- and
// post-activation values per layer for backprop. The final layer is linear.
func (n *Network) forward(input []float32) (preActs, postActs [][]float32) {
	cur := input
	for l := range n.Layers {
		layer := &n.Layers[l]
		pre := make([]float32, layer.Out)
		post := make([]float32, layer.Out)
		for o := 0; o < layer.Out; o++ {
			sum := layer.Bias[o]
			for i := 0; i < layer.In; i++ {
				sum += cur[i] * layer.Weights[i*layer.Out+o]
			}
			pre[o] = sum
			if l == len(n.Layers)-1 {
				post[o] = sum
			} else {
				post[o] = activate(sum, n.Activation)
			}
		}
		preActs = append(preActs, pre)
		postActs = append(postActs, post)
		cur = post
	}
	return preActs, postActs
}

// Predict evaluates the network on one scaled input row.
func (n *Network) Predict(input []float32) float32 {
	_, post := n.forward(input)
	return post[len(post)-1][0]
}

// gradients holds accumulated weight and bias gradients per layer.
type gradients struct {
	weights [][]float32
	bias    [][]float32
}

func newGradients(n *Network) *gradients {
	g := &gradients{}
	for _, layer := range n.Layers {
		g.weights = append(g.weights, make([]float32, len(layer.Weights)))
		g.bias = append(g.bias, make([]float32, len(layer.Bias)))
	}
	return g
}

func (g *gradients) zero() {
	for l := range g.weights {
		for i := range g.weights[l] {
			g.weights[l][i] = 0
		}
		for i := range g.bias[l] {
			g.bias[l][i] = 0
		}
	}
}

// backward accumulates gradients for one sample given dLoss/dOutput, and
// returns dLoss/dInput for inverse solving.
func (n *Network) backward(input []float32, preActs, postActs [][]float32, gradOut float32, g *gradients) []float32 {
	last := len(n.Layers) - 1
	grad := []float32{gradOut}

	for l := last; l >= 0; l-- {
		layer := &n.Layers[l]
		in := input
		if l > 0 {
			in = postActs[l-1]
		}

		gradPre := make([]float32, layer.Out)
		for o := range gradPre {
			if l == last {
				gradPre[o] = grad[o]
			} else {
				gradPre[o] = grad[o] * activateDerivative(preActs[l][o], n.Activation)
			}
		}

		gradIn := make([]float32, layer.In)
		for o := 0; o < layer.Out; o++ {
			if g != nil {
				g.bias[l][o] += gradPre[o]
			}
			for i := 0; i < layer.In; i++ {
				if g != nil {
					g.weights[l][i*layer.Out+o] += in[i] * gradPre[o]
				}
				gradIn[i] += layer.Weights[i*layer.Out+o] * gradPre[o]
			}
		}
		grad = gradIn
	}
	return grad
}

// adam is the Adam optimizer with bias-corrected moment estimates.
type adam struct {
	beta1, beta2, epsilon float32
	step                  int
	m, v                  map[string][]float32
}

func newAdam() *adam {
	return &adam{
		beta1:   0.9,
		beta2:   0.999,
		epsilon: 1e-8,
		m:       map[string][]float32{},
		v:       map[string][]float32{},
	}
}

func (opt *adam) apply(key string, params, grads []float32, lr float32, bc1, bc2 float32) {
	if opt.m[key] == nil {
		opt.m[key] = make([]float32, len(params))
		opt.v[key] = make([]float32, len(params))
	}
	m, v := opt.m[key], opt.v[key]
	for j := range params {
		grad := grads[j]
		m[j] = opt.beta1*m[j] + (1-opt.beta1)*grad
		v[j] = opt.beta2*v[j] + (1-opt.beta2)*grad*grad
		mHat := m[j] / bc1
		vHat := v[j] / bc2
		params[j] -= lr * mHat / (math32.Sqrt(vHat) + opt.epsilon)
	}
}

// stepNetwork applies one Adam update to every layer.
func (opt *adam) stepNetwork(n *Network, g *gradients, lr float32) {
	opt.step++
	bc1 := 1 - math32.Pow(opt.beta1, float32(opt.step))
	bc2 := 1 - math32.Pow(opt.beta2, float32(opt.step))
	for l := range n.Layers {
		opt.apply(fmt.Sprintf("kernel_%d", l), n.Layers[l].Weights, g.weights[l], lr, bc1, bc2)
		opt.apply(fmt.Sprintf("bias_%d", l), n.Layers[l].Bias, g.bias[l], lr, bc1, bc2)
	}
}

// stepVector applies one Adam update to a free input vector.
func (opt *adam) stepVector(params, grads []float32, lr float32) {
	opt.step++
	bc1 := 1 - math32.Pow(opt.beta1, float32(opt.step))
	bc2 := 1 - math32.Pow(opt.beta2, float32(opt.step))
	opt.apply("input", params, grads, lr, bc1, bc2)
}
