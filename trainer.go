package colmena

import (
	"errors"
	"math"
	"math/rand"
	"sort"
	"sync"
)

// TrainConfig configures local training.
type TrainConfig struct {
	// Epochs is the number of passes over the training split.
	Epochs int
	// BatchSize is the mini-batch size for gradient updates.
	BatchSize int
	// LearningRate is the gradient descent step size.
	LearningRate float64
	// ValidationSplit is the fraction of samples held out for
	// validation metrics.
	ValidationSplit float64
}

// DefaultTrainConfig returns the default training configuration.
func DefaultTrainConfig() TrainConfig {
	return TrainConfig{
		Epochs:          10,
		BatchSize:       32,
		LearningRate:    0.01,
		ValidationSplit: 0.2,
	}
}

// TrainingSample is one local observation. Label holds the regression
// target or the class index for classification.
type TrainingSample struct {
	Features []float64
	Label    float64
	Weight   float64
}

// TrainedModel is the output of local regression training: the linear
// parameters plus validation metrics computed on the held-out split.
type TrainedModel struct {
	Coefficients []float64
	Intercept    float64
	Metrics      map[string]float64
	SampleCount  int
}

// TrainedClassifier is the output of local classification training.
type TrainedClassifier struct {
	Classes         []float64
	Centroids       [][]float64
	ConfusionMatrix [][]float64
	Metrics         map[string]float64
	SampleCount     int
}

// LocalTrainer fits small models on an organization's own data. Only
// the resulting parameters and validation metrics ever leave the
// process; the samples stay local.
type LocalTrainer struct {
	config  TrainConfig
	mu      sync.Mutex
	samples []TrainingSample
}

// NewLocalTrainer creates a trainer.
func NewLocalTrainer(config TrainConfig) *LocalTrainer {
	if config.Epochs <= 0 {
		config.Epochs = 10
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 32
	}
	if config.LearningRate <= 0 {
		config.LearningRate = 0.01
	}
	if config.ValidationSplit <= 0 || config.ValidationSplit >= 1 {
		config.ValidationSplit = 0.2
	}
	return &LocalTrainer{config: config}
}

// AddSamples appends local observations.
func (t *LocalTrainer) AddSamples(samples ...TrainingSample) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, s := range samples {
		if s.Weight == 0 {
			s.Weight = 1.0
		}
		t.samples = append(t.samples, s)
	}
}

// SampleCount reports how many observations have been added.
func (t *LocalTrainer) SampleCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.samples)
}

// split shuffles the samples and divides them into training and
// validation sets.
func (t *LocalTrainer) split() (train, validation []TrainingSample) {
	shuffled := make([]TrainingSample, len(t.samples))
	copy(shuffled, t.samples)
	rand.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	cut := len(shuffled) - int(float64(len(shuffled))*t.config.ValidationSplit)
	if cut < 1 {
		cut = 1
	}
	return shuffled[:cut], shuffled[cut:]
}

// TrainRegression fits a linear model by mini-batch gradient descent
// and evaluates it on the validation split.
func (t *LocalTrainer) TrainRegression() (*TrainedModel, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.samples) == 0 {
		return nil, errors.New("no training samples")
	}

	dims := len(t.samples[0].Features)
	if dims == 0 {
		return nil, errors.New("samples have no features")
	}

	train, validation := t.split()

	weights := make([]float64, dims)
	bias := 0.0

	for epoch := 0; epoch < t.config.Epochs; epoch++ {
		bias = t.trainEpoch(train, weights, bias)
	}

	eval := validation
	if len(eval) == 0 {
		eval = train
	}

	return &TrainedModel{
		Coefficients: weights,
		Intercept:    bias,
		Metrics:      regressionMetrics(eval, weights, bias),
		SampleCount:  len(t.samples),
	}, nil
}

// trainEpoch runs one pass of mini-batch updates and returns the
// updated bias.
func (t *LocalTrainer) trainEpoch(train []TrainingSample, weights []float64, bias float64) float64 {
	for i := 0; i < len(train); i += t.config.BatchSize {
		end := i + t.config.BatchSize
		if end > len(train) {
			end = len(train)
		}
		bias = t.processBatch(train[i:end], weights, bias)
	}
	return bias
}

// processBatch accumulates MSE gradients over the batch and applies one
// averaged update.
func (t *LocalTrainer) processBatch(batch []TrainingSample, weights []float64, bias float64) float64 {
	if len(batch) == 0 {
		return bias
	}

	gradients := make([]float64, len(weights))
	biasGrad := 0.0

	for _, sample := range batch {
		prediction := predict(sample.Features, weights, bias)
		residual := (prediction - sample.Label) * sample.Weight

		for j := range gradients {
			if j < len(sample.Features) {
				gradients[j] += residual * sample.Features[j]
			}
		}
		biasGrad += residual
	}

	batchLen := float64(len(batch))
	for j := range weights {
		weights[j] -= t.config.LearningRate * gradients[j] / batchLen
	}
	return bias - t.config.LearningRate*biasGrad/batchLen
}

func predict(features, weights []float64, bias float64) float64 {
	prediction := bias
	for j, w := range weights {
		if j < len(features) {
			prediction += w * features[j]
		}
	}
	return prediction
}

// regressionMetrics computes mse, mae, and r2 over a sample set.
func regressionMetrics(samples []TrainingSample, weights []float64, bias float64) map[string]float64 {
	if len(samples) == 0 {
		return map[string]float64{"mse": 0, "mae": 0, "r2": 0}
	}

	mean := 0.0
	for _, s := range samples {
		mean += s.Label
	}
	mean /= float64(len(samples))

	var ssRes, ssTot, absSum float64
	for _, s := range samples {
		residual := predict(s.Features, weights, bias) - s.Label
		ssRes += residual * residual
		absSum += math.Abs(residual)
		ssTot += (s.Label - mean) * (s.Label - mean)
	}

	n := float64(len(samples))
	r2 := 0.0
	if ssTot > 0 {
		r2 = 1 - ssRes/ssTot
	}

	return map[string]float64{
		"mse": ssRes / n,
		"mae": absSum / n,
		"r2":  r2,
	}
}

// TrainClassifier fits a nearest-centroid classifier. Labels are class
// indices; metrics include macro precision, recall, and f1 along with
// the validation confusion matrix.
func (t *LocalTrainer) TrainClassifier() (*TrainedClassifier, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.samples) == 0 {
		return nil, errors.New("no training samples")
	}
	dims := len(t.samples[0].Features)
	if dims == 0 {
		return nil, errors.New("samples have no features")
	}

	train, validation := t.split()

	// Per-class centroids over the training split.
	sums := make(map[float64][]float64)
	counts := make(map[float64]int)
	for _, s := range train {
		if sums[s.Label] == nil {
			sums[s.Label] = make([]float64, dims)
		}
		for j, f := range s.Features {
			if j < dims {
				sums[s.Label][j] += f
			}
		}
		counts[s.Label]++
	}

	classes := make([]float64, 0, len(sums))
	for label := range sums {
		classes = append(classes, label)
	}
	sort.Float64s(classes)

	centroids := make([][]float64, len(classes))
	for i, label := range classes {
		centroid := sums[label]
		for j := range centroid {
			centroid[j] /= float64(counts[label])
		}
		centroids[i] = centroid
	}

	eval := validation
	if len(eval) == 0 {
		eval = train
	}

	confusion := make([][]float64, len(classes))
	for i := range confusion {
		confusion[i] = make([]float64, len(classes))
	}

	correct := 0
	for _, s := range eval {
		actual := classIndex(classes, s.Label)
		predicted := nearestCentroid(centroids, s.Features)
		if actual < 0 {
			continue
		}
		confusion[actual][predicted]++
		if actual == predicted {
			correct++
		}
	}

	metrics := classificationMetrics(confusion)
	metrics["accuracy"] = float64(correct) / float64(len(eval))

	return &TrainedClassifier{
		Classes:         classes,
		Centroids:       centroids,
		ConfusionMatrix: confusion,
		Metrics:         metrics,
		SampleCount:     len(t.samples),
	}, nil
}

// classificationMetrics derives macro precision, recall, and f1 from a
// confusion matrix (rows actual, columns predicted).
func classificationMetrics(confusion [][]float64) map[string]float64 {
	n := len(confusion)
	if n == 0 {
		return map[string]float64{"precision": 0, "recall": 0, "f1": 0}
	}

	var precisionSum, recallSum float64
	for i := 0; i < n; i++ {
		var rowTotal, colTotal float64
		for j := 0; j < n; j++ {
			rowTotal += confusion[i][j]
			colTotal += confusion[j][i]
		}
		if colTotal > 0 {
			precisionSum += confusion[i][i] / colTotal
		}
		if rowTotal > 0 {
			recallSum += confusion[i][i] / rowTotal
		}
	}

	precision := precisionSum / float64(n)
	recall := recallSum / float64(n)
	f1 := 0.0
	if precision+recall > 0 {
		f1 = 2 * precision * recall / (precision + recall)
	}

	return map[string]float64{
		"precision": precision,
		"recall":    recall,
		"f1":        f1,
	}
}

func nearestCentroid(centroids [][]float64, features []float64) int {
	best := 0
	bestDist := math.Inf(1)
	for i, centroid := range centroids {
		dist := 0.0
		for j, c := range centroid {
			var f float64
			if j < len(features) {
				f = features[j]
			}
			dist += (f - c) * (f - c)
		}
		if dist < bestDist {
			bestDist = dist
			best = i
		}
	}
	return best
}

func classIndex(classes []float64, label float64) int {
	for i, c := range classes {
		if c == label {
			return i
		}
	}
	return -1
}

