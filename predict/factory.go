package predict

import (
	"fmt"

	"lautenbacher.net/golights/config"
)

// New creates the predictor selected in cfg.
func New(cfg config.PredictionConfig) (Predictor, error) {
	switch cfg.Predictor {
	case "centroid":
		model, err := LoadModel(cfg.ModelFile)
		if err != nil {
			return nil, err
		}
		return NewCentroidPredictor(model), nil
	case "remote":
		return NewRemotePredictor(cfg.RemoteURL, cfg.RemoteTimeout), nil
	default:
		return nil, fmt.Errorf("unknown predictor %q", cfg.Predictor)
	}
}
