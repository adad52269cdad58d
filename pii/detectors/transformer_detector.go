package pii

import (
	"context"
	"fmt"
	"strings"

	"github.com/hannes/deepsearch/providers"
)

// Standard NER label groups from the remote token-classification models.
var transformerLabelToType = map[string]PIIType{
	"PER":    TypeName,
	"PERSON": TypeName,
	"LOC":    TypeAddress,
	"GPE":    TypeAddress,
	"ORG":    TypeOrganization,
	"DATE":   TypeDate,
	"EMAIL":  TypeEmail,
	"PHONE":  TypePhone,
}

// TransformerDetector wraps one member of the remote transformer ensemble.
// Each member has its own model identifier and calibration thresholds;
// results below the medium threshold are dropped, results at or above the
// high threshold are tiered HIGH.
type TransformerDetector struct {
	name          string
	client        *providers.InferenceClient
	model         string
	medThreshold  float64
	highThreshold float64
}

// NewBERTDetector creates the multilingual-BERT ensemble member.
func NewBERTDetector(client *providers.InferenceClient, model string) *TransformerDetector {
	return &TransformerDetector{
		name:          "bert_detector",
		client:        client,
		model:         model,
		medThreshold:  0.7,
		highThreshold: 0.9,
	}
}

// NewDeBERTaDetector creates the DeBERTa ensemble member. It is calibrated
// lower than BERT, so its thresholds sit lower too.
func NewDeBERTaDetector(client *providers.InferenceClient, model string) *TransformerDetector {
	return &TransformerDetector{
		name:          "deberta_detector",
		client:        client,
		model:         model,
		medThreshold:  0.6,
		highThreshold: 0.85,
	}
}

// GetName returns the name of this detector.
func (d *TransformerDetector) GetName() string {
	return d.name
}

// Detect submits the text for token classification and converts entities
// above the detector's threshold into spans.
func (d *TransformerDetector) Detect(ctx context.Context, input DetectorInput) (DetectorOutput, error) {
	entities, err := d.client.TokenClassify(ctx, d.model, input.Text)
	if err != nil {
		return DetectorOutput{}, fmt.Errorf("%s inference failed: %w", d.name, err)
	}

	var spans []Span
	for _, entity := range entities {
		if entity.Score < d.medThreshold {
			continue
		}
		piiType, ok := transformerLabelToType[strings.ToUpper(entity.Entity)]
		if !ok {
			continue
		}
		if entity.Start < 0 || entity.End > len(input.Text) || entity.Start >= entity.End {
			continue
		}

		tier := ConfidenceMedium
		if entity.Score >= d.highThreshold {
			tier = ConfidenceHigh
		}

		spans = append(spans, Span{
			Text:           input.Text[entity.Start:entity.End],
			Type:           piiType,
			Language:       input.Language,
			Start:          entity.Start,
			End:            entity.End,
			Probability:    Clamp01(entity.Score),
			ConfidenceTier: tier,
			Sources:        []string{d.name},
		})
	}

	return DetectorOutput{Text: input.Text, Spans: spans}, nil
}

// Close implements the Detector interface.
func (d *TransformerDetector) Close() error {
	return nil
}
