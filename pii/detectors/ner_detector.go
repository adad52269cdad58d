package pii

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strings"
	"sync"

	"github.com/daulet/tokenizers"
	onnxruntime "github.com/yalue/onnxruntime_go"
)

// Labels emitted by the token-classification model are mapped to PII types
// through this table. Unmapped labels are dropped, never guessed.
var nerLabelToType = map[string]PIIType{
	"EMAIL":            TypeEmail,
	"TELEPHONENUM":     TypePhone,
	"SOCIALNUM":        TypeSSN,
	"CREDITCARDNUMBER": TypeCreditCard,
	"GIVENNAME":        TypeName,
	"SURNAME":          TypeName,
	"PERSON":           TypeName,
	"NAME":             TypeName,
	"STREET":           TypeAddress,
	"CITY":             TypeAddress,
	"ADDRESS":          TypeAddress,
	"ORGANIZATION":     TypeOrganization,
	"ORG":              TypeOrganization,
	"DATEOFBIRTH":      TypeDateOfBirth,
	"DATE":             TypeDate,
	"ZIPCODE":          TypePostalCode,
	"IDCARDNUM":        TypeIDNumber,
	"PASSPORTNUM":      TypePassport,
}

// NERDetector runs an ONNX token-classification model locally. Tokens are
// decoded with BIO labels; consecutive B-/I- tokens of the same base label
// are grouped into one span with averaged confidence.
//
// The session and its input/output tensors are a single shared set, so
// inference runs serialize on mu. Close takes the same lock, which keeps a
// model swap from destroying the session under an in-flight Detect.
type NERDetector struct {
	mu           sync.Mutex
	closed       bool
	tokenizer    *tokenizers.Tokenizer
	session      *onnxruntime.AdvancedSession
	inputTensor  *onnxruntime.Tensor[int64]
	maskTensor   *onnxruntime.Tensor[int64]
	outputTensor *onnxruntime.Tensor[float32]
	id2label     map[string]string
	numLabels    int
	modelPath    string
}

// safeUintToInt safely converts a uint to int with bounds checking
// Returns maxInt if the value would overflow
func safeUintToInt(val uint) int {
	const maxInt = int(^uint(0) >> 1)
	if val <= uint(maxInt) {
		// #nosec G115 - Safe conversion with bounds checking
		return int(val)
	}
	return maxInt
}

// NewNERDetector creates a detector from a model file, a tokenizer file and a
// label-mapping JSON file ({"id2label": {"0": "O", ...}}).
func NewNERDetector(modelPath, tokenizerPath, labelMapPath string) (*NERDetector, error) {
	if libPath := os.Getenv("ONNXRUNTIME_SHARED_LIBRARY_PATH"); libPath != "" {
		onnxruntime.SetSharedLibraryPath(libPath)
	}

	if !onnxruntime.IsInitialized() {
		if err := onnxruntime.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("failed to initialize ONNX Runtime environment: %w", err)
		}
	}

	tk, err := tokenizers.FromFile(tokenizerPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load tokenizer: %w", err)
	}

	labelData, err := os.ReadFile(labelMapPath) // #nosec G304 - path comes from validated model directory
	if err != nil {
		if closeErr := tk.Close(); closeErr != nil {
			fmt.Printf("Warning: failed to close tokenizer during cleanup: %v\n", closeErr)
		}
		return nil, fmt.Errorf("failed to read label mapping: %w", err)
	}

	var labelConfig struct {
		ID2Label map[string]string `json:"id2label"`
	}
	if err := json.Unmarshal(labelData, &labelConfig); err != nil {
		if closeErr := tk.Close(); closeErr != nil {
			fmt.Printf("Warning: failed to close tokenizer during cleanup: %v\n", closeErr)
		}
		return nil, fmt.Errorf("failed to parse label mapping: %w", err)
	}

	numLabels := 0
	for idStr := range labelConfig.ID2Label {
		if idStr == "-100" {
			continue
		}
		var id int
		if _, err := fmt.Sscanf(idStr, "%d", &id); err == nil && id >= numLabels {
			numLabels = id + 1
		}
	}
	if numLabels == 0 {
		numLabels = len(labelConfig.ID2Label)
	}

	return &NERDetector{
		tokenizer: tk,
		id2label:  labelConfig.ID2Label,
		numLabels: numLabels,
		modelPath: modelPath,
	}, nil
}

// GetName returns the name of this detector.
func (d *NERDetector) GetName() string {
	return "ner_detector"
}

// Detect tokenizes the input, runs inference and decodes BIO-labeled tokens
// into spans.
func (d *NERDetector) Detect(ctx context.Context, input DetectorInput) (DetectorOutput, error) {
	// One inference at a time: the tokenizer, session and tensors are reused
	// across calls, and the output must be decoded before the next call
	// overwrites it.
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return DetectorOutput{}, fmt.Errorf("detector is closed")
	}

	if d.session == nil {
		if err := d.initializeSession(); err != nil {
			return DetectorOutput{}, fmt.Errorf("failed to initialize session: %w", err)
		}
	}

	encoding := d.tokenizer.EncodeWithOptions(input.Text, true, tokenizers.WithReturnOffsets())
	tokenIDs := encoding.IDs

	inputIDs := make([]int64, len(tokenIDs))
	attentionMask := make([]int64, len(tokenIDs))
	for i := range tokenIDs {
		inputIDs[i] = int64(tokenIDs[i])
		attentionMask[i] = 1
	}

	d.updateInputTensors(inputIDs, attentionMask)

	if err := d.session.Run(); err != nil {
		return DetectorOutput{}, fmt.Errorf("failed to run inference: %w", err)
	}

	spans := d.decodeOutput(input, tokenIDs, encoding.Offsets)
	return DetectorOutput{Text: input.Text, Spans: spans}, nil
}

// decodeOutput converts model logits into grouped entity spans.
func (d *NERDetector) decodeOutput(input DetectorInput, tokenIDs []uint32, offsets []tokenizers.Offset) []Span {
	outputData := d.outputTensor.GetData()
	spans := []Span{}

	numTokens := len(tokenIDs)
	if len(offsets) < numTokens {
		numTokens = len(offsets)
	}

	var current *Span
	var currentTokens []int

	for i := 0; i < numTokens; i++ {
		startIdx := i * d.numLabels
		endIdx := (i + 1) * d.numLabels
		if endIdx > len(outputData) {
			break
		}
		tokenLogits := outputData[startIdx:endIdx]

		maxLogit := float64(-math.MaxFloat64)
		bestClass := 0
		for j, logit := range tokenLogits {
			if float64(logit) > maxLogit {
				maxLogit = float64(logit)
				bestClass = j
			}
		}

		label, exists := d.id2label[fmt.Sprintf("%d", bestClass)]
		if !exists {
			label = "O"
		}

		// Softmax over the token's logits gives the per-token confidence.
		var sum float64
		for _, logit := range tokenLogits {
			sum += math.Exp(float64(logit))
		}
		confidence := math.Exp(maxLogit) / sum

		if confidence < 0.5 {
			label = "O"
		}

		isBeginning := strings.HasPrefix(label, "B-")
		isInside := strings.HasPrefix(label, "I-")
		baseLabel := strings.TrimPrefix(strings.TrimPrefix(label, "B-"), "I-")

		switch {
		case label != "O" && (isBeginning || current == nil):
			if current != nil {
				d.finalizeSpan(current, currentTokens, input.Text, offsets)
				spans = appendMapped(spans, *current)
			}
			current = &Span{
				Type:           PIIType(baseLabel), // raw label, mapped on finalize
				Language:       input.Language,
				Probability:    confidence,
				ConfidenceTier: TierFor(confidence),
				Sources:        []string{d.GetName()},
			}
			currentTokens = []int{i}
		case label != "O" && isInside && current != nil && string(current.Type) == baseLabel:
			currentTokens = append(currentTokens, i)
			current.Probability = (current.Probability + confidence) / 2
			current.ConfidenceTier = TierFor(current.Probability)
		default:
			if current != nil {
				d.finalizeSpan(current, currentTokens, input.Text, offsets)
				spans = appendMapped(spans, *current)
				current = nil
				currentTokens = nil
			}
		}
	}

	if current != nil {
		d.finalizeSpan(current, currentTokens, input.Text, offsets)
		spans = appendMapped(spans, *current)
	}

	return spans
}

// appendMapped resolves the raw model label into a PII type; spans with
// unmapped labels are dropped.
func appendMapped(spans []Span, span Span) []Span {
	mapped, ok := nerLabelToType[strings.ToUpper(string(span.Type))]
	if !ok {
		return spans
	}
	span.Type = mapped
	return append(spans, span)
}

// finalizeSpan extracts the actual text from the original string using token offsets
func (d *NERDetector) finalizeSpan(span *Span, tokenIndices []int, originalText string, offsets []tokenizers.Offset) {
	if len(tokenIndices) == 0 {
		return
	}

	startOffset := offsets[tokenIndices[0]]
	endOffset := offsets[tokenIndices[len(tokenIndices)-1]]

	span.Text = originalText[startOffset[0]:endOffset[1]]
	span.Start = safeUintToInt(startOffset[0])
	span.End = safeUintToInt(endOffset[1])
}

// initializeSession initializes the ONNX session and tensors
func (d *NERDetector) initializeSession() error {
	maxSeqLen := int64(512) // Based on config max_position_embeddings
	batchSize := int64(1)

	inputShape := onnxruntime.NewShape(batchSize, maxSeqLen)
	inputTensor, err := onnxruntime.NewTensor(inputShape, make([]int64, maxSeqLen))
	if err != nil {
		return fmt.Errorf("failed to create input tensor: %w", err)
	}

	maskTensor, err := onnxruntime.NewTensor(inputShape, make([]int64, maxSeqLen))
	if err != nil {
		if err := inputTensor.Destroy(); err != nil {
			fmt.Printf("Warning: failed to destroy input tensor during cleanup: %v\n", err)
		}
		return fmt.Errorf("failed to create mask tensor: %w", err)
	}

	outputShape := onnxruntime.NewShape(batchSize, maxSeqLen, int64(d.numLabels))
	outputTensor, err := onnxruntime.NewEmptyTensor[float32](outputShape)
	if err != nil {
		if err := inputTensor.Destroy(); err != nil {
			fmt.Printf("Warning: failed to destroy input tensor during cleanup: %v\n", err)
		}
		if err := maskTensor.Destroy(); err != nil {
			fmt.Printf("Warning: failed to destroy mask tensor during cleanup: %v\n", err)
		}
		return fmt.Errorf("failed to create output tensor: %w", err)
	}

	session, err := onnxruntime.NewAdvancedSession(d.modelPath,
		[]string{"input_ids", "attention_mask"},
		[]string{"logits"},
		[]onnxruntime.Value{inputTensor, maskTensor},
		[]onnxruntime.Value{outputTensor},
		nil)
	if err != nil {
		if err := inputTensor.Destroy(); err != nil {
			fmt.Printf("Warning: failed to destroy input tensor during cleanup: %v\n", err)
		}
		if err := maskTensor.Destroy(); err != nil {
			fmt.Printf("Warning: failed to destroy mask tensor during cleanup: %v\n", err)
		}
		if err := outputTensor.Destroy(); err != nil {
			fmt.Printf("Warning: failed to destroy output tensor during cleanup: %v\n", err)
		}
		return fmt.Errorf("failed to create session: %w", err)
	}

	d.session = session
	d.inputTensor = inputTensor
	d.maskTensor = maskTensor
	d.outputTensor = outputTensor

	return nil
}

// updateInputTensors updates the input tensors with new data
func (d *NERDetector) updateInputTensors(inputIDs, attentionMask []int64) {
	inputData := d.inputTensor.GetData()
	maskData := d.maskTensor.GetData()

	for i := range inputData {
		inputData[i] = 0
		maskData[i] = 0
	}

	copy(inputData, inputIDs)
	copy(maskData, attentionMask)
}

// Close implements the Detector interface. It waits for any in-flight
// inference before releasing the session and tensors.
func (d *NERDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}
	d.closed = true

	var errs []error

	if d.session != nil {
		if err := d.session.Destroy(); err != nil {
			errs = append(errs, fmt.Errorf("failed to destroy session: %w", err))
		}
	}
	if d.inputTensor != nil {
		if err := d.inputTensor.Destroy(); err != nil {
			errs = append(errs, fmt.Errorf("failed to destroy input tensor: %w", err))
		}
	}
	if d.maskTensor != nil {
		if err := d.maskTensor.Destroy(); err != nil {
			errs = append(errs, fmt.Errorf("failed to destroy mask tensor: %w", err))
		}
	}
	if d.outputTensor != nil {
		if err := d.outputTensor.Destroy(); err != nil {
			errs = append(errs, fmt.Errorf("failed to destroy output tensor: %w", err))
		}
	}
	if d.tokenizer != nil {
		if err := d.tokenizer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close tokenizer: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("cleanup errors: %v", errs)
	}
	return nil
}
