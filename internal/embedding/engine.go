package embedding

import (
	"fmt"
	"math"
	"sync"
	"unicode/utf8"

	"github.com/daulet/tokenizers"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/diachron/diachron/internal/types"
)

const (
	maxInputBytes = 2000
	maxSeqLen     = 512
)

// Engine is a resident embedding model: one tokenizer and one loaded ONNX
// graph shared across all Embed calls. Construction is expensive (model
// load); a single Engine should live for the daemon's lifetime.
type Engine struct {
	mu        sync.Mutex
	tokenizer *tokenizers.Tokenizer
	session   *ort.AdvancedSession
	input     *ort.Tensor[int64]
	mask      *ort.Tensor[int64]
	typeIDs   *ort.Tensor[int64]
	output    *ort.Tensor[float32]
}

// New loads the resident model and tokenizer from dir (as populated by
// EnsureModel). The caller must call Close when done.
func New(dir string) (*Engine, error) {
	tok, err := tokenizers.FromFile(dir + "/" + tokenizerFile)
	if err != nil {
		return nil, fmt.Errorf("embedding: load tokenizer: %w", err)
	}

	if err := ort.InitializeEnvironment(); err != nil {
		tok.Close()
		return nil, fmt.Errorf("embedding: init onnxruntime: %w", err)
	}

	shape := ort.NewShape(1, maxSeqLen)
	inputTensor, err := ort.NewEmptyTensor[int64](shape)
	if err != nil {
		tok.Close()
		return nil, fmt.Errorf("embedding: alloc input tensor: %w", err)
	}
	maskTensor, err := ort.NewEmptyTensor[int64](shape)
	if err != nil {
		tok.Close()
		inputTensor.Destroy()
		return nil, fmt.Errorf("embedding: alloc mask tensor: %w", err)
	}
	typeTensor, err := ort.NewEmptyTensor[int64](shape)
	if err != nil {
		tok.Close()
		inputTensor.Destroy()
		maskTensor.Destroy()
		return nil, fmt.Errorf("embedding: alloc type-id tensor: %w", err)
	}
	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, maxSeqLen, int64(types.EmbeddingDim)))
	if err != nil {
		tok.Close()
		inputTensor.Destroy()
		maskTensor.Destroy()
		typeTensor.Destroy()
		return nil, fmt.Errorf("embedding: alloc output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(dir+"/"+modelFileName,
		[]string{"input_ids", "attention_mask", "token_type_ids"},
		[]string{"last_hidden_state"},
		[]ort.ArbitraryTensor{inputTensor, maskTensor, typeTensor},
		[]ort.ArbitraryTensor{outputTensor},
		nil,
	)
	if err != nil {
		tok.Close()
		inputTensor.Destroy()
		maskTensor.Destroy()
		typeTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("embedding: load onnx session: %w", err)
	}

	return &Engine{
		tokenizer: tok,
		session:   session,
		input:     inputTensor,
		mask:      maskTensor,
		typeIDs:   typeTensor,
		output:    outputTensor,
	}, nil
}

// Close releases the tokenizer and ONNX session. Safe to call once.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tokenizer.Close()
	e.session.Destroy()
	e.input.Destroy()
	e.mask.Destroy()
	e.typeIDs.Destroy()
	e.output.Destroy()
	return nil
}

// Embed runs the full pipeline on a single text: truncate, tokenize, one
// forward pass, mean-pool over unmasked positions, L2-normalize.
func (e *Engine) Embed(text string) ([]float32, error) {
	vecs, err := e.EmbedBatch([]string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds each text independently (one forward pass per text —
// the resident session's fixed-shape input buffer is reused sequentially,
// so batching here is for API convenience, not throughput).
func (e *Engine) EmbedBatch(texts []string) ([][]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := e.embedOneLocked(truncate(text, maxInputBytes))
		if err != nil {
			return nil, fmt.Errorf("embedding: embed text %d: %w", i, err)
		}
		out[i] = vec
	}
	return out, nil
}

func (e *Engine) embedOneLocked(text string) ([]float32, error) {
	enc := e.tokenizer.EncodeWithOptions(text, true,
		tokenizers.WithReturnAttentionMask(),
		tokenizers.WithReturnTypeIDs(),
	)

	ids := enc.IDs
	if len(ids) > maxSeqLen {
		ids = ids[:maxSeqLen]
	}
	seqLen := len(ids)

	inputData := e.input.GetData()
	maskData := e.mask.GetData()
	typeData := e.typeIDs.GetData()
	for i := range inputData {
		inputData[i], maskData[i], typeData[i] = 0, 0, 0
	}
	for i := 0; i < seqLen; i++ {
		inputData[i] = int64(ids[i])
		typeData[i] = 0
		if i < len(enc.AttentionMask) {
			maskData[i] = int64(enc.AttentionMask[i])
		} else {
			maskData[i] = 1
		}
	}

	if err := e.session.Run(); err != nil {
		return nil, fmt.Errorf("forward pass: %w", err)
	}

	hidden := e.output.GetData()
	return meanPoolAndNormalize(hidden, maskData, seqLen, types.EmbeddingDim), nil
}

// meanPoolAndNormalize averages the hidden states over positions where the
// attention mask is 1, then L2-normalizes the resulting vector.
func meanPoolAndNormalize(hidden []float32, mask []int64, seqLen, dim int) []float32 {
	sum := make([]float32, dim)
	var count float32
	for pos := 0; pos < seqLen; pos++ {
		if mask[pos] == 0 {
			continue
		}
		count++
		base := pos * dim
		for d := 0; d < dim; d++ {
			sum[d] += hidden[base+d]
		}
	}
	if count == 0 {
		// No unmasked positions: use the first position's raw hidden state
		// so the result can still be normalized.
		if len(hidden) >= dim {
			copy(sum, hidden[:dim])
		}
		count = 1
	}
	for d := range sum {
		sum[d] /= count
	}

	var norm float64
	for _, v := range sum {
		norm += float64(v) * float64(v)
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		return sum
	}
	for d := range sum {
		sum[d] = float32(float64(sum[d]) / norm)
	}
	return sum
}

// truncate cuts s to at most n bytes, backing off to the nearest preceding
// rune boundary so multi-byte UTF-8 sequences are never split.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
