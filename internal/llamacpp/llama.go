//go:build llama

package llamacpp

import (
	"errors"

	llama "github.com/go-skynet/go-llama.cpp"
)

// Built reports whether this binary links llama.cpp.
const Built = true

type llamaRuntime struct {
	model *llama.LLama
	opts  runtimeOptions
}

func openRuntime(modelPath string, o runtimeOptions) (runtime, error) {
	mo := []llama.ModelOption{llama.SetContext(o.contextSize)}
	if o.gpuLayers > 0 {
		mo = append(mo, llama.SetGPULayers(o.gpuLayers))
	}
	m, err := llama.New(modelPath, mo...)
	if err != nil {
		return nil, err
	}
	return &llamaRuntime{model: m, opts: o}, nil
}

func (r *llamaRuntime) predict(prompt string, temperature float32, onToken func(string) bool) error {
	if r.model == nil {
		return errors.New("llama model not initialized")
	}
	r.model.SetTokenCallback(onToken)
	defer r.model.SetTokenCallback(nil)
	po := []llama.PredictOption{
		llama.SetTokens(max(1, r.opts.maxTokens)),
		llama.SetThreads(max(1, r.opts.threads)),
		llama.SetTemperature(temperature),
	}
	_, err := r.model.Predict(prompt, po...)
	return err
}

func (r *llamaRuntime) free() {
	if r.model != nil {
		r.model.Free()
		r.model = nil
	}
}
