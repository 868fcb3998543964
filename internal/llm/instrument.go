package llm

import "context"

// CallObserver receives the outcome of every completion call.
type CallObserver interface {
	ObserveLLMCall(provider, status string)
}

type instrumentedClient struct {
	provider string
	inner    Client
	obs      CallObserver
}

// Instrument wraps a client so each Complete call reports its outcome to
// obs under the given provider name.
func Instrument(provider string, c Client, obs CallObserver) Client {
	if c == nil || obs == nil {
		return c
	}
	return &instrumentedClient{provider: provider, inner: c, obs: obs}
}

func (ic *instrumentedClient) Complete(ctx context.Context, req Request) (Response, error) {
	resp, err := ic.inner.Complete(ctx, req)
	status := "ok"
	if err != nil {
		status = "error"
	}
	ic.obs.ObserveLLMCall(ic.provider, status)
	return resp, err
}
