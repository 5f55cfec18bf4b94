package provider

import (
	"context"
	"errors"
	"testing"
)

type fakeEmbedder struct {
	pingErr error
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

func (f *fakeEmbedder) Ping(context.Context) error { return f.pingErr }

type fakeLLM struct{}

func (f *fakeLLM) Generate(context.Context, []Message) (string, error) {
	return "answer", nil
}

func (f *fakeLLM) GenerateStream(_ context.Context, _ []Message, fn StreamFunc) (string, error) {
	if err := fn("answer"); err != nil {
		return "", err
	}
	return "answer", nil
}

func (f *fakeLLM) Ping(context.Context) error { return nil }

func TestRegistry_Lookup(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	r.RegisterEmbedding("fake", &fakeEmbedder{})
	r.RegisterLLM("fake", &fakeLLM{})

	if _, err := r.Embedding("fake"); err != nil {
		t.Errorf("Embedding(fake) = %v", err)
	}
	if _, err := r.LLM("fake"); err != nil {
		t.Errorf("LLM(fake) = %v", err)
	}

	if _, err := r.Embedding("missing"); !errors.Is(err, ErrUnknownProvider) {
		t.Errorf("Embedding(missing) = %v, want ErrUnknownProvider", err)
	}
	if _, err := r.LLM("missing"); !errors.Is(err, ErrUnknownProvider) {
		t.Errorf("LLM(missing) = %v, want ErrUnknownProvider", err)
	}
}

func TestRegistry_DuplicatePanics(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	r.RegisterEmbedding("fake", &fakeEmbedder{})

	defer func() {
		if recover() == nil {
			t.Error("expected panic on duplicate registration")
		}
	}()
	r.RegisterEmbedding("fake", &fakeEmbedder{})
}

func TestRegistry_PingAll(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	r.RegisterEmbedding("ok", &fakeEmbedder{})
	r.RegisterLLM("ok", &fakeLLM{})

	if err := r.PingAll(context.Background()); err != nil {
		t.Errorf("PingAll() = %v, want nil", err)
	}

	down := NewRegistry()
	down.RegisterEmbedding("down", &fakeEmbedder{pingErr: errors.New("unreachable")})
	if err := down.PingAll(context.Background()); err == nil {
		t.Error("PingAll() = nil, want error for unreachable provider")
	}
}

func TestRegistry_Names(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	r.RegisterEmbedding("b", &fakeEmbedder{})
	r.RegisterEmbedding("a", &fakeEmbedder{})
	r.RegisterLLM("z", &fakeLLM{})

	emb, llms := r.Names()
	if len(emb) != 2 || emb[0] != "a" || emb[1] != "b" {
		t.Errorf("embedding names = %v, want [a b]", emb)
	}
	if len(llms) != 1 || llms[0] != "z" {
		t.Errorf("llm names = %v, want [z]", llms)
	}
}

func TestError_Unwrap(t *testing.T) {
	t.Parallel()

	cause := errors.New("connection refused")
	err := &Error{Provider: "ollama", Op: "embed", Err: cause}

	if !errors.Is(err, cause) {
		t.Error("errors.Is should reach the wrapped cause")
	}
	want := "provider ollama: embed: connection refused"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}
