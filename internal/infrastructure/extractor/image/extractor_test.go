package image

import (
	"context"
	"errors"
	"testing"
)

type transcriberFake struct {
	text     string
	err      error
	mimeType string
}

func (f *transcriberFake) TranscribeImage(_ context.Context, _ []byte, mimeType string) (string, error) {
	f.mimeType = mimeType
	return f.text, f.err
}

func TestExtractDelegatesToTranscriber(t *testing.T) {
	fake := &transcriberFake{text: "\n HbA1c 6.8% \n"}
	got, err := NewExtractor(fake).Extract(context.Background(), []byte{1, 2, 3}, "image/png")
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if got != "HbA1c 6.8%" || fake.mimeType != "image/png" {
		t.Fatalf("unexpected result %q (mime %q)", got, fake.mimeType)
	}
}

func TestExtractWrapsTranscriberError(t *testing.T) {
	down := errors.New("vision model unavailable")
	_, err := NewExtractor(&transcriberFake{err: down}).Extract(context.Background(), nil, "image/jpeg")
	if !errors.Is(err, down) {
		t.Fatalf("expected wrapped transcriber error, got %v", err)
	}
}
