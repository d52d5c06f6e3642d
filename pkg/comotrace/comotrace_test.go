package comotrace

import (
	"context"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestNewDisabledReturnsUsableNoopTracer(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	p, err := New(Config{Enabled: false}, "capture", logger.WithField("test", true))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, span := p.StartCaptureTick(context.Background())
	if ctx == nil || span == nil {
		t.Fatal("expected a usable context/span even when tracing is disabled")
	}
	EndWithError(span, errors.New("boom"))

	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown on a disabled provider should be a no-op, got %v", err)
	}
}

func TestNewRejectsUnknownExporter(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	_, err := New(Config{Enabled: true, Exporter: "carrier-pigeon"}, "export", logger.WithField("test", true))
	if err == nil {
		t.Fatal("expected an error for an unsupported exporter")
	}
}
