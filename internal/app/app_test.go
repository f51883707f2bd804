package app

import (
	"context"
	"errors"
	"testing"

	"github.com/raglet/raglet/internal/config"
	"github.com/raglet/raglet/internal/log"
)

func TestSetupNilConfig(t *testing.T) {
	t.Parallel()

	_, err := Setup(context.Background(), nil, log.NewNop())
	if !errors.Is(err, config.ErrConfigNil) {
		t.Errorf("Setup(nil config) error = %v, want ErrConfigNil", err)
	}
}

func TestCloseWithPartialInit(t *testing.T) {
	t.Parallel()

	// Close must tolerate an App that never got past the first provider.
	a := &App{Logger: log.NewNop()}
	if err := a.Close(); err != nil {
		t.Errorf("Close() = %v, want nil", err)
	}
}
