package app

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/arpa-simc/provami/pkg/config"
)

type staticProvider struct {
	cfg *config.ConfigData
	err error
}

func (p staticProvider) LoadConfig() (*config.ConfigData, error) { return p.cfg, p.err }
func (p staticProvider) Source() string                          { return "static" }
func (p staticProvider) Close() error                            { return nil }

func TestRunServesUntilCancelled(t *testing.T) {
	cfg := &config.ConfigData{
		DBURL: ":memory:",
		Server: config.ServerData{
			ListenAddr:  "127.0.0.1",
			NoAuth:      true,
			GRPCEnabled: true,
			Metrics:     true,
		},
	}
	a := New(staticProvider{cfg: cfg}, zap.NewNop().Sugar())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	select {
	case <-a.Started():
	case err := <-done:
		t.Fatalf("Run() returned early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not start")
	}

	resp, err := http.Get("http://" + a.Addr() + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), "go_goroutines") {
		t.Errorf("metrics output lacks runtime collectors:\n%.200s", body)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}

func TestRunConfigError(t *testing.T) {
	want := errors.New("no config")
	a := New(staticProvider{err: want}, nil)
	if err := a.Run(context.Background()); !errors.Is(err, want) {
		t.Errorf("Run() error = %v, want %v", err, want)
	}
}
