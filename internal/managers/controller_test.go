package managers

import (
	"context"
	"io"
	"net/http"
	"sync"
	"testing"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/arpa-simc/provami/internal/grpcutil"
	"github.com/arpa-simc/provami/internal/session"
	"github.com/arpa-simc/provami/internal/webapi"
	"github.com/arpa-simc/provami/pkg/config"
)

func TestSharedListener(t *testing.T) {
	s, err := session.Open(":memory:", session.Config{Logger: zap.NewNop().Sugar()})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	sc := config.ServerData{ListenAddr: "127.0.0.1", Port: 0, NoAuth: true, GRPCEnabled: true}
	cm, err := NewControllerManager(ctx, &wg, sc, webapi.New(s, nil, nil), nil, zap.NewNop().Sugar())
	if err != nil {
		t.Fatalf("NewControllerManager() error = %v", err)
	}
	l, err := cm.Listen()
	if err != nil {
		t.Fatal(err)
	}
	if err := cm.StartControllers(l); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		cancel()
		wg.Wait()
		s.Close()
	})
	addr := l.Addr().String()

	resp, err := http.Get("http://" + addr + "/api/1.0/ping")
	if err != nil {
		t.Fatalf("HTTP request error = %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("HTTP status = %d: %s", resp.StatusCode, body)
	}

	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	res, err := grpcutil.NewExplorerClient(conn).Call(ctx, "ping", nil)
	if err != nil {
		t.Fatalf("gRPC call error = %v", err)
	}
	if !res.GetFields()["pong"].GetBoolValue() {
		t.Errorf("response = %v", res)
	}
}

func TestRESTOnly(t *testing.T) {
	s, err := session.Open(":memory:", session.Config{})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	cm, err := NewControllerManager(context.Background(), &sync.WaitGroup{}, config.ServerData{ListenAddr: "127.0.0.1"}, webapi.New(s, nil, nil), nil, zap.NewNop().Sugar())
	if err != nil {
		t.Fatal(err)
	}
	if cm.GRPC != nil {
		t.Error("gRPC controller created while disabled")
	}
	if cm.REST.StartURL() == "" {
		t.Error("empty start URL")
	}
}
