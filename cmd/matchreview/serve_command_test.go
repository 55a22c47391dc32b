package main

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"matchreview/internal/control"
	"matchreview/internal/gateway"
	"matchreview/internal/session"
)

func TestOpenURLHandsLinkToServer(t *testing.T) {
	env := setupCLITestEnv(t)

	client, err := gateway.New(env.backend.URL())
	if err != nil {
		t.Fatalf("gateway.New: %v", err)
	}
	sess := session.New(client)
	srv, err := control.NewServer(sess, filepath.Join(t.TempDir(), "matchreview.lock"), nil)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	if err := srv.Start(context.Background(), "127.0.0.1:0"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Stop(ctx)
	})

	out := env.run(t, "open-url", "matchreview://open?root=/data/linked", "--addr", srv.Addr())
	requireContains(t, out, "Opened /data/linked (2 segments)")
	if state := sess.Snapshot(); state.Project.Root != "/data/linked" {
		t.Fatalf("server session did not open the link: %+v", state.Project)
	}

	if _, _, err := runCLI(t, []string{"open-url", "ftp://nope", "--addr", srv.Addr()}, env.configPath); err == nil {
		t.Fatal("expected invalid link to be rejected before contacting the server")
	}
}

func TestDoctorReportsReadiness(t *testing.T) {
	env := setupCLITestEnv(t)

	out := env.run(t, "doctor")
	requireContains(t, out, "Readiness")
	requireContains(t, out, "Backend:")
	requireContains(t, out, "[OK]")
	requireContains(t, out, "State directory:")
}
