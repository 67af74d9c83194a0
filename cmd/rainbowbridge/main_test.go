package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	comms "github.com/nats-io/nats.go"

	"github.com/morezero/rainbow-bridge/internal/config"
	"github.com/morezero/rainbow-bridge/pkg/cache"
	"github.com/morezero/rainbow-bridge/pkg/commsutil"
	"github.com/morezero/rainbow-bridge/pkg/registry"
)

const mainTestPrefix = "cmd/rainbowbridge:main_test"

func TestRootCmd_Subcommands(t *testing.T) {
	root := newRootCmd()
	want := []string{"serve", "capabilities", "send", "migrate", "clear", "ensure-db", "version"}
	for _, name := range want {
		cmd, _, err := root.Find([]string{name})
		if err != nil || cmd == root {
			t.Errorf("%s - missing subcommand %q", mainTestPrefix, name)
		}
	}
}

func TestRootCmd_HelpListsEveryEnvVar(t *testing.T) {
	root := newRootCmd()
	typ := reflect.TypeOf(config.Config{})
	for i := 0; i < typ.NumField(); i++ {
		name := typ.Field(i).Tag.Get("envconfig")
		if name == "" {
			continue
		}
		if !strings.Contains(root.Long, name) {
			t.Errorf("%s - root help should mention %s", mainTestPrefix, name)
		}
	}
	if strings.Contains(root.Long, "README") {
		t.Errorf("%s - root help points at a README that does not exist", mainTestPrefix)
	}
}

func TestVersionCmd(t *testing.T) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})
	if err := root.Execute(); err != nil {
		t.Fatalf("%s - version: %v", mainTestPrefix, err)
	}
	if strings.TrimSpace(out.String()) != "1.0.0" {
		t.Errorf("%s - version = %q, want 1.0.0", mainTestPrefix, out.String())
	}
}

func TestPrintCapabilities_Manifest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridge.yaml")
	data := []byte(`name: kiosk
capabilities:
  scanMetadata:
    enabled: false
  playVibration:
    description: Buzz the device
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("%s - write manifest: %v", mainTestPrefix, err)
	}

	var out bytes.Buffer
	if err := printCapabilities(&out, path); err != nil {
		t.Fatalf("%s - printCapabilities: %v", mainTestPrefix, err)
	}
	var caps []registry.Description
	if err := json.Unmarshal(out.Bytes(), &caps); err != nil {
		t.Fatalf("%s - decode: %v", mainTestPrefix, err)
	}
	if len(caps) != 7 {
		t.Fatalf("%s - got %d capabilities, want 7", mainTestPrefix, len(caps))
	}
	for _, c := range caps {
		if c.Name == "scanMetadata" {
			t.Errorf("%s - scanMetadata should be disabled", mainTestPrefix)
		}
		if c.Name == "playVibration" && c.Description != "Buzz the device" {
			t.Errorf("%s - playVibration description = %q", mainTestPrefix, c.Description)
		}
	}
}

func TestPrintCapabilities_MissingManifest(t *testing.T) {
	var out bytes.Buffer
	if err := printCapabilities(&out, filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Errorf("%s - expected error for missing explicit manifest", mainTestPrefix)
	}
}

func TestMigrateAndClear_SQLite(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "index.db")
	cfg := &config.Config{CacheIndexURL: "sqlite:" + path}

	ok, err := migrationStatus(ctx, cfg)
	if err != nil || ok {
		t.Fatalf("%s - status before migrate = %v, %v; want pending", mainTestPrefix, ok, err)
	}
	if err := migrateUp(ctx, cfg); err != nil {
		t.Fatalf("%s - migrateUp: %v", mainTestPrefix, err)
	}
	ok, err = migrationStatus(ctx, cfg)
	if err != nil || !ok {
		t.Fatalf("%s - status after migrate = %v, %v; want applied", mainTestPrefix, ok, err)
	}

	idx, err := cache.OpenSQLiteIndex(ctx, path)
	if err != nil {
		t.Fatalf("%s - open index: %v", mainTestPrefix, err)
	}
	idx.Record(ctx, cache.Entry{Path: "a.txt", URL: "https://example.com/a.txt", Size: 1, CachedAt: time.Now().UTC()})
	idx.Close()

	if err := clearIndex(ctx, cfg); err != nil {
		t.Fatalf("%s - clearIndex: %v", mainTestPrefix, err)
	}
	idx, err = cache.OpenSQLiteIndex(ctx, path)
	if err != nil {
		t.Fatalf("%s - reopen index: %v", mainTestPrefix, err)
	}
	defer idx.Close()
	entries, _ := idx.List(ctx)
	if len(entries) != 0 {
		t.Errorf("%s - entries after clear = %d, want 0", mainTestPrefix, len(entries))
	}
}

func TestSendMessage(t *testing.T) {
	ns, err := commsutil.StartEmbedded("127.0.0.1", 14296)
	if err != nil {
		t.Fatalf("%s - start embedded: %v", mainTestPrefix, err)
	}
	defer ns.Shutdown()

	// Stand-in bridge: answers every page message with two scripts.
	bridgeConn, err := commsutil.Connect(ns.ClientURL(), "bridge")
	if err != nil {
		t.Fatalf("%s - connect bridge: %v", mainTestPrefix, err)
	}
	defer bridgeConn.Close()
	bridgeConn.Subscribe(commsutil.BuildMessagesSubject("main"), func(msg *comms.Msg) {
		bridgeConn.Publish(commsutil.BuildEvalSubject("main"), []byte("first();"))
		bridgeConn.Publish(commsutil.BuildEvalSubject("main"), []byte("second();"))
	})
	bridgeConn.Flush()

	cli, err := commsutil.Connect(ns.ClientURL(), "cli")
	if err != nil {
		t.Fatalf("%s - connect cli: %v", mainTestPrefix, err)
	}
	defer cli.Close()

	var out bytes.Buffer
	if err := sendMessage(&out, cli, "main", `{"wrappedApiName":"playVibration","callbackId":"1"}`, 2, 3*time.Second); err != nil {
		t.Fatalf("%s - sendMessage: %v", mainTestPrefix, err)
	}
	if out.String() != "first();\nsecond();\n" {
		t.Errorf("%s - output = %q", mainTestPrefix, out.String())
	}

	out.Reset()
	if err := sendMessage(&out, cli, "other", `{}`, 1, 100*time.Millisecond); err == nil {
		t.Errorf("%s - expected timeout error with no bridge on surface", mainTestPrefix)
	}
}
