package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/balaji119/local-mail-forwarder-graph/internal/config"
	"github.com/balaji119/local-mail-forwarder-graph/internal/testutils"
)

func TestSmoke_Startup(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping smoke test in short mode")
	}

	suite := testutils.NewIntegrationSuite(t)
	suite.Setup()
	defer suite.Teardown()

	host, port := suite.HostPort()
	dir := t.TempDir()

	_, b, _, _ := runtime.Caller(0)
	basepath := filepath.Dir(b)

	cfg := &config.Config{
		DBHost:                     host,
		DBPort:                     port,
		DBUser:                     "test",
		DBPass:                     "test",
		DBName:                     "forwarder_test",
		MigrationPath:              fmt.Sprintf("file://%s/migrations", basepath),
		PollIntervalSeconds:        30,
		ClaimBatchSize:             10,
		DeliveryWebhookURL:         "http://localhost:9/never-called",
		WebhookTimeoutSeconds:      5,
		BackoffBaseSeconds:         60,
		BackoffMaxSeconds:          3600,
		EnableSMTP:                 true,
		SMTPListenAddr:             "127.0.0.1:12525",
		SMTPDomain:                 "localhost",
		AttachmentDir:              filepath.Join(dir, "attachments"),
		MappingsFilePath:           filepath.Join(dir, "stock.json"),
		OperationsFilePath:         filepath.Join(dir, "operations.json"),
		AdapterTimeoutSeconds:      5,
		ServerPort:                 18082,
		BootstrapRetryAttempts:     3,
		BootstrapRetryDelaySeconds: 1,
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		err := run(ctx, cfg, logger)
		if err != nil && err != context.Canceled {
			t.Logf("app run exited: %v", err)
		}
	}()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://localhost:18082/health")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 10*time.Second, 500*time.Millisecond)
}
