package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Source menandai asal entri audit dari layanan ini.
const Source = "procurement-backend"

// Aksi audit yang dikirim oleh layanan procurement.
const (
	ActionCreate            = "create"
	ActionUpdate            = "update"
	ActionDelete            = "delete"
	ActionStatusChange      = "status_change"
	ActionIntegrationFailed = "integration_failed"
)

// Changes menyimpan snapshot sebelum dan sesudah perubahan.
type Changes struct {
	Before any `json:"before,omitempty"`
	After  any `json:"after,omitempty"`
}

// Entry adalah payload yang diterima layanan audit eksternal.
type Entry struct {
	UserID     *int64         `json:"userId"`
	Action     string         `json:"action"`
	EntityType string         `json:"entityType"`
	EntityID   *int64         `json:"entityId"`
	Changes    Changes        `json:"changes"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Config mengatur tujuan pengiriman audit.
type Config struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Emitter mengirim entri audit secara best-effort; kegagalan hanya dicatat di log.
type Emitter struct {
	url     string
	apiKey  string
	timeout time.Duration
	client  *http.Client
	logger  *slog.Logger
}

// NewEmitter membuat emitter baru. BaseURL kosong berarti entri hanya dicatat di log.
func NewEmitter(cfg Config, logger *slog.Logger) *Emitter {
	if logger == nil {
		logger = slog.Default()
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	url := ""
	if base := strings.TrimRight(cfg.BaseURL, "/"); base != "" {
		url = base + "/audit-logs"
	}
	return &Emitter{url: url, apiKey: cfg.APIKey, timeout: timeout, client: client, logger: logger}
}

// ID membungkus id entitas menjadi pointer untuk Entry.EntityID.
func ID(id int64) *int64 {
	return &id
}

// Emit mengirim satu entri audit. Tidak pernah mengembalikan error dan tidak melakukan retry.
func (e *Emitter) Emit(ctx context.Context, entry Entry) {
	if e == nil {
		return
	}
	logger := e.logger.With(slog.String("action", entry.Action), slog.String("entity_type", entry.EntityType))
	if e.url == "" {
		logger.Info("audit emitter disabled, entry not sent")
		return
	}
	if err := e.post(ctx, entry); err != nil {
		logger.Warn("audit emit failed", slog.Any("error", err))
	}
}

func (e *Emitter) post(ctx context.Context, entry Entry) error {
	body, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("audit: encode entry: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", e.apiKey)

	resp, err := e.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("audit service returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	return nil
}
