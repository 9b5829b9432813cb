// Package auth manages the short-lived credential the orchestrator
// presents to the container registry on push, refreshing it in the
// background and persisting it to encrypted local storage so a restart
// doesn't force an immediate re-issue.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"forge/internal/logging"
	"forge/internal/storage"

	"github.com/sirupsen/logrus"
)

// RegistryCredentialManager holds the registry push credential current
// builds authenticate with, refreshing it ahead of expiry via Issuer.
type RegistryCredentialManager struct {
	store       *storage.SecureStore
	auditLogger *logging.AuditLogger
	issuer      Issuer

	mu      sync.RWMutex
	current *RegistryCredential

	refreshChan chan struct{}
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

// RegistryCredential is one issued registry auth value.
type RegistryCredential struct {
	Value     string    `json:"value"`
	ExpiresAt time.Time `json:"expires_at"`
	IssuedAt  time.Time `json:"issued_at"`
	ID        string    `json:"token_id"`
}

// Issuer mints a new registry credential; implementations talk to
// whatever the registry's auth endpoint expects (static secret, OIDC
// exchange, cloud SDK-issued token, ...). It is an external collaborator.
type Issuer interface {
	Issue(ctx context.Context) (value string, expiresAt time.Time, err error)
}

// StaticIssuer reissues the same fixed secret forever; used when the
// registry (e.g. a self-hosted one) has no token expiry of its own.
type StaticIssuer struct {
	Secret string
	TTL    time.Duration
}

func (s StaticIssuer) Issue(context.Context) (string, time.Time, error) {
	return s.Secret, time.Now().Add(s.TTL), nil
}

// NewRegistryCredentialManager wires a manager from its collaborators.
func NewRegistryCredentialManager(store *storage.SecureStore, auditLogger *logging.AuditLogger, issuer Issuer) *RegistryCredentialManager {
	ctx, cancel := context.WithCancel(context.Background())
	return &RegistryCredentialManager{
		store:       store,
		auditLogger: auditLogger,
		issuer:      issuer,
		refreshChan: make(chan struct{}, 1),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start loads any persisted credential and begins the background refresh
// loop; a missing or expired credential on disk triggers an immediate issue.
func (m *RegistryCredentialManager) Start(ctx context.Context) error {
	if err := m.load(); err != nil {
		logrus.Warnf("registry credential: no usable persisted credential: %v", err)
	}
	if m.current == nil || m.isExpired(m.current) {
		if _, err := m.issue(ctx); err != nil {
			return fmt.Errorf("registry credential: initial issue: %w", err)
		}
	}

	m.wg.Add(1)
	go m.refreshWorker()
	m.auditLogger.LogSecurityEvent("REGISTRY_CREDENTIAL_MANAGER_STARTED", true, map[string]interface{}{})
	return nil
}

// Stop halts the refresh loop.
func (m *RegistryCredentialManager) Stop() {
	m.cancel()
	m.wg.Wait()
}

// Credential returns the current registry auth value, reissuing
// synchronously if the cached one has already expired.
func (m *RegistryCredentialManager) Credential(ctx context.Context) (string, error) {
	m.mu.RLock()
	cur := m.current
	m.mu.RUnlock()

	if cur != nil && !m.isExpired(cur) {
		return cur.Value, nil
	}
	return m.issue(ctx)
}

// RequestRefresh asks the background worker to reissue ahead of schedule;
// it is a no-op if a refresh is already pending.
func (m *RegistryCredentialManager) RequestRefresh() {
	select {
	case m.refreshChan <- struct{}{}:
	default:
	}
}

func (m *RegistryCredentialManager) issue(ctx context.Context) (string, error) {
	value, expiresAt, err := m.issuer.Issue(ctx)
	if err != nil {
		m.auditLogger.LogSecurityEvent("REGISTRY_CREDENTIAL_ISSUE_FAILED", false, map[string]interface{}{"error": err.Error()})
		return "", fmt.Errorf("registry credential: issue: %w", err)
	}

	id, err := generateCredentialID()
	if err != nil {
		return "", fmt.Errorf("registry credential: generate id: %w", err)
	}
	cred := &RegistryCredential{Value: value, ExpiresAt: expiresAt, IssuedAt: time.Now(), ID: id}

	if err := m.persist(cred); err != nil {
		logrus.Warnf("registry credential: persist failed, continuing in-memory: %v", err)
	}

	m.mu.Lock()
	m.current = cred
	m.mu.Unlock()

	m.auditLogger.LogSecurityEvent("REGISTRY_CREDENTIAL_ISSUED", true, map[string]interface{}{
		"credential_id": id,
		"expires_at":    expiresAt,
	})
	return value, nil
}

func (m *RegistryCredentialManager) persist(cred *RegistryCredential) error {
	return m.store.StoreToken(map[string]interface{}{
		"value":      cred.Value,
		"expires_at": cred.ExpiresAt.Format(time.RFC3339),
		"issued_at":  cred.IssuedAt.Format(time.RFC3339),
		"token_id":   cred.ID,
	})
}

func (m *RegistryCredentialManager) load() error {
	data, err := m.store.LoadToken()
	if err != nil {
		return err
	}
	if data == nil {
		return nil
	}

	cred := &RegistryCredential{}
	if v, ok := data["value"].(string); ok {
		cred.Value = v
	}
	if v, ok := data["token_id"].(string); ok {
		cred.ID = v
	}
	if v, ok := data["expires_at"].(string); ok {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			cred.ExpiresAt = t
		}
	}
	if v, ok := data["issued_at"].(string); ok {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			cred.IssuedAt = t
		}
	}

	m.mu.Lock()
	m.current = cred
	m.mu.Unlock()
	return nil
}

func (m *RegistryCredentialManager) isExpired(cred *RegistryCredential) bool {
	if cred == nil {
		return true
	}
	return time.Now().After(cred.ExpiresAt.Add(-5 * time.Minute))
}

func (m *RegistryCredentialManager) refreshWorker() {
	defer m.wg.Done()

	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.mu.RLock()
			needsRefresh := m.current != nil && time.Until(m.current.ExpiresAt) < 1*time.Hour
			m.mu.RUnlock()
			if needsRefresh {
				if _, err := m.issue(m.ctx); err != nil {
					logrus.Warnf("registry credential: scheduled refresh failed: %v", err)
				}
			}
		case <-m.refreshChan:
			if _, err := m.issue(m.ctx); err != nil {
				logrus.Warnf("registry credential: requested refresh failed: %v", err)
			}
		}
	}
}

func generateCredentialID() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
